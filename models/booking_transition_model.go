package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// BookingTransition is the append-only audit trail of applied events.
type BookingTransition struct {
	ID         uuid.UUID     `gorm:"type:uuid;primary_key" json:"id"`
	BookingID  uuid.UUID     `gorm:"type:uuid;not null;index" json:"booking_id"`
	Event      string        `gorm:"size:40;not null" json:"event"`
	FromStatus BookingStatus `gorm:"size:32;not null" json:"from_status"`
	ToStatus   BookingStatus `gorm:"size:32;not null" json:"to_status"`
	ActorID    uuid.UUID     `gorm:"type:uuid" json:"actor_id"`
	ActorRole  string        `gorm:"size:20;not null" json:"actor_role"`
	Version    int64         `gorm:"not null" json:"version"`
	Reason     *string       `gorm:"type:text" json:"reason,omitempty"`
	CreatedAt  time.Time     `json:"created_at"`
}

func (t *BookingTransition) BeforeCreate(tx *gorm.DB) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	return nil
}
