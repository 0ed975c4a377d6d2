package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type Receipt struct {
	ID        uuid.UUID `gorm:"type:uuid;primary_key" json:"id"`
	BookingID uuid.UUID `gorm:"type:uuid;not null;uniqueIndex" json:"booking_id"`
	Kind      string    `gorm:"size:20;not null" json:"kind"`
	URL       string    `gorm:"size:255;not null" json:"url"`
	CreatedAt time.Time `json:"created_at"`
}

func (r *Receipt) BeforeCreate(tx *gorm.DB) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	return nil
}
