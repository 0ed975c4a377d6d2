package models

import (
	"time"

	"github.com/google/uuid"
)

// RentalItem is owned by the catalogue service; only the columns the
// booking flow reads are mapped here.
type RentalItem struct {
	ID          uuid.UUID `gorm:"type:uuid;primary_key" json:"id"`
	OwnerID     uuid.UUID `gorm:"type:uuid;not null;index" json:"owner_id"`
	Title       string    `gorm:"size:255" json:"title"`
	IsAvailable bool      `gorm:"default:true" json:"is_available"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// RenterInputField is one entry of a rental item's requirements schema.
type RenterInputField struct {
	ID           uuid.UUID `gorm:"type:uuid;primary_key" json:"id"`
	RentalItemID uuid.UUID `gorm:"type:uuid;not null;index" json:"rental_item_id"`
	FieldName    string    `gorm:"size:100;not null" json:"field_name"`
	FieldType    string    `gorm:"size:20;not null" json:"field_type"`
	Required     bool      `gorm:"default:true" json:"required"`
	Options      []string  `gorm:"serializer:json" json:"options,omitempty"`
	Position     int       `gorm:"not null;default:0" json:"position"`
}
