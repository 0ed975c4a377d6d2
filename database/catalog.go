package database

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/anjiri1684/rental_escrow/booking"
	"github.com/anjiri1684/rental_escrow/models"
)

// Catalog reads rental items and their renter input fields from the
// tables the catalogue service writes.
type Catalog struct {
	db *gorm.DB
}

var _ booking.Catalog = (*Catalog)(nil)

func NewCatalog(db *gorm.DB) *Catalog {
	return &Catalog{db: db}
}

func (c *Catalog) RentalItem(ctx context.Context, id uuid.UUID) (*models.RentalItem, error) {
	var item models.RentalItem
	err := c.db.WithContext(ctx).First(&item, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, booking.ErrItemNotFound
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (c *Catalog) RequirementsSchema(ctx context.Context, rentalItemID uuid.UUID) ([]models.RenterInputField, error) {
	var fields []models.RenterInputField
	err := c.db.WithContext(ctx).
		Where("rental_item_id = ?", rentalItemID).
		Order("position").
		Find(&fields).Error
	return fields, err
}
