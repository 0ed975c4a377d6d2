package database

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/anjiri1684/rental_escrow/escrow"
	"github.com/anjiri1684/rental_escrow/models"
)

// EscrowStore keeps the escrow ledger, one row per booking.
type EscrowStore struct {
	db *gorm.DB
}

var _ escrow.Store = (*EscrowStore)(nil)

func NewEscrowStore(db *gorm.DB) *EscrowStore {
	return &EscrowStore{db: db}
}

func (s *EscrowStore) Create(ctx context.Context, h *models.EscrowHold) error {
	err := s.db.WithContext(ctx).Create(h).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return escrow.ErrHoldExists
	}
	return err
}

func (s *EscrowStore) Get(ctx context.Context, bookingID uuid.UUID) (*models.EscrowHold, error) {
	var h models.EscrowHold
	err := s.db.WithContext(ctx).First(&h, "booking_id = ?", bookingID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, escrow.ErrHoldNotFound
	}
	if err != nil {
		return nil, err
	}
	return &h, nil
}

func (s *EscrowStore) Transition(ctx context.Context, bookingID uuid.UUID, from []models.EscrowStatus, to models.EscrowStatus) (*models.EscrowHold, error) {
	res := s.db.WithContext(ctx).
		Model(&models.EscrowHold{}).
		Where("booking_id = ? AND status IN ?", bookingID, from).
		Update("status", to)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		if _, err := s.Get(ctx, bookingID); err != nil {
			return nil, err
		}
		return nil, escrow.ErrStatusMismatch
	}
	return s.Get(ctx, bookingID)
}

func (s *EscrowStore) Save(ctx context.Context, h *models.EscrowHold) error {
	return s.db.WithContext(ctx).Save(h).Error
}

func (s *EscrowStore) ListByStatus(ctx context.Context, statuses []models.EscrowStatus, limit int) ([]models.EscrowHold, error) {
	var out []models.EscrowHold
	err := s.db.WithContext(ctx).
		Where("status IN ?", statuses).
		Order("updated_at").
		Scopes(limited(limit)).
		Find(&out).Error
	return out, err
}
