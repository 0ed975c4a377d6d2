package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/anjiri1684/rental_escrow/booking"
	"github.com/anjiri1684/rental_escrow/models"
)

var terminalStatuses = []models.BookingStatus{models.StatusCompleted, models.StatusCancelled, models.StatusRefunded}

type BookingStore struct {
	db *gorm.DB
}

var _ booking.Store = (*BookingStore)(nil)

func NewBookingStore(db *gorm.DB) *BookingStore {
	return &BookingStore{db: db}
}

func (s *BookingStore) Create(ctx context.Context, b *models.Booking, audit *models.BookingTransition) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(b).Error; err != nil {
			return err
		}
		if audit == nil {
			return nil
		}
		audit.BookingID = b.ID
		return tx.Create(audit).Error
	})
}

func (s *BookingStore) Get(ctx context.Context, id uuid.UUID) (*models.Booking, error) {
	var b models.Booking
	err := s.db.WithContext(ctx).First(&b, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, booking.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &b, nil
}

// Update is a compare-and-set on the version column. Timestamps come from
// the caller, so gorm's own update-time hook is skipped.
func (s *BookingStore) Update(ctx context.Context, b *models.Booking, expectedVersion int64, audit *models.BookingTransition) error {
	next := *b
	next.Version = expectedVersion + 1

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&next).
			Where("version = ?", expectedVersion).
			Select("*").
			Omit("id", "created_at").
			UpdateColumns(&next)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			var actual int64
			err := tx.Model(&models.Booking{}).Select("version").Where("id = ?", b.ID).Row().Scan(&actual)
			if err != nil {
				return booking.ErrNotFound
			}
			return &booking.ConcurrentModificationError{BookingID: b.ID, Expected: expectedVersion, Actual: actual}
		}
		if audit == nil {
			return nil
		}
		audit.BookingID = b.ID
		audit.Version = next.Version
		return tx.Create(audit).Error
	})
	if err != nil {
		return err
	}
	b.Version = next.Version
	return nil
}

func (s *BookingStore) FindOpen(ctx context.Context, rentalItemID, renterID uuid.UUID) ([]models.Booking, error) {
	var out []models.Booking
	err := s.db.WithContext(ctx).
		Where("rental_item_id = ? AND renter_id = ? AND status NOT IN ?", rentalItemID, renterID, terminalStatuses).
		Order("created_at").
		Find(&out).Error
	return out, err
}

func (s *BookingStore) ListExpiredCodes(ctx context.Context, now time.Time, limit int) ([]models.Booking, error) {
	var out []models.Booking
	err := s.db.WithContext(ctx).
		Where("confirmation_code IS NOT NULL AND code_expiry < ?", now).
		Order("code_expiry").
		Scopes(limited(limit)).
		Find(&out).Error
	return out, err
}

func (s *BookingStore) ListStalled(ctx context.Context, q booking.StallQuery) ([]models.Booking, error) {
	tx := s.db.WithContext(ctx).
		Where("status = ? AND payment_status = ? AND updated_at < ?", q.Status, q.PaymentStatus, q.UpdatedBefore)
	if q.OwnerStatus != "" {
		tx = tx.Where("owner_confirmation_status = ?", q.OwnerStatus)
	}
	var out []models.Booking
	err := tx.Order("updated_at").Scopes(limited(q.Limit)).Find(&out).Error
	return out, err
}

func (s *BookingStore) ListByPaymentStatus(ctx context.Context, statuses []models.PaymentStatus, limit int) ([]models.Booking, error) {
	var out []models.Booking
	err := s.db.WithContext(ctx).
		Where("payment_status IN ?", statuses).
		Order("updated_at").
		Scopes(limited(limit)).
		Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("list bookings by payment status: %w", err)
	}
	return out, nil
}

func (s *BookingStore) History(ctx context.Context, id uuid.UUID) ([]models.BookingTransition, error) {
	var out []models.BookingTransition
	err := s.db.WithContext(ctx).
		Where("booking_id = ?", id).
		Order("version").
		Find(&out).Error
	return out, err
}

// limited applies LIMIT n when n is positive.
func limited(n int) func(*gorm.DB) *gorm.DB {
	return func(tx *gorm.DB) *gorm.DB {
		if n <= 0 {
			return tx
		}
		return tx.Limit(n)
	}
}
