package booking

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/anjiri1684/rental_escrow/models"
)

// Store is the durable booking record. Update is the only mutation path
// after creation: it writes b only if the stored version still equals
// expectedVersion, bumps b.Version, and appends the audit row in the same
// transaction. A stale write fails with *ConcurrentModificationError.
type Store interface {
	Create(ctx context.Context, b *models.Booking, audit *models.BookingTransition) error
	Get(ctx context.Context, id uuid.UUID) (*models.Booking, error)
	Update(ctx context.Context, b *models.Booking, expectedVersion int64, audit *models.BookingTransition) error

	FindOpen(ctx context.Context, rentalItemID, renterID uuid.UUID) ([]models.Booking, error)
	ListExpiredCodes(ctx context.Context, now time.Time, limit int) ([]models.Booking, error)
	ListStalled(ctx context.Context, q StallQuery) ([]models.Booking, error)
	ListByPaymentStatus(ctx context.Context, statuses []models.PaymentStatus, limit int) ([]models.Booking, error)
	History(ctx context.Context, id uuid.UUID) ([]models.BookingTransition, error)
}

// StallQuery selects bookings parked in Status with PaymentStatus whose
// last update is older than UpdatedBefore.
type StallQuery struct {
	Status        models.BookingStatus
	PaymentStatus models.PaymentStatus
	OwnerStatus   models.OwnerConfirmationStatus
	UpdatedBefore time.Time
	Limit         int
}
