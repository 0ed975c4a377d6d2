// Package escrow holds renter funds against a booking and settles them to
// exactly one party: the owner on release or the renter on refund.
package escrow

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/anjiri1684/rental_escrow/models"
)

var (
	// ErrDeclined is returned by a Gateway when the provider refuses the
	// operation outright. It is never retried.
	ErrDeclined = errors.New("payment gateway declined the operation")

	ErrSettlementInProgress = errors.New("escrow settlement already claimed")
	ErrHoldNotFound         = errors.New("escrow hold not found")
	ErrHoldExists           = errors.New("escrow hold already exists")
	ErrStatusMismatch       = errors.New("escrow hold not in expected status")
	ErrNothingHeld          = errors.New("no funds held in escrow")
	ErrHoldVoided           = errors.New("escrow closed: booking was cancelled")
)

// GatewayError reports a gateway operation that failed after retries.
type GatewayError struct {
	Op        string
	BookingID uuid.UUID
	Attempts  int
	Err       error
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("escrow %s for booking %s failed after %d attempt(s): %v", e.Op, e.BookingID, e.Attempts, e.Err)
}

func (e *GatewayError) Unwrap() error { return e.Err }

// GatewayRequest describes one money movement. Reference is the booking id
// and doubles as the provider idempotency key.
type GatewayRequest struct {
	Reference string
	HoldTxnID string
	Party     string
	Method    string
	Amount    float64
}

// Gateway is the external payment provider. Implementations must honour
// ctx cancellation; an attempt that outlives its deadline is a failure.
type Gateway interface {
	Hold(ctx context.Context, req GatewayRequest) (string, error)
	Release(ctx context.Context, req GatewayRequest) (string, error)
	Refund(ctx context.Context, req GatewayRequest) (string, error)
}

// Store persists the escrow ledger. Transition is a conditional update:
// it moves the row to `to` only if its current status is one of `from`,
// and returns ErrStatusMismatch otherwise.
type Store interface {
	Create(ctx context.Context, h *models.EscrowHold) error
	Get(ctx context.Context, bookingID uuid.UUID) (*models.EscrowHold, error)
	Transition(ctx context.Context, bookingID uuid.UUID, from []models.EscrowStatus, to models.EscrowStatus) (*models.EscrowHold, error)
	Save(ctx context.Context, h *models.EscrowHold) error
	ListByStatus(ctx context.Context, statuses []models.EscrowStatus, limit int) ([]models.EscrowHold, error)
}

// HoldRequest captures the funds to place in escrow for a booking.
type HoldRequest struct {
	BookingID  uuid.UUID
	Method     string
	AccountRef string
	Amount     float64
	ServiceFee float64
}
