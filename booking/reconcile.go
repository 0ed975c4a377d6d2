package booking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/anjiri1684/rental_escrow/escrow"
	"github.com/anjiri1684/rental_escrow/models"
)

// EventEscrowReconciled marks audit rows written by Reconcile. It is not
// an edge of the transition table and cannot be applied.
const EventEscrowReconciled Event = "escrowReconciled"

const reconcileAttempts = 3

// Reconcile brings a booking in line with its escrow ledger after the two
// diverged: a versioned write lost its race after the gateway had acted,
// or a gateway claim was abandoned. The ledger is authoritative for where
// the money is. It returns the booking as stored afterwards.
func (e *Engine) Reconcile(ctx context.Context, id uuid.UUID) (*models.Booking, error) {
	for attempt := 1; attempt <= reconcileAttempts; attempt++ {
		cur, err := e.store.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		h, err := e.escrow.Get(ctx, id)
		if errors.Is(err, escrow.ErrHoldNotFound) {
			return cur, nil
		}
		if err != nil {
			return nil, fmt.Errorf("load escrow ledger: %w", err)
		}

		if cur.Status.Terminal() {
			return cur, e.closeOut(ctx, cur, h)
		}

		now := e.clock.Now()
		next, kind := ledgerView(cur, h, now)
		if next == nil {
			return cur, nil
		}
		if ierr := checkInvariants(cur, next); ierr != nil {
			e.logger.Error("cannot reconcile booking with escrow ledger", "booking_id", id, "ledger", h.Status, "violation", ierr.Violation)
			return cur, ierr
		}

		reason := fmt.Sprintf("escrow ledger is %s", h.Status)
		audit := &models.BookingTransition{
			BookingID:  id,
			Event:      string(EventEscrowReconciled),
			FromStatus: cur.Status,
			ToStatus:   next.Status,
			ActorRole:  string(RoleSystem),
			Version:    cur.Version + 1,
			Reason:     &reason,
			CreatedAt:  now,
		}
		err = e.store.Update(ctx, next, cur.Version, audit)
		if IsConcurrent(err) {
			continue
		}
		if err != nil {
			return nil, err
		}

		e.logger.Warn("booking reconciled with escrow ledger",
			"booking_id", id,
			"ledger", h.Status,
			"from", cur.Status,
			"to", next.Status,
			"payment_status", next.PaymentStatus,
			"version", next.Version,
		)
		e.broker.Publish(Update{
			BookingID:     next.ID,
			Event:         EventEscrowReconciled,
			Status:        next.Status,
			PaymentStatus: next.PaymentStatus,
			Version:       next.Version,
			At:            now,
		})
		e.notify(kind, EventEscrowReconciled, next, SystemActor(), now)
		return next, nil
	}
	return nil, &ConcurrentModificationError{BookingID: id}
}

// ledgerView returns the booking as the ledger row h says it should be,
// with the notice type to send, or nil when the two already agree or the
// ledger is mid-call.
func ledgerView(cur *models.Booking, h *models.EscrowHold, now time.Time) (*models.Booking, string) {
	next := cur.Clone()
	next.UpdatedAt = now

	switch h.Status {
	case models.EscrowHeld:
		// Held funds on a booking that never recorded the payment. The
		// renter's retry picks the hold up; until then admins see it.
		if cur.Status != models.StatusRequirementsSubmitted || cur.PaymentStatus == models.PaymentFailed {
			return nil, ""
		}
		next.PaymentStatus = models.PaymentFailed
		return next, "payment_failed"

	case models.EscrowFailed:
		if cur.PaymentStatus == models.PaymentFailed {
			return nil, ""
		}
		next.PaymentStatus = models.PaymentFailed
		return next, "payment_failed"

	case models.EscrowReleased:
		if cur.PaymentStatus == models.PaymentCompleted {
			return nil, ""
		}
		next.Status = models.StatusCompleted
		next.PaymentStatus = models.PaymentCompleted
		next.PaymentReleasedAt = settledAt(h, now)
		next.ClearCode()
		return next, "booking_completed"

	case models.EscrowRefunded:
		if cur.PaymentStatus == models.PaymentRefunded {
			return nil, ""
		}
		if cur.Status == models.StatusRequirementsSubmitted {
			next.Status = models.StatusCancelled
			next.CancelledAt = &now
		} else {
			next.Status = models.StatusRefunded
		}
		next.PaymentStatus = models.PaymentRefunded
		next.RefundedAt = settledAt(h, now)
		next.ClearCode()
		return next, "refund_processed"

	case models.EscrowVoid:
		next.Status = models.StatusCancelled
		next.CancelledAt = &now
		next.ClearCode()
		return next, "booking_cancelled"
	}
	return nil, ""
}

// closeOut handles a closed booking whose ledger still holds money. A
// closed booking cannot be rewritten, so only the money moves.
func (e *Engine) closeOut(ctx context.Context, cur *models.Booking, h *models.EscrowHold) error {
	funded := h.Status == models.EscrowHeld || (h.Status == models.EscrowFailed && h.HoldTxnID != nil)
	if !funded {
		return nil
	}
	switch cur.Status {
	case models.StatusCancelled, models.StatusRefunded:
		e.logger.Warn("refunding escrow left on closed booking", "booking_id", cur.ID, "status", cur.Status, "ledger", h.Status)
		if _, err := e.escrow.Refund(ctx, cur.ID, true); err != nil {
			return fmt.Errorf("refund escrow of closed booking: %w", err)
		}
		return nil
	}
	e.logger.Error("closed booking disagrees with escrow ledger", "booking_id", cur.ID, "status", cur.Status, "ledger", h.Status)
	return nil
}

func settledAt(h *models.EscrowHold, now time.Time) *time.Time {
	if h.SettledAt != nil {
		t := *h.SettledAt
		return &t
	}
	return &now
}
