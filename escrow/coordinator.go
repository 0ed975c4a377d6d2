package escrow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"github.com/anjiri1684/rental_escrow/models"
	"github.com/anjiri1684/rental_escrow/utils"
)

type Options struct {
	MaxAttempts    int
	AttemptTimeout time.Duration
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

func (o Options) withDefaults() Options {
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 4
	}
	if o.AttemptTimeout <= 0 {
		o.AttemptTimeout = 10 * time.Second
	}
	if o.InitialBackoff <= 0 {
		o.InitialBackoff = 500 * time.Millisecond
	}
	if o.MaxBackoff <= 0 {
		o.MaxBackoff = 30 * time.Second
	}
	return o
}

// Coordinator drives the gateway and keeps the ledger consistent with it.
type Coordinator struct {
	store   Store
	gateway Gateway
	clock   utils.Clock
	logger  *slog.Logger
	opts    Options
}

func NewCoordinator(store Store, gateway Gateway, clock utils.Clock, logger *slog.Logger, opts Options) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		store:   store,
		gateway: gateway,
		clock:   clock,
		logger:  logger.With("component", "escrow"),
		opts:    opts.withDefaults(),
	}
}

func (c *Coordinator) Get(ctx context.Context, bookingID uuid.UUID) (*models.EscrowHold, error) {
	return c.store.Get(ctx, bookingID)
}

// Hold places req.Amount in escrow. Calling it again for a booking whose
// funds are already held returns the existing hold without charging twice.
// A hold whose previous attempt failed is retried.
func (c *Coordinator) Hold(ctx context.Context, req HoldRequest) (*models.EscrowHold, error) {
	h, err := c.claimHold(ctx, req)
	if err != nil {
		return nil, err
	}
	if h.Status != models.EscrowPending {
		return h, nil
	}

	txn, attempts, callErr := c.call(ctx, "hold", req.BookingID, func(ctx context.Context) (string, error) {
		return c.gateway.Hold(ctx, GatewayRequest{
			Reference: req.BookingID.String(),
			Party:     req.AccountRef,
			Method:    req.Method,
			Amount:    req.Amount,
		})
	})
	h.Attempts += attempts
	if callErr != nil {
		return nil, c.fail(ctx, h, "hold", attempts, callErr)
	}

	now := c.clock.Now()
	h.Status = models.EscrowHeld
	h.HoldTxnID = &txn
	h.HeldAt = &now
	h.LastError = nil
	if err := c.store.Save(ctx, h); err != nil {
		return nil, fmt.Errorf("record escrow hold: %w", err)
	}
	c.logger.Info("funds held", "booking_id", req.BookingID, "amount", req.Amount, "txn", txn)
	return h, nil
}

// claimHold returns the ledger row for req.BookingID in status pending when
// this caller owns the gateway call, or the already settled row when the
// hold has been acknowledged before.
func (c *Coordinator) claimHold(ctx context.Context, req HoldRequest) (*models.EscrowHold, error) {
	h := &models.EscrowHold{
		BookingID:     req.BookingID,
		Status:        models.EscrowPending,
		PaymentMethod: req.Method,
		AccountRef:    req.AccountRef,
		Amount:        req.Amount,
		ServiceFee:    req.ServiceFee,
	}
	err := c.store.Create(ctx, h)
	if err == nil {
		return h, nil
	}
	if !errors.Is(err, ErrHoldExists) {
		return nil, fmt.Errorf("create escrow hold: %w", err)
	}

	existing, err := c.store.Get(ctx, req.BookingID)
	if err != nil {
		return nil, err
	}
	switch existing.Status {
	case models.EscrowPending:
		return nil, ErrSettlementInProgress
	case models.EscrowVoid:
		return nil, ErrHoldVoided
	case models.EscrowFailed:
		if existing.HoldTxnID != nil {
			// Funds are in escrow; the failure belongs to a settlement.
			return existing, nil
		}
		claimed, err := c.store.Transition(ctx, req.BookingID, []models.EscrowStatus{models.EscrowFailed}, models.EscrowPending)
		if errors.Is(err, ErrStatusMismatch) {
			return nil, ErrSettlementInProgress
		}
		if err != nil {
			return nil, err
		}
		claimed.PaymentMethod = req.Method
		claimed.AccountRef = req.AccountRef
		claimed.Amount = req.Amount
		claimed.ServiceFee = req.ServiceFee
		return claimed, nil
	default:
		return existing, nil
	}
}

// Void closes the ledger of a booking that is cancelled before its
// payment committed, so a hold racing the cancellation cannot charge the
// renter afterwards. Funds that were already held are refunded.
func (c *Coordinator) Void(ctx context.Context, bookingID uuid.UUID) (*models.EscrowHold, error) {
	h := &models.EscrowHold{BookingID: bookingID, Status: models.EscrowVoid}
	err := c.store.Create(ctx, h)
	if err == nil {
		return h, nil
	}
	if !errors.Is(err, ErrHoldExists) {
		return nil, fmt.Errorf("void escrow: %w", err)
	}

	existing, err := c.store.Get(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	switch {
	case existing.Status == models.EscrowVoid, existing.Status == models.EscrowRefunded:
		return existing, nil
	case existing.Status == models.EscrowHeld:
		c.logger.Warn("refunding hold on cancelled booking", "booking_id", bookingID)
		return c.Refund(ctx, bookingID, false)
	case existing.Status == models.EscrowFailed && existing.HoldTxnID != nil:
		return c.Refund(ctx, bookingID, true)
	case existing.Status == models.EscrowFailed:
		voided, err := c.store.Transition(ctx, bookingID, []models.EscrowStatus{models.EscrowFailed}, models.EscrowVoid)
		if errors.Is(err, ErrStatusMismatch) {
			return nil, ErrSettlementInProgress
		}
		return voided, err
	case existing.Status.Claimed():
		return nil, ErrSettlementInProgress
	}
	return nil, fmt.Errorf("%w: cannot void a %s hold", ErrStatusMismatch, existing.Status)
}

// AbandonStale fails ledger rows whose gateway call was claimed before
// cutoff and never recorded, typically because the process died
// mid-call. A failed hold can be retried by the renter; a failed
// settlement waits for an admin. Both reuse the booking reference as the
// provider idempotency key, so re-driving the call cannot pay twice.
func (c *Coordinator) AbandonStale(ctx context.Context, cutoff time.Time, limit int) ([]models.EscrowHold, error) {
	rows, err := c.store.ListByStatus(ctx, []models.EscrowStatus{models.EscrowPending, models.EscrowReleasing, models.EscrowRefunding}, limit)
	if err != nil {
		return nil, fmt.Errorf("list claimed holds: %w", err)
	}

	var out []models.EscrowHold
	for _, row := range rows {
		if !row.UpdatedAt.Before(cutoff) {
			continue
		}
		h, err := c.store.Transition(ctx, row.BookingID, []models.EscrowStatus{row.Status}, models.EscrowFailed)
		if errors.Is(err, ErrStatusMismatch) {
			continue
		}
		if err != nil {
			return out, err
		}
		msg := fmt.Sprintf("%s claim abandoned, last touched %s", row.Status, row.UpdatedAt.UTC().Format(time.RFC3339))
		h.LastError = &msg
		if err := c.store.Save(ctx, h); err != nil {
			return out, fmt.Errorf("record abandoned claim: %w", err)
		}
		c.logger.Warn("abandoned stale escrow claim", "booking_id", row.BookingID, "claim", row.Status, "updated_at", row.UpdatedAt)
		out = append(out, *h)
	}
	return out, nil
}

// Release pays the owner the booking amount less the platform fee. force
// also accepts a hold whose previous settlement attempt failed.
func (c *Coordinator) Release(ctx context.Context, bookingID uuid.UUID, payee string, force bool) (*models.EscrowHold, error) {
	return c.settle(ctx, settlement{
		op:       "release",
		claim:    models.EscrowReleasing,
		done:     models.EscrowReleased,
		opposite: models.EscrowRefunded,
		call:     c.gateway.Release,
	}, bookingID, payee, force)
}

// Refund returns the booking amount to the renter's account; the platform
// fee is retained.
func (c *Coordinator) Refund(ctx context.Context, bookingID uuid.UUID, force bool) (*models.EscrowHold, error) {
	return c.settle(ctx, settlement{
		op:       "refund",
		claim:    models.EscrowRefunding,
		done:     models.EscrowRefunded,
		opposite: models.EscrowReleased,
		call:     c.gateway.Refund,
	}, bookingID, "", force)
}

type settlement struct {
	op       string
	claim    models.EscrowStatus
	done     models.EscrowStatus
	opposite models.EscrowStatus
	call     func(context.Context, GatewayRequest) (string, error)
}

func (c *Coordinator) settle(ctx context.Context, s settlement, bookingID uuid.UUID, party string, force bool) (*models.EscrowHold, error) {
	h, err := c.store.Get(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	switch {
	case h.Status == s.done:
		return h, nil
	case h.HoldTxnID == nil:
		return nil, ErrNothingHeld
	case h.Status == models.EscrowFailed && !force:
		return nil, fmt.Errorf("%w: previous settlement failed, admin action required", ErrStatusMismatch)
	case h.Status != models.EscrowHeld && h.Status != models.EscrowFailed:
		// Claimed by the other outcome or already settled that way.
		return nil, ErrSettlementInProgress
	}

	from := []models.EscrowStatus{models.EscrowHeld}
	if force {
		from = append(from, models.EscrowFailed)
	}
	h, err = c.store.Transition(ctx, bookingID, from, s.claim)
	if errors.Is(err, ErrStatusMismatch) {
		return nil, ErrSettlementInProgress
	}
	if err != nil {
		return nil, err
	}

	if party == "" {
		party = h.AccountRef
	}
	amount := h.Payout()
	txn, attempts, callErr := c.call(ctx, s.op, bookingID, func(ctx context.Context) (string, error) {
		return s.call(ctx, GatewayRequest{
			Reference: bookingID.String(),
			HoldTxnID: *h.HoldTxnID,
			Party:     party,
			Method:    h.PaymentMethod,
			Amount:    amount,
		})
	})
	h.Attempts += attempts
	if callErr != nil {
		return nil, c.fail(ctx, h, s.op, attempts, callErr)
	}

	now := c.clock.Now()
	h.Status = s.done
	h.SettleTxnID = &txn
	h.SettledAt = &now
	h.LastError = nil
	if err := c.store.Save(ctx, h); err != nil {
		return nil, fmt.Errorf("record escrow %s: %w", s.op, err)
	}
	c.logger.Info("escrow settled", "booking_id", bookingID, "op", s.op, "amount", amount, "txn", txn)
	return h, nil
}

func (c *Coordinator) fail(ctx context.Context, h *models.EscrowHold, op string, attempts int, cause error) error {
	msg := cause.Error()
	h.Status = models.EscrowFailed
	h.LastError = &msg
	if err := c.store.Save(ctx, h); err != nil {
		c.logger.Error("failed to record escrow failure", "booking_id", h.BookingID, "op", op, "error", err)
	}
	c.logger.Warn("escrow operation failed", "booking_id", h.BookingID, "op", op, "attempts", attempts, "error", cause)
	return &GatewayError{Op: op, BookingID: h.BookingID, Attempts: attempts, Err: cause}
}

// call runs fn with exponential backoff, bounded by MaxAttempts and ctx.
// Each attempt gets its own deadline.
func (c *Coordinator) call(ctx context.Context, op string, bookingID uuid.UUID, fn func(context.Context) (string, error)) (string, int, error) {
	var (
		txn      string
		attempts int
	)
	operation := func() error {
		attempts++
		actx, cancel := context.WithTimeout(ctx, c.opts.AttemptTimeout)
		defer cancel()

		id, err := fn(actx)
		if err == nil {
			txn = id
			return nil
		}
		if errors.Is(err, ErrDeclined) {
			return backoff.Permanent(err)
		}
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		c.logger.Debug("gateway attempt failed", "booking_id", bookingID, "op", op, "attempt", attempts, "error", err)
		return err
	}

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = c.opts.InitialBackoff
	eb.MaxInterval = c.opts.MaxBackoff
	eb.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(eb, uint64(c.opts.MaxAttempts-1)), ctx)

	if err := backoff.Retry(operation, policy); err != nil {
		return "", attempts, err
	}
	return txn, attempts, nil
}
