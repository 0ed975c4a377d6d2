// Package booking implements the rental booking lifecycle: a transition
// table over booking statuses, guarded per actor, written through an
// optimistic version check and paired with explicit escrow actions.
package booking

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/anjiri1684/rental_escrow/confirmation"
	"github.com/anjiri1684/rental_escrow/escrow"
	"github.com/anjiri1684/rental_escrow/models"
	"github.com/anjiri1684/rental_escrow/utils"
)

// Escrow is the part of the escrow coordinator the engine drives.
type Escrow interface {
	Get(ctx context.Context, bookingID uuid.UUID) (*models.EscrowHold, error)
	Hold(ctx context.Context, req escrow.HoldRequest) (*models.EscrowHold, error)
	Void(ctx context.Context, bookingID uuid.UUID) (*models.EscrowHold, error)
	Release(ctx context.Context, bookingID uuid.UUID, payee string, force bool) (*models.EscrowHold, error)
	Refund(ctx context.Context, bookingID uuid.UUID, force bool) (*models.EscrowHold, error)
}

type CodeIssuer interface {
	Issue(b *models.Booking, now time.Time) (string, time.Time, error)
	Redeem(b *models.Booking, code string, now time.Time) error
}

// Notice is handed to the Dispatcher after a committed change.
type Notice struct {
	Type    string
	Event   Event
	Booking models.Booking
	Actor   Actor
	At      time.Time
}

// Dispatcher delivers notices out of band. Dispatch must not block.
type Dispatcher interface {
	Dispatch(n Notice)
}

// PaymentDetails identifies where the renter pays from.
type PaymentDetails struct {
	Method  string `json:"payment_method" validate:"required,max=50"`
	Account string `json:"payment_account" validate:"required,max=100"`
}

// Command asks the engine to apply Event to a booking on behalf of Actor.
type Command struct {
	BookingID       uuid.UUID
	Event           Event
	Actor           Actor
	ExpectedVersion int64
	Code            string
	Reason          string
	Payment         *PaymentDetails
}

type EngineConfig struct {
	Store          Store
	Escrow         Escrow
	Codes          CodeIssuer
	Broker         *Broker
	Dispatcher     Dispatcher
	Clock          utils.Clock
	Logger         *slog.Logger
	ServiceFeeRate float64
}

type Engine struct {
	store      Store
	escrow     Escrow
	codes      CodeIssuer
	broker     *Broker
	dispatcher Dispatcher
	clock      utils.Clock
	logger     *slog.Logger
	feeRate    float64
}

func NewEngine(cfg EngineConfig) *Engine {
	e := &Engine{
		store:      cfg.Store,
		escrow:     cfg.Escrow,
		codes:      cfg.Codes,
		broker:     cfg.Broker,
		dispatcher: cfg.Dispatcher,
		clock:      cfg.Clock,
		logger:     cfg.Logger,
		feeRate:    cfg.ServiceFeeRate,
	}
	if e.broker == nil {
		e.broker = NewBroker()
	}
	if e.clock == nil {
		e.clock = utils.RealClock()
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	e.logger = e.logger.With("component", "booking_engine")
	return e
}

func (e *Engine) Broker() *Broker { return e.broker }

func (e *Engine) Get(ctx context.Context, id uuid.UUID) (*models.Booking, error) {
	return e.store.Get(ctx, id)
}

// Create persists a freshly submitted booking at version 1.
func (e *Engine) Create(ctx context.Context, b *models.Booking, actor Actor) error {
	now := e.clock.Now()
	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}
	b.Status = models.StatusRequirementsSubmitted
	b.PaymentStatus = models.PaymentPending
	b.OwnerConfirmationStatus = models.OwnerPending
	b.Version = 1
	b.CreatedAt = now
	b.UpdatedAt = now
	if !b.ContractAccepted {
		return validationError("contract must be accepted")
	}
	if ierr := checkInvariants(nil, b); ierr != nil {
		return ierr
	}

	audit := &models.BookingTransition{
		BookingID:  b.ID,
		Event:      "requirementsSubmitted",
		FromStatus: models.StatusRequirementsSubmitted,
		ToStatus:   models.StatusRequirementsSubmitted,
		ActorID:    actor.ID,
		ActorRole:  string(actor.Role),
		Version:    1,
		CreatedAt:  now,
	}
	if err := e.store.Create(ctx, b, audit); err != nil {
		return fmt.Errorf("create booking: %w", err)
	}
	e.logger.Info("booking created", "booking_id", b.ID, "renter_id", b.RenterID, "rental_item_id", b.RentalItemID)
	e.notify("requirements_submitted", "", b, actor, now)
	return nil
}

// Apply validates cmd against the transition table, runs the escrow or
// confirmation side effect the edge carries, and writes the result if the
// stored version still equals cmd.ExpectedVersion.
func (e *Engine) Apply(ctx context.Context, cmd Command) (*models.Booking, error) {
	cur, err := e.store.Get(ctx, cmd.BookingID)
	if err != nil {
		return nil, err
	}

	// A renter retrying a redemption that already went through must hear
	// about it even though the version has moved on.
	if cmd.Event == EventRenterConfirmDelivery && cmd.Actor.Role == RoleRenter &&
		cmd.Actor.ID == cur.RenterID && cur.RenterConfirmed {
		return nil, confirmation.ErrAlreadyConfirmed
	}

	if cmd.ExpectedVersion != cur.Version {
		return nil, &ConcurrentModificationError{BookingID: cur.ID, Expected: cmd.ExpectedVersion, Actual: cur.Version}
	}

	tr, ok := TransitionFor(cur.Status, cmd.Event)
	if !ok {
		if cur.Status.Terminal() {
			return nil, illegal(cur.Status, cmd.Event, "booking is closed")
		}
		return nil, illegal(cur.Status, cmd.Event, "event not allowed in this status")
	}
	if !tr.permits(cmd.Actor.Role) {
		return nil, illegal(cur.Status, cmd.Event, "role %s may not trigger this event", cmd.Actor.Role)
	}
	if err := checkIdentity(cur, cmd); err != nil {
		return nil, err
	}

	now := e.clock.Now()
	if err := e.guard(tr, cur, cmd, now); err != nil {
		return nil, err
	}

	next := cur.Clone()
	if err := e.prepare(tr, next, cmd, now); err != nil {
		return nil, err
	}
	next.Status = tr.To
	next.UpdatedAt = now
	// Checked before any money moves; commit checks again after.
	if ierr := checkInvariants(cur, next); ierr != nil {
		e.logger.Error("refusing transition that breaks an invariant", "booking_id", cur.ID, "event", cmd.Event, "violation", ierr.Violation)
		return nil, ierr
	}

	if err := e.moveFunds(ctx, tr, cur, next, cmd, now); err != nil {
		var gwErr *escrow.GatewayError
		switch {
		case errors.As(err, &gwErr):
			e.markPaymentFailed(ctx, cur, cmd, gwErr, now)
			return nil, err
		case errors.Is(err, escrow.ErrSettlementInProgress):
			return nil, &ConcurrentModificationError{BookingID: cur.ID, Expected: cmd.ExpectedVersion}
		case errors.Is(err, escrow.ErrHoldVoided):
			if _, rerr := e.Reconcile(ctx, cur.ID); rerr != nil {
				e.logger.Error("reconcile voided booking", "booking_id", cur.ID, "error", rerr)
			}
			return nil, illegal(cur.Status, cmd.Event, "booking was cancelled")
		}
		return nil, err
	}

	if err := e.commit(ctx, cur, next, cmd, now); err != nil {
		if tr.escrow == escrowNone || !IsConcurrent(err) {
			return nil, err
		}
		// The gateway has acted and the write lost its race. The ledger says
		// where the money is; the booking is brought in line with it.
		fixed, rerr := e.Reconcile(ctx, cur.ID)
		if rerr != nil {
			e.logger.Error("reconcile after lost write", "booking_id", cur.ID, "event", cmd.Event, "error", rerr)
			return nil, err
		}
		if fixed.Status == tr.To && fixed.PaymentStatus == next.PaymentStatus {
			return fixed, nil
		}
		return nil, err
	}
	return next, nil
}

func (e *Engine) commit(ctx context.Context, cur, next *models.Booking, cmd Command, now time.Time) error {
	if ierr := checkInvariants(cur, next); ierr != nil {
		e.logger.Error("refusing write that breaks an invariant", "booking_id", cur.ID, "event", cmd.Event, "violation", ierr.Violation)
		return ierr
	}

	audit := &models.BookingTransition{
		BookingID:  cur.ID,
		Event:      string(cmd.Event),
		FromStatus: cur.Status,
		ToStatus:   next.Status,
		ActorID:    cmd.Actor.ID,
		ActorRole:  string(cmd.Actor.Role),
		Version:    cur.Version + 1,
		CreatedAt:  now,
	}
	if cmd.Reason != "" {
		r := cmd.Reason
		audit.Reason = &r
	}
	if err := e.store.Update(ctx, next, cur.Version, audit); err != nil {
		return err
	}

	e.logger.Info("booking transition applied",
		"booking_id", cur.ID,
		"event", cmd.Event,
		"from", cur.Status,
		"to", next.Status,
		"actor_role", cmd.Actor.Role,
		"version", next.Version,
	)
	e.broker.Publish(Update{
		BookingID:     next.ID,
		Event:         cmd.Event,
		Status:        next.Status,
		PaymentStatus: next.PaymentStatus,
		Version:       next.Version,
		At:            now,
	})
	e.notify(noticeType(cmd.Event), cmd.Event, next, cmd.Actor, now)
	return nil
}

func checkIdentity(cur *models.Booking, cmd Command) error {
	switch cmd.Actor.Role {
	case RoleRenter:
		if cmd.Actor.ID != cur.RenterID {
			return illegal(cur.Status, cmd.Event, "actor is not the renter of this booking")
		}
	case RoleOwner:
		if cmd.Actor.ID != cur.OwnerID {
			return illegal(cur.Status, cmd.Event, "actor is not the owner of the rental item")
		}
	}
	return nil
}

func (e *Engine) guard(tr Transition, cur *models.Booking, cmd Command, now time.Time) error {
	ps := cur.PaymentStatus
	adminSettling := cmd.Actor.Role == RoleAdmin && (ps == models.PaymentHeld || ps == models.PaymentFailed)

	switch cmd.Event {
	case EventPaymentCompleted:
		if !cur.ContractAccepted {
			return illegal(cur.Status, cmd.Event, "contract has not been accepted")
		}
		if ps != models.PaymentPending && ps != models.PaymentFailed {
			return illegal(cur.Status, cmd.Event, "payment is already %s", ps)
		}
		if cmd.Payment == nil || strings.TrimSpace(cmd.Payment.Method) == "" || strings.TrimSpace(cmd.Payment.Account) == "" {
			return validationError("payment method and account are required")
		}
		if cur.PaymentAmount <= 0 {
			return illegal(cur.Status, cmd.Event, "payment amount must be positive")
		}
		if !validMoney(cur.PaymentAmount) {
			return validationError(fmt.Sprintf("payment amount must be a finite sum no larger than %.2f", MaxAmount))
		}

	case EventOwnerAccept, EventOwnerReject:
		if cur.OwnerConfirmationStatus != models.OwnerPending {
			return illegal(cur.Status, cmd.Event, "owner already decided (%s)", cur.OwnerConfirmationStatus)
		}
		if ps != models.PaymentHeld {
			return illegal(cur.Status, cmd.Event, "payment is %s, not held", ps)
		}

	case EventRenterConfirmDelivery:
		if strings.TrimSpace(cmd.Code) == "" {
			return confirmation.ErrInvalidCode
		}

	case EventCodeExpired:
		if !confirmation.Expired(cur, now) {
			return illegal(cur.Status, cmd.Event, "no expired confirmation code")
		}

	case EventCodeReissued:
		if cur.RenterConfirmed {
			return illegal(cur.Status, cmd.Event, "delivery already confirmed")
		}
		if cur.HasLiveCode(now) {
			return illegal(cur.Status, cmd.Event, "current code is still valid until %s", cur.CodeExpiry.Format(time.RFC3339))
		}
		if ps != models.PaymentHeld {
			return illegal(cur.Status, cmd.Event, "payment is %s, not held", ps)
		}

	case EventHoldExpired:
		if cur.OwnerConfirmationStatus != models.OwnerPending {
			return illegal(cur.Status, cmd.Event, "owner already decided")
		}
		if ps != models.PaymentHeld {
			return illegal(cur.Status, cmd.Event, "payment is %s, not held", ps)
		}

	case EventOwnerConfirmDelivery:
		if !cur.RenterConfirmed {
			return illegal(cur.Status, cmd.Event, "renter has not confirmed delivery")
		}
		if ps != models.PaymentHeld {
			return illegal(cur.Status, cmd.Event, "payment is %s, not held; admin action required", ps)
		}

	case EventRefundProcessed:
		if ps != models.PaymentHeld && !adminSettling {
			return illegal(cur.Status, cmd.Event, "payment is %s, not held", ps)
		}

	case EventAdminRelease, EventAdminRefund:
		if !adminSettling {
			return illegal(cur.Status, cmd.Event, "payment is %s; nothing in escrow to settle", ps)
		}

	case EventAdminCancel:
		if tr.escrow == escrowRefund && !adminSettling {
			return illegal(cur.Status, cmd.Event, "payment is %s; nothing in escrow to refund", ps)
		}
	}
	return nil
}

// prepare mutates next for the edge without touching anything outside
// the record.
func (e *Engine) prepare(tr Transition, next *models.Booking, cmd Command, now time.Time) error {
	switch tr.escrow {
	case escrowHold:
		next.PaymentMethod = strings.TrimSpace(cmd.Payment.Method)
		next.PaymentAccount = strings.TrimSpace(cmd.Payment.Account)
		next.ServiceFee = roundCents(next.PaymentAmount * e.feeRate)
		next.TotalAmount = roundCents(next.PaymentAmount + next.ServiceFee)
		if !validMoney(next.TotalAmount) {
			return validationError(fmt.Sprintf("total amount with service fee must not exceed %.2f", MaxAmount))
		}
		next.PaymentStatus = models.PaymentHeld
		next.PaymentHeldAt = &now

	case escrowRelease:
		next.PaymentStatus = models.PaymentCompleted
		next.PaymentReleasedAt = &now
		next.ClearCode()

	case escrowRefund:
		next.PaymentStatus = models.PaymentRefunded
		next.RefundedAt = &now
		next.ClearCode()
	}

	switch cmd.Event {
	case EventOwnerAccept:
		next.OwnerConfirmationStatus = models.OwnerAccepted
		next.OwnerDecidedAt = &now
		if _, _, err := e.codes.Issue(next, now); err != nil {
			return fmt.Errorf("issue confirmation code: %w", err)
		}

	case EventOwnerReject:
		next.OwnerConfirmationStatus = models.OwnerRejected
		next.OwnerDecidedAt = &now
		if cmd.Reason != "" {
			r := cmd.Reason
			next.OwnerRejectionReason = &r
		}

	case EventRenterConfirmDelivery:
		if err := e.codes.Redeem(next, strings.TrimSpace(cmd.Code), now); err != nil {
			return err
		}

	case EventOwnerConfirmDelivery:
		next.OwnerConfirmedAt = &now

	case EventCodeExpired:
		next.ClearCode()

	case EventCodeReissued:
		if _, _, err := e.codes.Issue(next, now); err != nil {
			return fmt.Errorf("issue confirmation code: %w", err)
		}

	case EventAdminCancel, EventPaymentWindowExpired:
		next.CancelledAt = &now
		next.ClearCode()
	}

	if cmd.Actor.Role == RoleAdmin && cmd.Reason != "" {
		note := cmd.Reason
		next.AdminNote = &note
	}
	return nil
}

// moveFunds performs the escrow action of the edge.
func (e *Engine) moveFunds(ctx context.Context, tr Transition, cur, next *models.Booking, cmd Command, now time.Time) error {
	force := cmd.Actor.Role == RoleAdmin && cur.PaymentStatus == models.PaymentFailed

	switch tr.escrow {
	case escrowHold:
		_, err := e.escrow.Hold(ctx, escrow.HoldRequest{
			BookingID:  cur.ID,
			Method:     next.PaymentMethod,
			AccountRef: next.PaymentAccount,
			Amount:     next.TotalAmount,
			ServiceFee: next.ServiceFee,
		})
		return err

	case escrowRelease:
		_, err := e.escrow.Release(ctx, cur.ID, cur.OwnerID.String(), force)
		return err

	case escrowRefund:
		_, err := e.escrow.Refund(ctx, cur.ID, force)
		return err

	case escrowVoid:
		h, err := e.escrow.Void(ctx, cur.ID)
		if err != nil {
			return err
		}
		// A hold that slipped in ahead of the cancellation was refunded.
		if h.Status == models.EscrowRefunded {
			next.PaymentStatus = models.PaymentRefunded
			next.RefundedAt = &now
		}
	}
	return nil
}

// markPaymentFailed records a gateway failure on its own versioned write.
// The booking status is left where it was so an admin can resolve it.
func (e *Engine) markPaymentFailed(ctx context.Context, cur *models.Booking, cmd Command, gwErr *escrow.GatewayError, now time.Time) {
	failed := cur.Clone()
	failed.PaymentStatus = models.PaymentFailed
	failed.UpdatedAt = now
	if cmd.Event == EventPaymentCompleted {
		// Frozen amounts are only set once the hold is acknowledged.
		failed.PaymentMethod = strings.TrimSpace(cmd.Payment.Method)
		failed.PaymentAccount = strings.TrimSpace(cmd.Payment.Account)
	}

	reason := gwErr.Error()
	audit := &models.BookingTransition{
		BookingID:  cur.ID,
		Event:      "paymentFailed",
		FromStatus: cur.Status,
		ToStatus:   cur.Status,
		ActorID:    cmd.Actor.ID,
		ActorRole:  string(cmd.Actor.Role),
		Version:    cur.Version + 1,
		Reason:     &reason,
		CreatedAt:  now,
	}
	if err := e.store.Update(ctx, failed, cur.Version, audit); err != nil {
		e.logger.Error("could not flag payment failure", "booking_id", cur.ID, "event", cmd.Event, "error", err)
		return
	}
	e.logger.Warn("payment flagged as failed", "booking_id", cur.ID, "event", cmd.Event, "op", gwErr.Op, "attempts", gwErr.Attempts)
	e.broker.Publish(Update{
		BookingID:     failed.ID,
		Event:         cmd.Event,
		Status:        failed.Status,
		PaymentStatus: failed.PaymentStatus,
		Version:       failed.Version,
		At:            now,
	})
	e.notify("payment_failed", cmd.Event, failed, cmd.Actor, now)
}

func (e *Engine) notify(kind string, ev Event, b *models.Booking, actor Actor, at time.Time) {
	if e.dispatcher == nil {
		return
	}
	e.dispatcher.Dispatch(Notice{Type: kind, Event: ev, Booking: *b.Clone(), Actor: actor, At: at})
}

func noticeType(ev Event) string {
	switch ev {
	case EventPaymentCompleted:
		return "payment_held"
	case EventOwnerAccept:
		return "owner_accepted"
	case EventOwnerReject:
		return "owner_rejected"
	case EventRenterConfirmDelivery:
		return "renter_confirmed"
	case EventOwnerConfirmDelivery, EventAdminRelease:
		return "booking_completed"
	case EventCodeExpired:
		return "code_expired"
	case EventCodeReissued:
		return "code_reissued"
	case EventRefundProcessed, EventAdminRefund, EventHoldExpired:
		return "refund_processed"
	case EventAdminCancel, EventPaymentWindowExpired:
		return "booking_cancelled"
	}
	return string(ev)
}
