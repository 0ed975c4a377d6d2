package booking

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/anjiri1684/rental_escrow/models"
)

var ErrItemNotFound = errors.New("rental item not found")

// Catalog is the read side of the rental catalogue owned elsewhere.
type Catalog interface {
	RentalItem(ctx context.Context, id uuid.UUID) (*models.RentalItem, error)
	RequirementsSchema(ctx context.Context, rentalItemID uuid.UUID) ([]models.RenterInputField, error)
}

type SubmitRequest struct {
	RentalItemID     uuid.UUID      `json:"rental_item_id"`
	RenterID         uuid.UUID      `json:"renter_id"`
	RequirementsData map[string]any `json:"requirements_data" validate:"required"`
	ContractAccepted bool           `json:"contract_accepted"`
}

type Submission struct {
	BookingID     uuid.UUID `json:"booking_id"`
	PaymentAmount float64   `json:"payment_amount"`
	Version       int64     `json:"version"`
	Resubmitted   bool      `json:"resubmitted"`
}

type PaymentSummary struct {
	BookingID   uuid.UUID `json:"booking_id"`
	ServiceFee  float64   `json:"service_fee"`
	TotalAmount float64   `json:"total_amount"`
	Version     int64     `json:"version"`
}

type Decision struct {
	Accept bool   `json:"accept"`
	Reason string `json:"reason" validate:"max=1000"`
}

type AdminAction string

const (
	AdminRelease    AdminAction = "release"
	AdminRefund     AdminAction = "refund"
	AdminCancel     AdminAction = "cancel"
	AdminExpireCode AdminAction = "expire_code"
)

func (a AdminAction) event() (Event, bool) {
	switch a {
	case AdminRelease:
		return EventAdminRelease, true
	case AdminRefund:
		return EventAdminRefund, true
	case AdminCancel:
		return EventAdminCancel, true
	case AdminExpireCode:
		return EventCodeExpired, true
	}
	return "", false
}

const defaultConflictRetries = 3

// Service is the surface the HTTP layer and jobs call. Every mutating
// method takes an expected version; 0 means "use whatever is current",
// in which case a version conflict is retried from a fresh read and every
// guard is evaluated again.
type Service struct {
	engine   *Engine
	catalog  Catalog
	validate *validator.Validate
	logger   *slog.Logger
	retries  int
}

func NewService(engine *Engine, catalog Catalog, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		engine:   engine,
		catalog:  catalog,
		validate: validator.New(),
		logger:   logger.With("component", "booking_service"),
		retries:  defaultConflictRetries,
	}
}

func (s *Service) Engine() *Engine { return s.engine }

// SubmitRequirements creates a booking in RequirementsSubmitted after
// checking requirementsData against the item's schema. A renter who
// already has an unpaid booking for the item gets that booking back.
func (s *Service) SubmitRequirements(ctx context.Context, req SubmitRequest) (*Submission, error) {
	var problems []string
	if err := s.validate.Struct(req); err != nil {
		problems = append(problems, describe(err)...)
	}
	if req.RentalItemID == uuid.Nil {
		problems = append(problems, "rental_item_id is required")
	}
	if req.RenterID == uuid.Nil {
		problems = append(problems, "renter_id is required")
	}
	if !req.ContractAccepted {
		problems = append(problems, "contract must be accepted")
	}
	if len(problems) > 0 {
		return nil, validationError(problems...)
	}

	item, err := s.catalog.RentalItem(ctx, req.RentalItemID)
	if err != nil {
		return nil, err
	}
	if item.OwnerID == req.RenterID {
		return nil, validationError("owners cannot book their own items")
	}

	open, err := s.engine.store.FindOpen(ctx, item.ID, req.RenterID)
	if err != nil {
		return nil, fmt.Errorf("look up open bookings: %w", err)
	}
	for _, b := range open {
		if b.Status == models.StatusRequirementsSubmitted &&
			(b.PaymentStatus == models.PaymentPending || b.PaymentStatus == models.PaymentFailed) {
			return &Submission{BookingID: b.ID, PaymentAmount: b.PaymentAmount, Version: b.Version, Resubmitted: true}, nil
		}
	}
	if len(open) > 0 {
		return nil, validationError("an active booking already exists for this item")
	}
	if !item.IsAvailable {
		return nil, validationError("rental item is not available")
	}

	schema, err := s.catalog.RequirementsSchema(ctx, item.ID)
	if err != nil {
		return nil, fmt.Errorf("fetch requirements schema: %w", err)
	}
	problems = checkRequirements(schema, req.RequirementsData)
	amount, err := paymentAmountFrom(req.RequirementsData)
	if err != nil {
		problems = append(problems, err.Error())
	}
	if len(problems) > 0 {
		return nil, validationError(problems...)
	}

	b := &models.Booking{
		RenterID:         req.RenterID,
		OwnerID:          item.OwnerID,
		RentalItemID:     item.ID,
		ContractAccepted: true,
		RequirementsData: req.RequirementsData,
		PaymentAmount:    amount,
	}
	if err := s.engine.Create(ctx, b, Actor{ID: req.RenterID, Role: RoleRenter}); err != nil {
		return nil, err
	}
	return &Submission{BookingID: b.ID, PaymentAmount: b.PaymentAmount, Version: b.Version}, nil
}

// CompletePayment places the total in escrow and moves the booking to
// PaymentHeld.
func (s *Service) CompletePayment(ctx context.Context, bookingID, renterID uuid.UUID, pay PaymentDetails, version int64) (*PaymentSummary, error) {
	if err := s.validate.Struct(pay); err != nil {
		return nil, validationError(describe(err)...)
	}
	b, err := s.apply(ctx, Command{
		BookingID:       bookingID,
		Event:           EventPaymentCompleted,
		Actor:           Actor{ID: renterID, Role: RoleRenter},
		ExpectedVersion: version,
		Payment:         &pay,
	})
	if err != nil {
		return nil, err
	}
	return &PaymentSummary{BookingID: b.ID, ServiceFee: b.ServiceFee, TotalAmount: b.TotalAmount, Version: b.Version}, nil
}

// OwnerDecision accepts or rejects a paid booking. A rejection is
// followed by the refund; if that refund cannot be completed the booking
// stays OwnerRejected with the payment flagged for an admin, and the
// decision itself still succeeds.
func (s *Service) OwnerDecision(ctx context.Context, bookingID, ownerID uuid.UUID, d Decision, version int64) (*models.Booking, error) {
	if err := s.validate.Struct(d); err != nil {
		return nil, validationError(describe(err)...)
	}
	ev := EventOwnerReject
	if d.Accept {
		ev = EventOwnerAccept
	}
	b, err := s.apply(ctx, Command{
		BookingID:       bookingID,
		Event:           ev,
		Actor:           Actor{ID: ownerID, Role: RoleOwner},
		ExpectedVersion: version,
		Reason:          d.Reason,
	})
	if err != nil || d.Accept {
		return b, err
	}

	refunded, err := s.engine.Apply(ctx, Command{
		BookingID:       bookingID,
		Event:           EventRefundProcessed,
		Actor:           SystemActor(),
		ExpectedVersion: b.Version,
	})
	if err != nil {
		s.logger.Warn("refund after owner rejection deferred", "booking_id", bookingID, "error", err)
		if latest, gerr := s.engine.Get(ctx, bookingID); gerr == nil {
			return latest, nil
		}
		return b, nil
	}
	return refunded, nil
}

// ConfirmDelivery redeems the renter's confirmation code.
func (s *Service) ConfirmDelivery(ctx context.Context, bookingID, renterID uuid.UUID, code string, version int64) (*models.Booking, error) {
	return s.apply(ctx, Command{
		BookingID:       bookingID,
		Event:           EventRenterConfirmDelivery,
		Actor:           Actor{ID: renterID, Role: RoleRenter},
		ExpectedVersion: version,
		Code:            code,
	})
}

// OwnerConfirmDelivery completes the booking and releases escrow to the
// owner.
func (s *Service) OwnerConfirmDelivery(ctx context.Context, bookingID, ownerID uuid.UUID, version int64) (*models.Booking, error) {
	return s.apply(ctx, Command{
		BookingID:       bookingID,
		Event:           EventOwnerConfirmDelivery,
		Actor:           Actor{ID: ownerID, Role: RoleOwner},
		ExpectedVersion: version,
	})
}

// ReissueCode gives the renter a fresh code once the previous one has
// expired or been cleared.
func (s *Service) ReissueCode(ctx context.Context, bookingID, ownerID uuid.UUID, version int64) (*models.Booking, error) {
	return s.apply(ctx, Command{
		BookingID:       bookingID,
		Event:           EventCodeReissued,
		Actor:           Actor{ID: ownerID, Role: RoleOwner},
		ExpectedVersion: version,
	})
}

func (s *Service) AdminOverride(ctx context.Context, bookingID, adminID uuid.UUID, action AdminAction, note string, version int64) (*models.Booking, error) {
	ev, ok := action.event()
	if !ok {
		return nil, validationError(fmt.Sprintf("unknown admin action %q", action))
	}
	if ev == EventAdminRefund {
		cur, err := s.engine.Get(ctx, bookingID)
		if err != nil {
			return nil, err
		}
		if cur.Status == models.StatusOwnerRejected {
			ev = EventRefundProcessed
		}
	}
	return s.apply(ctx, Command{
		BookingID:       bookingID,
		Event:           ev,
		Actor:           Actor{ID: adminID, Role: RoleAdmin},
		ExpectedVersion: version,
		Reason:          note,
	})
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*models.Booking, error) {
	return s.engine.Get(ctx, id)
}

func (s *Service) History(ctx context.Context, id uuid.UUID) ([]models.BookingTransition, error) {
	if _, err := s.engine.Get(ctx, id); err != nil {
		return nil, err
	}
	return s.engine.store.History(ctx, id)
}

// HeldPayments lists bookings with money in escrow, including those whose
// gateway call failed and wait on an admin.
func (s *Service) HeldPayments(ctx context.Context, limit int) ([]models.Booking, error) {
	return s.engine.store.ListByPaymentStatus(ctx, []models.PaymentStatus{models.PaymentHeld, models.PaymentFailed}, limit)
}

func (s *Service) Subscribe(id uuid.UUID) (<-chan Update, func()) {
	return s.engine.broker.Subscribe(id)
}

func (s *Service) apply(ctx context.Context, cmd Command) (*models.Booking, error) {
	if cmd.ExpectedVersion != 0 {
		return s.engine.Apply(ctx, cmd)
	}

	var lastErr error
	for attempt := 1; attempt <= s.retries; attempt++ {
		cur, err := s.engine.Get(ctx, cmd.BookingID)
		if err != nil {
			return nil, err
		}
		cmd.ExpectedVersion = cur.Version
		b, err := s.engine.Apply(ctx, cmd)
		if err == nil || !IsConcurrent(err) {
			return b, err
		}
		lastErr = err
		s.logger.Debug("version conflict, retrying", "booking_id", cmd.BookingID, "event", cmd.Event, "attempt", attempt)
	}
	return nil, lastErr
}

func describe(err error) []string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return []string{err.Error()}
	}
	out := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		switch fe.Tag() {
		case "required":
			out = append(out, fmt.Sprintf("%s is required", fe.Field()))
		case "max":
			out = append(out, fmt.Sprintf("%s must be at most %s characters", fe.Field(), fe.Param()))
		default:
			out = append(out, fmt.Sprintf("%s failed %s validation", fe.Field(), fe.Tag()))
		}
	}
	return out
}
