package jobs

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/anjiri1684/rental_escrow/booking"
	"github.com/anjiri1684/rental_escrow/models"
	"github.com/anjiri1684/rental_escrow/utils"
)

type SweeperConfig struct {
	Batch               int
	PaymentWindow       time.Duration
	OwnerResponseWindow time.Duration

	// ClaimTimeout is how long an escrow row may sit claimed by a gateway
	// call before the call is presumed lost.
	ClaimTimeout time.Duration
	PassTimeout  time.Duration
}

// EscrowLedger is the part of the escrow coordinator the sweeper drives.
type EscrowLedger interface {
	AbandonStale(ctx context.Context, cutoff time.Time, limit int) ([]models.EscrowHold, error)
}

// ExpirySweeper clears expired confirmation codes and winds down
// bookings that stalled waiting on a renter, an owner or a refund.
// Every change goes through the engine at the booking's current version.
type ExpirySweeper struct {
	store  booking.Store
	engine *booking.Engine
	ledger EscrowLedger
	clock  utils.Clock
	logger *slog.Logger
	cfg    SweeperConfig
}

// SweepReport counts what one pass did. Skipped are bookings that moved
// on between the scan and the write.
type SweepReport struct {
	ClaimsAbandoned  int
	CodesExpired     int
	PaymentsLapsed   int
	HoldsExpired     int
	RefundsProcessed int
	Skipped          int
	Failed           int
}

func (r SweepReport) Applied() int {
	return r.ClaimsAbandoned + r.CodesExpired + r.PaymentsLapsed + r.HoldsExpired + r.RefundsProcessed
}

// NewExpirySweeper builds a sweeper. ledger may be nil, which turns off
// the recovery of abandoned escrow claims.
func NewExpirySweeper(store booking.Store, engine *booking.Engine, ledger EscrowLedger, clock utils.Clock, logger *slog.Logger, cfg SweeperConfig) *ExpirySweeper {
	if cfg.Batch <= 0 {
		cfg.Batch = 200
	}
	if cfg.PassTimeout <= 0 {
		cfg.PassTimeout = 50 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ExpirySweeper{
		store:  store,
		engine: engine,
		ledger: ledger,
		clock:  clock,
		logger: logger.With("job", "expiry_sweeper"),
		cfg:    cfg,
	}
}

// Schedule registers the sweep on c, e.g. schedule "@every 1m".
func (s *ExpirySweeper) Schedule(c *cron.Cron, schedule string) (cron.EntryID, error) {
	return c.AddFunc(schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.PassTimeout)
		defer cancel()
		s.Sweep(ctx)
	})
}

func (s *ExpirySweeper) Sweep(ctx context.Context) SweepReport {
	var report SweepReport
	now := s.clock.Now()

	if s.ledger != nil && s.cfg.ClaimTimeout > 0 {
		s.sweepClaims(ctx, &report, now.Add(-s.cfg.ClaimTimeout))
	}

	expired, err := s.store.ListExpiredCodes(ctx, now, s.cfg.Batch)
	if err != nil {
		s.logger.Error("list expired codes", "error", err)
	}
	for _, b := range expired {
		s.apply(ctx, &report, &report.CodesExpired, b, booking.EventCodeExpired)
	}

	if s.cfg.PaymentWindow > 0 {
		s.sweepStalled(ctx, &report, &report.PaymentsLapsed, booking.StallQuery{
			Status:        models.StatusRequirementsSubmitted,
			PaymentStatus: models.PaymentPending,
			UpdatedBefore: now.Add(-s.cfg.PaymentWindow),
		}, booking.EventPaymentWindowExpired)
	}

	if s.cfg.OwnerResponseWindow > 0 {
		s.sweepStalled(ctx, &report, &report.HoldsExpired, booking.StallQuery{
			Status:        models.StatusPaymentHeld,
			PaymentStatus: models.PaymentHeld,
			OwnerStatus:   models.OwnerPending,
			UpdatedBefore: now.Add(-s.cfg.OwnerResponseWindow),
		}, booking.EventHoldExpired)
	}

	// Rejections whose immediate refund never committed. Ones that hit a
	// gateway failure are PaymentFailed and wait for an admin instead.
	s.sweepStalled(ctx, &report, &report.RefundsProcessed, booking.StallQuery{
		Status:        models.StatusOwnerRejected,
		PaymentStatus: models.PaymentHeld,
		UpdatedBefore: now,
	}, booking.EventRefundProcessed)

	if report.Applied() > 0 || report.Failed > 0 {
		s.logger.Info("sweep finished",
			"claims_abandoned", report.ClaimsAbandoned,
			"codes_expired", report.CodesExpired,
			"payments_lapsed", report.PaymentsLapsed,
			"holds_expired", report.HoldsExpired,
			"refunds_processed", report.RefundsProcessed,
			"skipped", report.Skipped,
			"failed", report.Failed,
		)
	}
	return report
}

// sweepClaims fails escrow rows whose gateway call never came back and
// flags their bookings PaymentFailed so the renter or an admin can act.
func (s *ExpirySweeper) sweepClaims(ctx context.Context, report *SweepReport, cutoff time.Time) {
	stale, err := s.ledger.AbandonStale(ctx, cutoff, s.cfg.Batch)
	if err != nil {
		s.logger.Error("abandon stale escrow claims", "error", err)
	}
	for _, h := range stale {
		if _, err := s.engine.Reconcile(ctx, h.BookingID); err != nil {
			report.Failed++
			s.logger.Error("reconcile abandoned escrow claim", "booking_id", h.BookingID, "error", err)
			continue
		}
		report.ClaimsAbandoned++
	}
}

func (s *ExpirySweeper) sweepStalled(ctx context.Context, report *SweepReport, counter *int, q booking.StallQuery, ev booking.Event) {
	q.Limit = s.cfg.Batch
	stalled, err := s.store.ListStalled(ctx, q)
	if err != nil {
		s.logger.Error("list stalled bookings", "status", q.Status, "error", err)
		return
	}
	for _, b := range stalled {
		s.apply(ctx, report, counter, b, ev)
	}
}

func (s *ExpirySweeper) apply(ctx context.Context, report *SweepReport, counter *int, b models.Booking, ev booking.Event) {
	if ctx.Err() != nil {
		return
	}
	_, err := s.engine.Apply(ctx, booking.Command{
		BookingID:       b.ID,
		Event:           ev,
		Actor:           booking.SystemActor(),
		ExpectedVersion: b.Version,
	})
	switch {
	case err == nil:
		*counter++
	case booking.IsConcurrent(err) || booking.IsIllegal(err):
		report.Skipped++
		s.logger.Debug("booking moved on before sweep", "booking_id", b.ID, "event", ev, "error", err)
	default:
		report.Failed++
		s.logger.Error("sweep transition failed", "booking_id", b.ID, "event", ev, "error", err)
	}
}
