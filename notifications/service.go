// Package notifications turns committed booking changes into persisted
// in-app notifications and fans them out to registered hooks.
package notifications

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/anjiri1684/rental_escrow/booking"
	"github.com/anjiri1684/rental_escrow/models"
)

type Store interface {
	CreateNotifications(ctx context.Context, ns []models.Notification) error
}

// Hook runs on the worker goroutine after a notice has been persisted.
type Hook func(ctx context.Context, n booking.Notice) error

type hookEntry struct {
	types map[string]bool
	fn    Hook
}

type Service struct {
	store   Store
	logger  *slog.Logger
	timeout time.Duration

	queue chan booking.Notice
	quit  chan struct{}
	done  chan struct{}

	mu    sync.RWMutex
	hooks []hookEntry

	startOnce sync.Once
	stopOnce  sync.Once
}

var _ booking.Dispatcher = (*Service)(nil)

func NewService(store Store, logger *slog.Logger, queueSize int) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if queueSize <= 0 {
		queueSize = 256
	}
	return &Service{
		store:   store,
		logger:  logger.With("component", "notifications"),
		timeout: 15 * time.Second,
		queue:   make(chan booking.Notice, queueSize),
		quit:    make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// On registers fn for the given notice types, or for every notice when
// no type is given.
func (s *Service) On(fn Hook, types ...string) {
	e := hookEntry{fn: fn}
	if len(types) > 0 {
		e.types = make(map[string]bool, len(types))
		for _, t := range types {
			e.types[t] = true
		}
	}
	s.mu.Lock()
	s.hooks = append(s.hooks, e)
	s.mu.Unlock()
}

// Dispatch queues n without blocking. When the queue is full the notice
// is dropped.
func (s *Service) Dispatch(n booking.Notice) {
	select {
	case <-s.quit:
		s.logger.Warn("notification dropped after shutdown", "type", n.Type, "booking_id", n.Booking.ID)
		return
	default:
	}
	select {
	case s.queue <- n:
	default:
		s.logger.Warn("notification queue full, dropping", "type", n.Type, "booking_id", n.Booking.ID)
	}
}

func (s *Service) Start() {
	s.startOnce.Do(func() {
		go s.run()
	})
}

// Stop drains what is already queued and waits for the worker to exit.
func (s *Service) Stop() {
	s.stopOnce.Do(func() {
		close(s.quit)
	})
	s.Start()
	<-s.done
}

func (s *Service) run() {
	defer close(s.done)
	for {
		select {
		case n := <-s.queue:
			s.handle(n)
		case <-s.quit:
			for {
				select {
				case n := <-s.queue:
					s.handle(n)
				default:
					return
				}
			}
		}
	}
}

func (s *Service) handle(n booking.Notice) {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	if rows := Build(n); len(rows) > 0 {
		if err := s.store.CreateNotifications(ctx, rows); err != nil {
			s.logger.Error("failed to save notifications", "type", n.Type, "booking_id", n.Booking.ID, "error", err)
		}
	}

	s.mu.RLock()
	hooks := append([]hookEntry(nil), s.hooks...)
	s.mu.RUnlock()

	for _, h := range hooks {
		if h.types != nil && !h.types[n.Type] {
			continue
		}
		if err := h.fn(ctx, n); err != nil {
			s.logger.Error("notification hook failed", "type", n.Type, "booking_id", n.Booking.ID, "error", err)
		}
	}
}

// Build returns the notification rows for n, one per recipient message.
func Build(n booking.Notice) []models.Notification {
	b := n.Booking
	ref := shortRef(b)
	var renter, owner []string

	switch n.Type {
	case "requirements_submitted":
		renter = append(renter, fmt.Sprintf("Your booking request %s was submitted. Complete payment to secure it.", ref))
		owner = append(owner, fmt.Sprintf("New booking request %s is awaiting the renter's payment.", ref))
	case "payment_held":
		renter = append(renter, fmt.Sprintf("Your payment of %.2f for booking %s is held in escrow.", b.TotalAmount, ref))
		owner = append(owner, fmt.Sprintf("Booking %s has been paid. Please accept or reject it.", ref))
	case "payment_failed":
		renter = append(renter, fmt.Sprintf("The payment step for booking %s failed. Please try again.", ref))
	case "owner_accepted", "code_reissued":
		renter = append(renter, fmt.Sprintf("Your booking %s has been ACCEPTED!", ref))
		if b.ConfirmationCode != nil && b.CodeExpiry != nil {
			msg := fmt.Sprintf("CONFIRMATION CODE: %s - Enter this code on delivery. Expires %s.", *b.ConfirmationCode, b.CodeExpiry.UTC().Format(time.RFC1123))
			renter = append(renter, msg)
			owner = append(owner, msg)
		}
		if n.Type == "owner_accepted" {
			owner = append(owner, fmt.Sprintf("You accepted booking %s.", ref))
		}
	case "owner_rejected":
		renter = append(renter, fmt.Sprintf("Your booking %s has been REJECTED by the owner.", ref))
		if b.OwnerRejectionReason != nil && *b.OwnerRejectionReason != "" {
			renter = append(renter, fmt.Sprintf("Rejection reason: %s. Your payment will be refunded minus the service fee.", *b.OwnerRejectionReason))
		}
		owner = append(owner, fmt.Sprintf("You rejected booking %s.", ref))
	case "renter_confirmed":
		renter = append(renter, fmt.Sprintf("You confirmed delivery for booking %s.", ref))
		owner = append(owner, fmt.Sprintf("The renter confirmed delivery for booking %s. Confirm on your side to receive payment.", ref))
	case "booking_completed":
		renter = append(renter, fmt.Sprintf("Booking %s is complete.", ref))
		owner = append(owner, fmt.Sprintf("Payment of %.2f for booking %s has been released to you.", b.PaymentAmount, ref))
	case "code_expired":
		renter = append(renter, fmt.Sprintf("The confirmation code for booking %s has expired.", ref))
		owner = append(owner, fmt.Sprintf("The confirmation code for booking %s has expired. You can issue a new one.", ref))
	case "refund_processed":
		renter = append(renter, fmt.Sprintf("%.2f for booking %s has been refunded to you.", b.PaymentAmount, ref))
		owner = append(owner, fmt.Sprintf("Booking %s was refunded to the renter.", ref))
	case "booking_cancelled":
		renter = append(renter, fmt.Sprintf("Booking %s was cancelled.", ref))
		owner = append(owner, fmt.Sprintf("Booking %s was cancelled.", ref))
	default:
		return nil
	}

	rows := make([]models.Notification, 0, len(renter)+len(owner))
	for _, m := range renter {
		rows = append(rows, models.Notification{UserID: b.RenterID, BookingID: b.ID, Type: n.Type, Message: m, CreatedAt: n.At})
	}
	for _, m := range owner {
		rows = append(rows, models.Notification{UserID: b.OwnerID, BookingID: b.ID, Type: n.Type, Message: m, CreatedAt: n.At})
	}
	return rows
}

func shortRef(b models.Booking) string {
	s := b.ID.String()
	return "#" + s[:8]
}
