package testutil

import (
	"io"
	"log/slog"
	"time"

	"github.com/anjiri1684/rental_escrow/booking"
	"github.com/anjiri1684/rental_escrow/confirmation"
	"github.com/anjiri1684/rental_escrow/escrow"
)

// Epoch is the starting time of every Harness clock.
var Epoch = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

// Harness wires a booking service over in-memory collaborators.
type Harness struct {
	Clock      *FakeClock
	Bookings   *BookingStore
	Holds      *EscrowStore
	Gateway    *Gateway
	Dispatcher *Dispatcher
	Catalog    *Catalog
	Escrow     *escrow.Coordinator
	Codes      *confirmation.Issuer
	Engine     *booking.Engine
	Service    *booking.Service
	Logger     *slog.Logger
}

func NewHarness() *Harness {
	h := &Harness{
		Clock:      NewFakeClock(Epoch),
		Bookings:   NewBookingStore(),
		Holds:      NewEscrowStore(),
		Gateway:    NewGateway(),
		Dispatcher: &Dispatcher{},
		Catalog:    NewCatalog(),
		Codes:      confirmation.NewIssuer(24*time.Hour, 6),
		Logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	h.Holds.Now = h.Clock.Now
	h.Escrow = escrow.NewCoordinator(h.Holds, h.Gateway, h.Clock, h.Logger, escrow.Options{
		MaxAttempts:    3,
		AttemptTimeout: time.Second,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
	})
	h.Engine = booking.NewEngine(booking.EngineConfig{
		Store:          h.Bookings,
		Escrow:         h.Escrow,
		Codes:          h.Codes,
		Dispatcher:     h.Dispatcher,
		Clock:          h.Clock,
		Logger:         h.Logger,
		ServiceFeeRate: 0.05,
	})
	h.Service = booking.NewService(h.Engine, h.Catalog, h.Logger)
	return h
}
