package main

import (
	"log/slog"
	"os"

	"gorm.io/gorm"

	config "github.com/anjiri1684/rental_escrow/configs"
	"github.com/anjiri1684/rental_escrow/booking"
	"github.com/anjiri1684/rental_escrow/confirmation"
	"github.com/anjiri1684/rental_escrow/database"
	"github.com/anjiri1684/rental_escrow/escrow"
	"github.com/anjiri1684/rental_escrow/jobs"
	"github.com/anjiri1684/rental_escrow/notifications"
	"github.com/anjiri1684/rental_escrow/payments"
	"github.com/anjiri1684/rental_escrow/receipts"
	"github.com/anjiri1684/rental_escrow/utils"
)

// deps is everything the commands need, built once from config.
type deps struct {
	cfg    config.AppConfig
	logger *slog.Logger
	db     *gorm.DB

	bookingStore  *database.BookingStore
	notifStore    *database.NotificationStore
	receiptStore  *database.ReceiptStore
	notifier      *notifications.Service
	engine        *booking.Engine
	service       *booking.Service
	sweeper       *jobs.ExpirySweeper
	receiptsReady bool
}

func newLogger(cfg config.AppConfig, verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.IsProduction() {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}

func connect(cfg config.AppConfig, verbose bool) (*gorm.DB, error) {
	return database.Connect(cfg.DatabaseURL, verbose)
}

func build(cfg config.AppConfig, logger *slog.Logger, db *gorm.DB) (*deps, error) {
	d := &deps{
		cfg:          cfg,
		logger:       logger,
		db:           db,
		bookingStore: database.NewBookingStore(db),
		notifStore:   database.NewNotificationStore(db),
		receiptStore: database.NewReceiptStore(db),
	}
	clock := utils.RealClock()

	var gateway escrow.Gateway
	if cfg.GatewayBaseURL != "" {
		gateway = payments.NewHTTPGateway(payments.HTTPConfig{
			BaseURL:   cfg.GatewayBaseURL,
			APIKey:    cfg.GatewayAPIKey,
			APISecret: cfg.GatewayAPISecret,
			Logger:    logger,
		})
	} else {
		logger.Warn("GATEWAY_BASE_URL not set, using the in-process sandbox gateway")
		gateway = payments.NewSandboxGateway(logger)
	}

	coordinator := escrow.NewCoordinator(database.NewEscrowStore(db), gateway, clock, logger, escrow.Options{
		MaxAttempts:    cfg.GatewayMaxAttempts,
		AttemptTimeout: cfg.GatewayTimeout,
		InitialBackoff: cfg.GatewayBackoff,
	})

	d.notifier = notifications.NewService(d.notifStore, logger, 512)
	if cfg.CloudinaryURL != "" {
		uploader, err := receipts.NewCloudinaryUploader(cfg.CloudinaryURL, "rental_escrow_receipts")
		if err != nil {
			return nil, err
		}
		rs := receipts.NewService(d.receiptStore, receipts.ChromePDF{}, uploader, logger)
		d.notifier.On(rs.OnSettled, "booking_completed", "refund_processed")
		d.receiptsReady = true
	}

	d.engine = booking.NewEngine(booking.EngineConfig{
		Store:          d.bookingStore,
		Escrow:         coordinator,
		Codes:          confirmation.NewIssuer(cfg.CodeTTL, cfg.CodeLength),
		Dispatcher:     d.notifier,
		Clock:          clock,
		Logger:         logger,
		ServiceFeeRate: cfg.ServiceFeeRate,
	})
	d.service = booking.NewService(d.engine, database.NewCatalog(db), logger)
	d.sweeper = jobs.NewExpirySweeper(d.bookingStore, d.engine, coordinator, clock, logger, jobs.SweeperConfig{
		Batch:               cfg.SweepBatch,
		PaymentWindow:       cfg.PaymentWindow,
		OwnerResponseWindow: cfg.OwnerResponseWindow,
		ClaimTimeout:        cfg.EscrowClaimTimeout,
	})
	return d, nil
}
