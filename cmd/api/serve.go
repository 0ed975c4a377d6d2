package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"

	config "github.com/anjiri1684/rental_escrow/configs"
	"github.com/anjiri1684/rental_escrow/database"
	"github.com/anjiri1684/rental_escrow/handlers"
	"github.com/anjiri1684/rental_escrow/routes"
	"github.com/anjiri1684/rental_escrow/websocket"
)

func newServeCommand(root *rootOptions) *cobra.Command {
	var port string

	cmd := &cobra.Command{
		Use:          "serve",
		Short:        "Run the HTTP API and the expiry sweeper",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load()
			if port != "" {
				cfg.Port = port
			}
			return serve(cfg, root.Verbose)
		},
	}
	cmd.Flags().StringVarP(&port, "port", "p", "", "listen port (overrides PORT)")
	return cmd
}

func serve(cfg config.AppConfig, verbose bool) error {
	log := newLogger(cfg, verbose)

	db, err := connect(cfg, verbose)
	if err != nil {
		return err
	}
	if err := database.Migrate(db); err != nil {
		return err
	}
	d, err := build(cfg, log, db)
	if err != nil {
		return err
	}

	d.notifier.Start()
	defer d.notifier.Stop()

	c := cron.New()
	if _, err := d.sweeper.Schedule(c, cfg.SweepSchedule); err != nil {
		return err
	}
	c.Start()
	defer c.Stop()
	log.Info("expiry sweeper scheduled", "schedule", cfg.SweepSchedule)

	app := fiber.New(fiber.Config{
		AppName:       "Rental Escrow",
		CaseSensitive: true,
		StrictRouting: true,
		ReadTimeout:   15 * time.Second,
		WriteTimeout:  15 * time.Second,
		IdleTimeout:   60 * time.Second,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			if e, ok := err.(*fiber.Error); ok {
				code = e.Code
			}
			log.Error("unhandled request error", "error", err, "path", c.Path(), "method", c.Method())
			return c.Status(code).JSON(fiber.Map{"error": err.Error()})
		},
	})

	app.Use(cors.New(cors.Config{
		AllowOrigins:  "*",
		AllowHeaders:  "Origin, Content-Type, Accept, Authorization, If-Match, Sec-WebSocket-Key, Sec-WebSocket-Version",
		AllowMethods:  "GET, POST, OPTIONS",
		ExposeHeaders: "Content-Length, ETag",
		MaxAge:        86400,
	}))
	app.Use(recover.New())
	app.Use(logger.New(logger.Config{
		TimeFormat: "2006-01-02 15:04:05",
		Format:     "[${time}] ${status} - ${latency} ${method} ${path}\n",
	}))

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	var receiptFinder handlers.ReceiptFinder
	if d.receiptsReady {
		receiptFinder = d.receiptStore
	}
	bookingHandler := handlers.NewBookingHandler(d.service, receiptFinder, log)
	routes.BookingRoutes(app, bookingHandler, cfg.JWTSecret)
	routes.AdminRoutes(app, bookingHandler, cfg.JWTSecret)
	routes.NotificationRoutes(app, handlers.NewNotificationHandler(d.notifStore, log), cfg.JWTSecret)
	routes.WebsocketRoutes(app, websocket.NewStream(d.service, cfg.JWTSecret, log))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		log.Info("shutting down")
		_ = app.ShutdownWithTimeout(10 * time.Second)
	}()

	log.Info("server is running", "port", cfg.Port)
	return app.Listen(":" + cfg.Port)
}
