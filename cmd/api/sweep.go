package main

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	config "github.com/anjiri1684/rental_escrow/configs"
	"github.com/anjiri1684/rental_escrow/database"
)

func newSweepCommand(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:          "sweep",
		Short:        "Run one expiry sweep pass and exit",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load()
			log := newLogger(cfg, root.Verbose)
			db, err := connect(cfg, root.Verbose)
			if err != nil {
				return err
			}
			d, err := build(cfg, log, db)
			if err != nil {
				return err
			}
			d.notifier.Start()
			defer d.notifier.Stop()

			ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Minute)
			defer cancel()
			report := d.sweeper.Sweep(ctx)
			log.Info("sweep finished",
				"claims_abandoned", report.ClaimsAbandoned,
				"codes_expired", report.CodesExpired,
				"payments_lapsed", report.PaymentsLapsed,
				"holds_expired", report.HoldsExpired,
				"refunds_processed", report.RefundsProcessed,
				"skipped", report.Skipped,
				"failed", report.Failed,
			)
			return nil
		},
	}
}

func newMigrateCommand(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:          "migrate",
		Short:        "Create or update the database schema",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load()
			db, err := connect(cfg, root.Verbose)
			if err != nil {
				return err
			}
			return database.Migrate(db)
		},
	}
}
