package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	config "github.com/anjiri1684/rental_escrow/configs"
)

type rootOptions struct {
	EnvFile string
	Verbose bool
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "rental-escrow",
		Short: "Rental booking and escrow API",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			config.UseEnvFile(opts.EnvFile)
		},
	}

	cmd.PersistentFlags().StringVar(&opts.EnvFile, "env-file", ".env", "dotenv file to load")
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "debug logging")

	cmd.AddCommand(newServeCommand(opts))
	cmd.AddCommand(newSweepCommand(opts))
	cmd.AddCommand(newMigrateCommand(opts))
	return cmd
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
