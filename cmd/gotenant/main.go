// Command gotenant runs the identity and billing service: the HTTP API,
// the scheduled usage and onboarding jobs, and schema migrations.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

// Version is set at build time with -ldflags.
var Version = "dev"

type rootFlags struct {
	configPath string
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}
	rootCmd := &cobra.Command{
		Use:           "gotenant",
		Short:         "Multi-tenant identity and billing service",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVarP(&flags.configPath, "config", "c", "", "config file (default ./gotenant.yaml or /etc/gotenant/gotenant.yaml)")

	rootCmd.AddCommand(
		newServeCmd(flags),
		newWorkerCmd(flags),
		newMigrateCmd(flags),
		newLoadtestCmd(),
	)
	return rootCmd
}

// setup loads configuration and builds the logger every command starts with.
func setup(flags *rootFlags) (*fileConfig, zerolog.Logger, error) {
	cfg, err := loadConfig(flags.configPath)
	if err != nil {
		return nil, zerolog.Nop(), err
	}
	log, err := newLogger(cfg.Log.Level, cfg.Log.Format, os.Stderr)
	if err != nil {
		return nil, zerolog.Nop(), err
	}
	return cfg, log, nil
}
