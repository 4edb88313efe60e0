package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	goTenant "github.com/MrEthical07/goTenant"
	"github.com/MrEthical07/goTenant/worker"
)

func newWorkerCmd(flags *rootFlags) *cobra.Command {
	var now bool
	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Run the usage reporting and onboarding jobs",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := setup(flags)
			if err != nil {
				return err
			}
			a, err := openApp(cmd.Context(), cfg, log)
			if err != nil {
				return err
			}
			defer a.Close()
			return runWorker(cmd.Context(), a, now)
		},
	}
	cmd.Flags().BoolVar(&now, "now", false, "queue one run of every job at startup")
	return cmd
}

// runWorker blocks until ctx is done. Several processes may run it against
// the same Redis; each queued job is claimed by one of them.
func runWorker(ctx context.Context, a *app, now bool) error {
	runner := worker.NewRunner(
		worker.NewQueue(a.rdb, a.cfg.Engine.RedisPrefix),
		a.log.With().Str("component", "worker").Logger(),
		worker.WithObserver(a.engine.Metrics().ObserveJob),
	)
	if err := a.engine.RegisterJobs(runner); err != nil {
		return err
	}
	if err := runner.Start(ctx); err != nil {
		return err
	}
	defer runner.Stop()

	if now {
		for _, job := range []string{goTenant.JobUsage, goTenant.JobOnboarding} {
			if err := runner.Trigger(ctx, job); err != nil {
				return fmt.Errorf("trigger %s: %w", job, err)
			}
		}
	}
	a.log.Info().Msg("worker started")
	<-ctx.Done()
	a.log.Info().Msg("worker stopping")
	return nil
}
