package main

import (
	"context"
	"time"

	"github.com/smallbiznis/procura/internal/scheduler"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

func newSweepCmd(opts *rootOptions) *cobra.Command {
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Run one overdue sweep and exit",
		Long: `Moves every milestone whose due date has passed to overdue and refreshes
the invoice status. Safe to run repeatedly, for example from cron.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			var (
				sched *scheduler.Scheduler
				log   *zap.Logger
			)
			app := fx.New(
				opts.coreModules(),
				domainModules(),
				fx.Provide(scheduler.ProvideConfig, scheduler.New),
				fx.Populate(&sched, &log),
			)
			if err := app.Err(); err != nil {
				return err
			}

			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			startCtx, cancel := context.WithTimeout(ctx, time.Minute)
			defer cancel()
			if err := app.Start(startCtx); err != nil {
				return err
			}
			defer func() {
				stopCtx, stop := context.WithTimeout(context.Background(), time.Minute)
				defer stop()
				_ = app.Stop(stopCtx)
			}()

			runCtx, cancelRun := context.WithTimeout(ctx, timeout)
			defer cancelRun()
			if err := sched.RunOnce(runCtx); err != nil {
				return err
			}
			log.Info("overdue sweep complete")
			return nil
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 10*time.Minute, "maximum time for the sweep")
	return cmd
}
