package main

import (
	"context"
	"time"

	"github.com/smallbiznis/procura/internal/migration"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
)

func newMigrateCmd(opts *rootOptions) *cobra.Command {
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Bring the database schema up to date and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			app := fx.New(
				opts.coreModules(),
				migration.Module,
			)
			return startStop(cmd.Context(), app, timeout)
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Minute, "maximum time for the migration run")
	return cmd
}

// startStop runs fx start hooks (and their invokes) then stops the app.
func startStop(parent context.Context, app *fx.App, timeout time.Duration) error {
	if err := app.Err(); err != nil {
		return err
	}
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()
	if err := app.Start(ctx); err != nil {
		return err
	}
	return app.Stop(ctx)
}
