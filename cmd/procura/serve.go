package main

import (
	"github.com/smallbiznis/procura/internal/migration"
	"github.com/smallbiznis/procura/internal/scheduler"
	"github.com/smallbiznis/procura/internal/server"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	var migrate bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the overdue sweeper",
		Example: `  # Serve on HTTP_ADDR and migrate first
  procura serve

  # Serve without touching the schema
  procura serve --migrate=false`,
		RunE: func(cmd *cobra.Command, args []string) error {
			modules := []fx.Option{
				opts.coreModules(),
				domainModules(),
				scheduler.Module,
				server.Module,
			}
			if migrate {
				modules = append(modules, migration.Module)
			}
			app := fx.New(modules...)
			if err := app.Err(); err != nil {
				return err
			}
			app.Run()
			return nil
		},
	}
	cmd.Flags().BoolVar(&migrate, "migrate", true, "apply schema migrations before serving")
	return cmd
}
