package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/procura/internal/audit"
	"github.com/smallbiznis/procura/internal/clock"
	"github.com/smallbiznis/procura/internal/config"
	"github.com/smallbiznis/procura/internal/invoice"
	"github.com/smallbiznis/procura/internal/invoicelock"
	"github.com/smallbiznis/procura/internal/observability"
	"github.com/smallbiznis/procura/pkg/db"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
)

var version = "0.1.0"

type rootOptions struct {
	nodeID int64
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:   "procura",
		Short: "Invoice payment schedules, payments and overdue tracking",
		Long: `procura splits supplier invoices into payment milestones, tracks when
each milestone becomes payable from business events, and allocates recorded
payments across milestones.

Configuration is read from the environment and an optional .env file.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().Int64Var(&opts.nodeID, "node-id", 1, "snowflake node id, unique per running instance (0-1023)")

	cmd.AddCommand(
		newServeCmd(opts),
		newMigrateCmd(opts),
		newSweepCmd(opts),
	)
	return cmd
}

// coreModules are shared by every command that touches the database.
func (o *rootOptions) coreModules() fx.Option {
	return fx.Options(
		config.Module,
		observability.Module,
		fx.Provide(o.registerSnowflake),
		db.Module,
		clock.Module,
	)
}

// domainModules wire the invoice service and its collaborators.
func domainModules() fx.Option {
	return fx.Options(
		invoicelock.Module,
		audit.Module,
		invoice.Module,
	)
}

func (o *rootOptions) registerSnowflake() (*snowflake.Node, error) {
	return snowflake.NewNode(o.nodeID)
}
