package main

import (
	"github.com/spf13/cobra"
)

// rootOptions are flags shared by every subcommand
type rootOptions struct {
	logLevel string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "syncctl",
		Short:         "Publish planning-store demand into the ERP staging tables",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "Override log.level (debug, info, warn, error)")

	cmd.AddCommand(
		newPublishCmd(opts),
		newScheduleCmd(opts),
		newTruncateCmd(opts),
		newReloadCmd(opts),
		newMigrateCmd(opts),
	)
	return cmd
}
