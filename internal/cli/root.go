// Package cli wires the rtcore command tree.
package cli

import (
	"github.com/spf13/cobra"
)

const version = "0.1.0"

var flagConfig string

// NewRootCmd creates the root command. Running it without a subcommand is
// the same as "rtcore run".
func NewRootCmd() *cobra.Command {
	run := newRunCmd()
	root := &cobra.Command{
		Use:           "rtcore",
		Short:         "Host runtime for compiled programs",
		Long:          "rtcore runs a compiled program's entry point and steps its task scheduler and deferred object collector.",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          run.RunE,
	}
	root.Flags().AddFlagSet(run.Flags())

	root.PersistentFlags().StringVarP(&flagConfig, "config", "c", "./config.json", "path to config (json or yaml)")

	root.AddCommand(
		run,
		newCheckCmd(),
		newJournalCmd(),
	)
	return root
}
