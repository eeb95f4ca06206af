package cli

import (
	"github.com/spf13/cobra"

	"rtcore/internal/app"
)

func newRunCmd() *cobra.Command {
	var once bool
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the program entry and step the runtime",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := app.NewApp(flagConfig, app.WithOnce(once), app.WithOutput(cmd.OutOrStdout()))
			if err != nil {
				return err
			}
			return a.Run(cmd.Context())
		},
	}
	cmd.Flags().BoolVar(&once, "once", false, "exit once no tasks or releases are pending")
	return cmd
}
