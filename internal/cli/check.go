package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"rtcore/internal/app"
)

func newCheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Validate the config file and print a summary",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := app.LoadConfig(flagConfig)
			if err != nil {
				return fmt.Errorf("config %s: %w", flagConfig, err)
			}
			out := cmd.OutOrStdout()
			rc := cfg.Runtime

			fmt.Fprintf(out, "Config: %s\n", flagConfig)
			fmt.Fprintf(out, "  Tick:     %s\n", orDefault(rc.TickInterval, "10ms"))
			fmt.Fprintf(out, "  Timezone: %s\n", orDefault(rc.Timezone, "Local"))
			fmt.Fprintf(out, "  Strict:   %t\n", rc.StrictRefcount)
			fmt.Fprintf(out, "  Coupled:  %t\n", rc.ClearSchedulerOnGCStep)
			if cfg.Storage != nil {
				fmt.Fprintf(out, "  Journal:  %s %s\n", orDefault(cfg.Storage.Driver, "none"), cfg.Storage.Path)
			} else {
				fmt.Fprintln(out, "  Journal:  none")
			}
			if len(cfg.Schedules) > 0 {
				fmt.Fprintln(out, "  Schedules:")
				for _, s := range cfg.Schedules {
					fmt.Fprintf(out, "    %-16s %-20s %s\n", s.Name, s.Spec, s.Action)
				}
			}
			return nil
		},
	}
}

func orDefault(v, def string) string {
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}
