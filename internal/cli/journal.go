package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"rtcore/internal/app"
	logx "rtcore/pkg/logx"
)

func newJournalCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "journal",
		Short: "Print the most recent lifecycle journal entries",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := app.LoadConfig(flagConfig)
			if err != nil {
				return fmt.Errorf("config %s: %w", flagConfig, err)
			}
			st, err := app.OpenJournal(cfg, logx.Nop())
			if err != nil {
				return err
			}
			if st == nil {
				return errors.New("storage is disabled in this config")
			}
			defer st.Close()

			entries, err := st.Recent(cmd.Context(), limit)
			if err != nil {
				return fmt.Errorf("read journal: %w", err)
			}
			out := cmd.OutOrStdout()
			for _, e := range entries {
				line := fmt.Sprintf("%s  %-8s  %-18s %s", e.At.Format("2006-01-02 15:04:05.000"), short(e.RunID), e.Type, e.Subject)
				if e.Error != "" {
					line += "  error=" + e.Error
				}
				fmt.Fprintln(out, line)
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of entries to print")
	return cmd
}

func short(runID string) string {
	if len(runID) > 8 {
		return runID[:8]
	}
	return runID
}
