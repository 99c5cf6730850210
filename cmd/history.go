package cmd

import (
	"chat-autopilot/internal/config"
	"chat-autopilot/internal/console"
	"chat-autopilot/internal/store"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

func newHistoryCmd() *cobra.Command {
	var (
		limit    int
		identity string
		asJSON   bool
	)

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show the most recent stored run summaries",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}

			if cfg.SessionConfig.StorePath == "" {
				return errors.New("SESSION_STORE_PATH is not set; no run history is kept")
			}

			s, err := store.Open(cmd.Context(), cfg.SessionConfig.StorePath)
			if err != nil {
				return err
			}
			defer s.Close(cmd.Context())

			runs, err := s.RecentRuns(cmd.Context(), identity, limit)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(runs) == 0 {
				_, err := fmt.Fprintln(out, "No runs recorded.")
				return err
			}

			for i := range runs {
				if i > 0 && !asJSON {
					fmt.Fprintln(out)
				}
				if err := console.Render(out, &runs[i], asJSON); err != nil {
					return err
				}
			}

			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 5, "number of runs to show")
	cmd.Flags().StringVar(&identity, "identity", "", "only runs of this identity (target login)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print summaries as JSON")

	return cmd
}
