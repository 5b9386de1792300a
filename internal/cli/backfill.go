package cli

import (
	"github.com/spf13/cobra"

	"purchase-ingest/internal/app"
)

var (
	backfillStart    string
	backfillProgress bool
)

var backfillCmd = &cobra.Command{
	Use:   "backfill",
	Short: "Walk backwards day by day until the API returns an empty day",
	RunE: func(cmd *cobra.Command, args []string) error {
		start, err := parseDateFlag("start", backfillStart)
		if err != nil {
			return err
		}

		opts := app.BackfillOptions{
			Start:    start,
			Progress: backfillProgress,
		}

		_, err = getApp().Backfill(cmd.Context(), opts)
		return err
	},
}

func init() {
	backfillCmd.Flags().StringVar(&backfillStart, "start", "", "First (most recent) date to ingest (YYYY-MM-DD); defaults to today")
	backfillCmd.Flags().BoolVar(&backfillProgress, "progress", false, "Show a progress spinner on stderr")
}
