package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"purchase-ingest/internal/app"
)

var (
	showLimit int
	showDate  string
)

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Display recently stored purchases",
	RunE: func(cmd *cobra.Command, args []string) error {
		if showLimit <= 0 {
			return fmt.Errorf("--limit must be greater than zero")
		}
		date, err := parseDateFlag("date", showDate)
		if err != nil {
			return err
		}

		opts := app.ShowOptions{
			Limit: showLimit,
			Date:  date,
		}

		return getApp().Show(cmd.Context(), cmd.OutOrStdout(), opts)
	},
}

func init() {
	showCmd.Flags().IntVar(&showLimit, "limit", 20, "Number of purchases to display")
	showCmd.Flags().StringVar(&showDate, "date", "", "Also print the stored count for this date (YYYY-MM-DD)")
}
