package cli

import (
	"github.com/spf13/cobra"

	"purchase-ingest/internal/app"
)

var dailyDate string

var dailyCmd = &cobra.Command{
	Use:   "daily",
	Short: "Ingest one day of purchases (yesterday by default)",
	RunE: func(cmd *cobra.Command, args []string) error {
		date, err := parseDateFlag("date", dailyDate)
		if err != nil {
			return err
		}
		_, err = getApp().Daily(cmd.Context(), app.DailyOptions{Date: date})
		return err
	},
}

func init() {
	dailyCmd.Flags().StringVar(&dailyDate, "date", "", "Date to ingest (YYYY-MM-DD, UTC); defaults to yesterday")
}
