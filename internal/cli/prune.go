package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"purchase-ingest/internal/app"
)

var (
	pruneDir           string
	pruneRetentionDays int
)

var pruneLogsCmd = &cobra.Command{
	Use:   "prune-logs",
	Short: "Delete dated log files older than the retention window",
	RunE: func(cmd *cobra.Command, args []string) error {
		removed, err := getApp().PruneLogs(app.PruneOptions{
			Dir:           pruneDir,
			RetentionDays: pruneRetentionDays,
		})
		if err != nil {
			return err
		}
		for _, path := range removed {
			fmt.Fprintln(cmd.OutOrStdout(), "removed", path)
		}
		return nil
	},
}

func init() {
	pruneLogsCmd.Flags().StringVar(&pruneDir, "dir", "", "Log directory (defaults to logging.dir)")
	pruneLogsCmd.Flags().IntVar(&pruneRetentionDays, "retention-days", 0, "Days of logs to keep (defaults to logging.retention_days)")
}
