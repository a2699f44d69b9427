package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"defi-risk-metrics/internal/app"
)

var snapshotsLimit int

var snapshotsCmd = &cobra.Command{
	Use:   "snapshots",
	Short: "Display recent persisted metrics snapshots",
	RunE: func(cmd *cobra.Command, args []string) error {
		if snapshotsLimit <= 0 {
			return fmt.Errorf("--limit must be greater than zero")
		}
		return getApp().Snapshots(cmd.Context(), cmd.OutOrStdout(), app.SnapshotsOptions{Limit: snapshotsLimit})
	},
}

func init() {
	snapshotsCmd.Flags().IntVar(&snapshotsLimit, "limit", 20, "Number of snapshots to display")
}
