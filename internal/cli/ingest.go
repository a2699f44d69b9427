package cli

import (
	"github.com/spf13/cobra"

	"defi-risk-metrics/internal/app"
)

var (
	ingestSource string
	ingestDryRun bool
)

var ingestCmd = &cobra.Command{
	Use:   "ingest <pool-id>...",
	Short: "Copy upstream pool series into Postgres for the postgres provider",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Ingest(cmd.Context(), app.IngestOptions{
			PoolIDs: args,
			Source:  ingestSource,
			DryRun:  ingestDryRun,
		})
	},
}

func init() {
	ingestCmd.Flags().StringVar(&ingestSource, "source", "llama", "Upstream provider: llama or chain")
	ingestCmd.Flags().BoolVar(&ingestDryRun, "dry-run", false, "Fetch without writing to the database")
}
