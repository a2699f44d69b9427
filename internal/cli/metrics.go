package cli

import (
	"github.com/spf13/cobra"
)

var metricsCmd = &cobra.Command{
	Use:   "metrics <pool-id>",
	Short: "Compute risk metrics for one pool and print them as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Metrics(cmd.Context(), cmd.OutOrStdout(), args[0])
	},
}
