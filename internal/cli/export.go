package cli

import (
	"github.com/spf13/cobra"

	"defi-risk-metrics/internal/app"
)

var exportPNGPath string

var exportCmd = &cobra.Command{
	Use:   "export <pool-id>",
	Short: "Export a pool's value series and drawdown as a PNG chart",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Export(cmd.Context(), app.ExportOptions{
			PoolID:  args[0],
			PNGPath: exportPNGPath,
		})
	},
}

func init() {
	exportCmd.Flags().StringVar(&exportPNGPath, "png", "", "Path to write PNG chart")
	_ = exportCmd.MarkFlagRequired("png")
}
