package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"card-price-tracker/internal/app"
)

var (
	recalcCutoff    string
	recalcBatchSize int
)

var recalcCmd = &cobra.Command{
	Use:   "recalc",
	Short: "Recalculate metrics for stale cards until none remain",
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := app.RecalcOptions{
			BatchSize: recalcBatchSize,
		}

		if recalcCutoff != "" {
			cutoff, err := time.Parse(time.RFC3339, recalcCutoff)
			if err != nil {
				return fmt.Errorf("invalid --cutoff value: %w", err)
			}
			opts.Cutoff = &cutoff
		}

		return getApp().Recalc(cmd.Context(), opts)
	},
}

func init() {
	recalcCmd.Flags().StringVar(&recalcCutoff, "cutoff", "", "Watermark cutoff (RFC3339, defaults to now minus stale.max_age)")
	recalcCmd.Flags().IntVar(&recalcBatchSize, "batch-size", 0, "Rows claimed per batch (defaults to config)")
}
