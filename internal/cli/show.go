package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"card-price-tracker/internal/app"
)

var (
	showLimit int
	showKey   string
)

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Display recently updated cards or one card's metrics",
	RunE: func(cmd *cobra.Command, args []string) error {
		if showKey == "" && showLimit <= 0 {
			return fmt.Errorf("--limit must be greater than zero")
		}

		opts := app.ShowOptions{
			Limit: showLimit,
			Key:   showKey,
		}

		return getApp().Show(cmd.Context(), opts)
	},
}

func init() {
	showCmd.Flags().IntVar(&showLimit, "limit", 20, "Number of cards to display")
	showCmd.Flags().StringVar(&showKey, "key", "", "Show a single card by key")
}
