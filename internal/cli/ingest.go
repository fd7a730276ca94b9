package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"card-price-tracker/internal/app"
)

var (
	ingestDate string
	ingestFile string
)

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Ingest one day's price archive",
	RunE: func(cmd *cobra.Command, args []string) error {
		if ingestDate != "" && ingestFile != "" {
			return fmt.Errorf("--date and --file are mutually exclusive")
		}

		opts := app.IngestOptions{
			Date:     ingestDate,
			FilePath: ingestFile,
		}

		return getApp().Ingest(cmd.Context(), opts)
	},
}

func init() {
	ingestCmd.Flags().StringVar(&ingestDate, "date", "", "Archive date to fetch (YYYY-MM-DD, defaults to today)")
	ingestCmd.Flags().StringVar(&ingestFile, "file", "", "Local archive file to ingest instead of fetching")
}
