package fetcher

import (
	"context"
	"time"

	"card-price-tracker/internal/ingest"
)

// PriceFeedFetcher retrieves one day's price observations from the vendor
// archive.
type PriceFeedFetcher interface {
	FetchDaily(ctx context.Context, date time.Time) ([]ingest.Observation, error)
}
