package app

import (
	"context"
	"time"

	"card-price-tracker/internal/stale"
)

// Recalc loops the staleness recalculation entry point until it reports
// zero, correcting metrics for cards the daily feed did not touch.
func (a *App) Recalc(ctx context.Context, opts RecalcOptions) error {
	cutoff := time.Now().UTC().Add(-a.Config.Stale.MaxAge)
	if opts.Cutoff != nil {
		cutoff = opts.Cutoff.UTC()
	}

	batchSize := opts.BatchSize
	if batchSize <= 0 {
		batchSize = a.Config.Stale.BatchSize
	}

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	recalc := stale.New(store, a.Logger)

	total, err := recalc.RecalculateAll(ctx, cutoff, batchSize)
	if err != nil {
		return err
	}

	a.Logger.Info().Int("total", total).Time("cutoff", cutoff).Msg("staleness recalculation finished")
	return nil
}
