package stale

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"card-price-tracker/internal/pricing"
	"card-price-tracker/internal/storage"
)

// Recalculator corrects metrics for cards the day's feed did not touch.
// Without it, an absent card would keep metrics computed against an
// ever-receding "today". Metrics are re-derived relative to the current
// moment using the last known current price; no new observation is needed.
type Recalculator struct {
	store  storage.StaleCardStore
	logger zerolog.Logger
	now    func() time.Time
}

// New constructs a staleness recalculator.
func New(store storage.StaleCardStore, logger zerolog.Logger) *Recalculator {
	return &Recalculator{
		store:  store,
		logger: logger.With().Str("component", "stale").Logger(),
		now:    time.Now,
	}
}

// Recalculate claims up to batchSize cards whose watermark is older than
// cutoff (skipping rows locked by a concurrent claimant), recomputes all 14
// metrics anchored on the current date, and advances every claimed card's
// updated_at. Returns the number of cards updated; callers loop until zero.
func (r *Recalculator) Recalculate(ctx context.Context, cutoff time.Time, batchSize int) (int, error) {
	if batchSize <= 0 {
		return 0, fmt.Errorf("batch size must be positive, got %d", batchSize)
	}

	now := r.now().UTC()
	anchor := now

	updated, err := r.store.ClaimAndUpdateStale(ctx, cutoff, batchSize, now, func(card storage.CardRecord) pricing.ChangeSet {
		return pricing.ComputeChangeSet(card.CurrentPrice, card.History, anchor)
	})
	if err != nil {
		return 0, fmt.Errorf("recalculate stale: %w", err)
	}

	if updated > 0 {
		r.logger.Info().Int("updated", updated).Time("cutoff", cutoff).Msg("stale metrics recalculated")
	}
	return updated, nil
}

// RecalculateAll loops Recalculate until a batch comes back empty, which
// implements full-table staleness correction without one giant lock.
func (r *Recalculator) RecalculateAll(ctx context.Context, cutoff time.Time, batchSize int) (int, error) {
	total := 0
	for {
		if err := ctx.Err(); err != nil {
			return total, err
		}

		updated, err := r.Recalculate(ctx, cutoff, batchSize)
		if err != nil {
			return total, err
		}
		if updated == 0 {
			return total, nil
		}
		total += updated
	}
}
