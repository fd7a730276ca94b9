package ingest

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"card-price-tracker/internal/pricing"
	"card-price-tracker/internal/storage"
)

type outcome int

const (
	outcomeSkipped outcome = iota
	outcomeInserted
	outcomeUpdated
)

// Processor applies a batch of price observations to the card store.
// Each observation is its own failure domain: one bad item never aborts
// the batch or rolls back earlier observations.
type Processor struct {
	store  storage.CardStore
	logger zerolog.Logger
	now    func() time.Time
}

// NewProcessor constructs a batch ingestion processor.
func NewProcessor(store storage.CardStore, logger zerolog.Logger) *Processor {
	return &Processor{
		store:  store,
		logger: logger.With().Str("component", "ingest").Logger(),
		now:    time.Now,
	}
}

// ProcessBatch consumes observations in the order given. Observations for
// the same key see the effect of earlier ones; a transient infrastructure
// failure aborts the batch and is returned for the caller to retry, any
// other per-item fault is counted and skipped over.
func (p *Processor) ProcessBatch(ctx context.Context, observations []Observation) (Counts, error) {
	var counts Counts

	for _, obs := range observations {
		result, err := p.processOne(ctx, obs)
		if err != nil {
			if ctx.Err() != nil {
				return counts, ctx.Err()
			}
			if isTransient(err) {
				return counts, err
			}
			counts.Errors++
			p.logger.Warn().Err(err).Str("key", obs.Key).Msg("observation failed")
			continue
		}

		switch result {
		case outcomeUpdated:
			counts.Updated++
		case outcomeInserted:
			counts.Inserted++
		default:
			counts.Skipped++
		}
	}

	return counts, nil
}

func (p *Processor) processOne(ctx context.Context, obs Observation) (outcome, error) {
	if obs.Key == "" || obs.Price == nil || obs.Date.IsZero() {
		return outcomeSkipped, nil
	}

	card, err := p.store.GetByKey(ctx, obs.Key)
	if errors.Is(err, storage.ErrNotFound) {
		return p.insertNew(ctx, obs)
	}
	if err != nil {
		return outcomeSkipped, err
	}

	return p.updateExisting(ctx, obs, card)
}

// insertNew creates a record on first sighting. The core never fabricates
// identity: without creation attributes the observation is skipped.
func (p *Processor) insertNew(ctx context.Context, obs Observation) (outcome, error) {
	if obs.ProductID == nil || obs.Name == nil || obs.GroupID == nil {
		return outcomeSkipped, nil
	}

	price := *obs.Price
	history := pricing.History{}
	history.Set(obs.Date, price)

	finish := "normal"
	if obs.Finish != nil && *obs.Finish != "" {
		finish = *obs.Finish
	}

	card := storage.CardRecord{
		Key:          obs.Key,
		ProductID:    *obs.ProductID,
		GroupID:      *obs.GroupID,
		Name:         *obs.Name,
		CleanName:    obs.CleanName,
		Rarity:       obs.Rarity,
		Number:       obs.Number,
		ImageURL:     obs.ImageURL,
		URL:          obs.URL,
		Finish:       finish,
		CurrentPrice: price,
		LowPrice:     obs.LowPrice,
		HighPrice:    obs.HighPrice,
		History:      history,
		IsEligible:   pricing.Eligible(price, obs.Rarity, obs.Number),
		UpdatedAt:    p.now().UTC(),
	}

	if err := p.store.InsertCard(ctx, card); err != nil {
		return outcomeSkipped, err
	}
	return outcomeInserted, nil
}

func (p *Processor) updateExisting(ctx context.Context, obs Observation, card storage.CardRecord) (outcome, error) {
	price := *obs.Price

	// Comparators are resolved against the history as it stood before this
	// write, anchored on the observation's own date. The appended price can
	// never be selected as its own comparator.
	changes := pricing.ComputeChangeSet(price, card.History, obs.Date)

	history := card.History.Clone()
	history.Set(obs.Date, price)

	rarity := coalesce(obs.Rarity, card.Rarity)
	number := coalesce(obs.Number, card.Number)

	update := storage.CardUpdate{
		Key:          obs.Key,
		Name:         obs.Name,
		CleanName:    obs.CleanName,
		Rarity:       obs.Rarity,
		Number:       obs.Number,
		ImageURL:     obs.ImageURL,
		URL:          obs.URL,
		GroupID:      obs.GroupID,
		CurrentPrice: price,
		LowPrice:     obs.LowPrice,
		HighPrice:    obs.HighPrice,
		History:      history,
		Changes:      changes,
		IsEligible:   pricing.Eligible(price, rarity, number),
		UpdatedAt:    p.now().UTC(),
	}

	if err := p.store.UpdateCard(ctx, update); err != nil {
		return outcomeSkipped, err
	}
	return outcomeUpdated, nil
}

func coalesce(incoming, existing *string) *string {
	if incoming != nil {
		return incoming
	}
	return existing
}
