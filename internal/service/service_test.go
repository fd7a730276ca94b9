package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"card-price-tracker/internal/alerting"
	"card-price-tracker/internal/config"
	"card-price-tracker/internal/ingest"
	"card-price-tracker/internal/pricing"
	"card-price-tracker/internal/stale"
	"card-price-tracker/internal/storage"
)

// fakeStore backs both the ingestion processor and the staleness job.
type fakeStore struct {
	mu    sync.Mutex
	cards map[string]*storage.CardRecord
}

func newFakeStore() *fakeStore {
	return &fakeStore{cards: make(map[string]*storage.CardRecord)}
}

func (f *fakeStore) GetByKey(ctx context.Context, key string) (storage.CardRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	card, ok := f.cards[key]
	if !ok {
		return storage.CardRecord{}, storage.ErrNotFound
	}
	return *card, nil
}

func (f *fakeStore) InsertCard(ctx context.Context, card storage.CardRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	stored := card
	f.cards[card.Key] = &stored
	return nil
}

func (f *fakeStore) UpdateCard(ctx context.Context, update storage.CardUpdate) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	card, ok := f.cards[update.Key]
	if !ok {
		return storage.ErrNotFound
	}
	card.CurrentPrice = update.CurrentPrice
	card.History = update.History
	card.Changes = update.Changes
	card.IsEligible = update.IsEligible
	card.UpdatedAt = update.UpdatedAt
	return nil
}

func (f *fakeStore) ClaimAndUpdateStale(ctx context.Context, cutoff time.Time, limit int, now time.Time, compute storage.MetricsFunc) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	count := 0
	for _, card := range f.cards {
		if count >= limit {
			break
		}
		if card.UpdatedAt.Before(cutoff) {
			card.Changes = compute(*card)
			card.UpdatedAt = now
			count++
		}
	}
	return count, nil
}

type staticFeed struct {
	observations []ingest.Observation
	err          error
}

func (s *staticFeed) FetchDaily(ctx context.Context, date time.Time) ([]ingest.Observation, error) {
	return s.observations, s.err
}

type captureNotifier struct {
	digest *alerting.Digest
}

func (c *captureNotifier) Notify(ctx context.Context, digest alerting.Digest) error {
	c.digest = &digest
	return nil
}

func testConfig() *config.Config {
	return &config.Config{
		Ingest: config.IngestConfig{ChunkSize: 100, RetryAttempts: 2, RetryBackoff: time.Millisecond},
		Stale:  config.StaleConfig{BatchSize: 10, MaxAge: 24 * time.Hour},
		Alerting: config.AlertingConfig{
			Enabled:  true,
			Channels: []string{"telegram"},
		},
	}
}

func decRef(s string) *decimal.Decimal {
	d := decimal.RequireFromString(s)
	return &d
}

func intRef(v int64) *int64 { return &v }

func strRef(s string) *string { return &s }

func TestProcessDayIngestsAndRecalculates(t *testing.T) {
	store := newFakeStore()
	cfg := testConfig()

	// A card that today's feed will not mention; stale recalc must pick it up.
	stalePast := time.Now().UTC().Add(-48 * time.Hour)
	store.cards["9-normal"] = &storage.CardRecord{
		Key:          "9-normal",
		CurrentPrice: decimal.RequireFromString("10"),
		History:      pricing.History{pricing.DayKey(time.Now().UTC().AddDate(0, 0, -1)): decimal.RequireFromString("8")},
		UpdatedAt:    stalePast,
	}

	bucket := time.Now().UTC().Truncate(24 * time.Hour)
	obs := ingest.Observation{
		Key:       "42-normal",
		Date:      bucket,
		Price:     decRef("20"),
		ProductID: intRef(42),
		GroupID:   intRef(7),
		Name:      strRef("Test Card"),
	}

	feed := &staticFeed{observations: []ingest.Observation{obs}}
	notifier := &captureNotifier{}

	runner := ingest.NewRunner(ingest.NewProcessor(store, zerolog.Nop()), ingest.Options{
		ChunkSize:     cfg.Ingest.ChunkSize,
		RetryAttempts: cfg.Ingest.RetryAttempts,
		RetryBackoff:  cfg.Ingest.RetryBackoff,
	}, zerolog.Nop())
	recalc := stale.New(store, zerolog.Nop())

	svc := New(cfg, nil, feed, runner, recalc, nil, notifier, zerolog.Nop())

	if err := svc.ProcessDay(context.Background(), bucket); err != nil {
		t.Fatalf("ProcessDay 不应失败: %v", err)
	}

	if _, ok := store.cards["42-normal"]; !ok {
		t.Fatal("新卡应被插入")
	}

	staleCard := store.cards["9-normal"]
	if staleCard.UpdatedAt.Equal(stalePast) {
		t.Fatal("未被摄入的卡应由 stale 任务推进水位")
	}
	if staleCard.Changes.Day.Abs == nil {
		t.Fatal("stale 任务应以当前时刻重算指标")
	}

	if notifier.digest == nil {
		t.Fatal("应发送日报")
	}
	if notifier.digest.Counts.Inserted != 1 {
		t.Fatalf("日报应包含 inserted=1, 实际 %+v", notifier.digest.Counts)
	}
	if notifier.digest.StaleUpdated != 1 {
		t.Fatalf("日报应包含 stale=1, 实际 %d", notifier.digest.StaleUpdated)
	}
}

func TestProcessDayFeedFailureSurfaces(t *testing.T) {
	store := newFakeStore()
	cfg := testConfig()

	feed := &staticFeed{err: errors.New("archive not ready")}
	runner := ingest.NewRunner(ingest.NewProcessor(store, zerolog.Nop()), ingest.Options{}, zerolog.Nop())

	svc := New(cfg, nil, feed, runner, stale.New(store, zerolog.Nop()), nil, nil, zerolog.Nop())

	if err := svc.ProcessDay(context.Background(), time.Now()); err == nil {
		t.Fatal("归档拉取失败应向上返回")
	}
}
