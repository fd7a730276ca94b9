package stale

import (
	"context"
	"sort"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"card-price-tracker/internal/pricing"
	"card-price-tracker/internal/storage"
)

// memStaleStore reproduces the claim-and-update contract in memory:
// select up to limit rows below the cutoff, apply compute, advance the
// watermark for every claimed row.
type memStaleStore struct {
	cards map[string]*storage.CardRecord
	calls int
}

func (m *memStaleStore) ClaimAndUpdateStale(ctx context.Context, cutoff time.Time, limit int, now time.Time, compute storage.MetricsFunc) (int, error) {
	m.calls++

	keys := make([]string, 0, len(m.cards))
	for key, card := range m.cards {
		if card.UpdatedAt.Before(cutoff) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	if len(keys) > limit {
		keys = keys[:limit]
	}

	for _, key := range keys {
		card := m.cards[key]
		card.Changes = compute(*card)
		card.UpdatedAt = now
	}
	return len(keys), nil
}

func staleCard(key string, price string, history pricing.History, updatedAt time.Time) *storage.CardRecord {
	return &storage.CardRecord{
		Key:          key,
		CurrentPrice: decimal.RequireFromString(price),
		History:      history,
		UpdatedAt:    updatedAt,
	}
}

func TestRecalculateTerminates(t *testing.T) {
	cutoff := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	old := cutoff.Add(-48 * time.Hour)

	store := &memStaleStore{cards: map[string]*storage.CardRecord{}}
	for _, key := range []string{"a", "b", "c", "d", "e"} {
		store.cards[key] = staleCard(key, "10", pricing.History{}, old)
	}

	r := New(store, zerolog.Nop())

	total := 0
	for i := 0; i < 10; i++ {
		updated, err := r.Recalculate(context.Background(), cutoff, 2)
		if err != nil {
			t.Fatal(err)
		}
		if updated == 0 {
			break
		}
		total += updated
	}

	if total != 5 {
		t.Fatalf("固定 cutoff 下应恰好处理 5 条后归零, 实际 %d", total)
	}
	for key, card := range store.cards {
		if card.UpdatedAt.Before(cutoff) {
			t.Fatalf("记录 %s 的 updated_at 未推进到 cutoff 之后", key)
		}
	}
}

func TestRecalculateAnchorsOnNow(t *testing.T) {
	now := time.Date(2025, 6, 10, 12, 0, 0, 0, time.UTC)
	cutoff := now.Add(-time.Hour)

	history := pricing.History{
		"2025-06-09": decimal.RequireFromString("8"), // offset 1, 1d window
		"2025-06-03": decimal.RequireFromString("5"), // offset 7, 7d window
	}
	store := &memStaleStore{cards: map[string]*storage.CardRecord{
		"a": staleCard("a", "10", history, now.Add(-24*time.Hour)),
	}}

	r := New(store, zerolog.Nop())
	r.now = func() time.Time { return now }

	updated, err := r.Recalculate(context.Background(), cutoff, 10)
	if err != nil {
		t.Fatal(err)
	}
	if updated != 1 {
		t.Fatalf("应更新 1 条, 实际 %d", updated)
	}

	card := store.cards["a"]
	if card.Changes.Day.Abs == nil || !card.Changes.Day.Abs.Equal(decimal.RequireFromString("2")) {
		t.Fatalf("1d 应以当前时刻为锚点解析 06-09, abs=2, 实际 %v", card.Changes.Day.Abs)
	}
	if card.Changes.Week.Abs == nil || !card.Changes.Week.Abs.Equal(decimal.RequireFromString("5")) {
		t.Fatalf("7d 应解析 06-03, abs=5, 实际 %v", card.Changes.Week.Abs)
	}
	if !card.UpdatedAt.Equal(now) {
		t.Fatal("水位必须推进到处理时间")
	}
}

func TestRecalculateAllLoopsUntilZero(t *testing.T) {
	cutoff := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	old := cutoff.Add(-time.Hour)

	store := &memStaleStore{cards: map[string]*storage.CardRecord{}}
	for _, key := range []string{"a", "b", "c"} {
		store.cards[key] = staleCard(key, "10", pricing.History{}, old)
	}

	r := New(store, zerolog.Nop())
	total, err := r.RecalculateAll(context.Background(), cutoff, 1)
	if err != nil {
		t.Fatal(err)
	}
	if total != 3 {
		t.Fatalf("应累计处理 3 条, 实际 %d", total)
	}
	// 3 batches of one, plus the terminating empty batch.
	if store.calls != 4 {
		t.Fatalf("期望 4 次调用, 实际 %d", store.calls)
	}
}

func TestRecalculateRejectsBadBatchSize(t *testing.T) {
	r := New(&memStaleStore{cards: map[string]*storage.CardRecord{}}, zerolog.Nop())
	if _, err := r.Recalculate(context.Background(), time.Now(), 0); err == nil {
		t.Fatal("batch size 0 应报错")
	}
}
