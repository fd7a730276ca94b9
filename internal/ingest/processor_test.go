package ingest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"card-price-tracker/internal/storage"
)

// memStore mirrors the repository semantics in memory: coalesce-on-null for
// descriptive attributes, full replace for price, history, and metrics.
type memStore struct {
	cards  map[string]storage.CardRecord
	getErr map[string]error
	updErr map[string]error
}

func newMemStore() *memStore {
	return &memStore{
		cards:  make(map[string]storage.CardRecord),
		getErr: make(map[string]error),
		updErr: make(map[string]error),
	}
}

func (m *memStore) GetByKey(ctx context.Context, key string) (storage.CardRecord, error) {
	if err, ok := m.getErr[key]; ok {
		return storage.CardRecord{}, err
	}
	card, ok := m.cards[key]
	if !ok {
		return storage.CardRecord{}, storage.ErrNotFound
	}
	return card, nil
}

func (m *memStore) InsertCard(ctx context.Context, card storage.CardRecord) error {
	card.CreatedAt = card.UpdatedAt
	m.cards[card.Key] = card
	return nil
}

func (m *memStore) UpdateCard(ctx context.Context, update storage.CardUpdate) error {
	if err, ok := m.updErr[update.Key]; ok {
		return err
	}
	card, ok := m.cards[update.Key]
	if !ok {
		return storage.ErrNotFound
	}

	if update.Name != nil {
		card.Name = *update.Name
	}
	if update.CleanName != nil {
		card.CleanName = update.CleanName
	}
	if update.Rarity != nil {
		card.Rarity = update.Rarity
	}
	if update.Number != nil {
		card.Number = update.Number
	}
	if update.ImageURL != nil {
		card.ImageURL = update.ImageURL
	}
	if update.URL != nil {
		card.URL = update.URL
	}
	if update.GroupID != nil {
		card.GroupID = *update.GroupID
	}
	if update.LowPrice != nil {
		card.LowPrice = update.LowPrice
	}
	if update.HighPrice != nil {
		card.HighPrice = update.HighPrice
	}

	card.CurrentPrice = update.CurrentPrice
	card.History = update.History
	card.Changes = update.Changes
	card.IsEligible = update.IsEligible
	card.UpdatedAt = update.UpdatedAt

	m.cards[update.Key] = card
	return nil
}

func strPtr(s string) *string { return &s }

func intPtr(v int64) *int64 { return &v }

func decPtr(s string) *decimal.Decimal {
	d := decimal.RequireFromString(s)
	return &d
}

func testDay(s string) time.Time {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return t
}

func newObservation(key, date, price string) Observation {
	return Observation{Key: key, Date: testDay(date), Price: decPtr(price)}
}

func creationObservation(key, date, price string) Observation {
	obs := newObservation(key, date, price)
	obs.ProductID = intPtr(42)
	obs.GroupID = intPtr(7)
	obs.Name = strPtr("Test Card")
	return obs
}

func TestProcessBatchValidationSkip(t *testing.T) {
	store := newMemStore()
	p := NewProcessor(store, zerolog.Nop())

	counts, err := p.ProcessBatch(context.Background(), []Observation{
		{Key: "", Date: testDay("2025-01-01"), Price: decPtr("1")},
		{Key: "42-normal", Price: decPtr("1")},
		{Key: "42-normal", Date: testDay("2025-01-01")},
	})
	if err != nil {
		t.Fatalf("批处理不应返回错误: %v", err)
	}
	if counts.Skipped != 3 || counts.Total() != 3 {
		t.Fatalf("缺少必填字段应全部 skipped, 实际 %+v", counts)
	}
}

func TestProcessBatchCreationGating(t *testing.T) {
	store := newMemStore()
	p := NewProcessor(store, zerolog.Nop())

	obs := newObservation("42-normal", "2025-01-01", "9.99")
	obs.ProductID = intPtr(42) // name and group still missing

	counts, err := p.ProcessBatch(context.Background(), []Observation{obs})
	if err != nil {
		t.Fatalf("批处理不应返回错误: %v", err)
	}
	if counts.Skipped != 1 || counts.Inserted != 0 {
		t.Fatalf("缺少创建属性的未知 key 应 skipped 而非 inserted, 实际 %+v", counts)
	}
	if len(store.cards) != 0 {
		t.Fatal("核心不得凭空创建 identity")
	}
}

func TestProcessBatchInsertFirstSighting(t *testing.T) {
	store := newMemStore()
	p := NewProcessor(store, zerolog.Nop())

	obs := creationObservation("42-normal", "2025-01-01", "20")
	obs.Rarity = strPtr("Rare")

	counts, err := p.ProcessBatch(context.Background(), []Observation{obs})
	if err != nil {
		t.Fatalf("批处理不应返回错误: %v", err)
	}
	if counts.Inserted != 1 {
		t.Fatalf("首次出现应 inserted, 实际 %+v", counts)
	}

	card := store.cards["42-normal"]
	if len(card.History) != 1 {
		t.Fatalf("新记录历史应只有一个点, 实际 %d", len(card.History))
	}
	if !card.IsEligible {
		t.Fatal("价格 20 且有 rarity 应 eligible")
	}
	// A single point has no comparator; metric computation is skipped.
	if card.Changes.Day.Pct != nil || card.Changes.Year.Abs != nil {
		t.Fatal("插入时不应计算指标")
	}
}

func TestProcessBatchEndToEndScenario(t *testing.T) {
	store := newMemStore()
	p := NewProcessor(store, zerolog.Nop())
	ctx := context.Background()

	if _, err := p.ProcessBatch(ctx, []Observation{creationObservation("42-normal", "2025-01-01", "10")}); err != nil {
		t.Fatal(err)
	}
	if _, err := p.ProcessBatch(ctx, []Observation{newObservation("42-normal", "2025-01-08", "12")}); err != nil {
		t.Fatal(err)
	}

	counts, err := p.ProcessBatch(ctx, []Observation{newObservation("42-normal", "2025-01-11", "13")})
	if err != nil {
		t.Fatal(err)
	}
	if counts.Updated != 1 {
		t.Fatalf("已知 key 应 updated, 实际 %+v", counts)
	}

	card := store.cards["42-normal"]

	// 1d window [1,2]: 01-10/01-09 missing.
	if card.Changes.Day.Abs != nil {
		t.Fatal("1d 指标应为 null")
	}
	// 3d window [3,5]: comparator 12 at offset 3.
	if card.Changes.ThreeDay.Abs == nil || !card.Changes.ThreeDay.Abs.Equal(decimal.RequireFromString("1")) {
		t.Fatalf("3d 绝对变化应为 1, 实际 %v", card.Changes.ThreeDay.Abs)
	}
	// 7d window [7,10]: comparator 10 at offset 10 (2025-01-01).
	if card.Changes.Week.Abs == nil || !card.Changes.Week.Abs.Equal(decimal.RequireFromString("3")) {
		t.Fatalf("7d 绝对变化应为 3, 实际 %v", card.Changes.Week.Abs)
	}
	if card.Changes.Week.Pct == nil || !card.Changes.Week.Pct.Equal(decimal.RequireFromString("30")) {
		t.Fatalf("7d 百分比变化应为 30, 实际 %v", card.Changes.Week.Pct)
	}

	if len(card.History) != 3 {
		t.Fatalf("历史应有 3 个点, 实际 %d", len(card.History))
	}
}

func TestProcessBatchIdempotentSameDay(t *testing.T) {
	store := newMemStore()
	p := NewProcessor(store, zerolog.Nop())
	ctx := context.Background()

	if _, err := p.ProcessBatch(ctx, []Observation{creationObservation("42-normal", "2025-01-01", "10")}); err != nil {
		t.Fatal(err)
	}

	obs := newObservation("42-normal", "2025-01-02", "11")
	if _, err := p.ProcessBatch(ctx, []Observation{obs}); err != nil {
		t.Fatal(err)
	}
	before := store.cards["42-normal"]

	if _, err := p.ProcessBatch(ctx, []Observation{obs}); err != nil {
		t.Fatal(err)
	}
	after := store.cards["42-normal"]

	if len(after.History) != len(before.History) {
		t.Fatalf("同日重复摄入不应追加历史: %d -> %d", len(before.History), len(after.History))
	}
	if !after.History["2025-01-02"].Equal(decimal.RequireFromString("11")) {
		t.Fatalf("history[date] 应保持标量价格 11, 实际 %s", after.History["2025-01-02"])
	}
	if !after.CurrentPrice.Equal(before.CurrentPrice) || after.IsEligible != before.IsEligible {
		t.Fatal("重复摄入不应改变其他字段")
	}
}

func TestProcessBatchSameKeyOrdering(t *testing.T) {
	store := newMemStore()
	p := NewProcessor(store, zerolog.Nop())
	ctx := context.Background()

	counts, err := p.ProcessBatch(ctx, []Observation{
		creationObservation("42-normal", "2025-01-01", "10"),
		newObservation("42-normal", "2025-01-02", "15"),
	})
	if err != nil {
		t.Fatal(err)
	}
	if counts.Inserted != 1 || counts.Updated != 1 {
		t.Fatalf("同批次同 key 应按序生效, 实际 %+v", counts)
	}

	card := store.cards["42-normal"]
	// The second observation saw the first one's write: 1d window [1,2]
	// resolves 2025-01-01.
	if card.Changes.Day.Abs == nil || !card.Changes.Day.Abs.Equal(decimal.RequireFromString("5")) {
		t.Fatalf("第二条观测应看到第一条的历史, 1d abs 应为 5, 实际 %v", card.Changes.Day.Abs)
	}
}

func TestProcessBatchAttributeMerge(t *testing.T) {
	store := newMemStore()
	p := NewProcessor(store, zerolog.Nop())
	ctx := context.Background()

	obs := creationObservation("42-normal", "2025-01-01", "20")
	obs.Rarity = strPtr("Rare")
	if _, err := p.ProcessBatch(ctx, []Observation{obs}); err != nil {
		t.Fatal(err)
	}

	// Incoming null rarity must not erase the stored one; eligibility still
	// sees the merged value.
	update := newObservation("42-normal", "2025-01-02", "16")
	if _, err := p.ProcessBatch(ctx, []Observation{update}); err != nil {
		t.Fatal(err)
	}

	card := store.cards["42-normal"]
	if card.Rarity == nil || *card.Rarity != "Rare" {
		t.Fatalf("null 输入不应覆盖已有属性, 实际 %v", card.Rarity)
	}
	if !card.IsEligible {
		t.Fatal("合并后的属性应参与 eligibility 判定")
	}

	// A non-null incoming value wins.
	update = newObservation("42-normal", "2025-01-03", "16")
	update.Rarity = strPtr("Mythic")
	if _, err := p.ProcessBatch(ctx, []Observation{update}); err != nil {
		t.Fatal(err)
	}
	if card := store.cards["42-normal"]; card.Rarity == nil || *card.Rarity != "Mythic" {
		t.Fatalf("非空输入应覆盖旧值, 实际 %v", card.Rarity)
	}
}

func TestProcessBatchPerItemFailureIsolation(t *testing.T) {
	store := newMemStore()
	p := NewProcessor(store, zerolog.Nop())
	ctx := context.Background()

	if _, err := p.ProcessBatch(ctx, []Observation{
		creationObservation("1-normal", "2025-01-01", "10"),
		creationObservation("2-normal", "2025-01-01", "10"),
	}); err != nil {
		t.Fatal(err)
	}

	store.updErr["1-normal"] = errors.New("constraint violation")

	counts, err := p.ProcessBatch(ctx, []Observation{
		newObservation("1-normal", "2025-01-02", "11"),
		newObservation("2-normal", "2025-01-02", "11"),
	})
	if err != nil {
		t.Fatalf("单条失败不应中止批处理: %v", err)
	}
	if counts.Errors != 1 || counts.Updated != 1 {
		t.Fatalf("应 1 errors + 1 updated, 实际 %+v", counts)
	}
}

func TestProcessBatchTransientAborts(t *testing.T) {
	store := newMemStore()
	p := NewProcessor(store, zerolog.Nop())

	store.getErr["1-normal"] = context.DeadlineExceeded

	_, err := p.ProcessBatch(context.Background(), []Observation{
		newObservation("1-normal", "2025-01-02", "11"),
	})
	if err == nil {
		t.Fatal("瞬态故障应中止 chunk 供上层重试")
	}
}

func TestMakeKey(t *testing.T) {
	if got := MakeKey(12345, "Foil"); got != "12345-foil" {
		t.Fatalf("key 生成错误: %s", got)
	}
	if got := MakeKey(12345, ""); got != "12345-normal" {
		t.Fatalf("缺省 finish 应为 normal: %s", got)
	}
}
