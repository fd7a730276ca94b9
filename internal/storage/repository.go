package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"card-price-tracker/internal/pricing"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
	// ErrNotFound indicates no card exists for the requested key.
	ErrNotFound = errors.New("storage: card not found")
)

const cardColumns = `
        key,
        product_id,
        group_id,
        name,
        clean_name,
        rarity,
        number,
        image_url,
        url,
        finish,
        current_price,
        low_price,
        high_price,
        history,
        chg_1d_pct, chg_1d_abs,
        chg_3d_pct, chg_3d_abs,
        chg_7d_pct, chg_7d_abs,
        chg_1m_pct, chg_1m_abs,
        chg_3m_pct, chg_3m_abs,
        chg_6m_pct, chg_6m_abs,
        chg_1y_pct, chg_1y_abs,
        is_eligible,
        updated_at,
        created_at`

const (
	getCardByKeySQL = `SELECT` + cardColumns + `
    FROM cards
    WHERE key = $1;`

	insertCardSQL = `INSERT INTO cards (
        key,
        product_id,
        group_id,
        name,
        clean_name,
        rarity,
        number,
        image_url,
        url,
        finish,
        current_price,
        low_price,
        high_price,
        history,
        is_eligible,
        updated_at
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16
    );`

	updateCardSQL = `UPDATE cards
    SET
        name        = COALESCE($2, name),
        clean_name  = COALESCE($3, clean_name),
        rarity      = COALESCE($4, rarity),
        number      = COALESCE($5, number),
        image_url   = COALESCE($6, image_url),
        url         = COALESCE($7, url),
        group_id    = COALESCE($8, group_id),
        current_price = $9,
        low_price   = COALESCE($10, low_price),
        high_price  = COALESCE($11, high_price),
        history     = $12,
        chg_1d_pct = $13, chg_1d_abs = $14,
        chg_3d_pct = $15, chg_3d_abs = $16,
        chg_7d_pct = $17, chg_7d_abs = $18,
        chg_1m_pct = $19, chg_1m_abs = $20,
        chg_3m_pct = $21, chg_3m_abs = $22,
        chg_6m_pct = $23, chg_6m_abs = $24,
        chg_1y_pct = $25, chg_1y_abs = $26,
        is_eligible = $27,
        updated_at  = $28
    WHERE key = $1;`

	claimStaleSQL = `SELECT` + cardColumns + `
    FROM cards
    WHERE updated_at < $1
    ORDER BY updated_at
    LIMIT $2
    FOR UPDATE SKIP LOCKED;`

	updateStaleMetricsSQL = `UPDATE cards
    SET
        chg_1d_pct = $2, chg_1d_abs = $3,
        chg_3d_pct = $4, chg_3d_abs = $5,
        chg_7d_pct = $6, chg_7d_abs = $7,
        chg_1m_pct = $8, chg_1m_abs = $9,
        chg_3m_pct = $10, chg_3m_abs = $11,
        chg_6m_pct = $12, chg_6m_abs = $13,
        chg_1y_pct = $14, chg_1y_abs = $15,
        updated_at = $16
    WHERE key = $1;`

	listRecentCardsSQL = `SELECT` + cardColumns + `
    FROM cards
    ORDER BY updated_at DESC
    LIMIT $1;`

	countCardsSQL = `SELECT COUNT(*) FROM cards;`

	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`
)

// CardStore defines the operations the ingestion processor needs.
type CardStore interface {
	GetByKey(ctx context.Context, key string) (CardRecord, error)
	InsertCard(ctx context.Context, card CardRecord) error
	UpdateCard(ctx context.Context, update CardUpdate) error
}

// MetricsFunc recomputes a claimed card's metrics during stale recalculation.
type MetricsFunc func(card CardRecord) pricing.ChangeSet

// StaleCardStore claims stale rows without blocking and rewrites their metrics.
type StaleCardStore interface {
	ClaimAndUpdateStale(ctx context.Context, cutoff time.Time, limit int, now time.Time, compute MetricsFunc) (int, error)
}

// CardBrowser exposes read-only access for the CLI surfaces.
type CardBrowser interface {
	GetByKey(ctx context.Context, key string) (CardRecord, error)
	ListRecentCards(ctx context.Context, limit int) ([]CardRecord, error)
	CountCards(ctx context.Context) (int64, error)
}

// AdvisoryLocker exposes advisory lock helpers.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

// Store aggregates access to the cards table.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wires a pgx pool into a Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// TryAdvisoryLock attempts to acquire a postgres advisory lock and returns a release func.
func (s *Store) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, false, err
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire connection: %w", err)
	}

	var acquired bool
	if err := conn.QueryRow(ctx, tryAdvisoryLockSQL, key).Scan(&acquired); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !acquired {
		conn.Release()
		return nil, false, nil
	}

	unlock := func() {
		ctxUnlock, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if _, err := conn.Exec(ctxUnlock, advisoryUnlockSQL, key); err != nil {
			// unlock best effort; log omitted in storage package
		}
		conn.Release()
	}
	return unlock, true, nil
}

// GetByKey loads one card row.
func (s *Store) GetByKey(ctx context.Context, key string) (CardRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return CardRecord{}, err
	}

	card, scanErr := scanCard(pool.QueryRow(ctx, getCardByKeySQL, key))
	if scanErr != nil {
		if errors.Is(scanErr, pgx.ErrNoRows) {
			return CardRecord{}, ErrNotFound
		}
		return CardRecord{}, fmt.Errorf("get card %s: %w", key, scanErr)
	}
	return card, nil
}

// InsertCard persists a newly sighted card. Metrics stay null: a single
// history point has no comparator.
func (s *Store) InsertCard(ctx context.Context, card CardRecord) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	historyJSON, err := json.Marshal(card.History)
	if err != nil {
		return fmt.Errorf("marshal history: %w", err)
	}

	_, execErr := pool.Exec(ctx, insertCardSQL,
		card.Key,
		card.ProductID,
		card.GroupID,
		card.Name,
		card.CleanName,
		card.Rarity,
		card.Number,
		card.ImageURL,
		card.URL,
		card.Finish,
		card.CurrentPrice.String(),
		nullableDecimal(card.LowPrice),
		nullableDecimal(card.HighPrice),
		historyJSON,
		card.IsEligible,
		card.UpdatedAt,
	)
	if execErr != nil {
		return fmt.Errorf("insert card %s: %w", card.Key, execErr)
	}
	return nil
}

// UpdateCard applies one write-back: coalesce-on-null for descriptive
// attributes, full replace for price, history, and metrics.
func (s *Store) UpdateCard(ctx context.Context, update CardUpdate) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	historyJSON, err := json.Marshal(update.History)
	if err != nil {
		return fmt.Errorf("marshal history: %w", err)
	}

	args := []any{
		update.Key,
		update.Name,
		update.CleanName,
		update.Rarity,
		update.Number,
		update.ImageURL,
		update.URL,
		update.GroupID,
		update.CurrentPrice.String(),
		nullableDecimal(update.LowPrice),
		nullableDecimal(update.HighPrice),
		historyJSON,
	}
	args = append(args, changeSetArgs(update.Changes)...)
	args = append(args, update.IsEligible, update.UpdatedAt)

	cmdTag, execErr := pool.Exec(ctx, updateCardSQL, args...)
	if execErr != nil {
		return fmt.Errorf("update card %s: %w", update.Key, execErr)
	}
	if cmdTag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ClaimAndUpdateStale selects up to limit rows with updated_at before cutoff,
// skipping rows locked by a concurrent claimant, recomputes their metrics via
// compute, and advances updated_at to now for every touched row. The
// watermark advance is what guarantees repeated invocation terminates.
func (s *Store) ClaimAndUpdateStale(ctx context.Context, cutoff time.Time, limit int, now time.Time, compute MetricsFunc) (int, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin stale claim: %w", err)
	}
	defer tx.Rollback(ctx)

	rows, queryErr := tx.Query(ctx, claimStaleSQL, cutoff, limit)
	if queryErr != nil {
		return 0, fmt.Errorf("claim stale cards: %w", queryErr)
	}

	claimed := make([]CardRecord, 0, limit)
	for rows.Next() {
		card, scanErr := scanCard(rows)
		if scanErr != nil {
			rows.Close()
			return 0, scanErr
		}
		claimed = append(claimed, card)
	}
	rows.Close()
	if rows.Err() != nil {
		return 0, rows.Err()
	}

	for _, card := range claimed {
		args := []any{card.Key}
		args = append(args, changeSetArgs(compute(card))...)
		args = append(args, now)
		if _, execErr := tx.Exec(ctx, updateStaleMetricsSQL, args...); execErr != nil {
			return 0, fmt.Errorf("update stale card %s: %w", card.Key, execErr)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit stale claim: %w", err)
	}
	return len(claimed), nil
}

// ListRecentCards lists the most recently touched cards.
func (s *Store) ListRecentCards(ctx context.Context, limit int) ([]CardRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentCardsSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent cards: %w", queryErr)
	}
	defer rows.Close()

	cards := make([]CardRecord, 0, limit)
	for rows.Next() {
		card, scanErr := scanCard(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		cards = append(cards, card)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return cards, nil
}

// CountCards counts stored cards.
func (s *Store) CountCards(ctx context.Context) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}
	var count int64
	if scanErr := pool.QueryRow(ctx, countCardsSQL).Scan(&count); scanErr != nil {
		return 0, fmt.Errorf("count cards: %w", scanErr)
	}
	return count, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCard(row rowScanner) (CardRecord, error) {
	var (
		key         string
		productID   int64
		groupID     int64
		name        string
		cleanName   sql.NullString
		rarity      sql.NullString
		number      sql.NullString
		imageURL    sql.NullString
		url         sql.NullString
		finish      string
		priceStr    string
		lowStr      sql.NullString
		highStr     sql.NullString
		historyJSON []byte
		metrics     [14]sql.NullString
		isEligible  bool
		updatedAt   time.Time
		createdAt   time.Time
	)

	dest := []any{
		&key, &productID, &groupID, &name, &cleanName, &rarity, &number,
		&imageURL, &url, &finish, &priceStr, &lowStr, &highStr, &historyJSON,
	}
	for i := range metrics {
		dest = append(dest, &metrics[i])
	}
	dest = append(dest, &isEligible, &updatedAt, &createdAt)

	if err := row.Scan(dest...); err != nil {
		return CardRecord{}, err
	}

	price, err := decimal.NewFromString(priceStr)
	if err != nil {
		return CardRecord{}, fmt.Errorf("parse current price: %w", err)
	}

	var history pricing.History
	if len(historyJSON) > 0 {
		if err := json.Unmarshal(historyJSON, &history); err != nil {
			return CardRecord{}, fmt.Errorf("parse history: %w", err)
		}
	} else {
		history = pricing.History{}
	}

	card := CardRecord{
		Key:          key,
		ProductID:    productID,
		GroupID:      groupID,
		Name:         name,
		CleanName:    nullString(cleanName),
		Rarity:       nullString(rarity),
		Number:       nullString(number),
		ImageURL:     nullString(imageURL),
		URL:          nullString(url),
		Finish:       finish,
		CurrentPrice: price,
		History:      history,
		IsEligible:   isEligible,
		UpdatedAt:    updatedAt,
		CreatedAt:    createdAt,
	}

	card.LowPrice, err = nullDecimal(lowStr)
	if err != nil {
		return CardRecord{}, fmt.Errorf("parse low price: %w", err)
	}
	card.HighPrice, err = nullDecimal(highStr)
	if err != nil {
		return CardRecord{}, fmt.Errorf("parse high price: %w", err)
	}

	slots := card.Changes.Slots()
	for i, slot := range slots {
		pct, convErr := nullDecimal(metrics[2*i])
		if convErr != nil {
			return CardRecord{}, fmt.Errorf("parse metric pct: %w", convErr)
		}
		abs, convErr := nullDecimal(metrics[2*i+1])
		if convErr != nil {
			return CardRecord{}, fmt.Errorf("parse metric abs: %w", convErr)
		}
		slot.Pct = pct
		slot.Abs = abs
	}

	return card, nil
}

func changeSetArgs(cs pricing.ChangeSet) []any {
	args := make([]any, 0, 14)
	for _, slot := range cs.Slots() {
		args = append(args, nullableDecimal(slot.Pct), nullableDecimal(slot.Abs))
	}
	return args
}

func nullableDecimal(d *decimal.Decimal) any {
	if d == nil {
		return nil
	}
	return d.String()
}

func nullDecimal(v sql.NullString) (*decimal.Decimal, error) {
	if !v.Valid {
		return nil, nil
	}
	parsed, err := decimal.NewFromString(v.String)
	if err != nil {
		return nil, err
	}
	return &parsed, nil
}

func nullString(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	value := v.String
	return &value
}
