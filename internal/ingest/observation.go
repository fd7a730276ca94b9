package ingest

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Observation is one incoming price sighting for a card variant. Key, Date,
// and Price are required; everything else is optional and only consulted
// when present.
type Observation struct {
	Key   string
	Date  time.Time
	Price *decimal.Decimal

	LowPrice  *decimal.Decimal
	HighPrice *decimal.Decimal

	ProductID *int64
	GroupID   *int64
	Name      *string
	CleanName *string
	Rarity    *string
	Number    *string
	ImageURL  *string
	URL       *string
	Finish    *string
}

// MakeKey derives the stable card key from a product identifier and its
// finish label ("normal", "foil", ...). Immutable once created.
func MakeKey(productID int64, finish string) string {
	finish = strings.ToLower(strings.TrimSpace(finish))
	if finish == "" {
		finish = "normal"
	}
	return fmt.Sprintf("%d-%s", productID, finish)
}

// Counts aggregates one batch's outcomes. No per-observation detail is
// reported, only totals.
type Counts struct {
	Updated  int
	Inserted int
	Skipped  int
	Errors   int
}

// Add merges another chunk's counts into c.
func (c *Counts) Add(other Counts) {
	c.Updated += other.Updated
	c.Inserted += other.Inserted
	c.Skipped += other.Skipped
	c.Errors += other.Errors
}

// Total returns the number of observations accounted for.
func (c Counts) Total() int {
	return c.Updated + c.Inserted + c.Skipped + c.Errors
}
