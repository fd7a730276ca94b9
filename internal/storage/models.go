package storage

import (
	"time"

	"github.com/shopspring/decimal"

	"card-price-tracker/internal/pricing"
)

// CardRecord is the persisted row for one tracked (product, finish) variant.
type CardRecord struct {
	Key       string
	ProductID int64
	GroupID   int64
	Name      string
	CleanName *string
	Rarity    *string
	Number    *string
	ImageURL  *string
	URL       *string
	Finish    string

	CurrentPrice decimal.Decimal
	LowPrice     *decimal.Decimal
	HighPrice    *decimal.Decimal

	History pricing.History
	Changes pricing.ChangeSet

	IsEligible bool
	UpdatedAt  time.Time
	CreatedAt  time.Time
}

// CardUpdate carries one write-back for an existing card. Descriptive
// attributes left nil keep their stored value (coalesce-on-null); history
// and metrics always replace in full.
type CardUpdate struct {
	Key       string
	Name      *string
	CleanName *string
	Rarity    *string
	Number    *string
	ImageURL  *string
	URL       *string
	GroupID   *int64

	CurrentPrice decimal.Decimal
	LowPrice     *decimal.Decimal
	HighPrice    *decimal.Decimal

	History pricing.History
	Changes pricing.ChangeSet

	IsEligible bool
	UpdatedAt  time.Time
}
