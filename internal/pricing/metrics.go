package pricing

import (
	"time"

	"github.com/shopspring/decimal"
)

// MaxPct bounds the magnitude of any percentage metric. Pathologically small
// comparator prices would otherwise overflow the numeric column.
var MaxPct = decimal.RequireFromString("9999.999")

// EligibleMinPrice is the fixed minimum current price for eligibility.
var EligibleMinPrice = decimal.NewFromInt(15)

// Change holds one horizon's derived metrics. Both fields are independently
// nullable: Pct is null when the comparator is null or not positive, Abs is
// null when the comparator is null.
type Change struct {
	Pct *decimal.Decimal
	Abs *decimal.Decimal
}

// ChangeSet caches the derived metrics for all seven horizons.
type ChangeSet struct {
	Day      Change
	ThreeDay Change
	Week     Change
	Month    Change
	Quarter  Change
	HalfYear Change
	Year     Change
}

// Slots returns the horizon slots in canonical window-table order.
func (cs *ChangeSet) Slots() []*Change {
	return []*Change{&cs.Day, &cs.ThreeDay, &cs.Week, &cs.Month, &cs.Quarter, &cs.HalfYear, &cs.Year}
}

// ComputeChangeSet derives all 14 metrics for current against history,
// resolving each horizon's comparator relative to anchor. Metrics are a pure
// function of (current, history, anchor); callers decide the anchor policy.
func ComputeChangeSet(current decimal.Decimal, history History, anchor time.Time) ChangeSet {
	var cs ChangeSet
	slots := cs.Slots()
	for i, horizon := range Horizons {
		*slots[i] = computeChange(current, history, anchor, horizon)
	}
	return cs
}

func computeChange(current decimal.Decimal, history History, anchor time.Time, horizon Horizon) Change {
	comparator, ok := Resolve(history, anchor, horizon.MinOffset, horizon.MaxOffset)
	if !ok {
		return Change{}
	}

	abs := current.Sub(comparator)
	change := Change{Abs: &abs}

	if comparator.IsPositive() {
		pct := clampPct(abs.Div(comparator).Mul(decimal.NewFromInt(100)))
		change.Pct = &pct
	}
	return change
}

func clampPct(pct decimal.Decimal) decimal.Decimal {
	if pct.GreaterThan(MaxPct) {
		return MaxPct
	}
	if pct.LessThan(MaxPct.Neg()) {
		return MaxPct.Neg()
	}
	return pct
}

// Eligible applies the fixed business rule: price at least 15 and at least
// one of rarity/number present.
func Eligible(price decimal.Decimal, rarity, number *string) bool {
	return price.GreaterThanOrEqual(EligibleMinPrice) && (rarity != nil || number != nil)
}
