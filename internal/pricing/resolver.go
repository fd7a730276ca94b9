package pricing

import (
	"time"

	"github.com/shopspring/decimal"
)

// Resolve returns the best historical comparator price within the inclusive
// day-offset window [minOffset, maxOffset] back from anchor. When offset 0
// lies inside the window the exact anchor day is tried first; otherwise
// offsets are scanned from minOffset to maxOffset, each one day further back
// in time, and the first recorded price wins. A miss across the whole window
// returns ok=false and the horizon's metrics become null for this write.
//
// Pure function of its inputs; no side effects.
func Resolve(history History, anchor time.Time, minOffset, maxOffset int) (decimal.Decimal, bool) {
	if len(history) == 0 {
		return decimal.Decimal{}, false
	}

	if minOffset <= 0 && maxOffset >= 0 {
		if price, ok := history.At(anchor); ok {
			return price, true
		}
	}

	for offset := minOffset; offset <= maxOffset; offset++ {
		if offset <= 0 {
			continue
		}
		if price, ok := history.At(anchor.AddDate(0, 0, -offset)); ok {
			return price, true
		}
	}

	return decimal.Decimal{}, false
}
