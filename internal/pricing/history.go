package pricing

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// DayFormat is the calendar-day key format used throughout the store.
const DayFormat = "2006-01-02"

// DayKey renders a timestamp as its calendar-day history key.
func DayKey(t time.Time) string {
	return t.UTC().Format(DayFormat)
}

// History is a sparse mapping from calendar date to a single observed price.
// Every value is a bare number; the marshaller below cannot emit anything
// else, which is what guards the scalar invariant at the write path.
type History map[string]decimal.Decimal

// At returns the price recorded for the day containing t.
func (h History) At(t time.Time) (decimal.Decimal, bool) {
	price, ok := h[DayKey(t)]
	return price, ok
}

// Set records price for the day containing t, overwriting any existing entry.
func (h History) Set(t time.Time, price decimal.Decimal) {
	h[DayKey(t)] = price
}

// Clone returns a shallow copy safe to mutate independently.
func (h History) Clone() History {
	out := make(History, len(h)+1)
	for day, price := range h {
		out[day] = price
	}
	return out
}

// MarshalJSON emits dates in ascending order with bare numeric values.
func (h History) MarshalJSON() ([]byte, error) {
	if h == nil {
		return []byte("{}"), nil
	}

	days := make([]string, 0, len(h))
	for day := range h {
		days = append(days, day)
	}
	sort.Strings(days)

	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, day := range days {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(day)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.WriteString(h[day].String())
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON accepts numbers and numeric strings. Non-scalar values
// (a defective write path once stored nested objects) are dropped rather
// than failing the whole record.
func (h *History) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("parse history: %w", err)
	}

	out := make(History, len(raw))
	for day, value := range raw {
		trimmed := bytes.TrimSpace(value)
		if len(trimmed) == 0 || trimmed[0] == '{' || trimmed[0] == '[' || bytes.Equal(trimmed, []byte("null")) {
			continue
		}
		var price decimal.Decimal
		if err := json.Unmarshal(trimmed, &price); err != nil {
			continue
		}
		out[day] = price
	}

	*h = out
	return nil
}
