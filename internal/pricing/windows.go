package pricing

// Horizon names one of the fixed look-back periods together with its
// inclusive day-offset window. Windows are disjoint on purpose: no single
// historical day can serve as the comparator for two different horizons.
type Horizon struct {
	Name      string
	MinOffset int
	MaxOffset int
}

// Horizons is the canonical window table. Callers must not infer horizons
// from any other offset scheme.
var Horizons = []Horizon{
	{Name: "1d", MinOffset: 1, MaxOffset: 2},
	{Name: "3d", MinOffset: 3, MaxOffset: 5},
	{Name: "7d", MinOffset: 7, MaxOffset: 10},
	{Name: "1m", MinOffset: 30, MaxOffset: 35},
	{Name: "3m", MinOffset: 90, MaxOffset: 100},
	{Name: "6m", MinOffset: 180, MaxOffset: 200},
	{Name: "1y", MinOffset: 365, MaxOffset: 380},
}
