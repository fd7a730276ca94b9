package app

import (
	"context"
	"encoding/csv"
	"errors"
	"math"
	"os"
	"path/filepath"
	"sort"
	"time"

	chart "github.com/wcharczuk/go-chart/v2"

	"card-price-tracker/internal/pricing"
	"card-price-tracker/internal/storage"
)

type historyPoint struct {
	day   time.Time
	price float64
}

// Export renders one card's price history as CSV and/or PNG.
func (a *App) Export(ctx context.Context, opts ExportOptions) error {
	if opts.Key == "" {
		return errors.New("--key must be provided")
	}
	if opts.CSVPath == "" && opts.PNGPath == "" {
		return errors.New("at least one of --csv or --png must be provided")
	}

	opts.MaxPoints = a.Config.ResolveMaxPoints(opts.MaxPoints)

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	card, err := store.GetByKey(ctx, opts.Key)
	if err != nil {
		return err
	}

	points := sortedHistory(card.History)
	if len(points) == 0 {
		a.Logger.Info().Str("key", opts.Key).Msg("card has no history to export")
		return nil
	}

	downsampled := downsamplePoints(points, opts.MaxPoints)
	a.Logger.Info().Str("key", opts.Key).
		Int("total", len(points)).
		Int("exported", len(downsampled)).
		Msg("exporting history")

	if opts.CSVPath != "" {
		if err := writeHistoryCSV(opts.CSVPath, card, downsampled); err != nil {
			return err
		}
	}

	if opts.PNGPath != "" {
		if err := writeHistoryPNG(opts.PNGPath, card, downsampled); err != nil {
			return err
		}
	}

	return nil
}

func sortedHistory(history pricing.History) []historyPoint {
	points := make([]historyPoint, 0, len(history))
	for dayKey, price := range history {
		day, err := time.Parse(pricing.DayFormat, dayKey)
		if err != nil {
			continue
		}
		points = append(points, historyPoint{day: day, price: price.InexactFloat64()})
	}
	sort.Slice(points, func(i, j int) bool { return points[i].day.Before(points[j].day) })
	return points
}

func downsamplePoints(points []historyPoint, max int) []historyPoint {
	if max <= 0 || len(points) <= max {
		return points
	}

	result := make([]historyPoint, 0, max)
	step := float64(len(points)-1) / float64(max-1)
	for i := 0; i < max; i++ {
		idx := int(math.Round(step * float64(i)))
		if idx >= len(points) {
			idx = len(points) - 1
		}
		result = append(result, points[idx])
	}
	return result
}

func writeHistoryCSV(path string, card storage.CardRecord, points []historyPoint) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	header := []string{"date", "price"}
	if err := writer.Write(header); err != nil {
		return err
	}

	for _, point := range points {
		day := point.day.Format(pricing.DayFormat)
		price := card.History[day].String()
		if err := writer.Write([]string{day, price}); err != nil {
			return err
		}
	}

	return writer.Error()
}

func writeHistoryPNG(path string, card storage.CardRecord, points []historyPoint) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	x := make([]time.Time, len(points))
	y := make([]float64, len(points))
	for i, point := range points {
		x[i] = point.day
		y[i] = point.price
	}

	priceFormatter := func(v interface{}) string {
		return chart.FloatValueFormatterWithFormat(v, "%.2f")
	}
	graph := chart.Chart{
		Title:  card.Name + " (" + card.Key + ")",
		Width:  1280,
		Height: 720,
		XAxis: chart.XAxis{
			ValueFormatter: chart.TimeDateValueFormatter,
		},
		YAxis: chart.YAxis{
			Name:           "Market Price",
			ValueFormatter: priceFormatter,
		},
		Series: []chart.Series{
			chart.TimeSeries{
				Name:    "Price",
				XValues: x,
				YValues: y,
			},
		},
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return graph.Render(chart.PNG, file)
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
