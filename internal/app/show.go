package app

import (
	"context"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/shopspring/decimal"

	"card-price-tracker/internal/pricing"
	"card-price-tracker/internal/storage"
)

// Show prints recent cards, or one card's full metric set when --key is given.
func (a *App) Show(ctx context.Context, opts ShowOptions) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	if opts.Key != "" {
		return showCard(ctx, store, opts.Key)
	}

	cards, err := store.ListRecentCards(ctx, opts.Limit)
	if err != nil {
		return err
	}
	if len(cards) == 0 {
		fmt.Fprintln(os.Stdout, "no cards found")
		return nil
	}

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Key\tName\tPrice\t1d%\t7d%\t1m%\tEligible\tUpdated (UTC)")

	for _, card := range cards {
		fmt.Fprintf(
			writer,
			"%s\t%s\t%s\t%s\t%s\t%s\t%v\t%s\n",
			card.Key,
			sanitizeInline(card.Name),
			card.CurrentPrice.StringFixed(2),
			formatNullable(card.Changes.Day.Pct),
			formatNullable(card.Changes.Week.Pct),
			formatNullable(card.Changes.Month.Pct),
			card.IsEligible,
			card.UpdatedAt.UTC().Format(time.RFC3339),
		)
	}

	writer.Flush()
	return nil
}

func showCard(ctx context.Context, store *storage.Store, key string) error {
	card, err := store.GetByKey(ctx, key)
	if err != nil {
		return err
	}

	fmt.Fprintf(os.Stdout, "Key:      %s\n", card.Key)
	fmt.Fprintf(os.Stdout, "Name:     %s\n", card.Name)
	fmt.Fprintf(os.Stdout, "Group:    %d\n", card.GroupID)
	fmt.Fprintf(os.Stdout, "Finish:   %s\n", card.Finish)
	fmt.Fprintf(os.Stdout, "Price:    %s\n", card.CurrentPrice.StringFixed(2))
	fmt.Fprintf(os.Stdout, "Eligible: %v\n", card.IsEligible)
	fmt.Fprintf(os.Stdout, "Updated:  %s\n", card.UpdatedAt.UTC().Format(time.RFC3339))
	fmt.Fprintf(os.Stdout, "History:  %d points\n\n", len(card.History))

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Horizon\tChange %\tChange Abs")
	slots := card.Changes.Slots()
	for i, horizon := range pricing.Horizons {
		fmt.Fprintf(writer, "%s\t%s\t%s\n", horizon.Name, formatNullable(slots[i].Pct), formatNullable(slots[i].Abs))
	}
	writer.Flush()
	return nil
}

func formatNullable(d *decimal.Decimal) string {
	if d == nil {
		return "-"
	}
	return d.StringFixed(2)
}

func sanitizeInline(v string) string {
	cleaned := strings.ReplaceAll(v, "\n", " ")
	cleaned = strings.ReplaceAll(cleaned, "\r", " ")
	return cleaned
}
