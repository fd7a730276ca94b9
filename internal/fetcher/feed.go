package fetcher

import (
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"card-price-tracker/internal/ingest"
	"card-price-tracker/internal/pricing"
)

// FeedOptions parameterise the archive fetcher.
type FeedOptions struct {
	BaseURL   string
	Timeout   time.Duration
	UserAgent string
}

// Feed downloads and decodes the vendor's daily price archive.
type Feed struct {
	opts    FeedOptions
	logger  zerolog.Logger
	client  *http.Client
	baseURL string
}

// NewFeed constructs an archive feed fetcher.
func NewFeed(opts FeedOptions, logger zerolog.Logger) *Feed {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	baseURL := strings.TrimRight(opts.BaseURL, "/")

	return &Feed{
		opts:    opts,
		logger:  logger.With().Str("component", "feed_fetcher").Logger(),
		client:  &http.Client{Timeout: timeout},
		baseURL: baseURL,
	}
}

// FetchDaily downloads the gzipped archive for date and converts its rows
// into ingestion observations.
func (f *Feed) FetchDaily(ctx context.Context, date time.Time) ([]ingest.Observation, error) {
	if f.baseURL == "" {
		return nil, errors.New("feed base url not configured")
	}

	endpoint := fmt.Sprintf("%s/prices/%s.json.gz", f.baseURL, pricing.DayKey(date))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/gzip")
	if ua := strings.TrimSpace(f.opts.UserAgent); ua != "" {
		req.Header.Set("User-Agent", ua)
	} else {
		req.Header.Set("User-Agent", "cardwatcher/1.0")
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, parseHTTPError(resp.StatusCode, payload)
	}

	gz, err := gzip.NewReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("open archive stream: %w", err)
	}
	defer gz.Close()

	observations, err := ParseArchive(gz)
	if err != nil {
		return nil, err
	}

	f.logger.Info().Str("date", pricing.DayKey(date)).
		Int("observations", len(observations)).
		Msg("daily archive fetched")
	return observations, nil
}

// archive is the vendor's daily price dump.
type archive struct {
	Date    string     `json:"date"`
	Results []priceRow `json:"results"`
}

type priceRow struct {
	ProductID   int64    `json:"productId"`
	SubTypeName string   `json:"subTypeName"`
	MarketPrice *float64 `json:"marketPrice"`
	LowPrice    *float64 `json:"lowPrice"`
	HighPrice   *float64 `json:"highPrice"`
	Name        *string  `json:"name"`
	CleanName   *string  `json:"cleanName"`
	GroupID     *int64   `json:"groupId"`
	Rarity      *string  `json:"rarity"`
	Number      *string  `json:"number"`
	ImageURL    *string  `json:"imageUrl"`
	URL         *string  `json:"url"`
}

// ParseArchive decodes an uncompressed archive document into observations.
// Rows without a market price are kept; the processor counts them as skips.
func ParseArchive(r io.Reader) ([]ingest.Observation, error) {
	var doc archive
	if err := json.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode archive: %w", err)
	}
	if doc.Date == "" {
		return nil, errors.New("archive missing date")
	}

	date, err := time.Parse(pricing.DayFormat, doc.Date)
	if err != nil {
		return nil, fmt.Errorf("parse archive date: %w", err)
	}

	observations := make([]ingest.Observation, 0, len(doc.Results))
	for _, row := range doc.Results {
		obs := ingest.Observation{
			Key:       ingest.MakeKey(row.ProductID, row.SubTypeName),
			Date:      date,
			Price:     decimalFromFloat(row.MarketPrice),
			LowPrice:  decimalFromFloat(row.LowPrice),
			HighPrice: decimalFromFloat(row.HighPrice),
			Name:      row.Name,
			CleanName: row.CleanName,
			GroupID:   row.GroupID,
			Rarity:    row.Rarity,
			Number:    row.Number,
			ImageURL:  row.ImageURL,
			URL:       row.URL,
		}

		productID := row.ProductID
		obs.ProductID = &productID
		finish := strings.ToLower(strings.TrimSpace(row.SubTypeName))
		if finish == "" {
			finish = "normal"
		}
		obs.Finish = &finish

		observations = append(observations, obs)
	}

	return observations, nil
}

func decimalFromFloat(v *float64) *decimal.Decimal {
	if v == nil {
		return nil
	}
	d := decimal.NewFromFloat(*v)
	return &d
}

type errorResponse struct {
	ErrorType   string `json:"errorType"`
	Description string `json:"description"`
	Message     string `json:"message"`
}

func parseHTTPError(status int, payload []byte) error {
	var apiErr errorResponse
	if err := json.Unmarshal(payload, &apiErr); err == nil {
		if apiErr.Description != "" {
			return fmt.Errorf("feed api error (%d): %s", status, apiErr.Description)
		}
		if apiErr.Message != "" {
			return fmt.Errorf("feed api error (%d): %s", status, apiErr.Message)
		}
		if apiErr.ErrorType != "" {
			return fmt.Errorf("feed api error (%d): %s", status, apiErr.ErrorType)
		}
	}
	if len(payload) > 0 {
		return fmt.Errorf("feed api error (%d): %s", status, strings.TrimSpace(string(payload)))
	}
	return fmt.Errorf("feed api error (%d)", status)
}

var _ PriceFeedFetcher = (*Feed)(nil)
