package app

import (
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"card-price-tracker/internal/fetcher"
	"card-price-tracker/internal/ingest"
	"card-price-tracker/internal/pricing"
)

// Ingest runs one-shot ingestion for a single archive day。
func (a *App) Ingest(ctx context.Context, opts IngestOptions) error {
	observations, err := a.loadObservations(ctx, opts)
	if err != nil {
		return err
	}
	if len(observations) == 0 {
		a.Logger.Warn().Msg("归档为空，没有可摄入的观测")
		return nil
	}

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	runner := a.newRunner(store)

	counts, err := runner.Run(ctx, observations)
	if err != nil {
		a.Logger.Error().Err(err).Msg("摄入失败")
		return err
	}

	a.Logger.Info().
		Int("updated", counts.Updated).
		Int("inserted", counts.Inserted).
		Int("skipped", counts.Skipped).
		Int("errors", counts.Errors).
		Msg("摄入完成")

	if counts.Errors > 0 {
		return fmt.Errorf("%d observations failed; see logs", counts.Errors)
	}
	return nil
}

func (a *App) loadObservations(ctx context.Context, opts IngestOptions) ([]ingest.Observation, error) {
	if opts.FilePath != "" {
		return loadArchiveFile(opts.FilePath)
	}

	date := time.Now().UTC()
	if opts.Date != "" {
		parsed, err := time.Parse(pricing.DayFormat, opts.Date)
		if err != nil {
			return nil, fmt.Errorf("invalid --date value: %w", err)
		}
		date = parsed
	}

	return a.newFeed().FetchDaily(ctx, date)
}

func loadArchiveFile(path string) ([]ingest.Observation, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var reader io.Reader = file
	if strings.HasSuffix(path, ".gz") {
		gz, err := gzip.NewReader(file)
		if err != nil {
			return nil, fmt.Errorf("open gzip archive: %w", err)
		}
		defer gz.Close()
		reader = gz
	}

	observations, err := fetcher.ParseArchive(reader)
	if err != nil {
		return nil, err
	}
	if observations == nil {
		return nil, errors.New("archive contained no rows")
	}
	return observations, nil
}
