package service

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"card-price-tracker/internal/alerting"
	"card-price-tracker/internal/config"
	"card-price-tracker/internal/fetcher"
	"card-price-tracker/internal/ingest"
	"card-price-tracker/internal/scheduler"
	"card-price-tracker/internal/stale"
	"card-price-tracker/internal/storage"
)

// Service orchestrates the daily run: archive fetch, chunked ingestion,
// staleness correction, digest dispatch.
type Service struct {
	scheduler *scheduler.Scheduler
	feed      fetcher.PriceFeedFetcher
	runner    *ingest.Runner
	recalc    *stale.Recalculator
	notifier  alerting.Notifier
	logger    zerolog.Logger

	staleBatch int
	channels   []string
	alertsOn   bool
	locker     storage.AdvisoryLocker
	lockKey    int64
}

// New constructs the daily processing service.
func New(cfg *config.Config, sched *scheduler.Scheduler, feed fetcher.PriceFeedFetcher, runner *ingest.Runner, recalc *stale.Recalculator, locker storage.AdvisoryLocker, notifier alerting.Notifier, logger zerolog.Logger) *Service {
	return &Service{
		scheduler:  sched,
		feed:       feed,
		runner:     runner,
		recalc:     recalc,
		notifier:   notifier,
		logger:     logger.With().Str("component", "service").Logger(),
		staleBatch: cfg.Stale.BatchSize,
		channels:   cfg.Alerting.Channels,
		alertsOn:   cfg.Alerting.Enabled,
		locker:     locker,
		lockKey:    cfg.Scheduler.AdvisoryLockKey,
	}
}

// Run begins the aligned daily loop.
func (s *Service) Run(ctx context.Context) error {
	if s.scheduler == nil {
		return fmt.Errorf("scheduler not configured")
	}
	return s.scheduler.Run(ctx, s.ProcessDay)
}

// ProcessDay 执行单个日期桶的完整摄入流程。
func (s *Service) ProcessDay(ctx context.Context, bucket time.Time) error {
	unlock, proceed, err := s.acquireLock(ctx)
	if err != nil {
		return err
	}
	if !proceed {
		s.logger.Debug().Time("bucket", bucket).Msg("skip day because advisory lock held elsewhere")
		return nil
	}
	if unlock != nil {
		defer unlock()
	}

	return s.executeDay(ctx, bucket)
}

func (s *Service) executeDay(ctx context.Context, bucket time.Time) error {
	started := time.Now().UTC()

	observations, err := s.feed.FetchDaily(ctx, bucket)
	if err != nil {
		return fmt.Errorf("fetch daily archive: %w", err)
	}

	counts, err := s.runner.Run(ctx, observations)
	if err != nil {
		return fmt.Errorf("ingest archive: %w", err)
	}

	s.logger.Info().Time("bucket", bucket).
		Int("updated", counts.Updated).
		Int("inserted", counts.Inserted).
		Int("skipped", counts.Skipped).
		Int("errors", counts.Errors).
		Msg("archive ingested")

	// Everything the ingest touched carries a watermark after `started`;
	// whatever the feed omitted today falls below it and gets corrected.
	staleTotal := 0
	if s.recalc != nil {
		staleTotal, err = s.recalc.RecalculateAll(ctx, started, s.staleBatch)
		if err != nil {
			return fmt.Errorf("recalculate stale: %w", err)
		}
	}

	if s.alertsOn && s.notifier != nil {
		digest := alerting.Digest{
			RunDate:      bucket,
			Counts:       counts,
			StaleUpdated: staleTotal,
			Duration:     time.Since(started),
			Channels:     s.channels,
		}
		if err := s.notifier.Notify(ctx, digest); err != nil {
			s.logger.Error().Err(err).Time("bucket", bucket).Msg("failed to dispatch digest")
		}
	}

	return nil
}

func (s *Service) acquireLock(ctx context.Context) (func(), bool, error) {
	if s.lockKey == 0 || s.locker == nil {
		return nil, true, nil
	}
	unlock, acquired, err := s.locker.TryAdvisoryLock(ctx, s.lockKey)
	if err != nil {
		return nil, false, fmt.Errorf("acquire advisory lock: %w", err)
	}
	if !acquired {
		return nil, false, nil
	}
	return unlock, true, nil
}
