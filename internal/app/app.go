package app

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"card-price-tracker/internal/alerting"
	"card-price-tracker/internal/config"
	"card-price-tracker/internal/fetcher"
	"card-price-tracker/internal/ingest"
	"card-price-tracker/internal/scheduler"
	"card-price-tracker/internal/service"
	"card-price-tracker/internal/stale"
	"card-price-tracker/internal/storage"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger()}
}

func (a *App) newFeed() fetcher.PriceFeedFetcher {
	return fetcher.NewFeed(fetcher.FeedOptions{
		BaseURL:   a.Config.Feed.BaseURL,
		Timeout:   a.Config.Feed.RequestTimeout,
		UserAgent: a.Config.Feed.UserAgent,
	}, a.Logger)
}

func (a *App) newRunner(store storage.CardStore) *ingest.Runner {
	processor := ingest.NewProcessor(store, a.Logger)
	return ingest.NewRunner(processor, ingest.Options{
		ChunkSize:     a.Config.Ingest.ChunkSize,
		RetryAttempts: a.Config.Ingest.RetryAttempts,
		RetryBackoff:  a.Config.Ingest.RetryBackoff,
	}, a.Logger)
}

func (a *App) newNotifier() alerting.Notifier {
	if a.Config.Alerting.Telegram.Enabled {
		cfg := a.Config.Alerting.Telegram
		return alerting.NewTelegramNotifier(cfg.BotToken, cfg.ChatID, cfg.APIBase, 10*time.Second, a.Logger)
	}
	return nil
}

func (a *App) openStore(ctx context.Context) (*storage.Store, func(), error) {
	if a.Config.Database.DSN == "" {
		return nil, nil, errors.New("database.dsn is required")
	}

	pool, err := storage.NewPool(ctx, a.Config.Database)
	if err != nil {
		return nil, nil, err
	}

	store := storage.NewStore(pool)
	closer := func() {
		store.Close()
	}
	return store, closer, nil
}

// Run executes the long-running daily processing service.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	sched := scheduler.New(scheduler.Options{
		Interval:     a.Config.Scheduler.Interval,
		AlignToStart: a.Config.Scheduler.AlignToBucket,
		StartupDelay: a.Config.Scheduler.StartupDelay,
	}, a.Logger)

	feed := a.newFeed()
	runner := a.newRunner(store)
	recalc := stale.New(store, a.Logger)
	notifier := a.newNotifier()

	svc := service.New(a.Config, sched, feed, runner, recalc, store, notifier, a.Logger)

	a.Logger.Info().Msg("starting daily processing service")
	err = svc.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("service terminated with error")
		return err
	}

	a.Logger.Info().Msg("daily processing service stopped")
	return nil
}

// IngestOptions configure the one-shot ingestion command.
type IngestOptions struct {
	Date     string
	FilePath string
}

// RecalcOptions configure the staleness recalculation command.
type RecalcOptions struct {
	Cutoff    *time.Time
	BatchSize int
}

// ShowOptions configure the show command.
type ShowOptions struct {
	Limit int
	Key   string
}

// ExportOptions hold parameters for exporting one card's history.
type ExportOptions struct {
	Key       string
	PNGPath   string
	CSVPath   string
	MaxPoints int
}
