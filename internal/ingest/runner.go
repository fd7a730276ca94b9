package ingest

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog"
)

// Options bound the runner's chunking and retry behaviour.
type Options struct {
	ChunkSize     int
	RetryAttempts int
	RetryBackoff  time.Duration
}

// Runner feeds a batch to the processor in fixed-size chunks to keep
// transaction duration bounded, retrying a chunk on transient failure with
// a fixed backoff. An in-flight chunk either commits or is retried from
// scratch; per-day writes make re-delivery safe.
type Runner struct {
	processor *Processor
	opts      Options
	logger    zerolog.Logger
}

// NewRunner constructs a chunked ingestion runner.
func NewRunner(processor *Processor, opts Options, logger zerolog.Logger) *Runner {
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = 1000
	}
	if opts.RetryAttempts <= 0 {
		opts.RetryAttempts = 3
	}
	if opts.RetryBackoff <= 0 {
		opts.RetryBackoff = 2 * time.Second
	}
	return &Runner{
		processor: processor,
		opts:      opts,
		logger:    logger.With().Str("component", "ingest_runner").Logger(),
	}
}

// Run processes all observations and returns the aggregate counts. Failure
// is surfaced only after a chunk exhausts its retry attempts.
func (r *Runner) Run(ctx context.Context, observations []Observation) (Counts, error) {
	var totals Counts

	for start := 0; start < len(observations); start += r.opts.ChunkSize {
		end := start + r.opts.ChunkSize
		if end > len(observations) {
			end = len(observations)
		}

		counts, err := r.runChunk(ctx, observations[start:end])
		if err != nil {
			return totals, fmt.Errorf("chunk starting at %d: %w", start, err)
		}
		totals.Add(counts)
	}

	return totals, nil
}

func (r *Runner) runChunk(ctx context.Context, chunk []Observation) (Counts, error) {
	var lastErr error

	for attempt := 1; attempt <= r.opts.RetryAttempts; attempt++ {
		counts, err := r.processor.ProcessBatch(ctx, chunk)
		if err == nil {
			return counts, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return Counts{}, ctx.Err()
		}

		r.logger.Warn().Err(err).
			Int("attempt", attempt).
			Int("chunk_size", len(chunk)).
			Msg("chunk failed, retrying after backoff")

		if attempt < r.opts.RetryAttempts {
			timer := time.NewTimer(r.opts.RetryBackoff)
			select {
			case <-ctx.Done():
				timer.Stop()
				return Counts{}, ctx.Err()
			case <-timer.C:
			}
		}
	}

	return Counts{}, fmt.Errorf("retries exhausted after %d attempts: %w", r.opts.RetryAttempts, lastErr)
}

// isTransient reports whether err looks like a recoverable infrastructure
// fault (timeout, connection loss) rather than a per-item failure.
func isTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	if pgconn.Timeout(err) {
		return true
	}
	var connectErr *pgconn.ConnectError
	return errors.As(err, &connectErr)
}
