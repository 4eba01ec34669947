package repository

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/streamwatch/crawler/internal/metrics"
	"github.com/streamwatch/crawler/internal/watch"
)

// SaveOutcome is the explicit result of a bounded-retry save. It replaces an
// ambiguous boolean: either the record reached the store or the cycle gave
// up, and the in-memory state store stays the source of truth until the next
// successful save.
type SaveOutcome int

// Save results.
const (
	Saved SaveOutcome = iota
	FailedAfterRetries
)

// String returns the logged form of the outcome.
func (o SaveOutcome) String() string {
	if o == Saved {
		return "saved"
	}
	return "failed_after_retries"
}

// RetryingSaver wraps a repository with the bounded save-retry policy:
// reload-and-reapply up to MaxAttempts or until Budget wall-clock elapses,
// whichever comes first.
type RetryingSaver struct {
	repo   watch.Repository
	clock  watch.Clock
	logger *zap.Logger
	cfg    RetryConfig
}

// RetryConfig bounds the retry loop.
type RetryConfig struct {
	MaxAttempts int
	Budget      time.Duration
	Backoff     time.Duration
}

func (c RetryConfig) withDefaults() RetryConfig {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 5
	}
	if c.Budget <= 0 {
		c.Budget = time.Minute
	}
	if c.Backoff <= 0 {
		c.Backoff = 2 * time.Second
	}
	return c
}

// NewRetryingSaver builds a saver over repo.
func NewRetryingSaver(repo watch.Repository, clock watch.Clock, cfg RetryConfig, logger *zap.Logger) *RetryingSaver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RetryingSaver{repo: repo, clock: clock, logger: logger, cfg: cfg.withDefaults()}
}

// Save persists the record, retrying failures within the attempt and
// wall-clock bounds. Exceeding the bounds is logged as a failed save, never
// surfaced as an error to the poll loop.
func (s *RetryingSaver) Save(ctx context.Context, record watch.StreamRecord) SaveOutcome {
	deadline := s.clock.Now().Add(s.cfg.Budget)
	var lastErr error
	for attempt := 1; attempt <= s.cfg.MaxAttempts; attempt++ {
		err := s.repo.SaveStreamRecord(ctx, record)
		if err == nil {
			return Saved
		}
		lastErr = err
		if s.clock.Now().After(deadline) || ctx.Err() != nil {
			break
		}
		select {
		case <-ctx.Done():
		case <-time.After(s.cfg.Backoff):
		}
	}
	metrics.ObserveSaveFailure()
	s.logger.Error("stream record save abandoned",
		zap.String("stream_key", string(record.StreamKey)),
		zap.Int("max_attempts", s.cfg.MaxAttempts),
		zap.Error(lastErr),
	)
	return FailedAfterRetries
}
