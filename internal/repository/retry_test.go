package repository

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/streamwatch/crawler/internal/watch"
)

// steppingClock advances by step on every Now call.
type steppingClock struct {
	mu   sync.Mutex
	now  time.Time
	step time.Duration
}

func (c *steppingClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now
	c.now = c.now.Add(c.step)
	return now
}

// flakyRepo fails the first n saves and counts attempts.
type flakyRepo struct {
	mu       sync.Mutex
	failures int
	attempts int
}

func (r *flakyRepo) ListTrackedChannels(_ context.Context, _ watch.Platform) ([]watch.TrackedChannel, error) {
	return nil, nil
}

func (r *flakyRepo) SaveStreamRecord(_ context.Context, _ watch.StreamRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.attempts++
	if r.attempts <= r.failures {
		return errors.New("write conflict")
	}
	return nil
}

func (r *flakyRepo) Ping(_ context.Context) error { return nil }

func testRecord() watch.StreamRecord {
	return watch.StreamRecord{
		StreamKey: watch.NewStreamKey(watch.PlatformVideo, "b1"),
		Platform:  watch.PlatformVideo,
		ChannelID: "ch-1",
		Status:    watch.StatusLive,
	}
}

func TestSaveSucceedsFirstAttempt(t *testing.T) {
	t.Parallel()

	repo := &flakyRepo{}
	clock := &steppingClock{now: time.Unix(1700000000, 0)}
	saver := NewRetryingSaver(repo, clock, RetryConfig{Backoff: time.Millisecond}, zap.NewNop())

	require.Equal(t, Saved, saver.Save(context.Background(), testRecord()))
	require.Equal(t, 1, repo.attempts)
}

func TestSaveRetriesUntilSuccess(t *testing.T) {
	t.Parallel()

	repo := &flakyRepo{failures: 2}
	clock := &steppingClock{now: time.Unix(1700000000, 0)}
	saver := NewRetryingSaver(repo, clock, RetryConfig{
		MaxAttempts: 5,
		Budget:      time.Minute,
		Backoff:     time.Millisecond,
	}, zap.NewNop())

	require.Equal(t, Saved, saver.Save(context.Background(), testRecord()))
	require.Equal(t, 3, repo.attempts)
}

func TestSaveGivesUpAfterMaxAttempts(t *testing.T) {
	t.Parallel()

	repo := &flakyRepo{failures: 100}
	clock := &steppingClock{now: time.Unix(1700000000, 0)}
	saver := NewRetryingSaver(repo, clock, RetryConfig{
		MaxAttempts: 5,
		Budget:      time.Minute,
		Backoff:     time.Millisecond,
	}, zap.NewNop())

	require.Equal(t, FailedAfterRetries, saver.Save(context.Background(), testRecord()))
	require.Equal(t, 5, repo.attempts)
}

func TestSaveGivesUpWhenBudgetElapses(t *testing.T) {
	t.Parallel()

	repo := &flakyRepo{failures: 100}
	// Each Now call advances 30s; the one-minute budget expires after the
	// second attempt's deadline check.
	clock := &steppingClock{now: time.Unix(1700000000, 0), step: 30 * time.Second}
	saver := NewRetryingSaver(repo, clock, RetryConfig{
		MaxAttempts: 10,
		Budget:      time.Minute,
		Backoff:     time.Millisecond,
	}, zap.NewNop())

	require.Equal(t, FailedAfterRetries, saver.Save(context.Background(), testRecord()))
	require.Less(t, repo.attempts, 10)
}

func TestSaveStopsOnCanceledContext(t *testing.T) {
	t.Parallel()

	repo := &flakyRepo{failures: 100}
	clock := &steppingClock{now: time.Unix(1700000000, 0)}
	saver := NewRetryingSaver(repo, clock, RetryConfig{
		MaxAttempts: 10,
		Budget:      time.Minute,
		Backoff:     time.Millisecond,
	}, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.Equal(t, FailedAfterRetries, saver.Save(ctx, testRecord()))
	require.Equal(t, 1, repo.attempts)
}

func TestSaveOutcomeString(t *testing.T) {
	t.Parallel()

	require.Equal(t, "saved", Saved.String())
	require.Equal(t, "failed_after_retries", FailedAfterRetries.String())
}
