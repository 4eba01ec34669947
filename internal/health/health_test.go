package health

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/streamwatch/crawler/internal/watch"
)

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time { return c.now }

type staticChecker struct {
	name   string
	status watch.HealthStatus
}

func (c staticChecker) Name() string { return c.name }

func (c staticChecker) Check(_ context.Context) watch.HealthRecord {
	return watch.HealthRecord{Component: c.name, Status: c.status, Message: c.status.String()}
}

func TestAggregatorWorstOf(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{now: time.Now()}
	agg := NewAggregator(clock, time.Second,
		staticChecker{name: "a", status: watch.Healthy},
		staticChecker{name: "b", status: watch.Degraded},
		staticChecker{name: "c", status: watch.Healthy},
	)

	report := agg.Check(context.Background())
	require.Equal(t, watch.Degraded, report.Status)
	require.Len(t, report.Entries, 3)
	require.Equal(t, watch.Degraded, report.Entries["b"].Status)
}

func TestAggregatorUnhealthyDominates(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{now: time.Now()}
	agg := NewAggregator(clock, time.Second,
		staticChecker{name: "a", status: watch.Unhealthy},
		staticChecker{name: "b", status: watch.Degraded},
	)

	report := agg.Check(context.Background())
	require.Equal(t, watch.Unhealthy, report.Status)
}

func TestAggregatorEmptyIsHealthy(t *testing.T) {
	t.Parallel()

	agg := NewAggregator(&fakeClock{now: time.Now()}, time.Second)
	report := agg.Check(context.Background())
	require.Equal(t, watch.Healthy, report.Status)
	require.Empty(t, report.Entries)
}

func TestPingCheckerReportsUnhealthyOnFailure(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{now: time.Now()}
	ok := NewPingChecker("db", clock, func(_ context.Context) error { return nil })
	require.Equal(t, watch.Healthy, ok.Check(context.Background()).Status)

	down := NewPingChecker("db", clock, func(_ context.Context) error {
		return errors.New("connection refused")
	})
	rec := down.Check(context.Background())
	require.Equal(t, watch.Unhealthy, rec.Status)
	require.Contains(t, rec.Message, "connection refused")
}

func TestPingCheckerHonorsTimeout(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{now: time.Now()}
	slow := NewPingChecker("db", clock, func(ctx context.Context) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Second):
			return nil
		}
	})
	agg := NewAggregator(clock, 10*time.Millisecond, slow)

	report := agg.Check(context.Background())
	require.Equal(t, watch.Unhealthy, report.Status)
}
