package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/streamwatch/crawler/internal/health"
	"github.com/streamwatch/crawler/internal/monitor"
	"github.com/streamwatch/crawler/internal/publish"
	"github.com/streamwatch/crawler/internal/publish/memory"
	"github.com/streamwatch/crawler/internal/quota"
	"github.com/streamwatch/crawler/internal/repository"
	"github.com/streamwatch/crawler/internal/state"
	"github.com/streamwatch/crawler/internal/watch"
)

type fakeClock struct{}

func (fakeClock) Now() time.Time { return time.Now().UTC() }

type fakeIDGen struct {
	mu sync.Mutex
	n  int
}

func (g *fakeIDGen) NewID() (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("evt-%d", g.n), nil
}

type stubClient struct {
	mu       sync.Mutex
	snippets []watch.BroadcastSnippet
	closed   bool
}

func (c *stubClient) Platform() watch.Platform { return watch.PlatformVideo }
func (c *stubClient) CallCost() int            { return 1 }

func (c *stubClient) LiveBroadcasts(_ context.Context, _ string) ([]watch.BroadcastSnippet, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snippets, nil
}

func (c *stubClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

type fixture struct {
	sched  *Scheduler
	repo   *repository.Memory
	broker *memory.Broker
	client *stubClient
	store  *state.Store
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	clock := fakeClock{}
	ids := &fakeIDGen{}
	repo := repository.NewMemory()
	broker := memory.New()
	store := state.New()
	tracker := quota.NewTracker(clock, nil)
	publisher := publish.New(broker, clock, publish.Config{KeyPrefix: "sw:"}, zap.NewNop())
	saver := repository.NewRetryingSaver(repo, clock, repository.RetryConfig{
		MaxAttempts: 2,
		Budget:      time.Second,
		Backoff:     time.Millisecond,
	}, zap.NewNop())

	viewers := int64(25)
	client := &stubClient{snippets: []watch.BroadcastSnippet{{
		BroadcastID:  "b1",
		ChannelID:    "ch-1",
		ChannelTitle: "Creator",
		Title:        "show",
		Status:       watch.StatusLive,
		ViewerCount:  &viewers,
	}}}
	mon := monitor.New(client, store, tracker, clock, ids, monitor.Config{}, zap.NewNop())
	repo.AddTrackedChannel(watch.TrackedChannel{
		Platform:     watch.PlatformVideo,
		ChannelID:    "ch-1",
		DisplayTitle: "Creator",
	})

	agg := health.NewAggregator(clock, time.Second,
		health.NewPingChecker("repository", clock, repo.Ping),
		health.NewPingChecker("broker", clock, broker.Ping),
	)

	sched := New(Deps{
		Repo:      repo,
		Saver:     saver,
		Broker:    broker,
		Publisher: publisher,
		Monitors:  []*monitor.Monitor{mon},
		Tracker:   tracker,
		Store:     store,
		Health:    agg,
		Clock:     clock,
		IDs:       ids,
		Logger:    zap.NewNop(),
	}, cfg)

	return &fixture{sched: sched, repo: repo, broker: broker, client: client, store: store}
}

func TestRunLifecycle(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Config{PollInterval: 10 * time.Millisecond})
	require.Equal(t, StateNotStarted, f.sched.State())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.sched.Run(ctx) }()

	// The first cycle publishes the live stream and persists its record.
	require.Eventually(t, func() bool {
		return len(f.broker.Messages()) > 0
	}, 2*time.Second, 5*time.Millisecond)
	require.Equal(t, StateRunning, f.sched.State())

	msgs := f.broker.Messages()
	require.Equal(t, "sw:stream.start", msgs[0].Channel)
	_, saved := f.repo.Record(watch.NewStreamKey(watch.PlatformVideo, "b1"))
	require.True(t, saved)

	cancel()
	require.NoError(t, <-done)
	require.Equal(t, StateStopped, f.sched.State())
	require.True(t, f.broker.Closed())

	f.client.mu.Lock()
	closed := f.client.closed
	f.client.mu.Unlock()
	require.True(t, closed)
}

func TestRunFailsToStartWhenStorageUnreachable(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Config{StartupTimeout: 50 * time.Millisecond})
	f.repo.FailPings(errors.New("connection refused"))

	err := f.sched.Run(context.Background())
	require.Error(t, err)
	require.Contains(t, err.Error(), "storage unreachable")
	require.Equal(t, StateFailedToStart, f.sched.State())
}

func TestRunFailsToStartWhenBrokerUnreachable(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Config{StartupTimeout: 50 * time.Millisecond})
	f.broker.FailPings(errors.New("connection refused"))

	err := f.sched.Run(context.Background())
	require.Error(t, err)
	require.Contains(t, err.Error(), "broker unreachable")
	require.Equal(t, StateFailedToStart, f.sched.State())
}

func TestRunRequiresMonitors(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Config{})
	f.sched.monitors = nil

	err := f.sched.Run(context.Background())
	require.Error(t, err)
	require.Equal(t, StateFailedToStart, f.sched.State())
}

func TestRunCannotBeRestarted(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Config{PollInterval: time.Hour})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.sched.Run(ctx) }()

	require.Eventually(t, func() bool {
		return f.sched.State() == StateRunning
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
	require.Equal(t, StateStopped, f.sched.State())

	err := f.sched.Run(context.Background())
	require.Error(t, err)
	require.Contains(t, err.Error(), "already started")
}

func TestMaintainPublishesStatsAndPrunes(t *testing.T) {
	t.Parallel()

	clock := fakeClock{}
	f := newFixture(t, Config{})
	tracker := quota.NewTracker(clock, map[watch.Platform]quota.Budget{
		watch.PlatformVideo: {LimitUnits: 100, Window: time.Hour},
	})
	f.sched.tracker = tracker

	// Seed an ended record older than the retention cutoff.
	key := watch.NewStreamKey(watch.PlatformVideo, "old")
	old := watch.StreamRecord{
		StreamKey:  key,
		Platform:   watch.PlatformVideo,
		ChannelID:  "ch-1",
		Status:     watch.StatusEnded,
		LastSeenAt: time.Now().Add(-48 * time.Hour),
	}
	require.True(t, f.store.CompareAndSet(key, watch.StatusScheduled, old))

	f.sched.maintain(context.Background())

	msgs := f.broker.Messages()
	require.Len(t, msgs, 1)
	require.Equal(t, "sw:monitoring.stats", msgs[0].Channel)

	_, ok := f.store.Get(key)
	require.False(t, ok)
}

func TestStateString(t *testing.T) {
	t.Parallel()

	require.Equal(t, "NotStarted", StateNotStarted.String())
	require.Equal(t, "Running", StateRunning.String())
	require.Equal(t, "FailedToStart", StateFailedToStart.String())
	require.Equal(t, "unknown(99)", State(99).String())
}
