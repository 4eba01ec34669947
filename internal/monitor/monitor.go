// Package monitor polls one platform per instance and turns raw API
// responses into stream state-transition events.
package monitor

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/streamwatch/crawler/internal/metrics"
	"github.com/streamwatch/crawler/internal/quota"
	"github.com/streamwatch/crawler/internal/state"
	"github.com/streamwatch/crawler/internal/watch"
)

// Config controls poll behavior for one monitor.
type Config struct {
	// MaxRetries bounds transient-error retries within one cycle.
	MaxRetries int
	// CallTimeout applies per platform API call.
	CallTimeout time.Duration
	// RetryBackoff is the delay between transient retries.
	RetryBackoff time.Duration
	// ViewerDeltaThreshold is the minimum viewer-count movement that counts
	// as a meaningful change for an Updated event. Title changes always do.
	ViewerDeltaThreshold int64
	// ErrorStreakLimit is the consecutive-failure count that flips the
	// monitor Unhealthy.
	ErrorStreakLimit int
	// StaleAfter is how long the monitor tolerates no completed poll
	// before reporting Unhealthy.
	StaleAfter time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.CallTimeout <= 0 {
		c.CallTimeout = 15 * time.Second
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = 250 * time.Millisecond
	}
	if c.ViewerDeltaThreshold <= 0 {
		c.ViewerDeltaThreshold = 50
	}
	if c.ErrorStreakLimit <= 0 {
		c.ErrorStreakLimit = 5
	}
	if c.StaleAfter <= 0 {
		c.StaleAfter = 5 * time.Minute
	}
	return c
}

// Monitor polls one platform. Monitors on different platforms may run
// concurrently; each Monitor serializes its own cycles so no two writers
// ever interleave on the same stream key.
type Monitor struct {
	client watch.PlatformClient
	store  *state.Store
	quota  *quota.Tracker
	clock  watch.Clock
	ids    watch.IDGenerator
	logger *zap.Logger
	cfg    Config

	cycleMu sync.Mutex
	// lastTitles remembers the channel title announced per channel id.
	// Tracked display titles refresh only on the maintenance pass, so
	// diffing against them alone would re-announce an unchanged rename
	// every cycle. Guarded by cycleMu.
	lastTitles map[string]string

	statusMu          sync.Mutex
	consecutiveErrors int
	lastPollAt        time.Time
	degradedReason    string
}

// New constructs a Monitor for the client's platform.
func New(
	client watch.PlatformClient,
	store *state.Store,
	tracker *quota.Tracker,
	clock watch.Clock,
	ids watch.IDGenerator,
	cfg Config,
	logger *zap.Logger,
) *Monitor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Monitor{
		client:     client,
		store:      store,
		quota:      tracker,
		clock:      clock,
		ids:        ids,
		logger:     logger.With(zap.String("platform", string(client.Platform()))),
		cfg:        cfg.withDefaults(),
		lastTitles: make(map[string]string),
		lastPollAt: clock.Now(),
	}
}

// Platform returns the monitored platform.
func (m *Monitor) Platform() watch.Platform {
	return m.client.Platform()
}

// PollOnce polls every tracked channel once, diffs against the state store,
// and returns the cycle's change events plus the records it accepted. A
// failing channel is skipped for the cycle and retried on the next one;
// errors never abort the cycle.
func (m *Monitor) PollOnce(ctx context.Context, channels []watch.TrackedChannel) ([]watch.ChangeEvent, []watch.StreamRecord) {
	m.cycleMu.Lock()
	defer m.cycleMu.Unlock()

	start := m.clock.Now()
	var (
		events      []watch.ChangeEvent
		updated     []watch.StreamRecord
		failed      int
		quotaDenied bool
	)
	for _, ch := range channels {
		if ctx.Err() != nil {
			break
		}
		if !m.quota.TryAdmit(m.Platform(), m.client.CallCost()) {
			quotaDenied = true
			m.logger.Warn("quota exhausted, skipping channel this cycle",
				zap.String("channel_id", ch.ChannelID))
			continue
		}
		snippets, err := m.fetch(ctx, ch.ChannelID)
		if err != nil {
			failed++
			m.logger.Error("poll channel failed, retrying next cycle",
				zap.String("channel_id", ch.ChannelID), zap.Error(err))
			continue
		}
		evts, recs := m.diff(ch, snippets)
		events = append(events, evts...)
		updated = append(updated, recs...)
	}

	m.statusMu.Lock()
	m.lastPollAt = m.clock.Now()
	if failed == len(channels) && len(channels) > 0 {
		m.consecutiveErrors++
	} else {
		m.consecutiveErrors = 0
	}
	switch {
	case quotaDenied:
		m.degradedReason = "quota window exhausted"
	case failed > 0:
		m.degradedReason = fmt.Sprintf("%d of %d channels failed", failed, len(channels))
	default:
		m.degradedReason = ""
	}
	m.statusMu.Unlock()

	metrics.ObservePoll(string(m.Platform()), failed, m.clock.Now().Sub(start))
	return events, updated
}

func (m *Monitor) fetch(ctx context.Context, channelID string) ([]watch.BroadcastSnippet, error) {
	var lastErr error
	for attempt := 0; attempt < m.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, fmt.Errorf("poll aborted: %w", ctx.Err())
			case <-time.After(m.cfg.RetryBackoff):
			}
		}
		if err := m.quota.Pace(ctx, m.Platform()); err != nil {
			return nil, err
		}
		callCtx, cancel := context.WithTimeout(ctx, m.cfg.CallTimeout)
		snippets, err := m.client.LiveBroadcasts(callCtx, channelID)
		cancel()
		if err == nil {
			return snippets, nil
		}
		lastErr = err
		if !watch.IsTransient(err) {
			break
		}
	}
	return nil, lastErr
}

// diff compares the channel's snippets against the state store and produces
// events. An Updated event fires only on a meaningful delta: title change or
// viewer-count movement past the configured threshold.
func (m *Monitor) diff(ch watch.TrackedChannel, snippets []watch.BroadcastSnippet) ([]watch.ChangeEvent, []watch.StreamRecord) {
	now := m.clock.Now()
	var events []watch.ChangeEvent
	var updated []watch.StreamRecord
	seen := make(map[watch.StreamKey]struct{}, len(snippets))

	channelUpdated := false
	for _, sn := range snippets {
		key := sn.Key(m.Platform())
		seen[key] = struct{}{}

		if !channelUpdated && sn.ChannelTitle != "" && sn.ChannelTitle != m.knownTitle(ch) {
			channelUpdated = true
		}

		record := m.recordFromSnippet(ch, sn, now)
		prior, known := m.store.Get(key)
		expected := watch.StatusScheduled
		if known {
			expected = prior.Status
			if record.StartedAt == nil {
				record.StartedAt = prior.StartedAt
			}
		}
		if !m.store.CompareAndSet(key, expected, record) {
			m.logger.Debug("stale poll result rejected by state store",
				zap.String("stream_key", string(key)))
			continue
		}
		updated = append(updated, record)

		switch {
		case !known && record.Status == watch.StatusLive:
			events = m.append(events, watch.EventOnline, record, now)
		case known && prior.Status == watch.StatusScheduled && record.Status == watch.StatusLive:
			events = m.append(events, watch.EventOnline, record, now)
		case known && prior.Status != watch.StatusEnded && record.Status == watch.StatusEnded:
			events = m.append(events, watch.EventOffline, record, now)
		case known && prior.Status == record.Status && m.meaningfulDelta(prior, record):
			events = m.append(events, watch.EventUpdated, record, now)
		}
	}

	// A live broadcast missing from the listing has ended.
	for _, prior := range m.store.Snapshot() {
		if prior.Platform != m.Platform() || prior.ChannelID != ch.ChannelID {
			continue
		}
		if prior.Status != watch.StatusLive {
			continue
		}
		if _, ok := seen[prior.StreamKey]; ok {
			continue
		}
		ended := prior
		ended.Status = watch.StatusEnded
		endedAt := now
		ended.EndedAt = &endedAt
		ended.LastSeenAt = now
		if !m.store.CompareAndSet(prior.StreamKey, watch.StatusLive, ended) {
			continue
		}
		updated = append(updated, ended)
		events = m.append(events, watch.EventOffline, ended, now)
	}

	if channelUpdated {
		title := firstChannelTitle(snippets)
		m.lastTitles[ch.ChannelID] = title
		rec := watch.StreamRecord{
			Platform:   m.Platform(),
			ChannelID:  ch.ChannelID,
			Title:      title,
			Status:     watch.StatusScheduled,
			LastSeenAt: now,
		}
		events = m.append(events, watch.EventChannelUpdated, rec, now)
	}
	return events, updated
}

// knownTitle returns the title last announced for the channel, falling back
// to the tracked display title before any rename has been seen.
func (m *Monitor) knownTitle(ch watch.TrackedChannel) string {
	if t, ok := m.lastTitles[ch.ChannelID]; ok {
		return t
	}
	return ch.DisplayTitle
}

func (m *Monitor) recordFromSnippet(ch watch.TrackedChannel, sn watch.BroadcastSnippet, now time.Time) watch.StreamRecord {
	return watch.StreamRecord{
		StreamKey:   sn.Key(m.Platform()),
		Platform:    m.Platform(),
		ChannelID:   ch.ChannelID,
		Title:       sn.Title,
		Status:      sn.Status,
		StartedAt:   sn.StartedAt,
		EndedAt:     sn.EndedAt,
		ViewerCount: sn.ViewerCount,
		LastSeenAt:  now,
	}
}

func (m *Monitor) meaningfulDelta(prior, current watch.StreamRecord) bool {
	if prior.Title != current.Title {
		return true
	}
	if prior.ViewerCount == nil || current.ViewerCount == nil {
		return prior.ViewerCount != current.ViewerCount
	}
	delta := *current.ViewerCount - *prior.ViewerCount
	if delta < 0 {
		delta = -delta
	}
	return delta >= m.cfg.ViewerDeltaThreshold
}

func (m *Monitor) append(events []watch.ChangeEvent, t watch.EventType, snapshot watch.StreamRecord, now time.Time) []watch.ChangeEvent {
	id, err := m.ids.NewID()
	if err != nil {
		m.logger.Error("generate event id failed, event dropped", zap.Error(err))
		return events
	}
	metrics.ObserveEvent(string(m.Platform()), string(t))
	return append(events, watch.ChangeEvent{
		EventID:   id,
		Type:      t,
		StreamKey: snapshot.StreamKey,
		Platform:  m.Platform(),
		Snapshot:  snapshot,
		Timestamp: now,
	})
}

// Stop waits for an in-flight cycle to finish, bounded by ctx, then releases
// platform-side resources.
func (m *Monitor) Stop(ctx context.Context) error {
	idle := make(chan struct{})
	go func() {
		// Acquiring the cycle lock means no poll is in flight.
		m.cycleMu.Lock()
		m.cycleMu.Unlock() //nolint:staticcheck
		close(idle)
	}()
	select {
	case <-idle:
	case <-ctx.Done():
		return fmt.Errorf("monitor %s stop: %w", m.Platform(), ctx.Err())
	}
	if closer, ok := m.client.(io.Closer); ok {
		if err := closer.Close(); err != nil {
			return fmt.Errorf("monitor %s close client: %w", m.Platform(), err)
		}
	}
	return nil
}

// Name implements the health checker contract.
func (m *Monitor) Name() string {
	return "monitor." + string(m.Platform())
}

// Check reports the monitor's liveness: Unhealthy on an unbroken error
// streak or when no poll has completed within the staleness bound,
// Degraded while throttled or partially failing.
func (m *Monitor) Check(_ context.Context) watch.HealthRecord {
	m.statusMu.Lock()
	defer m.statusMu.Unlock()
	now := m.clock.Now()
	rec := watch.HealthRecord{
		Component: m.Name(),
		Status:    watch.Healthy,
		Message:   "polling",
		CheckedAt: now,
	}
	switch {
	case m.consecutiveErrors >= m.cfg.ErrorStreakLimit:
		rec.Status = watch.Unhealthy
		rec.Message = fmt.Sprintf("%d consecutive failed cycles", m.consecutiveErrors)
	case now.Sub(m.lastPollAt) > m.cfg.StaleAfter:
		rec.Status = watch.Unhealthy
		rec.Message = fmt.Sprintf("no completed poll since %s", m.lastPollAt.UTC().Format(time.RFC3339))
	case m.degradedReason != "":
		rec.Status = watch.Degraded
		rec.Message = m.degradedReason
	}
	return rec
}

func firstChannelTitle(snippets []watch.BroadcastSnippet) string {
	for _, sn := range snippets {
		if sn.ChannelTitle != "" {
			return sn.ChannelTitle
		}
	}
	return ""
}
