// Package scheduler owns startup/shutdown sequencing and the two crawl
// loops, composing the monitors, publisher, probe, and stores.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/streamwatch/crawler/internal/health"
	"github.com/streamwatch/crawler/internal/metrics"
	"github.com/streamwatch/crawler/internal/monitor"
	"github.com/streamwatch/crawler/internal/probe"
	"github.com/streamwatch/crawler/internal/publish"
	"github.com/streamwatch/crawler/internal/quota"
	"github.com/streamwatch/crawler/internal/repository"
	"github.com/streamwatch/crawler/internal/state"
	"github.com/streamwatch/crawler/internal/watch"
)

// State is the scheduler lifecycle stage.
type State int32

// Lifecycle states. Stopped and FailedToStart are terminal; a stopped
// scheduler cannot be restarted, construct a new one.
const (
	StateNotStarted State = iota
	StateInitializing
	StateRunning
	StateStopping
	StateStopped
	StateFailedToStart
)

// String returns the logged form of the state.
func (s State) String() string {
	switch s {
	case StateNotStarted:
		return "NotStarted"
	case StateInitializing:
		return "Initializing"
	case StateRunning:
		return "Running"
	case StateStopping:
		return "Stopping"
	case StateStopped:
		return "Stopped"
	case StateFailedToStart:
		return "FailedToStart"
	default:
		return fmt.Sprintf("unknown(%d)", int32(s))
	}
}

// Config controls scheduler timing.
type Config struct {
	PollInterval        time.Duration
	MaintenanceInterval time.Duration
	// StartupTimeout bounds the storage/broker reachability checks.
	StartupTimeout time.Duration
	// StopGrace bounds in-flight work during shutdown, per monitor.
	StopGrace time.Duration
	// StaleRetention is how long ended records stay in the state store.
	StaleRetention time.Duration
}

func (c Config) withDefaults() Config {
	if c.PollInterval <= 0 {
		c.PollInterval = 30 * time.Second
	}
	if c.MaintenanceInterval <= 0 {
		c.MaintenanceInterval = 5 * time.Minute
	}
	if c.StartupTimeout <= 0 {
		c.StartupTimeout = 10 * time.Second
	}
	if c.StopGrace <= 0 {
		c.StopGrace = 15 * time.Second
	}
	if c.StaleRetention <= 0 {
		c.StaleRetention = 24 * time.Hour
	}
	return c
}

// Scheduler alternates the poll loop and the maintenance loop under one
// shutdown signal.
type Scheduler struct {
	repo      watch.Repository
	saver     *repository.RetryingSaver
	broker    watch.Broker
	publisher *publish.Publisher
	monitors  []*monitor.Monitor
	prober    *probe.Prober
	tracker   *quota.Tracker
	store     *state.Store
	health    *health.Aggregator
	clock     watch.Clock
	ids       watch.IDGenerator
	logger    *zap.Logger
	cfg       Config

	state atomic.Int32
}

// Deps bundles the collaborators the scheduler composes.
type Deps struct {
	Repo      watch.Repository
	Saver     *repository.RetryingSaver
	Broker    watch.Broker
	Publisher *publish.Publisher
	Monitors  []*monitor.Monitor
	Prober    *probe.Prober
	Tracker   *quota.Tracker
	Store     *state.Store
	Health    *health.Aggregator
	Clock     watch.Clock
	IDs       watch.IDGenerator
	Logger    *zap.Logger
}

// New constructs a Scheduler in NotStarted.
func New(deps Deps, cfg Config) *Scheduler {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		repo:      deps.Repo,
		saver:     deps.Saver,
		broker:    deps.Broker,
		publisher: deps.Publisher,
		monitors:  deps.Monitors,
		prober:    deps.Prober,
		tracker:   deps.Tracker,
		store:     deps.Store,
		health:    deps.Health,
		clock:     deps.Clock,
		ids:       deps.IDs,
		logger:    logger,
		cfg:       cfg.withDefaults(),
	}
}

// State returns the current lifecycle stage.
func (s *Scheduler) State() State {
	return State(s.state.Load())
}

func (s *Scheduler) transition(from, to State) bool {
	return s.state.CompareAndSwap(int32(from), int32(to))
}

// Run verifies dependencies, starts both loops, and blocks until ctx is
// canceled, then performs the stop sequence. Storage or broker unreachable
// at startup is fatal: the scheduler lands in FailedToStart and the error
// propagates instead of entering Running half-configured.
func (s *Scheduler) Run(ctx context.Context) error {
	if !s.transition(StateNotStarted, StateInitializing) {
		return fmt.Errorf("scheduler already started (state %s)", s.State())
	}
	if err := s.initialize(ctx); err != nil {
		s.state.Store(int32(StateFailedToStart))
		return err
	}
	s.state.Store(int32(StateRunning))
	s.logger.Info("crawler running",
		zap.Duration("poll_interval", s.cfg.PollInterval),
		zap.Duration("maintenance_interval", s.cfg.MaintenanceInterval),
		zap.Int("monitors", len(s.monitors)),
	)

	loopCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		s.pollLoop(loopCtx)
	}()
	go func() {
		defer wg.Done()
		s.maintenanceLoop(loopCtx)
	}()

	<-ctx.Done()
	s.state.Store(int32(StateStopping))
	s.logger.Info("shutdown signal received")
	cancel()
	wg.Wait()
	s.stopMonitors()
	// The broker connection is closed last so in-flight stops can still
	// publish.
	if err := s.broker.Close(); err != nil {
		s.logger.Warn("broker close failed", zap.Error(err))
	}
	s.state.Store(int32(StateStopped))
	s.logger.Info("crawler stopped")
	return nil
}

func (s *Scheduler) initialize(ctx context.Context) error {
	checkCtx, cancel := context.WithTimeout(ctx, s.cfg.StartupTimeout)
	defer cancel()
	if err := s.repo.Ping(checkCtx); err != nil {
		return fmt.Errorf("storage unreachable at startup: %w", err)
	}
	if err := s.broker.Ping(checkCtx); err != nil {
		return fmt.Errorf("broker unreachable at startup: %w", err)
	}
	if len(s.monitors) == 0 {
		return errors.New("no platform monitors configured")
	}
	return nil
}

func (s *Scheduler) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()
	for {
		s.pollAll(ctx)
		s.selfCheck(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// pollAll runs every monitor's cycle concurrently; each monitor serializes
// its own channels internally.
func (s *Scheduler) pollAll(ctx context.Context) {
	var wg sync.WaitGroup
	for _, m := range s.monitors {
		wg.Add(1)
		go func(m *monitor.Monitor) {
			defer wg.Done()
			channels, err := s.repo.ListTrackedChannels(ctx, m.Platform())
			if err != nil {
				s.logger.Error("list tracked channels failed",
					zap.String("platform", string(m.Platform())), zap.Error(err))
				return
			}
			events, updated := m.PollOnce(ctx, channels)
			s.publisher.BroadcastBatch(ctx, events)
			for _, rec := range updated {
				if outcome := s.saver.Save(ctx, rec); outcome != repository.Saved {
					s.logger.Warn("record save gave up, in-memory state remains source of truth",
						zap.String("stream_key", string(rec.StreamKey)))
				}
			}
		}(m)
	}
	wg.Wait()
	metrics.SetTrackedStreams(s.store.Len())
}

// selfCheck samples aggregate health on the poll cadence. It only warns; a
// degraded report never halts the loop.
func (s *Scheduler) selfCheck(ctx context.Context) {
	if s.health == nil || ctx.Err() != nil {
		return
	}
	report := s.health.Check(ctx)
	if report.Status != watch.Healthy {
		s.logger.Warn("health self-check not healthy",
			zap.String("status", report.Status.String()))
	}
}

func (s *Scheduler) maintenanceLoop(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.MaintenanceInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		s.maintain(ctx)
	}
}

// maintain resets elapsed quota windows, prunes stale records, republishes
// quota stats, and re-evaluates membership probes.
func (s *Scheduler) maintain(ctx context.Context) {
	var states []watch.QuotaState
	for _, platform := range s.tracker.Platforms() {
		s.tracker.ResetIfWindowElapsed(platform)
		st := s.tracker.CurrentUsage(platform)
		metrics.ObserveQuota(string(platform), st.UsedUnits, st.LimitUnits)
		states = append(states, st)
	}
	if id, err := s.ids.NewID(); err == nil {
		s.publisher.BroadcastStats(ctx, id, states)
	} else {
		s.logger.Error("generate stats event id failed", zap.Error(err))
	}

	if pruned := s.store.PruneEnded(s.clock.Now(), s.cfg.StaleRetention); pruned > 0 {
		s.logger.Info("pruned stale stream records", zap.Int("count", pruned))
	}

	if s.prober != nil {
		s.prober.RunPass(ctx)
	}
}

// stopMonitors fans out stop attempts and awaits them independently; one
// monitor failing or timing out never blocks the others.
func (s *Scheduler) stopMonitors() {
	var wg sync.WaitGroup
	for _, m := range s.monitors {
		wg.Add(1)
		go func(m *monitor.Monitor) {
			defer wg.Done()
			stopCtx, cancel := context.WithTimeout(context.Background(), s.cfg.StopGrace)
			defer cancel()
			if err := m.Stop(stopCtx); err != nil {
				s.logger.Warn("monitor stop failed",
					zap.String("platform", string(m.Platform())), zap.Error(err))
			}
		}(m)
	}
	wg.Wait()
}
