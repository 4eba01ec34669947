// Package publish serializes change events into versioned envelopes and
// broadcasts them on the downstream pub/sub broker.
package publish

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/streamwatch/crawler/internal/metrics"
	"github.com/streamwatch/crawler/internal/watch"
)

// EnvelopeVersion is the wire version stamped on every published event.
const EnvelopeVersion = "1.0"

// Broker channel suffixes, one per event category. The configured key prefix
// is prepended at publish time.
const (
	ChannelStreamStart   = "stream.start"
	ChannelStreamEnd     = "stream.end"
	ChannelStreamUpdate  = "stream.update"
	ChannelChannelUpdate = "channel.update"
	ChannelStats         = "monitoring.stats"
	ChannelError         = "error"
)

// Envelope is the versioned wrapper around every published event.
type Envelope struct {
	EventID   string `json:"EventId"`
	EventType string `json:"EventType"`
	Timestamp string `json:"Timestamp"`
	Version   string `json:"Version"`
	Payload   any    `json:"Payload"`
}

// ChannelFor maps an event type to its broker channel suffix.
func ChannelFor(t watch.EventType) string {
	switch t {
	case watch.EventOnline:
		return ChannelStreamStart
	case watch.EventOffline:
		return ChannelStreamEnd
	case watch.EventUpdated:
		return ChannelStreamUpdate
	case watch.EventChannelUpdated:
		return ChannelChannelUpdate
	default:
		return ChannelError
	}
}

// Publisher broadcasts envelopes on the broker. Delivery is at-least-once and
// best-effort: a failed publish is logged and dropped so the poll loop never
// blocks on broker availability; repeated failures surface through Health.
type Publisher struct {
	broker watch.Broker
	prefix string
	clock  watch.Clock
	logger *zap.Logger
	cfg    Config

	consecutiveFailures atomic.Int64
}

// Config controls Publisher behavior.
type Config struct {
	// KeyPrefix namespaces every broker channel, e.g. "streamwatch:".
	KeyPrefix string
	// DegradedAfter and UnhealthyAfter are consecutive-failure thresholds for
	// the health signal.
	DegradedAfter  int
	UnhealthyAfter int
}

// New constructs a Publisher.
func New(broker watch.Broker, clock watch.Clock, cfg Config, logger *zap.Logger) *Publisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.DegradedAfter <= 0 {
		cfg.DegradedAfter = 3
	}
	if cfg.UnhealthyAfter <= cfg.DegradedAfter {
		cfg.UnhealthyAfter = cfg.DegradedAfter * 5
	}
	return &Publisher{
		broker: broker,
		prefix: cfg.KeyPrefix,
		clock:  clock,
		logger: logger,
		cfg:    cfg,
	}
}

// Broadcast publishes one change event. A nil event logs a warning and makes
// zero broker calls.
func (p *Publisher) Broadcast(ctx context.Context, event *watch.ChangeEvent) {
	if event == nil {
		p.logger.Warn("broadcast called with nil event")
		return
	}
	p.publish(ctx, ChannelFor(event.Type), Envelope{
		EventID:   event.EventID,
		EventType: string(event.Type),
		Timestamp: event.Timestamp.UTC().Format(time.RFC3339),
		Version:   EnvelopeVersion,
		Payload:   event.Snapshot,
	})
}

// BroadcastBatch publishes the cycle's events in order. An empty batch is a
// no-op with zero broker calls.
func (p *Publisher) BroadcastBatch(ctx context.Context, events []watch.ChangeEvent) {
	for i := range events {
		p.Broadcast(ctx, &events[i])
	}
}

// BroadcastStats publishes per-platform quota usage on the stats channel.
func (p *Publisher) BroadcastStats(ctx context.Context, eventID string, states []watch.QuotaState) {
	if len(states) == 0 {
		return
	}
	p.publish(ctx, ChannelStats, Envelope{
		EventID:   eventID,
		EventType: "QuotaStats",
		Timestamp: p.clock.Now().UTC().Format(time.RFC3339),
		Version:   EnvelopeVersion,
		Payload:   states,
	})
}

func (p *Publisher) publish(ctx context.Context, suffix string, env Envelope) {
	data, err := json.Marshal(env)
	if err != nil {
		p.logger.Error("marshal envelope failed", zap.String("channel", suffix), zap.Error(err))
		return
	}
	channel := p.prefix + suffix
	if err := p.broker.Publish(ctx, channel, data); err != nil {
		n := p.consecutiveFailures.Add(1)
		metrics.ObservePublishDrop()
		p.logger.Error("publish failed, event dropped",
			zap.String("channel", channel),
			zap.String("event_id", env.EventID),
			zap.Int64("consecutive_failures", n),
			zap.Error(err),
		)
		return
	}
	p.consecutiveFailures.Store(0)
}

// Name implements the health checker contract.
func (p *Publisher) Name() string { return "publisher" }

// Check reports publisher health from the consecutive-failure streak.
func (p *Publisher) Check(_ context.Context) watch.HealthRecord {
	n := p.consecutiveFailures.Load()
	rec := watch.HealthRecord{
		Component: p.Name(),
		Status:    watch.Healthy,
		Message:   "publishing",
		CheckedAt: p.clock.Now(),
	}
	switch {
	case n >= int64(p.cfg.UnhealthyAfter):
		rec.Status = watch.Unhealthy
		rec.Message = fmt.Sprintf("%d consecutive publish failures", n)
	case n >= int64(p.cfg.DegradedAfter):
		rec.Status = watch.Degraded
		rec.Message = fmt.Sprintf("%d consecutive publish failures", n)
	}
	return rec
}
