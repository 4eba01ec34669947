// Package watch defines core types shared across the crawler subsystems.
package watch

import (
	"encoding/json"
	"fmt"
	"time"
)

// Platform identifies one external live-streaming service.
type Platform string

// Monitored platforms.
const (
	PlatformVideo     Platform = "video"
	PlatformLiveAudio Platform = "liveaudio"
	PlatformMicro     Platform = "micro"
	PlatformClip      Platform = "clip"
)

// StreamStatus is the lifecycle state of one broadcast. Transitions are
// monotonic: Scheduled -> Live -> Ended, never backwards.
type StreamStatus int

// Broadcast lifecycle states, in lifecycle order.
const (
	StatusScheduled StreamStatus = iota
	StatusLive
	StatusEnded
)

// String returns the persisted form of the status.
func (s StreamStatus) String() string {
	switch s {
	case StatusScheduled:
		return "scheduled"
	case StatusLive:
		return "live"
	case StatusEnded:
		return "ended"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// Before reports whether s is strictly earlier in the lifecycle than other.
func (s StreamStatus) Before(other StreamStatus) bool {
	return s < other
}

// MarshalJSON encodes the status as its string form.
func (s StreamStatus) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// UnmarshalJSON decodes the string form produced by MarshalJSON.
func (s *StreamStatus) UnmarshalJSON(data []byte) error {
	var text string
	if err := json.Unmarshal(data, &text); err != nil {
		return fmt.Errorf("unmarshal stream status: %w", err)
	}
	switch text {
	case "scheduled":
		*s = StatusScheduled
	case "live":
		*s = StatusLive
	case "ended":
		*s = StatusEnded
	default:
		return fmt.Errorf("unknown stream status %q", text)
	}
	return nil
}

// StreamKey uniquely identifies one broadcast across all platforms. Keys are
// never reused once a broadcast ends.
type StreamKey string

// NewStreamKey builds the canonical key for a broadcast.
func NewStreamKey(platform Platform, broadcastID string) StreamKey {
	return StreamKey(string(platform) + ":" + broadcastID)
}

// TrackedChannel is a channel registered for monitoring. The crawler reads
// these from the repository collaborator and never creates or deletes them.
type TrackedChannel struct {
	Platform     Platform
	ChannelID    string
	DisplayTitle string
	Trusted      bool
}

// StreamRecord is the last-known state of one broadcast. It is owned by the
// state store and mutated only through its compare-and-set operation.
type StreamRecord struct {
	StreamKey   StreamKey    `json:"stream_key"`
	Platform    Platform     `json:"platform"`
	ChannelID   string       `json:"channel_id"`
	Title       string       `json:"title"`
	Status      StreamStatus `json:"status"`
	StartedAt   *time.Time   `json:"started_at,omitempty"`
	EndedAt     *time.Time   `json:"ended_at,omitempty"`
	ViewerCount *int64       `json:"viewer_count,omitempty"`
	LastSeenAt  time.Time    `json:"last_seen_at"`
}

// EventType tags a ChangeEvent with its transition semantics. Payload shape is
// identical across types; only the intent differs.
type EventType string

// Change event types emitted by platform monitors.
const (
	EventOnline         EventType = "Online"
	EventOffline        EventType = "Offline"
	EventUpdated        EventType = "Updated"
	EventChannelUpdated EventType = "ChannelUpdated"
)

// ChangeEvent records one detected transition. Events are immutable once
// created and consumed exactly once by the publisher.
type ChangeEvent struct {
	EventID   string
	Type      EventType
	StreamKey StreamKey
	Platform  Platform
	Snapshot  StreamRecord
	Timestamp time.Time
}

// QuotaState is a point-in-time view of one platform's API budget window.
type QuotaState struct {
	Platform      Platform
	UsedUnits     int
	LimitUnits    int
	WindowResetAt time.Time
}

// Exhausted reports whether no further call of the given cost fits the window.
func (q QuotaState) Exhausted(cost int) bool {
	return q.UsedUnits+cost > q.LimitUnits
}

// BroadcastSnippet is the typed result of one platform API poll, already
// mapped out of the platform's raw payload by its adapter.
type BroadcastSnippet struct {
	BroadcastID  string
	ChannelID    string
	ChannelTitle string
	Title        string
	Status       StreamStatus
	StartedAt    *time.Time
	EndedAt      *time.Time
	ViewerCount  *int64
}

// Key returns the stream key for the snippet on the given platform.
func (s BroadcastSnippet) Key(platform Platform) StreamKey {
	return NewStreamKey(platform, s.BroadcastID)
}

// MembershipProbeState tracks the marker-video search for one channel.
// VerifiedMarkerVideoID stays empty until a candidate video answers the
// comment-thread probe with an authorization denial.
type MembershipProbeState struct {
	ChannelID             string
	DisplayTitle          string
	CandidateVideoID      string
	VerifiedMarkerVideoID string
	LastCheckedAt         time.Time
}

// Verified reports whether a marker video has been confirmed.
func (s MembershipProbeState) Verified() bool {
	return s.VerifiedMarkerVideoID != ""
}

// HealthStatus orders component health from best to worst.
type HealthStatus int

// Health states. Degraded means operational but impaired (throttled,
// partially failing); Unhealthy means not operational.
const (
	Healthy HealthStatus = iota
	Degraded
	Unhealthy
)

// String returns the reported form of the status.
func (s HealthStatus) String() string {
	switch s {
	case Healthy:
		return "Healthy"
	case Degraded:
		return "Degraded"
	case Unhealthy:
		return "Unhealthy"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// MarshalJSON encodes the status as its string form.
func (s HealthStatus) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// Worst returns the worse of the two statuses.
func (s HealthStatus) Worst(other HealthStatus) HealthStatus {
	if other > s {
		return other
	}
	return s
}

// HealthRecord is one component's contribution to a health query. Records are
// recomputed on every query and never persisted.
type HealthRecord struct {
	Component string
	Status    HealthStatus
	Message   string
	CheckedAt time.Time
}
