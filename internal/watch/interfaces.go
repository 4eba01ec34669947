package watch

import (
	"context"
	"time"
)

// Repository is the external store of tracked channels and stream records.
// The crawler reads tracked channels and writes stream records; everything
// else about the store (guild config, registrations) belongs to the bot side.
type Repository interface {
	ListTrackedChannels(ctx context.Context, platform Platform) ([]TrackedChannel, error)
	SaveStreamRecord(ctx context.Context, record StreamRecord) error
	Ping(ctx context.Context) error
}

// ProbeStore persists membership-probe progress per channel.
type ProbeStore interface {
	// ProbeChannels lists channels still lacking a verified marker video.
	ProbeChannels(ctx context.Context) ([]MembershipProbeState, error)
	SaveProbeState(ctx context.Context, state MembershipProbeState) error
	// DropProbeChannel removes a channel from the probe queue, used when the
	// platform reports no members-only content exists yet.
	DropProbeChannel(ctx context.Context, channelID string) error
	UpdateChannelTitle(ctx context.Context, channelID, title string) error
}

// Broker is the publish side of the downstream pub/sub channel.
type Broker interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Ping(ctx context.Context) error
	Close() error
}

// PlatformClient fetches current broadcast info for one platform. Adapters
// map the platform's raw API payload onto BroadcastSnippet; monitors never
// see wire formats.
type PlatformClient interface {
	Platform() Platform
	// LiveBroadcasts returns the channel's current scheduled and live
	// broadcasts. A broadcast absent from the listing that we previously saw
	// live is treated as ended by the monitor.
	LiveBroadcasts(ctx context.Context, channelID string) ([]BroadcastSnippet, error)
	// CallCost is the quota units one LiveBroadcasts call charges.
	CallCost() int
}

// MembersContentAPI is the platform surface the membership probe needs.
type MembersContentAPI interface {
	// MembersOnlyVideos lists video ids in the channel's members-only
	// playlist. Returns ErrPlaylistMissing when the creator has not published
	// member-only content yet.
	MembersOnlyVideos(ctx context.Context, channelID string) ([]string, error)
	// ProbeCommentThread reads the video's comment thread and returns nil on
	// success, ErrAuthDenied when the caller lacks membership (the signal the
	// probe is after), or ErrCommentsDisabled.
	ProbeCommentThread(ctx context.Context, videoID string) error
	ChannelTitle(ctx context.Context, channelID string) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces event IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}

// Rand is the randomness source the probe samples candidates with. Injected
// so tests can seed or script the sequence.
type Rand interface {
	// Intn returns a uniform int in [0, n). n must be > 0.
	Intn(n int) int
}
