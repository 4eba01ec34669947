// Package repository implements the external store of tracked channels,
// stream records, and membership-probe state.
package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/streamwatch/crawler/internal/watch"
)

// DB is the subset of pgxpool.Pool the repository needs. pgxmock satisfies
// it in tests.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
}

// Postgres is the production repository backed by a pgx pool.
type Postgres struct {
	db DB
}

// NewPostgres connects a pool for the DSN and returns the repository.
func NewPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Postgres{db: pool}, nil
}

// NewPostgresWithDB wraps an existing connection, used by tests.
func NewPostgresWithDB(db DB) *Postgres {
	return &Postgres{db: db}
}

// ListTrackedChannels returns the channels registered for the platform.
func (p *Postgres) ListTrackedChannels(ctx context.Context, platform watch.Platform) ([]watch.TrackedChannel, error) {
	rows, err := p.db.Query(ctx,
		`SELECT platform, channel_id, display_title, trusted
		 FROM tracked_channels WHERE platform = $1`, string(platform))
	if err != nil {
		return nil, fmt.Errorf("list tracked channels: %w", err)
	}
	defer rows.Close()

	var out []watch.TrackedChannel
	for rows.Next() {
		var ch watch.TrackedChannel
		var pf string
		if err := rows.Scan(&pf, &ch.ChannelID, &ch.DisplayTitle, &ch.Trusted); err != nil {
			return nil, fmt.Errorf("scan tracked channel: %w", err)
		}
		ch.Platform = watch.Platform(pf)
		out = append(out, ch)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tracked channels: %w", err)
	}
	return out, nil
}

// SaveStreamRecord upserts the record keyed by stream key.
func (p *Postgres) SaveStreamRecord(ctx context.Context, record watch.StreamRecord) error {
	_, err := p.db.Exec(ctx,
		`INSERT INTO stream_records
		   (stream_key, platform, channel_id, title, status, started_at, ended_at, viewer_count, last_seen_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 ON CONFLICT (stream_key) DO UPDATE SET
		   title = EXCLUDED.title,
		   status = EXCLUDED.status,
		   started_at = COALESCE(EXCLUDED.started_at, stream_records.started_at),
		   ended_at = COALESCE(EXCLUDED.ended_at, stream_records.ended_at),
		   viewer_count = EXCLUDED.viewer_count,
		   last_seen_at = EXCLUDED.last_seen_at`,
		string(record.StreamKey), string(record.Platform), record.ChannelID,
		record.Title, record.Status.String(), record.StartedAt, record.EndedAt,
		record.ViewerCount, record.LastSeenAt,
	)
	if err != nil {
		return fmt.Errorf("save stream record %s: %w", record.StreamKey, err)
	}
	return nil
}

// Ping verifies the database is reachable.
func (p *Postgres) Ping(ctx context.Context) error {
	if err := p.db.Ping(ctx); err != nil {
		return fmt.Errorf("postgres ping: %w", err)
	}
	return nil
}

// ProbeChannels lists channels still lacking a verified marker video.
func (p *Postgres) ProbeChannels(ctx context.Context) ([]watch.MembershipProbeState, error) {
	rows, err := p.db.Query(ctx,
		`SELECT mp.channel_id, tc.display_title, mp.candidate_video_id, mp.verified_marker_video_id, mp.last_checked_at
		 FROM membership_probes mp
		 JOIN tracked_channels tc ON tc.channel_id = mp.channel_id
		 WHERE mp.verified_marker_video_id = ''`)
	if err != nil {
		return nil, fmt.Errorf("list probe channels: %w", err)
	}
	defer rows.Close()

	var out []watch.MembershipProbeState
	for rows.Next() {
		var st watch.MembershipProbeState
		if err := rows.Scan(&st.ChannelID, &st.DisplayTitle, &st.CandidateVideoID,
			&st.VerifiedMarkerVideoID, &st.LastCheckedAt); err != nil {
			return nil, fmt.Errorf("scan probe state: %w", err)
		}
		out = append(out, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate probe channels: %w", err)
	}
	return out, nil
}

// SaveProbeState upserts the channel's probe progress.
func (p *Postgres) SaveProbeState(ctx context.Context, st watch.MembershipProbeState) error {
	_, err := p.db.Exec(ctx,
		`INSERT INTO membership_probes (channel_id, candidate_video_id, verified_marker_video_id, last_checked_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (channel_id) DO UPDATE SET
		   candidate_video_id = EXCLUDED.candidate_video_id,
		   verified_marker_video_id = EXCLUDED.verified_marker_video_id,
		   last_checked_at = EXCLUDED.last_checked_at`,
		st.ChannelID, st.CandidateVideoID, st.VerifiedMarkerVideoID, st.LastCheckedAt,
	)
	if err != nil {
		return fmt.Errorf("save probe state %s: %w", st.ChannelID, err)
	}
	return nil
}

// DropProbeChannel removes the channel from the probe queue.
func (p *Postgres) DropProbeChannel(ctx context.Context, channelID string) error {
	if _, err := p.db.Exec(ctx,
		`DELETE FROM membership_probes WHERE channel_id = $1`, channelID); err != nil {
		return fmt.Errorf("drop probe channel %s: %w", channelID, err)
	}
	return nil
}

// UpdateChannelTitle refreshes the stored display title.
func (p *Postgres) UpdateChannelTitle(ctx context.Context, channelID, title string) error {
	if _, err := p.db.Exec(ctx,
		`UPDATE tracked_channels SET display_title = $2 WHERE channel_id = $1`,
		channelID, title); err != nil {
		return fmt.Errorf("update channel title %s: %w", channelID, err)
	}
	return nil
}

var _ watch.Repository = (*Postgres)(nil)
var _ watch.ProbeStore = (*Postgres)(nil)

// Close releases the pool when the repository owns one.
func (p *Postgres) Close() {
	if pool, ok := p.db.(*pgxpool.Pool); ok {
		pool.Close()
	}
}
