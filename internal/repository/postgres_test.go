package repository

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/streamwatch/crawler/internal/watch"
)

func newMockRepo(t *testing.T) (*Postgres, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return NewPostgresWithDB(mock), mock
}

func TestListTrackedChannels(t *testing.T) {
	t.Parallel()

	repo, mock := newMockRepo(t)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT platform, channel_id, display_title, trusted")).
		WithArgs("video").
		WillReturnRows(pgxmock.NewRows([]string{"platform", "channel_id", "display_title", "trusted"}).
			AddRow("video", "ch-1", "Creator One", true).
			AddRow("video", "ch-2", "Creator Two", false))

	channels, err := repo.ListTrackedChannels(context.Background(), watch.PlatformVideo)
	require.NoError(t, err)
	require.Len(t, channels, 2)
	require.Equal(t, watch.PlatformVideo, channels[0].Platform)
	require.Equal(t, "ch-1", channels[0].ChannelID)
	require.True(t, channels[0].Trusted)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveStreamRecordUpserts(t *testing.T) {
	t.Parallel()

	repo, mock := newMockRepo(t)
	started := time.Unix(1700000000, 0).UTC()
	viewers := int64(120)
	rec := watch.StreamRecord{
		StreamKey:   watch.NewStreamKey(watch.PlatformVideo, "b1"),
		Platform:    watch.PlatformVideo,
		ChannelID:   "ch-1",
		Title:       "show",
		Status:      watch.StatusLive,
		StartedAt:   &started,
		ViewerCount: &viewers,
		LastSeenAt:  started.Add(time.Minute),
	}

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO stream_records")).
		WithArgs("video:b1", "video", "ch-1", "show", "live",
			rec.StartedAt, rec.EndedAt, rec.ViewerCount, rec.LastSeenAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, repo.SaveStreamRecord(context.Background(), rec))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveStreamRecordWrapsError(t *testing.T) {
	t.Parallel()

	repo, mock := newMockRepo(t)
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO stream_records")).
		WillReturnError(errors.New("deadlock detected"))

	err := repo.SaveStreamRecord(context.Background(), watch.StreamRecord{
		StreamKey: watch.NewStreamKey(watch.PlatformVideo, "b1"),
		Platform:  watch.PlatformVideo,
	})
	require.Error(t, err)
	require.Contains(t, err.Error(), "video:b1")
}

func TestPing(t *testing.T) {
	t.Parallel()

	repo, mock := newMockRepo(t)
	mock.ExpectPing()
	require.NoError(t, repo.Ping(context.Background()))

	mock.ExpectPing().WillReturnError(errors.New("no route to host"))
	require.Error(t, repo.Ping(context.Background()))
}

func TestProbeChannelsListsUnverified(t *testing.T) {
	t.Parallel()

	repo, mock := newMockRepo(t)
	checked := time.Unix(1700000000, 0).UTC()
	mock.ExpectQuery(regexp.QuoteMeta("FROM membership_probes")).
		WillReturnRows(pgxmock.NewRows([]string{
			"channel_id", "display_title", "candidate_video_id", "verified_marker_video_id", "last_checked_at",
		}).AddRow("ch-1", "Creator", "", "", checked))

	states, err := repo.ProbeChannels(context.Background())
	require.NoError(t, err)
	require.Len(t, states, 1)
	require.Equal(t, "ch-1", states[0].ChannelID)
	require.False(t, states[0].Verified())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveProbeState(t *testing.T) {
	t.Parallel()

	repo, mock := newMockRepo(t)
	st := watch.MembershipProbeState{
		ChannelID:             "ch-1",
		CandidateVideoID:      "v2",
		VerifiedMarkerVideoID: "v2",
		LastCheckedAt:         time.Unix(1700000000, 0).UTC(),
	}
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO membership_probes")).
		WithArgs(st.ChannelID, st.CandidateVideoID, st.VerifiedMarkerVideoID, st.LastCheckedAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, repo.SaveProbeState(context.Background(), st))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDropProbeChannel(t *testing.T) {
	t.Parallel()

	repo, mock := newMockRepo(t)
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM membership_probes")).
		WithArgs("ch-1").
		WillReturnResult(pgxmock.NewResult("DELETE", 1))

	require.NoError(t, repo.DropProbeChannel(context.Background(), "ch-1"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateChannelTitle(t *testing.T) {
	t.Parallel()

	repo, mock := newMockRepo(t)
	mock.ExpectExec(regexp.QuoteMeta("UPDATE tracked_channels")).
		WithArgs("ch-1", "Creator Renamed").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, repo.UpdateChannelTitle(context.Background(), "ch-1", "Creator Renamed"))
	require.NoError(t, mock.ExpectationsWereMet())
}
