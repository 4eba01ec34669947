package youtube

import (
	"testing"

	"github.com/stretchr/testify/require"
	yt "google.golang.org/api/youtube/v3"

	"github.com/streamwatch/crawler/internal/watch"
)

func TestMembersPlaylistID(t *testing.T) {
	t.Parallel()

	require.Equal(t, "UUMOabc123", membersPlaylistID("UCabc123"))
	require.Equal(t, "custom-id", membersPlaylistID("custom-id"))
}

func TestSnippetFromVideoLive(t *testing.T) {
	t.Parallel()

	sn, ok := snippetFromVideo(&yt.Video{
		Id: "b1",
		Snippet: &yt.VideoSnippet{
			Title:                "morning show",
			LiveBroadcastContent: "live",
		},
		LiveStreamingDetails: &yt.VideoLiveStreamingDetails{
			ActualStartTime:   "2026-08-23T10:00:00Z",
			ConcurrentViewers: 120,
		},
	}, "UCabc", "Creator")
	require.True(t, ok)
	require.Equal(t, watch.StatusLive, sn.Status)
	require.Equal(t, "Creator", sn.ChannelTitle)
	require.NotNil(t, sn.StartedAt)
	require.NotNil(t, sn.ViewerCount)
	require.Equal(t, int64(120), *sn.ViewerCount)
}

func TestSnippetFromVideoUpcomingUsesScheduledStart(t *testing.T) {
	t.Parallel()

	sn, ok := snippetFromVideo(&yt.Video{
		Id: "b2",
		Snippet: &yt.VideoSnippet{
			Title:                "premiere",
			LiveBroadcastContent: "upcoming",
		},
		LiveStreamingDetails: &yt.VideoLiveStreamingDetails{
			ScheduledStartTime: "2026-08-24T18:00:00Z",
		},
	}, "UCabc", "Creator")
	require.True(t, ok)
	require.Equal(t, watch.StatusScheduled, sn.Status)
	require.NotNil(t, sn.StartedAt)
}

func TestSnippetFromVideoEndedOverridesStatus(t *testing.T) {
	t.Parallel()

	sn, ok := snippetFromVideo(&yt.Video{
		Id: "b3",
		Snippet: &yt.VideoSnippet{
			Title:                "finished",
			LiveBroadcastContent: "live",
		},
		LiveStreamingDetails: &yt.VideoLiveStreamingDetails{
			ActualStartTime: "2026-08-23T10:00:00Z",
			ActualEndTime:   "2026-08-23T12:00:00Z",
		},
	}, "UCabc", "Creator")
	require.True(t, ok)
	require.Equal(t, watch.StatusEnded, sn.Status)
	require.NotNil(t, sn.EndedAt)
}

func TestSnippetFromVideoSkipsPlainUploads(t *testing.T) {
	t.Parallel()

	_, ok := snippetFromVideo(&yt.Video{
		Id: "b4",
		Snippet: &yt.VideoSnippet{
			Title:                "vod",
			LiveBroadcastContent: "none",
		},
	}, "UCabc", "Creator")
	require.False(t, ok)

	_, ok = snippetFromVideo(&yt.Video{Id: "b5"}, "UCabc", "Creator")
	require.False(t, ok)
}
