// Package youtube adapts the YouTube Data API to the platform client and
// members-content contracts.
package youtube

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	yt "google.golang.org/api/youtube/v3"

	"github.com/streamwatch/crawler/internal/watch"
)

// Per-call quota charges. channels.list + playlistItems.list + videos.list
// are one unit each.
const pollCost = 3

// Client calls the YouTube Data API v3.
type Client struct {
	svc        *yt.Service
	maxRecents int64
}

// New builds a Client authenticated with an API key.
func New(ctx context.Context, apiKey string) (*Client, error) {
	svc, err := yt.NewService(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("youtube service: %w", err)
	}
	return &Client{svc: svc, maxRecents: 10}, nil
}

// Platform identifies this adapter's platform.
func (c *Client) Platform() watch.Platform {
	return watch.PlatformVideo
}

// CallCost is the quota charge of one LiveBroadcasts call.
func (c *Client) CallCost() int {
	return pollCost
}

// LiveBroadcasts walks the channel's uploads playlist and returns its
// current scheduled and live broadcasts. The uploads-playlist route costs a
// fraction of search.list.
func (c *Client) LiveBroadcasts(ctx context.Context, channelID string) ([]watch.BroadcastSnippet, error) {
	chResp, err := c.svc.Channels.List([]string{"snippet", "contentDetails"}).
		Id(channelID).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("channels.list %s: %w", channelID, err)
	}
	if len(chResp.Items) == 0 {
		return nil, fmt.Errorf("channel %s: %w", channelID, watch.ErrNotFound)
	}
	item := chResp.Items[0]
	channelTitle := item.Snippet.Title
	uploads := item.ContentDetails.RelatedPlaylists.Uploads
	if uploads == "" {
		return nil, nil
	}

	plResp, err := c.svc.PlaylistItems.List([]string{"contentDetails"}).
		PlaylistId(uploads).MaxResults(c.maxRecents).Context(ctx).Do()
	if err != nil {
		if watch.IsPlaylistMissing(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("playlistItems.list %s: %w", uploads, err)
	}
	ids := make([]string, 0, len(plResp.Items))
	for _, it := range plResp.Items {
		if it.ContentDetails != nil && it.ContentDetails.VideoId != "" {
			ids = append(ids, it.ContentDetails.VideoId)
		}
	}
	if len(ids) == 0 {
		return nil, nil
	}

	vResp, err := c.svc.Videos.List([]string{"snippet", "liveStreamingDetails"}).
		Id(ids...).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("videos.list: %w", err)
	}

	var out []watch.BroadcastSnippet
	for _, v := range vResp.Items {
		sn, ok := snippetFromVideo(v, channelID, channelTitle)
		if !ok {
			continue
		}
		out = append(out, sn)
	}
	return out, nil
}

func snippetFromVideo(v *yt.Video, channelID, channelTitle string) (watch.BroadcastSnippet, bool) {
	if v.Snippet == nil {
		return watch.BroadcastSnippet{}, false
	}
	sn := watch.BroadcastSnippet{
		BroadcastID:  v.Id,
		ChannelID:    channelID,
		ChannelTitle: channelTitle,
		Title:        v.Snippet.Title,
	}
	switch v.Snippet.LiveBroadcastContent {
	case "upcoming":
		sn.Status = watch.StatusScheduled
	case "live":
		sn.Status = watch.StatusLive
	default:
		// Plain uploads and finished premieres are not broadcasts we track.
		return watch.BroadcastSnippet{}, false
	}
	if d := v.LiveStreamingDetails; d != nil {
		if t := parseTime(d.ActualStartTime); t != nil {
			sn.StartedAt = t
		} else if t := parseTime(d.ScheduledStartTime); t != nil {
			sn.StartedAt = t
		}
		if t := parseTime(d.ActualEndTime); t != nil {
			sn.EndedAt = t
			sn.Status = watch.StatusEnded
		}
		if d.ConcurrentViewers > 0 {
			viewers := int64(d.ConcurrentViewers)
			sn.ViewerCount = &viewers
		}
	}
	return sn, true
}

func parseTime(value string) *time.Time {
	if value == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return nil
	}
	t = t.UTC()
	return &t
}

// membersPlaylistID derives the members-only playlist from the channel id:
// YouTube maps "UC..." channels to a "UUMO..." playlist.
func membersPlaylistID(channelID string) string {
	if len(channelID) > 2 && channelID[:2] == "UC" {
		return "UUMO" + channelID[2:]
	}
	return channelID
}

// MembersOnlyVideos lists the channel's members-only playlist. A 404 means
// the creator has not published member-only content yet.
func (c *Client) MembersOnlyVideos(ctx context.Context, channelID string) ([]string, error) {
	playlistID := membersPlaylistID(channelID)
	resp, err := c.svc.PlaylistItems.List([]string{"contentDetails"}).
		PlaylistId(playlistID).MaxResults(50).Context(ctx).Do()
	if err != nil {
		if watch.IsPlaylistMissing(err) {
			return nil, fmt.Errorf("members playlist %s: %w", playlistID, watch.ErrPlaylistMissing)
		}
		return nil, fmt.Errorf("members playlist %s: %w", playlistID, err)
	}
	ids := make([]string, 0, len(resp.Items))
	for _, it := range resp.Items {
		if it.ContentDetails != nil && it.ContentDetails.VideoId != "" {
			ids = append(ids, it.ContentDetails.VideoId)
		}
	}
	return ids, nil
}

// ProbeCommentThread reads the video's comment thread. The API reports both
// "no membership" and "comments off" as 403; the reason field tells them
// apart, so the classification happens here rather than by status code.
func (c *Client) ProbeCommentThread(ctx context.Context, videoID string) error {
	_, err := c.svc.CommentThreads.List([]string{"id"}).
		VideoId(videoID).MaxResults(1).Context(ctx).Do()
	if err == nil {
		return nil
	}
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) && apiErr.Code == http.StatusForbidden {
		for _, e := range apiErr.Errors {
			if e.Reason == "commentsDisabled" {
				return fmt.Errorf("video %s: %w", videoID, watch.ErrCommentsDisabled)
			}
		}
		return fmt.Errorf("video %s: %w", videoID, watch.ErrAuthDenied)
	}
	return fmt.Errorf("commentThreads.list %s: %w", videoID, err)
}

// ChannelTitle returns the channel's current display title.
func (c *Client) ChannelTitle(ctx context.Context, channelID string) (string, error) {
	resp, err := c.svc.Channels.List([]string{"snippet"}).Id(channelID).Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("channels.list %s: %w", channelID, err)
	}
	if len(resp.Items) == 0 || resp.Items[0].Snippet == nil {
		return "", fmt.Errorf("channel %s: %w", channelID, watch.ErrNotFound)
	}
	return resp.Items[0].Snippet.Title, nil
}

var _ watch.PlatformClient = (*Client)(nil)
var _ watch.MembersContentAPI = (*Client)(nil)
