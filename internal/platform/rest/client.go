// Package rest is the platform adapter for APIs that expose live broadcasts
// over a plain JSON endpoint: the live-audio, micro-streaming, and clip
// platforms all fit the same shape and differ only in base URL, auth header,
// and call cost.
package rest

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/streamwatch/crawler/internal/watch"
)

// Config describes one platform endpoint.
type Config struct {
	Platform watch.Platform
	BaseURL  string
	// APIKey is sent as a bearer token when non-empty.
	APIKey string
	// CallCost is the quota units one listing call charges. Defaults to 1.
	CallCost int
	Timeout  time.Duration
}

// Client polls a JSON live-listing endpoint.
type Client struct {
	cfg  Config
	http *http.Client
}

// New builds a Client for the endpoint.
func New(cfg Config) *Client {
	if cfg.CallCost <= 0 {
		cfg.CallCost = 1
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &Client{
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.Timeout},
	}
}

// Platform identifies this adapter's platform.
func (c *Client) Platform() watch.Platform {
	return c.cfg.Platform
}

// CallCost is the quota charge of one LiveBroadcasts call.
func (c *Client) CallCost() int {
	return c.cfg.CallCost
}

// broadcastPayload is the wire shape of one listed broadcast.
type broadcastPayload struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	State       string     `json:"state"`
	StartedAt   *time.Time `json:"started_at"`
	EndedAt     *time.Time `json:"ended_at"`
	ViewerCount *int64     `json:"viewer_count"`
}

type listResponse struct {
	Creator struct {
		ID    string `json:"id"`
		Title string `json:"title"`
	} `json:"creator"`
	Broadcasts []broadcastPayload `json:"broadcasts"`
}

// LiveBroadcasts lists the creator's current broadcasts.
func (c *Client) LiveBroadcasts(ctx context.Context, channelID string) ([]watch.BroadcastSnippet, error) {
	endpoint := fmt.Sprintf("%s/v1/creators/%s/broadcasts", c.cfg.BaseURL, url.PathEscape(channelID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s broadcasts %s: %w", c.cfg.Platform, channelID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("%s broadcasts %s: %w", c.cfg.Platform, channelID,
			&watch.StatusError{StatusCode: resp.StatusCode, Body: string(body)})
	}

	var payload listResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("%s broadcasts %s: decode: %w", c.cfg.Platform, channelID, err)
	}

	out := make([]watch.BroadcastSnippet, 0, len(payload.Broadcasts))
	for _, b := range payload.Broadcasts {
		status, ok := statusFromState(b.State)
		if !ok {
			continue
		}
		out = append(out, watch.BroadcastSnippet{
			BroadcastID:  b.ID,
			ChannelID:    channelID,
			ChannelTitle: payload.Creator.Title,
			Title:        b.Title,
			Status:       status,
			StartedAt:    b.StartedAt,
			EndedAt:      b.EndedAt,
			ViewerCount:  b.ViewerCount,
		})
	}
	return out, nil
}

func statusFromState(state string) (watch.StreamStatus, bool) {
	switch state {
	case "scheduled":
		return watch.StatusScheduled, true
	case "running", "live":
		return watch.StatusLive, true
	case "ended":
		return watch.StatusEnded, true
	default:
		return 0, false
	}
}

// Close is a no-op; the shared http.Client owns no per-adapter resources.
func (c *Client) Close() error {
	return nil
}

var _ watch.PlatformClient = (*Client)(nil)
