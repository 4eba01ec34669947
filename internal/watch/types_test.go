package watch

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStreamStatusOrdering(t *testing.T) {
	t.Parallel()

	require.True(t, StatusScheduled.Before(StatusLive))
	require.True(t, StatusLive.Before(StatusEnded))
	require.False(t, StatusEnded.Before(StatusLive))
	require.False(t, StatusLive.Before(StatusLive))
}

func TestStreamStatusJSONRoundTrip(t *testing.T) {
	t.Parallel()

	data, err := json.Marshal(StatusLive)
	require.NoError(t, err)
	require.Equal(t, `"live"`, string(data))

	var got StreamStatus
	require.NoError(t, json.Unmarshal(data, &got))
	require.Equal(t, StatusLive, got)

	require.Error(t, json.Unmarshal([]byte(`"paused"`), &got))
}

func TestNewStreamKey(t *testing.T) {
	t.Parallel()

	key := NewStreamKey(PlatformVideo, "abc123")
	require.Equal(t, StreamKey("video:abc123"), key)
	require.Equal(t, key, BroadcastSnippet{BroadcastID: "abc123"}.Key(PlatformVideo))
}

func TestQuotaStateExhausted(t *testing.T) {
	t.Parallel()

	st := QuotaState{UsedUnits: 9, LimitUnits: 10}
	require.False(t, st.Exhausted(1))
	require.True(t, st.Exhausted(2))
}

func TestHealthStatusWorst(t *testing.T) {
	t.Parallel()

	require.Equal(t, Degraded, Healthy.Worst(Degraded))
	require.Equal(t, Unhealthy, Degraded.Worst(Unhealthy))
	require.Equal(t, Unhealthy, Unhealthy.Worst(Healthy))
	require.Equal(t, Healthy, Healthy.Worst(Healthy))
}

func TestMembershipProbeStateVerified(t *testing.T) {
	t.Parallel()

	require.False(t, MembershipProbeState{}.Verified())
	require.True(t, MembershipProbeState{VerifiedMarkerVideoID: "v1"}.Verified())
}
