package repository

import (
	"context"
	"sync"

	"github.com/streamwatch/crawler/internal/watch"
)

// Memory is an in-memory repository for tests and broker-less local runs.
type Memory struct {
	mu       sync.RWMutex
	channels map[watch.Platform][]watch.TrackedChannel
	records  map[watch.StreamKey]watch.StreamRecord
	probes   map[string]watch.MembershipProbeState
	saveErr  error
	pingErr  error
}

// NewMemory returns an empty Memory repository.
func NewMemory() *Memory {
	return &Memory{
		channels: make(map[watch.Platform][]watch.TrackedChannel),
		records:  make(map[watch.StreamKey]watch.StreamRecord),
		probes:   make(map[string]watch.MembershipProbeState),
	}
}

// AddTrackedChannel registers a channel for listing.
func (m *Memory) AddTrackedChannel(ch watch.TrackedChannel) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.channels[ch.Platform] = append(m.channels[ch.Platform], ch)
}

// ListTrackedChannels returns the registered channels for the platform.
func (m *Memory) ListTrackedChannels(_ context.Context, platform watch.Platform) ([]watch.TrackedChannel, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]watch.TrackedChannel, len(m.channels[platform]))
	copy(out, m.channels[platform])
	return out, nil
}

// SaveStreamRecord stores the record, or returns the configured failure.
func (m *Memory) SaveStreamRecord(_ context.Context, record watch.StreamRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return m.saveErr
	}
	m.records[record.StreamKey] = record
	return nil
}

// Ping returns the configured ping failure, if any.
func (m *Memory) Ping(_ context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.pingErr
}

// ProbeChannels lists channels lacking a verified marker.
func (m *Memory) ProbeChannels(_ context.Context) ([]watch.MembershipProbeState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []watch.MembershipProbeState
	for _, st := range m.probes {
		if !st.Verified() {
			out = append(out, st)
		}
	}
	return out, nil
}

// SaveProbeState upserts the channel's probe state.
func (m *Memory) SaveProbeState(_ context.Context, st watch.MembershipProbeState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.probes[st.ChannelID] = st
	return nil
}

// DropProbeChannel removes the channel from the probe queue.
func (m *Memory) DropProbeChannel(_ context.Context, channelID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.probes, channelID)
	return nil
}

// UpdateChannelTitle refreshes the display title on every platform entry for
// the channel.
func (m *Memory) UpdateChannelTitle(_ context.Context, channelID, title string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for platform, chans := range m.channels {
		for i := range chans {
			if chans[i].ChannelID == channelID {
				chans[i].DisplayTitle = title
			}
		}
		m.channels[platform] = chans
	}
	if st, ok := m.probes[channelID]; ok {
		st.DisplayTitle = title
		m.probes[channelID] = st
	}
	return nil
}

// Record returns the stored record for key, if any.
func (m *Memory) Record(key watch.StreamKey) (watch.StreamRecord, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.records[key]
	return rec, ok
}

// ProbeState returns the stored probe state for the channel, if any.
func (m *Memory) ProbeState(channelID string) (watch.MembershipProbeState, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	st, ok := m.probes[channelID]
	return st, ok
}

// FailSaves makes subsequent record saves return err (nil restores success).
func (m *Memory) FailSaves(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saveErr = err
}

// FailPings makes subsequent pings return err (nil restores success).
func (m *Memory) FailPings(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pingErr = err
}

var _ watch.Repository = (*Memory)(nil)
var _ watch.ProbeStore = (*Memory)(nil)
