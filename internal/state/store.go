// Package state holds the authoritative last-known state per monitored
// stream key.
package state

import (
	"sync"
	"time"

	"github.com/streamwatch/crawler/internal/watch"
)

// Store is an in-memory stream-record store with per-key compare-and-set.
// It is safe for concurrent use; distinct keys never contend beyond the
// shared map lock.
type Store struct {
	mu      sync.RWMutex
	records map[watch.StreamKey]watch.StreamRecord
}

// New returns an empty Store.
func New() *Store {
	return &Store{records: make(map[watch.StreamKey]watch.StreamRecord)}
}

// Get returns the record for key, if any.
func (s *Store) Get(key watch.StreamKey) (watch.StreamRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[key]
	return rec, ok
}

// CompareAndSet stores record under key if the stored status is still
// compatible with expectedPrior. It returns false and leaves the record
// unchanged when the stored status has already moved past expectedPrior, or
// when the new record would move the lifecycle backwards. Out-of-order poll
// results are rejected here rather than racing each other.
func (s *Store) CompareAndSet(key watch.StreamKey, expectedPrior watch.StreamStatus, record watch.StreamRecord) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.records[key]; ok {
		if expectedPrior.Before(existing.Status) {
			return false
		}
		if record.Status.Before(existing.Status) {
			return false
		}
	}
	s.records[key] = record
	return true
}

// Delete removes the record for key.
func (s *Store) Delete(key watch.StreamKey) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, key)
}

// Snapshot returns a copy of all records.
func (s *Store) Snapshot() []watch.StreamRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]watch.StreamRecord, 0, len(s.records))
	for _, rec := range s.records {
		out = append(out, rec)
	}
	return out
}

// Len returns the number of stored records.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// PruneEnded drops ended records not seen since before the cutoff and returns
// how many were removed. Keys are never reused, so pruning cannot resurrect a
// finished broadcast.
func (s *Store) PruneEnded(now time.Time, retention time.Duration) int {
	cutoff := now.Add(-retention)
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for key, rec := range s.records {
		if rec.Status == watch.StatusEnded && rec.LastSeenAt.Before(cutoff) {
			delete(s.records, key)
			removed++
		}
	}
	return removed
}
