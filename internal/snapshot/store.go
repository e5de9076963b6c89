// Package snapshot keeps the latest and previous reading for every (source, metric) pair.
package snapshot

import (
	"sort"
	"strings"
	"sync"
	"time"
)

// Key identifies one metric of one source.
type Key struct {
	SourceID  string
	MetricKey string
}

// Snapshot is the reading state of a single metric.
type Snapshot struct {
	SourceID    string
	MetricKey   string
	Current     float64
	Previous    float64
	HasPrevious bool
	Timestamp   time.Time
}

// Reading is one refreshed value delivered by a feed.
type Reading struct {
	Value     float64
	Timestamp time.Time
}

// Store is the in-memory snapshot table written by the refresh loop.
type Store struct {
	mu    sync.RWMutex
	items map[Key]Snapshot
}

// NewStore constructs an empty store.
func NewStore() *Store {
	return &Store{items: make(map[Key]Snapshot)}
}

// Update records a reading. The previous value only moves when the current value changes.
func (s *Store) Update(sourceID, metricKey string, value float64, ts time.Time) Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.updateLocked(sourceID, metricKey, value, ts)
}

// Apply records every reading refreshed for a source in one step.
func (s *Store) Apply(sourceID string, readings map[string]Reading) []Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	updated := make([]Snapshot, 0, len(readings))
	for key, reading := range readings {
		updated = append(updated, s.updateLocked(sourceID, key, reading.Value, reading.Timestamp))
	}
	sortSnapshots(updated)
	return updated
}

func (s *Store) updateLocked(sourceID, metricKey string, value float64, ts time.Time) Snapshot {
	key := Key{SourceID: sourceID, MetricKey: metricKey}
	snap, ok := s.items[key]
	if !ok {
		snap = Snapshot{SourceID: sourceID, MetricKey: metricKey, Current: value, Timestamp: ts}
		s.items[key] = snap
		return snap
	}

	if snap.Current != value {
		snap.Previous = snap.Current
		snap.HasPrevious = true
		snap.Current = value
	}
	snap.Timestamp = ts
	s.items[key] = snap
	return snap
}

// Get returns the snapshot for a metric.
func (s *Store) Get(sourceID, metricKey string) (Snapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap, ok := s.items[Key{SourceID: sourceID, MetricKey: metricKey}]
	return snap, ok
}

// Source returns every snapshot of a source ordered by metric key.
func (s *Store) Source(sourceID string) []Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Snapshot, 0)
	for key, snap := range s.items {
		if key.SourceID == sourceID {
			out = append(out, snap)
		}
	}
	sortSnapshots(out)
	return out
}

// All returns a copy of the full table ordered by source and metric.
func (s *Store) All() []Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Snapshot, 0, len(s.items))
	for _, snap := range s.items {
		out = append(out, snap)
	}
	sortSnapshots(out)
	return out
}

// Sources lists the ids of sources with at least one reading.
func (s *Store) Sources() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := make(map[string]struct{})
	for key := range s.items {
		seen[key.SourceID] = struct{}{}
	}
	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func sortSnapshots(items []Snapshot) {
	sort.Slice(items, func(i, j int) bool {
		if items[i].SourceID != items[j].SourceID {
			return items[i].SourceID < items[j].SourceID
		}
		return items[i].MetricKey < items[j].MetricKey
	})
}

// MetricKey joins a category and an instrument into a metric key ("price:ETH").
func MetricKey(category, instrument string) string {
	if instrument == "" {
		return category
	}
	return category + ":" + instrument
}

// SplitKey returns the category and instrument encoded in a metric key. Keys
// without a separator are a category on their own.
func SplitKey(key string) (category, instrument string) {
	if i := strings.IndexByte(key, ':'); i >= 0 {
		return key[:i], key[i+1:]
	}
	return key, ""
}
