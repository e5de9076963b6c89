package alerting

import (
	"context"
	"sort"
	"sync"
	"time"
)

// ArchiveQuery filters archived events. Zero fields match everything.
type ArchiveQuery struct {
	SourceID string
	Since    time.Time
	Limit    int
}

// Archive is the unbounded record of price alert triggers.
type Archive interface {
	Append(ctx context.Context, ev Event) error
	Query(ctx context.Context, q ArchiveQuery) ([]Event, error)
}

// MemoryArchive keeps archived events in process memory.
type MemoryArchive struct {
	mu     sync.RWMutex
	events []Event
}

// NewMemoryArchive constructs an empty in-memory archive.
func NewMemoryArchive() *MemoryArchive {
	return &MemoryArchive{}
}

// Append records an event.
func (a *MemoryArchive) Append(_ context.Context, ev Event) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, ev.clone())
	return nil
}

// Query returns matching events sorted by timestamp descending.
func (a *MemoryArchive) Query(_ context.Context, q ArchiveQuery) ([]Event, error) {
	a.mu.RLock()
	out := make([]Event, 0, len(a.events))
	for _, ev := range a.events {
		if q.SourceID != "" && ev.SourceID() != q.SourceID {
			continue
		}
		if !q.Since.IsZero() && ev.Timestamp.Before(q.Since) {
			continue
		}
		out = append(out, ev.clone())
	}
	a.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.After(out[j].Timestamp)
	})
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

var _ Archive = (*MemoryArchive)(nil)
