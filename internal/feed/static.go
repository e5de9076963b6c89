package feed

import (
	"context"
	"fmt"
	"sync"
	"time"

	"chainalerts/internal/snapshot"
)

// Static serves preset values; used by simulation and tests.
type Static struct {
	mu     sync.Mutex
	values map[string]map[string]float64
	err    error
}

// NewStatic constructs an empty static feed.
func NewStatic() *Static {
	return &Static{values: make(map[string]map[string]float64)}
}

// Set stores the value returned for a source metric.
func (s *Static) Set(sourceID, metricKey string, value float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.values[sourceID] == nil {
		s.values[sourceID] = make(map[string]float64)
	}
	s.values[sourceID][metricKey] = value
}

// Fail makes every subsequent refresh return err; nil clears it.
func (s *Static) Fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

// Refresh returns the preset values for sourceID.
func (s *Static) Refresh(_ context.Context, sourceID string) (map[string]snapshot.Reading, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.err != nil {
		return nil, s.err
	}
	values, ok := s.values[sourceID]
	if !ok {
		return nil, fmt.Errorf("no static values for source %q", sourceID)
	}
	now := time.Now().UTC()
	out := make(map[string]snapshot.Reading, len(values))
	for key, v := range values {
		out[key] = snapshot.Reading{Value: v, Timestamp: now}
	}
	return out, nil
}

var _ Feed = (*Static)(nil)
