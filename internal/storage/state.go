package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"chainalerts/internal/alerting"
	"chainalerts/internal/integration"
	"chainalerts/internal/rules"
)

// Persisted state keys.
const (
	KeyNotifications = "notifications"
	KeyPriceAlerts   = "price_alerts"
	KeyRecents       = "recent_sources"
	KeyIntegrations  = "integrations"
)

const (
	// MaxNotifications bounds the persisted notification list.
	MaxNotifications = 50
	// MaxRecents bounds the recently used sources list.
	MaxRecents = 5
)

// Recent records use of a source.
type Recent struct {
	SourceID   string    `json:"sourceId"`
	LastUsedAt time.Time `json:"lastUsedAt"`
	UseCount   int       `json:"useCount"`
}

// State reads and writes the JSON-encoded collections in a KV. Unreadable
// entries load as empty collections.
type State struct {
	kv     KV
	logger zerolog.Logger
	now    func() time.Time

	recentsMu sync.Mutex
}

// NewState wraps kv.
func NewState(kv KV, logger zerolog.Logger) *State {
	return &State{
		kv:     kv,
		logger: logger.With().Str("component", "state").Logger(),
		now:    time.Now,
	}
}

// LoadNotifications returns the persisted notification list, newest first.
func (s *State) LoadNotifications(ctx context.Context) []alerting.Event {
	var events []alerting.Event
	if !s.load(ctx, KeyNotifications, &events) {
		return []alerting.Event{}
	}
	if len(events) > MaxNotifications {
		events = events[:MaxNotifications]
	}
	return events
}

// SaveNotifications persists at most MaxNotifications events.
func (s *State) SaveNotifications(ctx context.Context, events []alerting.Event) error {
	if len(events) > MaxNotifications {
		events = events[:MaxNotifications]
	}
	return s.save(ctx, KeyNotifications, events)
}

// LoadPriceAlerts returns the persisted price alert list.
func (s *State) LoadPriceAlerts(ctx context.Context) []rules.PriceAlert {
	var alerts []rules.PriceAlert
	if !s.load(ctx, KeyPriceAlerts, &alerts) {
		return []rules.PriceAlert{}
	}
	return alerts
}

// SavePriceAlerts persists the price alert list.
func (s *State) SavePriceAlerts(ctx context.Context, alerts []rules.PriceAlert) error {
	return s.save(ctx, KeyPriceAlerts, alerts)
}

// LoadIntegrations returns the persisted integrations.
func (s *State) LoadIntegrations(ctx context.Context) []integration.Integration {
	var items []integration.Integration
	if !s.load(ctx, KeyIntegrations, &items) {
		return []integration.Integration{}
	}
	return items
}

// SaveIntegrations persists integrations with their status.
func (s *State) SaveIntegrations(ctx context.Context, items []integration.Integration) error {
	return s.save(ctx, KeyIntegrations, items)
}

// Recents returns the recently used sources, most recent first.
func (s *State) Recents(ctx context.Context) []Recent {
	var items []Recent
	if !s.load(ctx, KeyRecents, &items) {
		return []Recent{}
	}
	sort.SliceStable(items, func(i, j int) bool { return items[i].LastUsedAt.After(items[j].LastUsedAt) })
	if len(items) > MaxRecents {
		items = items[:MaxRecents]
	}
	return items
}

// Touch moves sourceID to the front of the recents list and bumps its count.
func (s *State) Touch(ctx context.Context, sourceID string) ([]Recent, error) {
	s.recentsMu.Lock()
	defer s.recentsMu.Unlock()

	items := s.Recents(ctx)
	entry := Recent{SourceID: sourceID}
	out := make([]Recent, 0, MaxRecents)
	for _, r := range items {
		if r.SourceID == sourceID {
			entry = r
			continue
		}
		out = append(out, r)
	}
	entry.UseCount++
	entry.LastUsedAt = s.now().UTC()
	out = append([]Recent{entry}, out...)
	if len(out) > MaxRecents {
		out = out[:MaxRecents]
	}

	if err := s.save(ctx, KeyRecents, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *State) load(ctx context.Context, key string, dest any) bool {
	data, err := s.kv.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			s.logger.Warn().Err(err).Str("key", key).Msg("state read failed, using empty collection")
		}
		return false
	}
	if err := json.Unmarshal(data, dest); err != nil {
		s.logger.Warn().Err(err).Str("key", key).Msg("corrupt state entry, using empty collection")
		return false
	}
	return true
}

func (s *State) save(ctx context.Context, key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}
	if err := s.kv.Set(ctx, key, data); err != nil {
		return fmt.Errorf("save %s: %w", key, err)
	}
	return nil
}
