package integration

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"chainalerts/internal/alerting"
	"chainalerts/internal/severity"
)

// Options tune outbound delivery.
type Options struct {
	Timeout   time.Duration
	Client    *http.Client
	UserAgent string
	Now       func() time.Time
}

// Manager owns integration configs and their status.
type Manager struct {
	mu        sync.RWMutex
	items     []Integration
	limiters  map[string]*rate.Limiter
	client    *http.Client
	userAgent string
	now       func() time.Time
	logger    zerolog.Logger
}

// NewManager constructs an empty manager.
func NewManager(logger zerolog.Logger, opts Options) *Manager {
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.Client == nil {
		opts.Client = &http.Client{Timeout: opts.Timeout}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Manager{
		limiters:  make(map[string]*rate.Limiter),
		client:    opts.Client,
		userAgent: opts.UserAgent,
		now:       opts.Now,
		logger:    logger.With().Str("component", "integrations").Logger(),
	}
}

// Save validates and upserts an integration. Nothing is stored when the
// config is invalid.
func (m *Manager) Save(in Integration) SaveResult {
	if err := in.Validate(); err != nil {
		return SaveResult{Success: false, Message: err.Error()}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if in.ID == "" {
		in.ID = uuid.NewString()
	}
	in = in.clone()
	now := m.now().UTC()

	for i := range m.items {
		if m.items[i].ID != in.ID {
			continue
		}
		// Status only moves on a test or delivery outcome.
		prev := m.items[i]
		in.Status = prev.Status
		in.LastError = prev.LastError
		in.LastUpdated = prev.LastUpdated
		m.items[i] = in
		m.limiters[in.ID] = newLimiter(in.RatePerMinute)
		return SaveResult{Success: true, Message: "integration updated", ID: in.ID}
	}

	in.Status = StatusPending
	in.LastError = ""
	in.LastUpdated = now
	m.items = append(m.items, in)
	m.limiters[in.ID] = newLimiter(in.RatePerMinute)
	return SaveResult{Success: true, Message: "integration created", ID: in.ID}
}

// Delete removes an integration by id.
func (m *Manager) Delete(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.items {
		if m.items[i].ID == id {
			m.items = append(m.items[:i], m.items[i+1:]...)
			delete(m.limiters, id)
			return true
		}
	}
	return false
}

// Get returns a copy of the integration.
func (m *Manager) Get(id string) (Integration, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, in := range m.items {
		if in.ID == id {
			return in.clone(), true
		}
	}
	return Integration{}, false
}

// List returns copies of every integration.
func (m *Manager) List() []Integration {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Integration, len(m.items))
	for i, in := range m.items {
		out[i] = in.clone()
	}
	return out
}

// Restore replaces the stored integrations with previously persisted ones,
// keeping their recorded status.
func (m *Manager) Restore(items []Integration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items = make([]Integration, 0, len(items))
	m.limiters = make(map[string]*rate.Limiter, len(items))
	for _, in := range items {
		if in.Validate() != nil {
			m.logger.Warn().Str("integration_id", in.ID).Msg("dropping invalid persisted integration")
			continue
		}
		m.items = append(m.items, in.clone())
		m.limiters[in.ID] = newLimiter(in.RatePerMinute)
	}
}

// TestConnection performs a synthetic delivery against cfg. It never stores
// or mutates integrations.
func (m *Manager) TestConnection(ctx context.Context, cfg Integration) SaveResult {
	if err := cfg.Validate(); err != nil {
		return SaveResult{Success: false, Message: err.Error()}
	}
	if err := m.senderFor(cfg).Send(ctx, m.testEvent(cfg)); err != nil {
		return SaveResult{Success: false, Message: err.Error()}
	}
	return SaveResult{Success: true, Message: "connection successful"}
}

// Check tests a stored integration and records the resulting status.
func (m *Manager) Check(ctx context.Context, id string) SaveResult {
	in, ok := m.Get(id)
	if !ok {
		return SaveResult{Success: false, Message: "integration not found"}
	}
	err := m.senderFor(in).Send(ctx, m.testEvent(in))
	m.record(id, err)
	if err != nil {
		return SaveResult{Success: false, Message: err.Error(), ID: id}
	}
	return SaveResult{Success: true, Message: "connection successful", ID: id}
}

// Deliver formats ev for the integration and sends it. The outcome is
// returned, never raised, and the integration status follows it.
func (m *Manager) Deliver(ctx context.Context, id string, ev alerting.Event) alerting.Delivery {
	channel := "integration:" + id
	in, ok := m.Get(id)
	if !ok {
		return alerting.SkippedFor(channel, "unknown integration")
	}
	if !in.Enabled {
		return alerting.SkippedFor(channel, "disabled")
	}
	if !in.Filter.Accepts(ev) {
		return alerting.SkippedFor(channel, "filtered")
	}
	if !m.allow(id) {
		return alerting.SkippedFor(channel, "rate limited")
	}

	err := m.senderFor(in).Send(ctx, ev)
	m.record(id, err)
	if err != nil {
		m.logger.Warn().Err(err).
			Str("integration_id", id).
			Str("type", string(in.Type)).
			Str("event_id", ev.ID).
			Msg("integration delivery failed")
		return alerting.FailedWith(channel, err)
	}
	m.logger.Debug().Str("integration_id", id).Str("event_id", ev.ID).Msg("integration delivered")
	return alerting.DeliveredTo(channel)
}

// Dispatch delivers ev to every enabled integration. One failing integration
// does not affect the others.
func (m *Manager) Dispatch(ctx context.Context, ev alerting.Event) []alerting.Delivery {
	var out []alerting.Delivery
	for _, in := range m.List() {
		if !in.Enabled {
			continue
		}
		out = append(out, m.Deliver(ctx, in.ID, ev))
	}
	return out
}

func (m *Manager) record(id string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.items {
		if m.items[i].ID != id {
			continue
		}
		m.items[i].Status = statusFor(err)
		m.items[i].LastUpdated = m.now().UTC()
		if err != nil {
			m.items[i].LastError = err.Error()
		} else {
			m.items[i].LastError = ""
		}
		return
	}
}

func (m *Manager) allow(id string) bool {
	m.mu.RLock()
	lim := m.limiters[id]
	m.mu.RUnlock()
	if lim == nil {
		return true
	}
	return lim.Allow()
}

func (m *Manager) senderFor(in Integration) Sender {
	switch in.Type {
	case TypeTelegram:
		return NewTelegramSender(in.Connection, in.Filter.IncludePriceData, m.client)
	default:
		return NewWebhookSender(in.Connection.WebhookURL, in.Filter.IncludePriceData, m.client, m.userAgent)
	}
}

func (m *Manager) testEvent(in Integration) alerting.Event {
	return alerting.Event{
		ID:        uuid.NewString(),
		Category:  alerting.CategorySystem,
		Title:     "Test notification",
		Message:   "Connection test for " + in.Name,
		Timestamp: m.now().UTC(),
		Severity:  severity.Low,
		Status:    alerting.StatusUnread,
	}
}

// newLimiter returns nil when rate limiting is off.
func newLimiter(perMinute int) *rate.Limiter {
	if perMinute <= 0 {
		return nil
	}
	return rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), perMinute)
}
