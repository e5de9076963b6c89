package storage

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"chainalerts/internal/alerting"
	"chainalerts/internal/condition"
	"chainalerts/internal/integration"
	"chainalerts/internal/rules"
	"chainalerts/internal/severity"
)

func newTestState() (*State, *MemoryKV) {
	kv := NewMemoryKV()
	return NewState(kv, zerolog.Nop()), kv
}

func TestCorruptEntriesLoadEmpty(t *testing.T) {
	st, kv := newTestState()
	ctx := context.Background()
	for _, key := range []string{KeyNotifications, KeyPriceAlerts, KeyRecents, KeyIntegrations} {
		if err := kv.Set(ctx, key, []byte("{not json")); err != nil {
			t.Fatalf("seed %s: %v", key, err)
		}
	}

	if got := st.LoadNotifications(ctx); got == nil || len(got) != 0 {
		t.Fatalf("notifications: %+v", got)
	}
	if got := st.LoadPriceAlerts(ctx); len(got) != 0 {
		t.Fatalf("price alerts: %+v", got)
	}
	if got := st.Recents(ctx); len(got) != 0 {
		t.Fatalf("recents: %+v", got)
	}
	if got := st.LoadIntegrations(ctx); len(got) != 0 {
		t.Fatalf("integrations: %+v", got)
	}
}

func TestMissingEntriesLoadEmpty(t *testing.T) {
	st, _ := newTestState()
	if got := st.LoadNotifications(context.Background()); len(got) != 0 {
		t.Fatalf("expected empty, got %d", len(got))
	}
}

func TestNotificationsCapped(t *testing.T) {
	st, _ := newTestState()
	ctx := context.Background()
	events := make([]alerting.Event, MaxNotifications+5)
	for i := range events {
		events[i] = alerting.Event{ID: string(rune('a' + i%26)), Severity: severity.Low}
	}
	if err := st.SaveNotifications(ctx, events); err != nil {
		t.Fatalf("save: %v", err)
	}
	if got := st.LoadNotifications(ctx); len(got) != MaxNotifications {
		t.Fatalf("loaded %d notifications", len(got))
	}
}

func TestPriceAlertsRoundTrip(t *testing.T) {
	st, _ := newTestState()
	ctx := context.Background()
	triggered := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	in := []rules.PriceAlert{
		{ID: "a", SourceID: "eth", Instrument: "ETH", Condition: condition.NewPriceRange(3000, 3500), Enabled: true},
		{ID: "b", SourceID: "arb", Instrument: "ARB", Condition: condition.NewVolatilitySpike(12), LastTriggeredAt: &triggered},
	}
	if err := st.SavePriceAlerts(ctx, in); err != nil {
		t.Fatalf("save: %v", err)
	}
	out := st.LoadPriceAlerts(ctx)
	if len(out) != 2 {
		t.Fatalf("loaded %d alerts", len(out))
	}
	if p, ok := out[0].Condition.Params.(condition.RangeParams); !ok || p.Min != 3000 || p.Max != 3500 {
		t.Fatalf("range params lost: %+v", out[0].Condition)
	}
	if out[1].LastTriggeredAt == nil || !out[1].LastTriggeredAt.Equal(triggered) {
		t.Fatalf("lastTriggeredAt lost: %+v", out[1])
	}
}

func TestIntegrationsRoundTripKeepsUnsetSeverity(t *testing.T) {
	st, _ := newTestState()
	ctx := context.Background()
	in := []integration.Integration{{
		ID:         "i1",
		Type:       integration.TypeWebhook,
		Name:       "ops",
		Connection: integration.Connection{WebhookURL: "https://example.com/hook"},
		Status:     integration.StatusConnected,
	}}
	if err := st.SaveIntegrations(ctx, in); err != nil {
		t.Fatalf("save: %v", err)
	}
	out := st.LoadIntegrations(ctx)
	if len(out) != 1 || out[0].Filter.MinSeverity != 0 || out[0].Status != integration.StatusConnected {
		t.Fatalf("unexpected integrations %+v", out)
	}
}

func TestTouchRecents(t *testing.T) {
	st, _ := newTestState()
	ctx := context.Background()
	clock := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	st.now = func() time.Time {
		clock = clock.Add(time.Minute)
		return clock
	}

	for _, id := range []string{"a", "b", "c", "d", "e", "f"} {
		if _, err := st.Touch(ctx, id); err != nil {
			t.Fatalf("touch %s: %v", id, err)
		}
	}
	got, err := st.Touch(ctx, "c")
	if err != nil {
		t.Fatalf("touch c: %v", err)
	}

	if len(got) != MaxRecents {
		t.Fatalf("recents length %d", len(got))
	}
	if got[0].SourceID != "c" || got[0].UseCount != 2 {
		t.Fatalf("touched source should lead with count 2: %+v", got[0])
	}
	for _, r := range got {
		if r.SourceID == "a" {
			t.Fatal("oldest source should have been evicted")
		}
	}
	if loaded := st.Recents(ctx); loaded[0].SourceID != "c" {
		t.Fatalf("persisted order lost: %+v", loaded)
	}
}

func TestNilStoreNotConfigured(t *testing.T) {
	var s *Store
	if _, err := s.Get(context.Background(), "x"); err != ErrNotConfigured {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
}
