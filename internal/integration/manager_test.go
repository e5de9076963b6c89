package integration

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"chainalerts/internal/alerting"
	"chainalerts/internal/severity"
)

func testManager() *Manager {
	return NewManager(zerolog.Nop(), Options{Timeout: time.Second})
}

func sampleEvent() alerting.Event {
	return alerting.Event{
		ID:        "ev-1",
		Category:  alerting.CategoryPriceAlert,
		Title:     "ETH Price Alert",
		Message:   "ETH price is now above $3700.00 at $3705.00",
		Timestamp: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		Severity:  severity.Medium,
		Metadata: alerting.Metadata{
			SourceID:    "eth",
			SourceURL:   "https://etherscan.io",
			MetricKey:   "price:ETH",
			Current:     3705,
			Previous:    3650,
			HasPrevious: true,
			ChangePct:   1.5,
		},
	}
}

func webhookIntegration(url string) Integration {
	return Integration{
		Name:       "ops",
		Type:       TypeWebhook,
		Connection: Connection{WebhookURL: url},
		Filter:     Filter{IncludePriceAlerts: true, IncludePriceData: true},
		Enabled:    true,
	}
}

func TestTestConnectionInvalidEndpointDoesNotPersist(t *testing.T) {
	m := testManager()

	res := m.TestConnection(context.Background(), webhookIntegration("not a url"))
	if res.Success {
		t.Fatal("invalid endpoint should fail")
	}
	if res.Message == "" {
		t.Fatal("failure should carry a message")
	}
	if n := len(m.List()); n != 0 {
		t.Fatalf("test connection persisted %d integrations", n)
	}
}

func TestTestConnectionSuccess(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	m := testManager()
	res := m.TestConnection(context.Background(), webhookIntegration(srv.URL))
	if !res.Success {
		t.Fatalf("expected success, got %q", res.Message)
	}
	if atomic.LoadInt32(&hits) != 1 {
		t.Fatal("test connection should send one request")
	}
	if len(m.List()) != 0 {
		t.Fatal("test connection must not persist")
	}
}

func TestSaveRejectsInvalidConfig(t *testing.T) {
	m := testManager()
	cases := []Integration{
		{Name: "no url", Type: TypeWebhook},
		{Name: "ftp", Type: TypeWebhook, Connection: Connection{WebhookURL: "ftp://example.com/hook"}},
		{Name: "no chat", Type: TypeTelegram, Connection: Connection{BotToken: "t"}},
		{Name: "", Type: TypeWebhook, Connection: Connection{WebhookURL: "https://example.com"}},
		{Name: "mystery", Type: "pager"},
	}
	for _, in := range cases {
		if res := m.Save(in); res.Success {
			t.Errorf("%q should be rejected", in.Name)
		}
	}
	if len(m.List()) != 0 {
		t.Fatal("rejected configs must not persist")
	}
	if err := cases[0].Validate(); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}
}

func TestSaveAndDelete(t *testing.T) {
	m := testManager()
	res := m.Save(webhookIntegration("https://example.com/hook"))
	if !res.Success || res.ID == "" {
		t.Fatalf("save failed: %+v", res)
	}
	in, ok := m.Get(res.ID)
	if !ok || in.Status != StatusPending {
		t.Fatalf("new integration should be pending, got %+v", in)
	}
	if !m.Delete(res.ID) {
		t.Fatal("delete should succeed")
	}
	if _, ok := m.Get(res.ID); ok {
		t.Fatal("deleted integration still present")
	}
}

func TestDeliverWebhookPayloadAndStatus(t *testing.T) {
	var payload webhookPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Errorf("decode payload: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	m := testManager()
	id := m.Save(webhookIntegration(srv.URL)).ID

	d := m.Deliver(context.Background(), id, sampleEvent())
	if d.Outcome != alerting.Delivered {
		t.Fatalf("expected delivered, got %+v", d)
	}
	if len(payload.Embeds) != 1 {
		t.Fatalf("expected one embed, got %d", len(payload.Embeds))
	}
	embed := payload.Embeds[0]
	if embed.Color != severityColor(severity.Medium) || embed.Description != sampleEvent().Message {
		t.Fatalf("unexpected embed %+v", embed)
	}
	var sawCurrent bool
	for _, f := range embed.Fields {
		if f.Name == "Current" && f.Value == "$3705.00" {
			sawCurrent = true
		}
	}
	if !sawCurrent {
		t.Fatalf("price data missing from fields: %+v", embed.Fields)
	}
	if embed.URL != sampleEvent().Metadata.SourceURL {
		t.Fatalf("embed url = %q", embed.URL)
	}

	in, _ := m.Get(id)
	if in.Status != StatusConnected {
		t.Fatalf("status should be connected, got %s", in.Status)
	}
}

func TestDeliverFailureIsolatedPerIntegration(t *testing.T) {
	good := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer good.Close()
	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer bad.Close()

	m := testManager()
	badID := m.Save(webhookIntegration(bad.URL)).ID
	goodID := m.Save(webhookIntegration(good.URL)).ID

	deliveries := m.Dispatch(context.Background(), sampleEvent())
	if len(deliveries) != 2 {
		t.Fatalf("expected two deliveries, got %d", len(deliveries))
	}
	if deliveries[0].Outcome != alerting.Failed || deliveries[1].Outcome != alerting.Delivered {
		t.Fatalf("unexpected outcomes %+v", deliveries)
	}

	badIn, _ := m.Get(badID)
	if badIn.Status != StatusError || !strings.Contains(badIn.LastError, "500") {
		t.Fatalf("bad integration status %s (%s)", badIn.Status, badIn.LastError)
	}
	goodIn, _ := m.Get(goodID)
	if goodIn.Status != StatusConnected {
		t.Fatalf("good integration status %s", goodIn.Status)
	}
}

func TestDeliverUnreachableMarksError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	m := testManager()
	id := m.Save(webhookIntegration(url)).ID
	d := m.Deliver(context.Background(), id, sampleEvent())
	if d.Outcome != alerting.Failed || d.Err == nil {
		t.Fatalf("expected failure, got %+v", d)
	}
	in, _ := m.Get(id)
	if in.Status != StatusError || in.LastError == "" {
		t.Fatalf("unreachable endpoint should be an error, got %s (%q)", in.Status, in.LastError)
	}
}

func TestSaveEditKeepsStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	m := testManager()
	id := m.Save(webhookIntegration(srv.URL)).ID
	if d := m.Deliver(context.Background(), id, sampleEvent()); d.Outcome != alerting.Delivered {
		t.Fatalf("expected delivered, got %+v", d)
	}

	edited, _ := m.Get(id)
	edited.Connection.WebhookURL = srv.URL + "/other"
	edited.Name = "ops-renamed"
	if res := m.Save(edited); !res.Success || res.ID != id {
		t.Fatalf("edit failed: %+v", res)
	}

	in, _ := m.Get(id)
	if in.Status != StatusConnected {
		t.Fatalf("editing should not reset status, got %s", in.Status)
	}
	if in.Connection.WebhookURL != srv.URL+"/other" || in.Name != "ops-renamed" {
		t.Fatalf("edit not applied: %+v", in)
	}
}

func TestFilter(t *testing.T) {
	ev := sampleEvent()
	cases := []struct {
		name   string
		filter Filter
		want   bool
	}{
		{name: "price alerts excluded", filter: Filter{}, want: false},
		{name: "price alerts included", filter: Filter{IncludePriceAlerts: true}, want: true},
		{name: "severity too low", filter: Filter{IncludePriceAlerts: true, MinSeverity: severity.High}, want: false},
		{name: "category not allowed", filter: Filter{IncludePriceAlerts: true, Categories: []alerting.Category{alerting.CategoryRule}}, want: false},
		{name: "category allowed", filter: Filter{IncludePriceAlerts: true, Categories: []alerting.Category{alerting.CategoryPriceAlert}}, want: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.filter.Accepts(ev); got != tc.want {
				t.Fatalf("Accepts=%v want %v", got, tc.want)
			}
		})
	}
}

func TestDeliverRateLimited(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	m := testManager()
	in := webhookIntegration(srv.URL)
	in.RatePerMinute = 1
	id := m.Save(in).ID

	if d := m.Deliver(context.Background(), id, sampleEvent()); d.Outcome != alerting.Delivered {
		t.Fatalf("first delivery: %+v", d)
	}
	d := m.Deliver(context.Background(), id, sampleEvent())
	if d.Outcome != alerting.Skipped || d.Reason != "rate limited" {
		t.Fatalf("second delivery should be rate limited: %+v", d)
	}
}

func TestTelegramSenderSuccess(t *testing.T) {
	received := make(map[string]string)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/bottoken/sendMessage") {
			t.Errorf("路径应包含 sendMessage, 实际 %s", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			t.Errorf("解析请求体失败: %v", err)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": true})
	}))
	defer srv.Close()

	sender := NewTelegramSender(Connection{BotToken: "token", ChatID: "chat", APIBase: srv.URL}, true, nil)
	if err := sender.Send(context.Background(), sampleEvent()); err != nil {
		t.Fatalf("Telegram Send 应成功: %v", err)
	}
	if received["chat_id"] != "chat" {
		t.Fatalf("chat_id 不正确: %#v", received)
	}
	for _, want := range []string{"ETH Price Alert", "Previous: $3650.00"} {
		if !strings.Contains(received["text"], want) {
			t.Fatalf("text %q missing %q", received["text"], want)
		}
	}
}

func TestTelegramSenderOKFalse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": false, "description": "chat not found"})
	}))
	defer srv.Close()

	sender := NewTelegramSender(Connection{BotToken: "token", ChatID: "chat", APIBase: srv.URL}, false, nil)
	err := sender.Send(context.Background(), sampleEvent())
	if err == nil {
		t.Fatal("ok=false 应报错")
	}
	if statusFor(err) != StatusError {
		t.Fatalf("ok=false should map to error status, got %s", statusFor(err))
	}
}
