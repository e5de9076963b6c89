package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"chainalerts/internal/alerting"
	"chainalerts/internal/analytics"
	"chainalerts/internal/condition"
	"chainalerts/internal/feed"
	"chainalerts/internal/notify"
	"chainalerts/internal/rules"
	"chainalerts/internal/severity"
	"chainalerts/internal/snapshot"
	"chainalerts/internal/storage"
)

type harness struct {
	svc      *Service
	static   *feed.Static
	registry *rules.Registry
	inbox    *notify.Inbox
	state    *storage.State
	archive  *alerting.MemoryArchive
	disp     *alerting.Dispatcher
}

func newHarness(t *testing.T, engine *analytics.Engine, tf analytics.Timeframe) *harness {
	t.Helper()
	logger := zerolog.Nop()

	static := feed.NewStatic()
	static.Set("eth", "price:ETH", 3650)
	refresher := feed.NewRefresher(logger)
	if err := refresher.Register(feed.Source{ID: "eth", Name: "Ethereum", Categories: []feed.Category{feed.CategoryPrice}}, static); err != nil {
		t.Fatalf("register: %v", err)
	}

	snaps := snapshot.NewStore()
	registry := rules.NewRegistry()
	archive := alerting.NewMemoryArchive()
	inbox := notify.NewInbox(storage.MaxNotifications)
	router := notify.NewRouter(inbox, nil, nil, nil, notify.Options{}, logger)
	disp := alerting.NewDispatcher(registry, snaps, archive, router, logger, alerting.Options{Sources: refresher.Source})
	state := storage.NewState(storage.NewMemoryKV(), logger)

	svc := New(Deps{
		Refresher:  refresher,
		Snapshots:  snaps,
		Registry:   registry,
		Dispatcher: disp,
		Router:     router,
		Analytics:  engine,
		State:      state,
	}, Options{Timeframe: tf}, logger)

	return &harness{svc: svc, static: static, registry: registry, inbox: inbox, state: state, archive: archive, disp: disp}
}

func TestTickRoutesAndPersists(t *testing.T) {
	h := newHarness(t, nil, analytics.Day)
	ctx := context.Background()

	saved, err := h.svc.SavePriceAlert(ctx, rules.PriceAlert{
		SourceID:   "eth",
		Instrument: "ETH",
		Condition:  condition.NewAbove(3700),
		Enabled:    true,
		Notify:     rules.AllChannels(),
	})
	if err != nil {
		t.Fatalf("save alert: %v", err)
	}

	if err := h.svc.Tick(ctx, time.Now()); err != nil {
		t.Fatalf("first tick: %v", err)
	}
	if h.inbox.UnreadCount() != 0 {
		t.Fatal("first observation must not fire")
	}

	h.static.Set("eth", "price:ETH", 3705)
	if err := h.svc.Tick(ctx, time.Now()); err != nil {
		t.Fatalf("second tick: %v", err)
	}
	if h.inbox.UnreadCount() != 1 {
		t.Fatalf("expected one unread notification, got %d", h.inbox.UnreadCount())
	}

	persisted := h.state.LoadNotifications(ctx)
	if len(persisted) != 1 {
		t.Fatalf("persisted %d notifications", len(persisted))
	}
	alerts := h.state.LoadPriceAlerts(ctx)
	if len(alerts) != 1 || alerts[0].ID != saved.ID || alerts[0].LastTriggeredAt == nil {
		t.Fatalf("persisted alerts %+v", alerts)
	}
	if recents := h.state.Recents(ctx); len(recents) != 1 || recents[0].SourceID != "eth" {
		t.Fatalf("saving an alert should touch its source: %+v", recents)
	}
}

func TestTickReportsWhenAllSourcesFail(t *testing.T) {
	h := newHarness(t, nil, analytics.Day)
	h.static.Fail(errors.New("rpc down"))
	if err := h.svc.Tick(context.Background(), time.Now()); err == nil {
		t.Fatal("expected an error when every source fails")
	}
}

func TestRefreshNowWithoutTimelineRunsTick(t *testing.T) {
	h := newHarness(t, nil, analytics.Day)
	ctx := context.Background()
	if err := h.svc.RefreshNow(ctx, "eth"); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	recents := h.state.Recents(ctx)
	if len(recents) != 1 || recents[0].UseCount != 1 {
		t.Fatalf("recents %+v", recents)
	}
}

func TestSavePriceAlertRejectsMalformed(t *testing.T) {
	h := newHarness(t, nil, analytics.Day)
	_, err := h.svc.SavePriceAlert(context.Background(), rules.PriceAlert{
		SourceID:  "eth",
		Condition: condition.Condition{Type: condition.PriceRange},
	})
	if !errors.Is(err, condition.ErrMalformed) {
		t.Fatalf("expected ErrMalformed, got %v", err)
	}
	if len(h.registry.PriceAlerts()) != 0 {
		t.Fatal("malformed alert stored")
	}
}

func TestAnalyticsPassEmitsSystemEventOncePerBucket(t *testing.T) {
	now := time.Now().UTC().Truncate(24 * time.Hour).Add(12 * time.Hour)
	engine := analytics.NewEngine(analytics.Options{Now: func() time.Time { return now }})
	h := newHarness(t, engine, analytics.Week)
	ctx := context.Background()

	start := now.Truncate(24 * time.Hour).Add(-6 * 24 * time.Hour)
	for day, n := range []int{8, 12, 8, 12, 8, 12, 16} {
		for i := 0; i < n; i++ {
			ev := alerting.Event{
				ID:        fmt.Sprintf("d%d-%d", day, i),
				Category:  alerting.CategoryRule,
				Timestamp: start.Add(time.Duration(day)*24*time.Hour + time.Hour + time.Duration(i)*time.Second),
				Metadata:  alerting.Metadata{SourceID: "eth"},
			}
			if err := h.archive.Append(ctx, ev); err != nil {
				t.Fatalf("append: %v", err)
			}
		}
	}

	if err := h.svc.AnalyticsPass(ctx, now); err != nil {
		t.Fatalf("analytics pass: %v", err)
	}
	system := 0
	for _, ev := range h.disp.History() {
		if ev.Category == alerting.CategorySystem {
			system++
		}
	}
	if system == 0 {
		t.Fatal("expected a system event for the anomaly")
	}
	if h.inbox.UnreadCount() != system {
		t.Fatalf("system events should reach the inbox: unread=%d system=%d", h.inbox.UnreadCount(), system)
	}

	if err := h.svc.AnalyticsPass(ctx, now); err != nil {
		t.Fatalf("second pass: %v", err)
	}
	if got := h.inbox.UnreadCount(); got != system {
		t.Fatalf("anomaly re-reported in the same bucket: %d", got)
	}

	summary, err := h.svc.Summary(ctx, analytics.Week)
	if err != nil {
		t.Fatalf("summary: %v", err)
	}
	if summary.Total < 76 {
		t.Fatalf("summary total %d", summary.Total)
	}
}

func TestRestoreOverlaysPersistedAlertsOnSeed(t *testing.T) {
	h := newHarness(t, nil, analytics.Day)
	ctx := context.Background()

	stale := rules.PriceAlert{ID: "shared", SourceID: "eth", Instrument: "ETH", Condition: condition.NewAbove(3000), Enabled: true}
	user := rules.PriceAlert{ID: "user", SourceID: "eth", Instrument: "ETH", Condition: condition.NewBelow(3000), Enabled: true}
	if err := h.state.SavePriceAlerts(ctx, []rules.PriceAlert{stale, user}); err != nil {
		t.Fatalf("save persisted alerts: %v", err)
	}

	h.registry.SavePriceAlert(rules.PriceAlert{ID: "seeded", SourceID: "eth", Instrument: "ETH", Condition: condition.NewAbove(5000), Enabled: true})
	h.registry.SavePriceAlert(rules.PriceAlert{ID: "shared", SourceID: "eth", Instrument: "ETH", Condition: condition.NewAbove(4000), Enabled: true})

	h.svc.Restore(ctx)

	got := h.registry.PriceAlerts()
	if len(got) != 3 {
		t.Fatalf("expected three alerts after restore, got %+v", got)
	}
	ids := []string{got[0].ID, got[1].ID, got[2].ID}
	if ids[0] != "seeded" || ids[1] != "shared" || ids[2] != "user" {
		t.Fatalf("unexpected order %v", ids)
	}
	if p, ok := got[1].Condition.Params.(condition.TargetParams); !ok || p.Target != 3000 {
		t.Fatalf("persisted copy should win for shared id, got %+v", got[1].Condition)
	}
}

func TestConcurrentPersistKeepsInboxInSync(t *testing.T) {
	h := newHarness(t, nil, analytics.Day)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			h.svc.deps.Dispatcher.EmitSystem(ctx, fmt.Sprintf("event %d", i), "", severity.Low, alerting.Metadata{})
			h.svc.persist(ctx)
		}(i)
	}
	wg.Wait()
	h.svc.persist(ctx)

	if got, want := len(h.state.LoadNotifications(ctx)), len(h.inbox.List()); got != want {
		t.Fatalf("persisted %d notifications, inbox holds %d", got, want)
	}
}
