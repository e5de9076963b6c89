package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"chainalerts/internal/alerting"
	"chainalerts/internal/analytics"
	"chainalerts/internal/feed"
	"chainalerts/internal/integration"
	"chainalerts/internal/metrics"
	"chainalerts/internal/notify"
	"chainalerts/internal/rules"
	"chainalerts/internal/scheduler"
	"chainalerts/internal/snapshot"
	"chainalerts/internal/storage"
)

// Deps are the collaborators the service orchestrates. State, Locker and the
// schedulers are optional.
type Deps struct {
	Refresher    *feed.Refresher
	Snapshots    *snapshot.Store
	Registry     *rules.Registry
	Dispatcher   *alerting.Dispatcher
	Router       *notify.Router
	Integrations *integration.Manager
	Analytics    *analytics.Engine
	State        *storage.State
	Locker       storage.AdvisoryLocker

	MetricsScheduler   *scheduler.Scheduler
	AnalyticsScheduler *scheduler.Scheduler
}

// Options tune the service.
type Options struct {
	Timeframe analytics.Timeframe
	LockKey   int64
}

// Service drives the refresh timeline (feeds, snapshots, dispatcher, router)
// and the analytics timeline.
type Service struct {
	deps      Deps
	timeframe analytics.Timeframe
	lockKey   int64
	logger    zerolog.Logger

	tickMu  sync.Mutex
	running atomic.Bool

	analyticsMu sync.Mutex
	reported    map[string]time.Time

	persistMu sync.Mutex
}

// New constructs the service.
func New(deps Deps, opts Options, logger zerolog.Logger) *Service {
	if opts.Timeframe == "" {
		opts.Timeframe = analytics.Day
	}
	return &Service{
		deps:      deps,
		timeframe: opts.Timeframe,
		lockKey:   opts.LockKey,
		logger:    logger.With().Str("component", "service").Logger(),
		reported:  make(map[string]time.Time),
	}
}

// Restore loads persisted notifications, price alerts and integrations.
func (s *Service) Restore(ctx context.Context) {
	st := s.deps.State
	if st == nil {
		return
	}
	notifications := st.LoadNotifications(ctx)
	if s.deps.Router != nil && s.deps.Router.Inbox() != nil {
		s.deps.Router.Inbox().Restore(notifications)
	}
	if alerts := st.LoadPriceAlerts(ctx); len(alerts) > 0 {
		s.deps.Registry.ReplacePriceAlerts(mergePriceAlerts(s.deps.Registry.PriceAlerts(), alerts))
	}
	if s.deps.Integrations != nil {
		if items := st.LoadIntegrations(ctx); len(items) > 0 {
			s.deps.Integrations.Restore(items)
		}
	}
	s.logger.Info().
		Int("notifications", len(notifications)).
		Int("price_alerts", len(s.deps.Registry.PriceAlerts())).
		Msg("state restored")
}

// Run starts both timelines and blocks until ctx is cancelled.
func (s *Service) Run(ctx context.Context) error {
	if s.deps.MetricsScheduler == nil {
		return fmt.Errorf("scheduler not configured")
	}
	s.running.Store(true)
	defer s.running.Store(false)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return s.deps.MetricsScheduler.Run(gctx, s.Tick)
	})
	if s.deps.AnalyticsScheduler != nil && s.deps.Analytics != nil {
		g.Go(func() error {
			return s.deps.AnalyticsScheduler.Run(gctx, s.AnalyticsPass)
		})
	}
	return g.Wait()
}

// Tick runs one refresh: every source is refreshed, snapshots updated, rules
// evaluated and resulting events routed. Ticks never overlap.
func (s *Service) Tick(ctx context.Context, at time.Time) error {
	unlock, proceed, err := s.acquireLock(ctx)
	if err != nil {
		return err
	}
	if !proceed {
		s.logger.Debug().Time("at", at).Msg("skip tick because advisory lock held elsewhere")
		return nil
	}
	if unlock != nil {
		defer unlock()
	}

	s.tickMu.Lock()
	defer s.tickMu.Unlock()
	return s.executeTick(ctx, at)
}

func (s *Service) executeTick(ctx context.Context, at time.Time) error {
	results := s.deps.Refresher.RefreshAll(ctx)
	failed := 0
	for _, res := range results {
		if res.Err != nil {
			failed++
			metrics.FeedRefreshTotal.WithLabelValues(res.SourceID, "error").Inc()
			continue
		}
		metrics.FeedRefreshTotal.WithLabelValues(res.SourceID, "ok").Inc()
		s.deps.Snapshots.Apply(res.SourceID, res.Readings)
	}

	pass := s.deps.Dispatcher.Evaluate(ctx)
	s.logger.Info().Time("at", at).
		Int("sources", len(results)).
		Int("failed", failed).
		Int("events", len(pass.Events)).
		Int("skipped", pass.Skipped).
		Msg("tick complete")

	if len(pass.Events) > 0 {
		s.persist(ctx)
	}

	if len(results) > 0 && failed == len(results) {
		return fmt.Errorf("all %d sources failed to refresh", failed)
	}
	return nil
}

// RefreshNow requests an immediate refresh, recording the sources as
// recently used. While the timeline runs the request is handed to the
// scheduler so it replaces the next automatic tick.
func (s *Service) RefreshNow(ctx context.Context, sourceIDs ...string) error {
	s.touch(ctx, sourceIDs...)
	if s.running.Load() && s.deps.MetricsScheduler != nil {
		if !s.deps.MetricsScheduler.Trigger() {
			s.logger.Debug().Msg("manual refresh already pending")
		}
		return nil
	}
	return s.Tick(ctx, time.Now().UTC())
}

// AnalyticsPass checks recent history for anomalies and raises a system
// event per anomaly, at most once per bucket.
func (s *Service) AnalyticsPass(ctx context.Context, at time.Time) error {
	if s.deps.Analytics == nil {
		return nil
	}
	s.analyticsMu.Lock()
	defer s.analyticsMu.Unlock()

	events, err := s.events(ctx)
	if err != nil {
		return err
	}

	report := s.deps.Analytics.DetectAnomalies(withoutSystem(events), s.timeframe)
	if !report.HasAnomalies {
		return nil
	}

	bucket := at.UTC().Truncate(s.timeframe.BucketWidth())
	for key, b := range s.reported {
		if b.Before(bucket) {
			delete(s.reported, key)
		}
	}

	emitted := 0
	for _, a := range report.Anomalies {
		key := a.Type + "|" + a.Scope
		if _, seen := s.reported[key]; seen {
			continue
		}
		s.reported[key] = bucket
		s.deps.Dispatcher.EmitSystem(ctx, "Alert anomaly detected", a.Description, a.Severity, alerting.Metadata{
			Threshold: a.Details["threshold"],
			Current:   a.Details["count"],
		})
		emitted++
	}
	if emitted > 0 {
		s.persist(ctx)
	}
	return nil
}

// Summary computes every analytics view over history and archive.
func (s *Service) Summary(ctx context.Context, tf analytics.Timeframe) (analytics.Summary, error) {
	if s.deps.Analytics == nil {
		return analytics.Summary{}, errors.New("analytics not configured")
	}
	events, err := s.events(ctx)
	if err != nil {
		return analytics.Summary{}, err
	}
	return s.deps.Analytics.Summarize(events, tf), nil
}

func (s *Service) events(ctx context.Context) ([]alerting.Event, error) {
	since := time.Now().UTC().Add(-analytics.Month.Window())
	archived, err := s.deps.Dispatcher.Archived(ctx, alerting.ArchiveQuery{Since: since})
	if err != nil {
		return nil, err
	}
	return analytics.Merge(s.deps.Dispatcher.History(), archived), nil
}

// SavePriceAlert stores an alert, persists the list and marks its source as used.
func (s *Service) SavePriceAlert(ctx context.Context, alert rules.PriceAlert) (rules.PriceAlert, error) {
	if err := alert.Condition.Validate(); err != nil {
		return rules.PriceAlert{}, err
	}
	saved := s.deps.Registry.SavePriceAlert(alert)
	s.touch(ctx, saved.SourceID)
	s.persistPriceAlerts(ctx)
	return saved, nil
}

// DeletePriceAlert removes an alert and persists the list.
func (s *Service) DeletePriceAlert(ctx context.Context, id string) bool {
	ok := s.deps.Registry.DeletePriceAlert(id)
	if ok {
		s.persistPriceAlerts(ctx)
	}
	return ok
}

// SaveIntegration validates and stores an integration.
func (s *Service) SaveIntegration(ctx context.Context, in integration.Integration) integration.SaveResult {
	res := s.deps.Integrations.Save(in)
	if res.Success {
		s.persistIntegrations(ctx)
	}
	return res
}

func (s *Service) touch(ctx context.Context, sourceIDs ...string) {
	if s.deps.State == nil {
		return
	}
	for _, id := range sourceIDs {
		if id == "" {
			continue
		}
		if _, err := s.deps.State.Touch(ctx, id); err != nil {
			s.logger.Warn().Err(err).Str("source", id).Msg("failed to record recent source")
		}
	}
}

// persist writes the inbox, price alerts and integrations. Tick and the
// analytics pass both call it, so writes are serialized.
func (s *Service) persist(ctx context.Context) {
	if s.deps.State == nil {
		return
	}
	s.persistMu.Lock()
	defer s.persistMu.Unlock()
	if s.deps.Router != nil && s.deps.Router.Inbox() != nil {
		if err := s.deps.State.SaveNotifications(ctx, s.deps.Router.Inbox().List()); err != nil {
			s.logger.Error().Err(err).Msg("failed to persist notifications")
		}
	}
	s.persistPriceAlerts(ctx)
	s.persistIntegrations(ctx)
}

func (s *Service) persistPriceAlerts(ctx context.Context) {
	if s.deps.State == nil {
		return
	}
	if err := s.deps.State.SavePriceAlerts(ctx, s.deps.Registry.PriceAlerts()); err != nil {
		s.logger.Error().Err(err).Msg("failed to persist price alerts")
	}
}

func (s *Service) persistIntegrations(ctx context.Context) {
	if s.deps.State == nil || s.deps.Integrations == nil {
		return
	}
	if err := s.deps.State.SaveIntegrations(ctx, s.deps.Integrations.List()); err != nil {
		s.logger.Error().Err(err).Msg("failed to persist integrations")
	}
}

func (s *Service) acquireLock(ctx context.Context) (func(), bool, error) {
	if s.lockKey == 0 || s.deps.Locker == nil {
		return nil, true, nil
	}
	unlock, acquired, err := s.deps.Locker.TryAdvisoryLock(ctx, s.lockKey)
	if err != nil {
		return nil, false, fmt.Errorf("acquire advisory lock: %w", err)
	}
	if !acquired {
		return nil, false, nil
	}
	return unlock, true, nil
}

// mergePriceAlerts overlays persisted alerts on the seeded ones by id. Seeded
// alerts keep their order; persisted alerts unknown to the seed are appended.
func mergePriceAlerts(seeded, persisted []rules.PriceAlert) []rules.PriceAlert {
	index := make(map[string]int, len(seeded))
	out := make([]rules.PriceAlert, 0, len(seeded)+len(persisted))
	for _, pa := range seeded {
		index[pa.ID] = len(out)
		out = append(out, pa)
	}
	for _, pa := range persisted {
		if i, ok := index[pa.ID]; ok {
			out[i] = pa
			continue
		}
		index[pa.ID] = len(out)
		out = append(out, pa)
	}
	return out
}

func withoutSystem(events []alerting.Event) []alerting.Event {
	out := make([]alerting.Event, 0, len(events))
	for _, ev := range events {
		if ev.Category != alerting.CategorySystem {
			out = append(out, ev)
		}
	}
	return out
}
