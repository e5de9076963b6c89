package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"chainalerts/internal/alerting"
	"chainalerts/internal/analytics"
	"chainalerts/internal/config"
	"chainalerts/internal/feed"
	"chainalerts/internal/integration"
	"chainalerts/internal/metrics"
	"chainalerts/internal/notify"
	"chainalerts/internal/rules"
	"chainalerts/internal/scheduler"
	"chainalerts/internal/service"
	"chainalerts/internal/severity"
	"chainalerts/internal/snapshot"
	"chainalerts/internal/storage"
	"chainalerts/internal/version"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger()}
}

// backend bundles the persistence collaborators selected by storage.backend.
// archive, locker and store are only set for postgres.
type backend struct {
	kv      storage.KV
	archive alerting.Archive
	locker  storage.AdvisoryLocker
	store   *storage.Store
	close   func()
}

func (a *App) openBackend(ctx context.Context) (*backend, error) {
	switch strings.ToLower(a.Config.Storage.Backend) {
	case "redis":
		kv, err := storage.NewRedisKV(ctx, a.Config.Storage.Redis)
		if err != nil {
			return nil, err
		}
		return &backend{kv: kv, close: func() { _ = kv.Close() }}, nil
	case "postgres":
		store, closeStore, err := a.openStore(ctx)
		if err != nil {
			return nil, err
		}
		return &backend{kv: store, archive: store, locker: store, store: store, close: closeStore}, nil
	default:
		a.Logger.Warn().Msg("storage.backend is memory; state is lost on exit")
		return &backend{kv: storage.NewMemoryKV(), close: func() {}}, nil
	}
}

func (a *App) openStore(ctx context.Context) (*storage.Store, func(), error) {
	if a.Config.Storage.Database.DSN == "" {
		return nil, nil, nil
	}

	pool, err := storage.NewPool(ctx, a.Config.Storage.Database)
	if err != nil {
		return nil, nil, err
	}

	store := storage.NewStore(pool)
	if err := store.EnsureSchema(ctx); err != nil {
		store.Close()
		return nil, nil, err
	}
	closer := func() {
		store.Close()
	}
	return store, closer, nil
}

// newRefresher registers one feed per configured source.
func (a *App) newRefresher() (*feed.Refresher, func(), error) {
	refresher := feed.NewRefresher(a.Logger)
	var chains []*feed.Chain
	closer := func() {
		for _, c := range chains {
			c.Close()
		}
	}

	for _, sc := range a.Config.Sources {
		var f feed.Feed
		switch sc.Kind {
		case "evm":
			vaults := make([]feed.Vault, 0, len(sc.Vaults))
			for _, v := range sc.Vaults {
				vaults = append(vaults, feed.Vault{Symbol: v.Symbol, Address: v.Address, Decimals: v.Decimals})
			}
			c := feed.NewChain(feed.ChainOptions{RPCURL: sc.URL, Timeout: sc.Timeout, Vaults: vaults}, a.Logger)
			chains = append(chains, c)
			f = c
		default:
			f = feed.NewHTTP(feed.HTTPOptions{
				URL:       sc.URL,
				Timeout:   sc.Timeout,
				UserAgent: version.UserAgent(),
			}, a.Logger)
		}
		if err := refresher.Register(sourceFromConfig(sc), f); err != nil {
			closer()
			return nil, nil, err
		}
	}
	return refresher, closer, nil
}

func sourceFromConfig(sc config.SourceConfig) feed.Source {
	name := sc.Name
	if name == "" {
		name = sc.ID
	}
	categories := make([]feed.Category, 0, len(sc.Categories))
	for _, c := range sc.Categories {
		categories = append(categories, feed.Category(strings.ToLower(c)))
	}
	return feed.Source{ID: sc.ID, Name: name, Categories: categories, Link: sc.Link}
}

func (a *App) newIntegrations() *integration.Manager {
	manager := integration.NewManager(a.Logger, integration.Options{UserAgent: version.UserAgent()})
	for i, seed := range a.Config.Integrations {
		in, err := integrationFromConfig(seed)
		if err != nil {
			a.Logger.Warn().Err(err).Int("index", i).Msg("skipping integration seed")
			continue
		}
		if res := manager.Save(in); !res.Success {
			a.Logger.Warn().Str("name", seed.Name).Str("reason", res.Message).Msg("integration seed rejected")
		}
	}
	return manager
}

func integrationFromConfig(seed config.IntegrationConfig) (integration.Integration, error) {
	typ, err := integration.ParseType(seed.Type)
	if err != nil {
		return integration.Integration{}, err
	}
	var minSeverity severity.Level
	if seed.MinSeverity != "" {
		minSeverity = severity.Parse(seed.MinSeverity)
	}
	categories := make([]alerting.Category, 0, len(seed.Categories))
	for _, c := range seed.Categories {
		categories = append(categories, alerting.Category(c))
	}
	return integration.Integration{
		ID:   seed.ID,
		Type: typ,
		Name: seed.Name,
		Connection: integration.Connection{
			WebhookURL: seed.WebhookURL,
			BotToken:   seed.BotToken,
			ChatID:     seed.ChatID,
			APIBase:    seed.APIBase,
		},
		Filter: integration.Filter{
			MinSeverity:        minSeverity,
			Categories:         categories,
			IncludePriceAlerts: seed.IncludePriceAlert,
			IncludePriceData:   seed.IncludePriceData,
		},
		Enabled:       seed.Enabled,
		RatePerMinute: seed.RatePerMinute,
	}, nil
}

// runtime is the fully wired engine for one command invocation.
type runtime struct {
	refresher    *feed.Refresher
	snapshots    *snapshot.Store
	registry     *rules.Registry
	dispatcher   *alerting.Dispatcher
	router       *notify.Router
	integrations *integration.Manager
	state        *storage.State
	service      *service.Service
}

func (a *App) assemble(refresher *feed.Refresher, be *backend) (*runtime, error) {
	cfg := a.Config

	registry := rules.NewRegistry()
	if cfg.Alerting.RulesFile != "" {
		ruleList, alerts, err := rules.LoadFile(cfg.Alerting.RulesFile)
		if err != nil {
			return nil, err
		}
		for _, r := range ruleList {
			registry.SaveRule(r)
		}
		for _, pa := range alerts {
			registry.SavePriceAlert(pa)
		}
		a.Logger.Info().Int("rules", len(ruleList)).Int("price_alerts", len(alerts)).Msg("rules file loaded")
	}

	tf, err := analytics.ParseTimeframe(cfg.Analytics.Timeframe)
	if err != nil {
		return nil, err
	}

	integrations := a.newIntegrations()
	inbox := notify.NewInbox(cfg.Alerting.HistoryCapacity)
	router := notify.NewRouter(
		inbox,
		notify.NewTerminalBell(os.Stderr),
		notify.NewLogPusher(a.Logger),
		integrations,
		notify.Options{Sound: cfg.Notify.Sound, Push: cfg.Notify.Push},
		a.Logger,
	)
	router.SetPushPermission(cfg.Notify.PushPermitted)

	snaps := snapshot.NewStore()
	dispatcher := alerting.NewDispatcher(registry, snaps, be.archive, router, a.Logger, alerting.Options{
		HistoryCapacity: cfg.Alerting.HistoryCapacity,
		RuleCooldown:    cfg.Alerting.RuleCooldown,
		Sources:         refresher.Source,
	})

	state := storage.NewState(be.kv, a.Logger)

	metricsSched := scheduler.New(scheduler.Options{
		Name:         "metrics",
		Interval:     cfg.Scheduler.MetricsInterval,
		AlignToStart: cfg.Scheduler.AlignToInterval,
		StartupDelay: cfg.Scheduler.StartupDelay,
		Immediate:    true,
	}, a.Logger)
	analyticsSched := scheduler.New(scheduler.Options{
		Name:         "analytics",
		Interval:     cfg.Scheduler.AnalyticsInterval,
		AlignToStart: cfg.Scheduler.AlignToInterval,
		StartupDelay: cfg.Scheduler.StartupDelay,
	}, a.Logger)

	svc := service.New(service.Deps{
		Refresher:          refresher,
		Snapshots:          snaps,
		Registry:           registry,
		Dispatcher:         dispatcher,
		Router:             router,
		Integrations:       integrations,
		Analytics:          analytics.NewEngine(analytics.Options{AnomalyK: cfg.Analytics.AnomalyK}),
		State:              state,
		Locker:             be.locker,
		MetricsScheduler:   metricsSched,
		AnalyticsScheduler: analyticsSched,
	}, service.Options{Timeframe: tf, LockKey: cfg.Scheduler.AdvisoryLockKey}, a.Logger)

	return &runtime{
		refresher:    refresher,
		snapshots:    snaps,
		registry:     registry,
		dispatcher:   dispatcher,
		router:       router,
		integrations: integrations,
		state:        state,
		service:      svc,
	}, nil
}

// serveMetrics exposes /metrics when metrics.listen is set. The returned
// func shuts the listener down.
func (a *App) serveMetrics() func() {
	addr := a.Config.Metrics.Listen
	if addr == "" {
		return func() {}
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		a.Logger.Info().Str("addr", addr).Msg("metrics endpoint listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.Logger.Error().Err(err).Msg("metrics endpoint stopped")
		}
	}()

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}

// Run executes the long-running alert engine.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	be, err := a.openBackend(ctx)
	if err != nil {
		return err
	}
	defer be.close()

	refresher, closeFeeds, err := a.newRefresher()
	if err != nil {
		return err
	}
	defer closeFeeds()
	if len(refresher.Sources()) == 0 {
		return errors.New("no sources configured")
	}

	rt, err := a.assemble(refresher, be)
	if err != nil {
		return err
	}
	rt.service.Restore(ctx)

	stopMetrics := a.serveMetrics()
	defer stopMetrics()

	a.Logger.Info().
		Int("sources", len(refresher.Sources())).
		Int("rules", len(rt.registry.Rules())).
		Int("integrations", len(rt.integrations.List())).
		Msg("starting alert engine")
	err = rt.service.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("alert engine terminated with error")
		return err
	}

	a.Logger.Info().Msg("alert engine stopped")
	return nil
}

// ExportOptions hold parameters for exporting the analytics trend series.
type ExportOptions struct {
	Timeframe string
	PNGPath   string
	CSVPath   string
	MaxPoints int
}

// ShowOptions configure the show command.
type ShowOptions struct {
	Limit   int
	Unread  bool
	Archive bool
	Alerts  bool
}

// SimulateOptions describe one synthetic metric move.
type SimulateOptions struct {
	SourceID  string
	Metric    string
	Previous  float64
	Current   float64
	Threshold float64
}

// PruneOptions configure archive retention.
type PruneOptions struct {
	Before time.Time
	DryRun bool
}

// IntegrationTestOptions describe a connectivity check.
type IntegrationTestOptions struct {
	Type     string
	Endpoint string
	Token    string
	Chat     string
	APIBase  string
}

func (o SimulateOptions) validate() error {
	if o.SourceID == "" || o.Metric == "" {
		return fmt.Errorf("source and metric are required")
	}
	if o.Threshold < 0 {
		return fmt.Errorf("threshold cannot be negative")
	}
	return nil
}
