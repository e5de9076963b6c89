package alerting

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"chainalerts/internal/condition"
	"chainalerts/internal/feed"
	"chainalerts/internal/metrics"
	"chainalerts/internal/rules"
	"chainalerts/internal/severity"
	"chainalerts/internal/snapshot"
)

// DefaultRuleCooldown suppresses repeat rule firings for the same metric.
const DefaultRuleCooldown = 30 * time.Minute

// Sink receives every event the dispatcher emits.
type Sink interface {
	Route(ctx context.Context, ev Event, channels rules.Channels) []Delivery
}

// SourceLookup resolves display metadata for a source id.
type SourceLookup func(id string) (feed.Source, bool)

// Options tune the dispatcher.
type Options struct {
	HistoryCapacity int
	RuleCooldown    time.Duration
	Now             func() time.Time
	Sources         SourceLookup
}

// PassResult summarises one evaluation pass.
type PassResult struct {
	Events     []Event
	Deliveries map[string][]Delivery
	Skipped    int
	Malformed  int
}

// Dispatcher evaluates every enabled rule and price alert against the
// snapshot store, records matches and forwards them to the sink. Passes are
// serialised.
type Dispatcher struct {
	mu       sync.Mutex
	registry *rules.Registry
	snaps    *snapshot.Store
	history  *History
	archive  Archive
	sink     Sink
	logger   zerolog.Logger
	cooldown time.Duration
	now      func() time.Time
	sources  SourceLookup
	fired    map[string]time.Time
}

// NewDispatcher wires a dispatcher. A nil archive falls back to memory and a
// nil sink drops events after recording them.
func NewDispatcher(registry *rules.Registry, snaps *snapshot.Store, archive Archive, sink Sink, logger zerolog.Logger, opts Options) *Dispatcher {
	if archive == nil {
		archive = NewMemoryArchive()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.RuleCooldown < 0 {
		opts.RuleCooldown = 0
	}
	return &Dispatcher{
		registry: registry,
		snaps:    snaps,
		history:  NewHistory(opts.HistoryCapacity),
		archive:  archive,
		sink:     sink,
		logger:   logger.With().Str("component", "dispatcher").Logger(),
		cooldown: opts.RuleCooldown,
		now:      opts.Now,
		sources:  opts.Sources,
		fired:    make(map[string]time.Time),
	}
}

// SetSink swaps the downstream sink.
func (d *Dispatcher) SetSink(s Sink) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sink = s
}

// Evaluate runs one pass over every rule and price alert.
func (d *Dispatcher) Evaluate(ctx context.Context) PassResult {
	d.mu.Lock()
	defer d.mu.Unlock()

	start := time.Now()
	defer func() {
		metrics.PassDuration.Observe(time.Since(start).Seconds())
		metrics.HistorySize.Set(float64(d.history.Len()))
	}()

	res := PassResult{Deliveries: make(map[string][]Delivery)}

	for _, rule := range d.registry.Rules() {
		if ctx.Err() != nil {
			return res
		}
		d.evaluateRule(ctx, rule, &res)
	}

	for _, alert := range d.registry.PriceAlerts() {
		if ctx.Err() != nil {
			return res
		}
		d.evaluatePriceAlert(ctx, alert, &res)
	}

	return res
}

func (d *Dispatcher) evaluatePriceAlert(ctx context.Context, alert rules.PriceAlert, res *PassResult) {
	metrics.EvaluationsTotal.WithLabelValues(string(CategoryPriceAlert)).Inc()

	if !alert.Enabled {
		d.skip(res, "disabled")
		return
	}
	if alert.Terminal() {
		d.skip(res, "terminal")
		return
	}
	if err := alert.Condition.Validate(); err != nil {
		res.Malformed++
		metrics.AlertsSkippedTotal.WithLabelValues("malformed").Inc()
		d.logger.Warn().Err(err).Str("price_alert_id", alert.ID).Msg("skipping malformed price alert")
		return
	}

	snap, ok := d.snaps.Get(alert.SourceID, alert.MetricKey())
	if !ok {
		return
	}
	if !condition.Evaluate(alert.Condition, snap.Current, snap.Previous, snap.HasPrevious) {
		return
	}

	now := d.now().UTC()
	if !d.registry.MarkTriggered(alert.ID, now) {
		d.skip(res, "terminal")
		return
	}

	change, _ := condition.PercentChange(snap.Current, snap.Previous)
	ev := Event{
		ID:        uuid.NewString(),
		Category:  CategoryPriceAlert,
		Title:     priceAlertTitle(alert),
		Message:   priceAlertMessage(alert, snap),
		Timestamp: now,
		Severity:  severity.Classify(alert.Condition),
		Status:    StatusUnread,
		Actions: []Action{
			{Label: "View source", Kind: "open_source", Target: alert.SourceID},
		},
		Metadata: Metadata{
			PriceAlertID: alert.ID,
			SourceID:     alert.SourceID,
			SourceURL:    d.source(alert.SourceID).Link,
			MetricKey:    alert.MetricKey(),
			Instrument:   alert.Instrument,
			Condition:    alert.Condition.Type,
			Current:      snap.Current,
			Previous:     snap.Previous,
			HasPrevious:  snap.HasPrevious,
			Threshold:    conditionThreshold(alert.Condition),
			ChangePct:    change,
		},
	}
	if !alert.Repeatable {
		ev.Actions = append(ev.Actions, Action{Label: "Re-arm", Kind: "reset_price_alert", Target: alert.ID})
	}

	d.emit(ctx, ev, alert.Notify, res)
}

func (d *Dispatcher) evaluateRule(ctx context.Context, rule rules.AlertRule, res *PassResult) {
	metrics.EvaluationsTotal.WithLabelValues(string(CategoryRule)).Inc()

	if !rule.Enabled {
		d.skip(res, "disabled")
		return
	}
	if rule.Threshold <= 0 || len(rule.Categories) == 0 {
		res.Malformed++
		metrics.AlertsSkippedTotal.WithLabelValues("malformed").Inc()
		d.logger.Warn().Str("rule_id", rule.ID).Float64("threshold", rule.Threshold).Msg("skipping malformed rule")
		return
	}

	sourceIDs := rule.Sources
	if len(sourceIDs) == 0 {
		sourceIDs = d.snaps.Sources()
	}

	now := d.now().UTC()
	for _, sourceID := range sourceIDs {
		for _, snap := range d.snaps.Source(sourceID) {
			category, instrument := snapshot.SplitKey(snap.MetricKey)
			if !rule.Covers(feed.Category(category)) || !snap.HasPrevious {
				continue
			}
			change, ok := condition.PercentChange(snap.Current, snap.Previous)
			if !ok || math.Abs(change) < rule.Threshold {
				continue
			}
			if rule.MinVolume > 0 && !d.volumeAtLeast(sourceID, instrument, rule.MinVolume) {
				d.skip(res, "min_volume")
				continue
			}

			key := rule.ID + "|" + sourceID + "|" + snap.MetricKey
			if last, seen := d.fired[key]; seen && d.cooldown > 0 && now.Sub(last) < d.cooldown {
				d.skip(res, "cooldown")
				continue
			}
			d.fired[key] = now

			level := rule.Severity
			if level == 0 {
				level = severity.Medium
			}
			src := d.source(sourceID)
			ev := Event{
				ID:        uuid.NewString(),
				Category:  CategoryRule,
				Title:     rule.Name,
				Message:   ruleMessage(rule, src, snap, change),
				Timestamp: now,
				Severity:  level,
				Status:    StatusUnread,
				Actions: []Action{
					{Label: "View source", Kind: "open_source", Target: sourceID},
				},
				Metadata: Metadata{
					RuleID:      rule.ID,
					SourceID:    sourceID,
					SourceURL:   src.Link,
					MetricKey:   snap.MetricKey,
					Instrument:  instrument,
					Current:     snap.Current,
					Previous:    snap.Previous,
					HasPrevious: snap.HasPrevious,
					Threshold:   rule.Threshold,
					ChangePct:   change,
				},
			}
			d.emit(ctx, ev, rule.Notify, res)
		}
	}
}

func (d *Dispatcher) volumeAtLeast(sourceID, instrument string, floor float64) bool {
	snap, ok := d.snaps.Get(sourceID, snapshot.MetricKey(string(feed.CategoryVolume), instrument))
	if !ok {
		return false
	}
	return snap.Current >= floor
}

func (d *Dispatcher) source(id string) feed.Source {
	if d.sources != nil {
		if src, ok := d.sources(id); ok {
			return src
		}
	}
	return feed.Source{ID: id, Name: id}
}

func (d *Dispatcher) skip(res *PassResult, reason string) {
	res.Skipped++
	metrics.AlertsSkippedTotal.WithLabelValues(reason).Inc()
}

// emit records ev and hands it to the sink. The caller holds d.mu.
func (d *Dispatcher) emit(ctx context.Context, ev Event, channels rules.Channels, res *PassResult) {
	d.history.Prepend(ev)
	if ev.Category != CategorySystem {
		if err := d.archive.Append(ctx, ev); err != nil {
			d.logger.Warn().Err(err).Str("event_id", ev.ID).Msg("archive append failed")
		}
	}
	metrics.AlertsFiredTotal.WithLabelValues(string(ev.Category), ev.Severity.String()).Inc()

	d.logger.Info().
		Str("event_id", ev.ID).
		Str("category", string(ev.Category)).
		Str("severity", ev.Severity.String()).
		Str("source", ev.SourceID()).
		Msg(ev.Message)

	res.Events = append(res.Events, ev)
	if d.sink != nil {
		res.Deliveries[ev.ID] = d.sink.Route(ctx, ev, channels)
	}
}

// EmitSystem records and routes a system event outside an evaluation pass.
func (d *Dispatcher) EmitSystem(ctx context.Context, title, message string, level severity.Level, meta Metadata) (Event, []Delivery) {
	d.mu.Lock()
	defer d.mu.Unlock()

	ev := Event{
		ID:        uuid.NewString(),
		Category:  CategorySystem,
		Title:     title,
		Message:   message,
		Timestamp: d.now().UTC(),
		Severity:  level,
		Status:    StatusUnread,
		Metadata:  meta,
	}
	res := PassResult{Deliveries: make(map[string][]Delivery)}
	d.emit(ctx, ev, rules.Channels{InApp: true, External: true}, &res)
	return ev, res.Deliveries[ev.ID]
}

// ResetPriceAlert re-arms a price alert by clearing its last trigger time.
func (d *Dispatcher) ResetPriceAlert(id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.registry.ResetTriggered(id)
}

// History returns a copy of the recent events, newest first.
func (d *Dispatcher) History() []Event {
	return d.history.List()
}

// RestoreHistory replaces the recent events, e.g. from persisted state.
func (d *Dispatcher) RestoreHistory(events []Event) {
	d.history.Replace(events)
}

// Archived queries the unbounded trigger archive.
func (d *Dispatcher) Archived(ctx context.Context, q ArchiveQuery) ([]Event, error) {
	events, err := d.archive.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("query archive: %w", err)
	}
	return events, nil
}

func conditionThreshold(c condition.Condition) float64 {
	switch p := c.Params.(type) {
	case condition.TargetParams:
		return p.Target
	case condition.PercentParams:
		return p.Percentage
	case condition.VolatilityParams:
		return p.Threshold
	case condition.RangeParams:
		return p.Max
	default:
		return 0
	}
}
