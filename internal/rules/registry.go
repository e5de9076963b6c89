package rules

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"chainalerts/internal/feed"
)

// Registry is the CRUD store for alert rules and price alerts. The two
// families are separate id namespaces. Every read returns copies.
type Registry struct {
	mu     sync.RWMutex
	rules  []AlertRule
	alerts []PriceAlert
	now    func() time.Time
}

// NewRegistry constructs an empty registry.
func NewRegistry() *Registry {
	return &Registry{now: time.Now}
}

// SaveRule upserts a rule. A rule without an id gets a fresh one.
func (r *Registry) SaveRule(rule AlertRule) AlertRule {
	r.mu.Lock()
	defer r.mu.Unlock()

	if rule.ID == "" {
		rule.ID = uuid.NewString()
	}
	now := r.now().UTC()
	if rule.CreatedAt.IsZero() {
		rule.CreatedAt = now
	}
	if rule.UpdatedAt.IsZero() {
		rule.UpdatedAt = rule.CreatedAt
	}
	rule = rule.clone()

	for i := range r.rules {
		if r.rules[i].ID == rule.ID {
			r.rules[i] = rule
			return rule.clone()
		}
	}
	r.rules = append(r.rules, rule)
	return rule.clone()
}

// Rule looks up a rule by id.
func (r *Registry) Rule(id string) (AlertRule, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, rule := range r.rules {
		if rule.ID == id {
			return rule.clone(), true
		}
	}
	return AlertRule{}, false
}

// DeleteRule removes a rule and reports whether it existed.
func (r *Registry) DeleteRule(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.rules {
		if r.rules[i].ID == id {
			r.rules = append(r.rules[:i], r.rules[i+1:]...)
			return true
		}
	}
	return false
}

// Rules returns every rule in insertion order.
func (r *Registry) Rules() []AlertRule {
	return r.filterRules(func(AlertRule) bool { return true })
}

// EnabledRules returns the enabled rules.
func (r *Registry) EnabledRules() []AlertRule {
	return r.filterRules(func(rule AlertRule) bool { return rule.Enabled })
}

// RulesForSource returns rules targeting sourceID, including all-source rules.
func (r *Registry) RulesForSource(sourceID string) []AlertRule {
	return r.filterRules(func(rule AlertRule) bool { return rule.Targets(sourceID) })
}

// RulesForCategory returns rules watching the category.
func (r *Registry) RulesForCategory(c feed.Category) []AlertRule {
	return r.filterRules(func(rule AlertRule) bool { return rule.Covers(c) })
}

func (r *Registry) filterRules(keep func(AlertRule) bool) []AlertRule {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]AlertRule, 0, len(r.rules))
	for _, rule := range r.rules {
		if keep(rule) {
			out = append(out, rule.clone())
		}
	}
	return out
}

// SavePriceAlert upserts a price alert. An alert without an id gets a fresh one.
func (r *Registry) SavePriceAlert(alert PriceAlert) PriceAlert {
	r.mu.Lock()
	defer r.mu.Unlock()

	if alert.ID == "" {
		alert.ID = uuid.NewString()
	}
	if alert.CreatedAt.IsZero() {
		alert.CreatedAt = r.now().UTC()
	}
	alert = alert.clone()

	for i := range r.alerts {
		if r.alerts[i].ID == alert.ID {
			r.alerts[i] = alert
			return alert.clone()
		}
	}
	r.alerts = append(r.alerts, alert)
	return alert.clone()
}

// PriceAlert looks up a price alert by id.
func (r *Registry) PriceAlert(id string) (PriceAlert, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, alert := range r.alerts {
		if alert.ID == id {
			return alert.clone(), true
		}
	}
	return PriceAlert{}, false
}

// DeletePriceAlert removes a price alert and reports whether it existed.
func (r *Registry) DeletePriceAlert(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.alerts {
		if r.alerts[i].ID == id {
			r.alerts = append(r.alerts[:i], r.alerts[i+1:]...)
			return true
		}
	}
	return false
}

// PriceAlerts returns every price alert in insertion order.
func (r *Registry) PriceAlerts() []PriceAlert {
	return r.filterAlerts(func(PriceAlert) bool { return true })
}

// EnabledPriceAlerts returns the enabled price alerts.
func (r *Registry) EnabledPriceAlerts() []PriceAlert {
	return r.filterAlerts(func(a PriceAlert) bool { return a.Enabled })
}

// PriceAlertsForSource returns the price alerts watching sourceID.
func (r *Registry) PriceAlertsForSource(sourceID string) []PriceAlert {
	return r.filterAlerts(func(a PriceAlert) bool { return a.SourceID == sourceID })
}

// PriceAlertsForInstrument returns the price alerts on an instrument across sources.
func (r *Registry) PriceAlertsForInstrument(instrument string) []PriceAlert {
	return r.filterAlerts(func(a PriceAlert) bool { return a.Instrument == instrument })
}

// ReplacePriceAlerts swaps the whole collection, used when restoring persisted state.
func (r *Registry) ReplacePriceAlerts(alerts []PriceAlert) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.alerts = make([]PriceAlert, 0, len(alerts))
	for _, a := range alerts {
		r.alerts = append(r.alerts, a.clone())
	}
}

// MarkTriggered records a firing. Terminal alerts are left untouched and
// false is returned, so a non-repeatable alert is marked exactly once.
func (r *Registry) MarkTriggered(id string, at time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.alerts {
		if r.alerts[i].ID != id {
			continue
		}
		if r.alerts[i].Terminal() {
			return false
		}
		ts := at.UTC()
		r.alerts[i].LastTriggeredAt = &ts
		return true
	}
	return false
}

// ResetTriggered clears lastTriggeredAt so a terminal alert can fire again.
func (r *Registry) ResetTriggered(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.alerts {
		if r.alerts[i].ID == id {
			r.alerts[i].LastTriggeredAt = nil
			return true
		}
	}
	return false
}

func (r *Registry) filterAlerts(keep func(PriceAlert) bool) []PriceAlert {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]PriceAlert, 0, len(r.alerts))
	for _, alert := range r.alerts {
		if keep(alert) {
			out = append(out, alert.clone())
		}
	}
	return out
}
