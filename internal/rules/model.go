// Package rules stores operator alert rules and end-user price alerts.
package rules

import (
	"time"

	"chainalerts/internal/condition"
	"chainalerts/internal/feed"
	"chainalerts/internal/severity"
	"chainalerts/internal/snapshot"
)

// Channels selects the notification channels an alert is delivered to.
type Channels struct {
	InApp    bool `json:"inApp"`
	Sound    bool `json:"sound"`
	Push     bool `json:"push"`
	External bool `json:"external"`
}

// AllChannels enables every channel.
func AllChannels() Channels {
	return Channels{InApp: true, Sound: true, Push: true, External: true}
}

// AlertRule is an operator-authored rule over several sources and categories.
type AlertRule struct {
	ID         string          `json:"id"`
	Name       string          `json:"name"`
	Enabled    bool            `json:"enabled"`
	Sources    []string        `json:"sources"`
	Categories []feed.Category `json:"categories"`
	Threshold  float64         `json:"threshold"`
	MinVolume  float64         `json:"minVolume"`
	Timeframes []string        `json:"timeframes"`
	Severity   severity.Level  `json:"severity"`
	Notify     Channels        `json:"notify"`
	CreatedAt  time.Time       `json:"createdAt"`
	UpdatedAt  time.Time       `json:"updatedAt"`
}

// Targets reports whether the rule applies to sourceID; an empty set targets all sources.
func (r AlertRule) Targets(sourceID string) bool {
	if len(r.Sources) == 0 {
		return true
	}
	for _, id := range r.Sources {
		if id == sourceID {
			return true
		}
	}
	return false
}

// Covers reports whether the rule watches the category.
func (r AlertRule) Covers(c feed.Category) bool {
	for _, have := range r.Categories {
		if have == c {
			return true
		}
	}
	return false
}

func (r AlertRule) clone() AlertRule {
	r.Sources = append([]string(nil), r.Sources...)
	r.Categories = append([]feed.Category(nil), r.Categories...)
	r.Timeframes = append([]string(nil), r.Timeframes...)
	return r
}

// PriceAlert is an end-user single-metric alert.
type PriceAlert struct {
	ID              string              `json:"id"`
	SourceID        string              `json:"sourceId"`
	Instrument      string              `json:"instrument"`
	Metric          string              `json:"metric,omitempty"`
	Condition       condition.Condition `json:"condition"`
	Timeframe       string              `json:"timeframe"`
	Repeatable      bool                `json:"repeatable"`
	Enabled         bool                `json:"enabled"`
	Notify          Channels            `json:"notify"`
	CreatedAt       time.Time           `json:"createdAt"`
	LastTriggeredAt *time.Time          `json:"lastTriggeredAt,omitempty"`
}

// MetricKey returns the snapshot key the alert watches. Without an explicit
// metric it watches the instrument's price.
func (a PriceAlert) MetricKey() string {
	if a.Metric != "" {
		return a.Metric
	}
	return snapshot.MetricKey(string(feed.CategoryPrice), a.Instrument)
}

// Terminal reports whether a non-repeatable alert has already fired.
func (a PriceAlert) Terminal() bool {
	return !a.Repeatable && a.LastTriggeredAt != nil
}

func (a PriceAlert) clone() PriceAlert {
	if a.LastTriggeredAt != nil {
		ts := *a.LastTriggeredAt
		a.LastTriggeredAt = &ts
	}
	return a
}
