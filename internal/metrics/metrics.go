// Package metrics provides Prometheus metrics for the alert engine.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "chainalerts"

// Evaluation metrics
var (
	// EvaluationsTotal counts rule and price alert evaluations by kind.
	EvaluationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dispatcher",
			Name:      "evaluations_total",
			Help:      "Total rule and price alert evaluations",
		},
		[]string{"kind"},
	)

	// AlertsFiredTotal counts emitted events by category and severity.
	AlertsFiredTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dispatcher",
			Name:      "alerts_fired_total",
			Help:      "Total alert events emitted",
		},
		[]string{"category", "severity"},
	)

	// AlertsSkippedTotal counts evaluations skipped by reason.
	AlertsSkippedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dispatcher",
			Name:      "skipped_total",
			Help:      "Evaluations skipped (disabled, terminal, cooldown, malformed)",
		},
		[]string{"reason"},
	)

	// PassDuration tracks evaluation pass latency.
	PassDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "dispatcher",
			Name:      "pass_duration_seconds",
			Help:      "Evaluation pass latency in seconds",
			Buckets:   []float64{.0005, .001, .005, .01, .05, .1, .5, 1},
		},
	)

	// HistorySize tracks the recent history length.
	HistorySize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "dispatcher",
			Name:      "history_size",
			Help:      "Number of events in the bounded history",
		},
	)
)

// Notification metrics
var (
	// DeliveriesTotal counts channel deliveries by outcome.
	DeliveriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notify",
			Name:      "deliveries_total",
			Help:      "Total notification deliveries by channel and outcome",
		},
		[]string{"channel", "outcome"},
	)

	// UnreadNotifications tracks the unread count of the in-app list.
	UnreadNotifications = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "notify",
			Name:      "unread",
			Help:      "Unread in-app notifications",
		},
	)
)

// Feed metrics
var (
	// FeedRefreshTotal counts source refreshes by result.
	FeedRefreshTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "feed",
			Name:      "refresh_total",
			Help:      "Total source refreshes",
		},
		[]string{"source", "result"},
	)

	// TicksCoalescedTotal counts automatic ticks skipped because a manual refresh ran.
	TicksCoalescedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "ticks_coalesced_total",
			Help:      "Automatic ticks skipped in favour of a manual refresh",
		},
	)
)

// Handler returns the HTTP handler serving the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
