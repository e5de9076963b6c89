// Package analytics derives read-only aggregate views from alert history.
package analytics

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"chainalerts/internal/alerting"
	"chainalerts/internal/severity"
)

// DefaultAnomalyK is the number of standard deviations above the mean a
// bucket must exceed to be flagged.
const DefaultAnomalyK = 2.0

// Timeframe selects the analysis window and its bucket width.
type Timeframe string

const (
	Hour  Timeframe = "1h"
	Day   Timeframe = "24h"
	Week  Timeframe = "7d"
	Month Timeframe = "30d"
)

// ParseTimeframe normalises a timeframe name.
func ParseTimeframe(s string) (Timeframe, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1h", "hour":
		return Hour, nil
	case "24h", "1d", "day":
		return Day, nil
	case "7d", "week":
		return Week, nil
	case "30d", "month":
		return Month, nil
	default:
		return "", fmt.Errorf("unknown timeframe %q", s)
	}
}

// Window returns the total span covered.
func (t Timeframe) Window() time.Duration {
	switch t {
	case Hour:
		return time.Hour
	case Week:
		return 7 * 24 * time.Hour
	case Month:
		return 30 * 24 * time.Hour
	default:
		return 24 * time.Hour
	}
}

// BucketWidth returns the width of one trend bucket.
func (t Timeframe) BucketWidth() time.Duration {
	switch t {
	case Hour:
		return 5 * time.Minute
	case Week, Month:
		return 24 * time.Hour
	default:
		return time.Hour
	}
}

// Options tune the engine.
type Options struct {
	AnomalyK float64
	Now      func() time.Time
}

// Engine computes analytics over event lists. It never mutates its input.
type Engine struct {
	k   float64
	now func() time.Time
}

// NewEngine constructs an engine.
func NewEngine(opts Options) *Engine {
	if opts.AnomalyK <= 0 {
		opts.AnomalyK = DefaultAnomalyK
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Engine{k: opts.AnomalyK, now: opts.Now}
}

// Share is one slice of a distribution.
type Share struct {
	Key        string  `json:"key"`
	Count      int     `json:"count"`
	Percentage float64 `json:"percentage"`
}

// Bucket is one step of the trend series.
type Bucket struct {
	Start      time.Time                 `json:"start"`
	Total      int                       `json:"total"`
	ByCategory map[alerting.Category]int `json:"byCategory"`
}

// Anomaly describes a flagged bucket.
type Anomaly struct {
	Type        string             `json:"type"`
	Scope       string             `json:"scope"`
	Description string             `json:"description"`
	Severity    severity.Level     `json:"severity"`
	Details     map[string]float64 `json:"details"`
}

// Report is the anomaly detection result.
type Report struct {
	HasAnomalies bool      `json:"hasAnomalies"`
	Anomalies    []Anomaly `json:"anomalies"`
}

// Summary bundles every view for one timeframe.
type Summary struct {
	Timeframe Timeframe `json:"timeframe"`
	Total     int       `json:"total"`
	Frequency []Share   `json:"frequency"`
	Trend     []Bucket  `json:"trend"`
	Sources   []Share   `json:"sources"`
	Anomalies Report    `json:"anomalies"`
}

// Summarize computes every view at once.
func (e *Engine) Summarize(events []alerting.Event, tf Timeframe) Summary {
	start, end := e.window(tf)
	in := within(events, start, end)
	return Summary{
		Timeframe: tf,
		Total:     len(in),
		Frequency: distribution(in, func(ev alerting.Event) string { return string(ev.Category) }),
		Trend:     buckets(in, start, tf),
		Sources:   distribution(in, sourceKey),
		Anomalies: e.detect(in, start, tf),
	}
}

// Frequency groups events in the window by category.
func (e *Engine) Frequency(events []alerting.Event, tf Timeframe) []Share {
	start, end := e.window(tf)
	return distribution(within(events, start, end), func(ev alerting.Event) string { return string(ev.Category) })
}

// SourceDistribution groups events in the window by originating source.
func (e *Engine) SourceDistribution(events []alerting.Event, tf Timeframe) []Share {
	start, end := e.window(tf)
	return distribution(within(events, start, end), sourceKey)
}

// Trend partitions the window into fixed-width buckets, oldest first.
func (e *Engine) Trend(events []alerting.Event, tf Timeframe) []Bucket {
	start, end := e.window(tf)
	return buckets(within(events, start, end), start, tf)
}

// DetectAnomalies flags the latest bucket when its count exceeds the
// baseline mean by more than k standard deviations, overall and per category.
func (e *Engine) DetectAnomalies(events []alerting.Event, tf Timeframe) Report {
	start, end := e.window(tf)
	return e.detect(within(events, start, end), start, tf)
}

func (e *Engine) detect(events []alerting.Event, start time.Time, tf Timeframe) Report {
	series := buckets(events, start, tf)
	report := Report{Anomalies: []Anomaly{}}
	if len(series) < 3 {
		return report
	}

	totals := make([]float64, len(series))
	for i, b := range series {
		totals[i] = float64(b.Total)
	}
	if a, ok := e.check(totals, "frequency_spike", "all", "alerts"); ok {
		report.Anomalies = append(report.Anomalies, a)
	}

	latest := series[len(series)-1]
	categories := make([]alerting.Category, 0, len(latest.ByCategory))
	for c := range latest.ByCategory {
		categories = append(categories, c)
	}
	sort.Slice(categories, func(i, j int) bool { return categories[i] < categories[j] })
	for _, c := range categories {
		counts := make([]float64, len(series))
		for i, b := range series {
			counts[i] = float64(b.ByCategory[c])
		}
		if a, ok := e.check(counts, "category_spike", string(c), string(c)+" alerts"); ok {
			report.Anomalies = append(report.Anomalies, a)
		}
	}

	report.HasAnomalies = len(report.Anomalies) > 0
	return report
}

func (e *Engine) check(counts []float64, kind, scope, label string) (Anomaly, bool) {
	baseline := counts[:len(counts)-1]
	latest := counts[len(counts)-1]
	mean, stddev := meanStddev(baseline)

	// Spread is floored at one alert so a quiet or flat baseline is not
	// flagged by a single stray event.
	spread := math.Max(stddev, 1)
	if latest <= mean+e.k*spread {
		return Anomaly{}, false
	}
	z := (latest - mean) / spread
	return Anomaly{
		Type:        kind,
		Scope:       scope,
		Description: fmt.Sprintf("%.0f %s in the latest bucket, %.1f standard deviations above the mean of %.2f", latest, label, z, mean),
		Severity:    severityForZ(z),
		Details: map[string]float64{
			"count":     latest,
			"mean":      mean,
			"stddev":    stddev,
			"zScore":    z,
			"k":         e.k,
			"threshold": mean + e.k*spread,
		},
	}, true
}

func severityForZ(z float64) severity.Level {
	switch {
	case z >= 4:
		return severity.Critical
	case z >= 3:
		return severity.High
	case z >= 2:
		return severity.Medium
	default:
		return severity.Low
	}
}

func meanStddev(values []float64) (float64, float64) {
	if len(values) == 0 {
		return 0, 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	mean := sum / float64(len(values))
	var sq float64
	for _, v := range values {
		sq += (v - mean) * (v - mean)
	}
	return mean, math.Sqrt(sq / float64(len(values)))
}

// window returns the bucket-aligned [start, end] range for tf.
func (e *Engine) window(tf Timeframe) (time.Time, time.Time) {
	end := e.now().UTC()
	width := tf.BucketWidth()
	n := int(tf.Window() / width)
	start := end.Truncate(width).Add(-time.Duration(n-1) * width)
	return start, end
}

func within(events []alerting.Event, start, end time.Time) []alerting.Event {
	out := make([]alerting.Event, 0, len(events))
	for _, ev := range events {
		ts := ev.Timestamp.UTC()
		if ts.Before(start) || ts.After(end) {
			continue
		}
		out = append(out, ev)
	}
	return out
}

func buckets(events []alerting.Event, start time.Time, tf Timeframe) []Bucket {
	width := tf.BucketWidth()
	n := int(tf.Window() / width)
	out := make([]Bucket, n)
	for i := range out {
		out[i] = Bucket{Start: start.Add(time.Duration(i) * width), ByCategory: make(map[alerting.Category]int)}
	}
	for _, ev := range events {
		idx := int(ev.Timestamp.UTC().Sub(start) / width)
		if idx < 0 || idx >= n {
			continue
		}
		out[idx].Total++
		out[idx].ByCategory[ev.Category]++
	}
	return out
}

func distribution(events []alerting.Event, key func(alerting.Event) string) []Share {
	counts := make(map[string]int)
	for _, ev := range events {
		counts[key(ev)]++
	}
	out := make([]Share, 0, len(counts))
	for k, c := range counts {
		out = append(out, Share{Key: k, Count: c, Percentage: float64(c) / float64(len(events)) * 100})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Key < out[j].Key
	})
	return out
}

func sourceKey(ev alerting.Event) string {
	if src := ev.SourceID(); src != "" {
		return src
	}
	return "unknown"
}

// Merge joins the bounded history with archived events, dropping duplicates
// by id. The result is newest first.
func Merge(lists ...[]alerting.Event) []alerting.Event {
	seen := make(map[string]struct{})
	var out []alerting.Event
	for _, list := range lists {
		for _, ev := range list {
			if _, dup := seen[ev.ID]; dup {
				continue
			}
			seen[ev.ID] = struct{}{}
			out = append(out, ev)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	return out
}
