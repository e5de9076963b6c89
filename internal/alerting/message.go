package alerting

import (
	"fmt"
	"math"
	"strings"

	"github.com/shopspring/decimal"

	"chainalerts/internal/condition"
	"chainalerts/internal/feed"
	"chainalerts/internal/rules"
	"chainalerts/internal/snapshot"
)

// FormatValue renders a metric value; price metrics get a dollar sign.
func FormatValue(metricKey string, v float64) string {
	category, _ := snapshot.SplitKey(metricKey)
	s := formatNumber(v)
	if category == string(feed.CategoryPrice) {
		if strings.HasPrefix(s, "-") {
			return "-$" + s[1:]
		}
		return "$" + s
	}
	return s
}

func formatNumber(v float64) string {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return fmt.Sprintf("%v", v)
	}
	d := decimal.NewFromFloat(v)
	if d.Abs().LessThan(decimal.NewFromInt(1)) && !d.IsZero() {
		return d.Round(6).String()
	}
	return d.StringFixed(2)
}

// FormatPercent renders a percentage with two decimals.
func FormatPercent(v float64) string {
	return decimal.NewFromFloat(v).StringFixed(2) + "%"
}

func subject(alert rules.PriceAlert) string {
	category, instrument := snapshot.SplitKey(alert.MetricKey())
	name := alert.Instrument
	if name == "" {
		name = instrument
	}
	if category == string(feed.CategoryPrice) {
		return name + " price"
	}
	return name + " " + strings.ReplaceAll(category, "_", " ")
}

// priceAlertTitle is the short headline of a price alert event.
func priceAlertTitle(alert rules.PriceAlert) string {
	return fmt.Sprintf("%s Alert", strings.TrimSpace(titleCase(subject(alert))))
}

// priceAlertMessage renders the condition specific sentence.
func priceAlertMessage(alert rules.PriceAlert, snap snapshot.Snapshot) string {
	key := alert.MetricKey()
	subj := subject(alert)
	cur := FormatValue(key, snap.Current)
	prev := FormatValue(key, snap.Previous)
	change, _ := condition.PercentChange(snap.Current, snap.Previous)

	switch p := alert.Condition.Params.(type) {
	case condition.TargetParams:
		target := FormatValue(key, p.Target)
		switch alert.Condition.Type {
		case condition.Above:
			return fmt.Sprintf("%s is now above %s at %s", subj, target, cur)
		case condition.Below:
			return fmt.Sprintf("%s is now below %s at %s", subj, target, cur)
		default:
			return fmt.Sprintf("%s reached the target of %s at %s", subj, target, cur)
		}
	case condition.PercentParams:
		if alert.Condition.Type == condition.PercentDecrease {
			return fmt.Sprintf("%s decreased by %s (from %s to %s), threshold %s", subj, FormatPercent(-change), prev, cur, FormatPercent(p.Percentage))
		}
		return fmt.Sprintf("%s increased by %s (from %s to %s), threshold %s", subj, FormatPercent(change), prev, cur, FormatPercent(p.Percentage))
	case condition.RangeParams:
		return fmt.Sprintf("%s is within the range %s - %s at %s", subj, FormatValue(key, p.Min), FormatValue(key, p.Max), cur)
	case condition.VolatilityParams:
		return fmt.Sprintf("%s volatility spike: moved %s (from %s to %s), threshold %s", subj, FormatPercent(math.Abs(change)), prev, cur, FormatPercent(p.Threshold))
	default:
		return fmt.Sprintf("%s triggered at %s", subj, cur)
	}
}

// ruleMessage renders the sentence for a rule-origin event.
func ruleMessage(rule rules.AlertRule, src feed.Source, snap snapshot.Snapshot, change float64) string {
	category, instrument := snapshot.SplitKey(snap.MetricKey)
	what := strings.ReplaceAll(category, "_", " ")
	if instrument != "" {
		what = instrument + " " + what
	}
	name := src.Name
	if name == "" {
		name = snap.SourceID
	}
	direction := "rose"
	if change < 0 {
		direction = "fell"
	}
	return fmt.Sprintf("%s on %s %s %s (from %s to %s), rule threshold %s",
		what, name, direction, FormatPercent(math.Abs(change)),
		FormatValue(snap.MetricKey, snap.Previous), FormatValue(snap.MetricKey, snap.Current),
		FormatPercent(rule.Threshold))
}

func titleCase(s string) string {
	words := strings.Fields(s)
	for i, w := range words {
		if w == strings.ToUpper(w) {
			continue
		}
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}
