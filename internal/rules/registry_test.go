package rules

import (
	"reflect"
	"strings"
	"testing"
	"time"

	"chainalerts/internal/condition"
	"chainalerts/internal/feed"
	"chainalerts/internal/severity"
)

func sampleRule(id string) AlertRule {
	return AlertRule{
		ID:         id,
		Name:       "gas spike",
		Enabled:    true,
		Sources:    []string{"eth"},
		Categories: []feed.Category{feed.CategoryGas},
		Threshold:  20,
		MinVolume:  0,
		Timeframes: []string{"1h"},
		Severity:   severity.High,
		Notify:     AllChannels(),
		CreatedAt:  time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		UpdatedAt:  time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func TestRuleRoundTrip(t *testing.T) {
	reg := NewRegistry()
	saved := reg.SaveRule(sampleRule("r1"))

	got, ok := reg.Rule("r1")
	if !ok {
		t.Fatal("saved rule not found")
	}
	if !reflect.DeepEqual(saved, got) {
		t.Fatalf("round trip mismatch:\n saved=%#v\n got=%#v", saved, got)
	}

	if !reg.DeleteRule("r1") {
		t.Fatal("delete should report success")
	}
	if _, ok := reg.Rule("r1"); ok {
		t.Fatal("deleted rule still present")
	}
	if reg.DeleteRule("r1") {
		t.Fatal("second delete should report false")
	}
}

func TestSaveRuleUpsertsInPlace(t *testing.T) {
	reg := NewRegistry()
	reg.SaveRule(sampleRule("a"))
	reg.SaveRule(sampleRule("b"))

	updated := sampleRule("a")
	updated.Threshold = 50
	reg.SaveRule(updated)

	all := reg.Rules()
	if len(all) != 2 || all[0].ID != "a" || all[0].Threshold != 50 {
		t.Fatalf("upsert should replace in place: %#v", all)
	}
}

func TestSaveAssignsID(t *testing.T) {
	reg := NewRegistry()
	rule := reg.SaveRule(AlertRule{Name: "no id"})
	if rule.ID == "" || rule.CreatedAt.IsZero() {
		t.Fatalf("id and createdAt should be assigned: %#v", rule)
	}
}

func TestQueriesReturnCopies(t *testing.T) {
	reg := NewRegistry()
	reg.SaveRule(sampleRule("a"))
	other := sampleRule("b")
	other.Sources = nil
	other.Categories = []feed.Category{feed.CategoryPrice}
	other.Enabled = false
	reg.SaveRule(other)

	if got := reg.RulesForSource("polygon"); len(got) != 1 || got[0].ID != "b" {
		t.Fatalf("all-source rule should match any source: %#v", got)
	}
	if got := reg.RulesForCategory(feed.CategoryGas); len(got) != 1 || got[0].ID != "a" {
		t.Fatalf("category filter = %#v", got)
	}
	if got := reg.EnabledRules(); len(got) != 1 {
		t.Fatalf("enabled filter = %#v", got)
	}

	list := reg.Rules()
	list[0].Sources[0] = "mutated"
	if got, _ := reg.Rule("a"); got.Sources[0] != "eth" {
		t.Fatal("callers must not mutate stored rules")
	}
}

func TestPriceAlertRoundTripAndNamespaces(t *testing.T) {
	reg := NewRegistry()
	reg.SaveRule(sampleRule("shared"))
	alert := reg.SavePriceAlert(PriceAlert{
		ID:         "shared",
		SourceID:   "eth",
		Instrument: "ETH",
		Condition:  condition.NewAbove(3700),
		Enabled:    true,
		CreatedAt:  time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	})

	got, ok := reg.PriceAlert("shared")
	if !ok || !reflect.DeepEqual(alert, got) {
		t.Fatalf("price alert round trip = %#v, %v", got, ok)
	}
	if _, ok := reg.Rule("shared"); !ok {
		t.Fatal("rule and price alert ids are separate namespaces")
	}
	if len(reg.PriceAlertsForInstrument("ETH")) != 1 || len(reg.PriceAlertsForSource("bsc")) != 0 {
		t.Fatal("price alert filters mismatch")
	}
	if !reg.DeletePriceAlert("shared") {
		t.Fatal("delete price alert should succeed")
	}
	if _, ok := reg.PriceAlert("shared"); ok {
		t.Fatal("deleted price alert still present")
	}
}

func TestMarkTriggeredNonRepeatableOnce(t *testing.T) {
	reg := NewRegistry()
	reg.SavePriceAlert(PriceAlert{ID: "p", Condition: condition.NewAbove(1), Enabled: true})

	first := time.Unix(100, 0)
	if !reg.MarkTriggered("p", first) {
		t.Fatal("first trigger should mark")
	}
	if reg.MarkTriggered("p", time.Unix(200, 0)) {
		t.Fatal("terminal alert must not be re-marked")
	}
	got, _ := reg.PriceAlert("p")
	if got.LastTriggeredAt == nil || !got.LastTriggeredAt.Equal(first) {
		t.Fatalf("lastTriggeredAt = %v", got.LastTriggeredAt)
	}

	if !reg.ResetTriggered("p") {
		t.Fatal("reset should succeed")
	}
	if got, _ := reg.PriceAlert("p"); got.LastTriggeredAt != nil {
		t.Fatal("reset should clear lastTriggeredAt")
	}
}

func TestLoadSeedFile(t *testing.T) {
	doc := `
rules:
  - name: gas spike
    sources: [eth]
    categories: [gas]
    threshold: 25
    severity: critical
    notify:
      push: false
price_alerts:
  - source: eth
    instrument: ETH
    condition:
      type: above
      target: 3700
  - source: eth
    instrument: ETH
    repeatable: true
    condition:
      type: price_range
      min: 3000
      max: 3500
`
	ruleList, alertList, err := Load(strings.NewReader(doc))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(ruleList) != 1 || ruleList[0].Severity != severity.Critical || ruleList[0].Notify.Push || !ruleList[0].Notify.InApp {
		t.Fatalf("rules = %#v", ruleList)
	}
	if len(alertList) != 2 || alertList[1].Condition != condition.NewPriceRange(3000, 3500) || !alertList[0].Enabled {
		t.Fatalf("alerts = %#v", alertList)
	}
}

func TestLoadRejectsMalformedCondition(t *testing.T) {
	doc := `
price_alerts:
  - source: eth
    instrument: ETH
    condition:
      type: percent_decrease
`
	if _, _, err := Load(strings.NewReader(doc)); err == nil {
		t.Fatal("missing percentage should be rejected")
	}
}
