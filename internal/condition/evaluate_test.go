package condition

import (
	"encoding/json"
	"math"
	"testing"
)

func TestEvaluateWithoutPreviousNeverMatches(t *testing.T) {
	conds := []Condition{
		NewAbove(1),
		NewBelow(1000),
		NewPercentIncrease(0),
		NewPercentDecrease(0),
		NewPriceTarget(100),
		NewPriceRange(0, 1000),
		NewVolatilitySpike(0),
	}
	for _, c := range conds {
		if Evaluate(c, 100, 0, false) {
			t.Fatalf("%s should not match without a previous reading", c.Type)
		}
	}
}

func TestEvaluate(t *testing.T) {
	cases := []struct {
		name     string
		cond     Condition
		current  float64
		previous float64
		want     bool
	}{
		{"above equal is strict", NewAbove(3700), 3700, 3650, false},
		{"above epsilon", NewAbove(3700), 3700.0001, 3650, true},
		{"above scenario", NewAbove(3700), 3705, 3650, true},
		{"below equal is strict", NewBelow(10), 10, 11, false},
		{"below", NewBelow(10), 9.99, 11, true},
		{"percent increase", NewPercentIncrease(5), 105, 100, true},
		{"percent increase short", NewPercentIncrease(5), 104, 100, false},
		{"percent increase zero previous", NewPercentIncrease(5), 104, 0, false},
		{"percent decrease", NewPercentDecrease(5), 94, 100, true},
		{"percent decrease short", NewPercentDecrease(5), 96, 100, false},
		{"percent decrease zero previous", NewPercentDecrease(5), 94, 0, false},
		{"target inside tolerance", NewPriceTarget(100), 100.4, 90, true},
		{"target at tolerance edge", NewPriceTarget(100), 100.5, 90, false},
		{"target zero", Condition{Type: PriceTarget, Params: TargetParams{}}, 0, 1, false},
		{"range lower bound", NewPriceRange(10, 20), 10, 5, true},
		{"range upper bound", NewPriceRange(10, 20), 20, 5, true},
		{"range outside", NewPriceRange(10, 20), 20.01, 5, false},
		{"volatility up", NewVolatilitySpike(10), 110, 100, true},
		{"volatility down", NewVolatilitySpike(10), 90, 100, true},
		{"volatility small", NewVolatilitySpike(10), 95, 100, false},
		{"volatility zero previous", NewVolatilitySpike(10), 95, 0, false},
		{"wrong variant", Condition{Type: Above, Params: PercentParams{Percentage: 1}}, 10, 1, false},
		{"nil params", Condition{Type: Below}, 10, 1, false},
		{"unknown type", Condition{Type: "sideways", Params: TargetParams{Target: 1}}, 10, 1, false},
		{"nan current", NewAbove(1), math.NaN(), 1, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Evaluate(tc.cond, tc.current, tc.previous, true); got != tc.want {
				t.Fatalf("Evaluate(%s, %v, %v) = %v, want %v", tc.cond.Type, tc.current, tc.previous, got, tc.want)
			}
		})
	}
}

func TestParseType(t *testing.T) {
	for input, want := range map[string]Type{
		"Above":               Above,
		"percentage-decrease": PercentDecrease,
		"PERCENT_INCREASE":    PercentIncrease,
		"price range":         PriceRange,
	} {
		got, err := ParseType(input)
		if err != nil || got != want {
			t.Fatalf("ParseType(%q) = %q, %v", input, got, err)
		}
	}
	if _, err := ParseType("sideways"); err == nil {
		t.Fatal("unknown type should fail")
	}
}

func TestSpecBuildRejectsMissingParams(t *testing.T) {
	if _, err := (Spec{Type: "above"}).Build(); err == nil {
		t.Fatal("above without target should fail")
	}
	if _, err := (Spec{Type: "price_range", Min: floatPtr(5)}).Build(); err == nil {
		t.Fatal("range without max should fail")
	}
	if _, err := (Spec{Type: "price_range", Min: floatPtr(5), Max: floatPtr(1)}).Build(); err == nil {
		t.Fatal("inverted range should fail")
	}
}

func TestConditionJSON(t *testing.T) {
	data, err := json.Marshal(NewPriceRange(1, 2))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var decoded Condition
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded != NewPriceRange(1, 2) {
		t.Fatalf("decoded = %#v", decoded)
	}

	var broken Condition
	if err := json.Unmarshal([]byte(`{"type":"above"}`), &broken); err != nil {
		t.Fatalf("incomplete condition should decode: %v", err)
	}
	if Evaluate(broken, 10, 1, true) {
		t.Fatal("incomplete condition must not match")
	}
}
