// Package condition evaluates price alert conditions against the current and
// previous reading of a metric.
package condition

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Type names one of the comparison semantics an alert can use.
type Type string

const (
	Above           Type = "above"
	Below           Type = "below"
	PercentIncrease Type = "percent_increase"
	PercentDecrease Type = "percent_decrease"
	PriceTarget     Type = "price_target"
	PriceRange      Type = "price_range"
	VolatilitySpike Type = "volatility_spike"
)

// Types lists every supported condition type.
var Types = []Type{Above, Below, PercentIncrease, PercentDecrease, PriceTarget, PriceRange, VolatilitySpike}

// ParseType normalises a user supplied condition name.
func ParseType(s string) (Type, error) {
	normalized := strings.ToLower(strings.TrimSpace(s))
	normalized = strings.NewReplacer("-", "_", " ", "_").Replace(normalized)
	switch normalized {
	case "percentage_increase":
		normalized = string(PercentIncrease)
	case "percentage_decrease":
		normalized = string(PercentDecrease)
	}
	for _, t := range Types {
		if string(t) == normalized {
			return t, nil
		}
	}
	return "", fmt.Errorf("unknown condition type %q", s)
}

// Params is implemented by the parameter variants; exactly one variant is valid per Type.
type Params interface {
	isParams()
}

// TargetParams parameterise Above, Below and PriceTarget.
type TargetParams struct {
	Target float64
}

// PercentParams parameterise PercentIncrease and PercentDecrease.
type PercentParams struct {
	Percentage float64
}

// RangeParams parameterise PriceRange. Both bounds are inclusive.
type RangeParams struct {
	Min float64
	Max float64
}

// VolatilityParams parameterise VolatilitySpike.
type VolatilityParams struct {
	Threshold float64
}

func (TargetParams) isParams()     {}
func (PercentParams) isParams()    {}
func (RangeParams) isParams()      {}
func (VolatilityParams) isParams() {}

// Condition couples a type with its parameter variant.
type Condition struct {
	Type   Type
	Params Params
}

// NewAbove builds an Above condition.
func NewAbove(target float64) Condition {
	return Condition{Type: Above, Params: TargetParams{Target: target}}
}

// NewBelow builds a Below condition.
func NewBelow(target float64) Condition {
	return Condition{Type: Below, Params: TargetParams{Target: target}}
}

// NewPercentIncrease builds a PercentIncrease condition.
func NewPercentIncrease(pct float64) Condition {
	return Condition{Type: PercentIncrease, Params: PercentParams{Percentage: pct}}
}

// NewPercentDecrease builds a PercentDecrease condition.
func NewPercentDecrease(pct float64) Condition {
	return Condition{Type: PercentDecrease, Params: PercentParams{Percentage: pct}}
}

// NewPriceTarget builds a PriceTarget condition.
func NewPriceTarget(target float64) Condition {
	return Condition{Type: PriceTarget, Params: TargetParams{Target: target}}
}

// NewPriceRange builds a PriceRange condition.
func NewPriceRange(min, max float64) Condition {
	return Condition{Type: PriceRange, Params: RangeParams{Min: min, Max: max}}
}

// NewVolatilitySpike builds a VolatilitySpike condition.
func NewVolatilitySpike(threshold float64) Condition {
	return Condition{Type: VolatilitySpike, Params: VolatilityParams{Threshold: threshold}}
}

// ErrMalformed reports a condition whose parameters do not match its type.
var ErrMalformed = errors.New("condition: malformed parameters")

// Validate checks that the parameter variant matches the condition type.
func (c Condition) Validate() error {
	switch c.Type {
	case Above, Below, PriceTarget:
		p, ok := c.Params.(TargetParams)
		if !ok {
			return fmt.Errorf("%w: %s requires a target", ErrMalformed, c.Type)
		}
		if c.Type == PriceTarget && p.Target == 0 {
			return fmt.Errorf("%w: price_target target cannot be zero", ErrMalformed)
		}
	case PercentIncrease, PercentDecrease:
		if _, ok := c.Params.(PercentParams); !ok {
			return fmt.Errorf("%w: %s requires a percentage", ErrMalformed, c.Type)
		}
	case PriceRange:
		p, ok := c.Params.(RangeParams)
		if !ok {
			return fmt.Errorf("%w: price_range requires min and max", ErrMalformed)
		}
		if p.Min > p.Max {
			return fmt.Errorf("%w: price_range min %v exceeds max %v", ErrMalformed, p.Min, p.Max)
		}
	case VolatilitySpike:
		if _, ok := c.Params.(VolatilityParams); !ok {
			return fmt.Errorf("%w: volatility_spike requires a threshold", ErrMalformed)
		}
	default:
		return fmt.Errorf("%w: unknown type %q", ErrMalformed, c.Type)
	}
	return nil
}

// Spec is the flat wire form used by JSON persistence and YAML seed files.
type Spec struct {
	Type       string   `json:"type" yaml:"type"`
	Target     *float64 `json:"target,omitempty" yaml:"target,omitempty"`
	Percentage *float64 `json:"percentage,omitempty" yaml:"percentage,omitempty"`
	Min        *float64 `json:"min,omitempty" yaml:"min,omitempty"`
	Max        *float64 `json:"max,omitempty" yaml:"max,omitempty"`
	Threshold  *float64 `json:"volatilityThreshold,omitempty" yaml:"volatility_threshold,omitempty"`
}

// Build converts the wire form into a validated Condition.
func (s Spec) Build() (Condition, error) {
	t, err := ParseType(s.Type)
	if err != nil {
		return Condition{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	missing := func(field string) error {
		return fmt.Errorf("%w: %s requires %s", ErrMalformed, t, field)
	}

	var c Condition
	switch t {
	case Above, Below, PriceTarget:
		if s.Target == nil {
			return Condition{}, missing("target")
		}
		c = Condition{Type: t, Params: TargetParams{Target: *s.Target}}
	case PercentIncrease, PercentDecrease:
		if s.Percentage == nil {
			return Condition{}, missing("percentage")
		}
		c = Condition{Type: t, Params: PercentParams{Percentage: *s.Percentage}}
	case PriceRange:
		if s.Min == nil || s.Max == nil {
			return Condition{}, missing("min and max")
		}
		c = Condition{Type: t, Params: RangeParams{Min: *s.Min, Max: *s.Max}}
	case VolatilitySpike:
		if s.Threshold == nil {
			return Condition{}, missing("volatility threshold")
		}
		c = Condition{Type: t, Params: VolatilityParams{Threshold: *s.Threshold}}
	}

	if err := c.Validate(); err != nil {
		return Condition{}, err
	}
	return c, nil
}

// Spec returns the wire form of the condition.
func (c Condition) Spec() Spec {
	s := Spec{Type: string(c.Type)}
	switch p := c.Params.(type) {
	case TargetParams:
		s.Target = floatPtr(p.Target)
	case PercentParams:
		s.Percentage = floatPtr(p.Percentage)
	case RangeParams:
		s.Min = floatPtr(p.Min)
		s.Max = floatPtr(p.Max)
	case VolatilityParams:
		s.Threshold = floatPtr(p.Threshold)
	}
	return s
}

// MarshalJSON encodes the condition in its flat wire form.
func (c Condition) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.Spec())
}

// UnmarshalJSON decodes the flat wire form. Unknown or incomplete parameters
// are kept as an unparameterised condition so a single bad entry never
// invalidates a persisted list; Evaluate then reports no match.
func (c *Condition) UnmarshalJSON(data []byte) error {
	var s Spec
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	built, err := s.Build()
	if err != nil {
		*c = Condition{Type: Type(s.Type)}
		return nil
	}
	*c = built
	return nil
}

func floatPtr(v float64) *float64 {
	return &v
}
