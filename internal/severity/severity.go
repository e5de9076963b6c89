// Package severity classifies alerts into ordered levels.
package severity

import (
	"strings"

	"chainalerts/internal/condition"
)

// Level is an ordered severity classification.
type Level int

const (
	Low Level = iota + 1
	Medium
	High
	Critical
)

// String returns the lower-case level name.
func (l Level) String() string {
	switch l {
	case Low:
		return "low"
	case Medium:
		return "medium"
	case High:
		return "high"
	case Critical:
		return "critical"
	default:
		return "unknown"
	}
}

// Parse converts a string to a Level, defaulting to Medium.
func Parse(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "low":
		return Low
	case "medium":
		return Medium
	case "high":
		return High
	case "critical":
		return Critical
	default:
		return Medium
	}
}

// AtLeast reports whether l is at or above min.
func (l Level) AtLeast(min Level) bool {
	return l >= min
}

// MarshalText encodes the level by name. The unset level encodes as "".
func (l Level) MarshalText() ([]byte, error) {
	if l == 0 {
		return []byte{}, nil
	}
	return []byte(l.String()), nil
}

// UnmarshalText decodes a level name; unknown names become Medium and an
// empty name leaves the level unset.
func (l *Level) UnmarshalText(text []byte) error {
	if len(text) == 0 {
		*l = 0
		return nil
	}
	*l = Parse(string(text))
	return nil
}

// Classify maps a condition to its severity. Unrecognised conditions are Medium.
func Classify(c condition.Condition) Level {
	switch c.Type {
	case condition.VolatilitySpike:
		if p, ok := c.Params.(condition.VolatilityParams); ok && p.Threshold >= 10 {
			return Critical
		}
		return High
	case condition.PriceTarget:
		return High
	case condition.PercentIncrease, condition.PercentDecrease:
		p, ok := c.Params.(condition.PercentParams)
		if !ok {
			return Low
		}
		switch {
		case p.Percentage >= 15:
			return High
		case p.Percentage >= 5:
			return Medium
		default:
			return Low
		}
	case condition.Above, condition.Below:
		return Medium
	case condition.PriceRange:
		return Low
	default:
		return Medium
	}
}
