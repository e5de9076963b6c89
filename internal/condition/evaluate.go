package condition

import "math"

// targetTolerance is the relative distance treated as "at target".
const targetTolerance = 0.005

// Evaluate reports whether current (and the previous reading, when one exists)
// satisfies the condition. It never panics: malformed parameters, a missing
// previous reading or a zero previous reading for delta conditions all yield false.
func Evaluate(c Condition, current, previous float64, hasPrevious bool) bool {
	if !hasPrevious || !finite(current) || !finite(previous) {
		return false
	}

	switch c.Type {
	case Above:
		p, ok := c.Params.(TargetParams)
		return ok && finite(p.Target) && current > p.Target
	case Below:
		p, ok := c.Params.(TargetParams)
		return ok && finite(p.Target) && current < p.Target
	case PercentIncrease:
		p, ok := c.Params.(PercentParams)
		if !ok || previous == 0 || !finite(p.Percentage) {
			return false
		}
		return (current-previous)/previous*100 >= p.Percentage
	case PercentDecrease:
		p, ok := c.Params.(PercentParams)
		if !ok || previous == 0 || !finite(p.Percentage) {
			return false
		}
		return (previous-current)/previous*100 >= p.Percentage
	case PriceTarget:
		p, ok := c.Params.(TargetParams)
		if !ok || p.Target == 0 || !finite(p.Target) {
			return false
		}
		return math.Abs(current-p.Target)/math.Abs(p.Target) < targetTolerance
	case PriceRange:
		p, ok := c.Params.(RangeParams)
		if !ok || !finite(p.Min) || !finite(p.Max) {
			return false
		}
		return p.Min <= current && current <= p.Max
	case VolatilitySpike:
		p, ok := c.Params.(VolatilityParams)
		if !ok || previous == 0 || !finite(p.Threshold) {
			return false
		}
		return math.Abs(current-previous)/previous*100 >= p.Threshold
	default:
		return false
	}
}

// PercentChange returns the signed change from previous to current in percent.
// ok is false when previous is zero or either value is not finite.
func PercentChange(current, previous float64) (float64, bool) {
	if previous == 0 || !finite(current) || !finite(previous) {
		return 0, false
	}
	return (current - previous) / previous * 100, true
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
