package derive

import (
	"math"

	"github.com/marcus/sprout/internal/window"
)

// Rules are the numeric constants of the fold. Two folds over the same
// events with equal Rules produce identical State.
type Rules struct {
	StartCapacity  float64
	StartAvailable float64
	// MaxCapacity is the capacity ceiling. See CapacityCeiling.
	MaxCapacity float64
	// Precision is the number of decimal places energy is rounded to after
	// every transition.
	Precision int

	WaterTrickle          float64
	DailyWaterAllowance   int
	RefundRatio           float64
	WeeklyExpandAllowance int

	Boundary window.Boundary
}

// DefaultRules returns the stock garden rules in the local zone.
func DefaultRules() Rules {
	return Rules{
		StartCapacity:         100,
		StartAvailable:        100,
		MaxCapacity:           500,
		Precision:             2,
		WaterTrickle:          0.5,
		DailyWaterAllowance:   5,
		RefundRatio:           0.5,
		WeeklyExpandAllowance: 2,
		Boundary:              window.Default(),
	}
}

// CapacityCeiling bounds a capacity value to [0, MaxCapacity]. Every code
// path that produces a capacity, including CapacityHistory, goes through it.
func CapacityCeiling(capacity float64, r Rules) float64 {
	if capacity > r.MaxCapacity {
		capacity = r.MaxCapacity
	}
	if capacity < 0 {
		capacity = 0
	}
	return Round(capacity, r.Precision)
}

// Round rounds x half away from zero to the given number of decimal places.
func Round(x float64, precision int) float64 {
	if precision < 0 {
		return x
	}
	p := math.Pow(10, float64(precision))
	r := math.Round(x*p) / p
	if r == 0 {
		return 0 // normalize -0
	}
	return r
}
