package derive

import (
	"time"

	"github.com/marcus/sprout/internal/event"
)

// Point is one sample of energy over time.
type Point struct {
	At        time.Time  `json:"at"`
	Kind      event.Kind `json:"kind"`
	Capacity  float64    `json:"capacity"`
	Available float64    `json:"available"`
}

// CapacityHistory returns energy after every applied event. It observes
// the same fold Derive runs, so the capacity ceiling and guards are
// identical to the primary state.
func CapacityHistory(events []event.Event, rules Rules) []Point {
	var points []Point
	fold(events, rules, func(ev event.Event, s *State) {
		points = append(points, Point{
			At:        ev.Timestamp,
			Kind:      ev.Kind,
			Capacity:  CapacityCeiling(s.Energy.Capacity, rules),
			Available: s.Energy.Available,
		})
	})
	return points
}

// Observe folds events and calls fn after each applied transition, then
// returns the final State.
func Observe(events []event.Event, rules Rules, fn Observer) *State {
	return fold(events, rules, fn)
}
