// Package binding exposes the derivation engine through plain strings so
// that platform shells (gomobile, cgo, wasm) call one shared
// implementation instead of porting it.
//
// Every function takes and returns JSON. Inputs that fail to decode return
// an error; individual events that fail to decode are dropped and counted.
package binding

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/marcus/sprout/internal/cache"
	"github.com/marcus/sprout/internal/derive"
	"github.com/marcus/sprout/internal/event"
)

// RulesOverride overrides stock rules. Absent fields keep their defaults.
type RulesOverride struct {
	StartCapacity         *float64 `json:"start_capacity,omitempty"`
	StartAvailable        *float64 `json:"start_available,omitempty"`
	MaxCapacity           *float64 `json:"max_capacity,omitempty"`
	Precision             *int     `json:"precision,omitempty"`
	WaterTrickle          *float64 `json:"water_trickle,omitempty"`
	DailyWaterAllowance   *int     `json:"daily_water_allowance,omitempty"`
	RefundRatio           *float64 `json:"refund_ratio,omitempty"`
	WeeklyExpandAllowance *int     `json:"weekly_expand_allowance,omitempty"`
	DailyHour             *int     `json:"daily_hour,omitempty"`
	WeeklyDay             *int     `json:"weekly_day,omitempty"`
	WeeklyHour            *int     `json:"weekly_hour,omitempty"`
	Timezone              string   `json:"timezone,omitempty"`
}

func set[T any](dst *T, src *T) {
	if src != nil {
		*dst = *src
	}
}

// Rules resolves rulesJSON against the stock rules. An empty string
// means the stock rules.
func Rules(rulesJSON string) (derive.Rules, error) {
	r := derive.DefaultRules()
	if rulesJSON == "" {
		return r, nil
	}
	var o RulesOverride
	if err := json.Unmarshal([]byte(rulesJSON), &o); err != nil {
		return r, fmt.Errorf("decode rules: %w", err)
	}
	set(&r.StartCapacity, o.StartCapacity)
	set(&r.StartAvailable, o.StartAvailable)
	set(&r.MaxCapacity, o.MaxCapacity)
	set(&r.Precision, o.Precision)
	set(&r.WaterTrickle, o.WaterTrickle)
	set(&r.DailyWaterAllowance, o.DailyWaterAllowance)
	set(&r.RefundRatio, o.RefundRatio)
	set(&r.WeeklyExpandAllowance, o.WeeklyExpandAllowance)
	set(&r.Boundary.DailyHour, o.DailyHour)
	set(&r.Boundary.WeeklyHour, o.WeeklyHour)
	if o.WeeklyDay != nil {
		if *o.WeeklyDay < 0 || *o.WeeklyDay > 6 {
			return r, fmt.Errorf("weekly_day %d out of range", *o.WeeklyDay)
		}
		r.Boundary.WeeklyDay = time.Weekday(*o.WeeklyDay)
	}
	if o.Timezone != "" {
		loc, err := time.LoadLocation(o.Timezone)
		if err != nil {
			return r, fmt.Errorf("timezone %q: %w", o.Timezone, err)
		}
		r.Boundary.Location = loc
	}
	if r.Boundary.DailyHour < 0 || r.Boundary.DailyHour > 23 || r.Boundary.WeeklyHour < 0 || r.Boundary.WeeklyHour > 23 {
		return r, fmt.Errorf("reset hour out of range")
	}
	return r, nil
}

func decode(eventsJSON string) ([]event.Event, int, error) {
	if eventsJSON == "" {
		return nil, 0, nil
	}
	return event.DecodeList([]byte(eventsJSON))
}

// Derived is the Derive payload.
type Derived struct {
	State   *derive.State `json:"state"`
	Dropped int           `json:"dropped"`
}

// Derive folds eventsJSON, a JSON array of events, and returns the state.
func Derive(eventsJSON, rulesJSON string) (string, error) {
	rules, err := Rules(rulesJSON)
	if err != nil {
		return "", err
	}
	events, dropped, err := decode(eventsJSON)
	if err != nil {
		return "", err
	}
	return marshal(Derived{State: derive.Derive(events, rules), Dropped: dropped})
}

// CapacityHistory returns energy after every applied event.
func CapacityHistory(eventsJSON, rulesJSON string) (string, error) {
	rules, err := Rules(rulesJSON)
	if err != nil {
		return "", err
	}
	events, _, err := decode(eventsJSON)
	if err != nil {
		return "", err
	}
	points := derive.CapacityHistory(events, rules)
	if points == nil {
		points = []derive.Point{}
	}
	return marshal(points)
}

// staticLog is a log that never changes.
type staticLog []event.Event

func (s staticLog) Events() []event.Event { return s }
func (staticLog) OnChange(func())         {}

// Allowances returns the windowed allowance scalars at nowRFC3339.
func Allowances(eventsJSON, rulesJSON, nowRFC3339 string) (string, error) {
	rules, err := Rules(rulesJSON)
	if err != nil {
		return "", err
	}
	now, err := event.ParseTimestamp(nowRFC3339)
	if err != nil {
		return "", err
	}
	events, _, err := decode(eventsJSON)
	if err != nil {
		return "", err
	}
	c := cache.New(staticLog(events), rules, func() time.Time { return now })
	return marshal(c.Allowances())
}

// NewEvent stamps actionJSON, an object with a "type" and its fields, with
// a fresh client id and the given time, and validates it.
func NewEvent(actionJSON, nowRFC3339 string) (string, error) {
	now, err := event.ParseTimestamp(nowRFC3339)
	if err != nil {
		return "", err
	}
	var ev event.Event
	if err := json.Unmarshal([]byte(actionJSON), &ev); err != nil {
		return "", fmt.Errorf("decode action: %w", err)
	}
	ev.Timestamp = now
	ev.ClientID = event.NewClientID(now)
	if _, err := event.Parse(ev); err != nil {
		return "", err
	}
	return marshal(ev)
}

// Boundaries returns the start of the daily and weekly windows holding
// nowRFC3339.
func Boundaries(rulesJSON, nowRFC3339 string) (string, error) {
	rules, err := Rules(rulesJSON)
	if err != nil {
		return "", err
	}
	now, err := event.ParseTimestamp(nowRFC3339)
	if err != nil {
		return "", err
	}
	b := rules.Boundary
	return marshal(struct {
		DayStart  time.Time `json:"day_start"`
		WeekStart time.Time `json:"week_start"`
	}{b.DayStart(now), b.WeekStart(now)})
}

func marshal(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
