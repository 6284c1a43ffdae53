package cache

import (
	"testing"
	"time"

	"github.com/marcus/sprout/internal/derive"
	"github.com/marcus/sprout/internal/event"
	"github.com/marcus/sprout/internal/eventlog"
	"github.com/marcus/sprout/internal/window"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setup(t *testing.T) (*eventlog.Log, *Cache, derive.Rules) {
	t.Helper()
	l, err := eventlog.Open(&eventlog.MemoryBackend{}, nil)
	require.NoError(t, err)

	rules := derive.DefaultRules()
	rules.Boundary = window.Boundary{DailyHour: 4, WeeklyDay: time.Monday, WeeklyHour: 4, Location: time.UTC}
	return l, New(l, rules, nil), rules
}

func appendAction(t *testing.T, l *eventlog.Log, at time.Time, a event.Action) {
	t.Helper()
	ev, err := event.New(at, a)
	require.NoError(t, err)
	require.True(t, l.Append(ev))
}

func TestState_MemoizedUntilAppend(t *testing.T) {
	l, c, _ := setup(t)
	at := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

	first := c.State()
	assert.Same(t, first, c.State())
	assert.Equal(t, 1, c.Derivations())

	appendAction(t, l, at, event.Plant{PlantID: "p1", PlotID: "a", Species: "fern", Cost: 10})
	second := c.State()
	assert.NotSame(t, first, second)
	assert.Equal(t, 90.0, second.Energy.Available)
	assert.Equal(t, 2, c.Derivations())
}

func TestWaterUsesRemaining_RefreshesAcrossBoundaryWithoutEvents(t *testing.T) {
	l, c, rules := setup(t)
	day := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

	appendAction(t, l, day, event.Plant{PlantID: "p1", PlotID: "a", Species: "fern", Cost: 1})
	for i := 0; i < 3; i++ {
		appendAction(t, l, day.Add(time.Duration(i+1)*time.Minute), event.Water{PlantID: "p1"})
	}

	assert.Equal(t, rules.DailyWaterAllowance-3, c.WaterUsesRemaining(day.Add(time.Hour)))
	// 03:59 the next morning is still the same window.
	assert.Equal(t, rules.DailyWaterAllowance-3, c.WaterUsesRemaining(time.Date(2025, 3, 11, 3, 59, 0, 0, time.UTC)))
	// 04:00 rolls over with no new events.
	assert.Equal(t, rules.DailyWaterAllowance, c.WaterUsesRemaining(time.Date(2025, 3, 11, 4, 0, 0, 0, time.UTC)))
	assert.Equal(t, 1, c.Derivations(), "crossing a window must not re-fold the log")
}

func TestWaterUsesRemaining_InvalidatedByAppend(t *testing.T) {
	l, c, rules := setup(t)
	day := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	appendAction(t, l, day, event.Plant{PlantID: "p1", PlotID: "a", Species: "fern", Cost: 1})

	assert.Equal(t, rules.DailyWaterAllowance, c.WaterUsesRemaining(day))
	appendAction(t, l, day.Add(time.Minute), event.Water{PlantID: "p1"})
	assert.Equal(t, rules.DailyWaterAllowance-1, c.WaterUsesRemaining(day))
}

func TestExpansionsRemaining(t *testing.T) {
	l, c, rules := setup(t)
	monday := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		appendAction(t, l, monday.Add(time.Duration(i)*time.Hour), event.Expand{Amount: 10})
	}
	assert.Equal(t, 0, c.ExpansionsRemaining(monday.Add(48*time.Hour)))
	assert.Equal(t, rules.WeeklyExpandAllowance, c.ExpansionsRemaining(monday.Add(7*24*time.Hour)))
}

func TestAllowances_UsesClock(t *testing.T) {
	l, err := eventlog.Open(&eventlog.MemoryBackend{}, nil)
	require.NoError(t, err)
	rules := derive.DefaultRules()
	rules.Boundary = window.Boundary{DailyHour: 4, WeeklyDay: time.Monday, WeeklyHour: 4, Location: time.UTC}
	now := time.Date(2025, 3, 12, 10, 0, 0, 0, time.UTC)
	c := New(l, rules, func() time.Time { return now })

	a := c.Allowances()
	assert.Equal(t, 5, a.WaterRemaining)
	assert.Equal(t, time.Date(2025, 3, 13, 4, 0, 0, 0, time.UTC), a.NextDailyReset)
	assert.Equal(t, time.Date(2025, 3, 17, 4, 0, 0, 0, time.UTC), a.NextWeeklyReset)
}
