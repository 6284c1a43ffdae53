package derive

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"testing"
	"time"

	"github.com/marcus/sprout/internal/event"
	"github.com/marcus/sprout/internal/window"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var base = time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC) // a Monday

func testRules() Rules {
	r := DefaultRules()
	r.Boundary = window.Boundary{DailyHour: 4, WeeklyDay: time.Monday, WeeklyHour: 4, Location: time.UTC}
	return r
}

func mk(t *testing.T, at time.Time, a event.Action) event.Event {
	t.Helper()
	ev, err := event.New(at, a)
	require.NoError(t, err)
	return ev
}

func ptr[T any](v T) *T { return &v }

func TestDerive_Empty(t *testing.T) {
	s := Derive(nil, testRules())
	assert.Equal(t, Energy{Capacity: 100, Available: 100}, s.Energy)
	assert.Empty(t, s.Plants)
	assert.Equal(t, 0, s.Applied)
}

func TestDerive_PlantWaterHarvestScenario(t *testing.T) {
	r := testRules()
	events := []event.Event{
		mk(t, base, event.Plant{PlantID: "p1", PlotID: "north", Species: "tomato", Cost: 10}),
		mk(t, base.Add(1*time.Minute), event.Water{PlantID: "p1"}),
		mk(t, base.Add(2*time.Minute), event.Water{PlantID: "p1"}),
		mk(t, base.Add(3*time.Minute), event.Water{PlantID: "p1"}),
		mk(t, base.Add(4*time.Minute), event.Harvest{PlantID: "p1", Reward: 7.25}),
	}

	s := Derive(events, r)

	want := Round(r.StartAvailable-10+3*r.WaterTrickle+7.25, r.Precision)
	assert.Equal(t, want, s.Energy.Available)
	assert.Equal(t, 98.75, s.Energy.Available)

	p, ok := s.Plant("p1")
	require.True(t, ok)
	assert.Equal(t, StatusHarvested, p.Status)
	assert.Equal(t, 3, p.Waterings)
	assert.Equal(t, 5, s.Applied)
}

func TestDerive_DoubleUprootRefundsOnce(t *testing.T) {
	events := []event.Event{
		mk(t, base, event.Plant{PlantID: "p1", PlotID: "north", Species: "fern", Cost: 10}),
		mk(t, base.Add(time.Minute), event.Uproot{PlantID: "p1"}),
		mk(t, base.Add(time.Minute), event.Uproot{PlantID: "p1"}),
	}
	require.NotEqual(t, events[1].ClientID, events[2].ClientID)

	s := Derive(events, testRules())
	assert.Equal(t, 95.0, s.Energy.Available, "exactly one refund of cost*0.5")
	assert.Equal(t, StatusUprooted, s.Plants["p1"].Status)
	assert.Equal(t, 1, s.Diagnostics.Guarded)
}

func TestDerive_GuardsOnMissingOrTerminalPlants(t *testing.T) {
	events := []event.Event{
		mk(t, base, event.Water{PlantID: "ghost"}),
		mk(t, base.Add(1*time.Second), event.Harvest{PlantID: "ghost", Reward: 50}),
		mk(t, base.Add(2*time.Second), event.Plant{PlantID: "p1", PlotID: "a", Species: "fern", Cost: 5}),
		mk(t, base.Add(3*time.Second), event.Harvest{PlantID: "p1", Reward: 2}),
		mk(t, base.Add(4*time.Second), event.Uproot{PlantID: "p1"}),
		mk(t, base.Add(5*time.Second), event.Harvest{PlantID: "p1", Reward: 2}),
		mk(t, base.Add(6*time.Second), event.Plant{PlantID: "p1", PlotID: "a", Species: "fern", Cost: 5}),
	}

	s := Derive(events, testRules())
	assert.Equal(t, 97.0, s.Energy.Available)
	assert.Equal(t, 5, s.Diagnostics.Guarded)
	assert.Equal(t, 2, s.Applied)

	assert.True(t, s.WasGuarded(event.DedupKey(events[0])))
	assert.False(t, s.WasGuarded(event.DedupKey(events[2])))
	assert.True(t, s.WasGuarded(event.DedupKey(events[6])))
}

func TestDerive_PlantNeedsEnoughEnergy(t *testing.T) {
	events := []event.Event{
		mk(t, base, event.Plant{PlantID: "big", PlotID: "a", Species: "oak", Cost: 100.01}),
		mk(t, base.Add(time.Second), event.Plant{PlantID: "ok", PlotID: "a", Species: "oak", Cost: 100}),
	}
	s := Derive(events, testRules())
	_, hasBig := s.Plant("big")
	assert.False(t, hasBig)
	assert.Equal(t, 0.0, s.Energy.Available)
}

func TestDerive_MalformedAndUnknownAreSkipped(t *testing.T) {
	events := []event.Event{
		{Kind: event.KindPlant, Timestamp: base, ClientID: "c1", Body: json.RawMessage(`{"plant_id":"p1","plot_id":"a","species":"fern"}`)},
		{Kind: event.KindHarvest, Timestamp: base, ClientID: "c2", Body: json.RawMessage(`{"plant_id":"p1"}`)},
		{Kind: "compost", Timestamp: base, ClientID: "c3", Body: json.RawMessage(`{"plant_id":"p1"}`)},
		{Kind: event.KindWater, ClientID: "c4", Body: json.RawMessage(`{"plant_id":"p1"}`)},
	}

	s := Derive(events, testRules())
	assert.Empty(t, s.Plants)
	assert.Equal(t, Energy{Capacity: 100, Available: 100}, s.Energy)
	assert.Equal(t, Diagnostics{Malformed: 3, Unknown: 1}, s.Diagnostics)
}

func TestDerive_UnknownFieldsIgnored(t *testing.T) {
	ev := event.Event{
		Kind: event.KindPlant, Timestamp: base, ClientID: "c1",
		Body: json.RawMessage(`{"plant_id":"p1","plot_id":"a","species":"fern","cost":1,"sunlight":"full"}`),
	}
	s := Derive([]event.Event{ev}, testRules())
	assert.Contains(t, s.Plants, "p1")
}

func TestDerive_DeterministicUnderShuffle(t *testing.T) {
	events := randomLog(t, 300, 42)
	r := testRules()
	want := Derive(events, r)

	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 25; i++ {
		shuffled := append([]event.Event(nil), events...)
		rng.Shuffle(len(shuffled), func(a, b int) { shuffled[a], shuffled[b] = shuffled[b], shuffled[a] })
		assert.Equal(t, want, Derive(shuffled, r), "shuffle %d", i)
	}
}

func TestDerive_IdempotentUnderReplay(t *testing.T) {
	events := randomLog(t, 200, 3)
	r := testRules()

	once := Derive(events, r)
	twice := Derive(append(append([]event.Event(nil), events...), events...), r)

	assert.Equal(t, len(events), twice.Diagnostics.Duplicates-once.Diagnostics.Duplicates)
	once.Diagnostics.Duplicates, twice.Diagnostics.Duplicates = 0, 0
	assert.Equal(t, once, twice)
}

func TestDerive_DoesNotMutateInput(t *testing.T) {
	events := randomLog(t, 50, 11)
	rand.New(rand.NewSource(1)).Shuffle(len(events), func(a, b int) { events[a], events[b] = events[b], events[a] })
	before := append([]event.Event(nil), events...)

	Derive(events, testRules())
	assert.Equal(t, before, events)
}

func TestDerive_LegacyEventsDedupByCompositeKey(t *testing.T) {
	plant := event.Event{Kind: event.KindPlant, Timestamp: base, Body: json.RawMessage(`{"plant_id":"p1","plot_id":"a","species":"fern","cost":4}`)}
	water := event.Event{Kind: event.KindWater, Timestamp: base.Add(time.Minute), Body: json.RawMessage(`{"plant_id":"p1"}`)}

	s := Derive([]event.Event{plant, water, plant, water}, testRules())
	assert.Equal(t, 96.5, s.Energy.Available)
	assert.Equal(t, 2, s.Diagnostics.Duplicates)
}

func TestDerive_DailyWaterAllowance(t *testing.T) {
	r := testRules()
	r.StartAvailable = 50
	events := []event.Event{mk(t, base, event.Plant{PlantID: "p1", PlotID: "a", Species: "fern", Cost: 0})}
	for i := 0; i < 7; i++ {
		events = append(events, mk(t, base.Add(time.Duration(i+1)*time.Minute), event.Water{PlantID: "p1"}))
	}
	// 03:00 next day is still inside the same window.
	nextDayEarly := time.Date(2025, 3, 11, 3, 0, 0, 0, time.UTC)
	events = append(events, mk(t, nextDayEarly, event.Water{PlantID: "p1"}))
	// 05:00 next day starts a fresh window.
	events = append(events, mk(t, nextDayEarly.Add(2*time.Hour), event.Water{PlantID: "p1"}))

	s := Derive(events, r)
	assert.Equal(t, 50+6*r.WaterTrickle, s.Energy.Available)
	assert.Equal(t, 9, s.Plants["p1"].Waterings)
	assert.Equal(t, 8, s.WaterUsesIn(r.Boundary.DayStart(base)))
	assert.Equal(t, 1, s.WaterUsesIn(r.Boundary.DayStart(nextDayEarly.Add(2*time.Hour))))
}

func TestDerive_WeeklyExpandAllowanceAndCeiling(t *testing.T) {
	r := testRules()
	var events []event.Event
	for i := 0; i < 3; i++ {
		events = append(events, mk(t, base.Add(time.Duration(i)*time.Hour), event.Expand{Amount: 150}))
	}
	nextWeek := base.Add(7 * 24 * time.Hour)
	events = append(events, mk(t, nextWeek, event.Expand{Amount: 150}))

	s := Derive(events, r)
	assert.Equal(t, r.MaxCapacity, s.Energy.Capacity)
	assert.Equal(t, 1, s.Diagnostics.Guarded)
	assert.Equal(t, 2, s.ExpansionsIn(r.Boundary.WeekStart(base)))
	assert.Equal(t, 1, s.ExpansionsIn(r.Boundary.WeekStart(nextWeek)))
}

func TestCapacityHistory_NeverExceedsCeiling(t *testing.T) {
	r := testRules()
	var events []event.Event
	for week := 0; week < 10; week++ {
		at := base.Add(time.Duration(week) * 7 * 24 * time.Hour)
		events = append(events,
			mk(t, at, event.Expand{Amount: 90}),
			mk(t, at.Add(time.Hour), event.Expand{Amount: 120.5}),
		)
	}

	points := CapacityHistory(events, r)
	require.Len(t, points, 20)
	for _, p := range points {
		assert.LessOrEqual(t, p.Capacity, r.MaxCapacity)
		assert.LessOrEqual(t, p.Available, p.Capacity)
	}
	assert.Equal(t, Derive(events, r).Energy.Capacity, points[len(points)-1].Capacity)

	var last float64
	for _, p := range points {
		assert.GreaterOrEqual(t, p.Capacity, last, "capacity only grows without reset")
		last = p.Capacity
	}
}

func TestDerive_ResetMayLowerCapacity(t *testing.T) {
	r := testRules()
	events := []event.Event{
		mk(t, base, event.Expand{Amount: 50}),
		mk(t, base.Add(time.Minute), event.Reset{Capacity: 40}),
		mk(t, base.Add(2*time.Minute), event.Reset{Capacity: 900, Available: ptr(12.346)}),
	}

	points := CapacityHistory(events, r)
	require.Len(t, points, 3)
	assert.Equal(t, Energy{Capacity: 150, Available: 100}, Energy{Capacity: points[0].Capacity, Available: points[0].Available})
	assert.Equal(t, Energy{Capacity: 40, Available: 40}, Energy{Capacity: points[1].Capacity, Available: points[1].Available})
	assert.Equal(t, Energy{Capacity: 500, Available: 12.35}, Derive(events, r).Energy)
}

func TestDerive_EditRejectsCycles(t *testing.T) {
	events := []event.Event{
		mk(t, base, event.Plant{PlantID: "a", PlotID: "x", Species: "vine", Cost: 1}),
		mk(t, base.Add(1*time.Second), event.Plant{PlantID: "b", PlotID: "x", ParentID: "a", Species: "vine", Cost: 1}),
		mk(t, base.Add(2*time.Second), event.Plant{PlantID: "c", PlotID: "y", ParentID: "b", Species: "vine", Cost: 1}),
		mk(t, base.Add(3*time.Second), event.Edit{PlantID: "a", ParentID: ptr("c")}),
		mk(t, base.Add(4*time.Second), event.Edit{PlantID: "a", ParentID: ptr("a")}),
		mk(t, base.Add(5*time.Second), event.Edit{PlantID: "c", ParentID: ptr("a"), Name: ptr("Clementine")}),
	}

	s := Derive(events, testRules())
	assert.Equal(t, 2, s.Diagnostics.Guarded)
	assert.Equal(t, "", s.Plants["a"].ParentID)
	assert.Equal(t, "Clementine", s.Plants["c"].Name)
	assert.Equal(t, []string{"b", "c"}, s.ChildrenOf["a"])
	assert.Equal(t, []string{"a", "b"}, s.PlantsInPlot["x"])
	assert.Equal(t, []string{"c"}, s.PlantsInPlot["y"])
}

func TestDerive_EditOfUprootedPlantIsGuarded(t *testing.T) {
	events := []event.Event{
		mk(t, base, event.Plant{PlantID: "a", PlotID: "x", Species: "vine", Cost: 1}),
		mk(t, base.Add(time.Second), event.Uproot{PlantID: "a"}),
		mk(t, base.Add(2*time.Second), event.Edit{PlantID: "a", Note: ptr("gone")}),
		mk(t, base.Add(3*time.Second), event.Plant{PlantID: "b", PlotID: "x", ParentID: "a", Species: "vine", Cost: 1}),
	}
	s := Derive(events, testRules())
	assert.Equal(t, "", s.Plants["a"].Note)
	assert.NotContains(t, s.Plants, "b")
	assert.Equal(t, 2, s.Diagnostics.Guarded)
}

func TestDerive_RoundsEveryTransition(t *testing.T) {
	r := testRules()
	r.StartAvailable = 0
	r.WaterTrickle = 0.1
	r.DailyWaterAllowance = 1000

	events := []event.Event{mk(t, base, event.Plant{PlantID: "p", PlotID: "a", Species: "moss", Cost: 0})}
	for i := 0; i < 30; i++ {
		events = append(events, mk(t, base.Add(time.Duration(i+1)*time.Second), event.Water{PlantID: "p"}))
	}
	assert.Equal(t, 3.0, Derive(events, r).Energy.Available)
}

// randomLog builds a plausible log with colliding timestamps, invalid
// references and a few malformed entries.
func randomLog(t *testing.T, n int, seed int64) []event.Event {
	t.Helper()
	rng := rand.New(rand.NewSource(seed))
	var events []event.Event
	var ids []string
	for i := 0; i < n; i++ {
		at := base.Add(time.Duration(rng.Intn(n/2+1)) * 17 * time.Minute)
		var a event.Action
		switch k := rng.Intn(10); {
		case k < 3 || len(ids) == 0:
			id := fmt.Sprintf("p%d", i)
			ids = append(ids, id)
			parent := ""
			if len(ids) > 1 && rng.Intn(2) == 0 {
				parent = ids[rng.Intn(len(ids)-1)]
			}
			a = event.Plant{PlantID: id, PlotID: fmt.Sprintf("plot%d", rng.Intn(3)), ParentID: parent, Species: "herb", Cost: float64(rng.Intn(800)) / 100}
		case k < 6:
			a = event.Water{PlantID: ids[rng.Intn(len(ids))]}
		case k == 6:
			a = event.Harvest{PlantID: ids[rng.Intn(len(ids))], Reward: float64(rng.Intn(500)) / 100}
		case k == 7:
			a = event.Uproot{PlantID: ids[rng.Intn(len(ids))]}
		case k == 8:
			a = event.Edit{PlantID: ids[rng.Intn(len(ids))], ParentID: ptr(ids[rng.Intn(len(ids))])}
		default:
			a = event.Expand{Amount: float64(rng.Intn(3000)) / 100}
		}
		if a.Kind() == event.KindExpand && a.(event.Expand).Amount == 0 {
			a = event.Expand{Amount: 1}
		}
		events = append(events, mk(t, at, a))
	}
	events = append(events, event.Event{Kind: event.KindHarvest, Timestamp: base, ClientID: "zz-bad", Body: json.RawMessage(`{"plant_id":"p0"}`)})
	return events
}
