package derive

import (
	"sort"
	"time"
)

// Status is a plant's lifecycle state. Harvested and uprooted are terminal.
type Status string

const (
	StatusGrowing   Status = "growing"
	StatusHarvested Status = "harvested"
	StatusUprooted  Status = "uprooted"
)

// Energy is the garden's single scalar resource. 0 <= Available <= Capacity
// holds after every transition.
type Energy struct {
	Capacity  float64 `json:"capacity"`
	Available float64 `json:"available"`
}

// Plant is the derived snapshot of one plant.
type Plant struct {
	ID        string    `json:"id"`
	PlotID    string    `json:"plot_id"`
	ParentID  string    `json:"parent_id,omitempty"`
	Species   string    `json:"species"`
	Name      string    `json:"name,omitempty"`
	Note      string    `json:"note,omitempty"`
	Status    Status    `json:"status"`
	Cost      float64   `json:"cost"`
	Waterings int       `json:"waterings"`
	PlantedAt time.Time `json:"planted_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Diagnostics counts events the fold did not apply, by reason.
type Diagnostics struct {
	Malformed  int `json:"malformed"`
	Unknown    int `json:"unknown"`
	Guarded    int `json:"guarded"`
	Duplicates int `json:"duplicates"`
}

// State is the result of folding an event log. It is never persisted and
// must be treated as read-only by callers: the cache hands out the same
// pointer until the log changes.
type State struct {
	Energy Energy           `json:"energy"`
	Plants map[string]Plant `json:"plants"`

	// ChildrenOf and PlantsInPlot are built in one pass after the fold.
	// Both hold plant ids sorted ascending.
	ChildrenOf   map[string][]string `json:"children_of"`
	PlantsInPlot map[string][]string `json:"plants_in_plot"`

	Diagnostics Diagnostics `json:"diagnostics"`
	Applied     int         `json:"applied"`
	LastEvent   time.Time   `json:"last_event"`

	// window start (unix seconds) -> uses inside that window
	waterUses  map[int64]int
	expansions map[int64]int

	// dedup keys of events a guard skipped
	guarded map[string]struct{}
}

// WasGuarded reports whether the event with dedup key was skipped by a
// guard in this fold.
func (s *State) WasGuarded(key string) bool {
	_, ok := s.guarded[key]
	return ok
}

func newState(r Rules) *State {
	capacity := CapacityCeiling(r.StartCapacity, r)
	return &State{
		Energy: Energy{
			Capacity:  capacity,
			Available: clamp(Round(r.StartAvailable, r.Precision), capacity),
		},
		Plants:     make(map[string]Plant),
		waterUses:  make(map[int64]int),
		expansions: make(map[int64]int),
	}
}

// Plant returns the plant with id and whether it exists.
func (s *State) Plant(id string) (Plant, bool) {
	p, ok := s.Plants[id]
	return p, ok
}

// WaterUsesIn returns how many waterings the fold counted in the daily
// window starting at windowStart.
func (s *State) WaterUsesIn(windowStart time.Time) int {
	return s.waterUses[windowStart.Unix()]
}

// ExpansionsIn returns how many expansions were applied in the weekly
// window starting at windowStart.
func (s *State) ExpansionsIn(windowStart time.Time) int {
	return s.expansions[windowStart.Unix()]
}

// PlantIDs returns every plant id, sorted.
func (s *State) PlantIDs() []string {
	ids := make([]string, 0, len(s.Plants))
	for id := range s.Plants {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (s *State) buildIndices() {
	s.ChildrenOf = make(map[string][]string)
	s.PlantsInPlot = make(map[string][]string)
	for _, id := range s.PlantIDs() {
		p := s.Plants[id]
		if p.ParentID != "" {
			s.ChildrenOf[p.ParentID] = append(s.ChildrenOf[p.ParentID], id)
		}
		s.PlantsInPlot[p.PlotID] = append(s.PlantsInPlot[p.PlotID], id)
	}
}

func clamp(available, capacity float64) float64 {
	if available > capacity {
		return capacity
	}
	if available < 0 {
		return 0
	}
	return available
}
