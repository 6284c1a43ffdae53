package derive

import (
	"github.com/marcus/sprout/internal/event"
)

// apply runs the transition for act. It returns false, leaving s untouched,
// when the guard rejects the event. Each guard is a single conditional that
// covers both the entity change and the energy change.
func (s *State) apply(ev event.Event, act event.Action, r Rules) bool {
	switch a := act.(type) {
	case event.Plant:
		return s.plant(ev, a)
	case event.Water:
		return s.water(ev, a, r)
	case event.Harvest:
		return s.harvest(ev, a)
	case event.Uproot:
		return s.uproot(ev, a, r)
	case event.Edit:
		return s.edit(ev, a)
	case event.Expand:
		return s.expand(ev, a, r)
	case event.Reset:
		return s.reset(a, r)
	}
	return false
}

func (s *State) plant(ev event.Event, a event.Plant) bool {
	_, taken := s.Plants[a.PlantID]
	if taken || a.Cost < 0 || s.Energy.Available < a.Cost || !s.validParent(a.ParentID) {
		return false
	}
	s.Plants[a.PlantID] = Plant{
		ID:        a.PlantID,
		PlotID:    a.PlotID,
		ParentID:  a.ParentID,
		Species:   a.Species,
		Name:      a.Name,
		Status:    StatusGrowing,
		Cost:      a.Cost,
		PlantedAt: ev.Timestamp,
		UpdatedAt: ev.Timestamp,
	}
	s.Energy.Available -= a.Cost
	return true
}

func (s *State) water(ev event.Event, a event.Water, r Rules) bool {
	p, ok := s.Plants[a.PlantID]
	if !ok || p.Status != StatusGrowing {
		return false
	}
	day := r.Boundary.DayStart(ev.Timestamp).Unix()
	if s.waterUses[day] < r.DailyWaterAllowance {
		s.Energy.Available += r.WaterTrickle
	}
	s.waterUses[day]++
	p.Waterings++
	p.UpdatedAt = ev.Timestamp
	s.Plants[a.PlantID] = p
	return true
}

func (s *State) harvest(ev event.Event, a event.Harvest) bool {
	p, ok := s.Plants[a.PlantID]
	if !ok || p.Status != StatusGrowing {
		return false
	}
	p.Status = StatusHarvested
	p.UpdatedAt = ev.Timestamp
	s.Plants[a.PlantID] = p
	s.Energy.Available += a.Reward
	return true
}

func (s *State) uproot(ev event.Event, a event.Uproot, r Rules) bool {
	p, ok := s.Plants[a.PlantID]
	if !ok || p.Status != StatusGrowing {
		return false
	}
	p.Status = StatusUprooted
	p.UpdatedAt = ev.Timestamp
	s.Plants[a.PlantID] = p
	s.Energy.Available += p.Cost * r.RefundRatio
	return true
}

func (s *State) edit(ev event.Event, a event.Edit) bool {
	p, ok := s.Plants[a.PlantID]
	if !ok || p.Status == StatusUprooted {
		return false
	}
	if a.ParentID != nil && *a.ParentID != "" {
		if *a.ParentID == a.PlantID || !s.validParent(*a.ParentID) || s.isAncestor(a.PlantID, *a.ParentID) {
			return false
		}
	}
	if a.Name != nil {
		p.Name = *a.Name
	}
	if a.Note != nil {
		p.Note = *a.Note
	}
	if a.PlotID != nil {
		p.PlotID = *a.PlotID
	}
	if a.ParentID != nil {
		p.ParentID = *a.ParentID
	}
	p.UpdatedAt = ev.Timestamp
	s.Plants[a.PlantID] = p
	return true
}

func (s *State) expand(ev event.Event, a event.Expand, r Rules) bool {
	week := r.Boundary.WeekStart(ev.Timestamp).Unix()
	if a.Amount <= 0 || s.expansions[week] >= r.WeeklyExpandAllowance {
		return false
	}
	s.expansions[week]++
	s.Energy.Capacity = CapacityCeiling(s.Energy.Capacity+a.Amount, r)
	return true
}

// reset is the only transition allowed to lower capacity.
func (s *State) reset(a event.Reset, r Rules) bool {
	if a.Capacity < 0 || (a.Available != nil && *a.Available < 0) {
		return false
	}
	s.Energy.Capacity = CapacityCeiling(a.Capacity, r)
	if a.Available != nil {
		s.Energy.Available = *a.Available
	}
	return true
}

// validParent reports whether id may be used as a parent. The empty id
// means "no parent" and is always valid.
func (s *State) validParent(id string) bool {
	if id == "" {
		return true
	}
	p, ok := s.Plants[id]
	return ok && p.Status != StatusUprooted
}

// isAncestor reports whether ancestor appears on the parent chain starting
// at id's prospective new parent.
func (s *State) isAncestor(ancestor, from string) bool {
	seen := make(map[string]bool)
	for cur := from; cur != ""; {
		if cur == ancestor {
			return true
		}
		if seen[cur] {
			return true
		}
		seen[cur] = true
		cur = s.Plants[cur].ParentID
	}
	return false
}
