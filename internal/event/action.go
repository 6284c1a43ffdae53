package event

import (
	"encoding/json"
	"errors"
	"fmt"
)

var (
	// ErrUnknownKind marks an event whose kind this build has no transition for.
	ErrUnknownKind = errors.New("unknown event kind")
	// ErrMalformed marks an event missing a required field for its kind.
	ErrMalformed = errors.New("malformed event")
)

// Action is the typed payload of a known event kind. The set of
// implementations is closed to this package.
type Action interface {
	Kind() Kind
	sealed()
}

// Plant creates a growing plant in a plot, optionally under a parent plant.
type Plant struct {
	PlantID  string  `json:"plant_id"`
	PlotID   string  `json:"plot_id"`
	ParentID string  `json:"parent_id,omitempty"`
	Species  string  `json:"species"`
	Name     string  `json:"name,omitempty"`
	Cost     float64 `json:"cost"`
}

// Water waters a growing plant.
type Water struct {
	PlantID string `json:"plant_id"`
}

// Harvest moves a growing plant to harvested and pays out Reward.
type Harvest struct {
	PlantID string  `json:"plant_id"`
	Reward  float64 `json:"reward"`
}

// Uproot moves a growing plant to uprooted and refunds part of its cost.
type Uproot struct {
	PlantID string `json:"plant_id"`
}

// Edit is a sparse update; nil fields are left unchanged.
type Edit struct {
	PlantID  string  `json:"plant_id"`
	Name     *string `json:"name,omitempty"`
	Note     *string `json:"note,omitempty"`
	PlotID   *string `json:"plot_id,omitempty"`
	ParentID *string `json:"parent_id,omitempty"`
}

// Expand raises energy capacity, bounded by the capacity ceiling.
type Expand struct {
	Amount float64 `json:"amount"`
}

// Reset is the admin path that sets capacity directly, possibly lowering it.
type Reset struct {
	Capacity  float64  `json:"capacity"`
	Available *float64 `json:"available,omitempty"`
}

func (Plant) Kind() Kind   { return KindPlant }
func (Water) Kind() Kind   { return KindWater }
func (Harvest) Kind() Kind { return KindHarvest }
func (Uproot) Kind() Kind  { return KindUproot }
func (Edit) Kind() Kind    { return KindEdit }
func (Expand) Kind() Kind  { return KindExpand }
func (Reset) Kind() Kind   { return KindReset }

func (Plant) sealed()   {}
func (Water) sealed()   {}
func (Harvest) sealed() {}
func (Uproot) sealed()  {}
func (Edit) sealed()    {}
func (Expand) sealed()  {}
func (Reset) sealed()   {}

// Wire shapes used for parsing. Pointers distinguish "absent" from zero so
// a missing number is never read as a free action.
type (
	plantWire struct {
		PlantID  *string  `json:"plant_id"`
		PlotID   *string  `json:"plot_id"`
		ParentID *string  `json:"parent_id"`
		Species  *string  `json:"species"`
		Name     *string  `json:"name"`
		Cost     *float64 `json:"cost"`
	}
	plantRefWire struct {
		PlantID *string `json:"plant_id"`
	}
	harvestWire struct {
		PlantID *string  `json:"plant_id"`
		Reward  *float64 `json:"reward"`
	}
	editWire struct {
		PlantID  *string `json:"plant_id"`
		Name     *string `json:"name"`
		Note     *string `json:"note"`
		PlotID   *string `json:"plot_id"`
		ParentID *string `json:"parent_id"`
	}
	expandWire struct {
		Amount *float64 `json:"amount"`
	}
	resetWire struct {
		Capacity  *float64 `json:"capacity"`
		Available *float64 `json:"available"`
	}
)

// Parse turns an Event into its typed Action. It fails closed: unknown
// kinds return ErrUnknownKind and anything missing or out of range returns
// ErrMalformed. Nothing is defaulted.
func Parse(ev Event) (Action, error) {
	if !ev.Kind.Known() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, ev.Kind)
	}
	if ev.Timestamp.IsZero() {
		return nil, malformed(ev.Kind, "missing timestamp")
	}
	body := ev.Body
	if len(body) == 0 {
		body = json.RawMessage("{}")
	}

	switch ev.Kind {
	case KindPlant:
		var w plantWire
		if err := json.Unmarshal(body, &w); err != nil {
			return nil, malformed(ev.Kind, err.Error())
		}
		if !present(w.PlantID) || !present(w.PlotID) || !present(w.Species) {
			return nil, malformed(ev.Kind, "missing plant_id, plot_id or species")
		}
		if w.Cost == nil || *w.Cost < 0 {
			return nil, malformed(ev.Kind, "missing or negative cost")
		}
		a := Plant{PlantID: *w.PlantID, PlotID: *w.PlotID, Species: *w.Species, Cost: *w.Cost}
		if w.ParentID != nil {
			a.ParentID = *w.ParentID
		}
		if w.Name != nil {
			a.Name = *w.Name
		}
		return a, nil

	case KindWater, KindUproot:
		var w plantRefWire
		if err := json.Unmarshal(body, &w); err != nil {
			return nil, malformed(ev.Kind, err.Error())
		}
		if !present(w.PlantID) {
			return nil, malformed(ev.Kind, "missing plant_id")
		}
		if ev.Kind == KindWater {
			return Water{PlantID: *w.PlantID}, nil
		}
		return Uproot{PlantID: *w.PlantID}, nil

	case KindHarvest:
		var w harvestWire
		if err := json.Unmarshal(body, &w); err != nil {
			return nil, malformed(ev.Kind, err.Error())
		}
		if !present(w.PlantID) {
			return nil, malformed(ev.Kind, "missing plant_id")
		}
		if w.Reward == nil || *w.Reward < 0 {
			return nil, malformed(ev.Kind, "missing or negative reward")
		}
		return Harvest{PlantID: *w.PlantID, Reward: *w.Reward}, nil

	case KindEdit:
		var w editWire
		if err := json.Unmarshal(body, &w); err != nil {
			return nil, malformed(ev.Kind, err.Error())
		}
		if !present(w.PlantID) {
			return nil, malformed(ev.Kind, "missing plant_id")
		}
		if w.Name == nil && w.Note == nil && w.PlotID == nil && w.ParentID == nil {
			return nil, malformed(ev.Kind, "no fields to update")
		}
		if w.PlotID != nil && *w.PlotID == "" {
			return nil, malformed(ev.Kind, "empty plot_id")
		}
		return Edit{PlantID: *w.PlantID, Name: w.Name, Note: w.Note, PlotID: w.PlotID, ParentID: w.ParentID}, nil

	case KindExpand:
		var w expandWire
		if err := json.Unmarshal(body, &w); err != nil {
			return nil, malformed(ev.Kind, err.Error())
		}
		if w.Amount == nil || *w.Amount <= 0 {
			return nil, malformed(ev.Kind, "missing or non-positive amount")
		}
		return Expand{Amount: *w.Amount}, nil

	case KindReset:
		var w resetWire
		if err := json.Unmarshal(body, &w); err != nil {
			return nil, malformed(ev.Kind, err.Error())
		}
		if w.Capacity == nil || *w.Capacity < 0 {
			return nil, malformed(ev.Kind, "missing or negative capacity")
		}
		if w.Available != nil && *w.Available < 0 {
			return nil, malformed(ev.Kind, "negative available")
		}
		return Reset{Capacity: *w.Capacity, Available: w.Available}, nil
	}

	return nil, fmt.Errorf("%w: %q", ErrUnknownKind, ev.Kind)
}

func present(s *string) bool {
	return s != nil && *s != ""
}

func malformed(k Kind, detail string) error {
	return fmt.Errorf("%w: %s: %s", ErrMalformed, k, detail)
}
