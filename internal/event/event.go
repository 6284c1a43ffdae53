// Package event defines the immutable user actions that make up a garden's
// log, their JSON wire format, and the identity used to deduplicate them.
package event

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// Kind is the discriminator of an Event. The set is closed for this version
// of the fold but new kinds may appear on the wire; readers keep them and
// skip them.
type Kind string

const (
	KindPlant   Kind = "plant"
	KindWater   Kind = "water"
	KindHarvest Kind = "harvest"
	KindUproot  Kind = "uproot"
	KindEdit    Kind = "edit"
	KindExpand  Kind = "expand"
	KindReset   Kind = "reset"
)

// SchemaVersion is the newest event schema this build understands.
const SchemaVersion = 1

var knownKinds = map[Kind]bool{
	KindPlant:   true,
	KindWater:   true,
	KindHarvest: true,
	KindUproot:  true,
	KindEdit:    true,
	KindExpand:  true,
	KindReset:   true,
}

// Known reports whether the fold has a transition for k.
func (k Kind) Known() bool {
	return knownKinds[k]
}

// Kinds returns every kind this build understands, in declaration order.
func Kinds() []Kind {
	return []Kind{KindPlant, KindWater, KindHarvest, KindUproot, KindEdit, KindExpand, KindReset}
}

// Envelope keys. Everything else in the object belongs to Body.
const (
	keyType      = "type"
	keyTimestamp = "timestamp"
	keyClientID  = "client_id"
)

// Event is one immutable user action.
//
// Body holds the type-specific fields exactly as they arrived, minus the
// envelope keys, so fields this build does not know survive export and
// re-import untouched.
type Event struct {
	Kind      Kind
	Timestamp time.Time
	ClientID  string
	Body      json.RawMessage
}

// New builds an Event for the given action at ts with a fresh client id.
func New(ts time.Time, a Action) (Event, error) {
	body, err := json.Marshal(a)
	if err != nil {
		return Event{}, fmt.Errorf("marshal %s payload: %w", a.Kind(), err)
	}
	ts = normalizeTime(ts)
	return Event{
		Kind:      a.Kind(),
		Timestamp: ts,
		ClientID:  NewClientID(ts),
		Body:      body,
	}, nil
}

// MarshalJSON writes the flat wire object: envelope keys merged with Body.
// Map keys are sorted by encoding/json, so the output is canonical for a
// given event.
func (e Event) MarshalJSON() ([]byte, error) {
	fields := map[string]json.RawMessage{}
	if len(bytes.TrimSpace(e.Body)) > 0 {
		if err := json.Unmarshal(e.Body, &fields); err != nil {
			return nil, fmt.Errorf("event %s body: %w", e.ClientID, err)
		}
	}
	if e.Kind != "" {
		fields[keyType] = mustString(string(e.Kind))
	}
	if !e.Timestamp.IsZero() {
		fields[keyTimestamp] = mustString(e.Timestamp.Format(time.RFC3339Nano))
	}
	if e.ClientID != "" {
		fields[keyClientID] = mustString(e.ClientID)
	}
	return json.Marshal(fields)
}

// UnmarshalJSON accepts any JSON object. Envelope keys that fail to decode
// are left in Body instead of being rejected; the fold treats such events
// as malformed and skips them.
func (e *Event) UnmarshalJSON(data []byte) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return fmt.Errorf("decode event: %w", err)
	}
	if fields == nil {
		return fmt.Errorf("decode event: null")
	}

	*e = Event{}
	if raw, ok := fields[keyType]; ok {
		var s string
		if json.Unmarshal(raw, &s) == nil && s != "" {
			e.Kind = Kind(s)
			delete(fields, keyType)
		}
	}
	if raw, ok := fields[keyClientID]; ok {
		var s string
		if json.Unmarshal(raw, &s) == nil && s != "" {
			e.ClientID = s
			delete(fields, keyClientID)
		}
	}
	if raw, ok := fields[keyTimestamp]; ok {
		var s string
		if json.Unmarshal(raw, &s) == nil {
			if ts, err := ParseTimestamp(s); err == nil {
				e.Timestamp = ts
				delete(fields, keyTimestamp)
			}
		}
	}

	if len(fields) > 0 {
		body, err := json.Marshal(fields)
		if err != nil {
			return fmt.Errorf("encode event body: %w", err)
		}
		e.Body = body
	}
	return nil
}

// Canonical returns the wire bytes of e. Used as the last tie-break when
// ordering events so that even corrupted duplicates sort deterministically.
func (e Event) Canonical() []byte {
	data, err := e.MarshalJSON()
	if err != nil {
		return e.Body
	}
	return data
}

// ParseTimestamp accepts RFC 3339 timestamps with or without fractional
// seconds. The result is normalized to UTC.
func ParseTimestamp(s string) (time.Time, error) {
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05.999999999"} {
		if t, err := time.Parse(layout, s); err == nil {
			return normalizeTime(t), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp format: %q", s)
}

// normalizeTime drops the monotonic reading and the zone so that an event
// compares equal to itself after a JSON round trip.
func normalizeTime(t time.Time) time.Time {
	return t.Round(0).UTC()
}

func mustString(s string) json.RawMessage {
	data, _ := json.Marshal(s)
	return data
}

// DecodeList decodes a JSON array of events. Elements that are not objects
// are dropped and counted rather than failing the whole list.
func DecodeList(data []byte) (events []Event, dropped int, err error) {
	var raws []json.RawMessage
	if err := json.Unmarshal(data, &raws); err != nil {
		return nil, 0, fmt.Errorf("decode event list: %w", err)
	}
	events = make([]Event, 0, len(raws))
	for _, raw := range raws {
		var ev Event
		if err := json.Unmarshal(raw, &ev); err != nil {
			dropped++
			continue
		}
		events = append(events, ev)
	}
	return events, dropped, nil
}
