// Package derive folds an event log into garden State.
//
// Derive is pure and total: it never fails and never performs I/O. Events
// are ordered by (timestamp, dedup key, canonical bytes), deduplicated by
// dedup key, and applied one transition at a time. Events that do not
// parse are skipped and counted, never defaulted.
package derive

import (
	"bytes"
	"errors"
	"sort"
	"strings"

	"github.com/marcus/sprout/internal/event"
)

// Observer is called after every applied transition with the event and the
// state it produced. It must not modify s.
type Observer func(ev event.Event, s *State)

// Derive folds events into a fresh State.
func Derive(events []event.Event, rules Rules) *State {
	return fold(events, rules, nil)
}

func fold(events []event.Event, rules Rules, observe Observer) *State {
	s := newState(rules)
	seen := make(map[string]struct{}, len(events))

	for _, ev := range order(events) {
		key := event.DedupKey(ev)
		if _, dup := seen[key]; dup {
			s.Diagnostics.Duplicates++
			continue
		}
		seen[key] = struct{}{}

		act, err := event.Parse(ev)
		if err != nil {
			if errors.Is(err, event.ErrUnknownKind) {
				s.Diagnostics.Unknown++
			} else {
				s.Diagnostics.Malformed++
			}
			continue
		}

		if !s.apply(ev, act, rules) {
			s.Diagnostics.Guarded++
			if s.guarded == nil {
				s.guarded = make(map[string]struct{})
			}
			s.guarded[key] = struct{}{}
			continue
		}
		s.Energy.Capacity = Round(s.Energy.Capacity, rules.Precision)
		s.Energy.Available = Round(clamp(s.Energy.Available, s.Energy.Capacity), rules.Precision)
		s.Applied++
		s.LastEvent = ev.Timestamp

		if observe != nil {
			observe(ev, s)
		}
	}

	s.buildIndices()
	return s
}

// ordered pairs an event with its precomputed sort key.
type ordered struct {
	ev  event.Event
	key string
	raw []byte
}

// order returns events in fold order. Already-sorted input, the common case
// for a locally appended log, is returned as is without copying.
func order(events []event.Event) []event.Event {
	if isSorted(events) {
		return events
	}

	keyed := make([]ordered, len(events))
	for i, ev := range events {
		keyed[i] = ordered{ev: ev, key: event.DedupKey(ev), raw: ev.Canonical()}
	}
	sort.SliceStable(keyed, func(i, j int) bool {
		return compareOrdered(keyed[i], keyed[j]) < 0
	})

	out := make([]event.Event, len(keyed))
	for i := range keyed {
		out[i] = keyed[i].ev
	}
	return out
}

func isSorted(events []event.Event) bool {
	for i := 1; i < len(events); i++ {
		a, b := events[i-1], events[i]
		if c := a.Timestamp.Compare(b.Timestamp); c != 0 {
			if c > 0 {
				return false
			}
			continue
		}
		ka, kb := event.DedupKey(a), event.DedupKey(b)
		if c := strings.Compare(ka, kb); c != 0 {
			if c > 0 {
				return false
			}
			continue
		}
		if bytes.Compare(a.Canonical(), b.Canonical()) > 0 {
			return false
		}
	}
	return true
}

func compareOrdered(a, b ordered) int {
	if c := a.ev.Timestamp.Compare(b.ev.Timestamp); c != 0 {
		return c
	}
	if c := strings.Compare(a.key, b.key); c != 0 {
		return c
	}
	return bytes.Compare(a.raw, b.raw)
}
