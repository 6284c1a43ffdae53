package eventlog

import (
	"sync"

	"github.com/marcus/sprout/internal/event"
)

// MemoryBackend keeps events in a slice. SaveErr, when set, is returned by
// every SaveEvent call without storing the event.
type MemoryBackend struct {
	mu      sync.Mutex
	events  []event.Event
	SaveErr error
}

func (m *MemoryBackend) LoadEvents() ([]event.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]event.Event(nil), m.events...), nil
}

func (m *MemoryBackend) SaveEvent(ev event.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.SaveErr != nil {
		return m.SaveErr
	}
	m.events = append(m.events, ev)
	return nil
}

// SetSaveErr changes the injected failure.
func (m *MemoryBackend) SetSaveErr(err error) {
	m.mu.Lock()
	m.SaveErr = err
	m.mu.Unlock()
}

// Saved returns how many events were durably stored.
func (m *MemoryBackend) Saved() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.events)
}
