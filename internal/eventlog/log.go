// Package eventlog is the in-memory, append-only event log of one device,
// backed by durable storage.
//
// The in-memory copy is authoritative for reads. A failed durable write
// never drops the event: it stays in memory, is remembered as unsaved, and
// a Warning is raised until Flush succeeds.
package eventlog

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/marcus/sprout/internal/db"
	"github.com/marcus/sprout/internal/event"
)

// Backend persists events.
type Backend interface {
	LoadEvents() ([]event.Event, error)
	SaveEvent(ev event.Event) error
}

// WarningStore is optionally implemented by a Backend to persist warnings
// across restarts.
type WarningStore interface {
	SetWarning(code, message string) error
	ClearWarning(code string) error
}

// Warning codes.
const (
	WarnStorageFull  = "storage_full"
	WarnStorageError = "storage_error"
)

// Warning describes events that exist only in memory.
type Warning struct {
	Code    string
	Message string
	Unsaved int
	Since   time.Time
	Err     error
}

// Log is safe for concurrent use. Listeners run synchronously after an
// append, outside the lock.
type Log struct {
	mu        sync.RWMutex
	backend   Backend
	events    []event.Event
	keys      map[string]struct{}
	unsaved   []event.Event
	warning   *Warning
	listeners []func()
	logger    *slog.Logger
}

// Open loads every event from backend.
func Open(backend Backend, logger *slog.Logger) (*Log, error) {
	if logger == nil {
		logger = slog.Default()
	}
	events, err := backend.LoadEvents()
	if err != nil {
		return nil, fmt.Errorf("load event log: %w", err)
	}
	l := &Log{
		backend: backend,
		keys:    make(map[string]struct{}, len(events)),
		logger:  logger,
	}
	for _, ev := range events {
		key := event.DedupKey(ev)
		if _, dup := l.keys[key]; dup {
			continue
		}
		l.keys[key] = struct{}{}
		l.events = append(l.events, ev)
	}
	return l, nil
}

// OnChange registers fn to run after every append that adds an event.
func (l *Log) OnChange(fn func()) {
	l.mu.Lock()
	l.listeners = append(l.listeners, fn)
	l.mu.Unlock()
}

// Append adds ev unless an event with the same dedup key is present. It
// reports whether the event was added. Append never fails: durable write
// errors are reported through Warning.
func (l *Log) Append(ev event.Event) bool {
	return l.AppendAll([]event.Event{ev}) == 1
}

// AppendAll appends each new event in order and notifies listeners once.
// It returns how many events were added.
func (l *Log) AppendAll(events []event.Event) int {
	l.mu.Lock()
	added := 0
	for _, ev := range events {
		key := event.DedupKey(ev)
		if _, dup := l.keys[key]; dup {
			continue
		}
		l.keys[key] = struct{}{}
		l.events = append(l.events, ev)
		added++

		if len(l.unsaved) > 0 {
			// keep durable order equal to memory order
			l.unsaved = append(l.unsaved, ev)
			continue
		}
		if err := l.backend.SaveEvent(ev); err != nil {
			l.unsaved = append(l.unsaved, ev)
			l.raiseLocked(err)
		}
	}
	if l.warning != nil {
		l.warning.Unsaved = len(l.unsaved)
	}
	listeners := append([]func(){}, l.listeners...)
	l.mu.Unlock()

	if added > 0 {
		for _, fn := range listeners {
			fn()
		}
	}
	return added
}

func (l *Log) raiseLocked(err error) {
	code, msg := WarnStorageError, "events could not be saved; they are kept in memory until storage recovers"
	if errors.Is(err, db.ErrStorageFull) {
		code, msg = WarnStorageFull, "device storage is full; export your garden to keep unsaved events safe"
	}
	if l.warning == nil || l.warning.Code != code {
		l.warning = &Warning{Code: code, Message: msg, Since: time.Now(), Err: err}
		l.logger.Warn("event log write failed", "code", code, "err", err)
		if ws, ok := l.backend.(WarningStore); ok {
			if werr := ws.SetWarning(code, msg); werr != nil {
				l.logger.Debug("persist warning failed", "err", werr)
			}
		}
	}
}

// Flush retries durable writes of unsaved events in order and clears the
// warning once all have been written.
func (l *Log) Flush() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	for len(l.unsaved) > 0 {
		if err := l.backend.SaveEvent(l.unsaved[0]); err != nil {
			l.raiseLocked(err)
			l.warning.Unsaved = len(l.unsaved)
			return fmt.Errorf("flush event log: %w", err)
		}
		l.unsaved = l.unsaved[1:]
	}
	if l.warning != nil {
		if ws, ok := l.backend.(WarningStore); ok {
			if werr := ws.ClearWarning(l.warning.Code); werr != nil {
				l.logger.Debug("clear persisted warning failed", "code", l.warning.Code, "err", werr)
			}
		}
		l.logger.Info("event log recovered", "code", l.warning.Code)
		l.warning = nil
	}
	return nil
}

// Warning returns the current storage warning, or nil.
func (l *Log) Warning() *Warning {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.warning == nil {
		return nil
	}
	w := *l.warning
	return &w
}

// Events returns a copy of the log in append order.
func (l *Log) Events() []event.Event {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]event.Event(nil), l.events...)
}

// Len returns the number of events.
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.events)
}

// Has reports whether an event with the given dedup key is present.
func (l *Log) Has(key string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.keys[key]
	return ok
}

// Get returns the event with the given dedup key.
func (l *Log) Get(key string) (event.Event, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if _, ok := l.keys[key]; !ok {
		return event.Event{}, false
	}
	for i := len(l.events) - 1; i >= 0; i-- {
		if event.DedupKey(l.events[i]) == key {
			return l.events[i], true
		}
	}
	return event.Event{}, false
}
