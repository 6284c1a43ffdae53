// Package export reads and writes the versioned export document: the full
// event collection of a device. Import never carries derived state; it is
// always re-derived from the events.
package export

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/marcus/sprout/internal/event"
)

// Version is the newest document version this build writes and reads.
const Version = 1

var (
	// ErrUnsupportedVersion means the document was written by a newer build.
	ErrUnsupportedVersion = errors.New("unsupported export version")
	// ErrInvalidDocument means the input is not an export document.
	ErrInvalidDocument = errors.New("invalid export document")
)

// Document is the export file.
type Document struct {
	Version    int           `json:"version"`
	ExportedAt time.Time     `json:"exported_at"`
	DeviceID   string        `json:"device_id,omitempty"`
	Events     []event.Event `json:"events"`

	// Dropped counts array elements Read could not decode as events.
	Dropped int `json:"-"`
}

// New builds a document holding a copy of events.
func New(events []event.Event, deviceID string, now time.Time) *Document {
	evs := make([]event.Event, len(events))
	copy(evs, events)
	return &Document{
		Version:    Version,
		ExportedAt: now.UTC().Truncate(time.Second),
		DeviceID:   deviceID,
		Events:     evs,
	}
}

// Write encodes doc as indented JSON.
func Write(w io.Writer, doc *Document) error {
	if doc.Events == nil {
		doc.Events = []event.Event{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("write export: %w", err)
	}
	return nil
}

// Read decodes a document. Unknown event kinds and fields are kept.
// Elements of the events array that are not objects are skipped and
// counted in Dropped.
func Read(r io.Reader) (*Document, error) {
	var raw struct {
		Version    *int            `json:"version"`
		Sealed     *int            `json:"sealed"`
		ExportedAt time.Time       `json:"exported_at"`
		DeviceID   string          `json:"device_id"`
		Events     json.RawMessage `json:"events"`
	}
	if err := json.NewDecoder(r).Decode(&raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDocument, err)
	}
	if raw.Sealed != nil {
		return nil, ErrSealed
	}
	if raw.Version == nil || *raw.Version < 1 {
		return nil, fmt.Errorf("%w: missing version", ErrInvalidDocument)
	}
	if *raw.Version > Version {
		return nil, fmt.Errorf("%w: %d (newest supported is %d)", ErrUnsupportedVersion, *raw.Version, Version)
	}

	doc := &Document{
		Version:    *raw.Version,
		ExportedAt: raw.ExportedAt,
		DeviceID:   raw.DeviceID,
		Events:     []event.Event{},
	}
	if len(raw.Events) > 0 && string(raw.Events) != "null" {
		evs, dropped, err := event.DecodeList(raw.Events)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidDocument, err)
		}
		doc.Events, doc.Dropped = evs, dropped
	}
	return doc, nil
}

// Appender is the log an import appends to.
type Appender interface {
	AppendAll(evs []event.Event) int
}

// Import appends doc's events to log, skipping ones already present, and
// returns how many were new.
func Import(log Appender, doc *Document) int {
	return log.AppendAll(doc.Events)
}
