package db

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/marcus/sprout/internal/event"
)

// SaveEvent durably appends ev. Saving an event whose dedup key is already
// stored is a no-op. A full disk returns an error wrapping ErrStorageFull.
func (db *DB) SaveEvent(ev event.Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode event %s: %w", ev.ClientID, err)
	}
	ts := ""
	if !ev.Timestamp.IsZero() {
		ts = formatTime(ev.Timestamp)
	}
	_, err = db.conn.Exec(`
		INSERT OR IGNORE INTO events (dedup_key, kind, timestamp, payload, appended_at)
		VALUES (?, ?, ?, ?, ?)
	`, event.DedupKey(ev), string(ev.Kind), ts, string(payload), formatTime(time.Now()))
	if err != nil {
		return fmt.Errorf("save event %s: %w", event.DedupKey(ev), classify(err))
	}
	return nil
}

// LoadEvents returns every stored event in append order. Rows that no
// longer decode are logged and skipped.
func (db *DB) LoadEvents() ([]event.Event, error) {
	rows, err := db.conn.Query(`SELECT seq, payload FROM events ORDER BY seq`)
	if err != nil {
		return nil, fmt.Errorf("load events: %w", err)
	}
	defer rows.Close()

	var events []event.Event
	for rows.Next() {
		var seq int64
		var payload string
		if err := rows.Scan(&seq, &payload); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		var ev event.Event
		if err := json.Unmarshal([]byte(payload), &ev); err != nil {
			slog.Warn("skipping undecodable event row", "seq", seq, "err", err)
			continue
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

// CountEvents returns the number of stored events.
func (db *DB) CountEvents() (int64, error) {
	var n int64
	err := db.conn.QueryRow(`SELECT COUNT(*) FROM events`).Scan(&n)
	return n, err
}
