package db

import (
	"fmt"
	"time"
)

// PendingUpload is one entry of the pending upload set.
type PendingUpload struct {
	ClientID  string
	AddedAt   time.Time
	Attempts  int
	LastError string
	// Rejected is set once the remote refused the event for good. Rejected
	// entries are kept for display but never retried.
	Rejected bool
}

// AddPending records clientID as not yet confirmed remotely. Adding an id
// that is already pending is a no-op.
func (db *DB) AddPending(clientID string) error {
	_, err := db.conn.Exec(`
		INSERT OR IGNORE INTO pending_uploads (client_id, added_at) VALUES (?, ?)
	`, clientID, formatTime(time.Now()))
	if err != nil {
		return fmt.Errorf("add pending %s: %w", clientID, classify(err))
	}
	return nil
}

// RecordAttempt bumps the attempt counter for a pending id and stores the
// last failure.
func (db *DB) RecordAttempt(clientID string, cause error) error {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	_, err := db.conn.Exec(`
		UPDATE pending_uploads SET attempts = attempts + 1, last_error = ? WHERE client_id = ?
	`, msg, clientID)
	return classify(err)
}

// ParkPending marks clientID as rejected by the remote and stores why.
func (db *DB) ParkPending(clientID string, cause error) error {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	_, err := db.conn.Exec(`
		UPDATE pending_uploads SET attempts = attempts + 1, last_error = ?, rejected_at = ? WHERE client_id = ?
	`, msg, formatTime(time.Now()), clientID)
	if err != nil {
		return fmt.Errorf("park pending %s: %w", clientID, classify(err))
	}
	return nil
}

// RemovePending drops clientID from the pending set.
func (db *DB) RemovePending(clientID string) error {
	if _, err := db.conn.Exec(`DELETE FROM pending_uploads WHERE client_id = ?`, clientID); err != nil {
		return fmt.Errorf("remove pending %s: %w", clientID, err)
	}
	return nil
}

// ListPending returns the pending set, oldest first.
func (db *DB) ListPending() ([]PendingUpload, error) {
	rows, err := db.conn.Query(`
		SELECT client_id, added_at, attempts, last_error, rejected_at FROM pending_uploads ORDER BY added_at, client_id
	`)
	if err != nil {
		return nil, fmt.Errorf("list pending: %w", err)
	}
	defer rows.Close()

	var out []PendingUpload
	for rows.Next() {
		var p PendingUpload
		var added, rejected string
		if err := rows.Scan(&p.ClientID, &added, &p.Attempts, &p.LastError, &rejected); err != nil {
			return nil, fmt.Errorf("scan pending: %w", err)
		}
		if p.AddedAt, err = parseTime(added); err != nil {
			return nil, fmt.Errorf("parse pending added_at %q: %w", added, err)
		}
		p.Rejected = rejected != ""
		out = append(out, p)
	}
	return out, rows.Err()
}

// PendingIDs returns the client ids still worth retrying, skipping parked
// entries.
func (db *DB) PendingIDs() ([]string, error) {
	return db.pendingIDs(false)
}

// ParkedIDs returns the client ids the remote rejected.
func (db *DB) ParkedIDs() ([]string, error) {
	return db.pendingIDs(true)
}

func (db *DB) pendingIDs(parked bool) ([]string, error) {
	pending, err := db.ListPending()
	if err != nil {
		return nil, err
	}
	var ids []string
	for _, p := range pending {
		if p.Rejected == parked {
			ids = append(ids, p.ClientID)
		}
	}
	return ids, nil
}

// IsPending reports whether clientID is in the pending set.
func (db *DB) IsPending(clientID string) (bool, error) {
	var n int
	err := db.conn.QueryRow(`SELECT COUNT(*) FROM pending_uploads WHERE client_id = ?`, clientID).Scan(&n)
	return n > 0, err
}

// CountPending returns the size of the pending set.
func (db *DB) CountPending() (int64, error) {
	var n int64
	err := db.conn.QueryRow(`SELECT COUNT(*) FROM pending_uploads`).Scan(&n)
	return n, err
}
