package db

import (
	"fmt"
	"time"
)

// Warning is a persistent, user-visible problem such as a full disk.
type Warning struct {
	Code     string
	Message  string
	RaisedAt time.Time
}

// SetWarning raises or refreshes the warning with code.
func (db *DB) SetWarning(code, message string) error {
	_, err := db.conn.Exec(`
		INSERT INTO warnings (code, message, raised_at) VALUES (?, ?, ?)
		ON CONFLICT(code) DO UPDATE SET message = excluded.message
	`, code, message, formatTime(time.Now()))
	if err != nil {
		return fmt.Errorf("set warning %s: %w", code, classify(err))
	}
	return nil
}

// ClearWarning removes the warning with code, if any.
func (db *DB) ClearWarning(code string) error {
	_, err := db.conn.Exec(`DELETE FROM warnings WHERE code = ?`, code)
	return err
}

// Warnings returns all raised warnings, oldest first.
func (db *DB) Warnings() ([]Warning, error) {
	rows, err := db.conn.Query(`SELECT code, message, raised_at FROM warnings ORDER BY raised_at`)
	if err != nil {
		return nil, fmt.Errorf("list warnings: %w", err)
	}
	defer rows.Close()

	var out []Warning
	for rows.Next() {
		var w Warning
		var raised string
		if err := rows.Scan(&w.Code, &w.Message, &raised); err != nil {
			return nil, err
		}
		w.RaisedAt, _ = parseTime(raised)
		out = append(out, w)
	}
	return out, rows.Err()
}
