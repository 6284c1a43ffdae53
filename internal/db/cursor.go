package db

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Cursor is the high-water mark of the last successful pull: the remote
// created_at of the newest row seen, with its row id as tie-break.
type Cursor struct {
	CreatedAt time.Time
	RowID     int64
	UpdatedAt time.Time
}

// GetCursor returns the stored cursor, or nil if none has been saved.
func (db *DB) GetCursor() (*Cursor, error) {
	var c Cursor
	var created, updated string
	err := db.conn.QueryRow(`SELECT created_at, row_id, updated_at FROM sync_cursor WHERE id = 1`).
		Scan(&created, &c.RowID, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get cursor: %w", err)
	}
	if c.CreatedAt, err = parseTime(created); err != nil {
		return nil, fmt.Errorf("parse cursor %q: %w", created, err)
	}
	if c.UpdatedAt, err = parseTime(updated); err != nil {
		return nil, fmt.Errorf("parse cursor updated_at %q: %w", updated, err)
	}
	return &c, nil
}

// SetCursor stores the cursor, replacing any previous value.
func (db *DB) SetCursor(createdAt time.Time, rowID int64) error {
	_, err := db.conn.Exec(`
		INSERT INTO sync_cursor (id, created_at, row_id, updated_at) VALUES (1, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET created_at = excluded.created_at, row_id = excluded.row_id, updated_at = excluded.updated_at
	`, formatTime(createdAt), rowID, formatTime(time.Now()))
	if err != nil {
		return fmt.Errorf("set cursor: %w", classify(err))
	}
	return nil
}

// ClearCursor forgets the cursor so the next pull is a full pull.
func (db *DB) ClearCursor() error {
	_, err := db.conn.Exec(`DELETE FROM sync_cursor`)
	return err
}
