// Package serverlog is the SQLite-backed remote event table used by the
// sync server.
package serverlog

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/marcus/sprout/internal/event"
	"github.com/marcus/sprout/internal/remote"
)

// createdAtLayout is fixed width so that text order equals time order.
const createdAtLayout = "2006-01-02T15:04:05.000000000Z"

// Store implements remote.Store over a SQLite events table.
type Store struct {
	db    *sql.DB
	hub   *remote.Hub
	clock func() time.Time
}

// Open opens or creates the database at path.
func Open(path string, hub *remote.Hub) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}
	conn, err := sql.Open("sqlite3", "file:"+path+"?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL")
	if err != nil {
		return nil, fmt.Errorf("open server event log: %w", err)
	}
	conn.SetMaxOpenConns(1)
	s, err := New(conn, hub)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return s, nil
}

// New wraps an open database, creating the events table if needed.
func New(conn *sql.DB, hub *remote.Hub) (*Store, error) {
	if hub == nil {
		hub = remote.NewHub(0)
	}
	if err := InitEventTable(conn); err != nil {
		return nil, err
	}
	return &Store{db: conn, hub: hub, clock: time.Now}, nil
}

// InitEventTable creates the events table and indexes if they don't exist.
func InitEventTable(conn *sql.DB) error {
	_, err := conn.Exec(`
		CREATE TABLE IF NOT EXISTS events (
			id          INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id     TEXT NOT NULL,
			client_id   TEXT NOT NULL,
			kind        TEXT NOT NULL DEFAULT '',
			payload     JSON NOT NULL,
			created_at  TEXT NOT NULL,
			UNIQUE(user_id, client_id)
		);
		CREATE INDEX IF NOT EXISTS idx_events_user_created ON events(user_id, created_at, id);
	`)
	if err != nil {
		return fmt.Errorf("init event table: %w", err)
	}
	return nil
}

// Hub returns the hub rows are published to.
func (s *Store) Hub() *remote.Hub { return s.hub }

// SetClock overrides the created_at source.
func (s *Store) SetClock(clock func() time.Time) { s.clock = clock }

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database connection is alive.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Insert stores ev for userID. An event whose dedup key userID already
// stored returns an error wrapping remote.ErrDuplicate; other users may
// reuse the key.
func (s *Store) Insert(ctx context.Context, userID string, ev event.Event) (remote.Row, error) {
	if userID == "" {
		return remote.Row{}, fmt.Errorf("insert event: empty user_id")
	}
	key := event.DedupKey(ev)
	payload, err := json.Marshal(ev)
	if err != nil {
		return remote.Row{}, fmt.Errorf("encode event %s: %w", key, err)
	}

	createdAt := s.clock().UTC()
	res, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO events (user_id, client_id, kind, payload, created_at) VALUES (?, ?, ?, ?, ?)`,
		userID, key, string(ev.Kind), string(payload), createdAt.Format(createdAtLayout),
	)
	if err != nil {
		return remote.Row{}, fmt.Errorf("insert event %s: %w", key, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return remote.Row{}, fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		var existing int64
		if err := s.db.QueryRowContext(ctx, `SELECT id FROM events WHERE user_id = ? AND client_id = ?`, userID, key).Scan(&existing); err != nil {
			slog.Warn("duplicate lookup failed", "client_id", key, "err", err)
		}
		return remote.Row{}, fmt.Errorf("insert event %s (row %d): %w", key, existing, remote.ErrDuplicate)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return remote.Row{}, fmt.Errorf("last insert id: %w", err)
	}

	row := remote.Row{ID: id, UserID: userID, CreatedAt: createdAt, Event: ev}
	slog.Debug("event inserted", "id", id, "client_id", key, "user", userID)
	s.hub.Publish(row)
	return row, nil
}

// Since returns up to limit rows of userID after pos.
func (s *Store) Since(ctx context.Context, userID string, pos remote.Position, limit int) (remote.Page, error) {
	if limit <= 0 {
		limit = 1000
	}
	after := ""
	if !pos.After.IsZero() {
		after = pos.After.UTC().Format(createdAtLayout)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, payload, created_at FROM events
		WHERE user_id = ? AND (created_at > ? OR (created_at = ? AND id > ?))
		ORDER BY created_at ASC, id ASC
		LIMIT ?`,
		userID, after, after, pos.AfterID, limit+1,
	)
	if err != nil {
		return remote.Page{}, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var page remote.Page
	for rows.Next() {
		var (
			r       remote.Row
			payload string
			created string
		)
		if err := rows.Scan(&r.ID, &payload, &created); err != nil {
			return remote.Page{}, fmt.Errorf("scan event: %w", err)
		}
		if err := json.Unmarshal([]byte(payload), &r.Event); err != nil {
			return remote.Page{}, fmt.Errorf("decode event id=%d: %w", r.ID, err)
		}
		if r.CreatedAt, err = time.Parse(createdAtLayout, created); err != nil {
			return remote.Page{}, fmt.Errorf("parse created_at id=%d: %w", r.ID, err)
		}
		r.UserID = userID
		page.Rows = append(page.Rows, r)
	}
	if err := rows.Err(); err != nil {
		return remote.Page{}, fmt.Errorf("rows iteration: %w", err)
	}

	if len(page.Rows) > limit {
		page.Rows = page.Rows[:limit]
		page.HasMore = true
	}
	return page, nil
}

// Subscribe opens a realtime subscription for userID's rows.
func (s *Store) Subscribe(ctx context.Context, userID string) (remote.Subscription, error) {
	return s.hub.Subscribe(userID), nil
}

// Count returns the number of rows stored for userID.
func (s *Store) Count(ctx context.Context, userID string) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM events WHERE user_id = ?`, userID).Scan(&n)
	return n, err
}
