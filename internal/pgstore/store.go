// Package pgstore is a PostgreSQL remote event store. Realtime delivery
// across server instances goes through LISTEN/NOTIFY.
package pgstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/marcus/sprout/internal/event"
	"github.com/marcus/sprout/internal/remote"
	"github.com/marcus/sprout/internal/retry"
)

// Channel is the NOTIFY channel inserts are announced on.
const Channel = "sprout_events"

const schema = `
CREATE TABLE IF NOT EXISTS sprout_events (
	id         BIGSERIAL PRIMARY KEY,
	user_id    TEXT NOT NULL,
	client_id  TEXT NOT NULL,
	kind       TEXT NOT NULL DEFAULT '',
	payload    JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT clock_timestamp(),
	CONSTRAINT sprout_events_user_client_id UNIQUE (user_id, client_id)
);
CREATE INDEX IF NOT EXISTS idx_sprout_events_user_created ON sprout_events (user_id, created_at, id);
`

// Store implements remote.Store with PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
	hub  *remote.Hub
}

// New creates a store over pool. Rows are fanned out through hub once Listen
// is running.
func New(pool *pgxpool.Pool, hub *remote.Hub) *Store {
	if hub == nil {
		hub = remote.NewHub(0)
	}
	return &Store{pool: pool, hub: hub}
}

// Connect opens a pool for dsn.
func Connect(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return pool, nil
}

// Migrate creates the events table if needed.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

// Hub returns the hub rows are published to.
func (s *Store) Hub() *remote.Hub { return s.hub }

// Ping checks the pool.
func (s *Store) Ping(ctx context.Context) error { return s.pool.Ping(ctx) }

// Insert stores ev and announces it on Channel in the same transaction.
func (s *Store) Insert(ctx context.Context, userID string, ev event.Event) (remote.Row, error) {
	if userID == "" {
		return remote.Row{}, fmt.Errorf("insert event: empty user_id")
	}
	key := event.DedupKey(ev)
	payload, err := json.Marshal(ev)
	if err != nil {
		return remote.Row{}, fmt.Errorf("encode event %s: %w", key, err)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return remote.Row{}, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	row := remote.Row{UserID: userID, Event: ev}
	err = tx.QueryRow(ctx, `
		INSERT INTO sprout_events (user_id, client_id, kind, payload)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at
	`, userID, key, string(ev.Kind), payload).Scan(&row.ID, &row.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return remote.Row{}, fmt.Errorf("insert event %s: %w", key, remote.ErrDuplicate)
		}
		return remote.Row{}, fmt.Errorf("insert event %s: %w", key, err)
	}
	if _, err := tx.Exec(ctx, `SELECT pg_notify($1, $2)`, Channel, strconv.FormatInt(row.ID, 10)); err != nil {
		return remote.Row{}, fmt.Errorf("notify: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		if isUniqueViolation(err) {
			return remote.Row{}, fmt.Errorf("insert event %s: %w", key, remote.ErrDuplicate)
		}
		return remote.Row{}, fmt.Errorf("commit: %w", err)
	}
	row.CreatedAt = row.CreatedAt.UTC()
	return row, nil
}

// querier is satisfied by both pgxpool.Pool and pgx.Conn.
type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// Since returns up to limit rows of userID after pos.
func (s *Store) Since(ctx context.Context, userID string, pos remote.Position, limit int) (remote.Page, error) {
	if limit <= 0 {
		limit = 1000
	}
	rows, err := loadRows(ctx, s.pool, `
		SELECT id, user_id, payload, created_at FROM sprout_events
		WHERE user_id = $1 AND (created_at, id) > ($2, $3)
		ORDER BY created_at ASC, id ASC
		LIMIT $4
	`, userID, pos.After, pos.AfterID, limit+1)
	if err != nil {
		return remote.Page{}, err
	}
	page := remote.Page{Rows: rows}
	if len(rows) > limit {
		page.Rows = rows[:limit]
		page.HasMore = true
	}
	return page, nil
}

func loadRows(ctx context.Context, q querier, sql string, args ...any) ([]remote.Row, error) {
	rows, err := q.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var out []remote.Row
	for rows.Next() {
		var r remote.Row
		var payload []byte
		if err := rows.Scan(&r.ID, &r.UserID, &payload, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		if err := json.Unmarshal(payload, &r.Event); err != nil {
			return nil, fmt.Errorf("decode event id=%d: %w", r.ID, err)
		}
		r.CreatedAt = r.CreatedAt.UTC()
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return out, nil
}

// Subscribe returns a subscription fed by Listen.
func (s *Store) Subscribe(ctx context.Context, userID string) (remote.Subscription, error) {
	return s.hub.Subscribe(userID), nil
}

// Listen holds a dedicated connection listening on Channel and publishes
// every announced row to the hub until ctx ends. Dropped connections are
// re-established with backoff from policy.
func (s *Store) Listen(ctx context.Context, policy retry.Policy) error {
	for attempt := 1; ; attempt++ {
		err := s.listenOnce(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if errors.Is(err, errListening) {
			attempt = 1
		}
		delay := policy.NextDelay(attempt)
		slog.Warn("postgres listener dropped", "err", err, "retry_in", delay)
		if err := retry.Sleep(ctx, delay); err != nil {
			return err
		}
	}
}

func (s *Store) listenOnce(ctx context.Context) error {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire listener conn: %w", err)
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{Channel}.Sanitize()); err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	for {
		n, err := conn.Conn().WaitForNotification(ctx)
		if err != nil {
			return fmt.Errorf("%w: %w", errListening, err)
		}
		id, err := strconv.ParseInt(strings.TrimSpace(n.Payload), 10, 64)
		if err != nil {
			slog.Warn("bad notification payload", "payload", n.Payload)
			continue
		}
		rows, err := loadRows(ctx, s.pool, `
			SELECT id, user_id, payload, created_at FROM sprout_events WHERE id = $1
		`, id)
		if err != nil {
			slog.Warn("load notified row failed", "id", id, "err", err)
			continue
		}
		for _, r := range rows {
			s.hub.Publish(r)
		}
	}
}

// errListening marks a drop after LISTEN succeeded, which resets backoff.
var errListening = errors.New("listener interrupted")

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.SQLState() == "23505"
}
