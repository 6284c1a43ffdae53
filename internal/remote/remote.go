// Package remote defines the contract of the shared, authoritative event
// store and provides the realtime hub and an in-memory implementation.
//
// A remote store is an append-only table keyed by a server-generated row
// id, unique on the event dedup key, with a server created_at column used
// for incremental pulls and rows isolated per user.
package remote

import (
	"context"
	"errors"
	"time"

	"github.com/marcus/sprout/internal/event"
)

// ErrDuplicate is returned by Insert when the user already stored an event
// with the same dedup key. Pushers treat it as success.
var ErrDuplicate = errors.New("duplicate client_id")

// ErrRejected is returned by Insert when the store refuses an event for
// good. Retrying the same event will fail the same way.
var ErrRejected = errors.New("event rejected")

// ErrClosed is returned when a subscription's underlying channel ends.
var ErrClosed = errors.New("subscription closed")

// Row is one committed event.
type Row struct {
	ID        int64       `json:"id"`
	UserID    string      `json:"user_id"`
	CreatedAt time.Time   `json:"created_at"`
	Event     event.Event `json:"event"`
}

// Position selects rows strictly after (After, AfterID) in
// (created_at, id) order. The zero Position selects every row.
type Position struct {
	After   time.Time
	AfterID int64
}

// Precedes reports whether r comes after p.
func (p Position) Precedes(r Row) bool {
	if c := r.CreatedAt.Compare(p.After); c != 0 {
		return c > 0
	}
	return r.ID > p.AfterID
}

// Advance returns the later of p and the position of r.
func (p Position) Advance(r Row) Position {
	if p.Precedes(r) {
		return Position{After: r.CreatedAt, AfterID: r.ID}
	}
	return p
}

// IsZero reports whether p selects every row.
func (p Position) IsZero() bool {
	return p.After.IsZero() && p.AfterID == 0
}

// Page is one batch of rows in (created_at, id) order.
type Page struct {
	Rows    []Row `json:"rows"`
	HasMore bool  `json:"has_more"`
}

// Subscription delivers rows committed after it was opened. Rows is closed
// when the subscription ends; Err then reports why.
type Subscription interface {
	Rows() <-chan Row
	Err() error
	Close() error
}

// Store is the remote side of sync.
type Store interface {
	Insert(ctx context.Context, userID string, ev event.Event) (Row, error)
	Since(ctx context.Context, userID string, pos Position, limit int) (Page, error)
	Subscribe(ctx context.Context, userID string) (Subscription, error)
}
