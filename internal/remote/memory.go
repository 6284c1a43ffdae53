package remote

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/marcus/sprout/internal/event"
)

// Memory is an in-process Store. Its fault hooks simulate the network
// failures sync must survive.
type Memory struct {
	Hub *Hub

	mu     sync.Mutex
	rows   []Row
	keys   map[string]int64
	nextID int64
	clock  func() time.Time

	insertErr   error
	dropAck     bool
	insertDelay time.Duration
	sinceErr    error
	subErr      error
	inserts     int
}

// NewMemory returns an empty store. A nil clock means time.Now.
func NewMemory(clock func() time.Time) *Memory {
	if clock == nil {
		clock = time.Now
	}
	return &Memory{Hub: NewHub(0), keys: make(map[string]int64), clock: clock}
}

// FailInserts makes every Insert fail with err before storing anything.
// A nil err restores normal behavior.
func (m *Memory) FailInserts(err error) {
	m.mu.Lock()
	m.insertErr = err
	m.mu.Unlock()
}

// DropAcks makes Insert store the row and then report a failure, as when
// the acknowledgement is lost on the way back.
func (m *Memory) DropAcks(drop bool) {
	m.mu.Lock()
	m.dropAck = drop
	m.mu.Unlock()
}

// DelayInserts makes Insert wait d (or until ctx ends) before storing.
func (m *Memory) DelayInserts(d time.Duration) {
	m.mu.Lock()
	m.insertDelay = d
	m.mu.Unlock()
}

// FailSince makes Since fail with err.
func (m *Memory) FailSince(err error) {
	m.mu.Lock()
	m.sinceErr = err
	m.mu.Unlock()
}

// FailSubscribe makes Subscribe fail with err.
func (m *Memory) FailSubscribe(err error) {
	m.mu.Lock()
	m.subErr = err
	m.mu.Unlock()
}

func (m *Memory) Insert(ctx context.Context, userID string, ev event.Event) (Row, error) {
	m.mu.Lock()
	delay := m.insertDelay
	m.mu.Unlock()
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return Row{}, ctx.Err()
		}
	}
	if err := ctx.Err(); err != nil {
		return Row{}, err
	}

	m.mu.Lock()
	m.inserts++
	if m.insertErr != nil {
		err := m.insertErr
		m.mu.Unlock()
		return Row{}, err
	}
	key := event.DedupKey(ev)
	if id, ok := m.keys[userKey(userID, key)]; ok {
		m.mu.Unlock()
		return Row{}, fmt.Errorf("insert %s (row %d): %w", key, id, ErrDuplicate)
	}
	m.nextID++
	row := Row{ID: m.nextID, UserID: userID, CreatedAt: m.clock().UTC(), Event: ev}
	m.rows = append(m.rows, row)
	m.keys[userKey(userID, key)] = row.ID
	dropAck := m.dropAck
	m.mu.Unlock()

	m.Hub.Publish(row)
	if dropAck {
		return Row{}, fmt.Errorf("insert %s: connection reset before acknowledgement", key)
	}
	return row, nil
}

// InsertAt stores ev with an explicit created_at, bypassing fault hooks.
// It models a commit whose timestamp is older than rows already visible.
func (m *Memory) InsertAt(userID string, ev event.Event, createdAt time.Time) (Row, error) {
	m.mu.Lock()
	key := userKey(userID, event.DedupKey(ev))
	if _, ok := m.keys[key]; ok {
		m.mu.Unlock()
		return Row{}, ErrDuplicate
	}
	m.nextID++
	row := Row{ID: m.nextID, UserID: userID, CreatedAt: createdAt.UTC(), Event: ev}
	m.rows = append(m.rows, row)
	m.keys[key] = row.ID
	m.mu.Unlock()

	m.Hub.Publish(row)
	return row, nil
}

func (m *Memory) Since(ctx context.Context, userID string, pos Position, limit int) (Page, error) {
	if err := ctx.Err(); err != nil {
		return Page{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sinceErr != nil {
		return Page{}, m.sinceErr
	}

	var matched []Row
	for _, r := range m.rows {
		if r.UserID == userID && pos.Precedes(r) {
			matched = append(matched, r)
		}
	}
	sort.Slice(matched, func(i, j int) bool {
		if c := matched[i].CreatedAt.Compare(matched[j].CreatedAt); c != 0 {
			return c < 0
		}
		return matched[i].ID < matched[j].ID
	})

	page := Page{Rows: matched}
	if limit > 0 && len(matched) > limit {
		page.Rows = matched[:limit]
		page.HasMore = true
	}
	return page, nil
}

func (m *Memory) Subscribe(ctx context.Context, userID string) (Subscription, error) {
	m.mu.Lock()
	err := m.subErr
	m.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return m.Hub.Subscribe(userID), nil
}

// Rows returns every stored row for userID in id order.
func (m *Memory) Rows(userID string) []Row {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Row
	for _, r := range m.rows {
		if r.UserID == userID {
			out = append(out, r)
		}
	}
	return out
}

// Inserts returns how many Insert calls reached the store.
func (m *Memory) Inserts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.inserts
}

// userKey scopes a dedup key to one user.
func userKey(userID, key string) string { return userID + "\x00" + key }
