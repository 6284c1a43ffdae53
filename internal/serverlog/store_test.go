package serverlog

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/marcus/sprout/internal/event"
	"github.com/marcus/sprout/internal/remote"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	conn, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	conn.SetMaxOpenConns(1)
	t.Cleanup(func() { conn.Close() })

	s, err := New(conn, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s
}

func newEvent(t *testing.T, plantID string) event.Event {
	t.Helper()
	ev, err := event.New(time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC), event.Water{PlantID: plantID})
	if err != nil {
		t.Fatalf("event.New: %v", err)
	}
	return ev
}

func TestInsert_AssignsIDsAndRejectsDuplicates(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	ev := newEvent(t, "p1")
	row, err := s.Insert(ctx, "u1", ev)
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if row.ID != 1 {
		t.Errorf("id: got %d, want 1", row.ID)
	}

	_, err = s.Insert(ctx, "u1", ev)
	if !errors.Is(err, remote.ErrDuplicate) {
		t.Fatalf("second Insert: got %v, want ErrDuplicate", err)
	}

	n, _ := s.Count(ctx, "u1")
	if n != 1 {
		t.Errorf("count: got %d, want 1", n)
	}
}

func TestInsert_DuplicatesAreScopedToUser(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	ev := newEvent(t, "p1")

	a, err := s.Insert(ctx, "u1", ev)
	if err != nil {
		t.Fatalf("Insert u1: %v", err)
	}
	b, err := s.Insert(ctx, "u2", ev)
	if err != nil {
		t.Fatalf("Insert u2 with the same client id: %v", err)
	}
	if a.ID == b.ID {
		t.Fatalf("both users got row %d", a.ID)
	}

	_, err = s.Insert(ctx, "u2", ev)
	if !errors.Is(err, remote.ErrDuplicate) {
		t.Fatalf("repeat Insert u2: got %v, want ErrDuplicate", err)
	}
	for _, user := range []string{"u1", "u2"} {
		if n, _ := s.Count(ctx, user); n != 1 {
			t.Errorf("count %s: got %d, want 1", user, n)
		}
	}
}

func TestInsert_EmptyUser(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.Insert(context.Background(), "", newEvent(t, "p1")); err == nil {
		t.Fatal("expected error for empty user")
	}
}

func TestSince_OrdersByCreatedAtThenID(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	at := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	clock := []time.Time{at.Add(2 * time.Second), at, at, at.Add(time.Second), at}
	i := 0
	s.SetClock(func() time.Time { ts := clock[i]; i++; return ts })

	var ids []string
	for j := 0; j < 4; j++ {
		ev := newEvent(t, "p")
		ids = append(ids, ev.ClientID)
		if _, err := s.Insert(ctx, "u1", ev); err != nil {
			t.Fatalf("Insert: %v", err)
		}
	}
	if _, err := s.Insert(ctx, "u2", newEvent(t, "other")); err != nil {
		t.Fatalf("Insert u2: %v", err)
	}

	page, err := s.Since(ctx, "u1", remote.Position{}, 10)
	if err != nil {
		t.Fatalf("Since: %v", err)
	}
	if len(page.Rows) != 4 {
		t.Fatalf("got %d rows, want 4", len(page.Rows))
	}
	wantOrder := []int64{2, 3, 4, 1}
	for k, r := range page.Rows {
		if r.ID != wantOrder[k] {
			t.Errorf("row %d: got id %d, want %d", k, r.ID, wantOrder[k])
		}
		if r.UserID != "u1" {
			t.Errorf("row %d leaked user %s", k, r.UserID)
		}
	}
	if page.Rows[0].Event.ClientID != ids[1] {
		t.Errorf("event not round-tripped: %s", page.Rows[0].Event.ClientID)
	}

	// Resume strictly after the second row, which shares created_at with the first.
	pos := remote.Position{After: page.Rows[0].CreatedAt, AfterID: page.Rows[0].ID}
	page, err = s.Since(ctx, "u1", pos, 2)
	if err != nil {
		t.Fatalf("Since: %v", err)
	}
	if len(page.Rows) != 2 || page.Rows[0].ID != 3 || !page.HasMore {
		t.Fatalf("resume page: got %+v", page)
	}
}

func TestInsert_PublishesToSubscribers(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	sub, err := s.Subscribe(ctx, "u1")
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer sub.Close()

	ev := newEvent(t, "p1")
	if _, err := s.Insert(ctx, "u1", ev); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	select {
	case row := <-sub.Rows():
		if row.Event.ClientID != ev.ClientID {
			t.Errorf("got %s, want %s", row.Event.ClientID, ev.ClientID)
		}
	case <-time.After(time.Second):
		t.Fatal("no realtime row")
	}
}

func TestOpen_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "server", "events.db")
	s, err := Open(path, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()
	if err := s.Ping(context.Background()); err != nil {
		t.Fatalf("Ping: %v", err)
	}
}
