package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/marcus/sprout/internal/remote"
)

type pingStore struct {
	*remote.Memory
	err error
}

func (p pingStore) Ping(context.Context) error { return p.err }

func TestHealth(t *testing.T) {
	h := newTestHarness(t)
	if w := h.do(t, "GET", "/healthz", "", nil); w.Code != http.StatusOK {
		t.Fatalf("healthz: expected 200, got %d", w.Code)
	}

	signer := h.signer
	srv, err := NewServer(Config{}, pingStore{Memory: remote.NewMemory(nil), err: errors.New("down")}, signer)
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	defer srv.Shutdown(context.Background())
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, httptest.NewRequest("GET", "/healthz", nil))
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("healthz with failing store: expected 503, got %d", w.Code)
	}
}

func TestNewServer_RequiresStoreAndSigner(t *testing.T) {
	h := newTestHarness(t)
	if _, err := NewServer(Config{}, nil, h.signer); err == nil {
		t.Fatal("expected error for nil store")
	}
	if _, err := NewServer(Config{}, remote.NewMemory(nil), nil); err == nil {
		t.Fatal("expected error for nil signer")
	}
}

func TestPush_RequiresValidToken(t *testing.T) {
	h := newTestHarness(t)
	ev := h.plantEvent(t, "p1")

	w := h.do(t, "POST", "/v1/events", "", PushRequest{Event: ev})
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("no token: expected 401, got %d", w.Code)
	}
	w = h.push(t, "garbage", ev)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("bad token: expected 401, got %d", w.Code)
	}
	if code := decodeErrorCode(t, w); code != ErrCodeUnauthorized {
		t.Fatalf("error code: got %q", code)
	}
	if h.store.Inserts() != 0 {
		t.Fatal("unauthenticated push reached the store")
	}
}

func TestPush_CreatedThenDuplicate(t *testing.T) {
	h := newTestHarness(t)
	tok := h.token(t, "alice", "phone")
	ev := h.plantEvent(t, "p1")

	w := h.push(t, tok, ev)
	if w.Code != http.StatusCreated {
		t.Fatalf("push: expected 201, got %d: %s", w.Code, w.Body.String())
	}
	var row remote.Row
	if err := json.NewDecoder(w.Body).Decode(&row); err != nil {
		t.Fatalf("decode row: %v", err)
	}
	if row.ID == 0 || row.UserID != "alice" || row.Event.ClientID != ev.ClientID {
		t.Fatalf("unexpected row: %+v", row)
	}

	// Another device of the same user retrying the same event.
	w = h.push(t, h.token(t, "alice", "laptop"), ev)
	if w.Code != http.StatusConflict {
		t.Fatalf("duplicate: expected 409, got %d", w.Code)
	}
	if code := decodeErrorCode(t, w); code != ErrCodeDuplicate {
		t.Fatalf("duplicate code: got %q", code)
	}

	snap := h.srv.Metrics().Snapshot()
	if snap.EventsInserted != 1 || snap.DuplicatePushes != 1 {
		t.Fatalf("metrics: %+v", snap)
	}
}

func TestPush_BadBodies(t *testing.T) {
	h := newTestHarness(t)
	tok := h.token(t, "alice", "phone")

	for name, body := range map[string]string{
		"not json":      `{"event":`,
		"missing event": `{}`,
		"no identity":   `{"event":{"type":"water","plant_id":"p1"}}`,
	} {
		t.Run(name, func(t *testing.T) {
			w := h.do(t, "POST", "/v1/events", tok, body)
			if w.Code != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d: %s", w.Code, w.Body.String())
			}
		})
	}
}

func TestPush_UntypedEventIsStored(t *testing.T) {
	h := newTestHarness(t)
	tok := h.token(t, "alice", "phone")

	w := h.do(t, "POST", "/v1/events", tok, `{"event":{"client_id":"1-abc","timestamp":"2025-03-10T12:00:00Z","plant_id":"x"}}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	rows := h.store.Rows("alice")
	if len(rows) != 1 || rows[0].Event.ClientID != "1-abc" || rows[0].Event.Kind != "" {
		t.Fatalf("rows: %+v", rows)
	}
}

func TestPush_OversizedBodyIs413(t *testing.T) {
	h := newTestHarness(t)
	tok := h.token(t, "alice", "phone")

	note := strings.Repeat("x", 2<<20)
	body := `{"event":{"type":"edit","client_id":"1-big","timestamp":"2025-03-10T12:00:00Z","plant_id":"p1","note":"` + note + `"}}`
	w := h.do(t, "POST", "/v1/events", tok, body)
	if w.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413, got %d", w.Code)
	}
	if code := decodeErrorCode(t, w); code != ErrCodeTooLarge {
		t.Fatalf("error code: got %q", code)
	}
}

func TestPush_StoreFailureIs500(t *testing.T) {
	h := newTestHarness(t)
	h.store.FailInserts(errors.New("disk on fire"))

	w := h.push(t, h.token(t, "alice", "phone"), h.plantEvent(t, "p1"))
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", w.Code)
	}
	if h.srv.Metrics().Snapshot().ServerErrors != 1 {
		t.Fatal("server error not counted")
	}
}

func TestPush_UnknownKindPreserved(t *testing.T) {
	h := newTestHarness(t)
	tok := h.token(t, "alice", "phone")

	body := `{"event":{"type":"prune","timestamp":"2025-03-10T10:00:00Z","client_id":"c-1","plant_id":"p1","depth":3}}`
	if w := h.do(t, "POST", "/v1/events", tok, body); w.Code != http.StatusCreated {
		t.Fatalf("push: expected 201, got %d: %s", w.Code, w.Body.String())
	}

	page := decodePage(t, h.do(t, "GET", "/v1/events", tok, nil))
	if len(page.Rows) != 1 {
		t.Fatalf("expected 1 row, got %d", len(page.Rows))
	}
	got := page.Rows[0].Event
	if got.Kind != "prune" || !strings.Contains(string(got.Body), `"depth":3`) {
		t.Fatalf("unknown event not preserved: %+v %s", got, got.Body)
	}
}

func TestPull_IsolatesUsersAndPages(t *testing.T) {
	h := newTestHarness(t)
	alice := h.token(t, "alice", "phone")
	bob := h.token(t, "bob", "tablet")

	for _, id := range []string{"a1", "a2", "a3"} {
		if w := h.push(t, alice, h.plantEvent(t, id)); w.Code != http.StatusCreated {
			t.Fatalf("push %s: %d", id, w.Code)
		}
	}
	if w := h.push(t, bob, h.plantEvent(t, "b1")); w.Code != http.StatusCreated {
		t.Fatalf("push b1: %d", w.Code)
	}

	page := decodePage(t, h.do(t, "GET", "/v1/events?limit=2", alice, nil))
	if len(page.Rows) != 2 || !page.HasMore {
		t.Fatalf("first page: %d rows, has_more=%v", len(page.Rows), page.HasMore)
	}
	last := page.Rows[1]

	q := url.Values{}
	q.Set("after", last.CreatedAt.Format(time.RFC3339Nano))
	q.Set("limit", "2")
	q.Set("after_id", strconv.FormatInt(last.ID, 10))
	page = decodePage(t, h.do(t, "GET", "/v1/events?"+q.Encode(), alice, nil))
	if len(page.Rows) != 1 || page.HasMore {
		t.Fatalf("second page: %d rows, has_more=%v", len(page.Rows), page.HasMore)
	}
	for _, r := range page.Rows {
		if r.UserID != "alice" {
			t.Fatalf("row leaked across users: %+v", r)
		}
	}

	page = decodePage(t, h.do(t, "GET", "/v1/events", bob, nil))
	if len(page.Rows) != 1 || page.Rows[0].UserID != "bob" {
		t.Fatalf("bob's rows: %+v", page.Rows)
	}
}

func TestPull_EmptyIsArray(t *testing.T) {
	h := newTestHarness(t)
	w := h.do(t, "GET", "/v1/events", h.token(t, "alice", "phone"), nil)
	if !strings.Contains(w.Body.String(), `"rows":[]`) {
		t.Fatalf("expected empty rows array, got %s", w.Body.String())
	}
}

func TestPull_BadQuery(t *testing.T) {
	h := newTestHarness(t)
	tok := h.token(t, "alice", "phone")
	for _, q := range []string{"after=yesterday", "after_id=-1", "after_id=x", "limit=0", "limit=lots"} {
		if w := h.do(t, "GET", "/v1/events?"+q, tok, nil); w.Code != http.StatusBadRequest {
			t.Errorf("%s: expected 400, got %d", q, w.Code)
		}
	}
}

func TestPull_LimitCapped(t *testing.T) {
	h := newTestHarness(t, func(cfg *Config) { cfg.PullLimitMax = 2; cfg.PullLimitDefault = 2 })
	tok := h.token(t, "alice", "phone")
	for _, id := range []string{"a1", "a2", "a3"} {
		h.push(t, tok, h.plantEvent(t, id))
	}
	page := decodePage(t, h.do(t, "GET", "/v1/events?limit=50", tok, nil))
	if len(page.Rows) != 2 || !page.HasMore {
		t.Fatalf("expected capped page of 2 with more, got %d/%v", len(page.Rows), page.HasMore)
	}
}

func TestStream_DeliversRowsAndClosesOnShutdown(t *testing.T) {
	h := newTestHarness(t)
	ts := httptest.NewServer(h.srv.Handler())
	defer ts.Close()

	header := http.Header{}
	header.Set("Authorization", "Bearer "+h.token(t, "alice", "phone"))
	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/v1/events/stream"
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, header)
	if err != nil {
		t.Fatalf("dial: %v (resp %v)", err, resp)
	}
	defer conn.Close()

	// Bob's row must not reach alice's stream.
	if _, err := h.store.Insert(context.Background(), "bob", h.plantEvent(t, "b1")); err != nil {
		t.Fatalf("insert bob: %v", err)
	}
	ev := h.plantEvent(t, "a1")
	if _, err := h.store.Insert(context.Background(), "alice", ev); err != nil {
		t.Fatalf("insert alice: %v", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var msg StreamMessage
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read: %v", err)
	}
	if msg.Type != "row" || msg.Row == nil || msg.Row.Event.ClientID != ev.ClientID {
		t.Fatalf("unexpected message: %+v", msg)
	}

	if err := h.srv.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	_, _, err = conn.ReadMessage()
	if !websocket.IsCloseError(err, websocket.CloseGoingAway) {
		t.Fatalf("expected going-away close, got %v", err)
	}
}

func TestStream_AcceptsQueryToken(t *testing.T) {
	h := newTestHarness(t)
	ts := httptest.NewServer(h.srv.Handler())
	defer ts.Close()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/v1/events/stream?access_token=" + h.token(t, "alice", "phone")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	conn.Close()

	_, resp, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/v1/events/stream", nil)
	if err == nil {
		t.Fatal("expected unauthenticated dial to fail")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 response, got %v", resp)
	}
}
