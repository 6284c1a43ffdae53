package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/marcus/sprout/internal/auth"
	"github.com/marcus/sprout/internal/event"
	"github.com/marcus/sprout/internal/remote"
)

const testSecret = "test-secret"

type testHarness struct {
	srv    *Server
	store  *remote.Memory
	signer *auth.Signer
}

func newTestHarness(t *testing.T, opts ...func(*Config)) *testHarness {
	t.Helper()
	return newTestHarnessWithStore(t, remote.NewMemory(nil), opts...)
}

func newTestHarnessWithStore(t *testing.T, store *remote.Memory, opts ...func(*Config)) *testHarness {
	t.Helper()
	cfg := Config{
		ListenAddr:       "127.0.0.1:0",
		PullLimitDefault: 100,
		PullLimitMax:     100,
		RateLimitPush:    100000,
		RateLimitPull:    100000,
		RateLimitOther:   100000,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	signer, err := auth.NewSigner(testSecret)
	if err != nil {
		t.Fatalf("NewSigner: %v", err)
	}
	srv, err := NewServer(cfg, store, signer)
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	t.Cleanup(func() { srv.cancel(); srv.rateLimiter.Stop() })
	return &testHarness{srv: srv, store: store, signer: signer}
}

func (h *testHarness) token(t *testing.T, user, device string) string {
	t.Helper()
	tok, err := h.signer.Issue(user, device, time.Hour)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	return tok
}

func (h *testHarness) plantEvent(t *testing.T, id string) event.Event {
	t.Helper()
	ev, err := event.New(time.Now(), event.Plant{PlantID: id, PlotID: "bed", Species: "basil", Cost: 1})
	if err != nil {
		t.Fatalf("event.New: %v", err)
	}
	return ev
}

func (h *testHarness) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if raw, ok := body.(string); ok {
			buf.WriteString(raw)
		} else if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	h.srv.Handler().ServeHTTP(w, req)
	return w
}

func (h *testHarness) push(t *testing.T, token string, ev event.Event) *httptest.ResponseRecorder {
	t.Helper()
	return h.do(t, "POST", "/v1/events", token, PushRequest{Event: ev})
}

func decodeErrorCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var resp ErrorResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode error body: %v (%s)", err, w.Body.String())
	}
	return resp.Error.Code
}

func decodePage(t *testing.T, w *httptest.ResponseRecorder) remote.Page {
	t.Helper()
	if w.Code != http.StatusOK {
		t.Fatalf("pull: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var page remote.Page
	if err := json.NewDecoder(w.Body).Decode(&page); err != nil {
		t.Fatalf("decode page: %v", err)
	}
	return page
}
