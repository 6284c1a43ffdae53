// Package syncclient talks to a sprout-sync server over HTTP and a
// websocket, implementing remote.Store for the sync coordinator.
package syncclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/marcus/sprout/internal/event"
	"github.com/marcus/sprout/internal/remote"
)

// Sentinel errors for common HTTP error classes.
var (
	ErrUnauthorized = errors.New("unauthorized")
	ErrRateLimited  = errors.New("rate limited")
	ErrNotFound     = errors.New("not found")
)

// Client is an HTTP client for the sprout-sync server. The user id passed
// to the remote.Store methods is ignored: the server takes it from the token.
type Client struct {
	BaseURL string
	Token   string
	HTTP    *http.Client
	Dialer  *websocket.Dialer
}

var _ remote.Store = (*Client)(nil)

// New creates a new sync client.
func New(baseURL, token string) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Token:   token,
		HTTP:    &http.Client{Timeout: 30 * time.Second},
		Dialer:  &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
	}
}

// --- Wire types (mirror internal/api, independently defined) ---

type pushRequest struct {
	Event event.Event `json:"event"`
}

type streamMessage struct {
	Type  string      `json:"type"`
	Row   *remote.Row `json:"row,omitempty"`
	Error string      `json:"error,omitempty"`
}

// HealthResponse is the response from GET /healthz.
type HealthResponse struct {
	Status string `json:"status"`
	Detail string `json:"detail,omitempty"`
}

// HealthCheck calls GET /healthz.
func (c *Client) HealthCheck(ctx context.Context) (*HealthResponse, error) {
	var resp HealthResponse
	if err := c.doRequest(ctx, "GET", "/healthz", nil, &resp, false); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Insert pushes one event. A 409 from the server wraps remote.ErrDuplicate.
func (c *Client) Insert(ctx context.Context, _ string, ev event.Event) (remote.Row, error) {
	var row remote.Row
	if err := c.do(ctx, "POST", "/v1/events", pushRequest{Event: ev}, &row); err != nil {
		return remote.Row{}, fmt.Errorf("push %s: %w", event.DedupKey(ev), err)
	}
	return row, nil
}

// Since pulls one page of rows after pos.
func (c *Client) Since(ctx context.Context, _ string, pos remote.Position, limit int) (remote.Page, error) {
	q := url.Values{}
	if !pos.After.IsZero() {
		q.Set("after", pos.After.UTC().Format(time.RFC3339Nano))
	}
	if pos.AfterID > 0 {
		q.Set("after_id", strconv.FormatInt(pos.AfterID, 10))
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	path := "/v1/events"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var page remote.Page
	if err := c.do(ctx, "GET", path, nil, &page); err != nil {
		return remote.Page{}, fmt.Errorf("pull: %w", err)
	}
	return page, nil
}

// Subscribe opens the realtime websocket stream.
func (c *Client) Subscribe(ctx context.Context, _ string) (remote.Subscription, error) {
	u, err := url.Parse(c.BaseURL + "/v1/events/stream")
	if err != nil {
		return nil, fmt.Errorf("stream url: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}

	header := http.Header{}
	if c.Token != "" {
		header.Set("Authorization", "Bearer "+c.Token)
	}
	dialer := c.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	conn, resp, err := dialer.DialContext(ctx, u.String(), header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("subscribe: %w", statusError(resp.StatusCode, nil))
		}
		return nil, fmt.Errorf("subscribe: %w", err)
	}
	return newStream(conn), nil
}

// --- HTTP helpers ---

// apiError is the standard error body from the server.
type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *apiError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return e.Code
}

// do executes an authenticated HTTP request.
func (c *Client) do(ctx context.Context, method, path string, body, result any) error {
	return c.doRequest(ctx, method, path, body, result, true)
}

func (c *Client) doRequest(ctx context.Context, method, path string, body, result any, auth bool) error {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if auth && c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		return statusError(resp.StatusCode, respBody)
	}

	if result != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("unmarshal response: %w", err)
		}
	}
	return nil
}

// permanent reports whether a 4xx means the request itself is bad, as
// opposed to credentials, throttling or timing.
func permanent(status int) bool {
	switch status {
	case http.StatusBadRequest, http.StatusRequestEntityTooLarge, http.StatusUnprocessableEntity:
		return true
	}
	return false
}

func statusError(status int, body []byte) error {
	var envelope struct {
		Error apiError `json:"error"`
	}
	apiErr := &apiError{Code: http.StatusText(status)}
	if json.Unmarshal(body, &envelope) == nil && envelope.Error.Code != "" {
		apiErr = &envelope.Error
	}

	switch {
	case status == http.StatusConflict && apiErr.Code == "duplicate":
		return fmt.Errorf("%w: %s", remote.ErrDuplicate, apiErr.Message)
	case status == http.StatusUnauthorized:
		return fmt.Errorf("%w: %s", ErrUnauthorized, apiErr.Message)
	case status == http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s", ErrRateLimited, apiErr.Message)
	case status == http.StatusNotFound:
		return fmt.Errorf("%w: %s", ErrNotFound, apiErr.Message)
	case permanent(status):
		return fmt.Errorf("%w: HTTP %d: %s", remote.ErrRejected, status, apiErr)
	}
	if len(body) > 0 && envelope.Error.Code == "" {
		return fmt.Errorf("HTTP %d: %s", status, strings.TrimSpace(string(body)))
	}
	return fmt.Errorf("HTTP %d: %w", status, apiErr)
}
