package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"

	"github.com/marcus/sprout/internal/event"
	"github.com/marcus/sprout/internal/remote"
)

const (
	streamPingInterval = 30 * time.Second
	streamWriteTimeout = 10 * time.Second
)

// PushRequest is the JSON body for POST /v1/events.
type PushRequest struct {
	Event event.Event `json:"event"`
}

// StreamMessage is one websocket frame on /v1/events/stream.
type StreamMessage struct {
	Type  string      `json:"type"` // "row" or "error"
	Row   *remote.Row `json:"row,omitempty"`
	Error string      `json:"error,omitempty"`
}

// handlePush handles POST /v1/events.
func (s *Server) handlePush(w http.ResponseWriter, r *http.Request) {
	user := getUserFromContext(r.Context())

	var req PushRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			writeError(w, http.StatusRequestEntityTooLarge, ErrCodeTooLarge, "event is too large")
			return
		}
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, "invalid json body")
		return
	}
	if req.Event.ClientID == "" && req.Event.Timestamp.IsZero() {
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, "event needs a client_id or a timestamp")
		return
	}

	row, err := s.store.Insert(r.Context(), user.UserID, req.Event)
	if errors.Is(err, remote.ErrDuplicate) {
		s.metrics.RecordDuplicate()
		writeError(w, http.StatusConflict, ErrCodeDuplicate, "event already stored")
		return
	}
	if err != nil {
		logFor(r.Context()).Error("insert event", "err", err, "key", event.DedupKey(req.Event))
		writeError(w, http.StatusInternalServerError, ErrCodeInternal, "failed to store event")
		return
	}
	s.metrics.RecordInsert()
	writeJSON(w, http.StatusCreated, row)
}

// handlePull handles GET /v1/events?after=&after_id=&limit=.
func (s *Server) handlePull(w http.ResponseWriter, r *http.Request) {
	user := getUserFromContext(r.Context())
	q := r.URL.Query()

	var pos remote.Position
	if v := q.Get("after"); v != "" {
		t, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, ErrCodeBadRequest, "after must be RFC3339")
			return
		}
		pos.After = t
	}
	if v := q.Get("after_id"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil || id < 0 {
			writeError(w, http.StatusBadRequest, ErrCodeBadRequest, "after_id must be a non-negative integer")
			return
		}
		pos.AfterID = id
	}
	limit := s.config.PullLimitDefault
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, ErrCodeBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, s.config.PullLimitMax)
	}

	page, err := s.store.Since(r.Context(), user.UserID, pos, limit)
	if err != nil {
		logFor(r.Context()).Error("pull events", "err", err)
		writeError(w, http.StatusInternalServerError, ErrCodeInternal, "failed to read events")
		return
	}
	if page.Rows == nil {
		page.Rows = []remote.Row{}
	}
	s.metrics.RecordPull(len(page.Rows))
	writeJSON(w, http.StatusOK, page)
}

// handleStream handles GET /v1/events/stream. Each row committed for the
// user after the upgrade is sent as one StreamMessage.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	user := getUserFromContext(r.Context())
	log := logFor(r.Context())

	sub, err := s.store.Subscribe(r.Context(), user.UserID)
	if err != nil {
		log.Error("subscribe", "err", err)
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "realtime unavailable")
		return
	}
	defer sub.Close()

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn("websocket upgrade", "err", err)
		return
	}
	defer conn.Close()
	done := s.metrics.StreamOpened()
	defer done()

	// The client never sends data frames; reading surfaces close and pong frames.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(2 * streamPingInterval))
		})
		_ = conn.SetReadDeadline(time.Now().Add(2 * streamPingInterval))
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(streamPingInterval)
	defer ping.Stop()

	for {
		select {
		case <-s.ctx.Done():
			s.closeStream(conn, websocket.CloseGoingAway, "server shutting down")
			return
		case <-gone:
			return
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(streamWriteTimeout)); err != nil {
				return
			}
		case row, ok := <-sub.Rows():
			if !ok {
				msg := "subscription closed"
				if err := sub.Err(); err != nil {
					msg = err.Error()
				}
				_ = s.writeStream(conn, StreamMessage{Type: "error", Error: msg})
				s.closeStream(conn, websocket.CloseTryAgainLater, msg)
				return
			}
			if err := s.writeStream(conn, StreamMessage{Type: "row", Row: &row}); err != nil {
				log.Debug("stream write", "err", err)
				return
			}
			s.metrics.RecordStreamed()
		}
	}
}

func (s *Server) writeStream(conn *websocket.Conn, msg StreamMessage) error {
	_ = conn.SetWriteDeadline(time.Now().Add(streamWriteTimeout))
	return conn.WriteJSON(msg)
}

func (s *Server) closeStream(conn *websocket.Conn, code int, text string) {
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, text), time.Now().Add(time.Second))
}
