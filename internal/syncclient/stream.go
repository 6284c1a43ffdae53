package syncclient

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/marcus/sprout/internal/remote"
)

const streamBuffer = 64

// stream adapts a websocket connection to remote.Subscription.
type stream struct {
	conn *websocket.Conn
	rows chan remote.Row
	done chan struct{}

	mu     sync.Mutex
	err    error
	closed bool
}

func newStream(conn *websocket.Conn) *stream {
	s := &stream{conn: conn, rows: make(chan remote.Row, streamBuffer), done: make(chan struct{})}
	go s.readLoop()
	return s
}

func (s *stream) Rows() <-chan remote.Row { return s.rows }

func (s *stream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close ends the stream. Rows is closed once the read loop exits.
func (s *stream) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.done)
	s.mu.Unlock()

	_ = s.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	return s.conn.Close()
}

func (s *stream) readLoop() {
	defer close(s.rows)
	for {
		var msg streamMessage
		if err := s.conn.ReadJSON(&msg); err != nil {
			s.finish(err)
			return
		}
		switch msg.Type {
		case "row":
			if msg.Row == nil {
				continue
			}
			select {
			case s.rows <- *msg.Row:
			case <-s.done:
				return
			}
		case "error":
			s.finish(fmt.Errorf("%w: %s", remote.ErrClosed, msg.Error))
			_ = s.conn.Close()
			return
		}
	}
}

func (s *stream) finish(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return
	}
	if s.closed || websocket.IsCloseError(err, websocket.CloseNormalClosure) {
		s.err = nil
		return
	}
	if !errors.Is(err, remote.ErrClosed) {
		err = fmt.Errorf("%w: %w", remote.ErrClosed, err)
	}
	s.err = err
}
