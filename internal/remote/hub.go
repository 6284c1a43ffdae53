package remote

import (
	"fmt"
	"sync"
)

// DefaultBufferSize is the per-subscription channel size.
const DefaultBufferSize = 256

// Hub fans committed rows out to per-user subscriptions. A subscriber
// whose buffer is full misses the row; it will see it on its next pull.
type Hub struct {
	bufferSize int

	mu     sync.RWMutex
	subs   map[string]*HubSubscription
	nextID uint64
}

// NewHub creates a hub. bufferSize <= 0 uses DefaultBufferSize.
func NewHub(bufferSize int) *Hub {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	return &Hub{bufferSize: bufferSize, subs: make(map[string]*HubSubscription)}
}

// HubSubscription is a Subscription served by a Hub.
type HubSubscription struct {
	ID     string
	UserID string

	hub    *Hub
	ch     chan Row
	mu     sync.Mutex
	closed bool
	err    error
}

func (s *HubSubscription) Rows() <-chan Row { return s.ch }

func (s *HubSubscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close unregisters the subscription and closes its channel.
func (s *HubSubscription) Close() error {
	s.hub.unsubscribe(s.ID)
	return nil
}

func (s *HubSubscription) shutdown(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.err = err
	close(s.ch)
}

// Subscribe registers a subscription for userID's rows.
func (h *Hub) Subscribe(userID string) *HubSubscription {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.nextID++
	sub := &HubSubscription{
		ID:     fmt.Sprintf("sub-%d", h.nextID),
		UserID: userID,
		hub:    h,
		ch:     make(chan Row, h.bufferSize),
	}
	h.subs[sub.ID] = sub
	return sub
}

func (h *Hub) unsubscribe(id string) {
	h.mu.Lock()
	sub, ok := h.subs[id]
	if ok {
		delete(h.subs, id)
	}
	h.mu.Unlock()

	if ok {
		sub.shutdown(ErrClosed)
	}
}

// Publish delivers row to every subscription of row.UserID without
// blocking.
func (h *Hub) Publish(row Row) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, sub := range h.subs {
		if sub.UserID != row.UserID {
			continue
		}
		sub.mu.Lock()
		if !sub.closed {
			select {
			case sub.ch <- row:
			default:
			}
		}
		sub.mu.Unlock()
	}
}

// Disconnect ends every subscription of userID with err, as a dropped
// connection would.
func (h *Hub) Disconnect(userID string, err error) {
	h.mu.Lock()
	var dropped []*HubSubscription
	for id, sub := range h.subs {
		if sub.UserID == userID {
			delete(h.subs, id)
			dropped = append(dropped, sub)
		}
	}
	h.mu.Unlock()

	for _, sub := range dropped {
		sub.shutdown(err)
	}
}

// Count returns the number of active subscriptions.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// CountFor returns the number of active subscriptions for userID.
func (h *Hub) CountFor(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, sub := range h.subs {
		if sub.UserID == userID {
			n++
		}
	}
	return n
}
