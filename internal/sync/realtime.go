package sync

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/marcus/sprout/internal/event"
	"github.com/marcus/sprout/internal/remote"
)

// realtime is one subscription loop. Its lifetime is independent of the
// context that started it and ends on Unsubscribe or Close.
type realtime struct {
	cancel    context.CancelFunc
	done      chan struct{}
	connected atomic.Bool
}

func (rt *realtime) stop() {
	rt.cancel()
	<-rt.done
}

// Subscribe (re)opens the realtime channel for this device session. Any
// existing channel is torn down first. The first connection attempt is
// made with ctx and its error returned; the loop keeps reconnecting with
// backoff in the background either way.
func (c *Coordinator) Subscribe(ctx context.Context) error {
	c.subMu.Lock()
	defer c.subMu.Unlock()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	old := c.sub
	c.sub = nil
	c.mu.Unlock()
	if old != nil {
		old.stop()
	}

	sub, err := c.remote.Subscribe(ctx, c.opts.UserID)
	if err != nil {
		err = fmt.Errorf("subscribe: %w", err)
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	rt := &realtime{cancel: cancel, done: make(chan struct{})}
	if sub != nil {
		rt.connected.Store(true)
	}
	c.mu.Lock()
	c.sub = rt
	c.mu.Unlock()

	go c.runRealtime(loopCtx, rt, sub)
	return err
}

// Unsubscribe tears down the realtime channel, if any, and waits for its
// loop to exit.
func (c *Coordinator) Unsubscribe() {
	c.subMu.Lock()
	defer c.subMu.Unlock()

	c.mu.Lock()
	old := c.sub
	c.sub = nil
	c.mu.Unlock()
	if old != nil {
		old.stop()
	}
}

// Subscribed reports whether a realtime channel is currently connected.
func (c *Coordinator) Subscribed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sub != nil && c.sub.connected.Load()
}

func (c *Coordinator) runRealtime(ctx context.Context, rt *realtime, sub remote.Subscription) {
	defer close(rt.done)

	attempt := 0
	for {
		if sub != nil {
			rt.connected.Store(true)
			attempt = 0
			err := c.consume(ctx, sub)
			rt.connected.Store(false)
			sub.Close()
			if ctx.Err() != nil {
				return
			}
			c.logger.Warn("realtime channel dropped", "err", err)
			sub = nil
		}

		attempt++
		c.mu.Lock()
		policy := c.policy
		c.mu.Unlock()
		if !policy.ShouldRetry(attempt, nil) {
			c.logger.Warn("realtime reconnect gave up", "attempts", attempt)
			return
		}
		if err := c.opts.Sleep(ctx, policy.NextDelay(attempt)); err != nil {
			return
		}

		s, err := c.remote.Subscribe(ctx, c.opts.UserID)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.logger.Debug("realtime reconnect failed", "attempt", attempt, "err", err)
			continue
		}
		sub = s
		rt.connected.Store(true)
		// Rows committed while disconnected only arrive through a pull.
		if _, err := c.Pull(ctx); err != nil && ctx.Err() == nil {
			c.logger.Warn("catch-up pull after reconnect", "err", err)
		}
	}
}

// consume appends delivered rows until the subscription ends or ctx is done.
// Realtime rows never move the cursor: a row dropped by a full buffer must
// still be picked up by the next pull.
func (c *Coordinator) consume(ctx context.Context, sub remote.Subscription) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case row, ok := <-sub.Rows():
			if !ok {
				if err := sub.Err(); err != nil {
					return err
				}
				return remote.ErrClosed
			}
			if c.log.Append(row.Event) {
				c.logger.Debug("realtime row", "id", row.ID, "key", event.DedupKey(row.Event))
			}
			c.confirm([]event.Event{row.Event})
		}
	}
}

