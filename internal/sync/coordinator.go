// Package sync moves events between a device's local log and the shared
// remote store: optimistic pushes with a durable pending set, cursor based
// pulls, and a realtime subscription that reconnects with backoff.
package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	gosync "sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/marcus/sprout/internal/event"
	"github.com/marcus/sprout/internal/remote"
	"github.com/marcus/sprout/internal/retry"
)

// Coordinator runs sync for one device session. It is safe for concurrent use.
type Coordinator struct {
	log    Log
	local  LocalStore
	remote remote.Store
	opts   Options
	logger *slog.Logger
	policy retry.Policy

	cycles singleflight.Group
	pullMu gosync.Mutex
	subMu  gosync.Mutex

	// bg scopes background uploads; Close cancels it and waits.
	bg      context.Context
	stopBG  context.CancelFunc
	uploads gosync.WaitGroup

	mu     gosync.Mutex
	state  State
	last   Result
	sub    *realtime
	closed bool
}

// New returns a Coordinator. logger may be nil.
func New(log Log, local LocalStore, store remote.Store, opts Options, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	opts = opts.withDefaults()
	if opts.Sleep == nil {
		opts.Sleep = retry.Sleep
	}
	bg, stop := context.WithCancel(context.Background())
	return &Coordinator{
		log:    log,
		local:  local,
		remote: store,
		opts:   opts,
		logger: logger.With("device", opts.DeviceID),
		policy: retry.Reconnect(),
		bg:     bg,
		stopBG: stop,
	}
}

// SetReconnectPolicy replaces the realtime reconnect backoff.
func (c *Coordinator) SetReconnectPolicy(p retry.Policy) {
	c.mu.Lock()
	c.policy = p
	c.mu.Unlock()
}

// State returns the current cycle state.
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// LastResult returns the result of the most recent finished cycle.
func (c *Coordinator) LastResult() Result {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.last
}

// Push appends ev to the local log, then tries to store it remotely. The
// event is in the pending set before the remote attempt and leaves it only
// when the remote confirms it, either by storing it or by reporting it as
// a duplicate. Network failures are never returned: Push reports whether
// the event is confirmed remotely.
func (c *Coordinator) Push(ctx context.Context, ev event.Event) bool {
	key := c.enqueue(ev)
	return c.pushOne(ctx, key, ev) == nil
}

func (c *Coordinator) enqueue(ev event.Event) string {
	c.log.Append(ev)
	key := event.DedupKey(ev)
	if err := c.local.AddPending(key); err != nil {
		// A full pull re-queues anything missing remotely.
		c.logger.Warn("record pending upload", "key", key, "err", err)
	}
	return key
}

// Upload is a push running in the background.
type Upload struct {
	done      chan struct{}
	confirmed bool
}

// Done is closed when the push attempt has finished.
func (u *Upload) Done() <-chan struct{} { return u.done }

// Wait blocks until the push finishes or ctx ends and reports whether the
// remote acknowledged the event.
func (u *Upload) Wait(ctx context.Context) bool {
	select {
	case <-u.done:
		return u.confirmed
	case <-ctx.Done():
		return false
	}
}

// PushAsync appends ev and adds it to the pending set like Push, then
// pushes it in the background and returns at once. Close cancels uploads
// still in flight; their events stay pending.
func (c *Coordinator) PushAsync(ev event.Event) *Upload {
	key := c.enqueue(ev)
	u := &Upload{done: make(chan struct{})}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		close(u.done)
		return u
	}
	c.uploads.Add(1)
	c.mu.Unlock()

	go func() {
		defer c.uploads.Done()
		defer close(u.done)
		u.confirmed = c.pushOne(c.bg, key, ev) == nil
	}()
	return u
}

func (c *Coordinator) pushOne(ctx context.Context, key string, ev event.Event) error {
	pctx, cancel := context.WithTimeout(ctx, c.opts.PushTimeout)
	defer cancel()

	_, err := c.remote.Insert(pctx, c.opts.UserID, ev)
	if err == nil || errors.Is(err, remote.ErrDuplicate) {
		if rerr := c.local.RemovePending(key); rerr != nil {
			c.logger.Warn("clear pending upload", "key", key, "err", rerr)
		}
		return nil
	}
	if errors.Is(err, remote.ErrRejected) {
		if perr := c.local.ParkPending(key, err); perr != nil {
			c.logger.Warn("park rejected upload", "key", key, "err", perr)
		}
		c.logger.Warn("remote rejected event, not retrying", "key", key, "err", err)
		return err
	}

	if rerr := c.local.RecordAttempt(key, err); rerr != nil {
		c.logger.Debug("record push attempt", "key", key, "err", rerr)
	}
	c.logger.Debug("push deferred", "key", key, "err", err)
	return err
}

// RetryPending re-pushes every pending event. Confirmed events leave the
// pending set; failed ones stay. Events the remote rejects are parked and
// do not count as failures. It returns how many were confirmed and the
// first failure, if any.
func (c *Coordinator) RetryPending(ctx context.Context) (int, error) {
	keys, err := c.local.PendingIDs()
	if err != nil {
		return 0, fmt.Errorf("list pending: %w", err)
	}
	if len(keys) == 0 {
		return 0, nil
	}

	var pushed atomic.Int64
	var firstErr error
	var errOnce gosync.Once

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.opts.RetryConcurrency)
	for _, key := range keys {
		ev, ok := c.log.Get(key)
		if !ok {
			c.logger.Warn("pending upload missing from log", "key", key)
			_ = c.local.RemovePending(key)
			continue
		}
		g.Go(func() error {
			if gctx.Err() != nil {
				return nil
			}
			if err := c.pushOne(gctx, key, ev); err != nil {
				if !errors.Is(err, remote.ErrRejected) {
					errOnce.Do(func() { firstErr = err })
				}
				return nil
			}
			pushed.Add(1)
			return nil
		})
	}
	_ = g.Wait()

	if firstErr != nil {
		return int(pushed.Load()), fmt.Errorf("retry pending: %w", firstErr)
	}
	return int(pushed.Load()), ctx.Err()
}

// cursorValid reports whether an incremental pull can start from the
// stored cursor.
func (c *Coordinator) cursorValid() (remote.Position, bool) {
	cur, err := c.local.GetCursor()
	if err != nil {
		c.logger.Warn("read sync cursor", "err", err)
		return remote.Position{}, false
	}
	if cur == nil || cur.CreatedAt.IsZero() {
		return remote.Position{}, false
	}
	if cur.CreatedAt.After(c.opts.Clock().Add(c.opts.MaxCursorSkew)) {
		c.logger.Warn("sync cursor is in the future, falling back to full pull", "cursor", cur.CreatedAt)
		return remote.Position{}, false
	}
	if c.log.Len() == 0 {
		return remote.Position{}, false
	}
	return remote.Position{After: cur.CreatedAt, AfterID: cur.RowID}, true
}

// Pull fetches remote rows into the local log. With a valid cursor it reads
// only rows committed after it; otherwise it reads everything and re-queues
// local events the remote does not have.
func (c *Coordinator) Pull(ctx context.Context) (PullResult, error) {
	c.pullMu.Lock()
	defer c.pullMu.Unlock()

	cursor, incremental := c.cursorValid()
	res := PullResult{Mode: ModeFull}
	var pos remote.Position
	if incremental {
		res.Mode = ModeIncremental
		pos = remote.Position{After: cursor.After.Add(-c.opts.CursorOverlap)}
	}

	high := cursor
	var seen map[string]struct{}
	if !incremental {
		seen = make(map[string]struct{})
	}

	for {
		page, err := c.fetch(ctx, pos)
		if err != nil {
			return res, fmt.Errorf("pull %s: %w", res.Mode, err)
		}

		evs := make([]event.Event, 0, len(page.Rows))
		for _, r := range page.Rows {
			evs = append(evs, r.Event)
			high = high.Advance(r)
			pos = remote.Position{After: r.CreatedAt, AfterID: r.ID}
			if seen != nil {
				seen[event.DedupKey(r.Event)] = struct{}{}
			}
		}
		res.Rows += len(page.Rows)
		res.Added += c.log.AppendAll(evs)
		c.confirm(evs)

		if !page.HasMore || len(page.Rows) == 0 {
			break
		}
	}

	if high.AfterID != cursor.AfterID || !high.After.Equal(cursor.After) {
		if err := c.local.SetCursor(high.After, high.AfterID); err != nil {
			c.logger.Warn("save sync cursor", "err", err)
		}
	}

	if !incremental {
		res.Requeued = c.reconcile(seen)
	}
	c.logger.Debug("pull done", "mode", res.Mode, "rows", res.Rows, "added", res.Added, "requeued", res.Requeued)
	return res, nil
}

func (c *Coordinator) fetch(ctx context.Context, pos remote.Position) (remote.Page, error) {
	fctx, cancel := context.WithTimeout(ctx, c.opts.PullTimeout)
	defer cancel()
	return c.remote.Since(fctx, c.opts.UserID, pos, c.opts.PullLimit)
}

// confirm drops events seen remotely from the pending set. This settles
// pushes whose acknowledgement was lost.
func (c *Coordinator) confirm(evs []event.Event) {
	for _, ev := range evs {
		if err := c.local.RemovePending(event.DedupKey(ev)); err != nil {
			c.logger.Debug("clear pending upload", "err", err)
		}
	}
}

// reconcile re-queues local events missing from the full remote set.
// Parked events stay parked.
func (c *Coordinator) reconcile(remoteKeys map[string]struct{}) int {
	pending, err := c.local.PendingIDs()
	if err != nil {
		c.logger.Warn("list pending for reconcile", "err", err)
		return 0
	}
	parked, err := c.local.ParkedIDs()
	if err != nil {
		c.logger.Warn("list parked for reconcile", "err", err)
		return 0
	}
	isPending := make(map[string]struct{}, len(pending)+len(parked))
	for _, k := range append(pending, parked...) {
		isPending[k] = struct{}{}
	}

	n := 0
	for _, ev := range c.log.Events() {
		key := event.DedupKey(ev)
		if _, ok := remoteKeys[key]; ok {
			continue
		}
		if _, ok := isPending[key]; ok {
			continue
		}
		if err := c.local.AddPending(key); err != nil {
			c.logger.Warn("re-queue local event", "key", key, "err", err)
			continue
		}
		n++
	}
	return n
}

// SmartSync runs one cycle: retry pending uploads, pull, then make sure
// the realtime subscription is up. Concurrent callers share the cycle in
// flight. The returned Result never implies local data should be cleared.
func (c *Coordinator) SmartSync(ctx context.Context) Result {
	v, _, shared := c.cycles.Do("cycle", func() (any, error) {
		return c.runCycle(ctx), nil
	})
	res := v.(Result)
	res.Shared = shared
	return res
}

func (c *Coordinator) runCycle(ctx context.Context) Result {
	res := Result{StartedAt: c.opts.Clock()}
	c.setState(Syncing, nil)

	var errs []error
	pushed, err := c.RetryPending(ctx)
	res.Pushed += pushed
	if err != nil {
		errs = append(errs, err)
	}

	pr, err := c.Pull(ctx)
	res.Mode, res.Pulled, res.Requeued = pr.Mode, pr.Added, pr.Requeued
	if err != nil {
		errs = append(errs, err)
	} else if pr.Requeued > 0 {
		pushed, err := c.RetryPending(ctx)
		res.Pushed += pushed
		if err != nil {
			errs = append(errs, err)
		}
	}

	if err := c.Subscribe(ctx); err != nil {
		errs = append(errs, err)
	}
	res.Subscribed = c.Subscribed()

	res.Err = errors.Join(errs...)
	res.FinishedAt = c.opts.Clock()
	if res.Err != nil {
		c.logger.Warn("sync cycle failed", "err", res.Err, "mode", res.Mode)
		c.setState(Failure, &res)
	} else {
		c.logger.Info("sync cycle done", "mode", res.Mode, "pulled", res.Pulled, "pushed", res.Pushed)
		c.setState(Success, &res)
	}
	return res
}

func (c *Coordinator) setState(s State, res *Result) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = s
	if res != nil {
		c.last = *res
	}
}

// Close tears down the realtime subscription, cancels background uploads
// and waits for them to return. The coordinator must not be used
// afterwards.
func (c *Coordinator) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	c.stopBG()
	c.Unsubscribe()
	c.uploads.Wait()
}

// ErrClosed is returned by Subscribe after Close.
var ErrClosed = errors.New("sync coordinator closed")
