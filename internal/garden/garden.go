// Package garden is the narrow read/write surface of one device's garden:
// record an action, read derived state and allowances, sync, export and
// import. Everything else in the module sits behind it.
package garden

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	gosync "sync"
	"time"

	"github.com/marcus/sprout/internal/cache"
	"github.com/marcus/sprout/internal/crypto"
	"github.com/marcus/sprout/internal/db"
	"github.com/marcus/sprout/internal/derive"
	"github.com/marcus/sprout/internal/event"
	"github.com/marcus/sprout/internal/eventlog"
	"github.com/marcus/sprout/internal/export"
	"github.com/marcus/sprout/internal/remote"
	"github.com/marcus/sprout/internal/sync"
)

// ErrOffline is returned by sync operations when no remote is configured.
var ErrOffline = errors.New("sync is not configured")

// Options configures Open.
type Options struct {
	// Dir holds the local database.
	Dir      string
	DeviceID string
	Rules    derive.Rules

	// Remote enables sync. UserID scopes every remote call.
	Remote remote.Store
	UserID string
	Sync   sync.Options

	// SealParams are the key stretching costs for sealed exports.
	SealParams crypto.Params

	Clock  func() time.Time
	Logger *slog.Logger
}

// Garden is safe for concurrent use.
type Garden struct {
	db         *db.DB
	log        *eventlog.Log
	cache      *cache.Cache
	coord      *sync.Coordinator
	clock      func() time.Time
	logger     *slog.Logger
	deviceID   string
	sealParams crypto.Params

	stampMu gosync.Mutex
	last    time.Time
}

// Open loads the device's log from opts.Dir.
func Open(opts Options) (*Garden, error) {
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.SealParams == (crypto.Params{}) {
		opts.SealParams = crypto.DefaultParams()
	}
	if opts.Rules == (derive.Rules{}) {
		opts.Rules = derive.DefaultRules()
	}

	database, err := db.Open(opts.Dir)
	if err != nil {
		return nil, err
	}
	log, err := eventlog.Open(database, opts.Logger)
	if err != nil {
		database.Close()
		return nil, err
	}

	g := &Garden{
		db:         database,
		log:        log,
		cache:      cache.New(log, opts.Rules, opts.Clock),
		clock:      opts.Clock,
		logger:     opts.Logger,
		deviceID:   opts.DeviceID,
		sealParams: opts.SealParams,
	}
	if opts.Remote != nil {
		so := opts.Sync
		so.UserID, so.DeviceID = opts.UserID, opts.DeviceID
		if so.Clock == nil {
			so.Clock = opts.Clock
		}
		g.coord = sync.New(log, database, opts.Remote, so, opts.Logger)
	}
	return g, nil
}

// Close stops sync and releases the local database.
func (g *Garden) Close() error {
	if g.coord != nil {
		g.coord.Close()
	}
	if err := g.log.Flush(); err != nil {
		g.logger.Warn("unsaved events on close", "err", err)
	}
	return g.db.Close()
}

// Outcome is what Record did.
type Outcome struct {
	Event event.Event
	// Applied is false when a guard skipped the event. The event is still
	// in the log.
	Applied bool

	upload *sync.Upload
}

// Confirmed waits for the background push started by Record and reports
// whether the remote acknowledged the event. It returns false at once for
// a garden without sync, and false when ctx ends first.
func (o Outcome) Confirmed(ctx context.Context) bool {
	if o.upload == nil {
		return false
	}
	return o.upload.Wait(ctx)
}

// stamp returns the current time, strictly after any earlier stamp so that
// actions recorded back to back keep their order.
func (g *Garden) stamp() time.Time {
	g.stampMu.Lock()
	defer g.stampMu.Unlock()
	now := g.clock().Round(0).UTC()
	if !now.After(g.last) {
		now = g.last.Add(time.Microsecond)
	}
	g.last = now
	return now
}

// Record stamps a at the current time and appends it. It never waits on
// the network: with a remote the push runs in the background (see
// Outcome.Confirmed), without one the event waits in the pending set for
// the next sync.
func (g *Garden) Record(a event.Action) (Outcome, error) {
	ev, err := event.New(g.stamp(), a)
	if err != nil {
		return Outcome{}, err
	}
	if _, err := event.Parse(ev); err != nil {
		return Outcome{}, err
	}

	out := Outcome{Event: ev}
	if g.coord != nil {
		out.upload = g.coord.PushAsync(ev)
	} else {
		g.log.Append(ev)
		if err := g.db.AddPending(event.DedupKey(ev)); err != nil {
			g.logger.Warn("record pending upload", "client_id", ev.ClientID, "err", err)
		}
	}
	out.Applied = !g.cache.State().WasGuarded(event.DedupKey(ev))
	return out, nil
}

// State returns the derived state. Callers must not modify it.
func (g *Garden) State() *derive.State {
	return g.cache.State()
}

// Plant returns one plant from the derived state.
func (g *Garden) Plant(id string) (derive.Plant, bool) {
	return g.cache.State().Plant(id)
}

// Allowances returns the windowed allowance scalars now.
func (g *Garden) Allowances() cache.Allowances {
	return g.cache.Allowances()
}

// CapacityHistory returns energy after every applied event.
func (g *Garden) CapacityHistory() []derive.Point {
	return derive.CapacityHistory(g.log.Events(), g.cache.Rules())
}

// Rules returns the derivation rules in effect.
func (g *Garden) Rules() derive.Rules { return g.cache.Rules() }

// Events returns the log in append order.
func (g *Garden) Events() []event.Event {
	return g.log.Events()
}

// OnChange registers fn to run after the log grows, including rows that
// arrive over the realtime channel.
func (g *Garden) OnChange(fn func()) {
	g.log.OnChange(fn)
}

// Warning returns the live storage warning, or one persisted by an
// earlier session.
func (g *Garden) Warning() *eventlog.Warning {
	if w := g.log.Warning(); w != nil {
		return w
	}
	ws, err := g.db.Warnings()
	if err != nil || len(ws) == 0 {
		return nil
	}
	return &eventlog.Warning{Code: ws[0].Code, Message: ws[0].Message, Since: ws[0].RaisedAt}
}

// Flush retries durable writes of events held only in memory and clears
// persisted warnings once storage is healthy.
func (g *Garden) Flush() error {
	if err := g.log.Flush(); err != nil {
		return err
	}
	ws, err := g.db.Warnings()
	if err != nil {
		return err
	}
	for _, w := range ws {
		if err := g.db.ClearWarning(w.Code); err != nil {
			return err
		}
	}
	return nil
}

// Pending returns uploads not yet confirmed remotely.
func (g *Garden) Pending() ([]db.PendingUpload, error) {
	return g.db.ListPending()
}

// Online reports whether a remote is configured.
func (g *Garden) Online() bool {
	return g.coord != nil
}

// Sync runs one sync cycle.
func (g *Garden) Sync(ctx context.Context) (sync.Result, error) {
	if g.coord == nil {
		return sync.Result{}, ErrOffline
	}
	res := g.coord.SmartSync(ctx)
	return res, res.Err
}

// SyncState returns the phase and result of the last sync cycle.
func (g *Garden) SyncState() (sync.State, sync.Result) {
	if g.coord == nil {
		return sync.Idle, sync.Result{}
	}
	return g.coord.State(), g.coord.LastResult()
}

// Pull runs a single pull without pushing.
func (g *Garden) Pull(ctx context.Context) (sync.PullResult, error) {
	if g.coord == nil {
		return sync.PullResult{}, ErrOffline
	}
	return g.coord.Pull(ctx)
}

// Subscribe opens the realtime channel.
func (g *Garden) Subscribe(ctx context.Context) error {
	if g.coord == nil {
		return ErrOffline
	}
	return g.coord.Subscribe(ctx)
}

// ResetCursor forgets the sync cursor so the next pull is a full pull.
func (g *Garden) ResetCursor() error {
	return g.db.ClearCursor()
}

// Export writes every event as an export document, sealed when
// passphrase is not empty.
func (g *Garden) Export(w io.Writer, passphrase string) error {
	doc := export.New(g.log.Events(), g.deviceID, g.clock())
	if passphrase != "" {
		return export.WriteSealed(w, doc, passphrase, g.sealParams)
	}
	return export.Write(w, doc)
}

// ImportResult summarizes an import.
type ImportResult struct {
	Read    int `json:"read"`
	Added   int `json:"added"`
	Dropped int `json:"dropped"`
}

// Import appends the events of an export document. Events already present
// are skipped; new ones are queued for upload. passphrase opens sealed
// documents.
func (g *Garden) Import(r io.Reader, passphrase string) (ImportResult, error) {
	doc, err := export.ReadAny(r, passphrase)
	if err != nil {
		return ImportResult{}, err
	}

	var fresh []event.Event
	for _, ev := range doc.Events {
		if !g.log.Has(event.DedupKey(ev)) {
			fresh = append(fresh, ev)
		}
	}
	res := ImportResult{Read: len(doc.Events), Dropped: doc.Dropped}
	res.Added = export.Import(g.log, &export.Document{Events: fresh})
	for _, ev := range fresh {
		if err := g.db.AddPending(event.DedupKey(ev)); err != nil {
			return res, fmt.Errorf("queue imported event: %w", err)
		}
	}
	g.logger.Info("import done", "read", res.Read, "added", res.Added, "dropped", res.Dropped)
	return res, nil
}
