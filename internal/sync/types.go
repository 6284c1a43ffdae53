package sync

import (
	"context"
	"time"

	"github.com/marcus/sprout/internal/db"
	"github.com/marcus/sprout/internal/event"
)

// State is the phase of the current or last sync cycle.
type State int

const (
	Idle State = iota
	Syncing
	Success
	Failure
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Syncing:
		return "syncing"
	case Success:
		return "success"
	case Failure:
		return "failure"
	}
	return "unknown"
}

// PullMode is how a pull chose its starting point.
type PullMode string

const (
	ModeNone        PullMode = ""
	ModeIncremental PullMode = "incremental"
	ModeFull        PullMode = "full"
)

// PullResult summarizes one pull.
type PullResult struct {
	Mode PullMode
	// Rows is how many remote rows were read, Added how many were new locally.
	Rows  int
	Added int
	// Requeued counts local events found missing remotely during a full pull
	// and put back in the pending set.
	Requeued int
}

// Result describes one SmartSync cycle. Err is informational: callers keep
// serving cached state when it is set.
type Result struct {
	Mode       PullMode
	Pulled     int
	Pushed     int
	Requeued   int
	Subscribed bool
	Err        error
	StartedAt  time.Time
	FinishedAt time.Time
	// Shared is true when the caller joined a cycle started by another caller.
	Shared bool
}

// Log is the device event log the coordinator appends to.
type Log interface {
	Append(ev event.Event) bool
	AppendAll(evs []event.Event) int
	Events() []event.Event
	Len() int
	Get(key string) (event.Event, bool)
}

// LocalStore persists the pending upload set and the sync cursor.
type LocalStore interface {
	AddPending(key string) error
	RemovePending(key string) error
	RecordAttempt(key string, cause error) error
	ParkPending(key string, cause error) error
	PendingIDs() ([]string, error)
	ParkedIDs() ([]string, error)
	GetCursor() (*db.Cursor, error)
	SetCursor(createdAt time.Time, rowID int64) error
}

var _ LocalStore = (*db.DB)(nil)

// Options configures a Coordinator. Zero fields take defaults.
type Options struct {
	UserID   string
	DeviceID string

	// PushTimeout bounds each remote insert. A timed-out push stays pending.
	PushTimeout time.Duration
	// PullTimeout bounds each page request.
	PullTimeout time.Duration
	// PullLimit is the page size.
	PullLimit int
	// CursorOverlap re-reads rows committed slightly before the cursor,
	// since commit order and created_at order can differ. Negative disables it.
	CursorOverlap time.Duration
	// MaxCursorSkew is how far in the future a stored cursor may be
	// before it is considered invalid.
	MaxCursorSkew time.Duration
	// RetryConcurrency caps parallel pending re-pushes.
	RetryConcurrency int

	Clock func() time.Time
	// Sleep is used between realtime reconnect attempts.
	Sleep func(ctx context.Context, d time.Duration) error
}

const (
	DefaultPushTimeout      = 10 * time.Second
	DefaultPullTimeout      = 30 * time.Second
	DefaultPullLimit        = 500
	DefaultCursorOverlap    = 5 * time.Second
	DefaultMaxCursorSkew    = 5 * time.Minute
	DefaultRetryConcurrency = 4
)

func (o Options) withDefaults() Options {
	if o.PushTimeout <= 0 {
		o.PushTimeout = DefaultPushTimeout
	}
	if o.PullTimeout <= 0 {
		o.PullTimeout = DefaultPullTimeout
	}
	if o.PullLimit <= 0 {
		o.PullLimit = DefaultPullLimit
	}
	if o.CursorOverlap < 0 {
		o.CursorOverlap = 0
	} else if o.CursorOverlap == 0 {
		o.CursorOverlap = DefaultCursorOverlap
	}
	if o.MaxCursorSkew <= 0 {
		o.MaxCursorSkew = DefaultMaxCursorSkew
	}
	if o.RetryConcurrency <= 0 {
		o.RetryConcurrency = DefaultRetryConcurrency
	}
	if o.Clock == nil {
		o.Clock = time.Now
	}
	return o
}
