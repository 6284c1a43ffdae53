package api

import (
	"sync/atomic"
	"time"
)

// Metrics collects in-memory server metrics using atomic counters.
type Metrics struct {
	startTime     time.Time
	requests      atomic.Int64
	serverErrors  atomic.Int64
	clientErrors  atomic.Int64
	inserted      atomic.Int64
	duplicates    atomic.Int64
	pullRequests  atomic.Int64
	rowsServed    atomic.Int64
	streamsOpen   atomic.Int64
	streamedRows  atomic.Int64
	streamsOpened atomic.Int64
}

// MetricsSnapshot is a point-in-time view of server metrics.
type MetricsSnapshot struct {
	UptimeSeconds   float64 `json:"uptime_seconds"`
	Requests        int64   `json:"requests"`
	ServerErrors    int64   `json:"server_errors"`
	ClientErrors    int64   `json:"client_errors"`
	EventsInserted  int64   `json:"events_inserted"`
	DuplicatePushes int64   `json:"duplicate_pushes"`
	PullRequests    int64   `json:"pull_requests"`
	RowsServed      int64   `json:"rows_served"`
	StreamsOpen     int64   `json:"streams_open"`
	StreamsOpened   int64   `json:"streams_opened"`
	StreamedRows    int64   `json:"streamed_rows"`
}

// NewMetrics creates a new Metrics instance with the current time as start.
func NewMetrics() *Metrics {
	return &Metrics{startTime: time.Now()}
}

// RecordRequest increments the total request counter.
func (m *Metrics) RecordRequest() {
	m.requests.Add(1)
}

// RecordError increments the server error (5xx) counter.
func (m *Metrics) RecordError() {
	m.serverErrors.Add(1)
}

// RecordClientError increments the client error (4xx) counter.
func (m *Metrics) RecordClientError() {
	m.clientErrors.Add(1)
}

func (m *Metrics) RecordInsert()    { m.inserted.Add(1) }
func (m *Metrics) RecordDuplicate() { m.duplicates.Add(1) }

// RecordPull counts one pull request that returned n rows.
func (m *Metrics) RecordPull(n int) {
	m.pullRequests.Add(1)
	m.rowsServed.Add(int64(n))
}

// StreamOpened counts a realtime stream and returns the func that marks it closed.
func (m *Metrics) StreamOpened() (closed func()) {
	m.streamsOpened.Add(1)
	m.streamsOpen.Add(1)
	return func() { m.streamsOpen.Add(-1) }
}

func (m *Metrics) RecordStreamed() { m.streamedRows.Add(1) }

// Snapshot returns a point-in-time copy of the metrics.
func (m *Metrics) Snapshot() MetricsSnapshot {
	return MetricsSnapshot{
		UptimeSeconds:   time.Since(m.startTime).Seconds(),
		Requests:        m.requests.Load(),
		ServerErrors:    m.serverErrors.Load(),
		ClientErrors:    m.clientErrors.Load(),
		EventsInserted:  m.inserted.Load(),
		DuplicatePushes: m.duplicates.Load(),
		PullRequests:    m.pullRequests.Load(),
		RowsServed:      m.rowsServed.Load(),
		StreamsOpen:     m.streamsOpen.Load(),
		StreamsOpened:   m.streamsOpened.Load(),
		StreamedRows:    m.streamedRows.Load(),
	}
}
