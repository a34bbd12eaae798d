package state

import (
	"math"
	"sync"
	"sync/atomic"
	"time"
)

// Metrics is the session-lifetime counter set. Writers are the connection
// manager and the audio pipeline glue; the sole reader takes point-in-time
// snapshots for the UI. Counters are atomics — no coarse lock sits on the
// audio hot path.
type Metrics struct {
	started time.Time

	reconnects      atomic.Int64
	droppedFrames   atomic.Int64
	droppedMessages atomic.Int64
	bargeIns        atomic.Int64

	// rttBits holds an exponentially-weighted average round-trip time as
	// float64 seconds, stored as raw bits for atomic access.
	rttBits atomic.Uint64

	mu        sync.Mutex
	lastError string
}

// NewMetrics creates a metrics set with the uptime clock started now.
func NewMetrics() *Metrics {
	return &Metrics{started: time.Now()}
}

// Snapshot is a read-only copy of the counters.
type Snapshot struct {
	ReconnectCount   int64
	Uptime           time.Duration
	LastError        string
	AverageRoundTrip time.Duration
	DroppedFrames    int64
	DroppedMessages  int64
	BargeIns         int64
}

// RecordReconnect increments the reconnect counter.
func (m *Metrics) RecordReconnect() { m.reconnects.Add(1) }

// RecordDroppedFrames adds n to the dropped-frame counter.
func (m *Metrics) RecordDroppedFrames(n int64) { m.droppedFrames.Add(n) }

// RecordDroppedMessage increments the dropped-message counter.
func (m *Metrics) RecordDroppedMessage() { m.droppedMessages.Add(1) }

// RecordBargeIn increments the barge-in counter.
func (m *Metrics) RecordBargeIn() { m.bargeIns.Add(1) }

// RecordRoundTrip folds one measured round trip into the running average.
func (m *Metrics) RecordRoundTrip(d time.Duration) {
	const alpha = 0.2
	for {
		old := m.rttBits.Load()
		avg := math.Float64frombits(old)
		if avg == 0 {
			avg = d.Seconds()
		} else {
			avg = alpha*d.Seconds() + (1-alpha)*avg
		}
		if m.rttBits.CompareAndSwap(old, math.Float64bits(avg)) {
			return
		}
	}
}

// SetLastError records the most recent error text shown to the user.
func (m *Metrics) SetLastError(msg string) {
	m.mu.Lock()
	m.lastError = msg
	m.mu.Unlock()
}

// Snapshot returns a consistent-enough copy for display. Individual counters
// are read atomically; the set as a whole is not fenced, which is fine for
// diagnostics.
func (m *Metrics) Snapshot() Snapshot {
	m.mu.Lock()
	lastErr := m.lastError
	m.mu.Unlock()

	return Snapshot{
		ReconnectCount:   m.reconnects.Load(),
		Uptime:           time.Since(m.started),
		LastError:        lastErr,
		AverageRoundTrip: time.Duration(math.Float64frombits(m.rttBits.Load()) * float64(time.Second)),
		DroppedFrames:    m.droppedFrames.Load(),
		DroppedMessages:  m.droppedMessages.Load(),
		BargeIns:         m.bargeIns.Load(),
	}
}
