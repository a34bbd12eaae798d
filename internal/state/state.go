// Package state holds the authoritative session state machine and the
// session-scoped metrics counters. Both are shared between the connection
// manager (the single writer of connection-driven transitions) and the
// orchestrator (explicit disconnect/teardown); every other component only
// reads them.
package state

import "sync/atomic"

// State is the lifecycle phase of a coaching session.
type State int32

const (
	// Disconnected means no transport exists and none is being opened.
	Disconnected State = iota

	// Connecting means a transport is being opened and the setup
	// acknowledgement is pending.
	Connecting

	// Connected means the stream is open and ready; recording has not
	// started.
	Connected

	// Active means the stream is open and microphone capture is running.
	Active

	// Reconnecting means the transport was lost and a backoff timer is
	// running before the next attempt.
	Reconnecting

	// Failed is terminal: retries are exhausted or the failure is not
	// retryable. Leaving Failed requires an explicit user-initiated
	// reconnect.
	Failed

	// Terminated is terminal: the server ended the session without a
	// resumption window.
	Terminated
)

// String returns the human-readable name of the state.
func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Active:
		return "active"
	case Reconnecting:
		return "reconnecting"
	case Failed:
		return "failed"
	case Terminated:
		return "terminated"
	}
	return "unknown"
}

// CanSend reports whether outbound envelopes may be enqueued in this state.
func (s State) CanSend() bool {
	return s == Connected || s == Active
}

// Terminal reports whether s requires explicit user action to leave.
func (s State) Terminal() bool {
	return s == Failed || s == Terminated
}

// Machine is the session state cell: one atomic value, written only by the
// connection manager and by explicit orchestrator calls, read lock-free by
// everyone else. State changes are published on a bounded channel with a
// drop-oldest policy — consumers that lag see the latest state, which is the
// only one that matters for gating.
type Machine struct {
	v       atomic.Int32
	changes chan State
}

// NewMachine creates a machine in the Disconnected state.
func NewMachine() *Machine {
	return &Machine{changes: make(chan State, 16)}
}

// Current returns the current state.
func (m *Machine) Current() State {
	return State(m.v.Load())
}

// Changes returns the state-change stream.
func (m *Machine) Changes() <-chan State {
	return m.changes
}

// Transition attempts to move to `to` and reports whether the move was legal.
// Illegal transitions leave the state untouched; callers treat a false return
// as a no-op, never a panic.
func (m *Machine) Transition(to State) bool {
	from := m.Current()
	if !allowed(from, to) {
		return false
	}
	m.v.Store(int32(to))
	m.publish(to)
	return true
}

func (m *Machine) publish(s State) {
	for {
		select {
		case m.changes <- s:
			return
		default:
			// Full: evict the oldest entry and retry.
			select {
			case <-m.changes:
			default:
			}
		}
	}
}

// allowed encodes the transition table.
func allowed(from, to State) bool {
	if from == to {
		return false
	}
	switch to {
	case Disconnected, Terminated:
		// disconnect() and terminal server messages apply from any state.
		return true
	case Connecting:
		return from == Disconnected || from == Reconnecting || from == Failed
	case Connected:
		return from == Connecting || from == Active
	case Active:
		return from == Connected
	case Reconnecting:
		return from == Connecting || from == Connected || from == Active
	case Failed:
		return from == Connecting || from == Reconnecting
	}
	return false
}
