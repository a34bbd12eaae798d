package connection

import (
	"sync"
	"time"
)

// attemptLogSize bounds the in-memory connection-attempt history.
const attemptLogSize = 32

// Outcome classifies how a connection attempt ended.
type Outcome string

const (
	// OutcomePending marks an attempt that has not finished yet.
	OutcomePending Outcome = "pending"
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
)

// Attempt records one connection attempt for diagnostics.
type Attempt struct {
	// Number is the 1-based position within its connect cycle.
	Number int

	// StartedAt is when the dial began.
	StartedAt time.Time

	// Backoff is the delay that preceded this attempt (zero for the first).
	Backoff time.Duration

	Outcome Outcome

	// Err is the failure detail, empty unless Outcome is OutcomeFailure.
	Err string
}

// attemptLog is a fixed-size ring of recent connection attempts.
type attemptLog struct {
	mu   sync.Mutex
	ring [attemptLogSize]Attempt
	next int
	len  int
}

func (l *attemptLog) add(a Attempt) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.ring[l.next] = a
	l.next = (l.next + 1) % attemptLogSize
	if l.len < attemptLogSize {
		l.len++
	}
}

// amend replaces the most recently added attempt, so a pending entry can be
// finalised once the dial resolves.
func (l *attemptLog) amend(a Attempt) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.len == 0 {
		return
	}
	i := l.next - 1
	if i < 0 {
		i += attemptLogSize
	}
	l.ring[i] = a
}

// all returns the recorded attempts, oldest first.
func (l *attemptLog) all() []Attempt {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Attempt, 0, l.len)
	start := l.next - l.len
	if start < 0 {
		start += attemptLogSize
	}
	for i := 0; i < l.len; i++ {
		out = append(out, l.ring[(start+i)%attemptLogSize])
	}
	return out
}
