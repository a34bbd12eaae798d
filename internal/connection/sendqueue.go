package connection

import (
	"sync"
	"time"

	"github.com/kinesia-ai/kinesia/pkg/live"
)

// DefaultAudioQueueCap bounds the audio lane of the send queue. At the armed
// chunk cadence this is several seconds of backlog; anything older is stale
// for a realtime conversation anyway.
const DefaultAudioQueueCap = 64

// sendQueue holds outbound envelopes in two lanes. Control messages (setup,
// turns, tool responses) are never dropped. Audio messages are bounded:
// when the lane is full the oldest chunk is evicted, because a fresher chunk
// is always more useful to the model than a stale one.
//
// Safe for concurrent use.
type sendQueue struct {
	mu       sync.Mutex
	control  []live.Envelope
	audio    []live.Envelope
	audioCap int

	pausedUntil time.Time
}

func newSendQueue(audioCap int) *sendQueue {
	if audioCap <= 0 {
		audioCap = DefaultAudioQueueCap
	}
	return &sendQueue{audioCap: audioCap}
}

func (q *sendQueue) enqueueControl(env live.Envelope) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.control = append(q.control, env)
}

// enqueueAudio adds an audio envelope, evicting the oldest queued chunk when
// the lane is full. Reports whether an eviction happened.
func (q *sendQueue) enqueueAudio(env live.Envelope) (dropped bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.audio) >= q.audioCap {
		copy(q.audio, q.audio[1:])
		q.audio = q.audio[:len(q.audio)-1]
		dropped = true
	}
	q.audio = append(q.audio, env)
	return dropped
}

// drainControl removes and returns every queued control envelope in FIFO
// order.
func (q *sendQueue) drainControl() []live.Envelope {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.control) == 0 {
		return nil
	}
	out := q.control
	q.control = nil
	return out
}

// requeueControl puts unsent control envelopes back at the head of their
// lane, preserving order across a socket replacement.
func (q *sendQueue) requeueControl(envs []live.Envelope) {
	if len(envs) == 0 {
		return
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.control = append(append([]live.Envelope{}, envs...), q.control...)
}

// popAudio removes and returns the oldest audio envelope.
func (q *sendQueue) popAudio() (live.Envelope, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.audio) == 0 {
		return nil, false
	}
	env := q.audio[0]
	copy(q.audio, q.audio[1:])
	q.audio = q.audio[:len(q.audio)-1]
	return env, true
}

// pause suspends dequeuing until the given instant. Used when the server
// signals rate exhaustion; enqueuing stays open so no control message is
// lost while paused.
func (q *sendQueue) pause(until time.Time) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if until.After(q.pausedUntil) {
		q.pausedUntil = until
	}
}

func (q *sendQueue) paused(now time.Time) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return now.Before(q.pausedUntil)
}

// depth reports the queued envelope counts per lane.
func (q *sendQueue) depth() (control, audio int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.control), len(q.audio)
}
