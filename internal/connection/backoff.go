package connection

import (
	"math/rand/v2"
	"time"
)

const (
	// DefaultBaseDelay is the backoff delay after the first failed attempt.
	DefaultBaseDelay = 1 * time.Second

	// DefaultMaxDelay caps the exponential growth of the backoff delay.
	DefaultMaxDelay = 30 * time.Second

	// DefaultMaxAttempts is how many consecutive connection attempts are made
	// before the manager gives up and parks in the failed state.
	DefaultMaxAttempts = 5

	// maxJitter bounds the random component added to every backoff delay.
	maxJitter = 1 * time.Second
)

// backoff produces the delay sequence between reconnect attempts:
// base*2^(n-1) capped at max, plus up to one second of jitter. The sequence
// is monotonically non-decreasing when the jitter is held constant.
//
// Not safe for concurrent use; the manager owns one per connect cycle.
type backoff struct {
	base    time.Duration
	max     time.Duration
	failure int

	// jitter is swappable so tests can pin the random component.
	jitter func() time.Duration
}

func newBackoff(base, max time.Duration) *backoff {
	if base <= 0 {
		base = DefaultBaseDelay
	}
	if max <= 0 {
		max = DefaultMaxDelay
	}
	return &backoff{
		base:   base,
		max:    max,
		jitter: func() time.Duration { return rand.N(maxJitter) },
	}
}

// next returns the delay to sleep after one more failure.
func (b *backoff) next() time.Duration {
	b.failure++
	d := b.base << (b.failure - 1)
	if d > b.max || d <= 0 {
		d = b.max
	}
	return d + b.jitter()
}

// reset clears the failure count after a successful connection.
func (b *backoff) reset() { b.failure = 0 }
