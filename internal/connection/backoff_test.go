package connection

import (
	"testing"
	"time"
)

func TestBackoffGrowsMonotonically(t *testing.T) {
	t.Parallel()

	b := newBackoff(time.Second, 30*time.Second)
	b.jitter = func() time.Duration { return 0 }

	want := []time.Duration{
		1 * time.Second,
		2 * time.Second,
		4 * time.Second,
		8 * time.Second,
		16 * time.Second,
		30 * time.Second, // capped
		30 * time.Second,
	}
	for i, w := range want {
		if got := b.next(); got != w {
			t.Fatalf("delay %d = %s, want %s", i+1, got, w)
		}
	}
}

func TestBackoffResetRestartsSequence(t *testing.T) {
	t.Parallel()

	b := newBackoff(time.Second, 30*time.Second)
	b.jitter = func() time.Duration { return 0 }

	b.next()
	b.next()
	b.reset()

	if got := b.next(); got != time.Second {
		t.Fatalf("delay after reset = %s, want 1s", got)
	}
}

func TestBackoffJitterIsBounded(t *testing.T) {
	t.Parallel()

	b := newBackoff(time.Second, 30*time.Second)
	for i := 0; i < 100; i++ {
		b.reset()
		d := b.next()
		if d < time.Second || d >= 2*time.Second {
			t.Fatalf("first delay %s outside [1s, 2s)", d)
		}
	}
}
