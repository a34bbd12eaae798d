package live_test

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/kinesia-ai/kinesia/pkg/live"
)

func TestRetryable_Classification(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"dial failure", &live.ConnectionError{Op: "dial", Err: errors.New("refused")}, true},
		{"idle timeout", &live.ConnectionError{Op: "idle"}, true},
		{"wrapped connection error", fmt.Errorf("connect: %w", &live.ConnectionError{Op: "read"}), true},
		{"auth failure", &live.AuthenticationError{Reason: "credential is empty"}, false},
		{"server termination", &live.SessionError{Code: 13, Message: "session expired"}, false},
		{"decode error", &live.DecodeError{Reason: "malformed JSON"}, false},
		{"rate limit", &live.RateLimitError{RetryAfter: time.Second}, false},
		{"plain error", errors.New("boom"), false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := live.Retryable(tc.err); got != tc.want {
				t.Errorf("Retryable(%v) = %v; want %v", tc.err, got, tc.want)
			}
		})
	}
}

func TestErrorMessages_AreActionable(t *testing.T) {
	t.Parallel()

	auth := &live.AuthenticationError{Reason: "credential has unexpected format"}
	conn := &live.ConnectionError{Op: "dial", Err: errors.New("network unreachable")}
	rate := &live.RateLimitError{RetryAfter: 2 * time.Second}

	// The three messages must stay distinguishable for the UI layer.
	msgs := map[string]bool{auth.Error(): true, conn.Error(): true, rate.Error(): true}
	if len(msgs) != 3 {
		t.Errorf("error messages collide: %v", msgs)
	}
}
