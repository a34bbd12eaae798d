package live

import (
	"errors"
	"fmt"
	"time"
)

// ErrSessionClosed is returned by transport and connection operations after
// Close has been called.
var ErrSessionClosed = errors.New("live: session closed")

// ConnectionError wraps a transport-level failure (dial, read, write, probe,
// idle timeout). Connection errors are retryable: the connection manager
// responds with a backoff-and-reconnect cycle.
type ConnectionError struct {
	// Op names the failed operation ("dial", "read", "write", "probe", "idle").
	Op string

	// Err is the underlying cause. May be nil for synthesised failures such
	// as idle timeouts.
	Err error
}

func (e *ConnectionError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("live: connection %s failed", e.Op)
	}
	return fmt.Sprintf("live: connection %s failed: %v", e.Op, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// AuthenticationError reports a missing or malformed credential. It is
// terminal until the credential is refreshed; the connection manager never
// consumes a retry attempt for it.
type AuthenticationError struct {
	// Reason is a human-readable description suitable for display
	// ("credential is empty", "credential has unexpected format").
	Reason string
}

func (e *AuthenticationError) Error() string {
	return "live: authentication failed: " + e.Reason
}

// DecodeError reports a malformed inbound envelope. It is non-fatal: the
// connection manager logs it and keeps the connection open.
type DecodeError struct {
	// Reason describes what was wrong with the payload.
	Reason string

	// Err is the underlying unmarshalling error, if any.
	Err error
}

func (e *DecodeError) Error() string {
	if e.Err == nil {
		return "live: decode: " + e.Reason
	}
	return fmt.Sprintf("live: decode: %s: %v", e.Reason, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// AudioError reports a capture-device failure. It is isolated to the audio
// pipeline: the session continues without audio.
type AudioError struct {
	Op  string
	Err error
}

func (e *AudioError) Error() string {
	return fmt.Sprintf("live: audio %s failed: %v", e.Op, e.Err)
}

func (e *AudioError) Unwrap() error { return e.Err }

// RateLimitError reports that the remote service asked the client to slow
// down. The connection manager pauses outbound sends for RetryAfter without
// consuming a reconnect attempt.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("live: rate limited, retry after %s", e.RetryAfter)
}

// SessionError reports a server-initiated termination without a resumption
// window. It is terminal: the session moves to Terminated and requires an
// explicit user-initiated restart.
type SessionError struct {
	Code    int
	Message string
}

func (e *SessionError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("live: session terminated by server (code %d)", e.Code)
	}
	return fmt.Sprintf("live: session terminated by server: %s (code %d)", e.Message, e.Code)
}

// Retryable reports whether err may be resolved by a reconnect cycle.
// Authentication and session-termination errors are terminal; everything
// wrapped in a [ConnectionError] is retryable. Decode, audio, and rate-limit
// errors are neither — they are handled in place without tearing down the
// connection.
func Retryable(err error) bool {
	var (
		connErr *ConnectionError
		authErr *AuthenticationError
		sessErr *SessionError
	)
	switch {
	case errors.As(err, &authErr), errors.As(err, &sessErr):
		return false
	case errors.As(err, &connErr):
		return true
	}
	return false
}
