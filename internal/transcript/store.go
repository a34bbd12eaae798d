// Package transcript defines persistence for session transcriptions. The
// orchestrator appends final transcript lines as they arrive; coaches and
// the review UI read them back per session.
package transcript

import (
	"context"
	"sync"
	"time"
)

// Speaker identifies who produced a transcript line.
type Speaker string

const (
	SpeakerUser      Speaker = "user"
	SpeakerAssistant Speaker = "assistant"
)

// Entry is one transcript line.
type Entry struct {
	// SessionID groups entries belonging to one coaching session.
	SessionID string

	// Speaker is who said it.
	Speaker Speaker

	// Text is the transcribed utterance.
	Text string

	// At is when the line was spoken.
	At time.Time
}

// Store persists transcript entries. Implementations must be safe for
// concurrent use.
type Store interface {
	// Append stores one entry.
	Append(ctx context.Context, e Entry) error

	// Recent returns up to limit entries for the session, oldest first.
	Recent(ctx context.Context, sessionID string, limit int) ([]Entry, error)

	// Close releases underlying resources.
	Close()
}

// Memory is an in-process [Store] holding a bounded number of entries per
// session. It backs offline mode and tests; production sessions use the
// postgres implementation.
type Memory struct {
	mu       sync.Mutex
	limit    int
	sessions map[string][]Entry
}

var _ Store = (*Memory)(nil)

// NewMemory creates an in-memory store keeping at most perSession entries
// per session (oldest evicted first). perSession <= 0 selects 512.
func NewMemory(perSession int) *Memory {
	if perSession <= 0 {
		perSession = 512
	}
	return &Memory{
		limit:    perSession,
		sessions: make(map[string][]Entry),
	}
}

func (m *Memory) Append(_ context.Context, e Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	entries := append(m.sessions[e.SessionID], e)
	if len(entries) > m.limit {
		entries = entries[len(entries)-m.limit:]
	}
	m.sessions[e.SessionID] = entries
	return nil
}

func (m *Memory) Recent(_ context.Context, sessionID string, limit int) ([]Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entries := m.sessions[sessionID]
	if limit > 0 && len(entries) > limit {
		entries = entries[len(entries)-limit:]
	}
	out := make([]Entry, len(entries))
	copy(out, entries)
	return out, nil
}

func (m *Memory) Close() {}
