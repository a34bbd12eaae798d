package session

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/kinesia-ai/kinesia/internal/observe"
)

// Info describes one registered session for diagnostics.
type Info struct {
	ID        string
	CreatedAt time.Time
}

// Registry tracks the live sessions of this process. All exported methods
// are safe for concurrent use.
type Registry struct {
	obs *observe.Metrics

	mu       sync.Mutex
	sessions map[string]*Session
	created  map[string]time.Time
}

// NewRegistry creates an empty registry.
func NewRegistry(obs *observe.Metrics) *Registry {
	if obs == nil {
		obs = observe.DefaultMetrics()
	}
	return &Registry{
		obs:      obs,
		sessions: make(map[string]*Session),
		created:  make(map[string]time.Time),
	}
}

// Create assembles and registers a new session. Returns an error when a
// session with the same ID already exists.
func (r *Registry) Create(cfg Config, opts ...Option) (*Session, error) {
	if cfg.ID == "" {
		cfg.ID = fmt.Sprintf("session-%s", time.Now().UTC().Format("20060102T150405.000Z"))
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.sessions[cfg.ID]; exists {
		return nil, fmt.Errorf("session: %q already exists", cfg.ID)
	}

	s := New(cfg, opts...)
	r.sessions[cfg.ID] = s
	r.created[cfg.ID] = time.Now()
	r.obs.ActiveSessions.Add(s.runCtx, 1)
	return s, nil
}

// Get returns the session with the given ID, or nil.
func (r *Registry) Get(id string) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sessions[id]
}

// List returns the registered sessions, oldest first.
func (r *Registry) List() []Info {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Info, 0, len(r.sessions))
	for id := range r.sessions {
		out = append(out, Info{ID: id, CreatedAt: r.created[id]})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// Remove destroys the session and drops it from the registry. No-op for
// unknown IDs.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	s, ok := r.sessions[id]
	delete(r.sessions, id)
	delete(r.created, id)
	r.mu.Unlock()

	if !ok {
		return
	}
	s.Destroy()
	r.obs.ActiveSessions.Add(s.runCtx, -1)
}

// Shutdown destroys every registered session.
func (r *Registry) Shutdown() {
	r.mu.Lock()
	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	r.mu.Unlock()

	for _, id := range ids {
		r.Remove(id)
	}
}
