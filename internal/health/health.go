// Package health exposes liveness and readiness endpoints for the coaching
// service. /healthz reports process liveness; /readyz additionally runs the
// registered checks (database connectivity, upstream reachability) and fails
// when any reports an error.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"
)

// Check probes a single dependency. Implementations should respect ctx and
// return quickly; the handler applies a timeout.
type Check func(ctx context.Context) error

// Checker aggregates named readiness checks and serves them over HTTP.
type Checker struct {
	mu     sync.RWMutex
	checks map[string]Check

	checkTimeout time.Duration
}

// NewChecker returns a Checker with no registered checks.
func NewChecker() *Checker {
	return &Checker{
		checks:       make(map[string]Check),
		checkTimeout: 3 * time.Second,
	}
}

// Register adds a named readiness check. Registering the same name twice
// replaces the previous check.
func (c *Checker) Register(name string, check Check) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.checks[name] = check
}

type checkResult struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

type readyResponse struct {
	Status string                 `json:"status"`
	Checks map[string]checkResult `json:"checks,omitempty"`
}

// Routes registers the health endpoints on mux.
func (c *Checker) Routes(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", c.handleHealthz)
	mux.HandleFunc("GET /readyz", c.handleReadyz)
}

func (c *Checker) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, readyResponse{Status: "ok"})
}

func (c *Checker) handleReadyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), c.checkTimeout)
	defer cancel()

	c.mu.RLock()
	checks := make(map[string]Check, len(c.checks))
	for name, check := range c.checks {
		checks[name] = check
	}
	c.mu.RUnlock()

	resp := readyResponse{Status: "ok", Checks: make(map[string]checkResult, len(checks))}
	status := http.StatusOK
	for name, check := range checks {
		if err := check(ctx); err != nil {
			resp.Checks[name] = checkResult{Status: "fail", Error: err.Error()}
			resp.Status = "fail"
			status = http.StatusServiceUnavailable
			continue
		}
		resp.Checks[name] = checkResult{Status: "ok"}
	}

	writeJSON(w, status, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
