// Package app wires the kinesia subsystems into a running service.
//
// The App struct owns the full lifecycle: New connects the transcript store
// and assembles the session registry and HTTP surface, Run serves until the
// context is cancelled, and Shutdown tears everything down in order.
//
// For testing, inject doubles via functional options (WithTranscriptStore,
// WithSessionOptions, etc.). When an option is not provided, New creates real
// implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/kinesia-ai/kinesia/internal/config"
	"github.com/kinesia-ai/kinesia/internal/health"
	"github.com/kinesia-ai/kinesia/internal/observe"
	"github.com/kinesia-ai/kinesia/internal/session"
	"github.com/kinesia-ai/kinesia/internal/transcript"
	"github.com/kinesia-ai/kinesia/internal/transcript/postgres"
)

// App owns all subsystem lifetimes and exposes the session control plane
// over HTTP.
type App struct {
	cfg *config.Config
	log *slog.Logger
	obs *observe.Metrics

	registry    *session.Registry
	store       transcript.Store
	checker     *health.Checker
	srv         *http.Server
	sessionOpts []session.Option

	stopOnce sync.Once
}

// Option is a functional option for [New]. Use these to inject test doubles.
type Option func(*App)

// WithLogger sets the logger. Defaults to [slog.Default].
func WithLogger(l *slog.Logger) Option {
	return func(a *App) { a.log = l }
}

// WithTelemetry sets the metric instruments shared with all sessions.
func WithTelemetry(om *observe.Metrics) Option {
	return func(a *App) { a.obs = om }
}

// WithTranscriptStore injects a transcript store instead of creating one
// from the config.
func WithTranscriptStore(store transcript.Store) Option {
	return func(a *App) { a.store = store }
}

// WithSessionOptions appends options passed to every session the HTTP API
// creates. Tests use this to swap in a fake dialer.
func WithSessionOptions(opts ...session.Option) Option {
	return func(a *App) { a.sessionOpts = append(a.sessionOpts, opts...) }
}

// New assembles the application. It connects to PostgreSQL when a DSN is
// configured and falls back to the in-memory transcript store otherwise.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	a := &App{
		cfg:     cfg,
		log:     slog.Default(),
		obs:     observe.DefaultMetrics(),
		checker: health.NewChecker(),
	}
	for _, o := range opts {
		o(a)
	}

	if a.store == nil {
		if dsn := cfg.Transcripts.PostgresDSN; dsn != "" {
			store, err := postgres.NewStore(ctx, dsn)
			if err != nil {
				return nil, fmt.Errorf("app: connect transcript store: %w", err)
			}
			a.store = store
			a.checker.Register("transcripts", store.Ping)
			a.log.Info("transcript store connected", "backend", "postgres")
		} else {
			a.store = transcript.NewMemory(0)
			a.log.Info("transcript store connected", "backend", "memory")
		}
	}

	a.registry = session.NewRegistry(a.obs)

	mux := http.NewServeMux()
	a.routes(mux)
	a.checker.Routes(mux)
	mux.Handle("GET /metrics", promhttp.Handler())

	a.srv = &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           observe.HTTPMiddleware(a.obs, mux),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return a, nil
}

// Handler returns the full HTTP surface. Used by tests via httptest.
func (a *App) Handler() http.Handler { return a.srv.Handler }

// Registry returns the session registry.
func (a *App) Registry() *session.Registry { return a.registry }

// Run serves HTTP until ctx is cancelled, then drains in-flight requests.
func (a *App) Run(ctx context.Context) error {
	a.log.Info("listening", "addr", a.srv.Addr)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := a.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("app: serve: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		drainCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return a.srv.Shutdown(drainCtx)
	})
	return g.Wait()
}

// Shutdown destroys all sessions and releases the transcript store. Safe to
// call more than once.
func (a *App) Shutdown(ctx context.Context) error {
	var err error
	a.stopOnce.Do(func() {
		a.registry.Shutdown()
		a.store.Close()
		err = a.srv.Shutdown(ctx)
	})
	return err
}
