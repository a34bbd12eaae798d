// Package connection owns the lifecycle of the streaming link to the voice
// service: dialing with timeout, the setup handshake, health probing,
// rate-limited sending, and backoff-driven reconnects. It publishes inbound
// envelopes and lifecycle errors over channels; conversational policy lives
// in the session layer.
package connection

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kinesia-ai/kinesia/internal/observe"
	"github.com/kinesia-ai/kinesia/internal/state"
	"github.com/kinesia-ai/kinesia/pkg/live"
)

const (
	// DefaultConnectTimeout bounds one attempt from dial to setup
	// acknowledgement.
	DefaultConnectTimeout = 30 * time.Second

	// DefaultProbeInterval is how often the health probe runs.
	DefaultProbeInterval = 60 * time.Second

	// DefaultProbeTimeout bounds one probe round trip.
	DefaultProbeTimeout = 5 * time.Second

	// DefaultIdleTimeout is how long the link may carry no application
	// traffic before the manager recycles it.
	DefaultIdleTimeout = 300 * time.Second

	// DefaultSendRate is the outbound message budget per second.
	DefaultSendRate = 25

	// defaultRetryAfter is the send pause applied when the server reports
	// rate exhaustion without a hint.
	defaultRetryAfter = 5 * time.Second
)

// credentialPattern is the shape of a well-formed API key. Checked before
// dialing so a bad key fails fast instead of burning reconnect attempts.
var credentialPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{20,}$`)

// Config holds the tunable knobs of a [Manager]. Zero values select the
// package defaults.
type Config struct {
	// BaseURL overrides the service endpoint. Empty selects the production
	// endpoint; tests point it at a local server.
	BaseURL string

	// Credential authenticates the connection.
	Credential string

	// Setup is sent as the first message on every (re)connected socket.
	Setup live.Setup

	ConnectTimeout time.Duration
	ProbeInterval  time.Duration
	ProbeTimeout   time.Duration
	IdleTimeout    time.Duration

	// SendRate is the outbound envelope budget in messages per second.
	SendRate int

	// AudioQueueCap bounds the audio lane of the send queue.
	AudioQueueCap int

	BaseDelay   time.Duration
	MaxDelay    time.Duration
	MaxAttempts int
}

func (c *Config) withDefaults() {
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = DefaultConnectTimeout
	}
	if c.ProbeInterval <= 0 {
		c.ProbeInterval = DefaultProbeInterval
	}
	if c.ProbeTimeout <= 0 {
		c.ProbeTimeout = DefaultProbeTimeout
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = DefaultIdleTimeout
	}
	if c.SendRate <= 0 {
		c.SendRate = DefaultSendRate
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = DefaultMaxAttempts
	}
}

// Option customises a [Manager].
type Option func(*Manager)

// WithDialer substitutes the transport dialer. Tests use this to inject an
// in-memory transport.
func WithDialer(d live.Dialer) Option {
	return func(m *Manager) { m.dialer = d }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) { m.log = l }
}

// WithTelemetry sets the OTel instrument set.
func WithTelemetry(om *observe.Metrics) Option {
	return func(m *Manager) { m.obs = om }
}

// WithJitter pins the backoff jitter source. Tests use this to make delay
// sequences deterministic.
func WithJitter(fn func() time.Duration) Option {
	return func(m *Manager) { m.backoff.jitter = fn }
}

// Manager supervises one logical connection across physical socket
// replacements. All methods are safe for concurrent use.
type Manager struct {
	cfg    Config
	dialer live.Dialer
	log    *slog.Logger
	obs    *observe.Metrics

	machine *state.Machine
	metrics *state.Metrics

	queue    *sendQueue
	backoff  *backoff
	attempts attemptLog

	incoming chan live.Envelope
	errs     chan error

	// disconnects carries the failure that killed the current socket from
	// whichever loop saw it first to the monitor.
	disconnects chan error

	lastTraffic atomic.Int64

	runCtx      context.Context
	runCancel   context.CancelFunc
	monitorOnce sync.Once
	wg          sync.WaitGroup

	mu         sync.Mutex
	credential string
	transport  live.Transport
	connCancel context.CancelFunc
	closed     bool
}

// NewManager creates a manager around the shared state machine and session
// metrics. It does not dial; call [Manager.Connect].
func NewManager(cfg Config, machine *state.Machine, metrics *state.Metrics, opts ...Option) *Manager {
	cfg.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		cfg:         cfg,
		dialer:      live.NewWebSocketDialer(cfg.BaseURL),
		log:         slog.Default(),
		obs:         observe.DefaultMetrics(),
		machine:     machine,
		metrics:     metrics,
		queue:       newSendQueue(cfg.AudioQueueCap),
		backoff:     newBackoff(cfg.BaseDelay, cfg.MaxDelay),
		incoming:    make(chan live.Envelope, 64),
		errs:        make(chan error, 8),
		disconnects: make(chan error, 1),
		runCtx:      ctx,
		runCancel:   cancel,
		credential:  cfg.Credential,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Incoming returns the stream of server envelopes. Setup acknowledgements,
// goAway, and error envelopes are consumed by the manager; everything else
// is delivered here. When the consumer lags, the oldest undelivered envelope
// is evicted.
func (m *Manager) Incoming() <-chan live.Envelope { return m.incoming }

// Errs returns lifecycle errors: rate-limit notices, exhausted reconnect
// cycles, server-initiated terminations.
func (m *Manager) Errs() <-chan error { return m.errs }

// Attempts returns the recent connection-attempt history, oldest first.
func (m *Manager) Attempts() []Attempt { return m.attempts.all() }

// Connect establishes the connection, retrying with exponential backoff on
// transport failures. It returns once the setup handshake is acknowledged,
// or with the terminal error once retries are exhausted or a non-retryable
// failure occurs. The credential is validated before the first dial; a bad
// credential never consumes an attempt.
func (m *Manager) Connect(ctx context.Context) error {
	if m.isClosed() {
		return live.ErrSessionClosed
	}
	if err := validateCredential(m.currentCredential()); err != nil {
		m.machine.Transition(state.Connecting)
		m.machine.Transition(state.Failed)
		m.metrics.SetLastError(err.Error())
		return err
	}
	ctx, span := observe.StartSpan(ctx, "connection.connect")
	defer span.End()
	if err := m.runAttempts(ctx); err != nil {
		return err
	}
	m.monitorOnce.Do(func() {
		m.wg.Add(1)
		go m.monitor()
	})
	return nil
}

// Submit queues an envelope for sending. Control envelopes are never
// dropped; audio envelopes evict the oldest queued chunk under pressure.
// When the connection cannot currently send, the envelope is discarded and
// counted — stale realtime input has no value after a reconnect.
func (m *Manager) Submit(env live.Envelope) error {
	if m.isClosed() {
		return live.ErrSessionClosed
	}
	if !m.machine.Current().CanSend() {
		m.metrics.RecordDroppedMessage()
		return nil
	}
	if env.Kind().Control() {
		m.queue.enqueueControl(env)
		return nil
	}
	if m.queue.enqueueAudio(env) {
		m.metrics.RecordDroppedMessage()
		m.obs.DroppedAudioMessages.Add(m.runCtx, 1)
	}
	return nil
}

// SwapCredential replaces the credential used for subsequent dials. The
// current socket keeps running; call [Manager.ForceReconnect] to apply the
// new credential immediately.
func (m *Manager) SwapCredential(credential string) error {
	if err := validateCredential(credential); err != nil {
		return err
	}
	m.mu.Lock()
	m.credential = credential
	m.mu.Unlock()
	return nil
}

// ForceReconnect recycles the current socket. The reconnect runs through the
// normal backoff cycle. No-op before the first successful [Manager.Connect].
func (m *Manager) ForceReconnect() {
	m.notifyDisconnect(&live.ConnectionError{Op: "reconnect", Err: errors.New("reconnect requested")})
}

// Disconnect gracefully closes the current socket and parks in
// Disconnected. No reconnect is scheduled; call [Manager.Connect] to resume.
// Idempotent: disconnecting an already-disconnected manager is a no-op.
func (m *Manager) Disconnect(reason string) {
	m.teardown(reason)
	m.machine.Transition(state.Disconnected)
}

// Close tears the connection down and releases all goroutines. Idempotent.
func (m *Manager) Close(reason string) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	m.runCancel()
	m.teardown(reason)
	m.machine.Transition(state.Terminated)
	m.wg.Wait()
	return nil
}

// ── Connect cycle ─────────────────────────────────────────────────────────────

func validateCredential(credential string) error {
	if credential == "" {
		return &live.AuthenticationError{Reason: "credential is empty"}
	}
	if !credentialPattern.MatchString(credential) {
		return &live.AuthenticationError{Reason: "credential has unexpected format"}
	}
	return nil
}

// runAttempts drives dial attempts until one succeeds, a terminal error
// occurs, or the attempt budget is spent.
func (m *Manager) runAttempts(ctx context.Context) error {
	var delay time.Duration
	for attempt := 1; ; attempt++ {
		if m.isClosed() {
			return live.ErrSessionClosed
		}
		m.machine.Transition(state.Connecting)

		start := time.Now()
		m.attempts.add(Attempt{Number: attempt, StartedAt: start, Backoff: delay, Outcome: OutcomePending})
		tr, err := m.open(ctx)
		done := Attempt{Number: attempt, StartedAt: start, Backoff: delay, Outcome: OutcomeSuccess}
		if err != nil {
			done.Outcome = OutcomeFailure
			done.Err = err.Error()
		}
		m.attempts.amend(done)

		if err == nil {
			m.obs.RecordConnectionAttempt(ctx, "success")
			m.obs.ConnectDuration.Record(ctx, time.Since(start).Seconds())
			m.backoff.reset()
			m.machine.Transition(state.Connected)
			m.adopt(tr)
			observe.Logger(ctx, m.log).Info("connected", "attempt", attempt)
			return nil
		}

		m.obs.RecordConnectionAttempt(ctx, "failure")
		m.metrics.SetLastError(err.Error())

		// A rate-limited dial pauses without spending an attempt.
		var rle *live.RateLimitError
		if errors.As(err, &rle) {
			m.log.Warn("rate limited during connect, pausing", "retry_after", rle.RetryAfter)
			attempt--
			if err := sleep(ctx, rle.RetryAfter); err != nil {
				m.machine.Transition(state.Failed)
				return err
			}
			continue
		}

		if !live.Retryable(err) {
			m.machine.Transition(state.Failed)
			return err
		}
		if attempt >= m.cfg.MaxAttempts {
			m.machine.Transition(state.Failed)
			return fmt.Errorf("connection: giving up after %d attempts: %w", attempt, err)
		}

		m.machine.Transition(state.Reconnecting)
		m.metrics.RecordReconnect()
		m.obs.Reconnects.Add(ctx, 1)

		delay = m.backoff.next()
		m.log.Warn("connection attempt failed, backing off",
			"attempt", attempt, "delay", delay, "error", err)
		if err := sleep(ctx, delay); err != nil {
			m.machine.Transition(state.Failed)
			return err
		}
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// open performs one attempt: dial, send setup, await the acknowledgement.
// The whole sequence shares one ConnectTimeout budget.
func (m *Manager) open(ctx context.Context) (live.Transport, error) {
	dctx, cancel := context.WithTimeout(ctx, m.cfg.ConnectTimeout)
	defer cancel()

	tr, err := m.dialer.Dial(dctx, m.currentCredential())
	if err != nil {
		return nil, err
	}

	data, err := live.Encode(m.cfg.Setup)
	if err != nil {
		tr.Close("invalid setup")
		return nil, err
	}
	if err := tr.Send(dctx, data); err != nil {
		tr.Close("setup send failed")
		return nil, err
	}

	raw, err := tr.Receive(dctx)
	if err != nil {
		tr.Close("setup ack failed")
		return nil, err
	}
	env, err := live.Decode(raw)
	if err != nil {
		tr.Close("malformed setup ack")
		return nil, &live.ConnectionError{Op: "setup", Err: err}
	}

	switch e := env.(type) {
	case live.SetupComplete:
		m.touch()
		return tr, nil
	case live.ServerError:
		tr.Close("setup rejected")
		return nil, classifyServerError(e)
	default:
		tr.Close("unexpected setup reply")
		return nil, &live.ConnectionError{
			Op:  "setup",
			Err: fmt.Errorf("unexpected %s before setup acknowledgement", env.Kind()),
		}
	}
}

func classifyServerError(e live.ServerError) error {
	switch {
	case e.Code == 401 || e.Code == 403 ||
		e.Status == "UNAUTHENTICATED" || e.Status == "PERMISSION_DENIED":
		return &live.AuthenticationError{Reason: e.Message}
	case e.Code == 429 || e.Status == "RESOURCE_EXHAUSTED":
		return &live.RateLimitError{RetryAfter: defaultRetryAfter}
	default:
		return &live.SessionError{Code: e.Code, Message: e.Message}
	}
}

// adopt installs tr as the current socket and starts its loops.
func (m *Manager) adopt(tr live.Transport) {
	cctx, cancel := context.WithCancel(m.runCtx)
	m.mu.Lock()
	m.transport = tr
	m.connCancel = cancel
	m.mu.Unlock()

	m.wg.Add(3)
	go m.readLoop(cctx, tr)
	go m.writeLoop(cctx, tr)
	go m.probeLoop(cctx, tr)
}

// teardown detaches and closes the current socket, stopping its loops.
func (m *Manager) teardown(reason string) {
	m.mu.Lock()
	tr, cancel := m.transport, m.connCancel
	m.transport, m.connCancel = nil, nil
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if tr != nil {
		tr.Close(reason)
	}
}

// monitor serialises recovery: it owns the decision between reconnecting and
// giving up, so concurrent loop failures cannot race the state machine. It
// runs for the whole life of the manager — a terminal outcome parks the state
// machine in Failed or Terminated but keeps the monitor listening, so a later
// explicit Connect gets supervised the same way the first one was.
func (m *Manager) monitor() {
	defer m.wg.Done()
	for {
		select {
		case <-m.runCtx.Done():
			return
		case err := <-m.disconnects:
			m.teardown("connection lost")
			if m.isClosed() {
				return
			}
			// A deliberate Disconnect may race a late failure notice from
			// the dying socket; the echo must not resurrect the link. The
			// same guard swallows echoes while parked in Failed or
			// Terminated.
			if st := m.machine.Current(); st == state.Disconnected || st.Terminal() {
				continue
			}
			if !live.Retryable(err) {
				m.machine.Transition(state.Terminated)
				m.pushErr(err)
				continue
			}

			m.log.Warn("connection lost, reconnecting", "error", err)
			m.machine.Transition(state.Reconnecting)
			m.metrics.RecordReconnect()
			m.obs.Reconnects.Add(m.runCtx, 1)

			if err := m.runAttempts(m.runCtx); err != nil {
				m.pushErr(err)
			}
		}
	}
}

// notifyDisconnect hands a socket failure to the monitor. Only the first
// failure per socket matters; later ones are echoes of the same teardown.
func (m *Manager) notifyDisconnect(err error) {
	select {
	case m.disconnects <- err:
	default:
	}
}

func (m *Manager) pushErr(err error) {
	for {
		select {
		case m.errs <- err:
			return
		default:
			select {
			case <-m.errs:
			default:
			}
		}
	}
}

// ── Socket loops ──────────────────────────────────────────────────────────────

func (m *Manager) readLoop(ctx context.Context, tr live.Transport) {
	defer m.wg.Done()
	for {
		data, err := tr.Receive(ctx)
		if err != nil {
			if ctx.Err() == nil {
				m.notifyDisconnect(err)
			}
			return
		}
		m.touch()

		env, err := live.Decode(data)
		if err != nil {
			m.obs.ProtocolErrors.Add(ctx, 1)
			m.log.Warn("dropping malformed server message", "error", err)
			continue
		}

		switch e := env.(type) {
		case live.GoAway:
			if e.TimeLeft > 0 {
				m.notifyDisconnect(&live.ConnectionError{
					Op:  "read",
					Err: fmt.Errorf("server going away in %s", e.TimeLeft),
				})
			} else {
				m.machine.Transition(state.Terminated)
				m.pushErr(&live.SessionError{Message: "server terminated the connection"})
			}
			return
		case live.ServerError:
			cerr := classifyServerError(e)
			var rle *live.RateLimitError
			if errors.As(cerr, &rle) {
				m.queue.pause(time.Now().Add(rle.RetryAfter))
				m.pushErr(cerr)
				continue
			}
			m.notifyDisconnect(cerr)
			return
		default:
			m.deliver(env)
		}
	}
}

// deliver forwards a server envelope to the consumer, evicting the oldest
// undelivered one when the channel is full.
func (m *Manager) deliver(env live.Envelope) {
	for {
		select {
		case m.incoming <- env:
			return
		default:
			select {
			case <-m.incoming:
				m.metrics.RecordDroppedMessage()
			default:
			}
		}
	}
}

func (m *Manager) writeLoop(ctx context.Context, tr live.Transport) {
	defer m.wg.Done()
	ticker := time.NewTicker(time.Second / time.Duration(m.cfg.SendRate))
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if m.queue.paused(time.Now()) {
				continue
			}
			ctl := m.queue.drainControl()
			for i, env := range ctl {
				if !m.send(ctx, tr, env) {
					m.queue.requeueControl(ctl[i:])
					return
				}
			}
			if env, ok := m.queue.popAudio(); ok {
				if !m.send(ctx, tr, env) {
					return
				}
			}
		}
	}
}

func (m *Manager) send(ctx context.Context, tr live.Transport, env live.Envelope) bool {
	data, err := live.Encode(env)
	if err != nil {
		m.log.Error("dropping unencodable envelope", "kind", env.Kind(), "error", err)
		return true
	}
	if err := tr.Send(ctx, data); err != nil {
		if ctx.Err() == nil {
			m.notifyDisconnect(err)
		}
		return false
	}
	m.touch()
	return true
}

func (m *Manager) probeLoop(ctx context.Context, tr live.Transport) {
	defer m.wg.Done()
	ticker := time.NewTicker(m.cfg.ProbeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if idle := time.Since(m.lastTrafficAt()); idle > m.cfg.IdleTimeout {
				m.notifyDisconnect(&live.ConnectionError{
					Op:  "idle",
					Err: fmt.Errorf("no traffic for %s", idle.Truncate(time.Second)),
				})
				return
			}

			pctx, cancel := context.WithTimeout(ctx, m.cfg.ProbeTimeout)
			start := time.Now()
			err := tr.Ping(pctx)
			cancel()
			if err != nil {
				if ctx.Err() == nil {
					m.notifyDisconnect(err)
				}
				return
			}
			// A probe response is traffic: a healthy but quiet link must
			// not hit the idle timeout.
			m.touch()
			rtt := time.Since(start)
			m.metrics.RecordRoundTrip(rtt)
			m.obs.ProbeRoundTrip.Record(ctx, rtt.Seconds())
		}
	}
}

// ── Small shared helpers ──────────────────────────────────────────────────────

func (m *Manager) isClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

func (m *Manager) currentCredential() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.credential
}

func (m *Manager) touch() {
	m.lastTraffic.Store(time.Now().UnixNano())
}

func (m *Manager) lastTrafficAt() time.Time {
	return time.Unix(0, m.lastTraffic.Load())
}
