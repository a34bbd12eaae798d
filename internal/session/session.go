// Package session hosts the orchestrator: the façade that owns one coaching
// session's connection, audio pipeline, state machine, and observables. It
// applies the privacy policy to every upload decision and keeps cloud
// failures away from on-device processing.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kinesia-ai/kinesia/internal/connection"
	"github.com/kinesia-ai/kinesia/internal/observe"
	"github.com/kinesia-ai/kinesia/internal/privacy"
	"github.com/kinesia-ai/kinesia/internal/state"
	"github.com/kinesia-ai/kinesia/internal/transcript"
	"github.com/kinesia-ai/kinesia/internal/voicecmd"
	"github.com/kinesia-ai/kinesia/pkg/audio"
	"github.com/kinesia-ai/kinesia/pkg/live"
	"github.com/kinesia-ai/kinesia/pkg/pose"
)

// Response is one piece of assistant output republished to consumers.
type Response struct {
	Text         string
	Audio        *live.MediaChunk
	TurnComplete bool
	Interrupted  bool
	At           time.Time
}

// Transcription is one partial or final transcript line.
type Transcription struct {
	Speaker transcript.Speaker
	Text    string
	At      time.Time
}

// ToolHandler executes a tool call requested by the model and returns its
// result payload. Errors are reported back to the model, not to the user.
type ToolHandler func(ctx context.Context, call live.ToolCall) (map[string]any, error)

// Config assembles a session.
type Config struct {
	// ID identifies the session in logs, metrics, and the transcript store.
	ID string

	// Connection configures the connection manager.
	Connection connection.Config

	// Pipeline configures audio capture. Only used when an audio source is
	// attached via [WithAudioSource].
	Pipeline audio.PipelineConfig
}

// Option customises a [Session].
type Option func(*Session)

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Session) { s.log = l }
}

// WithPolicy sets the privacy policy gate. Default: uploads allowed.
func WithPolicy(p privacy.Policy) Option {
	return func(s *Session) { s.policy = p }
}

// WithAudioSource attaches a capture device. Without one the session runs
// text/pose-only.
func WithAudioSource(src audio.Source) Option {
	return func(s *Session) { s.source = src }
}

// WithTranscriptStore persists final transcript lines.
func WithTranscriptStore(store transcript.Store) Option {
	return func(s *Session) { s.store = store }
}

// WithCommandFilter enables spoken-command detection on user transcripts.
func WithCommandFilter(f *voicecmd.Filter) Option {
	return func(s *Session) { s.commands = f }
}

// WithToolHandler sets the executor for model-initiated tool calls. Without
// one, tool calls are answered with an error payload.
func WithToolHandler(h ToolHandler) Option {
	return func(s *Session) { s.tools = h }
}

// WithTelemetry sets the OTel instrument set.
func WithTelemetry(om *observe.Metrics) Option {
	return func(s *Session) { s.obs = om }
}

// WithConnectionOptions forwards options to the underlying connection
// manager (test dialers, jitter pinning).
func WithConnectionOptions(opts ...connection.Option) Option {
	return func(s *Session) { s.connOpts = append(s.connOpts, opts...) }
}

// Session is the orchestrator for one coaching interaction. All methods are
// safe for concurrent use.
type Session struct {
	id  string
	log *slog.Logger
	obs *observe.Metrics

	machine *state.Machine
	metrics *state.Metrics
	conn    *connection.Manager

	policy   privacy.Policy
	source   audio.Source
	pipeline *audio.Pipeline
	store    transcript.Store
	commands *voicecmd.Filter
	tools    ToolHandler
	connOpts []connection.Option

	// Observables. responses and transcriptions apply backpressure — losing
	// assistant output is unacceptable; the rest drop oldest under pressure.
	responses      chan Response
	transcriptions chan Transcription
	errs           chan error
	bargeIns       chan audio.BargeInEvent
	cmdMatches     chan voicecmd.Match

	runCtx context.Context
	cancel context.CancelFunc
	eg     *errgroup.Group

	mu            sync.Mutex
	dispatching   bool
	capturing     bool
	destroyed     bool
}

// New assembles a session. It does not dial; call [Session.Connect].
func New(cfg Config, opts ...Option) *Session {
	s := &Session{
		id:             cfg.ID,
		log:            slog.Default(),
		obs:            observe.DefaultMetrics(),
		machine:        state.NewMachine(),
		metrics:        state.NewMetrics(),
		policy:         privacy.Static{Audio: true, Landmarks: true},
		responses:      make(chan Response, 64),
		transcriptions: make(chan Transcription, 64),
		errs:           make(chan error, 16),
		bargeIns:       make(chan audio.BargeInEvent, 4),
		cmdMatches:     make(chan voicecmd.Match, 4),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.With("session_id", s.id)

	s.conn = connection.NewManager(cfg.Connection, s.machine, s.metrics,
		append([]connection.Option{
			connection.WithLogger(s.log),
			connection.WithTelemetry(s.obs),
		}, s.connOpts...)...)

	if s.source != nil {
		s.pipeline = audio.NewPipeline(s.source, cfg.Pipeline)
	}

	s.runCtx, s.cancel = context.WithCancel(context.Background())
	s.eg = new(errgroup.Group)
	return s
}

// ── Observables ───────────────────────────────────────────────────────────────

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// States returns session state changes, oldest evicted when the consumer
// lags.
func (s *Session) States() <-chan state.State { return s.machine.Changes() }

// State returns the current session state.
func (s *Session) State() state.State { return s.machine.Current() }

// Responses returns assistant output. The channel applies backpressure:
// consumers must keep reading or inbound dispatch stalls.
func (s *Session) Responses() <-chan Response { return s.responses }

// Transcriptions returns partial and final transcript lines, user and
// assistant interleaved in arrival order.
func (s *Session) Transcriptions() <-chan Transcription { return s.transcriptions }

// Errors returns non-fatal and terminal session errors for display.
func (s *Session) Errors() <-chan error { return s.errs }

// BargeIns returns barge-in events. The playback consumer stops assistant
// audio on receipt.
func (s *Session) BargeIns() <-chan audio.BargeInEvent { return s.bargeIns }

// Commands returns detected spoken control commands.
func (s *Session) Commands() <-chan voicecmd.Match { return s.cmdMatches }

// Metrics returns a point-in-time metrics snapshot.
func (s *Session) Metrics() state.Snapshot {
	snap := s.metrics.Snapshot()
	if s.pipeline != nil {
		snap.DroppedFrames += int64(s.pipeline.DroppedFrames())
	}
	return snap
}

// Attempts returns the recent connection-attempt history.
func (s *Session) Attempts() []connection.Attempt { return s.conn.Attempts() }

// ── Lifecycle ─────────────────────────────────────────────────────────────────

// Connect dials the voice service and starts inbound dispatch. Offline mode
// short-circuits: the session stays local-only and Connect is a no-op.
func (s *Session) Connect(ctx context.Context) error {
	if s.isDestroyed() {
		return live.ErrSessionClosed
	}
	if s.policy.OfflineMode() {
		s.log.Info("offline mode, staying local-only")
		return nil
	}
	if err := s.conn.Connect(ctx); err != nil {
		return err
	}

	s.mu.Lock()
	if !s.dispatching {
		s.dispatching = true
		s.eg.Go(s.dispatchLoop)
		s.eg.Go(s.connErrorLoop)
	}
	s.mu.Unlock()
	return nil
}

// Start begins a recording interaction: the session moves to Active and, if
// a capture source is attached, the audio pipeline starts feeding the send
// queue. Idempotent while Active.
func (s *Session) Start() error {
	if s.isDestroyed() {
		return live.ErrSessionClosed
	}
	cur := s.machine.Current()
	if cur == state.Active {
		return nil
	}
	if !s.machine.Transition(state.Active) {
		return fmt.Errorf("session: cannot start recording in state %s", cur)
	}

	s.mu.Lock()
	if s.pipeline != nil {
		if !s.capturing {
			s.capturing = true
			s.eg.Go(s.pipelineLoop)
			s.eg.Go(s.forwardLoop)
		}
		s.pipeline.Resume()
	}
	s.mu.Unlock()
	return nil
}

// Stop ends the recording interaction, returning to Connected. Capture is
// paused, so the microphone is not read again until the next Start. Always
// succeeds, including when recording never started.
func (s *Session) Stop() {
	if s.pipeline != nil {
		s.pipeline.SetAssistantSpeaking(false)
		s.pipeline.Pause()
	}
	s.machine.Transition(state.Connected)
}

// Disconnect gracefully closes the connection without destroying the
// session. Idempotent.
func (s *Session) Disconnect() {
	s.Stop()
	s.conn.Disconnect("user requested")
}

// Destroy tears the whole session down: all loops stop, the transport
// closes, and the observable channels are closed. Safe to call from any
// state, including mid-reconnect. Idempotent.
func (s *Session) Destroy() {
	s.mu.Lock()
	if s.destroyed {
		s.mu.Unlock()
		return
	}
	s.destroyed = true
	s.mu.Unlock()

	s.cancel()
	s.conn.Close("session destroyed")
	if s.source != nil {
		if err := s.source.Close(); err != nil {
			s.log.Warn("closing audio source", "error", err)
		}
	}
	_ = s.eg.Wait()

	close(s.responses)
	close(s.transcriptions)
	close(s.errs)
	close(s.bargeIns)
	close(s.cmdMatches)
}

func (s *Session) isDestroyed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.destroyed
}

// ── External inputs ───────────────────────────────────────────────────────────

// UpdateContext forwards a pose snapshot to the model as conversational
// context. Silently discarded when the session cannot send or the privacy
// policy forbids landmark upload — missing pose context degrades the
// coaching, it must never fail the session.
func (s *Session) UpdateContext(snap pose.Snapshot) error {
	if s.isDestroyed() {
		return live.ErrSessionClosed
	}
	if s.policy.OfflineMode() || !s.policy.LandmarkUploadAllowed() {
		return nil
	}
	if !s.machine.Current().CanSend() {
		return nil
	}
	payload, err := snap.Payload()
	if err != nil {
		return fmt.Errorf("session: encode pose snapshot: %w", err)
	}
	return s.conn.Submit(live.ClientContent{
		Turns: []live.Turn{{Role: "user", Text: payload}},
	})
}

// SubmitAudioFrame queues one captured frame for upload under the same
// privacy and state gating as pose context.
func (s *Session) SubmitAudioFrame(f audio.Frame) error {
	if s.isDestroyed() {
		return live.ErrSessionClosed
	}
	if s.policy.OfflineMode() || !s.policy.AudioUploadAllowed() {
		return nil
	}
	if !s.machine.Current().CanSend() {
		s.metrics.RecordDroppedFrames(1)
		return nil
	}
	return s.conn.Submit(live.RealtimeInput{
		Audio: &live.MediaChunk{
			MIMEType: fmt.Sprintf("audio/pcm;rate=%d", f.SampleRate),
			Data:     f.Samples,
		},
	})
}

// SwapCredential installs a fresh credential and recycles the connection so
// it takes effect immediately.
func (s *Session) SwapCredential(credential string) error {
	if err := s.conn.SwapCredential(credential); err != nil {
		return err
	}
	s.conn.ForceReconnect()
	return nil
}

// ForceReconnect recycles the connection through the normal backoff cycle.
func (s *Session) ForceReconnect() { s.conn.ForceReconnect() }

// ── Loops ─────────────────────────────────────────────────────────────────────

// dispatchLoop routes inbound envelopes to observables, the transcript
// store, the command filter, and the tool handler.
func (s *Session) dispatchLoop() error {
	for {
		select {
		case <-s.runCtx.Done():
			return nil
		case env := <-s.conn.Incoming():
			switch e := env.(type) {
			case live.ServerContent:
				s.handleServerContent(e)
			case live.ToolCall:
				s.handleToolCall(e)
			default:
				s.log.Debug("ignoring inbound envelope", "kind", env.Kind())
			}
		}
	}
}

func (s *Session) handleServerContent(e live.ServerContent) {
	now := time.Now()

	if s.pipeline != nil {
		if e.Audio != nil {
			s.pipeline.SetAssistantSpeaking(true)
		}
		if e.TurnComplete || e.Interrupted {
			s.pipeline.SetAssistantSpeaking(false)
		}
	}

	if e.Text != "" || e.Audio != nil || e.TurnComplete || e.Interrupted {
		s.emitResponse(Response{
			Text:         e.Text,
			Audio:        e.Audio,
			TurnComplete: e.TurnComplete,
			Interrupted:  e.Interrupted,
			At:           now,
		})
	}

	if e.InputTranscription != "" {
		s.emitTranscription(Transcription{
			Speaker: transcript.SpeakerUser,
			Text:    e.InputTranscription,
			At:      now,
		})
		s.checkCommand(e.InputTranscription)
	}
	if e.OutputTranscription != "" {
		s.emitTranscription(Transcription{
			Speaker: transcript.SpeakerAssistant,
			Text:    e.OutputTranscription,
			At:      now,
		})
	}
}

// emitResponse publishes assistant output with backpressure.
func (s *Session) emitResponse(r Response) {
	select {
	case s.responses <- r:
	case <-s.runCtx.Done():
	}
}

func (s *Session) emitTranscription(tr Transcription) {
	if s.store != nil {
		if err := s.store.Append(s.runCtx, transcript.Entry{
			SessionID: s.id,
			Speaker:   tr.Speaker,
			Text:      tr.Text,
			At:        tr.At,
		}); err != nil {
			s.log.Warn("persisting transcript line", "error", err)
		}
	}
	select {
	case s.transcriptions <- tr:
	case <-s.runCtx.Done():
	}
}

// checkCommand runs the spoken-command filter on a user transcript and
// applies the recognised action.
func (s *Session) checkCommand(text string) {
	if s.commands == nil {
		return
	}
	match, ok := s.commands.Detect(text)
	if !ok {
		return
	}
	s.log.Info("voice command detected",
		"command", match.Command, "confidence", match.Confidence)

	select {
	case s.cmdMatches <- match:
	default:
	}

	switch match.Command {
	case voicecmd.CmdPause, voicecmd.CmdStop:
		s.Stop()
	case voicecmd.CmdResume:
		if err := s.Start(); err != nil {
			s.pushErr(err)
		}
	case voicecmd.CmdRepeat:
		err := s.conn.Submit(live.ClientContent{
			Turns:        []live.Turn{{Role: "user", Text: "Please repeat your last instruction."}},
			TurnComplete: true,
		})
		if err != nil {
			s.pushErr(err)
		}
	}
}

func (s *Session) handleToolCall(call live.ToolCall) {
	result := map[string]any{}
	if s.tools == nil {
		result["error"] = fmt.Sprintf("no handler for tool %q", call.Name)
	} else if res, err := s.tools(s.runCtx, call); err != nil {
		s.log.Warn("tool call failed", "tool", call.Name, "error", err)
		result["error"] = err.Error()
	} else {
		result = res
	}

	if err := s.conn.Submit(live.ToolResponse{CallID: call.CallID, Name: call.Name, Result: result}); err != nil {
		s.pushErr(err)
	}
}

// connErrorLoop republishes connection lifecycle errors. Cloud failures
// reach consumers as values on the errors stream, never as anything that
// halts pose or audio processing.
func (s *Session) connErrorLoop() error {
	for {
		select {
		case <-s.runCtx.Done():
			return nil
		case err := <-s.conn.Errs():
			s.metrics.SetLastError(err.Error())
			s.pushErr(err)
		}
	}
}

// pushErr publishes to the errors stream, evicting the oldest entry when
// the consumer lags.
func (s *Session) pushErr(err error) {
	for {
		select {
		case s.errs <- err:
			return
		case <-s.runCtx.Done():
			return
		default:
			select {
			case <-s.errs:
			default:
			}
		}
	}
}

// pipelineLoop runs audio capture and forwards frames while recording is
// active. A capture failure is isolated: it surfaces on the errors stream
// and the session continues without audio.
func (s *Session) pipelineLoop() error {
	if err := s.pipeline.Run(s.runCtx); err != nil {
		s.log.Warn("audio pipeline stopped", "error", err)
		s.metrics.SetLastError(err.Error())
		s.pushErr(err)
	}
	return nil
}

func (s *Session) forwardLoop() error {
	for {
		select {
		case <-s.runCtx.Done():
			return nil
		case f, ok := <-s.pipeline.Frames():
			if !ok {
				return nil
			}
			if s.machine.Current() != state.Active {
				continue
			}
			s.obs.AudioQuality.Record(s.runCtx, s.pipeline.Quality())
			if err := s.SubmitAudioFrame(f); err != nil {
				s.pushErr(err)
			}
		case ev, ok := <-s.pipeline.BargeIns():
			if !ok {
				return nil
			}
			s.metrics.RecordBargeIn()
			s.obs.BargeIns.Add(s.runCtx, 1)
			select {
			case s.bargeIns <- ev:
			default:
			}
		}
	}
}
