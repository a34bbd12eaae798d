package audio

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kinesia-ai/kinesia/pkg/live"
)

// Default capture cadence. Long chunks keep overhead low while the assistant
// is silent; short chunks keep barge-in detection latency inside the budget
// while it talks.
const (
	DefaultBaseChunk  = 1000 * time.Millisecond
	DefaultArmedChunk = 100 * time.Millisecond
	DefaultSampleRate = 16000
)

// Source supplies raw PCM from a capture device. Read blocks until d worth of
// audio is available (or ctx is cancelled) and returns s16le mono samples at
// the pipeline's sample rate.
type Source interface {
	Read(ctx context.Context, d time.Duration) ([]byte, error)
	Close() error
}

// PipelineState is the capture sub-state nested under an active session.
type PipelineState int32

const (
	// StateIdle means the capture loop is not running.
	StateIdle PipelineState = iota

	// StateCapturing means frames are flowing but no speech is detected.
	StateCapturing

	// StateSpeaking means a speech segment is in progress.
	StateSpeaking

	// StateCooldown follows a barge-in emission until cooldown elapses or
	// silence resumes.
	StateCooldown
)

// String returns the human-readable name of the state.
func (s PipelineState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateCapturing:
		return "capturing"
	case StateSpeaking:
		return "speaking"
	case StateCooldown:
		return "cooldown"
	default:
		return "unknown"
	}
}

// PipelineConfig tunes a [Pipeline]. Zero fields take package defaults.
type PipelineConfig struct {
	SampleRate int
	BaseChunk  time.Duration
	ArmedChunk time.Duration

	Detector DetectorConfig

	QualityFloor   float64
	QualityWindows int

	// FrameBuffer is the depth of the outbound frame channel. Frames that
	// cannot be buffered are dropped with a counter increment — audio is
	// the one stream where losing data beats blocking capture.
	FrameBuffer int
}

func (c PipelineConfig) withDefaults() PipelineConfig {
	if c.SampleRate <= 0 {
		c.SampleRate = DefaultSampleRate
	}
	if c.BaseChunk <= 0 {
		c.BaseChunk = DefaultBaseChunk
	}
	if c.ArmedChunk <= 0 {
		c.ArmedChunk = DefaultArmedChunk
	}
	if c.FrameBuffer <= 0 {
		c.FrameBuffer = 32
	}
	return c
}

// Pipeline runs the capture loop: it pulls chunks from a [Source], analyses
// them, feeds the [Detector], scores quality, and publishes frames and
// barge-in events on bounded channels.
//
// A Pipeline is single-use: construct, Run, and discard.
type Pipeline struct {
	cfg     PipelineConfig
	src     Source
	det     *Detector
	quality *QualityTracker

	frames   chan Frame
	bargeIns chan BargeInEvent

	armed   atomic.Bool
	state   atomic.Int32
	dropped atomic.Uint64

	mu      sync.Mutex
	paused  bool
	resumed chan struct{}
}

// NewPipeline creates a pipeline reading from src.
func NewPipeline(src Source, cfg PipelineConfig) *Pipeline {
	cfg = cfg.withDefaults()
	return &Pipeline{
		cfg:      cfg,
		src:      src,
		det:      NewDetector(cfg.Detector),
		quality:  NewQualityTracker(cfg.QualityFloor, cfg.QualityWindows),
		frames:   make(chan Frame, cfg.FrameBuffer),
		bargeIns: make(chan BargeInEvent, 4),
	}
}

// Frames returns the channel of captured frames. It is closed when the
// capture loop exits.
func (p *Pipeline) Frames() <-chan Frame { return p.frames }

// BargeIns returns the channel of barge-in events. It is closed when the
// capture loop exits.
func (p *Pipeline) BargeIns() <-chan BargeInEvent { return p.bargeIns }

// SetAssistantSpeaking arms or disarms barge-in mode. While armed the
// pipeline shortens its chunk duration to minimise detection latency.
func (p *Pipeline) SetAssistantSpeaking(speaking bool) {
	p.armed.Store(speaking)
}

// State returns the current capture sub-state.
func (p *Pipeline) State() PipelineState {
	return PipelineState(p.state.Load())
}

// Pause suspends capture: the loop stops reading from the source and the
// sub-state returns to idle until [Pipeline.Resume]. The detector is reset so
// a half-heard segment cannot fire after capture restarts. Idempotent.
func (p *Pipeline) Pause() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.paused {
		return
	}
	p.paused = true
	p.resumed = make(chan struct{})
	p.det.Reset()
	p.state.Store(int32(StateIdle))
}

// Resume restarts capture after a [Pipeline.Pause]. Idempotent.
func (p *Pipeline) Resume() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.paused {
		return
	}
	p.paused = false
	close(p.resumed)
}

// awaitResume blocks while the pipeline is paused. It returns false when ctx
// ends before capture may continue.
func (p *Pipeline) awaitResume(ctx context.Context) bool {
	waited := false
	for {
		p.mu.Lock()
		paused, resumed := p.paused, p.resumed
		p.mu.Unlock()
		if !paused {
			if waited {
				p.state.Store(int32(StateCapturing))
			}
			return true
		}
		waited = true
		p.state.Store(int32(StateIdle))
		select {
		case <-resumed:
		case <-ctx.Done():
			return false
		}
	}
}

// Quality returns the rolling 0–1 audio quality score.
func (p *Pipeline) Quality() float64 { return p.quality.Rolling() }

// DroppedFrames returns how many frames were discarded because the consumer
// fell behind.
func (p *Pipeline) DroppedFrames() uint64 { return p.dropped.Load() }

// Run executes the capture loop until ctx is cancelled or the source fails.
// A source failure is returned as a *live.AudioError; the caller surfaces it
// and continues the session without audio. Run closes both channels on exit.
func (p *Pipeline) Run(ctx context.Context) error {
	defer close(p.frames)
	defer close(p.bargeIns)
	defer p.state.Store(int32(StateIdle))
	defer p.det.Reset()

	p.state.Store(int32(StateCapturing))

	for {
		if err := ctx.Err(); err != nil {
			return nil
		}
		if !p.awaitResume(ctx) {
			return nil
		}

		data, err := p.src.Read(ctx, p.chunkDuration())
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil
			}
			return &live.AudioError{Op: "capture", Err: err}
		}

		frame := AnalyzeFrame(data, p.cfg.SampleRate, time.Now())
		score, warn := p.quality.Add(&frame)
		if warn {
			slog.Warn("audio quality below floor",
				"score", score,
				"rolling", p.quality.Rolling(),
				"clipping_ratio", frame.ClippingRatio,
			)
		}

		ev, bargeIn := p.det.Process(&frame, p.armed.Load())
		p.advanceState(ev, bargeIn)

		if bargeIn != nil {
			select {
			case p.bargeIns <- *bargeIn:
			default:
				// The playback consumer is gone; the event is moot.
			}
		}

		select {
		case p.frames <- frame:
		default:
			p.dropped.Add(1)
		}
	}
}

// advanceState updates the capture sub-state from the detector event.
func (p *Pipeline) advanceState(ev Event, bargeIn *BargeInEvent) {
	switch {
	case bargeIn != nil:
		p.state.Store(int32(StateCooldown))
	case ev == EventSpeechStart:
		p.state.Store(int32(StateSpeaking))
	case ev == EventSpeechEnd, ev == EventSilence:
		p.state.Store(int32(StateCapturing))
	case ev == EventSpeechContinue && p.State() == StateCooldown:
		// Hold cooldown until the segment ends.
	}
}

// chunkDuration selects the capture chunk size for the next read. Barge-in
// mode always wins; otherwise poor measured quality halves the chunk so that
// a bad stretch of audio costs less to re-process.
func (p *Pipeline) chunkDuration() time.Duration {
	if p.armed.Load() {
		return p.cfg.ArmedChunk
	}
	if p.quality.Rolling() > 0 && p.quality.Rolling() < p.quality.floor {
		half := p.cfg.BaseChunk / 2
		if half < p.cfg.ArmedChunk {
			return p.cfg.ArmedChunk
		}
		return half
	}
	return p.cfg.BaseChunk
}
