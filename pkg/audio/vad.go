package audio

import "time"

// Default VAD tuning. The amplitude threshold was tuned empirically against
// consumer microphones; expose everything through [DetectorConfig] so real
// hardware can be calibrated without a rebuild.
const (
	DefaultThreshold  = 0.02
	DefaultMinBargeIn = 500 * time.Millisecond
	DefaultCooldown   = 500 * time.Millisecond
	DefaultHangover   = 300 * time.Millisecond
)

// Event is the VAD classification of one frame.
type Event int

const (
	// EventSilence indicates no speech detected.
	EventSilence Event = iota

	// EventSpeechStart indicates speech has just begun.
	EventSpeechStart

	// EventSpeechContinue indicates ongoing speech.
	EventSpeechContinue

	// EventSpeechEnd indicates a speech segment has just ended.
	EventSpeechEnd
)

// String returns the human-readable name of the event.
func (e Event) String() string {
	switch e {
	case EventSilence:
		return "silence"
	case EventSpeechStart:
		return "speech_start"
	case EventSpeechContinue:
		return "speech_continue"
	case EventSpeechEnd:
		return "speech_end"
	default:
		return "unknown"
	}
}

// VoiceActivityState is the observable detection state of a session. There is
// exactly one per session; it is mutated only by the owning [Detector] and
// read through [Detector.State].
type VoiceActivityState struct {
	// Speaking reports whether a speech segment is in progress.
	Speaking bool

	// ConsecutiveSpeech is the accumulated duration of the current speech
	// segment.
	ConsecutiveSpeech time.Duration

	// ConsecutiveSilence is the accumulated duration since the last
	// speech-classified frame.
	ConsecutiveSilence time.Duration

	// LastBargeIn is the capture timestamp of the most recent barge-in
	// event. Zero until the first barge-in; never cleared afterwards.
	LastBargeIn time.Time
}

// BargeInEvent is emitted when the user starts speaking over the assistant's
// audio output. The playback consumer must stop immediately on receipt.
type BargeInEvent struct {
	// At is the capture timestamp of the frame that crossed the barge-in
	// duration requirement.
	At time.Time

	// SpeechFor is how long the user had been speaking when the event fired.
	SpeechFor time.Duration
}

// DetectorConfig tunes the energy detector. Zero fields take the package
// defaults.
type DetectorConfig struct {
	// Threshold is the normalised RMS amplitude above which a frame is
	// classified as speech.
	Threshold float64

	// MinBargeIn is the minimum continuous speech duration before a
	// barge-in fires while the assistant is talking.
	MinBargeIn time.Duration

	// Cooldown is the minimum gap between consecutive barge-in events.
	Cooldown time.Duration

	// Hangover is the silence duration tolerated inside a speech segment
	// before the segment is considered ended.
	Hangover time.Duration
}

func (c DetectorConfig) withDefaults() DetectorConfig {
	if c.Threshold <= 0 {
		c.Threshold = DefaultThreshold
	}
	if c.MinBargeIn <= 0 {
		c.MinBargeIn = DefaultMinBargeIn
	}
	if c.Cooldown <= 0 {
		c.Cooldown = DefaultCooldown
	}
	if c.Hangover <= 0 {
		c.Hangover = DefaultHangover
	}
	return c
}

// Detector is an energy-based voice activity detector with single-fire
// barge-in semantics. It is stateful per session and not safe for concurrent
// use; the capture loop is its single caller.
//
// Time is derived from frame durations and capture timestamps, never from the
// wall clock, so synthetic amplitude traces in tests behave exactly like live
// audio.
type Detector struct {
	cfg   DetectorConfig
	state VoiceActivityState

	// fired suppresses further barge-ins until the current speech segment
	// returns to silence.
	fired bool
}

// NewDetector creates a detector with cfg, applying defaults to zero fields.
func NewDetector(cfg DetectorConfig) *Detector {
	return &Detector{cfg: cfg.withDefaults()}
}

// State returns a snapshot of the current voice activity state.
func (d *Detector) State() VoiceActivityState { return d.state }

// Reset clears segment state (speaking flag, counters, barge-in arming)
// without discarding LastBargeIn. Use it when capture restarts so stale
// state from the previous segment cannot trigger a spurious event.
func (d *Detector) Reset() {
	d.state.Speaking = false
	d.state.ConsecutiveSpeech = 0
	d.state.ConsecutiveSilence = 0
	d.fired = false
}

// Process classifies one frame, updates the activity counters, and reports
// whether a barge-in fired. assistantSpeaking arms barge-in detection: events
// fire only while the remote assistant is producing audio output.
//
// A barge-in fires at most once per speech segment, only after
// ConsecutiveSpeech reaches MinBargeIn, and only when at least Cooldown has
// elapsed since the previous event.
func (d *Detector) Process(f *Frame, assistantSpeaking bool) (Event, *BargeInEvent) {
	f.SpeechLikely = f.RMS > d.cfg.Threshold

	if f.SpeechLikely {
		ev := EventSpeechContinue
		if !d.state.Speaking {
			d.state.Speaking = true
			d.state.ConsecutiveSpeech = 0
			ev = EventSpeechStart
		}
		d.state.ConsecutiveSpeech += f.Duration
		d.state.ConsecutiveSilence = 0

		if assistantSpeaking && !d.fired && d.state.ConsecutiveSpeech >= d.cfg.MinBargeIn {
			if d.state.LastBargeIn.IsZero() || f.CapturedAt.Sub(d.state.LastBargeIn) >= d.cfg.Cooldown {
				d.fired = true
				d.state.LastBargeIn = f.CapturedAt
				return ev, &BargeInEvent{At: f.CapturedAt, SpeechFor: d.state.ConsecutiveSpeech}
			}
		}
		return ev, nil
	}

	d.state.ConsecutiveSilence += f.Duration
	if d.state.Speaking {
		if d.state.ConsecutiveSilence < d.cfg.Hangover {
			// Brief dip inside an ongoing segment.
			return EventSpeechContinue, nil
		}
		d.state.Speaking = false
		d.state.ConsecutiveSpeech = 0
		d.fired = false
		return EventSpeechEnd, nil
	}
	return EventSilence, nil
}
