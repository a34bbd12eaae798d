package audio

import "math"

// Quality scoring defaults.
const (
	DefaultQualityFloor   = 0.4
	DefaultQualityWindows = 5
)

// QualityTracker maintains a rolling 0–1 quality score over recent frames and
// raises a warning when the score stays below a floor for a configured number
// of consecutive windows.
//
// The score blends three signals: usable amplitude (too quiet scores low),
// clipping ratio (distorted input scores low), and an estimated
// signal-to-noise ratio against an adaptive noise floor.
//
// QualityTracker is not safe for concurrent use; the capture loop is its
// single caller.
type QualityTracker struct {
	floor   float64
	windows int

	noiseFloor float64
	rolling    float64
	haveScore  bool
	belowCount int
}

// NewQualityTracker creates a tracker that warns after `windows` consecutive
// windows score below `floor`. Non-positive arguments take the defaults.
func NewQualityTracker(floor float64, windows int) *QualityTracker {
	if floor <= 0 {
		floor = DefaultQualityFloor
	}
	if windows <= 0 {
		windows = DefaultQualityWindows
	}
	return &QualityTracker{floor: floor, windows: windows, noiseFloor: 0.001}
}

// Add scores one frame and folds it into the rolling quality metric. It
// returns the frame score and whether the low-quality warning threshold was
// crossed by this frame.
func (q *QualityTracker) Add(f *Frame) (score float64, warn bool) {
	score = q.score(f)

	const alpha = 0.3
	if !q.haveScore {
		q.rolling = score
		q.haveScore = true
	} else {
		q.rolling = alpha*score + (1-alpha)*q.rolling
	}

	if score < q.floor {
		q.belowCount++
	} else {
		q.belowCount = 0
	}
	// Warn exactly once per streak when the floor has been missed for the
	// configured number of windows.
	return score, q.belowCount == q.windows
}

// Rolling returns the exponentially-weighted rolling quality score.
func (q *QualityTracker) Rolling() float64 {
	return q.rolling
}

// score computes the 0–1 quality score for a single frame.
func (q *QualityTracker) score(f *Frame) float64 {
	// Track the noise floor as the slowly-decaying minimum RMS observed.
	if f.RMS < q.noiseFloor {
		q.noiseFloor = f.RMS
	} else {
		q.noiseFloor = 0.995*q.noiseFloor + 0.005*f.RMS
	}
	if q.noiseFloor < 1e-4 {
		q.noiseFloor = 1e-4
	}

	// Amplitude: full marks from ~ -36 dBFS upward.
	amp := f.RMS / 0.015
	if amp > 1 {
		amp = 1
	}

	// Clipping: a few percent of clipped samples is already audible.
	clip := 1 - f.ClippingRatio*20
	if clip < 0 {
		clip = 0
	}

	// SNR estimate: 20 dB above the noise floor scores 1.
	snrDB := 20 * math.Log10(math.Max(f.RMS, 1e-6)/q.noiseFloor)
	snr := snrDB / 20
	if snr > 1 {
		snr = 1
	}
	if snr < 0 {
		snr = 0
	}

	return 0.4*amp + 0.3*clip + 0.3*snr
}
