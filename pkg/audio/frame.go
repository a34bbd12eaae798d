// Package audio implements the capture-side audio pipeline of a coaching
// session: frame analysis, energy-based voice activity detection, barge-in
// detection, per-frame quality scoring, and an adaptive capture loop that
// shortens chunks when low latency matters.
//
// Frames are raw little-endian 16-bit mono PCM. The pipeline never retains a
// frame beyond handing it to its consumer.
package audio

import (
	"math"
	"time"
)

// Frame is one captured chunk of microphone audio together with its analysis
// results. A frame is consumed exactly once and then released.
type Frame struct {
	// Samples is raw s16le mono PCM.
	Samples []byte

	// SampleRate in Hz.
	SampleRate int

	// Duration of the audio in this frame.
	Duration time.Duration

	// CapturedAt is the capture timestamp.
	CapturedAt time.Time

	// RMS is the normalised root-mean-square amplitude in [0, 1].
	RMS float64

	// ClippingRatio is the fraction of samples at or near full scale.
	ClippingRatio float64

	// SpeechLikely is the VAD classification for this frame.
	SpeechLikely bool
}

// clipLevel is the absolute sample value above which a sample counts as
// clipped. Slightly below full scale so that limiter-flattened peaks register.
const clipLevel = 32700

// AnalyzeFrame computes amplitude statistics for raw PCM and wraps it in a
// Frame. The SpeechLikely field is left false; classification belongs to the
// [Detector].
func AnalyzeFrame(samples []byte, sampleRate int, capturedAt time.Time) Frame {
	n := len(samples) / 2
	f := Frame{
		Samples:    samples,
		SampleRate: sampleRate,
		CapturedAt: capturedAt,
	}
	if sampleRate > 0 {
		f.Duration = time.Duration(n) * time.Second / time.Duration(sampleRate)
	}
	if n == 0 {
		return f
	}

	var sumSquares float64
	clipped := 0
	for i := 0; i+1 < len(samples); i += 2 {
		s := int16(uint16(samples[i]) | uint16(samples[i+1])<<8)
		v := float64(s)
		sumSquares += v * v
		if s >= clipLevel || s <= -clipLevel {
			clipped++
		}
	}
	f.RMS = math.Sqrt(sumSquares/float64(n)) / 32768.0
	f.ClippingRatio = float64(clipped) / float64(n)
	return f
}
