package audio

import (
	"encoding/binary"
	"math"
	"testing"
	"time"
)

// pcm builds n samples of constant-amplitude s16le PCM.
func pcm(amplitude int16, n int) []byte {
	out := make([]byte, n*2)
	for i := 0; i < n; i++ {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(amplitude))
	}
	return out
}

func TestAnalyzeFrame_RMS(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		amplitude int16
		wantRMS   float64
	}{
		{"silence", 0, 0},
		{"quiet", 328, 0.01},
		{"loud", 16384, 0.5},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			f := AnalyzeFrame(pcm(tc.amplitude, 160), 16000, time.Now())
			if math.Abs(f.RMS-tc.wantRMS) > 0.001 {
				t.Errorf("RMS = %f; want %f ± 0.001", f.RMS, tc.wantRMS)
			}
		})
	}
}

func TestAnalyzeFrame_Duration(t *testing.T) {
	t.Parallel()

	// 160 samples at 16 kHz is 10 ms.
	f := AnalyzeFrame(pcm(0, 160), 16000, time.Now())
	if f.Duration != 10*time.Millisecond {
		t.Errorf("Duration = %s; want 10ms", f.Duration)
	}
}

func TestAnalyzeFrame_ClippingRatio(t *testing.T) {
	t.Parallel()

	samples := append(pcm(32767, 50), pcm(1000, 50)...)
	f := AnalyzeFrame(samples, 16000, time.Now())
	if math.Abs(f.ClippingRatio-0.5) > 0.001 {
		t.Errorf("ClippingRatio = %f; want 0.5", f.ClippingRatio)
	}
}

func TestAnalyzeFrame_Empty(t *testing.T) {
	t.Parallel()

	f := AnalyzeFrame(nil, 16000, time.Now())
	if f.RMS != 0 || f.ClippingRatio != 0 || f.Duration != 0 {
		t.Errorf("empty frame not zeroed: %+v", f)
	}
}
