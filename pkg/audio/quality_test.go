package audio

import (
	"testing"
	"time"
)

func TestQualityTracker_GoodAudioScoresHigh(t *testing.T) {
	t.Parallel()

	q := NewQualityTracker(0.4, 5)
	f := AnalyzeFrame(pcm(8000, 1600), 16000, time.Now())

	score, warn := q.Add(&f)
	if score < 0.6 {
		t.Errorf("score = %f; want >= 0.6 for clean speech-level audio", score)
	}
	if warn {
		t.Error("warning raised for clean audio")
	}
}

func TestQualityTracker_ClippedAudioScoresLow(t *testing.T) {
	t.Parallel()

	q := NewQualityTracker(0.4, 5)

	clean := AnalyzeFrame(pcm(8000, 1600), 16000, time.Now())
	clipped := AnalyzeFrame(pcm(32767, 1600), 16000, time.Now())

	cleanScore, _ := q.Add(&clean)
	clippedScore, _ := q.Add(&clipped)
	if clippedScore >= cleanScore {
		t.Errorf("clipped score %f >= clean score %f", clippedScore, cleanScore)
	}
}

func TestQualityTracker_WarnsAfterConsecutiveBadWindows(t *testing.T) {
	t.Parallel()

	const windows = 3
	q := NewQualityTracker(0.4, windows)

	bad := AnalyzeFrame(pcm(10, 1600), 16000, time.Now()) // near-silent input

	var warnings int
	for i := 0; i < windows*2; i++ {
		if _, warn := q.Add(&bad); warn {
			warnings++
		}
	}
	// The warning fires exactly once per streak, on the Nth bad window.
	if warnings != 1 {
		t.Errorf("warnings = %d; want 1", warnings)
	}
}

func TestQualityTracker_StreakResetsOnGoodWindow(t *testing.T) {
	t.Parallel()

	q := NewQualityTracker(0.4, 2)

	bad := AnalyzeFrame(pcm(10, 1600), 16000, time.Now())
	good := AnalyzeFrame(pcm(8000, 1600), 16000, time.Now())

	q.Add(&bad)
	q.Add(&good)
	if _, warn := q.Add(&bad); warn {
		t.Error("warning raised after streak was broken by a good window")
	}
}

func TestQualityTracker_RollingTracksRecent(t *testing.T) {
	t.Parallel()

	q := NewQualityTracker(0.4, 5)
	good := AnalyzeFrame(pcm(8000, 1600), 16000, time.Now())
	for i := 0; i < 10; i++ {
		q.Add(&good)
	}
	high := q.Rolling()

	bad := AnalyzeFrame(pcm(10, 1600), 16000, time.Now())
	for i := 0; i < 10; i++ {
		q.Add(&bad)
	}
	if q.Rolling() >= high {
		t.Errorf("rolling quality did not fall: %f -> %f", high, q.Rolling())
	}
}
