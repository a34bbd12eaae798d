package connection

import (
	"fmt"
	"testing"
	"time"

	"github.com/kinesia-ai/kinesia/pkg/live"
)

func textTurn(s string) live.ClientContent {
	return live.ClientContent{Turns: []live.Turn{{Role: "user", Text: s}}}
}

func audioChunk(b byte) live.RealtimeInput {
	return live.RealtimeInput{Audio: &live.MediaChunk{MIMEType: "audio/pcm", Data: []byte{b}}}
}

func TestSendQueueControlIsNeverDropped(t *testing.T) {
	t.Parallel()

	q := newSendQueue(2)
	for i := 0; i < 100; i++ {
		q.enqueueControl(textTurn(fmt.Sprintf("msg %d", i)))
	}

	got := q.drainControl()
	if len(got) != 100 {
		t.Fatalf("drained %d control envelopes, want 100", len(got))
	}
	if got[0].(live.ClientContent).Turns[0].Text != "msg 0" {
		t.Fatal("control lane is not FIFO")
	}
}

func TestSendQueueAudioEvictsOldest(t *testing.T) {
	t.Parallel()

	q := newSendQueue(2)
	if q.enqueueAudio(audioChunk(1)) || q.enqueueAudio(audioChunk(2)) {
		t.Fatal("eviction reported while lane had room")
	}
	if !q.enqueueAudio(audioChunk(3)) {
		t.Fatal("no eviction reported on a full lane")
	}

	env, ok := q.popAudio()
	if !ok {
		t.Fatal("popAudio on non-empty lane returned nothing")
	}
	if got := env.(live.RealtimeInput).Audio.Data[0]; got != 2 {
		t.Fatalf("oldest surviving chunk = %d, want 2 (chunk 1 evicted)", got)
	}
}

func TestSendQueueRequeuePreservesOrder(t *testing.T) {
	t.Parallel()

	q := newSendQueue(0)
	q.enqueueControl(textTurn("a"))
	q.enqueueControl(textTurn("b"))

	drained := q.drainControl()
	q.enqueueControl(textTurn("c"))
	q.requeueControl(drained[1:]) // "b" goes back ahead of "c"

	got := q.drainControl()
	want := []string{"b", "c"}
	if len(got) != len(want) {
		t.Fatalf("drained %d envelopes, want %d", len(got), len(want))
	}
	for i, w := range want {
		if text := got[i].(live.ClientContent).Turns[0].Text; text != w {
			t.Fatalf("envelope %d = %q, want %q", i, text, w)
		}
	}
}

func TestSendQueuePause(t *testing.T) {
	t.Parallel()

	q := newSendQueue(0)
	now := time.Now()

	if q.paused(now) {
		t.Fatal("fresh queue is paused")
	}
	q.pause(now.Add(time.Minute))
	if !q.paused(now) {
		t.Fatal("queue not paused")
	}
	// An earlier deadline must not shorten an existing pause.
	q.pause(now.Add(time.Second))
	if !q.paused(now.Add(30 * time.Second)) {
		t.Fatal("pause deadline was shortened")
	}
	if q.paused(now.Add(2 * time.Minute)) {
		t.Fatal("pause did not expire")
	}
}
