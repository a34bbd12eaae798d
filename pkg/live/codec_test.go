package live_test

import (
	"encoding/json"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/kinesia-ai/kinesia/pkg/live"
)

// TestEncodeDecode_RoundTrip verifies that decode(encode(e)) == e for every
// envelope variant.
func TestEncodeDecode_RoundTrip(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		env  live.Envelope
	}{
		{
			name: "setup full",
			env: live.Setup{
				Model: "models/gemini-2.0-flash-live-001",
				Generation: live.GenerationConfig{
					ResponseModalities: []string{"AUDIO"},
					Voice:              "Aoede",
					Temperature:        0.7,
					MaxOutputTokens:    2048,
				},
				SystemInstruction: "You are a movement coach.",
				Tools: []live.ToolDeclaration{
					{Name: "log_rep", Description: "Record a completed repetition"},
				},
			},
		},
		{
			name: "setup minimal",
			env:  live.Setup{Model: "models/test"},
		},
		{
			name: "client content",
			env: live.ClientContent{
				Turns: []live.Turn{
					{Role: "user", Text: `{"landmarks":[{"x":0.1,"y":0.2}]}`},
				},
				TurnComplete: true,
			},
		},
		{
			name: "realtime audio",
			env: live.RealtimeInput{
				Audio: &live.MediaChunk{MIMEType: "audio/pcm;rate=16000", Data: []byte{1, 2, 3, 4}},
			},
		},
		{
			name: "realtime video",
			env: live.RealtimeInput{
				Video: &live.MediaChunk{MIMEType: "image/jpeg", Data: []byte{0xff, 0xd8}},
			},
		},
		{
			name: "tool response",
			env: live.ToolResponse{
				CallID: "call-7",
				Name:   "log_rep",
				Result: map[string]any{"ok": true},
			},
		},
		{
			name: "setup complete",
			env:  live.SetupComplete{},
		},
		{
			name: "server content",
			env: live.ServerContent{
				Text:                "Keep your back straight.",
				Audio:               &live.MediaChunk{MIMEType: "audio/pcm;rate=24000", Data: []byte{9, 8, 7}},
				TurnComplete:        true,
				InputTranscription:  "how is my form",
				OutputTranscription: "Keep your back straight.",
			},
		},
		{
			name: "server content interrupted",
			env:  live.ServerContent{Interrupted: true},
		},
		{
			name: "tool call",
			env: live.ToolCall{
				CallID: "call-7",
				Name:   "log_rep",
				Args:   map[string]any{"exercise": "squat"},
			},
		},
		{
			name: "go away with grace",
			env:  live.GoAway{TimeLeft: 5 * time.Second},
		},
		{
			name: "go away terminal",
			env:  live.GoAway{},
		},
		{
			name: "server error",
			env:  live.ServerError{Code: 429, Status: "RESOURCE_EXHAUSTED", Message: "quota exceeded"},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			data, err := live.Encode(tc.env)
			if err != nil {
				t.Fatalf("Encode: %v", err)
			}
			got, err := live.Decode(data)
			if err != nil {
				t.Fatalf("Decode: %v", err)
			}
			if !reflect.DeepEqual(got, tc.env) {
				t.Errorf("round trip mismatch:\n got  %#v\n want %#v", got, tc.env)
			}
		})
	}
}

func TestDecode_RejectsMissingRequiredFields(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		raw  string
	}{
		{"setup without model", `{"setup":{}}`},
		{"tool call without name", `{"toolCall":{"functionCalls":[{"id":"x"}]}}`},
		{"tool call empty", `{"toolCall":{"functionCalls":[]}}`},
		{"realtime input empty", `{"realtimeInput":{"mediaChunks":[]}}`},
		{"media chunk without mime type", `{"realtimeInput":{"mediaChunks":[{"data":"AQI="}]}}`},
		{"media chunk bad base64", `{"realtimeInput":{"mediaChunks":[{"mimeType":"audio/pcm","data":"!!"}]}}`},
		{"tool response without name", `{"toolResponse":{"functionResponses":[{"id":"x"}]}}`},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			_, err := live.Decode([]byte(tc.raw))
			var decodeErr *live.DecodeError
			if !errors.As(err, &decodeErr) {
				t.Fatalf("Decode(%s) = %v; want *DecodeError", tc.raw, err)
			}
		})
	}
}

// TestDecode_ToleratesUnknownFields verifies forward compatibility: extra
// fields added by newer service versions must not break decoding.
func TestDecode_ToleratesUnknownFields(t *testing.T) {
	t.Parallel()

	raw := `{
		"serverContent": {
			"modelTurn": {"parts": [{"text": "hello", "thought": true}]},
			"generationComplete": true,
			"usageMetadata": {"totalTokens": 42}
		}
	}`
	env, err := live.Decode([]byte(raw))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	sc, ok := env.(live.ServerContent)
	if !ok {
		t.Fatalf("Decode returned %T; want ServerContent", env)
	}
	if sc.Text != "hello" {
		t.Errorf("Text = %q; want %q", sc.Text, "hello")
	}
}

func TestDecode_MalformedInput(t *testing.T) {
	t.Parallel()

	for _, raw := range []string{"", "not json", "[]", `{"somethingElse":{}}`} {
		_, err := live.Decode([]byte(raw))
		var decodeErr *live.DecodeError
		if !errors.As(err, &decodeErr) {
			t.Errorf("Decode(%q) = %v; want *DecodeError", raw, err)
		}
	}
}

func TestEncode_UnsupportedEnvelope(t *testing.T) {
	t.Parallel()

	_, err := live.Encode(nil)
	if err == nil {
		t.Fatal("Encode(nil) succeeded; want loud failure")
	}
}

// TestEncode_AudioIsBase64 pins the wire framing of realtime audio so that
// an incompatible change to the chunk encoding is caught here rather than in
// production.
func TestEncode_AudioIsBase64(t *testing.T) {
	t.Parallel()

	data, err := live.Encode(live.RealtimeInput{
		Audio: &live.MediaChunk{MIMEType: "audio/pcm;rate=16000", Data: []byte{0x01, 0x02}},
	})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	var wire struct {
		RealtimeInput struct {
			MediaChunks []struct {
				MIMEType string `json:"mimeType"`
				Data     string `json:"data"`
			} `json:"mediaChunks"`
		} `json:"realtimeInput"`
	}
	if err := json.Unmarshal(data, &wire); err != nil {
		t.Fatalf("unmarshal wire form: %v", err)
	}
	if n := len(wire.RealtimeInput.MediaChunks); n != 1 {
		t.Fatalf("media chunks = %d; want 1", n)
	}
	if got := wire.RealtimeInput.MediaChunks[0].Data; got != "AQI=" {
		t.Errorf("chunk data = %q; want %q", got, "AQI=")
	}
}

func TestKind_Control(t *testing.T) {
	t.Parallel()

	if live.KindRealtimeInput.Control() {
		t.Error("realtime input classified as control")
	}
	for _, k := range []live.Kind{live.KindSetup, live.KindClientContent, live.KindToolResponse} {
		if !k.Control() {
			t.Errorf("%s not classified as control", k)
		}
	}
}
