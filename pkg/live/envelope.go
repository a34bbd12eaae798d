// Package live implements the wire protocol for the Kinesia coaching session:
// the envelope union exchanged with the remote generative voice service, a
// codec that is strict on required fields but tolerant of unknown ones, the
// error taxonomy shared by the session core, and a WebSocket transport.
//
// The protocol is a duplex stream of JSON envelopes. Each envelope carries
// exactly one top-level key identifying its variant; audio and video payloads
// travel base64-encoded inside media chunks.
package live

import "time"

// Kind identifies an envelope variant.
type Kind int

const (
	// Outbound (client → service).
	KindSetup Kind = iota
	KindClientContent
	KindRealtimeInput
	KindToolResponse

	// Inbound (service → client).
	KindSetupComplete
	KindServerContent
	KindToolCall
	KindGoAway
	KindServerError
)

// String returns the wire-level name of the kind.
func (k Kind) String() string {
	switch k {
	case KindSetup:
		return "setup"
	case KindClientContent:
		return "clientContent"
	case KindRealtimeInput:
		return "realtimeInput"
	case KindToolResponse:
		return "toolResponse"
	case KindSetupComplete:
		return "setupComplete"
	case KindServerContent:
		return "serverContent"
	case KindToolCall:
		return "toolCall"
	case KindGoAway:
		return "goAway"
	case KindServerError:
		return "error"
	default:
		return "unknown"
	}
}

// Control reports whether the kind travels on the control lane of the send
// queue. Control envelopes are never dropped under queue pressure; realtime
// media chunks are.
func (k Kind) Control() bool { return k != KindRealtimeInput }

// Envelope is the closed union of protocol messages. Each variant carries
// only the fields relevant to its tag; envelopes are immutable once
// constructed and never persisted.
//
// The set is sealed: only types in this package implement Envelope, so a
// switch over [Envelope.Kind] covers every possible variant.
type Envelope interface {
	Kind() Kind
}

// ── Outbound variants ─────────────────────────────────────────────────────────

// Setup is the first envelope on every connection. It declares the model,
// generation parameters, system instruction, and tool surface for the session.
type Setup struct {
	Model             string
	Generation        GenerationConfig
	SystemInstruction string
	Tools             []ToolDeclaration
}

func (Setup) Kind() Kind { return KindSetup }

// GenerationConfig carries the model tuning parameters recognised by the
// service. Zero values are omitted from the wire form.
type GenerationConfig struct {
	ResponseModalities []string
	Voice              string
	Temperature        float64
	MaxOutputTokens    int
}

// ToolDeclaration describes one callable function offered to the model.
type ToolDeclaration struct {
	Name        string
	Description string
	Parameters  map[string]any
}

// ClientContent injects textual context turns (e.g. a serialized pose
// snapshot) into the conversation.
type ClientContent struct {
	Turns        []Turn
	TurnComplete bool
}

func (ClientContent) Kind() Kind { return KindClientContent }

// Turn is one conversational turn with a role of "user" or "model".
type Turn struct {
	Role string
	Text string
}

// RealtimeInput streams microphone audio or camera video to the model.
// Exactly one of Audio or Video is set.
type RealtimeInput struct {
	Audio *MediaChunk
	Video *MediaChunk
}

func (RealtimeInput) Kind() Kind { return KindRealtimeInput }

// MediaChunk is a single encoded media fragment. Data is raw bytes; the
// codec handles base64 framing.
type MediaChunk struct {
	MIMEType string
	Data     []byte
}

// ToolResponse answers a [ToolCall] issued by the model.
type ToolResponse struct {
	CallID string
	Name   string
	Result map[string]any
}

func (ToolResponse) Kind() Kind { return KindToolResponse }

// ── Inbound variants ──────────────────────────────────────────────────────────

// SetupComplete acknowledges the [Setup] envelope. Its receipt is the
// transport-level open acknowledgement that moves the session to Connected.
type SetupComplete struct{}

func (SetupComplete) Kind() Kind { return KindSetupComplete }

// ServerContent carries a model turn: synthesized audio, response text, and
// partial transcriptions of both sides of the conversation.
type ServerContent struct {
	Text                string
	Audio               *MediaChunk
	TurnComplete        bool
	Interrupted         bool
	InputTranscription  string
	OutputTranscription string
}

func (ServerContent) Kind() Kind { return KindServerContent }

// ToolCall asks the client to execute a declared function and reply with a
// [ToolResponse] carrying the same CallID.
type ToolCall struct {
	CallID string
	Name   string
	Args   map[string]any
}

func (ToolCall) Kind() Kind { return KindToolCall }

// GoAway announces that the service will terminate the connection. A
// positive TimeLeft grants a resumption window and is handled as a retryable
// transport failure; a zero TimeLeft is terminal.
type GoAway struct {
	TimeLeft time.Duration
}

func (GoAway) Kind() Kind { return KindGoAway }

// ServerError is a non-fatal error report from the service. Code 429 (or the
// RESOURCE_EXHAUSTED status) signals rate limiting.
type ServerError struct {
	Code    int
	Status  string
	Message string
}

func (ServerError) Kind() Kind { return KindServerError }
