package live

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Encode serializes an envelope to its wire form. Every variant of the
// [Envelope] union has exactly one encoding; an envelope type outside the
// union is a programming error and yields a non-nil error rather than a
// silently dropped message.
//
// Encode is pure: it never mutates its argument and has no side effects.
func Encode(env Envelope) ([]byte, error) {
	var wire wireEnvelope

	switch e := env.(type) {
	case Setup:
		wire.Setup = encodeSetup(e)
	case *Setup:
		wire.Setup = encodeSetup(*e)
	case ClientContent:
		wire.ClientContent = encodeClientContent(e)
	case *ClientContent:
		wire.ClientContent = encodeClientContent(*e)
	case RealtimeInput:
		wire.RealtimeInput = encodeRealtimeInput(e)
	case *RealtimeInput:
		wire.RealtimeInput = encodeRealtimeInput(*e)
	case ToolResponse:
		wire.ToolResponse = encodeToolResponse(e)
	case *ToolResponse:
		wire.ToolResponse = encodeToolResponse(*e)
	case SetupComplete, *SetupComplete:
		wire.SetupComplete = &struct{}{}
	case ServerContent:
		wire.ServerContent = encodeServerContent(e)
	case *ServerContent:
		wire.ServerContent = encodeServerContent(*e)
	case ToolCall:
		wire.ToolCall = encodeToolCall(e)
	case *ToolCall:
		wire.ToolCall = encodeToolCall(*e)
	case GoAway:
		wire.GoAway = &wireGoAway{TimeLeftMs: e.TimeLeft.Milliseconds()}
	case *GoAway:
		wire.GoAway = &wireGoAway{TimeLeftMs: e.TimeLeft.Milliseconds()}
	case ServerError:
		wire.Error = &wireError{Code: e.Code, Status: e.Status, Message: e.Message}
	case *ServerError:
		wire.Error = &wireError{Code: e.Code, Status: e.Status, Message: e.Message}
	default:
		return nil, fmt.Errorf("live: encode: unsupported envelope type %T", env)
	}

	data, err := json.Marshal(wire)
	if err != nil {
		return nil, fmt.Errorf("live: encode %s: %w", env.Kind(), err)
	}
	return data, nil
}

// Decode parses one wire message into its envelope variant. Unknown fields
// in structured payloads are ignored for forward compatibility; missing
// required fields and unrecognised envelopes yield a [DecodeError].
//
// A DecodeError is non-fatal to the session: the caller logs it and keeps
// reading.
func Decode(data []byte) (Envelope, error) {
	var wire wireEnvelope
	if err := json.Unmarshal(data, &wire); err != nil {
		return nil, &DecodeError{Reason: "malformed JSON", Err: err}
	}

	switch {
	case wire.SetupComplete != nil:
		return SetupComplete{}, nil
	case wire.ServerContent != nil:
		return decodeServerContent(wire.ServerContent)
	case wire.ToolCall != nil:
		return decodeToolCall(wire.ToolCall)
	case wire.GoAway != nil:
		return GoAway{TimeLeft: time.Duration(wire.GoAway.TimeLeftMs) * time.Millisecond}, nil
	case wire.Error != nil:
		return ServerError{Code: wire.Error.Code, Status: wire.Error.Status, Message: wire.Error.Message}, nil
	case wire.Setup != nil:
		return decodeSetup(wire.Setup)
	case wire.ClientContent != nil:
		return decodeClientContent(wire.ClientContent), nil
	case wire.RealtimeInput != nil:
		return decodeRealtimeInput(wire.RealtimeInput)
	case wire.ToolResponse != nil:
		return decodeToolResponse(wire.ToolResponse)
	}
	return nil, &DecodeError{Reason: "unrecognised envelope"}
}

// ── Wire representation ───────────────────────────────────────────────────────

type wireEnvelope struct {
	Setup         *wireSetup         `json:"setup,omitempty"`
	ClientContent *wireClientContent `json:"clientContent,omitempty"`
	RealtimeInput *wireRealtimeInput `json:"realtimeInput,omitempty"`
	ToolResponse  *wireToolResponse  `json:"toolResponse,omitempty"`
	SetupComplete *struct{}          `json:"setupComplete,omitempty"`
	ServerContent *wireServerContent `json:"serverContent,omitempty"`
	ToolCall      *wireToolCall      `json:"toolCall,omitempty"`
	GoAway        *wireGoAway        `json:"goAway,omitempty"`
	Error         *wireError         `json:"error,omitempty"`
}

type wireSetup struct {
	Model             string                `json:"model"`
	GenerationConfig  *wireGenerationCfg    `json:"generationConfig,omitempty"`
	SystemInstruction *wireSystemInstr      `json:"systemInstruction,omitempty"`
	Tools             []wireToolDeclaration `json:"tools,omitempty"`
}

type wireGenerationCfg struct {
	ResponseModalities []string        `json:"responseModalities,omitempty"`
	SpeechConfig       *wireSpeechCfg  `json:"speechConfig,omitempty"`
	Temperature        float64         `json:"temperature,omitempty"`
	MaxOutputTokens    int             `json:"maxOutputTokens,omitempty"`
}

type wireSpeechCfg struct {
	VoiceConfig wireVoiceCfg `json:"voiceConfig"`
}

type wireVoiceCfg struct {
	PrebuiltVoiceConfig wirePrebuiltVoice `json:"prebuiltVoiceConfig"`
}

type wirePrebuiltVoice struct {
	VoiceName string `json:"voiceName"`
}

type wireSystemInstr struct {
	Parts []wirePart `json:"parts"`
}

type wirePart struct {
	Text       string          `json:"text,omitempty"`
	InlineData *wireInlineData `json:"inlineData,omitempty"`
}

type wireInlineData struct {
	MIMEType string `json:"mimeType"`
	Data     string `json:"data"` // base64-encoded
}

type wireToolDeclaration struct {
	FunctionDeclarations []wireFunctionDecl `json:"functionDeclarations,omitempty"`
}

type wireFunctionDecl struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

type wireClientContent struct {
	Turns        []wireTurn `json:"turns,omitempty"`
	TurnComplete bool       `json:"turnComplete"`
}

type wireTurn struct {
	Role  string     `json:"role"`
	Parts []wirePart `json:"parts"`
}

type wireRealtimeInput struct {
	MediaChunks []wireInlineData `json:"mediaChunks"`
}

type wireToolResponse struct {
	FunctionResponses []wireFunctionResp `json:"functionResponses"`
}

type wireFunctionResp struct {
	ID       string         `json:"id,omitempty"`
	Name     string         `json:"name"`
	Response map[string]any `json:"response,omitempty"`
}

type wireServerContent struct {
	ModelTurn           *wireModelTurn     `json:"modelTurn,omitempty"`
	TurnComplete        bool               `json:"turnComplete,omitempty"`
	Interrupted         bool               `json:"interrupted,omitempty"`
	InputTranscription  *wireTranscription `json:"inputTranscription,omitempty"`
	OutputTranscription *wireTranscription `json:"outputTranscription,omitempty"`
}

type wireModelTurn struct {
	Parts []wirePart `json:"parts"`
}

type wireTranscription struct {
	Text string `json:"text"`
}

type wireToolCall struct {
	FunctionCalls []wireFunctionCall `json:"functionCalls"`
}

type wireFunctionCall struct {
	ID   string         `json:"id,omitempty"`
	Name string         `json:"name"`
	Args map[string]any `json:"args,omitempty"`
}

type wireGoAway struct {
	TimeLeftMs int64 `json:"timeLeftMs,omitempty"`
}

type wireError struct {
	Code    int    `json:"code,omitempty"`
	Status  string `json:"status,omitempty"`
	Message string `json:"message,omitempty"`
}

// ── Encoding helpers ──────────────────────────────────────────────────────────

func encodeSetup(e Setup) *wireSetup {
	w := &wireSetup{Model: e.Model}

	gen := &wireGenerationCfg{
		ResponseModalities: e.Generation.ResponseModalities,
		Temperature:        e.Generation.Temperature,
		MaxOutputTokens:    e.Generation.MaxOutputTokens,
	}
	if e.Generation.Voice != "" {
		gen.SpeechConfig = &wireSpeechCfg{
			VoiceConfig: wireVoiceCfg{
				PrebuiltVoiceConfig: wirePrebuiltVoice{VoiceName: e.Generation.Voice},
			},
		}
	}
	if gen.ResponseModalities != nil || gen.SpeechConfig != nil ||
		gen.Temperature != 0 || gen.MaxOutputTokens != 0 {
		w.GenerationConfig = gen
	}

	if e.SystemInstruction != "" {
		w.SystemInstruction = &wireSystemInstr{Parts: []wirePart{{Text: e.SystemInstruction}}}
	}

	if len(e.Tools) > 0 {
		decls := make([]wireFunctionDecl, len(e.Tools))
		for i, t := range e.Tools {
			decls[i] = wireFunctionDecl{Name: t.Name, Description: t.Description, Parameters: t.Parameters}
		}
		w.Tools = []wireToolDeclaration{{FunctionDeclarations: decls}}
	}
	return w
}

func encodeClientContent(e ClientContent) *wireClientContent {
	w := &wireClientContent{TurnComplete: e.TurnComplete}
	for _, t := range e.Turns {
		w.Turns = append(w.Turns, wireTurn{Role: t.Role, Parts: []wirePart{{Text: t.Text}}})
	}
	return w
}

func encodeRealtimeInput(e RealtimeInput) *wireRealtimeInput {
	w := &wireRealtimeInput{}
	if e.Audio != nil {
		w.MediaChunks = append(w.MediaChunks, encodeChunk(e.Audio))
	}
	if e.Video != nil {
		w.MediaChunks = append(w.MediaChunks, encodeChunk(e.Video))
	}
	return w
}

func encodeChunk(c *MediaChunk) wireInlineData {
	return wireInlineData{
		MIMEType: c.MIMEType,
		Data:     base64.StdEncoding.EncodeToString(c.Data),
	}
}

func encodeToolResponse(e ToolResponse) *wireToolResponse {
	return &wireToolResponse{
		FunctionResponses: []wireFunctionResp{
			{ID: e.CallID, Name: e.Name, Response: e.Result},
		},
	}
}

func encodeServerContent(e ServerContent) *wireServerContent {
	w := &wireServerContent{
		TurnComplete: e.TurnComplete,
		Interrupted:  e.Interrupted,
	}
	if e.Audio != nil || e.Text != "" {
		turn := &wireModelTurn{}
		if e.Audio != nil {
			turn.Parts = append(turn.Parts, wirePart{InlineData: ptr(encodeChunk(e.Audio))})
		}
		if e.Text != "" {
			turn.Parts = append(turn.Parts, wirePart{Text: e.Text})
		}
		w.ModelTurn = turn
	}
	if e.InputTranscription != "" {
		w.InputTranscription = &wireTranscription{Text: e.InputTranscription}
	}
	if e.OutputTranscription != "" {
		w.OutputTranscription = &wireTranscription{Text: e.OutputTranscription}
	}
	return w
}

func encodeToolCall(e ToolCall) *wireToolCall {
	return &wireToolCall{
		FunctionCalls: []wireFunctionCall{{ID: e.CallID, Name: e.Name, Args: e.Args}},
	}
}

func ptr[T any](v T) *T { return &v }

// ── Decoding helpers ──────────────────────────────────────────────────────────

func decodeSetup(w *wireSetup) (Envelope, error) {
	if w.Model == "" {
		return nil, &DecodeError{Reason: "setup: model is required"}
	}
	e := Setup{Model: w.Model}
	if g := w.GenerationConfig; g != nil {
		e.Generation = GenerationConfig{
			ResponseModalities: g.ResponseModalities,
			Temperature:        g.Temperature,
			MaxOutputTokens:    g.MaxOutputTokens,
		}
		if g.SpeechConfig != nil {
			e.Generation.Voice = g.SpeechConfig.VoiceConfig.PrebuiltVoiceConfig.VoiceName
		}
	}
	if w.SystemInstruction != nil && len(w.SystemInstruction.Parts) > 0 {
		e.SystemInstruction = w.SystemInstruction.Parts[0].Text
	}
	for _, group := range w.Tools {
		for _, d := range group.FunctionDeclarations {
			if d.Name == "" {
				return nil, &DecodeError{Reason: "setup: tool declaration without name"}
			}
			e.Tools = append(e.Tools, ToolDeclaration{
				Name:        d.Name,
				Description: d.Description,
				Parameters:  d.Parameters,
			})
		}
	}
	return e, nil
}

func decodeClientContent(w *wireClientContent) Envelope {
	e := ClientContent{TurnComplete: w.TurnComplete}
	for _, t := range w.Turns {
		turn := Turn{Role: t.Role}
		for _, p := range t.Parts {
			if p.Text != "" {
				turn.Text = p.Text
				break
			}
		}
		e.Turns = append(e.Turns, turn)
	}
	return e
}

func decodeRealtimeInput(w *wireRealtimeInput) (Envelope, error) {
	if len(w.MediaChunks) == 0 {
		return nil, &DecodeError{Reason: "realtimeInput: no media chunks"}
	}
	e := RealtimeInput{}
	for i := range w.MediaChunks {
		chunk, err := decodeChunk(&w.MediaChunks[i])
		if err != nil {
			return nil, err
		}
		if strings.HasPrefix(chunk.MIMEType, "audio/") {
			e.Audio = chunk
		} else {
			e.Video = chunk
		}
	}
	return e, nil
}

func decodeChunk(w *wireInlineData) (*MediaChunk, error) {
	if w.MIMEType == "" {
		return nil, &DecodeError{Reason: "media chunk: mimeType is required"}
	}
	data, err := base64.StdEncoding.DecodeString(w.Data)
	if err != nil {
		return nil, &DecodeError{Reason: "media chunk: invalid base64 payload", Err: err}
	}
	return &MediaChunk{MIMEType: w.MIMEType, Data: data}, nil
}

func decodeToolResponse(w *wireToolResponse) (Envelope, error) {
	if len(w.FunctionResponses) == 0 {
		return nil, &DecodeError{Reason: "toolResponse: no function responses"}
	}
	fr := w.FunctionResponses[0]
	if fr.Name == "" {
		return nil, &DecodeError{Reason: "toolResponse: name is required"}
	}
	return ToolResponse{CallID: fr.ID, Name: fr.Name, Result: fr.Response}, nil
}

func decodeServerContent(w *wireServerContent) (Envelope, error) {
	e := ServerContent{
		TurnComplete: w.TurnComplete,
		Interrupted:  w.Interrupted,
	}
	if w.ModelTurn != nil {
		for i := range w.ModelTurn.Parts {
			p := &w.ModelTurn.Parts[i]
			if p.InlineData != nil {
				chunk, err := decodeChunk(p.InlineData)
				if err != nil {
					return nil, err
				}
				e.Audio = chunk
			}
			if p.Text != "" {
				e.Text += p.Text
			}
		}
	}
	if w.InputTranscription != nil {
		e.InputTranscription = w.InputTranscription.Text
	}
	if w.OutputTranscription != nil {
		e.OutputTranscription = w.OutputTranscription.Text
	}
	return e, nil
}

func decodeToolCall(w *wireToolCall) (Envelope, error) {
	if len(w.FunctionCalls) == 0 {
		return nil, &DecodeError{Reason: "toolCall: no function calls"}
	}
	fc := w.FunctionCalls[0]
	if fc.Name == "" {
		return nil, &DecodeError{Reason: "toolCall: name is required"}
	}
	return ToolCall{CallID: fc.ID, Name: fc.Name, Args: fc.Args}, nil
}
