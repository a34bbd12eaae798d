package app

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/kinesia-ai/kinesia/internal/session"
	"github.com/kinesia-ai/kinesia/internal/voicecmd"
	"github.com/kinesia-ai/kinesia/pkg/audio"
	"github.com/kinesia-ai/kinesia/pkg/pose"
)

// routes registers the session control plane.
func (a *App) routes(mux *http.ServeMux) {
	mux.HandleFunc("POST /v1/sessions", a.handleCreateSession)
	mux.HandleFunc("GET /v1/sessions", a.handleListSessions)
	mux.HandleFunc("GET /v1/sessions/{id}", a.handleGetSession)
	mux.HandleFunc("DELETE /v1/sessions/{id}", a.handleDeleteSession)
	mux.HandleFunc("POST /v1/sessions/{id}/start", a.handleStart)
	mux.HandleFunc("POST /v1/sessions/{id}/stop", a.handleStop)
	mux.HandleFunc("POST /v1/sessions/{id}/reconnect", a.handleReconnect)
	mux.HandleFunc("POST /v1/sessions/{id}/context", a.handleContext)
	mux.HandleFunc("POST /v1/sessions/{id}/audio", a.handleAudio)
	mux.HandleFunc("POST /v1/sessions/{id}/credential", a.handleCredential)
	mux.HandleFunc("GET /v1/sessions/{id}/transcript", a.handleTranscript)
}

// ── Wire types ────────────────────────────────────────────────────────────────

type createSessionRequest struct {
	ID string `json:"id,omitempty"`
}

type sessionView struct {
	ID        string    `json:"id"`
	State     string    `json:"state"`
	CreatedAt time.Time `json:"created_at,omitzero"`
}

type sessionDetail struct {
	ID      string      `json:"id"`
	State   string      `json:"state"`
	Metrics metricsView `json:"metrics"`
	Privacy privacyView `json:"privacy"`
}

type metricsView struct {
	ReconnectCount     int64   `json:"reconnect_count"`
	UptimeSeconds      float64 `json:"uptime_seconds"`
	LastError          string  `json:"last_error,omitempty"`
	AverageRoundTripMs float64 `json:"average_round_trip_ms"`
	DroppedFrames      int64   `json:"dropped_frames"`
	DroppedMessages    int64   `json:"dropped_messages"`
	BargeIns           int64   `json:"barge_ins"`
}

type privacyView struct {
	AudioUpload    bool `json:"audio_upload"`
	LandmarkUpload bool `json:"landmark_upload"`
	Offline        bool `json:"offline"`
}

type audioFrameRequest struct {
	// Data is base64-encoded s16le mono PCM.
	Data string `json:"data"`

	// SampleRate in Hz. Defaults to the configured capture rate.
	SampleRate int `json:"sample_rate,omitempty"`
}

type credentialRequest struct {
	Credential string `json:"credential"`
}

type transcriptEntryView struct {
	Speaker string    `json:"speaker"`
	Text    string    `json:"text"`
	At      time.Time `json:"at"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// ── Handlers ──────────────────────────────────────────────────────────────────

func (a *App) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	opts := []session.Option{
		session.WithLogger(a.log),
		session.WithTelemetry(a.obs),
		session.WithPolicy(a.cfg.Policy()),
		session.WithTranscriptStore(a.store),
		session.WithCommandFilter(voicecmd.New()),
	}
	opts = append(opts, a.sessionOpts...)

	s, err := a.registry.Create(session.Config{
		ID:         req.ID,
		Connection: a.cfg.ConnectionConfig(),
		Pipeline:   a.cfg.PipelineConfig(),
	}, opts...)
	if err != nil {
		writeError(w, http.StatusConflict, err)
		return
	}

	if err := s.Connect(r.Context()); err != nil {
		a.registry.Remove(s.ID())
		writeError(w, http.StatusBadGateway, err)
		return
	}

	writeJSON(w, http.StatusCreated, sessionView{
		ID:    s.ID(),
		State: s.State().String(),
	})
}

func (a *App) handleListSessions(w http.ResponseWriter, _ *http.Request) {
	infos := a.registry.List()
	views := make([]sessionView, 0, len(infos))
	for _, info := range infos {
		v := sessionView{ID: info.ID, CreatedAt: info.CreatedAt}
		if s := a.registry.Get(info.ID); s != nil {
			v.State = s.State().String()
		}
		views = append(views, v)
	}
	writeJSON(w, http.StatusOK, views)
}

func (a *App) handleGetSession(w http.ResponseWriter, r *http.Request) {
	s := a.registry.Get(r.PathValue("id"))
	if s == nil {
		writeError(w, http.StatusNotFound, errSessionNotFound)
		return
	}
	snap := s.Metrics()
	pol := a.cfg.Policy()
	writeJSON(w, http.StatusOK, sessionDetail{
		ID:    s.ID(),
		State: s.State().String(),
		Metrics: metricsView{
			ReconnectCount:     snap.ReconnectCount,
			UptimeSeconds:      snap.Uptime.Seconds(),
			LastError:          snap.LastError,
			AverageRoundTripMs: float64(snap.AverageRoundTrip) / float64(time.Millisecond),
			DroppedFrames:      snap.DroppedFrames,
			DroppedMessages:    snap.DroppedMessages,
			BargeIns:           snap.BargeIns,
		},
		Privacy: privacyView{
			AudioUpload:    pol.AudioUploadAllowed(),
			LandmarkUpload: pol.LandmarkUploadAllowed(),
			Offline:        pol.OfflineMode(),
		},
	})
}

func (a *App) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if a.registry.Get(id) == nil {
		writeError(w, http.StatusNotFound, errSessionNotFound)
		return
	}
	a.registry.Remove(id)
	w.WriteHeader(http.StatusNoContent)
}

func (a *App) handleStart(w http.ResponseWriter, r *http.Request) {
	s := a.registry.Get(r.PathValue("id"))
	if s == nil {
		writeError(w, http.StatusNotFound, errSessionNotFound)
		return
	}
	if err := s.Start(); err != nil {
		writeError(w, http.StatusConflict, err)
		return
	}
	writeJSON(w, http.StatusOK, sessionView{ID: s.ID(), State: s.State().String()})
}

func (a *App) handleStop(w http.ResponseWriter, r *http.Request) {
	s := a.registry.Get(r.PathValue("id"))
	if s == nil {
		writeError(w, http.StatusNotFound, errSessionNotFound)
		return
	}
	s.Stop()
	writeJSON(w, http.StatusOK, sessionView{ID: s.ID(), State: s.State().String()})
}

func (a *App) handleReconnect(w http.ResponseWriter, r *http.Request) {
	s := a.registry.Get(r.PathValue("id"))
	if s == nil {
		writeError(w, http.StatusNotFound, errSessionNotFound)
		return
	}
	s.ForceReconnect()
	w.WriteHeader(http.StatusAccepted)
}

func (a *App) handleContext(w http.ResponseWriter, r *http.Request) {
	s := a.registry.Get(r.PathValue("id"))
	if s == nil {
		writeError(w, http.StatusNotFound, errSessionNotFound)
		return
	}
	var snap pose.Snapshot
	if err := decodeJSON(r, &snap); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.UpdateContext(snap); err != nil {
		writeError(w, http.StatusBadGateway, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (a *App) handleAudio(w http.ResponseWriter, r *http.Request) {
	s := a.registry.Get(r.PathValue("id"))
	if s == nil {
		writeError(w, http.StatusNotFound, errSessionNotFound)
		return
	}
	var req audioFrameRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	samples, err := base64.StdEncoding.DecodeString(req.Data)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decode audio data: %w", err))
		return
	}
	rate := req.SampleRate
	if rate <= 0 {
		rate = a.cfg.PipelineConfig().SampleRate
	}
	frame := audio.Frame{
		Samples:    samples,
		SampleRate: rate,
		CapturedAt: time.Now(),
	}
	if rate > 0 {
		frame.Duration = time.Duration(len(samples)/2) * time.Second / time.Duration(rate)
	}
	if err := s.SubmitAudioFrame(frame); err != nil {
		writeError(w, http.StatusBadGateway, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (a *App) handleCredential(w http.ResponseWriter, r *http.Request) {
	s := a.registry.Get(r.PathValue("id"))
	if s == nil {
		writeError(w, http.StatusNotFound, errSessionNotFound)
		return
	}
	var req credentialRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.SwapCredential(req.Credential); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (a *App) handleTranscript(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if a.registry.Get(id) == nil {
		writeError(w, http.StatusNotFound, errSessionNotFound)
		return
	}
	limit := 50
	if q := r.URL.Query().Get("limit"); q != "" {
		n, err := strconv.Atoi(q)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, fmt.Errorf("invalid limit %q", q))
			return
		}
		limit = n
	}
	entries, err := a.store.Recent(r.Context(), id, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	views := make([]transcriptEntryView, 0, len(entries))
	for _, e := range entries {
		views = append(views, transcriptEntryView{
			Speaker: string(e.Speaker),
			Text:    e.Text,
			At:      e.At,
		})
	}
	writeJSON(w, http.StatusOK, views)
}

// ── Helpers ───────────────────────────────────────────────────────────────────

var errSessionNotFound = errors.New("session not found")

func decodeJSON(r *http.Request, v any) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("decode request body: %w", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("write response", "err", err)
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorResponse{Error: err.Error()})
}
