package app

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/kinesia-ai/kinesia/internal/config"
	"github.com/kinesia-ai/kinesia/internal/connection"
	"github.com/kinesia-ai/kinesia/internal/session"
	"github.com/kinesia-ai/kinesia/internal/transcript"
	"github.com/kinesia-ai/kinesia/pkg/live"
)

const testCredential = "test-credential-0123456789"

// ── Fakes ─────────────────────────────────────────────────────────────────────

type fakeTransport struct {
	mu   sync.Mutex
	sent [][]byte

	in     chan []byte
	closed chan struct{}
	once   sync.Once
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{in: make(chan []byte, 32), closed: make(chan struct{})}
}

func (t *fakeTransport) Send(_ context.Context, data []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sent = append(t.sent, data)
	return nil
}

func (t *fakeTransport) Receive(ctx context.Context) ([]byte, error) {
	select {
	case data := <-t.in:
		return data, nil
	case <-t.closed:
		return nil, &live.ConnectionError{Op: "read", Err: errors.New("connection reset")}
	case <-ctx.Done():
		return nil, &live.ConnectionError{Op: "read", Err: ctx.Err()}
	}
}

func (t *fakeTransport) Ping(context.Context) error { return nil }

func (t *fakeTransport) Close(string) error {
	t.once.Do(func() { close(t.closed) })
	return nil
}

func (t *fakeTransport) sentEnvelopes(tb testing.TB) []live.Envelope {
	tb.Helper()
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []live.Envelope
	for _, data := range t.sent[1:] {
		env, err := live.Decode(data)
		if err != nil {
			tb.Fatalf("decode sent payload: %v", err)
		}
		out = append(out, env)
	}
	return out
}

type fakeDialer struct {
	mu         sync.Mutex
	transports []*fakeTransport
}

func (d *fakeDialer) Dial(context.Context, string) (live.Transport, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	tr := newFakeTransport()
	data, err := live.Encode(live.SetupComplete{})
	if err != nil {
		return nil, err
	}
	tr.in <- data
	d.transports = append(d.transports, tr)
	return tr, nil
}

func (d *fakeDialer) transport(i int) *fakeTransport {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.transports[i]
}

type refusingDialer struct{}

func (refusingDialer) Dial(context.Context, string) (live.Transport, error) {
	return nil, &live.AuthenticationError{Reason: "credential revoked"}
}

// ── Helpers ───────────────────────────────────────────────────────────────────

func newTestApp(t *testing.T, opts ...Option) (*App, *httptest.Server, *fakeDialer) {
	t.Helper()

	cfg := config.Default()
	cfg.Live.APIKey = testCredential
	cfg.Session.SendRatePerSec = 1000
	cfg.Session.ReconnectMaxAttempts = 1

	d := &fakeDialer{}
	opts = append([]Option{
		WithLogger(slog.New(slog.DiscardHandler)),
		WithTranscriptStore(transcript.NewMemory(0)),
		WithSessionOptions(session.WithConnectionOptions(
			connection.WithDialer(d),
			connection.WithJitter(func() time.Duration { return 0 }),
		)),
	}, opts...)

	a, err := New(context.Background(), cfg, opts...)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	srv := httptest.NewServer(a.Handler())
	t.Cleanup(func() {
		srv.Close()
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = a.Shutdown(ctx)
	})
	return a, srv, d
}

func doJSON(t *testing.T, method, url string, body any) (*http.Response, []byte) {
	t.Helper()
	var buf io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal request: %v", err)
		}
		buf = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, url, buf)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read response: %v", err)
	}
	return resp, data
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// ── Tests ─────────────────────────────────────────────────────────────────────

func TestSessionLifecycleOverHTTP(t *testing.T) {
	t.Parallel()
	_, srv, _ := newTestApp(t)

	resp, body := doJSON(t, http.MethodPost, srv.URL+"/v1/sessions", map[string]string{"id": "s1"})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create: status = %d, body %s", resp.StatusCode, body)
	}
	var view sessionView
	if err := json.Unmarshal(body, &view); err != nil {
		t.Fatalf("unmarshal create response: %v", err)
	}
	if view.ID != "s1" || view.State != "connected" {
		t.Fatalf("create response = %+v, want id s1 in state connected", view)
	}

	resp, body = doJSON(t, http.MethodGet, srv.URL+"/v1/sessions", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list: status = %d", resp.StatusCode)
	}
	var views []sessionView
	if err := json.Unmarshal(body, &views); err != nil {
		t.Fatalf("unmarshal list: %v", err)
	}
	if len(views) != 1 || views[0].ID != "s1" {
		t.Fatalf("list = %+v, want exactly s1", views)
	}

	resp, body = doJSON(t, http.MethodPost, srv.URL+"/v1/sessions/s1/start", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("start: status = %d, body %s", resp.StatusCode, body)
	}
	if err := json.Unmarshal(body, &view); err != nil {
		t.Fatalf("unmarshal start response: %v", err)
	}
	if view.State != "active" {
		t.Fatalf("state after start = %q, want active", view.State)
	}

	resp, _ = doJSON(t, http.MethodPost, srv.URL+"/v1/sessions/s1/stop", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("stop: status = %d", resp.StatusCode)
	}

	resp, body = doJSON(t, http.MethodGet, srv.URL+"/v1/sessions/s1", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get: status = %d", resp.StatusCode)
	}
	var detail sessionDetail
	if err := json.Unmarshal(body, &detail); err != nil {
		t.Fatalf("unmarshal detail: %v", err)
	}
	if detail.State != "connected" {
		t.Errorf("state after stop = %q, want connected", detail.State)
	}
	if !detail.Privacy.AudioUpload {
		t.Error("default privacy should allow audio upload")
	}

	resp, _ = doJSON(t, http.MethodDelete, srv.URL+"/v1/sessions/s1", nil)
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("delete: status = %d", resp.StatusCode)
	}
	resp, _ = doJSON(t, http.MethodGet, srv.URL+"/v1/sessions/s1", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("get after delete: status = %d, want 404", resp.StatusCode)
	}
}

func TestCreateSessionRejectsDuplicateID(t *testing.T) {
	t.Parallel()
	_, srv, _ := newTestApp(t)

	resp, _ := doJSON(t, http.MethodPost, srv.URL+"/v1/sessions", map[string]string{"id": "dup"})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("first create: status = %d", resp.StatusCode)
	}
	resp, _ = doJSON(t, http.MethodPost, srv.URL+"/v1/sessions", map[string]string{"id": "dup"})
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("second create: status = %d, want 409", resp.StatusCode)
	}
}

func TestCreateSessionCleansUpOnConnectFailure(t *testing.T) {
	t.Parallel()

	cfg := config.Default()
	cfg.Live.APIKey = testCredential
	cfg.Session.ReconnectMaxAttempts = 1

	a, err := New(context.Background(), cfg,
		WithLogger(slog.New(slog.DiscardHandler)),
		WithTranscriptStore(transcript.NewMemory(0)),
		WithSessionOptions(session.WithConnectionOptions(connection.WithDialer(refusingDialer{}))),
	)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	srv := httptest.NewServer(a.Handler())
	t.Cleanup(srv.Close)

	resp, body := doJSON(t, http.MethodPost, srv.URL+"/v1/sessions", map[string]string{"id": "doomed"})
	if resp.StatusCode != http.StatusBadGateway {
		t.Fatalf("create: status = %d, body %s, want 502", resp.StatusCode, body)
	}
	if a.Registry().Get("doomed") != nil {
		t.Error("failed session was left in the registry")
	}
}

func TestContextEndpointForwardsLandmarks(t *testing.T) {
	t.Parallel()
	_, srv, d := newTestApp(t)

	resp, _ := doJSON(t, http.MethodPost, srv.URL+"/v1/sessions", map[string]string{"id": "ctx"})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create: status = %d", resp.StatusCode)
	}

	snap := map[string]any{
		"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
		"landmarks": []map[string]float64{{"x": 0.5, "y": 0.25, "z": 0.1}},
	}
	resp, body := doJSON(t, http.MethodPost, srv.URL+"/v1/sessions/ctx/context", snap)
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("context: status = %d, body %s", resp.StatusCode, body)
	}

	waitFor(t, "client content on the wire", func() bool {
		for _, env := range d.transport(0).sentEnvelopes(t) {
			if _, ok := env.(live.ClientContent); ok {
				return true
			}
		}
		return false
	})
}

func TestAudioEndpointRejectsBadPayload(t *testing.T) {
	t.Parallel()
	_, srv, _ := newTestApp(t)

	resp, _ := doJSON(t, http.MethodPost, srv.URL+"/v1/sessions", map[string]string{"id": "aud"})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create: status = %d", resp.StatusCode)
	}
	resp, body := doJSON(t, http.MethodPost, srv.URL+"/v1/sessions/aud/audio", map[string]string{"data": "not-base64!!"})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("audio: status = %d, body %s, want 400", resp.StatusCode, body)
	}
	if !strings.Contains(string(body), "decode audio data") {
		t.Errorf("body = %s, want a decode error", body)
	}
}

func TestTranscriptEndpointReturnsRecentLines(t *testing.T) {
	t.Parallel()
	store := transcript.NewMemory(0)
	_, srv, _ := newTestApp(t, WithTranscriptStore(store))

	resp, _ := doJSON(t, http.MethodPost, srv.URL+"/v1/sessions", map[string]string{"id": "tr"})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create: status = %d", resp.StatusCode)
	}
	for i, line := range []string{"keep your back straight", "like this?"} {
		speaker := transcript.SpeakerAssistant
		if i%2 == 1 {
			speaker = transcript.SpeakerUser
		}
		if err := store.Append(context.Background(), transcript.Entry{
			SessionID: "tr", Speaker: speaker, Text: line, At: time.Now(),
		}); err != nil {
			t.Fatalf("seed store: %v", err)
		}
	}

	resp, body := doJSON(t, http.MethodGet, srv.URL+"/v1/sessions/tr/transcript?limit=10", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("transcript: status = %d", resp.StatusCode)
	}
	var entries []transcriptEntryView
	if err := json.Unmarshal(body, &entries); err != nil {
		t.Fatalf("unmarshal transcript: %v", err)
	}
	if len(entries) != 2 || entries[0].Text != "keep your back straight" {
		t.Fatalf("transcript = %+v, want the two seeded lines oldest first", entries)
	}
}

func TestOperationsOnUnknownSessionReturn404(t *testing.T) {
	t.Parallel()
	_, srv, _ := newTestApp(t)

	for _, tc := range []struct{ method, path string }{
		{http.MethodGet, "/v1/sessions/ghost"},
		{http.MethodPost, "/v1/sessions/ghost/start"},
		{http.MethodPost, "/v1/sessions/ghost/stop"},
		{http.MethodDelete, "/v1/sessions/ghost"},
		{http.MethodGet, "/v1/sessions/ghost/transcript"},
	} {
		resp, _ := doJSON(t, tc.method, srv.URL+tc.path, nil)
		if resp.StatusCode != http.StatusNotFound {
			t.Errorf("%s %s: status = %d, want 404", tc.method, tc.path, resp.StatusCode)
		}
	}
}

func TestHealthAndMetricsEndpoints(t *testing.T) {
	t.Parallel()
	_, srv, _ := newTestApp(t)

	for _, path := range []string{"/healthz", "/readyz", "/metrics"} {
		resp, body := doJSON(t, http.MethodGet, srv.URL+path, nil)
		if resp.StatusCode != http.StatusOK {
			t.Errorf("GET %s: status = %d, body %s", path, resp.StatusCode, body)
		}
	}
}

func TestRunStopsOnContextCancel(t *testing.T) {
	t.Parallel()

	cfg := config.Default()
	cfg.Server.ListenAddr = "127.0.0.1:0"
	cfg.Live.APIKey = testCredential

	a, err := New(context.Background(), cfg,
		WithLogger(slog.New(slog.DiscardHandler)),
		WithTranscriptStore(transcript.NewMemory(0)),
	)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run() error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
