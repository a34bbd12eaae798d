package live

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/coder/websocket"
)

// Transport owns one physical streaming socket. It knows only how to send,
// receive, probe, and close — lifecycle policy (timeouts, retries, health
// probing) lives in the connection manager.
//
// Implementations must be safe for one concurrent reader and one concurrent
// writer.
type Transport interface {
	// Send writes one wire message. It respects ctx cancellation and
	// returns a *ConnectionError on transport failure.
	Send(ctx context.Context, data []byte) error

	// Receive blocks until the next wire message arrives. It returns a
	// *ConnectionError when the socket fails or is closed remotely.
	Receive(ctx context.Context) ([]byte, error)

	// Ping sends a transport-level liveness probe and waits for the pong.
	Ping(ctx context.Context) error

	// Close tears down the socket. Idempotent.
	Close(reason string) error
}

// Dialer opens transports. The connection manager depends on this interface
// so tests can substitute an in-memory transport.
type Dialer interface {
	Dial(ctx context.Context, credential string) (Transport, error)
}

// Compile-time assertions.
var (
	_ Transport = (*wsTransport)(nil)
	_ Dialer    = (*WebSocketDialer)(nil)
)

// DefaultBaseURL is the production endpoint of the generative voice service.
const DefaultBaseURL = "wss://generativelanguage.googleapis.com/ws"

const bidiPath = "/google.ai.generativelanguage.v1beta.GenerativeService.BidiGenerateContent"

// WebSocketDialer opens WebSocket transports against the live endpoint.
type WebSocketDialer struct {
	baseURL string
}

// NewWebSocketDialer creates a dialer for baseURL. An empty baseURL selects
// [DefaultBaseURL].
func NewWebSocketDialer(baseURL string) *WebSocketDialer {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &WebSocketDialer{baseURL: baseURL}
}

// Dial opens a WebSocket connection authenticated with credential. The
// caller is expected to have validated the credential format beforehand;
// Dial reports transport failures only.
func (d *WebSocketDialer) Dial(ctx context.Context, credential string) (Transport, error) {
	wsURL := fmt.Sprintf("%s%s?key=%s", d.baseURL, bidiPath, credential)

	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPHeader: http.Header{
			"Content-Type": []string{"application/json"},
		},
	})
	if err != nil {
		return nil, &ConnectionError{Op: "dial", Err: err}
	}
	// Model audio turns arrive as single large frames.
	conn.SetReadLimit(1 << 22)
	return &wsTransport{conn: conn}, nil
}

// wsTransport adapts a *websocket.Conn to the [Transport] interface.
type wsTransport struct {
	conn *websocket.Conn

	mu     sync.Mutex
	closed bool
}

func (t *wsTransport) Send(ctx context.Context, data []byte) error {
	if err := t.conn.Write(ctx, websocket.MessageText, data); err != nil {
		return &ConnectionError{Op: "write", Err: err}
	}
	return nil
}

func (t *wsTransport) Receive(ctx context.Context) ([]byte, error) {
	_, data, err := t.conn.Read(ctx)
	if err != nil {
		return nil, &ConnectionError{Op: "read", Err: err}
	}
	return data, nil
}

func (t *wsTransport) Ping(ctx context.Context) error {
	if err := t.conn.Ping(ctx); err != nil {
		return &ConnectionError{Op: "probe", Err: err}
	}
	return nil
}

func (t *wsTransport) Close(reason string) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.mu.Unlock()

	return t.conn.Close(websocket.StatusNormalClosure, reason)
}
