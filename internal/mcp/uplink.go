package mcp

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/haasonsaas/outie/internal/observability"
)

// Uplink is the orchestrator side of the inverted transport: a WebSocket
// dialed INTO the sandbox's bridge. The engine inside the sandbox cannot
// reach the orchestrator directly, so the orchestrator holds this connection
// open and serves JSON-RPC requests arriving over it.
type Uplink struct {
	service *Service
	logger  *observability.Logger

	mu   sync.Mutex
	conn *websocket.Conn
	done chan struct{}
}

// NewUplink creates an uplink server over the MCP service.
func NewUplink(service *Service, logger *observability.Logger) *Uplink {
	return &Uplink{service: service, logger: logger}
}

// Connect dials the bridge's WS port and starts serving frames. A prior
// connection is replaced.
func (u *Uplink) Connect(ctx context.Context, host string, port int) error {
	target := url.URL{Scheme: "ws", Host: fmt.Sprintf("%s:%d", host, port), Path: "/"}

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, target.String(), nil)
	if err != nil {
		return fmt.Errorf("dial uplink %s: %w", target.String(), err)
	}

	u.mu.Lock()
	if u.conn != nil {
		u.conn.Close()
		close(u.done)
	}
	u.conn = conn
	u.done = make(chan struct{})
	done := u.done
	u.mu.Unlock()

	u.logger.Info(ctx, "uplink established", "target", target.String())
	go u.serve(conn, done)
	return nil
}

// Connected reports whether a live uplink exists.
func (u *Uplink) Connected() bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.conn != nil
}

// Close tears down the uplink.
func (u *Uplink) Close() {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.conn != nil {
		u.conn.Close()
		close(u.done)
		u.conn = nil
	}
}

// serve reads uplink frames, dispatches them into the service and writes
// responses back. Tool handlers run serially per connection, matching the
// engine's own serial tool dispatch.
func (u *Uplink) serve(conn *websocket.Conn, done chan struct{}) {
	defer func() {
		u.mu.Lock()
		if u.conn == conn {
			u.conn = nil
		}
		u.mu.Unlock()
	}()

	for {
		select {
		case <-done:
			return
		default:
		}

		var frame UplinkRequest
		if err := conn.ReadJSON(&frame); err != nil {
			u.logger.Warn(context.Background(), "uplink read failed, connection closed", "error", err)
			return
		}

		ctx := context.Background()
		result := u.service.HandleRaw(ctx, frame.Request)

		response := UplinkResponse{RequestID: frame.RequestID, Response: result.Body}
		if result.SessionID != "" {
			response.Headers = map[string]string{SessionHeader: result.SessionID}
		}

		u.mu.Lock()
		err := conn.WriteJSON(response)
		u.mu.Unlock()
		if err != nil {
			u.logger.Warn(ctx, "uplink write failed", "error", err)
			return
		}
	}
}
