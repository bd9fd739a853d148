package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/haasonsaas/outie/internal/observability"
)

// Bridge is the tiny process inside the sandbox that makes the
// network-isolated orchestrator reachable. It serves standard MCP HTTP to
// the reasoning engine on one port and accepts a single WebSocket uplink
// from the orchestrator on another; each HTTP request is forwarded over the
// uplink and the response relayed back.
//
// The bridge is stateless with respect to MCP session ids: headers pass
// through untouched.
type Bridge struct {
	logger         *observability.Logger
	requestTimeout time.Duration
	upgrader       websocket.Upgrader

	mu      sync.Mutex
	uplink  *websocket.Conn
	pending map[string]chan *UplinkResponse
}

// BridgeConfig configures a Bridge.
type BridgeConfig struct {
	// RequestTimeout bounds one forwarded request (default 30s).
	RequestTimeout time.Duration
}

// NewBridge creates a bridge.
func NewBridge(cfg BridgeConfig, logger *observability.Logger) *Bridge {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}
	return &Bridge{
		logger:         logger,
		requestTimeout: cfg.RequestTimeout,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  8192,
			WriteBufferSize: 8192,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		pending: make(map[string]chan *UplinkResponse),
	}
}

// MCPHandler returns the HTTP handler for the engine-facing MCP port.
func (b *Bridge) MCPHandler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", b.handleMCP)
	mux.HandleFunc("/mcp", b.handleMCP)
	mux.HandleFunc("/health", b.handleHealth)
	return mux
}

// UplinkHandler returns the HTTP handler for the orchestrator-facing
// WebSocket port.
func (b *Bridge) UplinkHandler() http.Handler {
	return http.HandlerFunc(b.handleUplink)
}

// Connected reports whether an orchestrator uplink is live.
func (b *Bridge) Connected() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.uplink != nil
}

func (b *Bridge) handleMCP(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
	case http.MethodDelete:
		// Session termination is forwarded best-effort; the orchestrator owns
		// session state.
		b.forwardDelete(r)
		w.WriteHeader(http.StatusNoContent)
		return
	case http.MethodGet:
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, 4<<20))
	if err != nil {
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}

	response, err := b.forward(r.Context(), body, headersFrom(r))
	if err != nil {
		if !b.Connected() {
			http.Error(w, "orchestrator uplink down", http.StatusServiceUnavailable)
			return
		}
		b.writeTimeout(w, body)
		return
	}

	if response.Error != "" {
		b.writeBridgeError(w, body, response.Error)
		return
	}
	for key, value := range response.Headers {
		w.Header().Set(key, value)
	}
	if len(response.Response) == 0 {
		// All-notification payloads get no body.
		w.WriteHeader(http.StatusAccepted)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(response.Response)
}

func (b *Bridge) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"status":      "ok",
		"doConnected": b.Connected(),
	})
}

// forward sends one payload over the uplink and waits for its response.
func (b *Bridge) forward(ctx context.Context, payload []byte, headers map[string]string) (*UplinkResponse, error) {
	b.mu.Lock()
	conn := b.uplink
	if conn == nil {
		b.mu.Unlock()
		return nil, fmt.Errorf("no uplink connected")
	}

	requestID := uuid.NewString()
	ch := make(chan *UplinkResponse, 1)
	b.pending[requestID] = ch

	frame := UplinkRequest{RequestID: requestID, Request: payload, Headers: headers}
	err := conn.WriteJSON(frame)
	b.mu.Unlock()
	if err != nil {
		b.removePending(requestID)
		return nil, fmt.Errorf("uplink write: %w", err)
	}

	timer := time.NewTimer(b.requestTimeout)
	defer timer.Stop()
	select {
	case response := <-ch:
		return response, nil
	case <-timer.C:
		b.removePending(requestID)
		return nil, fmt.Errorf("request timeout after %s", b.requestTimeout)
	case <-ctx.Done():
		b.removePending(requestID)
		return nil, ctx.Err()
	}
}

func (b *Bridge) forwardDelete(r *http.Request) {
	payload, err := json.Marshal(map[string]any{
		"jsonrpc": "2.0",
		"method":  "notifications/session/end",
	})
	if err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	b.forward(ctx, payload, headersFrom(r))
}

// handleUplink accepts the orchestrator's WebSocket. A new connection
// replaces the previous one; pending requests against the old connection are
// rejected.
func (b *Bridge) handleUplink(w http.ResponseWriter, r *http.Request) {
	conn, err := b.upgrader.Upgrade(w, r, nil)
	if err != nil {
		b.logger.Error(r.Context(), "uplink upgrade failed", "error", err)
		return
	}

	b.mu.Lock()
	if b.uplink != nil {
		b.uplink.Close()
		b.rejectPendingLocked("uplink replaced")
	}
	b.uplink = conn
	b.mu.Unlock()
	b.logger.Info(r.Context(), "orchestrator uplink connected", "remote", conn.RemoteAddr().String())

	go b.readLoop(conn)
}

func (b *Bridge) readLoop(conn *websocket.Conn) {
	for {
		var response UplinkResponse
		if err := conn.ReadJSON(&response); err != nil {
			b.mu.Lock()
			if b.uplink == conn {
				b.uplink = nil
				b.rejectPendingLocked("DO connection closed")
			}
			b.mu.Unlock()
			b.logger.Warn(context.Background(), "uplink closed", "error", err)
			return
		}
		b.mu.Lock()
		ch, ok := b.pending[response.RequestID]
		if ok {
			delete(b.pending, response.RequestID)
		}
		b.mu.Unlock()
		if ok {
			ch <- &response
		}
	}
}

func (b *Bridge) removePending(requestID string) {
	b.mu.Lock()
	delete(b.pending, requestID)
	b.mu.Unlock()
}

// rejectPendingLocked fails every pending request. Callers hold b.mu.
func (b *Bridge) rejectPendingLocked(reason string) {
	for id, ch := range b.pending {
		ch <- &UplinkResponse{RequestID: id, Error: reason}
		delete(b.pending, id)
	}
}

func (b *Bridge) writeTimeout(w http.ResponseWriter, request []byte) {
	b.writeRPCError(w, request, ErrCodeRequestTimeout, "Request timeout")
}

func (b *Bridge) writeBridgeError(w http.ResponseWriter, request []byte, message string) {
	b.writeRPCError(w, request, ErrCodeInternalError, message)
}

// writeRPCError answers the HTTP request with a JSON-RPC error echoing the
// original request id when one can be recovered.
func (b *Bridge) writeRPCError(w http.ResponseWriter, request []byte, code int, message string) {
	var req JSONRPCRequest
	var id any
	if err := json.Unmarshal(request, &req); err == nil {
		id = req.ID
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(JSONRPCResponse{
		JSONRPC: "2.0",
		ID:      id,
		Error:   &JSONRPCError{Code: code, Message: message},
	})
}

func headersFrom(r *http.Request) map[string]string {
	headers := make(map[string]string)
	if v := r.Header.Get(SessionHeader); v != "" {
		headers[SessionHeader] = v
	}
	return headers
}
