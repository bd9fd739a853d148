package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/haasonsaas/outie/internal/observability"
)

func testLogger() *observability.Logger {
	return observability.NewLogger(observability.LogConfig{Level: "error", Output: io.Discard})
}

func TestBridge503WhenUplinkDown(t *testing.T) {
	bridge := NewBridge(BridgeConfig{}, testLogger())
	server := httptest.NewServer(bridge.MCPHandler())
	defer server.Close()

	resp, err := http.Post(server.URL, "application/json",
		strings.NewReader(`{"jsonrpc":"2.0","id":1,"method":"ping"}`))
	if err != nil {
		t.Fatalf("POST error = %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", resp.StatusCode)
	}
}

func TestBridgeMethodNotAllowed(t *testing.T) {
	bridge := NewBridge(BridgeConfig{}, testLogger())
	server := httptest.NewServer(bridge.MCPHandler())
	defer server.Close()

	resp, err := http.Get(server.URL + "/")
	if err != nil {
		t.Fatalf("GET error = %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("GET / status = %d, want 405", resp.StatusCode)
	}
}

func TestBridgeHealth(t *testing.T) {
	bridge := NewBridge(BridgeConfig{}, testLogger())
	server := httptest.NewServer(bridge.MCPHandler())
	defer server.Close()

	resp, err := http.Get(server.URL + "/health")
	if err != nil {
		t.Fatalf("GET /health error = %v", err)
	}
	defer resp.Body.Close()

	var health struct {
		Status      string `json:"status"`
		DoConnected bool   `json:"doConnected"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		t.Fatalf("decode health: %v", err)
	}
	if health.Status != "ok" || health.DoConnected {
		t.Fatalf("unexpected health: %+v", health)
	}
}

func TestBridgeDelete(t *testing.T) {
	bridge := NewBridge(BridgeConfig{}, testLogger())
	server := httptest.NewServer(bridge.MCPHandler())
	defer server.Close()

	req, _ := http.NewRequest(http.MethodDelete, server.URL+"/", nil)
	req.Header.Set(SessionHeader, "some-session")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("DELETE error = %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("DELETE status = %d, want 204", resp.StatusCode)
	}
}

// hostPort splits an httptest server URL into dialable host and port.
func hostPort(t *testing.T, serverURL string) (string, int) {
	t.Helper()
	u, err := url.Parse(serverURL)
	if err != nil {
		t.Fatalf("parse url: %v", err)
	}
	port, err := strconv.Atoi(u.Port())
	if err != nil {
		t.Fatalf("parse port: %v", err)
	}
	return u.Hostname(), port
}

func waitConnected(t *testing.T, bridge *Bridge) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !bridge.Connected() {
		if time.Now().After(deadline) {
			t.Fatalf("bridge never saw the uplink connect")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// TestBridgeEndToEnd wires a real uplink against the bridge: the reasoning
// engine's POST travels bridge → WebSocket → MCP service and back.
func TestBridgeEndToEnd(t *testing.T) {
	bridge := NewBridge(BridgeConfig{RequestTimeout: 5 * time.Second}, testLogger())
	mcpServer := httptest.NewServer(bridge.MCPHandler())
	defer mcpServer.Close()
	wsServer := httptest.NewServer(bridge.UplinkHandler())
	defer wsServer.Close()

	service := newTestService(t)
	uplink := NewUplink(service, testLogger())
	host, port := hostPort(t, wsServer.URL)
	if err := uplink.Connect(context.Background(), host, port); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer uplink.Close()
	waitConnected(t, bridge)

	// initialize: response plus session header.
	resp, err := http.Post(mcpServer.URL, "application/json",
		strings.NewReader(`{"jsonrpc":"2.0","id":1,"method":"initialize","params":{}}`))
	if err != nil {
		t.Fatalf("POST initialize error = %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("initialize status = %d: %s", resp.StatusCode, body)
	}
	if resp.Header.Get(SessionHeader) == "" {
		t.Fatalf("initialize response missing %s header", SessionHeader)
	}
	response := decodeResponse(t, body)
	if response.Error != nil {
		t.Fatalf("initialize error = %+v", response.Error)
	}

	// tools/call through the full path.
	resp, err = http.Post(mcpServer.URL, "application/json",
		strings.NewReader(`{"jsonrpc":"2.0","id":2,"method":"tools/call","params":{"name":"echo","arguments":{"text":"roundtrip"}}}`))
	if err != nil {
		t.Fatalf("POST tools/call error = %v", err)
	}
	body, _ = io.ReadAll(resp.Body)
	resp.Body.Close()
	response = decodeResponse(t, body)
	var call ToolCallResult
	if err := json.Unmarshal(response.Result, &call); err != nil {
		t.Fatalf("decode call result: %v", err)
	}
	if len(call.Content) != 1 || call.Content[0].Text != "roundtrip" {
		t.Fatalf("unexpected call result: %+v", call)
	}

	// A fully-notification payload returns 202 with no body.
	resp, err = http.Post(mcpServer.URL, "application/json",
		strings.NewReader(`{"jsonrpc":"2.0","method":"initialized"}`))
	if err != nil {
		t.Fatalf("POST notification error = %v", err)
	}
	body, _ = io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("notification status = %d, want 202", resp.StatusCode)
	}
	if len(bytes.TrimSpace(body)) != 0 {
		t.Fatalf("notification response must be empty, got %s", body)
	}
}

func TestBridgeTimeoutReturnsRPCError(t *testing.T) {
	bridge := NewBridge(BridgeConfig{RequestTimeout: 50 * time.Millisecond}, testLogger())
	mcpServer := httptest.NewServer(bridge.MCPHandler())
	defer mcpServer.Close()
	wsServer := httptest.NewServer(bridge.UplinkHandler())
	defer wsServer.Close()

	// An uplink that never answers: connect a raw client and read nothing.
	host, port := hostPort(t, wsServer.URL)
	silent := newSilentUplink(t, host, port)
	defer silent.Close()
	waitConnected(t, bridge)

	resp, err := http.Post(mcpServer.URL, "application/json",
		strings.NewReader(`{"jsonrpc":"2.0","id":"t1","method":"ping"}`))
	if err != nil {
		t.Fatalf("POST error = %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()

	response := decodeResponse(t, body)
	if response.Error == nil || response.Error.Code != ErrCodeRequestTimeout {
		t.Fatalf("expected -32000 timeout, got %+v", response.Error)
	}
	if response.ID != "t1" {
		t.Fatalf("timeout must echo the request id, got %v", response.ID)
	}
}
