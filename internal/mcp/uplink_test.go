package mcp

import (
	"fmt"
	"testing"

	"github.com/gorilla/websocket"
)

// silentUplink is a raw WebSocket client that accepts frames but never
// responds, for exercising the bridge's timeout path.
type silentUplink struct {
	conn *websocket.Conn
}

func newSilentUplink(t *testing.T, host string, port int) *silentUplink {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(fmt.Sprintf("ws://%s:%d/", host, port), nil)
	if err != nil {
		t.Fatalf("dial silent uplink: %v", err)
	}
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
	return &silentUplink{conn: conn}
}

func (s *silentUplink) Close() { s.conn.Close() }
