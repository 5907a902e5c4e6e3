package websocket

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/gorilla/websocket"

	"mobidoc/pkg/types"
)

var testUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// createTestWebSocketConnection returns the client side of a live socket whose
// server side echoes nothing and forwards every text frame to received.
func createTestWebSocketConnection(t *testing.T) (*websocket.Conn, <-chan []byte) {
	t.Helper()
	received := make(chan []byte, 64)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("failed to upgrade connection: %v", err)
			return
		}
		defer conn.Close()
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			received <- data
		}
	}))
	t.Cleanup(server.Close)

	url := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("failed to dial test server: %v", err)
	}
	return conn, received
}

// fakeConn is an in-memory interfaces.Connection.
type fakeConn struct {
	id       string
	identity types.Identity

	mu     sync.Mutex
	frames [][]byte
	full   bool
	closed bool
}

func newFakeConn(id, userID string) *fakeConn {
	return &fakeConn{id: id, identity: types.Identity{UserID: userID, Role: types.RolePatient}}
}

func (f *fakeConn) ID() string               { return f.id }
func (f *fakeConn) Identity() types.Identity { return f.identity }
func (f *fakeConn) Context() context.Context { return context.Background() }

func (f *fakeConn) Send(frame []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return ErrConnectionClosed
	}
	if f.full {
		return ErrSendBufferFull
	}
	f.frames = append(f.frames, frame)
	return nil
}

func (f *fakeConn) Emit(ev types.OutboundEvent) error {
	frame, err := types.EncodeOutbound(ev)
	if err != nil {
		return err
	}
	return f.Send(frame)
}

func (f *fakeConn) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeConn) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.frames)
}
