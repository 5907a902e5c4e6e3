package websocket

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"mobidoc/pkg/interfaces"
	"mobidoc/pkg/types"
)

var _ interfaces.Connection = (*Connection)(nil)

// Settings are the per-connection transport limits.
type Settings struct {
	SendBuffer     int
	WriteTimeout   time.Duration
	PongWait       time.Duration
	PingInterval   time.Duration
	MaxMessageSize int64
}

// DefaultSettings mirrors the config defaults.
func DefaultSettings() Settings {
	return Settings{
		SendBuffer:     100,
		WriteTimeout:   5 * time.Second,
		PongWait:       60 * time.Second,
		PingInterval:   30 * time.Second,
		MaxMessageSize: 128 * 1024,
	}
}

// Connection wraps one gorilla connection.
// ARCHITECTURAL DISCOVERY: All frames, pings included, are written by a single
// goroutine; the identity is fixed at construction and needs no lock
type Connection struct {
	id        string
	conn      *websocket.Conn
	identity  types.Identity
	settings  Settings
	writeCh   chan []byte
	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
}

// NewConnection binds an authenticated identity to an upgraded connection
// and starts its writer.
func NewConnection(conn *websocket.Conn, identity types.Identity, settings Settings) *Connection {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Connection{
		id:       uuid.NewString(),
		conn:     conn,
		identity: identity,
		settings: settings,
		writeCh:  make(chan []byte, settings.SendBuffer),
		ctx:      ctx,
		cancel:   cancel,
	}
	go c.writeLoop()
	return c
}

func (c *Connection) writeLoop() {
	ping := time.NewTicker(c.settings.PingInterval)
	defer ping.Stop()

	for {
		select {
		case data := <-c.writeCh:
			if err := c.conn.SetWriteDeadline(time.Now().Add(c.settings.WriteTimeout)); err != nil {
				_ = c.Close()
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				_ = c.Close()
				return
			}

		case <-ping.C:
			deadline := time.Now().Add(c.settings.WriteTimeout)
			if err := c.conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				_ = c.Close()
				return
			}

		case <-c.ctx.Done():
			return
		}
	}
}

func (c *Connection) ID() string               { return c.id }
func (c *Connection) Identity() types.Identity { return c.identity }
func (c *Connection) Context() context.Context { return c.ctx }

// Send queues a frame without blocking. A slow client whose buffer is full
// loses the frame rather than stalling the sender.
func (c *Connection) Send(frame []byte) error {
	select {
	case <-c.ctx.Done():
		return ErrConnectionClosed
	default:
	}

	select {
	case c.writeCh <- frame:
		return nil
	case <-c.ctx.Done():
		return ErrConnectionClosed
	default:
		return ErrSendBufferFull
	}
}

// Emit encodes and queues one event for this connection.
func (c *Connection) Emit(ev types.OutboundEvent) error {
	frame, err := types.EncodeOutbound(ev)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidJSON, err)
	}
	return c.Send(frame)
}

// Close cancels the connection context and closes the socket. Safe to call
// from any goroutine, any number of times.
func (c *Connection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.cancel()
		if c.conn != nil {
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			err = c.conn.Close()
		}
	})
	return err
}
