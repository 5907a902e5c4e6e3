package interfaces

import (
	"context"

	"mobidoc/pkg/types"
)

// Connection is one authenticated real-time client.
// ARCHITECTURAL DISCOVERY: The identity is bound once by the connection gate
// and is owned by the connection for its whole lifetime
type Connection interface {
	// ID uniquely identifies the connection within the process.
	ID() string

	// Identity returns the verified identity attached at connect time.
	Identity() types.Identity

	// Send queues an already encoded frame. It never blocks; a full or
	// closed connection returns an error.
	Send(frame []byte) error

	// Emit encodes and queues one outbound event for this connection only.
	Emit(ev types.OutboundEvent) error

	// Context is cancelled when the connection closes.
	Context() context.Context

	Close() error
}

// EventHandler receives decoded inbound events from the connection gate.
type EventHandler interface {
	HandleEvent(ctx context.Context, conn Connection, ev types.InboundEvent)

	// Disconnect is called once after the connection's read loop ends.
	Disconnect(conn Connection)
}
