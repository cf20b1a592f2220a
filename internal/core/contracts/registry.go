package contracts

import (
	"cargolink/internal/core/domain"
	"context"
)

// Registry is the process-local fan-out layer. It tracks live connections and
// the rooms they joined (`user:{id}` and `conversation:{id}`).
type Registry interface {
	// Register adds a connection to local memory.
	Register(c Client)
	// Unregister removes the connection and every room membership it held.
	Unregister(c Client)
	// Join adds a registered connection to a room.
	Join(connID, room string)
	// Leave removes a connection from a room.
	Leave(connID, room string)
	// Emit writes the event to every connection in the room.
	Emit(ctx context.Context, room string, ev domain.Event)
	// EmitAll writes the event to every registered connection.
	EmitAll(ctx context.Context, ev domain.Event)
}

// Client represents the minimal interface required for the Registry to
// communicate with an individual WebSocket connection.
type Client interface {
	ID() string
	UserID() string
	Send(ctx context.Context, data []byte) error
	Close()
}
