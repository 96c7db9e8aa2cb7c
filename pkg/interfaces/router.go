package interfaces

import (
	"context"

	"roomcast/pkg/types"
)

// MessageRouter accepts a new message, persists it and fans it out.
type MessageRouter interface {
	RouteMessage(ctx context.Context, message *types.Message) (*types.Message, error)
}

// Broadcaster pushes stored messages to a room's live subscribers.
// ARCHITECTURAL DISCOVERY: called only after a successful insert, never for
// a message that failed to persist.
type Broadcaster interface {
	BroadcastNewMessage(roomID int64, message *types.Message) int
}
