package interfaces

import (
	"context"

	"roomcast/pkg/types"
)

// MessageStore is the persistence surface the delivery core depends on.
type MessageStore interface {
	// AppendMessage stores message and returns its assigned ID.
	AppendMessage(ctx context.Context, message *types.Message) (int64, error)

	// LatestMessages returns up to limit most recent messages for a room,
	// oldest first.
	LatestMessages(ctx context.Context, roomID int64, limit int) ([]*types.Message, error)

	// MessagesAfter returns up to limit messages with an ID above afterID,
	// oldest first.
	MessagesAfter(ctx context.Context, roomID, afterID int64, limit int) ([]*types.Message, error)

	HealthCheck(ctx context.Context) error
	Close() error
}
