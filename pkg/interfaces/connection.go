package interfaces

import "roomcast/pkg/types"

// Connection is one subscriber's outbound push transport.
// FUNCTIONAL DISCOVERY: Send must be safe for concurrent use because the
// dispatcher and the stream endpoint both write to the same transport.
type Connection interface {
	// ID is unique per transport instance, including reconnects by the same user.
	ID() string

	RoomID() int64
	UserID() string

	// Send writes one event. A non-nil error means the transport is unusable.
	Send(event types.Event) error

	// Close releases the transport. Idempotent and must not block on the peer.
	Close() error

	// Done is closed once the transport has been closed from either side.
	Done() <-chan struct{}
}
