// Package hub fans events out to the live subscribers of a room.
package hub

import (
	"time"

	"github.com/rs/zerolog"

	"roomcast/internal/logging"
	"roomcast/internal/metrics"
	"roomcast/pkg/interfaces"
	"roomcast/pkg/types"
)

// SubscriberSource is the part of the subscriber registry the dispatcher needs.
type SubscriberSource interface {
	Connections(roomID int64) []interfaces.Connection
	Detach(conn interfaces.Connection) bool
}

// Dispatcher writes events to every connection registered in a room.
// ARCHITECTURAL DISCOVERY: delivery is best effort. A failed write evicts
// that subscriber and never aborts delivery to the rest of the room.
type Dispatcher struct {
	registry SubscriberSource
	now      func() time.Time
	logger   zerolog.Logger

	// presence announces offline for subscribers evicted by a failed write.
	presence bool
}

// NewDispatcher creates a dispatcher over registry.
func NewDispatcher(registry SubscriberSource) *Dispatcher {
	return &Dispatcher{
		registry: registry,
		now:      time.Now,
		logger:   logging.WithComponent("dispatcher"),
	}
}

// SetPresenceEvents makes evictions announce the evicted user as offline to
// the rest of the room. Call before the dispatcher is shared.
func (d *Dispatcher) SetPresenceEvents(enabled bool) {
	d.presence = enabled
}

// Broadcast writes event to every subscriber of roomID and returns the
// number of successful deliveries. Zero subscribers is a no-op.
func (d *Dispatcher) Broadcast(roomID int64, event types.Event) int {
	return d.broadcast(roomID, event, "")
}

// BroadcastExcept is Broadcast skipping the subscriber held by userID.
func (d *Dispatcher) BroadcastExcept(roomID int64, userID string, event types.Event) int {
	return d.broadcast(roomID, event, userID)
}

// BroadcastNewMessage announces a stored message to its room.
func (d *Dispatcher) BroadcastNewMessage(roomID int64, message *types.Message) int {
	if message == nil {
		d.logger.Warn().Err(ErrNilMessage).Int64("room_id", roomID).Msg("Broadcast skipped")
		return 0
	}
	return d.broadcast(roomID, types.NewMessageEvent(message), "")
}

// BroadcastUserStatus tells the rest of a room that userID went online or offline.
func (d *Dispatcher) BroadcastUserStatus(roomID int64, userID, status string) int {
	return d.broadcast(roomID, types.NewUserStatusEvent(userID, status, d.now()), userID)
}

func (d *Dispatcher) broadcast(roomID int64, event types.Event, skipUser string) int {
	conns := d.registry.Connections(roomID)
	if len(conns) == 0 {
		return 0
	}

	start := time.Now()
	delivered := 0
	var evicted []string
	for _, conn := range conns {
		if skipUser != "" && conn.UserID() == skipUser {
			continue
		}
		if err := conn.Send(event); err != nil {
			metrics.BroadcastFailures.WithLabelValues(event.Type).Inc()
			d.logger.Warn().Err(err).Int64("room_id", roomID).Str("user_id", conn.UserID()).
				Str("conn_id", conn.ID()).Str("event", event.Type).Msg("Write failed, removing subscriber")
			if d.registry.Detach(conn) {
				evicted = append(evicted, conn.UserID())
			}
			_ = conn.Close()
			continue
		}
		delivered++
	}
	metrics.BroadcastEvents.WithLabelValues(event.Type).Add(float64(delivered))
	metrics.BroadcastDuration.Observe(time.Since(start).Seconds())

	d.logger.Debug().Int64("room_id", roomID).Str("event", event.Type).
		Int("delivered", delivered).Int("subscribers", len(conns)).Msg("Broadcast complete")

	// The evicted stream's own teardown finds nothing left to detach, so the
	// offline announcement happens here.
	if d.presence {
		for _, userID := range evicted {
			d.BroadcastUserStatus(roomID, userID, types.StatusOffline)
		}
	}
	return delivered
}
