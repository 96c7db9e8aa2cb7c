// Package stream owns the server side of live delivery: the subscriber
// registry, the SSE and WebSocket transports and the HTTP endpoints that
// attach them to rooms.
package stream

import (
	"sync"

	"github.com/rs/zerolog"

	"roomcast/internal/logging"
	"roomcast/internal/metrics"
	"roomcast/pkg/interfaces"
)

// Registry maps roomID -> userID -> Connection.
// ARCHITECTURAL DISCOVERY: at most one connection per (room, user); a new
// subscription closes the displaced transport before taking its slot.
type Registry struct {
	mu     sync.RWMutex
	rooms  map[int64]map[string]interfaces.Connection
	total  int
	logger zerolog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		rooms:  make(map[int64]map[string]interfaces.Connection),
		logger: logging.WithComponent("registry"),
	}
}

// Subscribe registers conn for (roomID, userID). Any connection already held
// for that pair is closed first and then replaced. It reports whether the
// pair had no connection before, decided under the same lock as the insert.
func (r *Registry) Subscribe(roomID int64, userID string, conn interfaces.Connection) bool {
	if conn == nil {
		return false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	users, ok := r.rooms[roomID]
	if !ok {
		users = make(map[string]interfaces.Connection)
		r.rooms[roomID] = users
	}

	existing, exists := users[userID]
	if exists {
		if existing != conn {
			if err := existing.Close(); err != nil {
				r.logger.Warn().Err(err).Int64("room_id", roomID).Str("user_id", userID).
					Msg("Failed to close displaced connection")
			}
			metrics.StreamReplacements.Inc()
		}
	} else {
		r.total++
	}
	users[userID] = conn
	r.updateGauges()

	r.logger.Debug().Int64("room_id", roomID).Str("user_id", userID).Str("conn_id", conn.ID()).
		Int("room_subscribers", len(users)).Msg("Subscriber registered")
	return !exists
}

// Unsubscribe removes whatever is registered for (roomID, userID). No-op if absent.
func (r *Registry) Unsubscribe(roomID int64, userID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removeLocked(roomID, userID)
}

// Detach removes conn only if it is still the connection registered for its
// room and user. It reports whether anything was removed.
// RACE CONDITION FIX: a displaced connection tearing down late must not
// remove the connection that replaced it.
func (r *Registry) Detach(conn interfaces.Connection) bool {
	if conn == nil {
		return false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	registered, ok := r.rooms[conn.RoomID()][conn.UserID()]
	if !ok || registered != conn {
		return false
	}
	r.removeLocked(conn.RoomID(), conn.UserID())
	return true
}

// removeLocked must be called with mu held.
func (r *Registry) removeLocked(roomID int64, userID string) {
	users, ok := r.rooms[roomID]
	if !ok {
		return
	}
	if _, exists := users[userID]; !exists {
		return
	}
	delete(users, userID)
	r.total--
	if len(users) == 0 {
		delete(r.rooms, roomID)
	}
	r.updateGauges()

	r.logger.Debug().Int64("room_id", roomID).Str("user_id", userID).Msg("Subscriber removed")
}

func (r *Registry) updateGauges() {
	metrics.StreamSubscribers.Set(float64(r.total))
	metrics.StreamRooms.Set(float64(len(r.rooms)))
}

// SubscriberCount returns the number of subscribers in a room, 0 if unknown.
func (r *Registry) SubscriberCount(roomID int64) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms[roomID])
}

// IsSubscribed reports whether userID currently holds a connection in roomID.
func (r *Registry) IsSubscribed(roomID int64, userID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.rooms[roomID][userID]
	return ok
}

// Snapshot returns roomID -> subscriber count for every non-empty room.
func (r *Registry) Snapshot() map[int64]int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	snapshot := make(map[int64]int, len(r.rooms))
	for roomID, users := range r.rooms {
		snapshot[roomID] = len(users)
	}
	return snapshot
}

// Connections returns a point-in-time copy of a room's connections.
func (r *Registry) Connections(roomID int64) []interfaces.Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	users := r.rooms[roomID]
	if len(users) == 0 {
		return nil
	}
	conns := make([]interfaces.Connection, 0, len(users))
	for _, conn := range users {
		conns = append(conns, conn)
	}
	return conns
}

// Total returns the number of registered connections across all rooms.
func (r *Registry) Total() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.total
}

// CloseAll closes and removes every registered connection. Used on shutdown.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	rooms := r.rooms
	r.rooms = make(map[int64]map[string]interfaces.Connection)
	r.total = 0
	r.updateGauges()
	r.mu.Unlock()

	for _, users := range rooms {
		for _, conn := range users {
			_ = conn.Close()
		}
	}
}
