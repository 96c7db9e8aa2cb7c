// Package router accepts new chat messages, persists them and hands stored
// messages to the broadcaster.
package router

import (
	"context"
	"fmt"
	"time"

	"roomcast/internal/logging"
	"roomcast/internal/metrics"
	"roomcast/pkg/interfaces"
	"roomcast/pkg/types"
)

// Router implements interfaces.MessageRouter.
type Router struct {
	store       interfaces.MessageStore
	broadcaster interfaces.Broadcaster
	rateLimiter *RateLimiter
	now         func() time.Time
}

// NewRouter creates a router. limiter may be nil to disable rate limiting.
func NewRouter(store interfaces.MessageStore, broadcaster interfaces.Broadcaster, limiter *RateLimiter) *Router {
	return &Router{
		store:       store,
		broadcaster: broadcaster,
		rateLimiter: limiter,
		now:         time.Now,
	}
}

// RouteMessage validates, rate limits and stores message, then broadcasts it
// to the room. The returned message carries the stored ID and timestamp.
// FUNCTIONAL DISCOVERY: persist-then-broadcast. A message that failed to
// store is never broadcast, and a broadcast never fails the send.
func (r *Router) RouteMessage(ctx context.Context, message *types.Message) (*types.Message, error) {
	if message == nil {
		return nil, ErrNilMessage
	}

	// Server controls identity and time.
	message.ID = 0
	message.CreatedAt = r.now().UTC()

	if err := message.Validate(); err != nil {
		metrics.MessagesRejected.WithLabelValues("invalid").Inc()
		return nil, err
	}

	if r.rateLimiter != nil && !r.rateLimiter.Allow(message.UserID) {
		metrics.MessagesRejected.WithLabelValues("rate_limited").Inc()
		return nil, ErrRateLimitExceeded
	}

	id, err := r.store.AppendMessage(ctx, message)
	if err != nil {
		metrics.MessagesRejected.WithLabelValues("store_failed").Inc()
		return nil, fmt.Errorf("failed to persist message: %w", err)
	}
	message.ID = id
	metrics.MessagesStored.WithLabelValues(message.MessageType).Inc()

	delivered := r.broadcaster.BroadcastNewMessage(message.RoomID, message)

	logging.Ctx(ctx).Debug().Str("component", "router").Int64("message_id", id).
		Int64("room_id", message.RoomID).Str("user_id", message.UserID).
		Int("delivered", delivered).Msg("Message stored and broadcast")
	return message, nil
}
