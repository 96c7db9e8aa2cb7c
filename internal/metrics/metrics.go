// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// StreamSubscribers is the number of registered push connections.
	StreamSubscribers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "roomcast_stream_subscribers",
		Help: "Number of currently registered stream subscribers",
	})

	// StreamRooms is the number of rooms with at least one subscriber.
	StreamRooms = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "roomcast_stream_rooms",
		Help: "Number of rooms with at least one subscriber",
	})

	// StreamSubscriptions counts accepted subscriptions by transport (sse, websocket).
	StreamSubscriptions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "roomcast_stream_subscriptions_total",
			Help: "Total accepted stream subscriptions",
		},
		[]string{"transport"},
	)

	// StreamReplacements counts subscriptions that displaced an existing one.
	StreamReplacements = promauto.NewCounter(prometheus.CounterOpts{
		Name: "roomcast_stream_replacements_total",
		Help: "Total subscriptions that replaced an existing connection for the same user",
	})

	// BroadcastEvents counts events delivered to subscribers by event type.
	BroadcastEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "roomcast_broadcast_deliveries_total",
			Help: "Total events written to subscribers",
		},
		[]string{"event"},
	)

	// BroadcastFailures counts writes that failed and evicted a subscriber.
	BroadcastFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "roomcast_broadcast_failures_total",
			Help: "Total failed event writes; each evicts the subscriber",
		},
		[]string{"event"},
	)

	// BroadcastDuration observes how long a room fan-out takes.
	BroadcastDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "roomcast_broadcast_duration_seconds",
		Help:    "Time spent fanning one event out to a room",
		Buckets: []float64{.0005, .001, .005, .01, .05, .1, .5, 1},
	})

	// MessagesStored counts messages appended to the store by kind.
	MessagesStored = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "roomcast_messages_stored_total",
			Help: "Total messages persisted",
		},
		[]string{"kind"},
	)

	// MessagesRejected counts send attempts refused before storage by reason.
	MessagesRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "roomcast_messages_rejected_total",
			Help: "Total messages rejected before storage",
		},
		[]string{"reason"},
	)

	// DBWriteRetries counts store writes that needed a retry.
	DBWriteRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "roomcast_db_write_retries_total",
		Help: "Total database writes retried after a failure",
	})
)
