// Package api exposes the HTTP surface of roomcast: message submission and
// history, the live stream endpoints and operational endpoints.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"roomcast/internal/logging"
	"roomcast/pkg/interfaces"
	"roomcast/pkg/types"
)

// SubscriberStats is the read side of the subscriber registry.
type SubscriberStats interface {
	Snapshot() map[int64]int
	Total() int
}

// StreamHandlers serves the live stream endpoints.
type StreamHandlers interface {
	ServeStream(w http.ResponseWriter, r *http.Request)
	ServeWebSocket(w http.ResponseWriter, r *http.Request)
	ServeStats(w http.ResponseWriter, r *http.Request)
}

// Options configures the HTTP surface.
type Options struct {
	CORSOrigins     []string
	HistoryLimit    int
	HistoryMaxLimit int
	// ConnectsPerMinute limits stream subscriptions per client IP. Zero disables it.
	ConnectsPerMinute int
}

// DefaultOptions returns permissive CORS with 50/200 history limits.
func DefaultOptions() Options {
	return Options{
		CORSOrigins:     []string{"*"},
		HistoryLimit:    50,
		HistoryMaxLimit: 200,
	}
}

// ARCHITECTURAL DISCOVERY: HTTP API layer serves as pure interface between external clients and internal components
// Clean separation - no business logic, only HTTP handling and JSON serialization
type Server struct {
	store   interfaces.MessageStore
	router  interfaces.MessageRouter
	stats   SubscriberStats
	streams StreamHandlers
	opts    Options
	mux     chi.Router
	now     func() time.Time
}

// NewServer wires the routes. Dependencies are injected so each layer can be
// replaced in tests.
func NewServer(store interfaces.MessageStore, router interfaces.MessageRouter, stats SubscriberStats, streams StreamHandlers, opts Options) *Server {
	defaults := DefaultOptions()
	if opts.HistoryLimit <= 0 {
		opts.HistoryLimit = defaults.HistoryLimit
	}
	if opts.HistoryMaxLimit < opts.HistoryLimit {
		opts.HistoryMaxLimit = opts.HistoryLimit
	}
	if len(opts.CORSOrigins) == 0 {
		opts.CORSOrigins = defaults.CORSOrigins
	}

	s := &Server{
		store:   store,
		router:  router,
		stats:   stats,
		streams: streams,
		opts:    opts,
		now:     time.Now,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	r := chi.NewRouter()
	r.Use(requestIDWithLogging)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(corsMiddleware(s.opts.CORSOrigins))

	r.Group(func(r chi.Router) {
		r.Use(accessLog)
		r.Get("/health", s.healthCheck)
		r.Handle("/metrics", promhttp.Handler())
		r.Post("/api/messages", s.sendMessage)
		r.Get("/api/messages/{roomId}", s.messagesAfter)
		r.Get("/api/messages/{roomId}/latest", s.latestMessages)
		r.Get("/stream/stats", s.streams.ServeStats)
	})

	// Stream routes write through the raw ResponseWriter so flushing and
	// hijacking reach the connection.
	r.Group(func(r chi.Router) {
		if s.opts.ConnectsPerMinute > 0 {
			r.Use(httprate.Limit(s.opts.ConnectsPerMinute, time.Minute,
				httprate.WithKeyFuncs(httprate.KeyByIP),
				httprate.WithLimitHandler(connectLimited),
			))
		}
		r.Get("/stream/{roomId}", s.streams.ServeStream)
		r.Get("/ws/{roomId}", s.streams.ServeWebSocket)
	})

	s.mux = r
}

func connectLimited(w http.ResponseWriter, r *http.Request) {
	logging.Ctx(r.Context()).Warn().Str("remote_addr", r.RemoteAddr).Msg("Stream connect rate limit exceeded")
	writeError(w, http.StatusTooManyRequests, "Too many connection attempts")
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status      string         `json:"status"`
	Timestamp   time.Time      `json:"timestamp"`
	Database    string         `json:"database"`
	Connections map[string]int `json:"connections"`
	Subscribers int            `json:"subscribers"`
}

// FUNCTIONAL DISCOVERY: GET /health - 503 if the database check fails
func (s *Server) healthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status, dbStatus, code := "healthy", "healthy", http.StatusOK
	if err := s.store.HealthCheck(ctx); err != nil {
		logging.Ctx(r.Context()).Warn().Err(err).Msg("Health check failed")
		status, dbStatus, code = "unhealthy", "error: "+err.Error(), http.StatusServiceUnavailable
	}

	snapshot := s.stats.Snapshot()
	connections := make(map[string]int, len(snapshot))
	for roomID, n := range snapshot {
		connections[types.FormatRoomID(roomID)] = n
	}

	writeJSON(w, code, HealthResponse{
		Status:      status,
		Timestamp:   s.now().UTC(),
		Database:    dbStatus,
		Connections: connections,
		Subscribers: s.stats.Total(),
	})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, types.APIResponse{Success: false, Message: message})
}
