package stream

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"roomcast/internal/logging"
	"roomcast/internal/metrics"
	"roomcast/pkg/interfaces"
	"roomcast/pkg/types"
)

// StatusBroadcaster announces presence changes to the other members of a room.
type StatusBroadcaster interface {
	BroadcastUserStatus(roomID int64, userID, status string) int
}

// Options tunes the stream endpoints.
type Options struct {
	// WriteTimeout bounds a single frame write. Zero disables the bound.
	WriteTimeout time.Duration

	// KeepaliveInterval sends an SSE comment this often. Zero disables it.
	KeepaliveInterval time.Duration

	// PingInterval is the WebSocket ping period.
	PingInterval time.Duration

	// SendBuffer is the per-WebSocket outbound queue length.
	SendBuffer int

	// PresenceEvents enables userStatus online/offline broadcasts.
	PresenceEvents bool

	// AllowedOrigins restricts WebSocket upgrades; "*" or empty allows any origin.
	AllowedOrigins []string
}

// DefaultOptions returns the endpoint defaults.
func DefaultOptions() Options {
	return Options{
		WriteTimeout:   10 * time.Second,
		PingInterval:   30 * time.Second,
		SendBuffer:     100,
		PresenceEvents: true,
	}
}

// Handler serves the subscribe endpoints and the subscriber stats.
type Handler struct {
	registry *Registry
	presence StatusBroadcaster
	opts     Options
	upgrader websocket.Upgrader
	now      func() time.Time
	logger   zerolog.Logger
}

// NewHandler creates a handler. presence may be nil.
func NewHandler(registry *Registry, presence StatusBroadcaster, opts Options) *Handler {
	if opts.PingInterval <= 0 {
		opts.PingInterval = 30 * time.Second
	}
	h := &Handler{
		registry: registry,
		presence: presence,
		opts:     opts,
		now:      time.Now,
		logger:   logging.WithComponent("stream"),
	}
	h.upgrader = websocket.Upgrader{
		CheckOrigin:      h.checkOrigin,
		HandshakeTimeout: 10 * time.Second,
	}
	return h
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	if len(h.opts.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range h.opts.AllowedOrigins {
		if allowed == "*" || strings.EqualFold(allowed, origin) {
			return true
		}
	}
	return false
}

// parseSubscribeParams reads roomId from the path and userId from the query.
func parseSubscribeParams(r *http.Request) (int64, string, error) {
	roomID, err := types.ParseRoomID(chi.URLParam(r, "roomId"))
	if err != nil {
		return 0, "", err
	}
	userID := r.URL.Query().Get("userId")
	if userID == "" {
		return 0, "", ErrMissingUserID
	}
	if !types.IsValidUserID(userID) {
		return 0, "", types.ErrInvalidUserID
	}
	return roomID, userID, nil
}

// ServeStream handles GET /stream/{roomId}?userId=.
// FUNCTIONAL DISCOVERY: parameters are validated before the first byte of the
// stream, so a rejected request still gets a normal JSON 400.
func (h *Handler) ServeStream(w http.ResponseWriter, r *http.Request) {
	roomID, userID, err := parseSubscribeParams(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	conn, err := NewSSEConnection(w, roomID, userID, h.opts.WriteTimeout)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	// The server-wide write timeout must not end a long-lived stream.
	_ = http.NewResponseController(w).SetWriteDeadline(time.Time{})

	header := w.Header()
	header.Set("Content-Type", "text/event-stream")
	header.Set("Cache-Control", "no-cache")
	header.Set("Connection", "keep-alive")
	header.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	log := logging.Ctx(r.Context()).With().Str("component", "stream").
		Int64("room_id", roomID).Str("user_id", userID).Str("conn_id", conn.ID()).Logger()

	if err := conn.Send(types.NewConnectedEvent(roomID, userID, h.now())); err != nil {
		log.Warn().Err(err).Msg("Failed to write connected frame")
		conn.release()
		return
	}

	release := h.attach(conn, "sse", conn.release)
	defer release()
	log.Info().Msg("Stream opened")

	var keepalive <-chan time.Time
	if h.opts.KeepaliveInterval > 0 {
		ticker := time.NewTicker(h.opts.KeepaliveInterval)
		defer ticker.Stop()
		keepalive = ticker.C
	}

	for {
		select {
		case <-r.Context().Done():
			log.Info().Msg("Stream closed by peer")
			return
		case <-conn.Done():
			log.Info().Msg("Stream closed by server")
			return
		case <-keepalive:
			if err := conn.SendComment("keepalive"); err != nil {
				log.Info().Err(err).Msg("Keepalive failed")
				return
			}
		}
	}
}

// ServeWebSocket handles GET /ws/{roomId}?userId=. Same envelopes as the SSE
// stream, one text frame per event. Inbound frames are ignored.
func (h *Handler) ServeWebSocket(w http.ResponseWriter, r *http.Request) {
	roomID, userID, err := parseSubscribeParams(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn().Err(err).Msg("WebSocket upgrade failed")
		return
	}

	conn := NewWSConnection(ws, roomID, userID, h.opts.SendBuffer, h.opts.WriteTimeout)
	log := logging.Ctx(r.Context()).With().Str("component", "stream").
		Int64("room_id", roomID).Str("user_id", userID).Str("conn_id", conn.ID()).Logger()

	if err := conn.Send(types.NewConnectedEvent(roomID, userID, h.now())); err != nil {
		log.Warn().Err(err).Msg("Failed to queue connected frame")
		_ = conn.Close()
		return
	}

	release := h.attach(conn, "websocket", func() { _ = conn.Close() })
	defer release()
	log.Info().Msg("WebSocket opened")

	conn.readPump(h.opts.PingInterval)
	log.Info().Msg("WebSocket closed")
}

// attach announces and registers conn, returning the teardown to run exactly
// once when the subscription ends.
func (h *Handler) attach(conn interfaces.Connection, transport string, closeTransport func()) func() {
	roomID, userID := conn.RoomID(), conn.UserID()

	added := h.registry.Subscribe(roomID, userID, conn)
	metrics.StreamSubscriptions.WithLabelValues(transport).Inc()
	if added && h.opts.PresenceEvents && h.presence != nil {
		h.presence.BroadcastUserStatus(roomID, userID, types.StatusOnline)
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			removed := h.registry.Detach(conn)
			closeTransport()
			if removed && h.opts.PresenceEvents && h.presence != nil {
				h.presence.BroadcastUserStatus(roomID, userID, types.StatusOffline)
			}
		})
	}
}

// ServeStats handles GET /stream/stats.
func (h *Handler) ServeStats(w http.ResponseWriter, r *http.Request) {
	snapshot := h.registry.Snapshot()
	data := make(map[string]int, len(snapshot))
	for roomID, count := range snapshot {
		data[types.FormatRoomID(roomID)] = count
	}
	writeJSON(w, http.StatusOK, types.APIResponse{Success: true, Data: data})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, types.APIResponse{Success: false, Message: message})
}
