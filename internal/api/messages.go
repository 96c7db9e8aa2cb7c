package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"

	"roomcast/internal/logging"
	"roomcast/internal/router"
	"roomcast/pkg/types"
)

var errInvalidLimit = errors.New("limit must be a positive integer")

// maxRequestBody leaves room for a maximal message plus envelope.
const maxRequestBody = types.MaxContentBytes + 16*1024

// SendMessageRequest is the body of POST /api/messages.
type SendMessageRequest struct {
	RoomID      *int64  `json:"roomId" validate:"required,gte=0"`
	UserID      string  `json:"userId" validate:"required,max=50"`
	Content     string  `json:"content"`
	MessageType string  `json:"messageType" validate:"omitempty,oneof=text image file"`
	FileName    *string `json:"fileName,omitempty" validate:"omitempty,max=255"`
	FileSize    *int64  `json:"fileSize,omitempty" validate:"omitempty,gte=0"`
	FileURL     *string `json:"fileUrl,omitempty" validate:"omitempty,max=2048"`
}

func (req *SendMessageRequest) message() *types.Message {
	return &types.Message{
		RoomID:      *req.RoomID,
		UserID:      req.UserID,
		Content:     req.Content,
		MessageType: req.MessageType,
		FileName:    req.FileName,
		FileSize:    req.FileSize,
		FileURL:     req.FileURL,
	}
}

// isValidationError reports errors caused by the message itself.
func isValidationError(err error) bool {
	for _, target := range []error{
		types.ErrInvalidUserID,
		types.ErrInvalidRoomID,
		types.ErrInvalidMessageType,
		types.ErrEmptyContent,
		types.ErrMissingFileURL,
		types.ErrContentTooLarge,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// FUNCTIONAL DISCOVERY: POST /api/messages - store then broadcast, 201 with the stored message
func (s *Server) sendMessage(w http.ResponseWriter, r *http.Request) {
	var req SendMessageRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}
	if err := validateRequest(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	stored, err := s.router.RouteMessage(r.Context(), req.message())
	switch {
	case err == nil:
		writeJSON(w, http.StatusCreated, types.APIResponse{Success: true, Data: stored})
	case errors.Is(err, router.ErrRateLimitExceeded):
		writeError(w, http.StatusTooManyRequests, err.Error())
	case isValidationError(err):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		logging.Ctx(r.Context()).Error().Err(err).Msg("Failed to send message")
		writeError(w, http.StatusInternalServerError, "Failed to send message")
	}
}

// LatestMessagesResponse is the data of GET /api/messages/{roomId}/latest.
type LatestMessagesResponse struct {
	Messages []*types.Message `json:"messages"`
}

// FUNCTIONAL DISCOVERY: GET /api/messages/{roomId}/latest - ascending by id, limit clamped
func (s *Server) latestMessages(w http.ResponseWriter, r *http.Request) {
	roomID, err := types.ParseRoomID(chi.URLParam(r, "roomId"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	limit, err := s.parseLimit(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	messages, err := s.store.LatestMessages(r.Context(), roomID, limit)
	if err != nil {
		logging.Ctx(r.Context()).Error().Err(err).Int64("room_id", roomID).Msg("Failed to load messages")
		writeError(w, http.StatusInternalServerError, "Failed to load messages")
		return
	}
	if messages == nil {
		messages = []*types.Message{}
	}
	writeJSON(w, http.StatusOK, types.APIResponse{Success: true, Data: LatestMessagesResponse{Messages: messages}})
}

// FUNCTIONAL DISCOVERY: GET /api/messages/{roomId}?after=<id> - polling fallback, messages newer than after
func (s *Server) messagesAfter(w http.ResponseWriter, r *http.Request) {
	roomID, err := types.ParseRoomID(chi.URLParam(r, "roomId"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var after int64
	if raw := r.URL.Query().Get("after"); raw != "" {
		after, err = strconv.ParseInt(raw, 10, 64)
		if err != nil || after < 0 {
			writeError(w, http.StatusBadRequest, "after must be a non-negative integer")
			return
		}
	}
	limit, err := s.parseLimit(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	messages, err := s.store.MessagesAfter(r.Context(), roomID, after, limit)
	if err != nil {
		logging.Ctx(r.Context()).Error().Err(err).Int64("room_id", roomID).Int64("after", after).Msg("Failed to load messages")
		writeError(w, http.StatusInternalServerError, "Failed to load messages")
		return
	}
	if messages == nil {
		messages = []*types.Message{}
	}
	writeJSON(w, http.StatusOK, types.APIResponse{Success: true, Data: LatestMessagesResponse{Messages: messages}})
}

// parseLimit reads ?limit=, defaulting to HistoryLimit and clamping to HistoryMaxLimit.
func (s *Server) parseLimit(r *http.Request) (int, error) {
	limit := s.opts.HistoryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			return 0, errInvalidLimit
		}
		limit = n
	}
	if limit > s.opts.HistoryMaxLimit {
		limit = s.opts.HistoryMaxLimit
	}
	return limit, nil
}
