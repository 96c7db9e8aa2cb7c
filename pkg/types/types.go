package types

import (
	"time"
)

// Message kinds accepted by the message store.
const (
	MessageKindText  = "text"
	MessageKindImage = "image"
	MessageKindFile  = "file"
)

// Event types carried on a room stream.
const (
	EventConnected  = "connected"
	EventNewMessage = "newMessage"
	EventUserStatus = "userStatus"
	EventError      = "error"
)

// Presence values carried by userStatus events.
const (
	StatusOnline  = "online"
	StatusOffline = "offline"
)

// PublicRoomID is the room every user can read without joining.
const PublicRoomID int64 = 0

// Message is a stored chat message. Immutable once the store has assigned an ID.
// FUNCTIONAL DISCOVERY: ID is assigned by storage and is strictly increasing,
// so clients may use it both for dedup and for ordering history pages.
type Message struct {
	ID          int64     `json:"id"`
	RoomID      int64     `json:"roomId"`
	UserID      string    `json:"userId"`
	Content     string    `json:"content"`
	MessageType string    `json:"messageType"`
	FileName    *string   `json:"fileName,omitempty"`
	FileSize    *int64    `json:"fileSize,omitempty"`
	FileURL     *string   `json:"fileUrl,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Event is the envelope written to every stream frame.
type Event struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// ConnectedData is the payload of the first frame on every stream.
type ConnectedData struct {
	RoomID    int64     `json:"roomId"`
	UserID    string    `json:"userId"`
	Timestamp time.Time `json:"timestamp"`
}

// UserStatusData is the payload of a userStatus event.
type UserStatusData struct {
	UserID    string    `json:"userId"`
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

// ErrorData is the payload of an error event.
type ErrorData struct {
	Message string `json:"message"`
}

// NewConnectedEvent builds the connected frame for a subscriber.
func NewConnectedEvent(roomID int64, userID string, now time.Time) Event {
	return Event{Type: EventConnected, Data: ConnectedData{RoomID: roomID, UserID: userID, Timestamp: now}}
}

// NewMessageEvent wraps a stored message.
func NewMessageEvent(msg *Message) Event {
	return Event{Type: EventNewMessage, Data: msg}
}

// NewUserStatusEvent builds a presence event.
func NewUserStatusEvent(userID, status string, now time.Time) Event {
	return Event{Type: EventUserStatus, Data: UserStatusData{UserID: userID, Status: status, Timestamp: now}}
}

// APIResponse is the JSON body shape of every REST response.
type APIResponse struct {
	Success bool        `json:"success"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}
