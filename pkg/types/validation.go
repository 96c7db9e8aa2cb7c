package types

import (
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"
)

// MaxContentBytes bounds Message.Content.
const MaxContentBytes = 65536

// MaxUserIDLength bounds user IDs, counted in runes.
const MaxUserIDLength = 50

// Validate checks a message before it is stored.
func (m *Message) Validate() error {
	if m.RoomID < 0 {
		return ErrInvalidRoomID
	}
	if !IsValidUserID(m.UserID) {
		return ErrInvalidUserID
	}
	if m.MessageType == "" {
		m.MessageType = MessageKindText
	}
	if !IsValidMessageType(m.MessageType) {
		return ErrInvalidMessageType
	}
	if len(m.Content) > MaxContentBytes {
		return ErrContentTooLarge
	}
	switch m.MessageType {
	case MessageKindText:
		if strings.TrimSpace(m.Content) == "" {
			return ErrEmptyContent
		}
	case MessageKindImage, MessageKindFile:
		if m.FileURL == nil || strings.TrimSpace(*m.FileURL) == "" {
			return ErrMissingFileURL
		}
	}
	return nil
}

// IsValidUserID reports whether userID is 1-50 runes of printable text.
func IsValidUserID(userID string) bool {
	if !utf8.ValidString(userID) {
		return false
	}
	n := utf8.RuneCountInString(userID)
	if n < 1 || n > MaxUserIDLength {
		return false
	}
	if strings.TrimSpace(userID) == "" {
		return false
	}
	for _, r := range userID {
		if unicode.IsControl(r) {
			return false
		}
	}
	return true
}

// IsValidMessageType reports whether kind is one of the stored message kinds.
func IsValidMessageType(kind string) bool {
	switch kind {
	case MessageKindText, MessageKindImage, MessageKindFile:
		return true
	}
	return false
}

// ParseRoomID parses a base-10 non-negative room identifier.
func ParseRoomID(raw string) (int64, error) {
	if raw == "" {
		return 0, ErrInvalidRoomID
	}
	for _, r := range raw {
		if r < '0' || r > '9' {
			return 0, ErrInvalidRoomID
		}
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, ErrInvalidRoomID
	}
	return id, nil
}

// FormatRoomID is the inverse of ParseRoomID.
func FormatRoomID(id int64) string {
	return strconv.FormatInt(id, 10)
}
