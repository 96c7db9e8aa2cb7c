package interfaces

import "errors"

var (
	ErrStoreUnavailable = errors.New("message store unavailable")
	ErrRoomNotFound     = errors.New("room not found")
)
