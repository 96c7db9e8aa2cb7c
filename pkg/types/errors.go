package types

import "errors"

var (
	ErrInvalidUserID      = errors.New("userId must be 1-50 characters without control characters")
	ErrInvalidRoomID      = errors.New("roomId must be a non-negative integer")
	ErrInvalidMessageType = errors.New("messageType must be text, image or file")
	ErrEmptyContent       = errors.New("text messages require content")
	ErrMissingFileURL     = errors.New("image and file messages require fileUrl")
	ErrContentTooLarge    = errors.New("message content exceeds 64KB limit")
)
