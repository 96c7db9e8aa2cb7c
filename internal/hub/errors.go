package hub

import "errors"

var (
	ErrNilMessage = errors.New("message cannot be nil")
)
