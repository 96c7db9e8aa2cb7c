package router

import "errors"

var (
	ErrRateLimitExceeded = errors.New("rate limit exceeded")
	ErrNilMessage        = errors.New("message cannot be nil")
)
