package client

import "errors"

// LiveConnection errors
var (
	ErrDestroyed    = errors.New("live connection destroyed")
	ErrStreamClosed = errors.New("event stream closed")
	ErrNoDialer     = errors.New("dialer is required")
)

// HTTP errors
var (
	ErrUnexpectedStatus = errors.New("unexpected HTTP status")
	ErrRequestFailed    = errors.New("server reported failure")
)

// ErrHistoryUnavailable is returned while the history circuit breaker is open.
var ErrHistoryUnavailable = errors.New("history temporarily unavailable")
