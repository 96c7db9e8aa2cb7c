package client

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	gobreaker "github.com/sony/gobreaker/v2"

	"roomcast/pkg/types"
)

// BreakerConfig tunes a BreakerFetcher.
type BreakerConfig struct {
	// FailureThreshold is the number of consecutive failures that opens the breaker.
	FailureThreshold uint32
	// Timeout is how long the breaker stays open before a trial request.
	Timeout time.Duration
	Logger  *zerolog.Logger
}

// DefaultBreakerConfig opens after 3 consecutive failures for 30 seconds.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{FailureThreshold: 3, Timeout: 30 * time.Second}
}

// BreakerFetcher guards a HistoryFetcher with a circuit breaker so a failing
// server is not asked for history on every room switch and resync.
type BreakerFetcher struct {
	next HistoryFetcher
	cb   *gobreaker.CircuitBreaker[[]*types.Message]
}

// NewBreakerFetcher wraps next. Zero config fields take the defaults.
func NewBreakerFetcher(next HistoryFetcher, cfg BreakerConfig) *BreakerFetcher {
	defaults := DefaultBreakerConfig()
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = defaults.FailureThreshold
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaults.Timeout
	}
	logger := zerolog.Nop()
	if cfg.Logger != nil {
		logger = cfg.Logger.With().Str("component", "history").Logger()
	}

	settings := gobreaker.Settings{
		Name:        "history",
		MaxRequests: 1,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.FailureThreshold
		},
		// Caller cancellation says nothing about the server.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).
				Msg("History circuit breaker state changed")
		},
	}
	return &BreakerFetcher{
		next: next,
		cb:   gobreaker.NewCircuitBreaker[[]*types.Message](settings),
	}
}

func (f *BreakerFetcher) LatestMessages(ctx context.Context, roomID int64, limit int) ([]*types.Message, error) {
	msgs, err := f.cb.Execute(func() ([]*types.Message, error) {
		return f.next.LatestMessages(ctx, roomID, limit)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, fmt.Errorf("%w: %w", ErrHistoryUnavailable, err)
	}
	return msgs, err
}

// State returns the breaker state name: closed, half-open or open.
func (f *BreakerFetcher) State() string {
	return f.cb.State().String()
}
