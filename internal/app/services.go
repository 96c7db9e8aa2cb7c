package app

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/thejerf/suture/v4"

	"roomcast/internal/router"
)

// limiterCleanupService evicts idle per-user rate limit buckets under the
// supervisor.
type limiterCleanupService struct {
	limiter  *router.RateLimiter
	interval time.Duration
	maxIdle  time.Duration
}

// Serve implements suture.Service. It returns ctx.Err() on shutdown.
func (s *limiterCleanupService) Serve(ctx context.Context) error {
	s.limiter.RunCleanup(ctx, s.interval, s.maxIdle)
	return ctx.Err()
}

func (s *limiterCleanupService) String() string {
	return "rate-limiter-cleanup"
}

// newSupervisor builds the root supervisor for background services and
// reports its events through logger.
func newSupervisor(logger zerolog.Logger, shutdownTimeout time.Duration) *suture.Supervisor {
	return suture.New("roomcast", suture.Spec{
		EventHook: func(e suture.Event) {
			logger.Warn().Str("event", e.String()).Msg("Supervisor event")
		},
		FailureThreshold: 5,
		FailureDecay:     30,
		FailureBackoff:   time.Second,
		Timeout:          shutdownTimeout,
	})
}
