package ratelimit

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// LimiterConfig holds the request pacing configuration.
type LimiterConfig struct {
	// RequestsPerSecond is the local sustained rate (0 = unlimited).
	RequestsPerSecond float64

	// Burst is the local bucket size.
	Burst int

	// Tracker adds a shared budget on top of local pacing (optional).
	Tracker *Tracker
}

// DefaultLimiterConfig returns 10 requests per second with a burst of 16,
// one request per concurrent worker.
func DefaultLimiterConfig() LimiterConfig {
	return LimiterConfig{
		RequestsPerSecond: 10,
		Burst:             16,
	}
}

// Limiter paces outgoing requests. It satisfies the fetcher's Gate.
type Limiter struct {
	local   *rate.Limiter
	tracker *Tracker
	logger  zerolog.Logger
}

// NewLimiter creates a new limiter.
func NewLimiter(cfg LimiterConfig, logger zerolog.Logger) *Limiter {
	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}

	return &Limiter{
		local:   rate.NewLimiter(limit, cfg.Burst),
		tracker: cfg.Tracker,
		logger:  logger,
	}
}

// Wait blocks until a request may be sent. It returns ctx's error when ctx
// ends first, and ErrBudgetExhausted when the shared budget is spent.
func (l *Limiter) Wait(ctx context.Context) error {
	if err := l.local.Wait(ctx); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("local rate limit: %w", err)
	}

	if l.tracker == nil {
		return nil
	}

	allowed, err := l.tracker.ShouldAllowRequest(ctx)
	if err != nil {
		l.logger.Error().Err(err).Msg("Rate limit check failed")
		return fmt.Errorf("rate limit check: %w", err)
	}
	if !allowed {
		return ErrBudgetExhausted
	}
	return nil
}
