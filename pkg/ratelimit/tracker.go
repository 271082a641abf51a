package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Prometheus metrics for the shared request budget.
var (
	budgetRemaining = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "woodpecker_budget_remaining",
		Help: "Requests remaining in the current shared budget window",
	})

	rateLimitBlocksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "woodpecker_rate_limit_blocks_total",
		Help: "Total number of requests blocked because the shared budget was spent",
	})

	rateLimitThrottlesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "woodpecker_rate_limit_throttles_total",
		Help: "Total number of requests throttled in the budget warning band",
	})
)

// ErrBudgetExhausted is returned by a Limiter when the shared budget is spent.
var ErrBudgetExhausted = errors.New("request budget exhausted")

// throttleDelay is the pause applied in the warning band.
const throttleDelay = 1 * time.Second

// TrackerConfig holds the shared budget configuration.
type TrackerConfig struct {
	// Budget is the number of requests allowed per window.
	Budget int

	// Window is the length of one budget window.
	Window time.Duration

	// KeyPrefix namespaces the Redis keys (default: DefaultKeyPrefix).
	KeyPrefix string
}

// DefaultTrackerConfig returns a budget of 600 requests per minute.
func DefaultTrackerConfig() TrackerConfig {
	return TrackerConfig{
		Budget:    600,
		Window:    time.Minute,
		KeyPrefix: DefaultKeyPrefix,
	}
}

// Tracker counts requests in a fixed window stored in Redis and gates
// requests once the budget runs low.
type Tracker struct {
	redis  *redis.Client
	config TrackerConfig
	logger zerolog.Logger
	sleep  func(ctx context.Context, d time.Duration) error
}

// NewTracker creates a new budget tracker.
func NewTracker(redisClient *redis.Client, cfg TrackerConfig, logger zerolog.Logger) *Tracker {
	defaults := DefaultTrackerConfig()
	if cfg.Budget <= 0 {
		cfg.Budget = defaults.Budget
	}
	if cfg.Window <= 0 {
		cfg.Window = defaults.Window
	}
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = defaults.KeyPrefix
	}

	return &Tracker{
		redis:  redisClient,
		config: cfg,
		logger: logger,
		sleep:  sleepContext,
	}
}

func (t *Tracker) usedKey() string {
	return t.config.KeyPrefix + ":used"
}

// GetState reads the current window without counting a request.
// Returns a fresh, healthy state if no window is open.
func (t *Tracker) GetState(ctx context.Context) (*State, error) {
	now := time.Now()

	used, err := t.redis.Get(ctx, t.usedKey()).Int()
	if errors.Is(err, redis.Nil) {
		t.logger.Debug().Msg("No budget window in Redis, returning fresh state")
		state := &State{
			Budget:     t.config.Budget,
			ResetAt:    now.Add(t.config.Window),
			LastUpdate: now,
		}
		state.UpdateHealth()
		return state, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get used requests: %w", err)
	}

	ttl, err := t.redis.PTTL(ctx, t.usedKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("get window ttl: %w", err)
	}

	return t.newState(used, ttl, now), nil
}

// Acquire counts one request in the current window and returns the
// resulting state. The first request of a window opens it.
func (t *Tracker) Acquire(ctx context.Context) (*State, error) {
	now := time.Now()

	pipe := t.redis.TxPipeline()
	pipe.SetNX(ctx, t.usedKey(), 0, t.config.Window)
	incr := pipe.Incr(ctx, t.usedKey())
	pttl := pipe.PTTL(ctx, t.usedKey())

	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("count request in redis: %w", err)
	}

	state := t.newState(int(incr.Val()), pttl.Val(), now)
	budgetRemaining.Set(float64(state.Remaining()))
	return state, nil
}

func (t *Tracker) newState(used int, ttl time.Duration, now time.Time) *State {
	if ttl < 0 {
		ttl = 0
	}
	state := &State{
		Used:       used,
		Budget:     t.config.Budget,
		ResetAt:    now.Add(ttl),
		LastUpdate: now,
	}
	state.UpdateHealth()
	return state
}

// Reset closes the current window.
func (t *Tracker) Reset(ctx context.Context) error {
	if err := t.redis.Del(ctx, t.usedKey()).Err(); err != nil {
		return fmt.Errorf("reset budget window: %w", err)
	}
	return nil
}

// ShouldAllowRequest counts a request and decides whether it may be sent.
// Returns false if the budget is spent. Returns true but may sleep for
// throttling in the warning band.
func (t *Tracker) ShouldAllowRequest(ctx context.Context) (bool, error) {
	state, err := t.Acquire(ctx)
	if err != nil {
		return false, fmt.Errorf("get budget state: %w", err)
	}

	// Critical: block until the window resets
	if state.NeedsCriticalBlock() {
		t.logger.Error().
			Int("used", state.Used).
			Int("budget", state.Budget).
			Dur("wait_duration", state.TimeUntilReset()).
			Msg("Request budget spent - blocking request")

		rateLimitBlocksTotal.Inc()
		return false, nil
	}

	// Warning: apply throttling
	if state.NeedsThrottling() {
		t.logger.Warn().
			Int("remaining", state.Remaining()).
			Msg("Request budget low - throttling request")

		rateLimitThrottlesTotal.Inc()
		if err := t.sleep(ctx, throttleDelay); err != nil {
			return false, err
		}
	}

	return true, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
