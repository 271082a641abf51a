package ratelimit

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

func TestNewTracker_Defaults(t *testing.T) {
	logger := zerolog.New(os.Stderr).Level(zerolog.Disabled)

	tests := []struct {
		name   string
		config TrackerConfig
		want   TrackerConfig
	}{
		{
			name:   "zero config",
			config: TrackerConfig{},
			want:   DefaultTrackerConfig(),
		},
		{
			name:   "custom budget keeps defaults elsewhere",
			config: TrackerConfig{Budget: 30},
			want:   TrackerConfig{Budget: 30, Window: time.Minute, KeyPrefix: DefaultKeyPrefix},
		},
		{
			name:   "fully custom",
			config: TrackerConfig{Budget: 5, Window: time.Second, KeyPrefix: "test"},
			want:   TrackerConfig{Budget: 5, Window: time.Second, KeyPrefix: "test"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tracker := NewTracker(nil, tt.config, logger)
			if tracker.config != tt.want {
				t.Errorf("config = %+v, want %+v", tracker.config, tt.want)
			}
		})
	}
}

func TestSleepContext(t *testing.T) {
	if err := sleepContext(context.Background(), time.Millisecond); err != nil {
		t.Errorf("sleepContext() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start := time.Now()
	err := sleepContext(ctx, time.Hour)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("sleepContext() error = %v, want context.Canceled", err)
	}
	if time.Since(start) > time.Second {
		t.Error("sleepContext() did not return on cancellation")
	}
}

func TestLimiter_LocalOnly(t *testing.T) {
	logger := zerolog.New(os.Stderr).Level(zerolog.Disabled)
	limiter := NewLimiter(LimiterConfig{RequestsPerSecond: 1, Burst: 3}, logger)

	for i := 0; i < 3; i++ {
		if err := limiter.Wait(context.Background()); err != nil {
			t.Fatalf("Wait() #%d error = %v", i, err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	// The bucket is empty; the next token is a second away.
	err := limiter.Wait(ctx)
	if err == nil {
		t.Fatal("Wait() on empty bucket should fail before the deadline")
	}
}

func TestLimiter_Cancelled(t *testing.T) {
	logger := zerolog.New(os.Stderr).Level(zerolog.Disabled)
	limiter := NewLimiter(DefaultLimiterConfig(), logger)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := limiter.Wait(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Wait() error = %v, want context.Canceled", err)
	}
}

func TestLimiter_Unlimited(t *testing.T) {
	logger := zerolog.New(os.Stderr).Level(zerolog.Disabled)
	limiter := NewLimiter(LimiterConfig{}, logger)

	start := time.Now()
	for i := 0; i < 100; i++ {
		if err := limiter.Wait(context.Background()); err != nil {
			t.Fatalf("Wait() error = %v", err)
		}
	}
	if time.Since(start) > time.Second {
		t.Error("unlimited limiter should not wait")
	}
}

func TestLimiter_TrackerUnavailable(t *testing.T) {
	logger := zerolog.New(os.Stderr).Level(zerolog.Disabled)

	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 100 * time.Millisecond,
		MaxRetries:  -1,
	})
	defer client.Close()

	tracker := NewTracker(client, TrackerConfig{Budget: 10}, logger)
	limiter := NewLimiter(LimiterConfig{Tracker: tracker}, logger)

	err := limiter.Wait(context.Background())
	if err == nil {
		t.Fatal("Wait() should fail when the budget cannot be read")
	}
	if errors.Is(err, ErrBudgetExhausted) {
		t.Error("an unreachable Redis is not an exhausted budget")
	}
}

// newLocalRedis connects to a Redis on localhost and skips the test if none is running.
func newLocalRedis(t *testing.T) *redis.Client {
	t.Helper()

	client := redis.NewClient(&redis.Options{
		Addr: "localhost:6379",
		DB:   15,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		t.Skipf("Redis not available: %v", err)
	}

	t.Cleanup(func() { client.Close() })
	return client
}

func TestTracker_ShouldAllowRequest_LocalRedis(t *testing.T) {
	client := newLocalRedis(t)
	logger := zerolog.New(os.Stderr).Level(zerolog.Disabled)

	tracker := NewTracker(client, TrackerConfig{Budget: 3, Window: time.Minute, KeyPrefix: "woodpecker:test:" + t.Name()}, logger)
	tracker.sleep = func(context.Context, time.Duration) error { return nil }

	ctx := context.Background()
	if err := tracker.Reset(ctx); err != nil {
		t.Fatalf("Reset() error = %v", err)
	}
	t.Cleanup(func() { tracker.Reset(context.Background()) })

	for i := 1; i <= 3; i++ {
		allowed, err := tracker.ShouldAllowRequest(ctx)
		if err != nil {
			t.Fatalf("ShouldAllowRequest() #%d error = %v", i, err)
		}
		if !allowed {
			t.Fatalf("request %d of a budget of 3 should be allowed", i)
		}
	}

	allowed, err := tracker.ShouldAllowRequest(ctx)
	if err != nil {
		t.Fatalf("ShouldAllowRequest() error = %v", err)
	}
	if allowed {
		t.Error("fourth request should be blocked")
	}
}
