//go:build integration

package ratelimit

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// setupRedis starts a Redis container and returns a client
func setupRedis(t *testing.T) (*redis.Client, func()) {
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForLog("Ready to accept connections"),
	}

	redisContainer, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("Failed to start Redis container: %v", err)
	}

	endpoint, err := redisContainer.Endpoint(ctx, "")
	if err != nil {
		t.Fatalf("Failed to get Redis endpoint: %v", err)
	}

	client := redis.NewClient(&redis.Options{
		Addr: endpoint,
	})

	// Test connection
	if err := client.Ping(ctx).Err(); err != nil {
		t.Fatalf("Failed to connect to Redis: %v", err)
	}

	cleanup := func() {
		client.Close()
		redisContainer.Terminate(ctx)
	}

	return client, cleanup
}

func TestTracker_Integration_GetState(t *testing.T) {
	redisClient, cleanup := setupRedis(t)
	defer cleanup()

	logger := zerolog.New(os.Stderr).Level(zerolog.Disabled)
	tracker := NewTracker(redisClient, TrackerConfig{Budget: 100, Window: 2 * time.Minute}, logger)
	ctx := context.Background()

	// Test 1: Get fresh state when Redis is empty
	state, err := tracker.GetState(ctx)
	if err != nil {
		t.Fatalf("GetState() error = %v", err)
	}

	if state.Used != 0 || state.Budget != 100 {
		t.Errorf("fresh state = %d/%d, want 0/100", state.Used, state.Budget)
	}

	if !state.IsHealthy {
		t.Error("Fresh state should be healthy")
	}

	// Test 2: Count requests and read them back
	for i := 0; i < 25; i++ {
		if _, err := tracker.Acquire(ctx); err != nil {
			t.Fatalf("Acquire() error = %v", err)
		}
	}

	state, err = tracker.GetState(ctx)
	if err != nil {
		t.Fatalf("GetState() after acquire error = %v", err)
	}

	if state.Used != 25 {
		t.Errorf("Used = %d, want 25", state.Used)
	}

	if !state.IsHealthy {
		t.Error("State with 75 requests remaining should be healthy")
	}

	// Verify reset time is approximately the window
	expectedResetDuration := 2 * time.Minute
	actualResetDuration := state.TimeUntilReset()
	tolerance := 5 * time.Second

	if actualResetDuration < expectedResetDuration-tolerance || actualResetDuration > expectedResetDuration+tolerance {
		t.Errorf("TimeUntilReset = %v, want approximately %v", actualResetDuration, expectedResetDuration)
	}
}

func TestTracker_Integration_SharedBudget(t *testing.T) {
	redisClient, cleanup := setupRedis(t)
	defer cleanup()

	logger := zerolog.New(os.Stderr).Level(zerolog.Disabled)
	cfg := TrackerConfig{Budget: 10, Window: time.Minute, KeyPrefix: "shared"}
	first := NewTracker(redisClient, cfg, logger)
	second := NewTracker(redisClient, cfg, logger)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		if _, err := first.Acquire(ctx); err != nil {
			t.Fatalf("Acquire() error = %v", err)
		}
		if _, err := second.Acquire(ctx); err != nil {
			t.Fatalf("Acquire() error = %v", err)
		}
	}

	state, err := first.GetState(ctx)
	if err != nil {
		t.Fatalf("GetState() error = %v", err)
	}
	if state.Used != 8 {
		t.Errorf("Used = %d, want 8 counted by both trackers", state.Used)
	}

	other := NewTracker(redisClient, TrackerConfig{Budget: 10, Window: time.Minute, KeyPrefix: "other"}, logger)
	state, err = other.GetState(ctx)
	if err != nil {
		t.Fatalf("GetState() error = %v", err)
	}
	if state.Used != 0 {
		t.Errorf("Used = %d, want 0 under another prefix", state.Used)
	}
}

func TestTracker_Integration_ShouldAllowRequest_Critical(t *testing.T) {
	redisClient, cleanup := setupRedis(t)
	defer cleanup()

	logger := zerolog.New(os.Stderr).Level(zerolog.Disabled)
	tracker := NewTracker(redisClient, TrackerConfig{Budget: 5}, logger)
	tracker.sleep = func(context.Context, time.Duration) error { return nil }
	ctx := context.Background()

	// Spend the budget
	for i := 0; i < 5; i++ {
		allowed, err := tracker.ShouldAllowRequest(ctx)
		if err != nil {
			t.Fatalf("ShouldAllowRequest() error = %v", err)
		}
		if !allowed {
			t.Fatalf("request %d should be allowed", i+1)
		}
	}

	// Request should be blocked
	allowed, err := tracker.ShouldAllowRequest(ctx)
	if err != nil {
		t.Fatalf("ShouldAllowRequest() error = %v", err)
	}

	if allowed {
		t.Error("ShouldAllowRequest() = true, want false once the budget is spent")
	}

	limiter := NewLimiter(LimiterConfig{Tracker: tracker}, logger)
	if err := limiter.Wait(ctx); !errors.Is(err, ErrBudgetExhausted) {
		t.Errorf("Limiter.Wait() error = %v, want ErrBudgetExhausted", err)
	}
}

func TestTracker_Integration_ShouldAllowRequest_Warning(t *testing.T) {
	redisClient, cleanup := setupRedis(t)
	defer cleanup()

	logger := zerolog.New(os.Stderr).Level(zerolog.Disabled)
	tracker := NewTracker(redisClient, TrackerConfig{Budget: 100}, logger)
	ctx := context.Background()

	// Move into the warning band
	for i := 0; i < 85; i++ {
		if _, err := tracker.Acquire(ctx); err != nil {
			t.Fatalf("Acquire() error = %v", err)
		}
	}

	// Request should be allowed but throttled
	start := time.Now()
	allowed, err := tracker.ShouldAllowRequest(ctx)
	duration := time.Since(start)

	if err != nil {
		t.Fatalf("ShouldAllowRequest() error = %v", err)
	}

	if !allowed {
		t.Error("ShouldAllowRequest() = false, want true for warning state")
	}

	// Should have throttled (slept for ~1 second)
	if duration < 900*time.Millisecond {
		t.Errorf("ShouldAllowRequest() throttle duration = %v, want >= 1s", duration)
	}
}

func TestTracker_Integration_ShouldAllowRequest_Healthy(t *testing.T) {
	redisClient, cleanup := setupRedis(t)
	defer cleanup()

	logger := zerolog.New(os.Stderr).Level(zerolog.Disabled)
	tracker := NewTracker(redisClient, TrackerConfig{Budget: 100}, logger)
	ctx := context.Background()

	// Request should be allowed immediately
	start := time.Now()
	allowed, err := tracker.ShouldAllowRequest(ctx)
	duration := time.Since(start)

	if err != nil {
		t.Fatalf("ShouldAllowRequest() error = %v", err)
	}

	if !allowed {
		t.Error("ShouldAllowRequest() = false, want true for healthy state")
	}

	// Should NOT have throttled
	if duration > 100*time.Millisecond {
		t.Errorf("ShouldAllowRequest() duration = %v, want < 100ms for healthy state", duration)
	}
}

func TestTracker_Integration_WindowReset(t *testing.T) {
	redisClient, cleanup := setupRedis(t)
	defer cleanup()

	logger := zerolog.New(os.Stderr).Level(zerolog.Disabled)
	tracker := NewTracker(redisClient, TrackerConfig{Budget: 2, Window: 2 * time.Second}, logger)
	tracker.sleep = func(context.Context, time.Duration) error { return nil }
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := tracker.ShouldAllowRequest(ctx); err != nil {
			t.Fatalf("ShouldAllowRequest() error = %v", err)
		}
	}

	state, err := tracker.GetState(ctx)
	if err != nil {
		t.Fatalf("GetState() error = %v", err)
	}

	if !state.NeedsCriticalBlock() {
		t.Error("budget should be spent")
	}

	if state.TimeUntilReset() > 3*time.Second {
		t.Errorf("TimeUntilReset = %v, want <= 3s", state.TimeUntilReset())
	}

	// Wait for the window to expire
	time.Sleep(3 * time.Second)

	allowed, err := tracker.ShouldAllowRequest(ctx)
	if err != nil {
		t.Fatalf("ShouldAllowRequest() error = %v", err)
	}
	if !allowed {
		t.Error("first request of a new window should be allowed")
	}
}
