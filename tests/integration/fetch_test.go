//go:build integration

package integration

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/Sternrassler/woodpecker/internal/testutil"
	"github.com/Sternrassler/woodpecker/pkg/api"
	"github.com/Sternrassler/woodpecker/pkg/fetcher"
	"github.com/Sternrassler/woodpecker/pkg/location"
	"github.com/Sternrassler/woodpecker/pkg/ratelimit"
	"github.com/Sternrassler/woodpecker/pkg/swarm"
)

// setupRedis creates a Redis container for integration testing.
func setupRedis(t *testing.T) (*redis.Client, func()) {
	t.Helper()

	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForLog("Ready to accept connections"),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("Failed to start Redis container: %v", err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("Failed to get container host: %v", err)
	}

	port, err := container.MappedPort(ctx, "6379")
	if err != nil {
		t.Fatalf("Failed to get container port: %v", err)
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr: host + ":" + port.Port(),
	})

	cleanup := func() {
		redisClient.Close()
		container.Terminate(ctx)
	}

	return redisClient, cleanup
}

// newBudgetedFetcher builds a fetcher against mock whose requests draw from
// the shared budget behind tracker.
func newBudgetedFetcher(t *testing.T, mock *testutil.MockTreehole, tracker *ratelimit.Tracker) *fetcher.Fetcher {
	t.Helper()

	endpoint, err := api.New(api.Config{BaseURL: mock.URL(), UserToken: "integration-token"})
	if err != nil {
		t.Fatalf("api.New() error = %v", err)
	}

	logger := zerolog.Nop()
	cfg := fetcher.DefaultConfig()
	cfg.Logger = &logger
	cfg.Gate = ratelimit.NewLimiter(ratelimit.LimiterConfig{Tracker: tracker}, logger)

	f, err := fetcher.New(endpoint, cfg)
	if err != nil {
		t.Fatalf("fetcher.New() error = %v", err)
	}
	return f
}

// TestFullFetchFlow tests the complete flow: Budget Check → Request → Parse → Merge.
func TestFullFetchFlow(t *testing.T) {
	redisClient, cleanup := setupRedis(t)
	defer cleanup()

	mock := testutil.NewMockTreehole()
	defer mock.Close()

	tracker := ratelimit.NewTracker(redisClient, ratelimit.TrackerConfig{Budget: 100}, zerolog.Nop())
	f := newBudgetedFetcher(t, mock, tracker)
	ctx := context.Background()

	holes, report, err := fetcher.Fetch(f, location.Feed{}).
		Swarm(swarm.Concurrent{Count: 10, PageSize: 25}).
		ExecuteReport(ctx)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}

	if holes.Len() != 250 {
		t.Errorf("holes = %d, want 250", holes.Len())
	}
	if report.Succeeded != 10 || len(report.Failed) != 0 {
		t.Errorf("report = %d succeeded / %d failed, want 10 / 0", report.Succeeded, len(report.Failed))
	}
	if report.PoolSize != 10 {
		t.Errorf("PoolSize = %d, want 10", report.PoolSize)
	}

	state, err := tracker.GetState(ctx)
	if err != nil {
		t.Fatalf("GetState() error = %v", err)
	}
	if state.Used != 10 {
		t.Errorf("budget used = %d, want 10", state.Used)
	}

	if got := mock.GetLastRequestHeader().Get("Authorization"); got != "Bearer integration-token" {
		t.Errorf("Authorization = %q, want bearer token", got)
	}
}

// TestSharedBudgetAcrossFetchers tests that two fetchers never exceed one budget together.
func TestSharedBudgetAcrossFetchers(t *testing.T) {
	redisClient, cleanup := setupRedis(t)
	defer cleanup()

	mock := testutil.NewMockTreehole()
	defer mock.Close()

	cfg := ratelimit.TrackerConfig{Budget: 12, Window: time.Minute}
	first := newBudgetedFetcher(t, mock, ratelimit.NewTracker(redisClient, cfg, zerolog.Nop()))
	second := newBudgetedFetcher(t, mock, ratelimit.NewTracker(redisClient, cfg, zerolog.Nop()))

	var (
		wg      sync.WaitGroup
		reports [2]fetcher.Report
		errs    [2]error
	)
	for i, f := range []*fetcher.Fetcher{first, second} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, reports[i], errs[i] = fetcher.Fetch(f, location.Feed{}).
				Swarm(swarm.Concurrent{Count: 10, PageSize: 5}).
				ExecuteReport(context.Background())
		}()
	}
	wg.Wait()

	succeeded, failed := 0, 0
	for i := range reports {
		if errs[i] != nil {
			t.Fatalf("fetch %d error = %v", i, errs[i])
		}
		succeeded += reports[i].Succeeded
		failed += len(reports[i].Failed)

		for _, ferr := range reports[i].Failed {
			if !errors.Is(ferr, ratelimit.ErrBudgetExhausted) {
				t.Errorf("dropped page error = %v, want ErrBudgetExhausted", ferr)
			}
		}
	}

	if succeeded != 12 {
		t.Errorf("succeeded pages = %d, want 12", succeeded)
	}
	if failed != 8 {
		t.Errorf("failed pages = %d, want 8", failed)
	}
	if got := mock.GetRequestCount(); got != 12 {
		t.Errorf("backend requests = %d, want 12", got)
	}
}

// TestRateLimitBlock tests that a spent budget fails a single lookup.
func TestRateLimitBlock(t *testing.T) {
	redisClient, cleanup := setupRedis(t)
	defer cleanup()

	mock := testutil.NewMockTreehole()
	defer mock.Close()

	tracker := ratelimit.NewTracker(redisClient, ratelimit.TrackerConfig{Budget: 1}, zerolog.Nop())
	ctx := context.Background()

	if _, err := tracker.Acquire(ctx); err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}

	f := newBudgetedFetcher(t, mock, tracker)
	holes, err := fetcher.Fetch(f, location.Single{ID: 42}).Execute(ctx)

	var ferr *fetcher.FetchError
	if !errors.As(err, &ferr) {
		t.Fatalf("Execute() error = %v, want *FetchError", err)
	}
	if ferr.Kind != fetcher.KindTransport || !errors.Is(err, ratelimit.ErrBudgetExhausted) {
		t.Errorf("error = %v, want transport error wrapping ErrBudgetExhausted", err)
	}
	if holes.Len() != 0 {
		t.Errorf("holes = %d, want 0", holes.Len())
	}
	if mock.GetRequestCount() != 0 {
		t.Errorf("backend requests = %d, want 0", mock.GetRequestCount())
	}
}

// TestBudgetRecoversAfterWindow tests that fetching resumes once the window resets.
func TestBudgetRecoversAfterWindow(t *testing.T) {
	redisClient, cleanup := setupRedis(t)
	defer cleanup()

	mock := testutil.NewMockTreehole()
	defer mock.Close()

	tracker := ratelimit.NewTracker(redisClient, ratelimit.TrackerConfig{Budget: 3, Window: 2 * time.Second}, zerolog.Nop())
	f := newBudgetedFetcher(t, mock, tracker)
	ctx := context.Background()

	s := swarm.Sequential{Count: 5, PageSize: 10}

	_, report, err := fetcher.Fetch(f, location.Feed{}).Swarm(s).ExecuteReport(ctx)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if report.Succeeded != 3 {
		t.Errorf("first window succeeded = %d, want 3", report.Succeeded)
	}

	time.Sleep(3 * time.Second)

	holes, err := fetcher.Fetch(f, location.Feed{}).Swarm(swarm.Sequential{Count: 2, PageSize: 10}).Execute(ctx)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if holes.Len() != 20 {
		t.Errorf("holes after reset = %d, want 20", holes.Len())
	}
}
