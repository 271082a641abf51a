// Command woodpecker-proxy serves merged treehole pages over HTTP.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/Sternrassler/woodpecker/pkg/api"
	"github.com/Sternrassler/woodpecker/pkg/config"
	"github.com/Sternrassler/woodpecker/pkg/fetcher"
	"github.com/Sternrassler/woodpecker/pkg/logging"
	"github.com/Sternrassler/woodpecker/pkg/ratelimit"
)

// requestTimeout bounds one proxied fetch. A fetch cut short returns the
// pages merged so far.
const requestTimeout = 60 * time.Second

func main() {
	configPath := flag.String("config", "", "path to a YAML config file")
	envFile := flag.String("env", ".env", "path to a .env file")
	flag.Parse()

	cfg, err := config.Load(*configPath, *envFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "woodpecker-proxy: %v\n", err)
		os.Exit(1)
	}

	logging.Setup(cfg.Log)
	logger := logging.NewLogger("proxy")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal().Err(err).Msg("Server failed")
	}
}

func run(ctx context.Context, cfg config.Config, logger zerolog.Logger) error {
	srv, cleanup, err := newServer(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	httpServer := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           srv.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", httpServer.Addr).Msg("Starting woodpecker proxy")
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	logger.Info().Msg("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}

// newServer wires the endpoint, the optional shared budget and the fetcher.
func newServer(ctx context.Context, cfg config.Config, logger zerolog.Logger) (*server, func(), error) {
	endpoint, err := api.New(cfg.Endpoint())
	if err != nil {
		return nil, nil, fmt.Errorf("endpoint: %w", err)
	}

	limiterCfg := ratelimit.LimiterConfig{
		RequestsPerSecond: cfg.RateLimit.RequestsPerSecond,
		Burst:             cfg.RateLimit.Burst,
	}

	cleanup := func() {}
	var redisClient *redis.Client

	opts, err := cfg.RateLimit.RedisOptions()
	if err != nil {
		return nil, nil, err
	}
	if opts != nil {
		redisClient = redis.NewClient(opts)

		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := redisClient.Ping(pingCtx).Err(); err != nil {
			redisClient.Close()
			return nil, nil, fmt.Errorf("connect to redis: %w", err)
		}
		logger.Info().Str("addr", opts.Addr).Int("budget", cfg.RateLimit.Budget).Msg("Connected to Redis")

		limiterCfg.Tracker = ratelimit.NewTracker(redisClient, ratelimit.TrackerConfig{
			Budget:    cfg.RateLimit.Budget,
			Window:    cfg.RateLimit.Window,
			KeyPrefix: cfg.RateLimit.KeyPrefix,
		}, logging.NewLogger("ratelimit"))
		cleanup = func() { redisClient.Close() }
	}

	fetcherCfg := fetcher.DefaultConfig()
	fetcherCfg.MaxWorkers = cfg.Fetcher.MaxWorkers
	fetcherCfg.PageTimeout = cfg.Fetcher.PageTimeout
	fetcherCfg.Gate = ratelimit.NewLimiter(limiterCfg, logging.NewLogger("ratelimit"))

	f, err := fetcher.New(endpoint, fetcherCfg)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("fetcher: %w", err)
	}

	logger.Info().Str("endpoint", endpoint.String()).Int("max_workers", fetcherCfg.MaxWorkers).Msg("Fetcher ready")

	return &server{
		fetcher: f,
		redis:   redisClient,
		timeout: requestTimeout,
		logger:  logger,
	}, cleanup, nil
}
