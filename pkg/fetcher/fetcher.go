// Package fetcher runs a Location against an endpoint and merges the pages
// it returns into one Resource.
//
// A fetch runs in one of three modes, picked by the executor's swarm:
//
//	f, _ := fetcher.New(endpoint, fetcher.DefaultConfig())
//	holes, err := fetcher.Fetch(f, location.Feed{}).
//		Swarm(swarm.Concurrent{Count: 40, PageSize: 30}).
//		Execute(ctx)
//
// Every page URL is planned before the first request. Errors that make the
// whole request meaningless (an unsupported swarm, a page ceiling, a client
// that cannot be built, a failed merge) abort the execution. A page that
// fails to download or parse is dropped and the rest are still merged.
// A page ceiling rejects the whole execution in concurrent mode too.
// Cancelling ctx returns whatever was merged so far with a nil error.
package fetcher

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/Sternrassler/woodpecker/pkg/logging"
	"github.com/Sternrassler/woodpecker/pkg/resource"
	"github.com/Sternrassler/woodpecker/pkg/swarm"
)

// Endpoint is the backend a Fetcher talks to.
type Endpoint interface {
	// Base returns a fresh copy of the base URL.
	Base() *url.URL
	UserToken() string
}

// Gate paces outgoing requests. Wait blocks until a request may be sent.
type Gate interface {
	Wait(ctx context.Context) error
}

// Config holds the fetcher configuration.
type Config struct {
	// MaxWorkers caps the concurrent pool (at most swarm.MaxPoolSize).
	MaxWorkers int

	// PageTimeout bounds a single page request, including in-flight
	// requests that outlive a cancelled execution.
	PageTimeout time.Duration

	// ClientBuilder builds the HTTP client of every worker (default: DefaultClientBuilder).
	ClientBuilder ClientBuilder

	// Gate is consulted before every request (optional).
	Gate Gate

	// Logger overrides the component logger.
	Logger *zerolog.Logger
}

// DefaultConfig returns the default fetcher configuration.
func DefaultConfig() Config {
	return Config{
		MaxWorkers:    swarm.MaxPoolSize,
		PageTimeout:   15 * time.Second,
		ClientBuilder: DefaultClientBuilder,
	}
}

// Fetcher binds an endpoint to a client configuration. It is safe for
// concurrent use; every execution builds its own clients.
type Fetcher struct {
	endpoint Endpoint
	config   Config
	logger   zerolog.Logger
}

// New creates a new Fetcher.
func New(endpoint Endpoint, cfg Config) (*Fetcher, error) {
	if endpoint == nil {
		return nil, ErrNoEndpoint
	}

	base := endpoint.Base()
	if base == nil || !base.IsAbs() {
		return nil, &FetchError{Kind: KindMalformedURL, Err: fmt.Errorf("endpoint base %v is not absolute", base)}
	}

	if cfg.MaxWorkers <= 0 || cfg.MaxWorkers > swarm.MaxPoolSize {
		cfg.MaxWorkers = swarm.MaxPoolSize
	}
	if cfg.PageTimeout <= 0 {
		cfg.PageTimeout = 15 * time.Second
	}
	if cfg.ClientBuilder == nil {
		cfg.ClientBuilder = DefaultClientBuilder
	}

	logger := logging.NewLogger("fetcher")
	if cfg.Logger != nil {
		logger = cfg.Logger.With().Str("component", "fetcher").Logger()
	}

	return &Fetcher{
		endpoint: endpoint,
		config:   cfg,
		logger:   logger,
	}, nil
}

// Executor is a configured, not yet started fetch of one location.
type Executor[R resource.Resource[R]] struct {
	fetcher  *Fetcher
	location resource.Location[R]
	swarm    swarm.Swarm
}

// Fetch prepares a fetch of loc using the location's default swarm.
func Fetch[R resource.Resource[R]](f *Fetcher, loc resource.Location[R]) *Executor[R] {
	return &Executor[R]{
		fetcher:  f,
		location: loc,
		swarm:    loc.DefaultSwarm(),
	}
}

// Swarm overrides the strategy. A nil s fetches a single page.
func (e *Executor[R]) Swarm(s swarm.Swarm) *Executor[R] {
	e.swarm = s
	return e
}

// Execute runs the fetch and returns the merged resource.
func (e *Executor[R]) Execute(ctx context.Context) (R, error) {
	result, _, err := e.ExecuteReport(ctx)
	return result, err
}

// Report describes what happened during one execution.
type Report struct {
	ID        string
	Strategy  swarm.Strategy
	Requested int
	// Dispatched counts the pages that got a URL.
	Dispatched int
	Succeeded  int
	// Skipped counts dispatched pages never requested because of cancellation.
	Skipped   int
	Failed    []*FetchError
	Cancelled bool
	PoolSize  int
	Duration  time.Duration
}

// ExecuteReport runs the fetch and also returns its report.
func (e *Executor[R]) ExecuteReport(ctx context.Context) (R, Report, error) {
	start := time.Now()
	strategy := swarm.StrategyOf(e.swarm)
	id := uuid.NewString()

	x := &execution[R]{
		fetcher:  e.fetcher,
		location: e.location,
		swarm:    e.swarm,
		logger: e.fetcher.logger.With().
			Str("exec_id", id).
			Str("location", e.location.Name()).
			Str("strategy", string(strategy)).
			Logger(),
		report: Report{ID: id, Strategy: strategy},
	}

	x.logger.Info().Str("swarm", describe(e.swarm)).Msg("Starting fetch")

	var (
		result R
		err    error
	)
	switch s := e.swarm.(type) {
	case nil:
		result, err = x.single(ctx)
	case swarm.Sequential:
		result, err = x.sequential(ctx, s)
	case swarm.Concurrent:
		result, err = x.concurrent(ctx, s)
	default:
		panic(fmt.Sprintf("fetcher: unknown swarm variant %T", s))
	}

	x.report.Duration = time.Since(start)
	if err != nil {
		result = e.location.Blank()
	}
	executionsTotal.WithLabelValues(string(strategy), x.outcome(err)).Inc()

	event := x.logger.Info()
	if err != nil {
		event = x.logger.Error().Err(err)
	}
	event.
		Int("requested", x.report.Requested).
		Int("succeeded", x.report.Succeeded).
		Int("failed", len(x.report.Failed)).
		Bool("cancelled", x.report.Cancelled).
		Int("records", result.Len()).
		Dur("duration", x.report.Duration).
		Msg("Fetch complete")

	return result, x.report, err
}

func describe(s swarm.Swarm) string {
	if s == nil {
		return "single"
	}
	return s.String()
}
