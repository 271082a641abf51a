package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/Sternrassler/woodpecker/pkg/fetcher"
	"github.com/Sternrassler/woodpecker/pkg/hole"
	"github.com/Sternrassler/woodpecker/pkg/location"
	"github.com/Sternrassler/woodpecker/pkg/metrics"
	"github.com/Sternrassler/woodpecker/pkg/resource"
	"github.com/Sternrassler/woodpecker/pkg/swarm"
)

// Response headers describing the execution behind a result.
const (
	headerExecution = "X-Woodpecker-Execution"
	headerStrategy  = "X-Woodpecker-Strategy"
	headerRequested = "X-Woodpecker-Pages-Requested"
	headerSucceeded = "X-Woodpecker-Pages-Succeeded"
	headerFailed    = "X-Woodpecker-Pages-Failed"
	headerSkipped   = "X-Woodpecker-Pages-Skipped"
	headerCancelled = "X-Woodpecker-Cancelled"
)

var errBadRequest = errors.New("bad request")

type server struct {
	fetcher *fetcher.Fetcher
	redis   *redis.Client // nil without a shared budget
	timeout time.Duration
	logger  zerolog.Logger
}

func (s *server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", healthHandler)
	mux.HandleFunc("GET /ready", s.readyHandler)
	mux.Handle("GET /metrics", metrics.Handler())

	mux.HandleFunc("GET /holes/feed", s.feedHandler)
	mux.HandleFunc("GET /holes/attention", s.attentionHandler)
	mux.HandleFunc("GET /holes/search", s.searchHandler)
	mux.HandleFunc("GET /holes/{id}", s.holeHandler)
	mux.HandleFunc("GET /holes/{id}/replies", s.repliesHandler)
	return mux
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, "OK")
}

func (s *server) readyHandler(w http.ResponseWriter, r *http.Request) {
	if s.redis != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if err := s.redis.Ping(ctx).Err(); err != nil {
			s.logger.Warn().Err(err).Msg("Redis not ready")
			http.Error(w, "redis unavailable", http.StatusServiceUnavailable)
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, "OK")
}

func (s *server) feedHandler(w http.ResponseWriter, r *http.Request) {
	flag, err := holeFlag(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	serve[hole.HoleSet](s, w, r, location.Feed{Flag: flag, Guard: location.FeedGuard()})
}

func (s *server) attentionHandler(w http.ResponseWriter, r *http.Request) {
	flag, err := holeFlag(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	serve[hole.HoleSet](s, w, r, location.Attention{Flag: flag, Guard: location.FeedGuard()})
}

func (s *server) searchHandler(w http.ResponseWriter, r *http.Request) {
	keyword := strings.TrimSpace(r.URL.Query().Get("q"))
	if keyword == "" {
		http.Error(w, "missing q", http.StatusBadRequest)
		return
	}
	flag, err := holeFlag(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	serve[hole.HoleSet](s, w, r, location.Search{Keyword: keyword, Flag: flag, Guard: location.SearchGuard()})
}

func (s *server) holeHandler(w http.ResponseWriter, r *http.Request) {
	id, err := holeID(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	serve[hole.HoleSet](s, w, r, location.Single{ID: id})
}

func (s *server) repliesHandler(w http.ResponseWriter, r *http.Request) {
	id, err := holeID(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	var flag hole.ReplyFlag
	if r.URL.Query().Get("record") == "true" {
		flag = hole.FlagReplyRecord
	}
	serve[hole.ReplySet](s, w, r, location.Replies{HoleID: id, Flag: flag})
}

// serve runs loc with the swarm described by the query and writes the
// merged resource as JSON.
func serve[R resource.Resource[R]](s *server, w http.ResponseWriter, r *http.Request, loc resource.Location[R]) {
	sw, err := parseSwarm(r, loc.DefaultSwarm())
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.timeout)
	defer cancel()

	result, report, err := fetcher.Fetch(s.fetcher, loc).Swarm(sw).ExecuteReport(ctx)

	h := w.Header()
	h.Set(headerExecution, report.ID)
	h.Set(headerStrategy, string(report.Strategy))
	h.Set(headerRequested, strconv.Itoa(report.Requested))
	h.Set(headerSucceeded, strconv.Itoa(report.Succeeded))
	h.Set(headerFailed, strconv.Itoa(len(report.Failed)))
	h.Set(headerSkipped, strconv.Itoa(report.Skipped))
	h.Set(headerCancelled, strconv.FormatBool(report.Cancelled))

	if err != nil {
		status := errorStatus(err)
		s.logger.Warn().Err(err).Str("exec_id", report.ID).Int("status", status).Msg("Fetch failed")
		http.Error(w, err.Error(), status)
		return
	}

	h.Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(result); err != nil {
		s.logger.Error().Err(err).Str("exec_id", report.ID).Msg("Failed to write response")
	}
}

// errorStatus maps rejected requests to 400 and every other failure to 502.
func errorStatus(err error) int {
	var fe *fetcher.FetchError
	if errors.As(err, &fe) {
		switch fe.Kind {
		case fetcher.KindSwarmUnsupported, fetcher.KindSwarmPolicy:
			return http.StatusBadRequest
		}
	}
	return http.StatusBadGateway
}

// parseSwarm reads mode, pages and size. Without any of them the location
// default is used.
func parseSwarm(r *http.Request, def swarm.Swarm) (swarm.Swarm, error) {
	q := r.URL.Query()
	mode := q.Get("mode")
	if mode == "single" {
		return nil, nil
	}
	if mode == "" && !q.Has("pages") && !q.Has("size") {
		return def, nil
	}

	count, pageSize := 1, 25
	if d, ok := def.(swarm.Concurrent); ok {
		count, pageSize = d.Count, d.PageSize
	}

	var err error
	if q.Has("pages") {
		if count, err = positive(q.Get("pages")); err != nil {
			return nil, fmt.Errorf("%w: pages: %v", errBadRequest, err)
		}
	}
	if q.Has("size") {
		if pageSize, err = positive(q.Get("size")); err != nil {
			return nil, fmt.Errorf("%w: size: %v", errBadRequest, err)
		}
	}

	switch mode {
	case "", "concurrent":
		return swarm.Concurrent{Count: count, PageSize: pageSize}, nil
	case "sequential":
		return swarm.Sequential{Count: count, PageSize: pageSize}, nil
	default:
		return nil, fmt.Errorf("%w: unknown mode %q", errBadRequest, mode)
	}
}

func positive(s string) (int, error) {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, err
	}
	if n < 1 {
		return 0, fmt.Errorf("%d is not positive", n)
	}
	return n, nil
}

func holeID(r *http.Request) (hole.HoleID, error) {
	id, err := strconv.ParseUint(r.PathValue("id"), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: hole id %q", errBadRequest, r.PathValue("id"))
	}
	return hole.HoleID(id), nil
}

// holeFlag reads a comma separated flag list such as "reply,like".
func holeFlag(r *http.Request) (hole.HoleFlag, error) {
	var flag hole.HoleFlag
	raw := r.URL.Query().Get("flag")
	if raw == "" {
		return flag, nil
	}
	for _, name := range strings.Split(raw, ",") {
		switch strings.TrimSpace(name) {
		case "reply":
			flag |= hole.FlagReply
		case "like":
			flag |= hole.FlagLike
		case "record":
			flag |= hole.FlagRecord
		default:
			return 0, fmt.Errorf("%w: unknown flag %q", errBadRequest, name)
		}
	}
	return flag, nil
}
