package fetcher

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/Sternrassler/woodpecker/pkg/swarm"
)

// task is a unit on the job queue. A stop task tells exactly one worker to exit.
type task struct {
	job  job
	stop bool
}

// pageResult is what a worker reports for every job it takes.
type pageResult[R any] struct {
	page    int
	value   R
	err     *FetchError
	skipped bool
}

// concurrent fetches pages over a bounded worker pool.
func (x *execution[R]) concurrent(ctx context.Context, s swarm.Concurrent) (R, error) {
	var zero R
	count, pageSize := s.Pages()

	jobs, err := x.plan(count, pageSize)
	if err != nil {
		return zero, err
	}

	poolSize := min(swarm.PoolSize(s), x.fetcher.config.MaxWorkers)
	if len(jobs) == 0 || poolSize == 0 {
		return x.location.Blank(), nil
	}
	x.report.PoolSize = poolSize

	// Every client is built before the first request.
	clients := make([]*http.Client, poolSize)
	for i := range clients {
		if clients[i], err = x.buildClient(); err != nil {
			return zero, err
		}
	}

	runCtx, abort := context.WithCancel(ctx)
	defer abort()

	queue := make(chan task, poolSize)
	results := make(chan pageResult[R], poolSize)

	poolWorkers.Add(float64(poolSize))
	defer poolWorkers.Sub(float64(poolSize))

	var wg sync.WaitGroup
	for i, client := range clients {
		wg.Add(1)
		go x.worker(runCtx, i, client, queue, results, &wg)
	}

	go x.dispatch(runCtx, jobs, poolSize, queue)

	// Close results once every worker has taken its stop task.
	go func() {
		wg.Wait()
		close(results)
	}()

	acc := x.location.Blank()
	var fatal *FetchError
	for res := range results {
		switch {
		case res.skipped:
			x.report.Skipped++
			pagesTotal.WithLabelValues(x.location.Name(), outcomeSkipped).Inc()

		case res.err != nil && res.err.Fatal():
			if fatal == nil {
				fatal = res.err
				abort()
			}

		case res.err != nil:
			x.drop(res.err)

		case fatal != nil || ctx.Err() != nil:
			// Late arrivals after an abort or cancellation are drained, not merged.
			pagesTotal.WithLabelValues(x.location.Name(), outcomeDiscarded).Inc()

		default:
			merged, err := acc.Merge(res.value)
			if err != nil {
				fatal = &FetchError{Kind: KindMerge, Page: res.page, Err: err}
				abort()
				continue
			}
			acc = merged
			x.succeed()
		}
	}

	if fatal != nil {
		return zero, fatal
	}
	if ctx.Err() != nil {
		x.report.Cancelled = true
		x.logger.Warn().
			Int("merged", x.report.Succeeded).
			Int("dispatched", x.report.Dispatched).
			Msg("Fetch cancelled - returning partial results")
	}
	return acc, nil
}

// dispatch enqueues planned jobs in page order, then one stop task per worker.
// It stops enqueuing jobs once ctx is done; stop tasks are always sent.
func (x *execution[R]) dispatch(ctx context.Context, jobs []job, workers int, queue chan<- task) {
	enqueued := 0
	defer func() {
		for range workers {
			queue <- task{stop: true}
		}
		x.logger.Debug().
			Int("enqueued", enqueued).
			Int("planned", len(jobs)).
			Msg("Dispatch complete")
	}()

	for _, j := range jobs {
		select {
		case queue <- task{job: j}:
			enqueued++
		case <-ctx.Done():
			return
		}
	}
}

// worker processes tasks until it takes a stop task. It reports exactly one
// result per job, including jobs skipped after cancellation.
func (x *execution[R]) worker(ctx context.Context, workerID int, client *http.Client, queue <-chan task, results chan<- pageResult[R], wg *sync.WaitGroup) {
	defer wg.Done()
	pagesProcessed := 0

	for t := range queue {
		if t.stop {
			x.logger.Debug().
				Int("worker_id", workerID).
				Int("pages_processed", pagesProcessed).
				Msg("Worker stopping")
			return
		}

		if ctx.Err() != nil {
			results <- pageResult[R]{page: t.job.page, skipped: true}
			continue
		}

		value, ferr := x.guardedFetch(ctx, client, t.job)
		if interrupted(ctx, ferr) {
			results <- pageResult[R]{page: t.job.page, skipped: true}
			continue
		}
		results <- pageResult[R]{page: t.job.page, value: value, err: ferr}
		pagesProcessed++
	}
}

// guardedFetch turns a panic in a page job into a pool failure.
func (x *execution[R]) guardedFetch(ctx context.Context, client *http.Client, j job) (value R, ferr *FetchError) {
	defer func() {
		if r := recover(); r != nil {
			ferr = &FetchError{
				Kind: KindPool,
				Page: j.page,
				URL:  j.url.String(),
				Err:  fmt.Errorf("%w: %v", ErrWorkerPanic, r),
			}
		}
	}()
	return x.fetchPage(ctx, client, j)
}
