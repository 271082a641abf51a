package fetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/Sternrassler/woodpecker/pkg/resource"
	"github.com/Sternrassler/woodpecker/pkg/swarm"
)

// progressEvery is how often (in merged pages) progress is logged.
const progressEvery = 50

// execution is the state of one Executor run.
type execution[R resource.Resource[R]] struct {
	fetcher  *Fetcher
	location resource.Location[R]
	swarm    swarm.Swarm
	logger   zerolog.Logger
	report   Report
}

// planReserve caps the job capacity reserved up front. The count comes from
// the caller and a guard may reject it a few pages in.
const planReserve = 1024

// job is one planned page request.
type job struct {
	page int
	url  *url.URL
}

// plan locates and dispatches every page before any request is sent.
// Unsupported and rejected swarms abort; any other dispatch error drops the page.
func (x *execution[R]) plan(count, pageSize int) ([]job, error) {
	x.report.Requested = max(count, 0)

	jobs := make([]job, 0, min(x.report.Requested, planReserve))
	for page := 1; page <= count; page++ {
		located := x.location.Locate(x.fetcher.endpoint.Base())
		u, err := x.location.Dispatch(located, x.swarm, page, pageSize)
		if err != nil {
			ferr := dispatchError(page, err)
			if ferr.Fatal() {
				return nil, ferr
			}
			x.drop(ferr)
			continue
		}
		jobs = append(jobs, job{page: page, url: u})
	}

	x.report.Dispatched = len(jobs)
	return jobs, nil
}

func (x *execution[R]) buildClient() (*http.Client, error) {
	client, err := x.fetcher.config.ClientBuilder()
	if err != nil {
		return nil, &FetchError{Kind: KindClientBuild, Err: err}
	}
	if client == nil {
		return nil, &FetchError{Kind: KindClientBuild, Err: fmt.Errorf("client builder returned nil")}
	}
	return client, nil
}

// pageContext detaches a request from cancellation of ctx. A request that
// has started always finishes or times out on its own.
func (x *execution[R]) pageContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), x.fetcher.config.PageTimeout)
}

// fetchPage downloads and parses one page.
func (x *execution[R]) fetchPage(ctx context.Context, client *http.Client, j job) (R, *FetchError) {
	var zero R
	target := j.url.String()
	fail := func(kind Kind, err error) (R, *FetchError) {
		return zero, &FetchError{Kind: kind, Page: j.page, URL: target, Err: err}
	}

	if gate := x.fetcher.config.Gate; gate != nil {
		if err := gate.Wait(ctx); err != nil {
			return fail(KindTransport, err)
		}
	}

	timer := prometheus.NewTimer(pageDuration.WithLabelValues(x.location.Name()))
	defer timer.ObserveDuration()
	inflightRequests.Inc()
	defer inflightRequests.Dec()

	pageCtx, cancel := x.pageContext(ctx)
	defer cancel()

	req, err := http.NewRequestWithContext(pageCtx, http.MethodGet, target, nil)
	if err != nil {
		return fail(KindMalformedURL, err)
	}
	if token := x.fetcher.endpoint.UserToken(); token != "" && !j.url.Query().Has("user_token") {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := client.Do(req)
	if err != nil {
		return fail(KindTransport, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fail(KindTransport, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fail(KindTransport, fmt.Errorf("%w: %d", ErrStatus, resp.StatusCode))
	}

	parsed, err := x.location.Blank().Parse(body)
	if err != nil {
		return fail(KindParse, err)
	}
	return parsed, nil
}

// single fetches one unpaginated URL. Any failure is returned, except a
// gate wait cut short by cancellation.
func (x *execution[R]) single(ctx context.Context) (R, error) {
	var zero R
	x.report.Requested = 1

	located := x.location.Locate(x.fetcher.endpoint.Base())
	u, err := x.location.Dispatch(located, nil, 1, 1)
	if err != nil {
		return zero, dispatchError(0, err)
	}
	x.report.Dispatched = 1

	client, err := x.buildClient()
	if err != nil {
		return zero, err
	}

	if ctx.Err() != nil {
		x.report.Cancelled = true
		x.report.Skipped = 1
		pagesTotal.WithLabelValues(x.location.Name(), outcomeSkipped).Inc()
		return x.location.Blank(), nil
	}

	parsed, ferr := x.fetchPage(ctx, client, job{page: 1, url: u})
	if interrupted(ctx, ferr) {
		x.report.Cancelled = true
		x.report.Skipped = 1
		pagesTotal.WithLabelValues(x.location.Name(), outcomeSkipped).Inc()
		return x.location.Blank(), nil
	}
	if ferr != nil {
		x.drop(ferr)
		return zero, ferr
	}
	x.succeed()

	return x.location.Blank().Merge(parsed)
}

// sequential fetches pages in order on the calling goroutine.
func (x *execution[R]) sequential(ctx context.Context, s swarm.Sequential) (R, error) {
	var zero R
	count, pageSize := s.Pages()

	jobs, err := x.plan(count, pageSize)
	if err != nil {
		return zero, err
	}

	client, err := x.buildClient()
	if err != nil {
		return zero, err
	}

	acc := x.location.Blank()
	for i, j := range jobs {
		if ctx.Err() != nil {
			x.report.Cancelled = true
			x.report.Skipped += len(jobs) - i
			pagesTotal.WithLabelValues(x.location.Name(), outcomeSkipped).Add(float64(len(jobs) - i))
			x.logger.Warn().Int("merged", x.report.Succeeded).Msg("Fetch cancelled - returning partial results")
			break
		}

		parsed, ferr := x.fetchPage(ctx, client, j)
		if interrupted(ctx, ferr) {
			x.report.Skipped++
			pagesTotal.WithLabelValues(x.location.Name(), outcomeSkipped).Inc()
			continue
		}
		if ferr != nil {
			x.drop(ferr)
			continue
		}
		if ctx.Err() != nil {
			pagesTotal.WithLabelValues(x.location.Name(), outcomeDiscarded).Inc()
			continue
		}

		merged, err := acc.Merge(parsed)
		if err != nil {
			return zero, &FetchError{Kind: KindMerge, Page: j.page, Err: err}
		}
		acc = merged
		x.succeed()
	}

	return acc, nil
}

// interrupted reports whether ferr only says that ctx ended while the page
// was waiting on the gate. Such a page was never requested.
func interrupted(ctx context.Context, ferr *FetchError) bool {
	return ferr != nil && ctx.Err() != nil && errors.Is(ferr.Err, ctx.Err())
}

// drop records a page-level failure.
func (x *execution[R]) drop(ferr *FetchError) {
	x.report.Failed = append(x.report.Failed, ferr)
	pagesTotal.WithLabelValues(x.location.Name(), outcomeDropped).Inc()

	x.logger.Warn().
		Err(ferr.Err).
		Int("page", ferr.Page).
		Str("kind", string(ferr.Kind)).
		Str("url", ferr.URL).
		Msg("Page fetch failed")
}

// succeed records a merged page.
func (x *execution[R]) succeed() {
	x.report.Succeeded++
	pagesTotal.WithLabelValues(x.location.Name(), outcomeOK).Inc()

	if x.report.Succeeded%progressEvery == 0 {
		x.logger.Info().
			Int("fetched", x.report.Succeeded).
			Int("total", x.report.Dispatched).
			Float64("progress_pct", float64(x.report.Succeeded)/float64(x.report.Dispatched)*100).
			Msg("Fetch progress")
	}
}

// outcome is the result label of the executions metric.
func (x *execution[R]) outcome(err error) string {
	switch {
	case err != nil:
		return "failed"
	case x.report.Cancelled:
		return "cancelled"
	case len(x.report.Failed) > 0:
		return "partial"
	default:
		return "ok"
	}
}
