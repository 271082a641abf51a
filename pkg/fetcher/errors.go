package fetcher

import (
	"errors"
	"fmt"

	"github.com/Sternrassler/woodpecker/pkg/swarm"
)

// Common errors returned by the fetcher.
var (
	// ErrStatus is wrapped by transport failures caused by a non-2xx response.
	ErrStatus = errors.New("unexpected http status")

	// ErrWorkerPanic is wrapped by pool failures caused by a panicking page job.
	ErrWorkerPanic = errors.New("worker panicked")

	// ErrNoEndpoint is returned by New when no endpoint is given.
	ErrNoEndpoint = errors.New("endpoint is required")
)

// Kind classifies a fetch failure.
type Kind string

const (
	// KindClientBuild means an HTTP client could not be built.
	KindClientBuild Kind = "client_build"

	// KindMalformedURL means a request URL could not be formed.
	KindMalformedURL Kind = "malformed_url"

	// KindSwarmUnsupported means a paginated swarm targeted a point lookup.
	KindSwarmUnsupported Kind = "swarm_unsupported"

	// KindSwarmPolicy means a page ceiling rejected the swarm.
	KindSwarmPolicy Kind = "swarm_policy"

	// KindTransport covers network failures, gate refusals and non-2xx responses.
	KindTransport Kind = "transport"

	// KindParse means a response body did not decode.
	KindParse Kind = "parse"

	// KindMerge means two page results could not be merged.
	KindMerge Kind = "merge"

	// KindPool means the worker pool broke down.
	KindPool Kind = "pool"
)

// FetchError is a failure attributed to one page, or to the whole execution
// when Page is 0.
type FetchError struct {
	Kind Kind
	Page int
	URL  string
	Err  error
}

// Error implements the error interface.
func (e *FetchError) Error() string {
	switch {
	case e.Page > 0 && e.URL != "":
		return fmt.Sprintf("fetch %s error (page %d, %s): %v", e.Kind, e.Page, e.URL, e.Err)
	case e.Page > 0:
		return fmt.Sprintf("fetch %s error (page %d): %v", e.Kind, e.Page, e.Err)
	default:
		return fmt.Sprintf("fetch %s error: %v", e.Kind, e.Err)
	}
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *FetchError) Unwrap() error {
	return e.Err
}

// Fatal reports whether the failure aborts a multi-page execution.
// Transport, parse and per-page URL failures only drop their page.
func (e *FetchError) Fatal() bool {
	switch e.Kind {
	case KindTransport, KindParse, KindMalformedURL:
		return false
	default:
		return true
	}
}

// dispatchError classifies an error returned by Location.Dispatch.
func dispatchError(page int, err error) *FetchError {
	kind := KindMalformedURL
	switch {
	case errors.Is(err, swarm.ErrUnsupported):
		kind = KindSwarmUnsupported
	case errors.Is(err, swarm.ErrPolicyRejected):
		kind = KindSwarmPolicy
	}
	return &FetchError{Kind: kind, Page: page, Err: err}
}
