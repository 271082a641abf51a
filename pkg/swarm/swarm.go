// Package swarm defines the pagination strategies a fetch can run under.
//
// A fetch runs in one of three modes:
//
//   - single page: no Swarm value (nil)
//   - Sequential: Count pages, one request at a time, in page order
//   - Concurrent: Count pages over a bounded worker pool
//
// Swarm is sealed: Sequential and Concurrent are the only implementations.
package swarm

import (
	"errors"
	"fmt"
)

// MaxPoolSize is the hard upper bound on concurrent workers against one backend.
const MaxPoolSize = 16

var (
	// ErrUnsupported is returned when a paginated swarm is requested against
	// a location that is a point lookup.
	ErrUnsupported = errors.New("swarm not supported")

	// ErrPolicyRejected is returned when a page falls outside a configured ceiling.
	ErrPolicyRejected = errors.New("swarm rejected by page ceiling")
)

// Swarm is a paginated fetch strategy.
type Swarm interface {
	// Pages returns the number of pages and the page size.
	Pages() (count, pageSize int)
	String() string

	sealed()
}

// Sequential fetches Count pages one at a time, in page order.
type Sequential struct {
	Count    int
	PageSize int
}

// Concurrent fetches Count pages with a worker pool of min(Count, MaxPoolSize).
type Concurrent struct {
	Count    int
	PageSize int
}

func (s Sequential) Pages() (int, int) { return s.Count, s.PageSize }
func (s Concurrent) Pages() (int, int) { return s.Count, s.PageSize }

func (s Sequential) String() string {
	return fmt.Sprintf("sequential(count=%d, page_size=%d)", s.Count, s.PageSize)
}

func (s Concurrent) String() string {
	return fmt.Sprintf("concurrent(count=%d, page_size=%d)", s.Count, s.PageSize)
}

func (Sequential) sealed() {}
func (Concurrent) sealed() {}

// Strategy names a mode for logs and metric labels.
type Strategy string

const (
	StrategySingle     Strategy = "single"
	StrategySequential Strategy = "sequential"
	StrategyConcurrent Strategy = "concurrent"
)

// StrategyOf reports the mode selected by s. A nil s is the single-page mode.
func StrategyOf(s Swarm) Strategy {
	switch s.(type) {
	case nil:
		return StrategySingle
	case Sequential:
		return StrategySequential
	case Concurrent:
		return StrategyConcurrent
	default:
		panic(fmt.Sprintf("swarm: unknown variant %T", s))
	}
}

// PoolSize returns the worker count used for a concurrent swarm.
func PoolSize(s Concurrent) int {
	return min(max(s.Count, 0), MaxPoolSize)
}

// RequirePage panics when page is not a valid 1-based page number.
// Passing page < 1 is a programmer error, not a recoverable condition.
func RequirePage(page int, who string) {
	if page < 1 {
		panic(fmt.Sprintf("location %s requires page >= 1, got %d", who, page))
	}
}

// Guard is an optional dispatch-time ceiling. A nil *Guard allows everything.
type Guard struct {
	// MaxPage rejects pages above it (0 = no limit).
	MaxPage int
	// MaxPageSize rejects larger page sizes (0 = no limit).
	MaxPageSize int
}

// Check returns an error wrapping ErrPolicyRejected when page or pageSize
// exceed the ceiling.
func (g *Guard) Check(page, pageSize int) error {
	if g == nil {
		return nil
	}
	if g.MaxPage > 0 && page > g.MaxPage {
		return fmt.Errorf("%w: page %d > %d", ErrPolicyRejected, page, g.MaxPage)
	}
	if g.MaxPageSize > 0 && pageSize > g.MaxPageSize {
		return fmt.Errorf("%w: page size %d > %d", ErrPolicyRejected, pageSize, g.MaxPageSize)
	}
	return nil
}
