// Package resource defines the capability contracts the fetch engine works
// against: a Resource is a mergeable collection parsed from one response
// body, a Location describes where a Resource lives and how it paginates.
package resource

import (
	"errors"
	"net/url"

	"github.com/Sternrassler/woodpecker/pkg/swarm"
)

var (
	// ErrParse indicates a response body does not match the expected schema.
	ErrParse = errors.New("parse resource failed")

	// ErrMerge indicates two resources of incompatible flavors were merged.
	ErrMerge = errors.New("merge resource failed")
)

// Resource is a deduplicating collection of records of one kind.
//
// Implementations are value types. Merge must be associative, commutative
// and idempotent, with Empty() as identity, and must not mutate either
// operand.
type Resource[R any] interface {
	// Empty returns the empty collection of the same flavor.
	Empty() R

	// Parse decodes one response body into a collection of the receiver's flavor.
	// Failures wrap ErrParse.
	Parse(body []byte) (R, error)

	// Merge returns the set union of the receiver and other.
	// Failures wrap ErrMerge.
	Merge(other R) (R, error)

	// Len returns the number of records.
	Len() int
}

// Location describes one fetchable target producing resources of type R.
// Locations are immutable and safe for concurrent use.
type Location[R Resource[R]] interface {
	// Name labels the location in logs and metrics.
	Name() string

	// Blank returns the empty resource this location folds pages into.
	Blank() R

	// Locate appends the path or query fragment identifying the resource.
	// It must not modify base.
	Locate(base *url.URL) *url.URL

	// Dispatch specializes a located URL for one page under s (nil = single page).
	// Point lookups return swarm.ErrUnsupported for a non-nil s.
	// Paginated locations panic when page < 1.
	Dispatch(u *url.URL, s swarm.Swarm, page, pageSize int) (*url.URL, error)

	// DefaultSwarm returns the preferred strategy, or nil for a single page.
	DefaultSwarm() swarm.Swarm
}

// Fold merges resources left to right starting at identity.
func Fold[R Resource[R]](identity R, parts ...R) (R, error) {
	acc := identity
	for _, part := range parts {
		merged, err := acc.Merge(part)
		if err != nil {
			return acc, err
		}
		acc = merged
	}
	return acc, nil
}
