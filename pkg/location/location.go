// Package location provides the prebuilt treehole locations: the live
// feed, the attention list, keyword search, a single hole and a reply thread.
package location

import (
	"net/url"
	"strconv"

	"github.com/Sternrassler/woodpecker/pkg/hole"
	"github.com/Sternrassler/woodpecker/pkg/resource"
	"github.com/Sternrassler/woodpecker/pkg/swarm"
)

// Compile-time checks.
var (
	_ resource.Location[hole.HoleSet]  = Feed{}
	_ resource.Location[hole.HoleSet]  = Attention{}
	_ resource.Location[hole.HoleSet]  = Search{}
	_ resource.Location[hole.HoleSet]  = Single{}
	_ resource.Location[hole.ReplySet] = Replies{}
)

const (
	defaultListLimit      = 25
	defaultSearchPageSize = 50
)

// FeedGuard is the ceiling the feed was historically limited to.
func FeedGuard() *swarm.Guard {
	return &swarm.Guard{MaxPage: 100}
}

// SearchGuard is the search ceiling; page sizes above 50 are undefined on the backend.
func SearchGuard() *swarm.Guard {
	return &swarm.Guard{MaxPage: 3, MaxPageSize: defaultSearchPageSize}
}

// join resolves a relative path against base without modifying base.
func join(base *url.URL, path string) *url.URL {
	return base.ResolveReference(&url.URL{Path: path, RawQuery: base.RawQuery})
}

// withQuery returns a copy of u with pairs added to its query.
func withQuery(u *url.URL, pairs ...string) *url.URL {
	out := *u
	q := out.Query()
	for i := 0; i+1 < len(pairs); i += 2 {
		q.Add(pairs[i], pairs[i+1])
	}
	out.RawQuery = q.Encode()
	return &out
}

// pointLookup is the dispatch rule for non-paginated locations.
func pointLookup(u *url.URL, s swarm.Swarm) (*url.URL, error) {
	if s != nil {
		return nil, swarm.ErrUnsupported
	}
	return u, nil
}

// Feed is the live hole feed.
type Feed struct {
	Flag  hole.HoleFlag
	Guard *swarm.Guard
}

// Name labels feed fetches in logs and metrics.
func (Feed) Name() string { return "feed" }

// Blank returns an empty set carrying the feed flag.
func (l Feed) Blank() hole.HoleSet { return hole.NewHoleSet(l.Flag) }

// Locate points base at the pku_hole listing.
func (Feed) Locate(base *url.URL) *url.URL { return join(base, "pku_hole") }

// Dispatch adds page and limit, checking the guard first.
func (l Feed) Dispatch(u *url.URL, s swarm.Swarm, page, pageSize int) (*url.URL, error) {
	return listDispatch(l.Name(), l.Guard, u, s, page, pageSize)
}

// DefaultSwarm fetches the first four pages concurrently.
func (Feed) DefaultSwarm() swarm.Swarm {
	return swarm.Concurrent{Count: 4, PageSize: 30}
}

// Attention is the list of holes the user follows.
type Attention struct {
	Flag  hole.HoleFlag
	Guard *swarm.Guard
}

// Name labels attention fetches in logs and metrics.
func (Attention) Name() string { return "attention" }

// Blank returns an empty set carrying the attention flag.
func (l Attention) Blank() hole.HoleSet { return hole.NewHoleSet(l.Flag) }

// Locate points base at the follow listing.
func (Attention) Locate(base *url.URL) *url.URL { return join(base, "follow") }

// Dispatch adds page and limit, checking the guard first.
func (l Attention) Dispatch(u *url.URL, s swarm.Swarm, page, pageSize int) (*url.URL, error) {
	return listDispatch(l.Name(), l.Guard, u, s, page, pageSize)
}

// DefaultSwarm fetches the first four pages concurrently.
func (Attention) DefaultSwarm() swarm.Swarm {
	return swarm.Concurrent{Count: 4, PageSize: 30}
}

// listDispatch paginates with page/limit parameters.
func listDispatch(name string, guard *swarm.Guard, u *url.URL, s swarm.Swarm, page, pageSize int) (*url.URL, error) {
	switch s.(type) {
	case nil:
		return withQuery(u, "page", "1", "limit", strconv.Itoa(defaultListLimit)), nil
	case swarm.Sequential, swarm.Concurrent:
	default:
		panic("location: unknown swarm variant")
	}

	if err := guard.Check(page, pageSize); err != nil {
		return nil, err
	}
	swarm.RequirePage(page, name)

	return withQuery(u, "page", strconv.Itoa(page), "limit", strconv.Itoa(pageSize)), nil
}

// Search is a keyword search.
type Search struct {
	Keyword string
	Flag    hole.HoleFlag
	Guard   *swarm.Guard
}

// Name labels search fetches in logs and metrics.
func (Search) Name() string { return "search" }

// Blank returns an empty set carrying the search flag.
func (l Search) Blank() hole.HoleSet { return hole.NewHoleSet(l.Flag) }

// Locate adds the search action and the keyword to base.
func (l Search) Locate(base *url.URL) *url.URL {
	return withQuery(base, "action", "search", "keywords", l.Keyword)
}

// Dispatch adds pagesize and page, checking the guard first.
func (l Search) Dispatch(u *url.URL, s swarm.Swarm, page, pageSize int) (*url.URL, error) {
	switch s.(type) {
	case nil:
		return withQuery(u, "pagesize", strconv.Itoa(defaultSearchPageSize), "page", "1"), nil
	case swarm.Sequential, swarm.Concurrent:
	default:
		panic("location: unknown swarm variant")
	}

	if err := l.Guard.Check(page, pageSize); err != nil {
		return nil, err
	}
	swarm.RequirePage(page, l.Name())

	return withQuery(u, "pagesize", strconv.Itoa(pageSize), "page", strconv.Itoa(page)), nil
}

// DefaultSwarm fetches three result pages concurrently.
func (Search) DefaultSwarm() swarm.Swarm {
	return swarm.Concurrent{Count: 3, PageSize: defaultSearchPageSize}
}

// Single is one hole by ID.
type Single struct {
	ID   hole.HoleID
	Flag hole.HoleFlag
}

// Name labels single lookups in logs and metrics.
func (Single) Name() string { return "single" }

// Blank returns an empty set carrying the lookup flag.
func (l Single) Blank() hole.HoleSet { return hole.NewHoleSet(l.Flag) }

// Locate adds the getone action and the hole ID to base.
func (l Single) Locate(base *url.URL) *url.URL {
	return withQuery(base, "action", "getone", "pid", l.ID.String())
}

// Dispatch returns u unchanged and rejects any swarm.
func (Single) Dispatch(u *url.URL, s swarm.Swarm, _, _ int) (*url.URL, error) {
	return pointLookup(u, s)
}

// DefaultSwarm is nil: a lookup is one request.
func (Single) DefaultSwarm() swarm.Swarm { return nil }

// Replies is the reply thread of one hole.
type Replies struct {
	HoleID hole.HoleID
	Flag   hole.ReplyFlag
}

// Name labels reply fetches in logs and metrics.
func (Replies) Name() string { return "replies" }

// Blank returns an empty reply set carrying the reply flag.
func (l Replies) Blank() hole.ReplySet { return hole.NewReplySet(l.Flag) }

// Locate adds the getcomment action and the hole ID to base.
func (l Replies) Locate(base *url.URL) *url.URL {
	return withQuery(base, "action", "getcomment", "pid", l.HoleID.String())
}

// Dispatch returns u unchanged and rejects any swarm.
func (Replies) Dispatch(u *url.URL, s swarm.Swarm, _, _ int) (*url.URL, error) {
	return pointLookup(u, s)
}

// DefaultSwarm is nil: a thread is one request.
func (Replies) DefaultSwarm() swarm.Swarm { return nil }
