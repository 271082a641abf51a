// Package hole models treehole posts ("holes") and their replies, decodes
// them from backend pages and collects them into deduplicating sets that
// the fetch engine can merge.
package hole

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"
)

// HoleID identifies a hole.
type HoleID uint64

func (id HoleID) String() string {
	return strconv.FormatUint(uint64(id), 10)
}

var errMissingData = errors.New("page has no data field")

// Kind types.
const (
	KindText  = "text"
	KindImage = "image"
	KindAudio = "audio"
)

// Kind is the content type of a hole. URL is set for image and audio holes.
type Kind struct {
	Type string `json:"type"`
	URL  string `json:"url,omitempty"`
}

// Hole is one treehole post.
type Hole struct {
	ID        HoleID    `json:"id"`
	Text      string    `json:"text"`
	Kind      Kind      `json:"kind"`
	Timestamp time.Time `json:"timestamp"`
	Reply     uint64    `json:"reply"`
	LikeNum   uint64    `json:"likenum"`
	Tag       *string   `json:"tag"`
}

// HoleEntry is a hole as observed at Snapshot.
type HoleEntry struct {
	Entry    Hole      `json:"entry"`
	Snapshot time.Time `json:"snapshot"`
}

type rawHole struct {
	ID        lossyUint `json:"pid"`
	Text      string    `json:"text"`
	Type      string    `json:"type"`
	URL       string    `json:"url"`
	Timestamp unixTime  `json:"timestamp"`
	Reply     lossyUint `json:"reply"`
	LikeNum   lossyUint `json:"likenum"`
	Tag       *string   `json:"tag"`
}

func (r rawHole) hole() (Hole, error) {
	kind := Kind{Type: r.Type}
	switch r.Type {
	case KindText:
	case KindImage, KindAudio:
		kind.URL = r.URL
	default:
		return Hole{}, fmt.Errorf("hole %d: unknown type %q", r.ID, r.Type)
	}

	return Hole{
		ID:        HoleID(r.ID),
		Text:      r.Text,
		Kind:      kind,
		Timestamp: time.Time(r.Timestamp),
		Reply:     uint64(r.Reply),
		LikeNum:   uint64(r.LikeNum),
		Tag:       r.Tag,
	}, nil
}

// holePage is the backend envelope for hole listings.
type holePage struct {
	Code      int                 `json:"code"`
	Count     *int                `json:"count"`
	Data      *oneOrMany[rawHole] `json:"data"`
	Timestamp *unixTime           `json:"timestamp"`
}

// DecodeHolePage decodes a backend page into entries, in page order.
// Entries are stamped with the page timestamp, or the current time when the
// page carries none.
func DecodeHolePage(body []byte) ([]HoleEntry, error) {
	var page holePage
	if err := json.Unmarshal(body, &page); err != nil {
		return nil, err
	}
	if page.Data == nil {
		return nil, errMissingData
	}

	snapshot := snapshotNow()
	if page.Timestamp != nil {
		snapshot = time.Time(*page.Timestamp)
	}

	entries := make([]HoleEntry, 0, len(*page.Data))
	for _, raw := range *page.Data {
		h, err := raw.hole()
		if err != nil {
			return nil, err
		}
		entries = append(entries, HoleEntry{Entry: h, Snapshot: snapshot})
	}
	return entries, nil
}

// fresherHole reports whether a should replace b when both share a key.
// The comparison is a total order over the entry fields so the winner does
// not depend on merge order.
func fresherHole(a, b HoleEntry) bool {
	if c := a.Snapshot.Compare(b.Snapshot); c != 0 {
		return c > 0
	}
	if a.Entry.Reply != b.Entry.Reply {
		return a.Entry.Reply > b.Entry.Reply
	}
	if a.Entry.LikeNum != b.Entry.LikeNum {
		return a.Entry.LikeNum > b.Entry.LikeNum
	}
	if c := a.Entry.Timestamp.Compare(b.Entry.Timestamp); c != 0 {
		return c > 0
	}
	if a.Entry.Text != b.Entry.Text {
		return a.Entry.Text > b.Entry.Text
	}
	if a.Entry.Kind != b.Entry.Kind {
		if a.Entry.Kind.Type != b.Entry.Kind.Type {
			return a.Entry.Kind.Type > b.Entry.Kind.Type
		}
		return a.Entry.Kind.URL > b.Entry.Kind.URL
	}
	return tagLess(b.Entry.Tag, a.Entry.Tag)
}

// tagLess orders nil before any tag, then tags lexically.
func tagLess(a, b *string) bool {
	switch {
	case a == nil:
		return b != nil
	case b == nil:
		return false
	default:
		return *a < *b
	}
}
