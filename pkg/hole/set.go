package hole

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/Sternrassler/woodpecker/pkg/resource"
)

// HoleFlag selects which mutable fields take part in hole identity.
// With no flag set two entries are the same record when their IDs match.
type HoleFlag uint8

const (
	// FlagReply keeps snapshots with different reply counts apart.
	FlagReply HoleFlag = 1 << iota
	// FlagLike keeps snapshots with different like counts apart.
	FlagLike
	// FlagRecord keeps snapshots taken at different times apart.
	FlagRecord
)

func (f HoleFlag) String() string {
	if f == 0 {
		return "none"
	}
	var parts []string
	if f&FlagReply != 0 {
		parts = append(parts, "reply")
	}
	if f&FlagLike != 0 {
		parts = append(parts, "like")
	}
	if f&FlagRecord != 0 {
		parts = append(parts, "record")
	}
	return strings.Join(parts, "|")
}

type holeKey struct {
	id     HoleID
	reply  uint64
	like   uint64
	record int64
}

func (f HoleFlag) key(e HoleEntry) holeKey {
	k := holeKey{id: e.Entry.ID}
	if f&FlagReply != 0 {
		k.reply = e.Entry.Reply
	}
	if f&FlagLike != 0 {
		k.like = e.Entry.LikeNum
	}
	if f&FlagRecord != 0 {
		k.record = e.Snapshot.Unix()
	}
	return k
}

// ReplyFlag selects which fields take part in reply identity.
type ReplyFlag uint8

// FlagReplyRecord keeps reply snapshots taken at different times apart.
const FlagReplyRecord ReplyFlag = 1

func (f ReplyFlag) String() string {
	if f&FlagReplyRecord != 0 {
		return "record"
	}
	return "none"
}

type replyKey struct {
	id     ReplyID
	record int64
}

func (f ReplyFlag) key(e ReplyEntry) replyKey {
	k := replyKey{id: e.Entry.ID}
	if f&FlagReplyRecord != 0 {
		k.record = e.Snapshot.Unix()
	}
	return k
}

// union returns a new map holding a ∪ b. On a key collision the fresher
// entry is kept.
func union[K comparable, E any](a, b map[K]E, fresher func(x, y E) bool) map[K]E {
	out := make(map[K]E, len(a)+len(b))
	for k, e := range a {
		out[k] = e
	}
	for k, e := range b {
		if cur, ok := out[k]; !ok || fresher(e, cur) {
			out[k] = e
		}
	}
	return out
}

// HoleSet is a deduplicated collection of hole entries.
// The zero value is an empty set with no flag.
type HoleSet struct {
	flag    HoleFlag
	entries map[holeKey]HoleEntry
}

var _ resource.Resource[HoleSet] = HoleSet{}

// NewHoleSet returns a set of the given flavor holding entries.
func NewHoleSet(flag HoleFlag, entries ...HoleEntry) HoleSet {
	s := HoleSet{flag: flag, entries: make(map[holeKey]HoleEntry, len(entries))}
	for _, e := range entries {
		k := flag.key(e)
		if cur, ok := s.entries[k]; !ok || fresherHole(e, cur) {
			s.entries[k] = e
		}
	}
	return s
}

// Flag returns the set flavor.
func (s HoleSet) Flag() HoleFlag { return s.flag }

func (s HoleSet) Empty() HoleSet { return HoleSet{flag: s.flag} }

func (s HoleSet) Len() int { return len(s.entries) }

// Parse decodes a backend hole page into a set of the receiver's flavor.
func (s HoleSet) Parse(body []byte) (HoleSet, error) {
	entries, err := DecodeHolePage(body)
	if err != nil {
		return HoleSet{}, fmt.Errorf("%w: %v", resource.ErrParse, err)
	}
	return NewHoleSet(s.flag, entries...), nil
}

func (s HoleSet) Merge(other HoleSet) (HoleSet, error) {
	if s.flag != other.flag {
		return HoleSet{}, fmt.Errorf("%w: hole sets with flags %s and %s", resource.ErrMerge, s.flag, other.flag)
	}
	return HoleSet{flag: s.flag, entries: union(s.entries, other.entries, fresherHole)}, nil
}

// Contains reports whether any entry has the given ID.
func (s HoleSet) Contains(id HoleID) bool {
	for k := range s.entries {
		if k.id == id {
			return true
		}
	}
	return false
}

// Entries returns the entries ordered by ID, then snapshot.
func (s HoleSet) Entries() []HoleEntry {
	out := make([]HoleEntry, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Entry.ID != out[j].Entry.ID {
			return out[i].Entry.ID < out[j].Entry.ID
		}
		return fresherHole(out[j], out[i])
	})
	return out
}

// Equal reports whether both sets have the same flavor and entries.
func (s HoleSet) Equal(other HoleSet) bool {
	if s.flag != other.flag || len(s.entries) != len(other.entries) {
		return false
	}
	for k, e := range s.entries {
		o, ok := other.entries[k]
		if !ok || fresherHole(e, o) || fresherHole(o, e) {
			return false
		}
	}
	return true
}

// MarshalJSON encodes the set as an ordered array of entries.
func (s HoleSet) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Entries())
}

// ReplySet is a deduplicated collection of reply entries.
type ReplySet struct {
	flag    ReplyFlag
	entries map[replyKey]ReplyEntry
}

var _ resource.Resource[ReplySet] = ReplySet{}

// NewReplySet returns a set of the given flavor holding entries.
func NewReplySet(flag ReplyFlag, entries ...ReplyEntry) ReplySet {
	s := ReplySet{flag: flag, entries: make(map[replyKey]ReplyEntry, len(entries))}
	for _, e := range entries {
		k := flag.key(e)
		if cur, ok := s.entries[k]; !ok || fresherReply(e, cur) {
			s.entries[k] = e
		}
	}
	return s
}

// Flag returns the set flavor.
func (s ReplySet) Flag() ReplyFlag { return s.flag }

func (s ReplySet) Empty() ReplySet { return ReplySet{flag: s.flag} }

func (s ReplySet) Len() int { return len(s.entries) }

// Parse decodes a backend reply thread into a set of the receiver's flavor.
func (s ReplySet) Parse(body []byte) (ReplySet, error) {
	entries, err := DecodeReplyPage(body)
	if err != nil {
		return ReplySet{}, fmt.Errorf("%w: %v", resource.ErrParse, err)
	}
	return NewReplySet(s.flag, entries...), nil
}

func (s ReplySet) Merge(other ReplySet) (ReplySet, error) {
	if s.flag != other.flag {
		return ReplySet{}, fmt.Errorf("%w: reply sets with flags %s and %s", resource.ErrMerge, s.flag, other.flag)
	}
	return ReplySet{flag: s.flag, entries: union(s.entries, other.entries, fresherReply)}, nil
}

// Contains reports whether any entry has the given ID.
func (s ReplySet) Contains(id ReplyID) bool {
	for k := range s.entries {
		if k.id == id {
			return true
		}
	}
	return false
}

// Entries returns the entries ordered by ID, then snapshot.
func (s ReplySet) Entries() []ReplyEntry {
	out := make([]ReplyEntry, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Entry.ID != out[j].Entry.ID {
			return out[i].Entry.ID < out[j].Entry.ID
		}
		return fresherReply(out[j], out[i])
	})
	return out
}

// Equal reports whether both sets have the same flavor and entries.
func (s ReplySet) Equal(other ReplySet) bool {
	if s.flag != other.flag || len(s.entries) != len(other.entries) {
		return false
	}
	for k, e := range s.entries {
		o, ok := other.entries[k]
		if !ok || fresherReply(e, o) || fresherReply(o, e) {
			return false
		}
	}
	return true
}

// MarshalJSON encodes the set as an ordered array of entries.
func (s ReplySet) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Entries())
}
