package hole

import (
	"encoding/json"
	"regexp"
	"strconv"
	"time"
)

// ReplyID identifies a reply.
type ReplyID uint64

func (id ReplyID) String() string {
	return strconv.FormatUint(uint64(id), 10)
}

// Reply is one comment on a hole.
type Reply struct {
	ID        ReplyID   `json:"id"`
	Hole      HoleID    `json:"hole"`
	Name      string    `json:"name"`
	Text      string    `json:"text"`
	DZ        bool      `json:"dz"`
	Timestamp time.Time `json:"timestamp"`
	Tag       *string   `json:"tag"`
}

// ReplyEntry is a reply as observed at Snapshot.
type ReplyEntry struct {
	Entry    Reply     `json:"entry"`
	Snapshot time.Time `json:"snapshot"`
}

// peoplePrefix matches the "[name] " mention the backend prepends to reply text.
var peoplePrefix = regexp.MustCompile(`\[(洞主|[\p{L}\p{N}_]+?(\s[\p{L}\p{N}_]+)?)\]\s+`)

// stripPeoplePrefix removes the first mention prefix from text.
func stripPeoplePrefix(text string) string {
	loc := peoplePrefix.FindStringIndex(text)
	if loc == nil {
		return text
	}
	return text[:loc[0]] + text[loc[1]:]
}

type rawReply struct {
	ID        lossyUint `json:"cid"`
	Hole      lossyUint `json:"pid"`
	Name      string    `json:"name"`
	Text      string    `json:"text"`
	DZ        lossyBool `json:"islz"`
	Timestamp unixTime  `json:"timestamp"`
	Tag       *string   `json:"tag"`
}

func (r rawReply) reply() Reply {
	return Reply{
		ID:        ReplyID(r.ID),
		Hole:      HoleID(r.Hole),
		Name:      r.Name,
		Text:      stripPeoplePrefix(r.Text),
		DZ:        bool(r.DZ),
		Timestamp: time.Time(r.Timestamp),
		Tag:       r.Tag,
	}
}

type replyPage struct {
	Code      int                   `json:"code"`
	Data      *nestedData[rawReply] `json:"data"`
	Attention lossyBool             `json:"attention"`
}

// DecodeReplyPage decodes a backend reply thread into entries, in page order.
func DecodeReplyPage(body []byte) ([]ReplyEntry, error) {
	var page replyPage
	if err := json.Unmarshal(body, &page); err != nil {
		return nil, err
	}
	if page.Data == nil {
		return nil, errMissingData
	}

	snapshot := snapshotNow()
	entries := make([]ReplyEntry, 0, len(*page.Data))
	for _, raw := range *page.Data {
		entries = append(entries, ReplyEntry{Entry: raw.reply(), Snapshot: snapshot})
	}
	return entries, nil
}

// fresherReply reports whether a should replace b when both share a key.
func fresherReply(a, b ReplyEntry) bool {
	if c := a.Snapshot.Compare(b.Snapshot); c != 0 {
		return c > 0
	}
	if c := a.Entry.Timestamp.Compare(b.Entry.Timestamp); c != 0 {
		return c > 0
	}
	if a.Entry.Hole != b.Entry.Hole {
		return a.Entry.Hole > b.Entry.Hole
	}
	if a.Entry.Text != b.Entry.Text {
		return a.Entry.Text > b.Entry.Text
	}
	if a.Entry.Name != b.Entry.Name {
		return a.Entry.Name > b.Entry.Name
	}
	if a.Entry.DZ != b.Entry.DZ {
		return a.Entry.DZ
	}
	return tagLess(b.Entry.Tag, a.Entry.Tag)
}
