package hole

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// lossyUint decodes a JSON number or numeric string. Anything else
// non-null that is a string decodes to 0, as the backend sends "" for
// unset counters.
type lossyUint uint64

func (n *lossyUint) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*n = 0
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		v, err := strconv.ParseUint(strings.TrimSpace(s), 10, 64)
		if err != nil {
			v = 0
		}
		*n = lossyUint(v)
		return nil
	}
	v, err := strconv.ParseUint(string(data), 10, 64)
	if err != nil {
		return fmt.Errorf("invalid unsigned number %s: %w", data, err)
	}
	*n = lossyUint(v)
	return nil
}

// lossyBool decodes 0/1 numbers, numeric strings and JSON booleans.
type lossyBool bool

func (b *lossyBool) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch string(data) {
	case "true":
		*b = true
		return nil
	case "false", "null":
		*b = false
		return nil
	}
	var n lossyUint
	if err := n.UnmarshalJSON(data); err != nil {
		return err
	}
	*b = n == 1
	return nil
}

// unixTime decodes Unix seconds given as a number or a numeric string.
type unixTime time.Time

func (t *unixTime) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	raw := string(data)
	if len(data) > 0 && data[0] == '"' {
		if err := json.Unmarshal(data, &raw); err != nil {
			return err
		}
	}
	secs, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return fmt.Errorf("invalid unix timestamp %s: %w", data, err)
	}
	*t = unixTime(time.Unix(secs, 0).UTC())
	return nil
}

// oneOrMany decodes either a single object or an array of objects.
type oneOrMany[T any] []T

func (o *oneOrMany[T]) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*o = nil
		return nil
	}
	if len(data) > 0 && data[0] == '[' {
		var many []T
		if err := json.Unmarshal(data, &many); err != nil {
			return err
		}
		*o = many
		return nil
	}
	var one T
	if err := json.Unmarshal(data, &one); err != nil {
		return err
	}
	*o = []T{one}
	return nil
}

// nestedData decodes an array, or an object carrying the array under "data".
type nestedData[T any] []T

func (n *nestedData[T]) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '[' {
		var items []T
		if err := json.Unmarshal(data, &items); err != nil {
			return err
		}
		*n = items
		return nil
	}
	var wrapper struct {
		Data []T `json:"data"`
	}
	if err := json.Unmarshal(data, &wrapper); err != nil {
		return err
	}
	*n = wrapper.Data
	return nil
}

// snapshotNow returns the current time as recorded on entries.
var snapshotNow = func() time.Time {
	return time.Now().UTC().Truncate(time.Second)
}
