package hole

import (
	"encoding/json"
	"errors"
	"fmt"
)

// SyntaxError is returned by the Parse* functions when input cannot be decoded.
type SyntaxError struct {
	Msg    string
	Offset int64
}

func (e *SyntaxError) Error() string {
	if e.Offset > 0 {
		return fmt.Sprintf("syntax error at offset %d: %s", e.Offset, e.Msg)
	}
	return "syntax error: " + e.Msg
}

func syntaxError(err error) error {
	var jsonErr *json.SyntaxError
	if errors.As(err, &jsonErr) {
		return &SyntaxError{Msg: jsonErr.Error(), Offset: jsonErr.Offset}
	}
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) {
		return &SyntaxError{Msg: typeErr.Error(), Offset: typeErr.Offset}
	}
	return &SyntaxError{Msg: err.Error()}
}

// ParseHoles decodes a JSON array of previously exported hole entries.
func ParseHoles(input string) ([]HoleEntry, error) {
	var entries []HoleEntry
	if err := json.Unmarshal([]byte(input), &entries); err != nil {
		return nil, syntaxError(err)
	}
	return entries, nil
}

// ParseHolesFromAPI decodes a raw backend hole page.
func ParseHolesFromAPI(input string) ([]HoleEntry, error) {
	entries, err := DecodeHolePage([]byte(input))
	if err != nil {
		return nil, syntaxError(err)
	}
	return entries, nil
}

// ParseReplies decodes a JSON array of previously exported reply entries.
func ParseReplies(input string) ([]ReplyEntry, error) {
	var entries []ReplyEntry
	if err := json.Unmarshal([]byte(input), &entries); err != nil {
		return nil, syntaxError(err)
	}
	return entries, nil
}

// ParseRepliesFromAPI decodes a raw backend reply thread.
func ParseRepliesFromAPI(input string) ([]ReplyEntry, error) {
	entries, err := DecodeReplyPage([]byte(input))
	if err != nil {
		return nil, syntaxError(err)
	}
	return entries, nil
}
