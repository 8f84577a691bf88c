package mapper

import (
	"errors"
	"fmt"
	"strconv"
	"unicode/utf8"
)

// maxSnippetBytes bounds how much of a bad payload is carried in an error.
const maxSnippetBytes = 64

// DecodeError reports a payload that could not be decoded into a JSON
// object. It is terminal: redelivering the same bytes can never succeed.
type DecodeError struct {
	Reason  string
	Snippet string
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode payload: %s (payload %s)", e.Reason, e.Snippet)
}

// Fault classifies why a decoded payload could not be mapped to an entity.
type Fault string

const (
	FaultMissingDeviceID  Fault = "missing_device_id"
	FaultInvalidTimestamp Fault = "invalid_timestamp"
)

// MappingError reports a decoded payload whose shape cannot be mapped. Like
// DecodeError it is terminal; the fix belongs on the producing side.
type MappingError struct {
	Fault  Fault
	Detail string
}

func (e *MappingError) Error() string {
	return fmt.Sprintf("map payload: %s: %s", e.Fault, e.Detail)
}

// IsDecode reports whether err is (or wraps) a DecodeError.
func IsDecode(err error) bool {
	var de *DecodeError
	return errors.As(err, &de)
}

// IsMapping reports whether err is (or wraps) a MappingError.
func IsMapping(err error) bool {
	var me *MappingError
	return errors.As(err, &me)
}

// snippet renders the head of a raw payload safely for logs and errors,
// quoting control characters and anything that is not valid UTF-8.
func snippet(raw []byte) string {
	truncated := false
	if len(raw) > maxSnippetBytes {
		raw = raw[:maxSnippetBytes]
		truncated = true
	}
	s := string(raw)
	if !utf8.ValidString(s) {
		s = strconv.QuoteToASCII(s)
	} else {
		s = strconv.Quote(s)
	}
	if truncated {
		s += "..."
	}
	return s
}
