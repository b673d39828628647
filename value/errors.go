package value

import "fmt"

// Error is a typed serializer failure carrying its kind and, for decode
// failures, the byte offset, so callers can map it onto a wire ErrorCode
// without string matching (SPEC_FULL.md §3.2). The encoder and decoder in
// this package do not set Tag; it is left zero.
type Error struct {
	Kind   string // "serialization", "protocol"
	Reason string
	Tag    Tag
	Offset int
}

func (e *Error) Error() string {
	return fmt.Sprintf("value: %s error: %s", e.Kind, e.Reason)
}

func serializationErrorf(format string, args ...any) error {
	return &Error{Kind: "serialization", Reason: fmt.Sprintf(format, args...)}
}

func protocolErrorf(offset int, format string, args ...any) error {
	return &Error{Kind: "protocol", Reason: fmt.Sprintf(format, args...), Offset: offset}
}

// IsProtocolError reports whether err is a protocol-level decode failure
// (truncated input, unknown tag, empty input) as opposed to an encode-side
// serialization failure.
func IsProtocolError(err error) bool {
	e, ok := err.(*Error)
	return ok && e.Kind == "protocol"
}
