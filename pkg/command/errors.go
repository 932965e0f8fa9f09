package command

import (
	"errors"
	"fmt"
)

// ErrInvalidConfig is wrapped by every configuration precondition failure.
var ErrInvalidConfig = errors.New("invalid command config")

// ErrInvalidOutName is returned by out.write for empty or escaping names.
var ErrInvalidOutName = errors.New("invalid output name")

// Kind categorizes failures raised by the wrapper itself. Failures raised by
// logic are never wrapped and have no Kind.
type Kind int

const (
	KindUnknown       Kind = iota
	KindPrecondition       // bad config or unserializable input, before any side effect
	KindIO                 // directory creation, log append or output write failed
	KindSerialization      // a log record or the output value could not be encoded
)

func (k Kind) String() string {
	switch k {
	case KindPrecondition:
		return "precondition"
	case KindIO:
		return "io"
	case KindSerialization:
		return "serialization"
	default:
		return "unknown"
	}
}

// MarshalText renders the kind by name in log metadata.
func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// Error wraps a wrapper-side failure with the operation and path involved.
type Error struct {
	Kind Kind   `json:"kind"`
	Op   string `json:"op"`
	Path string `json:"path,omitempty"`
	Err  error  `json:"-"`
}

// Error implements error interface
func (e *Error) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("%s: %s %s: %v", e.Kind, e.Op, e.Path, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Kind, e.Op, e.Err)
}

// Unwrap implements error unwrapping
func (e *Error) Unwrap() error {
	return e.Err
}

// IsPrecondition reports whether err is a precondition failure.
func IsPrecondition(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == KindPrecondition
}

// IsIO reports whether err is a wrapper I/O failure.
func IsIO(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == KindIO
}
