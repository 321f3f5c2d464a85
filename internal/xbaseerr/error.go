// Package xbaseerr defines the error taxonomy surfaced to clients over the
// daemon request socket and broadcast channel.
package xbaseerr

import "fmt"

// Kind classifies a daemon-level failure so that editor clients can render
// it appropriately without parsing message text.
type Kind string

const (
	Setup                  Kind = "Setup"
	Lookup                 Kind = "Lookup"
	Build                  Kind = "Build"
	Run                    Kind = "Run"
	Generate               Kind = "Generate"
	Compile                Kind = "Compile"
	DefinitionLocating     Kind = "DefinitionLocating"
	DefinitionParsing      Kind = "DefinitionParsing"
	DefinitionMultiFound   Kind = "DefinitionMutliFound"
	Unexpected             Kind = "Unexpected"
)

// Error is a typed, wrappable error carrying one of the Kind values above.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// New creates an Error of the given kind wrapping err (which may be nil).
func New(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Message: msg, Err: err}
}

// Wrap is a convenience for New(kind, fmt.Sprintf(format, args...), err).
func Wrap(kind Kind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

// KindOf returns the Kind of err if it is (or wraps) an *Error, else Unexpected.
func KindOf(err error) Kind {
	var e *Error
	if asError(err, &e) {
		return e.Kind
	}
	return Unexpected
}

func asError(err error, target **Error) bool {
	for err != nil {
		if e, ok := err.(*Error); ok {
			*target = e
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
