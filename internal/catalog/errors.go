package catalog

import (
	"errors"
	"fmt"

	"github.com/apk-analysis/dexcatalog/internal/loader"
)

// Kind classifies catalog failures.
type Kind int

const (
	InputIO Kind = iota + 1
	UnsupportedInput
	MalformedDex
	ClassNotFound
)

// Sentinels matched by errors.Is against any *Error of the same kind.
var (
	ErrInputIO          = errors.New("input i/o error")
	ErrUnsupportedInput = errors.New("unsupported input")
	ErrMalformedDex     = errors.New("malformed dex")
	ErrClassNotFound    = errors.New("class not found")

	// ErrClosed is returned by every query after Close.
	ErrClosed = errors.New("catalog is closed")
)

// odexUnsupported is the message construction fails with on optimized opcodes.
const odexUnsupported = "ODEX isn't supported."

func (k Kind) String() string {
	switch k {
	case InputIO:
		return "input i/o"
	case UnsupportedInput:
		return "unsupported input"
	case MalformedDex:
		return "malformed dex"
	case ClassNotFound:
		return "class not found"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

func (k Kind) sentinel() error {
	switch k {
	case InputIO:
		return ErrInputIO
	case UnsupportedInput:
		return ErrUnsupportedInput
	case MalformedDex:
		return ErrMalformedDex
	case ClassNotFound:
		return ErrClassNotFound
	}
	return nil
}

// Error is a catalog failure. Class is set for query failures.
type Error struct {
	Kind  Kind
	Class string
	Err   error
}

func (e *Error) Error() string {
	msg := e.Kind.String()
	if e.Class != "" {
		msg += ": " + e.Class
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches the sentinel of the error's kind.
func (e *Error) Is(target error) bool {
	s := e.Kind.sentinel()
	return s != nil && target == s
}

// KindOf returns the kind of a catalog error, or 0.
func KindOf(err error) Kind {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return 0
}

func notFound(name string, err error) error {
	return &Error{Kind: ClassNotFound, Class: name, Err: err}
}

// fromLoader maps loader failures onto catalog kinds.
func fromLoader(err error) error {
	kind := MalformedDex
	switch {
	case errors.Is(err, loader.ErrInputIO):
		kind = InputIO
	case errors.Is(err, loader.ErrUnsupportedInput):
		kind = UnsupportedInput
	}
	return &Error{Kind: kind, Err: err}
}
