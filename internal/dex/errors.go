package dex

import (
	"errors"
	"fmt"
)

// ErrNotDex is returned when the bytes carry neither a DEX nor an ODEX magic.
var ErrNotDex = errors.New("not a dex file")

// FormatError reports a structural problem at a file offset.
type FormatError struct {
	Offset int
	Msg    string
	Err    error
}

func (e *FormatError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("dex: %s at 0x%x: %v", e.Msg, e.Offset, e.Err)
	}
	return fmt.Sprintf("dex: %s at 0x%x", e.Msg, e.Offset)
}

func (e *FormatError) Unwrap() error { return e.Err }

func malformed(off int, format string, args ...any) error {
	return &FormatError{Offset: off, Msg: fmt.Sprintf(format, args...)}
}
