// Package api
// Author: momentics <momentics@gmail.com>
//
// Common error types and error handling utilities for hioload-stream.

package api

import (
	"errors"
	"fmt"
)

// Common errors used across the library.
var (
	ErrInvalidArgument   = fmt.Errorf("invalid argument")
	ErrResourceExhausted = fmt.Errorf("resource exhausted")
	ErrOperationTimeout  = fmt.Errorf("operation timeout")
	ErrNotSupported      = fmt.Errorf("operation not supported")
	ErrInvalidURL        = fmt.Errorf("invalid url")

	// Stream lifecycle rejections.
	ErrNotOpened = fmt.Errorf("stream is not opened")
	ErrNotClosed = fmt.Errorf("stream is not closed")
	ErrBusy      = fmt.Errorf("operation already pending")
	ErrKilled    = fmt.Errorf("killed")

	// ErrStopped is returned by transfers and pools after kill/exit.
	ErrStopped = fmt.Errorf("stopped")
)

// StateError carries a non-Ok State as an error value.
type StateError struct {
	State State
	Op    string
	Err   error
}

func (e *StateError) Error() string {
	s := e.State.String()
	if e.Op != "" {
		s = e.Op + ": " + s
	}
	if e.Err != nil {
		s += ": " + e.Err.Error()
	}
	return s
}

func (e *StateError) Unwrap() error { return e.Err }

// Is matches another *StateError with the same State, so
// errors.Is(err, StateKilled.Err()) works.
func (e *StateError) Is(target error) bool {
	t, ok := target.(*StateError)
	return ok && t.State == e.State
}

// StateOf maps an error back into the state taxonomy.
func StateOf(err error) State {
	if err == nil {
		return StateOk
	}
	var se *StateError
	if errors.As(err, &se) {
		return se.State
	}
	switch {
	case errors.Is(err, ErrKilled), errors.Is(err, ErrStopped):
		return StateKilled
	case errors.Is(err, ErrNotSupported):
		return StateNotSupported
	case errors.Is(err, ErrOperationTimeout):
		return StateTimeout
	}
	return StateUnknownError
}
