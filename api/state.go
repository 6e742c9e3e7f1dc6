// File: api/state.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// State codes delivered to completion callbacks and the stream lifecycle phase.

package api

// State is the normalized outcome of an asynchronous operation.
type State int

const (
	StateOk State = iota
	StateClosed
	StateKilled
	StatePaused
	StateTimeout
	StateConnectTimeout
	StateRecvTimeout
	StateSendTimeout
	StateConnectFailed
	StateDNSFailed
	StateSockOpenFailed
	StateRecvFailed
	StateSendFailed
	StateSSLFailed
	StateSSLUnknownError
	StateSSLNotSupported
	StateFileNotExists
	StateFileOpenFailed
	StateHTTPResponseFailed
	StateHTTPRedirectFailed
	StateNotSupported
	StateUnknownError
)

var stateNames = [...]string{
	StateOk:                 "ok",
	StateClosed:             "closed",
	StateKilled:             "killed",
	StatePaused:             "paused",
	StateTimeout:            "timeout",
	StateConnectTimeout:     "connect timeout",
	StateRecvTimeout:        "recv timeout",
	StateSendTimeout:        "send timeout",
	StateConnectFailed:      "connect failed",
	StateDNSFailed:          "dns failed",
	StateSockOpenFailed:     "sock open failed",
	StateRecvFailed:         "recv failed",
	StateSendFailed:         "send failed",
	StateSSLFailed:          "ssl failed",
	StateSSLUnknownError:    "ssl unknown error",
	StateSSLNotSupported:    "ssl not supported",
	StateFileNotExists:      "file not exists",
	StateFileOpenFailed:     "file open failed",
	StateHTTPResponseFailed: "http response failed",
	StateHTTPRedirectFailed: "http redirect failed",
	StateNotSupported:       "not supported",
	StateUnknownError:       "unknown error",
}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "unknown error"
}

// IsTimeout reports whether s belongs to the timeout family.
func (s State) IsTimeout() bool {
	switch s {
	case StateTimeout, StateConnectTimeout, StateRecvTimeout, StateSendTimeout:
		return true
	}
	return false
}

// Terminal reports whether s ends a transfer. Ok and Paused are progress reports.
func (s State) Terminal() bool {
	return s != StateOk && s != StatePaused
}

// Err returns nil for StateOk and a *StateError otherwise.
func (s State) Err() error {
	if s == StateOk {
		return nil
	}
	return &StateError{State: s}
}

// Phase is the lifecycle position of a stream.
type Phase int32

const (
	PhaseClosed Phase = iota
	PhaseOpening
	PhaseOpened
	PhaseClosing
)

func (p Phase) String() string {
	switch p {
	case PhaseOpening:
		return "opening"
	case PhaseOpened:
		return "opened"
	case PhaseClosing:
		return "closing"
	default:
		return "closed"
	}
}
