// File: reactor/completion.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package reactor

import (
	"context"
	"errors"
	"io"
	"net"
	"os"

	"github.com/momentics/hioload-stream/api"
)

// OpKind names a primitive operation.
type OpKind int

const (
	OpTask OpKind = iota
	OpConnect
	OpRecv
	OpSend
	OpRead
	OpWrite
	OpSync
	OpResolve
	OpHandshake
	OpRequest
)

func (k OpKind) String() string {
	switch k {
	case OpTask:
		return "task"
	case OpConnect:
		return "connect"
	case OpRecv:
		return "recv"
	case OpSend:
		return "send"
	case OpRead:
		return "read"
	case OpWrite:
		return "write"
	case OpSync:
		return "sync"
	case OpResolve:
		return "resolve"
	case OpHandshake:
		return "handshake"
	case OpRequest:
		return "request"
	}
	return "unknown"
}

// blocking ops may wait on the network indefinitely and get their own goroutine.
func (k OpKind) blocking() bool {
	switch k {
	case OpConnect, OpRecv, OpHandshake, OpRequest:
		return true
	}
	return false
}

func (k OpKind) timeoutKind() (TimeoutKind, bool) {
	switch k {
	case OpConnect, OpHandshake, OpRequest:
		return TimeoutConnect, true
	case OpRecv:
		return TimeoutRecv, true
	case OpSend:
		return TimeoutSend, true
	}
	return 0, false
}

// Op is one primitive. Run executes off the loop and must honor ctx where the
// underlying call allows it; socket calls are unblocked through Handle.OnKill.
type Op struct {
	Kind OpKind
	Run  func(ctx context.Context) (int, error)
}

// Completion is delivered exactly once per submitted Op.
type Completion struct {
	Op    OpKind
	State api.State
	N     int
	Err   error
}

// Classify maps a primitive result into the state taxonomy.
func Classify(op OpKind, err error, killed bool) api.State {
	if killed {
		return api.StateKilled
	}
	if err == nil {
		return api.StateOk
	}
	var se *api.StateError
	if errors.As(err, &se) {
		return se.State
	}
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, api.ErrKilled):
		return api.StateKilled
	case errors.Is(err, io.EOF):
		return api.StateClosed
	case errors.Is(err, api.ErrNotSupported):
		return api.StateNotSupported
	case isTimeout(err):
		switch op {
		case OpConnect, OpHandshake:
			return api.StateConnectTimeout
		case OpResolve:
			return api.StateDNSFailed
		case OpRecv, OpRead:
			return api.StateRecvTimeout
		case OpSend, OpWrite:
			return api.StateSendTimeout
		}
		return api.StateTimeout
	}
	switch op {
	case OpConnect:
		return api.StateConnectFailed
	case OpResolve:
		return api.StateDNSFailed
	case OpHandshake:
		return api.StateSSLFailed
	case OpRecv:
		return api.StateRecvFailed
	case OpSend:
		return api.StateSendFailed
	case OpRequest:
		return api.StateConnectFailed
	}
	return api.StateUnknownError
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
