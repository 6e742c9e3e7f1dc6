// File: api/stream.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Async stream contract shared by every backend.

package api

import "time"

// Kind identifies a stream backend.
type Kind int

const (
	KindNone Kind = iota
	KindData
	KindFile
	KindSock
	KindHTTP
	KindWS
	KindFilter
)

func (k Kind) String() string {
	switch k {
	case KindData:
		return "data"
	case KindFile:
		return "file"
	case KindSock:
		return "sock"
	case KindHTTP:
		return "http"
	case KindWS:
		return "ws"
	case KindFilter:
		return "filter"
	default:
		return "none"
	}
}

// Completion callbacks. Each accepted request invokes its callback exactly once
// on the loop goroutine, except Read/Write/Task which may be re-armed by
// returning true.
type (
	OpenFunc  func(state State)
	CloseFunc func(state State)

	// ReadFunc receives the bytes read (len(data) is the real size) and the
	// requested size. Returning true with StateOk issues another read of the
	// same size.
	ReadFunc func(state State, data []byte, size int) bool

	// WriteFunc receives the bytes written and the requested size. Returning
	// true after a partial write continues with the remainder.
	WriteFunc func(state State, real, size int) bool

	SeekFunc func(state State, offset int64)
	SyncFunc func(state State, closing bool)

	// TaskFunc re-arms the task with the same delay while it returns true.
	TaskFunc func(state State) bool
)

// Stream is the polymorphic non-blocking I/O handle.
//
// Methods returning error reject the request synchronously; in that case the
// callback is never invoked. Kill may be called from any goroutine.
type Stream interface {
	Kind() Kind
	URL() string
	Phase() Phase
	Offset() int64
	Size() int64
	Killed() bool
	Timeout() time.Duration

	Open(fn OpenFunc) error
	Read(size int, fn ReadFunc) error
	ReadAfter(delay time.Duration, size int, fn ReadFunc) error
	Write(data []byte, fn WriteFunc) error
	WriteAfter(delay time.Duration, data []byte, fn WriteFunc) error
	Seek(offset int64, fn SeekFunc) error
	Sync(closing bool, fn SyncFunc) error
	Task(delay time.Duration, fn TaskFunc) error

	// Combined primitives open the stream first when it is closed.
	OpenRead(size int, fn ReadFunc) error
	OpenWrite(data []byte, fn WriteFunc) error
	OpenSeek(offset int64, fn SeekFunc) error

	// Do dispatches any Operation value.
	Do(op Operation) error

	Kill()
	Close(fn CloseFunc) error
	Exit() error

	Ctrl(cmd Ctrl, args ...any) error
}
