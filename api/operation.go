// File: api/operation.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Operation is the closed set of requests a stream accepts. Streams keep at
// most one pending value per slot (read, write, control).

package api

import "time"

// OpKind names an Operation variant.
type OpKind int

const (
	OpKindOpen OpKind = iota
	OpKindRead
	OpKindWrite
	OpKindSeek
	OpKindSync
	OpKindTask
	OpKindClose
)

func (k OpKind) String() string {
	switch k {
	case OpKindOpen:
		return "open"
	case OpKindRead:
		return "read"
	case OpKindWrite:
		return "write"
	case OpKindSeek:
		return "seek"
	case OpKindSync:
		return "sync"
	case OpKindTask:
		return "task"
	case OpKindClose:
		return "close"
	}
	return "unknown"
}

// Operation is implemented only by the Op* types in this package.
type Operation interface {
	OpKind() OpKind
}

type OpOpen struct{ Fn OpenFunc }

type OpRead struct {
	Delay time.Duration
	Size  int
	Fn    ReadFunc
}

type OpWrite struct {
	Delay time.Duration
	Data  []byte
	Fn    WriteFunc
}

type OpSeek struct {
	Offset int64
	Fn     SeekFunc
}

type OpSync struct {
	Closing bool
	Fn      SyncFunc
}

type OpTask struct {
	Delay time.Duration
	Fn    TaskFunc
}

type OpClose struct{ Fn CloseFunc }

func (OpOpen) OpKind() OpKind  { return OpKindOpen }
func (OpRead) OpKind() OpKind  { return OpKindRead }
func (OpWrite) OpKind() OpKind { return OpKindWrite }
func (OpSeek) OpKind() OpKind  { return OpKindSeek }
func (OpSync) OpKind() OpKind  { return OpKindSync }
func (OpTask) OpKind() OpKind  { return OpKindTask }
func (OpClose) OpKind() OpKind { return OpKindClose }

// Slot is the pending-operation slot an OpKind occupies.
type Slot int

const (
	SlotNone Slot = iota - 1
	SlotRead
	SlotWrite
	SlotCtrl
	SlotCount
)

// Slot returns the slot for k. Sync shares the write slot so a cache flush
// never interleaves with a pending write. Open, close and task take none.
func (k OpKind) Slot() Slot {
	switch k {
	case OpKindRead:
		return SlotRead
	case OpKindWrite, OpKindSync:
		return SlotWrite
	case OpKindSeek:
		return SlotCtrl
	}
	return SlotNone
}
