// File: internal/concurrency/eventloop.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// EventLoop runs posted completions on a single goroutine. Producers enqueue
// into a lock-free inbox; when the inbox is full, work spills into an ordered
// overflow list so that no completion is ever dropped. The loop parks on a
// wake channel when idle instead of spinning.

package concurrency

import (
	"runtime"
	"sync"
	"sync/atomic"
)

// EventLoop executes funcs in FIFO order on the goroutine that calls Run.
type EventLoop struct {
	inbox     *LockFreeQueue[func()]
	batchSize int

	mu        sync.Mutex
	overflow  []func()
	spilled   atomic.Bool
	inflight  atomic.Int32 // lock-free enqueues in progress
	wake      chan struct{}
	stopCh    chan struct{}
	doneCh    chan struct{}
	stopOnce  sync.Once
	running   atomic.Bool
	stopped   atomic.Bool
	owner     atomic.Uint64
	processed atomic.Uint64

	onPanic func(v any)
}

// NewEventLoop creates a new EventLoop. queueSize is rounded up to a power of two.
func NewEventLoop(batchSize, queueSize int) *EventLoop {
	if batchSize <= 0 {
		batchSize = 64
	}
	if queueSize <= 0 {
		queueSize = 4096
	}
	return &EventLoop{
		inbox:     NewLockFreeQueue[func()](queueSize),
		batchSize: batchSize,
		wake:      make(chan struct{}, 1),
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}
}

// OnPanic installs a hook receiving values recovered from posted funcs.
func (el *EventLoop) OnPanic(fn func(v any)) { el.onPanic = fn }

// Post queues fn for execution on the loop goroutine.
func (el *EventLoop) Post(fn func()) error {
	if el.stopped.Load() {
		return ErrLoopStopped
	}
	el.inflight.Add(1)
	ok := !el.spilled.Load() && el.inbox.Enqueue(fn)
	el.inflight.Add(-1)
	if !ok {
		el.spill(fn)
	}
	select {
	case el.wake <- struct{}{}:
	default:
	}
	return nil
}

// spill appends fn to the overflow list. Once spilled is set, every inbox
// enqueue that started earlier lands before fn.
func (el *EventLoop) spill(fn func()) {
	el.mu.Lock()
	defer el.mu.Unlock()
	if !el.spilled.Load() {
		if el.inbox.Enqueue(fn) {
			return
		}
		el.spilled.Store(true)
	}
	for el.inflight.Load() > 0 {
		runtime.Gosched()
	}
	el.overflow = append(el.overflow, fn)
}

// Pending returns approximate count of queued funcs.
func (el *EventLoop) Pending() int {
	el.mu.Lock()
	n := len(el.overflow)
	el.mu.Unlock()
	return el.inbox.Len() + n
}

// Processed returns the number of funcs executed so far.
func (el *EventLoop) Processed() uint64 { return el.processed.Load() }

// InLoop reports whether the caller runs on the loop goroutine.
func (el *EventLoop) InLoop() bool {
	return el.running.Load() && el.owner.Load() == goid()
}

// Run processes funcs until Stop is called. Funcs posted before Stop are
// still executed.
func (el *EventLoop) Run() {
	if !el.running.CompareAndSwap(false, true) {
		return
	}
	el.owner.Store(goid())
	defer close(el.doneCh)

	for {
		if el.drain() > 0 {
			continue
		}
		select {
		case <-el.stopCh:
			for el.drain() > 0 {
			}
			return
		case <-el.wake:
		}
	}
}

// Stop signals the Run loop to exit and waits for completion unless called
// from the loop goroutine itself.
func (el *EventLoop) Stop() {
	el.stopOnce.Do(func() {
		el.stopped.Store(true)
		close(el.stopCh)
	})
	if el.running.Load() && !el.InLoop() {
		<-el.doneCh
	}
}

// Done is closed after Run returns.
func (el *EventLoop) Done() <-chan struct{} { return el.doneCh }

func (el *EventLoop) drain() int {
	count := 0
	for i := 0; i < el.batchSize; i++ {
		fn, ok := el.inbox.Dequeue()
		if !ok {
			break
		}
		el.safeExecute(fn)
		count++
	}
	if count > 0 || !el.spilled.Load() {
		return count
	}

	el.mu.Lock()
	// inbox items were enqueued before the spill started
	var batch []func()
	for {
		fn, ok := el.inbox.Dequeue()
		if !ok {
			break
		}
		batch = append(batch, fn)
	}
	batch = append(batch, el.overflow...)
	el.overflow = nil
	el.spilled.Store(false)
	el.mu.Unlock()

	for _, fn := range batch {
		el.safeExecute(fn)
	}
	return len(batch)
}

func (el *EventLoop) safeExecute(fn func()) {
	defer func() {
		if v := recover(); v != nil && el.onPanic != nil {
			el.onPanic(v)
		}
	}()
	el.processed.Add(1)
	fn()
}
