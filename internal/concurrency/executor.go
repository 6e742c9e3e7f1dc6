// File: internal/concurrency/executor.go
//
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Executor runs blocking primitives (file I/O, DNS lookups, socket sends) off
// the completion loop. A fixed set of core workers drains a shared queue;
// when every core worker is busy the task runs on a transient goroutine so a
// slow primitive never starves the others. Go runs potentially unbounded
// waits (socket recv, connect) directly on a tracked goroutine.

package concurrency

import (
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/momentics/hioload-stream/api"
)

var _ api.Executor = (*Executor)(nil)

type TaskFunc func()

// Executor manages a pool of worker goroutines.
type Executor struct {
	queue    chan TaskFunc
	stopOne  chan struct{}
	closeCh  chan struct{}
	closed   atomic.Bool
	mu       sync.Mutex
	wg       sync.WaitGroup
	core     int
	idle     atomic.Int32
	overflow atomic.Int32
	executed atomic.Uint64

	onPanic func(v any)
}

// NewExecutor creates a new Executor with the given number of core workers.
func NewExecutor(numWorkers int) *Executor {
	if numWorkers <= 0 {
		numWorkers = runtime.NumCPU()
	}
	e := &Executor{
		queue:   make(chan TaskFunc, numWorkers*16),
		stopOne: make(chan struct{}),
		closeCh: make(chan struct{}),
	}
	e.mu.Lock()
	e.grow(numWorkers)
	e.mu.Unlock()
	return e
}

// OnPanic installs a hook receiving values recovered from tasks.
func (e *Executor) OnPanic(fn func(v any)) { e.onPanic = fn }

// Submit enqueues a task. Returns error if closed.
func (e *Executor) Submit(task func()) error {
	if e.closed.Load() {
		return ErrExecutorClosed
	}
	if e.idle.Load() > 0 {
		select {
		case e.queue <- task:
			return nil
		default:
		}
	}
	return e.Go(task)
}

// Go runs task on a dedicated tracked goroutine.
func (e *Executor) Go(task func()) error {
	if e.closed.Load() {
		return ErrExecutorClosed
	}
	e.wg.Add(1)
	e.overflow.Add(1)
	go func() {
		defer func() {
			e.overflow.Add(-1)
			e.wg.Done()
		}()
		e.safeExecute(task)
	}()
	return nil
}

// Resize dynamically scales the core worker count.
func (e *Executor) Resize(newCount int) {
	if newCount <= 0 {
		newCount = 1
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed.Load() {
		return
	}
	switch {
	case newCount > e.core:
		e.grow(newCount - e.core)
	case newCount < e.core:
		for i := newCount; i < e.core; i++ {
			e.stopOne <- struct{}{}
		}
		e.core = newCount
	}
}

// NumWorkers returns the core worker count.
func (e *Executor) NumWorkers() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.core
}

// Overflow returns the number of transient goroutines currently running.
func (e *Executor) Overflow() int { return int(e.overflow.Load()) }

// Executed returns the number of tasks run so far.
func (e *Executor) Executed() uint64 { return e.executed.Load() }

// Close shuts down the executor, waiting for running tasks to finish.
// Queued tasks are still executed.
func (e *Executor) Close() {
	if e.closed.CompareAndSwap(false, true) {
		close(e.closeCh)
		e.wg.Wait()
	}
}

func (e *Executor) grow(n int) {
	for i := 0; i < n; i++ {
		e.wg.Add(1)
		go e.worker()
	}
	e.core += n
}

func (e *Executor) worker() {
	defer e.wg.Done()
	for {
		e.idle.Add(1)
		select {
		case task := <-e.queue:
			e.idle.Add(-1)
			e.safeExecute(task)
		case <-e.stopOne:
			e.idle.Add(-1)
			return
		case <-e.closeCh:
			e.idle.Add(-1)
			for {
				select {
				case task := <-e.queue:
					e.safeExecute(task)
				default:
					return
				}
			}
		}
	}
}

func (e *Executor) safeExecute(task func()) {
	defer func() {
		if v := recover(); v != nil && e.onPanic != nil {
			e.onPanic(v)
		}
	}()
	e.executed.Add(1)
	task()
}
