// File: reactor/handle.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Handle is the per-stream completion object. It counts pending primitives,
// applies per-class timeouts and implements cooperative kill.

package reactor

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/momentics/hioload-stream/api"
)

// TimeoutKind selects the timeout applied to a class of primitives.
type TimeoutKind int

const (
	TimeoutConnect TimeoutKind = iota
	TimeoutRecv
	TimeoutSend
	timeoutKinds
)

type taskEntry struct {
	timer api.Cancelable
	fire  func()
	fired atomic.Bool
}

// Handle submits primitives to a Port.
type Handle struct {
	port *Port
	name string

	mu        sync.Mutex
	ctx       context.Context
	cancel    context.CancelFunc
	pending   int
	exitFns   []func()
	unblock   map[int]func()
	unblockID int
	tasks     map[*taskEntry]struct{}

	killed   atomic.Bool
	released atomic.Bool
	timeouts [timeoutKinds]atomic.Int64
}

// NewHandle creates a handle bound to p.
func (p *Port) NewHandle(name string) *Handle {
	ctx, cancel := context.WithCancel(context.Background())
	p.handles.Add(1)
	return &Handle{
		port:    p,
		name:    name,
		ctx:     ctx,
		cancel:  cancel,
		unblock: make(map[int]func()),
		tasks:   make(map[*taskEntry]struct{}),
	}
}

// Port returns the owning port.
func (h *Handle) Port() *Port { return h.port }

// Name returns the diagnostic name.
func (h *Handle) Name() string { return h.name }

// SetTimeout sets the timeout for a class of primitives. d <= 0 disables it.
func (h *Handle) SetTimeout(kind TimeoutKind, d time.Duration) {
	if kind >= 0 && kind < timeoutKinds {
		h.timeouts[kind].Store(int64(d))
	}
}

// SetTimeouts applies d to every class.
func (h *Handle) SetTimeouts(d time.Duration) {
	for k := TimeoutKind(0); k < timeoutKinds; k++ {
		h.SetTimeout(k, d)
	}
}

// Timeout returns the timeout for kind.
func (h *Handle) Timeout(kind TimeoutKind) time.Duration {
	if kind < 0 || kind >= timeoutKinds {
		return 0
	}
	return time.Duration(h.timeouts[kind].Load())
}

// Killed reports whether Kill was called since the last Reset.
func (h *Handle) Killed() bool { return h.killed.Load() }

// Pending returns the number of primitives awaiting completion delivery.
func (h *Handle) Pending() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.pending
}

// Submit runs op and delivers its completion on the loop goroutine.
func (h *Handle) Submit(op Op, done func(Completion)) error {
	if op.Run == nil || done == nil {
		return api.ErrInvalidArgument
	}
	h.mu.Lock()
	if h.killed.Load() {
		h.mu.Unlock()
		return api.ErrKilled
	}
	h.pending++
	ctx := h.ctx
	h.mu.Unlock()

	run := func() {
		opCtx := ctx
		if kind, ok := op.Kind.timeoutKind(); ok {
			if d := h.Timeout(kind); d > 0 {
				var cancel context.CancelFunc
				opCtx, cancel = context.WithTimeout(ctx, d)
				defer cancel()
			}
		}
		n, err := op.Run(opCtx)
		h.deliver(func() {
			done(Completion{Op: op.Kind, State: Classify(op.Kind, err, h.killed.Load()), N: n, Err: err})
		})
	}

	var err error
	if op.Kind.blocking() {
		err = h.port.exec.Go(run)
	} else {
		err = h.port.exec.Submit(run)
	}
	if err != nil {
		h.mu.Lock()
		h.pending--
		h.mu.Unlock()
		return err
	}
	return nil
}

// Task completes after delay. A zero delay completes on the next loop pass.
func (h *Handle) Task(delay time.Duration, done func(Completion)) error {
	if done == nil {
		return api.ErrInvalidArgument
	}
	h.mu.Lock()
	if h.killed.Load() {
		h.mu.Unlock()
		return api.ErrKilled
	}
	h.pending++
	e := &taskEntry{}
	e.fire = func() {
		if !e.fired.CompareAndSwap(false, true) {
			return
		}
		h.mu.Lock()
		delete(h.tasks, e)
		h.mu.Unlock()
		h.deliver(func() {
			st := api.StateOk
			if h.killed.Load() {
				st = api.StateKilled
			}
			done(Completion{Op: OpTask, State: st})
		})
	}
	h.tasks[e] = struct{}{}
	h.mu.Unlock()

	if delay <= 0 {
		e.fire()
		return nil
	}
	t, err := h.port.sched.After(delay, e.fire)
	if err != nil {
		h.mu.Lock()
		delete(h.tasks, e)
		h.pending--
		h.mu.Unlock()
		return err
	}
	h.mu.Lock()
	e.timer = t
	h.mu.Unlock()
	return nil
}

// OnKill registers fn to run when the handle is killed; it runs immediately
// when the handle is already killed. The returned func unregisters it.
func (h *Handle) OnKill(fn func()) (remove func()) {
	h.mu.Lock()
	if h.killed.Load() {
		h.mu.Unlock()
		fn()
		return func() {}
	}
	id := h.unblockID
	h.unblockID++
	h.unblock[id] = fn
	h.mu.Unlock()
	return func() {
		h.mu.Lock()
		delete(h.unblock, id)
		h.mu.Unlock()
	}
}

// Kill is idempotent and safe from any goroutine.
func (h *Handle) Kill() {
	h.mu.Lock()
	if !h.killed.CompareAndSwap(false, true) {
		h.mu.Unlock()
		return
	}
	cancel := h.cancel
	unblock := make([]func(), 0, len(h.unblock))
	for _, fn := range h.unblock {
		unblock = append(unblock, fn)
	}
	tasks := make([]*taskEntry, 0, len(h.tasks))
	for e := range h.tasks {
		tasks = append(tasks, e)
	}
	h.mu.Unlock()

	cancel()
	for _, fn := range unblock {
		fn()
	}
	for _, e := range tasks {
		if e.timer != nil {
			_ = e.timer.Cancel()
		}
		e.fire()
	}
}

// Exit kills the handle and runs done on the loop once every pending
// completion has been delivered.
func (h *Handle) Exit(done func()) {
	h.Kill()
	h.mu.Lock()
	if h.pending > 0 {
		h.exitFns = append(h.exitFns, done)
		h.mu.Unlock()
		return
	}
	h.mu.Unlock()
	if err := h.port.Post(done); err != nil {
		done()
	}
}

// Reset revives a killed handle with nothing pending so it can serve a new
// open. It returns ErrBusy while completions are outstanding.
func (h *Handle) Reset() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.pending > 0 {
		return api.ErrBusy
	}
	h.cancel()
	h.ctx, h.cancel = context.WithCancel(context.Background())
	h.unblock = make(map[int]func())
	h.exitFns = nil
	h.killed.Store(false)
	return nil
}

// Release drops the handle from port accounting. The handle must be idle.
func (h *Handle) Release() {
	h.Kill()
	if h.released.CompareAndSwap(false, true) {
		h.port.handles.Add(-1)
	}
}

func (h *Handle) deliver(fn func()) {
	err := h.port.Post(func() {
		fn()
		h.finish()
	})
	if err != nil {
		// loop is gone; keep accounting consistent for Exit waiters
		h.finish()
	}
}

func (h *Handle) finish() {
	h.mu.Lock()
	h.pending--
	var fns []func()
	if h.pending == 0 {
		fns = h.exitFns
		h.exitFns = nil
	}
	h.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}
