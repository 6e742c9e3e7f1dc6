// File: stream/base.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Base implements the lifecycle shared by every backend.

package stream

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"

	"github.com/momentics/hioload-stream/api"
	"github.com/momentics/hioload-stream/pool"
	"github.com/momentics/hioload-stream/reactor"
)

// Exit waits this long for an asynchronous close to finish.
const (
	exitTries    = 30
	exitInterval = 200 * time.Millisecond
)

// backend is implemented by every concrete stream. Completion callbacks must
// run on the loop goroutine and never synchronously inside the call.
type backend interface {
	open(done func(api.State))
	// closeTry releases everything synchronously. It is called only when no
	// primitive is outstanding and reports false when an async close is needed.
	closeTry() bool
	// close releases what is left after the handle drained. It may complete
	// synchronously.
	close(done func(api.State))
	read(size int, done func(api.State, []byte)) error
	write(data []byte, done func(api.State, int)) error
	seek(offset int64, done func(api.State, int64)) error
	sync(closing bool, done func(api.State)) error
	size() int64
	ctrl(cmd api.Ctrl, args []any) error
}

// aborter cancels sub-resources before the handle drains (TLS session, conn).
type aborter interface{ abort() }

// killer forwards kill to wrapped streams.
type killer interface{ kill() }

// exiter releases backend memory on Exit.
type exiter interface{ exit() error }

// blockSizer overrides the default read size.
type blockSizer interface{ blockSize() int }

var _ api.Stream = (*Base)(nil)

// Base carries the state machine and bookkeeping of a stream.
type Base struct {
	port *reactor.Port
	h    *reactor.Handle
	impl backend
	kind api.Kind
	cfg  Config
	log  *zap.Logger
	url  *URL

	phase   atomic.Int32
	offset  atomic.Int64
	timeout atomic.Int64
	// bytes reported written but still in the write cache
	unflushed atomic.Int64

	mu        sync.Mutex
	busy      [api.SlotCount]bool
	closeWait []api.CloseFunc
	exited    bool

	wcache    []byte
	wcacheMax int
	rcache    []byte
}

func (b *Base) init(port *reactor.Port, kind api.Kind, u *URL, impl backend, cfg Config) {
	b.port = port
	b.kind = kind
	b.url = u
	b.impl = impl
	b.cfg = cfg
	b.h = port.NewHandle(kind.String())
	b.log = cfg.Logger.With(zap.String("component", "stream"), zap.Stringer("kind", kind))
	b.wcacheMax = cfg.WCache
	b.setTimeout(cfg.Timeout)
}

func (b *Base) setTimeout(d time.Duration) {
	b.timeout.Store(int64(d))
	b.h.SetTimeouts(d)
}

func (b *Base) Kind() api.Kind { return b.kind }

func (b *Base) URL() string {
	if b.url == nil {
		return ""
	}
	return b.url.String()
}

// Port returns the port the stream is bound to.
func (b *Base) Port() *reactor.Port { return b.port }

func (b *Base) Phase() api.Phase { return api.Phase(b.phase.Load()) }

func (b *Base) Offset() int64 { return b.offset.Load() }

// pos is the backend write position: the offset minus cached bytes.
func (b *Base) pos() int64 { return b.offset.Load() - b.unflushed.Load() }

func (b *Base) Size() int64 { return b.impl.size() }

func (b *Base) Killed() bool { return b.h.Killed() }

func (b *Base) Timeout() time.Duration { return time.Duration(b.timeout.Load()) }

// Open moves a closed stream to Opened.
func (b *Base) Open(fn api.OpenFunc) error {
	if fn == nil {
		return api.ErrInvalidArgument
	}
	b.mu.Lock()
	switch b.Phase() {
	case api.PhaseOpened:
		b.mu.Unlock()
		return b.complete(func(st api.State) { fn(st) })
	case api.PhaseOpening, api.PhaseClosing:
		b.mu.Unlock()
		return api.ErrNotClosed
	}
	if b.exited {
		b.mu.Unlock()
		return api.ErrStopped
	}
	b.phase.Store(int32(api.PhaseOpening))
	b.offset.Store(0)
	b.mu.Unlock()

	b.log.Debug("open", zap.Stringer("url", b.url))
	b.impl.open(func(st api.State) { b.opened(st, fn) })
	return nil
}

func (b *Base) opened(st api.State, fn api.OpenFunc) {
	b.mu.Lock()
	if st == api.StateOk && (b.h.Killed() || len(b.closeWait) > 0) {
		st = api.StateKilled
	}
	if st == api.StateOk {
		b.phase.Store(int32(api.PhaseOpened))
		b.mu.Unlock()
		b.log.Debug("opened", zap.Int64("size", b.Size()))
		fn(st)
		return
	}
	// close-on-failed-open: tear down first, report after
	b.phase.Store(int32(api.PhaseClosing))
	b.mu.Unlock()
	b.log.Debug("open failed", zap.Stringer("state", st))
	b.shutdown(func(api.State) { fn(st) })
}

// Close tears the stream down. It is safe inside a callback of the same stream.
func (b *Base) Close(fn api.CloseFunc) error {
	if fn == nil {
		return api.ErrInvalidArgument
	}
	b.mu.Lock()
	switch b.Phase() {
	case api.PhaseClosed:
		b.mu.Unlock()
		return b.complete(func(st api.State) { fn(st) })
	case api.PhaseClosing:
		b.mu.Unlock()
		return api.ErrBusy
	case api.PhaseOpening:
		// the open fails as killed and its rendezvous answers us too
		b.closeWait = append(b.closeWait, fn)
		b.mu.Unlock()
		b.Kill()
		return nil
	}
	b.phase.Store(int32(api.PhaseClosing))
	idle := b.h.Pending() == 0
	for _, busy := range b.busy {
		idle = idle && !busy
	}
	b.mu.Unlock()

	b.log.Debug("close", zap.Bool("sync", idle))
	if idle && b.impl.closeTry() {
		b.closed()
		return b.complete(func(api.State) { fn(api.StateOk) })
	}
	b.shutdown(func(st api.State) { fn(st) })
	return nil
}

// shutdown runs the async teardown: sub-resources, then the handle, then the
// backend remainder.
func (b *Base) shutdown(done func(api.State)) {
	if a, ok := b.impl.(aborter); ok {
		a.abort()
	}
	b.h.Exit(func() {
		b.impl.close(func(st api.State) {
			waiters := b.closed()
			done(st)
			for _, fn := range waiters {
				fn(api.StateOk)
			}
		})
	})
}

func (b *Base) closed() []api.CloseFunc {
	if err := b.h.Reset(); err != nil {
		b.log.Warn("handle reset", zap.Error(err))
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.busy = [api.SlotCount]bool{}
	b.wcache = b.wcache[:0]
	b.unflushed.Store(0)
	b.phase.Store(int32(api.PhaseClosed))
	waiters := b.closeWait
	b.closeWait = nil
	b.log.Debug("closed")
	return waiters
}

// Kill makes every pending and future primitive resolve Killed until the
// stream is closed again. It is a no-op on a closed stream.
func (b *Base) Kill() {
	if b.Phase() == api.PhaseClosed {
		return
	}
	if !b.h.Killed() {
		b.log.Debug("kill")
	}
	b.h.Kill()
	if k, ok := b.impl.(killer); ok {
		k.kill()
	}
}

// Exit kills and closes the stream if needed, waits for Closed and releases
// it. It must not be called from the loop goroutine while the stream is open.
func (b *Base) Exit() error {
	b.mu.Lock()
	if b.exited {
		b.mu.Unlock()
		return nil
	}
	b.mu.Unlock()

	if b.Phase() != api.PhaseClosed {
		b.Kill()
		if b.Phase() == api.PhaseOpened {
			_ = b.Close(func(api.State) {})
		}
		if b.Phase() != api.PhaseClosed {
			if b.port.InLoop() {
				return api.ErrNotClosed
			}
			if err := b.waitClosed(exitTries, exitInterval); err != nil {
				b.log.Error("exit without close", zap.Stringer("phase", b.Phase()))
				return fmt.Errorf("stream %s: %w", b.kind, api.ErrNotClosed)
			}
		}
	}

	b.mu.Lock()
	b.exited = true
	rc := b.rcache
	b.rcache = nil
	b.mu.Unlock()

	var err error
	if e, ok := b.impl.(exiter); ok {
		err = e.exit()
	}
	b.h.Release()
	if rc != nil {
		pool.Default().Release(rc)
	}
	return err
}

func (b *Base) waitClosed(tries uint, every time.Duration) error {
	_, err := backoff.Retry(context.Background(), func() (struct{}, error) {
		if b.Phase() == api.PhaseClosed {
			return struct{}{}, nil
		}
		return struct{}{}, api.ErrNotClosed
	}, backoff.WithBackOff(backoff.NewConstantBackOff(every)), backoff.WithMaxTries(tries))
	return err
}

func (b *Base) acquire(slot api.Slot) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch {
	case b.Phase() != api.PhaseOpened:
		return api.ErrNotOpened
	case b.h.Killed():
		return api.ErrKilled
	case b.busy[slot]:
		return api.ErrBusy
	}
	b.busy[slot] = true
	return nil
}

func (b *Base) release(slot api.Slot) {
	b.mu.Lock()
	b.busy[slot] = false
	b.mu.Unlock()
}

// complete delivers a synthetic completion on the next loop pass.
func (b *Base) complete(fn func(api.State)) error {
	return b.h.Task(0, func(c reactor.Completion) { fn(c.State) })
}

// fail reports err through done on the next loop pass.
func (b *Base) fail(err error, done func(api.State)) {
	st := api.StateOf(err)
	if b.port.Post(func() { done(st) }) != nil {
		done(st)
	}
}

// settle turns a late Ok into Killed once the stream was killed.
func (b *Base) settle(st api.State) api.State {
	if st == api.StateOk && b.h.Killed() {
		return api.StateKilled
	}
	return st
}

func (b *Base) readSize(size int) int {
	if size > 0 {
		return size
	}
	if bs, ok := b.impl.(blockSizer); ok {
		if n := bs.blockSize(); n > 0 {
			return n
		}
	}
	return b.cfg.BlockSize
}

// rbuf returns the per-stream read buffer, valid until the next read.
func (b *Base) rbuf(n int) []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	if cap(b.rcache) < n {
		if b.rcache != nil {
			pool.Default().Release(b.rcache)
		}
		b.rcache = pool.Default().Acquire(n)
	}
	return b.rcache[:n]
}

func (b *Base) Read(size int, fn api.ReadFunc) error {
	if fn == nil {
		return api.ErrInvalidArgument
	}
	if err := b.acquire(api.SlotRead); err != nil {
		return err
	}
	size = b.readSize(size)
	if err := b.doRead(size, fn); err != nil {
		b.release(api.SlotRead)
		return err
	}
	return nil
}

// ReadAfter issues the read once delay elapsed.
func (b *Base) ReadAfter(delay time.Duration, size int, fn api.ReadFunc) error {
	if delay <= 0 {
		return b.Read(size, fn)
	}
	if fn == nil {
		return api.ErrInvalidArgument
	}
	if err := b.acquire(api.SlotRead); err != nil {
		return err
	}
	size = b.readSize(size)
	err := b.h.Task(delay, func(c reactor.Completion) {
		if c.State != api.StateOk {
			b.release(api.SlotRead)
			fn(c.State, nil, size)
			return
		}
		if err := b.doRead(size, fn); err != nil {
			b.release(api.SlotRead)
			fn(api.StateOf(err), nil, size)
		}
	})
	if err != nil {
		b.release(api.SlotRead)
	}
	return err
}

func (b *Base) doRead(size int, fn api.ReadFunc) error {
	return b.impl.read(size, func(st api.State, data []byte) {
		st = b.settle(st)
		if st == api.StateOk {
			b.offset.Add(int64(len(data)))
		} else {
			data = nil
		}
		b.release(api.SlotRead)
		if !fn(st, data, size) || st != api.StateOk {
			return
		}
		// continue unless the callback already issued its own read or closed
		if err := b.acquire(api.SlotRead); err != nil {
			if errors.Is(err, api.ErrKilled) {
				fn(api.StateKilled, nil, size)
			}
			return
		}
		if err := b.doRead(size, fn); err != nil {
			b.release(api.SlotRead)
			fn(api.StateOf(err), nil, size)
		}
	})
}

func (b *Base) Write(data []byte, fn api.WriteFunc) error {
	if fn == nil || len(data) == 0 {
		return api.ErrInvalidArgument
	}
	if err := b.acquire(api.SlotWrite); err != nil {
		return err
	}
	if err := b.startWrite(data, fn); err != nil {
		b.release(api.SlotWrite)
		return err
	}
	return nil
}

// WriteAfter issues the write once delay elapsed.
func (b *Base) WriteAfter(delay time.Duration, data []byte, fn api.WriteFunc) error {
	if delay <= 0 {
		return b.Write(data, fn)
	}
	if fn == nil || len(data) == 0 {
		return api.ErrInvalidArgument
	}
	if err := b.acquire(api.SlotWrite); err != nil {
		return err
	}
	err := b.h.Task(delay, func(c reactor.Completion) {
		if c.State != api.StateOk {
			b.release(api.SlotWrite)
			fn(c.State, 0, len(data))
			return
		}
		if err := b.startWrite(data, fn); err != nil {
			b.release(api.SlotWrite)
			fn(api.StateOf(err), 0, len(data))
		}
	})
	if err != nil {
		b.release(api.SlotWrite)
	}
	return err
}

func (b *Base) startWrite(data []byte, fn api.WriteFunc) error {
	b.mu.Lock()
	cached := b.wcacheMax > 0 || len(b.wcache) > 0
	b.mu.Unlock()
	if cached {
		return b.cachedWrite(data, fn)
	}
	return b.doWrite(data, fn)
}

func (b *Base) doWrite(data []byte, fn api.WriteFunc) error {
	return b.impl.write(data, func(st api.State, n int) {
		st = b.settle(st)
		if st == api.StateOk {
			b.offset.Add(int64(n))
		} else {
			n = 0
		}
		b.release(api.SlotWrite)
		if !fn(st, n, len(data)) || st != api.StateOk || n >= len(data) {
			return
		}
		rest := data[n:]
		if err := b.acquire(api.SlotWrite); err != nil {
			if errors.Is(err, api.ErrKilled) {
				fn(api.StateKilled, 0, len(rest))
			}
			return
		}
		if err := b.doWrite(rest, fn); err != nil {
			b.release(api.SlotWrite)
			fn(api.StateOf(err), 0, len(rest))
		}
	})
}

// cachedWrite appends to the write cache and reports the bytes as written;
// the cache goes out once it reaches the threshold.
func (b *Base) cachedWrite(data []byte, fn api.WriteFunc) error {
	n := int64(len(data))
	b.mu.Lock()
	mark := len(b.wcache)
	b.wcache = append(b.wcache, data...)
	full := len(b.wcache) >= b.wcacheMax
	buf := b.wcache
	if full {
		b.wcache = nil
	}
	b.mu.Unlock()
	b.offset.Add(n)
	b.unflushed.Add(n)

	report := func(st api.State) {
		real := len(data)
		if st != api.StateOk {
			real = 0
			b.offset.Add(-n)
			if !full {
				b.unflushed.Add(-n)
				b.mu.Lock()
				b.wcache = b.wcache[:mark]
				b.mu.Unlock()
			}
		}
		b.release(api.SlotWrite)
		fn(st, real, len(data))
	}
	var err error
	if full {
		err = b.writeAll(buf, func(st api.State) {
			b.mu.Lock()
			if b.wcache == nil {
				b.wcache = buf[:0]
			}
			b.mu.Unlock()
			if st != api.StateOk {
				// the unwritten tail is lost
				b.unflushed.Store(n)
			}
			report(st)
		})
	} else {
		err = b.complete(report)
	}
	if err != nil {
		b.offset.Add(-n)
		b.unflushed.Add(-n)
		b.mu.Lock()
		b.wcache = buf[:mark]
		b.mu.Unlock()
	}
	return err
}

// writeAll writes buf completely at the backend position, continuing over
// partial writes.
func (b *Base) writeAll(buf []byte, done func(api.State)) error {
	return b.impl.write(buf, func(st api.State, n int) {
		st = b.settle(st)
		if st == api.StateOk {
			b.unflushed.Add(-int64(n))
		}
		if st != api.StateOk || n >= len(buf) {
			done(st)
			return
		}
		if err := b.writeAll(buf[n:], done); err != nil {
			done(api.StateOf(err))
		}
	})
}

// Sync flushes the write cache, then the backend.
func (b *Base) Sync(closing bool, fn api.SyncFunc) error {
	if fn == nil {
		return api.ErrInvalidArgument
	}
	if err := b.acquire(api.SlotWrite); err != nil {
		return err
	}
	finish := func(st api.State) {
		b.release(api.SlotWrite)
		fn(st, closing)
	}
	doSync := func() error {
		return b.impl.sync(closing, func(st api.State) { finish(b.settle(st)) })
	}

	b.mu.Lock()
	buf := b.wcache
	if len(buf) > 0 {
		b.wcache = nil
	}
	b.mu.Unlock()
	if len(buf) == 0 {
		if err := doSync(); err != nil {
			b.release(api.SlotWrite)
			return err
		}
		return nil
	}
	err := b.writeAll(buf, func(st api.State) {
		b.mu.Lock()
		b.wcache = buf[:0]
		b.mu.Unlock()
		if st != api.StateOk {
			b.unflushed.Store(0)
			finish(st)
			return
		}
		if err := doSync(); err != nil {
			finish(api.StateOf(err))
		}
	})
	if err != nil {
		b.mu.Lock()
		b.wcache = buf
		b.mu.Unlock()
		b.release(api.SlotWrite)
	}
	return err
}

func (b *Base) Seek(offset int64, fn api.SeekFunc) error {
	if fn == nil || offset < 0 {
		return api.ErrInvalidArgument
	}
	if b.unflushed.Load() > 0 {
		return fmt.Errorf("seek with cached writes, sync first: %w", api.ErrBusy)
	}
	if err := b.acquire(api.SlotCtrl); err != nil {
		return err
	}
	var err error
	if offset == b.offset.Load() {
		err = b.complete(func(st api.State) {
			b.release(api.SlotCtrl)
			fn(st, b.offset.Load())
		})
	} else {
		err = b.impl.seek(offset, func(st api.State, off int64) {
			if st = b.settle(st); st == api.StateOk {
				b.offset.Store(off)
			}
			b.release(api.SlotCtrl)
			fn(st, b.offset.Load())
		})
	}
	if err != nil {
		b.release(api.SlotCtrl)
	}
	return err
}

// Task runs fn after delay on the loop, re-arming while fn returns true.
func (b *Base) Task(delay time.Duration, fn api.TaskFunc) error {
	if fn == nil {
		return api.ErrInvalidArgument
	}
	return b.h.Task(delay, func(c reactor.Completion) {
		if !fn(c.State) || c.State != api.StateOk {
			return
		}
		if err := b.Task(delay, fn); err != nil {
			fn(api.StateOf(err))
		}
	})
}

func (b *Base) OpenRead(size int, fn api.ReadFunc) error {
	if fn == nil {
		return api.ErrInvalidArgument
	}
	if b.Phase() == api.PhaseOpened {
		return b.Read(size, fn)
	}
	return b.Open(func(st api.State) {
		if st != api.StateOk {
			fn(st, nil, size)
			return
		}
		if err := b.Read(size, fn); err != nil {
			fn(api.StateOf(err), nil, size)
		}
	})
}

func (b *Base) OpenWrite(data []byte, fn api.WriteFunc) error {
	if fn == nil || len(data) == 0 {
		return api.ErrInvalidArgument
	}
	if b.Phase() == api.PhaseOpened {
		return b.Write(data, fn)
	}
	return b.Open(func(st api.State) {
		if st != api.StateOk {
			fn(st, 0, len(data))
			return
		}
		if err := b.Write(data, fn); err != nil {
			fn(api.StateOf(err), 0, len(data))
		}
	})
}

func (b *Base) OpenSeek(offset int64, fn api.SeekFunc) error {
	if fn == nil || offset < 0 {
		return api.ErrInvalidArgument
	}
	if b.Phase() == api.PhaseOpened {
		return b.Seek(offset, fn)
	}
	return b.Open(func(st api.State) {
		if st != api.StateOk {
			fn(st, 0)
			return
		}
		if err := b.Seek(offset, fn); err != nil {
			fn(api.StateOf(err), b.Offset())
		}
	})
}

// Do dispatches op to the matching method.
func (b *Base) Do(op api.Operation) error {
	switch o := op.(type) {
	case api.OpOpen:
		return b.Open(o.Fn)
	case api.OpRead:
		return b.ReadAfter(o.Delay, o.Size, o.Fn)
	case api.OpWrite:
		return b.WriteAfter(o.Delay, o.Data, o.Fn)
	case api.OpSeek:
		return b.Seek(o.Offset, o.Fn)
	case api.OpSync:
		return b.Sync(o.Closing, o.Fn)
	case api.OpTask:
		return b.Task(o.Delay, o.Fn)
	case api.OpClose:
		return b.Close(o.Fn)
	}
	return api.ErrNotSupported
}
