// File: transfer/transfer.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Transfer copies one stream into another on the port loop with pause,
// resume, rate limiting and kill.

package transfer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/momentics/hioload-stream/api"
	"github.com/momentics/hioload-stream/reactor"
	"github.com/momentics/hioload-stream/stream"
)

const (
	exitTries    = 30
	exitInterval = 200 * time.Millisecond
)

// Phase is the lifecycle position of a transfer.
type Phase int32

const (
	PhaseIdle Phase = iota
	PhaseOpening
	PhaseOpened
	PhaseSaving
	PhaseClosing
	PhaseClosed
)

func (p Phase) String() string {
	switch p {
	case PhaseOpening:
		return "opening"
	case PhaseOpened:
		return "opened"
	case PhaseSaving:
		return "saving"
	case PhaseClosing:
		return "closing"
	case PhaseClosed:
		return "closed"
	default:
		return "idle"
	}
}

// Progress is one report of a running or finished transfer.
type Progress struct {
	State api.State
	// Offset and Size describe the source.
	Offset int64
	Size   int64
	// Save is the number of bytes written to the destination.
	Save int64
	// Rate is bytes per second: the last window while running, the average
	// over the whole copy in the terminal report.
	Rate int64
}

type (
	// OpenFunc receives the open outcome with the source offset and size.
	OpenFunc func(state api.State, offset, size int64)
	// SaveFunc receives progress, pause and terminal reports. Returning false
	// stops the copy, which then terminates with StateKilled.
	SaveFunc func(p Progress) bool
	// CtrlFunc configures both streams before open.
	CtrlFunc func(src, dst api.Stream) error
)

// Transfer is a single source to destination copy.
type Transfer struct {
	id   uuid.UUID
	port *reactor.Port
	cfg  Config
	log  *zap.Logger

	src, dst       api.Stream
	ownSrc, ownDst bool

	phase   atomic.Int32
	stopped atomic.Bool
	lrate   atomic.Int64
	save    atomic.Int64
	crate   atomic.Int64

	mu      sync.Mutex
	pausing bool
	paused  bool
	ctrl    CtrlFunc
	timeout time.Duration
	onSave  SaveFunc
	closing []func() // run once a kill-driven close completes

	// loop owned
	base   time.Duration
	base1s time.Duration
	save1s int64
	block  int
	first  bool
	rolled bool
}

// New builds a transfer over two borrowed streams. The caller keeps
// ownership and exits them.
func New(port *reactor.Port, src, dst api.Stream, opts ...Option) (*Transfer, error) {
	if src == nil || dst == nil {
		return nil, fmt.Errorf("transfer: nil stream: %w", api.ErrInvalidArgument)
	}
	return newTransfer(port, src, dst, false, false, buildConfig(opts))
}

// NewFromURL builds both streams from URLs and owns them.
func NewFromURL(port *reactor.Port, srcURL, dstURL string, opts ...Option) (*Transfer, error) {
	cfg := buildConfig(opts)
	src, err := urlStream(port, srcURL, false, cfg)
	if err != nil {
		return nil, err
	}
	dst, err := urlStream(port, dstURL, true, cfg)
	if err != nil {
		_ = src.Exit()
		return nil, err
	}
	return newTransfer(port, src, dst, true, true, cfg)
}

// NewStreamToURL borrows src and owns a destination built from dstURL.
func NewStreamToURL(port *reactor.Port, src api.Stream, dstURL string, opts ...Option) (*Transfer, error) {
	if src == nil {
		return nil, fmt.Errorf("transfer: nil stream: %w", api.ErrInvalidArgument)
	}
	cfg := buildConfig(opts)
	dst, err := urlStream(port, dstURL, true, cfg)
	if err != nil {
		return nil, err
	}
	return newTransfer(port, src, dst, false, true, cfg)
}

// NewURLToStream owns a source built from srcURL and borrows dst.
func NewURLToStream(port *reactor.Port, srcURL string, dst api.Stream, opts ...Option) (*Transfer, error) {
	if dst == nil {
		return nil, fmt.Errorf("transfer: nil stream: %w", api.ErrInvalidArgument)
	}
	cfg := buildConfig(opts)
	src, err := urlStream(port, srcURL, false, cfg)
	if err != nil {
		return nil, err
	}
	return newTransfer(port, src, dst, true, false, cfg)
}

// urlStream builds a stream; file sinks without an explicit mode are
// created and truncated.
func urlStream(port *reactor.Port, raw string, sink bool, cfg Config) (api.Stream, error) {
	if port == nil {
		return nil, fmt.Errorf("transfer: nil port: %w", api.ErrInvalidArgument)
	}
	u, err := stream.ParseURL(raw)
	if err != nil {
		return nil, fmt.Errorf("transfer: %w", err)
	}
	opts := append([]stream.Option{stream.WithLogger(cfg.Logger)}, cfg.StreamOptions...)
	s, err := stream.FromURL(port, raw, opts...)
	if err != nil {
		return nil, fmt.Errorf("transfer: %w", err)
	}
	if sink && u.Kind == api.KindFile && !u.Args.Has("mode") {
		mode := stream.FileModeRW | stream.FileModeCreate | stream.FileModeTrunc
		if err := s.Ctrl(api.CtrlFileSetMode, mode); err != nil {
			return nil, fmt.Errorf("transfer: sink mode: %w", err)
		}
	}
	return s, nil
}

func newTransfer(port *reactor.Port, src, dst api.Stream, ownSrc, ownDst bool, cfg Config) (*Transfer, error) {
	if port == nil {
		return nil, fmt.Errorf("transfer: nil port: %w", api.ErrInvalidArgument)
	}
	t := &Transfer{
		id:      uuid.New(),
		port:    port,
		cfg:     cfg,
		src:     src,
		dst:     dst,
		ownSrc:  ownSrc,
		ownDst:  ownDst,
		timeout: cfg.Timeout,
	}
	t.log = cfg.Logger.With(zap.String("component", "transfer"), zap.Stringer("id", t.id))
	return t, nil
}

func (t *Transfer) ID() uuid.UUID { return t.id }

func (t *Transfer) Phase() Phase { return Phase(t.phase.Load()) }

// Source returns the source stream.
func (t *Transfer) Source() api.Stream { return t.src }

// Dest returns the destination stream.
func (t *Transfer) Dest() api.Stream { return t.dst }

// Paused reports whether the copy loop is suspended.
func (t *Transfer) Paused() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.paused
}

// SetCtrl installs a hook run on both streams before open.
func (t *Transfer) SetCtrl(fn CtrlFunc) error {
	if !t.idle() {
		return api.ErrNotClosed
	}
	t.mu.Lock()
	t.ctrl = fn
	t.mu.Unlock()
	return nil
}

// SetTimeout sets the stream timeout applied at the next open.
func (t *Transfer) SetTimeout(d time.Duration) error {
	if !t.idle() {
		return api.ErrNotClosed
	}
	t.mu.Lock()
	t.timeout = d
	t.mu.Unlock()
	return nil
}

// LimitRate caps the copy at bytes per second. Zero removes the limit.
func (t *Transfer) LimitRate(bps int64) {
	t.lrate.Store(max(bps, 0))
}

// Rate returns the current limit.
func (t *Transfer) Rate() int64 { return t.lrate.Load() }

func (t *Transfer) idle() bool {
	ph := t.Phase()
	return ph == PhaseIdle || ph == PhaseClosed
}

// Stats returns a running snapshot.
func (t *Transfer) Stats() Progress {
	st := api.StateOk
	if t.Paused() {
		st = api.StatePaused
	}
	return Progress{
		State:  st,
		Offset: t.src.Offset(),
		Size:   t.src.Size(),
		Save:   t.save.Load(),
		Rate:   t.crate.Load(),
	}
}

// Open opens the source at offset, then the destination.
func (t *Transfer) Open(offset int64, fn OpenFunc) error {
	if fn == nil || offset < 0 {
		return api.ErrInvalidArgument
	}
	if t.stopped.Load() {
		return api.ErrStopped
	}
	switch t.Phase() {
	case PhaseOpened:
		return t.port.Post(func() { fn(api.StateOk, t.src.Offset(), t.src.Size()) })
	case PhaseOpening, PhaseSaving, PhaseClosing:
		return api.ErrBusy
	}
	prev := t.Phase()
	if !t.phase.CompareAndSwap(int32(prev), int32(PhaseOpening)) {
		return api.ErrBusy
	}
	if err := t.configure(); err != nil {
		t.phase.Store(int32(prev))
		return err
	}

	t.log.Debug("open", zap.String("src", t.src.URL()), zap.String("dst", t.dst.URL()), zap.Int64("offset", offset))
	err := t.src.OpenSeek(offset, func(st api.State, _ int64) {
		if st != api.StateOk {
			t.openFailed(st, fn)
			return
		}
		if err := t.dst.Open(func(st api.State) {
			if st == api.StateOk && t.stopped.Load() {
				st = api.StateKilled
			}
			if st != api.StateOk {
				t.openFailed(st, fn)
				return
			}
			t.phase.Store(int32(PhaseOpened))
			if t.stopped.Load() && t.phase.CompareAndSwap(int32(PhaseOpened), int32(PhaseClosing)) {
				// killed while the phase was published
				t.openFailed(api.StateKilled, fn)
				return
			}
			t.log.Debug("opened", zap.Int64("size", t.src.Size()))
			fn(api.StateOk, t.src.Offset(), t.src.Size())
		}); err != nil {
			t.openFailed(api.StateOf(err), fn)
		}
	})
	if err != nil {
		t.phase.Store(int32(prev))
		return fmt.Errorf("transfer: open source: %w", err)
	}
	return nil
}

// configure applies the timeout and ctrl hook to closed streams.
func (t *Transfer) configure() error {
	t.mu.Lock()
	ctrl, timeout := t.ctrl, t.timeout
	t.mu.Unlock()
	if timeout > 0 {
		for _, s := range []api.Stream{t.src, t.dst} {
			if s.Phase() != api.PhaseClosed {
				continue
			}
			if err := s.Ctrl(api.CtrlSetTimeout, timeout); err != nil {
				return fmt.Errorf("transfer: timeout: %w", err)
			}
		}
	}
	if ctrl != nil {
		if err := ctrl(t.src, t.dst); err != nil {
			return fmt.Errorf("transfer: ctrl: %w", err)
		}
	}
	return nil
}

func (t *Transfer) openFailed(st api.State, fn OpenFunc) {
	t.log.Debug("open failed", zap.Stringer("state", st))
	t.phase.Store(int32(PhaseClosing))
	offset, size := t.src.Offset(), t.src.Size()
	t.closeStreams(func(api.State) {
		t.closed()
		fn(st, offset, size)
	})
}

// closed marks the streams closed and releases reports deferred by abandon.
func (t *Transfer) closed() {
	t.mu.Lock()
	t.phase.Store(int32(PhaseClosed))
	waiters := t.closing
	t.closing = nil
	t.mu.Unlock()
	for _, fn := range waiters {
		fn()
	}
}

// closeStreams closes the destination, then the source, and reports the
// first failure.
func (t *Transfer) closeStreams(done func(api.State)) {
	closeOne(t.dst, func(dst api.State) {
		closeOne(t.src, func(src api.State) {
			if dst != api.StateOk {
				done(dst)
				return
			}
			done(src)
		})
	})
}

func closeOne(s api.Stream, done func(api.State)) {
	err := s.Close(func(st api.State) { done(st) })
	switch {
	case err == nil:
	case errors.Is(err, api.ErrBusy):
		// someone else is closing it
		done(api.StateOk)
	default:
		done(api.StateOf(err))
	}
}

// Save starts the copy loop on an opened transfer. fn receives progress
// reports and exactly one terminal report.
func (t *Transfer) Save(fn SaveFunc) error {
	if fn == nil {
		return api.ErrInvalidArgument
	}
	if t.stopped.Load() {
		return api.ErrStopped
	}
	if !t.phase.CompareAndSwap(int32(PhaseOpened), int32(PhaseSaving)) {
		if t.Phase() == PhaseSaving {
			return api.ErrBusy
		}
		return api.ErrNotOpened
	}
	t.mu.Lock()
	t.onSave = fn
	t.mu.Unlock()
	t.save.Store(0)
	t.crate.Store(0)
	t.base = t.port.Time()
	t.first = true
	t.resetWindow()
	t.log.Debug("save", zap.Int64("rate", t.lrate.Load()))
	t.read(0)
	return nil
}

// OSave opens at offset and starts the copy. Open failures arrive at fn as
// the terminal report.
func (t *Transfer) OSave(offset int64, fn SaveFunc) error {
	if fn == nil {
		return api.ErrInvalidArgument
	}
	return t.Open(offset, func(st api.State, off, size int64) {
		if st != api.StateOk {
			fn(Progress{State: st, Offset: off, Size: size})
			return
		}
		if err := t.Save(fn); err != nil {
			t.abandon(api.StateOf(err), fn)
		}
	})
}

// abandon closes an opened transfer that could not start saving.
func (t *Transfer) abandon(st api.State, fn SaveFunc) {
	if !t.phase.CompareAndSwap(int32(PhaseOpened), int32(PhaseClosing)) {
		t.mu.Lock()
		if t.Phase() == PhaseClosing {
			// streams are closing elsewhere; report once they are closed
			t.closing = append(t.closing, func() { fn(Progress{State: st}) })
			t.mu.Unlock()
			return
		}
		t.mu.Unlock()
		fn(Progress{State: st})
		return
	}
	offset, size := t.src.Offset(), t.src.Size()
	t.closeStreams(func(api.State) {
		t.closed()
		fn(Progress{State: st, Offset: offset, Size: size})
	})
}

func (t *Transfer) resetWindow() {
	t.base1s = t.port.Time()
	t.save1s = 0
	t.crate.Store(0)
}

func (t *Transfer) report(p Progress) bool {
	t.mu.Lock()
	fn := t.onSave
	t.mu.Unlock()
	return fn(p)
}

// read issues the next source read, sized to the rate window.
func (t *Transfer) read(delay time.Duration) {
	if t.stopped.Load() {
		t.finish(api.StateKilled)
		return
	}
	size := t.cfg.BlockSize
	if lr := t.lrate.Load(); lr > 0 {
		left := lr - t.save1s
		if delay > 0 || left <= 0 {
			// the read lands in a fresh window
			left = lr
		}
		size = int(min(left, maxLimitedRead))
	}
	if err := t.src.ReadAfter(delay, size, t.onRead); err != nil {
		t.finish(api.StateOf(err))
	}
}

func (t *Transfer) onRead(st api.State, data []byte, _ int) bool {
	switch {
	case st != api.StateOk:
		t.finish(st)
		return false
	case t.stopped.Load():
		t.finish(api.StateKilled)
		return false
	case len(data) == 0:
		return true
	}
	t.block = len(data)
	if err := t.dst.Write(data, t.onWrite); err != nil {
		t.finish(api.StateOf(err))
	}
	return false
}

func (t *Transfer) onWrite(st api.State, real, size int) bool {
	if st != api.StateOk {
		t.finish(st)
		return false
	}
	t.account(int64(real))
	if real < size {
		return true
	}
	t.written()
	return false
}

// account adds n bytes to the totals and the one second window.
func (t *Transfer) account(n int64) {
	now := t.port.Time()
	t.save.Add(n)
	if now < t.base1s+time.Second {
		t.save1s += n
		if now < t.base+time.Second {
			t.crate.Store(t.save1s)
		}
		return
	}
	t.crate.Store(t.save1s)
	t.base1s = now
	t.save1s = n
	t.rolled = true
}

// written runs after a whole block reached the destination.
func (t *Transfer) written() {
	if t.first || t.rolled {
		p := t.Stats()
		p.State = api.StateOk
		if t.first {
			p.Save, p.Rate = 0, 0
		}
		t.first, t.rolled = false, false
		if !t.report(p) {
			t.stopped.Store(true)
		}
	}
	if t.stopped.Load() {
		t.finish(api.StateKilled)
		return
	}

	t.mu.Lock()
	pause := t.pausing
	if pause {
		t.pausing = false
		t.paused = true
	}
	t.mu.Unlock()
	if pause {
		t.log.Debug("paused", zap.Int64("save", t.save.Load()))
		p := t.Stats()
		p.State, p.Rate = api.StatePaused, 0
		if !t.report(p) {
			t.mu.Lock()
			t.paused = false
			t.mu.Unlock()
			t.stopped.Store(true)
			t.finish(api.StateKilled)
		}
		return
	}
	t.read(t.delay(t.block))
}

// delay is how long the next read waits for the window or the shared limiter.
func (t *Transfer) delay(n int) time.Duration {
	var d time.Duration
	if lr := t.lrate.Load(); lr > 0 && t.save1s >= lr {
		d = t.base1s + time.Second - t.port.Time()
	}
	if lim := t.cfg.limiter; lim != nil {
		if r := lim.ReserveN(time.Now(), n); r.OK() {
			d = max(d, r.Delay())
		}
	}
	return max(d, 0)
}

// finish runs the closing chain once and delivers the terminal report.
func (t *Transfer) finish(st api.State) {
	if !t.phase.CompareAndSwap(int32(PhaseSaving), int32(PhaseClosing)) {
		return
	}
	offset, size := t.src.Offset(), t.src.Size()
	end := func(st api.State) {
		t.closeStreams(func(cst api.State) {
			if st == api.StateClosed && cst != api.StateOk {
				st = cst
			}
			t.closed()
			p := Progress{State: st, Offset: offset, Size: size, Save: t.save.Load(), Rate: t.totalRate()}
			t.log.Debug("finished", zap.Stringer("state", st), zap.Int64("save", p.Save), zap.Int64("rate", p.Rate))
			t.report(p)
		})
	}
	if st != api.StateClosed {
		end(st)
		return
	}
	if err := t.dst.Sync(true, func(sst api.State, _ bool) {
		if sst != api.StateOk {
			st = sst
		}
		end(st)
	}); err != nil {
		end(api.StateOf(err))
	}
}

func (t *Transfer) totalRate() int64 {
	elapsed := t.port.Time() - t.base
	if elapsed <= 0 {
		return t.save.Load()
	}
	return int64(float64(t.save.Load()) * float64(time.Second) / float64(elapsed))
}

// Pause asks the copy loop to suspend after the current write. Pausing a
// paused transfer is a no-op.
func (t *Transfer) Pause() error {
	if t.Phase() != PhaseSaving {
		return api.ErrNotOpened
	}
	t.mu.Lock()
	if !t.paused {
		t.pausing = true
	}
	t.mu.Unlock()
	return nil
}

// Resume restarts a paused copy loop with a fresh rate window. Resuming a
// running transfer only cancels a pending pause.
func (t *Transfer) Resume() error {
	t.mu.Lock()
	if t.pausing {
		t.pausing = false
		t.mu.Unlock()
		return nil
	}
	if !t.paused {
		t.mu.Unlock()
		return nil
	}
	t.paused = false
	t.mu.Unlock()
	t.log.Debug("resume")
	return t.port.Post(func() {
		t.resetWindow()
		t.read(0)
	})
}

// Kill stops the transfer; the terminal report carries StateKilled. It is
// safe from any goroutine.
func (t *Transfer) Kill() {
	if !t.stopped.CompareAndSwap(false, true) {
		return
	}
	ph := t.Phase()
	if ph == PhaseIdle || ph == PhaseClosed {
		return
	}
	t.log.Debug("kill", zap.Stringer("phase", ph))
	t.src.Kill()
	t.dst.Kill()
	// opened but never saved: nobody else will close the streams
	if t.phase.CompareAndSwap(int32(PhaseOpened), int32(PhaseClosing)) {
		t.closeStreams(func(api.State) { t.closed() })
		return
	}

	t.mu.Lock()
	wasPaused := t.paused
	t.paused, t.pausing = false, false
	t.mu.Unlock()
	if wasPaused {
		if err := t.port.Post(func() { t.finish(api.StateKilled) }); err != nil {
			t.finish(api.StateKilled)
		}
	}
}

// Killed reports whether Kill was called.
func (t *Transfer) Killed() bool { return t.stopped.Load() }

// Exit kills the transfer, waits for it to close and exits owned streams.
// Outside the loop it blocks for a bounded time.
func (t *Transfer) Exit() error {
	t.Kill()
	if t.phase.CompareAndSwap(int32(PhaseOpened), int32(PhaseClosing)) {
		t.closeStreams(func(api.State) { t.closed() })
	}
	if !t.idle() {
		if t.port.InLoop() {
			return api.ErrNotClosed
		}
		if err := t.waitClosed(); err != nil {
			t.log.Error("exit without close", zap.Stringer("phase", t.Phase()))
			return fmt.Errorf("transfer %s: %w", t.id, api.ErrNotClosed)
		}
	}
	var errs []error
	if t.ownSrc {
		errs = append(errs, t.src.Exit())
	}
	if t.ownDst {
		errs = append(errs, t.dst.Exit())
	}
	return errors.Join(errs...)
}

func (t *Transfer) waitClosed() error {
	_, err := backoff.Retry(context.Background(), func() (struct{}, error) {
		if t.idle() {
			return struct{}{}, nil
		}
		return struct{}{}, api.ErrNotClosed
	}, backoff.WithBackOff(backoff.NewConstantBackOff(exitInterval)), backoff.WithMaxTries(exitTries))
	return err
}
