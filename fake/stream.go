// Package fake
// Author: momentics <momentics@gmail.com>
//
// Scripted stream for transfer and pool tests.
// Provides predictable, controllable behavior for the stream contract.

package fake

import (
	"errors"
	"sync"
	"time"

	"github.com/momentics/hioload-stream/api"
	"github.com/momentics/hioload-stream/reactor"
)

// Stream is a scripted api.Stream. Reads are served from chunks pushed with
// Feed; End makes the next read report StateClosed. A read with nothing fed
// stays pending until data arrives or the stream is killed. Writes are
// collected and can be inspected with Written.
type Stream struct {
	port *reactor.Port
	url  string

	mu      sync.Mutex
	phase   api.Phase
	offset  int64
	size    int64
	timeout time.Duration
	queue   [][]byte
	ended   bool
	killed  bool
	wakeup  chan struct{}
	reading bool
	written []byte
	opens   int
	closes  int

	openState  api.State
	writeState api.State
	writeLimit int
}

var _ api.Stream = (*Stream)(nil)

// NewStream returns a closed scripted stream. size is reported by Size; use
// -1 for unknown.
func NewStream(port *reactor.Port, size int64) *Stream {
	return &Stream{
		port:   port,
		url:    "fake://",
		size:   size,
		wakeup: make(chan struct{}, 1),
	}
}

// SetOpenState makes the next opens complete with st.
func (s *Stream) SetOpenState(st api.State) {
	s.mu.Lock()
	s.openState = st
	s.mu.Unlock()
}

// SetWriteState makes writes complete with st.
func (s *Stream) SetWriteState(st api.State) {
	s.mu.Lock()
	s.writeState = st
	s.mu.Unlock()
}

// SetWriteLimit caps the bytes accepted per write completion, producing
// partial writes. Zero removes the cap.
func (s *Stream) SetWriteLimit(n int) {
	s.mu.Lock()
	s.writeLimit = n
	s.mu.Unlock()
}

// Feed queues data for reads.
func (s *Stream) Feed(data ...[]byte) {
	s.mu.Lock()
	for _, d := range data {
		s.queue = append(s.queue, append([]byte(nil), d...))
	}
	s.mu.Unlock()
	s.wake()
}

// End reports StateClosed once the queue is drained.
func (s *Stream) End() {
	s.mu.Lock()
	s.ended = true
	s.mu.Unlock()
	s.wake()
}

// Written returns a copy of everything written so far.
func (s *Stream) Written() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]byte(nil), s.written...)
}

// Reading reports whether a read is pending.
func (s *Stream) Reading() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reading
}

// Opens and Closes count completed opens and closes.
func (s *Stream) Opens() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.opens
}

func (s *Stream) Closes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closes
}

func (s *Stream) wake() {
	select {
	case s.wakeup <- struct{}{}:
	default:
	}
}

func (s *Stream) post(fn func()) {
	if s.port.Post(fn) != nil {
		fn()
	}
}

func (s *Stream) Kind() api.Kind { return api.KindNone }
func (s *Stream) URL() string    { return s.url }

func (s *Stream) Phase() api.Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

func (s *Stream) Offset() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.offset
}

func (s *Stream) Size() int64 { return s.size }

func (s *Stream) Killed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.killed
}

func (s *Stream) Timeout() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.timeout
}

func (s *Stream) Open(fn api.OpenFunc) error {
	if fn == nil {
		return api.ErrInvalidArgument
	}
	s.mu.Lock()
	switch s.phase {
	case api.PhaseOpened:
		s.mu.Unlock()
		s.post(func() { fn(api.StateOk) })
		return nil
	case api.PhaseOpening, api.PhaseClosing:
		s.mu.Unlock()
		return api.ErrNotClosed
	}
	s.phase = api.PhaseOpening
	s.mu.Unlock()
	s.post(func() {
		s.mu.Lock()
		st := s.openState
		if st == api.StateOk && s.killed {
			st = api.StateKilled
		}
		if st == api.StateOk {
			s.phase = api.PhaseOpened
			s.opens++
		} else {
			s.phase = api.PhaseClosed
			s.killed = false
		}
		s.mu.Unlock()
		fn(st)
	})
	return nil
}

func (s *Stream) ready() error {
	switch {
	case s.phase != api.PhaseOpened:
		return api.ErrNotOpened
	case s.killed:
		return api.ErrKilled
	}
	return nil
}

func (s *Stream) Read(size int, fn api.ReadFunc) error {
	return s.ReadAfter(0, size, fn)
}

func (s *Stream) ReadAfter(delay time.Duration, size int, fn api.ReadFunc) error {
	if fn == nil {
		return api.ErrInvalidArgument
	}
	s.mu.Lock()
	if err := s.ready(); err != nil {
		s.mu.Unlock()
		return err
	}
	if s.reading {
		s.mu.Unlock()
		return api.ErrBusy
	}
	s.reading = true
	s.mu.Unlock()
	if size <= 0 {
		size = 8192
	}
	go s.serve(delay, size, fn)
	return nil
}

// serve waits for data, end or kill and delivers one read on the loop.
func (s *Stream) serve(delay time.Duration, size int, fn api.ReadFunc) {
	deadline := time.Now().Add(delay)
	for time.Now().Before(deadline) && !s.Killed() {
		time.Sleep(min(5*time.Millisecond, time.Until(deadline)))
	}
	for {
		s.mu.Lock()
		var (
			st   api.State
			data []byte
			done = true
		)
		switch {
		case s.killed:
			st = api.StateKilled
		case len(s.queue) > 0:
			data = s.queue[0]
			if len(data) > size {
				s.queue[0] = data[size:]
				data = data[:size]
			} else {
				s.queue = s.queue[1:]
			}
			s.offset += int64(len(data))
		case s.ended:
			st = api.StateClosed
		default:
			done = false
		}
		if done {
			s.mu.Unlock()
			s.post(func() {
				s.mu.Lock()
				s.reading = false
				s.mu.Unlock()
				if !fn(st, data, size) || st != api.StateOk {
					return
				}
				s.mu.Lock()
				err := s.ready()
				if err == nil && !s.reading {
					s.reading = true
				} else if err == nil {
					err = api.ErrBusy
				}
				s.mu.Unlock()
				if err == nil {
					go s.serve(0, size, fn)
				} else if errors.Is(err, api.ErrKilled) {
					fn(api.StateKilled, nil, size)
				}
			})
			return
		}
		s.mu.Unlock()
		<-s.wakeup
	}
}

func (s *Stream) Write(data []byte, fn api.WriteFunc) error {
	return s.WriteAfter(0, data, fn)
}

func (s *Stream) WriteAfter(delay time.Duration, data []byte, fn api.WriteFunc) error {
	if fn == nil || len(data) == 0 {
		return api.ErrInvalidArgument
	}
	s.mu.Lock()
	if err := s.ready(); err != nil {
		s.mu.Unlock()
		return err
	}
	s.mu.Unlock()
	deliver := func() { s.write(data, fn) }
	if delay > 0 {
		_, err := s.port.After(delay, deliver)
		return err
	}
	s.post(deliver)
	return nil
}

func (s *Stream) write(data []byte, fn api.WriteFunc) {
	s.mu.Lock()
	st, n := s.writeState, len(data)
	if s.killed {
		st = api.StateKilled
	}
	if s.writeLimit > 0 && n > s.writeLimit {
		n = s.writeLimit
	}
	if st != api.StateOk {
		n = 0
	}
	s.written = append(s.written, data[:n]...)
	s.offset += int64(n)
	s.mu.Unlock()
	if fn(st, n, len(data)) && st == api.StateOk && n < len(data) {
		rest := append([]byte(nil), data[n:]...)
		s.post(func() { s.write(rest, fn) })
	}
}

func (s *Stream) Seek(offset int64, fn api.SeekFunc) error {
	if fn == nil || offset < 0 {
		return api.ErrInvalidArgument
	}
	s.mu.Lock()
	if err := s.ready(); err != nil {
		s.mu.Unlock()
		return err
	}
	cur := s.offset
	s.mu.Unlock()
	if offset != cur {
		return api.ErrNotSupported
	}
	s.post(func() { fn(api.StateOk, cur) })
	return nil
}

func (s *Stream) Sync(closing bool, fn api.SyncFunc) error {
	if fn == nil {
		return api.ErrInvalidArgument
	}
	s.mu.Lock()
	err := s.ready()
	s.mu.Unlock()
	if err != nil {
		return err
	}
	s.post(func() { fn(api.StateOk, closing) })
	return nil
}

func (s *Stream) Task(delay time.Duration, fn api.TaskFunc) error {
	if fn == nil {
		return api.ErrInvalidArgument
	}
	_, err := s.port.After(delay, func() {
		st := api.StateOk
		if s.Killed() {
			st = api.StateKilled
		}
		if fn(st) && st == api.StateOk {
			_ = s.Task(delay, fn)
		}
	})
	return err
}

func (s *Stream) OpenRead(size int, fn api.ReadFunc) error {
	if fn == nil {
		return api.ErrInvalidArgument
	}
	return s.Open(func(st api.State) {
		if st != api.StateOk {
			fn(st, nil, size)
			return
		}
		if err := s.Read(size, fn); err != nil {
			fn(api.StateOf(err), nil, size)
		}
	})
}

func (s *Stream) OpenWrite(data []byte, fn api.WriteFunc) error {
	if fn == nil || len(data) == 0 {
		return api.ErrInvalidArgument
	}
	return s.Open(func(st api.State) {
		if st != api.StateOk {
			fn(st, 0, len(data))
			return
		}
		if err := s.Write(data, fn); err != nil {
			fn(api.StateOf(err), 0, len(data))
		}
	})
}

func (s *Stream) OpenSeek(offset int64, fn api.SeekFunc) error {
	if fn == nil || offset < 0 {
		return api.ErrInvalidArgument
	}
	return s.Open(func(st api.State) {
		if st != api.StateOk {
			fn(st, 0)
			return
		}
		if err := s.Seek(offset, fn); err != nil {
			fn(api.StateOf(err), s.Offset())
		}
	})
}

func (s *Stream) Do(op api.Operation) error {
	switch o := op.(type) {
	case api.OpOpen:
		return s.Open(o.Fn)
	case api.OpRead:
		return s.ReadAfter(o.Delay, o.Size, o.Fn)
	case api.OpWrite:
		return s.WriteAfter(o.Delay, o.Data, o.Fn)
	case api.OpSeek:
		return s.Seek(o.Offset, o.Fn)
	case api.OpSync:
		return s.Sync(o.Closing, o.Fn)
	case api.OpTask:
		return s.Task(o.Delay, o.Fn)
	case api.OpClose:
		return s.Close(o.Fn)
	}
	return api.ErrNotSupported
}

// Kill fails the pending read and every later primitive until Close.
func (s *Stream) Kill() {
	s.mu.Lock()
	if s.phase == api.PhaseClosed {
		s.mu.Unlock()
		return
	}
	s.killed = true
	s.mu.Unlock()
	s.wake()
}

// Close waits for a pending read to drain, then reports Ok.
func (s *Stream) Close(fn api.CloseFunc) error {
	if fn == nil {
		return api.ErrInvalidArgument
	}
	s.mu.Lock()
	switch s.phase {
	case api.PhaseClosed:
		s.mu.Unlock()
		s.post(func() { fn(api.StateOk) })
		return nil
	case api.PhaseClosing, api.PhaseOpening:
		s.mu.Unlock()
		return api.ErrBusy
	}
	s.phase = api.PhaseClosing
	s.killed = true
	s.mu.Unlock()
	s.wake()
	var finish func()
	finish = func() {
		s.mu.Lock()
		if s.reading {
			s.mu.Unlock()
			s.post(finish)
			return
		}
		s.phase = api.PhaseClosed
		s.killed = false
		s.closes++
		s.mu.Unlock()
		fn(api.StateOk)
	}
	s.post(finish)
	return nil
}

// Exit kills the stream and closes it when opened.
func (s *Stream) Exit() error {
	s.Kill()
	if s.Phase() == api.PhaseOpened {
		return s.Close(func(api.State) {})
	}
	return nil
}

func (s *Stream) Ctrl(cmd api.Ctrl, args ...any) error {
	switch cmd {
	case api.CtrlGetSize:
		if p, ok := argAt[*int64](args); ok {
			*p = s.size
			return nil
		}
	case api.CtrlGetOffset:
		if p, ok := argAt[*int64](args); ok {
			*p = s.Offset()
			return nil
		}
	case api.CtrlGetURL:
		if p, ok := argAt[*string](args); ok {
			*p = s.url
			return nil
		}
	case api.CtrlSetTimeout:
		if d, ok := argAt[time.Duration](args); ok {
			if s.Phase() != api.PhaseClosed {
				return api.ErrNotClosed
			}
			s.mu.Lock()
			s.timeout = d
			s.mu.Unlock()
			return nil
		}
	default:
		return api.ErrNotSupported
	}
	return api.ErrInvalidArgument
}

func argAt[T any](args []any) (T, bool) {
	var zero T
	if len(args) == 0 {
		return zero, false
	}
	v, ok := args[0].(T)
	return v, ok
}
