// File: stream/filter.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package stream

import (
	"errors"
	"io"

	"go.uber.org/zap"

	"github.com/momentics/hioload-stream/api"
	"github.com/momentics/hioload-stream/filter"
	"github.com/momentics/hioload-stream/reactor"
)

// flushNeed is the chunk size used when draining a transform.
const flushNeed = 64 << 10

// Filter wraps another stream and pushes its bytes through a transform.
// Open, close and kill are forwarded; reads decode, writes encode.
type Filter struct {
	Base

	under   api.Stream
	owned   bool
	f       filter.Filter
	limited bool
}

// NewFilter wraps under, which stays owned by the caller. f may be nil for
// a pass-through.
func NewFilter(port *reactor.Port, under api.Stream, f filter.Filter, opts ...Option) *Filter {
	s := &Filter{under: under, f: f}
	s.init(port, api.KindFilter, nil, s, buildConfig(opts))
	return s
}

// NewFilterFromURL builds the underlying stream from rawURL; it is exited
// together with the filter.
func NewFilterFromURL(port *reactor.Port, rawURL string, f filter.Filter, opts ...Option) (*Filter, error) {
	under, err := FromURL(port, rawURL, opts...)
	if err != nil {
		return nil, err
	}
	s := NewFilter(port, under, f, opts...)
	s.owned = true
	return s, nil
}

// URL reports the underlying locator.
func (s *Filter) URL() string { return s.under.URL() }

// Stream returns the wrapped stream.
func (s *Filter) Stream() api.Stream { return s.under }

func (s *Filter) open(done func(api.State)) {
	s.limited = false
	if err := s.under.Open(func(st api.State) { done(st) }); err != nil {
		s.fail(err, done)
	}
}

func (s *Filter) kill() { s.under.Kill() }

func (s *Filter) closeTry() bool {
	if s.under.Phase() != api.PhaseClosed {
		return false
	}
	s.resetFilter()
	return true
}

func (s *Filter) close(done func(api.State)) {
	s.resetFilter()
	if s.under.Phase() == api.PhaseClosed {
		done(api.StateOk)
		return
	}
	if err := s.under.Close(func(st api.State) { done(st) }); err != nil {
		s.fail(err, done)
	}
}

func (s *Filter) resetFilter() {
	if s.f != nil {
		s.f.Reset()
	}
}

func (s *Filter) exit() error {
	var errs []error
	if s.f != nil {
		errs = append(errs, s.f.Close())
	}
	if s.owned {
		errs = append(errs, s.under.Exit())
	}
	return errors.Join(errs...)
}

func (s *Filter) read(size int, done func(api.State, []byte)) error {
	if s.f == nil {
		return s.under.Read(size, func(st api.State, data []byte, _ int) bool {
			done(st, data)
			return false
		})
	}
	if !s.limited {
		s.limited = true
		if total := s.under.Size(); total >= 0 {
			s.f.Limit(total - s.under.Offset())
		}
	}

	// cached output or a finished transform needs no underlying read
	flush := filter.FlushNone
	if s.f.EOF() {
		flush = filter.FlushEnd
	}
	out, err := s.f.Spak(nil, size, flush)
	if len(out) > 0 || err != nil {
		st := s.spakState(out, err)
		return s.complete(func(cst api.State) {
			if cst != api.StateOk {
				st = cst
			}
			done(st, out)
		})
	}

	return s.under.Read(size, func(st api.State, data []byte, _ int) bool {
		switch st {
		case api.StateOk:
			out, err := s.f.Spak(data, size, filter.FlushNone)
			if len(out) == 0 && err == nil {
				if !s.f.EOF() {
					// transform wants more input
					return true
				}
				out, err = s.f.Spak(nil, size, filter.FlushEnd)
			}
			done(s.spakState(out, err), out)
		case api.StateClosed:
			out, err := s.f.Spak(nil, size, filter.FlushEnd)
			done(s.spakState(out, err), out)
		default:
			done(st, nil)
		}
		return false
	})
}

func (s *Filter) spakState(out []byte, err error) api.State {
	switch {
	case len(out) > 0:
		return api.StateOk
	case err == nil, errors.Is(err, io.EOF):
		return api.StateClosed
	}
	s.log.Debug("filter spak", zap.Error(err))
	return api.StateUnknownError
}

// writeThrough writes buf fully to the underlying stream.
func (s *Filter) writeThrough(buf []byte, done func(api.State)) error {
	return s.under.Write(buf, func(st api.State, n, size int) bool {
		if st != api.StateOk || n >= size {
			done(st)
			return false
		}
		// the underlying stream continues with the remainder
		return true
	})
}

func (s *Filter) write(data []byte, done func(api.State, int)) error {
	if s.f == nil {
		return s.writeThrough(data, func(st api.State) {
			if st != api.StateOk {
				done(st, 0)
				return
			}
			done(st, len(data))
		})
	}
	out, err := s.f.Spak(data, 0, filter.FlushNone)
	if err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	if len(out) == 0 {
		// consumed by the transform, nothing to forward yet
		return s.complete(func(st api.State) { done(st, len(data)) })
	}
	return s.writeThrough(out, func(st api.State) {
		if st != api.StateOk {
			done(st, 0)
			return
		}
		done(st, len(data))
	})
}

func (s *Filter) sync(closing bool, done func(api.State)) error {
	if s.f == nil {
		return s.under.Sync(closing, func(st api.State, _ bool) { done(st) })
	}
	flush := filter.FlushSoft
	if closing {
		flush = filter.FlushEnd
	}
	var drain func() error
	drain = func() error {
		out, err := s.f.Spak(nil, flushNeed, flush)
		if err != nil && !errors.Is(err, io.EOF) {
			return err
		}
		if len(out) == 0 {
			return s.under.Sync(closing, func(st api.State, _ bool) { done(st) })
		}
		return s.writeThrough(out, func(st api.State) {
			if st != api.StateOk {
				done(st)
				return
			}
			if err := drain(); err != nil {
				done(api.StateOf(err))
			}
		})
	}
	return drain()
}

func (s *Filter) seek(offset int64, done func(api.State, int64)) error {
	if s.f != nil {
		return api.ErrNotSupported
	}
	return s.under.Seek(offset, func(st api.State, off int64) { done(st, off) })
}

func (s *Filter) size() int64 {
	if s.f == nil {
		return s.under.Size()
	}
	return -1
}

func (s *Filter) ctrl(cmd api.Ctrl, args []any) error {
	switch cmd {
	case api.CtrlFilterGetStream:
		return setOut(args, s.under)
	case api.CtrlFilterGetFilter:
		return setOut(args, s.f)
	case api.CtrlFilterSetStream:
		if err := s.closedOnly(); err != nil {
			return err
		}
		under, err := arg[api.Stream](args, 0)
		if err != nil || under == nil {
			return api.ErrInvalidArgument
		}
		s.under, s.owned = under, false
		return nil
	case api.CtrlFilterSetFilter:
		if err := s.closedOnly(); err != nil {
			return err
		}
		if len(args) == 0 || args[0] == nil {
			s.f = nil
			return nil
		}
		f, err := arg[filter.Filter](args, 0)
		if err != nil {
			return err
		}
		s.f = f
		return nil
	}
	return s.under.Ctrl(cmd, args...)
}
