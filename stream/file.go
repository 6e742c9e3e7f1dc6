// File: stream/file.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package stream

import (
	"context"
	"errors"
	"io/fs"
	"net/url"
	"os"
	"strings"
	"sync/atomic"

	"github.com/gofrs/flock"
	"go.uber.org/zap"

	"github.com/momentics/hioload-stream/api"
	"github.com/momentics/hioload-stream/reactor"
)

// File open mode flags.
const (
	FileModeRO = 1 << iota
	FileModeWO
	FileModeRW
	FileModeCreate
	FileModeAppend
	FileModeTrunc
)

// errLocked reports a file held by another exclusive lock.
var errLocked = errors.New("file is locked")

// File is a positional stream over an OS file.
type File struct {
	Base

	mode int
	lock bool

	f     *os.File
	fl    *flock.Flock
	fsize atomic.Int64
}

// NewFile returns a closed file stream for path.
func NewFile(port *reactor.Port, path string, mode int, opts ...Option) *File {
	return newFile(port, &URL{Kind: api.KindFile, Path: path, Args: url.Values{}}, mode, opts)
}

func newFile(port *reactor.Port, u *URL, mode int, opts []Option) *File {
	if mode == 0 {
		mode = parseFileMode(u.Args.Get("mode"))
	}
	f := &File{mode: mode, lock: u.Flag("lock")}
	f.init(port, api.KindFile, u, f, buildConfig(opts))
	return f
}

// parseFileMode reads a mode argument such as "rw+create+trunc".
func parseFileMode(s string) int {
	mode := 0
	for _, part := range strings.FieldsFunc(strings.ToLower(s), func(r rune) bool { return r == '+' || r == ',' || r == '|' || r == ' ' }) {
		switch part {
		case "ro":
			mode |= FileModeRO
		case "wo":
			mode |= FileModeWO
		case "rw":
			mode |= FileModeRW
		case "create":
			mode |= FileModeCreate
		case "append":
			mode |= FileModeAppend
		case "trunc":
			mode |= FileModeTrunc
		}
	}
	if mode == 0 {
		mode = FileModeRO
	}
	return mode
}

func (f *File) flags() int {
	var flags int
	switch {
	case f.mode&FileModeRW != 0:
		flags = os.O_RDWR
	case f.mode&FileModeWO != 0:
		flags = os.O_WRONLY
	default:
		flags = os.O_RDONLY
	}
	if f.mode&FileModeCreate != 0 {
		flags |= os.O_CREATE
	}
	if f.mode&FileModeAppend != 0 {
		flags |= os.O_APPEND
	}
	if f.mode&FileModeTrunc != 0 {
		flags |= os.O_TRUNC
	}
	return flags
}

func (f *File) open(done func(api.State)) {
	path := f.url.Path
	err := f.h.Submit(reactor.Op{Kind: reactor.OpTask, Run: func(context.Context) (int, error) {
		file, err := os.OpenFile(path, f.flags(), 0o644)
		if err != nil {
			st := api.StateFileOpenFailed
			if errors.Is(err, fs.ErrNotExist) {
				st = api.StateFileNotExists
			}
			return 0, &api.StateError{State: st, Op: "open", Err: err}
		}
		if f.lock {
			fl := flock.New(path)
			ok, err := fl.TryLock()
			if err == nil && !ok {
				err = errLocked
			}
			if err != nil {
				_ = file.Close()
				return 0, &api.StateError{State: api.StateFileOpenFailed, Op: "lock", Err: err}
			}
			f.fl = fl
		}
		info, err := file.Stat()
		if err != nil {
			_ = file.Close()
			f.unlock()
			return 0, &api.StateError{State: api.StateFileOpenFailed, Op: "stat", Err: err}
		}
		f.f = file
		f.fsize.Store(info.Size())
		return 0, nil
	}}, func(c reactor.Completion) {
		if c.Err != nil {
			f.log.Debug("file open", zap.String("path", path), zap.Error(c.Err))
		}
		done(c.State)
	})
	if err != nil {
		f.fail(err, done)
	}
}

func (f *File) unlock() {
	if f.fl != nil {
		_ = f.fl.Unlock()
		f.fl = nil
	}
}

func (f *File) closeTry() bool {
	if f.f != nil {
		if err := f.f.Close(); err != nil {
			f.log.Debug("file close", zap.Error(err))
		}
		f.f = nil
	}
	f.unlock()
	f.fsize.Store(0)
	return true
}

func (f *File) close(done func(api.State)) {
	f.closeTry()
	done(api.StateOk)
}

func (f *File) read(size int, done func(api.State, []byte)) error {
	file, off := f.f, f.Offset()
	buf := f.rbuf(size)
	return f.h.Submit(reactor.Op{Kind: reactor.OpRead, Run: func(context.Context) (int, error) {
		n, err := pread(file, buf, off)
		if n > 0 {
			return n, nil
		}
		return n, err
	}}, func(c reactor.Completion) {
		if c.State != api.StateOk {
			done(c.State, nil)
			return
		}
		done(api.StateOk, buf[:c.N])
	})
}

func (f *File) write(data []byte, done func(api.State, int)) error {
	file, off := f.f, f.pos()
	appendMode := f.mode&FileModeAppend != 0
	return f.h.Submit(reactor.Op{Kind: reactor.OpWrite, Run: func(context.Context) (int, error) {
		if appendMode {
			return file.Write(data)
		}
		return pwrite(file, data, off)
	}}, func(c reactor.Completion) {
		if c.State == api.StateOk {
			end := off + int64(c.N)
			for {
				cur := f.fsize.Load()
				if end <= cur || f.fsize.CompareAndSwap(cur, end) {
					break
				}
			}
		}
		done(c.State, c.N)
	})
}

func (f *File) seek(offset int64, done func(api.State, int64)) error {
	return f.complete(func(st api.State) { done(st, offset) })
}

func (f *File) sync(_ bool, done func(api.State)) error {
	file := f.f
	return f.h.Submit(reactor.Op{Kind: reactor.OpSync, Run: func(context.Context) (int, error) {
		return 0, fsync(file)
	}}, func(c reactor.Completion) { done(c.State) })
}

func (f *File) size() int64 { return f.fsize.Load() }

func (f *File) ctrl(cmd api.Ctrl, args []any) error {
	switch cmd {
	case api.CtrlFileGetMode:
		return setOut(args, f.mode)
	case api.CtrlFileSetMode:
		if err := f.closedOnly(); err != nil {
			return err
		}
		mode, err := arg[int](args, 0)
		if err != nil {
			return err
		}
		f.mode = mode
		return nil
	case api.CtrlFileSetLock:
		if err := f.closedOnly(); err != nil {
			return err
		}
		lock, err := arg[bool](args, 0)
		if err != nil {
			return err
		}
		f.lock = lock
		return nil
	}
	return api.ErrNotSupported
}
