// File: stream/ctrl.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package stream

import (
	"fmt"
	"time"

	"github.com/momentics/hioload-stream/api"
)

// Ctrl handles the commands shared by every backend and forwards the rest.
func (b *Base) Ctrl(cmd api.Ctrl, args ...any) error {
	switch cmd {
	case api.CtrlGetSize:
		return setOut(args, b.Size())
	case api.CtrlGetOffset:
		return setOut(args, b.Offset())
	case api.CtrlGetTimeout:
		return setOut(args, b.Timeout())
	case api.CtrlSetWCache:
		n, err := arg[int](args, 0)
		if err != nil || n < 0 {
			return api.ErrInvalidArgument
		}
		b.mu.Lock()
		b.wcacheMax = n
		b.mu.Unlock()
		return nil
	case api.CtrlSetTimeout:
		d, err := arg[time.Duration](args, 0)
		if err != nil {
			return err
		}
		if b.Phase() != api.PhaseClosed {
			return api.ErrNotClosed
		}
		b.setTimeout(d)
		return nil
	}
	if b.url != nil {
		if handled, err := b.urlCtrl(cmd, args); handled {
			return err
		}
	}
	return b.impl.ctrl(cmd, args)
}

func (b *Base) urlCtrl(cmd api.Ctrl, args []any) (bool, error) {
	switch cmd {
	case api.CtrlGetURL:
		return true, setOut(args, b.URL())
	case api.CtrlGetHost:
		return true, setOut(args, b.url.Host)
	case api.CtrlGetPort:
		return true, setOut(args, b.url.Port)
	case api.CtrlGetPath:
		return true, setOut(args, b.url.Path)
	case api.CtrlGetSSL:
		return true, setOut(args, b.url.SSL)
	case api.CtrlSetURL, api.CtrlSetHost, api.CtrlSetPort, api.CtrlSetPath, api.CtrlSetSSL:
	default:
		return false, nil
	}
	if b.Phase() != api.PhaseClosed {
		return true, api.ErrNotClosed
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	switch cmd {
	case api.CtrlSetURL:
		raw, err := arg[string](args, 0)
		if err != nil {
			return true, err
		}
		u, err := ParseURL(raw)
		if err != nil {
			return true, err
		}
		if u.Kind != b.kind {
			return true, fmt.Errorf("%s url on %s stream: %w", u.Kind, b.kind, api.ErrInvalidArgument)
		}
		b.url = u
	case api.CtrlSetHost:
		h, err := arg[string](args, 0)
		if err != nil {
			return true, err
		}
		if h, err = normalizeHost(h); err != nil {
			return true, err
		}
		b.url.Host = h
	case api.CtrlSetPort:
		p, err := arg[int](args, 0)
		if err != nil || p <= 0 || p > 65535 {
			return true, api.ErrInvalidArgument
		}
		b.url.Port = p
	case api.CtrlSetPath:
		p, err := arg[string](args, 0)
		if err != nil {
			return true, err
		}
		b.url.Path = p
	case api.CtrlSetSSL:
		v, err := arg[bool](args, 0)
		if err != nil {
			return true, err
		}
		b.url.SSL = v
	}
	return true, nil
}

// arg extracts args[i] as T.
func arg[T any](args []any, i int) (T, error) {
	var zero T
	if i >= len(args) {
		return zero, fmt.Errorf("missing argument %d: %w", i, api.ErrInvalidArgument)
	}
	v, ok := args[i].(T)
	if !ok {
		return zero, fmt.Errorf("argument %d has type %T: %w", i, args[i], api.ErrInvalidArgument)
	}
	return v, nil
}

// setOut stores v through the *T in args[0].
func setOut[T any](args []any, v T) error {
	p, err := arg[*T](args, 0)
	if err != nil {
		return err
	}
	if p == nil {
		return api.ErrInvalidArgument
	}
	*p = v
	return nil
}

// closedOnly rejects setters unless the stream is closed.
func (b *Base) closedOnly() error {
	if b.Phase() != api.PhaseClosed {
		return api.ErrNotClosed
	}
	return nil
}
