// File: stream/data.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package stream

import (
	"fmt"
	"net/url"

	"github.com/momentics/hioload-stream/api"
	"github.com/momentics/hioload-stream/reactor"
)

// Data is a stream over a fixed in-memory buffer. Reads and writes never
// cross the buffer end; completions still go through the loop.
type Data struct {
	Base
}

// NewData returns a closed data stream with no buffer.
func NewData(port *reactor.Port, opts ...Option) *Data {
	return newData(port, &URL{Kind: api.KindData, Args: url.Values{}}, opts)
}

// NewDataFrom wraps buf. The buffer is borrowed, writes land in it.
func NewDataFrom(port *reactor.Port, buf []byte, opts ...Option) *Data {
	return newData(port, &URL{Kind: api.KindData, Data: buf, Args: url.Values{}}, opts)
}

func newData(port *reactor.Port, u *URL, opts []Option) *Data {
	d := &Data{}
	d.init(port, api.KindData, u, d, buildConfig(opts))
	return d
}

// Bytes returns the underlying buffer.
func (d *Data) Bytes() []byte { return d.url.Data }

func (d *Data) open(done func(api.State)) {
	if err := d.complete(done); err != nil {
		d.fail(err, done)
	}
}

func (d *Data) closeTry() bool { return true }

func (d *Data) close(done func(api.State)) { done(api.StateOk) }

func (d *Data) left() int {
	return max(len(d.url.Data)-int(d.Offset()), 0)
}

func (d *Data) read(size int, done func(api.State, []byte)) error {
	return d.complete(func(st api.State) {
		if st != api.StateOk {
			done(st, nil)
			return
		}
		left := d.left()
		if left == 0 {
			done(api.StateClosed, nil)
			return
		}
		off := int(d.Offset())
		done(api.StateOk, d.url.Data[off:off+min(size, left)])
	})
}

func (d *Data) write(data []byte, done func(api.State, int)) error {
	return d.complete(func(st api.State) {
		if st != api.StateOk {
			done(st, 0)
			return
		}
		off := int(d.pos())
		if off >= len(d.url.Data) {
			done(api.StateClosed, 0)
			return
		}
		done(api.StateOk, copy(d.url.Data[off:], data))
	})
}

func (d *Data) seek(offset int64, done func(api.State, int64)) error {
	if offset > int64(len(d.url.Data)) {
		return fmt.Errorf("seek %d beyond %d: %w", offset, len(d.url.Data), api.ErrInvalidArgument)
	}
	return d.complete(func(st api.State) { done(st, offset) })
}

func (d *Data) sync(_ bool, done func(api.State)) error {
	return d.complete(done)
}

func (d *Data) size() int64 { return int64(len(d.url.Data)) }

func (d *Data) ctrl(cmd api.Ctrl, args []any) error {
	switch cmd {
	case api.CtrlDataSetData:
		if err := d.closedOnly(); err != nil {
			return err
		}
		buf, err := arg[[]byte](args, 0)
		if err != nil {
			return err
		}
		d.mu.Lock()
		d.url = &URL{Kind: api.KindData, Data: buf, Args: url.Values{}}
		d.mu.Unlock()
		return nil
	}
	return api.ErrNotSupported
}
