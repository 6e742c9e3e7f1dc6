// File: filter/filter.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package filter

import (
	"errors"
	"io"
)

// Flush selects how much buffered state a Spak call must emit.
type Flush int

const (
	// FlushNone caches output until need bytes exist.
	FlushNone Flush = iota
	// FlushSoft returns whatever output exists.
	FlushSoft
	// FlushEnd finalizes the codec; no further input is accepted.
	FlushEnd
)

// DefaultNeed is used when a caller asks for "any size".
const DefaultNeed = 8192

// ErrClosed is returned when spaking a closed filter.
var ErrClosed = errors.New("filter: closed")

// Filter is a push-style transform.
type Filter interface {
	// Spak pushes in through the transform and returns up to need bytes of
	// output. A nil slice with a nil error means more input is needed.
	// io.EOF means the transform finished and every byte was returned.
	// The returned slice is valid until the next call.
	Spak(in []byte, need int, flush Flush) ([]byte, error)
	// Push queues input without transforming it.
	Push(in []byte)
	// EOF reports whether the transform reached its end.
	EOF() bool
	// Limit marks the input as ending after n bytes. Negative disables.
	Limit(n int64)
	// Offset returns the number of input bytes pushed so far.
	Offset() int64
	// Reset clears all buffered state for reuse.
	Reset()
	Close() error
}

// Codec is the transform behind a Base.
type Codec interface {
	// Code consumes a prefix of src, appends output to dst and returns the
	// extended slice with the number of bytes consumed. io.EOF signals the
	// end of the coded stream.
	Code(dst, src []byte, flush Flush) ([]byte, int, error)
	Reset()
	Close() error
}

// Base implements Filter over a Codec.
type Base struct {
	codec Codec
	idata []byte
	odata []byte
	opos  int
	out   []byte

	offset int64
	limit  int64
	eof    bool
	closed bool
}

// NewBase wraps codec.
func NewBase(codec Codec) *Base {
	return &Base{codec: codec, limit: -1}
}

// Codec returns the wrapped codec.
func (b *Base) Codec() Codec { return b.codec }

func (b *Base) Push(in []byte) {
	if len(in) == 0 {
		return
	}
	b.idata = append(b.idata, in...)
	b.offset += int64(len(in))
}

func (b *Base) EOF() bool { return b.eof }

func (b *Base) Limit(n int64) { b.limit = n }

func (b *Base) Offset() int64 { return b.offset }

func (b *Base) Reset() {
	b.codec.Reset()
	b.idata = b.idata[:0]
	b.odata = b.odata[:0]
	b.opos = 0
	b.offset = 0
	b.limit = -1
	b.eof = false
	b.closed = false
}

func (b *Base) Close() error {
	if b.closed {
		return nil
	}
	b.closed = true
	return b.codec.Close()
}

// Buffered returns the number of produced bytes not yet returned.
func (b *Base) Buffered() int { return len(b.odata) - b.opos }

func (b *Base) Spak(in []byte, need int, flush Flush) ([]byte, error) {
	if b.closed {
		return nil, ErrClosed
	}
	b.Push(in)
	if b.limit >= 0 && b.offset >= b.limit {
		b.eof = true
	}
	if b.eof {
		flush = FlushEnd
	}
	if need <= 0 {
		need = max(len(in), DefaultNeed)
	}

	// enough cached output already
	if flush == FlushNone && b.Buffered() >= need {
		return b.take(need), nil
	}

	if !b.codecDone() && (len(b.idata) > 0 || flush != FlushNone) {
		b.compact()
		odata, n, err := b.codec.Code(b.odata, b.idata, flush)
		b.odata = odata
		b.idata = b.idata[:copy(b.idata, b.idata[n:])]
		switch {
		case errors.Is(err, io.EOF):
			b.eof = true
			b.idata = b.idata[:0]
		case err != nil:
			return nil, err
		}
		if flush == FlushEnd {
			b.eof = true
		}
	}

	avail := b.Buffered()
	switch {
	case flush == FlushNone && !b.eof:
		if avail >= need {
			return b.take(need), nil
		}
		return nil, nil
	case avail > 0:
		return b.take(min(avail, need)), nil
	case b.eof:
		return nil, io.EOF
	}
	return nil, nil
}

// codecDone reports that the codec already signaled its end.
func (b *Base) codecDone() bool { return b.eof && len(b.idata) == 0 }

func (b *Base) take(n int) []byte {
	b.out = append(b.out[:0], b.odata[b.opos:b.opos+n]...)
	b.opos += n
	if b.opos == len(b.odata) {
		b.odata = b.odata[:0]
		b.opos = 0
	}
	return b.out
}

func (b *Base) compact() {
	if b.opos == 0 {
		return
	}
	n := copy(b.odata, b.odata[b.opos:])
	b.odata = b.odata[:n]
	b.opos = 0
}
