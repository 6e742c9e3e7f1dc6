// File: filter/zip.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package filter

import (
	"bytes"
	"fmt"
	"io"

	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"
)

// Algo selects the zip container format.
type Algo int

const (
	AlgoGzip Algo = iota
	AlgoZlib
	AlgoRaw // bare deflate
)

func (a Algo) String() string {
	switch a {
	case AlgoGzip:
		return "gzip"
	case AlgoZlib:
		return "zlib"
	case AlgoRaw:
		return "deflate"
	}
	return "unknown"
}

// ParseAlgo maps a Content-Encoding token to an Algo.
func ParseAlgo(name string) (Algo, bool) {
	switch name {
	case "gzip", "x-gzip":
		return AlgoGzip, true
	case "deflate":
		return AlgoZlib, true
	case "raw", "raw-deflate":
		return AlgoRaw, true
	}
	return 0, false
}

// Action selects the zip direction.
type Action int

const (
	Inflate Action = iota
	Deflate
)

// NewZip returns a Filter compressing or decompressing with algo.
func NewZip(algo Algo, action Action) (*Base, error) {
	if algo < AlgoGzip || algo > AlgoRaw {
		return nil, fmt.Errorf("filter: unsupported zip algo %d", algo)
	}
	if action == Deflate {
		d := &deflater{algo: algo}
		if err := d.init(); err != nil {
			return nil, err
		}
		return NewBase(d), nil
	}
	f := &inflater{algo: algo}
	f.start()
	return NewBase(f), nil
}

type flushWriteCloser interface {
	io.WriteCloser
	Flush() error
}

type deflater struct {
	algo  Algo
	buf   bytes.Buffer
	w     flushWriteCloser
	ended bool
}

func (d *deflater) init() error {
	var err error
	switch d.algo {
	case AlgoGzip:
		d.w = gzip.NewWriter(&d.buf)
	case AlgoZlib:
		d.w = zlib.NewWriter(&d.buf)
	case AlgoRaw:
		d.w, err = flate.NewWriter(&d.buf, flate.DefaultCompression)
	}
	return err
}

func (d *deflater) Code(dst, src []byte, flush Flush) ([]byte, int, error) {
	if d.ended {
		return dst, len(src), io.EOF
	}
	if len(src) > 0 {
		if _, err := d.w.Write(src); err != nil {
			return dst, 0, err
		}
	}
	var err error
	switch flush {
	case FlushSoft:
		err = d.w.Flush()
	case FlushEnd:
		d.ended = true
		err = d.w.Close()
	}
	dst = append(dst, d.buf.Bytes()...)
	d.buf.Reset()
	return dst, len(src), err
}

func (d *deflater) Reset() {
	d.buf.Reset()
	d.ended = false
	switch w := d.w.(type) {
	case *gzip.Writer:
		w.Reset(&d.buf)
	case *zlib.Writer:
		w.Reset(&d.buf)
	case *flate.Writer:
		w.Reset(&d.buf)
	}
}

func (d *deflater) Close() error {
	if d.ended {
		return nil
	}
	d.ended = true
	return d.w.Close()
}

// inflater adapts the pull-style decompressors to push input. The reader side
// runs on its own goroutine and hands control back every time it needs input,
// so Code returns only after everything derivable from src was produced.
type inflater struct {
	algo Algo

	in     chan []byte
	hungry chan struct{}
	done   chan struct{}
	cur    []byte

	inOpen   bool
	parked   bool // hungry was taken; the reader waits on in
	finished bool

	out []byte
	err error
}

func (f *inflater) start() {
	f.in = make(chan []byte)
	f.hungry = make(chan struct{})
	f.done = make(chan struct{})
	f.inOpen = true
	f.parked = false
	f.finished = false
	f.cur = nil
	f.out = f.out[:0]
	f.err = nil
	go f.run()
}

// Read feeds the decompressor; it blocks until Code supplies a chunk.
func (f *inflater) Read(p []byte) (int, error) {
	for len(f.cur) == 0 {
		f.hungry <- struct{}{}
		chunk, ok := <-f.in
		if !ok {
			return 0, io.EOF
		}
		f.cur = chunk
	}
	n := copy(p, f.cur)
	f.cur = f.cur[n:]
	return n, nil
}

func (f *inflater) run() {
	defer close(f.done)
	var (
		r   io.Reader
		err error
	)
	switch f.algo {
	case AlgoGzip:
		var zr *gzip.Reader
		if zr, err = gzip.NewReader(f); err == nil {
			zr.Multistream(false)
			r = zr
		}
	case AlgoZlib:
		r, err = zlib.NewReader(f)
	case AlgoRaw:
		r = flate.NewReader(f)
	}
	if err != nil {
		f.err = err
		return
	}
	buf := make([]byte, 16<<10)
	for {
		n, rerr := r.Read(buf)
		f.out = append(f.out, buf[:n]...)
		if rerr != nil {
			f.err = rerr
			return
		}
	}
}

// wait blocks until the reader needs input or finished. It reports whether
// the reader is still alive.
func (f *inflater) wait() bool {
	if f.parked {
		return true
	}
	select {
	case <-f.hungry:
		f.parked = true
		return true
	case <-f.done:
		return false
	}
}

// finish closes the input and waits for the reader to exit.
func (f *inflater) finish() {
	for {
		if f.parked && f.inOpen {
			f.inOpen = false
			close(f.in)
		}
		select {
		case <-f.hungry:
			f.parked = true
		case <-f.done:
			f.parked = false
			return
		}
	}
}

func (f *inflater) Code(dst, src []byte, flush Flush) ([]byte, int, error) {
	alive := !f.finished
	if alive && len(src) > 0 {
		if alive = f.wait(); alive {
			f.parked = false
			f.in <- src
			alive = f.wait()
		}
	}
	if alive && flush == FlushEnd {
		f.finish()
		alive = false
	}
	// hand-offs over the channels order every write to f.out before this read
	dst = append(dst, f.out...)
	f.out = f.out[:0]
	if alive {
		// reader is parked in Read; the chunk is fully consumed
		return dst, len(src), nil
	}
	f.finished = true
	if f.err == nil || f.err == io.EOF {
		return dst, len(src), io.EOF
	}
	return dst, len(src), f.err
}

func (f *inflater) Reset() {
	f.finish()
	f.start()
}

func (f *inflater) Close() error {
	f.finish()
	return nil
}
