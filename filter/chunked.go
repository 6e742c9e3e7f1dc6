// File: filter/chunked.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package filter

import (
	"errors"
	"io"
	"strconv"
)

// ErrChunkFormat reports malformed chunked transfer coding.
var ErrChunkFormat = errors.New("filter: malformed chunk")

type chunkState int

const (
	chunkSize chunkState = iota
	chunkData
	chunkDataCRLF
	chunkTrailer
	chunkDone
)

// maxChunkLine bounds a size or trailer line.
const maxChunkLine = 4096

type chunkedDecoder struct {
	state chunkState
	left  int64
	line  []byte
}

// NewChunkedDecoder returns a Filter decoding HTTP/1.1 chunked transfer
// coding. Extensions are ignored; trailers are consumed and discarded.
func NewChunkedDecoder() *Base { return NewBase(&chunkedDecoder{}) }

func (d *chunkedDecoder) Code(dst, src []byte, flush Flush) ([]byte, int, error) {
	i := 0
	for i < len(src) && d.state != chunkDone {
		switch d.state {
		case chunkData:
			n := int(min(int64(len(src)-i), d.left))
			dst = append(dst, src[i:i+n]...)
			i += n
			d.left -= int64(n)
			if d.left == 0 {
				d.state = chunkDataCRLF
			}
		default:
			c := src[i]
			i++
			if c != '\n' {
				if len(d.line) >= maxChunkLine {
					return dst, i, ErrChunkFormat
				}
				d.line = append(d.line, c)
				continue
			}
			if err := d.endLine(); err != nil {
				return dst, i, err
			}
		}
	}
	if d.state == chunkDone {
		return dst, len(src), io.EOF
	}
	return dst, i, nil
}

func (d *chunkedDecoder) endLine() error {
	line := d.line
	if n := len(line); n > 0 && line[n-1] == '\r' {
		line = line[:n-1]
	}
	d.line = d.line[:0]
	switch d.state {
	case chunkDataCRLF:
		if len(line) != 0 {
			return ErrChunkFormat
		}
		d.state = chunkSize
	case chunkSize:
		for j, c := range line {
			if c == ';' || c == ' ' || c == '\t' {
				line = line[:j]
				break
			}
		}
		if len(line) == 0 {
			return ErrChunkFormat
		}
		n, err := strconv.ParseInt(string(line), 16, 64)
		if err != nil || n < 0 {
			return ErrChunkFormat
		}
		if n == 0 {
			d.state = chunkTrailer
			return nil
		}
		d.left = n
		d.state = chunkData
	case chunkTrailer:
		if len(line) == 0 {
			d.state = chunkDone
		}
	}
	return nil
}

func (d *chunkedDecoder) Reset() { *d = chunkedDecoder{line: d.line[:0]} }

func (d *chunkedDecoder) Close() error { return nil }

type chunkedEncoder struct {
	ended bool
}

// NewChunkedEncoder returns a Filter producing chunked transfer coding. Each
// non-empty input becomes one chunk; FlushEnd appends the last chunk.
func NewChunkedEncoder() *Base { return NewBase(&chunkedEncoder{}) }

func (e *chunkedEncoder) Code(dst, src []byte, flush Flush) ([]byte, int, error) {
	if e.ended {
		return dst, len(src), io.EOF
	}
	if len(src) > 0 {
		dst = strconv.AppendInt(dst, int64(len(src)), 16)
		dst = append(dst, '\r', '\n')
		dst = append(dst, src...)
		dst = append(dst, '\r', '\n')
	}
	if flush == FlushEnd {
		e.ended = true
		dst = append(dst, "0\r\n\r\n"...)
	}
	return dst, len(src), nil
}

func (e *chunkedEncoder) Reset() { e.ended = false }

func (e *chunkedEncoder) Close() error { return nil }
