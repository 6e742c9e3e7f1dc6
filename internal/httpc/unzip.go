// File: internal/httpc/unzip.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package httpc

import (
	"fmt"
	"io"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"

	"github.com/momentics/hioload-stream/api"
)

// lazyReader builds the decoder on first read so that opening never blocks
// on body bytes.
type lazyReader struct {
	body io.ReadCloser
	make func(io.Reader) (io.ReadCloser, error)
	r    io.ReadCloser
	err  error
}

func unzip(body io.ReadCloser, encoding string) (io.ReadCloser, error) {
	switch encoding {
	case "gzip", "x-gzip":
		return &lazyReader{body: body, make: func(r io.Reader) (io.ReadCloser, error) {
			return gzip.NewReader(r)
		}}, nil
	case "deflate":
		return &lazyReader{body: body, make: zlib.NewReader}, nil
	}
	return nil, fmt.Errorf("content encoding %q: %w", encoding, api.ErrNotSupported)
}

func (l *lazyReader) Read(p []byte) (int, error) {
	if l.r == nil && l.err == nil {
		l.r, l.err = l.make(l.body)
	}
	if l.err != nil {
		return 0, l.err
	}
	return l.r.Read(p)
}

func (l *lazyReader) Close() error {
	if l.r != nil {
		_ = l.r.Close()
	}
	return l.body.Close()
}
