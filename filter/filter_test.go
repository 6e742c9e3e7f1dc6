// File: filter/filter_test.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package filter

import (
	"bytes"
	"io"
	"strings"
	"testing"
	"time"
	"unicode"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

// tb is satisfied by both *testing.T and *rapid.T.
type tb interface {
	require.TestingT
	Helper()
}

// pump feeds chunks through f and drains it with a final flush. It stops
// early once the filter reports the end of its stream.
func pump(t tb, f Filter, chunks ...[]byte) []byte {
	t.Helper()
	var out []byte
	for _, c := range chunks {
		b, err := f.Spak(c, 0, FlushNone)
		out = append(out, b...)
		if err == io.EOF {
			return out
		}
		require.NoError(t, err)
	}
	for i := 0; ; i++ {
		require.Less(t, i, 1<<16, "filter never reached eof")
		b, err := f.Spak(nil, 0, FlushEnd)
		out = append(out, b...)
		if err == io.EOF {
			return out
		}
		require.NoError(t, err)
	}
}

func split(data []byte, sizes []int) [][]byte {
	var chunks [][]byte
	for _, n := range sizes {
		if len(data) == 0 {
			break
		}
		n = min(n, len(data))
		chunks = append(chunks, data[:n])
		data = data[n:]
	}
	if len(data) > 0 {
		chunks = append(chunks, data)
	}
	return chunks
}

func TestCacheRegroupsOutput(t *testing.T) {
	f := NewCache()
	defer f.Close()

	b, err := f.Spak([]byte("abc"), 5, FlushNone)
	require.NoError(t, err)
	assert.Nil(t, b)

	b, err = f.Spak([]byte("defg"), 5, FlushNone)
	require.NoError(t, err)
	assert.Equal(t, "abcde", string(b))
	assert.Equal(t, 2, f.Buffered())

	b, err = f.Spak(nil, 5, FlushSoft)
	require.NoError(t, err)
	assert.Equal(t, "fg", string(b))

	b, err = f.Spak(nil, 5, FlushEnd)
	assert.Nil(t, b)
	assert.Equal(t, io.EOF, err)
	assert.True(t, f.EOF())
	assert.Equal(t, int64(7), f.Offset())
}

func TestLimitEndsInput(t *testing.T) {
	f := NewCache()
	f.Limit(4)
	b, err := f.Spak([]byte("data"), 100, FlushNone)
	require.NoError(t, err)
	assert.Equal(t, "data", string(b))
	assert.True(t, f.EOF())
	_, err = f.Spak(nil, 100, FlushNone)
	assert.Equal(t, io.EOF, err)
}

func TestClosedFilter(t *testing.T) {
	f := NewCache()
	require.NoError(t, f.Close())
	_, err := f.Spak([]byte("x"), 0, FlushNone)
	assert.ErrorIs(t, err, ErrClosed)
	f.Reset()
	b, err := f.Spak([]byte("x"), 1, FlushNone)
	require.NoError(t, err)
	assert.Equal(t, "x", string(b))
}

func TestChunkedDecode(t *testing.T) {
	wire := "4;ext=1\r\nWiki\r\n5\r\npedia\r\nE\r\n in\r\n\r\nchunks.\r\n0\r\nX-Trailer: 1\r\n\r\n"
	for _, step := range []int{1, 3, 7, len(wire)} {
		f := NewChunkedDecoder()
		var sizes []int
		for i := 0; i < len(wire); i += step {
			sizes = append(sizes, step)
		}
		out := pump(t, f, split([]byte(wire), sizes)...)
		assert.Equal(t, "Wikipedia in\r\n\r\nchunks.", string(out), "step %d", step)
		assert.True(t, f.EOF())
	}
}

func TestChunkedDecodeMalformed(t *testing.T) {
	f := NewChunkedDecoder()
	_, err := f.Spak([]byte("zz\r\n"), 0, FlushNone)
	assert.ErrorIs(t, err, ErrChunkFormat)

	f = NewChunkedDecoder()
	_, err = f.Spak([]byte("2\r\nabX\r\n"), 0, FlushNone)
	assert.ErrorIs(t, err, ErrChunkFormat)
}

func TestChunkedEncode(t *testing.T) {
	f := NewChunkedEncoder()
	out := pump(t, f, []byte("Wiki"), []byte("pedia!"))
	assert.Equal(t, "4\r\nWiki\r\n6\r\npedia!\r\n0\r\n\r\n", string(out))
}

func TestChunkedRoundTrip(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		data := rapid.SliceOf(rapid.Byte()).Draw(t, "data")
		sizes := rapid.SliceOfN(rapid.IntRange(1, 64), 1, 32).Draw(t, "sizes")

		wire := pump(t, NewChunkedEncoder(), split(data, sizes)...)
		out := pump(t, NewChunkedDecoder(), split(wire, sizes)...)
		if !bytes.Equal(data, out) {
			t.Fatalf("round trip mismatch: %q != %q", out, data)
		}
	})
}

func TestCharsetConvert(t *testing.T) {
	f, err := NewCharset(CharsetUTF8, CharsetUTF16LE)
	require.NoError(t, err)
	out := pump(t, f, []byte("hi"))
	assert.Equal(t, []byte{'h', 0, 'i', 0}, out)

	f, err = NewCharset(CharsetGBK, CharsetUTF8)
	require.NoError(t, err)
	// split inside the two-byte sequence
	out = pump(t, f, []byte{0xC4}, []byte{0xE3, 0xBA}, []byte{0xC3})
	assert.Equal(t, "你好", string(out))
}

func TestParseCharset(t *testing.T) {
	c, err := ParseCharset(" GB2312 ")
	require.NoError(t, err)
	assert.Equal(t, CharsetGBK, c)
	_, err = ParseCharset("ebcdic")
	assert.Error(t, err)
}

func TestCharsetRoundTripLatin1(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		data := rapid.SliceOf(rapid.Byte()).Draw(t, "data")
		sizes := rapid.SliceOfN(rapid.IntRange(1, 32), 1, 16).Draw(t, "sizes")

		enc, err := NewCharset(CharsetISO8859_1, CharsetUTF8)
		if err != nil {
			t.Fatal(err)
		}
		dec, err := NewCharset(CharsetUTF8, CharsetISO8859_1)
		if err != nil {
			t.Fatal(err)
		}
		utf := pump(t, enc, split(data, sizes)...)
		out := pump(t, dec, split(utf, sizes)...)
		if !bytes.Equal(data, out) {
			t.Fatalf("round trip mismatch: %x != %x", out, data)
		}
	})
}

func TestCharsetRoundTripUTF16(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		text := rapid.StringOf(rapid.RuneFrom(nil, unicode.Latin, unicode.Greek, unicode.Han)).Draw(t, "text")
		sizes := rapid.SliceOfN(rapid.IntRange(1, 9), 1, 16).Draw(t, "sizes")
		to := rapid.SampledFrom([]Charset{CharsetUTF16LE, CharsetUTF16BE}).Draw(t, "charset")

		enc, _ := NewCharset(CharsetUTF8, to)
		dec, _ := NewCharset(to, CharsetUTF8)
		wide := pump(t, enc, split([]byte(text), sizes)...)
		out := pump(t, dec, split(wide, sizes)...)
		if string(out) != text {
			t.Fatalf("round trip mismatch: %q != %q", out, text)
		}
	})
}

func TestZipRoundTrip(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		data := rapid.SliceOf(rapid.Byte()).Draw(t, "data")
		sizes := rapid.SliceOfN(rapid.IntRange(1, 512), 1, 16).Draw(t, "sizes")
		algo := rapid.SampledFrom([]Algo{AlgoGzip, AlgoZlib, AlgoRaw}).Draw(t, "algo")

		def, err := NewZip(algo, Deflate)
		if err != nil {
			t.Fatal(err)
		}
		inf, err := NewZip(algo, Inflate)
		if err != nil {
			t.Fatal(err)
		}
		defer inf.Close()

		packed := pump(t, def, split(data, sizes)...)
		out := pump(t, inf, split(packed, sizes)...)
		if !bytes.Equal(data, out) {
			t.Fatalf("%s round trip mismatch: %d bytes != %d bytes", algo, len(out), len(data))
		}
	})
}

func TestInflateStopsAtStreamEnd(t *testing.T) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	_, _ = zw.Write([]byte(strings.Repeat("hello ", 100)))
	require.NoError(t, zw.Close())

	f, err := NewZip(AlgoGzip, Inflate)
	require.NoError(t, err)
	defer f.Close()

	b, err := f.Spak(buf.Bytes(), 1<<20, FlushNone)
	require.NoError(t, err)
	assert.Equal(t, 600, len(b))
	assert.True(t, f.EOF())

	_, err = f.Spak([]byte("trailing"), 0, FlushNone)
	assert.Equal(t, io.EOF, err)
}

func gzipBytes(t *testing.T, data []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	_, err := zw.Write(data)
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

// incompressible returns n bytes that gzip cannot shrink much.
func incompressible(n int) []byte {
	b := make([]byte, n)
	x := uint32(2463534242)
	for i := range b {
		x ^= x << 13
		x ^= x >> 17
		x ^= x << 5
		b[i] = byte(x)
	}
	return b
}

// within fails t when fn does not return in time.
func within(t *testing.T, d time.Duration, fn func()) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		defer close(done)
		fn()
	}()
	select {
	case <-done:
	case <-time.After(d):
		t.Fatal("call did not return")
	}
}

func TestInflateManyChunks(t *testing.T) {
	plain := incompressible(4096)
	packed := gzipBytes(t, plain)
	require.Greater(t, len(packed), 300)

	f, err := NewZip(AlgoGzip, Inflate)
	require.NoError(t, err)
	defer f.Close()

	sizes := make([]int, len(packed)/100+1)
	for i := range sizes {
		sizes[i] = 100
	}
	var out []byte
	within(t, 5*time.Second, func() {
		for _, c := range split(packed, sizes) {
			b, err := f.Spak(c, 0, FlushSoft)
			out = append(out, b...)
			if err != nil {
				assert.Equal(t, io.EOF, err)
				return
			}
		}
		for {
			b, err := f.Spak(nil, 0, FlushEnd)
			out = append(out, b...)
			if err != nil {
				assert.Equal(t, io.EOF, err)
				return
			}
		}
	})
	assert.Equal(t, plain, out)
}

func TestInflateResetMidStream(t *testing.T) {
	packed := gzipBytes(t, incompressible(2048))
	f, err := NewZip(AlgoGzip, Inflate)
	require.NoError(t, err)
	defer f.Close()

	_, err = f.Spak(packed[:len(packed)/2], 0, FlushNone)
	require.NoError(t, err)
	within(t, 5*time.Second, f.Reset)

	// the filter decodes a fresh stream after the reset
	out := pump(t, f, split(packed, []int{64, 64, 64})...)
	assert.Equal(t, incompressible(2048), out)
}

func TestInflateCloseMidStream(t *testing.T) {
	packed := gzipBytes(t, incompressible(2048))
	for _, algo := range []Algo{AlgoGzip, AlgoZlib, AlgoRaw} {
		f, err := NewZip(algo, Inflate)
		require.NoError(t, err)
		if algo == AlgoGzip {
			_, err = f.Spak(packed[:100], 0, FlushNone)
			require.NoError(t, err)
			_, err = f.Spak(packed[100:200], 0, FlushNone)
			require.NoError(t, err)
		}
		within(t, 5*time.Second, func() { assert.NoError(t, f.Close()) })
		within(t, time.Second, func() { assert.NoError(t, f.Close()) })
	}
}

func TestInflateTruncated(t *testing.T) {
	packed := gzipBytes(t, incompressible(2048))
	f, err := NewZip(AlgoGzip, Inflate)
	require.NoError(t, err)
	defer f.Close()

	_, err = f.Spak(packed[:len(packed)-10], 0, FlushNone)
	require.NoError(t, err)
	within(t, 5*time.Second, func() {
		_, err = f.Spak(nil, 0, FlushEnd)
	})
	assert.Error(t, err)
	assert.NotEqual(t, io.EOF, err)
}

func TestInflateCorrupt(t *testing.T) {
	f, err := NewZip(AlgoGzip, Inflate)
	require.NoError(t, err)
	defer f.Close()
	_, err = f.Spak([]byte("definitely not gzip data"), 0, FlushNone)
	assert.Error(t, err)
}

func TestZipReset(t *testing.T) {
	f, err := NewZip(AlgoZlib, Deflate)
	require.NoError(t, err)
	first := pump(t, f, []byte("payload"))
	f.Reset()
	second := pump(t, f, []byte("payload"))
	assert.Equal(t, first, second)
}
