// File: filter/charset.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package filter

import (
	"errors"
	"fmt"
	"strings"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/simplifiedchinese"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// Charset names a supported character encoding.
type Charset int

const (
	CharsetUTF8 Charset = iota
	CharsetUTF16LE
	CharsetUTF16BE
	CharsetGBK
	CharsetISO8859_1
)

var charsetNames = map[string]Charset{
	"utf-8":      CharsetUTF8,
	"utf8":       CharsetUTF8,
	"utf-16le":   CharsetUTF16LE,
	"utf-16be":   CharsetUTF16BE,
	"utf-16":     CharsetUTF16BE,
	"gbk":        CharsetGBK,
	"gb2312":     CharsetGBK,
	"iso-8859-1": CharsetISO8859_1,
	"iso8859-1":  CharsetISO8859_1,
	"latin1":     CharsetISO8859_1,
}

// ParseCharset resolves a charset label.
func ParseCharset(name string) (Charset, error) {
	if c, ok := charsetNames[strings.ToLower(strings.TrimSpace(name))]; ok {
		return c, nil
	}
	return 0, fmt.Errorf("filter: unknown charset %q", name)
}

func (c Charset) String() string {
	switch c {
	case CharsetUTF8:
		return "utf-8"
	case CharsetUTF16LE:
		return "utf-16le"
	case CharsetUTF16BE:
		return "utf-16be"
	case CharsetGBK:
		return "gbk"
	case CharsetISO8859_1:
		return "iso-8859-1"
	}
	return "unknown"
}

func (c Charset) encoding() (encoding.Encoding, error) {
	switch c {
	case CharsetUTF8:
		return unicode.UTF8, nil
	case CharsetUTF16LE:
		return unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM), nil
	case CharsetUTF16BE:
		return unicode.UTF16(unicode.BigEndian, unicode.IgnoreBOM), nil
	case CharsetGBK:
		return simplifiedchinese.GBK, nil
	case CharsetISO8859_1:
		return charmap.ISO8859_1, nil
	}
	return nil, fmt.Errorf("filter: unsupported charset %d", c)
}

type charsetCodec struct {
	from, to Charset
	t        transform.Transformer
}

// NewCharset returns a Filter converting text from one charset to another.
// Characters the target cannot represent are replaced.
func NewCharset(from, to Charset) (*Base, error) {
	fe, err := from.encoding()
	if err != nil {
		return nil, err
	}
	te, err := to.encoding()
	if err != nil {
		return nil, err
	}
	t := transform.Chain(fe.NewDecoder(), encoding.ReplaceUnsupported(te.NewEncoder()))
	return NewBase(&charsetCodec{from: from, to: to, t: t}), nil
}

func (c *charsetCodec) Code(dst, src []byte, flush Flush) ([]byte, int, error) {
	atEOF := flush == FlushEnd
	consumed := 0
	for {
		if cap(dst)-len(dst) < len(src)*2+16 {
			dst = grow(dst, len(src)*2+16)
		}
		nDst, nSrc, err := c.t.Transform(dst[len(dst):cap(dst)], src[consumed:], atEOF)
		dst = dst[:len(dst)+nDst]
		consumed += nSrc
		switch {
		case err == nil:
			return dst, consumed, nil
		case errors.Is(err, transform.ErrShortDst):
			dst = grow(dst, cap(dst)+64)
		case errors.Is(err, transform.ErrShortSrc):
			// incomplete sequence stays buffered in Base
			return dst, consumed, nil
		default:
			return dst, consumed, err
		}
	}
}

func (c *charsetCodec) Reset() { c.t.Reset() }

func (c *charsetCodec) Close() error { return nil }

func grow(b []byte, n int) []byte {
	nb := make([]byte, len(b), len(b)+n)
	copy(nb, b)
	return nb
}
