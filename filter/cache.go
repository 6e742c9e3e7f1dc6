// File: filter/cache.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package filter

type cacheCodec struct{}

// NewCache returns a pass-through Filter. Output is regrouped into chunks of
// the requested need size, which makes it useful for batching small writes.
func NewCache() *Base { return NewBase(cacheCodec{}) }

func (cacheCodec) Code(dst, src []byte, _ Flush) ([]byte, int, error) {
	return append(dst, src...), len(src), nil
}

func (cacheCodec) Reset() {}

func (cacheCodec) Close() error { return nil }
