// File: api/pool.go
// Author: momentics <momentics@gmail.com>
//
// Pooling APIs for read buffers, caches and filter output.

package api

// BytePool provides reusable []byte buffers.
type BytePool interface {
	// Acquire returns a slice of length n.
	Acquire(n int) []byte

	// Release returns a buffer to the pool.
	Release(buf []byte)
}
