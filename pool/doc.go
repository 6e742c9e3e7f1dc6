// Package pool
// Author: momentics <momentics@gmail.com>
//
// Buffer pooling for stream read caches, filter output and transfer blocks.
// See bytepool.go for the size-class pool and objpool.go for the generic
// sync.Pool wrapper.
package pool
