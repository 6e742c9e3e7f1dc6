// File: pool/bytepool.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Size-class byte pool. Classes are powers of two between a minimum and a
// maximum; larger requests are allocated directly and dropped on release.

package pool

import (
	"math/bits"
	"sync/atomic"

	"github.com/momentics/hioload-stream/api"
)

var _ api.BytePool = (*BytePool)(nil)

// Stats counts pool traffic.
type Stats struct {
	Acquired uint64
	Released uint64
	Missed   uint64
}

// BytePool hands out []byte from power-of-two size classes.
type BytePool struct {
	minShift uint
	classes  []*SyncPool[*[]byte]

	acquired atomic.Uint64
	released atomic.Uint64
	missed   atomic.Uint64
}

// NewBytePool creates a pool serving sizes up to maxSize.
func NewBytePool(minSize, maxSize int) *BytePool {
	if minSize < 64 {
		minSize = 64
	}
	if maxSize < minSize {
		maxSize = minSize
	}
	minShift := shiftFor(minSize)
	maxShift := shiftFor(maxSize)
	p := &BytePool{minShift: minShift}
	for s := minShift; s <= maxShift; s++ {
		size := 1 << s
		p.classes = append(p.classes, NewSyncPool(func() *[]byte {
			p.missed.Add(1)
			b := make([]byte, size)
			return &b
		}))
	}
	return p
}

// Acquire returns a slice of length n.
func (p *BytePool) Acquire(n int) []byte {
	if n <= 0 {
		return nil
	}
	p.acquired.Add(1)
	idx := p.classFor(n)
	if idx < 0 {
		p.missed.Add(1)
		return make([]byte, n)
	}
	b := p.classes[idx].Get()
	return (*b)[:n]
}

// Release returns buf to its class. Foreign sizes are dropped.
func (p *BytePool) Release(buf []byte) {
	c := cap(buf)
	if c == 0 || c&(c-1) != 0 {
		return
	}
	idx := int(shiftFor(c)) - int(p.minShift)
	if idx < 0 || idx >= len(p.classes) {
		return
	}
	p.released.Add(1)
	buf = buf[:c]
	p.classes[idx].Put(&buf)
}

// Stats returns traffic counters.
func (p *BytePool) Stats() Stats {
	return Stats{Acquired: p.acquired.Load(), Released: p.released.Load(), Missed: p.missed.Load()}
}

func (p *BytePool) classFor(n int) int {
	idx := int(shiftFor(n)) - int(p.minShift)
	if idx < 0 {
		idx = 0
	}
	if idx >= len(p.classes) {
		return -1
	}
	return idx
}

// shiftFor returns the smallest s with 1<<s >= n.
func shiftFor(n int) uint {
	if n <= 1 {
		return 0
	}
	return uint(bits.Len(uint(n - 1)))
}
