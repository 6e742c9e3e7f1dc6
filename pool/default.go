// File: pool/default.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package pool

import "sync"

var (
	defaultOnce sync.Once
	defaultPool *BytePool
)

// Default returns the process-wide byte pool shared by streams and filters.
// It serves 64 B up to 4 MiB.
func Default() *BytePool {
	defaultOnce.Do(func() {
		defaultPool = NewBytePool(64, 4<<20)
	})
	return defaultPool
}
