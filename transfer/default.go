// File: transfer/default.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package transfer

import (
	"sync"

	"go.uber.org/zap"
)

var (
	defaultMu   sync.Mutex
	defaultPool *Pool
)

// Default returns the process-wide pool, building an unlimited one on its
// own port at first use.
func Default() *Pool {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	if defaultPool == nil {
		p, err := NewPool(nil, DefaultPoolConfig())
		if err != nil {
			// the default config is always valid
			zap.L().Error("default transfer pool", zap.Error(err))
			return nil
		}
		defaultPool = p
	}
	return defaultPool
}

// SetDefault replaces the process-wide pool and returns the previous one,
// which the caller exits. A nil p makes the next Default build a new pool.
func SetDefault(p *Pool) *Pool {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	prev := defaultPool
	defaultPool = p
	return prev
}
