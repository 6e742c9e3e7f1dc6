// control/store.go
// Author: momentics <momentics@gmail.com>
//
// Thread-safe configuration store with atomic snapshots and reload listeners.

package control

import (
	"slices"
	"sync"
	"sync/atomic"
)

// ReloadFunc observes a config change.
type ReloadFunc func(prev, next *Config)

// ConfigStore keeps the live Config. Readers never block.
type ConfigStore struct {
	cur atomic.Pointer[Config]

	mu        sync.Mutex
	listeners []ReloadFunc
}

// NewConfigStore initializes a store with cfg, or the defaults when nil.
func NewConfigStore(cfg *Config) *ConfigStore {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	cs := &ConfigStore{}
	cs.cur.Store(cfg.Clone())
	return cs
}

// Snapshot returns the current config. Callers must not modify it.
func (cs *ConfigStore) Snapshot() *Config {
	return cs.cur.Load()
}

// SetConfig validates and installs cfg, then runs listeners in registration
// order on the calling goroutine.
func (cs *ConfigStore) SetConfig(cfg *Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	cs.mu.Lock()
	prev := cs.cur.Swap(cfg.Clone())
	next := cs.cur.Load()
	listeners := slices.Clone(cs.listeners)
	cs.mu.Unlock()

	for _, fn := range listeners {
		fn(prev, next)
	}
	return nil
}

// OnReload registers a listener called after every SetConfig.
func (cs *ConfigStore) OnReload(fn ReloadFunc) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	cs.listeners = append(cs.listeners, fn)
}
