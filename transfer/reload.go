// File: transfer/reload.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package transfer

import (
	"go.uber.org/zap"

	"github.com/momentics/hioload-stream/control"
	"github.com/momentics/hioload-stream/stream"
)

// PoolConfigFrom maps the runtime config onto a PoolConfig. Stream defaults
// become transfer options.
func PoolConfigFrom(cfg *control.Config, log *zap.Logger) PoolConfig {
	pc := DefaultPoolConfig()
	pc.MaxTasks = cfg.Pool.MaxTasks
	pc.Concurrency = cfg.Pool.Concurrency
	pc.Timeout = cfg.Pool.Timeout.D()
	pc.TotalRate = cfg.Pool.TotalRate
	if cfg.Pool.IdleCap > 0 {
		pc.IdleCap = cfg.Pool.IdleCap
	}
	if log != nil {
		pc.Logger = log
	}
	pc.TransferOptions = []Option{
		WithBlockSize(cfg.Stream.BlockSize),
		WithStreamOptions(stream.WithConfig(stream.Config{
			Timeout:   cfg.Stream.Timeout.D(),
			BlockSize: cfg.Stream.BlockSize,
			WCache:    cfg.Stream.WCache,
		})),
	}
	return pc
}

// Apply adopts the live-tunable parts of cfg: concurrency and total rate.
// The other limits need a new pool.
func (p *Pool) Apply(cfg control.PoolConfig) {
	p.SetConcurrency(cfg.Concurrency)
	p.SetTotalRate(cfg.TotalRate)
	p.log.Info("pool reconfigured",
		zap.Int("concurrency", cfg.Concurrency),
		zap.Int64("total_rate", cfg.TotalRate))
}

// Follow keeps the pool in step with store reloads.
func (p *Pool) Follow(store *control.ConfigStore) {
	store.OnReload(func(prev, next *control.Config) {
		if prev.Pool.Concurrency != next.Pool.Concurrency || prev.Pool.TotalRate != next.Pool.TotalRate {
			p.Apply(next.Pool)
		}
	})
}
