// File: stream/config.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package stream

import (
	"time"

	"go.uber.org/zap"
)

// Config holds per-stream defaults.
type Config struct {
	// Timeout applies to connect, recv and send primitives. Zero disables.
	Timeout time.Duration
	// BlockSize is used by reads that ask for size <= 0.
	BlockSize int
	// WCache enables the write cache with the given threshold when > 0.
	WCache int
	Logger *zap.Logger
}

// DefaultConfig returns the defaults used by constructors.
func DefaultConfig() Config {
	return Config{
		Timeout:   10 * time.Second,
		BlockSize: 8192,
		Logger:    zap.NewNop(),
	}
}

// Option customizes a stream at construction.
type Option func(*Config)

// WithConfig replaces the whole config. Zero fields keep defaults.
func WithConfig(c Config) Option {
	return func(cfg *Config) {
		if c.Timeout > 0 {
			cfg.Timeout = c.Timeout
		}
		if c.BlockSize > 0 {
			cfg.BlockSize = c.BlockSize
		}
		if c.WCache > 0 {
			cfg.WCache = c.WCache
		}
		if c.Logger != nil {
			cfg.Logger = c.Logger
		}
	}
}

// WithTimeout sets the primitive timeout.
func WithTimeout(d time.Duration) Option {
	return func(cfg *Config) { cfg.Timeout = d }
}

// WithBlockSize sets the default read size.
func WithBlockSize(n int) Option {
	return func(cfg *Config) {
		if n > 0 {
			cfg.BlockSize = n
		}
	}
}

// WithWCache enables the write cache.
func WithWCache(n int) Option {
	return func(cfg *Config) { cfg.WCache = n }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(cfg *Config) {
		if l != nil {
			cfg.Logger = l
		}
	}
}

func buildConfig(opts []Option) Config {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}
