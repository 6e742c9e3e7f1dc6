// File: transfer/config.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package transfer

import (
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/momentics/hioload-stream/stream"
)

const (
	// defaultBlockSize is the read size of an unlimited copy.
	defaultBlockSize = 8192
	// maxLimitedRead caps one read under a rate limit.
	maxLimitedRead = 64 << 10
)

// Config tunes a Transfer.
type Config struct {
	// BlockSize is the read size used when no rate limit is set.
	BlockSize int
	// Timeout is applied to both streams before open. Zero keeps the stream default.
	Timeout time.Duration
	Logger  *zap.Logger
	// StreamOptions are passed to streams the transfer builds from URLs.
	StreamOptions []stream.Option

	limiter *rate.Limiter
}

// Option customizes a Transfer.
type Option func(*Config)

func defaultConfig() Config {
	return Config{
		BlockSize: defaultBlockSize,
		Logger:    zap.NewNop(),
	}
}

func buildConfig(opts []Option) Config {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Config) {
		if l != nil {
			c.Logger = l
		}
	}
}

// WithBlockSize sets the unlimited read size.
func WithBlockSize(n int) Option {
	return func(c *Config) {
		if n > 0 {
			c.BlockSize = n
		}
	}
}

// WithTimeout sets the stream timeout applied before open.
func WithTimeout(d time.Duration) Option {
	return func(c *Config) { c.Timeout = d }
}

// WithStreamOptions appends options for URL-built streams.
func WithStreamOptions(opts ...stream.Option) Option {
	return func(c *Config) { c.StreamOptions = append(c.StreamOptions, opts...) }
}

// WithLimiter shares an aggregate bandwidth limiter with other transfers.
func WithLimiter(l *rate.Limiter) Option {
	return func(c *Config) { c.limiter = l }
}
