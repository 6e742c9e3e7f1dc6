// File: reactor/config.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package reactor

import (
	"crypto/tls"
	"runtime"
	"time"

	"go.uber.org/zap"
)

// Config tunes a Port.
type Config struct {
	// QueueSize is the lock-free inbox capacity of the loop.
	QueueSize int
	// BatchSize bounds completions run per drain pass.
	BatchSize int
	// Workers is the executor core worker count.
	Workers int
	// LoopCPU pins the loop goroutine's OS thread to a CPU. Negative disables.
	LoopCPU int
	// DNSCacheTTL is how long resolved addresses are reused. Zero disables caching.
	DNSCacheTTL time.Duration
}

// DefaultConfig returns a Config suitable for most workloads.
func DefaultConfig() Config {
	return Config{
		QueueSize:   4096,
		BatchSize:   64,
		Workers:     runtime.NumCPU(),
		LoopCPU:     -1,
		DNSCacheTTL: 2 * time.Minute,
	}
}

// Option customizes a Port.
type Option func(*Port)

// WithLogger sets the port logger.
func WithLogger(l *zap.Logger) Option {
	return func(p *Port) {
		if l != nil {
			p.log = l
		}
	}
}

// WithResolver replaces the DNS resolver.
func WithResolver(r Resolver) Option {
	return func(p *Port) {
		if r != nil {
			p.resolver = r
		}
	}
}

// WithTLSConfig sets the base client TLS config used by sock, http and ws
// streams opened on the port.
func WithTLSConfig(cfg *tls.Config) Option {
	return func(p *Port) { p.tls = cfg }
}
