// control/config.go
// Author: momentics <momentics@gmail.com>
//
// Typed runtime configuration for the loop, streams, the transfer pool,
// logging and metrics.

package control

import (
	"fmt"
	"runtime"
	"time"

	"github.com/momentics/hioload-stream/api"
)

// Config is the complete runtime configuration.
type Config struct {
	Loop    LoopConfig    `yaml:"loop" toml:"loop" env:"LOOP"`
	Stream  StreamConfig  `yaml:"stream" toml:"stream" env:"STREAM"`
	Pool    PoolConfig    `yaml:"pool" toml:"pool" env:"POOL"`
	Log     LogConfig     `yaml:"log" toml:"log" env:"LOG"`
	Metrics MetricsConfig `yaml:"metrics" toml:"metrics" env:"METRICS"`
}

// LoopConfig tunes the completion port.
type LoopConfig struct {
	QueueSize int `yaml:"queue_size" toml:"queue_size" env:"QUEUE_SIZE"`
	Workers   int `yaml:"workers" toml:"workers" env:"WORKERS"`
	// CPU pins the loop thread. Negative disables pinning.
	CPU         int      `yaml:"cpu" toml:"cpu" env:"CPU"`
	DNSCacheTTL Duration `yaml:"dns_cache_ttl" toml:"dns_cache_ttl" env:"DNS_CACHE_TTL"`
}

// StreamConfig holds stream defaults.
type StreamConfig struct {
	Timeout   Duration `yaml:"timeout" toml:"timeout" env:"TIMEOUT"`
	BlockSize int      `yaml:"block_size" toml:"block_size" env:"BLOCK_SIZE"`
	WCache    int      `yaml:"wcache" toml:"wcache" env:"WCACHE"`
}

// PoolConfig holds transfer pool limits. Zero limits are unlimited.
type PoolConfig struct {
	MaxTasks    int      `yaml:"max_tasks" toml:"max_tasks" env:"MAX_TASKS"`
	Concurrency int      `yaml:"concurrency" toml:"concurrency" env:"CONCURRENCY"`
	Timeout     Duration `yaml:"timeout" toml:"timeout" env:"TIMEOUT"`
	TotalRate   int64    `yaml:"total_rate" toml:"total_rate" env:"TOTAL_RATE"`
	IdleCap     int      `yaml:"idle_cap" toml:"idle_cap" env:"IDLE_CAP"`
}

// LogConfig selects level, encoding and outputs. A non-empty File enables
// rotation.
type LogConfig struct {
	Level       string   `yaml:"level" toml:"level" env:"LEVEL"`
	Format      string   `yaml:"format" toml:"format" env:"FORMAT"`
	OutputPaths []string `yaml:"output_paths" toml:"output_paths" env:"OUTPUT_PATHS"`
	File        string   `yaml:"file" toml:"file" env:"FILE"`
	MaxSizeMB   int      `yaml:"max_size_mb" toml:"max_size_mb" env:"MAX_SIZE_MB"`
	MaxBackups  int      `yaml:"max_backups" toml:"max_backups" env:"MAX_BACKUPS"`
	MaxAgeDays  int      `yaml:"max_age_days" toml:"max_age_days" env:"MAX_AGE_DAYS"`
	Compress    bool     `yaml:"compress" toml:"compress" env:"COMPRESS"`
}

// MetricsConfig controls the prometheus endpoint.
type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled" toml:"enabled" env:"ENABLED"`
	Namespace string `yaml:"namespace" toml:"namespace" env:"NAMESPACE"`
	Listen    string `yaml:"listen" toml:"listen" env:"LISTEN"`
}

// Duration is a time.Duration read from strings like "1.5s" in every format.
type Duration time.Duration

// D returns the value as a time.Duration.
func (d Duration) D() time.Duration { return time.Duration(d) }

func (d Duration) String() string { return time.Duration(d).String() }

// UnmarshalText implements encoding.TextUnmarshaler, used by yaml, toml and env.
func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(string(b))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() *Config {
	return &Config{
		Loop: LoopConfig{
			QueueSize:   4096,
			Workers:     runtime.NumCPU(),
			CPU:         -1,
			DNSCacheTTL: Duration(2 * time.Minute),
		},
		Stream: StreamConfig{
			Timeout:   Duration(10 * time.Second),
			BlockSize: 8192,
		},
		Pool: PoolConfig{
			IdleCap: 16,
		},
		Log: LogConfig{
			Level:       "info",
			Format:      "json",
			OutputPaths: []string{"stderr"},
			MaxSizeMB:   100,
		},
		Metrics: MetricsConfig{
			Namespace: "hioload",
			Listen:    ":9090",
		},
	}
}

// Validate rejects negative limits and unknown log settings.
func (c *Config) Validate() error {
	switch {
	case c.Loop.QueueSize < 0, c.Loop.Workers < 0:
		return fmt.Errorf("loop: negative size: %w", api.ErrInvalidArgument)
	case c.Stream.Timeout < 0, c.Stream.BlockSize < 0, c.Stream.WCache < 0:
		return fmt.Errorf("stream: negative value: %w", api.ErrInvalidArgument)
	case c.Pool.MaxTasks < 0, c.Pool.Concurrency < 0, c.Pool.TotalRate < 0, c.Pool.IdleCap < 0, c.Pool.Timeout < 0:
		return fmt.Errorf("pool: negative value: %w", api.ErrInvalidArgument)
	}
	switch c.Log.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log level %q: %w", c.Log.Level, api.ErrInvalidArgument)
	}
	switch c.Log.Format {
	case "", "json", "console":
	default:
		return fmt.Errorf("log format %q: %w", c.Log.Format, api.ErrInvalidArgument)
	}
	return nil
}

// Clone returns a deep copy.
func (c *Config) Clone() *Config {
	out := *c
	out.Log.OutputPaths = append([]string(nil), c.Log.OutputPaths...)
	return &out
}
