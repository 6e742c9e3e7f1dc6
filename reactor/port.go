// File: reactor/port.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Port wires the completion loop, the executor and the timer scheduler.

package reactor

import (
	"crypto/tls"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/momentics/hioload-stream/affinity"
	"github.com/momentics/hioload-stream/api"
	"github.com/momentics/hioload-stream/internal/concurrency"
)

var _ api.GracefulShutdown = (*Port)(nil)

// Port is the event loop / completion port.
type Port struct {
	cfg      Config
	loop     *concurrency.EventLoop
	exec     *concurrency.Executor
	sched    *concurrency.Scheduler
	resolver Resolver
	tls      *tls.Config
	log      *zap.Logger

	started  atomic.Bool
	stopOnce sync.Once
	handles  atomic.Int64

	hookMu  sync.Mutex
	onStop  []func()
	stopped bool
}

// Stats is a point-in-time view of the port.
type Stats struct {
	Pending   int
	Processed uint64
	Executed  uint64
	Overflow  int
	Timers    int
	Handles   int64
}

// New constructs a Port. Call Start or Run before submitting work.
func New(cfg Config, opts ...Option) (*Port, error) {
	def := DefaultConfig()
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = def.QueueSize
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}
	if cfg.LoopCPU >= runtime.NumCPU() {
		return nil, fmt.Errorf("reactor: loop cpu %d out of range: %w", cfg.LoopCPU, api.ErrInvalidArgument)
	}
	p := &Port{
		cfg:   cfg,
		loop:  concurrency.NewEventLoop(cfg.BatchSize, cfg.QueueSize),
		exec:  concurrency.NewExecutor(cfg.Workers),
		sched: concurrency.NewScheduler(),
		log:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.resolver == nil {
		p.resolver = NewCacheResolver(NewDefaultResolver(), cfg.DNSCacheTTL)
	}
	p.log = p.log.With(zap.String("component", "reactor"))
	onPanic := func(v any) {
		p.log.Error("recovered panic in completion", zap.Any("panic", v), zap.Stack("stack"))
	}
	p.loop.OnPanic(onPanic)
	p.exec.OnPanic(onPanic)
	return p, nil
}

// Start runs the loop on a new goroutine.
func (p *Port) Start() {
	if !p.started.CompareAndSwap(false, true) {
		return
	}
	go p.run()
}

// Run runs the loop on the calling goroutine until Stop.
func (p *Port) Run() {
	if !p.started.CompareAndSwap(false, true) {
		return
	}
	p.run()
}

func (p *Port) run() {
	if p.cfg.LoopCPU >= 0 {
		runtime.LockOSThread()
		defer runtime.UnlockOSThread()
		if err := affinity.SetAffinity(p.cfg.LoopCPU); err != nil {
			p.log.Warn("loop pinning failed", zap.Int("cpu", p.cfg.LoopCPU), zap.Error(err))
		}
	}
	p.log.Debug("loop started")
	p.loop.Run()
	p.log.Debug("loop stopped")
}

// Stop stops the scheduler, drains the executor and stops the loop.
// Completions already queued still run.
func (p *Port) Stop() {
	p.stopOnce.Do(func() {
		p.sched.Stop()
		p.exec.Close()
		if !p.started.Load() {
			// nobody will drain the inbox otherwise
			p.started.Store(true)
			go p.loop.Run()
		}
		p.loop.Stop()

		p.hookMu.Lock()
		hooks := p.onStop
		p.onStop, p.stopped = nil, true
		p.hookMu.Unlock()
		for _, fn := range hooks {
			fn()
		}
	})
}

// OnStop registers fn to run once the port stops. fn runs immediately when
// the port already stopped.
func (p *Port) OnStop(fn func()) {
	p.hookMu.Lock()
	if !p.stopped {
		p.onStop = append(p.onStop, fn)
		p.hookMu.Unlock()
		return
	}
	p.hookMu.Unlock()
	fn()
}

// Shutdown implements api.GracefulShutdown.
func (p *Port) Shutdown() error {
	if p.InLoop() {
		return fmt.Errorf("reactor: shutdown from loop goroutine: %w", api.ErrInvalidArgument)
	}
	p.Stop()
	return nil
}

// Post runs fn on the loop goroutine.
func (p *Port) Post(fn func()) error {
	return p.loop.Post(fn)
}

// After runs fn on the loop goroutine once d elapsed.
func (p *Port) After(d time.Duration, fn func()) (api.Cancelable, error) {
	t, err := p.sched.After(d, func() {
		if err := p.loop.Post(fn); err != nil {
			p.log.Debug("timer dropped", zap.Error(err))
		}
	})
	if err != nil {
		return nil, err
	}
	return t, nil
}

// Time returns the monotonic loop time since the port was created.
func (p *Port) Time() time.Duration {
	return time.Duration(p.sched.Now())
}

// InLoop reports whether the caller runs on the loop goroutine.
func (p *Port) InLoop() bool { return p.loop.InLoop() }

// Resolver returns the DNS resolver.
func (p *Port) Resolver() Resolver { return p.resolver }

// TLSConfig returns the client config for host derived from the port base.
func (p *Port) TLSConfig(host string) *tls.Config { return TLSConfig(p.tls, host) }

// Logger returns the port logger.
func (p *Port) Logger() *zap.Logger { return p.log }

// Executor exposes the executor as the api contract.
func (p *Port) Executor() api.Executor { return p.exec }

// Scheduler exposes the timer scheduler as the api contract.
func (p *Port) Scheduler() api.Scheduler { return p.sched }

// Stats returns loop counters.
func (p *Port) Stats() Stats {
	return Stats{
		Pending:   p.loop.Pending(),
		Processed: p.loop.Processed(),
		Executed:  p.exec.Executed(),
		Overflow:  p.exec.Overflow(),
		Timers:    p.sched.Len(),
		Handles:   p.handles.Load(),
	}
}
