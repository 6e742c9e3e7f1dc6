// File: transfer/pool.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Pool runs many transfers under a concurrency cap with a FIFO waiting list.

package transfer

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/eapache/queue"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/momentics/hioload-stream/api"
	"github.com/momentics/hioload-stream/reactor"
)

var _ api.GracefulShutdown = (*Pool)(nil)

// ProbeRegistry receives named debug probes.
type ProbeRegistry interface {
	RegisterProbe(name string, fn func() any)
}

// PoolConfig tunes a Pool.
type PoolConfig struct {
	// MaxTasks bounds working plus waiting tasks. Zero is unlimited.
	MaxTasks int
	// Concurrency bounds the working list. Zero is unlimited.
	Concurrency int
	// Timeout is applied to the streams of every task.
	Timeout time.Duration
	// TotalRate caps the bytes per second of all tasks together. Zero is unlimited.
	TotalRate int64
	// IdleCap bounds the recycled task list.
	IdleCap int

	Logger  *zap.Logger
	Metrics *Metrics
	Probes  ProbeRegistry
	// TransferOptions are applied to every task transfer.
	TransferOptions []Option
}

// DefaultPoolConfig returns an unlimited pool config.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		IdleCap: 16,
		Logger:  zap.NewNop(),
	}
}

// task binds a transfer to its pool bookkeeping.
type task struct {
	id     uuid.UUID
	t      *Transfer
	fn     SaveFunc
	offset int64
	start  time.Time
}

// Pool schedules transfers. Its methods are safe from any goroutine; Exit
// must not be called on the loop goroutine.
type Pool struct {
	cfg     PoolConfig
	port    *reactor.Port
	ownPort bool
	log     *zap.Logger
	metrics *Metrics
	limiter *rate.Limiter
	block   int

	mu      sync.Mutex
	working map[*task]struct{}
	waiting *queue.Queue
	idle    []*task
	conc    int
	stopped bool
	exited  bool
}

// NewPool builds a pool on port. A nil port makes the pool own a started
// port that Exit stops.
func NewPool(port *reactor.Port, cfg PoolConfig) (*Pool, error) {
	def := DefaultPoolConfig()
	if cfg.Logger == nil {
		cfg.Logger = def.Logger
	}
	if cfg.IdleCap <= 0 {
		cfg.IdleCap = def.IdleCap
	}
	if cfg.MaxTasks < 0 || cfg.Concurrency < 0 {
		return nil, fmt.Errorf("pool: negative limit: %w", api.ErrInvalidArgument)
	}
	p := &Pool{
		cfg:     cfg,
		port:    port,
		log:     cfg.Logger.With(zap.String("component", "transfer-pool")),
		metrics: cfg.Metrics,
		limiter: rate.NewLimiter(rate.Inf, maxLimitedRead),
		working: make(map[*task]struct{}),
		waiting: queue.New(),
		conc:    cfg.Concurrency,
		block:   buildConfig(cfg.TransferOptions).BlockSize,
	}
	p.SetTotalRate(cfg.TotalRate)
	if p.port == nil {
		pt, err := reactor.New(reactor.DefaultConfig(), reactor.WithLogger(cfg.Logger))
		if err != nil {
			return nil, fmt.Errorf("pool: port: %w", err)
		}
		pt.Start()
		p.port, p.ownPort = pt, true
	}
	if cfg.Probes != nil {
		cfg.Probes.RegisterProbe("transfer.working", func() any { return p.Working() })
		cfg.Probes.RegisterProbe("transfer.waiting", func() any { return p.Waiting() })
		cfg.Probes.RegisterProbe("transfer.idle", func() any { return p.Idle() })
	}
	p.log.Info("pool started",
		zap.Int("max_tasks", cfg.MaxTasks),
		zap.Int("concurrency", cfg.Concurrency),
		zap.Int64("total_rate", cfg.TotalRate),
		zap.Bool("own_port", p.ownPort))
	return p, nil
}

// Port returns the port the tasks run on.
func (p *Pool) Port() *reactor.Port { return p.port }

// Submit queues a copy from src to dst starting at offset and limited to bps
// bytes per second (zero is unlimited). fn receives every report of the task
// including exactly one terminal report.
func (p *Pool) Submit(src, dst string, offset, bps int64, fn SaveFunc) error {
	return p.SubmitWithCtrl(src, dst, offset, bps, fn, nil)
}

// SubmitWithCtrl is Submit with a hook that configures both streams before open.
func (p *Pool) SubmitWithCtrl(src, dst string, offset, bps int64, fn SaveFunc, ctrl CtrlFunc) error {
	if fn == nil || offset < 0 {
		return api.ErrInvalidArgument
	}
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return api.ErrStopped
	}
	if p.cfg.MaxTasks > 0 && p.sizeLocked() >= p.cfg.MaxTasks {
		p.mu.Unlock()
		return fmt.Errorf("pool: %d tasks: %w", p.cfg.MaxTasks, api.ErrResourceExhausted)
	}
	tk, err := p.newTaskLocked(src, dst, bps, ctrl)
	if err != nil {
		p.mu.Unlock()
		return err
	}
	tk.fn, tk.offset = fn, offset
	work := p.conc == 0 || len(p.working) < p.conc
	if work {
		p.working[tk] = struct{}{}
	} else {
		p.waiting.Add(tk)
	}
	p.log.Debug("submit",
		zap.Stringer("task", tk.id),
		zap.String("src", src),
		zap.String("dst", dst),
		zap.Bool("working", work),
		zap.Int("nworking", len(p.working)),
		zap.Int("nwaiting", p.waiting.Length()))
	p.updateLocked()
	p.mu.Unlock()

	if work {
		return p.start(tk)
	}
	return nil
}

func (p *Pool) newTaskLocked(src, dst string, bps int64, ctrl CtrlFunc) (*task, error) {
	opts := append([]Option{WithLogger(p.cfg.Logger), WithLimiter(p.limiter)}, p.cfg.TransferOptions...)
	t, err := NewFromURL(p.port, src, dst, opts...)
	if err != nil {
		return nil, err
	}
	t.LimitRate(bps)
	if p.cfg.Timeout > 0 {
		_ = t.SetTimeout(p.cfg.Timeout)
	}
	if ctrl != nil {
		_ = t.SetCtrl(ctrl)
	}
	var tk *task
	if n := len(p.idle); n > 0 {
		tk = p.idle[n-1]
		p.idle = p.idle[:n-1]
	} else {
		tk = &task{}
	}
	tk.id, tk.t = t.ID(), t
	return tk, nil
}

func (p *Pool) recycleLocked(tk *task) {
	*tk = task{}
	if len(p.idle) < p.cfg.IdleCap {
		p.idle = append(p.idle, tk)
	}
}

// start opens and saves a working task. On a synchronous failure the task
// leaves the working list.
func (p *Pool) start(tk *task) error {
	p.metrics.start()
	tk.start = time.Now()
	t := tk.t
	err := t.OSave(tk.offset, func(pr Progress) bool { return p.report(tk, pr) })
	if err == nil {
		return nil
	}
	p.log.Warn("task start failed", zap.Stringer("task", tk.id), zap.Error(err))
	p.mu.Lock()
	delete(p.working, tk)
	p.recycleLocked(tk)
	p.updateLocked()
	p.mu.Unlock()
	_ = t.Exit()
	return err
}

// report forwards a task report and, on a terminal one, retires the task
// and promotes the head of the waiting list.
func (p *Pool) report(tk *task, pr Progress) bool {
	ok := tk.fn(pr)
	if !pr.State.Terminal() {
		return ok
	}
	p.metrics.finish(pr.State, pr.Save, time.Since(tk.start))
	p.log.Debug("task done",
		zap.Stringer("task", tk.id),
		zap.Stringer("state", pr.State),
		zap.Int64("save", pr.Save),
		zap.Int64("rate", pr.Rate))

	t := tk.t
	p.mu.Lock()
	delete(p.working, tk)
	p.recycleLocked(tk)
	next := p.promoteLocked()
	p.updateLocked()
	p.mu.Unlock()

	if err := t.Exit(); err != nil {
		p.log.Warn("task exit", zap.Error(err))
	}
	p.run(next)
	return ok
}

// promoteLocked moves waiting tasks into free working slots in FIFO order.
func (p *Pool) promoteLocked() []*task {
	var next []*task
	for !p.stopped && p.waiting.Length() > 0 && (p.conc == 0 || len(p.working) < p.conc) {
		tk := p.waiting.Remove().(*task)
		p.working[tk] = struct{}{}
		next = append(next, tk)
	}
	if len(next) > 0 {
		p.log.Debug("promote", zap.Int("n", len(next)), zap.Int("nworking", len(p.working)), zap.Int("nwaiting", p.waiting.Length()))
	}
	return next
}

// run starts promoted tasks. A task that cannot start gets its terminal
// report here and frees its slot for the next one.
func (p *Pool) run(tasks []*task) {
	for len(tasks) > 0 {
		tk := tasks[0]
		tasks = tasks[1:]
		fn := tk.fn
		if err := p.start(tk); err != nil {
			fn(Progress{State: api.StateOf(err)})
			p.mu.Lock()
			tasks = append(tasks, p.promoteLocked()...)
			p.mu.Unlock()
		}
	}
}

func (p *Pool) updateLocked() {
	p.metrics.lists(len(p.working), p.waiting.Length(), len(p.idle))
}

func (p *Pool) sizeLocked() int { return len(p.working) + p.waiting.Length() }

// Size returns working plus waiting tasks.
func (p *Pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sizeLocked()
}

func (p *Pool) Working() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.working)
}

func (p *Pool) Waiting() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.waiting.Length()
}

func (p *Pool) Idle() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.idle)
}

// Concurrency returns the working list cap.
func (p *Pool) Concurrency() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.conc
}

// SetConcurrency changes the working list cap and promotes waiting tasks
// that now fit. Lowering it never kills running tasks.
func (p *Pool) SetConcurrency(n int) {
	p.mu.Lock()
	p.conc = max(n, 0)
	next := p.promoteLocked()
	p.updateLocked()
	p.mu.Unlock()
	p.log.Debug("concurrency", zap.Int("n", n))
	p.run(next)
}

// SetTotalRate changes the aggregate bytes per second. Zero is unlimited.
func (p *Pool) SetTotalRate(bps int64) {
	if bps <= 0 {
		p.limiter.SetLimit(rate.Inf)
		return
	}
	// one block must fit in the bucket
	burst := max(bps, maxLimitedRead, int64(p.block))
	p.limiter.SetBurst(int(min(burst, math.MaxInt32)))
	p.limiter.SetLimit(rate.Limit(bps))
}

// KillAll stops the pool, kills every working transfer and reports Killed to
// waiting tasks. Working transfers still deliver their own terminal report.
func (p *Pool) KillAll() {
	p.mu.Lock()
	p.stopped = true
	working := make([]*Transfer, 0, len(p.working))
	for tk := range p.working {
		working = append(working, tk.t)
	}
	var waiting []*task
	for p.waiting.Length() > 0 {
		waiting = append(waiting, p.waiting.Remove().(*task))
	}
	p.updateLocked()
	p.mu.Unlock()

	if len(working)+len(waiting) > 0 {
		p.log.Debug("kill all", zap.Int("working", len(working)), zap.Int("waiting", len(waiting)))
	}
	for _, t := range working {
		t.Kill()
	}
	for _, tk := range waiting {
		p.drop(tk)
	}
}

// drop retires a task that never started.
func (p *Pool) drop(tk *task) {
	t, fn := tk.t, tk.fn
	p.mu.Lock()
	p.recycleLocked(tk)
	p.updateLocked()
	p.mu.Unlock()
	if err := t.Exit(); err != nil {
		p.log.Warn("task exit", zap.Error(err))
	}
	report := func() { fn(Progress{State: api.StateKilled}) }
	if err := p.port.Post(report); err != nil {
		report()
	}
}

// WaitAll waits until the working list is empty or timeout elapses. A zero
// timeout checks once; a negative one waits without limit.
func (p *Pool) WaitAll(timeout time.Duration) error {
	every := exitInterval
	if timeout > 0 {
		every = min(every, max(timeout/10, time.Millisecond))
	}
	opts := []backoff.RetryOption{backoff.WithBackOff(backoff.NewConstantBackOff(every))}
	switch {
	case timeout == 0:
		opts = append(opts, backoff.WithMaxTries(1))
	case timeout < 0:
		opts = append(opts, backoff.WithMaxElapsedTime(0))
	default:
		opts = append(opts, backoff.WithMaxElapsedTime(timeout))
	}
	_, err := backoff.Retry(context.Background(), func() (struct{}, error) {
		if n := p.Working(); n > 0 {
			return struct{}{}, fmt.Errorf("pool: %d working: %w", n, api.ErrOperationTimeout)
		}
		return struct{}{}, nil
	}, opts...)
	return err
}

// Exit kills all tasks, waits for the working list to drain and releases the
// pool. It reports ErrNotClosed instead of leaking when tasks refuse to drain.
func (p *Pool) Exit() error {
	p.mu.Lock()
	if p.exited {
		p.mu.Unlock()
		return nil
	}
	p.mu.Unlock()

	p.KillAll()
	if p.port.InLoop() && p.Working() > 0 {
		return fmt.Errorf("pool: exit on the loop goroutine: %w", api.ErrNotClosed)
	}
	if err := p.WaitAll(exitTries * exitInterval); err != nil {
		p.log.Error("exit failed", zap.Int("working", p.Working()))
		return fmt.Errorf("pool: %w: %w", api.ErrNotClosed, err)
	}

	p.mu.Lock()
	p.exited = true
	p.idle = nil
	p.updateLocked()
	p.mu.Unlock()
	if p.ownPort {
		p.port.Stop()
	}
	p.log.Info("pool exited")
	return nil
}

// Shutdown implements api.GracefulShutdown.
func (p *Pool) Shutdown() error { return p.Exit() }
