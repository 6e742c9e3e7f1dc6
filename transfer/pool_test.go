// File: transfer/pool_test.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package transfer

import (
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"pgregory.net/rapid"

	"github.com/momentics/hioload-stream/api"
	"github.com/momentics/hioload-stream/control"
	"github.com/momentics/hioload-stream/reactor"
)

// At one byte per second a slowSrc copy stays in the working list
// until killed.
var slowSrc, slowDst = dataURL(make([]byte, 4096)), dataURL(make([]byte, 4096))

func newPool(t *testing.T, port *reactor.Port, cfg PoolConfig) *Pool {
	t.Helper()
	if cfg.Logger == nil {
		cfg.Logger = zaptest.NewLogger(t)
	}
	p, err := NewPool(port, cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Exit() })
	return p
}

// terminals collects terminal reports per job index.
type terminals struct {
	mu   sync.Mutex
	seen map[int][]api.State
	ch   chan int
}

func newTerminals() *terminals {
	return &terminals{seen: make(map[int][]api.State), ch: make(chan int, 64)}
}

func (tm *terminals) fn(i int) SaveFunc {
	return func(p Progress) bool {
		if p.State.Terminal() {
			tm.mu.Lock()
			tm.seen[i] = append(tm.seen[i], p.State)
			tm.mu.Unlock()
			tm.ch <- i
		}
		return true
	}
}

func (tm *terminals) states(i int) []api.State {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	return append([]api.State(nil), tm.seen[i]...)
}

func TestPoolAdmission(t *testing.T) {
	pool := newPool(t, newPort(t), PoolConfig{Concurrency: 2})
	tm := newTerminals()

	stop := make(chan struct{})
	for i := range 5 {
		fn := tm.fn(i)
		if i == 0 {
			// the first job gives up at its first report
			fn = func(p Progress) bool {
				if !p.State.Terminal() {
					<-stop
					return false
				}
				return tm.fn(0)(p)
			}
		}
		require.NoError(t, pool.Submit(slowSrc, slowDst, 0, 1, fn))
	}
	assert.Equal(t, 2, pool.Working())
	assert.Equal(t, 3, pool.Waiting())
	assert.Equal(t, 5, pool.Size())

	close(stop)
	assert.Equal(t, 0, recv(t, tm.ch))
	assert.Equal(t, []api.State{api.StateKilled}, tm.states(0))
	require.Eventually(t, func() bool {
		return pool.Working() == 2 && pool.Waiting() == 2
	}, waitFor, time.Millisecond)
	assert.Equal(t, 1, pool.Idle())

	require.NoError(t, pool.Exit())
	for range 4 {
		recv(t, tm.ch)
	}
	for i := 1; i < 5; i++ {
		assert.Equal(t, []api.State{api.StateKilled}, tm.states(i), "job %d", i)
	}
	assert.Zero(t, pool.Size())
	assert.ErrorIs(t, pool.Submit(slowSrc, slowDst, 0, 0, tm.fn(9)), api.ErrStopped)
}

func TestPoolMaxTasks(t *testing.T) {
	pool := newPool(t, newPort(t), PoolConfig{MaxTasks: 2, Concurrency: 1})
	tm := newTerminals()
	require.NoError(t, pool.Submit(slowSrc, slowDst, 0, 1, tm.fn(0)))
	require.NoError(t, pool.Submit(slowSrc, slowDst, 0, 1, tm.fn(1)))
	assert.ErrorIs(t, pool.Submit(slowSrc, slowDst, 0, 1, tm.fn(2)), api.ErrResourceExhausted)
	assert.Equal(t, 2, pool.Size())
}

func TestPoolRejectsBadRequests(t *testing.T) {
	pool := newPool(t, newPort(t), PoolConfig{})
	assert.ErrorIs(t, pool.Submit("nope://x", slowDst, 0, 0, func(Progress) bool { return true }), api.ErrInvalidURL)
	assert.ErrorIs(t, pool.Submit(slowSrc, slowDst, 0, 0, nil), api.ErrInvalidArgument)
	assert.ErrorIs(t, pool.Submit(slowSrc, slowDst, -1, 0, func(Progress) bool { return true }), api.ErrInvalidArgument)
	assert.Zero(t, pool.Size())

	_, err := NewPool(newPort(t), PoolConfig{Concurrency: -1})
	assert.ErrorIs(t, err, api.ErrInvalidArgument)
}

func TestPoolKillAll(t *testing.T) {
	pool := newPool(t, newPort(t), PoolConfig{Concurrency: 1})
	tm := newTerminals()
	for i := range 3 {
		require.NoError(t, pool.Submit(slowSrc, slowDst, 0, 1, tm.fn(i)))
	}
	pool.KillAll()
	for range 3 {
		recv(t, tm.ch)
	}
	for i := range 3 {
		assert.Equal(t, []api.State{api.StateKilled}, tm.states(i))
	}
	require.NoError(t, pool.WaitAll(waitFor))
	assert.ErrorIs(t, pool.Submit(slowSrc, slowDst, 0, 0, tm.fn(3)), api.ErrStopped)
}

func TestPoolSetConcurrency(t *testing.T) {
	pool := newPool(t, newPort(t), PoolConfig{Concurrency: 1})
	tm := newTerminals()
	for i := range 4 {
		require.NoError(t, pool.Submit(slowSrc, slowDst, 0, 1, tm.fn(i)))
	}
	assert.Equal(t, 1, pool.Working())
	pool.SetConcurrency(3)
	assert.Equal(t, 3, pool.Concurrency())
	assert.Equal(t, 3, pool.Working())
	assert.Equal(t, 1, pool.Waiting())
	pool.SetConcurrency(0)
	assert.Equal(t, 4, pool.Working())
	assert.Zero(t, pool.Waiting())
}

func TestPoolWaitAllTimeout(t *testing.T) {
	pool := newPool(t, newPort(t), PoolConfig{})
	require.NoError(t, pool.Submit(slowSrc, slowDst, 0, 1, func(Progress) bool { return true }))
	err := pool.WaitAll(50 * time.Millisecond)
	assert.ErrorIs(t, err, api.ErrOperationTimeout)
}

func TestPoolWaitAllZeroChecksOnce(t *testing.T) {
	pool := newPool(t, newPort(t), PoolConfig{})
	assert.NoError(t, pool.WaitAll(0))

	require.NoError(t, pool.Submit(slowSrc, slowDst, 0, 1, func(Progress) bool { return true }))
	start := time.Now()
	assert.ErrorIs(t, pool.WaitAll(0), api.ErrOperationTimeout)
	assert.Less(t, time.Since(start), time.Second)
}

func TestPoolWaitAllNegativeWaits(t *testing.T) {
	pool := newPool(t, newPort(t), PoolConfig{})
	tm := newTerminals()
	require.NoError(t, pool.Submit(slowSrc, slowDst, 0, 1, tm.fn(0)))
	time.AfterFunc(100*time.Millisecond, pool.KillAll)
	assert.NoError(t, pool.WaitAll(-1))
	assert.Equal(t, 0, recv(t, tm.ch))
	assert.Equal(t, []api.State{api.StateKilled}, tm.states(0))
}

func TestPoolOwnsPort(t *testing.T) {
	pool := newPool(t, nil, PoolConfig{})
	tm := newTerminals()
	payload := randomBytes(t, 2048)
	require.NoError(t, pool.Submit(dataURL(payload), dataURL(make([]byte, 2048)), 0, 0, tm.fn(0)))
	recv(t, tm.ch)
	assert.Equal(t, []api.State{api.StateClosed}, tm.states(0))
	require.NoError(t, pool.WaitAll(waitFor))
	require.NoError(t, pool.Exit())
	assert.NoError(t, pool.Shutdown())
}

func TestPoolTotalRate(t *testing.T) {
	const total = 64 << 10
	pool := newPool(t, newPort(t), PoolConfig{TotalRate: total})
	tm := newTerminals()
	start := time.Now()
	for i := range 2 {
		require.NoError(t, pool.Submit(dataURL(make([]byte, 64<<10)), dataURL(make([]byte, 64<<10)), 0, 0, tm.fn(i)))
	}
	recv(t, tm.ch)
	recv(t, tm.ch)
	// the burst covers the first 64KB, the second 64KB waits about a second
	assert.GreaterOrEqual(t, time.Since(start), 800*time.Millisecond)
	assert.Equal(t, []api.State{api.StateClosed}, tm.states(0))
	assert.Equal(t, []api.State{api.StateClosed}, tm.states(1))

	pool.SetTotalRate(0)
}

func TestPoolMetricsAndProbes(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewMetrics("hioload_test", reg)
	probes := control.NewDebugProbes()
	pool := newPool(t, newPort(t), PoolConfig{Metrics: metrics, Probes: probes})

	tm := newTerminals()
	for i := range 2 {
		require.NoError(t, pool.Submit(dataURL(make([]byte, 100)), dataURL(make([]byte, 100)), 0, 0, tm.fn(i)))
	}
	recv(t, tm.ch)
	recv(t, tm.ch)
	require.NoError(t, pool.WaitAll(waitFor))

	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.started))
	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.finished.WithLabelValues(api.StateClosed.String())))
	assert.Equal(t, 200.0, testutil.ToFloat64(metrics.bytes))
	assert.Equal(t, 0.0, testutil.ToFloat64(metrics.working))
	assert.Equal(t, 1, testutil.CollectAndCount(metrics.duration))

	state := probes.DumpState()
	assert.Equal(t, 0, state["transfer.working"])
	assert.Equal(t, 0, state["transfer.waiting"])
	assert.Equal(t, 2, state["transfer.idle"])
}

func TestDefaultPool(t *testing.T) {
	prev := SetDefault(nil)
	t.Cleanup(func() { SetDefault(prev) })

	p := Default()
	require.NotNil(t, p)
	assert.Same(t, p, Default())
	assert.Same(t, p, SetDefault(nil))
	assert.NotSame(t, p, Default())
	require.NoError(t, p.Exit())
	require.NoError(t, SetDefault(nil).Exit())
}

// Tasks start in submission order and the working list never exceeds the cap.
func TestPoolPromotionOrder(t *testing.T) {
	port := newPort(t)
	rapid.Check(t, func(rt *rapid.T) {
		n := rapid.IntRange(1, 8).Draw(rt, "jobs")
		k := rapid.IntRange(1, 3).Draw(rt, "concurrency")
		pool, err := NewPool(port, PoolConfig{Concurrency: k})
		require.NoError(rt, err)
		defer func() { require.NoError(rt, pool.Exit()) }()

		var (
			mu      sync.Mutex
			started []int
			over    bool
		)
		tm := newTerminals()
		for i := range n {
			ctrl := func(api.Stream, api.Stream) error {
				mu.Lock()
				started = append(started, i)
				over = over || pool.Working() > k
				mu.Unlock()
				return nil
			}
			size := rapid.IntRange(1, 2048).Draw(rt, "size")
			require.NoError(rt, pool.SubmitWithCtrl(dataURL(make([]byte, size)), dataURL(make([]byte, size)), 0, 0, tm.fn(i), ctrl))
			require.LessOrEqual(rt, pool.Working(), k)
		}
		for range n {
			recv(rt, tm.ch)
		}
		mu.Lock()
		defer mu.Unlock()
		require.False(rt, over)
		require.Len(rt, started, n)
		for i, v := range started {
			require.Equal(rt, i, v)
		}
	})
}

func TestPoolFollowsConfig(t *testing.T) {
	cfg := control.DefaultConfig()
	cfg.Pool.Concurrency = 1
	cfg.Stream.BlockSize = 4096
	pc := PoolConfigFrom(cfg, zaptest.NewLogger(t))
	assert.Equal(t, 1, pc.Concurrency)
	assert.Equal(t, 16, pc.IdleCap)

	pool := newPool(t, newPort(t), pc)
	assert.Equal(t, 4096, pool.block)
	store := control.NewConfigStore(cfg)
	pool.Follow(store)

	tm := newTerminals()
	for i := range 3 {
		require.NoError(t, pool.Submit(slowSrc, slowDst, 0, 1, tm.fn(i)))
	}
	assert.Equal(t, 1, pool.Working())

	next := cfg.Clone()
	next.Pool.Concurrency = 2
	require.NoError(t, store.SetConfig(next))
	assert.Equal(t, 2, pool.Concurrency())
	assert.Equal(t, 2, pool.Working())
	assert.Equal(t, 1, pool.Waiting())
}
