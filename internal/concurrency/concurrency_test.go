// File: internal/concurrency/concurrency_test.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package concurrency

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestLockFreeQueueBounds(t *testing.T) {
	q := NewLockFreeQueue[int](3)
	assert.Equal(t, 4, q.Cap())
	for i := range 4 {
		require.True(t, q.Enqueue(i))
	}
	assert.False(t, q.Enqueue(9))
	assert.Equal(t, 4, q.Len())
	for i := range 4 {
		v, ok := q.Dequeue()
		require.True(t, ok)
		assert.Equal(t, i, v)
	}
	_, ok := q.Dequeue()
	assert.False(t, ok)
}

// The queue behaves like a bounded FIFO slice under any op sequence.
func TestLockFreeQueueModel(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		q := NewLockFreeQueue[int](8)
		var model []int
		for i := range rapid.IntRange(0, 200).Draw(rt, "ops") {
			if rapid.Bool().Draw(rt, "push") {
				ok := q.Enqueue(i)
				require.Equal(rt, len(model) < 8, ok)
				if ok {
					model = append(model, i)
				}
				continue
			}
			v, ok := q.Dequeue()
			require.Equal(rt, len(model) > 0, ok)
			if ok {
				require.Equal(rt, model[0], v)
				model = model[1:]
			}
		}
		require.Equal(rt, len(model), q.Len())
	})
}

func TestEventLoopOrderAndOverflow(t *testing.T) {
	el := NewEventLoop(4, 2)
	var got []int
	// more posts than the inbox holds spill into the overflow list
	for i := range 50 {
		require.NoError(t, el.Post(func() { got = append(got, i) }))
	}
	assert.Equal(t, 50, el.Pending())

	inLoop := make(chan bool, 1)
	require.NoError(t, el.Post(func() { inLoop <- el.InLoop() }))
	go el.Run()
	assert.True(t, <-inLoop)
	assert.False(t, el.InLoop())

	el.Stop()
	<-el.Done()
	require.Len(t, got, 50)
	for i, v := range got {
		assert.Equal(t, i, v)
	}
	assert.Equal(t, uint64(51), el.Processed())
	assert.ErrorIs(t, el.Post(func() {}), ErrLoopStopped)
}

// Posts ordered by happens-before run in that order even while other
// producers keep the inbox spilling.
func TestEventLoopOrderUnderContention(t *testing.T) {
	el := NewEventLoop(2, 2)
	go el.Run()
	defer el.Stop()

	const producers, perProducer, chain = 4, 300, 200
	var (
		noise   = make([][]int, producers)
		ordered []int
	)
	var wg sync.WaitGroup
	for p := range producers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range perProducer {
				_ = el.Post(func() { noise[p] = append(noise[p], i) })
			}
		}()
	}

	// a token hops between goroutines; each holder posts its number first
	token := make(chan int)
	done := make(chan struct{})
	for range 2 {
		go func() {
			for n := range token {
				_ = el.Post(func() { ordered = append(ordered, n) })
				if n+1 == chain {
					close(done)
					continue
				}
				token <- n + 1
			}
		}()
	}
	token <- 0
	<-done
	close(token)
	wg.Wait()

	finished := make(chan struct{})
	require.NoError(t, el.Post(func() { close(finished) }))
	select {
	case <-finished:
	case <-time.After(5 * time.Second):
		t.Fatal("loop stalled")
	}

	require.Len(t, ordered, chain)
	for i, v := range ordered {
		require.Equal(t, i, v)
	}
	for p := range producers {
		require.Len(t, noise[p], perProducer)
		for i, v := range noise[p] {
			require.Equal(t, i, v, "producer %d", p)
		}
	}
}

func TestEventLoopRecoversPanics(t *testing.T) {
	el := NewEventLoop(0, 0)
	var recovered atomic.Value
	el.OnPanic(func(v any) { recovered.Store(v) })
	go el.Run()
	defer el.Stop()

	done := make(chan struct{})
	require.NoError(t, el.Post(func() { panic("boom") }))
	require.NoError(t, el.Post(func() { close(done) }))
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("loop died after panic")
	}
	assert.Equal(t, "boom", recovered.Load())
}

func TestExecutorRunsAndOverflows(t *testing.T) {
	e := NewExecutor(1)
	var panics atomic.Int32
	e.OnPanic(func(any) { panics.Add(1) })

	block := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(3)
	for range 3 {
		require.NoError(t, e.Submit(func() {
			defer wg.Done()
			<-block
		}))
	}
	// one core worker is busy, the others run on transient goroutines
	require.Eventually(t, func() bool { return e.Overflow() >= 2 }, 5*time.Second, time.Millisecond)
	close(block)
	wg.Wait()

	require.NoError(t, e.Go(func() { panic("x") }))
	require.Eventually(t, func() bool { return panics.Load() == 1 }, 5*time.Second, time.Millisecond)

	e.Resize(3)
	assert.Equal(t, 3, e.NumWorkers())
	e.Resize(0)
	assert.Equal(t, 1, e.NumWorkers())

	e.Close()
	assert.ErrorIs(t, e.Submit(func() {}), ErrExecutorClosed)
	assert.GreaterOrEqual(t, e.Executed(), uint64(4))
}

func TestSchedulerOrderAndCancel(t *testing.T) {
	s := NewScheduler()
	defer s.Stop()

	fired := make(chan int, 3)
	_, err := s.After(30*time.Millisecond, func() { fired <- 2 })
	require.NoError(t, err)
	_, err = s.After(10*time.Millisecond, func() { fired <- 1 })
	require.NoError(t, err)
	c, err := s.Schedule(int64(20*time.Millisecond), func() { fired <- 9 })
	require.NoError(t, err)
	require.NoError(t, s.Cancel(c))
	<-c.Done()
	assert.ErrorIs(t, c.Err(), ErrTimerCanceled)

	assert.Equal(t, 1, <-fired)
	assert.Equal(t, 2, <-fired)
	assert.Zero(t, s.Len())

	tm, err := s.After(0, func() {})
	require.NoError(t, err)
	<-tm.Done()
	assert.ErrorIs(t, tm.Cancel(), ErrTimerFired)
}

func TestSchedulerStop(t *testing.T) {
	s := NewScheduler()
	_, err := s.After(time.Hour, func() {})
	require.NoError(t, err)
	s.Stop()
	s.Stop()
	_, err = s.After(0, func() {})
	assert.ErrorIs(t, err, ErrSchedulerStopped)
}
