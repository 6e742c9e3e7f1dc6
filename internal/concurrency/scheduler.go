// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Timer scheduler backed by a min-heap and a single goroutine. Timer funcs run
// on the scheduler goroutine and are expected to hand work to the loop.

package concurrency

import (
	"container/heap"
	"sync"
	"sync/atomic"
	"time"

	"github.com/momentics/hioload-stream/api"
)

var _ api.Scheduler = (*Scheduler)(nil)

// Timer is a scheduled callback.
type Timer struct {
	when  int64
	seq   uint64
	index int
	fn    func()
	s     *Scheduler
	done  chan struct{}
	err   error
	fired atomic.Bool
}

// Cancel removes the timer if it has not fired yet.
func (t *Timer) Cancel() error { return t.s.Cancel(t) }

// Done is closed after the timer fired or was canceled.
func (t *Timer) Done() <-chan struct{} { return t.done }

// Err returns ErrTimerCanceled for canceled timers.
func (t *Timer) Err() error {
	select {
	case <-t.done:
		return t.err
	default:
		return nil
	}
}

type timerHeap []*Timer

func (h timerHeap) Len() int { return len(h) }
func (h timerHeap) Less(i, j int) bool {
	if h[i].when == h[j].when {
		return h[i].seq < h[j].seq
	}
	return h[i].when < h[j].when
}
func (h timerHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}
func (h *timerHeap) Push(x any) {
	t := x.(*Timer)
	t.index = len(*h)
	*h = append(*h, t)
}
func (h *timerHeap) Pop() any {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	t.index = -1
	*h = old[:n-1]
	return t
}

// Scheduler fires timers in deadline order.
type Scheduler struct {
	mu      sync.Mutex
	timerQ  timerHeap
	seq     uint64
	base    time.Time
	notify  chan struct{}
	stop    chan struct{}
	done    chan struct{}
	stopped bool
}

// NewScheduler starts the scheduler goroutine.
func NewScheduler() *Scheduler {
	s := &Scheduler{
		base:   time.Now(),
		notify: make(chan struct{}, 1),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	go s.run()
	return s
}

// Now returns monotonic nanoseconds since the scheduler started.
func (s *Scheduler) Now() int64 { return int64(time.Since(s.base)) }

// Schedule runs fn after delayNanos.
func (s *Scheduler) Schedule(delayNanos int64, fn func()) (api.Cancelable, error) {
	t, err := s.After(time.Duration(delayNanos), fn)
	if err != nil {
		return nil, err
	}
	return t, nil
}

// After is the typed variant of Schedule.
func (s *Scheduler) After(d time.Duration, fn func()) (*Timer, error) {
	if d < 0 {
		d = 0
	}
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil, ErrSchedulerStopped
	}
	s.seq++
	t := &Timer{when: s.Now() + int64(d), seq: s.seq, fn: fn, s: s, done: make(chan struct{})}
	heap.Push(&s.timerQ, t)
	first := t.index == 0
	s.mu.Unlock()
	if first {
		select {
		case s.notify <- struct{}{}:
		default:
		}
	}
	return t, nil
}

// Cancel cancels a previously scheduled callback.
func (s *Scheduler) Cancel(c api.Cancelable) error {
	t, ok := c.(*Timer)
	if !ok || t.s != s {
		return api.ErrInvalidArgument
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if t.index < 0 || t.fired.Load() {
		return ErrTimerFired
	}
	heap.Remove(&s.timerQ, t.index)
	t.err = ErrTimerCanceled
	close(t.done)
	return nil
}

// Len returns the number of armed timers.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.timerQ.Len()
}

// Stop halts the scheduler; armed timers never fire.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		<-s.done
		return
	}
	s.stopped = true
	s.mu.Unlock()
	close(s.stop)
	<-s.done
}

func (s *Scheduler) run() {
	defer close(s.done)
	wait := time.NewTimer(time.Hour)
	defer wait.Stop()
	for {
		s.mu.Lock()
		if s.timerQ.Len() == 0 {
			s.mu.Unlock()
			select {
			case <-s.notify:
			case <-s.stop:
				return
			}
			continue
		}
		t := s.timerQ[0]
		if d := t.when - s.Now(); d > 0 {
			s.mu.Unlock()
			wait.Reset(time.Duration(d))
			select {
			case <-wait.C:
			case <-s.notify:
				wait.Stop()
			case <-s.stop:
				return
			}
			continue
		}
		heap.Pop(&s.timerQ)
		t.fired.Store(true)
		s.mu.Unlock()

		t.fn()
		close(t.done)
	}
}
