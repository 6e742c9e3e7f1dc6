// File: stream/base_test.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package stream

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/momentics/hioload-stream/api"
)

func TestDataReadToEnd(t *testing.T) {
	p := newPort(t)
	s := NewDataFrom(p, []byte("0123456789"))
	exitOnCleanup(t, s)

	require.Equal(t, api.StateOk, openStream(t, s))
	assert.Equal(t, int64(10), s.Size())

	r := readStream(t, s, 5)
	assert.Equal(t, api.StateOk, r.st)
	assert.Equal(t, "01234", string(r.data))

	r = readStream(t, s, 5)
	assert.Equal(t, api.StateOk, r.st)
	assert.Equal(t, "56789", string(r.data))

	r = readStream(t, s, 5)
	assert.Equal(t, api.StateClosed, r.st)
	assert.Empty(t, r.data)
	assert.Equal(t, int64(10), s.Offset())

	assert.Equal(t, api.StateOk, closeStream(t, s))
	assert.Equal(t, api.PhaseClosed, s.Phase())
}

func TestOpenAndCloseAreIdempotent(t *testing.T) {
	p := newPort(t)
	s := NewDataFrom(p, []byte("abc"))
	exitOnCleanup(t, s)

	assert.Equal(t, api.StateOk, closeStream(t, s))
	assert.Equal(t, api.StateOk, openStream(t, s))
	assert.Equal(t, api.StateOk, openStream(t, s))
	assert.Equal(t, api.StateOk, closeStream(t, s))
	assert.Equal(t, api.StateOk, closeStream(t, s))
}

func TestSynchronousRejections(t *testing.T) {
	p := newPort(t)
	s := NewDataFrom(p, []byte("abc"))
	exitOnCleanup(t, s)
	noop := func(api.State, []byte, int) bool { return false }

	assert.ErrorIs(t, s.Read(1, noop), api.ErrNotOpened)
	assert.ErrorIs(t, s.Read(1, nil), api.ErrInvalidArgument)

	require.Equal(t, api.StateOk, openStream(t, s))
	require.NoError(t, s.ReadAfter(50*time.Millisecond, 1, noop))
	assert.ErrorIs(t, s.Read(1, noop), api.ErrBusy)

	assert.ErrorIs(t, s.Seek(4, func(api.State, int64) {}), api.ErrInvalidArgument)
	assert.ErrorIs(t, s.Ctrl(api.CtrlDataSetData, []byte("x")), api.ErrNotClosed)
	assert.ErrorIs(t, s.Do(nil), api.ErrNotSupported)
}

func TestSeekAndWrite(t *testing.T) {
	p := newPort(t)
	buf := make([]byte, 6)
	s := NewDataFrom(p, buf)
	exitOnCleanup(t, s)
	require.Equal(t, api.StateOk, openStream(t, s))

	st, off := seekStream(t, s, 2)
	assert.Equal(t, api.StateOk, st)
	assert.Equal(t, int64(2), off)

	// the tail continuation hits the end of the buffer
	w := writeStream(t, s, []byte("xyz123"))
	assert.Equal(t, api.StateClosed, w.st)
	assert.Equal(t, 4, w.real)
	assert.Equal(t, "\x00\x00xyz1", string(buf))

	w = writeStream(t, s, []byte("!"))
	assert.Equal(t, api.StateClosed, w.st)
	assert.Equal(t, int64(6), s.Offset())

	st, off = seekStream(t, s, 6)
	assert.Equal(t, api.StateOk, st)
	assert.Equal(t, int64(6), off)
}

func TestReadContinuation(t *testing.T) {
	p := newPort(t)
	s := NewDataFrom(p, []byte("hello world"))
	exitOnCleanup(t, s)
	require.Equal(t, api.StateOk, openStream(t, s))

	data, st := readAll(t, s, 3)
	assert.Equal(t, api.StateClosed, st)
	assert.Equal(t, "hello world", string(data))
}

func TestKillOpenedStream(t *testing.T) {
	p := newPort(t)
	s := NewDataFrom(p, []byte("abcdef"))
	exitOnCleanup(t, s)
	require.Equal(t, api.StateOk, openStream(t, s))

	ch := make(chan api.State, 1)
	require.NoError(t, s.ReadAfter(time.Hour, 2, func(st api.State, _ []byte, _ int) bool {
		ch <- st
		return true
	}))
	s.Kill()
	s.Kill()
	assert.True(t, s.Killed())
	assert.Equal(t, api.StateKilled, recv(t, ch))
	assert.ErrorIs(t, s.Read(1, func(api.State, []byte, int) bool { return false }), api.ErrKilled)

	assert.Equal(t, api.StateOk, closeStream(t, s))
	assert.False(t, s.Killed())

	// a closed stream is reusable
	require.Equal(t, api.StateOk, openStream(t, s))
	r := readStream(t, s, 2)
	assert.Equal(t, "ab", string(r.data))
}

func TestKillClosedStreamIsNoop(t *testing.T) {
	p := newPort(t)
	s := NewDataFrom(p, []byte("a"))
	exitOnCleanup(t, s)
	s.Kill()
	assert.False(t, s.Killed())
	assert.Equal(t, api.StateOk, openStream(t, s))
}

func TestCloseWhileReadPending(t *testing.T) {
	p := newPort(t)
	s := NewDataFrom(p, []byte("abc"))
	exitOnCleanup(t, s)
	require.Equal(t, api.StateOk, openStream(t, s))

	reads := make(chan api.State, 1)
	require.NoError(t, s.ReadAfter(time.Hour, 1, func(st api.State, _ []byte, _ int) bool {
		reads <- st
		return false
	}))
	s.Kill()
	assert.Equal(t, api.StateOk, closeStream(t, s))
	assert.Equal(t, api.StateKilled, recv(t, reads))
}

func TestCloseInsideCallback(t *testing.T) {
	p := newPort(t)
	s := NewDataFrom(p, []byte("abc"))
	exitOnCleanup(t, s)
	require.Equal(t, api.StateOk, openStream(t, s))

	closed := make(chan api.State, 1)
	require.NoError(t, s.Read(1, func(api.State, []byte, int) bool {
		assert.NoError(t, s.Close(func(st api.State) { closed <- st }))
		return true
	}))
	assert.Equal(t, api.StateOk, recv(t, closed))
	assert.Equal(t, api.PhaseClosed, s.Phase())
}

func TestCloseWhileOpening(t *testing.T) {
	p := newPort(t)
	s := NewDataFrom(p, []byte("abc"))
	exitOnCleanup(t, s)

	// hold the loop so the open cannot complete before the close
	gate := make(chan struct{})
	require.NoError(t, p.Post(func() { <-gate }))

	opened := make(chan api.State, 1)
	closed := make(chan api.State, 1)
	require.NoError(t, s.Open(func(st api.State) { opened <- st }))
	assert.Equal(t, api.PhaseOpening, s.Phase())
	require.NoError(t, s.Close(func(st api.State) { closed <- st }))
	close(gate)
	assert.Equal(t, api.StateKilled, recv(t, opened))
	assert.Equal(t, api.StateOk, recv(t, closed))
	assert.Equal(t, api.PhaseClosed, s.Phase())
}

func TestCombinedPrimitives(t *testing.T) {
	p := newPort(t)
	s := NewDataFrom(p, []byte("abcdef"))
	exitOnCleanup(t, s)

	ch := make(chan int64, 1)
	require.NoError(t, s.OpenSeek(3, func(st api.State, off int64) {
		assert.Equal(t, api.StateOk, st)
		ch <- off
	}))
	assert.Equal(t, int64(3), recv(t, ch))

	r := readStream(t, s, 10)
	assert.Equal(t, "def", string(r.data))
	require.Equal(t, api.StateOk, closeStream(t, s))

	got := make(chan string, 1)
	require.NoError(t, s.OpenRead(2, func(st api.State, data []byte, _ int) bool {
		got <- string(data)
		return false
	}))
	assert.Equal(t, "ab", recv(t, got))
	require.Equal(t, api.StateOk, closeStream(t, s))

	wrote := make(chan int, 1)
	require.NoError(t, s.OpenWrite([]byte("XY"), func(st api.State, real, _ int) bool {
		wrote <- real
		return false
	}))
	assert.Equal(t, 2, recv(t, wrote))
	assert.Equal(t, "XYcdef", string(s.Bytes()))
}

func TestDoDispatch(t *testing.T) {
	p := newPort(t)
	s := NewDataFrom(p, []byte("abc"))
	exitOnCleanup(t, s)

	ch := make(chan api.State, 4)
	require.NoError(t, s.Do(api.OpOpen{Fn: func(st api.State) { ch <- st }}))
	assert.Equal(t, api.StateOk, recv(t, ch))
	require.NoError(t, s.Do(api.OpRead{Size: 1, Fn: func(st api.State, _ []byte, _ int) bool { ch <- st; return false }}))
	assert.Equal(t, api.StateOk, recv(t, ch))
	require.NoError(t, s.Do(api.OpSync{Fn: func(st api.State, _ bool) { ch <- st }}))
	assert.Equal(t, api.StateOk, recv(t, ch))
	require.NoError(t, s.Do(api.OpClose{Fn: func(st api.State) { ch <- st }}))
	assert.Equal(t, api.StateOk, recv(t, ch))
}

func TestTaskRearms(t *testing.T) {
	p := newPort(t)
	s := NewData(p)
	exitOnCleanup(t, s)

	var runs atomic.Int32
	done := make(chan struct{})
	require.NoError(t, s.Task(time.Millisecond, func(st api.State) bool {
		if runs.Add(1) == 3 {
			close(done)
			return false
		}
		return true
	}))
	recv(t, done)
	assert.Equal(t, int32(3), runs.Load())
}

func TestWriteCache(t *testing.T) {
	p := newPort(t)
	buf := make([]byte, 8)
	s := NewDataFrom(p, buf, WithWCache(4))
	exitOnCleanup(t, s)
	require.Equal(t, api.StateOk, openStream(t, s))

	w := writeStream(t, s, []byte("ab"))
	assert.Equal(t, api.StateOk, w.st)
	assert.Equal(t, 2, w.real)
	assert.Equal(t, make([]byte, 8), buf, "cached bytes are not written yet")

	w = writeStream(t, s, []byte("cd"))
	assert.Equal(t, api.StateOk, w.st)
	assert.Equal(t, "abcd", string(buf[:4]))

	require.NoError(t, s.Ctrl(api.CtrlSetWCache, 16))
	writeStream(t, s, []byte("e"))
	assert.Equal(t, byte(0), buf[4])
	assert.Equal(t, int64(5), s.Offset())
	assert.ErrorIs(t, s.Seek(0, func(api.State, int64) {}), api.ErrBusy)
	assert.Equal(t, api.StateOk, syncStream(t, s, false))
	assert.Equal(t, "abcde", string(buf[:5]))
}

func TestCtrlCommon(t *testing.T) {
	p := newPort(t)
	s := NewDataFrom(p, []byte("abcd"), WithTimeout(time.Second))
	exitOnCleanup(t, s)

	var size, off int64
	require.NoError(t, s.Ctrl(api.CtrlGetSize, &size))
	assert.Equal(t, int64(4), size)
	require.NoError(t, s.Ctrl(api.CtrlGetOffset, &off))

	var d time.Duration
	require.NoError(t, s.Ctrl(api.CtrlGetTimeout, &d))
	assert.Equal(t, time.Second, d)
	require.NoError(t, s.Ctrl(api.CtrlSetTimeout, 2*time.Second))
	assert.Equal(t, 2*time.Second, s.Timeout())

	require.NoError(t, s.Ctrl(api.CtrlSetURL, "data://eHl6"))
	assert.Equal(t, int64(3), s.Size())
	assert.ErrorIs(t, s.Ctrl(api.CtrlSetURL, "file:///tmp/x"), api.ErrInvalidArgument)
	assert.ErrorIs(t, s.Ctrl(api.CtrlGetSize, size), api.ErrInvalidArgument)

	require.NoError(t, s.Ctrl(api.CtrlDataSetData, []byte("0123456")))
	var u string
	require.NoError(t, s.Ctrl(api.CtrlGetURL, &u))
	assert.Equal(t, "data://MDEyMzQ1Ng==", u)
}

func TestExit(t *testing.T) {
	p := newPort(t)
	s := NewDataFrom(p, []byte("abc"))
	require.Equal(t, api.StateOk, openStream(t, s))
	require.NoError(t, s.Exit())
	assert.Equal(t, api.PhaseClosed, s.Phase())
	require.NoError(t, s.Exit())
	assert.ErrorIs(t, s.Open(func(api.State) {}), api.ErrStopped)
}

// Open and close callbacks fire exactly once whatever happens in between.
func TestOpenCloseSingleDelivery(t *testing.T) {
	p := newPort(t)
	rapid.Check(t, func(rt *rapid.T) {
		s := NewDataFrom(p, []byte("payload"))
		defer s.Exit()

		var opens, closes atomic.Int32
		steps := rapid.SliceOfN(rapid.SampledFrom([]string{"open", "close", "kill", "read"}), 1, 20).Draw(rt, "steps")
		issuedOpens, issuedCloses := int32(0), int32(0)
		for _, step := range steps {
			switch step {
			case "open":
				if s.Open(func(api.State) { opens.Add(1) }) == nil {
					issuedOpens++
				}
			case "close":
				if s.Close(func(api.State) { closes.Add(1) }) == nil {
					issuedCloses++
				}
			case "kill":
				s.Kill()
			case "read":
				_ = s.Read(1, func(api.State, []byte, int) bool { return false })
			}
		}
		// drain into a final closed state
		done := make(chan struct{})
		for s.Close(func(api.State) { closes.Add(1); close(done) }) != nil {
			time.Sleep(time.Millisecond)
		}
		issuedCloses++
		recv(rt, done)
		deadline := time.Now().Add(waitFor)
		for (opens.Load() != issuedOpens || closes.Load() != issuedCloses) && time.Now().Before(deadline) {
			time.Sleep(time.Millisecond)
		}
		if opens.Load() != issuedOpens || closes.Load() != issuedCloses {
			rt.Fatalf("opens %d/%d closes %d/%d", opens.Load(), issuedOpens, closes.Load(), issuedCloses)
		}
	})
}

// The offset equals the bytes moved by Ok completions.
func TestOffsetTracksCompletions(t *testing.T) {
	p := newPort(t)
	rapid.Check(t, func(rt *rapid.T) {
		buf := make([]byte, rapid.IntRange(0, 64).Draw(rt, "len"))
		s := NewDataFrom(p, buf)
		defer s.Exit()
		require.Equal(rt, api.StateOk, openStream(rt, s))

		var moved int64
		ops := rapid.SliceOfN(rapid.IntRange(-16, 16), 1, 24).Draw(rt, "ops")
		for _, op := range ops {
			if op >= 0 {
				r := readStream(rt, s, op+1)
				moved += int64(len(r.data))
			} else {
				w := writeStream(rt, s, make([]byte, -op))
				moved += int64(w.real)
			}
			if s.Offset() != moved {
				rt.Fatalf("offset %d != moved %d", s.Offset(), moved)
			}
		}
	})
}
