// File: stream/helpers_test.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package stream

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/momentics/hioload-stream/api"
	"github.com/momentics/hioload-stream/reactor"
)

const waitFor = 5 * time.Second

// tb is satisfied by *testing.T and *rapid.T.
type tb interface {
	require.TestingT
	Helper()
}

func newPort(t *testing.T, opts ...reactor.Option) *reactor.Port {
	t.Helper()
	opts = append([]reactor.Option{reactor.WithLogger(zaptest.NewLogger(t))}, opts...)
	p, err := reactor.New(reactor.DefaultConfig(), opts...)
	require.NoError(t, err)
	p.Start()
	t.Cleanup(p.Stop)
	return p
}

// exitOnCleanup releases s before the port stops.
func exitOnCleanup(t *testing.T, s api.Stream) {
	t.Cleanup(func() { _ = s.Exit() })
}

func recv[T any](t tb, ch <-chan T) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(waitFor):
		t.Errorf("timed out waiting for completion")
		t.FailNow()
	}
	var zero T
	return zero
}

func openStream(t tb, s api.Stream) api.State {
	t.Helper()
	ch := make(chan api.State, 1)
	require.NoError(t, s.Open(func(st api.State) { ch <- st }))
	return recv(t, ch)
}

func closeStream(t tb, s api.Stream) api.State {
	t.Helper()
	ch := make(chan api.State, 1)
	require.NoError(t, s.Close(func(st api.State) { ch <- st }))
	return recv(t, ch)
}

type readResult struct {
	st   api.State
	data []byte
}

func readStream(t tb, s api.Stream, size int) readResult {
	t.Helper()
	ch := make(chan readResult, 1)
	require.NoError(t, s.Read(size, func(st api.State, data []byte, _ int) bool {
		ch <- readResult{st: st, data: append([]byte(nil), data...)}
		return false
	}))
	return recv(t, ch)
}

// readAll reads until a non-Ok state and returns the bytes and that state.
func readAll(t tb, s api.Stream, size int) ([]byte, api.State) {
	t.Helper()
	type result struct {
		data []byte
		st   api.State
	}
	ch := make(chan result, 1)
	var out []byte
	require.NoError(t, s.Read(size, func(st api.State, data []byte, _ int) bool {
		if st != api.StateOk {
			ch <- result{out, st}
			return false
		}
		out = append(out, data...)
		return true
	}))
	r := recv(t, ch)
	return r.data, r.st
}

type writeResult struct {
	st   api.State
	real int
}

func writeStream(t tb, s api.Stream, data []byte) writeResult {
	t.Helper()
	ch := make(chan writeResult, 1)
	total := 0
	require.NoError(t, s.Write(data, func(st api.State, real, size int) bool {
		total += real
		if st != api.StateOk || real >= size {
			ch <- writeResult{st: st, real: total}
			return false
		}
		return true
	}))
	return recv(t, ch)
}

func syncStream(t tb, s api.Stream, closing bool) api.State {
	t.Helper()
	ch := make(chan api.State, 1)
	require.NoError(t, s.Sync(closing, func(st api.State, _ bool) { ch <- st }))
	return recv(t, ch)
}

func seekStream(t tb, s api.Stream, off int64) (api.State, int64) {
	t.Helper()
	type result struct {
		st  api.State
		off int64
	}
	ch := make(chan result, 1)
	require.NoError(t, s.Seek(off, func(st api.State, off int64) { ch <- result{st, off} }))
	r := recv(t, ch)
	return r.st, r.off
}
