// File: transfer/helpers_test.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package transfer

import (
	"crypto/rand"
	"encoding/base64"
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

func newPort(t *testing.T) *reactor.Port {
	t.Helper()
	p, err := reactor.New(reactor.DefaultConfig(), reactor.WithLogger(zaptest.NewLogger(t)))
	require.NoError(t, err)
	p.Start()
	t.Cleanup(p.Stop)
	return p
}

func recv[T any](t tb, ch <-chan T) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(waitFor):
		t.Errorf("timed out waiting for a report")
		t.FailNow()
	}
	var zero T
	return zero
}

func randomBytes(t tb, n int) []byte {
	t.Helper()
	b := make([]byte, n)
	_, err := rand.Read(b)
	require.NoError(t, err)
	return b
}

func dataURL(b []byte) string {
	return "data://" + base64.StdEncoding.EncodeToString(b)
}

// reports collects every report of a transfer and forwards the terminal one.
type reports struct {
	all  chan Progress
	done chan Progress
}

func newReports() *reports {
	return &reports{all: make(chan Progress, 64), done: make(chan Progress, 1)}
}

func (r *reports) save(p Progress) bool {
	if p.State.Terminal() {
		r.done <- p
		return true
	}
	select {
	case r.all <- p:
	default:
	}
	return true
}

// next waits for the next non-terminal report.
func (r *reports) next(t tb) Progress {
	t.Helper()
	return recv(t, r.all)
}

func (r *reports) terminal(t tb) Progress {
	t.Helper()
	return recv(t, r.done)
}

// exitOnCleanup exits t before the port stops.
func exitOnCleanup(t *testing.T, tr *Transfer) {
	t.Cleanup(func() { _ = tr.Exit() })
}

func closedPhases(t tb, streams ...api.Stream) {
	t.Helper()
	for _, s := range streams {
		require.Equal(t, api.PhaseClosed, s.Phase(), s.URL())
	}
}
