// File: transfer/copy.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package transfer

import (
	"context"
	"errors"
	"fmt"

	"github.com/momentics/hioload-stream/api"
	"github.com/momentics/hioload-stream/reactor"
)

// Copy runs one transfer from srcURL to dstURL and blocks until it ends.
// progress may be nil and must not block. Cancelling ctx kills the copy.
// A nil port runs the copy on a private port.
//
// A copy that reached the end of the source returns a nil error.
func Copy(ctx context.Context, port *reactor.Port, srcURL, dstURL string, offset, bps int64, progress SaveFunc, opts ...Option) (Progress, error) {
	if port == nil {
		cfg := buildConfig(opts)
		p, err := reactor.New(reactor.DefaultConfig(), reactor.WithLogger(cfg.Logger))
		if err != nil {
			return Progress{}, fmt.Errorf("transfer: port: %w", err)
		}
		p.Start()
		defer p.Stop()
		port = p
	}
	if port.InLoop() {
		return Progress{}, fmt.Errorf("transfer: copy on the loop goroutine: %w", api.ErrInvalidArgument)
	}

	t, err := NewFromURL(port, srcURL, dstURL, opts...)
	if err != nil {
		return Progress{}, err
	}
	t.LimitRate(bps)

	done := make(chan Progress, 1)
	err = t.OSave(offset, func(p Progress) bool {
		if !p.State.Terminal() {
			if progress != nil {
				return progress(p)
			}
			return true
		}
		done <- p
		return true
	})
	if err != nil {
		return Progress{}, errors.Join(err, t.Exit())
	}

	var p Progress
	select {
	case p = <-done:
	case <-ctx.Done():
		t.Kill()
		p = <-done
	}
	if err := t.Exit(); err != nil {
		return p, err
	}
	switch {
	case p.State == api.StateClosed:
		return p, nil
	case p.State == api.StateKilled && ctx.Err() != nil:
		return p, fmt.Errorf("transfer: %w: %w", p.State.Err(), context.Cause(ctx))
	}
	return p, p.State.Err()
}
