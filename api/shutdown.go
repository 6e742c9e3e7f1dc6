// File: api/shutdown.go
// Package api defines unified graceful shutdown contract.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package api

// GracefulShutdown is implemented by components that own goroutines or
// streams: the reactor port and the transfer pool.
type GracefulShutdown interface {
	// Shutdown stops the component and releases its resources. It blocks for
	// a bounded time and reports an error if resources failed to drain.
	Shutdown() error
}
