// Package api
// Author: momentics
//
// Scheduler contract for timed job execution on the completion loop.

package api

// Scheduler abstracts timer scheduling.
type Scheduler interface {
	// Schedule runs fn once after delayNanos. fn runs on the scheduler
	// goroutine and must not block.
	Schedule(delayNanos int64, fn func()) (Cancelable, error)

	// Cancel cancels a previously scheduled callback.
	Cancel(c Cancelable) error

	// Now returns monotonic time in nanoseconds.
	Now() int64
}
