// Package api
// Author: momentics
//
// Executor contract for running blocking primitives off the completion loop.

package api

// Executor abstracts parallel task execution.
type Executor interface {
	// Submit schedules task for execution.
	Submit(task func()) error

	// NumWorkers returns current number of core worker routines.
	NumWorkers() int

	// Resize adjusts the core concurrency at runtime.
	Resize(newCount int)
}
