// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Error definitions for concurrency module.

package concurrency

import "errors"

var (
	// ErrExecutorClosed indicates the executor has been shut down
	ErrExecutorClosed = errors.New("executor is closed")

	// ErrLoopStopped indicates the event loop no longer accepts work
	ErrLoopStopped = errors.New("event loop is stopped")

	// ErrSchedulerStopped indicates the scheduler no longer accepts timers
	ErrSchedulerStopped = errors.New("scheduler is stopped")

	// ErrTimerCanceled is the Err of a canceled timer
	ErrTimerCanceled = errors.New("timer canceled")

	// ErrTimerFired is returned when canceling a timer that already ran
	ErrTimerFired = errors.New("timer already fired")

	// ErrInvalidWorkerCount indicates invalid worker count configuration
	ErrInvalidWorkerCount = errors.New("invalid worker count")
)
