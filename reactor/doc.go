// Package reactor is the completion port every stream submits work to.
//
// A Port owns one loop goroutine that runs all completions, an executor for
// blocking primitives and a timer scheduler. Streams talk to the port through
// a Handle: each primitive submitted on a handle produces exactly one
// Completion delivered on the loop goroutine. Killing a handle makes every
// in-flight and future primitive resolve with api.StateKilled.
//
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
package reactor
