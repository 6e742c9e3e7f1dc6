// File: internal/concurrency/doc.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Concurrency primitives behind the completion port: a single-goroutine
// completion loop fed by a lock-free MPMC queue, an elastic executor for
// blocking primitives and a min-heap timer scheduler.
package concurrency
