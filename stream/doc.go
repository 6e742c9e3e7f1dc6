// Package stream implements the asynchronous stream contract over data,
// file, sock, http, ws and filter backends.
//
// Every stream is bound to a reactor.Port. Requests return immediately and
// complete through a callback that runs on the port loop goroutine. Base
// carries the shared lifecycle: phase transitions, pending-operation slots,
// offset accounting, the close-on-failed-open rendezvous and the optional
// write cache. Backends only implement the primitives.
//
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
package stream
