// Package api
// Author: momentics@gmail.com
//
// Cancellation contract for scheduled work.

package api

// Cancelable is any operation that may be canceled.
type Cancelable interface {
	// Cancel attempts to abort the operation. It returns ErrNotSupported
	// style errors when the operation already ran.
	Cancel() error
	// Done is closed once the operation ran or was canceled.
	Done() <-chan struct{}
	// Err returns the cancellation reason, nil if the operation ran.
	Err() error
}
