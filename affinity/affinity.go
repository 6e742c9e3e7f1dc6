// File: affinity/affinity.go
// Author: momentics <momentics@gmail.com>
//
// Platform-neutral API for CPU affinity. The reactor uses it to pin the OS
// thread that runs the completion loop. Platform-specific implementations are
// located in affinity_linux.go, affinity_windows.go and affinity_stub.go.

package affinity

import (
	"errors"
	"fmt"
	"runtime"
)

// ErrNotSupported is returned on platforms without thread affinity.
var ErrNotSupported = errors.New("affinity: not supported on this platform")

// SetAffinity pins the current OS thread to a logical CPU. The caller must
// hold runtime.LockOSThread for the pin to stick to its goroutine.
func SetAffinity(cpuID int) error {
	if cpuID < 0 || cpuID >= runtime.NumCPU() {
		return fmt.Errorf("affinity: cpu %d out of range [0, %d)", cpuID, runtime.NumCPU())
	}
	return setAffinityPlatform(cpuID)
}
