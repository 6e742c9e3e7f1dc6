//go:build !unix

// File: stream/sock_other.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package stream

import "net"

func probeBuffers(net.Conn) (int, int) { return 0, 0 }
