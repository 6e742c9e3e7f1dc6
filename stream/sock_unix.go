//go:build unix

// File: stream/sock_unix.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package stream

import (
	"net"
	"syscall"

	"golang.org/x/sys/unix"
)

// probeBuffers reads the kernel receive and send buffer sizes of conn.
func probeBuffers(conn net.Conn) (rsize, wsize int) {
	sc, ok := conn.(syscall.Conn)
	if !ok {
		return 0, 0
	}
	rc, err := sc.SyscallConn()
	if err != nil {
		return 0, 0
	}
	_ = rc.Control(func(fd uintptr) {
		rsize, _ = unix.GetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_RCVBUF)
		wsize, _ = unix.GetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_SNDBUF)
	})
	return rsize, wsize
}
