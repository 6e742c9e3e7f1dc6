//go:build unix

// File: stream/file_unix.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package stream

import (
	"io"
	"os"

	"golang.org/x/sys/unix"
)

func pread(f *os.File, p []byte, off int64) (n int, err error) {
	rc, err := f.SyscallConn()
	if err != nil {
		return 0, err
	}
	cerr := rc.Read(func(fd uintptr) bool {
		for {
			n, err = unix.Pread(int(fd), p, off)
			if err != unix.EINTR {
				return true
			}
		}
	})
	if cerr != nil {
		return 0, cerr
	}
	if err != nil {
		return 0, &os.PathError{Op: "pread", Path: f.Name(), Err: err}
	}
	if n == 0 && len(p) > 0 {
		return 0, io.EOF
	}
	return n, nil
}

func pwrite(f *os.File, p []byte, off int64) (n int, err error) {
	rc, err := f.SyscallConn()
	if err != nil {
		return 0, err
	}
	cerr := rc.Write(func(fd uintptr) bool {
		for n < len(p) {
			m, werr := unix.Pwrite(int(fd), p[n:], off+int64(n))
			if werr == unix.EINTR {
				continue
			}
			if werr != nil {
				err = &os.PathError{Op: "pwrite", Path: f.Name(), Err: werr}
				return true
			}
			n += m
		}
		return true
	})
	if cerr != nil {
		return n, cerr
	}
	return n, err
}

func fsync(f *os.File) error {
	rc, err := f.SyscallConn()
	if err != nil {
		return err
	}
	cerr := rc.Control(func(fd uintptr) {
		for {
			if err = unix.Fsync(int(fd)); err != unix.EINTR {
				return
			}
		}
	})
	if cerr != nil {
		return cerr
	}
	return err
}
