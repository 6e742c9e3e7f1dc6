//go:build !unix

// File: stream/file_other.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package stream

import "os"

func pread(f *os.File, p []byte, off int64) (int, error) {
	return f.ReadAt(p, off)
}

func pwrite(f *os.File, p []byte, off int64) (int, error) {
	return f.WriteAt(p, off)
}

func fsync(f *os.File) error {
	return f.Sync()
}
