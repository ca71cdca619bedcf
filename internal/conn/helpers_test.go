package conn

import (
	"time"

	"golang.org/x/sys/unix"
)

// pipeFDs returns two raw descriptors Close() can legally be called on,
// standing in for a socket pair where the tests don't need to exercise
// real recv/send behavior (that's covered in the buffer and reactor
// packages).
func pipeFDs() (int, int, error) {
	fds := make([]int, 2)
	if err := unix.Pipe2(fds, 0); err != nil {
		return 0, 0, err
	}
	return fds[0], fds[1], nil
}

func fixedTime(ns int64) time.Time {
	return time.Unix(0, ns)
}
