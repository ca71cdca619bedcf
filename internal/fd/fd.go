// Package fd wraps a raw file descriptor in a scoped-ownership handle so
// that a socket can only ever be closed once: the owning Connection's
// FSM transition becomes the single place a descriptor's lifetime ends,
// rather than a comment promising the caller won't double-close it.
package fd

import (
	"fmt"
	"sync/atomic"

	"golang.org/x/sys/unix"
)

// FD owns a single raw file descriptor.
type FD struct {
	raw    int
	closed atomic.Bool
}

// New wraps raw, an already-open file descriptor, for exclusive
// ownership by the caller.
func New(raw int) *FD {
	return &FD{raw: raw}
}

// Valid reports whether the descriptor is still open.
func (f *FD) Valid() bool {
	return f != nil && !f.closed.Load()
}

// Int returns the raw descriptor number. Callers must not use it after
// Close.
func (f *FD) Int() int {
	return f.raw
}

// Close closes the underlying descriptor exactly once. Subsequent calls
// are no-ops that return nil, matching the FSM's expectation that "is
// this fd open" has a single source of truth.
func (f *FD) Close() error {
	if !f.closed.CompareAndSwap(false, true) {
		return nil
	}
	return unix.Close(f.raw)
}

func (f *FD) String() string {
	if f == nil {
		return "fd(nil)"
	}
	if f.closed.Load() {
		return fmt.Sprintf("fd(%d,closed)", f.raw)
	}
	return fmt.Sprintf("fd(%d)", f.raw)
}
