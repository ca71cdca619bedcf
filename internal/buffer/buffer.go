// Package buffer implements the bounded byte FIFO each connection half
// owns: a fixed-capacity ring buffer that can be peeked without
// consuming, and drained directly to/from a raw file descriptor with
// non-blocking reads and writes.
package buffer

import (
	"errors"

	"golang.org/x/sys/unix"
)

// ErrTemporary is returned in place of a syscall errno that means "try
// again later": EAGAIN, EWOULDBLOCK, or EINTR. The errno itself is not
// wrapped. Callers should treat it as no progress, not as a hard failure.
var ErrTemporary = errors.New("buffer: temporary error")

// Buffer is a fixed-capacity circular byte queue. The zero value is not
// usable; construct with New.
type Buffer struct {
	data []byte
	head int // index of the first unread byte
	size int // number of bytes currently buffered
}

// New allocates a Buffer with the given capacity in bytes.
func New(capacity int) *Buffer {
	if capacity <= 0 {
		panic("buffer: capacity must be positive")
	}
	return &Buffer{data: make([]byte, capacity)}
}

// Cap returns the buffer's total capacity.
func (b *Buffer) Cap() int { return len(b.data) }

// Len returns the number of bytes currently queued.
func (b *Buffer) Len() int { return b.size }

// Room returns the number of additional bytes that can be queued.
func (b *Buffer) Room() int { return len(b.data) - b.size }

// Peek copies up to len(dst) queued bytes into dst without consuming
// them, returning the number of bytes copied.
func (b *Buffer) Peek(dst []byte) int {
	n := min(len(dst), b.size)
	for i := 0; i < n; i++ {
		dst[i] = b.data[(b.head+i)%len(b.data)]
	}
	return n
}

// RecvFrom reads up to the available room from fd using a single
// non-blocking read(2), appending the bytes to the queue. When the free
// space wraps around the end of the ring, only the span up to the end
// is read in this call.
//
// The return value mirrors the original buffer_recv contract: n is the
// number of bytes received (0 means the peer performed an orderly
// close, or that the buffer had no room and nothing was read), and err
// is nil on success, ErrTemporary if the read would
// have blocked (EAGAIN/EWOULDBLOCK/EINTR — no progress was made, retry
// later), or a wrapped errno for any other failure.
func (b *Buffer) RecvFrom(fd int) (int, error) {
	room := b.Room()
	if room == 0 {
		return 0, nil
	}

	tail := (b.head + b.size) % len(b.data)
	var n int
	var err error
	if tail+room <= len(b.data) {
		n, err = unix.Read(fd, b.data[tail:tail+room])
	} else {
		// Wraps around the end of the ring; read(2) only fills a single
		// contiguous span, so cap this read at the first span and let the
		// next tick pick up the rest.
		first := len(b.data) - tail
		n, err = unix.Read(fd, b.data[tail:tail+first])
	}

	if err != nil {
		if isTemporary(err) {
			return 0, ErrTemporary
		}
		return 0, err
	}

	b.size += n
	return n, nil
}

// SendTo writes queued bytes to fd using a single non-blocking
// write(2), advancing the queue past the bytes sent. When the queued
// bytes wrap around the end of the ring, only the span up to the end is
// written in this call.
//
// Unlike RecvFrom, n == 0 is not an error here: it just means nothing
// was sent (e.g. the queue is empty, or the socket would block at zero
// bytes written).
func (b *Buffer) SendTo(fd int) (int, error) {
	if b.size == 0 {
		return 0, nil
	}

	span := b.size
	if b.head+span > len(b.data) {
		span = len(b.data) - b.head
	}

	n, err := unix.Write(fd, b.data[b.head:b.head+span])
	if err != nil {
		if isTemporary(err) {
			return 0, ErrTemporary
		}
		return 0, err
	}

	b.head = (b.head + n) % len(b.data)
	b.size -= n
	return n, nil
}

func isTemporary(err error) bool {
	return errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EWOULDBLOCK) || errors.Is(err, unix.EINTR)
}
