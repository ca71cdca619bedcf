// Package fdlimit holds the configured ceiling on file descriptors the
// reactor is willing to track. It replaces the historical FD_SETSIZE
// bitset limit: the reactor is built on unix.Poll, which has no inherent
// bitset ceiling, but an explicit bound is still needed to keep resource
// usage representable and bounded.
package fdlimit

// Default is used when a Config doesn't specify an explicit ceiling.
const Default = 4096

// Ceiling reports whether fd exceeds the configured maximum. A zero or
// negative max disables the check (unlimited).
func Ceiling(fd int, max int) bool {
	if max <= 0 {
		return false
	}
	return fd > max
}
