// Package netaddr formats socket peer addresses for logging and the
// debug dump, the way a raw sockaddr_storage would be rendered by
// get_peer_address in the original proxy.
package netaddr

import (
	"net/netip"

	"golang.org/x/sys/unix"
)

// Format splits addr into its textual IP and port, or returns the zero
// value (empty string, port 0) if addr is not valid — e.g. when a
// connection's server side hasn't been opened yet.
func Format(addr netip.AddrPort) (ip string, port int) {
	if !addr.IsValid() {
		return "", 0
	}
	return addr.Addr().String(), int(addr.Port())
}

// String renders addr as "ip:port", or "-" when addr is absent.
func String(addr netip.AddrPort) string {
	if !addr.IsValid() {
		return "-"
	}
	return addr.String()
}

// FromSockaddr converts a raw unix.Sockaddr, as returned by accept(2) or
// getpeername(2), into a netip.AddrPort. It returns the zero value for
// any address family other than AF_INET/AF_INET6.
func FromSockaddr(sa unix.Sockaddr) netip.AddrPort {
	switch sa := sa.(type) {
	case *unix.SockaddrInet4:
		return netip.AddrPortFrom(netip.AddrFrom4(sa.Addr), uint16(sa.Port))
	case *unix.SockaddrInet6:
		return netip.AddrPortFrom(netip.AddrFrom16(sa.Addr), uint16(sa.Port))
	default:
		return netip.AddrPort{}
	}
}

// PeerAddr looks up the remote address of fd via getpeername(2).
func PeerAddr(fd int) (netip.AddrPort, error) {
	sa, err := unix.Getpeername(fd)
	if err != nil {
		return netip.AddrPort{}, err
	}
	return FromSockaddr(sa), nil
}
