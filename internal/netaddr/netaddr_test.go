package netaddr

import (
	"net/netip"
	"testing"

	"golang.org/x/sys/unix"
)

func TestFormatValidAndZero(t *testing.T) {
	addr := netip.MustParseAddrPort("192.168.1.1:443")
	ip, port := Format(addr)
	if ip != "192.168.1.1" || port != 443 {
		t.Fatalf("Format = %q, %d, want 192.168.1.1, 443", ip, port)
	}

	ip, port = Format(netip.AddrPort{})
	if ip != "" || port != 0 {
		t.Fatalf("Format(zero) = %q, %d, want empty", ip, port)
	}
}

func TestStringPresentAndAbsent(t *testing.T) {
	addr := netip.MustParseAddrPort("10.0.0.1:80")
	if got := String(addr); got != "10.0.0.1:80" {
		t.Fatalf("String = %q, want %q", got, "10.0.0.1:80")
	}
	if got := String(netip.AddrPort{}); got != "-" {
		t.Fatalf("String(zero) = %q, want %q", got, "-")
	}
}

func TestFromSockaddrInet4(t *testing.T) {
	sa := &unix.SockaddrInet4{Port: 8080, Addr: [4]byte{127, 0, 0, 1}}
	addr := FromSockaddr(sa)
	if !addr.IsValid() {
		t.Fatalf("expected valid AddrPort")
	}
	if addr.Addr().String() != "127.0.0.1" || addr.Port() != 8080 {
		t.Fatalf("FromSockaddr = %v, want 127.0.0.1:8080", addr)
	}
}

func TestFromSockaddrUnsupportedFamily(t *testing.T) {
	addr := FromSockaddr(&unix.SockaddrUnix{Name: "/tmp/x"})
	if addr.IsValid() {
		t.Fatalf("expected zero AddrPort for unsupported family")
	}
}
