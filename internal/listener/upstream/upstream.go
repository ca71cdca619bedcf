// Package upstream resolves a routed hostname into a connected upstream
// socket, the way the original proxy's resolve_name_to_addr and
// connect_server did: look the name up in a route table, then dial the
// upstream and hand back a raw non-blocking descriptor the reactor can
// poll directly. The dial itself blocks the calling goroutine until the
// connection is established or the dial timeout expires.
package upstream

import (
	"context"
	"fmt"
	"net"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

// Route maps a hostname pattern to an upstream address. Pattern may be
// an exact hostname ("example.com"), a leading wildcard ("*.example.com")
// matching the bare suffix itself and any name under it at any depth
// ("example.com", "api.example.com", "a.b.example.com"), or "*" matching
// every hostname.
type Route struct {
	Pattern  string
	Upstream string
}

// Table is an ordered list of routes, matched first-match-wins the way
// the original proxy's table.conf did.
type Table struct {
	routes []Route
}

// NewTable builds a route table from routes, preserving order.
func NewTable(routes []Route) *Table {
	return &Table{routes: append([]Route(nil), routes...)}
}

// Resolve returns the upstream address routed hostname matches, or false
// if no route applies.
func (t *Table) Resolve(hostname string) (string, bool) {
	hostname = strings.ToLower(hostname)
	for _, r := range t.routes {
		if matches(r.Pattern, hostname) {
			return r.Upstream, true
		}
	}
	return "", false
}

func matches(pattern, hostname string) bool {
	pattern = strings.ToLower(pattern)
	if pattern == "*" {
		return true
	}
	if suffix, ok := strings.CutPrefix(pattern, "*."); ok {
		return hostname == suffix || strings.HasSuffix(hostname, "."+suffix)
	}
	return pattern == hostname
}

// Resolver implements listener.LookupServerSocket by resolving a
// hostname through a Table and dialing the resulting address.
type Resolver struct {
	Table       *Table
	DialTimeout time.Duration
}

// NewResolver returns a Resolver that routes through table.
func NewResolver(table *Table, dialTimeout time.Duration) *Resolver {
	if dialTimeout <= 0 {
		dialTimeout = 10 * time.Second
	}
	return &Resolver{Table: table, DialTimeout: dialTimeout}
}

// LookupServerSocket resolves hostname via the route table and dials the
// matched upstream, returning the connected socket's raw file
// descriptor. The descriptor is dup'd out of the net.Conn so the
// reactor, not the standard library runtime poller, owns its lifetime.
func (u *Resolver) LookupServerSocket(hostname string) (int, error) {
	addr, ok := u.Table.Resolve(hostname)
	if !ok {
		return -1, fmt.Errorf("upstream: no route for %q", hostname)
	}

	d := net.Dialer{
		Timeout: u.DialTimeout,
		Control: func(network, address string, c syscall.RawConn) error {
			var ctrlErr error
			err := c.Control(func(fd uintptr) {
				if err := unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
					ctrlErr = fmt.Errorf("set SO_REUSEADDR: %w", err)
					return
				}
				if err := unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEPORT, 1); err != nil {
					ctrlErr = fmt.Errorf("set SO_REUSEPORT: %w", err)
				}
			})
			if err != nil {
				return err
			}
			return ctrlErr
		},
	}

	conn, err := d.DialContext(context.Background(), "tcp", addr)
	if err != nil {
		return -1, fmt.Errorf("dial %s: %w", addr, err)
	}
	defer conn.Close()

	tcpConn, ok := conn.(*net.TCPConn)
	if !ok {
		return -1, fmt.Errorf("upstream: unexpected conn type %T", conn)
	}
	raw, err := tcpConn.SyscallConn()
	if err != nil {
		return -1, fmt.Errorf("syscall conn: %w", err)
	}

	var dupFD int
	var dupErr error
	if err := raw.Control(func(fd uintptr) {
		dupFD, dupErr = unix.Dup(int(fd))
	}); err != nil {
		return -1, fmt.Errorf("control: %w", err)
	}
	if dupErr != nil {
		return -1, fmt.Errorf("dup: %w", dupErr)
	}

	if err := unix.SetNonblock(dupFD, true); err != nil {
		unix.Close(dupFD)
		return -1, fmt.Errorf("set nonblock: %w", err)
	}

	return dupFD, nil
}
