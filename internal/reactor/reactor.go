// Package reactor drives a fleet of connections through one cooperative,
// single-threaded, non-blocking tick at a time: it computes the union
// readiness set every live connection needs watched, dispatches
// whichever half-duplex actions a poll(2) wakeup allows, and reaps
// connections that have reached CLOSED.
//
// There is no shared mutable state across goroutines here: a Reactor's
// methods are meant to be called from a single loop goroutine, which
// matches the single-threaded cooperative scheduling model of the
// connection-management core this package implements.
package reactor

import (
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sys/unix"

	"github.com/Briarios/sniproxy/internal/buffer"
	"github.com/Briarios/sniproxy/internal/conn"
	"github.com/Briarios/sniproxy/internal/fd"
	"github.com/Briarios/sniproxy/internal/fdlimit"
	"github.com/Briarios/sniproxy/internal/listener"
	"github.com/Briarios/sniproxy/internal/lru"
	"github.com/Briarios/sniproxy/internal/netaddr"
)

// PeekSize is the number of bytes peeked from a freshly accepted
// client's buffer to hand to the listener's parser: one TCP MSS over
// standard Ethernet and IPv4.
const PeekSize = 1460

// Reactor owns the live connection list and drives it tick by tick.
type Reactor struct {
	conns     *lru.List[*conn.Connection]
	fdCeiling int
	bufSize   int
	now       func() time.Time
}

// New returns an empty Reactor. fdCeiling bounds the highest file
// descriptor number the reactor will accept for either a client or
// upstream socket; zero or negative disables the check.
func New(fdCeiling int) *Reactor {
	return &Reactor{
		conns:     lru.New[*conn.Connection](),
		fdCeiling: fdCeiling,
		bufSize:   conn.DefaultBufferSize,
		now:       time.Now,
	}
}

// SetBufferSize overrides the per-direction FIFO capacity used for
// connections accepted from now on. Must be called before the first
// AcceptConnection to take effect uniformly.
func (r *Reactor) SetBufferSize(n int) {
	if n > 0 {
		r.bufSize = n
	}
}

// Len returns the number of live connections (including ones pending
// reap in CLOSED state until the next Dispatch).
func (r *Reactor) Len() int { return r.conns.Len() }

// Connections returns a snapshot of the live connections in MRU-first
// order, for the debug dump.
func (r *Reactor) Connections() []*conn.Connection {
	out := make([]*conn.Connection, 0, r.conns.Len())
	for e := r.conns.Front(); e != nil; e = e.Next() {
		out = append(out, e.Value())
	}
	return out
}

// AcceptConnection accepts one pending connection off listenFD and
// inserts it at the head of the LRU list in state ACCEPTED. A failed
// accept(2) or a descriptor beyond the configured ceiling is logged and
// discarded without ever reaching the list, matching the original
// "record freed, never inserted" behavior.
func (r *Reactor) AcceptConnection(listenFD int, l listener.Listener) {
	rawFD, sa, err := unix.Accept4(listenFD, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
	if err != nil {
		if !errors.Is(err, unix.EAGAIN) && !errors.Is(err, unix.EWOULDBLOCK) {
			slog.Info("accept failed", "err", err)
		}
		return
	}

	if fdlimit.Ceiling(rawFD, r.fdCeiling) {
		slog.Warn("accepted fd exceeds configured ceiling, closing incoming connection", "fd", rawFD)
		unix.Close(rawFD)
		return
	}

	c := conn.New(r.bufSize)
	c.Accept(fd.New(rawFD), netaddr.FromSockaddr(sa), l)
	c.Touch(r.now())

	elem := r.conns.PushFront(c)
	c.SetElement(elem)
}

// Readiness computes the union read/write poll set every live
// connection currently needs watched, as a slice of unix.PollFd ready
// to pass to unix.Poll.
func (r *Reactor) Readiness() []unix.PollFd {
	var polls []unix.PollFd
	index := make(map[int32]int)

	add := func(rawFD int, events int16) {
		if rawFD < 0 {
			return
		}
		key := int32(rawFD)
		if i, ok := index[key]; ok {
			polls[i].Events |= events
			return
		}
		index[key] = len(polls)
		polls = append(polls, unix.PollFd{Fd: key, Events: events})
	}

	for e := r.conns.Front(); e != nil; e = e.Next() {
		c := e.Value()
		switch c.State {
		case conn.StateConnected:
			if c.Server.Buffer.Room() > 0 {
				add(c.Server.FD.Int(), unix.POLLIN)
			}
			if c.Client.Buffer.Len() > 0 {
				add(c.Server.FD.Int(), unix.POLLOUT)
			}
			fallthrough
		case conn.StateAccepted:
			if c.Client.Buffer.Room() > 0 {
				add(c.Client.FD.Int(), unix.POLLIN)
			}
			// Defensive: Server.Buffer can only be non-empty here if this
			// connection is CONNECTED (handled by the fallthrough above);
			// in plain ACCEPTED state no server socket exists yet, so this
			// is always false, but harmless to check.
			if c.Server.Buffer.Len() > 0 {
				add(c.Client.FD.Int(), unix.POLLOUT)
			}
		case conn.StateServerClosed:
			// Must be watched unconditionally: the client side needs to be
			// driven to completion (drained and closed) even with nothing
			// queued yet.
			add(c.Client.FD.Int(), unix.POLLOUT)
		case conn.StateClientClosed:
			add(c.Server.FD.Int(), unix.POLLOUT)
		case conn.StateClosed:
			// nothing to watch; Dispatch will reap it next tick.
		default:
			slog.Warn("invalid connection state in readiness computation", "state", c.State)
		}
	}

	return polls
}

// revents turns a poll(2) result into a lookup from fd to the events
// that fired.
func revents(polled []unix.PollFd) map[int32]int16 {
	out := make(map[int32]int16, len(polled))
	for _, p := range polled {
		if p.Revents != 0 {
			out[p.Fd] |= p.Revents
		}
	}
	return out
}

// Dispatch runs one tick of per-connection work given the fired events
// from the most recent Poll call, and reaps any connection that has
// reached CLOSED. It is safe to call with a list being mutated by the
// dispatch itself (a connection finalizing to CLOSED mid-tick does not
// invalidate the walk), matching the original safe-iterator guarantee.
func (r *Reactor) Dispatch(polled []unix.PollFd) {
	ev := revents(polled)

	var next *lru.Element[*conn.Connection]
	for e := r.conns.Front(); e != nil; e = next {
		next = e.Next()
		c := e.Value()

		switch c.State {
		case conn.StateConnected:
			r.stepConnectedServer(c, ev)
			fallthrough
		case conn.StateAccepted:
			r.stepClientSide(c, ev)
		case conn.StateServerClosed:
			r.stepServerClosed(c, ev)
		case conn.StateClientClosed:
			r.stepClientClosed(c, ev)
		case conn.StateClosed:
			r.conns.Remove(e)
			c.Reap()
		default:
			slog.Warn("invalid connection state in dispatch", "state", c.State)
		}
	}
}

func (r *Reactor) stepConnectedServer(c *conn.Connection, ev map[int32]int16) {
	re := ev[int32(c.Server.FD.Int())]
	failed := false

	if re&(unix.POLLIN|unix.POLLHUP|unix.POLLERR) != 0 && c.Server.Buffer.Room() > 0 {
		failed = !r.handleServerRx(c)
	}
	if !failed && re&unix.POLLOUT != 0 && c.Client.Buffer.Len() > 0 {
		failed = !r.handleServerTx(c)
	}
	if failed {
		c.CloseServerSocket()
	}
}

func (r *Reactor) stepClientSide(c *conn.Connection, ev map[int32]int16) {
	re := ev[int32(c.Client.FD.Int())]
	failed := false

	if re&(unix.POLLIN|unix.POLLHUP|unix.POLLERR) != 0 && c.Client.Buffer.Room() > 0 {
		failed = !r.handleClientRx(c)
	}
	if !failed && re&unix.POLLOUT != 0 && c.Server.Buffer.Len() > 0 {
		failed = !r.handleClientTx(c)
	}
	if failed {
		c.CloseClientSocket()
	}
}

func (r *Reactor) stepServerClosed(c *conn.Connection, ev map[int32]int16) {
	re := ev[int32(c.Client.FD.Int())]
	ok := true

	if re&unix.POLLOUT != 0 && c.Server.Buffer.Len() > 0 {
		ok = r.handleClientTx(c)
	}
	if !ok || c.Server.Buffer.Len() == 0 {
		c.CloseClientSocket()
	}
}

func (r *Reactor) stepClientClosed(c *conn.Connection, ev map[int32]int16) {
	re := ev[int32(c.Server.FD.Int())]
	ok := true

	if re&unix.POLLOUT != 0 && c.Client.Buffer.Len() > 0 {
		ok = r.handleServerTx(c)
	}
	if !ok || c.Client.Buffer.Len() == 0 {
		c.CloseServerSocket()
	}
}

// handleClientRx receives from the client socket into the client
// buffer. On the first successful read of an ACCEPTED connection it
// also runs the client-hello handoff. Reports false on hard failure
// (the caller then closes the client side only).
func (r *Reactor) handleClientRx(c *conn.Connection) bool {
	n, err := c.Client.Buffer.RecvFrom(c.Client.FD.Int())
	switch {
	case errors.Is(err, buffer.ErrTemporary):
		return true
	case err != nil:
		slog.Info("recv from client failed", "conn", c, "err", err)
		return false
	case n == 0:
		return false // orderly close
	}

	if c.State == conn.StateAccepted {
		r.handleClientHello(c)
	}
	r.touch(c)
	return true
}

// handleServerRx receives from the server socket into the server
// buffer.
func (r *Reactor) handleServerRx(c *conn.Connection) bool {
	n, err := c.Server.Buffer.RecvFrom(c.Server.FD.Int())
	switch {
	case errors.Is(err, buffer.ErrTemporary):
		return true
	case err != nil:
		slog.Info("recv from server failed", "conn", c, "err", err)
		return false
	case n == 0:
		return false // orderly close
	}
	r.touch(c)
	return true
}

// handleClientTx sends queued server->client bytes out the client
// socket. Any non-error send touches the connection in the LRU list,
// including one that sent zero bytes; this is kept deliberately to
// match the original proxy (handleServerTx behaves the same way).
func (r *Reactor) handleClientTx(c *conn.Connection) bool {
	_, err := c.Server.Buffer.SendTo(c.Client.FD.Int())
	switch {
	case errors.Is(err, buffer.ErrTemporary):
		return true
	case err != nil:
		slog.Info("send to client failed", "conn", c, "err", err)
		return false
	}
	r.touch(c)
	return true
}

// handleServerTx sends queued client->server bytes out the server
// socket.
func (r *Reactor) handleServerTx(c *conn.Connection) bool {
	_, err := c.Client.Buffer.SendTo(c.Server.FD.Int())
	switch {
	case errors.Is(err, buffer.ErrTemporary):
		return true
	case err != nil:
		slog.Info("send to server failed", "conn", c, "err", err)
		return false
	}
	r.touch(c)
	return true
}

// handleClientHello peeks the client buffer, hands it to the listener's
// parser, and on a successful parse resolves and dials the upstream,
// promoting the connection to CONNECTED. The client buffer is never
// consumed here: whatever bytes were peeked remain queued and go out on
// the next CONNECTED tick's server-bound send (handleServerTx), so the
// handshake bytes are neither lost nor duplicated.
func (r *Reactor) handleClientHello(c *conn.Connection) {
	var scratch [PeekSize]byte
	n := c.Client.Buffer.Peek(scratch[:])

	result := c.Listener.ParsePacket(scratch[:n])
	switch result.Kind {
	case listener.ParseIncomplete:
		return
	case listener.ParseNoHostname:
		slog.Info("request did not include a hostname", "conn", c)
		c.Close()
		return
	case listener.ParseUnparseable:
		slog.Info("unable to parse request", "conn", c)
		slog.Debug("parser rejected request", "code", result.Code)
		c.Close()
		return
	}

	slog.Info("request for hostname", "hostname", result.Hostname, "conn", c)

	serverRawFD, err := c.Listener.LookupServerSocket(result.Hostname)
	if err != nil {
		slog.Warn("server connection failed", "hostname", result.Hostname, "err", err)
		c.Close()
		return
	}

	if fdlimit.Ceiling(serverRawFD, r.fdCeiling) {
		slog.Warn("server fd exceeds configured ceiling, closing server connection", "hostname", result.Hostname)
		// Must close explicitly: state is not yet CONNECTED, so
		// Connection.Close wouldn't otherwise know to touch the server
		// side.
		c.Server.FD = fd.New(serverRawFD)
		c.CloseServerSocket()
		c.Close()
		return
	}

	// Recording the server peer address here, rather than threading it
	// back from LookupServerSocket, mirrors the original design: it's a
	// little redundant but keeps the Listener interface small.
	serverAddr, err := netaddr.PeerAddr(serverRawFD)
	if err != nil {
		slog.Debug("getpeername on upstream socket failed", "err", err)
	}

	c.PromoteConnected(result.Hostname, fd.New(serverRawFD), serverAddr)
	r.touch(c)
}

func (r *Reactor) touch(c *conn.Connection) {
	c.Touch(r.now())
	if e := c.Element(); e != nil {
		r.conns.MoveToFront(e)
	}
}

// EvictIdle closes connections that have gone longer than max without a
// successful rx/tx, walking from the LRU tail (the least recently
// active end) as spec'd. A non-positive max disables eviction.
func (r *Reactor) EvictIdle(max time.Duration) {
	if max <= 0 {
		return
	}
	now := r.now()
	for e := r.conns.Back(); e != nil; {
		c := e.Value()
		if c.IdleFor(now) < max {
			break
		}
		prev := e.Prev()
		slog.Info("closing idle connection", "conn", c, "idle", c.IdleFor(now))
		c.Close()
		e = prev
	}
}
