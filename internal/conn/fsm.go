package conn

import (
	"log/slog"
	"net/netip"

	"github.com/Briarios/sniproxy/internal/fd"
	"github.com/Briarios/sniproxy/internal/listener"
)

// Accept transitions a freshly allocated (NEW) connection into ACCEPTED
// after its client socket has been accepted successfully. The caller
// (the reactor's accept path) is responsible for the fd-ceiling check
// and for inserting the connection into the LRU list; Accept only
// updates FSM state.
func (c *Connection) Accept(clientFD *fd.FD, clientAddr netip.AddrPort, l listener.Listener) {
	c.Client.FD = clientFD
	c.Client.Addr = clientAddr
	c.Listener = l
	c.State = StateAccepted
}

// PromoteConnected transitions an ACCEPTED connection to CONNECTED once
// the client-hello handoff has resolved a hostname and dialed the
// upstream.
func (c *Connection) PromoteConnected(hostname string, serverFD *fd.FD, serverAddr netip.AddrPort) {
	c.Hostname = hostname
	c.Server.FD = serverFD
	c.Server.Addr = serverAddr
	c.State = StateConnected
}

// CloseClientSocket closes the client half's socket. The resulting state
// depends on the state at the time of the call: CONNECTED becomes
// CLIENT_CLOSED (the server side may still have buffered bytes to
// drain); anything else (ACCEPTED, SERVER_CLOSED) becomes CLOSED
// outright, since there's no live server side left to preserve.
//
// Caller must ensure the client socket has not already been closed.
func (c *Connection) CloseClientSocket() {
	if err := c.Client.FD.Close(); err != nil {
		slog.Info("close client socket failed", "conn", c, "err", err)
	}
	if c.State == StateConnected {
		c.State = StateClientClosed
	} else {
		c.State = StateClosed
	}
}

// CloseServerSocket closes the server half's socket. CLIENT_CLOSED
// becomes CLOSED (both sides are now gone); anything else (CONNECTED)
// becomes SERVER_CLOSED so the client side can drain.
//
// Caller must ensure the server socket has not already been closed.
func (c *Connection) CloseServerSocket() {
	if err := c.Server.FD.Close(); err != nil {
		slog.Info("close server socket failed", "conn", c, "err", err)
	}
	if c.State == StateClientClosed {
		c.State = StateClosed
	} else {
		c.State = StateServerClosed
	}
}

// Close tears the connection down from whatever state it's currently
// in, closing whichever sockets are still open. It reads c.State fresh
// between the two checks below on purpose: closing the client socket
// may itself advance the state (e.g. CONNECTED -> CLIENT_CLOSED), which
// changes whether the server socket still needs closing.
func (c *Connection) Close() {
	switch c.State {
	case StateConnected, StateAccepted, StateServerClosed:
		c.CloseClientSocket()
	}
	switch c.State {
	case StateConnected, StateClientClosed:
		c.CloseServerSocket()
	}
}
