// Package conn implements the per-connection state machine: the
// six-state FSM relating socket lifetime, buffer state, and hostname
// attachment described by the proxy's connection-management core.
package conn

import (
	"log/slog"
	"net/netip"
	"time"

	"github.com/Briarios/sniproxy/internal/buffer"
	"github.com/Briarios/sniproxy/internal/fd"
	"github.com/Briarios/sniproxy/internal/listener"
	"github.com/Briarios/sniproxy/internal/lru"
)

// State is one of the six FSM states a Connection can occupy.
type State int

const (
	StateNew State = iota
	StateAccepted
	StateConnected
	StateServerClosed
	StateClientClosed
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "NEW"
	case StateAccepted:
		return "ACCEPTED"
	case StateConnected:
		return "CONNECTED"
	case StateServerClosed:
		return "SERVER_CLOSED"
	case StateClientClosed:
		return "CLIENT_CLOSED"
	case StateClosed:
		return "CLOSED"
	default:
		return "INVALID"
	}
}

// DefaultBufferSize is the capacity given to each half-endpoint's
// buffer. 64 KiB comfortably holds a TLS ClientHello or HTTP request
// line plus headers while leaving room for steady-state throughput.
const DefaultBufferSize = 64 * 1024

// Endpoint is one half of a Connection: a socket that may or may not be
// open, its peer address, and its buffered bytes.
type Endpoint struct {
	FD     *fd.FD
	Addr   netip.AddrPort
	Buffer *buffer.Buffer
}

// open reports whether this half's descriptor is currently live.
func (e Endpoint) open() bool { return e.FD.Valid() }

// Connection is one accepted client and, once routed, its upstream.
type Connection struct {
	State State

	Client Endpoint
	Server Endpoint

	// Hostname is set only while State is one of CONNECTED,
	// CLIENT_CLOSED, SERVER_CLOSED, following a successful parse. It
	// stays attached through the half-closed states for logging and is
	// only cleared when the record is freed.
	Hostname string

	// Listener is a non-owning back-reference to the collaborator that
	// accepted this connection: it supplies ParsePacket and
	// LookupServerSocket.
	Listener listener.Listener

	// elem is this connection's handle into the reactor's LRU list,
	// letting Touch detach and reinsert it at the head in O(1).
	elem *lru.Element[*Connection]

	// lastActive is updated on every successful rx/tx; EvictIdle reads
	// it to decide whether a connection has been quiescent too long.
	lastActive time.Time
}

// Touch records now as the connection's last-active time. The reactor
// calls this on accept and on every successful rx/tx, in the same step
// it moves the connection to the head of the LRU list.
func (c *Connection) Touch(now time.Time) { c.lastActive = now }

// IdleFor reports how long the connection has gone without a successful
// rx/tx, as of now.
func (c *Connection) IdleFor(now time.Time) time.Duration { return now.Sub(c.lastActive) }

// New allocates a fresh Connection in state NEW with both half-buffers
// created, mirroring new_connection's allocate-both-buffers step. It has
// no error result: a Go allocation failure aborts the process rather
// than returning to the caller. A non-positive bufSize selects
// DefaultBufferSize.
func New(bufSize int) *Connection {
	if bufSize <= 0 {
		bufSize = DefaultBufferSize
	}
	return &Connection{
		State:  StateNew,
		Client: Endpoint{Buffer: buffer.New(bufSize)},
		Server: Endpoint{Buffer: buffer.New(bufSize)},
	}
}

// SetElement records this connection's LRU list handle. Called once by
// the reactor immediately after insertion at the list head.
func (c *Connection) SetElement(e *lru.Element[*Connection]) { c.elem = e }

// Element returns this connection's LRU list handle.
func (c *Connection) Element() *lru.Element[*Connection] { return c.elem }

// Reap releases everything a CLOSED connection was still holding:
// hostname and listener back-reference. The caller must only call this
// once the connection has reached StateClosed and has been detached
// from the LRU list — it mirrors free_connection's cleanup after
// close_connection, which Go's GC otherwise makes implicit.
func (c *Connection) Reap() {
	c.Hostname = ""
	c.Listener = nil
	c.elem = nil
}

// LogValue renders a Connection for structured logging without
// dragging the whole buffer contents along.
func (c *Connection) LogValue() slog.Value {
	attrs := []slog.Attr{
		slog.String("state", c.State.String()),
		slog.String("client", c.Client.Addr.String()),
	}
	if c.Hostname != "" {
		attrs = append(attrs, slog.String("hostname", c.Hostname))
	}
	if c.Server.Addr.IsValid() {
		attrs = append(attrs, slog.String("server", c.Server.Addr.String()))
	}
	return slog.GroupValue(attrs...)
}
