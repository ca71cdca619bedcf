package reactor_test

import (
	"errors"
	"net"
	"testing"
	"time"

	"golang.org/x/sys/unix"

	"github.com/Briarios/sniproxy/internal/conn"
	"github.com/Briarios/sniproxy/internal/listener"
	"github.com/Briarios/sniproxy/internal/reactor"
)

// fakeListener hands out a ParseOK result for any non-empty peek and
// dials its upstream with an in-process socketpair, so tests can read
// and write the "upstream" side directly without a real network hop.
type fakeListener struct {
	hostname   string
	serverFDCh chan int
}

func (f *fakeListener) ParsePacket(buf []byte) listener.ParseResult {
	if len(buf) == 0 {
		return listener.ParseResult{Kind: listener.ParseIncomplete}
	}
	return listener.ParseResult{Kind: listener.ParseOK, Hostname: f.hostname}
}

func (f *fakeListener) LookupServerSocket(hostname string) (int, error) {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_NONBLOCK, 0)
	if err != nil {
		return -1, err
	}
	f.serverFDCh <- fds[1]
	return fds[0], nil
}

// rawListenFD dup's a net.TCPListener's descriptor into a non-blocking
// raw fd the reactor can accept4(2) from directly.
func rawListenFD(t *testing.T, ln net.Listener) int {
	t.Helper()
	tcpLn, ok := ln.(*net.TCPListener)
	if !ok {
		t.Fatalf("listener is %T, want *net.TCPListener", ln)
	}
	raw, err := tcpLn.SyscallConn()
	if err != nil {
		t.Fatalf("SyscallConn: %v", err)
	}

	var dupFD int
	var dupErr error
	if err := raw.Control(func(fd uintptr) {
		dupFD, dupErr = unix.Dup(int(fd))
	}); err != nil {
		t.Fatalf("control: %v", err)
	}
	if dupErr != nil {
		t.Fatalf("dup: %v", dupErr)
	}
	if err := unix.SetNonblock(dupFD, true); err != nil {
		t.Fatalf("set nonblock: %v", err)
	}
	t.Cleanup(func() { unix.Close(dupFD) })
	return dupFD
}

func runTick(t *testing.T, r *reactor.Reactor) {
	t.Helper()
	polls := r.Readiness()
	if len(polls) > 0 {
		if _, err := unix.Poll(polls, 200); err != nil && !errors.Is(err, unix.EINTR) {
			t.Fatalf("poll: %v", err)
		}
	}
	// Dispatch even with nothing to poll, as Run does: that is where
	// CLOSED connections are reaped.
	r.Dispatch(polls)
}

func TestAcceptParseProxyAndClose(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()
	listenFD := rawListenFD(t, ln)

	client, err := net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer client.Close()

	if _, err := client.Write([]byte("hello")); err != nil {
		t.Fatalf("client write: %v", err)
	}

	fl := &fakeListener{hostname: "example.com", serverFDCh: make(chan int, 1)}
	r := reactor.New(0)

	time.Sleep(20 * time.Millisecond) // let the kernel queue the connection + bytes
	r.AcceptConnection(listenFD, fl)
	if r.Len() != 1 {
		t.Fatalf("Len() = %d, want 1 after accept", r.Len())
	}

	// First tick: the client's buffered bytes arrive, handleClientHello
	// parses the hostname and dials the upstream, promoting to CONNECTED.
	runTick(t, r)

	conns := r.Connections()
	if len(conns) != 1 {
		t.Fatalf("Connections() = %d, want 1", len(conns))
	}
	if conns[0].State != conn.StateConnected {
		t.Fatalf("State = %v, want StateConnected", conns[0].State)
	}
	if conns[0].Hostname != "example.com" {
		t.Fatalf("Hostname = %q, want %q", conns[0].Hostname, "example.com")
	}

	var serverFD int
	select {
	case serverFD = <-fl.serverFDCh:
	default:
		t.Fatalf("LookupServerSocket was never called")
	}
	defer unix.Close(serverFD)

	// Second tick: the client-hello bytes, never consumed by the parse
	// step, now get forwarded out to the upstream.
	runTick(t, r)

	got := make([]byte, 16)
	n, err := unix.Read(serverFD, got)
	if err != nil {
		t.Fatalf("read from upstream: %v", err)
	}
	if string(got[:n]) != "hello" {
		t.Fatalf("upstream got %q, want %q", got[:n], "hello")
	}

	client.Close()
	for i := 0; i < 10 && r.Len() > 0; i++ {
		runTick(t, r)
	}
	if r.Len() != 0 {
		t.Fatalf("Len() = %d, want 0 after client close", r.Len())
	}
}

func TestEvictIdleClosesStaleConnections(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()
	listenFD := rawListenFD(t, ln)

	client, err := net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer client.Close()

	fl := &fakeListener{hostname: "example.com", serverFDCh: make(chan int, 1)}
	r := reactor.New(0)

	time.Sleep(20 * time.Millisecond)
	r.AcceptConnection(listenFD, fl)
	if r.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", r.Len())
	}

	time.Sleep(5 * time.Millisecond)
	r.EvictIdle(time.Millisecond)
	// EvictIdle closes the connection; the next Dispatch reaps it.
	r.Dispatch(nil)
	if r.Len() != 0 {
		t.Fatalf("Len() = %d, want 0 after eviction", r.Len())
	}
}
