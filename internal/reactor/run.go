package reactor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sys/unix"

	"github.com/Briarios/sniproxy/internal/listener"
)

// ListenSocket pairs an accepting file descriptor with the Listener
// collaborator that should parse and route connections accepted from
// it, letting one reactor drive several protocols (e.g. a TLS/SNI
// listener and an HTTP/Host listener) on one event loop.
type ListenSocket struct {
	FD       int
	Listener listener.Listener
}

// Run drives the reactor until ctx is canceled: each iteration computes
// the readiness set, polls it together with the listen sockets,
// accepts new connections, dispatches fired events, and sweeps idle
// connections. pollTimeout bounds how long a single poll(2) call can
// block, so that ctx cancellation and idle eviction are still checked
// periodically even with no I/O activity.
func (r *Reactor) Run(ctx context.Context, listens []ListenSocket, pollTimeout, idleTimeout time.Duration) error {
	if pollTimeout <= 0 {
		pollTimeout = time.Second
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		polls := r.Readiness()
		base := len(polls)
		for _, ls := range listens {
			polls = append(polls, unix.PollFd{Fd: int32(ls.FD), Events: unix.POLLIN})
		}

		_, err := unix.Poll(polls, int(pollTimeout.Milliseconds()))
		if err != nil {
			if errors.Is(err, unix.EINTR) {
				continue
			}
			return fmt.Errorf("poll: %w", err)
		}

		for i := base; i < len(polls); i++ {
			if polls[i].Revents&unix.POLLIN != 0 {
				ls := listens[i-base]
				r.AcceptConnection(ls.FD, ls.Listener)
			}
		}

		r.Dispatch(polls[:base])
		r.EvictIdle(idleTimeout)
	}
}
