package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/peterbourgon/ff/v3"
	"github.com/peterbourgon/ff/v3/ffcli"
	"golang.org/x/sys/unix"

	"github.com/Briarios/sniproxy/internal/config"
	"github.com/Briarios/sniproxy/internal/debugdump"
	"github.com/Briarios/sniproxy/internal/fdlimit"
	"github.com/Briarios/sniproxy/internal/listener/httphost"
	"github.com/Briarios/sniproxy/internal/listener/sni"
	"github.com/Briarios/sniproxy/internal/listener/upstream"
	"github.com/Briarios/sniproxy/internal/reactor"
)

// Command is the root "sniproxyd" command: it loads a config file, binds
// the configured listeners, and drives the reactor until a terminating
// signal arrives.
type Command struct {
	ffcli.Command
	flags struct {
		config       string
		listen       string
		http         string
		fdLimit      int
		idleTimeout  time.Duration
		dumpInterval time.Duration
		verbose      bool
	}
}

func newCommand() *ffcli.Command {
	c := new(Command)

	c.Name = "sniproxyd"
	c.ShortUsage = "sniproxyd [flags]"
	c.ShortHelp = "route TCP connections to upstreams by TLS SNI or HTTP Host"

	c.FlagSet = flag.NewFlagSet(filepath.Base(os.Args[0]), flag.ContinueOnError)
	c.FlagSet.StringVar(&c.flags.config, "config", "sniproxy.yaml", "configuration file path")
	c.FlagSet.StringVar(&c.flags.listen, "listen", "", "TLS/SNI listen address (overrides config tls_listen)")
	c.FlagSet.StringVar(&c.flags.http, "http", "", "HTTP/Host listen address (overrides config http_listen)")
	c.FlagSet.IntVar(&c.flags.fdLimit, "fd-limit", 0, "maximum file descriptors the reactor may hold open (0 = config default)")
	c.FlagSet.DurationVar(&c.flags.idleTimeout, "idle-timeout", 0, "evict connections idle longer than this (0 = config default)")
	c.FlagSet.DurationVar(&c.flags.dumpInterval, "dump-interval", 0, "periodic connection dump interval (0 = disabled)")
	c.FlagSet.BoolVar(&c.flags.verbose, "v", false, "enable debug logging")

	c.Options = []ff.Option{ff.WithEnvVarPrefix("SNIPROXYD")}
	c.Exec = c.entrypoint
	return &c.Command
}

func (c *Command) entrypoint(ctx context.Context, _ []string) error {
	level := slog.LevelInfo
	if c.flags.verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	cfg, err := config.Load(c.flags.config)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	fdLimit := c.flags.fdLimit
	if fdLimit == 0 {
		fdLimit = cfg.FDLimit
	}
	if fdLimit == 0 {
		fdLimit = fdlimit.Default
	}

	idleTimeout := c.flags.idleTimeout
	if idleTimeout == 0 {
		idleTimeout = cfg.IdleTimeout
	}

	if c.flags.listen != "" {
		cfg.TLSListen = c.flags.listen
	}
	if c.flags.http != "" {
		cfg.HTTPListen = c.flags.http
	}

	table := upstream.NewTable(routesFrom(cfg.Routes))
	resolver := upstream.NewResolver(table, cfg.DialTimeout)

	r := reactor.New(fdLimit)
	r.SetBufferSize(cfg.BufferSize)

	var listens []reactor.ListenSocket
	if cfg.TLSListen != "" {
		fd, err := bindListen(cfg.TLSListen)
		if err != nil {
			return fmt.Errorf("bind tls listener %s: %w", cfg.TLSListen, err)
		}
		listens = append(listens, reactor.ListenSocket{FD: fd, Listener: sni.New(resolver)})
		slog.Info("listening for TLS connections", "addr", cfg.TLSListen)
	}
	if cfg.HTTPListen != "" {
		fd, err := bindListen(cfg.HTTPListen)
		if err != nil {
			return fmt.Errorf("bind http listener %s: %w", cfg.HTTPListen, err)
		}
		listens = append(listens, reactor.ListenSocket{FD: fd, Listener: httphost.New(resolver)})
		slog.Info("listening for HTTP connections", "addr", cfg.HTTPListen)
	}
	if len(listens) == 0 {
		return fmt.Errorf("no listeners configured: set tls_listen and/or http_listen")
	}

	go watchSignals(ctx, r, c.flags.dumpInterval)

	return r.Run(ctx, listens, time.Second, idleTimeout)
}

// routesFrom adapts the config file's route list into upstream.Route
// values, keeping the two types separate so the config package doesn't
// need to import upstream.
func routesFrom(routes []config.Route) []upstream.Route {
	out := make([]upstream.Route, len(routes))
	for i, rt := range routes {
		out[i] = upstream.Route{Pattern: rt.Pattern, Upstream: rt.Upstream}
	}
	return out
}

// bindListen opens a non-blocking TCP listening socket bound to addr
// ("host:port", host may be empty) and returns its raw file descriptor,
// mirroring the original proxy's own listen-socket setup rather than
// handing a net.Listener to the reactor: the reactor polls and
// accept4(2)s the descriptor directly, so ownership of the fd is
// transferred out of the standard library listener via dup(2).
func bindListen(addr string) (int, error) {
	lc := net.ListenConfig{
		Control: func(network, address string, c syscall.RawConn) error {
			var ctrlErr error
			if err := c.Control(func(fd uintptr) {
				if err := unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
					ctrlErr = fmt.Errorf("set SO_REUSEADDR: %w", err)
					return
				}
				if err := unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEPORT, 1); err != nil {
					ctrlErr = fmt.Errorf("set SO_REUSEPORT: %w", err)
				}
			}); err != nil {
				return err
			}
			return ctrlErr
		},
	}

	ln, err := lc.Listen(context.Background(), "tcp", addr)
	if err != nil {
		return -1, err
	}
	defer ln.Close()

	tcpLn, ok := ln.(*net.TCPListener)
	if !ok {
		return -1, fmt.Errorf("unexpected listener type %T", ln)
	}
	raw, err := tcpLn.SyscallConn()
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

// watchSignals dumps a connection snapshot on SIGUSR1 or SIGHUP, and on
// a periodic tick if dumpInterval is positive. SIGINT/SIGTERM are
// handled separately by the signal.NotifyContext in main, which cancels
// ctx; this goroutine exits once that happens.
func watchSignals(ctx context.Context, r *reactor.Reactor, dumpInterval time.Duration) {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, unix.SIGUSR1, unix.SIGHUP)
	defer signal.Stop(ch)

	var tick <-chan time.Time
	if dumpInterval > 0 {
		ticker := time.NewTicker(dumpInterval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-ch:
			dumpConnections(r)
		case <-tick:
			dumpConnections(r)
		}
	}
}

func dumpConnections(r *reactor.Reactor) {
	if _, err := debugdump.Dump("sniproxyd", r.Connections()); err != nil {
		slog.Error("dump connections", "err", err)
	}
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), unix.SIGINT, unix.SIGTERM)
	defer stop()

	if err := newCommand().ParseAndRun(ctx, os.Args[1:]); err != nil {
		slog.Error("sniproxyd exited", "err", err)
		os.Exit(1)
	}
}
