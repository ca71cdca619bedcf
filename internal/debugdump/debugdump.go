// Package debugdump writes a human-readable snapshot of every live
// connection to a temporary file, the way the original proxy's
// print_connections did: one line per connection, MRU first.
package debugdump

import (
	"bufio"
	"fmt"
	"log/slog"
	"os"

	"github.com/Briarios/sniproxy/internal/conn"
	"github.com/Briarios/sniproxy/internal/netaddr"
)

// Dump writes one line per connection in conns to a new temporary file
// named "<progname>-connections-*" under os.TempDir, logs the resulting
// path at INFO, and returns it.
func Dump(progname string, conns []*conn.Connection) (string, error) {
	f, err := os.CreateTemp("", progname+"-connections-*")
	if err != nil {
		slog.Info("mkstemp failed", "err", err)
		return "", fmt.Errorf("create temp file: %w", err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	fmt.Fprintln(w, "Running connections:")
	for _, c := range conns {
		printConnection(w, c)
	}
	if err := w.Flush(); err != nil {
		return "", fmt.Errorf("flush: %w", err)
	}

	slog.Info("dumped connections", "path", f.Name())
	return f.Name(), nil
}

func printConnection(w *bufio.Writer, c *conn.Connection) {
	cip, cport := netaddr.Format(c.Client.Addr)
	sip, sport := netaddr.Format(c.Server.Addr)

	switch c.State {
	case conn.StateAccepted:
		fmt.Fprintf(w, "ACCEPTED      %s %d %d/%d\t-\n",
			cip, cport, c.Client.Buffer.Len(), c.Client.Buffer.Cap())
	case conn.StateConnected:
		fmt.Fprintf(w, "CONNECTED     %s %d %d/%d\t%s %d %d/%d\n",
			cip, cport, c.Client.Buffer.Len(), c.Client.Buffer.Cap(),
			sip, sport, c.Server.Buffer.Len(), c.Server.Buffer.Cap())
	case conn.StateServerClosed:
		fmt.Fprintf(w, "SERVER_CLOSED %s %d %d/%d\t-\n",
			cip, cport, c.Client.Buffer.Len(), c.Client.Buffer.Cap())
	case conn.StateClientClosed:
		fmt.Fprintf(w, "CLIENT_CLOSED -\t%s %d %d/%d\n",
			sip, sport, c.Server.Buffer.Len(), c.Server.Buffer.Cap())
	case conn.StateClosed:
		fmt.Fprintln(w, "CLOSED        -\t-")
	case conn.StateNew:
		fmt.Fprintln(w, "NEW           -\t-")
	}
}
