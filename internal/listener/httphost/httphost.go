// Package httphost extracts the Host header from a plaintext HTTP
// request. Like the TLS SNI parser, this has no original-source
// counterpart to translate: the original proxy dispatches to its parser
// through a listener vtable without defining one, so this is a
// from-scratch implementation built on net/http's own request parser,
// so plain-HTTP connections can be routed by name alongside TLS/SNI ones.
package httphost

import (
	"bufio"
	"bytes"
	"io"
	"net/http"
	"strings"

	"github.com/Briarios/sniproxy/internal/listener"
)

// Listener implements listener.Listener for plaintext HTTP connections,
// reading the Host header and dialing the matching upstream via next.
type Listener struct {
	Next listener.Listener
}

// New returns an HTTP Host listener that resolves hostnames via next.
func New(next listener.Listener) *Listener {
	return &Listener{Next: next}
}

// LookupServerSocket delegates to the wrapped resolver.
func (l *Listener) LookupServerSocket(hostname string) (int, error) {
	return l.Next.LookupServerSocket(hostname)
}

// ParsePacket parses buf as the start of an HTTP/1.x request and reports
// its Host header.
func (l *Listener) ParsePacket(buf []byte) listener.ParseResult {
	return ParseRequest(buf)
}

// ParseRequest reads an HTTP request line and headers out of buf using
// net/http's own request parser, stopping as soon as the headers are
// complete (it never needs the body). A buf that ends mid-headers
// reports ParseIncomplete rather than an error, since buf is only a peek
// of the data that has arrived so far.
func ParseRequest(buf []byte) listener.ParseResult {
	if !bytes.Contains(buf, []byte("\r\n\r\n")) {
		return listener.ParseResult{Kind: listener.ParseIncomplete}
	}

	req, err := http.ReadRequest(bufio.NewReader(bytes.NewReader(buf)))
	if err != nil {
		if err == io.ErrUnexpectedEOF || err == io.EOF {
			return listener.ParseResult{Kind: listener.ParseIncomplete}
		}
		return listener.ParseResult{Kind: listener.ParseUnparseable}
	}

	host := req.Host
	if host == "" {
		host = req.Header.Get("Host")
	}
	if host == "" {
		return listener.ParseResult{Kind: listener.ParseNoHostname}
	}

	if h, _, ok := strings.Cut(host, ":"); ok {
		host = h
	}
	return listener.ParseResult{Kind: listener.ParseOK, Hostname: host}
}
