// Package sni extracts the TLS server_name extension from a ClientHello.
// The original proxy dispatches this through a listener vtable
// (`con->listener->parse_packet(...)`) without ever defining the parser
// itself, so there is no original source to translate; this is a
// from-scratch implementation of RFC 8446 §4.1.2/§4.2.10 framing,
// walking the TLS record, handshake, and extension structure by hand,
// byte by byte, never consuming the underlying connection.
//
// google/martian's mitm.Sniff was considered for this and rejected: it
// reads from a net.Conn and consumes what it reads, whereas this parser
// is handed a non-consuming Buffer.Peek of the client's first bytes and
// must be able to report "not enough data yet" without ever taking
// ownership of the socket.
package sni

import (
	"encoding/binary"

	"github.com/Briarios/sniproxy/internal/listener"
)

const (
	recordHandshake  = 0x16
	handshakeClient  = 0x01
	extensionServer  = 0x00
	serverNameDNSTag = 0x00
)

// Listener implements listener.Listener for TLS connections, parsing the
// SNI hostname out of a ClientHello and dialing the matching upstream
// via next.
type Listener struct {
	Next listener.Listener
}

// New returns a TLS SNI listener that resolves hostnames via next.
func New(next listener.Listener) *Listener {
	return &Listener{Next: next}
}

// LookupServerSocket delegates to the wrapped resolver.
func (l *Listener) LookupServerSocket(hostname string) (int, error) {
	return l.Next.LookupServerSocket(hostname)
}

// ParsePacket parses buf as a TLS record carrying a ClientHello and
// extracts the server_name extension.
func (l *Listener) ParsePacket(buf []byte) listener.ParseResult {
	return ParseClientHello(buf)
}

// ParseClientHello walks a TLS record header, handshake header, and
// ClientHello body looking for the server_name extension. It never reads
// past len(buf); a truncated-but-otherwise-valid prefix yields
// ParseIncomplete so the caller can retry once more bytes have arrived.
func ParseClientHello(buf []byte) listener.ParseResult {
	r := reader{buf: buf}

	contentType, ok := r.u8()
	if !ok {
		return incomplete()
	}
	if contentType != recordHandshake {
		return unparseable(1)
	}
	r.skip(2) // legacy_record_version

	recordLen, ok := r.u16()
	if !ok {
		return incomplete()
	}
	if r.remaining() < int(recordLen) {
		return incomplete()
	}

	hsType, ok := r.u8()
	if !ok {
		return incomplete()
	}
	if hsType != handshakeClient {
		return unparseable(2)
	}

	hsLen, ok := r.u24()
	if !ok {
		return incomplete()
	}
	if r.remaining() < int(hsLen) {
		return incomplete()
	}

	r.skip(2) // client_version
	if !r.skipN(32) {
		return incomplete() // random
	}

	sessIDLen, ok := r.u8()
	if !ok {
		return incomplete()
	}
	if !r.skipN(int(sessIDLen)) {
		return incomplete()
	}

	cipherLen, ok := r.u16()
	if !ok {
		return incomplete()
	}
	if !r.skipN(int(cipherLen)) {
		return incomplete()
	}

	compLen, ok := r.u8()
	if !ok {
		return incomplete()
	}
	if !r.skipN(int(compLen)) {
		return incomplete()
	}

	if r.remaining() == 0 {
		// ClientHello with no extensions block at all: valid TLS, no SNI.
		return listener.ParseResult{Kind: listener.ParseNoHostname}
	}

	extsLen, ok := r.u16()
	if !ok {
		return incomplete()
	}
	if r.remaining() < int(extsLen) {
		return incomplete()
	}

	end := r.pos + int(extsLen)
	for r.pos < end {
		extType, ok := r.u16()
		if !ok {
			return incomplete()
		}
		extLen, ok := r.u16()
		if !ok {
			return incomplete()
		}
		if r.remaining() < int(extLen) {
			return incomplete()
		}

		if extType != extensionServer {
			r.skip(int(extLen))
			continue
		}

		host, ok := parseServerNameExtension(r.buf[r.pos : r.pos+int(extLen)])
		if !ok {
			return unparseable(3)
		}
		if host == "" {
			return listener.ParseResult{Kind: listener.ParseNoHostname}
		}
		return listener.ParseResult{Kind: listener.ParseOK, Hostname: host}
	}

	return listener.ParseResult{Kind: listener.ParseNoHostname}
}

// parseServerNameExtension parses a server_name_list body and returns the
// first DNS hostname entry, if any.
func parseServerNameExtension(buf []byte) (string, bool) {
	r := reader{buf: buf}
	listLen, ok := r.u16()
	if !ok || r.remaining() < int(listLen) {
		return "", false
	}
	end := r.pos + int(listLen)
	for r.pos < end {
		tag, ok := r.u8()
		if !ok {
			return "", false
		}
		nameLen, ok := r.u16()
		if !ok || r.remaining() < int(nameLen) {
			return "", false
		}
		name := string(r.buf[r.pos : r.pos+int(nameLen)])
		r.skip(int(nameLen))
		if tag == serverNameDNSTag {
			return name, true
		}
	}
	return "", true
}

func incomplete() listener.ParseResult {
	return listener.ParseResult{Kind: listener.ParseIncomplete}
}

func unparseable(code int) listener.ParseResult {
	return listener.ParseResult{Kind: listener.ParseUnparseable, Code: code}
}

// reader is a small forward-only cursor over a byte slice, used instead
// of repeated manual bounds checks.
type reader struct {
	buf []byte
	pos int
}

func (r *reader) remaining() int { return len(r.buf) - r.pos }

func (r *reader) u8() (byte, bool) {
	if r.remaining() < 1 {
		return 0, false
	}
	v := r.buf[r.pos]
	r.pos++
	return v, true
}

func (r *reader) u16() (uint16, bool) {
	if r.remaining() < 2 {
		return 0, false
	}
	v := binary.BigEndian.Uint16(r.buf[r.pos:])
	r.pos += 2
	return v, true
}

func (r *reader) u24() (uint32, bool) {
	if r.remaining() < 3 {
		return 0, false
	}
	v := uint32(r.buf[r.pos])<<16 | uint32(r.buf[r.pos+1])<<8 | uint32(r.buf[r.pos+2])
	r.pos += 3
	return v, true
}

func (r *reader) skip(n int) { r.pos += n }

func (r *reader) skipN(n int) bool {
	if r.remaining() < n {
		return false
	}
	r.pos += n
	return true
}
