package httphost

import (
	"testing"

	"github.com/Briarios/sniproxy/internal/listener"
)

func TestParseRequestExtractsHost(t *testing.T) {
	req := "GET / HTTP/1.1\r\nHost: example.com\r\nUser-Agent: test\r\n\r\n"
	result := ParseRequest([]byte(req))
	if result.Kind != listener.ParseOK {
		t.Fatalf("Kind = %v, want ParseOK", result.Kind)
	}
	if result.Hostname != "example.com" {
		t.Fatalf("Hostname = %q, want %q", result.Hostname, "example.com")
	}
}

func TestParseRequestStripsPort(t *testing.T) {
	req := "GET / HTTP/1.1\r\nHost: example.com:8080\r\n\r\n"
	result := ParseRequest([]byte(req))
	if result.Kind != listener.ParseOK {
		t.Fatalf("Kind = %v, want ParseOK", result.Kind)
	}
	if result.Hostname != "example.com" {
		t.Fatalf("Hostname = %q, want %q (port stripped)", result.Hostname, "example.com")
	}
}

func TestParseRequestMissingHeadersIsIncomplete(t *testing.T) {
	req := "GET / HTTP/1.1\r\nHost: exam"
	result := ParseRequest([]byte(req))
	if result.Kind != listener.ParseIncomplete {
		t.Fatalf("Kind = %v, want ParseIncomplete", result.Kind)
	}
}

func TestParseRequestNoHostHeader(t *testing.T) {
	req := "GET / HTTP/1.0\r\nUser-Agent: test\r\n\r\n"
	result := ParseRequest([]byte(req))
	if result.Kind != listener.ParseNoHostname {
		t.Fatalf("Kind = %v, want ParseNoHostname", result.Kind)
	}
}

func TestParseRequestMalformedRequestLine(t *testing.T) {
	req := "not a valid request line at all\r\n\r\n"
	result := ParseRequest([]byte(req))
	if result.Kind != listener.ParseUnparseable {
		t.Fatalf("Kind = %v, want ParseUnparseable", result.Kind)
	}
}
