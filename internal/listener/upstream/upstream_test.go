package upstream

import "testing"

func TestTableResolveExactMatch(t *testing.T) {
	tbl := NewTable([]Route{
		{Pattern: "example.com", Upstream: "10.0.0.1:443"},
	})
	addr, ok := tbl.Resolve("example.com")
	if !ok || addr != "10.0.0.1:443" {
		t.Fatalf("Resolve = %q, %v, want %q, true", addr, ok, "10.0.0.1:443")
	}
}

func TestTableResolveWildcard(t *testing.T) {
	tbl := NewTable([]Route{
		{Pattern: "*.example.com", Upstream: "10.0.0.2:443"},
	})
	for _, host := range []string{"api.example.com", "example.com", "a.b.example.com"} {
		if addr, ok := tbl.Resolve(host); !ok || addr != "10.0.0.2:443" {
			t.Fatalf("Resolve(%q) = %q, %v, want match", host, addr, ok)
		}
	}
	if _, ok := tbl.Resolve("other.com"); ok {
		t.Fatalf("Resolve(other.com) matched, want no match")
	}
}

func TestTableResolveFirstMatchWins(t *testing.T) {
	tbl := NewTable([]Route{
		{Pattern: "api.example.com", Upstream: "10.0.0.3:443"},
		{Pattern: "*.example.com", Upstream: "10.0.0.4:443"},
	})
	addr, ok := tbl.Resolve("api.example.com")
	if !ok || addr != "10.0.0.3:443" {
		t.Fatalf("Resolve = %q, %v, want the exact-match route first", addr, ok)
	}
}

func TestTableResolveCaseInsensitive(t *testing.T) {
	tbl := NewTable([]Route{
		{Pattern: "Example.COM", Upstream: "10.0.0.5:443"},
	})
	if _, ok := tbl.Resolve("example.com"); !ok {
		t.Fatalf("expected case-insensitive match")
	}
}

func TestTableResolveNoRoutes(t *testing.T) {
	tbl := NewTable(nil)
	if _, ok := tbl.Resolve("example.com"); ok {
		t.Fatalf("expected no match against empty table")
	}
}
