package proxy

import (
	"testing"

	"github.com/valyala/fasthttp"
)

func TestModelPath(t *testing.T) {
	tests := []struct {
		model    string
		expected string
	}{
		{"orders", "/orders/"},
		{"/orders/", "/orders/"},
		{"orders/", "/orders/"},
		{"/orders", "/orders/"},
	}

	for _, tt := range tests {
		t.Run(tt.model, func(t *testing.T) {
			if got := modelPath(tt.model); got != tt.expected {
				t.Errorf("modelPath(%q) = %q, want %q", tt.model, got, tt.expected)
			}
		})
	}
}

func TestParseQuery(t *testing.T) {
	args := &fasthttp.Args{}
	args.Add("join", "")
	args.Add("status", "open")

	q := parseQuery(args)
	if q.Get("status") != "open" {
		t.Errorf("expected status=open, got %q", q.Get("status"))
	}
	if _, ok := q["join"]; !ok {
		t.Error("expected join key present")
	}
}

func TestTakeJoin_PresentRemovesKey(t *testing.T) {
	q := map[string][]string{"join": {""}, "status": {"open"}}
	if !takeJoin(q) {
		t.Error("expected takeJoin to report true when join is present")
	}
	if _, ok := q["join"]; ok {
		t.Error("expected join key to be removed")
	}
	if _, ok := q["status"]; !ok {
		t.Error("expected unrelated keys to survive")
	}
}

func TestTakeJoin_AbsentStripsAggregateAnyway(t *testing.T) {
	q := map[string][]string{"aggregate": {"true"}}
	if takeJoin(q) {
		t.Error("expected takeJoin to report false when join is absent")
	}
	if _, ok := q["aggregate"]; ok {
		t.Error("expected aggregate key to be stripped regardless")
	}
}

func TestHopByHopResponseHeaders(t *testing.T) {
	for _, h := range []string{"Content-Length", "Transfer-Encoding", "Connection"} {
		if _, ok := hopByHopResponseHeaders[h]; !ok {
			t.Errorf("expected %q to be listed as hop-by-hop", h)
		}
	}
}
