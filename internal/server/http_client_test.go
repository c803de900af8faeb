package server

import (
	"net/http"
	"testing"
	"time"

	"github.com/any-hub/cache-proxy/internal/config"
)

func TestNewUpstreamClientUsesConfigTimeout(t *testing.T) {
	cfg := &config.Config{UpstreamTimeout: config.Duration(45 * time.Second)}

	client := NewUpstreamClient(cfg)
	if client.Timeout != 45*time.Second {
		t.Fatalf("expected timeout 45s, got %s", client.Timeout)
	}
	if NewUpstreamClient(nil).Timeout != 30*time.Second {
		t.Fatalf("expected default timeout 30s")
	}
}

func TestFilterHeadersSkipsHopByHop(t *testing.T) {
	src := http.Header{}
	for _, name := range []string{
		"connection", "Keep-Alive", "PROXY-AUTHENTICATE", "proxy-authorization", "TE",
		"trailer", "Transfer-Encoding", "upgrade", "content-length",
	} {
		src[name] = []string{"x"}
	}
	src.Add("X-Test-Header", "1")
	src.Add("Cookie", "a=b")

	dst := FilterHeaders(src)

	if len(dst) != 2 {
		t.Fatalf("expected only end-to-end headers to survive, got %v", dst)
	}
	if dst.Get("X-Test-Header") != "1" || dst.Get("Cookie") != "a=b" {
		t.Fatalf("end-to-end headers should be kept, got %v", dst)
	}
}

func TestFilterHeadersDoesNotMutateInput(t *testing.T) {
	src := http.Header{}
	src.Set("Connection", "keep-alive")
	src.Add("Accept", "a")
	src.Add("Accept", "b")

	dst := FilterHeaders(src)
	dst.Add("Accept", "c")

	if src.Get("Connection") != "keep-alive" {
		t.Fatalf("input should keep hop-by-hop headers")
	}
	if got := src.Values("Accept"); len(got) != 2 {
		t.Fatalf("input values should be untouched, got %v", got)
	}
}

func TestIsHopByHopHeaderCaseInsensitive(t *testing.T) {
	for _, name := range []string{"Connection", "CONNECTION", "connection", "te", "Content-Length"} {
		if !isHopByHopHeader(name) {
			t.Fatalf("%s should be hop-by-hop", name)
		}
	}
	if isHopByHopHeader("Proxy-Connection") {
		t.Fatalf("Proxy-Connection is not in the filtered set")
	}
}
