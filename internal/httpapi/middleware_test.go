package httpapi

import (
	"net/http/httptest"
	"testing"
	"time"
)

func TestClientAddrPrefersForwardedHop(t *testing.T) {
	r := httptest.NewRequest("GET", "/snapshot", nil)
	r.RemoteAddr = "10.0.0.5:4242"
	if got := clientAddr(r); got != "10.0.0.5" {
		t.Fatalf("clientAddr = %q", got)
	}
	r.Header.Set("X-Forwarded-For", " , 203.0.113.9, 10.0.0.1")
	if got := clientAddr(r); got != "203.0.113.9" {
		t.Fatalf("clientAddr with proxy = %q", got)
	}
}

func TestClientLimiterSweepsIdleBuckets(t *testing.T) {
	l := newClientLimiter(1, 1)
	l.idle = 10 * time.Millisecond
	if !l.Allow("overlay-a") {
		t.Fatal("first request from overlay-a rejected")
	}
	if l.Allow("overlay-a") {
		t.Fatal("burst of one allowed a second request")
	}
	time.Sleep(20 * time.Millisecond)
	if !l.Allow("overlay-b") {
		t.Fatal("first request from overlay-b rejected")
	}
	l.mu.Lock()
	_, kept := l.buckets["overlay-a"]
	n := len(l.buckets)
	l.mu.Unlock()
	if kept || n != 1 {
		t.Fatalf("buckets after sweep: kept idle=%v, size=%d", kept, n)
	}
}

func TestOriginPolicyIgnoresBlankEntries(t *testing.T) {
	if p := newOriginPolicy([]string{"", "  "}); p != nil {
		t.Fatalf("blank origins produced policy %+v", p)
	}
	p := newOriginPolicy([]string{"*"})
	if !p.allows("http://localhost:3000") {
		t.Fatal("wildcard rejected http origin")
	}
	if p.allows("file://overlay.html") {
		t.Fatal("wildcard allowed non-http origin")
	}
}
