package httpapi

import (
	"compress/gzip"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// liveRoutes hold a connection open for the lifetime of an overlay. They are
// never compressed and their access log line reports how long they followed.
var liveRoutes = map[string]bool{"stream": true, "ws": true}

// recorder captures status and size for the access log and request metrics.
type recorder struct {
	http.ResponseWriter
	status int
	bytes  int64
}

func (r *recorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *recorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	n, err := r.ResponseWriter.Write(b)
	r.bytes += int64(n)
	return n, err
}

func (r *recorder) Status() int {
	if r.status == 0 {
		return http.StatusOK
	}
	return r.status
}

func (r *recorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// baseWriter returns the writer underneath the recorder. WebSocket upgrades
// need its http.Hijacker.
func baseWriter(w http.ResponseWriter) http.ResponseWriter {
	if rec, ok := w.(*recorder); ok && rec.ResponseWriter != nil {
		return rec.ResponseWriter
	}
	return w
}

type gzipWriter struct {
	http.ResponseWriter
	zw *gzip.Writer
}

func (g *gzipWriter) Write(b []byte) (int, error) { return g.zw.Write(b) }

// compress routes rec's writes through gzip when the client accepts it. The
// returned close must run after the handler.
func compress(rec *recorder, r *http.Request) func() {
	if !strings.Contains(r.Header.Get("Accept-Encoding"), "gzip") {
		return func() {}
	}
	rec.Header().Set("Content-Encoding", "gzip")
	rec.Header().Add("Vary", "Accept-Encoding")
	zw := gzip.NewWriter(rec.ResponseWriter)
	rec.ResponseWriter = &gzipWriter{ResponseWriter: rec.ResponseWriter, zw: zw}
	return func() { _ = zw.Close() }
}

// clientLimiter hands each client address its own token bucket. Idle buckets
// are swept once per idle period.
type clientLimiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	limit   rate.Limit
	burst   int
	idle    time.Duration
	swept   time.Time
}

type bucket struct {
	*rate.Limiter
	seen time.Time
}

func newClientLimiter(rps, burst int) *clientLimiter {
	if rps <= 0 || burst <= 0 {
		return nil
	}
	return &clientLimiter{
		buckets: make(map[string]*bucket),
		limit:   rate.Limit(rps),
		burst:   burst,
		idle:    5 * time.Minute,
		swept:   time.Now(),
	}
}

func (l *clientLimiter) Allow(client string) bool {
	if l == nil {
		return true
	}
	now := time.Now()
	l.mu.Lock()
	defer l.mu.Unlock()
	b, ok := l.buckets[client]
	if !ok {
		b = &bucket{Limiter: rate.NewLimiter(l.limit, l.burst)}
		l.buckets[client] = b
	}
	b.seen = now
	if now.Sub(l.swept) >= l.idle {
		for addr, other := range l.buckets {
			if now.Sub(other.seen) >= l.idle {
				delete(l.buckets, addr)
			}
		}
		l.swept = now
	}
	return b.AllowN(now, 1)
}

// clientAddr prefers the first X-Forwarded-For hop so overlays behind a local
// proxy are limited individually.
func clientAddr(r *http.Request) string {
	for _, hop := range strings.Split(r.Header.Get("X-Forwarded-For"), ",") {
		if hop = strings.TrimSpace(hop); hop != "" {
			return hop
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// originPolicy lists the overlay origins allowed to read the API from a
// browser. A nil policy sends no CORS headers at all.
type originPolicy struct {
	any     bool
	allowed map[string]bool
}

func newOriginPolicy(origins []string) *originPolicy {
	p := &originPolicy{allowed: make(map[string]bool)}
	for _, o := range origins {
		switch o = strings.TrimSpace(o); o {
		case "":
		case "*":
			p.any = true
		default:
			p.allowed[o] = true
		}
	}
	if !p.any && len(p.allowed) == 0 {
		return nil
	}
	return p
}

func (p *originPolicy) allows(origin string) bool {
	if !strings.HasPrefix(origin, "http://") && !strings.HasPrefix(origin, "https://") {
		return false
	}
	return p.any || p.allowed[origin]
}

// check applies the policy to r. done reports that the request was answered
// here, either as a preflight or as a rejected origin.
func (p *originPolicy) check(w http.ResponseWriter, r *http.Request) (done bool) {
	origin := r.Header.Get("Origin")
	if p == nil || origin == "" {
		return false
	}
	preflight := r.Method == http.MethodOptions
	if !p.allows(origin) {
		if preflight {
			w.WriteHeader(http.StatusForbidden)
		} else {
			http.Error(w, "origin not allowed", http.StatusForbidden)
		}
		return true
	}
	w.Header().Set("Access-Control-Allow-Origin", origin)
	w.Header().Add("Vary", "Origin")
	if !preflight {
		return false
	}
	w.Header().Set("Access-Control-Allow-Methods", "GET,OPTIONS")
	if h := r.Header.Get("Access-Control-Request-Headers"); h != "" {
		w.Header().Set("Access-Control-Allow-Headers", h)
	}
	w.Header().Set("Access-Control-Max-Age", "300")
	w.WriteHeader(http.StatusNoContent)
	return true
}

// handle registers h under pattern behind the origin policy, the per-client
// rate limit, compression for non-live routes, the access log and metrics.
func (s *Server) handle(pattern, route string, h http.HandlerFunc) {
	live := liveRoutes[route]
	s.mux.HandleFunc(pattern, func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &recorder{ResponseWriter: w}
		defer func() { s.logRequest(route, rec, r, time.Since(start)) }()

		if s.cors.check(rec, r) {
			return
		}
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			rec.Header().Set("Allow", "GET, HEAD, OPTIONS")
			http.Error(rec, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		if !s.limiter.Allow(clientAddr(r)) {
			s.metrics.RateLimited()
			http.Error(rec, "rate limited", http.StatusTooManyRequests)
			return
		}
		if !live {
			defer compress(rec, r)()
		}
		h(rec, r)
	})
}

func (s *Server) logRequest(route string, rec *recorder, r *http.Request, dur time.Duration) {
	s.metrics.ObserveRequest(route, r.Method, rec.Status(), dur)
	if !s.opts.EnableAccessLog {
		return
	}
	attrs := []any{
		"route", route,
		"status", rec.Status(),
		"client", clientAddr(r),
	}
	if p := r.URL.Query().Get("platform"); p != "" {
		attrs = append(attrs, "platform", p)
	}
	if liveRoutes[route] {
		attrs = append(attrs, "followed", dur.Round(time.Second))
	} else {
		attrs = append(attrs, "method", r.Method, "bytes", rec.bytes, "dur", dur.Round(time.Microsecond))
	}
	slog.Info("httpapi: request", attrs...)
}
