// Package httpapi is the consumer surface of the bus: a snapshot endpoint, a
// Server-Sent Events stream, a WebSocket stream and the event archive.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/pprof"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/you/gnasty-live/internal/bus"
	"github.com/you/gnasty-live/internal/core"
)

const defaultPingInterval = 20 * time.Second

// Source is the live side of the API, implemented by *bus.Bus.
type Source interface {
	Snapshot() bus.Snapshot
	Subscribe() (<-chan bus.Delivery, <-chan bus.StateChange, func())
}

// Archive answers historical queries. It is optional.
type Archive interface {
	CountEvents(ctx context.Context, filters Filters) (int64, error)
	ListEvents(ctx context.Context, filters Filters) ([]core.Event, error)
}

type Options struct {
	Addr            string
	CORSOrigins     []string
	RateLimitRPS    int
	RateLimitBurst  int
	EnableMetrics   bool
	EnableAccessLog bool
	EnablePprof     bool
	Build           BuildInfo
	ConfigSnapshot  json.RawMessage
	Collectors      []prometheus.Collector
	PingInterval    time.Duration
}

type Server struct {
	httpServer *http.Server
	mux        *http.ServeMux
	source     Source
	archive    Archive
	opts       Options
	metrics    *Metrics
	limiter    *clientLimiter
	cors       *originPolicy
	startedAt  time.Time

	mu      sync.Mutex
	closing chan struct{}
	closed  bool
}

func New(source Source, archive Archive, opts Options) *Server {
	if opts.PingInterval <= 0 {
		opts.PingInterval = defaultPingInterval
	}
	srv := &Server{
		mux:       http.NewServeMux(),
		source:    source,
		archive:   archive,
		opts:      opts,
		metrics:   newMetrics(),
		limiter:   newClientLimiter(opts.RateLimitRPS, opts.RateLimitBurst),
		cors:      newOriginPolicy(opts.CORSOrigins),
		startedAt: time.Now().UTC(),
		closing:   make(chan struct{}),
	}
	srv.metrics.Register(opts.Collectors...)

	srv.handle("/healthz", "healthz", srv.handleHealthz)
	srv.handle("/snapshot", "snapshot", srv.handleSnapshot)
	srv.handle("/stream", "stream", srv.handleStream)
	srv.handle("/ws", "ws", srv.handleWS)
	srv.handle("/events", "events", srv.handleEvents)
	srv.handle("/events/count", "events_count", srv.handleCount)
	srv.handle("/info", "info", srv.handleInfo)
	srv.handle("/config", "config", srv.handleConfig)
	if opts.EnableMetrics {
		srv.mux.Handle("/metrics", srv.metrics.Handler())
	}
	if opts.EnablePprof {
		srv.mux.HandleFunc("/debug/pprof/", pprof.Index)
		srv.mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		srv.mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		srv.mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		srv.mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	}

	srv.httpServer = &http.Server{
		Addr:              opts.Addr,
		Handler:           srv.mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	return srv
}

// Mux exposes the router so other surfaces (admin) can mount handlers.
func (s *Server) Mux() *http.ServeMux { return s.mux }

// Handler is the full HTTP handler, for tests and embedding.
func (s *Server) Handler() http.Handler { return s.mux }

func (s *Server) Metrics() *Metrics { return s.metrics }

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	filters, err := FiltersFromRequest(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	snap := s.source.Snapshot()
	out := bus.Snapshot{
		Events:    make(map[core.Platform][]core.Event),
		States:    make(map[core.Platform]core.ConnectionState),
		UpdatedAt: snap.UpdatedAt,
	}
	for p, events := range snap.Events {
		if !filters.MatchesPlatform(p) {
			continue
		}
		kept := make([]core.Event, 0, len(events))
		for _, ev := range events {
			if filters.Matches(ev) {
				kept = append(kept, ev)
			}
		}
		out.Events[p] = kept
	}
	for p, st := range snap.States {
		if filters.MatchesPlatform(p) {
			out.States[p] = st
		}
	}
	writeJSON(w, out)
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.archive == nil {
		http.Error(w, "archive disabled", http.StatusServiceUnavailable)
		return
	}
	filters, err := FiltersFromRequest(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	events, err := s.archive.ListEvents(r.Context(), filters)
	if err != nil {
		slog.Error("httpapi: list events", "err", err)
		http.Error(w, "list error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, events)
}

func (s *Server) handleCount(w http.ResponseWriter, r *http.Request) {
	if s.archive == nil {
		http.Error(w, "archive disabled", http.StatusServiceUnavailable)
		return
	}
	filters, err := FiltersFromRequest(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	count, err := s.archive.CountEvents(r.Context(), filters)
	if err != nil {
		slog.Error("httpapi: count events", "err", err)
		http.Error(w, "count error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, map[string]any{"count": count})
}

func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	if len(s.opts.ConfigSnapshot) == 0 {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	_, _ = w.Write(s.opts.ConfigSnapshot)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	_ = json.NewEncoder(w).Encode(v)
}

// done is closed when the server starts shutting down, ending open streams.
func (s *Server) done() <-chan struct{} { return s.closing }

func (s *Server) Start() error {
	slog.Info("httpapi: listening", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil {
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.closing)
	s.mu.Unlock()
	return s.httpServer.Shutdown(ctx)
}
