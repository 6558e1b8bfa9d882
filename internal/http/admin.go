// Package httpadmin exposes operator endpoints for restarting connectors and
// reloading their credentials.
package httpadmin

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/you/gnasty-live/internal/core"
	"github.com/you/gnasty-live/internal/harvester"
)

type Reloader interface {
	Platforms() []core.Platform
	Restart(p core.Platform) error
	ReloadCredentials(p core.Platform) (restarted bool, err error)
}

type Server struct {
	rel   Reloader
	token string
}

// New builds the admin surface. A non-empty token is required as a bearer
// token on every mutating request.
func New(rel Reloader, token string) *Server { return &Server{rel: rel, token: token} }

func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /admin/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("GET /admin/platforms", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, map[string]any{"status": "ok", "platforms": s.rel.Platforms()})
	})
	mux.HandleFunc("POST /admin/{platform}/restart", s.authorized(func(w http.ResponseWriter, r *http.Request) {
		p, ok := platformFrom(w, r)
		if !ok {
			return
		}
		if err := s.rel.Restart(p); err != nil {
			fail(w, "restart", p, err)
			return
		}
		slog.Info("httpadmin: connector restarted", "platform", p)
		writeJSON(w, map[string]any{"status": "ok", "platform": p, "restarted": true})
	}))
	mux.HandleFunc("POST /admin/{platform}/reload", s.authorized(func(w http.ResponseWriter, r *http.Request) {
		p, ok := platformFrom(w, r)
		if !ok {
			return
		}
		restarted, err := s.rel.ReloadCredentials(p)
		if err != nil {
			fail(w, "reload", p, err)
			return
		}
		slog.Info("httpadmin: credentials reloaded", "platform", p, "restarted", restarted)
		writeJSON(w, map[string]any{"status": "ok", "platform": p, "reloaded": true, "restarted": restarted})
	}))
}

func (s *Server) authorized(next http.HandlerFunc) http.HandlerFunc {
	if s.token == "" {
		return next
	}
	want := []byte("Bearer " + s.token)
	return func(w http.ResponseWriter, r *http.Request) {
		got := []byte(strings.TrimSpace(r.Header.Get("Authorization")))
		if subtle.ConstantTimeCompare(got, want) != 1 {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}

func platformFrom(w http.ResponseWriter, r *http.Request) (core.Platform, bool) {
	p, ok := core.ParsePlatform(r.PathValue("platform"))
	if !ok {
		http.Error(w, "unknown platform", http.StatusNotFound)
		return "", false
	}
	return p, true
}

func fail(w http.ResponseWriter, op string, p core.Platform, err error) {
	slog.Warn("httpadmin: "+op+" failed", "platform", p, "err", err)
	switch {
	case errors.Is(err, harvester.ErrUnknownPlatform):
		http.Error(w, op+" failed: "+err.Error(), http.StatusNotFound)
	case errors.Is(err, harvester.ErrNotStarted):
		http.Error(w, op+" failed: "+err.Error(), http.StatusConflict)
	default:
		http.Error(w, op+" failed: "+err.Error(), http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	_ = json.NewEncoder(w).Encode(v)
}
