package httpadmin

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/you/gnasty-live/internal/core"
	"github.com/you/gnasty-live/internal/harvester"
)

type fakeReloader struct {
	restartErr error
	reloadErr  error
	restarted  bool
	calls      []string
}

func (f *fakeReloader) Platforms() []core.Platform {
	return []core.Platform{core.PlatformTwitch}
}

func (f *fakeReloader) Restart(p core.Platform) error {
	f.calls = append(f.calls, "restart:"+string(p))
	return f.restartErr
}

func (f *fakeReloader) ReloadCredentials(p core.Platform) (bool, error) {
	f.calls = append(f.calls, "reload:"+string(p))
	return f.restarted, f.reloadErr
}

func serve(srv *Server, method, path, auth string) *httptest.ResponseRecorder {
	mux := http.NewServeMux()
	srv.Register(mux)
	req := httptest.NewRequest(method, path, nil)
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func TestServerReloadSuccess(t *testing.T) {
	rel := &fakeReloader{restarted: true}
	rec := serve(New(rel, ""), http.MethodPost, "/admin/tw/reload", "")

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json; charset=utf-8" {
		t.Fatalf("expected content-type application/json; charset=utf-8, got %q", ct)
	}

	var payload struct {
		Status    string `json:"status"`
		Platform  string `json:"platform"`
		Reloaded  bool   `json:"reloaded"`
		Restarted bool   `json:"restarted"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&payload); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if payload.Status != "ok" || !payload.Reloaded || !payload.Restarted || payload.Platform != "twitch" {
		t.Fatalf("unexpected payload: %+v", payload)
	}
	if len(rel.calls) != 1 || rel.calls[0] != "reload:twitch" {
		t.Fatalf("calls = %v", rel.calls)
	}
}

func TestServerReloadError(t *testing.T) {
	rec := serve(New(&fakeReloader{reloadErr: errors.New("boom")}, ""), http.MethodPost, "/admin/youtube/reload", "")

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected status %d, got %d", http.StatusInternalServerError, rec.Code)
	}
	if body := rec.Body.String(); body != "reload failed: boom\n" {
		t.Fatalf("unexpected body: %q", body)
	}
}

func TestServerRestartErrors(t *testing.T) {
	tests := []struct {
		name   string
		path   string
		err    error
		status int
	}{
		{name: "ok", path: "/admin/tiktok/restart", status: http.StatusOK},
		{name: "bad platform", path: "/admin/myspace/restart", status: http.StatusNotFound},
		{name: "not configured", path: "/admin/tiktok/restart", err: fmt.Errorf("%w: tiktok", harvester.ErrUnknownPlatform), status: http.StatusNotFound},
		{name: "not started", path: "/admin/tiktok/restart", err: harvester.ErrNotStarted, status: http.StatusConflict},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rec := serve(New(&fakeReloader{restartErr: tc.err}, ""), http.MethodPost, tc.path, "")
			if rec.Code != tc.status {
				t.Fatalf("status = %d, want %d (%s)", rec.Code, tc.status, rec.Body.String())
			}
		})
	}
}

func TestServerRequiresToken(t *testing.T) {
	rel := &fakeReloader{}
	srv := New(rel, "s3cret")

	if rec := serve(srv, http.MethodPost, "/admin/twitch/restart", ""); rec.Code != http.StatusUnauthorized {
		t.Fatalf("missing token status = %d", rec.Code)
	}
	if rec := serve(srv, http.MethodPost, "/admin/twitch/restart", "Bearer wrong"); rec.Code != http.StatusUnauthorized {
		t.Fatalf("wrong token status = %d", rec.Code)
	}
	if len(rel.calls) != 0 {
		t.Fatalf("unauthorized requests reached the reloader: %v", rel.calls)
	}
	if rec := serve(srv, http.MethodPost, "/admin/twitch/restart", "Bearer s3cret"); rec.Code != http.StatusOK {
		t.Fatalf("valid token status = %d", rec.Code)
	}
	if rec := serve(srv, http.MethodGet, "/admin/healthz", ""); rec.Code != http.StatusOK {
		t.Fatalf("healthz status = %d", rec.Code)
	}
}

func TestServerRejectsGetOnMutations(t *testing.T) {
	rec := serve(New(&fakeReloader{}, ""), http.MethodGet, "/admin/twitch/restart", "")
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d, want 405", rec.Code)
	}
}
