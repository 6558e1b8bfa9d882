package httpapi

import (
	"net/http"
	"runtime"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/you/gnasty-live/internal/bus"
	"github.com/you/gnasty-live/internal/core"
)

// BuildInfo describes the compiled binary.
type BuildInfo struct {
	Version  string
	Revision string
	BuiltAt  time.Time
}

// platformInfo is one connector as an operator reads it: status plus how long
// it has held that status.
type platformInfo struct {
	Status core.Status `json:"status"`
	Reason string      `json:"reason,omitempty"`
	For    string      `json:"for,omitempty"`
	Held   int         `json:"held"`
}

type feedInfo struct {
	Published   string `json:"published"`
	Dropped     string `json:"dropped"`
	Subscribers int    `json:"subscribers"`
}

type infoResponse struct {
	Version   string                         `json:"version"`
	Revision  string                         `json:"rev"`
	BuiltAt   string                         `json:"built_at,omitempty"`
	Go        string                         `json:"go"`
	Started   string                         `json:"started"`
	Uptime    string                         `json:"uptime"`
	Platforms map[core.Platform]platformInfo `json:"platforms"`
	Feed      *feedInfo                      `json:"feed,omitempty"`
}

// statsSource is satisfied by *bus.Bus; other sources simply omit the feed block.
type statsSource interface {
	Stats() bus.Stats
}

func (s *Server) handleInfo(w http.ResponseWriter, _ *http.Request) {
	now := time.Now()
	snap := s.source.Snapshot()
	resp := infoResponse{
		Version:   s.opts.Build.Version,
		Revision:  s.opts.Build.Revision,
		Go:        runtime.Version(),
		Started:   s.startedAt.Format(time.RFC3339),
		Uptime:    relTime(s.startedAt, now),
		Platforms: make(map[core.Platform]platformInfo, len(core.Platforms)),
	}
	if !s.opts.Build.BuiltAt.IsZero() {
		resp.BuiltAt = s.opts.Build.BuiltAt.UTC().Format(time.RFC3339)
	}
	for _, p := range core.Platforms {
		st, ok := snap.States[p]
		if !ok {
			st = core.ConnectionState{Status: core.StatusDisconnected}
		}
		pi := platformInfo{Status: st.Status, Reason: st.Reason, Held: len(snap.Events[p])}
		if !st.Since.IsZero() {
			pi.For = relTime(st.Since, now)
		}
		resp.Platforms[p] = pi
	}
	if ss, ok := s.source.(statsSource); ok {
		stats := ss.Stats()
		resp.Feed = &feedInfo{
			Published:   humanize.Comma(int64(stats.Published)),
			Dropped:     humanize.Comma(int64(stats.Dropped)),
			Subscribers: stats.Subscribers,
		}
	}
	writeJSON(w, resp)
}

func relTime(from, to time.Time) string {
	return strings.TrimSpace(humanize.RelTime(from, to, "", ""))
}
