// Command devapi serves the public HTTP API over a synthetic event feed so
// overlays can be developed without live platform credentials.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"log"
	"math/rand/v2"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/you/gnasty-live/internal/bus"
	"github.com/you/gnasty-live/internal/core"
	"github.com/you/gnasty-live/internal/correlate"
	"github.com/you/gnasty-live/internal/httpapi"
	"github.com/you/gnasty-live/internal/sink"
)

type emitReq struct {
	ID       string         `json:"id,omitempty"`
	Platform string         `json:"platform"`
	Type     core.EventType `json:"type"`
	Username string         `json:"username"`
	Text     string         `json:"text,omitempty"`
	Amount   *float64       `json:"amount,omitempty"`
	Currency string         `json:"currency,omitempty"`
	Gift     *core.Gift     `json:"gift,omitempty"`
	Ts       time.Time      `json:"ts,omitempty"`
}

func (r emitReq) event() (core.Event, bool) {
	p, ok := core.ParsePlatform(r.Platform)
	if !ok || r.Username == "" {
		return core.Event{}, false
	}
	ev := core.Event{
		Platform:  p,
		Type:      r.Type,
		ID:        r.ID,
		Actor:     core.Actor{ID: r.Username, Username: r.Username, DisplayName: r.Username},
		Message:   r.Text,
		Amount:    r.Amount,
		Currency:  r.Currency,
		Gift:      r.Gift,
		Timestamp: r.Ts,
	}
	if ev.Type == "" {
		ev.Type = core.TypeChat
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	return ev, true
}

func main() {
	var (
		addr      string
		sqlite    string
		synthetic time.Duration
	)

	flag.StringVar(&addr, "addr", ":8765", "HTTP listen address")
	flag.StringVar(&sqlite, "db", "devapi.db", "SQLite database path (empty disables the archive)")
	flag.DurationVar(&synthetic, "synthetic", 0, "Emit a random event at this interval (0 disables)")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	b := bus.New(bus.Config{})
	corr := correlate.New(correlate.Config{})
	for _, p := range []core.Platform{core.PlatformTwitch, core.PlatformYouTube, core.PlatformTikTok} {
		b.SetConnectionState(p, core.Connected("synthetic"))
	}

	var archive httpapi.Archive
	if sqlite != "" {
		s, err := sink.OpenSQLite(sqlite)
		if err != nil {
			log.Fatalf("open sqlite: %v", err)
		}
		defer s.Close()
		if err := s.Ping(); err != nil {
			log.Fatalf("ping: %v", err)
		}
		archive = s
		go sink.Archive(ctx, b, s, func(err error) { log.Printf("devapi: archive: %v", err) })
	}

	api := httpapi.New(b, archive, httpapi.Options{
		Addr:            addr,
		EnableMetrics:   true,
		EnableAccessLog: true,
		Build:           httpapi.BuildInfo{Version: "devapi"},
	})

	publish := func(ev core.Event) {
		if ob, ok := corr.Ingest(ev); ok {
			b.Publish(ob)
		}
	}

	api.Mux().HandleFunc("POST /emit", func(w http.ResponseWriter, r *http.Request) {
		defer r.Body.Close()
		var req emitReq
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad json", http.StatusBadRequest)
			return
		}
		ev, ok := req.event()
		if !ok {
			http.Error(w, "platform and username required", http.StatusBadRequest)
			return
		}
		publish(ev)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": true, "id": ev.ID})
	})

	if synthetic > 0 {
		go runSynthetic(ctx, synthetic, publish)
	}

	go func() {
		if err := api.Start(); err != nil {
			log.Fatal(err)
		}
	}()
	log.Printf("devapi listening on %s (db=%s synthetic=%s)", addr, sqlite, synthetic)

	<-ctx.Done()
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()
	if err := api.Shutdown(shutdownCtx); err != nil {
		log.Printf("devapi: shutdown: %v", err)
	}
}

var synthUsers = []string{"alice", "bob", "carol", "dave", "erin"}

func runSynthetic(ctx context.Context, every time.Duration, publish func(core.Event)) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			publish(syntheticEvent(now.UTC()))
		}
	}
}

func syntheticEvent(now time.Time) core.Event {
	user := synthUsers[rand.IntN(len(synthUsers))]
	ev := core.Event{
		ID:        uuid.NewString(),
		Actor:     core.Actor{ID: user, Username: user, DisplayName: user},
		Timestamp: now,
	}
	switch rand.IntN(4) {
	case 0:
		ev.Platform, ev.Type, ev.Amount = core.PlatformTwitch, core.TypeBits, core.Amt(100)
		ev.Message = "cheer100 hype"
	case 1:
		ev.Platform, ev.Type = core.PlatformYouTube, core.TypeSuperchat
		ev.Amount, ev.Currency, ev.Message = core.Amt(5), "USD", "great stream"
	case 2:
		ev.Platform, ev.Type = core.PlatformTikTok, core.TypeGift
		ev.Gift = &core.Gift{Name: "Rose", Count: 1 + rand.IntN(5), PerUnit: 1, Final: true}
	default:
		ev.Platform, ev.Type, ev.Message = core.PlatformTwitch, core.TypeChat, "hello from "+user
	}
	return ev
}
