package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/you/gnasty-live/internal/bus"
	"github.com/you/gnasty-live/internal/core"
)

const wsWriteTimeout = 5 * time.Second

// Stream frame kinds. SSE uses them as event names; WebSocket frames carry
// them in the kind field.
const (
	KindEvent  = "event"
	KindUpdate = "update"
	KindState  = "state"
)

// Frame is one WebSocket message.
type Frame struct {
	Kind     string                `json:"kind"`
	Event    *core.Event           `json:"event,omitempty"`
	Platform core.Platform         `json:"platform,omitempty"`
	State    *core.ConnectionState `json:"state,omitempty"`
}

func deliveryFrame(d bus.Delivery) Frame {
	ev := d.Event
	kind := KindEvent
	if d.Update {
		kind = KindUpdate
	}
	return Frame{Kind: kind, Event: &ev, Platform: ev.Platform}
}

func stateFrame(c bus.StateChange) Frame {
	st := c.State
	return Frame{Kind: KindState, Platform: c.Platform, State: &st}
}

// feed subscribes to the source and calls send for every frame that passes
// filters, starting with the current state of each matching platform. It
// returns when ctx is done, the server shuts down, or send fails.
func (s *Server) feed(ctx context.Context, filters Filters, send func(Frame) error, ping func() error) {
	events, states, unsubscribe := s.source.Subscribe()
	defer unsubscribe()

	snap := s.source.Snapshot()
	for _, p := range core.Platforms {
		st, ok := snap.States[p]
		if !ok || !filters.MatchesPlatform(p) {
			continue
		}
		if err := send(stateFrame(bus.StateChange{Platform: p, State: st})); err != nil {
			return
		}
	}

	ticker := time.NewTicker(s.opts.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.done():
			return
		case <-ticker.C:
			if err := ping(); err != nil {
				return
			}
		case d, ok := <-events:
			if !ok {
				return
			}
			if !filters.Matches(d.Event) {
				continue
			}
			if err := send(deliveryFrame(d)); err != nil {
				return
			}
		case c, ok := <-states:
			if !ok {
				return
			}
			if !filters.MatchesPlatform(c.Platform) {
				continue
			}
			if err := send(stateFrame(c)); err != nil {
				return
			}
		}
	}
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	filters, err := FiltersFromRequest(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	filters = filters.CloneForStream()

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "stream unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	defer s.metrics.StreamOpened(transportSSE)()

	fmt.Fprintf(w, ":ok\n\n")
	flusher.Flush()

	send := func(f Frame) error {
		var payload any = f.Event
		if f.Kind == KindState {
			payload = bus.StateChange{Platform: f.Platform, State: *f.State}
		}
		data, err := json.Marshal(payload)
		if err != nil {
			s.metrics.FrameFailed(transportSSE, f.Kind)
			return nil
		}
		if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", f.Kind, data); err != nil {
			return err
		}
		flusher.Flush()
		s.metrics.FrameSent(transportSSE, f.Kind)
		return nil
	}
	ping := func() error {
		if _, err := fmt.Fprintf(w, ":ping\n\n"); err != nil {
			return err
		}
		flusher.Flush()
		return nil
	}
	s.feed(r.Context(), filters, send, ping)
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	filters, err := FiltersFromRequest(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	filters = filters.CloneForStream()

	conn, err := websocket.Accept(baseWriter(w), r, s.acceptOptions())
	if err != nil {
		slog.Warn("httpapi: websocket accept", "err", err)
		return
	}
	defer conn.CloseNow()

	defer s.metrics.StreamOpened(transportWS)()

	// Clients only listen; CloseRead handles their control frames.
	ctx := conn.CloseRead(r.Context())

	send := func(f Frame) error {
		wctx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
		defer cancel()
		if err := wsjson.Write(wctx, conn, f); err != nil {
			s.metrics.FrameFailed(transportWS, f.Kind)
			return err
		}
		s.metrics.FrameSent(transportWS, f.Kind)
		return nil
	}
	ping := func() error {
		pctx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
		defer cancel()
		return conn.Ping(pctx)
	}
	s.feed(ctx, filters, send, ping)
	conn.Close(websocket.StatusNormalClosure, "")
}

// acceptOptions maps the CORS allow-list onto WebSocket origin patterns.
func (s *Server) acceptOptions() *websocket.AcceptOptions {
	opts := &websocket.AcceptOptions{}
	if s.cors == nil {
		return opts
	}
	if s.cors.any {
		opts.InsecureSkipVerify = true
		return opts
	}
	for origin := range s.cors.allowed {
		host := strings.TrimPrefix(strings.TrimPrefix(origin, "https://"), "http://")
		opts.OriginPatterns = append(opts.OriginPatterns, host)
	}
	return opts
}
