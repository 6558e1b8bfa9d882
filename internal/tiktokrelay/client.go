// Package tiktokrelay is the TikTok relay socket connector. A local relay
// process bridges the TikTok live feed onto a WebSocket as JSON frames; this
// client keeps that socket open and forwards frames as raw events.
package tiktokrelay

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"go.opentelemetry.io/otel/attribute"
	"nhooyr.io/websocket"

	"github.com/you/gnasty-live/internal/core"
	"github.com/you/gnasty-live/internal/droplog"
	"github.com/you/gnasty-live/internal/reconnect"
	"github.com/you/gnasty-live/internal/telemetry"
)

const (
	defaultPingInterval = 30 * time.Second
	defaultReadLimit    = 1 << 20
	statsLogInterval    = 30 * time.Second
	outBuffer           = 256
)

type Config struct {
	URL    string
	Policy reconnect.Policy
	// Debounce is the flap suppression window; zero means the default, negative disables it.
	Debounce time.Duration
	// PingInterval is how often the socket is pinged; negative disables keepalive pings.
	PingInterval time.Duration
	HTTPClient   *http.Client
	DebugDrops   bool
	OnState      func(core.ConnectionState)
}

type Stats struct {
	Sessions int64
	Seen     int64
	Emitted  int64
	Dropped  int64
}

type Client struct {
	cfg    Config
	life   reconnect.Lifecycle
	states *reconnect.Debouncer
	drops  *droplog.Logger

	sessions atomic.Int64
	seen     atomic.Int64
	emitted  atomic.Int64
	dropped  atomic.Int64

	mu  sync.Mutex
	out chan core.RawEvent
}

func New(cfg Config) *Client {
	if cfg.Debounce == 0 {
		cfg.Debounce = reconnect.DefaultDebounce
	}
	if cfg.PingInterval == 0 {
		cfg.PingInterval = defaultPingInterval
	}
	if !cfg.DebugDrops {
		cfg.DebugDrops = droplog.DebugEnv("GNASTY_TIKTOK_DEBUG_DROPS")
	}
	onState := cfg.OnState
	if onState == nil {
		onState = func(core.ConnectionState) {}
	}
	return &Client{
		cfg:    cfg,
		states: reconnect.NewDebouncer(cfg.Debounce, onState),
		drops:  droplog.New("tiktokrelay", time.Now(), cfg.DebugDrops, 0),
	}
}

// Start launches the connection loop and returns its event stream. The stream is
// closed when the loop exits.
func (c *Client) Start(ctx context.Context) <-chan core.RawEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.life.Running() && c.out != nil {
		return c.out
	}
	out := make(chan core.RawEvent, outBuffer)
	c.out = out
	c.life.Start(ctx, func(ctx context.Context) { c.run(ctx, out) })
	return out
}

// Stop is idempotent and waits for the connection loop to exit.
func (c *Client) Stop() { c.life.Stop() }

func (c *Client) Stats() Stats {
	return Stats{
		Sessions: c.sessions.Load(),
		Seen:     c.seen.Load(),
		Emitted:  c.emitted.Load(),
		Dropped:  c.dropped.Load(),
	}
}

func (c *Client) run(ctx context.Context, out chan<- core.RawEvent) {
	defer close(out)
	defer c.states.Flush()

	target := strings.TrimSpace(c.cfg.URL)
	if target == "" {
		slog.Error("tiktokrelay: relay url is required")
		c.states.Report(core.TerminalDisconnected("relay url not configured"))
		return
	}
	if _, err := url.Parse(target); err != nil {
		c.states.Report(core.TerminalDisconnected(fmt.Sprintf("invalid relay url: %v", err)))
		return
	}

	m := reconnect.NewMachine(c.cfg.Policy)
	for {
		m.Connecting()
		c.states.Report(core.Connecting())
		err := c.session(ctx, target, out, func() {
			m.Connected()
			c.states.Report(core.Connected(""))
		})
		if ctx.Err() != nil {
			c.states.Report(core.Disconnected("stopped"))
			return
		}

		delay := m.Failed()
		c.states.Report(core.Disconnected(err.Error()))
		slog.Warn("tiktokrelay: disconnected", "err", err, "attempt", m.Attempt(), "retry_in", delay)
		if !reconnect.Sleep(ctx, delay) {
			c.states.Report(core.Disconnected("stopped"))
			return
		}
	}
}

func (c *Client) session(ctx context.Context, target string, out chan<- core.RawEvent, onOpen func()) (err error) {
	ctx, span := telemetry.StartSpan(ctx, "tiktokrelay", "tiktokrelay.session", attribute.String("url", redactURL(target)))
	defer func() { telemetry.End(span, err) }()

	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	conn, _, err := websocket.Dial(dialCtx, target, &websocket.DialOptions{HTTPClient: c.cfg.HTTPClient})
	cancel()
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")
	conn.SetReadLimit(defaultReadLimit)
	c.sessions.Add(1)
	slog.Info("tiktokrelay: connected", "url", redactURL(target))
	onOpen()

	sessCtx, stop := context.WithCancel(ctx)
	defer stop()
	if c.cfg.PingInterval > 0 {
		go c.keepalive(sessCtx, conn)
	}

	var (
		degraded  bool
		window    int64
		nextStats = time.Now().Add(statsLogInterval)
	)
	for {
		_, payload, err := conn.Read(sessCtx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("read: %w", err)
		}
		now := time.Now()
		c.seen.Add(1)

		if !now.Before(nextStats) {
			if window > 0 {
				slog.Info("tiktokrelay: recv", "frames", humanize.Comma(window), "total", humanize.Comma(c.emitted.Load()))
			}
			window = 0
			nextStats = now.Add(statsLogInterval)
		}

		frame, err := DecodeFrame(payload)
		if err != nil {
			c.drop(now, "malformed", "", string(payload))
			continue
		}
		if _, ok := knownEvents[frame.Event]; !ok {
			c.drop(now, "unknown_event", frame.Event, string(payload))
			continue
		}

		switch {
		case frame.Event == EventStreamEnd:
			degraded = true
			slog.Info("tiktokrelay: stream ended upstream")
			c.states.Report(core.Degraded("stream ended"))
		case degraded:
			degraded = false
			c.states.Report(core.Connected(""))
		}

		ev := core.RawEvent{Platform: core.PlatformTikTok, Kind: frame.Event, Payload: frame.Data, Received: now.UTC()}
		select {
		case out <- ev:
			window++
			c.emitted.Add(1)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// keepalive pings until the session ends; a failed ping closes the socket so
// the read loop returns.
func (c *Client) keepalive(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pctx, cancel := context.WithTimeout(ctx, c.cfg.PingInterval)
			err := conn.Ping(pctx)
			cancel()
			if err != nil && ctx.Err() == nil {
				slog.Warn("tiktokrelay: ping failed", "err", err)
				_ = conn.Close(websocket.StatusGoingAway, "ping timeout")
				return
			}
		}
	}
}

func (c *Client) drop(now time.Time, reason, kind, sample string) {
	c.dropped.Add(1)
	if kind == "" {
		kind = "frame"
	}
	c.drops.Note(now, reason, droplog.Item{
		Kind:   kind,
		Sample: droplog.Sanitize(sample, droplog.SampleMaxLen),
	})
}

func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "invalid"
	}
	u.User = nil
	u.RawQuery = ""
	return u.String()
}
