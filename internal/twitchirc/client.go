// Package twitchirc is the Twitch chat socket connector. It speaks raw IRC over
// TCP or TLS and emits PRIVMSG and USERNOTICE lines for one channel.
package twitchirc

import (
	"bufio"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"go.opentelemetry.io/otel/attribute"

	"github.com/you/gnasty-live/internal/core"
	"github.com/you/gnasty-live/internal/credentials"
	"github.com/you/gnasty-live/internal/droplog"
	"github.com/you/gnasty-live/internal/reconnect"
	"github.com/you/gnasty-live/internal/telemetry"
)

const (
	defaultHost        = "irc.chat.twitch.tv"
	defaultIdleTimeout = 2 * time.Minute
	statsLogInterval   = 30 * time.Second
	outBuffer          = 256
)

var (
	ErrAuthFailed  = errors.New("twitchirc: authentication failed")
	errPingTimeout = errors.New("twitchirc: no reply to keepalive ping")
	errReconnect   = errors.New("twitchirc: server requested reconnect")
)

type Config struct {
	// Channel and Nick override the credential provider's channel config.
	Channel string
	Nick    string
	UseTLS  bool
	Addr    string

	Policy reconnect.Policy
	// Debounce is the flap suppression window; zero means the default, negative disables it.
	Debounce time.Duration
	// IdleTimeout is how long a silent socket waits before pinging, and then
	// how long it waits for any reply before giving up.
	IdleTimeout time.Duration
	DebugDrops  bool
	OnState     func(core.ConnectionState)
}

type Client struct {
	cfg    Config
	creds  credentials.Provider
	life   reconnect.Lifecycle
	states *reconnect.Debouncer
	drops  *droplog.Logger
	stats  Stats

	mu  sync.Mutex
	out chan core.RawEvent
}

func New(cfg Config, creds credentials.Provider) *Client {
	if cfg.Debounce == 0 {
		cfg.Debounce = reconnect.DefaultDebounce
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = defaultIdleTimeout
	}
	if !cfg.DebugDrops {
		cfg.DebugDrops = droplog.DebugEnv("GNASTY_TWITCH_DEBUG_DROPS")
	}
	onState := cfg.OnState
	if onState == nil {
		onState = func(core.ConnectionState) {}
	}
	return &Client{
		cfg:    cfg,
		creds:  creds,
		states: reconnect.NewDebouncer(cfg.Debounce, onState),
		drops:  droplog.New("twitchirc", time.Now(), cfg.DebugDrops, 0),
	}
}

// Start launches the connection loop and returns its event stream. The stream is
// closed when the loop exits, either through Stop or a terminal failure. Calling
// Start while running returns the existing stream.
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

func (c *Client) Stats() StatsSnapshot { return c.stats.Snapshot() }

func (c *Client) target() (channel, nick string) {
	cc := credentials.ChannelConfig{}
	if c.creds != nil {
		cc = c.creds.GetChannelConfig(core.PlatformTwitch)
	}
	channel = firstNonEmpty(c.cfg.Channel, cc.Channel)
	nick = firstNonEmpty(c.cfg.Nick, cc.Nick, channel)
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(channel), "#")), strings.ToLower(strings.TrimSpace(nick))
}

func (c *Client) run(ctx context.Context, out chan<- core.RawEvent) {
	defer close(out)
	defer c.states.Flush()

	m := reconnect.NewMachine(c.cfg.Policy)
	refreshed := false
	for {
		channel, nick := c.target()
		if channel == "" || nick == "" {
			slog.Error("twitchirc: channel and nick are required")
			c.states.Report(core.TerminalDisconnected("channel not configured"))
			return
		}
		if c.creds == nil {
			c.states.Report(core.TerminalDisconnected("no credentials"))
			return
		}
		token, ok := c.creds.GetAccessToken(core.PlatformTwitch)
		if !ok {
			slog.Warn("twitchirc: no access token; not connecting")
			c.states.Report(core.TerminalDisconnected("no credentials"))
			return
		}

		m.Connecting()
		c.states.Report(core.Connecting())
		err := c.session(ctx, channel, nick, token, out, func() {
			refreshed = false
			m.Connected()
			c.states.Report(core.Connected("joined #" + channel))
		})
		if ctx.Err() != nil {
			c.states.Report(core.Disconnected("stopped"))
			return
		}

		if errors.Is(err, ErrAuthFailed) {
			if refreshed {
				slog.Error("twitchirc: token rejected after refresh; giving up")
				c.states.Report(core.TerminalDisconnected("token invalid after refresh"))
				return
			}
			slog.Warn("twitchirc: authentication failed; refreshing token")
			if !c.creds.RefreshAccessToken(ctx, core.PlatformTwitch) {
				if ctx.Err() != nil {
					c.states.Report(core.Disconnected("stopped"))
					return
				}
				slog.Error("twitchirc: token refresh failed; giving up")
				c.states.Report(core.TerminalDisconnected("token refresh failed"))
				return
			}
			refreshed = true
			continue
		}

		delay := m.Failed()
		c.states.Report(core.Disconnected(err.Error()))
		slog.Warn("twitchirc: disconnected", "err", err, "attempt", m.Attempt(), "retry_in", delay)
		if !reconnect.Sleep(ctx, delay) {
			c.states.Report(core.Disconnected("stopped"))
			return
		}
	}
}

func (c *Client) dial(ctx context.Context) (net.Conn, error) {
	addr := defaultHost + ":6667"
	if c.cfg.UseTLS {
		addr = defaultHost + ":6697"
	}
	if a := strings.TrimSpace(c.cfg.Addr); a != "" {
		addr = a
	}
	d := &net.Dialer{Timeout: 10 * time.Second}
	if c.cfg.UseTLS {
		host, _, err := net.SplitHostPort(addr)
		if err != nil {
			host = defaultHost
		}
		td := &tls.Dialer{NetDialer: d, Config: &tls.Config{ServerName: host}}
		return td.DialContext(ctx, "tcp", addr)
	}
	return d.DialContext(ctx, "tcp", addr)
}

func (c *Client) session(ctx context.Context, channel, nick, token string, out chan<- core.RawEvent, onJoin func()) (err error) {
	ctx, span := telemetry.StartSpan(ctx, "twitchirc", "twitchirc.session", attribute.String("channel", channel))
	defer func() { telemetry.End(span, err) }()

	conn, err := c.dial(ctx)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()
	c.stats.Sessions.Add(1)

	rw := bufio.NewReadWriter(bufio.NewReader(conn), bufio.NewWriter(conn))
	send := func(s string) error {
		if _, err := rw.WriteString(s + "\r\n"); err != nil {
			return err
		}
		return rw.Flush()
	}

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-done:
		}
	}()

	for _, line := range []string{
		"CAP REQ :twitch.tv/tags twitch.tv/commands twitch.tv/membership",
		"PASS " + credentials.NormalizeToken(token),
		"NICK " + nick,
		"JOIN #" + channel,
	} {
		if err := send(line); err != nil {
			cmd, _, _ := strings.Cut(line, " ")
			return fmt.Errorf("send %s: %w", cmd, err)
		}
	}

	var (
		joined       bool
		awaitingPong bool
		window       int64
		nextStats    = time.Now().Add(statsLogInterval)
	)

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := conn.SetReadDeadline(time.Now().Add(c.cfg.IdleTimeout)); err != nil {
			return fmt.Errorf("set deadline: %w", err)
		}

		line, err := rw.ReadString('\n')
		if err != nil {
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				if awaitingPong {
					return errPingTimeout
				}
				if err := send("PING :keepalive"); err != nil {
					return fmt.Errorf("send PING: %w", err)
				}
				awaitingPong = true
				continue
			}
			return fmt.Errorf("read: %w", err)
		}
		awaitingPong = false

		now := time.Now()
		if !now.Before(nextStats) {
			if window > 0 {
				snap := c.stats.Snapshot()
				slog.Info("twitchirc: recv", "msgs", humanize.Comma(window), "total", humanize.Comma(snap.Emitted))
			}
			window = 0
			nextStats = now.Add(statsLogInterval)
		}

		if strings.TrimSpace(line) == "" {
			continue
		}
		c.stats.Seen.Add(1)
		msg, ok := ParseLine(line)
		if !ok {
			c.stats.Dropped.Add(1)
			noteDrop(c.drops, now, "malformed", line)
			continue
		}

		switch msg.Command {
		case "PING":
			if err := send("PONG :" + msg.Trailing()); err != nil {
				return fmt.Errorf("send PONG: %w", err)
			}
		case "PONG":
		case "RECONNECT":
			return errReconnect
		case "NOTICE":
			if authFailure(msg) {
				slog.Warn("twitchirc: authentication failed per server NOTICE")
				return ErrAuthFailed
			}
			c.stats.Dropped.Add(1)
			noteDrop(c.drops, now, "notice", line)
		case "JOIN", "ROOMSTATE":
			if !joined && msg.Channel() == channel && (msg.Command == "ROOMSTATE" || strings.EqualFold(msg.Nick(), nick)) {
				joined = true
				slog.Info("twitchirc: joined", "channel", "#"+channel, "as", nick)
				onJoin()
			}
		case "PRIVMSG", "USERNOTICE":
			if msg.Channel() != channel {
				c.stats.Dropped.Add(1)
				noteDrop(c.drops, now, "other_channel", line)
				continue
			}
			ev := core.RawEvent{Platform: core.PlatformTwitch, Kind: "irc", Payload: msg, Received: now.UTC()}
			select {
			case out <- ev:
				window++
				c.stats.Emitted.Add(1)
			case <-ctx.Done():
				return ctx.Err()
			}
		default:
			c.stats.Dropped.Add(1)
			noteDrop(c.drops, now, "ignored_command", line)
		}
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
