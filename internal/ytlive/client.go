// Package ytlive is the YouTube live chat poll connector. It resolves a video to
// its active live chat through the Data API and pages through chat messages on a
// fixed interval.
package ytlive

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/oauth2"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	"google.golang.org/api/youtube/v3"

	"github.com/you/gnasty-live/internal/core"
	"github.com/you/gnasty-live/internal/credentials"
	"github.com/you/gnasty-live/internal/droplog"
	"github.com/you/gnasty-live/internal/reconnect"
	"github.com/you/gnasty-live/internal/telemetry"
)

const (
	defaultPollInterval = 10 * time.Second
	defaultViewerEvery  = 6
	defaultSeenCapacity = 2000
	defaultMaxResults   = 200
	defaultHTTPTimeout  = 15 * time.Second
	statsLogInterval    = 30 * time.Second
	outBuffer           = 256

	// KindMessage and KindViewers are the RawEvent kinds this connector emits.
	KindMessage = "live_chat_message"
	KindViewers = "viewers"
)

var (
	ErrStreamEnded   = errors.New("ytlive: stream ended")
	ErrQuotaExceeded = errors.New("ytlive: quota exceeded")
	ErrUnauthorized  = errors.New("ytlive: unauthorized")

	errNoStream = errors.New("ytlive: no usable stream id")
)

type Config struct {
	// StreamID is a video id or URL; it overrides the credential provider's channel config.
	StreamID string
	// PollInterval is the base cycle; the upstream pollingIntervalMillis wins when larger.
	PollInterval time.Duration
	// ViewerEvery refreshes the viewer count every Nth cycle; negative disables it.
	ViewerEvery  int
	SeenCapacity int
	MaxResults   int64

	// Endpoint and HTTPClient override the API base URL and transport, mostly for tests.
	Endpoint   string
	HTTPClient *http.Client

	Debounce   time.Duration
	DebugDrops bool
	OnState    func(core.ConnectionState)
}

// PollResult is the outcome of one poll cycle.
type PollResult struct {
	Events  []core.RawEvent
	Viewers *int64
	Pending bool
}

type Client struct {
	cfg    Config
	creds  credentials.Provider
	svc    *youtube.Service
	life   reconnect.Lifecycle
	states *reconnect.Debouncer
	drops  *droplog.Logger

	// Poll state, owned by the goroutine calling Poll.
	videoID    string
	liveChatID string
	pageToken  string
	upstream   time.Duration
	cycle      int
	seen       *seenSet
	emitted    int64

	mu  sync.Mutex
	out chan core.RawEvent
}

func New(cfg Config, creds credentials.Provider) (*Client, error) {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if cfg.ViewerEvery == 0 {
		cfg.ViewerEvery = defaultViewerEvery
	}
	if cfg.SeenCapacity <= 0 {
		cfg.SeenCapacity = defaultSeenCapacity
	}
	if cfg.MaxResults <= 0 {
		cfg.MaxResults = defaultMaxResults
	}
	if cfg.Debounce == 0 {
		cfg.Debounce = reconnect.DefaultDebounce
	}
	if !cfg.DebugDrops {
		cfg.DebugDrops = droplog.DebugEnv("GNASTY_YT_DEBUG_DROPS")
	}
	onState := cfg.OnState
	if onState == nil {
		onState = func(core.ConnectionState) {}
	}

	base := cfg.HTTPClient
	if base == nil {
		base = &http.Client{Timeout: defaultHTTPTimeout}
	}
	httpClient := &http.Client{
		Timeout: base.Timeout,
		Transport: &oauth2.Transport{
			Source: providerSource{creds: creds},
			Base:   base.Transport,
		},
	}
	opts := []option.ClientOption{option.WithHTTPClient(httpClient)}
	if cfg.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(cfg.Endpoint))
	}
	svc, err := youtube.NewService(context.Background(), opts...)
	if err != nil {
		return nil, fmt.Errorf("ytlive: new service: %w", err)
	}

	return &Client{
		cfg:    cfg,
		creds:  creds,
		svc:    svc,
		states: reconnect.NewDebouncer(cfg.Debounce, onState),
		drops:  droplog.New("ytlive", time.Now(), cfg.DebugDrops, 0),
		seen:   newSeenSet(cfg.SeenCapacity),
	}, nil
}

// Start launches Run in its own goroutine and returns the event stream, which
// is closed when Run exits.
func (c *Client) Start(ctx context.Context) <-chan core.RawEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.life.Running() && c.out != nil {
		return c.out
	}
	out := make(chan core.RawEvent, outBuffer)
	c.out = out
	c.life.Start(ctx, func(ctx context.Context) {
		defer close(out)
		defer c.states.Flush()
		if err := c.Run(ctx, out, c.states.Report); err != nil && ctx.Err() == nil {
			slog.Warn("ytlive: stopped", "err", err)
		}
	})
	return out
}

// Stop is idempotent and waits for the poll loop to exit.
func (c *Client) Stop() { c.life.Stop() }

// Cursor returns the live chat id and page token the next poll will use.
func (c *Client) Cursor() (liveChatID, pageToken string) {
	return c.liveChatID, c.pageToken
}

// Run polls until ctx is done or a terminal condition is reached. State
// transitions go to report; repeated identical states are not re-reported.
func (c *Client) Run(ctx context.Context, out chan<- core.RawEvent, report func(core.ConnectionState)) error {
	var last string
	emit := func(s core.ConnectionState) {
		key := string(s.Status) + "|" + s.Reason
		if key == last && !s.Terminal {
			return
		}
		last = key
		report(s)
	}

	emit(core.Connecting())
	nextStats := time.Now().Add(statsLogInterval)
	var window int64
	for {
		res, err := c.Poll(ctx)
		if ctx.Err() != nil {
			report(core.Disconnected("stopped"))
			return nil
		}
		switch {
		case err == nil:
			if res.Pending {
				emit(core.Connected("scheduled"))
			} else {
				emit(core.Connected(""))
			}
		case errors.Is(err, ErrQuotaExceeded):
			slog.Warn("ytlive: quota exceeded; skipping cycle", "live_chat_id", c.liveChatID)
		case errors.Is(err, ErrUnauthorized):
			slog.Warn("ytlive: unauthorized; refreshing token")
			if !c.creds.RefreshAccessToken(ctx, core.PlatformYouTube) {
				if ctx.Err() != nil {
					report(core.Disconnected("stopped"))
					return nil
				}
				emit(core.TerminalDisconnected("token refresh failed"))
				return err
			}
		case errors.Is(err, credentials.ErrNoToken):
			emit(core.TerminalDisconnected("no credentials"))
			return err
		case errors.Is(err, ErrStreamEnded):
			slog.Info("ytlive: stream ended", "video", c.videoID, "err", err)
			emit(core.TerminalDisconnected("stream ended"))
			return err
		case errors.Is(err, errNoStream):
			emit(core.TerminalDisconnected(err.Error()))
			return err
		default:
			slog.Warn("ytlive: poll failed", "err", err)
			emit(core.Disconnected(err.Error()))
		}

		if res.Viewers != nil {
			res.Events = append(res.Events, core.RawEvent{
				Platform: core.PlatformYouTube,
				Kind:     KindViewers,
				Payload:  *res.Viewers,
				Received: time.Now().UTC(),
			})
		}
		for _, ev := range res.Events {
			select {
			case out <- ev:
				if ev.Kind == KindMessage {
					window++
				}
			case <-ctx.Done():
				report(core.Disconnected("stopped"))
				return nil
			}
		}

		if now := time.Now(); !now.Before(nextStats) {
			if window > 0 {
				slog.Info("ytlive: recv", "msgs", humanize.Comma(window), "total", humanize.Comma(c.emitted))
			}
			window = 0
			nextStats = now.Add(statsLogInterval)
		}

		if !reconnect.Sleep(ctx, nextPollDelay(c.upstream, c.cfg.PollInterval)) {
			report(core.Disconnected("stopped"))
			return nil
		}
	}
}

// Poll runs one cycle: an optional session refresh followed by one page of chat
// messages. Quota errors leave the chat id and page token untouched so the next
// cycle repeats the same request.
func (c *Client) Poll(ctx context.Context) (res PollResult, err error) {
	ctx, span := telemetry.StartSpan(ctx, "ytlive", "ytlive.poll", attribute.String("video", c.videoID))
	defer func() { telemetry.End(span, err) }()

	if c.creds == nil {
		return PollResult{}, credentials.ErrNoToken
	}
	if _, ok := c.creds.GetAccessToken(core.PlatformYouTube); !ok {
		return PollResult{}, credentials.ErrNoToken
	}
	if c.videoID == "" {
		raw := c.cfg.StreamID
		if raw == "" {
			raw = c.creds.GetChannelConfig(core.PlatformYouTube).StreamID
		}
		if strings.TrimSpace(raw) == "" {
			return PollResult{}, errNoStream
		}
		id, err := VideoID(raw)
		if err != nil {
			return PollResult{}, fmt.Errorf("%w: %w", errNoStream, err)
		}
		c.videoID = id
	}

	c.cycle++
	refresh := c.liveChatID == "" || (c.cfg.ViewerEvery > 0 && (c.cycle-1)%c.cfg.ViewerEvery == 0)
	if refresh {
		s, err := c.resolveSession(ctx, c.videoID)
		if err != nil {
			return PollResult{}, err
		}
		if s.Pending {
			return PollResult{Pending: true}, nil
		}
		if s.LiveChatID != c.liveChatID {
			if c.liveChatID != "" {
				slog.Info("ytlive: live chat changed", "from", c.liveChatID, "to", s.LiveChatID)
			}
			c.liveChatID = s.LiveChatID
			c.pageToken = ""
		}
		res.Viewers = s.Viewers
	}

	call := c.svc.LiveChatMessages.List(c.liveChatID, []string{"snippet", "authorDetails"}).
		MaxResults(c.cfg.MaxResults).
		Context(ctx)
	if c.pageToken != "" {
		call = call.PageToken(c.pageToken)
	}
	resp, err := call.Do()
	if err != nil {
		return res, classify(err)
	}

	c.pageToken = resp.NextPageToken
	c.upstream = time.Duration(resp.PollingIntervalMillis) * time.Millisecond
	now := time.Now()
	for _, item := range resp.Items {
		if item == nil || item.Snippet == nil || item.Id == "" {
			c.drops.Note(now, "malformed", droplog.Item{Kind: "item", Channel: c.liveChatID})
			continue
		}
		if !c.seen.Add(item.Id) {
			continue
		}
		res.Events = append(res.Events, core.RawEvent{
			Platform: core.PlatformYouTube,
			Kind:     KindMessage,
			Payload:  item,
			Received: now.UTC(),
		})
	}
	c.emitted += int64(len(res.Events))
	return res, nil
}

// classify maps Data API failures onto the connector's error classes.
func classify(err error) error {
	var gerr *googleapi.Error
	if !errors.As(err, &gerr) {
		return fmt.Errorf("ytlive: request: %w", err)
	}
	for _, item := range gerr.Errors {
		switch item.Reason {
		case "quotaExceeded", "rateLimitExceeded", "dailyLimitExceeded", "userRateLimitExceeded":
			return fmt.Errorf("%w: %s", ErrQuotaExceeded, item.Reason)
		case "liveChatEnded", "liveChatNotFound", "liveChatDisabled":
			return fmt.Errorf("%w: %s", ErrStreamEnded, item.Reason)
		}
	}
	switch gerr.Code {
	case http.StatusUnauthorized:
		return fmt.Errorf("%w: %s", ErrUnauthorized, gerr.Message)
	case http.StatusTooManyRequests:
		return fmt.Errorf("%w: http 429", ErrQuotaExceeded)
	}
	return fmt.Errorf("ytlive: api status %d: %s", gerr.Code, gerr.Message)
}

func nextPollDelay(upstream, base time.Duration) time.Duration {
	if upstream > base {
		return upstream
	}
	return base
}

// providerSource reads the current access token from the credential provider on
// every request so refreshed tokens take effect without rebuilding the service.
type providerSource struct {
	creds credentials.Provider
}

func (s providerSource) Token() (*oauth2.Token, error) {
	if s.creds == nil {
		return nil, credentials.ErrNoToken
	}
	tok, ok := s.creds.GetAccessToken(core.PlatformYouTube)
	if !ok {
		return nil, credentials.ErrNoToken
	}
	return &oauth2.Token{AccessToken: credentials.BareToken(tok), TokenType: "Bearer"}, nil
}

// seenSet is a bounded FIFO of message ids.
type seenSet struct {
	cap   int
	order []string
	ids   map[string]struct{}
}

func newSeenSet(capacity int) *seenSet {
	return &seenSet{cap: capacity, ids: make(map[string]struct{}, capacity)}
}

// Add records id and reports whether it was new.
func (s *seenSet) Add(id string) bool {
	if _, ok := s.ids[id]; ok {
		return false
	}
	s.ids[id] = struct{}{}
	s.order = append(s.order, id)
	for len(s.order) > s.cap {
		delete(s.ids, s.order[0])
		s.order = s.order[1:]
	}
	return true
}

func (s *seenSet) Len() int { return len(s.ids) }
