package credentials

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/singleflight"

	"github.com/you/gnasty-live/internal/core"
	"github.com/you/gnasty-live/internal/telemetry"
)

// Manager implements Provider over a Store and a Refresher. Concurrent refreshes
// for one platform share a single exchange.
type Manager struct {
	store     Store
	refresher Refresher

	mu       sync.RWMutex
	channels map[core.Platform]ChannelConfig
	cache    map[core.Platform]Token
	seeds    map[core.Platform]Token
	onUpdate []func(core.Platform, Token)

	group singleflight.Group
}

func NewManager(store Store, refresher Refresher, channels map[core.Platform]ChannelConfig) *Manager {
	cc := make(map[core.Platform]ChannelConfig, len(channels))
	for p, c := range channels {
		cc[p] = c
	}
	return &Manager{
		store:     store,
		refresher: refresher,
		channels:  cc,
		cache:     make(map[core.Platform]Token),
		seeds:     make(map[core.Platform]Token),
	}
}

// OnUpdate registers fn to run after every successful refresh or reload.
func (m *Manager) OnUpdate(fn func(core.Platform, Token)) {
	if fn == nil {
		return
	}
	m.mu.Lock()
	m.onUpdate = append(m.onUpdate, fn)
	m.mu.Unlock()
}

func (m *Manager) GetAccessToken(p core.Platform) (string, bool) {
	tok, err := m.token(p)
	if err != nil || tok.Access == "" {
		return "", false
	}
	return tok.Access, true
}

// Seed registers a token supplied out of band (flags or environment). It is
// used whenever the store holds nothing for p.
func (m *Manager) Seed(p core.Platform, tok Token) {
	tok.Access = BareToken(tok.Access)
	if tok.Access == "" && tok.Refresh == "" {
		return
	}
	m.mu.Lock()
	m.seeds[p] = tok
	m.mu.Unlock()
}

func (m *Manager) load(p core.Platform) (Token, error) {
	var (
		tok Token
		err = ErrNoToken
	)
	if m.store != nil {
		tok, err = m.store.Load(p)
	}
	if errors.Is(err, ErrNoToken) {
		m.mu.RLock()
		seed, ok := m.seeds[p]
		m.mu.RUnlock()
		if ok {
			return seed, nil
		}
	}
	return tok, err
}

// Token returns the full cached token for p.
func (m *Manager) Token(p core.Platform) (Token, bool) {
	tok, err := m.token(p)
	return tok, err == nil && tok.Access != ""
}

func (m *Manager) GetChannelConfig(p core.Platform) ChannelConfig {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.channels[p]
}

func (m *Manager) SetChannelConfig(p core.Platform, cc ChannelConfig) {
	m.mu.Lock()
	m.channels[p] = cc
	m.mu.Unlock()
}

// RefreshAccessToken joins the in-flight refresh for p or starts one. The
// exchange is detached from ctx so one caller giving up does not fail the
// others; ctx only bounds how long this caller waits.
func (m *Manager) RefreshAccessToken(ctx context.Context, p core.Platform) bool {
	ch := m.group.DoChan(string(p), func() (any, error) {
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), defaultRefreshTimeout)
		defer cancel()
		return m.refresh(rctx, p)
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			slog.Warn("credentials: refresh failed", "platform", p, "shared", res.Shared, "err", res.Err)
			return false
		}
		return true
	case <-ctx.Done():
		slog.Warn("credentials: refresh abandoned", "platform", p, "err", ctx.Err())
		return false
	}
}

func (m *Manager) refresh(ctx context.Context, p core.Platform) (tok Token, err error) {
	ctx, span := telemetry.StartSpan(ctx, "credentials", "credentials.refresh", attribute.String("platform", string(p)))
	defer func() { telemetry.End(span, err) }()

	if m.refresher == nil {
		return Token{}, errors.New("credentials: no refresher configured")
	}
	current, err := m.token(p)
	if err != nil && !errors.Is(err, ErrNoToken) {
		return Token{}, err
	}
	if current.Refresh == "" {
		return Token{}, ErrNoRefreshToken
	}

	fresh, err := m.refresher.Refresh(ctx, p, current.Refresh, m.GetChannelConfig(p))
	if err != nil {
		return Token{}, err
	}
	if fresh.Refresh == "" {
		fresh.Refresh = current.Refresh
	}
	if m.store != nil {
		if err := m.store.Save(p, fresh); err != nil {
			// The exchange already consumed the old refresh token; keep the new pair in memory.
			slog.Warn("credentials: persist refreshed token failed", "platform", p, "err", err)
		}
	}
	m.set(p, fresh)

	if fresh.Expiry.IsZero() {
		slog.Info("credentials: refreshed token", "platform", p)
	} else {
		slog.Info("credentials: refreshed token", "platform", p, "expires_at", fresh.Expiry.UTC().Format(time.RFC3339))
	}
	return fresh, nil
}

// Reload drops the cached token and reads it again from the store. It reports
// whether the access token changed.
func (m *Manager) Reload(p core.Platform) (bool, error) {
	m.mu.RLock()
	prev := m.cache[p]
	m.mu.RUnlock()

	tok, err := m.load(p)
	if err != nil && !errors.Is(err, ErrNoToken) {
		return false, err
	}
	if tok.Expiry.IsZero() && tok.Access == prev.Access {
		tok.Expiry = prev.Expiry
	}
	changed := tok.Access != prev.Access
	if changed {
		m.set(p, tok)
	} else {
		m.mu.Lock()
		m.cache[p] = tok
		m.mu.Unlock()
	}
	return changed, nil
}

func (m *Manager) token(p core.Platform) (Token, error) {
	m.mu.RLock()
	tok, ok := m.cache[p]
	m.mu.RUnlock()
	if ok {
		return tok, nil
	}
	tok, err := m.load(p)
	if err != nil {
		return Token{}, err
	}
	m.mu.Lock()
	m.cache[p] = tok
	m.mu.Unlock()
	return tok, nil
}

func (m *Manager) set(p core.Platform, tok Token) {
	m.mu.Lock()
	m.cache[p] = tok
	hooks := append([]func(core.Platform, Token){}, m.onUpdate...)
	m.mu.Unlock()
	for _, fn := range hooks {
		fn(p, tok)
	}
}
