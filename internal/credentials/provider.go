// Package credentials supplies per-platform access tokens and channel settings to
// the connectors, and refreshes tokens with the refresh_token grant.
package credentials

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/you/gnasty-live/internal/core"
)

var (
	ErrNoToken        = errors.New("credentials: no token stored")
	ErrNoRefreshToken = errors.New("credentials: no refresh token")
)

// Provider is what connectors consume. RefreshAccessToken returns false when a
// refresh is impossible (no refresh token, or the exchange was rejected).
type Provider interface {
	GetAccessToken(p core.Platform) (string, bool)
	RefreshAccessToken(ctx context.Context, p core.Platform) bool
	GetChannelConfig(p core.Platform) ChannelConfig
}

// ChannelConfig identifies what a connector should attach to.
type ChannelConfig struct {
	Channel      string
	Nick         string
	StreamID     string
	RelayURL     string
	ClientID     string
	ClientSecret string
}

type Token struct {
	Access  string
	Refresh string
	Expiry  time.Time
}

// Store persists tokens. Load returns ErrNoToken when nothing is stored.
type Store interface {
	Load(p core.Platform) (Token, error)
	Save(p core.Platform, tok Token) error
}

// NormalizeToken trims the token and ensures it is prefixed with "oauth:" as IRC PASS expects.
// If the input is empty after trimming, an empty string is returned.
func NormalizeToken(s string) string {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return ""
	}
	if strings.HasPrefix(trimmed, "oauth:") {
		return trimmed
	}
	return "oauth:" + trimmed
}

// BareToken strips the IRC "oauth:" prefix for use as a bearer token.
func BareToken(s string) string {
	return strings.TrimPrefix(strings.TrimSpace(s), "oauth:")
}
