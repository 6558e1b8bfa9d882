package credentials

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"github.com/you/gnasty-live/internal/core"
)

const defaultRefreshTimeout = 15 * time.Second

// TwitchEndpoint is the Twitch identity token endpoint. Twitch expects client
// credentials in the form body.
var TwitchEndpoint = oauth2.Endpoint{
	AuthURL:   "https://id.twitch.tv/oauth2/authorize",
	TokenURL:  "https://id.twitch.tv/oauth2/token",
	AuthStyle: oauth2.AuthStyleInParams,
}

// Refresher exchanges a refresh token for a new token pair.
type Refresher interface {
	Refresh(ctx context.Context, p core.Platform, refreshToken string, cc ChannelConfig) (Token, error)
}

// OAuth2Refresher performs the refresh_token grant with golang.org/x/oauth2.
type OAuth2Refresher struct {
	Endpoints map[core.Platform]oauth2.Endpoint
	HTTP      *http.Client
}

func NewOAuth2Refresher() *OAuth2Refresher {
	return &OAuth2Refresher{Endpoints: map[core.Platform]oauth2.Endpoint{
		core.PlatformTwitch:  TwitchEndpoint,
		core.PlatformYouTube: google.Endpoint,
	}}
}

func (r *OAuth2Refresher) Refresh(ctx context.Context, p core.Platform, refreshToken string, cc ChannelConfig) (Token, error) {
	endpoint, ok := r.Endpoints[p]
	if !ok {
		return Token{}, fmt.Errorf("credentials: no oauth endpoint for %s", p)
	}
	clientID := strings.TrimSpace(cc.ClientID)
	clientSecret := strings.TrimSpace(cc.ClientSecret)
	if clientID == "" || clientSecret == "" {
		return Token{}, errors.New("credentials: refresh requires client id and secret")
	}
	if strings.TrimSpace(refreshToken) == "" {
		return Token{}, ErrNoRefreshToken
	}

	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, defaultRefreshTimeout)
		defer cancel()
	}
	if r.HTTP != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, r.HTTP)
	}

	cfg := &oauth2.Config{ClientID: clientID, ClientSecret: clientSecret, Endpoint: endpoint}
	fresh, err := cfg.TokenSource(ctx, &oauth2.Token{RefreshToken: strings.TrimSpace(refreshToken)}).Token()
	if err != nil {
		return Token{}, fmt.Errorf("credentials: refresh %s: %w", p, err)
	}
	if strings.TrimSpace(fresh.AccessToken) == "" {
		return Token{}, fmt.Errorf("credentials: refresh %s returned empty token", p)
	}
	return Token{Access: fresh.AccessToken, Refresh: fresh.RefreshToken, Expiry: fresh.Expiry}, nil
}
