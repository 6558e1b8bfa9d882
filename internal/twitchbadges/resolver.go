// Package twitchbadges looks up Twitch chat badge images through Helix. It backs
// the badge kind of the asset cache.
package twitchbadges

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/you/gnasty-live/internal/assets"
)

const defaultTTL = 6 * time.Hour

const (
	defaultHelixBaseURL = "https://api.twitch.tv/helix"
	defaultTokenURL     = "https://id.twitch.tv/oauth2/token"
	badgeGlobalPath     = "/chat/badges/global"
	badgeChannelPath    = "/chat/badges"
	usersPath           = "/users"
)

var (
	ErrNoCredentials = errors.New("twitchbadges: client credentials not configured")
	ErrUnknownBadge  = errors.New("twitchbadges: badge not found")
)

// Resolver fetches badge sets for the global scope and one channel, caching them for TTL.
type Resolver struct {
	ClientID     string
	ClientSecret string
	Channel      string
	HTTP         *http.Client
	TTL          time.Duration
	HelixBaseURL string
	TokenURL     string

	mu        sync.Mutex
	tokens    oauth2.TokenSource
	badgeSets map[string]cacheEntry
	users     map[string]cacheEntry
}

type cacheEntry struct {
	value     any
	expiresAt time.Time
}

// badgeVersions maps set id -> version -> image url.
type badgeVersions map[string]map[string]string

type helixBadgeResponse struct {
	Data []helixBadgeSet `json:"data"`
}

type helixBadgeSet struct {
	SetID    string           `json:"set_id"`
	Versions []helixBadgeItem `json:"versions"`
}

type helixBadgeItem struct {
	ID         string `json:"id"`
	ImageURL1x string `json:"image_url_1x"`
	ImageURL2x string `json:"image_url_2x"`
	ImageURL4x string `json:"image_url_4x"`
}

type helixUsersResponse struct {
	Data []helixUser `json:"data"`
}

type helixUser struct {
	ID string `json:"id"`
}

func NewResolver(clientID, clientSecret, channel string) *Resolver {
	return &Resolver{ClientID: clientID, ClientSecret: clientSecret, Channel: channel}
}

// Key formats the asset key for a badge.
func Key(setID, version string) string {
	return strings.ToLower(strings.TrimSpace(setID)) + "/" + strings.TrimSpace(version)
}

// Fetch implements assets.Fetcher for keys of the form "set/version".
func (r *Resolver) Fetch(ctx context.Context, kind assets.Kind, key string) (string, error) {
	if kind != assets.KindBadge {
		return "", fmt.Errorf("twitchbadges: unsupported kind %q", kind)
	}
	setID, version, _ := strings.Cut(key, "/")
	sets, err := r.lookupBadgeSets(ctx, strings.ToLower(strings.TrimSpace(r.Channel)))
	if err != nil {
		return "", err
	}
	versions, ok := sets[setID]
	if !ok {
		return "", ErrUnknownBadge
	}
	if ref := versions[version]; ref != "" {
		return ref, nil
	}
	for _, ref := range versions {
		if ref != "" {
			return ref, nil
		}
	}
	return "", ErrUnknownBadge
}

func (r *Resolver) lookupBadgeSets(ctx context.Context, channel string) (badgeVersions, error) {
	token, err := r.appToken(ctx)
	if err != nil {
		return nil, err
	}

	ttl := r.TTL
	if ttl <= 0 {
		ttl = defaultTTL
	}

	result := badgeVersions{}
	if globalSets, ok := r.cachedBadgeSets("global"); ok {
		mergeBadgeSets(result, globalSets)
	} else if globalSets, err := r.fetchBadgeSets(ctx, token, ""); err == nil {
		r.storeBadgeSets("global", globalSets, ttl)
		slog.Info("twitchbadges: fetched global badge metadata", "sets", len(globalSets))
		mergeBadgeSets(result, globalSets)
	} else {
		slog.Warn("twitchbadges: fetch global badges", "err", err)
	}

	if channel == "" {
		return result, nil
	}

	broadcasterID := ""
	if isNumericID(channel) {
		broadcasterID = channel
	} else if cachedID, ok := r.cachedUserID(channel); ok {
		broadcasterID = cachedID
	} else if fetched, err := r.lookupUserID(ctx, token, channel); err == nil && fetched != "" {
		broadcasterID = fetched
		r.storeUserID(channel, fetched, ttl)
	} else if err != nil {
		slog.Warn("twitchbadges: lookup user", "channel", channel, "err", err)
	}

	if broadcasterID == "" {
		return result, nil
	}

	if channelSets, ok := r.cachedBadgeSets(broadcasterID); ok {
		mergeBadgeSets(result, channelSets)
		return result, nil
	}

	if channelSets, err := r.fetchBadgeSets(ctx, token, broadcasterID); err == nil {
		r.storeBadgeSets(broadcasterID, channelSets, ttl)
		slog.Info("twitchbadges: fetched channel badge metadata", "channel", channel, "sets", len(channelSets))
		mergeBadgeSets(result, channelSets)
	} else {
		slog.Warn("twitchbadges: fetch channel badges", "channel", channel, "err", err)
	}

	return result, nil
}

func (r *Resolver) cachedBadgeSets(key string) (badgeVersions, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.badgeSets[key]
	if !ok || time.Now().After(entry.expiresAt) {
		return nil, false
	}
	sets, _ := entry.value.(badgeVersions)
	return sets, sets != nil
}

func (r *Resolver) storeBadgeSets(key string, sets badgeVersions, ttl time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.badgeSets == nil {
		r.badgeSets = map[string]cacheEntry{}
	}
	r.badgeSets[key] = cacheEntry{value: sets, expiresAt: time.Now().Add(ttl)}
}

func (r *Resolver) cachedUserID(channel string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.users[channel]
	if !ok || time.Now().After(entry.expiresAt) {
		return "", false
	}
	id, _ := entry.value.(string)
	return id, id != ""
}

func (r *Resolver) storeUserID(channel, id string, ttl time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.users == nil {
		r.users = map[string]cacheEntry{}
	}
	r.users[channel] = cacheEntry{value: id, expiresAt: time.Now().Add(ttl)}
}

func (r *Resolver) fetchBadgeSets(ctx context.Context, token, broadcasterID string) (badgeVersions, error) {
	endpoint := r.helixBase() + badgeGlobalPath
	if broadcasterID != "" {
		endpoint = r.helixBase() + badgeChannelPath + "?broadcaster_id=" + url.QueryEscape(broadcasterID)
	}

	var parsed helixBadgeResponse
	if err := r.getJSON(ctx, token, endpoint, &parsed); err != nil {
		return nil, err
	}
	return convertBadgeSets(parsed.Data), nil
}

func (r *Resolver) lookupUserID(ctx context.Context, token, channel string) (string, error) {
	var parsed helixUsersResponse
	if err := r.getJSON(ctx, token, r.helixBase()+usersPath+"?login="+url.QueryEscape(channel), &parsed); err != nil {
		return "", err
	}
	if len(parsed.Data) == 0 || parsed.Data[0].ID == "" {
		return "", errors.New("user not found")
	}
	return parsed.Data[0].ID, nil
}

func (r *Resolver) getJSON(ctx context.Context, token, endpoint string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Client-Id", strings.TrimSpace(r.ClientID))

	resp, err := r.httpClient().Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// appToken returns a cached client-credentials token, fetching a new one when it expires.
func (r *Resolver) appToken(ctx context.Context) (string, error) {
	clientID := strings.TrimSpace(r.ClientID)
	clientSecret := strings.TrimSpace(r.ClientSecret)
	if clientID == "" || clientSecret == "" {
		return "", ErrNoCredentials
	}

	r.mu.Lock()
	if r.tokens == nil {
		cfg := clientcredentials.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			TokenURL:     r.tokenURL(),
			AuthStyle:    oauth2.AuthStyleInParams,
		}
		// The source outlives this call, so it only borrows the HTTP client from ctx.
		r.tokens = cfg.TokenSource(context.WithValue(context.Background(), oauth2.HTTPClient, r.httpClient()))
	}
	ts := r.tokens
	r.mu.Unlock()

	tok, err := ts.Token()
	if err != nil {
		return "", fmt.Errorf("twitchbadges: app token: %w", err)
	}
	return tok.AccessToken, nil
}

func (r *Resolver) helixBase() string {
	if r.HelixBaseURL != "" {
		return strings.TrimSuffix(r.HelixBaseURL, "/")
	}
	return defaultHelixBaseURL
}

func (r *Resolver) tokenURL() string {
	if r.TokenURL != "" {
		return r.TokenURL
	}
	return defaultTokenURL
}

func (r *Resolver) httpClient() *http.Client {
	if r.HTTP != nil {
		return r.HTTP
	}
	return http.DefaultClient
}

func mergeBadgeSets(dst, src badgeVersions) {
	for setID, versions := range src {
		if dst[setID] == nil {
			dst[setID] = map[string]string{}
		}
		for version, ref := range versions {
			dst[setID][version] = ref
		}
	}
}

func convertBadgeSets(sets []helixBadgeSet) badgeVersions {
	result := make(badgeVersions, len(sets))
	for _, set := range sets {
		if set.SetID == "" {
			continue
		}
		versions := map[string]string{}
		for _, v := range set.Versions {
			if v.ID == "" {
				continue
			}
			if ref := firstNonEmpty(v.ImageURL1x, v.ImageURL2x, v.ImageURL4x); ref != "" {
				versions[v.ID] = ref
			}
		}
		if len(versions) > 0 {
			result[set.SetID] = versions
		}
	}
	return result
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func isNumericID(value string) bool {
	if value == "" {
		return false
	}
	for i := 0; i < len(value); i++ {
		if value[i] < '0' || value[i] > '9' {
			return false
		}
	}
	return true
}
