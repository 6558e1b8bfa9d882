package httpapi

import (
	"net/url"
	"testing"
	"time"

	"github.com/you/gnasty-live/internal/core"
)

func TestParseFilters(t *testing.T) {
	tests := []struct {
		name      string
		query     string
		platforms []string
		types     []string
		usernames []string
		limit     int
		order     Order
		wantErr   bool
	}{
		{name: "defaults", query: "", limit: defaultLimit, order: OrderDesc},
		{name: "aliases", query: "platform=tw,yt&platform=tt", platforms: []string{"twitch", "youtube", "tiktok"}, limit: defaultLimit, order: OrderDesc},
		{name: "all resets", query: "platform=twitch,all", limit: defaultLimit, order: OrderDesc},
		{name: "types", query: "type=chat,GIFT,chat", types: []string{"chat", "gift"}, limit: defaultLimit, order: OrderDesc},
		{name: "usernames lowered", query: "username=Alice,bob", usernames: []string{"alice", "bob"}, limit: defaultLimit, order: OrderDesc},
		{name: "limit capped", query: "limit=5000&order=asc", limit: maxLimit, order: OrderAsc},
		{name: "bad platform", query: "platform=myspace", wantErr: true},
		{name: "bad type", query: "type=donation", wantErr: true},
		{name: "bad limit", query: "limit=-1", wantErr: true},
		{name: "bad order", query: "order=sideways", wantErr: true},
		{name: "bad since", query: "since=yesterday", wantErr: true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			values, err := url.ParseQuery(tc.query)
			if err != nil {
				t.Fatalf("parse query: %v", err)
			}
			f, err := ParseFilters(values)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseFilters: %v", err)
			}
			if !equalStrings(f.Platforms, tc.platforms) {
				t.Fatalf("platforms = %v, want %v", f.Platforms, tc.platforms)
			}
			if !equalStrings(f.Types, tc.types) {
				t.Fatalf("types = %v, want %v", f.Types, tc.types)
			}
			if !equalStrings(f.Usernames, tc.usernames) {
				t.Fatalf("usernames = %v, want %v", f.Usernames, tc.usernames)
			}
			if f.Limit != tc.limit || f.Order != tc.order {
				t.Fatalf("limit/order = %d/%s, want %d/%s", f.Limit, f.Order, tc.limit, tc.order)
			}
		})
	}
}

func TestParseSinceForms(t *testing.T) {
	for _, raw := range []string{"2024-05-01T12:00:00Z", "1714564800", "90m"} {
		f, err := ParseFilters(url.Values{"since": {raw}})
		if err != nil {
			t.Fatalf("since=%s: %v", raw, err)
		}
		if f.Since == nil || f.Since.IsZero() {
			t.Fatalf("since=%s not parsed", raw)
		}
	}
}

func TestFiltersMatches(t *testing.T) {
	since := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	f := Filters{
		Platforms: []string{"twitch"},
		Types:     []string{"chat"},
		Usernames: []string{"ali"},
		Since:     &since,
	}
	ev := core.Event{
		Platform:  core.PlatformTwitch,
		Type:      core.TypeChat,
		Actor:     core.Actor{Username: "someone", DisplayName: "Alice"},
		Timestamp: since.Add(time.Minute),
	}
	if !f.Matches(ev) {
		t.Fatalf("expected display name match")
	}

	other := ev
	other.Platform = core.PlatformYouTube
	if f.Matches(other) {
		t.Fatalf("platform filter ignored")
	}
	other = ev
	other.Type = core.TypeBits
	if f.Matches(other) {
		t.Fatalf("type filter ignored")
	}
	other = ev
	other.Timestamp = since.Add(-time.Second)
	if f.Matches(other) {
		t.Fatalf("since filter ignored")
	}
	if !(Filters{}).MatchesPlatform(core.PlatformTikTok) {
		t.Fatalf("empty filters should match every platform")
	}
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
