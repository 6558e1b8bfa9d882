package config

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func clearEnv(t *testing.T) {
	t.Helper()
	t.Setenv("GNASTY_ENV_FILE", "none")
	for _, kv := range os.Environ() {
		name, _, _ := strings.Cut(kv, "=")
		if strings.HasPrefix(name, "GNASTY_") || strings.HasPrefix(name, "TWITCH_") ||
			strings.HasPrefix(name, "YOUTUBE_") || strings.HasPrefix(name, "TIKTOK_") {
			if name != "GNASTY_ENV_FILE" {
				t.Setenv(name, "")
			}
		}
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)

	cfg := Load()
	if !cfg.HasSink("sqlite") {
		t.Fatalf("expected sqlite sink by default, got %v", cfg.Sinks)
	}
	if cfg.Sink.SQLite.Path != "events.db" {
		t.Fatalf("unexpected sqlite path: %q", cfg.Sink.SQLite.Path)
	}
	if cfg.Batch() != 1 {
		t.Fatalf("expected default batch size 1, got %d", cfg.Batch())
	}
	if cfg.FlushInterval() != 0 {
		t.Fatalf("expected zero flush interval, got %s", cfg.FlushInterval())
	}
	if cfg.Twitch.Enabled || cfg.YouTube.Enabled || cfg.TikTok.Enabled {
		t.Fatalf("no platform should be enabled by default: %+v", cfg.Summary())
	}
	if !cfg.Twitch.TLS {
		t.Fatalf("expected twitch TLS on by default")
	}
	if cfg.YouTube.PollInterval() != 10*time.Second || cfg.YouTube.ViewerEvery != 6 {
		t.Fatalf("youtube defaults = %+v", cfg.YouTube)
	}
	if cfg.Engine.StackIdle() != 5*time.Second || cfg.Engine.GiftTTL() != 5*time.Minute {
		t.Fatalf("engine defaults = %+v", cfg.Engine)
	}
	if cfg.Engine.ReconnectBase() != 5*time.Second || cfg.Engine.ReconnectMax() != time.Minute || cfg.Engine.Debounce() != 2*time.Second {
		t.Fatalf("reconnect defaults = %+v", cfg.Engine)
	}
	if cfg.Credentials.Store != StoreFile || !cfg.Credentials.AutoRefresh || !cfg.Credentials.WatchFiles {
		t.Fatalf("credentials defaults = %+v", cfg.Credentials)
	}
	if cfg.Log.SlogLevel() != slog.LevelInfo {
		t.Fatalf("log level = %v", cfg.Log.SlogLevel())
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("GNASTY_SINKS", "sqlite")
	t.Setenv("GNASTY_SINK_SQLITE_PATH", "/data/elora.db")
	t.Setenv("GNASTY_SINK_BATCH_SIZE", "25")
	t.Setenv("GNASTY_SINK_FLUSH_MAX_MS", "250")
	t.Setenv("GNASTY_TWITCH_CHANNELS", "#elora, gnasty")
	t.Setenv("GNASTY_TWITCH_NICK", "elora_bot")
	t.Setenv("GNASTY_TWITCH_TOKEN", "oauth:abc")
	t.Setenv("GNASTY_TWITCH_CLIENT_SECRET", "secret")
	t.Setenv("GNASTY_TWITCH_TLS", "false")
	t.Setenv("GNASTY_YT_URL", "https://example.test/watch?v=abc123")
	t.Setenv("GNASTY_YT_POLL_INTERVAL_MS", "1500")
	t.Setenv("GNASTY_YT_VIEWERS", "false")
	t.Setenv("GNASTY_TIKTOK_RELAY_URL", "wss://relay.example/ws")
	t.Setenv("GNASTY_TIKTOK_CHANNEL", "@elora")
	t.Setenv("GNASTY_STACK_IDLE_MS", "3000")
	t.Setenv("GNASTY_RECONNECT_BASE_MS", "90000")
	t.Setenv("GNASTY_CREDENTIALS_STORE", "SQLite")
	t.Setenv("GNASTY_HTTP_CORS_ORIGINS", "https://b.example,https://a.example")
	t.Setenv("GNASTY_LOG_LEVEL", "DEBUG")
	t.Setenv("GNASTY_TRACE", "true")

	cfg := Load()
	if cfg.Sink.SQLite.Path != "/data/elora.db" {
		t.Fatalf("unexpected sqlite path: %q", cfg.Sink.SQLite.Path)
	}
	if cfg.Batch() != 25 {
		t.Fatalf("batch size mismatch: %d", cfg.Batch())
	}
	if cfg.FlushInterval() != 250*time.Millisecond {
		t.Fatalf("flush interval mismatch: %s", cfg.FlushInterval())
	}
	if !cfg.Twitch.Enabled {
		t.Fatalf("expected twitch enabled")
	}
	if len(cfg.Twitch.Channels) != 2 || cfg.TwitchChannel() != "elora" {
		t.Fatalf("expected two twitch channels with # stripped, got %v", cfg.Twitch.Channels)
	}
	if cfg.Twitch.Nick != "elora_bot" || cfg.Twitch.Token != "oauth:abc" || cfg.Twitch.ClientSecret != "secret" {
		t.Fatalf("twitch = %+v", cfg.Twitch)
	}
	if cfg.Twitch.TLS {
		t.Fatalf("expected TLS disabled from env override")
	}
	if !cfg.YouTube.Enabled || cfg.YouTube.StreamID == "" {
		t.Fatalf("expected youtube enabled from the legacy url variable")
	}
	if cfg.YouTube.PollIntervalMS != 1500 || cfg.YouTube.ViewerEvery != -1 {
		t.Fatalf("youtube = %+v", cfg.YouTube)
	}
	if !cfg.TikTok.Enabled || cfg.TikTok.Channel != "elora" {
		t.Fatalf("tiktok = %+v", cfg.TikTok)
	}
	if cfg.Engine.StackIdle() != 3*time.Second {
		t.Fatalf("stack idle = %s", cfg.Engine.StackIdle())
	}
	if cfg.Engine.ReconnectMax() != cfg.Engine.ReconnectBase() {
		t.Fatalf("reconnect max should be raised to the base, got %s < %s", cfg.Engine.ReconnectMax(), cfg.Engine.ReconnectBase())
	}
	if cfg.Credentials.Store != StoreSQLite {
		t.Fatalf("credentials store = %q", cfg.Credentials.Store)
	}
	if len(cfg.HTTP.CORSOrigins) != 2 || cfg.HTTP.CORSOrigins[0] != "https://b.example" {
		t.Fatalf("cors origins should keep their order: %v", cfg.HTTP.CORSOrigins)
	}
	if cfg.Log.SlogLevel() != slog.LevelDebug || !cfg.Engine.Trace {
		t.Fatalf("log/trace = %+v %v", cfg.Log, cfg.Engine.Trace)
	}
}

func TestLegacyTwitchEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("TWITCH_CHANNEL", "oldchan")
	t.Setenv("TWITCH_TOKEN", "legacy")
	t.Setenv("TWITCH_CLIENT_ID", "cid")
	t.Setenv("TWITCH_TLS", "false")

	cfg := Load()
	if cfg.TwitchChannel() != "oldchan" || cfg.Twitch.LegacyChannelEnv != "TWITCH_CHANNEL" {
		t.Fatalf("legacy channel = %+v", cfg.Twitch)
	}
	if cfg.Twitch.Token != "legacy" || cfg.Twitch.LegacyTokenEnv != "TWITCH_TOKEN" {
		t.Fatalf("legacy token = %+v", cfg.Twitch)
	}
	if cfg.Twitch.ClientID != "cid" || cfg.Twitch.LegacyClientIDEnv != "TWITCH_CLIENT_ID" {
		t.Fatalf("legacy client id = %+v", cfg.Twitch)
	}
	if cfg.Twitch.TLS {
		t.Fatalf("legacy TLS flag ignored")
	}
}

func TestLoadEnvFile(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "harvester.env")
	content := "GNASTY_TIKTOK_RELAY_URL=ws://127.0.0.1:9000/relay\nGNASTY_SINK_SQLITE_PATH=/from/file.db\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write env file: %v", err)
	}
	t.Setenv("GNASTY_ENV_FILE", path)
	// Already-set variables win over the file.
	t.Setenv("GNASTY_SINK_SQLITE_PATH", "/from/env.db")
	// godotenv sets process variables directly; make sure they are removed afterwards.
	t.Cleanup(func() { os.Unsetenv("GNASTY_TIKTOK_RELAY_URL") })
	os.Unsetenv("GNASTY_TIKTOK_RELAY_URL")

	cfg := Load()
	if cfg.EnvFile != path {
		t.Fatalf("env file = %q, want %q", cfg.EnvFile, path)
	}
	if cfg.TikTok.RelayURL != "ws://127.0.0.1:9000/relay" || !cfg.TikTok.Enabled {
		t.Fatalf("tiktok from env file = %+v", cfg.TikTok)
	}
	if cfg.Sink.SQLite.Path != "/from/env.db" {
		t.Fatalf("environment should win over the file, got %q", cfg.Sink.SQLite.Path)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "ok", mutate: func(*Config) {}},
		{name: "bad store", mutate: func(c *Config) { c.Credentials.Store = "vault" }, wantErr: "credentials store"},
		{name: "tiktok without relay", mutate: func(c *Config) { c.TikTok.Enabled = true }, wantErr: "GNASTY_TIKTOK_RELAY_URL"},
		{name: "tiktok http url", mutate: func(c *Config) { c.TikTok.Enabled, c.TikTok.RelayURL = true, "http://relay" }, wantErr: "ws://"},
		{name: "youtube without stream", mutate: func(c *Config) { c.YouTube.Enabled = true }, wantErr: "GNASTY_YT_STREAM_ID"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Config{Credentials: CredentialsConfig{Store: StoreFile}}
			tc.mutate(&cfg)
			err := cfg.Validate()
			if tc.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
				t.Fatalf("error = %v, want it to mention %q", err, tc.wantErr)
			}
		})
	}
}

func TestRedactedSnapshot(t *testing.T) {
	cfg := Config{
		Sinks: []string{"sqlite"},
		Sink: SinkConfig{
			SQLite:     SQLiteConfig{Path: "/data/elora.db"},
			BatchSize:  10,
			FlushMaxMS: 500,
		},
		Twitch: TwitchConfig{
			Enabled:          true,
			Channels:         []string{"elora"},
			Nick:             "elora_bot",
			Token:            "oauth:secret",
			ClientID:         "abcd",
			ClientSecret:     "shh",
			RefreshToken:     "refresh",
			RefreshTokenFile: "/secrets/refresh",
		},
		YouTube: YouTubeConfig{Enabled: true, StreamID: "abc123", PollIntervalMS: 7500, ClientSecret: "ytsecret"},
		HTTP:    HTTPConfig{AdminToken: "letmein"},
	}

	summary := cfg.Summary()
	if summary.Twitch.Token != "***REDACTED*** (len=12)" {
		t.Fatalf("expected redacted token, got %q", summary.Twitch.Token)
	}
	if !summary.Twitch.RefreshEnabled {
		t.Fatalf("expected refresh enabled to be true")
	}
	redacted := cfg.Redacted()
	twitchRaw := redacted["twitch"].(map[string]any)
	if twitchRaw["client_secret"].(string) != "***REDACTED*** (len=3)" {
		t.Fatalf("unexpected redacted client secret: %v", twitchRaw["client_secret"])
	}
	if twitchRaw["refresh_token"].(string) != "***REDACTED*** (len=7)" {
		t.Fatalf("unexpected redacted refresh token: %v", twitchRaw["refresh_token"])
	}
	if redacted["sink"].(map[string]any)["sqlite_path"].(string) != "/data/elora.db" {
		t.Fatalf("expected sqlite path preserved in redacted snapshot")
	}
	youtubeRaw := redacted["youtube"].(map[string]any)
	if youtubeRaw["poll_interval_ms"].(int) != 7500 || youtubeRaw["stream_id"].(string) != "abc123" {
		t.Fatalf("youtube snapshot = %v", youtubeRaw)
	}
	if youtubeRaw["client_secret"].(string) != "***REDACTED*** (len=8)" {
		t.Fatalf("youtube secret not redacted: %v", youtubeRaw["client_secret"])
	}

	data := cfg.RedactedJSON()
	for _, secret := range []string{"oauth:secret", "shh", "ytsecret", "letmein"} {
		if strings.Contains(string(data), `"`+secret+`"`) {
			t.Fatalf("redacted JSON leaks %q:\n%s", secret, data)
		}
	}

	var wrapped map[string]json.RawMessage
	if err := json.Unmarshal(cfg.SummaryJSON(), &wrapped); err != nil {
		t.Fatalf("summary json: %v", err)
	}
	if _, ok := wrapped["config_summary"]; !ok {
		t.Fatalf("summary json missing config_summary key: %v", wrapped)
	}
}

func TestTwitchRefreshEnabledDerivation(t *testing.T) {
	cases := []struct {
		name string
		cfg  TwitchConfig
		want bool
	}{
		{name: "missing client credentials", cfg: TwitchConfig{RefreshToken: "refresh"}, want: false},
		{name: "client creds without refresh", cfg: TwitchConfig{ClientID: "id", ClientSecret: "secret"}, want: false},
		{name: "refresh token configured", cfg: TwitchConfig{ClientID: "id", ClientSecret: "secret", RefreshToken: "refresh"}, want: true},
		{name: "refresh file configured", cfg: TwitchConfig{ClientID: "id", ClientSecret: "secret", RefreshTokenFile: "/tmp/refresh"}, want: true},
		{name: "missing secret", cfg: TwitchConfig{ClientID: "id", RefreshTokenFile: "/tmp/refresh"}, want: false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Config{Twitch: tc.cfg}
			summary := cfg.Summary()
			if summary.Twitch.RefreshEnabled != tc.want {
				t.Fatalf("summary refresh enabled mismatch: want %v got %v", tc.want, summary.Twitch.RefreshEnabled)
			}
			twitch := cfg.Redacted()["twitch"].(map[string]any)
			if twitch["refresh_enabled"].(bool) != tc.want {
				t.Fatalf("redacted refresh_enabled mismatch: want %v got %v", tc.want, twitch["refresh_enabled"])
			}
		})
	}
}
