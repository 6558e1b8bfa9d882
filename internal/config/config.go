// Package config loads harvester settings from GNASTY_* environment variables,
// optionally seeded from a .env file, with fallbacks to the legacy names.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	EnvFile     string
	Sinks       []string
	Sink        SinkConfig
	Twitch      TwitchConfig
	YouTube     YouTubeConfig
	TikTok      TikTokConfig
	Engine      EngineConfig
	Credentials CredentialsConfig
	Assets      AssetsConfig
	HTTP        HTTPConfig
	Log         LogConfig
	Telemetry   TelemetryConfig
}

type SinkConfig struct {
	SQLite     SQLiteConfig
	BatchSize  int
	FlushMaxMS int
}

type SQLiteConfig struct {
	Path string
}

type TwitchConfig struct {
	Enabled           bool
	Channels          []string
	Nick              string
	Token             string
	TokenFile         string
	ClientID          string
	ClientSecret      string
	RefreshToken      string
	RefreshTokenFile  string
	TLS               bool
	LegacyChannelEnv  string
	LegacyTokenEnv    string
	LegacyClientIDEnv string
}

type YouTubeConfig struct {
	Enabled bool
	// StreamID is a video id or a watch/live URL.
	StreamID         string
	PollIntervalMS   int
	ViewerEvery      int
	ClientID         string
	ClientSecret     string
	Token            string
	TokenFile        string
	RefreshToken     string
	RefreshTokenFile string
}

type TikTokConfig struct {
	Enabled  bool
	RelayURL string
	Channel  string
}

type EngineConfig struct {
	RingSize        int
	DedupCapacity   int
	GiftTTLSecs     int
	StackIdleMS     int
	ReconnectBaseMS int
	ReconnectMaxMS  int
	DebounceMS      int
	SweepMS         int
	Trace           bool
	TraceCapacity   int
}

type CredentialsConfig struct {
	Store       string
	Dir         string
	SQLitePath  string
	AutoRefresh bool
	WatchFiles  bool
}

type AssetsConfig struct {
	SeedPath  string
	QueueSize int
}

type HTTPConfig struct {
	Addr         string
	CORSOrigins  []string
	RateRPS      int
	RateBurst    int
	Metrics      bool
	AccessLog    bool
	Pprof        bool
	AdminEnabled bool
	AdminToken   string
}

type LogConfig struct {
	Level  string
	Format string
}

type TelemetryConfig struct {
	OTLPEndpoint string
	ServiceName  string
}

const (
	defaultEnvFile         = ".env"
	defaultSQLitePath      = "events.db"
	defaultCredentialsDB   = "credentials.db"
	defaultBatchSize       = 1
	defaultFlushMS         = 0
	defaultYTPollMS        = 10000
	defaultYTViewerEvery   = 6
	defaultRingSize        = 100
	defaultDedupCapacity   = 1000
	defaultGiftTTLSecs     = 300
	defaultStackIdleMS     = 5000
	defaultReconnectBaseMS = 5000
	defaultReconnectMaxMS  = 60000
	defaultDebounceMS      = 2000
	defaultSweepMS         = 1000
	defaultTraceCapacity   = 4096
	defaultRateRPS         = 20
	defaultRateBurst       = 40
	defaultServiceName     = "gnasty-harvester"

	StoreFile   = "file"
	StoreSQLite = "sqlite"
)

// Load reads the environment. Variables from the .env file named by
// GNASTY_ENV_FILE (default ".env") fill in anything not already set.
func Load() Config {
	cfg := Config{EnvFile: loadEnvFile()}

	sinksEnv := strings.TrimSpace(os.Getenv("GNASTY_SINKS"))
	receiversEnv := strings.TrimSpace(os.Getenv("GNASTY_RECEIVERS"))
	raw := sinksEnv
	if raw == "" {
		raw = receiversEnv
	}
	if raw == "" {
		raw = "sqlite"
	}
	cfg.Sinks = splitList(raw)
	if len(cfg.Sinks) == 1 && strings.EqualFold(cfg.Sinks[0], "none") {
		cfg.Sinks = nil
	}

	cfg.Sink.SQLite.Path = firstEnv("GNASTY_SINK_SQLITE_PATH")
	if cfg.Sink.SQLite.Path == "" {
		cfg.Sink.SQLite.Path = defaultSQLitePath
	}
	cfg.Sink.BatchSize = readInt("GNASTY_SINK_BATCH_SIZE", defaultBatchSize)
	cfg.Sink.FlushMaxMS = readInt("GNASTY_SINK_FLUSH_MAX_MS", defaultFlushMS)

	loadTwitch(&cfg.Twitch)
	loadYouTube(&cfg.YouTube)

	cfg.TikTok.RelayURL = firstEnv("GNASTY_TIKTOK_RELAY_URL", "TIKTOK_RELAY_URL")
	cfg.TikTok.Channel = strings.TrimPrefix(firstEnv("GNASTY_TIKTOK_CHANNEL", "TIKTOK_CHANNEL"), "@")
	cfg.TikTok.Enabled = readBool("GNASTY_TIKTOK_ENABLED", cfg.TikTok.RelayURL != "")

	cfg.Engine = EngineConfig{
		RingSize:        readInt("GNASTY_RING_SIZE", defaultRingSize),
		DedupCapacity:   readInt("GNASTY_DEDUP_CAPACITY", defaultDedupCapacity),
		GiftTTLSecs:     readInt("GNASTY_GIFT_TTL_SECS", defaultGiftTTLSecs),
		StackIdleMS:     readInt("GNASTY_STACK_IDLE_MS", defaultStackIdleMS),
		ReconnectBaseMS: readInt("GNASTY_RECONNECT_BASE_MS", defaultReconnectBaseMS),
		ReconnectMaxMS:  readInt("GNASTY_RECONNECT_MAX_MS", defaultReconnectMaxMS),
		DebounceMS:      readInt("GNASTY_DEBOUNCE_MS", defaultDebounceMS),
		SweepMS:         readInt("GNASTY_SWEEP_MS", defaultSweepMS),
		Trace:           readBool("GNASTY_TRACE", false),
		TraceCapacity:   readInt("GNASTY_TRACE_CAPACITY", defaultTraceCapacity),
	}
	if cfg.Engine.ReconnectMaxMS < cfg.Engine.ReconnectBaseMS {
		cfg.Engine.ReconnectMaxMS = cfg.Engine.ReconnectBaseMS
	}

	cfg.Credentials = CredentialsConfig{
		Store:       strings.ToLower(firstEnv("GNASTY_CREDENTIALS_STORE")),
		Dir:         firstEnv("GNASTY_CREDENTIALS_DIR"),
		SQLitePath:  firstEnv("GNASTY_CREDENTIALS_SQLITE_PATH"),
		AutoRefresh: readBool("GNASTY_CREDENTIALS_AUTO_REFRESH", true),
		WatchFiles:  readBool("GNASTY_CREDENTIALS_WATCH", true),
	}
	if cfg.Credentials.Store == "" {
		cfg.Credentials.Store = StoreFile
	}
	if cfg.Credentials.SQLitePath == "" {
		cfg.Credentials.SQLitePath = defaultCredentialsDB
	}

	cfg.Assets = AssetsConfig{
		SeedPath:  firstEnv("GNASTY_ASSETS_SEED"),
		QueueSize: readInt("GNASTY_ASSETS_QUEUE", 0),
	}

	cfg.HTTP = HTTPConfig{
		Addr:         firstEnv("GNASTY_HTTP_ADDR"),
		CORSOrigins:  splitOrdered(os.Getenv("GNASTY_HTTP_CORS_ORIGINS")),
		RateRPS:      readInt("GNASTY_HTTP_RATE_RPS", defaultRateRPS),
		RateBurst:    readInt("GNASTY_HTTP_RATE_BURST", defaultRateBurst),
		Metrics:      readBool("GNASTY_HTTP_METRICS", true),
		AccessLog:    readBool("GNASTY_HTTP_ACCESS_LOG", true),
		Pprof:        readBool("GNASTY_HTTP_PPROF", false),
		AdminEnabled: readBool("GNASTY_ADMIN_ENABLED", true),
		AdminToken:   firstEnv("GNASTY_ADMIN_TOKEN"),
	}

	cfg.Log = LogConfig{
		Level:  strings.ToLower(firstEnv("GNASTY_LOG_LEVEL")),
		Format: strings.ToLower(firstEnv("GNASTY_LOG_FORMAT")),
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}

	cfg.Telemetry = TelemetryConfig{
		OTLPEndpoint: firstEnv("GNASTY_OTLP_ENDPOINT", "OTEL_EXPORTER_OTLP_ENDPOINT"),
		ServiceName:  firstEnv("GNASTY_SERVICE_NAME", "OTEL_SERVICE_NAME"),
	}
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = defaultServiceName
	}

	return cfg
}

func loadTwitch(tw *TwitchConfig) {
	channels := splitList(os.Getenv("GNASTY_TWITCH_CHANNELS"))
	if len(channels) == 0 {
		legacy := strings.TrimSpace(os.Getenv("TWITCH_CHANNEL"))
		if legacy != "" {
			tw.LegacyChannelEnv = "TWITCH_CHANNEL"
			channels = []string{legacy}
		}
	}
	for i, ch := range channels {
		channels[i] = strings.TrimPrefix(ch, "#")
	}
	tw.Channels = dedupe(channels)
	tw.Nick = firstEnv("GNASTY_TWITCH_NICK", "TWITCH_NICK")

	tw.Token = firstEnv("GNASTY_TWITCH_TOKEN")
	if tw.Token == "" {
		tw.Token = firstEnv("TWITCH_TOKEN")
		if tw.Token != "" {
			tw.LegacyTokenEnv = "TWITCH_TOKEN"
		}
	}
	tw.TokenFile = firstEnv("GNASTY_TWITCH_TOKEN_FILE", "TWITCH_TOKEN_FILE")
	tw.ClientID = firstEnv("GNASTY_TWITCH_CLIENT_ID")
	if tw.ClientID == "" {
		tw.ClientID = firstEnv("TWITCH_CLIENT_ID")
		if tw.ClientID != "" {
			tw.LegacyClientIDEnv = "TWITCH_CLIENT_ID"
		}
	}
	tw.ClientSecret = firstEnv("GNASTY_TWITCH_CLIENT_SECRET", "TWITCH_CLIENT_SECRET")
	tw.RefreshToken = firstEnv("GNASTY_TWITCH_REFRESH_TOKEN", "TWITCH_REFRESH_TOKEN")
	tw.RefreshTokenFile = firstEnv("GNASTY_TWITCH_REFRESH_TOKEN_FILE", "TWITCH_REFRESH_TOKEN_FILE")
	tw.TLS = readBool("GNASTY_TWITCH_TLS", true)
	if firstEnv("GNASTY_TWITCH_TLS") == "" {
		tw.TLS = readBool("TWITCH_TLS", tw.TLS)
	}
	tw.Enabled = readBool("GNASTY_TWITCH_ENABLED", false) || len(tw.Channels) > 0
}

func loadYouTube(yt *YouTubeConfig) {
	yt.StreamID = firstEnv("GNASTY_YT_STREAM_ID", "GNASTY_YT_URL", "YOUTUBE_URL")
	yt.PollIntervalMS = readNonNegativeInt("GNASTY_YT_POLL_INTERVAL_MS", defaultYTPollMS)
	yt.ViewerEvery = readInt("GNASTY_YT_VIEWER_EVERY", defaultYTViewerEvery)
	if !readBool("GNASTY_YT_VIEWERS", true) {
		yt.ViewerEvery = -1
	}
	yt.ClientID = firstEnv("GNASTY_YT_CLIENT_ID", "YOUTUBE_CLIENT_ID")
	yt.ClientSecret = firstEnv("GNASTY_YT_CLIENT_SECRET", "YOUTUBE_CLIENT_SECRET")
	yt.Token = firstEnv("GNASTY_YT_TOKEN")
	yt.TokenFile = firstEnv("GNASTY_YT_TOKEN_FILE")
	yt.RefreshToken = firstEnv("GNASTY_YT_REFRESH_TOKEN")
	yt.RefreshTokenFile = firstEnv("GNASTY_YT_REFRESH_TOKEN_FILE")
	yt.Enabled = readBool("GNASTY_YT_ENABLED", yt.StreamID != "")
}

// loadEnvFile applies the .env file and returns its path when one was read.
// A missing default file is not an error; a missing explicit one is logged.
func loadEnvFile() string {
	path := strings.TrimSpace(os.Getenv("GNASTY_ENV_FILE"))
	explicit := path != ""
	if !explicit {
		path = defaultEnvFile
	}
	if strings.EqualFold(path, "none") {
		return ""
	}
	if err := godotenv.Load(path); err != nil {
		if explicit || !errors.Is(err, fs.ErrNotExist) {
			slog.Warn("config: env file not loaded", "path", path, "err", err)
		}
		return ""
	}
	return path
}

// Validate reports settings that cannot work together.
func (c Config) Validate() error {
	var problems []string
	switch c.Credentials.Store {
	case StoreFile, StoreSQLite:
	default:
		problems = append(problems, fmt.Sprintf("credentials store %q (want file or sqlite)", c.Credentials.Store))
	}
	if c.TikTok.Enabled && c.TikTok.RelayURL == "" {
		problems = append(problems, "tiktok enabled without GNASTY_TIKTOK_RELAY_URL")
	}
	if c.TikTok.RelayURL != "" && !strings.HasPrefix(c.TikTok.RelayURL, "ws://") && !strings.HasPrefix(c.TikTok.RelayURL, "wss://") {
		problems = append(problems, "tiktok relay url must use ws:// or wss://")
	}
	if c.YouTube.Enabled && c.YouTube.StreamID == "" {
		problems = append(problems, "youtube enabled without GNASTY_YT_STREAM_ID")
	}
	if len(problems) == 0 {
		return nil
	}
	return errors.New("config: " + strings.Join(problems, "; "))
}

func firstEnv(names ...string) string {
	for _, name := range names {
		if v := strings.TrimSpace(os.Getenv(name)); v != "" {
			return v
		}
	}
	return ""
}

func splitList(raw string) []string {
	return dedupe(splitOrdered(raw))
}

func splitOrdered(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	parts := strings.FieldsFunc(raw, func(r rune) bool {
		switch r {
		case ',', ';', ' ', '\t', '\n':
			return true
		}
		return false
	})
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}

func dedupe(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		key := strings.ToLower(strings.TrimSpace(v))
		if key == "" {
			continue
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, strings.TrimSpace(v))
	}
	sort.Strings(out)
	return out
}

func readInt(name string, def int) int {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	if n <= 0 {
		return def
	}
	return n
}

// readNonNegativeInt accepts 0 (and "false") as an explicit zero.
func readNonNegativeInt(name string, def int) int {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return def
	}
	if b, err := strconv.ParseBool(raw); err == nil && !b {
		return 0
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return def
	}
	return n
}

func readBool(name string, def bool) bool {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return def
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return def
	}
	return v
}

func (c Config) HasSink(name string) bool {
	name = strings.ToLower(strings.TrimSpace(name))
	for _, s := range c.Sinks {
		if strings.ToLower(strings.TrimSpace(s)) == name {
			return true
		}
	}
	return false
}

func (c Config) FlushInterval() time.Duration {
	if c.Sink.FlushMaxMS <= 0 {
		return 0
	}
	return time.Duration(c.Sink.FlushMaxMS) * time.Millisecond
}

func (c Config) Batch() int {
	if c.Sink.BatchSize <= 0 {
		return defaultBatchSize
	}
	return c.Sink.BatchSize
}

// TwitchChannel is the channel the IRC connector joins. Only one is joined per
// session; extra entries are reported at startup.
func (c Config) TwitchChannel() string {
	if len(c.Twitch.Channels) == 0 {
		return ""
	}
	return c.Twitch.Channels[0]
}

func (c TwitchConfig) RefreshEnabled() bool {
	return c.ClientID != "" && c.ClientSecret != "" && (c.RefreshToken != "" || c.RefreshTokenFile != "")
}

func (c YouTubeConfig) RefreshEnabled() bool {
	return c.ClientID != "" && c.ClientSecret != "" && (c.RefreshToken != "" || c.RefreshTokenFile != "")
}

func (c YouTubeConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalMS) * time.Millisecond
}

func (e EngineConfig) GiftTTL() time.Duration {
	return time.Duration(e.GiftTTLSecs) * time.Second
}

func (e EngineConfig) StackIdle() time.Duration {
	return time.Duration(e.StackIdleMS) * time.Millisecond
}

func (e EngineConfig) ReconnectBase() time.Duration {
	return time.Duration(e.ReconnectBaseMS) * time.Millisecond
}

func (e EngineConfig) ReconnectMax() time.Duration {
	return time.Duration(e.ReconnectMaxMS) * time.Millisecond
}

func (e EngineConfig) Debounce() time.Duration {
	return time.Duration(e.DebounceMS) * time.Millisecond
}

func (e EngineConfig) SweepInterval() time.Duration {
	return time.Duration(e.SweepMS) * time.Millisecond
}

// SlogLevel maps the configured level name; unknown names fall back to info.
func (l LogConfig) SlogLevel() slog.Level {
	switch l.Level {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func (c Config) Summary() Summary {
	return Summary{
		Sinks:      append([]string(nil), c.Sinks...),
		SQLitePath: c.Sink.SQLite.Path,
		BatchSize:  c.Sink.BatchSize,
		FlushMaxMS: c.Sink.FlushMaxMS,
		Twitch: TwitchSummary{
			Enabled:          c.Twitch.Enabled,
			Channels:         len(c.Twitch.Channels),
			Nick:             c.Twitch.Nick,
			Token:            redactString(c.Twitch.Token),
			TokenFile:        c.Twitch.TokenFile,
			ClientID:         redactString(c.Twitch.ClientID),
			ClientSecret:     redactString(c.Twitch.ClientSecret),
			RefreshToken:     redactString(c.Twitch.RefreshToken),
			RefreshTokenFile: c.Twitch.RefreshTokenFile,
			RefreshEnabled:   c.Twitch.RefreshEnabled(),
		},
		YouTube: YouTubeSummary{
			Enabled:        c.YouTube.Enabled,
			StreamID:       c.YouTube.StreamID,
			PollIntervalMS: c.YouTube.PollIntervalMS,
			RefreshEnabled: c.YouTube.RefreshEnabled(),
		},
		TikTok: TikTokSummary{
			Enabled:  c.TikTok.Enabled,
			RelayURL: c.TikTok.RelayURL,
		},
		CredentialStore: c.Credentials.Store,
		HTTPAddr:        c.HTTP.Addr,
		Trace:           c.Engine.Trace,
	}
}

type Summary struct {
	Sinks           []string       `json:"sinks"`
	SQLitePath      string         `json:"sqlite_path"`
	BatchSize       int            `json:"batch"`
	FlushMaxMS      int            `json:"flush_ms"`
	Twitch          TwitchSummary  `json:"twitch"`
	YouTube         YouTubeSummary `json:"yt"`
	TikTok          TikTokSummary  `json:"tiktok"`
	CredentialStore string         `json:"credential_store"`
	HTTPAddr        string         `json:"http_addr,omitempty"`
	Trace           bool           `json:"trace"`
}

type TwitchSummary struct {
	Enabled          bool   `json:"enabled"`
	Channels         int    `json:"channels"`
	Nick             string `json:"nick,omitempty"`
	Token            string `json:"token,omitempty"`
	TokenFile        string `json:"token_file,omitempty"`
	ClientID         string `json:"client_id,omitempty"`
	ClientSecret     string `json:"client_secret,omitempty"`
	RefreshToken     string `json:"refresh_token,omitempty"`
	RefreshTokenFile string `json:"refresh_token_file,omitempty"`
	RefreshEnabled   bool   `json:"refresh_enabled"`
}

type YouTubeSummary struct {
	Enabled        bool   `json:"enabled"`
	StreamID       string `json:"stream_id,omitempty"`
	PollIntervalMS int    `json:"poll_interval_ms"`
	RefreshEnabled bool   `json:"refresh_enabled"`
}

type TikTokSummary struct {
	Enabled  bool   `json:"enabled"`
	RelayURL string `json:"relay_url,omitempty"`
}

func (c Config) Redacted() map[string]any {
	return map[string]any{
		"env_file": c.EnvFile,
		"sinks":    append([]string(nil), c.Sinks...),
		"sink": map[string]any{
			"sqlite_path": c.Sink.SQLite.Path,
			"batch_size":  c.Sink.BatchSize,
			"flush_ms":    c.Sink.FlushMaxMS,
		},
		"twitch": map[string]any{
			"enabled":            c.Twitch.Enabled,
			"channels":           append([]string(nil), c.Twitch.Channels...),
			"nick":               c.Twitch.Nick,
			"token":              redactString(c.Twitch.Token),
			"token_file":         c.Twitch.TokenFile,
			"client_id":          redactString(c.Twitch.ClientID),
			"client_secret":      redactString(c.Twitch.ClientSecret),
			"refresh_token":      redactString(c.Twitch.RefreshToken),
			"refresh_token_file": c.Twitch.RefreshTokenFile,
			"tls":                c.Twitch.TLS,
			"refresh_enabled":    c.Twitch.RefreshEnabled(),
		},
		"youtube": map[string]any{
			"enabled":            c.YouTube.Enabled,
			"stream_id":          c.YouTube.StreamID,
			"poll_interval_ms":   c.YouTube.PollIntervalMS,
			"viewer_every":       c.YouTube.ViewerEvery,
			"client_id":          redactString(c.YouTube.ClientID),
			"client_secret":      redactString(c.YouTube.ClientSecret),
			"token":              redactString(c.YouTube.Token),
			"token_file":         c.YouTube.TokenFile,
			"refresh_token":      redactString(c.YouTube.RefreshToken),
			"refresh_token_file": c.YouTube.RefreshTokenFile,
			"refresh_enabled":    c.YouTube.RefreshEnabled(),
		},
		"tiktok": map[string]any{
			"enabled":   c.TikTok.Enabled,
			"relay_url": c.TikTok.RelayURL,
			"channel":   c.TikTok.Channel,
		},
		"engine": map[string]any{
			"ring_size":         c.Engine.RingSize,
			"dedup_capacity":    c.Engine.DedupCapacity,
			"gift_ttl_secs":     c.Engine.GiftTTLSecs,
			"stack_idle_ms":     c.Engine.StackIdleMS,
			"reconnect_base_ms": c.Engine.ReconnectBaseMS,
			"reconnect_max_ms":  c.Engine.ReconnectMaxMS,
			"debounce_ms":       c.Engine.DebounceMS,
			"sweep_ms":          c.Engine.SweepMS,
			"trace":             c.Engine.Trace,
		},
		"credentials": map[string]any{
			"store":        c.Credentials.Store,
			"dir":          c.Credentials.Dir,
			"sqlite_path":  c.Credentials.SQLitePath,
			"auto_refresh": c.Credentials.AutoRefresh,
			"watch_files":  c.Credentials.WatchFiles,
		},
		"http": map[string]any{
			"addr":          c.HTTP.Addr,
			"cors_origins":  append([]string(nil), c.HTTP.CORSOrigins...),
			"rate_rps":      c.HTTP.RateRPS,
			"rate_burst":    c.HTTP.RateBurst,
			"metrics":       c.HTTP.Metrics,
			"access_log":    c.HTTP.AccessLog,
			"pprof":         c.HTTP.Pprof,
			"admin_enabled": c.HTTP.AdminEnabled,
			"admin_token":   redactString(c.HTTP.AdminToken),
		},
		"log": map[string]any{
			"level":  c.Log.Level,
			"format": c.Log.Format,
		},
		"telemetry": map[string]any{
			"otlp_endpoint": c.Telemetry.OTLPEndpoint,
			"service_name":  c.Telemetry.ServiceName,
		},
	}
}

func (c Config) RedactedJSON() []byte {
	data, _ := json.MarshalIndent(c.Redacted(), "", "  ")
	return data
}

func redactString(value string) string {
	if strings.TrimSpace(value) == "" {
		return ""
	}
	return "***REDACTED*** (len=" + strconv.Itoa(len(value)) + ")"
}

func (c Config) SummaryJSON() []byte {
	summary := struct {
		Config Summary `json:"config_summary"`
	}{Config: c.Summary()}
	data, _ := json.Marshal(summary)
	return data
}
