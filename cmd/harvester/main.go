package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/you/gnasty-live/internal/assets"
	"github.com/you/gnasty-live/internal/bus"
	"github.com/you/gnasty-live/internal/config"
	"github.com/you/gnasty-live/internal/core"
	"github.com/you/gnasty-live/internal/correlate"
	"github.com/you/gnasty-live/internal/credentials"
	"github.com/you/gnasty-live/internal/harvester"
	httpadmin "github.com/you/gnasty-live/internal/http"
	"github.com/you/gnasty-live/internal/httpapi"
	"github.com/you/gnasty-live/internal/ingesttrace"
	"github.com/you/gnasty-live/internal/normalize"
	"github.com/you/gnasty-live/internal/reconnect"
	"github.com/you/gnasty-live/internal/sink"
	"github.com/you/gnasty-live/internal/telemetry"
	"github.com/you/gnasty-live/internal/tiktokrelay"
	"github.com/you/gnasty-live/internal/twitchbadges"
	"github.com/you/gnasty-live/internal/twitchirc"
	"github.com/you/gnasty-live/internal/version"
	"github.com/you/gnasty-live/internal/ytlive"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	var (
		versionFlag     bool
		dbPath          string
		twChannel       string
		twNick          string
		twToken         string
		twTokenFile     string
		twClientID      string
		twClientSecret  string
		twRefreshToken  string
		twRefreshFile   string
		twTLS           bool
		ytStream        string
		ttRelayURL      string
		credStore       string
		credDir         string
		httpAddr        string
		httpCorsOrigins string
		httpRateRPS     int
		httpRateBurst   int
		httpMetrics     bool
		httpAccessLog   bool
		httpPprof       bool
		logLevel        string
		traceFlag       bool
	)

	flag.BoolVar(&versionFlag, "version", false, "Print build version and exit")
	flag.StringVar(&dbPath, "sqlite", "events.db", "Path to the SQLite event archive")
	flag.StringVar(&twChannel, "twitch-channel", "", "Twitch channel to join (without #)")
	flag.StringVar(&twNick, "twitch-nick", "", "Twitch nickname to login as")
	flag.StringVar(&twToken, "twitch-token", "", "Twitch OAuth token (format: oauth:xxxxx)")
	flag.StringVar(&twTokenFile, "twitch-token-file", "", "Path to file containing the Twitch OAuth token")
	flag.StringVar(&twClientID, "twitch-client-id", "", "Twitch application client ID")
	flag.StringVar(&twClientSecret, "twitch-client-secret", "", "Twitch application client secret")
	flag.StringVar(&twRefreshToken, "twitch-refresh-token", "", "Twitch OAuth refresh token")
	flag.StringVar(&twRefreshFile, "twitch-refresh-token-file", "", "Path to file containing the Twitch refresh token")
	flag.BoolVar(&twTLS, "twitch-tls", true, "Use TLS (port 6697) for Twitch IRC connection")
	flag.StringVar(&ytStream, "youtube-url", "", "YouTube video id or watch/live URL")
	flag.StringVar(&ttRelayURL, "tiktok-relay-url", "", "TikTok relay WebSocket URL (ws:// or wss://)")
	flag.StringVar(&credStore, "credentials-store", "file", "Credential store: file or sqlite")
	flag.StringVar(&credDir, "credentials-dir", "", "Directory holding <platform>_access.txt / <platform>_refresh.txt")
	flag.StringVar(&httpAddr, "http-addr", "", "HTTP status/stream address (e.g., :8765)")
	flag.StringVar(&httpCorsOrigins, "http-cors-origins", "", "Comma-separated list of allowed CORS origins")
	flag.IntVar(&httpRateRPS, "http-rate-rps", 20, "Maximum HTTP requests per second per client")
	flag.IntVar(&httpRateBurst, "http-rate-burst", 40, "Burst size for HTTP rate limiter")
	flag.BoolVar(&httpMetrics, "http-metrics", true, "Expose Prometheus metrics endpoint")
	flag.BoolVar(&httpAccessLog, "http-access-log", true, "Log HTTP access records")
	flag.BoolVar(&httpPprof, "http-pprof", false, "Expose pprof handlers under /debug/pprof")
	flag.StringVar(&logLevel, "log-level", "info", "Log level: debug, info, warn, error")
	flag.BoolVar(&traceFlag, "trace", false, "Log per-event ingest traces")
	flag.Parse()

	if versionFlag {
		fmt.Printf(
			"harvester version: %s (commit %s, built %s)\n",
			version.Version,
			version.Commit,
			version.BuildTime,
		)
		os.Exit(0)
	}

	overrides := make(map[string]bool)
	flag.Visit(func(f *flag.Flag) {
		overrides[f.Name] = true
	})

	cfg := config.Load()

	if overrides["sqlite"] {
		cfg.Sink.SQLite.Path = strings.TrimSpace(dbPath)
		if !cfg.HasSink("sqlite") {
			cfg.Sinks = append(cfg.Sinks, "sqlite")
		}
	}
	if overrides["twitch-channel"] {
		trimmed := strings.TrimPrefix(strings.TrimSpace(twChannel), "#")
		if trimmed != "" {
			cfg.Twitch.Channels = []string{trimmed}
			cfg.Twitch.Enabled = true
		} else {
			cfg.Twitch.Channels = nil
		}
	}
	if overrides["twitch-nick"] {
		cfg.Twitch.Nick = strings.TrimSpace(twNick)
	}
	if overrides["twitch-token"] {
		cfg.Twitch.Token = strings.TrimSpace(twToken)
	}
	if overrides["twitch-token-file"] {
		cfg.Twitch.TokenFile = strings.TrimSpace(twTokenFile)
	}
	if overrides["twitch-client-id"] {
		cfg.Twitch.ClientID = strings.TrimSpace(twClientID)
	}
	if overrides["twitch-client-secret"] {
		cfg.Twitch.ClientSecret = strings.TrimSpace(twClientSecret)
	}
	if overrides["twitch-refresh-token"] {
		cfg.Twitch.RefreshToken = strings.TrimSpace(twRefreshToken)
	}
	if overrides["twitch-refresh-token-file"] {
		cfg.Twitch.RefreshTokenFile = strings.TrimSpace(twRefreshFile)
	}
	if overrides["twitch-tls"] {
		cfg.Twitch.TLS = twTLS
	}
	if overrides["youtube-url"] {
		cfg.YouTube.StreamID = strings.TrimSpace(ytStream)
		cfg.YouTube.Enabled = cfg.YouTube.StreamID != ""
	}
	if overrides["tiktok-relay-url"] {
		cfg.TikTok.RelayURL = strings.TrimSpace(ttRelayURL)
		cfg.TikTok.Enabled = cfg.TikTok.RelayURL != ""
	}
	if overrides["credentials-store"] {
		cfg.Credentials.Store = strings.ToLower(strings.TrimSpace(credStore))
	}
	if overrides["credentials-dir"] {
		cfg.Credentials.Dir = strings.TrimSpace(credDir)
	}
	if overrides["http-addr"] {
		cfg.HTTP.Addr = strings.TrimSpace(httpAddr)
	}
	if overrides["http-cors-origins"] {
		cfg.HTTP.CORSOrigins = nil
		for _, origin := range strings.Split(httpCorsOrigins, ",") {
			if origin = strings.TrimSpace(origin); origin != "" {
				cfg.HTTP.CORSOrigins = append(cfg.HTTP.CORSOrigins, origin)
			}
		}
	}
	if overrides["http-rate-rps"] {
		cfg.HTTP.RateRPS = httpRateRPS
	}
	if overrides["http-rate-burst"] {
		cfg.HTTP.RateBurst = httpRateBurst
	}
	if overrides["http-metrics"] {
		cfg.HTTP.Metrics = httpMetrics
	}
	if overrides["http-access-log"] {
		cfg.HTTP.AccessLog = httpAccessLog
	}
	if overrides["http-pprof"] {
		cfg.HTTP.Pprof = httpPprof
	}
	if overrides["log-level"] {
		cfg.Log.Level = strings.ToLower(strings.TrimSpace(logLevel))
	}
	if overrides["trace"] {
		cfg.Engine.Trace = traceFlag
	}
	if len(cfg.Twitch.Channels) > 0 {
		cfg.Twitch.Enabled = true
	}

	setupLogging(cfg.Log)

	if err := cfg.Validate(); err != nil {
		log.Fatalf("harvester: %v", err)
	}
	if cfg.EnvFile != "" {
		log.Printf("harvester: loaded environment from %s", cfg.EnvFile)
	}
	if len(cfg.Twitch.Channels) > 1 {
		log.Printf("harvester: twitch: multiple channels configured; using %s", cfg.TwitchChannel())
	}
	log.Printf("%s", cfg.SummaryJSON())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Printf("harvester: received %s, shutting down", sig)
		cancel()
	}()

	shutdownTracing, err := telemetry.InitTracing(cfg.Telemetry.OTLPEndpoint, cfg.Telemetry.ServiceName, version.Version)
	if err != nil {
		log.Printf("harvester: tracing disabled: %v", err)
		shutdownTracing = func() {}
	}
	defer shutdownTracing()

	store, fileStore, closeStore, err := openCredentialStore(cfg)
	if err != nil {
		log.Fatalf("harvester: credentials: %v", err)
	}
	defer closeStore()

	creds := credentials.NewManager(store, credentials.NewOAuth2Refresher(), channelConfigs(cfg))
	creds.Seed(core.PlatformTwitch, credentials.Token{Access: cfg.Twitch.Token, Refresh: cfg.Twitch.RefreshToken})
	creds.Seed(core.PlatformYouTube, credentials.Token{Access: cfg.YouTube.Token, Refresh: cfg.YouTube.RefreshToken})

	cache := assets.NewCache(assets.Config{QueueSize: cfg.Assets.QueueSize})
	if cfg.Assets.SeedPath != "" {
		n, err := cache.LoadSeed(cfg.Assets.SeedPath)
		if err != nil {
			log.Printf("harvester: asset seed: %v", err)
		} else {
			log.Printf("harvester: loaded %d asset references from %s", n, cfg.Assets.SeedPath)
		}
	}
	if cfg.Twitch.ClientID != "" && cfg.Twitch.ClientSecret != "" {
		cache.Register(assets.KindBadge, twitchbadges.NewResolver(cfg.Twitch.ClientID, cfg.Twitch.ClientSecret, cfg.TwitchChannel()))
		log.Printf("harvester: twitch badge resolver enabled")
	}
	go cache.Run(ctx)

	metrics := harvester.NewMetrics()
	var tracker *ingesttrace.Tracker
	if cfg.Engine.Trace {
		tracker = ingesttrace.NewTracker(cfg.Engine.TraceCapacity, slog.Default())
	}

	eventBus := bus.New(bus.Config{RingSize: cfg.Engine.RingSize})
	har := harvester.New(harvester.Options{
		Bus: eventBus,
		Correlator: correlate.New(correlate.Config{
			DedupCapacity: cfg.Engine.DedupCapacity,
			GiftTTL:       cfg.Engine.GiftTTL(),
			StackIdle:     cfg.Engine.StackIdle(),
		}),
		Normalizer:    normalize.New(cache),
		Metrics:       metrics,
		Tracker:       tracker,
		Credentials:   creds,
		SweepInterval: cfg.Engine.SweepInterval(),
	})

	policy := reconnect.Policy{
		Base:   cfg.Engine.ReconnectBase(),
		Max:    cfg.Engine.ReconnectMax(),
		Factor: reconnect.DefaultFactor,
	}
	if err := addConnectors(ctx, cfg, har, creds, policy); err != nil {
		log.Fatalf("harvester: %v", err)
	}

	var (
		sinkDB   *sink.SQLiteSink
		buffered *sink.BufferedWriter
		api      *httpapi.Server
	)

	if cfg.HasSink("sqlite") {
		db, err := sink.OpenSQLite(cfg.Sink.SQLite.Path)
		if err != nil {
			log.Fatalf("harvester: open sqlite: %v", err)
		}
		if err := db.Ping(); err != nil {
			log.Fatalf("harvester: ping sqlite: %v", err)
		}
		sinkDB = db
		defer func() {
			if err := sinkDB.Close(); err != nil {
				log.Printf("harvester: closing sink: %v", err)
			}
		}()
	} else {
		log.Printf("harvester: sqlite sink disabled (configured sinks=%v)", cfg.Sinks)
	}

	if cfg.HTTP.Addr != "" {
		var archive httpapi.Archive
		if sinkDB != nil {
			archive = sinkDB
		}
		api = httpapi.New(eventBus, archive, httpapi.Options{
			Addr:            cfg.HTTP.Addr,
			CORSOrigins:     cfg.HTTP.CORSOrigins,
			RateLimitRPS:    cfg.HTTP.RateRPS,
			RateLimitBurst:  cfg.HTTP.RateBurst,
			EnableMetrics:   cfg.HTTP.Metrics,
			EnableAccessLog: cfg.HTTP.AccessLog,
			EnablePprof:     cfg.HTTP.Pprof,
			Build: httpapi.BuildInfo{
				Version:  version.Version,
				Revision: version.Commit,
				BuiltAt:  version.BuiltAt(),
			},
			ConfigSnapshot: cfg.RedactedJSON(),
			Collectors:     metrics.Collectors(),
		})
		if cfg.HTTP.AdminEnabled {
			httpadmin.New(har, cfg.HTTP.AdminToken).Register(api.Mux())
		}
		go func() {
			if err := api.Start(); err != nil {
				log.Fatalf("harvester: http api: %v", err)
			}
		}()
		log.Printf("harvester: http api ready on %s", cfg.HTTP.Addr)
	}

	archiveCtx, stopArchive := context.WithCancel(context.Background())
	archiveDone := make(chan struct{})
	if sinkDB != nil {
		buffered = sink.NewBufferedWriter(sinkDB, sink.BufferedOptions{
			BatchSize:     cfg.Batch(),
			FlushInterval: cfg.FlushInterval(),
			OnWritten: func(ev core.Event) {
				tracker.Mark(ev.Platform, ev.ID, ingesttrace.StageWrittenToDB)
			},
		})
		onError := func(error) {
			if api != nil {
				api.Metrics().ArchiveWriteFailed()
			}
		}
		go func() {
			defer close(archiveDone)
			sink.Archive(archiveCtx, eventBus, buffered, onError)
		}()
	} else {
		close(archiveDone)
	}

	har.Start(ctx)

	if cfg.Credentials.WatchFiles && fileStore != nil {
		if err := har.WatchTokenFiles(ctx, creds, fileStore.Paths()); err != nil {
			slog.Error("harvester: watch token files", "err", err)
		}
	}

	if len(har.Platforms()) == 0 {
		log.Printf("harvester: ERROR: no connectors configured. Set GNASTY_TWITCH_CHANNELS, GNASTY_YT_STREAM_ID or GNASTY_TIKTOK_RELAY_URL.")
	}

	<-ctx.Done()

	if api != nil {
		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
		if err := api.Shutdown(shutdownCtx); err != nil {
			log.Printf("harvester: http api shutdown: %v", err)
		}
		cancelShutdown()
	}

	har.Stop()

	// Let the archiver drain what the connectors published on the way down.
	time.Sleep(100 * time.Millisecond)
	stopArchive()
	<-archiveDone
	if buffered != nil {
		if err := buffered.Close(); err != nil {
			log.Printf("harvester: flush buffered sink: %v", err)
		}
	}
	log.Printf("harvester: shutdown complete")
}

func setupLogging(lc config.LogConfig) {
	opts := &slog.HandlerOptions{Level: lc.SlogLevel()}
	var handler slog.Handler
	if lc.Format == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	slog.SetDefault(slog.New(handler))
}

// openCredentialStore returns the configured store, the file store when that
// is the backend (its paths are watched), and a close func.
func openCredentialStore(cfg config.Config) (credentials.Store, *credentials.FileStore, func(), error) {
	switch cfg.Credentials.Store {
	case config.StoreSQLite:
		st, err := credentials.OpenSQLiteStore(cfg.Credentials.SQLitePath)
		if err != nil {
			return nil, nil, nil, err
		}
		return st, nil, func() { _ = st.Close() }, nil
	default:
		fs := credentials.NewFileStore(cfg.Credentials.Dir, map[core.Platform]credentials.TokenFiles{
			core.PlatformTwitch:  {AccessPath: cfg.Twitch.TokenFile, RefreshPath: cfg.Twitch.RefreshTokenFile},
			core.PlatformYouTube: {AccessPath: cfg.YouTube.TokenFile, RefreshPath: cfg.YouTube.RefreshTokenFile},
		})
		return fs, fs, func() {}, nil
	}
}

func channelConfigs(cfg config.Config) map[core.Platform]credentials.ChannelConfig {
	return map[core.Platform]credentials.ChannelConfig{
		core.PlatformTwitch: {
			Channel:      cfg.TwitchChannel(),
			Nick:         cfg.Twitch.Nick,
			ClientID:     cfg.Twitch.ClientID,
			ClientSecret: cfg.Twitch.ClientSecret,
		},
		core.PlatformYouTube: {
			StreamID:     cfg.YouTube.StreamID,
			ClientID:     cfg.YouTube.ClientID,
			ClientSecret: cfg.YouTube.ClientSecret,
		},
		core.PlatformTikTok: {
			Channel:  cfg.TikTok.Channel,
			RelayURL: cfg.TikTok.RelayURL,
		},
	}
}

func addConnectors(ctx context.Context, cfg config.Config, har *harvester.Harvester, creds *credentials.Manager, policy reconnect.Policy) error {
	debounce := cfg.Engine.Debounce()

	if cfg.Twitch.Enabled {
		if cfg.TwitchChannel() == "" || cfg.Twitch.Nick == "" {
			log.Printf("harvester: twitch enabled without channel and nick; skipping twitch connector")
		} else {
			client := twitchirc.New(twitchirc.Config{
				UseTLS:   cfg.Twitch.TLS,
				Policy:   policy,
				Debounce: debounce,
				OnState:  har.StateReporter(core.PlatformTwitch),
			}, creds)
			if err := har.Add(core.PlatformTwitch, client); err != nil {
				return err
			}
			if cfg.Credentials.AutoRefresh && cfg.Twitch.RefreshEnabled() {
				creds.StartAuto(ctx, core.PlatformTwitch)
			}
			log.Printf("harvester: twitch connector configured for #%s", cfg.TwitchChannel())
		}
	}

	if cfg.YouTube.Enabled {
		client, err := ytlive.New(ytlive.Config{
			PollInterval: cfg.YouTube.PollInterval(),
			ViewerEvery:  cfg.YouTube.ViewerEvery,
			Debounce:     debounce,
			OnState:      har.StateReporter(core.PlatformYouTube),
		}, creds)
		if err != nil {
			return err
		}
		if err := har.Add(core.PlatformYouTube, client); err != nil {
			return err
		}
		if cfg.Credentials.AutoRefresh && cfg.YouTube.RefreshEnabled() {
			creds.StartAuto(ctx, core.PlatformYouTube)
		}
		log.Printf("harvester: youtube connector configured for %s", cfg.YouTube.StreamID)
	}

	if cfg.TikTok.Enabled {
		client := tiktokrelay.New(tiktokrelay.Config{
			URL:      cfg.TikTok.RelayURL,
			Policy:   policy,
			Debounce: debounce,
			OnState:  har.StateReporter(core.PlatformTikTok),
		})
		if err := har.Add(core.PlatformTikTok, client); err != nil {
			return err
		}
		log.Printf("harvester: tiktok connector configured for %s", cfg.TikTok.RelayURL)
	}
	return nil
}
