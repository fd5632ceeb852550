// Command discord-bot-twitch-vods-links restreams a broadcaster's live Twitch stream to
// YouTube, driven by EventSub webhooks. It:
//   - Loads configuration and initializes structured logging.
//   - Connects to Postgres and runs idempotent migrations.
//   - Wires the webhook verification/deduplication boundary, the session orchestrator
//     with its ffmpeg relay supervisor, and the idle heartbeat.
//   - Starts the YouTube OAuth token refresher and the Discord/chat announcers.
//   - Exposes the webhook, interaction, scheduler-callback, health and metrics routes.
//
// Shutdown is graceful on SIGINT/SIGTERM.
package main

import (
	"context"
	"log/slog"
	"net/http"
	_ "net/http/pprof" //nolint:gosec // G108: pprof endpoints enabled only when ENABLE_PPROF=1
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"github.com/joho/godotenv"

	"github.com/Kamikozz/discord-bot-twitch-vods-links/chat"
	"github.com/Kamikozz/discord-bot-twitch-vods-links/config"
	"github.com/Kamikozz/discord-bot-twitch-vods-links/db"
	"github.com/Kamikozz/discord-bot-twitch-vods-links/discordapi"
	"github.com/Kamikozz/discord-bot-twitch-vods-links/heartbeat"
	"github.com/Kamikozz/discord-bot-twitch-vods-links/oauth"
	"github.com/Kamikozz/discord-bot-twitch-vods-links/relay"
	"github.com/Kamikozz/discord-bot-twitch-vods-links/scheduler"
	"github.com/Kamikozz/discord-bot-twitch-vods-links/server"
	"github.com/Kamikozz/discord-bot-twitch-vods-links/session"
	"github.com/Kamikozz/discord-bot-twitch-vods-links/subscriptions"
	"github.com/Kamikozz/discord-bot-twitch-vods-links/telemetry"
	"github.com/Kamikozz/discord-bot-twitch-vods-links/twitchapi"
	"github.com/Kamikozz/discord-bot-twitch-vods-links/webhook"
	"github.com/Kamikozz/discord-bot-twitch-vods-links/youtubeapi"
)

func main() {
	// Load .env file if present (local dev convenience only; production relies on real env)
	_ = godotenv.Load()

	// Configure logging (level + format). Defaults: level=info, format=text.
	lvl := slog.LevelInfo
	switch strings.ToLower(os.Getenv("LOG_LEVEL")) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	case "info", "":
		// keep default
	default:
		tmp := slog.New(slog.NewTextHandler(os.Stdout, nil))
		tmp.Warn("unknown LOG_LEVEL, using info", slog.String("value", os.Getenv("LOG_LEVEL")))
	}
	format := strings.ToLower(os.Getenv("LOG_FORMAT")) // text | json
	var handler slog.Handler
	switch format {
	case "json":
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	default:
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	}
	slog.SetDefault(slog.New(handler))
	slog.Info("logger initialized", slog.String("level", lvl.String()), slog.String("format", map[bool]string{true: "json", false: "text"}[format == "json"]))

	// Config
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", slog.Any("err", err))
		os.Exit(1)
	}
	if err := cfg.ValidateWebhookReady(); err != nil {
		slog.Warn("webhook verification not fully configured", slog.Any("err", err))
	}

	// Metrics / telemetry init
	telemetry.Init()

	// Initialize OpenTelemetry tracing (optional; requires OTEL_EXPORTER_OTLP_ENDPOINT)
	shutdownTracing, err := telemetry.InitTracing("twitch-restream", "1.0.0")
	if err != nil {
		slog.Error("tracing initialization failed", slog.Any("err", err))
		os.Exit(1)
	}
	defer shutdownTracing()

	// DB
	database, err := db.Connect(cfg.DBDsn)
	if err != nil {
		slog.Error("failed to open db", slog.Any("err", err))
		os.Exit(1)
	}
	defer func() {
		if err := database.Close(); err != nil {
			slog.Error("failed to close database", slog.Any("err", err))
		}
	}()
	migrateCtx, cancelMigrate := context.WithTimeout(context.Background(), 30*time.Second)
	if err := db.Migrate(migrateCtx, database); err != nil {
		cancelMigrate()
		slog.Error("failed to migrate db", slog.Any("err", err))
		os.Exit(1)
	}
	cancelMigrate()
	store := db.NewStore(database)

	// Root context with graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Twitch app token (client credentials). Persisted on each acquisition so the
	// current token survives restarts and is visible for debugging.
	appTokens := &twitchapi.TokenSource{
		ClientID:     cfg.TwitchClientID,
		ClientSecret: cfg.TwitchClientSecret,
		OnToken: func(token string, expiresAt time.Time) {
			pctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := store.UpsertOAuthToken(pctx, "twitch", token, "", expiresAt, ""); err != nil {
				slog.Warn("failed to persist twitch app token", slog.Any("err", err))
			}
		},
	}
	if cfg.TwitchClientID != "" && cfg.TwitchClientSecret != "" {
		tctx, cancel := context.WithTimeout(ctx, 8*time.Second)
		if tok, err := appTokens.Get(tctx); err != nil {
			slog.Warn("twitch app token fetch failed", slog.Any("err", err))
		} else if len(tok) > 6 {
			slog.Info("twitch app token acquired", slog.String("tail", "***"+tok[len(tok)-6:]))
		}
		cancel()
	}
	helix := &twitchapi.HelixClient{AppTokenSource: appTokens, ClientID: cfg.TwitchClientID}

	// YouTube credentials and destination provisioning
	yts := youtubeapi.New(cfg, store)
	provisioner := youtubeapi.NewProvisioner(yts, store)

	// YouTube token refresher keeps the destination credential ahead of any session.
	ytRefresher := &oauth.Refresher{
		Provider: "youtube",
		Store:    store,
		Interval: 10 * time.Minute,
		Window:   20 * time.Minute,
		Refresh: func(rctx context.Context, refreshToken string) (string, string, time.Time, error) {
			if cfg.YTClientID == "" {
				return "", "", time.Time{}, context.Canceled
			}
			oc := &oauth2.Config{ClientID: cfg.YTClientID, ClientSecret: cfg.YTClientSecret, Endpoint: google.Endpoint, RedirectURL: cfg.YTRedirectURI}
			newTok, err := oc.TokenSource(rctx, &oauth2.Token{RefreshToken: refreshToken}).Token()
			if err != nil {
				return "", "", time.Time{}, err
			}
			return newTok.AccessToken, newTok.RefreshToken, newTok.Expiry, nil
		},
	}
	ytRefresher.Start(ctx)

	// Optional Twitch user credential: consent flow plus a refresher that only acts
	// once a token row exists.
	userAuth := &twitchapi.UserAuth{
		ClientID:     cfg.TwitchClientID,
		ClientSecret: cfg.TwitchClientSecret,
		RedirectURI:  cfg.TwitchRedirectURI,
		Scopes:       cfg.TwitchScopes,
	}
	twRefresher := &oauth.Refresher{
		Provider: "twitch_user",
		Store:    store,
		Interval: 10 * time.Minute,
		Window:   20 * time.Minute,
		Refresh: func(rctx context.Context, refreshToken string) (string, string, time.Time, error) {
			res, err := userAuth.Refresh(rctx, refreshToken)
			if err != nil {
				return "", "", time.Time{}, err
			}
			return res.AccessToken, res.RefreshToken, twitchapi.ComputeExpiry(res.ExpiresIn), nil
		},
	}
	twRefresher.Start(ctx)

	// Announcement sinks
	discord := &discordapi.Client{WebhookPath: cfg.DiscordWebhookPath, AvatarURL: cfg.DiscordAvatarURL}
	chatAnnouncer := chat.NewAnnouncer(cfg.TwitchBotUsername, cfg.TwitchOAuthToken)
	defer chatAnnouncer.Close()

	// Session orchestration
	hb := heartbeat.New(cfg.HostURL+"/", cfg.HeartbeatInterval)
	launcher := &relay.FFmpegLauncher{Path: cfg.FFmpegPath}
	resolver := &twitchapi.PlaylistResolver{ClientID: cfg.TwitchClientID}
	orch := session.New(provisioner, resolver, helix, launcher, hb)
	orch.RestartDelay = cfg.RelayRestartDelay
	if cfg.DiscordWebhookPath != "" {
		orch.Announce = discord
	}
	if chatAnnouncer.Enabled() {
		orch.Chat = chatAnnouncer
	}
	defer orch.Shutdown()

	// Subscription lifecycle (EventSub + scheduler renewals)
	subs := &subscriptions.Manager{
		Cfg:      cfg,
		Twitch:   helix,
		Sched:    &scheduler.Client{APIKey: cfg.SchedulerAPIKey},
		Settings: store,
		Tokens:   appTokens,
	}

	handlers := &server.Handlers{
		Cfg:                 cfg,
		DB:                  database,
		EventVerifier:       webhook.NewEventSubVerifier(cfg.TwitchEventSubSecret),
		InteractionVerifier: webhook.NewInteractionVerifier(cfg.DiscordPublicKey),
		Dedup:               webhook.NewDeduplicator(0),
		Sessions:            orch,
		Subs:                subs,
		Discord:             discord,
		YouTube:             yts,
		TwitchAuth:          userAuth,
		Tokens:              store,
		Heartbeat:           hb,
	}

	// Enable pprof profiling endpoints in debug mode (ENABLE_PPROF=1)
	if os.Getenv("ENABLE_PPROF") == "1" {
		pprofAddr := os.Getenv("PPROF_ADDR")
		if pprofAddr == "" {
			pprofAddr = "localhost:6060"
		}
		go func() {
			slog.Info("pprof profiling enabled", slog.String("addr", pprofAddr))
			srv := &http.Server{
				Addr:              pprofAddr,
				Handler:           nil, // default mux exposes /debug/pprof
				ReadHeaderTimeout: 5 * time.Second,
				ReadTimeout:       10 * time.Second,
				WriteTimeout:      10 * time.Second,
				IdleTimeout:       60 * time.Second,
			}
			if err := srv.ListenAndServe(); err != nil {
				slog.Error("pprof server error", slog.Any("err", err))
			}
		}()
	}

	addr := os.Getenv("HTTP_ADDR")
	if addr == "" {
		addr = ":8080"
	}
	go func() {
		if err := server.Start(ctx, handlers, addr); err != nil {
			slog.Error("http server exited with error", slog.Any("err", err))
		}
	}()

	// Block until shutdown signal
	<-ctx.Done()
	slog.Info("shutting down")
}
