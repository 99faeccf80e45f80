// Command kickbot is the main entrypoint for the Kick chat bot.
// It:
//   - Loads configuration and initializes structured logging.
//   - Connects to Postgres and runs idempotent migrations, degrading to
//     log-only mode when the database is unreachable.
//   - Builds the webhook pipeline: extraction registry, gift parser,
//     chat correlator, points awarder, and command router.
//   - Subscribes to Kick webhook events for the configured channel.
//   - Exposes the HTTP server: webhook receiver, OAuth flow, health,
//     status, diagnostics, and /metrics.
//
// Shutdown is graceful on SIGINT/SIGTERM.
package main

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	_ "net/http/pprof" //nolint:gosec // G108: pprof endpoints enabled only when ENABLE_PPROF=1
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"golang.org/x/oauth2"

	"github.com/joho/godotenv"
	"github.com/onnwee/kickbot/chat"
	"github.com/onnwee/kickbot/config"
	"github.com/onnwee/kickbot/db"
	"github.com/onnwee/kickbot/events"
	"github.com/onnwee/kickbot/kickapi"
	"github.com/onnwee/kickbot/oauth"
	"github.com/onnwee/kickbot/points"
	"github.com/onnwee/kickbot/server"
	"github.com/onnwee/kickbot/telemetry"
)

// subscribedEvents are the webhook event types delivered to the receiver.
var subscribedEvents = []string{
	"chat.message.sent",
	"channel.followed",
	"channel.subscription.new",
	"channel.subscription.gifts",
}

// openDatabase connects to Postgres, verifies the connection, and applies
// migrations. Any failure returns nil so the bot keeps running in log-only
// mode instead of aborting.
func openDatabase(ctx context.Context) *sql.DB {
	database, err := db.Connect()
	if err != nil {
		slog.Warn("failed to open db, running in log-only mode", slog.Any("err", err))
		return nil
	}
	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := database.PingContext(pctx); err != nil {
		slog.Warn("database unreachable, running in log-only mode", slog.Any("err", err))
		_ = database.Close()
		return nil
	}
	slog.Info("running database migrations", slog.String("component", "db_migrate"))
	if err := db.Migrate(ctx, database); err != nil {
		slog.Warn("failed to migrate db, running in log-only mode", slog.Any("err", err))
		_ = database.Close()
		return nil
	}
	return database
}

func main() {
	// Load .env file if present (local dev convenience only; production relies on real env)
	_ = godotenv.Load(".env")

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

	// Metrics / telemetry init
	telemetry.Init()

	// Initialize OpenTelemetry tracing (optional; requires OTEL_EXPORTER_OTLP_ENDPOINT)
	shutdown, err := telemetry.InitTracing("kickbot", "1.0.0")
	if err != nil {
		slog.Error("tracing initialization failed", slog.Any("err", err))
		os.Exit(1)
	}
	defer shutdown()

	// Kick API client. The app token (client credentials) covers channel
	// lookups and event subscription management; chat posts act as the bot
	// account through the stored user token.
	appTokens := &kickapi.TokenSource{ClientID: cfg.KickClientID, ClientSecret: cfg.KickClientSecret}

	// Best-effort: probe the app token up front so bad credentials surface
	// at startup rather than on the first API call.
	if cfg.KickClientID != "" && cfg.KickClientSecret != "" {
		ctx2, cancel := context.WithTimeout(context.Background(), 8*time.Second)
		if tok, err := appTokens.Get(ctx2); err != nil {
			slog.Warn("kick app token fetch failed", slog.Any("err", err))
		} else if len(tok) > 6 {
			masked := "***" + tok[len(tok)-6:]
			slog.Info("kick app token acquired", slog.String("tail", masked))
		}
		cancel()
	}

	// DB. A missing or unreachable database degrades the bot to log-only
	// mode; the pipeline, awarder, and handlers all accept a nil database.
	database := openDatabase(context.Background())
	defer func() {
		if database == nil {
			return
		}
		if err := database.Close(); err != nil {
			slog.Error("failed to close database", slog.Any("err", err))
		}
	}()

	// Root context with graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client := &kickapi.Client{
		AppTokenSource: appTokens,
		UserToken: func(tctx context.Context) (string, error) {
			if database == nil {
				return "", errors.New("no database, user token unavailable")
			}
			access, _, _, _, err := db.GetOAuthToken(tctx, database, "kick")
			return access, err
		},
	}

	// Webhook pipeline
	monitor := events.NewMonitor()
	if cfg.ParsingFailureAlertRate >= 0 {
		monitor.SetAlertThreshold("parsing_failure_rate", cfg.ParsingFailureAlertRate)
	}
	if cfg.CorrelationTimeoutAlertRate >= 0 {
		monitor.SetAlertThreshold("correlation_timeout_rate", cfg.CorrelationTimeoutAlertRate)
	}
	registry := events.NewRegistry(monitor)
	parser := events.NewGifterParser(monitor)
	parser.HeaderKeys = cfg.GifterHeaderKeys
	correlator := events.NewCorrelator(monitor, cfg.CorrelationWindow, cfg.SweepInterval, cfg.ThankYouSender)
	correlator.Start(ctx)
	awarder := points.NewAwarder(database, monitor, cfg.PointsPerSub)

	// Resolve the channel and register webhook subscriptions. Failures are
	// non-fatal; the receiver still serves whatever Kick delivers.
	broadcasterID := 0
	if cfg.KickChannel != "" {
		if err := cfg.ValidateKickReady(); err != nil {
			slog.Warn("kick API not fully configured, skipping event subscription", slog.Any("err", err))
		} else if id, err := client.GetChannelUserID(ctx, cfg.KickChannel); err != nil {
			slog.Warn("channel lookup failed", slog.String("channel", cfg.KickChannel), slog.Any("err", err))
		} else {
			broadcasterID = id
			if err := client.SubscribeEvents(ctx, broadcasterID, subscribedEvents); err != nil {
				slog.Warn("event subscription failed", slog.Any("err", err))
			} else {
				slog.Info("webhook events subscribed", slog.String("channel", cfg.KickChannel), slog.Int("broadcaster_user_id", broadcasterID))
				if database != nil {
					if err := db.SetKV(ctx, database, "webhook_subscribed_at", time.Now().UTC().Format(time.RFC3339)); err != nil {
						slog.Warn("failed to record subscription time", slog.Any("err", err))
					}
				}
			}
		}
	} else {
		slog.Info("KICK_CHANNEL not set, skipping event subscription")
	}

	router := chat.NewRouter(client, broadcasterID, database)
	dispatcher := chat.NewDispatcher(
		func(_ context.Context, msg events.ChatMessage) { correlator.ProcessChatMessage(msg) },
		router.Handle,
	)

	// Keep the stored user token fresh so chat posts never hit an expired
	// credential mid-stream.
	if database != nil {
		kickEndpoint := oauth2.Endpoint{
			AuthURL:  kickapi.DefaultAuthBase + "/oauth/authorize",
			TokenURL: kickapi.DefaultAuthBase + "/oauth/token",
		}
		oauth.StartRefresher(ctx, database, "kick", 5*time.Minute, 15*time.Minute, func(rctx context.Context, refreshToken string) (string, string, time.Time, string, error) {
			oc := &oauth2.Config{ClientID: cfg.KickClientID, ClientSecret: cfg.KickClientSecret, Endpoint: kickEndpoint, RedirectURL: cfg.KickRedirectURI}
			newTok, err := oc.TokenSource(rctx, &oauth2.Token{RefreshToken: refreshToken}).Token()
			if err != nil {
				return "", "", time.Time{}, "", err
			}
			return newTok.AccessToken, newTok.RefreshToken, newTok.Expiry, "", nil
		})
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

	// HTTP server (webhooks/oauth/health/status/diagnostics/metrics)
	handlers := server.NewHandlers(ctx, cfg, database, server.Pipeline{
		Monitor:    monitor,
		Registry:   registry,
		Parser:     parser,
		Correlator: correlator,
		Dispatcher: dispatcher,
		Awarder:    awarder,
	})
	go func() {
		if err := server.Start(ctx, handlers, cfg.BindAddr); err != nil {
			slog.Error("http server exited with error", slog.Any("err", err))
		}
	}()

	// Block until shutdown signal
	<-ctx.Done()
	slog.Info("shutting down")
}
