// Command live-herald watches a list of Twitch streamers and announces each new live
// session in a Discord channel.
// It:
//   - Loads configuration and initializes structured logging.
//   - Connects the Discord bot and registers its slash commands.
//   - Polls Twitch Helix on a fixed interval and dispatches one notification per live session.
//   - Exposes a minimal HTTP server with /healthz, /readyz, /status, and /metrics.
//
// Shutdown is graceful on SIGINT/SIGTERM.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	_ "net/http/pprof" //nolint:gosec // G108: pprof endpoints enabled only when ENABLE_PPROF=1
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/onnwee/live-herald/config"
	"github.com/onnwee/live-herald/discord"
	"github.com/onnwee/live-herald/notify"
	"github.com/onnwee/live-herald/oauth"
	"github.com/onnwee/live-herald/poller"
	"github.com/onnwee/live-herald/server"
	"github.com/onnwee/live-herald/telemetry"
	"github.com/onnwee/live-herald/tracker"
	"github.com/onnwee/live-herald/twitchapi"
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

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", slog.Any("err", err))
		os.Exit(1)
	}

	telemetry.Init()

	// Tracing is optional; it requires OTEL_EXPORTER_OTLP_ENDPOINT.
	shutdown, err := telemetry.InitTracing("live-herald", "1.0.0")
	if err != nil {
		slog.Error("tracing initialization failed", slog.Any("err", err))
		os.Exit(1)
	}
	defer shutdown()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var bot *discord.Bot
	if err := cfg.ValidateDiscord(); err != nil {
		slog.Warn("discord bot disabled", slog.Any("err", err), slog.String("component", "discord"))
	} else {
		bot, err = discord.New(cfg.DiscordBotToken, cfg.DiscordGuildID)
		if err == nil {
			err = bot.Open()
		}
		if err != nil {
			slog.Error("discord bot start failed", slog.Any("err", err), slog.String("component", "discord"))
			os.Exit(1)
		}
		defer func() {
			if err := bot.Close(); err != nil {
				slog.Error("discord bot close failed", slog.Any("err", err), slog.String("component", "discord"))
			}
		}()
	}

	var deps server.Deps
	if tr, p := startPolling(ctx, cfg, bot); tr != nil {
		deps.Tracker = tr
		deps.Poller = p
	}

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

	go func() {
		if err := server.Start(ctx, cfg.HTTPAddr, deps); err != nil {
			slog.Error("http server exited with error", slog.Any("err", err))
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down")
}

// startPolling wires the Helix client, tracker and poller. It returns nil when polling is
// disabled; the bot keeps serving commands either way.
func startPolling(ctx context.Context, cfg *config.Config, bot *discord.Bot) (*tracker.Tracker, *poller.Poller) {
	log := slog.With(slog.String("component", "poller"))
	if err := cfg.ValidatePolling(); err != nil {
		log.Warn("live notifications disabled", slog.Any("err", err))
		return nil, nil
	}
	if bot == nil {
		log.Warn("live notifications disabled", slog.String("reason", "discord bot not configured"))
		return nil, nil
	}

	ts := &twitchapi.TokenSource{
		ClientID:     cfg.TwitchClientID,
		ClientSecret: cfg.TwitchClientSecret,
		HTTPClient:   &http.Client{Timeout: cfg.TwitchRequestTimeout},
		Timeout:      cfg.TwitchRequestTimeout,
	}
	hc := twitchapi.NewHelixClient(ts, cfg.TwitchClientID, twitchapi.Options{
		Timeout:           cfg.TwitchRequestTimeout,
		RequestsPerSecond: cfg.TwitchRateLimit,
	})
	tr := tracker.New(hc, ts, cfg.Streamers)

	initCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	if err := tr.Initialize(initCtx); err != nil {
		if errors.Is(err, tracker.ErrAuth) {
			log.Error("twitch authentication failed, live notifications disabled", slog.Any("err", err))
		} else {
			log.Error("tracker initialization failed, live notifications disabled", slog.Any("err", err))
		}
		return nil, nil
	}
	oauth.StartRefresher(ctx, oauth.Config{Provider: "twitch"}, ts)

	p := poller.New(tr, notify.NewDispatcher(notify.DefaultSendTimeout), bot, poller.Config{
		Interval:  cfg.PollInterval,
		ChannelID: cfg.DiscordChannelID,
	})
	go p.Run(ctx)
	log.Info("live notifications enabled",
		slog.Int("streamers", len(cfg.Streamers)),
		slog.Duration("interval", cfg.PollInterval),
		slog.String("channel", cfg.DiscordChannelID))
	return tr, p
}
