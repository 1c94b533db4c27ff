package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/echovox/internal/app"
	"github.com/MrWong99/echovox/internal/config"
	"github.com/MrWong99/echovox/internal/discord"
	"github.com/MrWong99/echovox/internal/health"
	"github.com/MrWong99/echovox/internal/observe"
	"github.com/MrWong99/echovox/internal/resilience"
	"github.com/MrWong99/echovox/internal/session"
	"github.com/MrWong99/echovox/internal/ttscache"
	"github.com/MrWong99/echovox/internal/voice"
)

const shutdownTimeout = 15 * time.Second

// serve runs the bot until ctx is cancelled.
func serve(ctx context.Context, opts *options) error {
	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}
	if cfg.Discord.Token == "" {
		return errors.New("discord.token is required (or set ECHOVOX_DISCORD_TOKEN)")
	}

	logger, level := newLogger(os.Stderr, cfg.Server.LogFormat, cfg.Server.LogLevel)
	slog.SetDefault(logger)
	slog.Info("echovox starting",
		"version", version,
		"config", opts.configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Telemetry ─────────────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    "echovox",
		ServiceVersion: version,
	})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	metrics, err := observe.NewMetrics(otel.GetMeterProvider())
	if err != nil {
		return fmt.Errorf("init metrics: %w", err)
	}

	// ── Providers ─────────────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)
	speech, lm, err := buildProviders(cfg, reg)
	if err != nil {
		return err
	}
	guard := resilience.NewTTSGuard(cfg.Providers.TTS.Name, speech, resilience.CircuitBreakerConfig{
		OnStateChange: func(name string, from, to resilience.State) {
			slog.Warn("circuit breaker state changed", "name", name, "from", from, "to", to)
			metrics.RecordBreakerTransition(context.Background(), name, to.String())
		},
	})

	catalog, err := voice.LoadCatalog(ctx, guard)
	if err != nil {
		return fmt.Errorf("load voices: %w", err)
	}
	slog.Info("voices loaded", "count", catalog.Len())

	cache, err := ttscache.New(cfg.TTS.CacheDir, ttscache.WithObserver(metrics))
	if err != nil {
		return err
	}

	// ── Discord and sessions ──────────────────────────────────────────────────
	bot, err := discord.New(discord.Config{
		Token:       cfg.Discord.Token,
		Prefix:      cfg.Discord.Prefix,
		AdminRoleID: cfg.Discord.AdminRoleID,
		Status:      cfg.Discord.Status,
	})
	if err != nil {
		return err
	}
	manager := session.NewManager(session.Config{
		Platform:    bot.Platform(),
		Presence:    bot.Locator(),
		IdleStep:    cfg.Session.IdleStep,
		IdleTimeout: cfg.Session.IdleTimeout,
		Observer:    metrics,
	})

	application, err := app.New(app.Config{
		Catalog:       catalog,
		Cache:         cache,
		TTS:           guard,
		Player:        manager,
		Locator:       bot.Locator(),
		LLM:           lm,
		Prefix:        cfg.Discord.Prefix,
		MaxLength:     cfg.TTS.MaxLength,
		UnitCost:      cfg.TTS.UnitCost,
		RatePerMinute: cfg.Limits.PerUserRate,
		Burst:         cfg.Limits.PerUserBurst,
		Metrics:       metrics,
	})
	if err != nil {
		return err
	}

	// ── Hot reload ────────────────────────────────────────────────────────────
	if opts.configPath != "" {
		w, err := config.NewWatcher(opts.configPath, func(old, new *config.Config) {
			applyReload(config.Diff(old, new), new, level, application, manager)
		})
		if err != nil {
			slog.Warn("config hot reload disabled", "err", err)
		} else {
			defer w.Stop()
		}
	}

	printStartupSummary(cfg, catalog.Len())

	// ── Run ───────────────────────────────────────────────────────────────────
	g, gctx := errgroup.WithContext(ctx)
	if cfg.Server.ListenAddr != config.ListenOff {
		srv := newOpsServer(cfg, metrics, bot, guard)
		g.Go(func() error { return serveHTTP(gctx, srv) })
	}
	g.Go(func() error {
		return bot.Run(gctx, application, manager)
	})

	slog.Info("echovox ready, press Ctrl+C to shut down")
	runErr := g.Wait()
	if errors.Is(runErr, context.Canceled) {
		runErr = nil
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	slog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := manager.Close(); err != nil {
		slog.Warn("close voice sessions", "err", err)
	}
	if err := otelShutdown(shutdownCtx); err != nil {
		slog.Warn("telemetry shutdown", "err", err)
	}
	if runErr != nil {
		return runErr
	}
	slog.Info("goodbye")
	return nil
}

// newOpsServer builds the HTTP server for metrics and probes.
func newOpsServer(cfg *config.Config, metrics *observe.Metrics, bot *discord.Bot, guard *resilience.TTSGuard) *http.Server {
	probes := health.New(
		health.Flag("discord", "gateway not connected", bot.Connected),
		health.DirWritable("cache", cfg.TTS.CacheDir),
		health.Checker{Name: "tts", Check: guard.Breaker().Healthy},
	)

	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.Handler())
	probes.Register(mux)

	return &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           observe.Middleware(metrics, "/metrics", "/healthz", "/readyz")(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}
}

// serveHTTP runs srv until ctx is cancelled.
func serveHTTP(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		slog.Info("ops server listening", "addr", srv.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("ops server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("ops server shutdown: %w", err)
	}
	return nil
}

// reloadTarget is what a config reload can adjust at runtime.
type reloadTarget interface {
	SetRequestLimits(maxLength int, unitCost float64)
	SetRateLimit(perMinute float64, burst int)
}

type idleTarget interface {
	SetIdleTiming(step, timeout time.Duration)
}

// applyReload pushes the hot-reloadable parts of d to the running bot.
func applyReload(d config.ConfigDiff, cfg *config.Config, level *logLevel, r reloadTarget, idle idleTarget) {
	if !d.Changed() {
		return
	}
	if d.LogLevelChanged {
		level.set(d.NewLogLevel)
		slog.Info("log level changed", "level", d.NewLogLevel)
	}
	if d.RequestChanged {
		r.SetRequestLimits(cfg.TTS.MaxLength, cfg.TTS.UnitCost)
		slog.Info("request limits changed", "max_length", cfg.TTS.MaxLength, "unit_cost", cfg.TTS.UnitCost)
	}
	if d.IdleChanged {
		idle.SetIdleTiming(cfg.Session.IdleStep, cfg.Session.IdleTimeout)
		slog.Info("idle timing changed", "step", cfg.Session.IdleStep, "timeout", cfg.Session.IdleTimeout)
	}
	if d.LimitsChanged {
		r.SetRateLimit(cfg.Limits.PerUserRate, cfg.Limits.PerUserBurst)
		slog.Info("rate limit changed", "per_minute", cfg.Limits.PerUserRate, "burst", cfg.Limits.PerUserBurst)
	}
	if len(d.RestartRequired) > 0 {
		slog.Warn("config changes need a restart to take effect", "settings", strings.Join(d.RestartRequired, ", "))
	}
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config, voices int) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║         echovox startup summary       ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printRow("TTS", providerLabel(cfg.Providers.TTS))
	printRow("LLM", providerLabel(cfg.Providers.LLM))
	printRow("Voices", fmt.Sprint(voices))
	printRow("Prefix", cfg.Discord.Prefix)
	printRow("Cache dir", cfg.TTS.CacheDir)
	printRow("Listen addr", cfg.Server.ListenAddr)
	fmt.Println("╚═══════════════════════════════════════╝")
}

func providerLabel(e config.ProviderEntry) string {
	switch {
	case e.Name == "":
		return "(not configured)"
	case e.Model != "":
		return e.Name + " / " + e.Model
	default:
		return e.Name
	}
}

func printRow(key, value string) {
	if r := []rune(value); len(r) > 19 {
		value = string(r[:18]) + "…"
	}
	fmt.Printf("║  %-12s    : %-19s ║\n", key, value)
}
