// Command scrivener is the main entry point for the Scrivener scene logging
// server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/openmux/scrivener/internal/api"
	"github.com/openmux/scrivener/internal/config"
	"github.com/openmux/scrivener/internal/health"
	"github.com/openmux/scrivener/internal/observe"
	"github.com/openmux/scrivener/internal/scene"
	scenepg "github.com/openmux/scrivener/internal/scene/postgres"
	"github.com/openmux/scrivener/internal/watcher"
)

// version is stamped at build time via -ldflags.
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "scrivener: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "scrivener: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	logger := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)

	slog.Info("scrivener starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceVersion: version,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(shutdownCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	metrics := observe.DefaultMetrics()

	// ── Store ─────────────────────────────────────────────────────────────────
	var (
		store    scene.Store
		checkers []health.Checker
	)
	if dsn := cfg.Store.PostgresDSN; dsn != "" {
		pg, err := scenepg.NewStore(ctx, dsn)
		if err != nil {
			slog.Error("failed to connect to postgres", "err", err)
			return 1
		}
		defer pg.Close()
		store = pg
		checkers = append(checkers, health.Checker{Name: "store", Check: pg.Ping})
		slog.Info("using postgres store")
	} else {
		store = scene.NewMemStore()
		slog.Warn("no postgres_dsn configured — scene data will not survive a restart")
	}

	// ── Engine wiring ─────────────────────────────────────────────────────────
	directory := directoryFrom(cfg)
	feed := watcher.NewFeed()

	registry := scene.NewRegistry(scene.RegistryConfig{
		Store:          store,
		Directory:      directory,
		Notifier:       watcher.NewEndNotifier(feed),
		DefaultChapter: cfg.Story.CurrentChapter,
	})
	tracker := scene.NewTracker(store)
	entries := scene.NewEntryLog(store)
	resolver := scene.NewResolver(store)

	hub := watcher.New(watcher.Config{
		Store:    store,
		Registry: registry,
		Tracker:  tracker,
		Entries:  entries,
		Feed:     feed,
		Metrics:  metrics,
	})

	server := api.NewServer(api.Config{
		Store:    store,
		Registry: registry,
		Resolver: resolver,
		Hub:      hub,
		Feed:     feed,
		Metrics:  metrics,
		Health:   health.New(checkers...),
	})

	printStartupSummary(cfg)

	// ── HTTP server ───────────────────────────────────────────────────────────
	httpServer := &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           server.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("server ready — press Ctrl+C to shut down")
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutdown signal received, stopping…")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// directoryFrom builds the static group and plot directory declared in the
// world section of the config.
func directoryFrom(cfg *config.Config) *scene.StaticDirectory {
	toRefs := func(in []config.WorldRef) []scene.Ref {
		out := make([]scene.Ref, 0, len(in))
		for _, r := range in {
			out = append(out, scene.Ref{ID: r.ID, Name: r.Name})
		}
		return out
	}
	return scene.NewStaticDirectory(toRefs(cfg.World.Groups), toRefs(cfg.World.Plots))
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	storeKind := "postgres"
	if cfg.Store.PostgresDSN == "" {
		storeKind = "in-memory"
	}
	chapter := cfg.Story.CurrentChapter
	if chapter == "" {
		chapter = "(none)"
	}

	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║        Scrivener — startup summary    ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printRow("Store", storeKind)
	printRow("Chapter", chapter)
	printRow("Groups", fmt.Sprintf("%d", len(cfg.World.Groups)))
	printRow("Plots", fmt.Sprintf("%d", len(cfg.World.Plots)))
	printRow("Listen addr", cfg.Server.ListenAddr)
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printRow(label, value string) {
	if len(value) > 19 {
		value = value[:16] + "…"
	}
	fmt.Printf("║  %-15s : %-19s ║\n", label, value)
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func newLogger(level config.LogLevel) *slog.Logger {
	var lvl slog.Level
	switch level {
	case config.LogDebug:
		lvl = slog.LevelDebug
	case config.LogWarn:
		lvl = slog.LevelWarn
	case config.LogError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
