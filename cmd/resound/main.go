// Command resound runs the spatial audio system described by a YAML scene.
//
// By default it plays the scene on the first output backend that opens and
// keeps running until interrupted, hot-reloading the config file. With
// -render it mixes the scene offline into a WAV file and exits.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MrWong99/resound/internal/app"
	"github.com/MrWong99/resound/internal/config"
	"github.com/MrWong99/resound/internal/health"
	"github.com/MrWong99/resound/internal/observe"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	render := flag.Duration("render", 0, "mix this much audio offline into output.wav_path and exit")
	wavPath := flag.String("out", "", "override output.wav_path for -render")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "resound: config file %q not found, copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "resound: %v\n", err)
		}
		return 1
	}
	if *render > 0 {
		cfg.Output.Backends = []string{"wav"}
		cfg.Output.Unpaced = true
		if *wavPath != "" {
			cfg.Output.WAVPath = *wavPath
		}
		if cfg.Output.WAVPath == "" {
			fmt.Fprintln(os.Stderr, "resound: -render needs output.wav_path or -out")
			return 2
		}
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	level := new(slog.LevelVar)
	level.Set(cfg.Server.LogLevel.Level())
	slog.SetDefault(newLogger(level))

	slog.Info("resound starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	shutdownTelemetry, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceVersion: version,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(ctx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Application ───────────────────────────────────────────────────────────
	reg := config.NewRegistry()
	app.RegisterBuiltins(reg)
	for _, name := range reg.SinkNames() {
		slog.Debug("registered output backend", "name", name)
	}

	printStartupSummary(cfg, *render)

	application, err := app.New(ctx, cfg,
		app.WithRegistry(reg),
		app.WithLevelVar(level),
	)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	if *render > 0 {
		return renderOffline(ctx, application, *render, cfg.Output.WAVPath)
	}

	// ── Admin server (optional) ───────────────────────────────────────────────
	var (
		admin  *http.Server
		ready  *health.Handler
	)
	if cfg.Server.ListenAddr != "" {
		admin, ready, err = startAdmin(cfg, application)
		if err != nil {
			slog.Error("failed to start admin server", "err", err)
			_ = application.Shutdown(context.Background())
			return 1
		}
	}

	// ── Config hot reload ─────────────────────────────────────────────────────
	watcher, err := config.NewWatcher(*configPath, func(old, new *config.Config) {
		if err := application.ApplyConfig(ctx, old, new); err != nil {
			slog.Error("config reload failed", "err", err)
		}
	})
	if err != nil {
		slog.Warn("config watcher disabled", "err", err)
	} else {
		defer watcher.Stop()
		go reloadOnHangup(ctx, watcher)
	}

	slog.Info("audio running, press Ctrl+C to shut down")

	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		_ = application.Shutdown(context.Background())
		return 1
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("shutdown signal received, stopping")

	if admin != nil {
		ready.SetDraining(true)
		if err := admin.Shutdown(shutdownCtx); err != nil {
			slog.Warn("admin server shutdown error", "err", err)
		}
	}
	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// renderOffline mixes d of audio into the capture file as fast as possible.
func renderOffline(ctx context.Context, a *app.App, d time.Duration, path string) int {
	start := time.Now()
	blocks, err := a.Render(ctx, d)
	if shutdownErr := a.Shutdown(context.Background()); shutdownErr != nil {
		err = errors.Join(err, shutdownErr)
	}
	if err != nil {
		slog.Error("render failed", "err", err, "blocks", blocks)
		return 1
	}
	slog.Info("render complete",
		"path", path,
		"audio", d,
		"blocks", blocks,
		"elapsed", time.Since(start),
	)
	return 0
}

// ── Admin HTTP ────────────────────────────────────────────────────────────────

// staleTicks is how many tick intervals may pass before /readyz reports the
// scheduler as stalled.
const staleTicks = 100

func startAdmin(cfg *config.Config, a *app.App) (*http.Server, *health.Handler, error) {
	hh := health.New(
		health.TickRecent(a.LastTick, staleTicks*cfg.Engine.TickInterval),
		health.LibraryLoaded(a.Library().Len, a.AssetCount()),
		health.SinkOpen(a.SinkName),
	)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	hh.Register(mux)

	srv := &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           observe.Middleware(observe.DefaultMetrics(), "/metrics", "/healthz", "/readyz")(mux),
		ReadHeaderTimeout: 5 * time.Second,
	}

	ln, err := net.Listen("tcp", srv.Addr)
	if err != nil {
		return nil, nil, err
	}

	go func() {
		var err error
		if tls := cfg.Server.TLS; tls != nil {
			err = srv.ServeTLS(ln, tls.CertFile, tls.KeyFile)
		} else {
			err = srv.Serve(ln)
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("admin server error", "err", err)
		}
	}()
	slog.Info("admin server listening", "addr", ln.Addr().String(), "tls", cfg.Server.TLS != nil)
	return srv, hh, nil
}

// reloadOnHangup re-reads the config file on SIGHUP.
func reloadOnHangup(ctx context.Context, w *config.Watcher) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
			changed, err := w.Reload()
			if err != nil {
				slog.Error("config reload rejected", "err", err)
				continue
			}
			slog.Info("config reloaded on SIGHUP", "changed", changed)
		}
	}
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config, render time.Duration) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║         resound, startup summary      ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printRow("Sample rate", fmt.Sprintf("%d Hz", cfg.Engine.SampleRate))
	printRow("Block size", fmt.Sprintf("%d frames", cfg.Engine.BlockSize))
	printRow("Output", strings.Join(cfg.Output.Backends, " > "))
	printRow("Spatial", cfg.Spatial.Processor+" / "+cfg.Spatial.Output)
	printRow("Sounds", fmt.Sprint(len(cfg.Assets.Sounds)))
	printRow("Emitters", fmt.Sprint(len(cfg.Scene.Emitters)))
	printRow("Listeners", fmt.Sprint(len(cfg.Scene.Listeners)))
	if render > 0 {
		printRow("Render", render.String())
	} else if cfg.Server.ListenAddr != "" {
		printRow("Listen addr", cfg.Server.ListenAddr)
	}
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printRow(label, value string) {
	if len(value) > 19 {
		value = value[:16] + "..."
	}
	fmt.Printf("║  %-12s    : %-19s ║\n", label, value)
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func newLogger(level slog.Leveler) *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}
