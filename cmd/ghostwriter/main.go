// Command ghostwriter is the loopback capture daemon: it records what the
// machine is playing and serves the capture/export control API.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ReaperCord/ghostWriter/internal/app"
	"github.com/ReaperCord/ghostWriter/internal/config"
)

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "", "path to the YAML configuration file (omit to run with defaults)")
	listenAddr := flag.String("listen", "", "listen address override, e.g. :8080")
	logLevel := flag.String("log-level", "", "log level override: debug, info, warn or error")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				fmt.Fprintf(os.Stderr, "ghostwriter: config file %q not found — run without -config to use built-in defaults\n", *configPath)
			} else {
				fmt.Fprintf(os.Stderr, "ghostwriter: %v\n", err)
			}
			return 1
		}
		cfg = loaded
	}
	if *listenAddr != "" {
		cfg.Server.ListenAddr = *listenAddr
	}
	if *logLevel != "" {
		lvl := config.LogLevel(*logLevel)
		if !lvl.IsValid() {
			fmt.Fprintf(os.Stderr, "ghostwriter: invalid -log-level %q (want debug, info, warn or error)\n", *logLevel)
			return 1
		}
		cfg.Server.LogLevel = lvl
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	// The level lives in a LevelVar so a config reload can adjust it without
	// swapping the handler.
	levelVar := new(slog.LevelVar)
	levelVar.Set(cfg.Server.LogLevel.Level())
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: levelVar}))
	slog.SetDefault(logger)

	slog.Info("ghostwriter starting",
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Config watcher (optional) ─────────────────────────────────────────────
	if *configPath != "" {
		watcher, err := config.NewWatcher(*configPath, func(_, _ *config.Config, d config.ConfigDiff) {
			if d.LogLevelChanged {
				levelVar.Set(d.NewLogLevel.Level())
				slog.Info("log level changed", "log_level", d.NewLogLevel)
			}
			for _, field := range d.RestartNeeded {
				slog.Warn("config change takes effect after restart", "field", field)
			}
		})
		if err != nil {
			slog.Warn("config watcher disabled", "err", err)
		} else {
			defer watcher.Stop()
		}
	}

	// ── Startup summary ───────────────────────────────────────────────────────
	printSummary(cfg)

	application, err := app.New(ctx, cfg)
	if err != nil {
		slog.Error("application setup failed", "err", err)
		return 1
	}

	slog.Info("ready — press Ctrl+C to stop")

	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run failed", "err", err)
		return 1
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("signal received, shutting down")

	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown failed", "err", err)
		return 1
	}
	slog.Info("stopped")
	return 0
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printSummary(cfg *config.Config) {
	fmt.Println("╔══════════════════════════════════════╗")
	fmt.Println("║      ghostWriter — capture daemon    ║")
	fmt.Println("╠══════════════════════════════════════╣")
	summaryRow("Device type", string(cfg.Capture.DeviceType))
	summaryRow("Sample format", valueOr(cfg.Capture.SampleFormat, "float32"))
	summaryRow("Capture rate", rateOr(cfg.Capture.SampleRate, "device default"))
	summaryRow("Export rate", rateOr(cfg.Export.SampleRate, "16000 Hz"))
	summaryRow("Export dir", cfg.Export.Directory)
	summaryRow("Auto capture", autoMode(cfg.Capture))
	summaryRow("Listen addr", cfg.Server.ListenAddr)
	if cfg.Server.TLS != nil {
		summaryRow("TLS", "enabled")
	} else {
		summaryRow("TLS", "disabled")
	}
	fmt.Println("╚══════════════════════════════════════╝")
}

func summaryRow(label, value string) {
	if value == "" {
		value = "(not set)"
	}
	if len(value) > 17 {
		value = value[:14] + "…"
	}
	fmt.Printf("║  %-15s : %-17s ║\n", label, value)
}

// ── Helpers ───────────────────────────────────────────────────────────────────

func valueOr(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}

func rateOr(rate int, fallback string) string {
	if rate <= 0 {
		return fallback
	}
	return fmt.Sprintf("%d Hz", rate)
}

// autoMode summarises the auto_initialize/auto_start switches.
func autoMode(c config.CaptureConfig) string {
	switch {
	case c.AutoInitialize && c.AutoStart:
		return "initialize+start"
	case c.AutoInitialize:
		return "initialize"
	default:
		return "off"
	}
}
