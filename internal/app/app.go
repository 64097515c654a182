// Package app wires all ghostWriter subsystems into a running service.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run serves the control API until the context is cancelled,
// and Shutdown tears everything down in order.
//
// For testing, inject mock implementations via functional options
// (WithDevice, WithMetrics). When an option is not provided, New creates
// real implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/ReaperCord/ghostWriter/internal/capture/loopback"
	"github.com/ReaperCord/ghostWriter/internal/config"
	"github.com/ReaperCord/ghostWriter/internal/control"
	"github.com/ReaperCord/ghostWriter/internal/health"
	"github.com/ReaperCord/ghostWriter/internal/observe"
	"github.com/ReaperCord/ghostWriter/internal/recorder"
	"github.com/ReaperCord/ghostWriter/pkg/audio"
	"github.com/ReaperCord/ghostWriter/pkg/capture"
)

// serveDrainTimeout bounds the graceful HTTP drain when Run's context is
// cancelled. Shutdown gets its own caller-supplied deadline on top.
const serveDrainTimeout = 5 * time.Second

// App owns all subsystem lifetimes and serves the ghostWriter control API.
type App struct {
	cfg *config.Config

	// Subsystems initialised in New and torn down in Shutdown.
	device   capture.Device
	recorder *recorder.Recorder
	metrics  *observe.Metrics
	control  *control.Server
	server   *http.Server

	// addr is the bound listen address, set once Run opens the listener.
	addrMu sync.Mutex
	addr   string

	// closers are called in reverse-append order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithDevice injects a capture device instead of opening the miniaudio
// endpoint described by the config.
func WithDevice(d capture.Device) Option {
	return func(a *App) { a.device = d }
}

// WithMetrics injects a metrics bundle instead of initialising the global
// OTel providers. Telemetry setup and its Prometheus registration are
// skipped entirely, which keeps repeated App constructions in tests from
// fighting over the default registry.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. Use Option functions
// to inject test doubles for any subsystem.
//
// New performs all construction synchronously: telemetry providers, the
// capture device, the recorder, the control surface, and the HTTP server.
// Nothing starts serving or capturing until Run.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	a := &App{
		cfg: cfg,
	}
	for _, o := range opts {
		o(a)
	}

	// ── 1. Telemetry ─────────────────────────────────────────────────────
	if err := a.initTelemetry(ctx); err != nil {
		return nil, fmt.Errorf("app: init telemetry: %w", err)
	}

	// ── 2. Capture device ────────────────────────────────────────────────
	if err := a.initDevice(); err != nil {
		return nil, fmt.Errorf("app: init capture device: %w", err)
	}

	// ── 3. Recorder ──────────────────────────────────────────────────────
	if err := a.initRecorder(); err != nil {
		return nil, fmt.Errorf("app: init recorder: %w", err)
	}

	// ── 4. Control surface ───────────────────────────────────────────────
	ctl, err := control.NewServer(a.recorder, cfg.Export, a.metrics)
	if err != nil {
		return nil, fmt.Errorf("app: init control server: %w", err)
	}
	a.control = ctl

	// ── 5. HTTP server ───────────────────────────────────────────────────
	a.server = &http.Server{
		Addr:    cfg.Server.ListenAddr,
		Handler: observe.Middleware(a.metrics)(a.buildMux()),
	}

	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

// initTelemetry sets up the global OTel providers with the Prometheus
// exporter bridge, unless a metrics bundle was injected.
func (a *App) initTelemetry(ctx context.Context) error {
	if a.metrics != nil {
		return nil // injected
	}

	shutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName: "ghostwriter",
	})
	if err != nil {
		return err
	}
	a.closers = append(a.closers, func() error {
		ctx, cancel := context.WithTimeout(context.Background(), serveDrainTimeout)
		defer cancel()
		return shutdown(ctx)
	})

	a.metrics = observe.DefaultMetrics()
	return nil
}

// initDevice builds the miniaudio device from the capture config if none
// was injected.
func (a *App) initDevice() error {
	if a.device != nil {
		return nil
	}

	format, err := audio.ParseSampleFormat(a.cfg.Capture.SampleFormat)
	if err != nil {
		return err
	}
	a.device = loopback.New(loopback.Config{
		SampleRate: a.cfg.Capture.SampleRate,
		Channels:   a.cfg.Capture.Channels,
		Format:     format,
		DeviceType: string(a.cfg.Capture.DeviceType),
		QueueSize:  a.cfg.Capture.QueueSize,
	})
	return nil
}

// initRecorder builds the capture-and-encode core on top of the device.
func (a *App) initRecorder() error {
	floatMode, err := audio.ParseFloatConversion(a.cfg.Capture.FloatConversion)
	if err != nil {
		return err
	}

	rec, err := recorder.New(recorder.Config{
		Device:       a.device,
		PollInterval: time.Duration(a.cfg.Capture.PollIntervalMS) * time.Millisecond,
		FloatMode:    floatMode,
		TapBuffer:    a.cfg.Capture.TapBuffer,
		Metrics:      a.metrics,
	})
	if err != nil {
		return err
	}
	a.recorder = rec
	a.closers = append(a.closers, rec.Close)
	return nil
}

// buildMux assembles the full route table: control API, health probes, and
// the Prometheus scrape endpoint.
func (a *App) buildMux() *http.ServeMux {
	mux := http.NewServeMux()
	a.control.Register(mux)

	health.New(health.Checker{
		Name: "capture_device",
		Check: func(context.Context) error {
			if !a.recorder.Status().Initialized {
				return errors.New("capture session not initialized")
			}
			return nil
		},
	}).Register(mux)

	mux.Handle("GET /metrics", promhttp.Handler())
	return mux
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run performs the configured auto-initialize/auto-start steps, then serves
// the control API until ctx is cancelled or the server fails. When ctx is
// done the server drains gracefully and Run returns the context's error.
func (a *App) Run(ctx context.Context) error {
	a.autoCapture(ctx)

	ln, err := net.Listen("tcp", a.server.Addr)
	if err != nil {
		return fmt.Errorf("app: listen on %q: %w", a.server.Addr, err)
	}
	a.addrMu.Lock()
	a.addr = ln.Addr().String()
	a.addrMu.Unlock()

	tlsCfg := a.cfg.Server.TLS
	slog.Info("control api listening", "addr", a.addr, "tls", tlsCfg != nil)

	eg, egCtx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		var err error
		if tlsCfg != nil {
			err = a.server.ServeTLS(ln, tlsCfg.CertFile, tlsCfg.KeyFile)
		} else {
			err = a.server.Serve(ln)
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})
	eg.Go(func() error {
		<-egCtx.Done()
		drainCtx, cancel := context.WithTimeout(context.Background(), serveDrainTimeout)
		defer cancel()
		if err := a.server.Shutdown(drainCtx); err != nil {
			slog.Warn("http server drain", "err", err)
		}
		return egCtx.Err()
	})
	return eg.Wait()
}

// autoCapture applies the capture.auto_initialize and capture.auto_start
// config switches. Failures are logged rather than fatal so the control API
// still comes up and an operator can retry via POST /v1/capture/initialize.
func (a *App) autoCapture(ctx context.Context) {
	if !a.cfg.Capture.AutoInitialize {
		return
	}
	if err := a.recorder.Initialize(ctx); err != nil {
		slog.Warn("auto-initialize failed", "err", err)
		return
	}
	if !a.cfg.Capture.AutoStart {
		return
	}
	if err := a.recorder.Start(); err != nil {
		slog.Warn("auto-start failed", "err", err)
		return
	}
	slog.Info("capture auto-started")
}

// Addr returns the bound listen address once Run has opened the listener,
// or "" before that. Useful when the configured address leaves the port 0.
func (a *App) Addr() string {
	a.addrMu.Lock()
	defer a.addrMu.Unlock()
	return a.addr
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown tears everything down: the HTTP server stops accepting requests,
// then the closers run in reverse-init order, so the recorder releases its
// session before telemetry flushes. It respects the context deadline: if
// ctx expires before all closers finish, remaining closers are skipped and
// the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))

		// Stop accepting requests first. Run's drain usually got here
		// already, in which case this returns immediately.
		if err := a.server.Shutdown(ctx); err != nil {
			slog.Warn("http server shutdown error", "err", err)
		}

		for i := len(a.closers) - 1; i >= 0; i-- {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", i+1)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := a.closers[i](); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}
