package app_test

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/ReaperCord/ghostWriter/internal/app"
	"github.com/ReaperCord/ghostWriter/internal/config"
	"github.com/ReaperCord/ghostWriter/internal/observe"
	"github.com/ReaperCord/ghostWriter/pkg/audio"
	"github.com/ReaperCord/ghostWriter/pkg/capture"
	"github.com/ReaperCord/ghostWriter/pkg/capture/mock"
)

// testConfig returns a config bound to an ephemeral port with a fast
// capture poll, writing exports into a per-test directory.
func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Server.ListenAddr = "127.0.0.1:0"
	cfg.Capture.PollIntervalMS = 2
	cfg.Export.Directory = t.TempDir()
	return cfg
}

// testMetrics builds a metrics bundle on a private meter provider so app
// construction never touches the global OTel or Prometheus state.
func testMetrics(t *testing.T) *observe.Metrics {
	t.Helper()
	mp := sdkmetric.NewMeterProvider()
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m
}

func waitFor(t *testing.T, timeout time.Duration, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// startApp runs the application in the background and waits for the control
// API listener to come up. Returns the base URL and the Run error channel.
func startApp(t *testing.T, application *app.App) (string, <-chan error, context.CancelFunc) {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		errCh <- application.Run(ctx)
	}()

	waitFor(t, 5*time.Second, "control api listener", func() bool {
		return application.Addr() != ""
	})
	return "http://" + application.Addr(), errCh, cancel
}

// stopApp cancels the run context, waits for Run to return, and shuts the
// application down.
func stopApp(t *testing.T, application *app.App, errCh <-chan error, cancel context.CancelFunc) {
	t.Helper()

	cancel()
	select {
	case err := <-errCh:
		if err != nil && err != context.Canceled {
			t.Fatalf("Run() returned unexpected error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run() did not return within 5s after context cancellation")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := application.Shutdown(shutdownCtx); err != nil {
		t.Fatalf("Shutdown() error: %v", err)
	}
}

// getStatus fetches /v1/capture/status and decodes the interesting fields.
func getStatus(t *testing.T, baseURL string) (state string, initialized bool, buffered int) {
	t.Helper()

	resp, err := http.Get(baseURL + "/v1/capture/status")
	if err != nil {
		t.Fatalf("GET status: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET status = %d, want %d", resp.StatusCode, http.StatusOK)
	}

	var body struct {
		OK              bool   `json:"ok"`
		State           string `json:"state"`
		Initialized     bool   `json:"initialized"`
		BufferedSamples int    `json:"buffered_samples"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if !body.OK {
		t.Fatalf("status ok = false, want true")
	}
	return body.State, body.Initialized, body.BufferedSamples
}

func TestNew_WithMocks(t *testing.T) {
	t.Parallel()

	application, err := app.New(
		context.Background(),
		testConfig(t),
		app.WithDevice(&mock.Device{}),
		app.WithMetrics(testMetrics(t)),
	)
	if err != nil {
		t.Fatalf("New() returned error: %v", err)
	}
	if application == nil {
		t.Fatal("New() returned nil app")
	}
	if got := application.Addr(); got != "" {
		t.Errorf("Addr() before Run = %q, want empty", got)
	}
}

func TestNew_RejectsUnknownSampleFormat(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	cfg.Capture.SampleFormat = "mp3"

	_, err := app.New(context.Background(), cfg, app.WithMetrics(testMetrics(t)))
	if err == nil {
		t.Fatal("New() with sample_format \"mp3\" returned nil error")
	}
}

func TestApp_ServesControlAPI(t *testing.T) {
	t.Parallel()

	application, err := app.New(
		context.Background(),
		testConfig(t),
		app.WithDevice(&mock.Device{}),
		app.WithMetrics(testMetrics(t)),
	)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	baseURL, errCh, cancel := startApp(t, application)
	defer stopApp(t, application, errCh, cancel)

	// Liveness is unconditional.
	resp, err := http.Get(baseURL + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("GET /healthz = %d, want %d", resp.StatusCode, http.StatusOK)
	}

	// Readiness fails until a capture session exists.
	resp, err = http.Get(baseURL + "/readyz")
	if err != nil {
		t.Fatalf("GET /readyz: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("GET /readyz before initialize = %d, want %d", resp.StatusCode, http.StatusServiceUnavailable)
	}

	state, initialized, _ := getStatus(t, baseURL)
	if state != "idle" || initialized {
		t.Errorf("status = (%q, initialized=%v), want (\"idle\", false)", state, initialized)
	}

	// The Prometheus scrape endpoint is always mounted.
	resp, err = http.Get(baseURL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("GET /metrics = %d, want %d", resp.StatusCode, http.StatusOK)
	}

	// Initializing through the API flips readiness.
	resp, err = http.Post(baseURL+"/v1/capture/initialize", "application/json", nil)
	if err != nil {
		t.Fatalf("POST initialize: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("POST initialize = %d, want %d", resp.StatusCode, http.StatusOK)
	}

	resp, err = http.Get(baseURL + "/readyz")
	if err != nil {
		t.Fatalf("GET /readyz: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("GET /readyz after initialize = %d, want %d", resp.StatusCode, http.StatusOK)
	}
}

func TestApp_AutoStartCapturesOnBoot(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	cfg.Capture.AutoInitialize = true
	cfg.Capture.AutoStart = true

	sess := mock.NewSession(capture.StreamFormat{
		SampleRate: 48000,
		Channels:   1,
		Sample:     audio.SampleFormatFloat32,
	})
	sess.Push(mock.Float32Packet([]float32{0.5, -0.5, 0.25}, 1))

	application, err := app.New(
		context.Background(),
		cfg,
		app.WithDevice(&mock.Device{Session: sess}),
		app.WithMetrics(testMetrics(t)),
	)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	baseURL, errCh, cancel := startApp(t, application)

	waitFor(t, 5*time.Second, "auto-started capture to buffer samples", func() bool {
		state, _, buffered := getStatus(t, baseURL)
		return state == "capturing" && buffered == 3
	})

	stopApp(t, application, errCh, cancel)

	// Shutdown must have stopped the run and released the session.
	if got := sess.StopCallCount(); got != 1 {
		t.Errorf("session Stop call count = %d, want 1", got)
	}
	if got := sess.CloseCallCount(); got != 1 {
		t.Errorf("session Close call count = %d, want 1", got)
	}
}

func TestApp_ShutdownOnlyRunsOnce(t *testing.T) {
	t.Parallel()

	sess := mock.NewSession(capture.StreamFormat{
		SampleRate: 48000,
		Channels:   2,
		Sample:     audio.SampleFormatFloat32,
	})
	application, err := app.New(
		context.Background(),
		testConfig(t),
		app.WithDevice(&mock.Device{Session: sess}),
		app.WithMetrics(testMetrics(t)),
	)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := application.Shutdown(ctx); err != nil {
		t.Fatalf("first Shutdown() error: %v", err)
	}
	if err := application.Shutdown(ctx); err != nil {
		t.Fatalf("second Shutdown() error: %v", err)
	}
}
