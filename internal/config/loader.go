package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"

	"github.com/ReaperCord/ghostWriter/pkg/audio"
)

// commonSampleRates lists rates real audio endpoints run at. Used by
// [Validate] to warn about likely typos without rejecting exotic setups.
var commonSampleRates = []int{8000, 11025, 16000, 22050, 24000, 32000, 44100, 48000, 88200, 96000, 176400, 192000}

// Load reads the YAML configuration file at path and returns a validated
// [Config]. It is a thin file-opening wrapper around [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
// Tests feed it string literals directly.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg holds a coherent set of values and reports every
// failure it finds in one joined error.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if tls := cfg.Server.TLS; tls != nil {
		if tls.CertFile == "" {
			errs = append(errs, errors.New("server.tls.cert_file is required when tls is set"))
		}
		if tls.KeyFile == "" {
			errs = append(errs, errors.New("server.tls.key_file is required when tls is set"))
		}
	}

	// Capture
	if cfg.Capture.SampleRate < 0 {
		errs = append(errs, fmt.Errorf("capture.sample_rate %d must not be negative", cfg.Capture.SampleRate))
	}
	warnUnusualRate("capture.sample_rate", cfg.Capture.SampleRate)
	if cfg.Capture.Channels < 0 {
		errs = append(errs, fmt.Errorf("capture.channels %d must not be negative", cfg.Capture.Channels))
	}
	if cfg.Capture.Channels > 8 {
		slog.Warn("capture.channels is unusually high; the export downmix averages all of them",
			"channels", cfg.Capture.Channels,
		)
	}
	if _, err := audio.ParseSampleFormat(cfg.Capture.SampleFormat); err != nil {
		errs = append(errs, fmt.Errorf("capture.sample_format: %w", err))
	}
	if cfg.Capture.DeviceType != "" && !cfg.Capture.DeviceType.IsValid() {
		errs = append(errs, fmt.Errorf("capture.device_type %q is invalid; valid values: loopback, microphone", cfg.Capture.DeviceType))
	}
	if _, err := audio.ParseFloatConversion(cfg.Capture.FloatConversion); err != nil {
		errs = append(errs, fmt.Errorf("capture.float_conversion: %w", err))
	}
	if cfg.Capture.PollIntervalMS < 0 {
		errs = append(errs, fmt.Errorf("capture.poll_interval_ms %d must not be negative", cfg.Capture.PollIntervalMS))
	}
	if cfg.Capture.PollIntervalMS > 1000 {
		slog.Warn("capture.poll_interval_ms above one second makes capture bursty and risks device buffer overruns",
			"poll_interval_ms", cfg.Capture.PollIntervalMS,
		)
	}
	if cfg.Capture.QueueSize < 0 {
		errs = append(errs, fmt.Errorf("capture.queue_size %d must not be negative", cfg.Capture.QueueSize))
	}
	if cfg.Capture.TapBuffer < 0 {
		errs = append(errs, fmt.Errorf("capture.tap_buffer %d must not be negative", cfg.Capture.TapBuffer))
	}
	if cfg.Capture.AutoStart && !cfg.Capture.AutoInitialize {
		slog.Warn("capture.auto_start is set without capture.auto_initialize; capture will not start until the device is initialized via the API")
	}

	// Export
	if cfg.Export.SampleRate < 0 {
		errs = append(errs, fmt.Errorf("export.sample_rate %d must not be negative", cfg.Export.SampleRate))
	}
	warnUnusualRate("export.sample_rate", cfg.Export.SampleRate)

	return errors.Join(errs...)
}

// warnUnusualRate logs a warning if rate is non-zero and not a rate real
// endpoints commonly run at.
func warnUnusualRate(field string, rate int) {
	if rate <= 0 {
		return
	}
	if slices.Contains(commonSampleRates, rate) {
		return
	}
	slog.Warn("unusual sample rate — may be a typo",
		"field", field,
		"rate", rate,
		"common", commonSampleRates,
	)
}
