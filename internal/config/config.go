// Package config provides the configuration schema and loader for the
// ghostWriter capture daemon.
package config

import "log/slog"

// LogLevel controls log verbosity for the ghostWriter daemon.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Level converts l to the corresponding slog.Level, making LogLevel a
// [slog.Leveler]. Unrecognised values map to info.
func (l LogLevel) Level() slog.Level {
	switch l {
	case LogDebug:
		return slog.LevelDebug
	case LogWarn:
		return slog.LevelWarn
	case LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// DeviceType selects which endpoint the capture device opens.
type DeviceType string

const (
	// DeviceLoopback records the default render endpoint, i.e. whatever
	// the machine is playing.
	DeviceLoopback DeviceType = "loopback"

	// DeviceMicrophone records the default input endpoint instead, for
	// hosts without a loopback-capable backend.
	DeviceMicrophone DeviceType = "microphone"
)

// IsValid reports whether d is a recognised device type.
func (d DeviceType) IsValid() bool {
	return d == DeviceLoopback || d == DeviceMicrophone
}

// Config is the root configuration structure for ghostWriter.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Capture CaptureConfig `yaml:"capture"`
	Export  ExportConfig  `yaml:"export"`
}

// ServerConfig holds network and logging settings for the control server.
type ServerConfig struct {
	// ListenAddr is the TCP address the server listens on (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// TLS configures TLS for the server. When nil, the server runs plain HTTP.
	TLS *TLSConfig `yaml:"tls"`
}

// TLSConfig holds TLS certificate paths for enabling HTTPS.
type TLSConfig struct {
	// CertFile is the path to the PEM-encoded TLS certificate.
	CertFile string `yaml:"cert_file"`

	// KeyFile is the path to the PEM-encoded TLS private key.
	KeyFile string `yaml:"key_file"`
}

// CaptureConfig holds the device request and drain loop settings.
type CaptureConfig struct {
	// SampleRate requested from the audio backend in Hz. 0 selects the
	// 48000 default.
	SampleRate int `yaml:"sample_rate"`

	// Channels requested from the audio backend. 0 selects stereo.
	Channels int `yaml:"channels"`

	// SampleFormat selects the wire format packets are delivered in:
	// "float32" (default) or "int16".
	SampleFormat string `yaml:"sample_format"`

	// DeviceType selects "loopback" (default) or "microphone" capture.
	DeviceType DeviceType `yaml:"device_type"`

	// FloatConversion selects how float32 samples map to int16:
	// "truncate" (default) or "round".
	FloatConversion string `yaml:"float_conversion"`

	// PollIntervalMS is the drain loop sleep in milliseconds once the
	// packet queue is empty. 0 selects the 10ms default.
	PollIntervalMS int `yaml:"poll_interval_ms"`

	// QueueSize bounds the packets buffered between the audio thread and
	// the drain loop. 0 selects the default of 64.
	QueueSize int `yaml:"queue_size"`

	// TapBuffer is the per-subscriber channel capacity of the live PCM
	// tap. 0 selects the default of 8.
	TapBuffer int `yaml:"tap_buffer"`

	// AutoInitialize opens the capture device at boot. Failures are
	// logged, not fatal; the device can be initialized later via the API.
	AutoInitialize bool `yaml:"auto_initialize"`

	// AutoStart begins capturing immediately after a successful boot-time
	// initialization.
	AutoStart bool `yaml:"auto_start"`
}

// ExportConfig holds defaults for the export endpoints.
type ExportConfig struct {
	// Directory receives generated export files when a request does not
	// name a path. Created at startup if missing. Defaults to the working
	// directory.
	Directory string `yaml:"directory"`

	// SampleRate is the default target rate for exports in Hz. 0 selects
	// 16000, the usual speech processing rate.
	SampleRate int `yaml:"sample_rate"`

	// FilenamePrefix is the basename prefix of generated export files.
	// Defaults to "capture".
	FilenamePrefix string `yaml:"filename_prefix"`
}

// Default returns the configuration used when no config file is given:
// loopback capture at the backend defaults, exports to the working
// directory at 16kHz, plain HTTP on :8080.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			ListenAddr: ":8080",
			LogLevel:   LogInfo,
		},
		Capture: CaptureConfig{
			DeviceType: DeviceLoopback,
		},
		Export: ExportConfig{
			Directory:      ".",
			SampleRate:     16000,
			FilenamePrefix: "capture",
		},
	}
}
