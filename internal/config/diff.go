package config

// ConfigDiff describes what changed between two loaded configs. The log level
// is the only setting that can be applied to a running process; every other
// change is reported in RestartNeeded so callers can warn about it.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// RestartNeeded lists the yaml paths of changed fields that only take
	// effect after a restart, e.g. "capture.sample_rate".
	RestartNeeded []string
}

// Any reports whether the diff contains any change at all.
func (d ConfigDiff) Any() bool {
	return d.LogLevelChanged || len(d.RestartNeeded) > 0
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	d.RestartNeeded = append(d.RestartNeeded, diffServer(old.Server, new.Server)...)
	d.RestartNeeded = append(d.RestartNeeded, diffCapture(old.Capture, new.Capture)...)
	d.RestartNeeded = append(d.RestartNeeded, diffExport(old.Export, new.Export)...)

	return d
}

// diffServer compares the server sections, excluding the log level.
func diffServer(old, new ServerConfig) []string {
	var changed []string

	if old.ListenAddr != new.ListenAddr {
		changed = append(changed, "server.listen_addr")
	}
	if !tlsEqual(old.TLS, new.TLS) {
		changed = append(changed, "server.tls")
	}

	return changed
}

func diffCapture(old, new CaptureConfig) []string {
	var changed []string

	if old.SampleRate != new.SampleRate {
		changed = append(changed, "capture.sample_rate")
	}
	if old.Channels != new.Channels {
		changed = append(changed, "capture.channels")
	}
	if old.SampleFormat != new.SampleFormat {
		changed = append(changed, "capture.sample_format")
	}
	if old.DeviceType != new.DeviceType {
		changed = append(changed, "capture.device_type")
	}
	if old.FloatConversion != new.FloatConversion {
		changed = append(changed, "capture.float_conversion")
	}
	if old.PollIntervalMS != new.PollIntervalMS {
		changed = append(changed, "capture.poll_interval_ms")
	}
	if old.QueueSize != new.QueueSize {
		changed = append(changed, "capture.queue_size")
	}
	if old.TapBuffer != new.TapBuffer {
		changed = append(changed, "capture.tap_buffer")
	}
	if old.AutoInitialize != new.AutoInitialize {
		changed = append(changed, "capture.auto_initialize")
	}
	if old.AutoStart != new.AutoStart {
		changed = append(changed, "capture.auto_start")
	}

	return changed
}

func diffExport(old, new ExportConfig) []string {
	var changed []string

	if old.Directory != new.Directory {
		changed = append(changed, "export.directory")
	}
	if old.SampleRate != new.SampleRate {
		changed = append(changed, "export.sample_rate")
	}
	if old.FilenamePrefix != new.FilenamePrefix {
		changed = append(changed, "export.filename_prefix")
	}

	return changed
}

func tlsEqual(a, b *TLSConfig) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
