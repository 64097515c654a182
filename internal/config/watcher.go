package config

import (
	"bytes"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"
)

// defaultWatchInterval is how often the watcher re-stats the config file.
const defaultWatchInterval = 5 * time.Second

// fingerprint identifies one on-disk state of the config file. Mtime and
// size come from stat and gate the cheap path; the sum settles whether the
// bytes actually changed.
type fingerprint struct {
	mtime time.Time
	size  int64
	sum   [sha256.Size]byte
}

// Watcher polls a config file and reports effective changes to a callback.
// Polling keeps the dependency surface flat; at a multi-second interval the
// stat cost is noise.
//
// Only changes that survive parsing, validation, and [Diff] reach the
// callback: touch-only writes, comment edits, and configs that fail
// validation are absorbed, and the previous config stays current.
type Watcher struct {
	path     string
	interval time.Duration
	onChange func(old, new *Config, d ConfigDiff)

	mu      sync.Mutex
	current *Config
	last    fingerprint

	done     chan struct{}
	stopOnce sync.Once
}

// WatcherOption adjusts how a [Watcher] polls.
type WatcherOption func(*Watcher)

// WithInterval overrides the default 5 second poll cadence.
func WithInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// NewWatcher loads the config at path, then polls it in a background
// goroutine until Stop. The callback receives the old and new configs plus
// their diff, so callers can apply the log level live and warn about fields
// that need a restart. A path that does not load is an immediate error, not
// a deferred one.
func NewWatcher(path string, onChange func(old, new *Config, d ConfigDiff), opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{
		path:     path,
		interval: defaultWatchInterval,
		onChange: onChange,
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}

	cfg, fp, err := w.read()
	if err != nil {
		return nil, fmt.Errorf("config: initial read for watcher: %w", err)
	}
	w.current = cfg
	w.last = fp

	go w.poll()
	return w, nil
}

// Current returns the last config that loaded and validated cleanly.
func (w *Watcher) Current() *Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// Stop halts the polling goroutine. Safe to call more than once.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.done)
	})
}

func (w *Watcher) poll() {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-w.done:
			return
		case <-ticker.C:
			w.check()
		}
	}
}

// check is one poll pass: stat, and only on a stat-visible change read,
// hash, parse, diff, and maybe swap the current config.
func (w *Watcher) check() {
	info, err := os.Stat(w.path)
	if err != nil {
		slog.Warn("config watcher: stat failed", "path", w.path, "err", err)
		return
	}

	w.mu.Lock()
	prev := w.last
	w.mu.Unlock()

	if info.ModTime().Equal(prev.mtime) && info.Size() == prev.size {
		return
	}

	cfg, fp, err := w.read()
	if err != nil {
		// Keep the previous config until a loadable one shows up. Editors
		// saving in two steps land here briefly, so warn, don't swap.
		slog.Warn("config watcher: new file content rejected, keeping previous config",
			"path", w.path, "err", err)
		return
	}

	w.mu.Lock()
	if fp.sum == w.last.sum {
		// Touched but byte-identical.
		w.last = fp
		w.mu.Unlock()
		return
	}

	old := w.current
	d := Diff(old, cfg)
	w.last = fp
	if !d.Any() {
		// Comment or formatting edit only.
		w.mu.Unlock()
		return
	}
	w.current = cfg
	w.mu.Unlock()

	slog.Info("config watcher: reload applied", "path", w.path)

	// The callback runs outside the lock so it may call Current().
	if w.onChange != nil {
		w.onChange(old, cfg, d)
	}
}

// read loads and validates the file at w.path and fingerprints the exact
// bytes that produced the config.
func (w *Watcher) read() (*Config, fingerprint, error) {
	data, err := os.ReadFile(w.path)
	if err != nil {
		return nil, fingerprint{}, err
	}
	info, err := os.Stat(w.path)
	if err != nil {
		return nil, fingerprint{}, err
	}

	cfg, err := LoadFromReader(bytes.NewReader(data))
	if err != nil {
		return nil, fingerprint{}, err
	}

	return cfg, fingerprint{
		mtime: info.ModTime(),
		size:  info.Size(),
		sum:   sha256.Sum256(data),
	}, nil
}
