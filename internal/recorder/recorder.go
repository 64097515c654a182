// Package recorder implements the loopback capture core: a state machine
// around one capture session, a polling drain loop that normalizes device
// packets into an accumulation buffer, and the destructive WAV export.
//
// A [Recorder] moves between two states. Idle means no drain goroutine is
// running; Running means exactly one is. [Recorder.Initialize] opens the
// collaborator session and may be retried after a failure,
// [Recorder.Start] launches a capture run, and [Recorder.Stop] blocks
// until the drain goroutine has fully exited, guaranteeing no appends
// happen afterwards. Exports may run in either state.
//
// All methods are safe for concurrent use.
package recorder

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ReaperCord/ghostWriter/internal/observe"
	"github.com/ReaperCord/ghostWriter/pkg/audio"
	"github.com/ReaperCord/ghostWriter/pkg/capture"
)

// Default capture loop parameters.
const (
	defaultPollInterval = 10 * time.Millisecond
	defaultTapBuffer    = 8
)

// Config configures a [Recorder].
type Config struct {
	// Device activates capture sessions. Required.
	Device capture.Device

	// PollInterval is the sleep between drain passes once the session's
	// packet queue is empty. Defaults to 10ms if zero.
	PollInterval time.Duration

	// FloatMode selects how float32 samples are converted to int16.
	// Defaults to truncation, matching native capture stacks.
	FloatMode audio.FloatConversion

	// TapBuffer is the channel capacity of each live subscriber. Defaults
	// to 8 batches if zero.
	TapBuffer int

	// Metrics receives capture instrumentation. Defaults to
	// [observe.DefaultMetrics] if nil.
	Metrics *observe.Metrics
}

// Status is a point-in-time view of the recorder for the control surface.
type Status struct {
	State            string        `json:"state"`
	RunID            string        `json:"run_id,omitempty"`
	Initialized      bool          `json:"initialized"`
	SampleRate       int           `json:"sample_rate,omitempty"`
	Channels         int           `json:"channels,omitempty"`
	SampleFormat     string        `json:"sample_format,omitempty"`
	FloatConversion  string        `json:"float_conversion"`
	BufferedSamples  int           `json:"buffered_samples"`
	BufferedDuration time.Duration `json:"buffered_duration"`
	LastError        string        `json:"last_error,omitempty"`
}

// ExportResult reports what a successful export produced.
type ExportResult struct {
	// Path of the written file; empty for streamed exports.
	Path string `json:"path,omitempty"`

	// SampleRate of the exported audio in Hz.
	SampleRate int `json:"sample_rate"`

	// Samples is the mono sample count after downmix and resample.
	Samples int `json:"samples"`

	// Bytes is the total container size including the header.
	Bytes int `json:"bytes"`
}

// captureRun holds the per-run identity and the signalling channels shared
// between the drain goroutine and Stop.
type captureRun struct {
	id       string
	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once

	// Warn-once guards so a misbehaving stream cannot flood the log.
	unsupportedOnce sync.Once
	tapDropOnce     sync.Once
}

func newCaptureRun() *captureRun {
	return &captureRun{
		id:   uuid.NewString(),
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
}

// signalStop closes the stop channel once, reporting whether this call was
// the one that fired.
func (cr *captureRun) signalStop() bool {
	fired := false
	cr.stopOnce.Do(func() {
		close(cr.stop)
		fired = true
	})
	return fired
}

// Recorder is the capture-and-encode core. Create one with [New].
type Recorder struct {
	device       capture.Device
	pollInterval time.Duration
	floatMode    audio.FloatConversion
	tapBuffer    int
	metrics      *observe.Metrics

	buf buffer

	mu      sync.Mutex
	sess    capture.Session
	format  capture.StreamFormat
	running bool
	run     *captureRun

	errMu   sync.Mutex
	lastErr error

	tapMu   sync.Mutex
	taps    map[int]chan []int16
	nextTap int
}

// New creates a [Recorder] with the given configuration.
func New(cfg Config) (*Recorder, error) {
	if cfg.Device == nil {
		return nil, fmt.Errorf("recorder: config requires a capture device")
	}
	poll := cfg.PollInterval
	if poll <= 0 {
		poll = defaultPollInterval
	}
	tapBuffer := cfg.TapBuffer
	if tapBuffer <= 0 {
		tapBuffer = defaultTapBuffer
	}
	metrics := cfg.Metrics
	if metrics == nil {
		metrics = observe.DefaultMetrics()
	}
	return &Recorder{
		device:       cfg.Device,
		pollInterval: poll,
		floatMode:    cfg.FloatMode,
		tapBuffer:    tapBuffer,
		metrics:      metrics,
		taps:         make(map[int]chan []int16),
	}, nil
}

// Initialize opens a capture session via the configured device. It may be
// called again after a failure, or to replace a closed session. Fails with
// [ErrAlreadyRunning] while a capture run is in progress.
func (r *Recorder) Initialize(ctx context.Context) error {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		err := fmt.Errorf("recorder: initialize: %w", ErrAlreadyRunning)
		r.setLastError(err)
		return err
	}
	r.mu.Unlock()

	sess, err := r.device.Open(ctx)
	if err != nil {
		wrapped := fmt.Errorf("recorder: open capture device: %w", err)
		r.setLastError(wrapped)
		return wrapped
	}
	format := sess.StreamFormat()

	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		sess.Close()
		err := fmt.Errorf("recorder: initialize: %w", ErrAlreadyRunning)
		r.setLastError(err)
		return err
	}
	old := r.sess
	r.sess = sess
	r.format = format
	r.mu.Unlock()

	if old != nil {
		if err := old.Close(); err != nil {
			slog.Warn("closing previous capture session", "err", err)
		}
	}

	if format.Sample == audio.SampleFormatUnknown {
		slog.Warn("capture stream reports an unknown sample format, packets will be dropped",
			"sample_rate", format.SampleRate,
			"channels", format.Channels,
		)
	}
	slog.Info("capture session initialized",
		"sample_rate", format.SampleRate,
		"channels", format.Channels,
		"sample_format", format.Sample.String(),
	)
	return nil
}

// Start clears the accumulation buffer, starts the session's stream, and
// launches the drain goroutine. Returns [ErrNotInitialized] without a
// session and [ErrAlreadyRunning] when a run is already in progress.
func (r *Recorder) Start() error {
	r.mu.Lock()
	if r.sess == nil {
		r.mu.Unlock()
		err := fmt.Errorf("recorder: start: %w", ErrNotInitialized)
		r.setLastError(err)
		return err
	}
	if r.running {
		r.mu.Unlock()
		err := fmt.Errorf("recorder: start: %w", ErrAlreadyRunning)
		r.setLastError(err)
		return err
	}
	sess := r.sess
	format := r.format
	run := newCaptureRun()
	r.run = run
	r.running = true
	r.mu.Unlock()

	r.buf.Clear()

	if err := sess.Start(); err != nil {
		r.mu.Lock()
		r.running = false
		r.run = nil
		r.mu.Unlock()
		wrapped := fmt.Errorf("recorder: start stream: %w", err)
		r.setLastError(wrapped)
		return wrapped
	}

	go r.drain(sess, format, run)

	slog.Info("capture started",
		"run_id", run.id,
		"sample_rate", format.SampleRate,
		"channels", format.Channels,
		"sample_format", format.Sample.String(),
	)
	return nil
}

// Stop signals the drain goroutine and blocks until it has fully exited.
// No samples are appended after Stop returns. No-op when Idle; safe to
// call repeatedly and after a stream fault.
func (r *Recorder) Stop() {
	r.mu.Lock()
	run := r.run
	r.mu.Unlock()
	if run == nil {
		return
	}
	fired := run.signalStop()
	<-run.done
	if fired {
		slog.Info("capture stopped",
			"run_id", run.id,
			"buffered_samples", r.buf.Len(),
		)
	}
}

// Close stops any running capture and releases the session. The recorder
// returns to the uninitialized state; Initialize may be called again.
func (r *Recorder) Close() error {
	r.Stop()

	r.mu.Lock()
	sess := r.sess
	r.sess = nil
	r.format = capture.StreamFormat{}
	r.mu.Unlock()

	if sess == nil {
		return nil
	}
	if err := sess.Close(); err != nil {
		return fmt.Errorf("recorder: close session: %w", err)
	}
	return nil
}

// IsCapturing reports whether a drain goroutine is currently running.
func (r *Recorder) IsCapturing() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

// SampleRate returns the session's sample rate in Hz, 0 when
// uninitialized.
func (r *Recorder) SampleRate() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.format.SampleRate
}

// Channels returns the session's channel count, 0 when uninitialized.
func (r *Recorder) Channels() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.format.Channels
}

// LastError returns the message of the most recent error, or "" if none
// occurred yet. Errors stick until overwritten by a later failure.
func (r *Recorder) LastError() string {
	r.errMu.Lock()
	defer r.errMu.Unlock()
	if r.lastErr == nil {
		return ""
	}
	return r.lastErr.Error()
}

func (r *Recorder) setLastError(err error) {
	r.errMu.Lock()
	r.lastErr = err
	r.errMu.Unlock()
}

// Status returns a point-in-time view for the control surface.
func (r *Recorder) Status() Status {
	r.mu.Lock()
	st := Status{
		State:           "idle",
		Initialized:     r.sess != nil,
		FloatConversion: r.floatMode.String(),
	}
	if r.running {
		st.State = "capturing"
	}
	if r.run != nil {
		st.RunID = r.run.id
	}
	if r.sess != nil {
		st.SampleRate = r.format.SampleRate
		st.Channels = r.format.Channels
		st.SampleFormat = r.format.Sample.String()
	}
	r.mu.Unlock()

	st.BufferedSamples = r.buf.Len()
	rate, channels := r.buf.Format()
	if rate > 0 && channels > 0 {
		st.BufferedDuration = time.Duration(int64(st.BufferedSamples) * int64(time.Second) / int64(rate*channels))
	}
	st.LastError = r.LastError()
	return st
}

// Subscribe registers a live tap that receives every normalized non-silent
// sample batch appended during capture. Batches are shared slices and must
// be treated as read-only. A subscriber that does not keep up loses
// batches rather than stalling the capture loop. The returned cancel
// function closes the channel and is idempotent.
func (r *Recorder) Subscribe() (<-chan []int16, func()) {
	ch := make(chan []int16, r.tapBuffer)
	r.tapMu.Lock()
	id := r.nextTap
	r.nextTap++
	r.taps[id] = ch
	r.tapMu.Unlock()

	cancel := func() {
		r.tapMu.Lock()
		defer r.tapMu.Unlock()
		if _, ok := r.taps[id]; ok {
			delete(r.taps, id)
			close(ch)
		}
	}
	return ch, cancel
}

// publish fans a sample batch out to all taps without blocking.
func (r *Recorder) publish(run *captureRun, samples []int16) {
	r.tapMu.Lock()
	defer r.tapMu.Unlock()
	for _, ch := range r.taps {
		select {
		case ch <- samples:
		default:
			r.metrics.RecordTapDrop(context.Background())
			run.tapDropOnce.Do(func() {
				slog.Warn("live subscriber too slow, dropping batches", "run_id", run.id)
			})
		}
	}
}

// drain is the capture goroutine: it repeatedly empties the session's
// packet queue, then sleeps for the poll interval or until stopped. On
// exit it halts the stream, marks the recorder idle, and releases Stop.
func (r *Recorder) drain(sess capture.Session, format capture.StreamFormat, run *captureRun) {
	defer close(run.done)
	defer func() {
		r.mu.Lock()
		r.running = false
		r.mu.Unlock()
	}()
	defer func() {
		if err := sess.Stop(); err != nil {
			slog.Warn("stopping capture stream", "run_id", run.id, "err", err)
		}
	}()

	ticker := time.NewTicker(r.pollInterval)
	defer ticker.Stop()

	for {
		if !r.drainPending(sess, format, run) {
			return
		}
		select {
		case <-run.stop:
			return
		case <-ticker.C:
		}
	}
}

// drainPending empties the session's packet queue into the buffer. Returns
// false when a collaborator error terminated the run.
func (r *Recorder) drainPending(sess capture.Session, format capture.StreamFormat, run *captureRun) bool {
	ctx := context.Background()
	for {
		n, err := sess.NextPacketSize()
		if err != nil {
			r.fault(run, "next packet size", err)
			return false
		}
		if n == 0 {
			return true
		}

		pkt, err := sess.ReadPacket()
		if err != nil {
			r.fault(run, "read packet", err)
			return false
		}

		samples, nerr := audio.Normalize(pkt.Data, pkt.Frames, format.Channels, format.Sample, r.floatMode)
		switch {
		case nerr != nil:
			// Bad packet, healthy stream: drop it and keep draining.
			r.setLastError(fmt.Errorf("recorder: normalize packet: %w", nerr))
			r.metrics.RecordPacket(ctx, "unsupported")
			run.unsupportedOnce.Do(func() {
				slog.Warn("dropping packets the normalizer cannot handle",
					"run_id", run.id,
					"err", nerr,
				)
			})
		case pkt.Silent:
			r.metrics.RecordPacket(ctx, "silent")
		default:
			r.buf.Append(samples, format.SampleRate, format.Channels)
			r.publish(run, samples)
			r.metrics.RecordPacket(ctx, "ok")
			r.metrics.AddSamples(ctx, len(samples))
		}

		if err := sess.ReleasePacket(pkt.Frames); err != nil {
			r.fault(run, "release packet", err)
			return false
		}
	}
}

// fault records a run-terminating collaborator error.
func (r *Recorder) fault(run *captureRun, op string, err error) {
	wrapped := fmt.Errorf("recorder: %s: %w", op, err)
	r.setLastError(wrapped)
	r.metrics.RecordStreamFault(context.Background(), op)
	slog.Error("capture stream fault, terminating run",
		"run_id", run.id,
		"op", op,
		"err", err,
	)
}

// ExportToFile snapshots the buffer, transforms it to mono PCM at
// targetRate, and writes a WAV file at path. On success the snapshotted
// samples are removed from the buffer; on any failure the buffer is left
// untouched. An empty buffer returns [ErrNothingCaptured] and creates no
// file.
func (r *Recorder) ExportToFile(path string, targetRate int) (ExportResult, error) {
	res, err := r.export(targetRate, func(samples []int16) (int, error) {
		if err := audio.WriteWAVFile(path, samples, targetRate); err != nil {
			return 0, err
		}
		return audio.WavHeaderSize + len(samples)*2, nil
	})
	if err != nil {
		return ExportResult{}, err
	}
	res.Path = path
	slog.Info("export written",
		"path", path,
		"sample_rate", res.SampleRate,
		"samples", res.Samples,
		"bytes", res.Bytes,
	)
	return res, nil
}

// ExportTo streams the WAV to w with the same semantics as ExportToFile.
// A partial network write counts as a failed export and preserves the
// buffer.
func (r *Recorder) ExportTo(w io.Writer, targetRate int) (ExportResult, error) {
	return r.export(targetRate, func(samples []int16) (int, error) {
		return audio.EncodeWAV(w, samples, targetRate)
	})
}

// export runs the shared snapshot-transform-write path. write returns the
// container byte count on success.
func (r *Recorder) export(targetRate int, write func([]int16) (int, error)) (ExportResult, error) {
	start := time.Now()
	ctx := context.Background()

	if targetRate <= 0 {
		err := fmt.Errorf("recorder: export: invalid target sample rate %d", targetRate)
		r.setLastError(err)
		return ExportResult{}, err
	}

	snap := r.buf.Snapshot()
	if len(snap.Samples) == 0 {
		err := fmt.Errorf("recorder: export: %w", ErrNothingCaptured)
		r.setLastError(err)
		r.metrics.RecordExport(ctx, "empty", time.Since(start).Seconds())
		return ExportResult{}, err
	}

	mono := audio.DownmixToMono(snap.Samples, snap.Channels)
	out := audio.Resample16(mono, snap.SampleRate, targetRate)

	n, err := write(out)
	if err != nil {
		wrapped := fmt.Errorf("recorder: export: %w", err)
		r.setLastError(wrapped)
		r.metrics.RecordExport(ctx, "error", time.Since(start).Seconds())
		return ExportResult{}, wrapped
	}

	r.buf.DropHead(len(snap.Samples))
	r.metrics.RecordExport(ctx, "ok", time.Since(start).Seconds())
	return ExportResult{SampleRate: targetRate, Samples: len(out), Bytes: n}, nil
}
