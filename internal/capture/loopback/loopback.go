// Package loopback implements the production capture.Device on top of
// miniaudio (malgo). It opens the default render endpoint in loopback
// mode, so the session delivers whatever the machine is currently playing.
//
// miniaudio pushes audio through a data callback on its own thread. The
// session bridges that into the pull-style capture.Session contract with a
// bounded packet queue: the callback appends, the capture loop drains.
// When the queue is full the newest packet is dropped, never blocking the
// audio thread.
//
// Loopback capture requires a WASAPI backend; on other platforms Open
// fails and the microphone device type is the practical fallback.
package loopback

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/gen2brain/malgo"

	"github.com/ReaperCord/ghostWriter/pkg/audio"
	"github.com/ReaperCord/ghostWriter/pkg/capture"
)

// Default device parameters, matching a typical shared-mode mix format.
const (
	defaultSampleRate = 48000
	defaultChannels   = 2
	defaultQueueSize  = 64
)

// DeviceTypeLoopback captures the render endpoint; DeviceTypeMicrophone
// captures the default input device instead, useful where loopback is not
// available.
const (
	DeviceTypeLoopback   = "loopback"
	DeviceTypeMicrophone = "microphone"
)

// ErrDeviceStopped is surfaced by the session when the backend halts the
// stream outside of Stop, e.g. because the endpoint disappeared.
var ErrDeviceStopped = errors.New("loopback: device stopped unexpectedly")

// Config configures a [Device].
type Config struct {
	// SampleRate requested from the backend in Hz. miniaudio converts to
	// the requested rate internally. Defaults to 48000 if zero.
	SampleRate int

	// Channels requested from the backend. Defaults to 2 if zero.
	Channels int

	// Format is the sample format packets are delivered in. Defaults to
	// float32 if unknown.
	Format audio.SampleFormat

	// DeviceType selects loopback or microphone capture. Defaults to
	// loopback if empty.
	DeviceType string

	// QueueSize bounds the packets buffered between the audio thread and
	// the capture loop. Defaults to 64 if zero.
	QueueSize int
}

// Device opens miniaudio capture sessions. Create one with [New].
type Device struct {
	cfg Config
}

// New returns a Device with defaults filled in.
func New(cfg Config) *Device {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = defaultSampleRate
	}
	if cfg.Channels <= 0 {
		cfg.Channels = defaultChannels
	}
	if cfg.Format == audio.SampleFormatUnknown {
		cfg.Format = audio.SampleFormatFloat32
	}
	if cfg.DeviceType == "" {
		cfg.DeviceType = DeviceTypeLoopback
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaultQueueSize
	}
	return &Device{cfg: cfg}
}

// Open initialises a miniaudio context and device for the configured
// endpoint. The stream is not started; the recorder does that per run.
func (d *Device) Open(_ context.Context) (capture.Session, error) {
	mctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, func(message string) {
		slog.Debug("miniaudio", "msg", strings.TrimSpace(message))
	})
	if err != nil {
		return nil, fmt.Errorf("loopback: init context: %w", err)
	}

	devType := malgo.Loopback
	if d.cfg.DeviceType == DeviceTypeMicrophone {
		devType = malgo.Capture
	}
	devCfg := malgo.DefaultDeviceConfig(devType)
	devCfg.Capture.Channels = uint32(d.cfg.Channels)
	devCfg.SampleRate = uint32(d.cfg.SampleRate)
	devCfg.Alsa.NoMMap = 1
	switch d.cfg.Format {
	case audio.SampleFormatInt16:
		devCfg.Capture.Format = malgo.FormatS16
	default:
		devCfg.Capture.Format = malgo.FormatF32
	}

	s := &session{
		format: capture.StreamFormat{
			SampleRate: d.cfg.SampleRate,
			Channels:   d.cfg.Channels,
			Sample:     d.cfg.Format,
		},
		mctx:     mctx,
		queueCap: d.cfg.QueueSize,
	}

	dev, err := malgo.InitDevice(mctx.Context, devCfg, malgo.DeviceCallbacks{
		Data: s.onData,
		Stop: s.onStop,
	})
	if err != nil {
		if uerr := mctx.Uninit(); uerr != nil {
			slog.Warn("uninit miniaudio context", "err", uerr)
		}
		mctx.Free()
		return nil, fmt.Errorf("loopback: init %s device: %w", d.cfg.DeviceType, err)
	}
	s.dev = dev

	slog.Info("capture device opened",
		"device_type", d.cfg.DeviceType,
		"sample_rate", d.cfg.SampleRate,
		"channels", d.cfg.Channels,
		"sample_format", d.cfg.Format.String(),
	)
	return s, nil
}

// Ensure Device implements capture.Device at compile time.
var _ capture.Device = (*Device)(nil)

// session bridges miniaudio's push callback into the pull-style
// capture.Session contract.
type session struct {
	format   capture.StreamFormat
	mctx     *malgo.AllocatedContext
	dev      *malgo.Device
	queueCap int

	mu       sync.Mutex
	queue    []capture.Packet
	stopping bool
	closed   bool
	stopped  bool // backend halted the stream outside Stop
	dropped  int

	dropOnce  sync.Once
	closeOnce sync.Once
}

// onData runs on the miniaudio audio thread. The input buffer is owned by
// the backend and must be copied before it is requeued. miniaudio does not
// surface the WASAPI silent flag, so packets are always marked audible.
func (s *session) onData(_, input []byte, frameCount uint32) {
	if frameCount == 0 || len(input) == 0 {
		return
	}
	data := make([]byte, len(input))
	copy(data, input)
	pkt := capture.Packet{Frames: int(frameCount), Data: data}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	if len(s.queue) >= s.queueCap {
		s.dropped++
		s.mu.Unlock()
		s.dropOnce.Do(func() {
			slog.Warn("capture queue full, dropping packets", "queue_size", s.queueCap)
		})
		return
	}
	s.queue = append(s.queue, pkt)
	s.mu.Unlock()
}

// onStop runs when the backend halts the stream. A halt that was not
// requested through Stop or Close marks the session faulted so the capture
// loop terminates its run instead of polling an empty queue forever.
func (s *session) onStop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.stopping && !s.closed {
		s.stopped = true
	}
}

func (s *session) StreamFormat() capture.StreamFormat {
	return s.format
}

// NextPacketSize reports the frames of the oldest queued packet. Once the
// queue has drained after an unrequested backend halt, it surfaces
// ErrDeviceStopped.
func (s *session) NextPacketSize() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.queue) == 0 {
		if s.stopped {
			return 0, ErrDeviceStopped
		}
		return 0, nil
	}
	return s.queue[0].Frames, nil
}

func (s *session) ReadPacket() (capture.Packet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.queue) == 0 {
		return capture.Packet{}, errors.New("loopback: no packet pending")
	}
	pkt := s.queue[0]
	s.queue = s.queue[1:]
	return pkt, nil
}

// ReleasePacket is a no-op: the queue slot was reclaimed by ReadPacket and
// the backend's own buffer was requeued when the callback returned.
func (s *session) ReleasePacket(int) error {
	return nil
}

func (s *session) Start() error {
	s.mu.Lock()
	s.stopping = false
	s.stopped = false
	s.mu.Unlock()
	if err := s.dev.Start(); err != nil {
		return fmt.Errorf("loopback: start device: %w", err)
	}
	return nil
}

func (s *session) Stop() error {
	s.mu.Lock()
	s.stopping = true
	s.mu.Unlock()
	if err := s.dev.Stop(); err != nil {
		return fmt.Errorf("loopback: stop device: %w", err)
	}
	return nil
}

func (s *session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		dropped := s.dropped
		s.queue = nil
		s.mu.Unlock()

		s.dev.Uninit()
		if uerr := s.mctx.Uninit(); uerr != nil {
			err = fmt.Errorf("loopback: uninit context: %w", uerr)
		}
		s.mctx.Free()

		if dropped > 0 {
			slog.Warn("capture session closed with dropped packets", "dropped", dropped)
		}
	})
	return err
}

// Ensure session implements capture.Session at compile time.
var _ capture.Session = (*session)(nil)
