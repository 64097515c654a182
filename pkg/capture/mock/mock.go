// Package mock provides test doubles for the capture package interfaces.
//
// Use Device to control session activation and Session to script the
// packet stream a capture loop drains. Push enqueues packets, the error
// fields make individual methods fail, and the Set*Err methods inject
// faults while a loop is already polling.
//
// Example:
//
//	sess := mock.NewSession(capture.StreamFormat{SampleRate: 48000, Channels: 2, Sample: audio.SampleFormatFloat32})
//	sess.Push(mock.Float32Packet([]float32{0.5, -0.5}, 2))
//	dev := &mock.Device{Session: sess}
package mock

import (
	"context"
	"encoding/binary"
	"errors"
	"math"
	"sync"

	"github.com/ReaperCord/ghostWriter/pkg/audio"
	"github.com/ReaperCord/ghostWriter/pkg/capture"
)

// OpenCall records a single invocation of Device.Open.
type OpenCall struct {
	// Ctx is the context passed to Open.
	Ctx context.Context
}

// Device is a mock implementation of capture.Device.
type Device struct {
	mu sync.Mutex

	// Session is returned by Open. If nil, Open returns a new default
	// Session with a 48kHz stereo float32 format.
	Session capture.Session

	// OpenErr, if non-nil, is returned as the error from Open.
	OpenErr error

	// OpenCalls records every call to Open.
	OpenCalls []OpenCall
}

// Open records the call and returns Session, OpenErr.
func (d *Device) Open(ctx context.Context) (capture.Session, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.OpenCalls = append(d.OpenCalls, OpenCall{Ctx: ctx})
	if d.OpenErr != nil {
		return nil, d.OpenErr
	}
	if d.Session != nil {
		return d.Session, nil
	}
	return NewSession(capture.StreamFormat{SampleRate: 48000, Channels: 2, Sample: audio.SampleFormatFloat32}), nil
}

// OpenCallCount returns the number of Open calls. Thread-safe.
func (d *Device) OpenCallCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.OpenCalls)
}

// SetOpenErr makes subsequent Open calls fail, or succeed again when err is
// nil. Thread-safe.
func (d *Device) SetOpenErr(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.OpenErr = err
}

// Ensure Device implements capture.Device at compile time.
var _ capture.Device = (*Device)(nil)

// ErrQueueEmpty is returned by ReadPacket when no packet is pending, which
// a well-behaved capture loop never triggers.
var ErrQueueEmpty = errors.New("mock: read on empty packet queue")

// Session is a mock implementation of capture.Session backed by a FIFO
// packet queue. The error fields may be set before the session is handed
// to a capture loop; use the Set*Err methods to inject a fault while the
// loop is polling.
type Session struct {
	mu sync.Mutex

	format capture.StreamFormat
	queue  []capture.Packet

	// NextErr, if non-nil, is returned by every NextPacketSize call.
	NextErr error

	// ReadErr, if non-nil, is returned by every ReadPacket call.
	ReadErr error

	// ReleaseErr, if non-nil, is returned by every ReleasePacket call.
	ReleaseErr error

	// StartErr, if non-nil, is returned by Start.
	StartErr error

	// StopErr, if non-nil, is returned by Stop.
	StopErr error

	// CloseErr, if non-nil, is returned by Close.
	CloseErr error

	// --- Call records ---

	// ReleaseCalls records the frame count of every ReleasePacket call.
	ReleaseCalls []int

	// StartCalls, StopCalls and CloseCalls count the respective calls.
	StartCalls int
	StopCalls  int
	CloseCalls int
}

// NewSession returns an empty scripted session with the given format.
func NewSession(format capture.StreamFormat) *Session {
	return &Session{format: format}
}

// Push appends packets to the scripted queue. Thread-safe, so tests can
// feed packets while a capture loop is draining.
func (s *Session) Push(pkts ...capture.Packet) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queue = append(s.queue, pkts...)
}

// StreamFormat returns the format the session was created with.
func (s *Session) StreamFormat() capture.StreamFormat {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.format
}

// NextPacketSize returns NextErr if set, otherwise the frame count of the
// head packet, or 0 when the queue is empty.
func (s *Session) NextPacketSize() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.NextErr != nil {
		return 0, s.NextErr
	}
	if len(s.queue) == 0 {
		return 0, nil
	}
	return s.queue[0].Frames, nil
}

// ReadPacket pops and returns the head packet. Returns ReadErr if set and
// ErrQueueEmpty when there is no pending packet.
func (s *Session) ReadPacket() (capture.Packet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ReadErr != nil {
		return capture.Packet{}, s.ReadErr
	}
	if len(s.queue) == 0 {
		return capture.Packet{}, ErrQueueEmpty
	}
	pkt := s.queue[0]
	s.queue = s.queue[1:]
	return pkt, nil
}

// ReleasePacket records the call and returns ReleaseErr.
func (s *Session) ReleasePacket(frames int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ReleaseCalls = append(s.ReleaseCalls, frames)
	return s.ReleaseErr
}

// Start records the call and returns StartErr.
func (s *Session) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.StartCalls++
	return s.StartErr
}

// Stop records the call and returns StopErr.
func (s *Session) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.StopCalls++
	return s.StopErr
}

// Close records the call and returns CloseErr.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CloseCalls++
	return s.CloseErr
}

// SetNextErr makes subsequent NextPacketSize calls fail. Thread-safe.
func (s *Session) SetNextErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.NextErr = err
}

// SetReadErr makes subsequent ReadPacket calls fail. Thread-safe.
func (s *Session) SetReadErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ReadErr = err
}

// SetReleaseErr makes subsequent ReleasePacket calls fail. Thread-safe.
func (s *Session) SetReleaseErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ReleaseErr = err
}

// QueueLen returns the number of pending packets. Thread-safe.
func (s *Session) QueueLen() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// ReleasedFrames returns the total frames handed back via ReleasePacket.
// Thread-safe.
func (s *Session) ReleasedFrames() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	total := 0
	for _, n := range s.ReleaseCalls {
		total += n
	}
	return total
}

// StartCallCount returns the number of Start calls. Thread-safe.
func (s *Session) StartCallCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.StartCalls
}

// StopCallCount returns the number of Stop calls. Thread-safe.
func (s *Session) StopCallCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.StopCalls
}

// CloseCallCount returns the number of Close calls. Thread-safe.
func (s *Session) CloseCallCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.CloseCalls
}

// Ensure Session implements capture.Session at compile time.
var _ capture.Session = (*Session)(nil)

// Float32Packet builds a non-silent packet of interleaved float32 samples
// in little-endian layout. len(samples) must be a multiple of channels.
func Float32Packet(samples []float32, channels int) capture.Packet {
	data := make([]byte, len(samples)*4)
	for i, v := range samples {
		binary.LittleEndian.PutUint32(data[i*4:], math.Float32bits(v))
	}
	return capture.Packet{Frames: len(samples) / channels, Data: data}
}

// Int16Packet builds a non-silent packet of interleaved int16 samples in
// little-endian layout. len(samples) must be a multiple of channels.
func Int16Packet(samples []int16, channels int) capture.Packet {
	data := make([]byte, len(samples)*2)
	for i, v := range samples {
		binary.LittleEndian.PutUint16(data[i*2:], uint16(v))
	}
	return capture.Packet{Frames: len(samples) / channels, Data: data}
}

// Silent returns a copy of p with the silent flag set.
func Silent(p capture.Packet) capture.Packet {
	p.Silent = true
	return p
}
