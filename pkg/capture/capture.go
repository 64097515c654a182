// Package capture defines the boundary between the recording core and the
// operating system's audio subsystem.
//
// A Device activates the host's default playback endpoint in loopback mode
// and hands back a Session. The Session is a pull-style packet source: the
// capture loop polls NextPacketSize, reads and releases one packet at a
// time, and brackets a capture run with Start and Stop. Device enumeration,
// format negotiation, and buffering strategy are implementation concerns;
// the core only sees the declared stream format and raw packets.
//
// Production sessions are backed by miniaudio (internal/capture/loopback);
// tests use the scripted doubles in pkg/capture/mock.
package capture

import (
	"context"

	"github.com/ReaperCord/ghostWriter/pkg/audio"
)

// StreamFormat describes the sample layout a Session delivers. It is fixed
// at activation and does not change for the lifetime of the session.
type StreamFormat struct {
	// SampleRate in Hz, e.g. 48000 for a typical shared-mode mix format.
	SampleRate int

	// Channels is the interleaved channel count, 2 for a stereo mix.
	Channels int

	// Sample is the wire encoding of each sample value.
	Sample audio.SampleFormat
}

// Packet is one contiguous batch of frames retrieved from the device
// buffer. Data holds Frames x Channels samples in the session's declared
// format, little-endian. Silent marks batches the device flagged as
// carrying no signal; their payload must not reach the recording.
type Packet struct {
	Frames int
	Data   []byte
	Silent bool
}

// Session is an activated loopback stream.
//
// The packet methods are called from a single draining goroutine, but Stop
// and Close may be called from another goroutine while the drain is
// between calls. Implementations must tolerate that interleaving.
type Session interface {
	// StreamFormat returns the format negotiated at activation.
	StreamFormat() StreamFormat

	// NextPacketSize returns the frame count of the next pending packet,
	// or 0 when the device buffer is currently drained.
	NextPacketSize() (int, error)

	// ReadPacket retrieves the next pending packet. The returned data is
	// owned by the caller. ReleasePacket must be called with the packet's
	// frame count before the next ReadPacket.
	ReadPacket() (Packet, error)

	// ReleasePacket returns the given number of frames to the device
	// buffer, completing the read.
	ReleasePacket(frames int) error

	// Start begins streaming into the device buffer.
	Start() error

	// Stop halts streaming. Packets already buffered remain readable.
	// Safe to call when not streaming.
	Stop() error

	// Close releases the underlying device resources. The session is
	// unusable afterwards. Close is idempotent.
	Close() error
}

// Device activates capture sessions against the audio subsystem. Open may
// be retried after a failure, and called again once a previous session is
// closed.
type Device interface {
	Open(ctx context.Context) (Session, error)
}
