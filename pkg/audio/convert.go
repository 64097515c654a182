// Package audio implements the PCM processing core of ghostWriter:
// normalization of device-native sample formats to 16-bit integer PCM,
// channel downmix, linear-interpolation resampling, and WAV encoding.
//
// All functions operate on interleaved little-endian samples and are
// deterministic: the same input always produces bit-identical output.
package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// ErrUnsupportedFormat is returned when a packet's sample format has no
// normalization path. Callers typically drop the packet and keep draining.
var ErrUnsupportedFormat = errors.New("audio: unsupported sample format")

// SampleFormat identifies the wire encoding of a single sample value as
// delivered by a capture stream.
type SampleFormat int

const (
	SampleFormatUnknown SampleFormat = iota

	// SampleFormatFloat32 is IEEE 754 32-bit float in [-1.0, 1.0], the
	// usual shared-mode mix format on desktop audio engines.
	SampleFormatFloat32

	// SampleFormatInt16 is 16-bit signed integer PCM, passed through
	// unchanged by Normalize.
	SampleFormatInt16
)

// Bytes returns the size of one sample in this format, or 0 when unknown.
func (f SampleFormat) Bytes() int {
	switch f {
	case SampleFormatFloat32:
		return 4
	case SampleFormatInt16:
		return 2
	default:
		return 0
	}
}

func (f SampleFormat) String() string {
	switch f {
	case SampleFormatFloat32:
		return "float32"
	case SampleFormatInt16:
		return "int16"
	default:
		return "unknown"
	}
}

// FloatConversion selects how scaled float samples are mapped to int16.
// Truncation matches the plain integer cast most native capture stacks
// use; rounding halves the worst-case quantization error but differs from
// them on almost every sample.
type FloatConversion int

const (
	FloatTruncate FloatConversion = iota
	FloatRound
)

func (c FloatConversion) String() string {
	if c == FloatRound {
		return "round"
	}
	return "truncate"
}

// ParseSampleFormat maps a config string to a SampleFormat. The empty
// string selects float32, the usual shared-mode mix format.
func ParseSampleFormat(s string) (SampleFormat, error) {
	switch s {
	case "", "float32", "f32":
		return SampleFormatFloat32, nil
	case "int16", "s16":
		return SampleFormatInt16, nil
	default:
		return SampleFormatUnknown, fmt.Errorf("audio: unknown sample format %q (want \"float32\" or \"int16\")", s)
	}
}

// ParseFloatConversion maps a config string to a FloatConversion. The
// empty string selects truncation.
func ParseFloatConversion(s string) (FloatConversion, error) {
	switch s {
	case "", "truncate":
		return FloatTruncate, nil
	case "round":
		return FloatRound, nil
	default:
		return FloatTruncate, fmt.Errorf("audio: unknown float conversion %q (want \"truncate\" or \"round\")", s)
	}
}

// Normalize converts one packet of raw interleaved sample data into int16
// PCM. frames and channels describe the packet layout declared by the
// stream; the byte length of data must match it exactly.
//
// Float32 samples are clamped to [-1.0, 1.0] and scaled by 32767 before
// conversion per mode. Int16 data is decoded without modification. Any
// other format returns ErrUnsupportedFormat.
func Normalize(data []byte, frames, channels int, format SampleFormat, mode FloatConversion) ([]int16, error) {
	n := frames * channels
	if n <= 0 {
		return nil, nil
	}

	switch format {
	case SampleFormatFloat32:
		if len(data) != n*4 {
			return nil, fmt.Errorf("audio: float32 packet is %d bytes, want %d for %d frames x %d channels", len(data), n*4, frames, channels)
		}
		out := make([]int16, n)
		for i := range n {
			v := math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
			out[i] = floatToPCM(v, mode)
		}
		return out, nil

	case SampleFormatInt16:
		if len(data) != n*2 {
			return nil, fmt.Errorf("audio: int16 packet is %d bytes, want %d for %d frames x %d channels", len(data), n*2, frames, channels)
		}
		out := make([]int16, n)
		for i := range n {
			out[i] = int16(binary.LittleEndian.Uint16(data[i*2:]))
		}
		return out, nil

	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, format)
	}
}

// floatToPCM clamps v to [-1.0, 1.0] and scales by 32767. NaN maps to 0.
func floatToPCM(v float32, mode FloatConversion) int16 {
	if math.IsNaN(float64(v)) {
		return 0
	}
	if v > 1.0 {
		v = 1.0
	} else if v < -1.0 {
		v = -1.0
	}
	scaled := float64(v) * 32767.0
	if mode == FloatRound {
		return int16(math.Round(scaled))
	}
	return int16(scaled)
}

// DownmixToMono folds interleaved multi-channel PCM to one sample per
// frame by averaging all channels in 32-bit arithmetic with truncating
// division. For stereo this is the exact (L+R)/2 fold. Mono input is
// returned as-is; a trailing partial frame is dropped.
func DownmixToMono(samples []int16, channels int) []int16 {
	if channels <= 1 {
		return samples
	}
	frames := len(samples) / channels
	out := make([]int16, frames)
	for i := range frames {
		var sum int32
		for c := range channels {
			sum += int32(samples[i*channels+c])
		}
		out[i] = int16(sum / int32(channels))
	}
	return out
}

// Resample16 converts mono 16-bit PCM from srcRate to dstRate using linear
// interpolation between neighbouring input samples. The output length is
// len(samples) * dstRate / srcRate rounded down; the final output sample
// clamps to the last input sample when the interpolation window runs past
// the tail. No anti-aliasing filter is applied.
//
// Identical rates, empty input, and non-positive rates return the input
// slice unchanged.
func Resample16(samples []int16, srcRate, dstRate int) []int16 {
	if srcRate <= 0 || dstRate <= 0 || srcRate == dstRate || len(samples) == 0 {
		return samples
	}

	dstLen := int(int64(len(samples)) * int64(dstRate) / int64(srcRate))
	if dstLen == 0 {
		return nil
	}

	out := make([]int16, dstLen)
	ratio := float64(srcRate) / float64(dstRate)
	for i := range dstLen {
		srcPos := float64(i) * ratio
		idx := int(srcPos)
		frac := srcPos - float64(idx)

		s0 := samples[idx]
		s1 := s0
		if idx+1 < len(samples) {
			s1 = samples[idx+1]
		}
		out[i] = int16(float64(s0)*(1-frac) + float64(s1)*frac)
	}
	return out
}

// PCMBytes returns the little-endian byte encoding of samples, the layout
// used both on the wire and inside WAV data chunks.
func PCMBytes(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}
