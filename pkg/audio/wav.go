package audio

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
)

// WavHeaderSize is the byte length of the canonical header written by
// EncodeWAV: RIFF chunk descriptor, PCM fmt sub-chunk, data sub-chunk
// header.
const WavHeaderSize = 44

// EncodeWAV serialises samples as a mono 16-bit little-endian PCM WAV
// stream and reports the total bytes written. The header is written first
// with final sizes, so w does not need to support seeking.
func EncodeWAV(w io.Writer, samples []int16, sampleRate int) (int, error) {
	if sampleRate <= 0 {
		return 0, fmt.Errorf("audio: invalid wav sample rate %d", sampleRate)
	}

	dataBytes := len(samples) * 2
	hdr := make([]byte, WavHeaderSize)
	copy(hdr[0:4], "RIFF")
	binary.LittleEndian.PutUint32(hdr[4:8], uint32(36+dataBytes))
	copy(hdr[8:12], "WAVE")
	copy(hdr[12:16], "fmt ")
	binary.LittleEndian.PutUint32(hdr[16:20], 16)                     // fmt sub-chunk size
	binary.LittleEndian.PutUint16(hdr[20:22], 1)                      // PCM
	binary.LittleEndian.PutUint16(hdr[22:24], 1)                      // mono
	binary.LittleEndian.PutUint32(hdr[24:28], uint32(sampleRate))     // sample rate
	binary.LittleEndian.PutUint32(hdr[28:32], uint32(sampleRate)*2)   // byte rate
	binary.LittleEndian.PutUint16(hdr[32:34], 2)                      // block align
	binary.LittleEndian.PutUint16(hdr[34:36], 16)                     // bits per sample
	copy(hdr[36:40], "data")
	binary.LittleEndian.PutUint32(hdr[40:44], uint32(dataBytes))

	written, err := w.Write(hdr)
	if err != nil {
		return written, fmt.Errorf("audio: write wav header: %w", err)
	}
	n, err := w.Write(PCMBytes(samples))
	written += n
	if err != nil {
		return written, fmt.Errorf("audio: write wav data: %w", err)
	}
	return written, nil
}

// WriteWAVFile creates path (truncating any existing file) and encodes
// samples into it via EncodeWAV. The file is not removed on a partial
// write; callers treat any error as a failed export.
func WriteWAVFile(path string, samples []int16, sampleRate int) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("audio: create %s: %w", path, err)
	}
	if _, err := EncodeWAV(f, samples, sampleRate); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("audio: close %s: %w", path, err)
	}
	return nil
}
