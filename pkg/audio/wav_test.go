package audio_test

import (
	"bytes"
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"testing"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/ReaperCord/ghostWriter/pkg/audio"
)

func TestEncodeWAV_HeaderLayout(t *testing.T) {
	// One second of mono 16kHz audio: 16000 samples, 32000 data bytes.
	samples := make([]int16, 16000)
	for i := range samples {
		samples[i] = int16(i % 128)
	}

	var buf bytes.Buffer
	n, err := audio.EncodeWAV(&buf, samples, 16000)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if want := audio.WavHeaderSize + 32000; n != want {
		t.Fatalf("bytes written: got %d, want %d", n, want)
	}

	b := buf.Bytes()
	u16 := func(off int) uint16 { return binary.LittleEndian.Uint16(b[off:]) }
	u32 := func(off int) uint32 { return binary.LittleEndian.Uint32(b[off:]) }

	if string(b[0:4]) != "RIFF" {
		t.Errorf("chunk ID: got %q, want RIFF", b[0:4])
	}
	if got := u32(4); got != 36+32000 {
		t.Errorf("riff size: got %d, want %d", got, 36+32000)
	}
	if string(b[8:12]) != "WAVE" {
		t.Errorf("format: got %q, want WAVE", b[8:12])
	}
	if string(b[12:16]) != "fmt " {
		t.Errorf("fmt marker: got %q", b[12:16])
	}
	if got := u32(16); got != 16 {
		t.Errorf("fmt size: got %d, want 16", got)
	}
	if got := u16(20); got != 1 {
		t.Errorf("audio format: got %d, want 1 (PCM)", got)
	}
	if got := u16(22); got != 1 {
		t.Errorf("channels: got %d, want 1", got)
	}
	if got := u32(24); got != 16000 {
		t.Errorf("sample rate: got %d, want 16000", got)
	}
	if got := u32(28); got != 32000 {
		t.Errorf("byte rate: got %d, want 32000", got)
	}
	if got := u16(32); got != 2 {
		t.Errorf("block align: got %d, want 2", got)
	}
	if got := u16(34); got != 16 {
		t.Errorf("bits per sample: got %d, want 16", got)
	}
	if string(b[36:40]) != "data" {
		t.Errorf("data marker: got %q", b[36:40])
	}
	if got := u32(40); got != 32000 {
		t.Errorf("data size: got %d, want 32000", got)
	}
}

func TestEncodeWAV_DecodesWithReference(t *testing.T) {
	samples := []int16{0, 1000, -1000, 32767, -32768, 42}
	path := filepath.Join(t.TempDir(), "out.wav")
	if err := audio.WriteWAVFile(path, samples, 16000); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		t.Fatalf("reference decoder rejects file: %v", dec.Err())
	}
	if dec.NumChans != 1 {
		t.Errorf("channels: got %d, want 1", dec.NumChans)
	}
	if dec.SampleRate != 16000 {
		t.Errorf("sample rate: got %d, want 16000", dec.SampleRate)
	}
	pcm, err := dec.FullPCMBuffer()
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(pcm.Data) != len(samples) {
		t.Fatalf("decoded length: got %d, want %d", len(pcm.Data), len(samples))
	}
	for i := range samples {
		if int16(pcm.Data[i]) != samples[i] {
			t.Errorf("sample %d: got %d, want %d", i, pcm.Data[i], samples[i])
		}
	}
}

func TestEncodeWAV_AgreesWithReferenceEncoder(t *testing.T) {
	samples := []int16{100, -100, 5000, -5000, 0, 32767}

	// Reference container via go-audio's encoder.
	refPath := filepath.Join(t.TempDir(), "ref.wav")
	rf, err := os.Create(refPath)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	enc := wav.NewEncoder(rf, 16000, 16, 1, 1)
	intBuf := &goaudio.IntBuffer{
		Format:         &goaudio.Format{SampleRate: 16000, NumChannels: 1},
		Data:           make([]int, len(samples)),
		SourceBitDepth: 16,
	}
	for i, s := range samples {
		intBuf.Data[i] = int(s)
	}
	if err := enc.Write(intBuf); err != nil {
		t.Fatalf("reference encode: %v", err)
	}
	if err := enc.Close(); err != nil {
		t.Fatalf("reference close: %v", err)
	}
	rf.Close()

	var ours bytes.Buffer
	if _, err := audio.EncodeWAV(&ours, samples, 16000); err != nil {
		t.Fatalf("encode: %v", err)
	}

	// Both containers must decode to identical PCM.
	decode := func(r *wav.Decoder) []int {
		t.Helper()
		if !r.IsValidFile() {
			t.Fatalf("invalid wav: %v", r.Err())
		}
		buf, err := r.FullPCMBuffer()
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		return buf.Data
	}

	rf2, err := os.Open(refPath)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer rf2.Close()
	refData := decode(wav.NewDecoder(rf2))
	ourData := decode(wav.NewDecoder(bytes.NewReader(ours.Bytes())))

	if len(refData) != len(ourData) {
		t.Fatalf("length mismatch: reference %d, ours %d", len(refData), len(ourData))
	}
	for i := range refData {
		if refData[i] != ourData[i] {
			t.Errorf("sample %d: reference %d, ours %d", i, refData[i], ourData[i])
		}
	}
}

func TestWriteWAVFile_Size(t *testing.T) {
	samples := []int16{1, 2, 3, 4, 5}
	path := filepath.Join(t.TempDir(), "sized.wav")
	if err := audio.WriteWAVFile(path, samples, 44100); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if want := int64(audio.WavHeaderSize + len(samples)*2); info.Size() != want {
		t.Errorf("file size: got %d, want %d", info.Size(), want)
	}
}

func TestWriteWAVFile_BadPath(t *testing.T) {
	err := audio.WriteWAVFile(filepath.Join(t.TempDir(), "missing", "out.wav"), []int16{1}, 16000)
	if err == nil {
		t.Error("expected error for unwritable path")
	}
}

func TestEncodeWAV_WriteFailure(t *testing.T) {
	w := &failingWriter{failAfter: 10}
	_, err := audio.EncodeWAV(w, []int16{1, 2, 3}, 16000)
	if err == nil {
		t.Fatal("expected error from failing writer")
	}
	if !errors.Is(err, errWriteRefused) {
		t.Errorf("expected wrapped writer error, got %v", err)
	}
}

func TestEncodeWAV_InvalidRate(t *testing.T) {
	var buf bytes.Buffer
	if _, err := audio.EncodeWAV(&buf, []int16{1}, 0); err == nil {
		t.Error("expected error for zero sample rate")
	}
	if buf.Len() != 0 {
		t.Errorf("expected no bytes written, got %d", buf.Len())
	}
}

var errWriteRefused = errors.New("write refused")

// failingWriter accepts failAfter bytes then refuses further writes.
type failingWriter struct {
	failAfter int
	written   int
}

func (w *failingWriter) Write(p []byte) (int, error) {
	if w.written+len(p) > w.failAfter {
		n := w.failAfter - w.written
		if n < 0 {
			n = 0
		}
		w.written += n
		return n, errWriteRefused
	}
	w.written += len(p)
	return len(p), nil
}
