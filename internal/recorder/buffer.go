package recorder

import "sync"

// Snapshot is an independent copy of the accumulation buffer at one
// instant, tagged with the stream format the samples were captured at.
type Snapshot struct {
	Samples    []int16
	SampleRate int
	Channels   int
}

// buffer accumulates normalized interleaved samples across a capture run.
// One mutex serialises the drain goroutine's appends against caller-facing
// snapshots, clears, and head drops. Export I/O never runs under the lock;
// exports snapshot first and drop the snapshotted prefix afterwards.
type buffer struct {
	mu         sync.Mutex
	samples    []int16
	sampleRate int
	channels   int
}

// Append adds samples and updates the format tag. The tag is
// last-write-wins; a mid-run device format change is not reconciled.
func (b *buffer) Append(samples []int16, sampleRate, channels int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.samples = append(b.samples, samples...)
	b.sampleRate = sampleRate
	b.channels = channels
}

// Clear empties the buffer and zeroes the format tag.
func (b *buffer) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.samples = nil
	b.sampleRate = 0
	b.channels = 0
}

// Snapshot returns an independent copy of the current contents and tag.
func (b *buffer) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	cp := make([]int16, len(b.samples))
	copy(cp, b.samples)
	return Snapshot{Samples: cp, SampleRate: b.sampleRate, Channels: b.channels}
}

// DropHead removes the first n samples. The remainder is copied to a fresh
// backing array so the dropped prefix does not stay pinned. Samples
// appended after the corresponding Snapshot was taken survive; the format
// tag persists.
func (b *buffer) DropHead(n int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if n <= 0 {
		return
	}
	if n >= len(b.samples) {
		b.samples = nil
		return
	}
	rest := make([]int16, len(b.samples)-n)
	copy(rest, b.samples[n:])
	b.samples = rest
}

// Len returns the buffered sample count.
func (b *buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.samples)
}

// Format returns the current format tag.
func (b *buffer) Format() (sampleRate, channels int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.sampleRate, b.channels
}
