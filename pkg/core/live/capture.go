package live

import (
	"context"
	"encoding/base64"
	"sync"
	"sync/atomic"
	"time"
)

// OutboundAudioBatch is every frame captured since the previous flush, encoded
// for the wire. It is created per flush and never retained.
type OutboundAudioBatch struct {
	PCM        []byte
	Samples    int
	SampleRate int
	MIMEType   string
	Duration   time.Duration
	Level      float64 // RMS of the batch, 0..1
}

// Base64 returns the wire encoding of the PCM payload.
func (b OutboundAudioBatch) Base64() string {
	return base64.StdEncoding.EncodeToString(b.PCM)
}

// CaptureBuffer accumulates capture frames and flushes them as one batch at a
// wall-clock interval.
//
// Push is called from the audio callback goroutine; Flush and Run from the
// session. Frame order is preserved end to end.
type CaptureBuffer struct {
	mu      sync.Mutex
	frames  [][]float32
	samples int

	sampleRate int
	attached   atomic.Bool
}

// NewCaptureBuffer returns a detached buffer for mono audio at sampleRate.
func NewCaptureBuffer(sampleRate int) *CaptureBuffer {
	if sampleRate <= 0 {
		sampleRate = InputSampleRate
	}
	return &CaptureBuffer{sampleRate: sampleRate}
}

// Attach starts accepting frames.
func (b *CaptureBuffer) Attach() { b.attached.Store(true) }

// Detach stops accepting frames. Queued frames stay until Reset or Flush.
func (b *CaptureBuffer) Detach() { b.attached.Store(false) }

// Attached reports whether frames are being accepted.
func (b *CaptureBuffer) Attached() bool { return b.attached.Load() }

// Push appends a copy of frame. Frames pushed while detached are dropped.
func (b *CaptureBuffer) Push(frame []float32) bool {
	if len(frame) == 0 || !b.attached.Load() {
		return false
	}
	cp := make([]float32, len(frame))
	copy(cp, frame)

	b.mu.Lock()
	b.frames = append(b.frames, cp)
	b.samples += len(cp)
	b.mu.Unlock()
	return true
}

// Len returns the number of queued samples.
func (b *CaptureBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.samples
}

// Flush concatenates every queued frame in arrival order and clears the queue.
// It returns false when nothing was queued.
func (b *CaptureBuffer) Flush() (OutboundAudioBatch, bool) {
	b.mu.Lock()
	frames, samples := b.frames, b.samples
	b.frames, b.samples = nil, 0
	b.mu.Unlock()

	if samples == 0 {
		return OutboundAudioBatch{}, false
	}
	joined := make([]float32, 0, samples)
	for _, f := range frames {
		joined = append(joined, f...)
	}
	return OutboundAudioBatch{
		PCM:        EncodePCM16(joined),
		Samples:    samples,
		SampleRate: b.sampleRate,
		MIMEType:   PCMMIMEType(b.sampleRate),
		Duration:   AudioConfig{SampleRate: b.sampleRate, Channels: 1, BitsPerSample: 16}.SamplesDuration(samples),
		Level:      CalculateRMSEnergy(joined),
	}, true
}

// Reset drops every queued frame.
func (b *CaptureBuffer) Reset() {
	b.mu.Lock()
	b.frames, b.samples = nil, 0
	b.mu.Unlock()
}

// Run flushes every interval() until ctx is done. interval is re-read after
// each tick so a speed change applies on the next flush. onFlush must not block
// for long; the queue is already cleared when it runs.
func (b *CaptureBuffer) Run(ctx context.Context, interval func() time.Duration, onFlush func(OutboundAudioBatch)) {
	next := func() time.Duration {
		d := interval()
		if d <= 0 {
			d = 100 * time.Millisecond
		}
		return d
	}
	timer := time.NewTimer(next())
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			if ctx.Err() != nil {
				return
			}
			if batch, ok := b.Flush(); ok {
				onFlush(batch)
			}
			timer.Reset(next())
		}
	}
}
