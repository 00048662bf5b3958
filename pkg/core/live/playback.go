package live

import (
	"encoding/base64"
	"log/slog"
	"sync"
	"time"
)

// InboundAudioChunk is a decoded segment of translated audio and where it was
// placed on the output timeline.
type InboundAudioChunk struct {
	Samples  int
	StartAt  time.Duration
	Duration time.Duration
}

// End returns StartAt + Duration.
func (c InboundAudioChunk) End() time.Duration { return c.StartAt + c.Duration }

type scheduledChunk struct {
	chunk InboundAudioChunk
	src   ScheduledSource
}

// PlaybackScheduler lays translated audio chunks back to back on a
// PlaybackContext. Each chunk starts at max(nextStartTime, clock now) and
// pushes nextStartTime forward by its duration. nextStartTime only moves
// backwards on Interrupt, and then only to the clock's current value.
type PlaybackScheduler struct {
	mu      sync.Mutex
	pc      *PlaybackContext
	logger  *slog.Logger
	next    time.Duration
	pending []scheduledChunk
}

// NewPlaybackScheduler returns a scheduler bound to pc.
func NewPlaybackScheduler(pc *PlaybackContext, logger *slog.Logger) *PlaybackScheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &PlaybackScheduler{pc: pc, logger: logger}
}

// EnqueueBase64 decodes a base64 PCM16 chunk and schedules it.
func (s *PlaybackScheduler) EnqueueBase64(data, mimeType string) (InboundAudioChunk, bool) {
	pcm, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		s.logger.Debug("dropping undecodable audio chunk", "error", err, "bytes", len(data))
		return InboundAudioChunk{}, false
	}
	return s.Enqueue(pcm, mimeType)
}

// Enqueue decodes a PCM16LE chunk and schedules it. Malformed or empty chunks
// are logged and dropped without touching the scheduling clock.
func (s *PlaybackScheduler) Enqueue(pcm []byte, mimeType string) (InboundAudioChunk, bool) {
	samples, err := DecodePCM16(pcm)
	if err != nil {
		s.logger.Debug("dropping undecodable audio chunk", "error", err, "bytes", len(pcm))
		return InboundAudioChunk{}, false
	}
	rate := s.pc.SampleRate()
	if in := ParsePCMRate(mimeType, rate); in != rate {
		samples = Resample(samples, in, rate)
		if len(samples) == 0 {
			return InboundAudioChunk{}, false
		}
	}
	return s.schedule(samples)
}

func (s *PlaybackScheduler) schedule(samples []float32) (InboundAudioChunk, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.pc.Now()
	s.pruneLocked(now)

	start := max(s.next, now)
	chunk := InboundAudioChunk{
		Samples:  len(samples),
		StartAt:  start,
		Duration: AudioConfig{SampleRate: s.pc.SampleRate(), Channels: 1, BitsPerSample: 16}.SamplesDuration(len(samples)),
	}
	src, err := s.pc.Schedule(samples, start)
	if err != nil {
		s.logger.Debug("dropping audio chunk", "error", err)
		return InboundAudioChunk{}, false
	}
	s.next = chunk.End()
	s.pending = append(s.pending, scheduledChunk{chunk: chunk, src: src})
	return chunk, true
}

// Interrupt stops every scheduled or playing chunk and rewinds nextStartTime
// to the output clock's current value.
func (s *PlaybackScheduler) Interrupt() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.pending)
	for _, p := range s.pending {
		p.src.Stop()
	}
	s.pending = nil
	s.next = s.pc.Now()
	return n
}

// Reset releases every decoded-but-unplayed buffer. It is Interrupt under the
// name used by teardown.
func (s *PlaybackScheduler) Reset() { s.Interrupt() }

// NextStartTime returns where the next chunk would start if the clock were
// behind it.
func (s *PlaybackScheduler) NextStartTime() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.next
}

// Pending returns how many chunks have not finished playing.
func (s *PlaybackScheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pruneLocked(s.pc.Now())
	return len(s.pending)
}

// Buffered returns how much scheduled audio is still ahead of the clock.
func (s *PlaybackScheduler) Buffered() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if d := s.next - s.pc.Now(); d > 0 {
		return d
	}
	return 0
}

func (s *PlaybackScheduler) pruneLocked(now time.Duration) {
	kept := s.pending[:0]
	for _, p := range s.pending {
		if p.chunk.End() > now {
			kept = append(kept, p)
		}
	}
	for i := len(kept); i < len(s.pending); i++ {
		s.pending[i] = scheduledChunk{}
	}
	s.pending = kept
}
