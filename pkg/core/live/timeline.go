package live

import (
	"errors"
	"io"
	"math"
	"sync"
	"time"
)

// OutputClock reports the current position of the output device.
type OutputClock interface {
	Now() time.Duration
}

// ScheduledSource is a handle to audio placed on the output timeline.
type ScheduledSource interface {
	Stop()
}

// OutputSink places mono samples on the output timeline.
type OutputSink interface {
	Schedule(samples []float32, at time.Duration) (ScheduledSource, error)
}

// ErrPlaybackClosed is returned when scheduling on a closed context.
var ErrPlaybackClosed = errors.New("playback context closed")

// PlaybackContext is the output side of one engine instance: a clock, a sink,
// and the rate they run at. Build one per engine and share it by pointer.
type PlaybackContext struct {
	clock      OutputClock
	sink       OutputSink
	sampleRate int
	timeline   *Timeline

	mu     sync.Mutex
	closed bool
}

// NewPlaybackContext returns a context backed by a software Timeline. Read the
// Timeline (Reader) from the audio device to drive the clock.
func NewPlaybackContext(sampleRate int) *PlaybackContext {
	if sampleRate <= 0 {
		sampleRate = OutputSampleRate
	}
	tl := NewTimeline(sampleRate)
	return &PlaybackContext{clock: tl, sink: tl, sampleRate: sampleRate, timeline: tl}
}

// NewPlaybackContextWith wires an explicit clock and sink.
func NewPlaybackContextWith(clock OutputClock, sink OutputSink, sampleRate int) *PlaybackContext {
	if sampleRate <= 0 {
		sampleRate = OutputSampleRate
	}
	return &PlaybackContext{clock: clock, sink: sink, sampleRate: sampleRate}
}

// SampleRate returns the output rate.
func (p *PlaybackContext) SampleRate() int { return p.sampleRate }

// Now returns the output clock.
func (p *PlaybackContext) Now() time.Duration { return p.clock.Now() }

// Reader returns the PCM16LE stream for the device, or nil when the context was
// built with an external sink.
func (p *PlaybackContext) Reader() io.Reader {
	if p.timeline == nil {
		return nil
	}
	return p.timeline
}

// Schedule places samples on the sink.
func (p *PlaybackContext) Schedule(samples []float32, at time.Duration) (ScheduledSource, error) {
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return nil, ErrPlaybackClosed
	}
	return p.sink.Schedule(samples, at)
}

// Close releases the context. Scheduling afterwards fails.
func (p *PlaybackContext) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	if p.timeline != nil {
		p.timeline.Close()
	}
	return nil
}

// Timeline is a software mixer. Its clock is the read cursor: every sample the
// device pulls through Read advances Now by one sample period. Silence is
// produced wherever nothing is scheduled.
type Timeline struct {
	mu         sync.Mutex
	sampleRate int
	pos        int64 // samples read so far
	sources    []*timelineSource
	closed     bool
}

type timelineSource struct {
	tl      *Timeline
	start   int64
	samples []float32
	stopped bool
}

// NewTimeline returns an empty timeline at sampleRate.
func NewTimeline(sampleRate int) *Timeline {
	return &Timeline{sampleRate: sampleRate}
}

// Now implements OutputClock.
func (t *Timeline) Now() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.samplesToDuration(t.pos)
}

// Pending returns the number of sources still on the timeline.
func (t *Timeline) Pending() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.sources)
}

// Schedule implements OutputSink. Samples scheduled before the cursor lose the
// part that is already in the past.
func (t *Timeline) Schedule(samples []float32, at time.Duration) (ScheduledSource, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil, ErrPlaybackClosed
	}
	src := &timelineSource{tl: t, start: t.durationToSamples(at), samples: samples}
	t.sources = append(t.sources, src)
	return src, nil
}

// Read implements io.Reader, producing PCM16LE mono.
func (t *Timeline) Read(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return 0, io.EOF
	}
	n := len(p) / 2
	if n == 0 {
		return 0, nil
	}
	for i := 0; i < n; i++ {
		at := t.pos + int64(i)
		var mix float64
		for _, s := range t.sources {
			if at < s.start || at >= s.start+int64(len(s.samples)) {
				continue
			}
			mix += float64(s.samples[at-s.start])
		}
		mix = math.Max(-1, math.Min(1, mix))
		q := int16(math.Round(mix * 32767))
		p[i*2] = byte(uint16(q))
		p[i*2+1] = byte(uint16(q) >> 8)
	}
	t.pos += int64(n)

	live := t.sources[:0]
	for _, s := range t.sources {
		if s.start+int64(len(s.samples)) > t.pos {
			live = append(live, s)
		}
	}
	for i := len(live); i < len(t.sources); i++ {
		t.sources[i] = nil
	}
	t.sources = live
	return n * 2, nil
}

// Advance moves the cursor without producing output, as if d had been played.
func (t *Timeline) Advance(d time.Duration) {
	buf := make([]byte, 2*t.durationToSamples(d))
	_, _ = t.Read(buf)
}

// Close stops the timeline. Subsequent reads return io.EOF.
func (t *Timeline) Close() {
	t.mu.Lock()
	t.closed = true
	t.sources = nil
	t.mu.Unlock()
}

func (s *timelineSource) Stop() {
	t := s.tl
	t.mu.Lock()
	defer t.mu.Unlock()
	if s.stopped {
		return
	}
	s.stopped = true
	for i, other := range t.sources {
		if other == s {
			t.sources = append(t.sources[:i], t.sources[i+1:]...)
			return
		}
	}
}

func (t *Timeline) samplesToDuration(n int64) time.Duration {
	return time.Duration(n) * time.Second / time.Duration(t.sampleRate)
}

func (t *Timeline) durationToSamples(d time.Duration) int64 {
	if d <= 0 {
		return 0
	}
	return int64(math.Round(d.Seconds() * float64(t.sampleRate)))
}
