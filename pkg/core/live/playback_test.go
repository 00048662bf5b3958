package live

import (
	"encoding/base64"
	"io"
	"log/slog"
	"testing"
	"time"
)

type fakeOutputClock struct{ now time.Duration }

func (c *fakeOutputClock) Now() time.Duration { return c.now }

type fakeSource struct{ stopped bool }

func (s *fakeSource) Stop() { s.stopped = true }

type recordingSink struct {
	starts  []time.Duration
	sources []*fakeSource
}

func (s *recordingSink) Schedule(samples []float32, at time.Duration) (ScheduledSource, error) {
	src := &fakeSource{}
	s.starts = append(s.starts, at)
	s.sources = append(s.sources, src)
	return src, nil
}

func newTestScheduler() (*PlaybackScheduler, *fakeOutputClock, *recordingSink) {
	clk := &fakeOutputClock{}
	sink := &recordingSink{}
	pc := NewPlaybackContextWith(clk, sink, OutputSampleRate)
	return NewPlaybackScheduler(pc, slog.New(slog.NewTextHandler(io.Discard, nil))), clk, sink
}

// pcmOf returns PCM16 for the given duration at the output rate.
func pcmOf(d time.Duration) []byte {
	n := int(d.Seconds() * OutputSampleRate)
	return make([]byte, n*2)
}

func TestPlaybackScheduler_BackToBackNoOverlap(t *testing.T) {
	s, clk, _ := newTestScheduler()
	durations := []time.Duration{40 * time.Millisecond, 100 * time.Millisecond, 20 * time.Millisecond, 250 * time.Millisecond}

	var prev InboundAudioChunk
	for i, d := range durations {
		// Irregular network arrival: the clock moves a little between chunks.
		clk.now += 10 * time.Millisecond
		chunk, ok := s.Enqueue(pcmOf(d), "audio/pcm;rate=24000")
		if !ok {
			t.Fatalf("chunk %d dropped", i)
		}
		if chunk.Duration != d {
			t.Fatalf("chunk %d duration=%v want %v", i, chunk.Duration, d)
		}
		if i > 0 {
			if chunk.StartAt < prev.StartAt {
				t.Fatalf("start times decreased: %v -> %v", prev.StartAt, chunk.StartAt)
			}
			if chunk.StartAt < prev.End() {
				t.Fatalf("chunk %d overlaps: start %v < previous end %v", i, chunk.StartAt, prev.End())
			}
		}
		prev = chunk
	}
	if s.NextStartTime() != prev.End() {
		t.Fatalf("nextStartTime=%v want %v", s.NextStartTime(), prev.End())
	}
}

func TestPlaybackScheduler_StartsAtClockWhenBehind(t *testing.T) {
	s, clk, sink := newTestScheduler()
	s.Enqueue(pcmOf(50*time.Millisecond), "")
	clk.now = 2 * time.Second // long gap; the queue drained
	chunk, _ := s.Enqueue(pcmOf(50*time.Millisecond), "")
	if chunk.StartAt != 2*time.Second {
		t.Fatalf("start=%v want clock now", chunk.StartAt)
	}
	if sink.starts[1] != 2*time.Second {
		t.Fatalf("sink start=%v", sink.starts[1])
	}
}

func TestPlaybackScheduler_InterruptStopsAllAndRewinds(t *testing.T) {
	s, clk, sink := newTestScheduler()
	for i := 0; i < 3; i++ {
		s.Enqueue(pcmOf(200*time.Millisecond), "")
	}
	clk.now = 150 * time.Millisecond

	if n := s.Interrupt(); n != 3 {
		t.Fatalf("interrupted %d chunks, want 3", n)
	}
	for i, src := range sink.sources {
		if !src.stopped {
			t.Fatalf("source %d still playing after interrupt", i)
		}
	}
	if s.NextStartTime() != clk.now {
		t.Fatalf("nextStartTime=%v want clock %v", s.NextStartTime(), clk.now)
	}
	if s.Pending() != 0 {
		t.Fatalf("pending=%d after interrupt", s.Pending())
	}

	chunk, _ := s.Enqueue(pcmOf(10*time.Millisecond), "")
	if chunk.StartAt != clk.now {
		t.Fatalf("post-interrupt start=%v want %v", chunk.StartAt, clk.now)
	}
}

func TestPlaybackScheduler_DecodeFailuresLeaveClockAlone(t *testing.T) {
	s, _, sink := newTestScheduler()
	s.Enqueue(pcmOf(100*time.Millisecond), "")
	before := s.NextStartTime()

	if _, ok := s.Enqueue(nil, ""); ok {
		t.Fatalf("empty payload accepted")
	}
	if _, ok := s.Enqueue([]byte{1, 2, 3}, ""); ok {
		t.Fatalf("odd-length payload accepted")
	}
	if _, ok := s.EnqueueBase64("%%%", ""); ok {
		t.Fatalf("bad base64 accepted")
	}
	if s.NextStartTime() != before {
		t.Fatalf("clock moved on decode failure: %v -> %v", before, s.NextStartTime())
	}
	if len(sink.starts) != 1 {
		t.Fatalf("sink saw %d schedules, want 1", len(sink.starts))
	}
}

func TestPlaybackScheduler_ResamplesOtherRates(t *testing.T) {
	s, _, _ := newTestScheduler()
	pcm := make([]byte, 1600*2) // 100ms at 16kHz
	chunk, ok := s.EnqueueBase64(base64.StdEncoding.EncodeToString(pcm), "audio/pcm;rate=16000")
	if !ok {
		t.Fatalf("dropped")
	}
	if chunk.Samples != 2400 || chunk.Duration != 100*time.Millisecond {
		t.Fatalf("chunk=%+v", chunk)
	}
}

func TestPlaybackScheduler_ClosedContextDrops(t *testing.T) {
	s, _, _ := newTestScheduler()
	_ = s.pc.Close()
	if _, ok := s.Enqueue(pcmOf(10*time.Millisecond), ""); ok {
		t.Fatalf("closed context accepted audio")
	}
	if s.NextStartTime() != 0 {
		t.Fatalf("clock moved on closed context")
	}
}

func TestTimeline_ReadMixesAndAdvancesClock(t *testing.T) {
	pc := NewPlaybackContext(1000) // 1 sample per ms keeps the arithmetic obvious
	tl := pc.Reader()

	s := NewPlaybackScheduler(pc, nil)
	s.Enqueue(EncodePCM16([]float32{0.5, 0.5, 0.5, 0.5}), "audio/pcm;rate=1000")

	buf := make([]byte, 2*6)
	n, err := tl.Read(buf)
	if err != nil || n != len(buf) {
		t.Fatalf("Read n=%d err=%v", n, err)
	}
	samples, _ := DecodePCM16(buf)
	for i := 0; i < 4; i++ {
		if samples[i] < 0.49 || samples[i] > 0.51 {
			t.Fatalf("sample %d=%v want 0.5", i, samples[i])
		}
	}
	if samples[4] != 0 || samples[5] != 0 {
		t.Fatalf("expected silence after chunk, got %v", samples[4:])
	}
	if pc.Now() != 6*time.Millisecond {
		t.Fatalf("clock=%v want 6ms", pc.Now())
	}
	if s.Pending() != 0 {
		t.Fatalf("finished chunk still pending")
	}
}

func TestTimeline_InterruptSilencesScheduledAudio(t *testing.T) {
	pc := NewPlaybackContext(1000)
	s := NewPlaybackScheduler(pc, nil)
	s.Enqueue(EncodePCM16([]float32{0.5, 0.5, 0.5, 0.5}), "audio/pcm;rate=1000")

	tl := pc.Reader()
	buf := make([]byte, 2*2)
	_, _ = tl.Read(buf)
	s.Interrupt()
	_, _ = tl.Read(buf)
	rest, _ := DecodePCM16(buf)
	if rest[0] != 0 || rest[1] != 0 {
		t.Fatalf("audio kept playing after interrupt: %v", rest)
	}
	if s.NextStartTime() != 2*time.Millisecond {
		t.Fatalf("nextStartTime=%v want 2ms", s.NextStartTime())
	}
}

func TestTimeline_CloseEndsStream(t *testing.T) {
	pc := NewPlaybackContext(OutputSampleRate)
	_ = pc.Close()
	if _, err := pc.Reader().Read(make([]byte, 4)); err != io.EOF {
		t.Fatalf("err=%v want EOF", err)
	}
	if err := pc.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
}
