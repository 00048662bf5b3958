package live

import (
	"strings"
	"sync"
	"time"
	"unicode/utf8"
)

// TextBuffer holds streamed translated text until it is worth showing.
// It releases text on:
//  1. Punctuation, including CJK sentence marks
//  2. Word count threshold (5 words) when at a word boundary
//  3. The profile's text-buffer delay elapsing since the oldest held delta
//
// A zero delay releases every delta as it arrives.
type TextBuffer struct {
	mu          sync.Mutex
	text        strings.Builder
	since       time.Time
	delay       time.Duration
	minWords    int
	punctuation string
}

// NewTextBuffer creates a buffer with the given hold delay.
func NewTextBuffer(delay time.Duration) *TextBuffer {
	return &TextBuffer{
		delay:       delay,
		minWords:    5,
		punctuation: ",.!?;:、。，！？；：",
	}
}

// SetDelay changes the hold delay for text added afterwards.
func (b *TextBuffer) SetDelay(d time.Duration) {
	b.mu.Lock()
	b.delay = d
	b.mu.Unlock()
}

// Add appends a delta and returns text ready for display, if any.
func (b *TextBuffer) Add(delta string, now time.Time) string {
	if delta == "" {
		return ""
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.delay <= 0 {
		prev := b.text.String()
		b.text.Reset()
		return strings.TrimSpace(prev + delta)
	}

	first, _ := utf8.DecodeRuneInString(delta)
	startsWithSpace := first == ' ' || first == '\n'

	prevContent := b.text.String()
	prevWordCount := len(strings.Fields(prevContent))

	if b.text.Len() == 0 {
		b.since = now
	}
	b.text.WriteString(delta)
	content := b.text.String()

	if strings.ContainsAny(delta, b.punctuation) {
		lastPunct := strings.LastIndexAny(content, b.punctuation)
		if lastPunct >= 0 {
			_, size := utf8.DecodeRuneInString(content[lastPunct:])
			toSend := strings.TrimSpace(content[:lastPunct+size])
			remainder := strings.TrimSpace(content[lastPunct+size:])
			b.text.Reset()
			if remainder != "" {
				b.text.WriteString(remainder)
				b.since = now
			}
			return toSend
		}
	}

	if prevWordCount >= b.minWords && startsWithSpace {
		toSend := strings.TrimSpace(prevContent)
		b.text.Reset()
		b.text.WriteString(strings.TrimLeft(delta, " \n"))
		b.since = now
		return toSend
	}

	return ""
}

// Due returns held text whose delay has elapsed and clears the buffer.
func (b *TextBuffer) Due(now time.Time) string {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.text.Len() == 0 || now.Sub(b.since) < b.delay {
		return ""
	}
	out := strings.TrimSpace(b.text.String())
	b.text.Reset()
	return out
}

// Deadline returns when held text becomes due. ok is false when empty.
func (b *TextBuffer) Deadline() (time.Time, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.text.Len() == 0 {
		return time.Time{}, false
	}
	return b.since.Add(b.delay), true
}

// Flush returns any remaining text and resets the buffer.
// Call this when the turn completes.
func (b *TextBuffer) Flush() string {
	b.mu.Lock()
	defer b.mu.Unlock()

	result := strings.TrimSpace(b.text.String())
	b.text.Reset()
	return result
}

// Reset clears the buffer without returning content.
func (b *TextBuffer) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.text.Reset()
}

// Len returns the current buffer length in bytes.
func (b *TextBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.text.Len()
}
