package live

import (
	"testing"
	"time"
)

var t0 = time.Unix(1_700_000_000, 0)

func addAll(b *TextBuffer, deltas []string) []string {
	var results []string
	for _, d := range deltas {
		if r := b.Add(d, t0); r != "" {
			results = append(results, r)
		}
	}
	return results
}

func TestTextBuffer_Punctuation(t *testing.T) {
	b := NewTextBuffer(time.Second)

	tests := []struct {
		delta    string
		expected string
	}{
		{"Hello", ""},
		{" world", ""},
		{"!", "Hello world!"},
	}

	for _, tt := range tests {
		result := b.Add(tt.delta, t0)
		if result != tt.expected {
			t.Errorf("Add(%q) = %q, want %q", tt.delta, result, tt.expected)
		}
	}
}

func TestTextBuffer_CJKPunctuation(t *testing.T) {
	b := NewTextBuffer(time.Second)
	results := addAll(b, []string{"こんにちは", "。", "元気"})
	if len(results) != 1 || results[0] != "こんにちは。" {
		t.Fatalf("results=%q", results)
	}
	if rest := b.Flush(); rest != "元気" {
		t.Fatalf("remainder=%q", rest)
	}
}

func TestTextBuffer_WordCount(t *testing.T) {
	b := NewTextBuffer(time.Second)

	results := addAll(b, []string{
		"The",
		" bird",
		" was",
		" chirp",
		"ing",
		" loudly",
		" today",
	})

	if len(results) != 1 {
		t.Fatalf("expected 1 send, got %d: %v", len(results), results)
	}
	if results[0] != "The bird was chirping loudly" {
		t.Errorf("expected 'The bird was chirping loudly', got %q", results[0])
	}
	if remainder := b.Flush(); remainder != "today" {
		t.Errorf("expected 'today' in buffer, got %q", remainder)
	}
}

func TestTextBuffer_MixedPunctuationAndWords(t *testing.T) {
	b := NewTextBuffer(time.Second)

	results := addAll(b, []string{"Hey", " there", "!", " How", "'s", " it", " going", "?"})

	expected := []string{"Hey there!", "How's it going?"}
	if len(results) != len(expected) {
		t.Fatalf("expected %d sends, got %d: %v", len(expected), len(results), results)
	}
	for i, e := range expected {
		if results[i] != e {
			t.Errorf("result[%d] = %q, want %q", i, results[i], e)
		}
	}
}

func TestTextBuffer_DelayReleasesHeldText(t *testing.T) {
	b := NewTextBuffer(400 * time.Millisecond)
	if r := b.Add("Xin chào", t0); r != "" {
		t.Fatalf("released early: %q", r)
	}
	deadline, ok := b.Deadline()
	if !ok || !deadline.Equal(t0.Add(400*time.Millisecond)) {
		t.Fatalf("deadline=%v ok=%v", deadline, ok)
	}
	if r := b.Due(t0.Add(399 * time.Millisecond)); r != "" {
		t.Fatalf("due before delay: %q", r)
	}
	if r := b.Due(t0.Add(400 * time.Millisecond)); r != "Xin chào" {
		t.Fatalf("Due=%q", r)
	}
	if _, ok := b.Deadline(); ok {
		t.Fatalf("deadline after release")
	}
}

func TestTextBuffer_ZeroDelayReleasesImmediately(t *testing.T) {
	b := NewTextBuffer(0)
	if r := b.Add("Hola", t0); r != "Hola" {
		t.Fatalf("Add=%q", r)
	}
	if b.Len() != 0 {
		t.Fatalf("buffer should be empty")
	}
}

func TestTextBuffer_Reset(t *testing.T) {
	b := NewTextBuffer(time.Second)
	b.Add("pending", t0)
	b.Reset()
	if b.Len() != 0 || b.Flush() != "" {
		t.Fatalf("reset left text behind")
	}
}
