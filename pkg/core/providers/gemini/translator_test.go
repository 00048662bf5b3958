package gemini

import (
	"context"
	"errors"
	"strings"
	"testing"

	"google.golang.org/genai"

	"github.com/vango-go/vai-livetranslate/pkg/core"
)

type fakeGenerator struct {
	model  string
	prompt string
	config *genai.GenerateContentConfig
	resp   *genai.GenerateContentResponse
	err    error
}

func (f *fakeGenerator) GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	f.model = model
	f.config = config
	for _, c := range contents {
		for _, p := range c.Parts {
			f.prompt += p.Text
		}
	}
	return f.resp, f.err
}

func textResponse(text string) *genai.GenerateContentResponse {
	return &genai.GenerateContentResponse{Candidates: []*genai.Candidate{{
		Content: &genai.Content{Role: genai.RoleModel, Parts: []*genai.Part{{Text: text}}},
	}}}
}

func TestTranslator_Translate(t *testing.T) {
	gen := &fakeGenerator{resp: textResponse("  こんにちは\n")}
	tr := newTranslator(gen, "")

	out, err := tr.Translate(context.Background(), "Hello", "en", "ja")
	if err != nil {
		t.Fatalf("Translate: %v", err)
	}
	if out != "こんにちは" {
		t.Fatalf("out=%q", out)
	}
	if gen.model != DefaultTranslateModel {
		t.Fatalf("model=%q", gen.model)
	}
	if !strings.Contains(gen.prompt, "English to Japanese") || !strings.Contains(gen.prompt, "Hello") {
		t.Fatalf("prompt=%q", gen.prompt)
	}
	if gen.config == nil || gen.config.Temperature == nil || *gen.config.Temperature != 0 {
		t.Fatalf("config=%+v", gen.config)
	}
	if gen.config.SystemInstruction == nil {
		t.Fatalf("missing system instruction")
	}
}

func TestTranslator_EmptyTextSkipsCall(t *testing.T) {
	gen := &fakeGenerator{err: errors.New("should not be called")}
	out, err := newTranslator(gen, "m").Translate(context.Background(), "  ", "en", "ja")
	if err != nil || out != "" {
		t.Fatalf("out=%q err=%v", out, err)
	}
	if gen.model != "" {
		t.Fatalf("generator was called")
	}
}

func TestTranslator_ConvertsAPIErrors(t *testing.T) {
	gen := &fakeGenerator{err: genai.APIError{Code: 429, Status: "RESOURCE_EXHAUSTED", Message: "quota"}}
	_, err := newTranslator(gen, "m").Translate(context.Background(), "hi", "en", "ja")
	if got := core.Classify(err); got != core.ErrQuota {
		t.Fatalf("Classify=%q, want quota (err=%v)", got, err)
	}

	gen.err = genai.APIError{Code: 403, Status: "PERMISSION_DENIED", Message: "denied"}
	_, err = newTranslator(gen, "m").Translate(context.Background(), "hi", "en", "ja")
	if got := core.Classify(err); got != core.ErrAuthentication {
		t.Fatalf("Classify=%q, want authentication", got)
	}
}
