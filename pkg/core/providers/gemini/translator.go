package gemini

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"github.com/vango-go/vai-livetranslate/pkg/core/routing"
)

const translatorInstruction = "You are a translation engine. Translate the user's text faithfully. " +
	"Output only the translation with no quotes, notes, or explanations."

// contentGenerator is the slice of the genai client a Translator needs.
type contentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// Translator performs one-shot text translation. It implements live.Translator.
type Translator struct {
	models contentGenerator
	model  string
}

// TranslatorConfig configures NewTranslator.
type TranslatorConfig struct {
	APIKey string
	// Model defaults to DefaultTranslateModel.
	Model string
}

// NewTranslator creates a genai client for the Gemini API backend.
func NewTranslator(ctx context.Context, cfg TranslatorConfig) (*Translator, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("gemini api key is required")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	return newTranslator(client.Models, cfg.Model), nil
}

func newTranslator(models contentGenerator, model string) *Translator {
	if strings.TrimSpace(model) == "" {
		model = DefaultTranslateModel
	}
	return &Translator{models: models, model: model}
}

// Translate translates text from one language tag to another.
func (t *Translator) Translate(ctx context.Context, text, from, to string) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", nil
	}
	prompt := fmt.Sprintf("Translate from %s to %s:\n\n%s", routing.DisplayName(from), routing.DisplayName(to), text)
	resp, err := t.models.GenerateContent(ctx, t.model, genai.Text(prompt), &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(translatorInstruction, genai.RoleUser),
		Temperature:       genai.Ptr[float32](0),
	})
	if err != nil {
		return "", convertError(err)
	}
	if resp == nil {
		return "", fmt.Errorf("gemini: empty translation response")
	}
	return strings.TrimSpace(resp.Text()), nil
}
