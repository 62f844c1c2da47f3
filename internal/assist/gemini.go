package assist

import (
	"context"
	"fmt"

	"google.golang.org/genai"

	"github.com/blacktop/unipost/internal/config"
)

// Gemini generates drafts through the Google GenAI SDK.
type Gemini struct {
	client *genai.Client
	model  string
}

func NewGemini(ctx context.Context, cfg config.ProviderConfig) (*Gemini, error) {
	if cfg.APIKey == "" {
		return nil, config.MissingEnvError{Provider: "gemini", Variables: []string{"GEMINI_API_KEY"}}
	}
	cc := &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if cfg.BaseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.BaseURL}
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}
	model := cfg.Model
	if model == "" {
		model = "gemini-2.5-flash"
	}
	return &Gemini{client: client, model: model}, nil
}

func (g *Gemini) Name() string { return "gemini" }

func (g *Gemini) Generate(ctx context.Context, prompt string) (string, error) {
	resp, err := g.client.Models.GenerateContent(ctx, g.model, genai.Text(prompt), &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(systemPrompt, genai.RoleUser),
	})
	if err != nil {
		return "", &ProviderError{Provider: g.Name(), Message: "generate content failed", Err: err}
	}
	text := resp.Text()
	if text == "" {
		return "", &ProviderError{Provider: g.Name(), Message: "no completion returned"}
	}
	return text, nil
}
