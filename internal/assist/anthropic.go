package assist

import (
	"context"
	"net/http"
	"strings"

	"github.com/blacktop/unipost/internal/config"
)

const anthropicVersion = "2023-06-01"

// Anthropic calls the messages endpoint.
type Anthropic struct {
	apiKey     string
	baseURL    string
	model      string
	httpClient *http.Client
}

func NewAnthropic(cfg config.ProviderConfig) *Anthropic {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.anthropic.com/v1"
	}
	model := cfg.Model
	if model == "" {
		model = "claude-3-5-haiku-latest"
	}
	return &Anthropic{apiKey: cfg.APIKey, baseURL: baseURL, model: model, httpClient: &http.Client{}}
}

func (c *Anthropic) Name() string { return "anthropic" }

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicRequest struct {
	Model     string             `json:"model"`
	MaxTokens int                `json:"max_tokens"`
	System    string             `json:"system,omitempty"`
	Messages  []anthropicMessage `json:"messages"`
}

type anthropicResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
}

func (c *Anthropic) Generate(ctx context.Context, prompt string) (string, error) {
	req := anthropicRequest{
		Model:     c.model,
		MaxTokens: 1024,
		System:    systemPrompt,
		Messages:  []anthropicMessage{{Role: "user", Content: prompt}},
	}
	headers := map[string]string{
		"x-api-key":         c.apiKey,
		"anthropic-version": anthropicVersion,
	}
	var resp anthropicResponse
	if err := postJSON(ctx, c.httpClient, c.Name(), c.baseURL+"/messages", headers, req, &resp); err != nil {
		return "", err
	}
	var sb strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	if sb.Len() == 0 {
		return "", &ProviderError{Provider: c.Name(), Message: "no completion returned"}
	}
	return sb.String(), nil
}
