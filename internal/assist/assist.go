// Package assist drafts post text with an LLM, falling back across providers.
package assist

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/blacktop/unipost/internal/config"
	"github.com/blacktop/unipost/internal/logutil"
)

const systemPrompt = "You write short social media posts. Reply with the post text only, no preamble, no quotes, no hashtags unless asked."

// Provider generates text for a prompt.
type Provider interface {
	Name() string
	Generate(ctx context.Context, prompt string) (string, error)
}

// ProviderError records why a provider could not serve a draft.
type ProviderError struct {
	Provider string
	Status   int
	Message  string
	Err      error
}

func (e *ProviderError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s: status %d: %s", e.Provider, e.Status, e.Message)
	}
	if e.Message != "" && e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Provider, e.Message, e.Err)
	}
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Provider, e.Message)
	}
	return fmt.Sprintf("%s: %v", e.Provider, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// Failure is a provider that was skipped before the draft was served.
type Failure struct {
	Provider string `json:"provider"`
	Error    string `json:"error"`
}

// Draft is a generated post along with the provider that produced it.
type Draft struct {
	Text     string    `json:"text"`
	Provider string    `json:"provider"`
	Failures []Failure `json:"failures,omitempty"`
}

// Router tries providers in order until one returns text.
type Router struct {
	providers []Provider
	timeout   time.Duration
}

// NewRouter returns a Router over providers. timeout bounds each call when positive.
func NewRouter(timeout time.Duration, providers ...Provider) *Router {
	return &Router{providers: providers, timeout: timeout}
}

// FromConfig builds providers in the configured order, skipping those without
// an API key. It returns a MissingEnvError when none are usable.
func FromConfig(cfg config.AssistConfig, timeout time.Duration) (*Router, error) {
	var providers []Provider
	var missing []string
	for _, name := range cfg.Providers {
		switch strings.ToLower(name) {
		case "openai":
			if cfg.OpenAI.APIKey == "" {
				missing = append(missing, "OPENAI_API_KEY")
				continue
			}
			providers = append(providers, NewOpenAI(cfg.OpenAI))
		case "anthropic":
			if cfg.Anthropic.APIKey == "" {
				missing = append(missing, "ANTHROPIC_API_KEY")
				continue
			}
			providers = append(providers, NewAnthropic(cfg.Anthropic))
		case "gemini":
			if cfg.Gemini.APIKey == "" {
				missing = append(missing, "GEMINI_API_KEY")
				continue
			}
			g, err := NewGemini(context.Background(), cfg.Gemini)
			if err != nil {
				return nil, err
			}
			providers = append(providers, g)
		default:
			return nil, fmt.Errorf("unknown assist provider %q", name)
		}
	}
	if len(providers) == 0 {
		return nil, config.MissingEnvError{Provider: "assist", Variables: missing}
	}
	return NewRouter(timeout, providers...), nil
}

// Providers lists the configured provider names in order.
func (r *Router) Providers() []string {
	names := make([]string, 0, len(r.providers))
	for _, p := range r.providers {
		names = append(names, p.Name())
	}
	return names
}

// Generate asks each provider in turn. Every skipped provider is reported in
// Draft.Failures; if all fail the joined errors are returned.
func (r *Router) Generate(ctx context.Context, prompt string) (Draft, error) {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return Draft{}, errors.New("prompt is empty")
	}
	if len(r.providers) == 0 {
		return Draft{}, errors.New("no assist providers configured")
	}

	var draft Draft
	var errs []error
	for _, p := range r.providers {
		text, err := r.call(ctx, p, prompt)
		if err == nil {
			text = strings.TrimSpace(text)
			if text != "" {
				draft.Text = text
				draft.Provider = p.Name()
				if len(draft.Failures) > 0 {
					logutil.Warnf("draft served by fallback provider %s after %d failure(s)", p.Name(), len(draft.Failures))
				}
				return draft, nil
			}
			err = &ProviderError{Provider: p.Name(), Message: "empty response"}
		}
		if ctx.Err() != nil {
			return Draft{}, ctx.Err()
		}
		logutil.With("provider", p.Name()).Warnf("draft provider failed: %v", err)
		draft.Failures = append(draft.Failures, Failure{Provider: p.Name(), Error: err.Error()})
		errs = append(errs, err)
	}
	return draft, fmt.Errorf("all assist providers failed: %w", errors.Join(errs...))
}

func (r *Router) call(ctx context.Context, p Provider, prompt string) (text string, err error) {
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}
	start := time.Now()
	defer func() {
		logutil.Debugf("assist provider=%s elapsed=%s ok=%t", p.Name(), time.Since(start).Round(time.Millisecond), err == nil)
	}()
	return p.Generate(ctx, prompt)
}
