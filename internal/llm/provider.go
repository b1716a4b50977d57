// Package llm provides a uniform interface over several LLM chat APIs plus
// the structured-response parser and multi-provider fan-out used by the
// AI-compare endpoints.
package llm

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

const generateTimeout = 30 * time.Second

// Provider is a uniform wrapper over one vendor's chat completion API.
type Provider interface {
	// Name identifies the provider in results and persistence rows.
	Name() string
	// Model returns the configured model identifier.
	Model() string
	// GenerateAnalysisWithUsage sends prompt and returns the raw response
	// text plus the total token usage. On failure it returns ("", 0, err).
	GenerateAnalysisWithUsage(ctx context.Context, prompt string, maxTokens int) (string, int, error)
	// TestConnection issues a minimal prompt to verify the credentials work.
	TestConnection(ctx context.Context) error
}

// ProviderFactory constructs a Provider for one of the known vendor names.
func ProviderFactory(name, apiKey, model string, log zerolog.Logger) (Provider, error) {
	client := &http.Client{Timeout: generateTimeout}
	switch name {
	case "anthropic":
		return newAnthropicProvider(client, apiKey, model, log), nil
	case "openai":
		return newOpenAIProvider(client, apiKey, model, log), nil
	case "gemini", "google":
		return newGeminiProvider(client, apiKey, model, log), nil
	case "grok", "xai":
		return newGrokProvider(client, apiKey, model, log), nil
	default:
		return nil, fmt.Errorf("llm: unknown provider %q", name)
	}
}
