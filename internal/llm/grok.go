package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/rs/zerolog"
)

const grokEndpoint = "https://api.x.ai/v1/chat/completions"

// grokProvider talks to xAI's OpenAI-compatible chat completions endpoint.
type grokProvider struct {
	client *http.Client
	apiKey string
	model  string
	log    zerolog.Logger
}

func newGrokProvider(client *http.Client, apiKey, model string, log zerolog.Logger) *grokProvider {
	if model == "" {
		model = "grok-2-latest"
	}
	return &grokProvider{client: client, apiKey: apiKey, model: model, log: log.With().Str("provider", "grok").Logger()}
}

func (p *grokProvider) Name() string  { return "grok" }
func (p *grokProvider) Model() string { return p.model }

func (p *grokProvider) GenerateAnalysisWithUsage(ctx context.Context, prompt string, maxTokens int) (string, int, error) {
	body, err := json.Marshal(openAIRequest{
		Model:     p.model,
		MaxTokens: maxTokens,
		Messages:  []openAIMessage{{Role: "user", Content: prompt}},
	})
	if err != nil {
		return "", 0, fmt.Errorf("llm/grok: encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, grokEndpoint, bytes.NewReader(body))
	if err != nil {
		return "", 0, fmt.Errorf("llm/grok: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.client.Do(req)
	if err != nil {
		return "", 0, fmt.Errorf("llm/grok: request: %w", err)
	}
	defer resp.Body.Close()

	var parsed openAIResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", 0, fmt.Errorf("llm/grok: decode response: %w", err)
	}
	if parsed.Error != nil {
		return "", 0, fmt.Errorf("llm/grok: %s", parsed.Error.Message)
	}
	if resp.StatusCode != http.StatusOK {
		return "", 0, fmt.Errorf("llm/grok: status %d", resp.StatusCode)
	}
	if len(parsed.Choices) == 0 {
		return "", 0, fmt.Errorf("llm/grok: empty response")
	}

	return parsed.Choices[0].Message.Content, parsed.Usage.TotalTokens, nil
}

func (p *grokProvider) TestConnection(ctx context.Context) error {
	_, _, err := p.GenerateAnalysisWithUsage(ctx, "Reply with OK.", 8)
	return err
}
