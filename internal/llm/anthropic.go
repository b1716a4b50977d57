package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/rs/zerolog"
)

const anthropicEndpoint = "https://api.anthropic.com/v1/messages"

// anthropicProvider talks to the Anthropic Messages API directly over
// net/http: no Anthropic SDK is wired into this teacher's go.mod, so this
// follows the teacher's own hand-rolled HTTP-client shape for external
// vendor APIs (see internal/clients/exchangerate.Client).
type anthropicProvider struct {
	client *http.Client
	apiKey string
	model  string
	log    zerolog.Logger
}

func newAnthropicProvider(client *http.Client, apiKey, model string, log zerolog.Logger) *anthropicProvider {
	if model == "" {
		model = "claude-3-5-sonnet-latest"
	}
	return &anthropicProvider{client: client, apiKey: apiKey, model: model, log: log.With().Str("provider", "anthropic").Logger()}
}

func (p *anthropicProvider) Name() string  { return "anthropic" }
func (p *anthropicProvider) Model() string { return p.model }

type anthropicRequest struct {
	Model     string             `json:"model"`
	MaxTokens int                `json:"max_tokens"`
	Messages  []anthropicMessage `json:"messages"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicResponse struct {
	Content []struct {
		Text string `json:"text"`
	} `json:"content"`
	Usage struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

func (p *anthropicProvider) GenerateAnalysisWithUsage(ctx context.Context, prompt string, maxTokens int) (string, int, error) {
	body, err := json.Marshal(anthropicRequest{
		Model:     p.model,
		MaxTokens: maxTokens,
		Messages:  []anthropicMessage{{Role: "user", Content: prompt}},
	})
	if err != nil {
		return "", 0, fmt.Errorf("llm/anthropic: encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, anthropicEndpoint, bytes.NewReader(body))
	if err != nil {
		return "", 0, fmt.Errorf("llm/anthropic: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", p.apiKey)
	req.Header.Set("anthropic-version", "2023-06-01")

	resp, err := p.client.Do(req)
	if err != nil {
		return "", 0, fmt.Errorf("llm/anthropic: request: %w", err)
	}
	defer resp.Body.Close()

	var parsed anthropicResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", 0, fmt.Errorf("llm/anthropic: decode response: %w", err)
	}
	if parsed.Error != nil {
		return "", 0, fmt.Errorf("llm/anthropic: %s", parsed.Error.Message)
	}
	if resp.StatusCode != http.StatusOK {
		return "", 0, fmt.Errorf("llm/anthropic: status %d", resp.StatusCode)
	}
	if len(parsed.Content) == 0 {
		return "", 0, fmt.Errorf("llm/anthropic: empty response")
	}

	tokens := parsed.Usage.InputTokens + parsed.Usage.OutputTokens
	return parsed.Content[0].Text, tokens, nil
}

func (p *anthropicProvider) TestConnection(ctx context.Context) error {
	_, _, err := p.GenerateAnalysisWithUsage(ctx, "Reply with OK.", 8)
	return err
}
