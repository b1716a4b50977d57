package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/rs/zerolog"
)

const openAIEndpoint = "https://api.openai.com/v1/chat/completions"

// openAIProvider talks to the OpenAI chat completions API over net/http,
// matching the anthropicProvider shape (no OpenAI SDK in this teacher).
type openAIProvider struct {
	client *http.Client
	apiKey string
	model  string
	log    zerolog.Logger
}

func newOpenAIProvider(client *http.Client, apiKey, model string, log zerolog.Logger) *openAIProvider {
	if model == "" {
		model = "gpt-4o-mini"
	}
	return &openAIProvider{client: client, apiKey: apiKey, model: model, log: log.With().Str("provider", "openai").Logger()}
}

func (p *openAIProvider) Name() string  { return "openai" }
func (p *openAIProvider) Model() string { return p.model }

type openAIRequest struct {
	Model     string          `json:"model"`
	MaxTokens int             `json:"max_tokens"`
	Messages  []openAIMessage `json:"messages"`
}

type openAIMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIResponse struct {
	Choices []struct {
		Message openAIMessage `json:"message"`
	} `json:"choices"`
	Usage struct {
		TotalTokens int `json:"total_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

func (p *openAIProvider) GenerateAnalysisWithUsage(ctx context.Context, prompt string, maxTokens int) (string, int, error) {
	body, err := json.Marshal(openAIRequest{
		Model:     p.model,
		MaxTokens: maxTokens,
		Messages:  []openAIMessage{{Role: "user", Content: prompt}},
	})
	if err != nil {
		return "", 0, fmt.Errorf("llm/openai: encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, openAIEndpoint, bytes.NewReader(body))
	if err != nil {
		return "", 0, fmt.Errorf("llm/openai: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.client.Do(req)
	if err != nil {
		return "", 0, fmt.Errorf("llm/openai: request: %w", err)
	}
	defer resp.Body.Close()

	var parsed openAIResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", 0, fmt.Errorf("llm/openai: decode response: %w", err)
	}
	if parsed.Error != nil {
		return "", 0, fmt.Errorf("llm/openai: %s", parsed.Error.Message)
	}
	if resp.StatusCode != http.StatusOK {
		return "", 0, fmt.Errorf("llm/openai: status %d", resp.StatusCode)
	}
	if len(parsed.Choices) == 0 {
		return "", 0, fmt.Errorf("llm/openai: empty response")
	}

	return parsed.Choices[0].Message.Content, parsed.Usage.TotalTokens, nil
}

func (p *openAIProvider) TestConnection(ctx context.Context) error {
	_, _, err := p.GenerateAnalysisWithUsage(ctx, "Reply with OK.", 8)
	return err
}
