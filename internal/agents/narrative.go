package agents

import (
	"context"
	"fmt"

	"github.com/tickerpulse/core/internal/llm"
)

// maxNarrativeTokens is the response-length cap passed to the provider for
// the single-shot narrative jobs (briefing/summary/review/etc); these are
// prose reports, not structured ratings.
const maxNarrativeTokens = 1024

// NewNarrativeAgent builds a generic LLM-backed agent that renders a
// prompt already composed by the caller (inputs["prompt"]) through
// provider and returns the raw text as result. It backs morning_briefing,
// daily_summary, and weekly_review, each of which differs only in the
// prompt composed before calling Run.
func NewNarrativeAgent(provider llm.Provider) AgentFunc {
	return func(ctx context.Context, inputs Inputs) (Result, error) {
		prompt, _ := inputs["prompt"].(string)
		if prompt == "" {
			return Result{}, fmt.Errorf("agents: narrative agent requires inputs[\"prompt\"]")
		}

		text, tokens, err := provider.GenerateAnalysisWithUsage(ctx, prompt, maxNarrativeTokens)
		if err != nil {
			return Result{}, fmt.Errorf("agents: narrative generation: %w", err)
		}

		return Result{
			OutputData:   map[string]interface{}{"narrative": text},
			TokensOutput: tokens,
			Model:        provider.Model(),
		}, nil
	}
}
