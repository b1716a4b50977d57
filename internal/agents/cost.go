package agents

import (
	"context"
	"fmt"

	"github.com/tickerpulse/core/internal/store"
)

// costRate is dollars per 1000 tokens, input and output priced separately.
type costRate struct {
	InputPer1K  float64
	OutputPer1K float64
}

// perModelCost is a constant-per-token table; unlisted models fall back to
// defaultCostRate. Non-LLM agents pass an empty Model and cost nothing.
var perModelCost = map[string]costRate{
	"claude-3-5-sonnet-20241022": {InputPer1K: 0.003, OutputPer1K: 0.015},
	"claude-3-5-haiku-20241022":  {InputPer1K: 0.0008, OutputPer1K: 0.004},
	"gpt-4o":                     {InputPer1K: 0.0025, OutputPer1K: 0.01},
	"gpt-4o-mini":                {InputPer1K: 0.00015, OutputPer1K: 0.0006},
	"gemini-1.5-pro":             {InputPer1K: 0.00125, OutputPer1K: 0.005},
	"gemini-1.5-flash":           {InputPer1K: 0.000075, OutputPer1K: 0.0003},
	"grok-beta":                  {InputPer1K: 0.005, OutputPer1K: 0.015},
}

var defaultCostRate = costRate{InputPer1K: 0.002, OutputPer1K: 0.008}

// EstimateCost returns the estimated dollar cost of one model call. An
// empty model name (non-LLM agents like scanner/regime) always costs 0.
func EstimateCost(model string, tokensInput, tokensOutput int) float64 {
	if model == "" {
		return 0
	}
	rate, ok := perModelCost[model]
	if !ok {
		rate = defaultCostRate
	}
	return float64(tokensInput)/1000*rate.InputPer1K + float64(tokensOutput)/1000*rate.OutputPer1K
}

// AgentCostSummary aggregates agent_runs cost/token totals over a rolling
// window, grouped by agent name and by day.
type AgentCostSummary struct {
	AgentName string
	Day       string
	RunCount  int
	TotalCost float64
	TotalIn   int
	TotalOut  int
}

// CostSummary aggregates agent_runs over the last windowDays days, grouped
// by agent name and calendar day (UTC).
func CostSummary(ctx context.Context, st *store.Store, windowDays int) ([]AgentCostSummary, error) {
	if windowDays <= 0 {
		return nil, fmt.Errorf("agents: windowDays must be positive, got %d", windowDays)
	}

	var summaries []AgentCostSummary
	err := st.Session(ctx, false, func(tx *store.Tx) error {
		rows, err := tx.QueryContext(ctx, `
			SELECT agent_name, date(started_at) AS day, COUNT(*),
				COALESCE(SUM(estimated_cost), 0), COALESCE(SUM(tokens_input), 0), COALESCE(SUM(tokens_output), 0)
			FROM agent_runs
			WHERE started_at >= datetime('now', printf('-%d days', ?))
			GROUP BY agent_name, day
			ORDER BY day DESC, agent_name`, windowDays)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			var s AgentCostSummary
			if err := rows.Scan(&s.AgentName, &s.Day, &s.RunCount, &s.TotalCost, &s.TotalIn, &s.TotalOut); err != nil {
				return err
			}
			summaries = append(summaries, s)
		}
		return rows.Err()
	})
	return summaries, err
}
