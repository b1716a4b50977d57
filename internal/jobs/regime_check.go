package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/tickerpulse/core/internal/agents"
	"github.com/tickerpulse/core/internal/clock"
	"github.com/tickerpulse/core/internal/store"
)

// RegimeCheck implements the regime_check job from spec.md §4.K: skip
// outside market hours, run the regime agent, and persist its classified
// regime as job_history.result_summary JSON for the dashboard to read.
type RegimeCheck struct {
	store  *store.Store
	agents *agents.Registry
	market clock.Market
	now    func() time.Time
	log    zerolog.Logger
}

func NewRegimeCheck(st *store.Store, reg *agents.Registry, market clock.Market, log zerolog.Logger) *RegimeCheck {
	return &RegimeCheck{store: st, agents: reg, market: market, now: time.Now, log: log.With().Str("component", "regime_check").Logger()}
}

func (r *RegimeCheck) Run(ctx context.Context) (Outcome, error) {
	if !clock.IsMarketHours(r.market, r.now()) {
		return Outcome{Status: "skipped", ResultSummary: "market closed"}, nil
	}

	result, _, err := r.agents.Run(ctx, "regime", agents.Inputs{})
	if err != nil {
		return Outcome{}, fmt.Errorf("regime agent: %w", err)
	}

	summaryJSON, err := json.Marshal(result.OutputData)
	if err != nil {
		return Outcome{}, fmt.Errorf("marshal regime summary: %w", err)
	}

	return Outcome{ResultSummary: string(summaryJSON), AgentName: "regime"}, nil
}

// LatestRegime reads the most recent regime_check result_summary so the
// dashboard can surface the current regime without re-running the agent.
func LatestRegime(ctx context.Context, st *store.Store) (map[string]interface{}, error) {
	var raw string
	err := st.Session(ctx, false, func(tx *store.Tx) error {
		return tx.QueryRowContext(ctx, `
			SELECT result_summary FROM job_history
			WHERE job_id = 'regime_check' AND status = 'success'
			ORDER BY executed_at DESC LIMIT 1`).Scan(&raw)
	})
	if err != nil {
		return nil, err
	}

	var out map[string]interface{}
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil, fmt.Errorf("unmarshal regime summary: %w", err)
	}
	return out, nil
}
