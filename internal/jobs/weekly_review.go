package jobs

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/tickerpulse/core/internal/agents"
	"github.com/tickerpulse/core/internal/broadcast"
	"github.com/tickerpulse/core/internal/store"
)

// WeeklyReview implements the weekly_review job from spec.md §4.K: compose
// a narrative from the past week's daily_summary results and the most
// recent regime classification, render through the narrative agent, and
// broadcast the result Sunday evening.
type WeeklyReview struct {
	store  *store.Store
	agents *agents.Registry
	sse    *broadcast.SSEBroadcaster
	log    zerolog.Logger
}

func NewWeeklyReview(st *store.Store, reg *agents.Registry, sse *broadcast.SSEBroadcaster, log zerolog.Logger) *WeeklyReview {
	return &WeeklyReview{store: st, agents: reg, sse: sse, log: log.With().Str("component", "weekly_review").Logger()}
}

func (w *WeeklyReview) Run(ctx context.Context) (Outcome, error) {
	summaries, err := w.weeklyDailySummaries(ctx)
	if err != nil {
		return Outcome{}, fmt.Errorf("load daily summaries: %w", err)
	}
	if len(summaries) == 0 {
		return Outcome{Status: "skipped", ResultSummary: "no daily summaries recorded this week"}, nil
	}

	regime, _ := LatestRegime(ctx, w.store)

	prompt := buildWeeklyReviewPrompt(summaries, regime)
	result, _, err := w.agents.Run(ctx, "weekly_review", agents.Inputs{"prompt": prompt})
	if err != nil {
		return Outcome{}, fmt.Errorf("run narrative agent: %w", err)
	}

	narrative, _ := result.OutputData["narrative"].(string)
	if w.sse != nil {
		if err := w.sse.SendEvent(broadcast.EventWeeklyReview, map[string]interface{}{"narrative": narrative}); err != nil {
			w.log.Warn().Err(err).Msg("failed to broadcast weekly_review")
		}
	}

	return Outcome{ResultSummary: fmt.Sprintf("reviewed %d daily summaries", len(summaries)), AgentName: "weekly_review"}, nil
}

func (w *WeeklyReview) weeklyDailySummaries(ctx context.Context) ([]string, error) {
	var summaries []string
	err := w.store.Session(ctx, false, func(tx *store.Tx) error {
		rows, err := tx.QueryContext(ctx, `
			SELECT result_summary FROM job_history
			WHERE job_id = 'daily_summary' AND status = 'success'
			  AND executed_at >= datetime('now', '-7 days')
			ORDER BY executed_at ASC`)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var s string
			if err := rows.Scan(&s); err != nil {
				return err
			}
			summaries = append(summaries, s)
		}
		return rows.Err()
	})
	return summaries, err
}

func buildWeeklyReviewPrompt(summaries []string, regime map[string]interface{}) string {
	var b strings.Builder
	b.WriteString("Write a weekly market review synthesizing the following daily summaries")
	if regime != nil {
		fmt.Fprintf(&b, ", with the current market regime classified as %v", regime["regime"])
	}
	b.WriteString(".\n\n")
	for i, s := range summaries {
		fmt.Fprintf(&b, "Day %d: %s\n", i+1, s)
	}
	return b.String()
}
