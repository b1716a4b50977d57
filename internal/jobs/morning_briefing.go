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

// MorningBriefing implements the morning_briefing job from spec.md §4.K:
// compose a narrative prompt from each watchlist ticker's latest rating and
// overnight price move, render it through the narrative agent, and
// broadcast the result ahead of the US market open.
type MorningBriefing struct {
	store  *store.Store
	agents *agents.Registry
	sse    *broadcast.SSEBroadcaster
	log    zerolog.Logger
}

func NewMorningBriefing(st *store.Store, reg *agents.Registry, sse *broadcast.SSEBroadcaster, log zerolog.Logger) *MorningBriefing {
	return &MorningBriefing{store: st, agents: reg, sse: sse, log: log.With().Str("component", "morning_briefing").Logger()}
}

func (m *MorningBriefing) Run(ctx context.Context) (Outcome, error) {
	rows, err := m.ratingSnapshot(ctx)
	if err != nil {
		return Outcome{}, fmt.Errorf("load rating snapshot: %w", err)
	}
	if len(rows) == 0 {
		return Outcome{Status: "skipped", ResultSummary: "no rated watchlist tickers"}, nil
	}

	prompt := buildBriefingPrompt(rows)
	result, _, err := m.agents.Run(ctx, "morning_briefing", agents.Inputs{"prompt": prompt})
	if err != nil {
		return Outcome{}, fmt.Errorf("run narrative agent: %w", err)
	}

	narrative, _ := result.OutputData["narrative"].(string)
	if m.sse != nil {
		if err := m.sse.SendEvent(broadcast.EventMorningBriefing, map[string]interface{}{"narrative": narrative}); err != nil {
			m.log.Warn().Err(err).Msg("failed to broadcast morning_briefing")
		}
	}

	return Outcome{ResultSummary: fmt.Sprintf("briefed %d tickers", len(rows)), AgentName: "morning_briefing"}, nil
}

type ratingRow struct {
	Ticker         string
	Rating         string
	PriceChangePct float64
}

func (m *MorningBriefing) ratingSnapshot(ctx context.Context) ([]ratingRow, error) {
	var rows []ratingRow
	err := m.store.Session(ctx, false, func(tx *store.Tx) error {
		result, err := tx.QueryContext(ctx, `
			SELECT DISTINCT ws.ticker, COALESCE(ar.rating, 'unrated'), COALESCE(ar.price_change_pct, 0)
			FROM watchlist_stocks ws
			LEFT JOIN ai_ratings ar ON ar.ticker = ws.ticker`)
		if err != nil {
			return err
		}
		defer result.Close()
		for result.Next() {
			var r ratingRow
			if err := result.Scan(&r.Ticker, &r.Rating, &r.PriceChangePct); err != nil {
				return err
			}
			rows = append(rows, r)
		}
		return result.Err()
	})
	return rows, err
}

func buildBriefingPrompt(rows []ratingRow) string {
	var b strings.Builder
	b.WriteString("Write a concise pre-market briefing for the following watchlist tickers. ")
	b.WriteString("For each, note its current AI rating and overnight price change, then summarize the overall tone.\n\n")
	for _, r := range rows {
		fmt.Fprintf(&b, "- %s: rating=%s, change=%.2f%%\n", r.Ticker, r.Rating, r.PriceChangePct)
	}
	return b.String()
}
