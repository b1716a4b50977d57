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

// DailySummary implements the daily_summary job from spec.md §4.K: compose
// a narrative of the day's price moves across active tickers, render it
// through the narrative agent at market close, and broadcast the result.
type DailySummary struct {
	store  *store.Store
	agents *agents.Registry
	sse    *broadcast.SSEBroadcaster
	log    zerolog.Logger
}

func NewDailySummary(st *store.Store, reg *agents.Registry, sse *broadcast.SSEBroadcaster, log zerolog.Logger) *DailySummary {
	return &DailySummary{store: st, agents: reg, sse: sse, log: log.With().Str("component", "daily_summary").Logger()}
}

func (d *DailySummary) Run(ctx context.Context) (Outcome, error) {
	moves, err := d.priceMoves(ctx)
	if err != nil {
		return Outcome{}, fmt.Errorf("load price moves: %w", err)
	}
	if len(moves) == 0 {
		return Outcome{Status: "skipped", ResultSummary: "no active tickers with price data"}, nil
	}

	prompt := buildDailySummaryPrompt(moves)
	result, _, err := d.agents.Run(ctx, "daily_summary", agents.Inputs{"prompt": prompt})
	if err != nil {
		return Outcome{}, fmt.Errorf("run narrative agent: %w", err)
	}

	narrative, _ := result.OutputData["narrative"].(string)
	if d.sse != nil {
		if err := d.sse.SendEvent(broadcast.EventDailySummary, map[string]interface{}{"narrative": narrative}); err != nil {
			d.log.Warn().Err(err).Msg("failed to broadcast daily_summary")
		}
	}

	return Outcome{ResultSummary: fmt.Sprintf("summarized %d tickers", len(moves)), AgentName: "daily_summary"}, nil
}

type priceMove struct {
	Ticker         string
	PriceChangePct float64
}

func (d *DailySummary) priceMoves(ctx context.Context) ([]priceMove, error) {
	var moves []priceMove
	err := d.store.Session(ctx, false, func(tx *store.Tx) error {
		rows, err := tx.QueryContext(ctx, `
			SELECT ar.ticker, ar.price_change_pct
			FROM ai_ratings ar
			JOIN stocks s ON s.ticker = ar.ticker
			WHERE s.active = 1 AND ar.price_change_pct IS NOT NULL`)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var m priceMove
			if err := rows.Scan(&m.Ticker, &m.PriceChangePct); err != nil {
				return err
			}
			moves = append(moves, m)
		}
		return rows.Err()
	})
	return moves, err
}

func buildDailySummaryPrompt(moves []priceMove) string {
	var b strings.Builder
	b.WriteString("Write a concise end-of-day market summary for these active tickers, ")
	b.WriteString("noting the largest gainers and losers and the overall tone.\n\n")
	for _, m := range moves {
		fmt.Fprintf(&b, "- %s: %.2f%%\n", m.Ticker, m.PriceChangePct)
	}
	return b.String()
}
