package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/tickerpulse/core/internal/agents"
	"github.com/tickerpulse/core/internal/broadcast"
	"github.com/tickerpulse/core/internal/clock"
	"github.com/tickerpulse/core/internal/store"
)

// TechnicalMonitor implements the technical_monitor job from spec.md §4.K:
// skip outside market hours, run the scanner agent over every distinct
// watchlist ticker, and broadcast its findings as technical_alerts.
type TechnicalMonitor struct {
	store  *store.Store
	agents *agents.Registry
	sse    *broadcast.SSEBroadcaster
	market clock.Market
	now    func() time.Time
	log    zerolog.Logger
}

func NewTechnicalMonitor(st *store.Store, reg *agents.Registry, sse *broadcast.SSEBroadcaster, market clock.Market, log zerolog.Logger) *TechnicalMonitor {
	return &TechnicalMonitor{
		store: st, agents: reg, sse: sse, market: market, now: time.Now,
		log: log.With().Str("component", "technical_monitor").Logger(),
	}
}

func (m *TechnicalMonitor) Run(ctx context.Context) (Outcome, error) {
	if !clock.IsMarketHours(m.market, m.now()) {
		return Outcome{Status: "skipped", ResultSummary: "market closed"}, nil
	}

	tickers, err := m.watchlistTickers(ctx)
	if err != nil {
		return Outcome{}, fmt.Errorf("load watchlist tickers: %w", err)
	}
	if len(tickers) == 0 {
		return Outcome{Status: "skipped", ResultSummary: "no watchlist tickers"}, nil
	}

	result, _, err := m.agents.Run(ctx, "scanner", agents.Inputs{"tickers": tickers})
	if err != nil {
		return Outcome{}, fmt.Errorf("scanner agent: %w", err)
	}

	alertCount := 0
	if alerts, ok := result.OutputData["alerts"].([]agents.TechnicalAlert); ok {
		alertCount = len(alerts)
		if alertCount > 0 && m.sse != nil {
			if err := m.sse.SendEvent(broadcast.EventTechnicalAlerts, map[string]interface{}{
				"alerts": alerts,
			}); err != nil {
				m.log.Warn().Err(err).Msg("failed to broadcast technical_alerts")
			}
		}
	}

	return Outcome{
		ResultSummary: fmt.Sprintf("scanned %d tickers, %d alerts", len(tickers), alertCount),
		AgentName:     "scanner",
	}, nil
}

func (m *TechnicalMonitor) watchlistTickers(ctx context.Context) ([]string, error) {
	var tickers []string
	err := m.store.Session(ctx, false, func(tx *store.Tx) error {
		rows, err := tx.QueryContext(ctx, "SELECT DISTINCT ticker FROM watchlist_stocks")
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var t string
			if err := rows.Scan(&t); err != nil {
				return err
			}
			tickers = append(tickers, t)
		}
		return rows.Err()
	})
	return tickers, err
}
