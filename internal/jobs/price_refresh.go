package jobs

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/tickerpulse/core/internal/alerts"
	"github.com/tickerpulse/core/internal/broadcast"
	"github.com/tickerpulse/core/internal/providers"
	"github.com/tickerpulse/core/internal/store"
)

// priceRefreshIntervalSetting is the settings-table key spec.md §4.K names
// for pausing price_refresh independent of its scheduler trigger: a stored
// value of 0 means "paused" even while the job is still registered/enabled.
const priceRefreshIntervalSetting = "price_refresh_interval"

// PriceRefresher implements the price_refresh job from spec.md §4.K: pull a
// fresh quote for every active ticker, write current_price/price_change/
// price_change_pct into ai_ratings, broadcast the update, then hand the
// freshly-written tickers to the alert engine. It never touches the AI
// rating columns (rating/score/confidence/summary/...).
type PriceRefresher struct {
	store    *store.Store
	registry *providers.Registry
	sse      *broadcast.SSEBroadcaster
	ws       *broadcast.WSBroadcaster
	alerts   *alerts.Engine
	log      zerolog.Logger
}

func NewPriceRefresher(st *store.Store, registry *providers.Registry, sse *broadcast.SSEBroadcaster,
	ws *broadcast.WSBroadcaster, alertEngine *alerts.Engine, log zerolog.Logger) *PriceRefresher {
	return &PriceRefresher{
		store: st, registry: registry, sse: sse, ws: ws, alerts: alertEngine,
		log: log.With().Str("component", "price_refresh").Logger(),
	}
}

func (p *PriceRefresher) Run(ctx context.Context) (Outcome, error) {
	paused, err := p.intervalPaused()
	if err != nil {
		return Outcome{}, fmt.Errorf("read %s setting: %w", priceRefreshIntervalSetting, err)
	}
	if paused {
		return Outcome{Status: "skipped", ResultSummary: priceRefreshIntervalSetting + "=0"}, nil
	}

	tickers, err := p.activeTickers(ctx)
	if err != nil {
		return Outcome{}, fmt.Errorf("load active tickers: %w", err)
	}
	if len(tickers) == 0 {
		return Outcome{Status: "skipped", ResultSummary: "no active tickers"}, nil
	}

	quotes, err := p.registry.BatchQuote(tickers)
	if err != nil {
		return Outcome{}, fmt.Errorf("fetch quotes: %w", err)
	}
	if len(quotes) == 0 {
		return Outcome{Status: "skipped", ResultSummary: "no quotes returned"}, nil
	}

	if err := p.persist(ctx, quotes); err != nil {
		return Outcome{}, fmt.Errorf("persist quotes: %w", err)
	}

	fresh := p.broadcast(quotes)

	if p.alerts != nil && len(fresh) > 0 {
		if err := p.alerts.EvaluateAlerts(ctx, fresh); err != nil {
			p.log.Warn().Err(err).Msg("alert evaluation failed after price refresh")
		}
	}

	return Outcome{ResultSummary: fmt.Sprintf("refreshed %d/%d tickers", len(quotes), len(tickers))}, nil
}

// intervalPaused reads price_refresh_interval from the settings table, the
// same store.GetSetting helper alerts.Engine.resolveSound uses. A missing
// row or a non-numeric value leaves the job running (config default/defer
// to the scheduler's own trigger); an explicit "0" pauses it.
func (p *PriceRefresher) intervalPaused() (bool, error) {
	value, ok, err := p.store.GetSetting(priceRefreshIntervalSetting)
	if err != nil {
		return false, err
	}
	if !ok || value == "" {
		return false, nil
	}
	seconds, err := strconv.Atoi(value)
	if err != nil {
		return false, nil
	}
	return seconds == 0, nil
}

func (p *PriceRefresher) activeTickers(ctx context.Context) ([]string, error) {
	var tickers []string
	err := p.store.Session(ctx, false, func(tx *store.Tx) error {
		rows, err := tx.QueryContext(ctx, "SELECT ticker FROM stocks WHERE active = 1")
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

func (p *PriceRefresher) persist(ctx context.Context, quotes map[string]providers.Quote) error {
	now := time.Now().UTC().Format(time.RFC3339)
	return p.store.Session(ctx, true, func(tx *store.Tx) error {
		for ticker, q := range quotes {
			change := q.Price - q.PreviousClose
			changePct := q.ChangePercent
			if q.PreviousClose != 0 && changePct == 0 {
				changePct = change / q.PreviousClose * 100
			}
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO ai_ratings (ticker, current_price, price_change, price_change_pct, updated_at)
				VALUES (?, ?, ?, ?, ?)
				ON CONFLICT(ticker) DO UPDATE SET
					current_price = excluded.current_price,
					price_change = excluded.price_change,
					price_change_pct = excluded.price_change_pct,
					updated_at = excluded.updated_at`,
				ticker, q.Price, change, changePct, now); err != nil {
				return fmt.Errorf("upsert %s: %w", ticker, err)
			}
		}
		return nil
	})
}

func (p *PriceRefresher) broadcast(quotes map[string]providers.Quote) []string {
	fresh := make([]string, 0, len(quotes))
	wsPrices := make(map[string]interface{}, len(quotes))

	for ticker, q := range quotes {
		fresh = append(fresh, ticker)
		change := q.Price - q.PreviousClose
		payload := map[string]interface{}{
			"ticker":           ticker,
			"current_price":    q.Price,
			"price_change":     change,
			"price_change_pct": q.ChangePercent,
			"volume":           q.Volume,
			"timestamp":        q.Timestamp,
		}
		wsPrices[ticker] = payload

		if p.sse != nil {
			if err := p.sse.SendEvent(broadcast.EventPriceUpdate, payload); err != nil {
				p.log.Warn().Err(err).Str("ticker", ticker).Msg("failed to broadcast price_update")
			}
		}
	}

	if p.ws != nil && len(wsPrices) > 0 {
		if err := p.ws.BroadcastPrices(wsPrices); err != nil {
			p.log.Warn().Err(err).Msg("failed to broadcast price_batch")
		}
	}

	return fresh
}
