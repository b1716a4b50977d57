package jobs

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/tickerpulse/core/internal/providers"
	"github.com/tickerpulse/core/internal/store"
)

// EarningsSync implements the earnings_sync job from spec.md §4.K: for
// each watchlist ticker, fetch its earnings calendar and batch-upsert into
// earnings_events keyed by (ticker, earnings_date), COALESCE-preserving
// any already-recorded actuals when the incoming row has none yet.
type EarningsSync struct {
	store    *store.Store
	registry *providers.Registry
	log      zerolog.Logger
}

func NewEarningsSync(st *store.Store, registry *providers.Registry, log zerolog.Logger) *EarningsSync {
	return &EarningsSync{store: st, registry: registry, log: log.With().Str("component", "earnings_sync").Logger()}
}

func (e *EarningsSync) Run(ctx context.Context) (Outcome, error) {
	tickers, err := e.watchlistTickers(ctx)
	if err != nil {
		return Outcome{}, fmt.Errorf("load watchlist tickers: %w", err)
	}
	if len(tickers) == 0 {
		return Outcome{Status: "skipped", ResultSummary: "no watchlist tickers"}, nil
	}

	synced, skipped := 0, 0
	for _, ticker := range tickers {
		events, err := e.registry.Earnings(ticker)
		if err != nil {
			e.log.Debug().Err(err).Str("ticker", ticker).Msg("no earnings data available")
			skipped++
			continue
		}
		if err := e.upsert(ctx, events); err != nil {
			return Outcome{}, fmt.Errorf("upsert earnings for %s: %w", ticker, err)
		}
		synced++
	}

	return Outcome{ResultSummary: fmt.Sprintf("synced %d tickers, %d skipped", synced, skipped)}, nil
}

func (e *EarningsSync) watchlistTickers(ctx context.Context) ([]string, error) {
	var tickers []string
	err := e.store.Session(ctx, false, func(tx *store.Tx) error {
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

func (e *EarningsSync) upsert(ctx context.Context, events []providers.EarningsEvent) error {
	if len(events) == 0 {
		return nil
	}
	return e.store.Session(ctx, true, func(tx *store.Tx) error {
		for _, ev := range events {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO earnings_events (ticker, earnings_date, eps_estimate, eps_actual, revenue_estimate, revenue_actual)
				VALUES (?, ?, ?, ?, ?, ?)
				ON CONFLICT(ticker, earnings_date) DO UPDATE SET
					eps_estimate = excluded.eps_estimate,
					eps_actual = COALESCE(excluded.eps_actual, earnings_events.eps_actual),
					revenue_estimate = excluded.revenue_estimate,
					revenue_actual = COALESCE(excluded.revenue_actual, earnings_events.revenue_actual)`,
				ev.Ticker, ev.EarningsDate.Format("2006-01-02"),
				nullableFloat(ev.EPSEstimate), nullableFloat(ev.EPSActual),
				nullableFloat(ev.RevenueEstimate), nullableFloat(ev.RevenueActual)); err != nil {
				return err
			}
		}
		return nil
	})
}

func nullableFloat(f *float64) interface{} {
	if f == nil {
		return nil
	}
	return *f
}
