package jobs

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/tickerpulse/core/internal/store"
)

// positionValue is one priced portfolio holding, recorded in a snapshot's
// snapshot_data JSON blob.
type positionValue struct {
	Ticker   string  `json:"ticker"`
	Quantity float64 `json:"quantity"`
	Price    float64 `json:"price"`
	Value    float64 `json:"value"`
}

// PortfolioSnapshot implements the portfolio_snapshot job from spec.md §4.K:
// marks portfolio_positions to the latest ai_ratings.current_price and
// records the total as one portfolio_snapshots row, end of trading day.
type PortfolioSnapshot struct {
	store *store.Store
	log   zerolog.Logger
}

func NewPortfolioSnapshot(st *store.Store, log zerolog.Logger) *PortfolioSnapshot {
	return &PortfolioSnapshot{store: st, log: log.With().Str("component", "portfolio_snapshot").Logger()}
}

func (p *PortfolioSnapshot) Run(ctx context.Context) (Outcome, error) {
	var positions []positionValue
	err := p.store.Session(ctx, false, func(tx *store.Tx) error {
		rows, err := tx.QueryContext(ctx, `
			SELECT pp.ticker, pp.quantity, COALESCE(ar.current_price, 0)
			FROM portfolio_positions pp
			LEFT JOIN ai_ratings ar ON ar.ticker = pp.ticker
			WHERE pp.quantity != 0`)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var pv positionValue
			if err := rows.Scan(&pv.Ticker, &pv.Quantity, &pv.Price); err != nil {
				return err
			}
			pv.Value = pv.Quantity * pv.Price
			positions = append(positions, pv)
		}
		return rows.Err()
	})
	if err != nil {
		return Outcome{}, fmt.Errorf("load portfolio positions: %w", err)
	}

	if len(positions) == 0 {
		return Outcome{Status: "skipped", ResultSummary: "no open portfolio positions"}, nil
	}

	var total float64
	for _, pv := range positions {
		total += pv.Value
	}

	blob, err := json.Marshal(positions)
	if err != nil {
		return Outcome{}, fmt.Errorf("marshal snapshot data: %w", err)
	}

	err = p.store.Session(ctx, true, func(tx *store.Tx) error {
		_, err := tx.ExecContext(ctx,
			"INSERT INTO portfolio_snapshots (total_value, snapshot_data) VALUES (?, ?)",
			total, string(blob))
		return err
	})
	if err != nil {
		return Outcome{}, fmt.Errorf("persist portfolio snapshot: %w", err)
	}

	return Outcome{ResultSummary: fmt.Sprintf("snapshotted %d positions, total=%.2f", len(positions), total)}, nil
}
