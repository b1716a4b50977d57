package jobs

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tickerpulse/core/internal/store"
)

func insertPosition(t *testing.T, s *store.Store, ticker string, qty, avgCost float64) {
	t.Helper()
	require.NoError(t, s.Session(context.Background(), true, func(tx *store.Tx) error {
		_, err := tx.ExecContext(context.Background(),
			"INSERT INTO portfolio_positions (ticker, quantity, average_cost) VALUES (?, ?, ?)",
			ticker, qty, avgCost)
		return err
	}))
}

func TestPortfolioSnapshotSkipsWithNoOpenPositions(t *testing.T) {
	s := newTestStore(t)
	job := NewPortfolioSnapshot(s, zerolog.Nop())

	outcome, err := job.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "skipped", outcome.Status)
}

func TestPortfolioSnapshotComputesTotalValueFromLatestPrices(t *testing.T) {
	s := newTestStore(t)
	insertStock(t, s, "AAPL", true)
	insertPosition(t, s, "AAPL", 10, 150)
	require.NoError(t, s.Session(context.Background(), true, func(tx *store.Tx) error {
		_, err := tx.ExecContext(context.Background(),
			"INSERT INTO ai_ratings (ticker, current_price) VALUES ('AAPL', 200)")
		return err
	}))

	job := NewPortfolioSnapshot(s, zerolog.Nop())
	outcome, err := job.Run(context.Background())
	require.NoError(t, err)
	assert.Contains(t, outcome.ResultSummary, "total=2000.00")

	var total float64
	require.NoError(t, s.Session(context.Background(), false, func(tx *store.Tx) error {
		return tx.QueryRowContext(context.Background(), "SELECT total_value FROM portfolio_snapshots").Scan(&total)
	}))
	assert.Equal(t, 2000.0, total)
}
