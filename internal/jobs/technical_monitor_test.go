package jobs

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tickerpulse/core/internal/agents"
	"github.com/tickerpulse/core/internal/broadcast"
	"github.com/tickerpulse/core/internal/clock"
	"github.com/tickerpulse/core/internal/store"
)

func insertWatchlistTicker(t *testing.T, s *store.Store, ticker string) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, s.Session(ctx, false, func(tx *store.Tx) error {
		res, err := tx.ExecContext(ctx, "INSERT INTO watchlists (name) VALUES ('default')")
		if err != nil {
			return err
		}
		id, err := res.LastInsertId()
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, "INSERT INTO watchlist_stocks (watchlist_id, ticker) VALUES (?, ?)", id, ticker)
		return err
	}))
}

// sundayNoon is a fixed weekend timestamp, always outside market hours
// regardless of when this test actually runs.
var sundayNoon = time.Date(2026, 8, 2, 12, 0, 0, 0, time.UTC)

// wednesdayNoonET is a fixed weekday regular-session timestamp.
var wednesdayNoonET = time.Date(2026, 8, 5, 15, 0, 0, 0, time.UTC) // ~11:00 ET

func TestTechnicalMonitorSkipsOutsideMarketHours(t *testing.T) {
	s := newTestStore(t)
	reg := agents.NewRegistry(s, zerolog.Nop())
	m := NewTechnicalMonitor(s, reg, nil, clock.US, zerolog.Nop())
	m.now = func() time.Time { return sundayNoon }

	outcome, err := m.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "skipped", outcome.Status)
}

func TestTechnicalMonitorSkipsWithNoWatchlistTickers(t *testing.T) {
	s := newTestStore(t)
	reg := agents.NewRegistry(s, zerolog.Nop())
	m := NewTechnicalMonitor(s, reg, nil, clock.US, zerolog.Nop())
	m.now = func() time.Time { return wednesdayNoonET }

	outcome, err := m.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "skipped", outcome.Status)
}

func TestTechnicalMonitorRunsScannerAndBroadcastsAlerts(t *testing.T) {
	s := newTestStore(t)
	insertWatchlistTicker(t, s, "AAPL")

	reg := agents.NewRegistry(s, zerolog.Nop())
	reg.Register("scanner", func(ctx context.Context, in agents.Inputs) (agents.Result, error) {
		return agents.Result{OutputData: map[string]interface{}{
			"alerts": []agents.TechnicalAlert{{Ticker: "AAPL", RSI: 75, Signal: "overbought"}},
		}}, nil
	})

	sse := broadcast.NewSSEBroadcaster(func() (map[string]interface{}, error) { return map[string]interface{}{}, nil }, zerolog.Nop())
	m := NewTechnicalMonitor(s, reg, sse, clock.US, zerolog.Nop())
	m.now = func() time.Time { return wednesdayNoonET }

	outcome, err := m.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "scanner", outcome.AgentName)
	assert.Contains(t, outcome.ResultSummary, "1 alerts")
}
