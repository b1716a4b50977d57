package jobs

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tickerpulse/core/internal/broadcast"
	"github.com/tickerpulse/core/internal/sentiment"
	"github.com/tickerpulse/core/internal/store"
)

func insertNewsSignal(t *testing.T, s *store.Store, ticker string, score float64) {
	t.Helper()
	require.NoError(t, s.Session(context.Background(), true, func(tx *store.Tx) error {
		_, err := tx.ExecContext(context.Background(),
			"INSERT INTO news (ticker, headline, sentiment_score, source, published_at) VALUES (?, 'h', ?, 's', ?)",
			ticker, score, time.Now().UTC())
		return err
	}))
}

func TestRedditScannerSkipsWithNoWatchlistTickers(t *testing.T) {
	s := newTestStore(t)
	cache := sentiment.New(s, sentiment.NewHTTPStockTwitsClient(zerolog.Nop()), zerolog.Nop())
	job := NewRedditScanner(s, cache, nil, zerolog.Nop())

	outcome, err := job.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "skipped", outcome.Status)
}

func TestRedditScannerFlagsTrendingTickersBySignalVolume(t *testing.T) {
	s := newTestStore(t)
	insertWatchlistTicker(t, s, "AAPL")
	insertWatchlistTicker(t, s, "MSFT")

	// AAPL crosses the trending threshold, MSFT stays below it.
	for i := 0; i < 3; i++ {
		insertNewsSignal(t, s, "AAPL", 0.6)
	}
	insertNewsSignal(t, s, "MSFT", 0.2)

	cache := sentiment.New(s, sentiment.NewHTTPStockTwitsClient(zerolog.Nop()), zerolog.Nop())
	sse := broadcast.NewSSEBroadcaster(func() (map[string]interface{}, error) { return map[string]interface{}{}, nil }, zerolog.Nop())
	job := NewRedditScanner(s, cache, sse, zerolog.Nop())

	outcome, err := job.Run(context.Background())
	require.NoError(t, err)
	assert.Contains(t, outcome.ResultSummary, "scanned 2 tickers")
	assert.Contains(t, outcome.ResultSummary, "1 trending")
}
