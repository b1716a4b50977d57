package sentiment

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tickerpulse/core/internal/store"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	path := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	s, err := store.Open(store.Config{Path: path, PoolSize: 3})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func insertNews(t *testing.T, s *store.Store, ticker string, score float64, publishedAt time.Time) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, s.Session(ctx, false, func(tx *store.Tx) error {
		_, err := tx.ExecContext(ctx,
			"INSERT INTO news (ticker, headline, sentiment_score, source, published_at) VALUES (?, 'h', ?, 's', ?)",
			ticker, score, publishedAt.UTC().Format(time.RFC3339))
		return err
	}))
}

func insertAgentRun(t *testing.T, s *store.Store, outputData string, completedAt time.Time) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, s.Session(ctx, false, func(tx *store.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO agent_runs (agent_name, status, output_data, completed_at) VALUES ('investigator', 'completed', ?, ?)`,
			outputData, completedAt.UTC().Format(time.RFC3339))
		return err
	}))
}

type fakeStockTwits struct {
	counts signalCounts
	err    error
}

func (f *fakeStockTwits) FetchSentiment(context.Context, string) (signalCounts, error) {
	return f.counts, f.err
}

func TestAggregateComputesFromNewsOnMiss(t *testing.T) {
	s := newTestStore(t)
	now := time.Now().UTC()
	insertNews(t, s, "AAPL", 0.5, now.Add(-1*time.Hour))
	insertNews(t, s, "AAPL", 0.6, now.Add(-2*time.Hour))
	insertNews(t, s, "AAPL", -0.5, now.Add(-3*time.Hour))

	c := New(s, &fakeStockTwits{}, zerolog.Nop())
	result, err := c.Aggregate(context.Background(), "AAPL")
	require.NoError(t, err)

	assert.Equal(t, 3, result.SignalCount)
	assert.InDelta(t, 2.0/3.0, result.Score, 0.001)
	assert.Equal(t, LabelBullish, result.Label)
	assert.False(t, result.Degraded)
}

func TestAggregateMergesAgentRunSignalsWeightedByMentions(t *testing.T) {
	s := newTestStore(t)
	now := time.Now().UTC()
	insertAgentRun(t, s, `[{"ticker":"TSLA","mentions":3,"sentiment_score":0.8}]`, now.Add(-1*time.Hour))

	c := New(s, &fakeStockTwits{}, zerolog.Nop())
	result, err := c.Aggregate(context.Background(), "TSLA")
	require.NoError(t, err)

	assert.Equal(t, 3, result.SignalCount)
	assert.Equal(t, LabelBullish, result.Label)
}

func TestAggregateMarksDegradedOnStockTwitsFailure(t *testing.T) {
	s := newTestStore(t)
	insertNews(t, s, "MSFT", 0.5, time.Now().UTC().Add(-1*time.Hour))

	c := New(s, &fakeStockTwits{err: errors.New("timeout")}, zerolog.Nop())
	result, err := c.Aggregate(context.Background(), "MSFT")
	require.NoError(t, err)
	assert.True(t, result.Degraded)
}

func TestAggregateMergesLiveStockTwitsCounts(t *testing.T) {
	s := newTestStore(t)
	insertNews(t, s, "NFLX", 0.5, time.Now().UTC().Add(-1*time.Hour))

	c := New(s, &fakeStockTwits{counts: signalCounts{bullish: 2, bearish: 1}}, zerolog.Nop())
	result, err := c.Aggregate(context.Background(), "NFLX")
	require.NoError(t, err)
	assert.Equal(t, 4, result.SignalCount) // 1 news + 2 bullish + 1 bearish stocktwits
}

func TestInvalidateTickerDeletesCacheRow(t *testing.T) {
	s := newTestStore(t)
	insertNews(t, s, "AMD", 0.5, time.Now().UTC().Add(-1*time.Hour))

	c := New(s, &fakeStockTwits{}, zerolog.Nop())
	_, err := c.Aggregate(context.Background(), "AMD")
	require.NoError(t, err)

	require.NoError(t, c.InvalidateTicker(context.Background(), "AMD"))

	conn, release, err := s.Acquire(context.Background())
	require.NoError(t, err)
	defer release()

	var count int
	require.NoError(t, conn.QueryRowContext(context.Background(),
		"SELECT COUNT(*) FROM sentiment_cache WHERE ticker = ?", "AMD").Scan(&count))
	assert.Equal(t, 0, count)
}

func TestScoreAndLabelBoundaries(t *testing.T) {
	score, label := scoreAndLabel(signalCounts{bullish: 6, neutral: 4})
	assert.InDelta(t, 0.6, score, 0.001)
	assert.Equal(t, LabelBullish, label)

	score, label = scoreAndLabel(signalCounts{bearish: 6, neutral: 4})
	assert.InDelta(t, 0.0, score, 0.001)
	assert.Equal(t, LabelBearish, label)

	score, label = scoreAndLabel(signalCounts{bullish: 5, bearish: 5})
	assert.InDelta(t, 0.5, score, 0.001)
	assert.Equal(t, LabelNeutral, label)
}

func TestScoreAndLabelEmptyIsNeutral(t *testing.T) {
	score, label := scoreAndLabel(signalCounts{})
	assert.Equal(t, 0.0, score)
	assert.Equal(t, LabelNeutral, label)
}
