package jobs

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tickerpulse/core/internal/agents"
	"github.com/tickerpulse/core/internal/store"
)

func TestDailySummarySkipsWithNoPricedActiveTickers(t *testing.T) {
	s := newTestStore(t)
	reg := agents.NewRegistry(s, zerolog.Nop())
	reg.Register("daily_summary", agents.NewNarrativeAgent(&fakeLLMProvider{text: "ok"}))

	job := NewDailySummary(s, reg, newTestSSE(), zerolog.Nop())
	outcome, err := job.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "skipped", outcome.Status)
}

func TestDailySummaryComposesPromptFromActiveTickerMoves(t *testing.T) {
	s := newTestStore(t)
	insertStock(t, s, "AAPL", true)
	require.NoError(t, s.Session(context.Background(), true, func(tx *store.Tx) error {
		_, err := tx.ExecContext(context.Background(),
			"INSERT INTO ai_ratings (ticker, price_change_pct) VALUES ('AAPL', -2.3)")
		return err
	}))

	reg := agents.NewRegistry(s, zerolog.Nop())
	reg.Register("daily_summary", agents.NewNarrativeAgent(&fakeLLMProvider{text: "Markets slipped."}))

	job := NewDailySummary(s, reg, newTestSSE(), zerolog.Nop())
	outcome, err := job.Run(context.Background())
	require.NoError(t, err)
	assert.Contains(t, outcome.ResultSummary, "summarized 1 tickers")
}
