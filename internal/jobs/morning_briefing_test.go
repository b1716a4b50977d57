package jobs

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tickerpulse/core/internal/agents"
	"github.com/tickerpulse/core/internal/broadcast"
	"github.com/tickerpulse/core/internal/store"
)

// fakeLLMProvider is shared by the morning_briefing/daily_summary/
// weekly_review tests, each of which wires a narrative agent under a
// different registered name.
type fakeLLMProvider struct {
	text string
}

func (f *fakeLLMProvider) Name() string  { return "fake" }
func (f *fakeLLMProvider) Model() string { return "fake-model" }
func (f *fakeLLMProvider) GenerateAnalysisWithUsage(ctx context.Context, prompt string, maxTokens int) (string, int, error) {
	return f.text, 10, nil
}
func (f *fakeLLMProvider) TestConnection(ctx context.Context) error { return nil }

func newTestSSE() *broadcast.SSEBroadcaster {
	return broadcast.NewSSEBroadcaster(func() (map[string]interface{}, error) { return map[string]interface{}{}, nil }, zerolog.Nop())
}

func TestMorningBriefingSkipsWithNoWatchlistTickers(t *testing.T) {
	s := newTestStore(t)
	reg := agents.NewRegistry(s, zerolog.Nop())
	reg.Register("morning_briefing", agents.NewNarrativeAgent(&fakeLLMProvider{text: "ok"}))

	job := NewMorningBriefing(s, reg, newTestSSE(), zerolog.Nop())
	outcome, err := job.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "skipped", outcome.Status)
}

func TestMorningBriefingComposesPromptAndBroadcasts(t *testing.T) {
	s := newTestStore(t)
	insertWatchlistTicker(t, s, "AAPL")
	require.NoError(t, s.Session(context.Background(), true, func(tx *store.Tx) error {
		_, err := tx.ExecContext(context.Background(),
			"INSERT INTO ai_ratings (ticker, rating, price_change_pct) VALUES ('AAPL', 'buy', 1.5)")
		return err
	}))

	reg := agents.NewRegistry(s, zerolog.Nop())
	reg.Register("morning_briefing", agents.NewNarrativeAgent(&fakeLLMProvider{text: "Markets look strong."}))

	job := NewMorningBriefing(s, reg, newTestSSE(), zerolog.Nop())
	outcome, err := job.Run(context.Background())
	require.NoError(t, err)
	assert.Contains(t, outcome.ResultSummary, "briefed 1 tickers")

	var narrative string
	require.NoError(t, s.Session(context.Background(), false, func(tx *store.Tx) error {
		return tx.QueryRowContext(context.Background(),
			"SELECT output_data FROM agent_runs WHERE agent_name = 'morning_briefing'").Scan(&narrative)
	}))
	assert.Contains(t, narrative, "Markets look strong.")
}
