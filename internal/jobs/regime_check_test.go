package jobs

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tickerpulse/core/internal/agents"
	"github.com/tickerpulse/core/internal/clock"
	"github.com/tickerpulse/core/internal/store"
)

func TestRegimeCheckSkipsOutsideMarketHours(t *testing.T) {
	s := newTestStore(t)
	reg := agents.NewRegistry(s, zerolog.Nop())
	rc := NewRegimeCheck(s, reg, clock.US, zerolog.Nop())
	rc.now = func() time.Time { return sundayNoon }

	outcome, err := rc.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "skipped", outcome.Status)
}

func TestRegimeCheckPersistsRegimeSummaryJSON(t *testing.T) {
	s := newTestStore(t)
	reg := agents.NewRegistry(s, zerolog.Nop())
	reg.Register("regime", func(ctx context.Context, in agents.Inputs) (agents.Result, error) {
		return agents.Result{OutputData: map[string]interface{}{"regime": "Bull"}}, nil
	})
	rc := NewRegimeCheck(s, reg, clock.US, zerolog.Nop())
	rc.now = func() time.Time { return wednesdayNoonET }

	outcome, err := rc.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "regime", outcome.AgentName)
	assert.Contains(t, outcome.ResultSummary, "Bull")
}

func TestLatestRegimeReadsMostRecentSuccess(t *testing.T) {
	s := newTestStore(t)
	timer := NewTimer(s, nil, zerolog.Nop())
	require.NoError(t, timer.Run(context.Background(), "regime_check", "Regime Check", func(ctx context.Context) (Outcome, error) {
		return Outcome{ResultSummary: `{"regime":"Bear"}`}, nil
	}))

	regime, err := LatestRegime(context.Background(), s)
	require.NoError(t, err)
	assert.Equal(t, "Bear", regime["regime"])
}

func TestLatestRegimeErrorsWhenNoneRecorded(t *testing.T) {
	s := newTestStore(t)
	_, err := LatestRegime(context.Background(), s)
	assert.Error(t, err)
}
