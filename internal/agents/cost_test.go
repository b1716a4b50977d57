package agents

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tickerpulse/core/internal/store"
)

func TestEstimateCostZeroForEmptyModel(t *testing.T) {
	assert.Equal(t, 0.0, EstimateCost("", 1000, 1000))
}

func TestEstimateCostKnownModel(t *testing.T) {
	cost := EstimateCost("gpt-4o-mini", 1000, 1000)
	assert.InDelta(t, 0.00015+0.0006, cost, 1e-9)
}

func TestEstimateCostUnknownModelUsesDefault(t *testing.T) {
	cost := EstimateCost("some-unlisted-model", 1000, 1000)
	assert.InDelta(t, defaultCostRate.InputPer1K+defaultCostRate.OutputPer1K, cost, 1e-9)
}

func TestCostSummaryAggregatesByAgentAndDay(t *testing.T) {
	s := newTestStore(t)
	reg := NewRegistry(s, zerolog.Nop())
	reg.Register("investigator", func(ctx context.Context, in Inputs) (Result, error) {
		return Result{TokensInput: 100, TokensOutput: 100, Model: "gpt-4o"}, nil
	})

	_, _, err := reg.Run(context.Background(), "investigator", Inputs{})
	require.NoError(t, err)
	_, _, err = reg.Run(context.Background(), "investigator", Inputs{})
	require.NoError(t, err)

	summaries, err := CostSummary(context.Background(), s, 7)
	require.NoError(t, err)
	require.Len(t, summaries, 1)
	assert.Equal(t, "investigator", summaries[0].AgentName)
	assert.Equal(t, 2, summaries[0].RunCount)
}

func TestCostSummaryRejectsNonPositiveWindow(t *testing.T) {
	s := newTestStore(t)
	_, err := CostSummary(context.Background(), s, 0)
	assert.Error(t, err)
}
