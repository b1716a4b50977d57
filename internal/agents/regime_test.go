package agents

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tickerpulse/core/internal/providers"
)

func flatCloses(n int, price float64) []providers.Bar {
	bars := make([]providers.Bar, n)
	for i := 0; i < n; i++ {
		bars[i] = providers.Bar{Close: price, High: price + 0.1, Low: price - 0.1}
	}
	return bars
}

func TestRegimeAgentDefaultsToNormalOnInsufficientHistory(t *testing.T) {
	fp := &historyFakeProvider{histories: map[string]providers.PriceHistory{}}
	reg := providers.NewRegistry([]providers.Provider{fp}, nil, zerolog.Nop())
	agent := NewRegimeAgent(reg, "SPY")

	result, err := agent(context.Background(), Inputs{})
	require.NoError(t, err)
	assert.Equal(t, string(RegimeNormal), result.OutputData["regime"])
}

func TestRegimeAgentDetectsBullTrend(t *testing.T) {
	fp := &historyFakeProvider{histories: map[string]providers.PriceHistory{
		"SPY": {Ticker: "SPY", Bars: risingCloses(120, 400, 1)},
	}}
	reg := providers.NewRegistry([]providers.Provider{fp}, nil, zerolog.Nop())
	agent := NewRegimeAgent(reg, "SPY")

	result, err := agent(context.Background(), Inputs{})
	require.NoError(t, err)
	assert.Contains(t, []string{string(RegimeBull), string(RegimeVolatile)}, result.OutputData["regime"])
}

func TestRegimeAgentDefaultsBenchmarkToSPY(t *testing.T) {
	fp := &historyFakeProvider{histories: map[string]providers.PriceHistory{
		"SPY": {Ticker: "SPY", Bars: flatCloses(60, 400)},
	}}
	reg := providers.NewRegistry([]providers.Provider{fp}, nil, zerolog.Nop())
	agent := NewRegimeAgent(reg, "")

	result, err := agent(context.Background(), Inputs{})
	require.NoError(t, err)
	assert.Equal(t, "SPY", result.OutputData["benchmark"])
}
