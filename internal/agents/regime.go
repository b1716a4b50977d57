package agents

import (
	"context"

	"github.com/markcheno/go-talib"

	"github.com/tickerpulse/core/internal/providers"
)

// Regime is one of the five market-condition labels spec.md §4.K names.
type Regime string

const (
	RegimeBull     Regime = "Bull"
	RegimeBear     Regime = "Bear"
	RegimeNeutral  Regime = "Neutral"
	RegimeVolatile Regime = "Volatile"
	RegimeNormal   Regime = "Normal"
)

const (
	regimeSMAPeriod         = 50
	regimeTrendThresholdPct = 3.0 // % above/below SMA to call a trend
	regimeHighVolATRPct     = 2.5 // ATR as % of price above which we call it Volatile
)

// NewRegimeAgent builds the "regime" agent: classifies the overall market
// from benchmarkTicker's (default SPY) 6-month daily history using a
// 50-day SMA trend check and an ATR-based volatility check, both via
// go-talib as scanner.go does for RSI.
func NewRegimeAgent(registry *providers.Registry, benchmarkTicker string) AgentFunc {
	if benchmarkTicker == "" {
		benchmarkTicker = "SPY"
	}

	return func(ctx context.Context, inputs Inputs) (Result, error) {
		history, err := registry.GetHistorical(benchmarkTicker, providers.Period6MO)
		if err != nil || len(history.Bars) < regimeSMAPeriod+1 {
			return Result{OutputData: map[string]interface{}{
				"regime": string(RegimeNormal),
				"reason": "insufficient history",
			}}, nil
		}

		closes := make([]float64, len(history.Bars))
		highs := make([]float64, len(history.Bars))
		lows := make([]float64, len(history.Bars))
		for i, bar := range history.Bars {
			closes[i] = bar.Close
			highs[i] = bar.High
			lows[i] = bar.Low
		}

		sma := talib.Sma(closes, regimeSMAPeriod)
		atr := talib.Atr(highs, lows, closes, 14)

		latestClose := closes[len(closes)-1]
		latestSMA := sma[len(sma)-1]
		latestATR := atr[len(atr)-1]

		regime := RegimeNormal
		pctFromSMA := 0.0
		if latestSMA != 0 && latestSMA == latestSMA {
			pctFromSMA = (latestClose - latestSMA) / latestSMA * 100
		}
		atrPct := 0.0
		if latestClose != 0 && latestATR == latestATR {
			atrPct = latestATR / latestClose * 100
		}

		switch {
		case atrPct >= regimeHighVolATRPct:
			regime = RegimeVolatile
		case pctFromSMA >= regimeTrendThresholdPct:
			regime = RegimeBull
		case pctFromSMA <= -regimeTrendThresholdPct:
			regime = RegimeBear
		default:
			regime = RegimeNeutral
		}

		return Result{
			OutputData: map[string]interface{}{
				"regime":         string(regime),
				"benchmark":      benchmarkTicker,
				"pct_from_sma50": pctFromSMA,
				"atr_pct":        atrPct,
			},
		}, nil
	}
}
