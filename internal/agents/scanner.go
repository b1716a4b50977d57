package agents

import (
	"context"

	"github.com/markcheno/go-talib"

	"github.com/tickerpulse/core/internal/providers"
)

const (
	rsiPeriod     = 14
	rsiOverbought = 70.0
	rsiOversold   = 30.0
)

// TechnicalAlert is one ticker's scanner finding.
type TechnicalAlert struct {
	Ticker string  `json:"ticker"`
	RSI    float64 `json:"rsi"`
	Signal string  `json:"signal"` // overbought | oversold | neutral
}

// NewScannerAgent builds the "scanner" agent: for each ticker in
// inputs["tickers"], pull a 3-month daily history and compute 14-period
// RSI via go-talib, grounded on trader-go/pkg/formulas/rsi.go's
// talib.Rsi(closes, length) + NaN-check pattern. Tickers crossing the
// classic 30/70 bands are flagged in the output for technical_monitor to
// broadcast as technical_alerts.
func NewScannerAgent(registry *providers.Registry) AgentFunc {
	return func(ctx context.Context, inputs Inputs) (Result, error) {
		tickers, _ := inputs["tickers"].([]string)
		var alerts []TechnicalAlert

		for _, ticker := range tickers {
			history, err := registry.GetHistorical(ticker, providers.Period3MO)
			if err != nil || len(history.Bars) < rsiPeriod+1 {
				continue
			}

			closes := make([]float64, len(history.Bars))
			for i, bar := range history.Bars {
				closes[i] = bar.Close
			}

			rsiValues := talib.Rsi(closes, rsiPeriod)
			if len(rsiValues) == 0 {
				continue
			}
			latest := rsiValues[len(rsiValues)-1]
			if latest != latest { // NaN
				continue
			}

			signal := "neutral"
			switch {
			case latest >= rsiOverbought:
				signal = "overbought"
			case latest <= rsiOversold:
				signal = "oversold"
			}
			if signal != "neutral" {
				alerts = append(alerts, TechnicalAlert{Ticker: ticker, RSI: latest, Signal: signal})
			}
		}

		return Result{
			OutputData: map[string]interface{}{
				"alerts":        alerts,
				"tickers_count": len(tickers),
			},
		}, nil
	}
}
