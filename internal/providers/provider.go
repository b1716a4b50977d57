// Package providers implements TickerPulse's quote/history/search data
// provider abstraction: an ordered fallback chain over several vendor APIs,
// each with its own rate-limit accounting.
package providers

import "time"

// Quote is a latest-trade snapshot, normalized to UTC.
type Quote struct {
	Ticker        string
	Price         float64
	PreviousClose float64
	ChangePercent float64
	Volume        int64
	Timestamp     time.Time
}

// HistoryPeriod enumerates the supported historical lookback windows.
type HistoryPeriod string

const (
	Period1D  HistoryPeriod = "1d"
	Period5D  HistoryPeriod = "5d"
	Period1MO HistoryPeriod = "1mo"
	Period3MO HistoryPeriod = "3mo"
	Period6MO HistoryPeriod = "6mo"
	Period1Y  HistoryPeriod = "1y"
	Period2Y  HistoryPeriod = "2y"
	Period5Y  HistoryPeriod = "5y"
)

var validPeriods = map[HistoryPeriod]bool{
	Period1D: true, Period5D: true, Period1MO: true, Period3MO: true,
	Period6MO: true, Period1Y: true, Period2Y: true, Period5Y: true,
}

// ValidPeriod reports whether p is one of the supported lookback windows.
func ValidPeriod(p HistoryPeriod) bool { return validPeriods[p] }

// Bar is a single OHLCV candle, timestamped in UTC.
type Bar struct {
	Date   time.Time
	Open   float64
	High   float64
	Low    float64
	Close  float64
	Volume int64
}

// PriceHistory is an ordered (oldest-first) run of bars for one ticker.
type PriceHistory struct {
	Ticker string
	Bars   []Bar
}

// TickerResult is a single hit from a provider's ticker search.
type TickerResult struct {
	Symbol string
	Name   string
	Market string
}

// Tier classifies a provider's pricing/SLA tier, surfaced to the UI.
type Tier string

const (
	TierFree    Tier = "free"
	TierKeyed   Tier = "keyed"
	TierPremium Tier = "premium"
)

// ProviderInfo describes a provider's identity and capabilities.
type ProviderInfo struct {
	Name              string
	Tier              Tier
	RequiresKey       bool
	SupportedMarkets  []string
	Realtime          bool
	RateLimitPerMin   int
	Description       string
}

// Provider is implemented by every concrete data vendor integration.
type Provider interface {
	GetQuote(ticker string) (Quote, error)
	GetHistorical(ticker string, period HistoryPeriod) (PriceHistory, error)
	SearchTicker(query string) []TickerResult
	Info() ProviderInfo
}

// BatchQuoter is implemented by providers that can fetch many tickers in a
// single upstream call (only YFinance today). Registry.BatchQuote uses the
// first usable provider in chain order that implements BatchQuoter, and
// falls back to per-ticker GetQuote when none does.
type BatchQuoter interface {
	GetBatchQuotes(tickers []string) (map[string]Quote, error)
}
