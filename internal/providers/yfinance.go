package providers

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/wnjoon/go-yfinance/pkg/models"
	"github.com/wnjoon/go-yfinance/pkg/multi"
	"github.com/wnjoon/go-yfinance/pkg/ticker"
)

// YFinanceProvider is the default, keyless quote/history provider. It is
// the only provider that supports a true batch download.
type YFinanceProvider struct {
	log zerolog.Logger
}

// NewYFinanceProvider builds the default provider.
func NewYFinanceProvider(log zerolog.Logger) *YFinanceProvider {
	return &YFinanceProvider{log: log.With().Str("provider", "yfinance").Logger()}
}

func (p *YFinanceProvider) Info() ProviderInfo {
	return ProviderInfo{
		Name:             "yfinance",
		Tier:             TierFree,
		RequiresKey:      false,
		SupportedMarkets: []string{"US", "India"},
		Realtime:         false,
		RateLimitPerMin:  60,
		Description:      "Yahoo Finance, keyless, batch-capable",
	}
}

func (p *YFinanceProvider) GetQuote(symbol string) (Quote, error) {
	t, err := ticker.New(symbol)
	if err != nil {
		return Quote{}, fmt.Errorf("yfinance: new ticker %s: %w", symbol, err)
	}
	defer t.Close()

	q, err := t.Quote()
	if err != nil || q == nil {
		return Quote{}, fmt.Errorf("yfinance: quote %s: %w", symbol, err)
	}

	price := q.RegularMarketPrice
	if price == 0 {
		price = q.PreMarketPrice
	}
	if price == 0 {
		price = q.PostMarketPrice
	}

	return Quote{
		Ticker:        symbol,
		Price:         price,
		PreviousClose: q.RegularMarketPreviousClose,
		ChangePercent: q.RegularMarketChangePercent,
		Volume:        int64(q.RegularMarketVolume),
		Timestamp:     time.Now().UTC(),
	}, nil
}

func (p *YFinanceProvider) GetBatchQuotes(symbols []string) (map[string]Quote, error) {
	if len(symbols) == 0 {
		return map[string]Quote{}, nil
	}

	params := models.DefaultDownloadParams()
	params.Symbols = symbols
	params.Period = "5d"
	params.Interval = "1d"

	result, err := multi.Download(symbols, &params)
	if err != nil {
		return nil, fmt.Errorf("yfinance: batch download: %w", err)
	}

	out := make(map[string]Quote, len(symbols))
	for _, symbol := range symbols {
		bars, ok := result.Data[symbol]
		if !ok || len(bars) == 0 {
			if fetchErr, hasErr := result.Errors[symbol]; hasErr {
				p.log.Warn().Err(fetchErr).Str("symbol", symbol).Msg("batch quote unavailable")
			}
			continue
		}
		last := bars[len(bars)-1]
		var prevClose float64
		if len(bars) > 1 {
			prevClose = bars[len(bars)-2].Close
		}
		var changePct float64
		if prevClose != 0 {
			changePct = ((last.Close - prevClose) / prevClose) * 100
		}
		out[symbol] = Quote{
			Ticker:        symbol,
			Price:         last.Close,
			PreviousClose: prevClose,
			ChangePercent: changePct,
			Volume:        int64(last.Volume),
			Timestamp:     last.Date.UTC(),
		}
	}
	return out, nil
}

func (p *YFinanceProvider) GetHistorical(symbol string, period HistoryPeriod) (PriceHistory, error) {
	if !ValidPeriod(period) {
		return PriceHistory{}, fmt.Errorf("yfinance: invalid period %q", period)
	}

	t, err := ticker.New(symbol)
	if err != nil {
		return PriceHistory{}, fmt.Errorf("yfinance: new ticker %s: %w", symbol, err)
	}
	defer t.Close()

	bars, err := t.History(models.HistoryParams{
		Period:     string(period),
		Interval:   "1d",
		AutoAdjust: true,
	})
	if err != nil {
		return PriceHistory{}, fmt.Errorf("yfinance: history %s: %w", symbol, err)
	}

	out := make([]Bar, 0, len(bars))
	for _, b := range bars {
		out = append(out, Bar{
			Date:   b.Date.UTC(),
			Open:   b.Open,
			High:   b.High,
			Low:    b.Low,
			Close:  b.Close,
			Volume: int64(b.Volume),
		})
	}
	return PriceHistory{Ticker: symbol, Bars: out}, nil
}

func (p *YFinanceProvider) SearchTicker(query string) []TickerResult {
	t, err := ticker.New(query)
	if err != nil {
		return nil
	}
	defer t.Close()

	info, err := t.Info()
	if err != nil || info == nil {
		return nil
	}
	return []TickerResult{{Symbol: query, Name: info.ShortName, Market: info.Exchange}}
}
