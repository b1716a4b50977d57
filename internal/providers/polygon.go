package providers

import (
	"context"
	"fmt"
	"time"

	polygon "github.com/polygon-io/client-go/rest"
	"github.com/polygon-io/client-go/rest/models"
	"github.com/rs/zerolog"
)

// PolygonProvider wraps the official polygon-io/client-go SDK.
type PolygonProvider struct {
	client *polygon.Client
	log    zerolog.Logger
}

func NewPolygonProvider(apiKey string, log zerolog.Logger) *PolygonProvider {
	return &PolygonProvider{
		client: polygon.New(apiKey),
		log:    log.With().Str("provider", "polygon").Logger(),
	}
}

func (p *PolygonProvider) Info() ProviderInfo {
	return ProviderInfo{
		Name:             "polygon",
		Tier:             TierPremium,
		RequiresKey:      true,
		SupportedMarkets: []string{"US"},
		Realtime:         true,
		RateLimitPerMin:  5,
		Description:      "Polygon.io, requires API key, premium tier",
	}
}

func (p *PolygonProvider) GetQuote(symbol string) (Quote, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	res, err := p.client.GetLastTrade(ctx, &models.GetLastTradeParams{Ticker: symbol})
	if err != nil {
		return Quote{}, fmt.Errorf("polygon: last trade %s: %w", symbol, err)
	}
	if res == nil || res.Results.Price == 0 {
		return Quote{}, fmt.Errorf("polygon: empty last trade for %s", symbol)
	}

	return Quote{
		Ticker:    symbol,
		Price:     res.Results.Price,
		Timestamp: time.Unix(0, int64(res.Results.SipTimestamp)).UTC(),
	}, nil
}

var polygonPeriodToDays = map[HistoryPeriod]int{
	Period1D: 1, Period5D: 5, Period1MO: 30, Period3MO: 90,
	Period6MO: 180, Period1Y: 365, Period2Y: 730, Period5Y: 1825,
}

func (p *PolygonProvider) GetHistorical(symbol string, period HistoryPeriod) (PriceHistory, error) {
	days, ok := polygonPeriodToDays[period]
	if !ok {
		return PriceHistory{}, fmt.Errorf("polygon: invalid period %q", period)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	now := time.Now().UTC()
	from := now.AddDate(0, 0, -days)

	params := models.ListAggsParams{
		Ticker:     symbol,
		Multiplier: 1,
		Timespan:   "day",
		From:       models.Millis(from),
		To:         models.Millis(now),
	}.WithOrder(models.Asc).WithLimit(5000)

	iter := p.client.ListAggs(ctx, params)

	var bars []Bar
	for iter.Next() {
		agg := iter.Item()
		bars = append(bars, Bar{
			Date:   time.Time(agg.Timestamp).UTC(),
			Open:   agg.Open,
			High:   agg.High,
			Low:    agg.Low,
			Close:  agg.Close,
			Volume: int64(agg.Volume),
		})
	}
	if err := iter.Err(); err != nil {
		return PriceHistory{}, fmt.Errorf("polygon: list aggs %s: %w", symbol, err)
	}
	if len(bars) == 0 {
		return PriceHistory{}, fmt.Errorf("polygon: no aggs for %s", symbol)
	}
	return PriceHistory{Ticker: symbol, Bars: bars}, nil
}

func (p *PolygonProvider) SearchTicker(query string) []TickerResult {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	params := models.ListTickersParams{Search: &query}.WithLimit(10)
	iter := p.client.ListTickers(ctx, params)

	var out []TickerResult
	for iter.Next() {
		t := iter.Item()
		out = append(out, TickerResult{Symbol: t.Ticker, Name: t.Name, Market: t.Market})
	}
	if err := iter.Err(); err != nil {
		p.log.Warn().Err(err).Str("query", query).Msg("ticker search failed")
		return nil
	}
	return out
}
