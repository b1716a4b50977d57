package providers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"time"

	"github.com/rs/zerolog"
)

// AlphaVantageProvider is a keyed REST provider, used the same way as
// Finnhub: a plain net/http client since no widely-used Go SDK exists.
type AlphaVantageProvider struct {
	apiKey string
	client *http.Client
	log    zerolog.Logger
}

func NewAlphaVantageProvider(apiKey string, log zerolog.Logger) *AlphaVantageProvider {
	return &AlphaVantageProvider{
		apiKey: apiKey,
		client: &http.Client{Timeout: 15 * time.Second},
		log:    log.With().Str("provider", "alpha_vantage").Logger(),
	}
}

func (p *AlphaVantageProvider) Info() ProviderInfo {
	return ProviderInfo{
		Name:             "alpha_vantage",
		Tier:             TierKeyed,
		RequiresKey:      true,
		SupportedMarkets: []string{"US"},
		Realtime:         false,
		RateLimitPerMin:  5,
		Description:      "Alpha Vantage, requires API key, strict rate limit",
	}
}

func (p *AlphaVantageProvider) query(params url.Values) ([]byte, error) {
	params.Set("apikey", p.apiKey)
	u := "https://www.alphavantage.co/query?" + params.Encode()

	resp, err := p.client.Get(u)
	if err != nil {
		return nil, fmt.Errorf("alpha_vantage: request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("alpha_vantage: returned %d", resp.StatusCode)
	}
	body := make([]byte, 0, 4096)
	buf := make([]byte, 4096)
	for {
		n, readErr := resp.Body.Read(buf)
		body = append(body, buf[:n]...)
		if readErr != nil {
			break
		}
	}
	return body, nil
}

type alphaQuoteResponse struct {
	GlobalQuote struct {
		Price         string `json:"05. price"`
		PreviousClose string `json:"08. previous close"`
		ChangePercent string `json:"10. change percent"`
	} `json:"Global Quote"`
}

func (p *AlphaVantageProvider) GetQuote(symbol string) (Quote, error) {
	body, err := p.query(url.Values{"function": {"GLOBAL_QUOTE"}, "symbol": {symbol}})
	if err != nil {
		return Quote{}, err
	}

	var resp alphaQuoteResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return Quote{}, fmt.Errorf("alpha_vantage: decode quote: %w", err)
	}

	var price, prevClose, changePct float64
	fmt.Sscanf(resp.GlobalQuote.Price, "%f", &price)
	fmt.Sscanf(resp.GlobalQuote.PreviousClose, "%f", &prevClose)
	fmt.Sscanf(resp.GlobalQuote.ChangePercent, "%f%%", &changePct)

	if price == 0 {
		return Quote{}, fmt.Errorf("alpha_vantage: empty quote for %s", symbol)
	}
	return Quote{
		Ticker:        symbol,
		Price:         price,
		PreviousClose: prevClose,
		ChangePercent: changePct,
		Timestamp:     time.Now().UTC(),
	}, nil
}

type alphaDailyResponse struct {
	TimeSeries map[string]struct {
		Open   string `json:"1. open"`
		High   string `json:"2. high"`
		Low    string `json:"3. low"`
		Close  string `json:"4. close"`
		Volume string `json:"5. volume"`
	} `json:"Time Series (Daily)"`
}

var alphaOutputSize = map[HistoryPeriod]string{
	Period1D: "compact", Period5D: "compact", Period1MO: "compact",
	Period3MO: "full", Period6MO: "full", Period1Y: "full", Period2Y: "full", Period5Y: "full",
}

func (p *AlphaVantageProvider) GetHistorical(symbol string, period HistoryPeriod) (PriceHistory, error) {
	size, ok := alphaOutputSize[period]
	if !ok {
		return PriceHistory{}, fmt.Errorf("alpha_vantage: invalid period %q", period)
	}

	body, err := p.query(url.Values{
		"function":    {"TIME_SERIES_DAILY"},
		"symbol":      {symbol},
		"outputsize":  {size},
	})
	if err != nil {
		return PriceHistory{}, err
	}

	var resp alphaDailyResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return PriceHistory{}, fmt.Errorf("alpha_vantage: decode history: %w", err)
	}
	if len(resp.TimeSeries) == 0 {
		return PriceHistory{}, fmt.Errorf("alpha_vantage: no time series for %s", symbol)
	}

	dates := make([]string, 0, len(resp.TimeSeries))
	for d := range resp.TimeSeries {
		dates = append(dates, d)
	}
	sort.Strings(dates)

	bars := make([]Bar, 0, len(dates))
	for _, d := range dates {
		row := resp.TimeSeries[d]
		date, _ := time.Parse("2006-01-02", d)
		var open, high, low, close float64
		var volume int64
		fmt.Sscanf(row.Open, "%f", &open)
		fmt.Sscanf(row.High, "%f", &high)
		fmt.Sscanf(row.Low, "%f", &low)
		fmt.Sscanf(row.Close, "%f", &close)
		fmt.Sscanf(row.Volume, "%d", &volume)
		bars = append(bars, Bar{Date: date.UTC(), Open: open, High: high, Low: low, Close: close, Volume: volume})
	}
	return PriceHistory{Ticker: symbol, Bars: bars}, nil
}

type alphaSearchResponse struct {
	BestMatches []struct {
		Symbol string `json:"1. symbol"`
		Name   string `json:"2. name"`
		Region string `json:"4. region"`
	} `json:"bestMatches"`
}

func (p *AlphaVantageProvider) SearchTicker(query string) []TickerResult {
	body, err := p.query(url.Values{"function": {"SYMBOL_SEARCH"}, "keywords": {query}})
	if err != nil {
		p.log.Warn().Err(err).Str("query", query).Msg("search failed")
		return nil
	}
	var resp alphaSearchResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil
	}
	out := make([]TickerResult, 0, len(resp.BestMatches))
	for _, m := range resp.BestMatches {
		out = append(out, TickerResult{Symbol: m.Symbol, Name: m.Name, Market: m.Region})
	}
	return out
}
