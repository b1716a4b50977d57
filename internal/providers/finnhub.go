package providers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog"
)

// FinnhubProvider is a keyed REST provider. Finnhub has no official Go SDK
// in wide use, so this talks to its HTTPS API directly the way the
// teacher's yahoo.Client talks to Yahoo's endpoints: a shared *http.Client
// with a fixed timeout and small per-call JSON structs.
type FinnhubProvider struct {
	apiKey string
	client *http.Client
	log    zerolog.Logger
}

func NewFinnhubProvider(apiKey string, log zerolog.Logger) *FinnhubProvider {
	return &FinnhubProvider{
		apiKey: apiKey,
		client: &http.Client{Timeout: 10 * time.Second},
		log:    log.With().Str("provider", "finnhub").Logger(),
	}
}

func (p *FinnhubProvider) Info() ProviderInfo {
	return ProviderInfo{
		Name:             "finnhub",
		Tier:             TierKeyed,
		RequiresKey:      true,
		SupportedMarkets: []string{"US"},
		Realtime:         true,
		RateLimitPerMin:  60,
		Description:      "Finnhub real-time quotes, requires API key",
	}
}

type finnhubQuoteResponse struct {
	C  float64 `json:"c"`  // current price
	PC float64 `json:"pc"` // previous close
	DP float64 `json:"dp"` // percent change
	T  int64   `json:"t"`  // unix timestamp
}

func (p *FinnhubProvider) get(path string, query url.Values, out interface{}) error {
	query.Set("token", p.apiKey)
	u := fmt.Sprintf("https://finnhub.io/api/v1/%s?%s", path, query.Encode())

	resp, err := p.client.Get(u)
	if err != nil {
		return fmt.Errorf("finnhub: request %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("finnhub: %s returned %d", path, resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (p *FinnhubProvider) GetQuote(symbol string) (Quote, error) {
	var q finnhubQuoteResponse
	if err := p.get("quote", url.Values{"symbol": {symbol}}, &q); err != nil {
		return Quote{}, err
	}
	if q.C == 0 {
		return Quote{}, fmt.Errorf("finnhub: empty quote for %s", symbol)
	}
	return Quote{
		Ticker:        symbol,
		Price:         q.C,
		PreviousClose: q.PC,
		ChangePercent: q.DP,
		Timestamp:     time.Unix(q.T, 0).UTC(),
	}, nil
}

type finnhubCandleResponse struct {
	C []float64 `json:"c"`
	H []float64 `json:"h"`
	L []float64 `json:"l"`
	O []float64 `json:"o"`
	V []float64 `json:"v"`
	T []int64   `json:"t"`
	S string    `json:"s"`
}

var finnhubPeriodToDays = map[HistoryPeriod]int{
	Period1D: 1, Period5D: 5, Period1MO: 30, Period3MO: 90,
	Period6MO: 180, Period1Y: 365, Period2Y: 730, Period5Y: 1825,
}

func (p *FinnhubProvider) GetHistorical(symbol string, period HistoryPeriod) (PriceHistory, error) {
	days, ok := finnhubPeriodToDays[period]
	if !ok {
		return PriceHistory{}, fmt.Errorf("finnhub: invalid period %q", period)
	}

	now := time.Now().UTC()
	from := now.AddDate(0, 0, -days)

	var c finnhubCandleResponse
	query := url.Values{
		"symbol":     {symbol},
		"resolution": {"D"},
		"from":       {fmt.Sprintf("%d", from.Unix())},
		"to":         {fmt.Sprintf("%d", now.Unix())},
	}
	if err := p.get("stock/candle", query, &c); err != nil {
		return PriceHistory{}, err
	}
	if c.S != "ok" || len(c.C) == 0 {
		return PriceHistory{}, fmt.Errorf("finnhub: no candle data for %s", symbol)
	}

	bars := make([]Bar, len(c.C))
	for i := range c.C {
		bars[i] = Bar{
			Date:   time.Unix(c.T[i], 0).UTC(),
			Open:   c.O[i],
			High:   c.H[i],
			Low:    c.L[i],
			Close:  c.C[i],
			Volume: int64(c.V[i]),
		}
	}
	return PriceHistory{Ticker: symbol, Bars: bars}, nil
}

type finnhubSearchResponse struct {
	Result []struct {
		Symbol      string `json:"symbol"`
		Description string `json:"description"`
	} `json:"result"`
}

type finnhubEarningsResponse struct {
	EarningsCalendar []struct {
		Symbol       string  `json:"symbol"`
		Date         string  `json:"date"`
		EPSEstimate  *float64 `json:"epsEstimate"`
		EPSActual    *float64 `json:"epsActual"`
		RevEstimate  *float64 `json:"revenueEstimate"`
		RevActual    *float64 `json:"revenueActual"`
	} `json:"earningsCalendar"`
}

// GetEarnings implements EarningsProvider via Finnhub's /calendar/earnings
// endpoint, windowed three months back to a year ahead so both "past" and
// "upcoming" spec.md endpoints have data to serve.
func (p *FinnhubProvider) GetEarnings(symbol string) ([]EarningsEvent, error) {
	now := time.Now().UTC()
	from := now.AddDate(0, -3, 0)
	to := now.AddDate(1, 0, 0)

	var resp finnhubEarningsResponse
	query := url.Values{
		"symbol": {symbol},
		"from":   {from.Format("2006-01-02")},
		"to":     {to.Format("2006-01-02")},
	}
	if err := p.get("calendar/earnings", query, &resp); err != nil {
		return nil, err
	}

	events := make([]EarningsEvent, 0, len(resp.EarningsCalendar))
	for _, e := range resp.EarningsCalendar {
		date, err := time.Parse("2006-01-02", e.Date)
		if err != nil {
			continue
		}
		events = append(events, EarningsEvent{
			Ticker:          e.Symbol,
			EarningsDate:    date,
			EPSEstimate:     e.EPSEstimate,
			EPSActual:       e.EPSActual,
			RevenueEstimate: e.RevEstimate,
			RevenueActual:   e.RevActual,
		})
	}
	return events, nil
}

func (p *FinnhubProvider) SearchTicker(query string) []TickerResult {
	var resp finnhubSearchResponse
	if err := p.get("search", url.Values{"q": {query}}, &resp); err != nil {
		p.log.Warn().Err(err).Str("query", query).Msg("search failed")
		return nil
	}
	out := make([]TickerResult, 0, len(resp.Result))
	for _, r := range resp.Result {
		out = append(out, TickerResult{Symbol: r.Symbol, Name: r.Description, Market: "US"})
	}
	return out
}
