package jobs

import (
	"context"
	"fmt"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tickerpulse/core/internal/alerts"
	"github.com/tickerpulse/core/internal/broadcast"
	"github.com/tickerpulse/core/internal/providers"
	"github.com/tickerpulse/core/internal/store"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	path := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	s, err := store.Open(store.Config{Path: path, PoolSize: 3})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func insertStock(t *testing.T, s *store.Store, ticker string, active bool) {
	t.Helper()
	ctx := context.Background()
	activeVal := 1
	if !active {
		activeVal = 0
	}
	require.NoError(t, s.Session(ctx, false, func(tx *store.Tx) error {
		_, err := tx.ExecContext(ctx, "INSERT INTO stocks (ticker, name, active) VALUES (?, ?, ?)",
			ticker, ticker, activeVal)
		return err
	}))
}

type batchFakeProvider struct {
	quotes map[string]providers.Quote
}

func (f *batchFakeProvider) Info() providers.ProviderInfo { return providers.ProviderInfo{Name: "fake"} }
func (f *batchFakeProvider) GetQuote(ticker string) (providers.Quote, error) {
	q, ok := f.quotes[ticker]
	if !ok {
		return providers.Quote{}, fmt.Errorf("no quote for %s", ticker)
	}
	return q, nil
}
func (f *batchFakeProvider) GetHistorical(string, providers.HistoryPeriod) (providers.PriceHistory, error) {
	return providers.PriceHistory{}, nil
}
func (f *batchFakeProvider) SearchTicker(string) []providers.TickerResult { return nil }
func (f *batchFakeProvider) GetBatchQuotes(tickers []string) (map[string]providers.Quote, error) {
	out := make(map[string]providers.Quote, len(tickers))
	for _, t := range tickers {
		if q, ok := f.quotes[t]; ok {
			out[t] = q
		}
	}
	return out, nil
}

func TestPriceRefresherSkipsWhenNoActiveTickers(t *testing.T) {
	s := newTestStore(t)
	reg := providers.NewRegistry([]providers.Provider{&batchFakeProvider{}}, nil, zerolog.Nop())
	pr := NewPriceRefresher(s, reg, nil, nil, nil, zerolog.Nop())

	outcome, err := pr.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "skipped", outcome.Status)
}

func TestPriceRefresherUpsertsPricesAndBroadcasts(t *testing.T) {
	s := newTestStore(t)
	insertStock(t, s, "AAPL", true)
	insertStock(t, s, "MSFT", true)
	insertStock(t, s, "OLD", false)

	fp := &batchFakeProvider{quotes: map[string]providers.Quote{
		"AAPL": {Ticker: "AAPL", Price: 210, PreviousClose: 200, ChangePercent: 5},
		"MSFT": {Ticker: "MSFT", Price: 95, PreviousClose: 100, ChangePercent: -5},
	}}
	reg := providers.NewRegistry([]providers.Provider{fp}, nil, zerolog.Nop())
	sse := broadcast.NewSSEBroadcaster(func() (map[string]interface{}, error) { return map[string]interface{}{}, nil }, zerolog.Nop())
	ws := broadcast.NewWSBroadcaster(10, zerolog.Nop())

	pr := NewPriceRefresher(s, reg, sse, ws, nil, zerolog.Nop())
	outcome, err := pr.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "refreshed 2/2 tickers", outcome.ResultSummary)

	var price, change float64
	require.NoError(t, s.Session(context.Background(), false, func(tx *store.Tx) error {
		return tx.QueryRowContext(context.Background(),
			"SELECT current_price, price_change FROM ai_ratings WHERE ticker = 'AAPL'").Scan(&price, &change)
	}))
	assert.Equal(t, 210.0, price)
	assert.Equal(t, 10.0, change)
}

func TestPriceRefresherLeavesAIColumnsUntouched(t *testing.T) {
	s := newTestStore(t)
	insertStock(t, s, "AAPL", true)
	require.NoError(t, s.Session(context.Background(), false, func(tx *store.Tx) error {
		_, err := tx.ExecContext(context.Background(),
			"INSERT INTO ai_ratings (ticker, rating, score) VALUES ('AAPL', 'BUY', 88)")
		return err
	}))

	fp := &batchFakeProvider{quotes: map[string]providers.Quote{
		"AAPL": {Ticker: "AAPL", Price: 210, PreviousClose: 200},
	}}
	reg := providers.NewRegistry([]providers.Provider{fp}, nil, zerolog.Nop())
	pr := NewPriceRefresher(s, reg, nil, nil, nil, zerolog.Nop())
	_, err := pr.Run(context.Background())
	require.NoError(t, err)

	var rating string
	var score float64
	require.NoError(t, s.Session(context.Background(), false, func(tx *store.Tx) error {
		return tx.QueryRowContext(context.Background(),
			"SELECT rating, score FROM ai_ratings WHERE ticker = 'AAPL'").Scan(&rating, &score)
	}))
	assert.Equal(t, "BUY", rating)
	assert.Equal(t, 88.0, score)
}

func TestPriceRefresherEvaluatesAlertsForFreshTickers(t *testing.T) {
	s := newTestStore(t)
	insertStock(t, s, "AAPL", true)
	require.NoError(t, s.Session(context.Background(), false, func(tx *store.Tx) error {
		_, err := tx.ExecContext(context.Background(),
			`INSERT INTO price_alerts (ticker, condition_type, threshold, sound_type, enabled, fire_count)
			 VALUES ('AAPL', 'price_above', 200, 'chime', 1, 0)`)
		return err
	}))

	fp := &batchFakeProvider{quotes: map[string]providers.Quote{
		"AAPL": {Ticker: "AAPL", Price: 210, PreviousClose: 200},
	}}
	reg := providers.NewRegistry([]providers.Provider{fp}, nil, zerolog.Nop())

	lookup := priceLookupFromStore{store: s}
	emitter := &noopEmitter{}
	engine := alerts.New(s, lookup, emitter, zerolog.Nop())

	pr := NewPriceRefresher(s, reg, nil, nil, engine, zerolog.Nop())
	_, err := pr.Run(context.Background())
	require.NoError(t, err)

	assert.Len(t, emitter.events, 1)
}

func TestPriceRefresherPausedByZeroIntervalSetting(t *testing.T) {
	s := newTestStore(t)
	insertStock(t, s, "AAPL", true)
	require.NoError(t, s.Session(context.Background(), true, func(tx *store.Tx) error {
		_, err := tx.ExecContext(context.Background(),
			"INSERT INTO settings (key, value) VALUES (?, ?)", priceRefreshIntervalSetting, "0")
		return err
	}))

	reg := providers.NewRegistry([]providers.Provider{&batchFakeProvider{quotes: map[string]providers.Quote{
		"AAPL": {Ticker: "AAPL", Price: 100},
	}}}, nil, zerolog.Nop())
	pr := NewPriceRefresher(s, reg, nil, nil, nil, zerolog.Nop())

	outcome, err := pr.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "skipped", outcome.Status)
	assert.Contains(t, outcome.ResultSummary, priceRefreshIntervalSetting)
}

type priceLookupFromStore struct {
	store *store.Store
}

func (p priceLookupFromStore) CurrentPrice(ctx context.Context, ticker string) (float64, float64, bool, error) {
	var price, pct float64
	err := p.store.Session(ctx, false, func(tx *store.Tx) error {
		return tx.QueryRowContext(ctx,
			"SELECT current_price, price_change_pct FROM ai_ratings WHERE ticker = ?", ticker).Scan(&price, &pct)
	})
	if err != nil {
		return 0, 0, false, nil
	}
	return price, pct, true, nil
}

type noopEmitter struct {
	events []map[string]interface{}
}

func (n *noopEmitter) SendEvent(eventType string, data map[string]interface{}) error {
	n.events = append(n.events, data)
	return nil
}
