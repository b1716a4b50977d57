package providers

import (
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeProvider struct {
	name        string
	requiresKey bool
	quote       Quote
	quoteErr    error
	history     PriceHistory
	historyErr  error
	searchHits  []TickerResult
}

func (f *fakeProvider) Info() ProviderInfo {
	return ProviderInfo{Name: f.name, RequiresKey: f.requiresKey, RateLimitPerMin: 60}
}
func (f *fakeProvider) GetQuote(string) (Quote, error)                         { return f.quote, f.quoteErr }
func (f *fakeProvider) GetHistorical(string, HistoryPeriod) (PriceHistory, error) { return f.history, f.historyErr }
func (f *fakeProvider) SearchTicker(string) []TickerResult                     { return f.searchHits }

func TestRegistryFirstProviderWins(t *testing.T) {
	p1 := &fakeProvider{name: "a", quote: Quote{Ticker: "AAPL", Price: 100}}
	p2 := &fakeProvider{name: "b", quote: Quote{Ticker: "AAPL", Price: 200}}
	r := NewRegistry([]Provider{p1, p2}, nil, zerolog.Nop())

	q, err := r.GetQuote("AAPL")
	require.NoError(t, err)
	assert.Equal(t, 100.0, q.Price)
}

func TestRegistryFallsBackOnException(t *testing.T) {
	p1 := &fakeProvider{name: "a", quoteErr: errors.New("boom")}
	p2 := &fakeProvider{name: "b", quote: Quote{Ticker: "AAPL", Price: 200}}
	r := NewRegistry([]Provider{p1, p2}, nil, zerolog.Nop())

	var events []FallbackReason
	var froms, tos []string
	r.OnFallback = func(from, to string, reason FallbackReason) {
		froms = append(froms, from)
		tos = append(tos, to)
		events = append(events, reason)
	}

	q, err := r.GetQuote("AAPL")
	require.NoError(t, err)
	assert.Equal(t, 200.0, q.Price)
	require.Len(t, events, 1)
	assert.Equal(t, ReasonException, events[0])
	assert.Equal(t, "a", froms[0])
	assert.Equal(t, "b", tos[0])
}

func TestRegistryFallsBackOnEmptyResult(t *testing.T) {
	p1 := &fakeProvider{name: "a", quote: Quote{Ticker: "AAPL", Price: 0}}
	p2 := &fakeProvider{name: "b", quote: Quote{Ticker: "AAPL", Price: 50}}
	r := NewRegistry([]Provider{p1, p2}, nil, zerolog.Nop())

	fired := 0
	r.OnFallback = func(from, to string, reason FallbackReason) {
		fired++
		assert.Equal(t, ReasonNoData, reason)
	}

	q, err := r.GetQuote("AAPL")
	require.NoError(t, err)
	assert.Equal(t, 50.0, q.Price)
	assert.Equal(t, 1, fired)
}

func TestRegistrySkipsUnavailableKeyedProviders(t *testing.T) {
	p1 := &fakeProvider{name: "keyed", requiresKey: true, quote: Quote{Price: 999}}
	p2 := &fakeProvider{name: "free", quote: Quote{Price: 42}}
	r := NewRegistry([]Provider{p1, p2}, func(p Provider) bool { return false }, zerolog.Nop())

	fired := 0
	r.OnFallback = func(string, string, FallbackReason) { fired++ }

	q, err := r.GetQuote("AAPL")
	require.NoError(t, err)
	assert.Equal(t, 42.0, q.Price)
	assert.Equal(t, 0, fired, "skipping an unavailable provider is not a fallback event")
}

func TestRegistryAllProvidersFailReturnsError(t *testing.T) {
	p1 := &fakeProvider{name: "a", quoteErr: errors.New("boom")}
	r := NewRegistry([]Provider{p1}, nil, zerolog.Nop())

	_, err := r.GetQuote("AAPL")
	assert.Error(t, err)
}

func TestRegistryPrimaryOverrideReordersChain(t *testing.T) {
	p1 := &fakeProvider{name: "a", quote: Quote{Price: 1}}
	p2 := &fakeProvider{name: "b", quote: Quote{Price: 2}}
	r := NewRegistry([]Provider{p1, p2}, nil, zerolog.Nop())
	r.SetPrimary("b")

	q, err := r.GetQuote("AAPL")
	require.NoError(t, err)
	assert.Equal(t, 2.0, q.Price)
}

type fakeBatchProvider struct {
	fakeProvider
	batch map[string]Quote
}

func (f *fakeBatchProvider) GetBatchQuotes([]string) (map[string]Quote, error) {
	return f.batch, nil
}

func TestRegistryBatchQuotePrefersBatchQuoter(t *testing.T) {
	bp := &fakeBatchProvider{
		fakeProvider: fakeProvider{name: "batch"},
		batch:        map[string]Quote{"AAPL": {Price: 10}, "MSFT": {Price: 20}},
	}
	r := NewRegistry([]Provider{bp}, nil, zerolog.Nop())

	out, err := r.BatchQuote([]string{"AAPL", "MSFT"})
	require.NoError(t, err)
	assert.Equal(t, 10.0, out["AAPL"].Price)
	assert.Equal(t, 20.0, out["MSFT"].Price)
}
