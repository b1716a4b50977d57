package sentiment

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseStocktwitsBodyCountsBasicSentiment(t *testing.T) {
	sc, err := parseStocktwitsBody([]byte(`{
		"messages": [
			{"entities": {"sentiment": {"basic": "Bullish"}}},
			{"entities": {"sentiment": {"basic": "Bullish"}}},
			{"entities": {"sentiment": {"basic": "Bearish"}}},
			{"entities": {}}
		]
	}`))
	require.NoError(t, err)
	assert.Equal(t, 2, sc.bullish)
	assert.Equal(t, 1, sc.bearish)
	assert.Equal(t, 1, sc.neutral)
}

func TestHTTPStockTwitsClientFetchesAndParses(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"messages": [{"entities": {"sentiment": {"basic": "Bullish"}}}]}`))
	}))
	defer srv.Close()

	c := NewHTTPStockTwitsClient(zerolog.Nop())
	c.client = srv.Client()
	c.baseURL = srv.URL + "/%s.json"

	sc, err := c.FetchSentiment(context.Background(), "AAPL")
	require.NoError(t, err)
	assert.Equal(t, 1, sc.bullish)
}

func TestHTTPStockTwitsClientCapsAt30Messages(t *testing.T) {
	var sb []byte
	sb = append(sb, []byte(`{"messages": [`)...)
	for i := 0; i < 50; i++ {
		if i > 0 {
			sb = append(sb, ',')
		}
		sb = append(sb, []byte(`{"entities": {"sentiment": {"basic": "Bullish"}}}`)...)
	}
	sb = append(sb, []byte(`]}`)...)

	sc, err := parseStocktwitsBody(sb)
	require.NoError(t, err)
	assert.Equal(t, 30, sc.bullish)
}

func TestHTTPStockTwitsClientPropagatesHTTPErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := NewHTTPStockTwitsClient(zerolog.Nop())
	c.client = srv.Client()
	c.baseURL = srv.URL + "/%s.json"

	_, err := c.FetchSentiment(context.Background(), "AAPL")
	assert.Error(t, err)
}
