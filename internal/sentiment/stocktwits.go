package sentiment

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

const (
	stocktwitsTimeout  = 3 * time.Second
	stocktwitsMaxMsgs  = 30
)

// stocktwitsMessage is the subset of StockTwits' message schema this reads.
type stocktwitsMessage struct {
	Entities struct {
		Sentiment *struct {
			Basic string `json:"basic"` // "Bullish" | "Bearish"
		} `json:"sentiment"`
	} `json:"entities"`
}

type stocktwitsStreamResponse struct {
	Messages []stocktwitsMessage `json:"messages"`
}

const defaultStocktwitsBaseURL = "https://api.stocktwits.com/api/2/streams/symbol/%s.json"

// HTTPStockTwitsClient fetches the live public stream for a ticker.
type HTTPStockTwitsClient struct {
	client  *http.Client
	log     zerolog.Logger
	baseURL string // "%s.json"-style format string, overridable in tests
}

func NewHTTPStockTwitsClient(log zerolog.Logger) *HTTPStockTwitsClient {
	return &HTTPStockTwitsClient{
		client:  &http.Client{Timeout: stocktwitsTimeout},
		log:     log.With().Str("component", "stocktwits").Logger(),
		baseURL: defaultStocktwitsBaseURL,
	}
}

// FetchSentiment reads up to 30 recent public messages for ticker and
// counts per-message entities.sentiment.basic. A failure here degrades the
// caller to local signals only — it never bubbles into a cache miss.
func (c *HTTPStockTwitsClient) FetchSentiment(ctx context.Context, ticker string) (signalCounts, error) {
	url := fmt.Sprintf(c.baseURL, ticker)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return signalCounts{}, err
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return signalCounts{}, fmt.Errorf("stocktwits: request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return signalCounts{}, fmt.Errorf("stocktwits: returned %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return signalCounts{}, fmt.Errorf("stocktwits: read body: %w", err)
	}
	return parseStocktwitsBody(body)
}

// parseStocktwitsBody counts bullish/bearish/neutral messages (capped at
// the first 30) out of a raw StockTwits stream response body.
func parseStocktwitsBody(body []byte) (signalCounts, error) {
	var stream stocktwitsStreamResponse
	if err := json.Unmarshal(body, &stream); err != nil {
		return signalCounts{}, fmt.Errorf("stocktwits: decode: %w", err)
	}

	var sc signalCounts
	n := len(stream.Messages)
	if n > stocktwitsMaxMsgs {
		n = stocktwitsMaxMsgs
	}
	for _, msg := range stream.Messages[:n] {
		switch {
		case msg.Entities.Sentiment == nil:
			sc.neutral++
		case msg.Entities.Sentiment.Basic == "Bullish":
			sc.bullish++
		case msg.Entities.Sentiment.Basic == "Bearish":
			sc.bearish++
		default:
			sc.neutral++
		}
	}
	return sc, nil
}
