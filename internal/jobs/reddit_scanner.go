package jobs

import (
	"context"
	"fmt"
	"sort"

	"github.com/rs/zerolog"

	"github.com/tickerpulse/core/internal/broadcast"
	"github.com/tickerpulse/core/internal/sentiment"
	"github.com/tickerpulse/core/internal/store"
)

const redditTrendingMinSignals = 3

// TrendingTicker is one watchlist ticker whose aggregate social signal
// volume is high enough to surface as "trending".
type TrendingTicker struct {
	Ticker      string  `json:"ticker"`
	Score       float64 `json:"score"`
	SignalCount int     `json:"signal_count"`
}

// RedditScanner implements the reddit_scanner job from spec.md §4.K.
// There is no dedicated Reddit API client in the stack (the pack carries
// StockTwits-only social sentiment); this job reuses the already-built
// sentiment.Cache aggregate (news + agent + live social signals) and
// flags the highest-volume watchlist tickers as trending, broadcasting
// them on the reddit_trending event (broadcast.EventRedditTrending).
type RedditScanner struct {
	store     *store.Store
	sentiment *sentiment.Cache
	sse       *broadcast.SSEBroadcaster
	log       zerolog.Logger
}

func NewRedditScanner(st *store.Store, cache *sentiment.Cache, sse *broadcast.SSEBroadcaster, log zerolog.Logger) *RedditScanner {
	return &RedditScanner{store: st, sentiment: cache, sse: sse, log: log.With().Str("component", "reddit_scanner").Logger()}
}

func (r *RedditScanner) Run(ctx context.Context) (Outcome, error) {
	tickers, err := r.watchlistTickers(ctx)
	if err != nil {
		return Outcome{}, fmt.Errorf("load watchlist tickers: %w", err)
	}
	if len(tickers) == 0 {
		return Outcome{Status: "skipped", ResultSummary: "no watchlist tickers"}, nil
	}

	var trending []TrendingTicker
	for _, ticker := range tickers {
		result, err := r.sentiment.Aggregate(ctx, ticker)
		if err != nil {
			r.log.Warn().Err(err).Str("ticker", ticker).Msg("sentiment aggregate failed")
			continue
		}
		if result.SignalCount >= redditTrendingMinSignals {
			trending = append(trending, TrendingTicker{Ticker: ticker, Score: result.Score, SignalCount: result.SignalCount})
		}
	}

	sort.Slice(trending, func(i, j int) bool { return trending[i].SignalCount > trending[j].SignalCount })

	if len(trending) > 0 && r.sse != nil {
		if err := r.sse.SendEvent(broadcast.EventRedditTrending, map[string]interface{}{"trending": trending}); err != nil {
			r.log.Warn().Err(err).Msg("failed to broadcast reddit_trending")
		}
	}

	return Outcome{ResultSummary: fmt.Sprintf("scanned %d tickers, %d trending", len(tickers), len(trending))}, nil
}

func (r *RedditScanner) watchlistTickers(ctx context.Context) ([]string, error) {
	var tickers []string
	err := r.store.Session(ctx, false, func(tx *store.Tx) error {
		rows, err := tx.QueryContext(ctx, "SELECT DISTINCT ticker FROM watchlist_stocks")
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var t string
			if err := rows.Scan(&t); err != nil {
				return err
			}
			tickers = append(tickers, t)
		}
		return rows.Err()
	})
	return tickers, err
}
