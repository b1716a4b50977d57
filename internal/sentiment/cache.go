// Package sentiment aggregates news, agent-run, and live social signals
// into a per-ticker bullish/bearish/neutral score with a 15-minute TTL
// cache over the local signals.
package sentiment

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/tickerpulse/core/internal/store"
)

const cacheTTL = 15 * time.Minute

// Label classifies a ticker's aggregate sentiment.
type Label string

const (
	LabelBullish Label = "bullish"
	LabelBearish Label = "bearish"
	LabelNeutral Label = "neutral"
)

// Trend classifies whether bullishness is increasing, flat, or decreasing
// across the last day.
type Trend string

const (
	TrendUp   Trend = "up"
	TrendFlat Trend = "flat"
	TrendDown Trend = "down"
)

// Result is the aggregate sentiment returned for a ticker.
type Result struct {
	Ticker      string
	Score       float64
	Label       Label
	SignalCount int
	Sources     map[string]int
	Trend       Trend
	Degraded    bool // true when the live StockTwits fetch failed
	UpdatedAt   time.Time
}

// signalCounts tallies bullish/bearish/neutral hits from one source.
type signalCounts struct {
	bullish, bearish, neutral int
}

func (s signalCounts) total() int { return s.bullish + s.bearish + s.neutral }

// StockTwitsClient fetches the live public stream. Defined as an interface
// so tests can substitute a fake without network access.
type StockTwitsClient interface {
	FetchSentiment(ctx context.Context, ticker string) (signalCounts, error)
}

// Cache computes and caches per-ticker sentiment. Concurrent Aggregate
// calls for the same ticker during a cache miss are not single-flighted:
// each recomputes and upserts independently, last writer wins. The spec
// accepts this tradeoff rather than requiring a per-ticker lock.
type Cache struct {
	store      *store.Store
	stocktwits StockTwitsClient
	log        zerolog.Logger
}

// New builds a Cache.
func New(st *store.Store, stocktwits StockTwitsClient, log zerolog.Logger) *Cache {
	return &Cache{
		store:      st,
		stocktwits: stocktwits,
		log:        log.With().Str("component", "sentiment_cache").Logger(),
	}
}

// Aggregate returns the aggregate sentiment for ticker, recomputing the
// local (news + agent-run) signals on a cache miss/expiry, then always
// merging in a live StockTwits fetch.
func (c *Cache) Aggregate(ctx context.Context, ticker string) (Result, error) {
	local, err := c.readCache(ctx, ticker)
	if err != nil {
		return Result{}, fmt.Errorf("sentiment: read cache: %w", err)
	}

	if local == nil {
		computed, err := c.recompute(ctx, ticker)
		if err != nil {
			return Result{}, err
		}
		local = &computed
	}

	var degraded bool
	live, err := c.stocktwits.FetchSentiment(ctx, ticker)
	if err != nil {
		c.log.Warn().Err(err).Str("ticker", ticker).Msg("stocktwits fetch failed, using local signals only")
		live = signalCounts{}
		degraded = true
	}

	result := c.finalize(ticker, local.counts, live, local.sources, time.Now().UTC())
	result.Degraded = degraded

	trend, err := computeTrend(ctx, c.store, ticker)
	if err != nil {
		c.log.Warn().Err(err).Str("ticker", ticker).Msg("trend computation failed")
		trend = TrendFlat
	}
	result.Trend = trend

	return result, nil
}

// InvalidateTicker deletes the cached row for ticker. Called by the
// realtime layer whenever a news event for that ticker is broadcast.
func (c *Cache) InvalidateTicker(ctx context.Context, ticker string) error {
	return c.store.Session(ctx, false, func(tx *store.Tx) error {
		_, err := tx.ExecContext(ctx, "DELETE FROM sentiment_cache WHERE ticker = ?", ticker)
		return err
	})
}

// cachedLocal is the intermediate value stored/read from sentiment_cache:
// the local (non-StockTwits) signal counts plus a sources breakdown.
type cachedLocal struct {
	counts  signalCounts
	sources map[string]int
}

func (c *Cache) readCache(ctx context.Context, ticker string) (*cachedLocal, error) {
	conn, release, err := c.store.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	var sourcesJSON string
	var updatedAt string
	var signalCount int
	err = conn.QueryRowContext(ctx,
		"SELECT signal_count, sources, updated_at FROM sentiment_cache WHERE ticker = ?", ticker,
	).Scan(&signalCount, &sourcesJSON, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	updated, err := time.Parse(time.RFC3339, updatedAt)
	if err != nil || time.Since(updated) > cacheTTL {
		return nil, nil
	}

	var sources map[string]int
	if err := json.Unmarshal([]byte(sourcesJSON), &sources); err != nil {
		return nil, nil
	}

	return &cachedLocal{
		counts: signalCounts{
			bullish: sources["news_bullish"] + sources["agent_bullish"],
			bearish: sources["news_bearish"] + sources["agent_bearish"],
			neutral: sources["news_neutral"] + sources["agent_neutral"],
		},
		sources: sources,
	}, nil
}

func (c *Cache) recompute(ctx context.Context, ticker string) (cachedLocal, error) {
	news, err := c.computeNewsSignal(ctx, ticker)
	if err != nil {
		c.log.Warn().Err(err).Str("ticker", ticker).Msg("news signal computation failed")
	}
	agent, err := c.computeAgentSignal(ctx, ticker)
	if err != nil {
		c.log.Warn().Err(err).Str("ticker", ticker).Msg("agent signal computation failed")
	}

	sources := map[string]int{
		"news_bullish": news.bullish, "news_bearish": news.bearish, "news_neutral": news.neutral,
		"agent_bullish": agent.bullish, "agent_bearish": agent.bearish, "agent_neutral": agent.neutral,
	}
	counts := signalCounts{
		bullish: news.bullish + agent.bullish,
		bearish: news.bearish + agent.bearish,
		neutral: news.neutral + agent.neutral,
	}

	sourcesJSON, err := json.Marshal(sources)
	if err != nil {
		return cachedLocal{}, fmt.Errorf("sentiment: marshal sources: %w", err)
	}

	score, label := scoreAndLabel(counts)
	err = c.store.Session(ctx, false, func(tx *store.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO sentiment_cache (ticker, score, label, signal_count, sources, updated_at)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(ticker) DO UPDATE SET
				score = excluded.score, label = excluded.label, signal_count = excluded.signal_count,
				sources = excluded.sources, updated_at = excluded.updated_at`,
			ticker, score, string(label), counts.total(), string(sourcesJSON), time.Now().UTC().Format(time.RFC3339))
		return err
	})
	if err != nil {
		c.log.Warn().Err(err).Str("ticker", ticker).Msg("failed to persist sentiment cache row")
	}

	return cachedLocal{counts: counts, sources: sources}, nil
}

// computeNewsSignal scores `news` rows published in the last 24h.
func (c *Cache) computeNewsSignal(ctx context.Context, ticker string) (signalCounts, error) {
	conn, release, err := c.store.Acquire(ctx)
	if err != nil {
		return signalCounts{}, err
	}
	defer release()

	cutoff := time.Now().UTC().Add(-24 * time.Hour).Format(time.RFC3339)
	rows, err := conn.QueryContext(ctx,
		"SELECT sentiment_score FROM news WHERE ticker = ? AND published_at >= ?", ticker, cutoff)
	if err != nil {
		return signalCounts{}, err
	}
	defer rows.Close()

	var sc signalCounts
	for rows.Next() {
		var score sql.NullFloat64
		if err := rows.Scan(&score); err != nil {
			return signalCounts{}, err
		}
		if !score.Valid {
			continue
		}
		classify(score.Float64, &sc)
	}
	return sc, rows.Err()
}

// computeAgentSignal parses output_data from completed investigator
// (Reddit scan) runs in the last 6h, weighting each mention-matching item
// by its mentions count.
func (c *Cache) computeAgentSignal(ctx context.Context, ticker string) (signalCounts, error) {
	conn, release, err := c.store.Acquire(ctx)
	if err != nil {
		return signalCounts{}, err
	}
	defer release()

	cutoff := time.Now().UTC().Add(-6 * time.Hour).Format(time.RFC3339)
	rows, err := conn.QueryContext(ctx, `
		SELECT output_data FROM agent_runs
		WHERE agent_name = 'investigator' AND status = 'completed' AND completed_at >= ?`, cutoff)
	if err != nil {
		return signalCounts{}, err
	}
	defer rows.Close()

	var sc signalCounts
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return signalCounts{}, err
		}

		var items []investigatorItem
		if err := json.Unmarshal([]byte(raw), &items); err != nil {
			continue
		}
		for _, item := range items {
			if item.Ticker != ticker {
				continue
			}
			weight := item.Mentions
			if weight <= 0 {
				weight = 1
			}
			for i := 0; i < weight; i++ {
				classify(item.SentimentScore, &sc)
			}
		}
	}
	return sc, rows.Err()
}

type investigatorItem struct {
	Ticker         string  `json:"ticker"`
	Mentions       int     `json:"mentions"`
	SentimentScore float64 `json:"sentiment_score"`
}

func classify(score float64, sc *signalCounts) {
	switch {
	case score > 0.1:
		sc.bullish++
	case score < -0.1:
		sc.bearish++
	default:
		sc.neutral++
	}
}

func scoreAndLabel(sc signalCounts) (float64, Label) {
	total := sc.total()
	if total == 0 {
		return 0, LabelNeutral
	}
	score := float64(sc.bullish) / float64(total)
	switch {
	case score >= 0.6:
		return score, LabelBullish
	case score <= 0.4:
		return score, LabelBearish
	default:
		return score, LabelNeutral
	}
}

// finalize merges local + live signals into the result the caller sees.
// The DB-cached row stores only local signals; StockTwits is merged fresh
// on every call, never persisted.
func (c *Cache) finalize(ticker string, local, live signalCounts, sources map[string]int, now time.Time) Result {
	merged := signalCounts{
		bullish: local.bullish + live.bullish,
		bearish: local.bearish + live.bearish,
		neutral: local.neutral + live.neutral,
	}
	score, label := scoreAndLabel(merged)

	out := make(map[string]int, len(sources)+3)
	for k, v := range sources {
		out[k] = v
	}
	out["stocktwits_bullish"] = live.bullish
	out["stocktwits_bearish"] = live.bearish
	out["stocktwits_neutral"] = live.neutral

	return Result{
		Ticker:      ticker,
		Score:       score,
		Label:       label,
		SignalCount: merged.total(),
		Sources:     out,
		UpdatedAt:   now,
	}
}
