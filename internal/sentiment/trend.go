package sentiment

import (
	"context"
	"database/sql"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/tickerpulse/core/internal/store"
)

const trendThreshold = 0.05

// computeTrend compares the bullish proportion of news sentiment in the
// most recent 0-12h window against the 12-24h window. Proportions are
// computed as the mean of a {1 bullish, 0 otherwise} indicator slice via
// gonum/stat, matching the teacher's pkg/formulas use of stat.Mean for
// simple descriptive statistics.
func computeTrend(ctx context.Context, st *store.Store, ticker string) (Trend, error) {
	now := time.Now().UTC()
	recent, err := bullishIndicators(ctx, st, ticker, now.Add(-12*time.Hour), now)
	if err != nil {
		return TrendFlat, err
	}
	older, err := bullishIndicators(ctx, st, ticker, now.Add(-24*time.Hour), now.Add(-12*time.Hour))
	if err != nil {
		return TrendFlat, err
	}

	if len(recent) == 0 || len(older) == 0 {
		return TrendFlat, nil
	}

	recentProportion := stat.Mean(recent, nil)
	olderProportion := stat.Mean(older, nil)
	delta := recentProportion - olderProportion

	switch {
	case delta > trendThreshold:
		return TrendUp, nil
	case delta < -trendThreshold:
		return TrendDown, nil
	default:
		return TrendFlat, nil
	}
}

// bullishIndicators returns a 1/0 slice (bullish/not) for every scored news
// row for ticker published within [from, to).
func bullishIndicators(ctx context.Context, st *store.Store, ticker string, from, to time.Time) ([]float64, error) {
	conn, release, err := st.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	rows, err := conn.QueryContext(ctx,
		"SELECT sentiment_score FROM news WHERE ticker = ? AND published_at >= ? AND published_at < ?",
		ticker, from.Format(time.RFC3339), to.Format(time.RFC3339))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var indicators []float64
	for rows.Next() {
		var score sql.NullFloat64
		if err := rows.Scan(&score); err != nil {
			return nil, err
		}
		if !score.Valid {
			continue
		}
		if score.Float64 > 0.1 {
			indicators = append(indicators, 1)
		} else {
			indicators = append(indicators, 0)
		}
	}
	return indicators, rows.Err()
}
