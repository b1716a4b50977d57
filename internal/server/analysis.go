package server

import (
	"database/sql"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/tickerpulse/core/internal/providers"
	"github.com/tickerpulse/core/internal/store"
)

func (s *Server) routeAnalysis(r chi.Router) {
	r.Get("/ratings", s.handleListRatings)
	r.Get("/ratings/{ticker}/chart", s.handleChartData)
}

type ratingDTO struct {
	Ticker           string  `json:"ticker"`
	Rating           string  `json:"rating"`
	Score            float64 `json:"score"`
	Confidence       float64 `json:"confidence"`
	CurrentPrice     float64 `json:"current_price"`
	PriceChangePct   float64 `json:"price_change_pct"`
	RSI              float64 `json:"rsi"`
	SentimentScore   float64 `json:"sentiment_score"`
	SentimentLabel   string  `json:"sentiment_label"`
	TechnicalScore   float64 `json:"technical_score"`
	FundamentalScore float64 `json:"fundamental_score"`
	Summary          string  `json:"summary"`
	UpdatedAt        string  `json:"updated_at"`
}

func (s *Server) handleListRatings(w http.ResponseWriter, r *http.Request) {
	var out []ratingDTO
	err := s.store.Session(r.Context(), false, func(tx *store.Tx) error {
		rows, err := tx.QueryContext(r.Context(), `
			SELECT ticker, rating, score, confidence, current_price, price_change_pct,
			       rsi, sentiment_score, sentiment_label, technical_score, fundamental_score,
			       summary, updated_at
			FROM ai_ratings ORDER BY ticker`)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var d ratingDTO
			var rating, sentimentLabel, summary, updatedAt sql.NullString
			var score, confidence, price, changePct, rsi, sentScore, techScore, fundScore sql.NullFloat64
			if err := rows.Scan(&d.Ticker, &rating, &score, &confidence, &price, &changePct,
				&rsi, &sentScore, &sentimentLabel, &techScore, &fundScore, &summary, &updatedAt); err != nil {
				return err
			}
			d.Rating, d.SentimentLabel, d.Summary, d.UpdatedAt = rating.String, sentimentLabel.String, summary.String, updatedAt.String
			d.Score, d.Confidence, d.CurrentPrice, d.PriceChangePct = score.Float64, confidence.Float64, price.Float64, changePct.Float64
			d.RSI, d.SentimentScore, d.TechnicalScore, d.FundamentalScore = rsi.Float64, sentScore.Float64, techScore.Float64, fundScore.Float64
			out = append(out, d)
		}
		return rows.Err()
	})
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, out)
}

// handleChartData serves OHLCV history for one ticker, with simple
// offset/limit pagination over the provider's returned bar slice (history
// providers don't support server-side pagination themselves).
func (s *Server) handleChartData(w http.ResponseWriter, r *http.Request) {
	ticker := chi.URLParam(r, "ticker")
	period := providers.HistoryPeriod(r.URL.Query().Get("period"))
	if period == "" {
		period = providers.Period3MO
	}
	if !providers.ValidPeriod(period) {
		s.writeError(w, http.StatusBadRequest, "invalid period")
		return
	}

	hist, err := s.providers.GetHistorical(ticker, period)
	if err != nil {
		s.writeError(w, http.StatusBadGateway, err.Error())
		return
	}

	offset, limit := paginationParams(r, 0, 500)
	bars := hist.Bars
	if offset > len(bars) {
		offset = len(bars)
	}
	end := offset + limit
	if end > len(bars) {
		end = len(bars)
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"ticker": hist.Ticker,
		"period": period,
		"total":  len(bars),
		"bars":   bars[offset:end],
	})
}

// paginationParams parses page/page_size (1-indexed page) or offset/limit
// query params into a zero-indexed offset and a capped limit.
func paginationParams(r *http.Request, defaultOffset, defaultLimit int) (int, int) {
	q := r.URL.Query()
	if page, err := strconv.Atoi(q.Get("page")); err == nil && page > 0 {
		pageSize := defaultLimit
		if ps, err := strconv.Atoi(q.Get("page_size")); err == nil && ps > 0 {
			pageSize = ps
		}
		return (page - 1) * pageSize, pageSize
	}
	offset, limit := defaultOffset, defaultLimit
	if o, err := strconv.Atoi(q.Get("offset")); err == nil && o >= 0 {
		offset = o
	}
	if l, err := strconv.Atoi(q.Get("limit")); err == nil && l > 0 {
		limit = l
	}
	return offset, limit
}
