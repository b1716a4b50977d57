package server

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/tickerpulse/core/internal/providers"
)

const maxCompareSymbols = 5

var compareTimeframes = map[string]providers.HistoryPeriod{
	"1D": providers.Period1D,
	"1W": providers.Period5D,
	"1M": providers.Period1MO,
	"3M": providers.Period3MO,
	"6M": providers.Period6MO,
	"1Y": providers.Period1Y,
	"5Y": providers.Period5Y,
}

func (s *Server) routeCompare(r chi.Router) {
	r.Get("/compare", s.handleCompareReturns)
}

// handleCompareReturns computes the percent-return series (relative to
// each symbol's first bar) for up to 5 symbols over one of the spec's
// seven timeframes, so the frontend can overlay normalized performance
// lines regardless of each symbol's absolute price.
func (s *Server) handleCompareReturns(w http.ResponseWriter, r *http.Request) {
	symbols := strings.Split(r.URL.Query().Get("symbols"), ",")
	var cleaned []string
	for _, sym := range symbols {
		sym = strings.ToUpper(strings.TrimSpace(sym))
		if sym != "" {
			cleaned = append(cleaned, sym)
		}
	}
	if len(cleaned) == 0 {
		s.writeError(w, http.StatusBadRequest, "symbols query param is required")
		return
	}
	if len(cleaned) > maxCompareSymbols {
		s.writeError(w, http.StatusBadRequest, "at most 5 symbols allowed")
		return
	}

	timeframe := r.URL.Query().Get("timeframe")
	period, ok := compareTimeframes[timeframe]
	if !ok {
		s.writeError(w, http.StatusBadRequest, "invalid timeframe")
		return
	}

	series := make(map[string]interface{}, len(cleaned))
	for _, sym := range cleaned {
		hist, err := s.providers.GetHistorical(sym, period)
		if err != nil || len(hist.Bars) == 0 {
			series[sym] = map[string]interface{}{"error": "no data available"}
			continue
		}
		base := hist.Bars[0].Close
		points := make([]map[string]interface{}, 0, len(hist.Bars))
		for _, bar := range hist.Bars {
			pctReturn := 0.0
			if base != 0 {
				pctReturn = (bar.Close - base) / base * 100
			}
			points = append(points, map[string]interface{}{
				"date":        bar.Date,
				"pct_return":  pctReturn,
				"close":       bar.Close,
			})
		}
		series[sym] = points
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{"timeframe": timeframe, "series": series})
}
