package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

func (s *Server) routeSentiment(r chi.Router) {
	r.Get("/sentiment/{ticker}", s.handleGetSentiment)
}

// handleGetSentiment returns the aggregated news/agent/StockTwits sentiment
// for one ticker, recomputing on a cache miss (internal/sentiment.Cache
// handles the TTL and degraded-mode fallback itself).
func (s *Server) handleGetSentiment(w http.ResponseWriter, r *http.Request) {
	ticker := chi.URLParam(r, "ticker")
	result, err := s.sentiment.Aggregate(r.Context(), ticker)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, result)
}
