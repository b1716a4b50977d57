package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/tickerpulse/core/internal/store"
)

func (s *Server) routeEarnings(r chi.Router) {
	r.Get("/earnings/upcoming", s.handleUpcomingEarnings)
	r.Get("/earnings/past", s.handlePastEarnings)
	r.Post("/earnings/sync", s.handleSyncEarnings)
}

type earningsEventDTO struct {
	Ticker          string   `json:"ticker"`
	EarningsDate    string   `json:"earnings_date"`
	EPSEstimate     *float64 `json:"eps_estimate"`
	EPSActual       *float64 `json:"eps_actual"`
	RevenueEstimate *float64 `json:"revenue_estimate"`
	RevenueActual   *float64 `json:"revenue_actual"`
}

func (s *Server) queryEarnings(w http.ResponseWriter, r *http.Request, cmp string) {
	offset, limit := paginationParams(r, 0, 50)
	ticker := strings.ToUpper(strings.TrimSpace(r.URL.Query().Get("ticker")))
	today := time.Now().UTC().Format("2006-01-02")

	var out []earningsEventDTO
	err := s.store.Session(r.Context(), false, func(tx *store.Tx) error {
		query := `
			SELECT ticker, earnings_date, eps_estimate, eps_actual, revenue_estimate, revenue_actual
			FROM earnings_events WHERE earnings_date ` + cmp + ` ?`
		args := []interface{}{today}
		if ticker != "" {
			query += " AND ticker = ?"
			args = append(args, ticker)
		}
		order := "ASC"
		if cmp == "<" {
			order = "DESC"
		}
		query += " ORDER BY earnings_date " + order + " LIMIT ? OFFSET ?"
		args = append(args, limit, offset)

		rows, err := tx.QueryContext(r.Context(), query, args...)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var e earningsEventDTO
			if err := rows.Scan(&e.Ticker, &e.EarningsDate, &e.EPSEstimate, &e.EPSActual,
				&e.RevenueEstimate, &e.RevenueActual); err != nil {
				return err
			}
			out = append(out, e)
		}
		return rows.Err()
	})
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleUpcomingEarnings(w http.ResponseWriter, r *http.Request) {
	s.queryEarnings(w, r, ">=")
}

func (s *Server) handlePastEarnings(w http.ResponseWriter, r *http.Request) {
	s.queryEarnings(w, r, "<")
}

// handleSyncEarnings triggers an on-demand refresh of one ticker's earnings
// calendar from the provider chain, upserting into earnings_events.
func (s *Server) handleSyncEarnings(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Ticker string `json:"ticker"`
	}
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	ticker := strings.ToUpper(strings.TrimSpace(req.Ticker))
	if ticker == "" {
		s.writeError(w, http.StatusBadRequest, "ticker is required")
		return
	}

	events, err := s.providers.Earnings(ticker)
	if err != nil {
		s.writeError(w, http.StatusBadGateway, err.Error())
		return
	}

	err = s.store.Session(r.Context(), true, func(tx *store.Tx) error {
		for _, e := range events {
			_, err := tx.ExecContext(r.Context(), `
				INSERT INTO earnings_events (ticker, earnings_date, eps_estimate, eps_actual, revenue_estimate, revenue_actual)
				VALUES (?, ?, ?, ?, ?, ?)
				ON CONFLICT(ticker, earnings_date) DO UPDATE SET
					eps_estimate = excluded.eps_estimate, eps_actual = excluded.eps_actual,
					revenue_estimate = excluded.revenue_estimate, revenue_actual = excluded.revenue_actual`,
				e.Ticker, e.EarningsDate.UTC().Format("2006-01-02"),
				e.EPSEstimate, e.EPSActual, e.RevenueEstimate, e.RevenueActual)
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]int{"synced": len(events)})
}
