package server

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/tickerpulse/core/internal/store"
)

func (s *Server) routeActivity(r chi.Router) {
	r.Get("/activity", s.handleActivityFeed)
	r.Get("/activity/costs", s.handleActivityCostRollup)
}

type activityItemDTO struct {
	Kind      string  `json:"kind"` // agent_run | job | error
	Label     string  `json:"label"`
	Status    string  `json:"status"`
	Cost      float64 `json:"cost,omitempty"`
	Timestamp string  `json:"timestamp"`
}

// handleActivityFeed merges agent_runs, job_history, and error_log into a
// single newest-first timeline, since the frontend's activity panel shows
// all three interleaved.
func (s *Server) handleActivityFeed(w http.ResponseWriter, r *http.Request) {
	_, limit := paginationParams(r, 0, 100)

	var out []activityItemDTO
	err := s.store.Session(r.Context(), false, func(tx *store.Tx) error {
		rows, err := tx.QueryContext(r.Context(), `
			SELECT 'agent_run' AS kind, agent_name AS label, status, COALESCE(estimated_cost,0) AS cost, started_at AS ts
			FROM agent_runs
			UNION ALL
			SELECT 'job' AS kind, job_name AS label, status, COALESCE(cost,0) AS cost, executed_at AS ts
			FROM job_history
			UNION ALL
			SELECT 'error' AS kind, source AS label, 'error' AS status, 0 AS cost, recorded_at AS ts
			FROM error_log
			ORDER BY ts DESC
			LIMIT ?`, limit)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var a activityItemDTO
			if err := rows.Scan(&a.Kind, &a.Label, &a.Status, &a.Cost, &a.Timestamp); err != nil {
				return err
			}
			out = append(out, a)
		}
		return rows.Err()
	})
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, out)
}

type dailyCostDTO struct {
	Date  string  `json:"date"`
	Cost  float64 `json:"cost"`
	Runs  int     `json:"runs"`
}

// handleActivityCostRollup sums agent_runs.estimated_cost + job_history.cost
// per calendar day over the trailing ?days window (default 30).
func (s *Server) handleActivityCostRollup(w http.ResponseWriter, r *http.Request) {
	days := 30
	if d, err := strconv.Atoi(r.URL.Query().Get("days")); err == nil && d > 0 {
		days = d
	}

	var out []dailyCostDTO
	err := s.store.Session(r.Context(), false, func(tx *store.Tx) error {
		rows, err := tx.QueryContext(r.Context(), `
			SELECT day, SUM(cost) AS total_cost, SUM(runs) AS total_runs FROM (
				SELECT date(started_at) AS day, COALESCE(estimated_cost,0) AS cost, 1 AS runs FROM agent_runs
				UNION ALL
				SELECT date(executed_at) AS day, COALESCE(cost,0) AS cost, 1 AS runs FROM job_history
			)
			WHERE day >= date('now', ?)
			GROUP BY day ORDER BY day DESC`, "-"+strconv.Itoa(days)+" days")
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var d dailyCostDTO
			if err := rows.Scan(&d.Date, &d.Cost, &d.Runs); err != nil {
				return err
			}
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
