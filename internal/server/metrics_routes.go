package server

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/tickerpulse/core/internal/store"
)

func (s *Server) routeMetrics(r chi.Router) {
	r.Get("/metrics/summary", s.handleMetricsSummary)
	r.Get("/metrics/agents", s.handleMetricsPerAgent)
	r.Get("/metrics/system", s.handleMetricsSystem)
	r.Get("/metrics/endpoints", s.handleMetricsEndpoints)
	r.Get("/metrics/timeseries", s.handleMetricsTimeseries)
	r.Get("/metrics/jobs", s.handleMetricsPerJob)
}

func (s *Server) handleMetricsSummary(w http.ResponseWriter, r *http.Request) {
	var totalRuns, totalJobs, totalErrors int
	var totalCost float64
	err := s.store.Session(r.Context(), false, func(tx *store.Tx) error {
		if err := tx.QueryRowContext(r.Context(), "SELECT COUNT(*), COALESCE(SUM(estimated_cost),0) FROM agent_runs").
			Scan(&totalRuns, &totalCost); err != nil {
			return err
		}
		if err := tx.QueryRowContext(r.Context(), "SELECT COUNT(*) FROM job_history").Scan(&totalJobs); err != nil {
			return err
		}
		return tx.QueryRowContext(r.Context(), "SELECT COUNT(*) FROM error_log").Scan(&totalErrors)
	})
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"total_agent_runs": totalRuns,
		"total_jobs_run":   totalJobs,
		"total_errors":     totalErrors,
		"total_cost":       totalCost,
	})
}

type agentMetricDTO struct {
	AgentName string  `json:"agent_name"`
	Runs      int     `json:"runs"`
	Cost      float64 `json:"cost"`
	AvgMs     float64 `json:"avg_duration_ms"`
	Errors    int     `json:"errors"`
}

func (s *Server) handleMetricsPerAgent(w http.ResponseWriter, r *http.Request) {
	var out []agentMetricDTO
	err := s.store.Session(r.Context(), false, func(tx *store.Tx) error {
		rows, err := tx.QueryContext(r.Context(), `
			SELECT agent_name, COUNT(*), COALESCE(SUM(estimated_cost),0), COALESCE(AVG(duration_ms),0),
			       SUM(CASE WHEN status = 'error' THEN 1 ELSE 0 END)
			FROM agent_runs GROUP BY agent_name ORDER BY agent_name`)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var a agentMetricDTO
			if err := rows.Scan(&a.AgentName, &a.Runs, &a.Cost, &a.AvgMs, &a.Errors); err != nil {
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

type systemSnapshotDTO struct {
	ID          int64   `json:"id"`
	CPUPct      float64 `json:"cpu_pct"`
	MemPct      float64 `json:"mem_pct"`
	PoolInUse   int     `json:"db_pool_in_use"`
	PoolIdle    int     `json:"db_pool_idle"`
	RecordedAt  string  `json:"recorded_at"`
}

func (s *Server) handleMetricsSystem(w http.ResponseWriter, r *http.Request) {
	_, limit := paginationParams(r, 0, 50)
	var out []systemSnapshotDTO
	err := s.store.Session(r.Context(), false, func(tx *store.Tx) error {
		rows, err := tx.QueryContext(r.Context(), `
			SELECT id, COALESCE(cpu_pct,0), COALESCE(mem_pct,0), COALESCE(db_pool_in_use,0),
			       COALESCE(db_pool_idle,0), recorded_at
			FROM perf_snapshots ORDER BY recorded_at DESC LIMIT ?`, limit)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var sn systemSnapshotDTO
			if err := rows.Scan(&sn.ID, &sn.CPUPct, &sn.MemPct, &sn.PoolInUse, &sn.PoolIdle, &sn.RecordedAt); err != nil {
				return err
			}
			out = append(out, sn)
		}
		return rows.Err()
	})
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, out)
}

type endpointMetricDTO struct {
	Endpoint    string  `json:"endpoint"`
	Method      string  `json:"method"`
	StatusClass string  `json:"status_class"`
	CallCount   int64   `json:"call_count"`
	P95Ms       float64 `json:"p95_ms"`
	AvgMs       float64 `json:"avg_ms"`
	LogDate     string  `json:"log_date"`
}

func (s *Server) handleMetricsEndpoints(w http.ResponseWriter, r *http.Request) {
	_, limit := paginationParams(r, 0, 200)
	var out []endpointMetricDTO
	err := s.store.Session(r.Context(), false, func(tx *store.Tx) error {
		rows, err := tx.QueryContext(r.Context(), `
			SELECT endpoint, method, status_class, call_count, COALESCE(p95_ms,0), COALESCE(avg_ms,0), log_date
			FROM api_request_log ORDER BY log_date DESC, call_count DESC LIMIT ?`, limit)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var e endpointMetricDTO
			if err := rows.Scan(&e.Endpoint, &e.Method, &e.StatusClass, &e.CallCount, &e.P95Ms, &e.AvgMs, &e.LogDate); err != nil {
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

type dailyTimeseriesDTO struct {
	Date       string  `json:"date"`
	Cost       float64 `json:"cost"`
	Runs       int     `json:"runs"`
	AvgMs      float64 `json:"avg_duration_ms"`
	Tokens     int64   `json:"tokens"`
	ErrorRate  float64 `json:"error_rate"`
}

// handleMetricsTimeseries reports daily cost/runs/duration/tokens/error_rate
// rollups over the trailing ?days window (default 30), matching spec.md's
// metrics endpoint group.
func (s *Server) handleMetricsTimeseries(w http.ResponseWriter, r *http.Request) {
	days := 30
	if d, err := strconv.Atoi(r.URL.Query().Get("days")); err == nil && d > 0 {
		days = d
	}

	var out []dailyTimeseriesDTO
	err := s.store.Session(r.Context(), false, func(tx *store.Tx) error {
		rows, err := tx.QueryContext(r.Context(), `
			SELECT date(started_at) AS day,
			       COALESCE(SUM(estimated_cost),0),
			       COUNT(*),
			       COALESCE(AVG(duration_ms),0),
			       COALESCE(SUM(tokens_input + tokens_output),0),
			       CAST(SUM(CASE WHEN status = 'error' THEN 1 ELSE 0 END) AS REAL) / COUNT(*)
			FROM agent_runs
			WHERE date(started_at) >= date('now', ?)
			GROUP BY day ORDER BY day DESC`, "-"+strconv.Itoa(days)+" days")
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var d dailyTimeseriesDTO
			if err := rows.Scan(&d.Date, &d.Cost, &d.Runs, &d.AvgMs, &d.Tokens, &d.ErrorRate); err != nil {
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

type jobMetricDTO struct {
	JobID   string  `json:"job_id"`
	Runs    int     `json:"runs"`
	AvgMs   float64 `json:"avg_duration_ms"`
	Cost    float64 `json:"cost"`
	Errors  int     `json:"errors"`
}

func (s *Server) handleMetricsPerJob(w http.ResponseWriter, r *http.Request) {
	var out []jobMetricDTO
	err := s.store.Session(r.Context(), false, func(tx *store.Tx) error {
		rows, err := tx.QueryContext(r.Context(), `
			SELECT job_id, COUNT(*), COALESCE(AVG(duration_ms),0), COALESCE(SUM(cost),0),
			       SUM(CASE WHEN status = 'error' THEN 1 ELSE 0 END)
			FROM job_history GROUP BY job_id ORDER BY job_id`)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var j jobMetricDTO
			if err := rows.Scan(&j.JobID, &j.Runs, &j.AvgMs, &j.Cost, &j.Errors); err != nil {
				return err
			}
			out = append(out, j)
		}
		return rows.Err()
	})
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, out)
}
