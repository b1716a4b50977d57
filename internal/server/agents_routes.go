package server

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/tickerpulse/core/internal/agents"
	"github.com/tickerpulse/core/internal/store"
)

func (s *Server) routeAgents(r chi.Router) {
	r.Get("/agents", s.handleListAgentNames)
	r.Post("/agents/{name}/run", s.handleRunAgent)
	r.Get("/agents/history", s.handleAgentHistory)
	r.Get("/agents/costs", s.handleAgentCosts)
}

// handleListAgentNames advertises the stub-to-real agent name mapping, per
// spec.md §4.L: the frontend may address an agent by either form.
func (s *Server) handleListAgentNames(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"agents": agents.StubNames()})
}

func (s *Server) handleRunAgent(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	var inputs agents.Inputs
	_ = decodeJSON(r, &inputs)
	if inputs == nil {
		inputs = agents.Inputs{}
	}

	result, runID, err := s.agents.Run(r.Context(), name, inputs)
	if err != nil {
		s.writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"run_id":      runID,
		"output_data": result.OutputData,
	})
}

type agentRunDTO struct {
	ID           int64   `json:"id"`
	AgentName    string  `json:"agent_name"`
	Status       string  `json:"status"`
	TokensInput  int     `json:"tokens_input"`
	TokensOutput int     `json:"tokens_output"`
	Cost         float64 `json:"estimated_cost"`
	DurationMs   int64   `json:"duration_ms"`
	StartedAt    string  `json:"started_at"`
	CompletedAt  string  `json:"completed_at"`
	Error        string  `json:"error"`
}

// handleAgentHistory lists agent_runs rows, newest first, with page/page_size
// pagination and an optional agent_name filter.
func (s *Server) handleAgentHistory(w http.ResponseWriter, r *http.Request) {
	offset, limit := paginationParams(r, 0, 50)
	filterName := r.URL.Query().Get("agent_name")

	var out []agentRunDTO
	err := s.store.Session(r.Context(), false, func(tx *store.Tx) error {
		query := `
			SELECT id, agent_name, status, COALESCE(tokens_input,0), COALESCE(tokens_output,0),
			       COALESCE(estimated_cost,0), COALESCE(duration_ms,0), started_at,
			       COALESCE(completed_at,''), COALESCE(error,'')
			FROM agent_runs`
		args := []interface{}{}
		if filterName != "" {
			query += " WHERE agent_name = ?"
			args = append(args, filterName)
		}
		query += " ORDER BY started_at DESC LIMIT ? OFFSET ?"
		args = append(args, limit, offset)

		rows, err := tx.QueryContext(r.Context(), query, args...)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var row agentRunDTO
			if err := rows.Scan(&row.ID, &row.AgentName, &row.Status, &row.TokensInput, &row.TokensOutput,
				&row.Cost, &row.DurationMs, &row.StartedAt, &row.CompletedAt, &row.Error); err != nil {
				return err
			}
			out = append(out, row)
		}
		return rows.Err()
	})
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, out)
}

// handleAgentCosts reports per-agent/per-day cost rollups over a window
// (default 30 days; a positive ?days query param replaces the default).
func (s *Server) handleAgentCosts(w http.ResponseWriter, r *http.Request) {
	days := 30
	if d, err := strconv.Atoi(r.URL.Query().Get("days")); err == nil && d > 0 {
		days = d
	}
	summaries, err := agents.CostSummary(r.Context(), s.store, days)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, summaries)
}
