package server

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/tickerpulse/core/internal/scheduler"
	"github.com/tickerpulse/core/internal/store"
)

func (s *Server) routeScheduler(r chi.Router) {
	r.Get("/scheduler/jobs", s.handleListJobs)
	r.Post("/scheduler/jobs/{id}/pause", s.handlePauseJob)
	r.Post("/scheduler/jobs/{id}/resume", s.handleResumeJob)
	r.Post("/scheduler/jobs/{id}/trigger", s.handleTriggerJob)
	r.Post("/scheduler/jobs/{id}/reschedule", s.handleRescheduleJob)
	r.Get("/scheduler/jobs/{id}/history", s.handleJobHistory)
	r.Get("/scheduler/agent-schedules", s.handleListAgentSchedules)
	r.Post("/scheduler/agent-schedules", s.handleCreateAgentSchedule)
	r.Put("/scheduler/agent-schedules/{id}", s.handleUpdateAgentSchedule)
	r.Delete("/scheduler/agent-schedules/{id}", s.handleDeleteAgentSchedule)
	r.Get("/scheduler/known-agents", s.handleListAgentNames)
}

type jobStatusDTO struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	Description string  `json:"description"`
	Enabled     bool    `json:"enabled"`
	TriggerType string  `json:"trigger_type"`
	TriggerArgs string  `json:"trigger_args"`
	NextRun     *string `json:"next_run"`
}

func toJobStatusDTO(js scheduler.JobStatus) jobStatusDTO {
	dto := jobStatusDTO{
		ID: js.ID, Name: js.Name, Description: js.Description, Enabled: js.Enabled,
		TriggerType: string(js.TriggerType), TriggerArgs: js.TriggerArgs,
	}
	if js.NextRun != nil {
		formatted := js.NextRun.UTC().Format("2006-01-02T15:04:05Z")
		dto.NextRun = &formatted
	}
	return dto
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	jobs := s.scheduler.GetAllJobs()
	out := make([]jobStatusDTO, 0, len(jobs))
	for _, j := range jobs {
		out = append(out, toJobStatusDTO(j))
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) handlePauseJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.scheduler.Pause(r.Context(), id); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleResumeJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.scheduler.Resume(r.Context(), id); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleTriggerJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.scheduler.Trigger(id); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleRescheduleJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req struct {
		IntervalSeconds int `json:"interval_seconds"`
	}
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := s.scheduler.Reschedule(r.Context(), id, req.IntervalSeconds); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type jobHistoryDTO struct {
	ID            int64  `json:"id"`
	JobID         string `json:"job_id"`
	Status        string `json:"status"`
	ResultSummary string `json:"result_summary"`
	AgentName     string `json:"agent_name"`
	DurationMs    int64  `json:"duration_ms"`
	Cost          float64 `json:"cost"`
	ExecutedAt    string `json:"executed_at"`
}

func (s *Server) handleJobHistory(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	offset, limit := paginationParams(r, 0, 50)

	var out []jobHistoryDTO
	err := s.store.Session(r.Context(), false, func(tx *store.Tx) error {
		rows, err := tx.QueryContext(r.Context(), `
			SELECT id, job_id, status, COALESCE(result_summary,''), COALESCE(agent_name,''),
			       COALESCE(duration_ms,0), COALESCE(cost,0), executed_at
			FROM job_history WHERE job_id = ? ORDER BY executed_at DESC LIMIT ? OFFSET ?`,
			id, limit, offset)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var h jobHistoryDTO
			if err := rows.Scan(&h.ID, &h.JobID, &h.Status, &h.ResultSummary, &h.AgentName,
				&h.DurationMs, &h.Cost, &h.ExecutedAt); err != nil {
				return err
			}
			out = append(out, h)
		}
		return rows.Err()
	})
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, out)
}

type agentScheduleDTO struct {
	ID          int64  `json:"id"`
	JobID       string `json:"job_id"`
	TriggerType string `json:"trigger_type"`
	TriggerArgs string `json:"trigger_args"`
	CreatedAt   string `json:"created_at"`
}

func (s *Server) handleListAgentSchedules(w http.ResponseWriter, r *http.Request) {
	jobID := r.URL.Query().Get("job_id")
	schedules, err := s.scheduler.ListAgentSchedules(r.Context(), jobID)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	out := make([]agentScheduleDTO, 0, len(schedules))
	for _, a := range schedules {
		out = append(out, agentScheduleDTO{a.ID, a.JobID, string(a.TriggerType), a.TriggerArgs, a.CreatedAt})
	}
	s.writeJSON(w, http.StatusOK, out)
}

// triggerRequest is the wire shape for a caller-supplied scheduler.Trigger.
type triggerRequest struct {
	Type            string `json:"type"`
	IntervalSeconds int    `json:"interval_seconds"`
	Cron            struct {
		Second, Minute, Hour, Day, Month, DayOfWeek string
	} `json:"cron"`
}

func (tr triggerRequest) toTrigger() scheduler.Trigger {
	return scheduler.Trigger{
		Type:            scheduler.TriggerType(tr.Type),
		IntervalSeconds: tr.IntervalSeconds,
		Cron: scheduler.CronFields{
			Second: tr.Cron.Second, Minute: tr.Cron.Minute, Hour: tr.Cron.Hour,
			Day: tr.Cron.Day, Month: tr.Cron.Month, DayOfWeek: tr.Cron.DayOfWeek,
		},
	}
}

func (s *Server) handleCreateAgentSchedule(w http.ResponseWriter, r *http.Request) {
	var req struct {
		JobID   string          `json:"job_id"`
		Trigger triggerRequest `json:"trigger"`
	}
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	id, err := s.scheduler.CreateAgentSchedule(r.Context(), req.JobID, req.Trigger.toTrigger())
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.writeJSON(w, http.StatusCreated, map[string]int64{"id": id})
}

func (s *Server) handleUpdateAgentSchedule(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid id")
		return
	}
	var req triggerRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := s.scheduler.UpdateAgentSchedule(r.Context(), id, req.toTrigger()); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDeleteAgentSchedule(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid id")
		return
	}
	if err := s.scheduler.DeleteAgentSchedule(r.Context(), id); err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
