package server

import (
	"errors"
	"net"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/tickerpulse/core/internal/store"
)

const maxErrorPayloadBytes = 64 * 1024

func (s *Server) routeErrors(r chi.Router) {
	r.Post("/errors", s.handleIngestError)
	r.Get("/errors/stats", s.handleErrorStats)
}

type errorReport struct {
	Source     string `json:"source"`
	Message    string `json:"message"`
	StackTrace string `json:"stack_trace"`
}

func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// handleIngestError accepts frontend-reported errors into error_log,
// rate-limited to 10/min/IP with a 64 KiB payload cap, per spec.md.
func (s *Server) handleIngestError(w http.ResponseWriter, r *http.Request) {
	if !s.errLimiter.Allow(clientKey(r)) {
		s.writeError(w, http.StatusTooManyRequests, "too many error reports")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxErrorPayloadBytes)
	var req errorReport
	if err := decodeJSON(r, &req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.writeError(w, http.StatusRequestEntityTooLarge, "payload too large")
			return
		}
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Source == "" || req.Message == "" {
		s.writeError(w, http.StatusBadRequest, "source and message are required")
		return
	}

	requestID := w.Header().Get("X-Request-ID")
	err := s.store.Session(r.Context(), true, func(tx *store.Tx) error {
		_, err := tx.ExecContext(r.Context(), `
			INSERT INTO error_log (source, message, stack_trace, request_id) VALUES (?, ?, ?, ?)`,
			req.Source, req.Message, nullIfEmpty(req.StackTrace), nullIfEmpty(requestID))
		return err
	})
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleErrorStats(w http.ResponseWriter, r *http.Request) {
	var bySource []map[string]interface{}
	err := s.store.Session(r.Context(), false, func(tx *store.Tx) error {
		rows, err := tx.QueryContext(r.Context(), `
			SELECT source, COUNT(*) FROM error_log GROUP BY source ORDER BY COUNT(*) DESC`)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var source string
			var count int
			if err := rows.Scan(&source, &count); err != nil {
				return err
			}
			bySource = append(bySource, map[string]interface{}{"source": source, "count": count})
		}
		return rows.Err()
	})
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"by_source": bySource})
}
