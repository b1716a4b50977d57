package server

import (
	"database/sql"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/tickerpulse/core/internal/store"
)

func (s *Server) routeState(r chi.Router) {
	r.Get("/app-state", s.handleGetAppState)
	r.Put("/app-state", s.handlePutAppState)
	r.Get("/state/{key}", s.handleGetStateKey)
	r.Put("/state/{key}", s.handlePutStateKey)
}

const appStateKey = "app-state"

// handleGetAppState returns the single opaque JSON blob the frontend
// persists its whole UI state under.
func (s *Server) handleGetAppState(w http.ResponseWriter, r *http.Request) {
	s.readUIState(w, r, appStateKey)
}

func (s *Server) handlePutAppState(w http.ResponseWriter, r *http.Request) {
	s.writeUIState(w, r, appStateKey)
}

func (s *Server) handleGetStateKey(w http.ResponseWriter, r *http.Request) {
	s.readUIState(w, r, chi.URLParam(r, "key"))
}

func (s *Server) handlePutStateKey(w http.ResponseWriter, r *http.Request) {
	s.writeUIState(w, r, chi.URLParam(r, "key"))
}

func (s *Server) readUIState(w http.ResponseWriter, r *http.Request, key string) {
	var raw string
	err := s.store.Session(r.Context(), false, func(tx *store.Tx) error {
		return tx.QueryRowContext(r.Context(), "SELECT value FROM ui_state WHERE key = ?", key).Scan(&raw)
	})
	if err == sql.ErrNoRows {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("null"))
		return
	}
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(raw))
}

func (s *Server) writeUIState(w http.ResponseWriter, r *http.Request, key string) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
	if err != nil {
		s.writeError(w, http.StatusRequestEntityTooLarge, "payload too large")
		return
	}
	defer r.Body.Close()

	err = s.store.Session(r.Context(), true, func(tx *store.Tx) error {
		_, err := tx.ExecContext(r.Context(), `
			INSERT INTO ui_state (key, value, updated_at) VALUES (?, ?, datetime('now'))
			ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
			key, string(body))
		return err
	})
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
