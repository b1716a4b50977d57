package server

import (
	"database/sql"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/tickerpulse/core/internal/alerts"
	"github.com/tickerpulse/core/internal/store"
)

func (s *Server) routeAlerts(r chi.Router) {
	r.Get("/alerts", s.handleListAlerts)
	r.Post("/alerts", s.handleCreateAlert)
	r.Put("/alerts/{id}", s.handleUpdateAlert)
	r.Delete("/alerts/{id}", s.handleDeleteAlert)
	r.Put("/alerts/{id}/sound", s.handleUpdateAlertSound)
	r.Post("/alerts/{id}/test", s.handleTestAlert)
	r.Post("/alerts/{id}/rearm", s.handleRearmAlert)
}

type alertDTO struct {
	ID            int64   `json:"id"`
	Ticker        string  `json:"ticker"`
	ConditionType string  `json:"condition_type"`
	Threshold     float64 `json:"threshold"`
	SoundType     string  `json:"sound_type"`
	Enabled       bool    `json:"enabled"`
	TriggeredAt   *string `json:"triggered_at"`
	FireCount     int     `json:"fire_count"`
}

func (s *Server) handleListAlerts(w http.ResponseWriter, r *http.Request) {
	var out []alertDTO
	err := s.store.Session(r.Context(), false, func(tx *store.Tx) error {
		rows, err := tx.QueryContext(r.Context(), `
			SELECT id, ticker, condition_type, threshold, sound_type, enabled, triggered_at, fire_count
			FROM price_alerts ORDER BY id DESC`)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var a alertDTO
			var enabled int
			var triggeredAt sql.NullString
			if err := rows.Scan(&a.ID, &a.Ticker, &a.ConditionType, &a.Threshold, &a.SoundType,
				&enabled, &triggeredAt, &a.FireCount); err != nil {
				return err
			}
			a.Enabled = enabled != 0
			if triggeredAt.Valid {
				a.TriggeredAt = &triggeredAt.String
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

func (s *Server) handleCreateAlert(w http.ResponseWriter, r *http.Request) {
	var req alertDTO
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	ticker := strings.ToUpper(strings.TrimSpace(req.Ticker))
	if !alerts.ValidTicker(ticker) {
		s.writeError(w, http.StatusBadRequest, "invalid ticker")
		return
	}
	switch alerts.ConditionType(req.ConditionType) {
	case alerts.ConditionPriceAbove, alerts.ConditionPriceBelow, alerts.ConditionPctChange:
	default:
		s.writeError(w, http.StatusBadRequest, "invalid condition_type")
		return
	}
	sound := string(alerts.NormalizeSound(req.SoundType))

	var id int64
	err := s.store.Session(r.Context(), true, func(tx *store.Tx) error {
		res, err := tx.ExecContext(r.Context(), `
			INSERT INTO price_alerts (ticker, condition_type, threshold, sound_type, enabled)
			VALUES (?, ?, ?, ?, 1)`,
			ticker, req.ConditionType, req.Threshold, sound)
		if err != nil {
			return err
		}
		id, err = res.LastInsertId()
		return err
	})
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusCreated, map[string]int64{"id": id})
}

func (s *Server) handleUpdateAlert(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid id")
		return
	}
	var req struct {
		Threshold float64 `json:"threshold"`
		Enabled   bool    `json:"enabled"`
	}
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	enabledInt := 0
	if req.Enabled {
		enabledInt = 1
	}
	err = s.store.Session(r.Context(), true, func(tx *store.Tx) error {
		_, err := tx.ExecContext(r.Context(),
			"UPDATE price_alerts SET threshold = ?, enabled = ? WHERE id = ?", req.Threshold, enabledInt, id)
		return err
	})
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDeleteAlert(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid id")
		return
	}
	err = s.store.Session(r.Context(), true, func(tx *store.Tx) error {
		_, err := tx.ExecContext(r.Context(), "DELETE FROM price_alerts WHERE id = ?", id)
		return err
	})
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleUpdateAlertSound(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid id")
		return
	}
	var req struct {
		SoundType string `json:"sound_type"`
	}
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	sound := string(alerts.NormalizeSound(req.SoundType))
	err = s.store.Session(r.Context(), true, func(tx *store.Tx) error {
		_, err := tx.ExecContext(r.Context(), "UPDATE price_alerts SET sound_type = ? WHERE id = ?", sound, id)
		return err
	})
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleTestAlert(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid id")
		return
	}
	var req struct {
		Price float64 `json:"price"`
	}
	_ = decodeJSON(r, &req)

	payload, err := s.alerts.FireTestAlert(r.Context(), id, req.Price)
	if err != nil {
		s.writeError(w, http.StatusNotFound, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, payload)
}

func (s *Server) handleRearmAlert(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid id")
		return
	}
	if err := s.alerts.Rearm(r.Context(), id); err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
