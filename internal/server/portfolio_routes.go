package server

import (
	"database/sql"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/tickerpulse/core/internal/store"
)

func (s *Server) routePortfolio(r chi.Router) {
	r.Get("/portfolio/positions", s.handleListPositions)
	r.Put("/portfolio/positions/{ticker}", s.handleUpsertPosition)
	r.Delete("/portfolio/positions/{ticker}", s.handleDeletePosition)
	r.Get("/portfolio/snapshots", s.handleListSnapshots)
	r.Post("/portfolio/snapshots", s.handleCreateSnapshot)
}

type positionDTO struct {
	Ticker      string  `json:"ticker"`
	Quantity    float64 `json:"quantity"`
	AverageCost float64 `json:"average_cost"`
	UpdatedAt   string  `json:"updated_at"`
}

func (s *Server) handleListPositions(w http.ResponseWriter, r *http.Request) {
	var out []positionDTO
	err := s.store.Session(r.Context(), false, func(tx *store.Tx) error {
		rows, err := tx.QueryContext(r.Context(),
			"SELECT ticker, quantity, COALESCE(average_cost,0), updated_at FROM portfolio_positions ORDER BY ticker")
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var p positionDTO
			if err := rows.Scan(&p.Ticker, &p.Quantity, &p.AverageCost, &p.UpdatedAt); err != nil {
				return err
			}
			out = append(out, p)
		}
		return rows.Err()
	})
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleUpsertPosition(w http.ResponseWriter, r *http.Request) {
	ticker := strings.ToUpper(strings.TrimSpace(chi.URLParam(r, "ticker")))
	var req struct {
		Quantity    float64 `json:"quantity"`
		AverageCost float64 `json:"average_cost"`
	}
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	err := s.store.Session(r.Context(), true, func(tx *store.Tx) error {
		_, err := tx.ExecContext(r.Context(), `
			INSERT INTO portfolio_positions (ticker, quantity, average_cost, updated_at)
			VALUES (?, ?, ?, datetime('now'))
			ON CONFLICT(ticker) DO UPDATE SET
				quantity = excluded.quantity, average_cost = excluded.average_cost, updated_at = excluded.updated_at`,
			ticker, req.Quantity, req.AverageCost)
		return err
	})
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDeletePosition(w http.ResponseWriter, r *http.Request) {
	ticker := strings.ToUpper(strings.TrimSpace(chi.URLParam(r, "ticker")))
	err := s.store.Session(r.Context(), true, func(tx *store.Tx) error {
		_, err := tx.ExecContext(r.Context(), "DELETE FROM portfolio_positions WHERE ticker = ?", ticker)
		return err
	})
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type snapshotDTO struct {
	ID            int64   `json:"id"`
	TotalValue    float64 `json:"total_value"`
	SnapshotData  string  `json:"snapshot_data"`
	RecordedAt    string  `json:"recorded_at"`
}

func (s *Server) handleListSnapshots(w http.ResponseWriter, r *http.Request) {
	offset, limit := paginationParams(r, 0, 50)
	var out []snapshotDTO
	err := s.store.Session(r.Context(), false, func(tx *store.Tx) error {
		rows, err := tx.QueryContext(r.Context(), `
			SELECT id, COALESCE(total_value,0), COALESCE(snapshot_data,''), recorded_at
			FROM portfolio_snapshots ORDER BY recorded_at DESC LIMIT ? OFFSET ?`, limit, offset)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var sn snapshotDTO
			if err := rows.Scan(&sn.ID, &sn.TotalValue, &sn.SnapshotData, &sn.RecordedAt); err != nil {
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

// handleCreateSnapshot values every open position at its last known
// ai_ratings.current_price and persists the total plus a per-ticker
// breakdown as the snapshot_data JSON blob.
func (s *Server) handleCreateSnapshot(w http.ResponseWriter, r *http.Request) {
	type line struct {
		Ticker   string  `json:"ticker"`
		Quantity float64 `json:"quantity"`
		Price    float64 `json:"price"`
		Value    float64 `json:"value"`
	}
	var lines []line
	var total float64

	err := s.store.Session(r.Context(), false, func(tx *store.Tx) error {
		rows, err := tx.QueryContext(r.Context(), `
			SELECT p.ticker, p.quantity, COALESCE(a.current_price, 0)
			FROM portfolio_positions p LEFT JOIN ai_ratings a ON a.ticker = p.ticker`)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var l line
			var price sql.NullFloat64
			if err := rows.Scan(&l.Ticker, &l.Quantity, &price); err != nil {
				return err
			}
			l.Price = price.Float64
			l.Value = l.Quantity * l.Price
			total += l.Value
			lines = append(lines, l)
		}
		return rows.Err()
	})
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	data, err := json.Marshal(lines)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	var id int64
	err = s.store.Session(r.Context(), true, func(tx *store.Tx) error {
		res, err := tx.ExecContext(r.Context(),
			"INSERT INTO portfolio_snapshots (total_value, snapshot_data) VALUES (?, ?)", total, string(data))
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
	s.writeJSON(w, http.StatusCreated, map[string]interface{}{"id": id, "total_value": total, "positions": lines})
}
