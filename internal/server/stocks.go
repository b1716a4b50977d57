package server

import (
	"context"
	"database/sql"
	"encoding/csv"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/tickerpulse/core/internal/alerts"
	"github.com/tickerpulse/core/internal/store"
)

const (
	maxCSVImportBytes = 1 << 20 // 1 MiB
	maxCSVImportRows  = 500
)

func (s *Server) routeStocks(r chi.Router) {
	r.Get("/stocks", s.handleListStocks)
	r.Post("/stocks", s.handleCreateStock)
	r.Delete("/stocks/{ticker}", s.handleDeleteStock)
}

type stockRow struct {
	Ticker string `json:"ticker"`
	Name   string `json:"name"`
	Market string `json:"market"`
	Active bool   `json:"active"`
}

func (s *Server) handleListStocks(w http.ResponseWriter, r *http.Request) {
	var out []stockRow
	err := s.store.Session(r.Context(), false, func(tx *store.Tx) error {
		rows, err := tx.QueryContext(r.Context(), "SELECT ticker, name, market, active FROM stocks ORDER BY ticker")
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var row stockRow
			var active int
			var name sql.NullString
			if err := rows.Scan(&row.Ticker, &name, &row.Market, &active); err != nil {
				return err
			}
			row.Name = name.String
			row.Active = active != 0
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

func (s *Server) handleCreateStock(w http.ResponseWriter, r *http.Request) {
	var req stockRow
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	ticker := strings.ToUpper(strings.TrimSpace(req.Ticker))
	if !alerts.ValidTicker(ticker) {
		s.writeError(w, http.StatusBadRequest, "invalid ticker")
		return
	}
	if req.Market == "" {
		req.Market = "US"
	}

	err := s.store.Session(r.Context(), true, func(tx *store.Tx) error {
		_, err := tx.ExecContext(r.Context(), `
			INSERT INTO stocks (ticker, name, market, active) VALUES (?, ?, ?, 1)
			ON CONFLICT(ticker) DO UPDATE SET name = excluded.name, market = excluded.market, active = 1`,
			ticker, req.Name, req.Market)
		return err
	})
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusCreated, map[string]string{"ticker": ticker})
}

func (s *Server) handleDeleteStock(w http.ResponseWriter, r *http.Request) {
	ticker := strings.ToUpper(chi.URLParam(r, "ticker"))
	err := s.store.Session(r.Context(), true, func(tx *store.Tx) error {
		_, err := tx.ExecContext(r.Context(), "UPDATE stocks SET active = 0 WHERE ticker = ?", ticker)
		return err
	})
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- watchlists ---

func (s *Server) routeWatchlist(r chi.Router) {
	r.Get("/watchlists", s.handleListWatchlists)
	r.Post("/watchlists", s.handleCreateWatchlist)
	r.Put("/watchlists/{id}", s.handleRenameWatchlist)
	r.Delete("/watchlists/{id}", s.handleDeleteWatchlist)
	r.Post("/watchlists/{id}/stocks", s.handleAddWatchlistStock)
	r.Delete("/watchlists/{id}/stocks/{ticker}", s.handleRemoveWatchlistStock)
	r.Put("/watchlists/{id}/reorder", s.handleReorderWatchlist)
	r.Post("/watchlists/{id}/import", s.handleImportWatchlistCSV)
}

type watchlistDTO struct {
	ID      int64    `json:"id"`
	Name    string   `json:"name"`
	Tickers []string `json:"tickers"`
}

func (s *Server) handleListWatchlists(w http.ResponseWriter, r *http.Request) {
	var out []watchlistDTO
	err := s.store.Session(r.Context(), false, func(tx *store.Tx) error {
		rows, err := tx.QueryContext(r.Context(), "SELECT id, name FROM watchlists ORDER BY sort_order, id")
		if err != nil {
			return err
		}
		var lists []watchlistDTO
		for rows.Next() {
			var wl watchlistDTO
			if err := rows.Scan(&wl.ID, &wl.Name); err != nil {
				rows.Close()
				return err
			}
			lists = append(lists, wl)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}

		for i := range lists {
			tRows, err := tx.QueryContext(r.Context(),
				"SELECT ticker FROM watchlist_stocks WHERE watchlist_id = ? ORDER BY sort_order", lists[i].ID)
			if err != nil {
				return err
			}
			for tRows.Next() {
				var t string
				if err := tRows.Scan(&t); err != nil {
					tRows.Close()
					return err
				}
				lists[i].Tickers = append(lists[i].Tickers, t)
			}
			tRows.Close()
			if err := tRows.Err(); err != nil {
				return err
			}
		}
		out = lists
		return nil
	})
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleCreateWatchlist(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	if err := decodeJSON(r, &req); err != nil || strings.TrimSpace(req.Name) == "" {
		s.writeError(w, http.StatusBadRequest, "name is required")
		return
	}

	var id int64
	err := s.store.Session(r.Context(), true, func(tx *store.Tx) error {
		res, err := tx.ExecContext(r.Context(), "INSERT INTO watchlists (name) VALUES (?)", req.Name)
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

func (s *Server) handleRenameWatchlist(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid id")
		return
	}
	var req struct {
		Name string `json:"name"`
	}
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	err = s.store.Session(r.Context(), true, func(tx *store.Tx) error {
		_, err := tx.ExecContext(r.Context(), "UPDATE watchlists SET name = ? WHERE id = ?", req.Name, id)
		return err
	})
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDeleteWatchlist(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid id")
		return
	}
	err = s.store.Session(r.Context(), true, func(tx *store.Tx) error {
		if _, err := tx.ExecContext(r.Context(), "DELETE FROM watchlist_stocks WHERE watchlist_id = ?", id); err != nil {
			return err
		}
		_, err := tx.ExecContext(r.Context(), "DELETE FROM watchlists WHERE id = ?", id)
		return err
	})
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleAddWatchlistStock(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid id")
		return
	}
	var req struct {
		Ticker string `json:"ticker"`
	}
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	ticker := strings.ToUpper(strings.TrimSpace(req.Ticker))
	if !alerts.ValidTicker(ticker) {
		s.writeError(w, http.StatusBadRequest, "invalid ticker")
		return
	}

	err = addWatchlistTicker(r.Context(), s.store, id, ticker)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func addWatchlistTicker(ctx context.Context, st *store.Store, watchlistID int64, ticker string) error {
	return st.Session(ctx, true, func(tx *store.Tx) error {
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO stocks (ticker, active) VALUES (?, 1) ON CONFLICT(ticker) DO UPDATE SET active = 1", ticker); err != nil {
			return err
		}
		var maxOrder sql.NullInt64
		if err := tx.QueryRowContext(ctx,
			"SELECT MAX(sort_order) FROM watchlist_stocks WHERE watchlist_id = ?", watchlistID).Scan(&maxOrder); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO watchlist_stocks (watchlist_id, ticker, sort_order) VALUES (?, ?, ?)
			ON CONFLICT(watchlist_id, ticker) DO NOTHING`,
			watchlistID, ticker, maxOrder.Int64+1)
		return err
	})
}

func (s *Server) handleRemoveWatchlistStock(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid id")
		return
	}
	ticker := strings.ToUpper(chi.URLParam(r, "ticker"))
	err = s.store.Session(r.Context(), true, func(tx *store.Tx) error {
		_, err := tx.ExecContext(r.Context(),
			"DELETE FROM watchlist_stocks WHERE watchlist_id = ? AND ticker = ?", id, ticker)
		return err
	})
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleReorderWatchlist persists the frontend's drag-reorder result: the
// full ordered ticker list for one watchlist.
func (s *Server) handleReorderWatchlist(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid id")
		return
	}
	var req struct {
		Tickers []string `json:"tickers"`
	}
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	err = s.store.Session(r.Context(), true, func(tx *store.Tx) error {
		for i, ticker := range req.Tickers {
			if _, err := tx.ExecContext(r.Context(),
				"UPDATE watchlist_stocks SET sort_order = ? WHERE watchlist_id = ? AND ticker = ?",
				i, id, strings.ToUpper(ticker)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleImportWatchlistCSV bulk-adds tickers from an uploaded CSV, capped
// at 1 MiB and 500 data rows, matching a "symbol" column case-insensitively.
func (s *Server) handleImportWatchlistCSV(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid id")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxCSVImportBytes)
	reader := csv.NewReader(r.Body)
	header, err := reader.Read()
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "failed to read CSV header")
		return
	}

	symbolCol := -1
	for i, h := range header {
		if strings.EqualFold(strings.TrimSpace(h), "symbol") {
			symbolCol = i
			break
		}
	}
	if symbolCol == -1 {
		s.writeError(w, http.StatusBadRequest, "CSV must have a 'symbol' column")
		return
	}

	var imported, skipped int
	for row := 0; row < maxCSVImportRows; row++ {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			s.writeError(w, http.StatusBadRequest, "malformed CSV row")
			return
		}
		if symbolCol >= len(record) {
			skipped++
			continue
		}
		ticker := strings.ToUpper(strings.TrimSpace(record[symbolCol]))
		if !alerts.ValidTicker(ticker) {
			skipped++
			continue
		}
		if err := addWatchlistTicker(r.Context(), s.store, id, ticker); err != nil {
			s.writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		imported++
	}

	s.writeJSON(w, http.StatusOK, map[string]int{"imported": imported, "skipped": skipped})
}
