package server

import (
	"archive/zip"
	"context"
	"database/sql"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/tickerpulse/core/internal/store"
)

func (s *Server) routeResearchBriefs(r chi.Router) {
	r.Get("/research-briefs", s.handleListBriefs)
	r.Post("/research-briefs", s.handleCreateBrief)
	r.Get("/research-briefs/{id}", s.handleGetBrief)
	r.Get("/research-briefs/export", s.handleExportBriefs)
}

type researchBriefDTO struct {
	ID        int64  `json:"id"`
	Ticker    string `json:"ticker"`
	Title     string `json:"title"`
	Content   string `json:"content"`
	AgentName string `json:"agent_name"`
	CreatedAt string `json:"created_at"`
}

func (s *Server) handleListBriefs(w http.ResponseWriter, r *http.Request) {
	offset, limit := paginationParams(r, 0, 50)
	ticker := strings.ToUpper(strings.TrimSpace(r.URL.Query().Get("ticker")))

	briefs, err := s.queryBriefs(r.Context(), ticker, nil, offset, limit)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, briefs)
}

// queryBriefs loads research_briefs rows, optionally filtered by ticker
// and/or a fixed id set (used by batch export), newest first. offset/limit
// <= 0 disables pagination (used by export, which wants the full match set).
func (s *Server) queryBriefs(ctx context.Context, ticker string, ids []int64, offset, limit int) ([]researchBriefDTO, error) {
	var out []researchBriefDTO
	err := s.store.Session(ctx, false, func(tx *store.Tx) error {
		query := `SELECT id, ticker, title, content, COALESCE(agent_name,''), created_at FROM research_briefs WHERE 1=1`
		var args []interface{}
		if ticker != "" {
			query += " AND ticker = ?"
			args = append(args, ticker)
		}
		if len(ids) > 0 {
			placeholders := make([]string, len(ids))
			for i, id := range ids {
				placeholders[i] = "?"
				args = append(args, id)
			}
			query += " AND id IN (" + strings.Join(placeholders, ",") + ")"
		}
		query += " ORDER BY created_at DESC, id DESC"
		if limit > 0 {
			query += " LIMIT ? OFFSET ?"
			args = append(args, limit, offset)
		}

		rows, err := tx.QueryContext(ctx, query, args...)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var b researchBriefDTO
			if err := rows.Scan(&b.ID, &b.Ticker, &b.Title, &b.Content, &b.AgentName, &b.CreatedAt); err != nil {
				return err
			}
			out = append(out, b)
		}
		return rows.Err()
	})
	return out, err
}

func (s *Server) handleGetBrief(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid id")
		return
	}
	var brief researchBriefDTO
	var agentName sql.NullString
	err = s.store.Session(r.Context(), false, func(tx *store.Tx) error {
		return tx.QueryRowContext(r.Context(), `
			SELECT id, ticker, title, content, agent_name, created_at
			FROM research_briefs WHERE id = ?`, id).
			Scan(&brief.ID, &brief.Ticker, &brief.Title, &brief.Content, &agentName, &brief.CreatedAt)
	})
	if err == sql.ErrNoRows {
		s.writeError(w, http.StatusNotFound, "research brief not found")
		return
	}
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	brief.AgentName = agentName.String
	s.writeJSON(w, http.StatusOK, brief)
}

func (s *Server) handleCreateBrief(w http.ResponseWriter, r *http.Request) {
	var req researchBriefDTO
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req.Ticker = strings.ToUpper(strings.TrimSpace(req.Ticker))
	if req.Ticker == "" || strings.TrimSpace(req.Title) == "" {
		s.writeError(w, http.StatusBadRequest, "ticker and title are required")
		return
	}

	var id int64
	err := s.store.Session(r.Context(), true, func(tx *store.Tx) error {
		res, err := tx.ExecContext(r.Context(), `
			INSERT INTO research_briefs (ticker, title, content, agent_name) VALUES (?, ?, ?, ?)`,
			req.Ticker, req.Title, req.Content, nullIfEmpty(req.AgentName))
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

func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// batchExportFormats lists the export formats spec.md names for research
// briefs. PDF has no grounding library anywhere in the example corpus, so
// it is intentionally unimplemented rather than fabricated (see DESIGN.md).
var batchExportFormats = map[string]bool{"zip": true, "csv": true, "md": true, "json": true}

func (s *Server) handleExportBriefs(w http.ResponseWriter, r *http.Request) {
	format := strings.ToLower(r.URL.Query().Get("format"))
	if format == "pdf" {
		s.writeErrorCode(w, http.StatusNotImplemented, "NOT_IMPLEMENTED", "pdf export is not implemented", nil)
		return
	}
	if !batchExportFormats[format] {
		s.writeError(w, http.StatusBadRequest, "unsupported format")
		return
	}

	var idFilter []int64
	if raw := r.URL.Query().Get("ids"); raw != "" {
		for _, part := range strings.Split(raw, ",") {
			id, err := strconv.ParseInt(strings.TrimSpace(part), 10, 64)
			if err == nil {
				idFilter = append(idFilter, id)
			}
		}
	}
	ticker := strings.ToUpper(strings.TrimSpace(r.URL.Query().Get("ticker")))

	briefs, err := s.loadBriefsForExport(r.Context(), ticker, idFilter)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if len(briefs) == 0 {
		s.writeError(w, http.StatusNotFound, "no research briefs matched")
		return
	}

	switch format {
	case "json":
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Content-Disposition", `attachment; filename="research_briefs.json"`)
		_ = json.NewEncoder(w).Encode(briefs)
	case "csv":
		w.Header().Set("Content-Type", "text/csv")
		w.Header().Set("Content-Disposition", `attachment; filename="research_briefs.csv"`)
		writer := csv.NewWriter(w)
		_ = writer.Write([]string{"id", "ticker", "title", "content", "agent_name", "created_at"})
		for _, b := range briefs {
			_ = writer.Write([]string{
				strconv.FormatInt(b.ID, 10), b.Ticker, b.Title, b.Content, b.AgentName, b.CreatedAt,
			})
		}
		writer.Flush()
	case "md":
		w.Header().Set("Content-Type", "text/markdown")
		w.Header().Set("Content-Disposition", `attachment; filename="research_briefs.md"`)
		for _, b := range briefs {
			fmt.Fprintf(w, "# %s (%s)\n\n_%s — %s_\n\n%s\n\n---\n\n", b.Title, b.Ticker, b.AgentName, b.CreatedAt, b.Content)
		}
	case "zip":
		w.Header().Set("Content-Type", "application/zip")
		w.Header().Set("Content-Disposition", `attachment; filename="research_briefs.zip"`)
		zw := zip.NewWriter(w)
		for _, b := range briefs {
			name := fmt.Sprintf("%s_%d.md", b.Ticker, b.ID)
			f, err := zw.Create(name)
			if err != nil {
				continue
			}
			fmt.Fprintf(f, "# %s (%s)\n\n_%s — %s_\n\n%s\n", b.Title, b.Ticker, b.AgentName, b.CreatedAt, b.Content)
		}
		_ = zw.Close()
	}
}

func (s *Server) loadBriefsForExport(ctx context.Context, ticker string, ids []int64) ([]researchBriefDTO, error) {
	return s.queryBriefs(ctx, ticker, ids, 0, 0)
}
