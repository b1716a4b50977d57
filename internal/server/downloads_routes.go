package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/tickerpulse/core/internal/store"
)

func (s *Server) routeDownloads(r chi.Router) {
	r.Get("/downloads", s.handleDownloadStats)
	r.Get("/downloads/daily", s.handleDownloadDaily)
}

type repoCloneDTO struct {
	Repo       string `json:"repo"`
	CloneCount int64  `json:"clone_count"`
	RecordedAt string `json:"recorded_at"`
}

// handleDownloadStats reports the most recent GitHub clone-count snapshot
// per tracked repo, per internal/jobs.DownloadTracker.
func (s *Server) handleDownloadStats(w http.ResponseWriter, r *http.Request) {
	var out []repoCloneDTO
	err := s.store.Session(r.Context(), false, func(tx *store.Tx) error {
		rows, err := tx.QueryContext(r.Context(), `
			SELECT repo, clone_count, recorded_at FROM download_stats d
			WHERE recorded_at = (SELECT MAX(recorded_at) FROM download_stats WHERE repo = d.repo)
			ORDER BY repo`)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var d repoCloneDTO
			if err := rows.Scan(&d.Repo, &d.CloneCount, &d.RecordedAt); err != nil {
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

type dailyCloneDTO struct {
	Repo       string `json:"repo"`
	LogDate    string `json:"log_date"`
	CloneCount int64  `json:"clone_count"`
}

func (s *Server) handleDownloadDaily(w http.ResponseWriter, r *http.Request) {
	repo := r.URL.Query().Get("repo")
	offset, limit := paginationParams(r, 0, 90)

	var out []dailyCloneDTO
	err := s.store.Session(r.Context(), false, func(tx *store.Tx) error {
		query := "SELECT repo, log_date, clone_count FROM download_daily"
		args := []interface{}{}
		if repo != "" {
			query += " WHERE repo = ?"
			args = append(args, repo)
		}
		query += " ORDER BY log_date DESC LIMIT ? OFFSET ?"
		args = append(args, limit, offset)

		rows, err := tx.QueryContext(r.Context(), query, args...)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var d dailyCloneDTO
			if err := rows.Scan(&d.Repo, &d.LogDate, &d.CloneCount); err != nil {
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
