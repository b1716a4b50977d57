package server

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/tickerpulse/core/internal/llm"
	"github.com/tickerpulse/core/internal/store"
)

func (s *Server) routeAIProviders(r chi.Router) {
	r.Get("/ai-providers", s.handleListAIProviders)
	r.Post("/ai-providers", s.handleSaveAIProvider)
	r.Delete("/ai-providers/{name}", s.handleDeleteAIProvider)
	r.Post("/ai-providers/{name}/test", s.handleTestAIProvider)
	r.Post("/ai-compare", s.handleAICompareSync)
	r.Post("/comparisons", s.handleStartComparison)
	r.Get("/comparisons/{id}", s.handleGetComparison)
	r.Get("/comparisons", s.handleListComparisons)
}

// aiProviderConfig is stored as a JSON blob under settings key
// "ai_provider:<name>"; the API key is never echoed back on read.
type aiProviderConfig struct {
	Name    string `json:"name"`
	APIKey  string `json:"api_key,omitempty"`
	Model   string `json:"model"`
	Enabled bool   `json:"enabled"`
}

const settingsKeyPrefix = "ai_provider:"

func (s *Server) handleListAIProviders(w http.ResponseWriter, r *http.Request) {
	var out []aiProviderConfig
	err := s.store.Session(r.Context(), false, func(tx *store.Tx) error {
		rows, err := tx.QueryContext(r.Context(),
			"SELECT key, value FROM settings WHERE key LIKE ? ORDER BY key", settingsKeyPrefix+"%")
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var key, value string
			if err := rows.Scan(&key, &value); err != nil {
				return err
			}
			var cfg aiProviderConfig
			if err := json.Unmarshal([]byte(value), &cfg); err != nil {
				continue
			}
			cfg.APIKey = ""
			out = append(out, cfg)
		}
		return rows.Err()
	})
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleSaveAIProvider(w http.ResponseWriter, r *http.Request) {
	var cfg aiProviderConfig
	if err := decodeJSON(r, &cfg); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	cfg.Name = strings.ToLower(strings.TrimSpace(cfg.Name))
	if cfg.Name == "" {
		s.writeError(w, http.StatusBadRequest, "name is required")
		return
	}
	if _, err := llm.ProviderFactory(cfg.Name, "x", cfg.Model, s.log); err != nil {
		s.writeError(w, http.StatusBadRequest, "unknown provider")
		return
	}

	encoded, err := json.Marshal(cfg)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	err = s.store.Session(r.Context(), true, func(tx *store.Tx) error {
		_, err := tx.ExecContext(r.Context(),
			"INSERT INTO settings (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value",
			settingsKeyPrefix+cfg.Name, string(encoded))
		return err
	})
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	cfg.APIKey = ""
	s.writeJSON(w, http.StatusOK, cfg)
}

func (s *Server) handleDeleteAIProvider(w http.ResponseWriter, r *http.Request) {
	name := strings.ToLower(chi.URLParam(r, "name"))
	err := s.store.Session(r.Context(), true, func(tx *store.Tx) error {
		_, err := tx.ExecContext(r.Context(), "DELETE FROM settings WHERE key = ?", settingsKeyPrefix+name)
		return err
	})
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleTestAIProvider(w http.ResponseWriter, r *http.Request) {
	name := strings.ToLower(chi.URLParam(r, "name"))
	var cfg aiProviderConfig
	var raw string
	err := s.store.Session(r.Context(), false, func(tx *store.Tx) error {
		return tx.QueryRowContext(r.Context(), "SELECT value FROM settings WHERE key = ?", settingsKeyPrefix+name).Scan(&raw)
	})
	if err == sql.ErrNoRows {
		s.writeError(w, http.StatusNotFound, "provider not configured")
		return
	}
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if err := json.Unmarshal([]byte(raw), &cfg); err != nil {
		s.writeError(w, http.StatusInternalServerError, "corrupt provider config")
		return
	}

	provider, err := llm.ProviderFactory(name, cfg.APIKey, cfg.Model, s.log)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := provider.TestConnection(r.Context()); err != nil {
		s.writeJSON(w, http.StatusOK, map[string]interface{}{"ok": false, "error": err.Error()})
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"ok": true})
}

func (s *Server) handleAICompareSync(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Ticker   string `json:"ticker"`
		Prompt   string `json:"prompt"`
		Template string `json:"template"`
		Context  string `json:"context"`
	}
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	providers := s.loadEnabledLLMProviders(r.Context())
	if len(providers) == 0 {
		s.writeError(w, http.StatusBadRequest, "no AI providers configured")
		return
	}
	prompt := llm.BuildPrompt(req.Template, req.Ticker, req.Context, req.Prompt)
	results := s.llmFanout.Compare(r.Context(), req.Ticker, prompt, providers)
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"results": results})
}

func (s *Server) handleStartComparison(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Ticker   string `json:"ticker"`
		Prompt   string `json:"prompt"`
		Template string `json:"template"`
		Context  string `json:"context"`
	}
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	providers := s.loadEnabledLLMProviders(r.Context())
	if len(providers) == 0 {
		s.writeError(w, http.StatusBadRequest, "no AI providers configured")
		return
	}
	prompt := llm.BuildPrompt(req.Template, req.Ticker, req.Context, req.Prompt)
	runID, err := s.llmFanout.RunAsync(r.Context(), req.Ticker, prompt, req.Template, providers)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusAccepted, map[string]int64{"run_id": runID})
}

type comparisonResultDTO struct {
	ProviderName        string  `json:"provider_name"`
	Model                string  `json:"model"`
	Response             string  `json:"response"`
	LatencyMs            int64   `json:"latency_ms"`
	Error                string  `json:"error"`
	ExtractedRating      string  `json:"extracted_rating"`
	ExtractedScore       float64 `json:"extracted_score"`
	ExtractedConfidence  float64 `json:"extracted_confidence"`
	ExtractedSummary     string  `json:"extracted_summary"`
}

func (s *Server) handleGetComparison(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid id")
		return
	}

	var status, ticker, prompt string
	err = s.store.Session(r.Context(), false, func(tx *store.Tx) error {
		return tx.QueryRowContext(r.Context(), "SELECT status, COALESCE(ticker,''), COALESCE(prompt,'') FROM comparison_runs WHERE id = ?", id).
			Scan(&status, &ticker, &prompt)
	})
	if err == sql.ErrNoRows {
		s.writeError(w, http.StatusNotFound, "comparison run not found")
		return
	}
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	var results []comparisonResultDTO
	err = s.store.Session(r.Context(), false, func(tx *store.Tx) error {
		rows, err := tx.QueryContext(r.Context(), `
			SELECT provider_name, COALESCE(model,''), COALESCE(response,''), COALESCE(latency_ms,0),
			       COALESCE(error,''), COALESCE(extracted_rating,''), COALESCE(extracted_score,0),
			       COALESCE(extracted_confidence,0), COALESCE(extracted_summary,'')
			FROM comparison_results WHERE run_id = ?`, id)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var c comparisonResultDTO
			if err := rows.Scan(&c.ProviderName, &c.Model, &c.Response, &c.LatencyMs, &c.Error,
				&c.ExtractedRating, &c.ExtractedScore, &c.ExtractedConfidence, &c.ExtractedSummary); err != nil {
				return err
			}
			results = append(results, c)
		}
		return rows.Err()
	})
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"id": id, "status": status, "ticker": ticker, "prompt": prompt, "results": results,
	})
}

func (s *Server) handleListComparisons(w http.ResponseWriter, r *http.Request) {
	offset, limit := paginationParams(r, 0, 50)
	var out []map[string]interface{}
	err := s.store.Session(r.Context(), false, func(tx *store.Tx) error {
		rows, err := tx.QueryContext(r.Context(), `
			SELECT id, COALESCE(ticker,''), status, COALESCE(template,''), created_at
			FROM comparison_runs ORDER BY id DESC LIMIT ? OFFSET ?`, limit, offset)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var id int64
			var ticker, status, template, createdAt string
			if err := rows.Scan(&id, &ticker, &status, &template, &createdAt); err != nil {
				return err
			}
			out = append(out, map[string]interface{}{
				"id": id, "ticker": ticker, "status": status, "template": template, "created_at": createdAt,
			})
		}
		return rows.Err()
	})
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, out)
}

// loadEnabledLLMProviders reads every enabled ai_provider:* settings row and
// constructs a live llm.Provider for each, skipping any that fail to build.
func (s *Server) loadEnabledLLMProviders(ctx context.Context) []llm.Provider {
	var configs []aiProviderConfig
	err := s.store.Session(ctx, false, func(tx *store.Tx) error {
		rows, err := tx.QueryContext(ctx,
			"SELECT value FROM settings WHERE key LIKE ?", settingsKeyPrefix+"%")
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var raw string
			if err := rows.Scan(&raw); err != nil {
				return err
			}
			var cfg aiProviderConfig
			if err := json.Unmarshal([]byte(raw), &cfg); err != nil {
				continue
			}
			if cfg.Enabled {
				configs = append(configs, cfg)
			}
		}
		return rows.Err()
	})
	if err != nil {
		s.log.Warn().Err(err).Msg("failed to load AI provider configs")
		return nil
	}

	out := make([]llm.Provider, 0, len(configs))
	for _, cfg := range configs {
		provider, err := llm.ProviderFactory(cfg.Name, cfg.APIKey, cfg.Model, s.log)
		if err != nil {
			s.log.Warn().Err(err).Str("provider", cfg.Name).Msg("skipping misconfigured AI provider")
			continue
		}
		out = append(out, provider)
	}
	return out
}
