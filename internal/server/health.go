package server

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
)

var serverStart = time.Now()

func (s *Server) routeHealth(r chi.Router) {
	r.Get("/health", s.handleHealthDetailed)
	r.Get("/health/ready", s.handleHealthReady)
	r.Get("/health/live", s.handleHealthLive)
	r.Get("/health/status", s.handleHealthStatus)
}

// handleHealthDetailed reports store connectivity and pool stats alongside
// uptime, for operator dashboards rather than load-balancer probes.
func (s *Server) handleHealthDetailed(w http.ResponseWriter, r *http.Request) {
	dbOK := true
	var dbErr string
	if err := s.store.DB().PingContext(r.Context()); err != nil {
		dbOK = false
		dbErr = err.Error()
	}

	status := "healthy"
	if !dbOK {
		status = "degraded"
	}

	resp := map[string]interface{}{
		"status":       status,
		"service":      "tickerpulse",
		"uptime_sec":   int(time.Since(serverStart).Seconds()),
		"db_connected": dbOK,
		"pool":         s.store.PoolStats(),
		"sse_clients":  s.sse.ClientCount(),
		"ws_clients":   s.ws.ClientCount(),
	}
	if dbErr != "" {
		resp["db_error"] = dbErr
	}
	s.writeJSON(w, http.StatusOK, resp)
}

// handleHealthReady returns 200 once the database is reachable, 503
// otherwise, for orchestrator readiness probes.
func (s *Server) handleHealthReady(w http.ResponseWriter, r *http.Request) {
	if err := s.store.DB().PingContext(r.Context()); err != nil {
		s.writeJSON(w, http.StatusServiceUnavailable, map[string]interface{}{"ready": false, "error": err.Error()})
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"ready": true})
}

// handleHealthLive always returns 200 once the process is serving requests
// at all, regardless of downstream dependency health.
func (s *Server) handleHealthLive(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"status": "alive"})
}

// handleHealthStatus is a minimal-payload variant meant for tight polling
// intervals from the frontend's connection indicator.
func (s *Server) handleHealthStatus(w http.ResponseWriter, r *http.Request) {
	dbOK := s.store.DB().PingContext(r.Context()) == nil
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"ok": dbOK})
}
