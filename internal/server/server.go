// Package server implements TickerPulse's HTTP surface: the REST API under
// /api, the SSE event stream, and the WebSocket price feed. Routing and
// lifecycle are grounded on the teacher's internal/server/server.go (chi
// router, the same middleware stack, and the same Start/Shutdown shape);
// every handler package the teacher wired for its own domain (allocation,
// portfolio optimisation, trading, deployment, display) is replaced with
// TickerPulse's own dependencies.
package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/tickerpulse/core/internal/agents"
	"github.com/tickerpulse/core/internal/alerts"
	"github.com/tickerpulse/core/internal/broadcast"
	"github.com/tickerpulse/core/internal/jobs"
	"github.com/tickerpulse/core/internal/llm"
	"github.com/tickerpulse/core/internal/providers"
	"github.com/tickerpulse/core/internal/scheduler"
	"github.com/tickerpulse/core/internal/sentiment"
	"github.com/tickerpulse/core/internal/store"
)

// Config configures the HTTP server's own behavior (port, dev-mode toggles).
// It does not duplicate internal/config.Config; main.go maps the fields it
// needs across.
type Config struct {
	Port                        int
	DevMode                     bool
	WSMaxSubscriptionsPerClient int
	TrackedRepos                []TrackedRepo
}

// TrackedRepo names a GitHub repository the downloads endpoints report on.
type TrackedRepo struct {
	Owner string
	Name  string
}

// Server wires every TickerPulse component (store, providers, alerts,
// sentiment, broadcast, llm, scheduler, agents) to chi routes.
type Server struct {
	cfg    Config
	router *chi.Mux
	http   *http.Server
	log    zerolog.Logger

	store       *store.Store
	providers   *providers.Registry
	alerts      *alerts.Engine
	sentiment   *sentiment.Cache
	sse         *broadcast.SSEBroadcaster
	ws          *broadcast.WSBroadcaster
	llmFanout   *llm.Fanout
	scheduler   *scheduler.Scheduler
	agents      *agents.Registry
	rateLimiter *providers.RateLimitTracker

	errLimiter *ipRateLimiter
	latency    *latencyBuffer
}

// Deps bundles every component the server dispatches requests to.
type Deps struct {
	Store     *store.Store
	Providers *providers.Registry
	Alerts    *alerts.Engine
	Sentiment *sentiment.Cache
	SSE       *broadcast.SSEBroadcaster
	WS        *broadcast.WSBroadcaster
	LLMFanout *llm.Fanout
	Scheduler *scheduler.Scheduler
	Agents    *agents.Registry
}

// New builds a Server and installs its middleware and routes. It does not
// bind a socket until Start.
func New(cfg Config, deps Deps, log zerolog.Logger) *Server {
	s := &Server{
		cfg:        cfg,
		router:     chi.NewRouter(),
		log:        log.With().Str("component", "server").Logger(),
		store:      deps.Store,
		providers:  deps.Providers,
		alerts:     deps.Alerts,
		sentiment:  deps.Sentiment,
		sse:        deps.SSE,
		ws:         deps.WS,
		llmFanout:  deps.LLMFanout,
		scheduler:  deps.Scheduler,
		agents:     deps.Agents,
		errLimiter: newIPRateLimiter(10, time.Minute),
		latency:    newLatencyBuffer(),
	}
	s.rateLimiter = providers.NewRateLimitTracker(newRateLimitSSESink(s.sse, s.store, s.log))

	s.setupMiddleware()
	s.setupRoutes()

	s.http = &http.Server{
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0, // SSE/WS handlers stream indefinitely
	}
	return s
}

// setupMiddleware mirrors the teacher's stack: panic recovery, request ID,
// real IP, structured request logging, a timeout guard, and permissive CORS
// (the frontend talks to this API from an arbitrary dev/origin host).
func (s *Server) setupMiddleware() {
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.RequestID)
	s.router.Use(requestIDHeader)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.loggingMiddleware)
	s.router.Use(middleware.Timeout(60 * time.Second))
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	if !s.cfg.DevMode {
		s.router.Use(middleware.Compress(5))
	}
}

// setupRoutes registers every endpoint group under /api, plus the
// unauthenticated top-level health check the teacher also serves outside
// /api for load-balancer probes.
func (s *Server) setupRoutes() {
	s.router.Get("/health", s.handleHealthLive)

	s.router.Route("/api", func(r chi.Router) {
		s.routeHealth(r)
		s.routeStream(r)
		s.routeStocks(r)
		s.routeWatchlist(r)
		s.routeAlerts(r)
		s.routeAnalysis(r)
		s.routeCompare(r)
		s.routeAgents(r)
		s.routeScheduler(r)
		s.routeResearchBriefs(r)
		s.routeAIProviders(r)
		s.routeSentiment(r)
		s.routeEarnings(r)
		s.routePortfolio(r)
		s.routeDownloads(r)
		s.routeActivity(r)
		s.routeMetrics(r)
		s.routeErrors(r)
		s.routeState(r)
	})
}

// Start binds the configured port and serves until Shutdown closes the
// listener. ListenAndServe always returns a non-nil error; http.ErrServerClosed
// signals a clean Shutdown and is the caller's responsibility to ignore.
func (s *Server) Start() error {
	s.http.Addr = portAddr(s.cfg.Port)
	s.log.Info().Int("port", s.cfg.Port).Msg("starting HTTP server")
	return s.http.ListenAndServe()
}

// Shutdown gracefully drains in-flight requests, bounded by ctx.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("shutting down HTTP server")
	return s.http.Shutdown(ctx)
}

func portAddr(port int) string {
	return ":" + strconv.Itoa(port)
}

// requestIDHeader stamps every response with the request id chi's
// middleware.RequestID generated, per spec.md: "every response carries
// X-Request-ID".
func requestIDHeader(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Request-ID", middleware.GetReqID(r.Context()))
		next.ServeHTTP(w, r)
	})
}

// loggingMiddleware logs one structured line per request, grounded on the
// teacher's internal/server/server.go loggingMiddleware.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		duration := time.Since(start)
		s.log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Dur("duration_ms", duration).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("http request")
		s.latency.record(r.URL.Path, r.Method, statusClassOf(ww.Status()), float64(duration.Microseconds())/1000.0)
	})
}

// LatencyBuffer exposes the request-latency sample buffer so main.go can
// wire it into the metrics_snapshot job (it satisfies jobs.LatencyBuffer).
func (s *Server) LatencyBuffer() jobs.LatencyBuffer {
	return s.latency
}

// writeJSON encodes data as the response body with the given status code.
func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.log.Error().Err(err).Msg("failed to encode json response")
	}
}

// errorCodeForStatus maps an HTTP status to one of the spec's error_code
// taxonomy values when the caller doesn't supply a more specific one.
func errorCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "INVALID_INPUT"
	case http.StatusNotFound:
		return "NOT_FOUND"
	case http.StatusConflict:
		return "DUPLICATE_ENTRY"
	case http.StatusTooManyRequests:
		return "RATE_LIMIT_EXCEEDED"
	case http.StatusRequestEntityTooLarge:
		return "PAYLOAD_TOO_LARGE"
	case http.StatusBadGateway:
		return "PROVIDER_ERROR"
	case http.StatusServiceUnavailable:
		return "SERVICE_UNAVAILABLE"
	default:
		return "INTERNAL_ERROR"
	}
}

// writeError writes the spec's error envelope:
// {error, error_code, request_id, field_errors?}.
func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeErrorCode(w, status, errorCodeForStatus(status), msg, nil)
}

type fieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// writeErrorCode writes the error envelope with an explicit error_code and
// optional field-level validation errors.
func (s *Server) writeErrorCode(w http.ResponseWriter, status int, code, msg string, fieldErrors []fieldError) {
	body := map[string]interface{}{
		"error":      msg,
		"error_code": code,
		"request_id": w.Header().Get("X-Request-ID"),
	}
	if fieldErrors != nil {
		body["field_errors"] = fieldErrors
	}
	s.writeJSON(w, status, body)
}

// decodeJSON reads and decodes the request body into dst.
func decodeJSON(r *http.Request, dst interface{}) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(dst)
}
