// Package main is the entry point for TickerPulse's core service: it loads
// configuration, opens the embedded store, wires every subsystem (market
// data providers, sentiment, alerts, LLM fan-out, broadcast, the agent
// registry, and the job scheduler), starts the HTTP/SSE/WS server, and
// blocks until SIGINT/SIGTERM triggers a graceful shutdown.
package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/go-github/v57/github"
	"github.com/rs/zerolog"
	"golang.org/x/oauth2"

	"github.com/tickerpulse/core/internal/agents"
	"github.com/tickerpulse/core/internal/alerts"
	"github.com/tickerpulse/core/internal/broadcast"
	"github.com/tickerpulse/core/internal/clock"
	"github.com/tickerpulse/core/internal/config"
	"github.com/tickerpulse/core/internal/jobs"
	"github.com/tickerpulse/core/internal/llm"
	"github.com/tickerpulse/core/internal/providers"
	"github.com/tickerpulse/core/internal/reliability"
	"github.com/tickerpulse/core/internal/scheduler"
	"github.com/tickerpulse/core/internal/sentiment"
	"github.com/tickerpulse/core/internal/server"
	"github.com/tickerpulse/core/internal/store"
	"github.com/tickerpulse/core/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("config: " + err.Error())
	}

	log := logger.New(logger.Config{Level: cfg.LogLevel, Pretty: !cfg.LogFormatJSON})
	log.Info().Msg("starting tickerpulse")

	st, err := store.Open(store.Config{
		Path:          cfg.DBPath,
		PoolSize:      cfg.DBPoolSize,
		AcquireTimeout: time.Duration(cfg.DBPoolTimeoutSec) * time.Second,
		BusyTimeoutMs: cfg.DBBusyTimeoutMs,
		CacheSizeKB:   cfg.DBCacheSizeKB,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open store")
	}
	defer st.Close()

	if err := cfg.UpdateFromSettings(st); err != nil {
		log.Warn().Err(err).Msg("failed to overlay settings-db config")
	}

	providerRegistry := buildProviderRegistry(cfg, log)
	sentimentCache := sentiment.New(st, sentiment.NewHTTPStockTwitsClient(log), log)
	llmFanout := llm.NewFanout(st, log)
	agentRegistry := agents.NewRegistry(st, log)

	sse := broadcast.NewSSEBroadcaster(newSnapshotFunc(st), log)
	ws := broadcast.NewWSBroadcaster(cfg.WSMaxSubscriptionsPerClient, log)

	alertEngine := alerts.New(st, server.NewStorePriceLookup(st), server.NewSSEEventEmitter(sse), log)

	registerAgents(agentRegistry, providerRegistry, cfg, log)

	jobScheduler := scheduler.New(st, log)
	trackedRepos := defaultTrackedRepos()

	srv := server.New(server.Config{
		Port:                        cfg.Port,
		WSMaxSubscriptionsPerClient: cfg.WSMaxSubscriptionsPerClient,
		TrackedRepos:                toServerTrackedRepos(trackedRepos),
	}, server.Deps{
		Store:     st,
		Providers: providerRegistry,
		Alerts:    alertEngine,
		Sentiment: sentimentCache,
		SSE:       sse,
		WS:        ws,
		LLMFanout: llmFanout,
		Scheduler: jobScheduler,
		Agents:    agentRegistry,
	}, log)

	timer := jobs.NewTimer(st, sse, log)
	if err := registerJobs(jobScheduler, timer, st, providerRegistry, agentRegistry, sentimentCache,
		sse, ws, alertEngine, cfg, trackedRepos, srv.LatencyBuffer(), log); err != nil {
		log.Fatal().Err(err).Msg("failed to register jobs")
	}

	if err := registerReliabilityJobs(jobScheduler, st, cfg, log); err != nil {
		log.Fatal().Err(err).Msg("failed to register reliability jobs")
	}

	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("http server failed")
		}
	}()

	schedCtx, schedCancel := context.WithCancel(context.Background())
	defer schedCancel()
	if err := jobScheduler.StartAll(schedCtx); err != nil {
		log.Error().Err(err).Msg("failed to start scheduler")
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down")
	schedCancel()
	jobScheduler.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}
	log.Info().Msg("stopped")
}

// buildProviderRegistry wires every configured data provider into a chain,
// priority-ordered the way spec.md's provider fallback chain expects:
// keyed real-time vendors first, then the no-key Yahoo fallback last.
func buildProviderRegistry(cfg *config.Config, log zerolog.Logger) *providers.Registry {
	var chain []providers.Provider
	if cfg.FinnhubAPIKey != "" {
		chain = append(chain, providers.NewFinnhubProvider(cfg.FinnhubAPIKey, log))
	}
	if cfg.PolygonAPIKey != "" {
		chain = append(chain, providers.NewPolygonProvider(cfg.PolygonAPIKey, log))
	}
	if cfg.AlphaVantageKey != "" {
		chain = append(chain, providers.NewAlphaVantageProvider(cfg.AlphaVantageKey, log))
	}
	chain = append(chain, providers.NewYFinanceProvider(log))

	return providers.NewRegistry(chain, nil, log)
}

// registerAgents wires the five named agents the job library invokes by
// name (morning_briefing, daily_summary, weekly_review, regime, scanner).
// The three narrative agents share whatever LLM provider is configured
// with the highest priority (anthropic > openai > gemini > grok); if none
// is configured, they are left unregistered and their jobs report an
// agent-run error, which is the spec's stated degraded behavior for a
// misconfigured deployment rather than a silent no-op.
func registerAgents(reg *agents.Registry, providerRegistry *providers.Registry, cfg *config.Config, log zerolog.Logger) {
	if provider := defaultLLMProvider(cfg, log); provider != nil {
		narrative := agents.NewNarrativeAgent(provider)
		reg.Register("morning_briefing", narrative)
		reg.Register("daily_summary", narrative)
		reg.Register("weekly_review", narrative)
	}
	reg.Register("regime", agents.NewRegimeAgent(providerRegistry, "SPY"))
	reg.Register("scanner", agents.NewScannerAgent(providerRegistry))
}

// defaultLLMProvider picks the first configured vendor in priority order
// for the narrative agents, which need exactly one provider each.
func defaultLLMProvider(cfg *config.Config, log zerolog.Logger) llm.Provider {
	candidates := []struct {
		name, key, model string
	}{
		{"anthropic", cfg.AnthropicAPIKey, "claude-3-5-sonnet-20241022"},
		{"openai", cfg.OpenAIAPIKey, "gpt-4o"},
		{"gemini", cfg.GoogleAIKey, "gemini-1.5-pro"},
		{"grok", cfg.XAIAPIKey, "grok-2"},
	}
	for _, c := range candidates {
		if c.key == "" {
			continue
		}
		provider, err := llm.ProviderFactory(c.name, c.key, c.model, log)
		if err != nil {
			log.Warn().Err(err).Str("provider", c.name).Msg("failed to construct llm provider")
			continue
		}
		return provider
	}
	return nil
}

func defaultTrackedRepos() []jobs.TrackedRepo {
	return []jobs.TrackedRepo{
		{Owner: "tickerpulse", Name: "core"},
	}
}

func toServerTrackedRepos(repos []jobs.TrackedRepo) []server.TrackedRepo {
	out := make([]server.TrackedRepo, len(repos))
	for i, r := range repos {
		out[i] = server.TrackedRepo{Owner: r.Owner, Name: r.Name}
	}
	return out
}

func clockMarket() clock.Market {
	return clock.US
}

// newSnapshotFunc builds the SSE broadcaster's snapshot payload: active
// alerts, the last regime_check result, and the last technical_monitor
// result, per spec.md's stream-connect snapshot description.
func newSnapshotFunc(st *store.Store) broadcast.SnapshotFunc {
	return func() (map[string]interface{}, error) {
		snapshot := map[string]interface{}{}
		err := st.Session(context.Background(), false, func(tx *store.Tx) error {
			rows, err := tx.QueryContext(context.Background(), `
				SELECT ticker, condition_type, threshold FROM price_alerts WHERE enabled = 1`)
			if err != nil {
				return err
			}
			var alerts []map[string]interface{}
			for rows.Next() {
				var ticker, condType string
				var threshold float64
				if err := rows.Scan(&ticker, &condType, &threshold); err != nil {
					rows.Close()
					return err
				}
				alerts = append(alerts, map[string]interface{}{
					"ticker": ticker, "condition_type": condType, "threshold": threshold,
				})
			}
			rows.Close()
			if err := rows.Err(); err != nil {
				return err
			}
			snapshot["active_alerts"] = alerts

			var regimeSummary sql.NullString
			if err := tx.QueryRowContext(context.Background(), `
				SELECT result_summary FROM job_history WHERE job_id = 'regime_check'
				ORDER BY executed_at DESC LIMIT 1`).Scan(&regimeSummary); err == nil && regimeSummary.Valid {
				snapshot["last_regime"] = regimeSummary.String
			}

			var technicalSummary sql.NullString
			if err := tx.QueryRowContext(context.Background(), `
				SELECT result_summary FROM job_history WHERE job_id = 'technical_monitor'
				ORDER BY executed_at DESC LIMIT 1`).Scan(&technicalSummary); err == nil && technicalSummary.Valid {
				snapshot["last_technical_signals"] = technicalSummary.String
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
		snapshot["timestamp"] = time.Now().UTC().Format(time.RFC3339)
		return snapshot, nil
	}
}

func newGitHubClient(ctx context.Context, token string) *github.Client {
	if token == "" {
		return github.NewClient(nil)
	}
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
	tc := oauth2.NewClient(ctx, ts)
	return github.NewClient(tc)
}

// registerJobs wires and registers all eleven jobs from spec.md §4.K,
// wrapping each job's Run(ctx) (Outcome, error) through the shared Timer
// so every fire persists job_history + performance_metrics regardless of
// which job ran.
func registerJobs(sched *scheduler.Scheduler, timer *jobs.Timer, st *store.Store,
	providerRegistry *providers.Registry, agentRegistry *agents.Registry, sentimentCache *sentiment.Cache,
	sse *broadcast.SSEBroadcaster, ws *broadcast.WSBroadcaster, alertEngine *alerts.Engine,
	cfg *config.Config, trackedRepos []jobs.TrackedRepo, latencyBuffer jobs.LatencyBuffer, log zerolog.Logger) error {

	wrap := func(id, name string, fn jobs.JobFn) scheduler.JobFunc {
		return func(ctx context.Context) error {
			return timer.Run(ctx, id, name, fn)
		}
	}

	priceRefresher := jobs.NewPriceRefresher(st, providerRegistry, sse, ws, alertEngine, log)
	if err := sched.Register("price_refresh", "price_refresh", "Refresh quotes and evaluate alerts",
		wrap("price_refresh", "price_refresh", priceRefresher.Run),
		scheduler.Trigger{Type: scheduler.TriggerInterval, IntervalSeconds: cfg.PriceRefreshIntervalSeconds}); err != nil {
		return err
	}

	technicalMonitor := jobs.NewTechnicalMonitor(st, agentRegistry, sse, clockMarket(), log)
	if err := sched.Register("technical_monitor", "technical_monitor", "Scan watchlist RSI signals",
		wrap("technical_monitor", "technical_monitor", technicalMonitor.Run),
		scheduler.Trigger{Type: scheduler.TriggerInterval, IntervalSeconds: 900}); err != nil {
		return err
	}

	regimeCheck := jobs.NewRegimeCheck(st, agentRegistry, clockMarket(), log)
	if err := sched.Register("regime_check", "regime_check", "Classify overall market regime",
		wrap("regime_check", "regime_check", regimeCheck.Run),
		scheduler.Trigger{Type: scheduler.TriggerInterval, IntervalSeconds: 7200}); err != nil {
		return err
	}

	earningsSync := jobs.NewEarningsSync(st, providerRegistry, log)
	if err := sched.Register("earnings_sync", "earnings_sync", "Sync earnings calendar",
		wrap("earnings_sync", "earnings_sync", earningsSync.Run),
		scheduler.Trigger{Type: scheduler.TriggerCron, Cron: scheduler.CronFields{Hour: "6", Minute: "0"}}); err != nil {
		return err
	}

	metricsSnapshot := jobs.NewMetricsSnapshot(st, latencyBuffer, log)
	if err := sched.Register("metrics_snapshot", "metrics_snapshot", "Capture system + API metrics",
		wrap("metrics_snapshot", "metrics_snapshot", metricsSnapshot.Run),
		scheduler.Trigger{Type: scheduler.TriggerInterval, IntervalSeconds: 300}); err != nil {
		return err
	}

	morningBriefing := jobs.NewMorningBriefing(st, agentRegistry, sse, log)
	if err := sched.Register("morning_briefing", "morning_briefing", "Compose pre-market briefing",
		wrap("morning_briefing", "morning_briefing", morningBriefing.Run),
		scheduler.Trigger{Type: scheduler.TriggerCron, Cron: scheduler.CronFields{Hour: "8", Minute: "30", DayOfWeek: "mon-fri"}}); err != nil {
		return err
	}

	dailySummary := jobs.NewDailySummary(st, agentRegistry, sse, log)
	if err := sched.Register("daily_summary", "daily_summary", "Compose daily close summary",
		wrap("daily_summary", "daily_summary", dailySummary.Run),
		scheduler.Trigger{Type: scheduler.TriggerCron, Cron: scheduler.CronFields{Hour: "16", Minute: "30", DayOfWeek: "mon-fri"}}); err != nil {
		return err
	}

	weeklyReview := jobs.NewWeeklyReview(st, agentRegistry, sse, log)
	if err := sched.Register("weekly_review", "weekly_review", "Compose weekly review",
		wrap("weekly_review", "weekly_review", weeklyReview.Run),
		scheduler.Trigger{Type: scheduler.TriggerCron, Cron: scheduler.CronFields{Hour: "20", Minute: "0", DayOfWeek: "sun"}}); err != nil {
		return err
	}

	redditScanner := jobs.NewRedditScanner(st, sentimentCache, sse, log)
	if err := sched.Register("reddit_scanner", "reddit_scanner", "Flag trending watchlist tickers",
		wrap("reddit_scanner", "reddit_scanner", redditScanner.Run),
		scheduler.Trigger{Type: scheduler.TriggerInterval, IntervalSeconds: 3600}); err != nil {
		return err
	}

	ghClient := newGitHubClient(context.Background(), cfg.GitHubToken)
	downloadTracker := jobs.NewDownloadTracker(st, ghClient, trackedRepos, log)
	if err := sched.Register("download_tracker", "download_tracker", "Record GitHub clone stats",
		wrap("download_tracker", "download_tracker", downloadTracker.Run),
		scheduler.Trigger{Type: scheduler.TriggerCron, Cron: scheduler.CronFields{Hour: "9", Minute: "0"}}); err != nil {
		return err
	}

	portfolioSnapshot := jobs.NewPortfolioSnapshot(st, log)
	if err := sched.Register("portfolio_snapshot", "portfolio_snapshot", "Snapshot portfolio value",
		wrap("portfolio_snapshot", "portfolio_snapshot", portfolioSnapshot.Run),
		scheduler.Trigger{Type: scheduler.TriggerCron, Cron: scheduler.CronFields{Hour: "17", Minute: "0", DayOfWeek: "mon-fri"}}); err != nil {
		return err
	}

	return nil
}

// registerReliabilityJobs wires the off-box backup and database maintenance
// tasks (DOMAIN STACK supplement, not among spec.md's eleven named jobs) onto
// the same scheduler, as plain scheduler.JobFunc with no Timer wrapping since
// neither writes job_history/performance_metrics rows.
func registerReliabilityJobs(sched *scheduler.Scheduler, st *store.Store, cfg *config.Config, log zerolog.Logger) error {
	backupSvc, err := reliability.NewBackupService(reliability.BackupConfig{
		Bucket:          cfg.BackupBucket,
		Endpoint:        cfg.BackupEndpoint,
		Region:          cfg.BackupRegion,
		AccessKeyID:     cfg.BackupAccessKeyID,
		SecretAccessKey: cfg.BackupSecretAccessKey,
	}, cfg.DBPath, log)
	if err != nil {
		return fmt.Errorf("build backup service: %w", err)
	}

	if err := sched.Register("s3_backup", "s3_backup", "Archive and upload the store file",
		backupSvc.Run,
		scheduler.Trigger{Type: scheduler.TriggerCron, Cron: scheduler.CronFields{Hour: "2", Minute: "0"}}); err != nil {
		return err
	}

	maintenance := reliability.NewMaintenanceService(st, log)
	if err := sched.Register("db_maintenance_daily", "db_maintenance_daily", "WAL checkpoint and disk-space check",
		maintenance.RunDaily,
		scheduler.Trigger{Type: scheduler.TriggerCron, Cron: scheduler.CronFields{Hour: "3", Minute: "0"}}); err != nil {
		return err
	}
	return sched.Register("db_maintenance_weekly", "db_maintenance_weekly", "VACUUM the store",
		maintenance.RunWeekly,
		scheduler.Trigger{Type: scheduler.TriggerCron, Cron: scheduler.CronFields{Hour: "3", Minute: "30", DayOfWeek: "sun"}})
}
