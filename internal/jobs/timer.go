// Package jobs implements the eleven periodic jobs the scheduler drives,
// sharing a common jobTimer wrapper for history + metrics persistence.
package jobs

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/tickerpulse/core/internal/broadcast"
	"github.com/tickerpulse/core/internal/store"
)

const maxResultSummaryLen = 5000

// Outcome is what a job function reports back to the Timer wrapper.
type Outcome struct {
	Status        string // success | error | skipped
	ResultSummary string
	AgentName     string
	Cost          float64
}

// JobFn is the body of one job run; it returns its own Outcome rather than
// raising since "skipped" is a first-class status, not a failure.
type JobFn func(ctx context.Context) (Outcome, error)

// Timer wraps job execution with the shared history/metrics/SSE plumbing
// described in spec.md §4.K, grounded on
// internal/reliability/maintenance_jobs.go's start-time + step log +
// duration-logged Run() shape, generalized from a single hardcoded job body
// to any JobFn.
type Timer struct {
	store *store.Store
	sse   *broadcast.SSEBroadcaster
	log   zerolog.Logger
}

// NewTimer builds a Timer. sse may be nil (e.g. in tests) to skip broadcasting.
func NewTimer(st *store.Store, sse *broadcast.SSEBroadcaster, log zerolog.Logger) *Timer {
	return &Timer{store: st, sse: sse, log: log.With().Str("component", "job_timer").Logger()}
}

// Run executes fn, always persisting a job_history row and three
// performance_metrics points (duration_ms, cost_usd, success), then emits a
// job_completed SSE event. A panic-free error from fn flips the persisted
// status to "error" and captures the message as the result summary.
func (t *Timer) Run(ctx context.Context, id, name string, fn JobFn) error {
	start := time.Now().UTC()
	outcome, err := fn(ctx)
	duration := time.Since(start)

	if err != nil {
		outcome.Status = "error"
		outcome.ResultSummary = err.Error()
	}
	if outcome.Status == "" {
		outcome.Status = "success"
	}
	if len(outcome.ResultSummary) > maxResultSummaryLen {
		outcome.ResultSummary = outcome.ResultSummary[:maxResultSummaryLen]
	}

	if persistErr := t.persist(ctx, id, name, outcome, duration); persistErr != nil {
		t.log.Warn().Err(persistErr).Str("job", id).Msg("failed to persist job history")
	}

	if t.sse != nil {
		broadcastErr := t.sse.SendEvent(broadcast.EventJobCompleted, map[string]interface{}{
			"job_id":      id,
			"job_name":    name,
			"status":      outcome.Status,
			"duration_ms": duration.Milliseconds(),
		})
		if broadcastErr != nil {
			t.log.Warn().Err(broadcastErr).Str("job", id).Msg("failed to broadcast job_completed")
		}
	}

	t.log.Info().Str("job", id).Str("status", outcome.Status).Dur("duration", duration).Msg("job finished")
	return err
}

func (t *Timer) persist(ctx context.Context, id, name string, outcome Outcome, duration time.Duration) error {
	return t.store.Session(ctx, false, func(tx *store.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO job_history (job_id, job_name, status, result_summary, agent_name, duration_ms, cost)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			id, name, outcome.Status, outcome.ResultSummary, nullIfEmptyString(outcome.AgentName),
			duration.Milliseconds(), outcome.Cost); err != nil {
			return err
		}

		successVal := 0.0
		if outcome.Status == "success" {
			successVal = 1.0
		}
		points := []struct {
			metric string
			value  float64
		}{
			{"duration_ms", float64(duration.Milliseconds())},
			{"cost_usd", outcome.Cost},
			{"success", successVal},
		}
		for _, p := range points {
			if _, err := tx.ExecContext(ctx,
				"INSERT INTO performance_metrics (job_id, metric, value) VALUES (?, ?, ?)",
				id, p.metric, p.value); err != nil {
				return err
			}
		}
		return nil
	})
}

func nullIfEmptyString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
