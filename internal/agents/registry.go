// Package agents implements TickerPulse's agent runtime: a registry of
// named analysis routines, each wrapped with agent_runs bookkeeping
// (status, token/cost accounting, duration) exactly as spec.md §4.L
// describes, generalized from the teacher's constructor-injected service
// pattern (internal/di.InitializeServices) to a single Run entrypoint.
package agents

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/tickerpulse/core/internal/store"
)

// Inputs is the argument bag passed to an agent function.
type Inputs map[string]interface{}

// Result is what an agent function produces. OutputData is serialized to
// JSON and stored in agent_runs.output_data.
type Result struct {
	OutputData   map[string]interface{}
	TokensInput  int
	TokensOutput int
	Model        string // used for cost estimation; empty means non-LLM agent, cost 0
}

// AgentFunc is the body of one registered agent.
type AgentFunc func(ctx context.Context, inputs Inputs) (Result, error)

// Registry holds the known agent functions and persists every run.
type Registry struct {
	store *store.Store
	log   zerolog.Logger
	funcs map[string]AgentFunc
}

func NewRegistry(st *store.Store, log zerolog.Logger) *Registry {
	return &Registry{
		store: st,
		log:   log.With().Str("component", "agent_registry").Logger(),
		funcs: make(map[string]AgentFunc),
	}
}

// Register adds an agent function under its real (non-stub) name.
func (r *Registry) Register(name string, fn AgentFunc) {
	r.funcs[name] = fn
}

// Run resolves agentName (accepting either a stub or real id), creates an
// agent_runs row with status "running", executes the agent, and updates
// the row on completion with status/output/tokens/cost/duration/error.
func (r *Registry) Run(ctx context.Context, agentName string, inputs Inputs) (Result, int64, error) {
	real := ResolveAgentName(agentName)
	fn, ok := r.funcs[real]
	if !ok {
		return Result{}, 0, fmt.Errorf("agents: unknown agent %q (resolved from %q)", real, agentName)
	}

	runID, err := r.startRun(ctx, real, inputs)
	if err != nil {
		return Result{}, 0, fmt.Errorf("agents: start run: %w", err)
	}

	start := time.Now()
	result, runErr := fn(ctx, inputs)
	duration := time.Since(start)

	if completeErr := r.completeRun(ctx, runID, result, runErr, duration); completeErr != nil {
		r.log.Warn().Err(completeErr).Str("agent", real).Int64("run_id", runID).Msg("failed to persist agent run completion")
	}

	return result, runID, runErr
}

func (r *Registry) startRun(ctx context.Context, agentName string, inputs Inputs) (int64, error) {
	inputJSON, err := json.Marshal(inputs)
	if err != nil {
		return 0, err
	}

	var runID int64
	err = r.store.Session(ctx, false, func(tx *store.Tx) error {
		res, err := tx.ExecContext(ctx,
			`INSERT INTO agent_runs (agent_name, status, input_data, started_at)
			 VALUES (?, 'running', ?, datetime('now'))`,
			agentName, string(inputJSON))
		if err != nil {
			return err
		}
		runID, err = res.LastInsertId()
		return err
	})
	return runID, err
}

func (r *Registry) completeRun(ctx context.Context, runID int64, result Result, runErr error, duration time.Duration) error {
	status := "completed"
	var errMsg interface{}
	if runErr != nil {
		status = "error"
		errMsg = runErr.Error()
	}

	outputJSON, err := json.Marshal(result.OutputData)
	if err != nil {
		outputJSON = []byte("{}")
	}

	cost := EstimateCost(result.Model, result.TokensInput, result.TokensOutput)

	return r.store.Session(ctx, false, func(tx *store.Tx) error {
		_, err := tx.ExecContext(ctx, `
			UPDATE agent_runs SET
				status = ?, output_data = ?, tokens_input = ?, tokens_output = ?,
				estimated_cost = ?, duration_ms = ?, error = ?, completed_at = datetime('now')
			WHERE id = ?`,
			status, string(outputJSON), result.TokensInput, result.TokensOutput,
			cost, duration.Milliseconds(), errMsg, runID)
		return err
	})
}
