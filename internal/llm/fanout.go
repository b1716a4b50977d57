package llm

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/tickerpulse/core/internal/store"
)

const (
	perCallDeadline  = 30 * time.Second
	syncGroupTimeout = 35 * time.Second
	asyncDeadline    = 120 * time.Second
)

// Result is one provider's outcome from a compare fan-out.
type Result struct {
	Provider   string
	Model      string
	Rating     Rating
	Score      float64
	Confidence float64
	Summary    string
	DurationMs int64
	Error      string
}

// Templates prepend a role + stock-context string ahead of the user's
// prompt; "custom" passes the prompt through unchanged.
const (
	TemplateCustom        = "custom"
	TemplateBullBearThesis = "bull_bear_thesis"
	TemplateRiskSummary   = "risk_summary"
	TemplatePriceTarget   = "price_target"
)

// BuildPrompt expands template over ticker + context into the final prompt
// text sent to every provider.
func BuildPrompt(template, ticker, context, userPrompt string) string {
	switch template {
	case TemplateBullBearThesis:
		return fmt.Sprintf("You are an equity analyst. For %s given this context:\n%s\nWrite a bull case and a bear case, then give a rating.", ticker, context)
	case TemplateRiskSummary:
		return fmt.Sprintf("You are a risk analyst. For %s given this context:\n%s\nSummarize the key risks, then give a rating.", ticker, context)
	case TemplatePriceTarget:
		return fmt.Sprintf("You are an equity analyst. For %s given this context:\n%s\nEstimate a 12-month price target, then give a rating.", ticker, context)
	default:
		return userPrompt
	}
}

// Fanout dispatches prompts to multiple Providers concurrently.
type Fanout struct {
	store *store.Store
	log   zerolog.Logger

	// Overridable in tests; default to the spec's 30s/35s/120s deadlines.
	callTimeout  time.Duration
	groupTimeout time.Duration
	drainTimeout time.Duration
}

// NewFanout builds a Fanout bound to store for async persistence.
func NewFanout(st *store.Store, log zerolog.Logger) *Fanout {
	return &Fanout{
		store:        st,
		log:          log.With().Str("component", "llm_fanout").Logger(),
		callTimeout:  perCallDeadline,
		groupTimeout: syncGroupTimeout,
		drainTimeout: asyncDeadline,
	}
}

// Compare runs the synchronous compare flow: one call per provider, a 30s
// per-call deadline, a 35s overall deadline, results reordered to match
// input order. Persistence of the run + results happens in a detached
// goroutine; persistence errors are logged only, never surfaced.
func (f *Fanout) Compare(ctx context.Context, ticker, prompt string, providers []Provider) []Result {
	groupCtx, cancel := context.WithTimeout(ctx, f.groupTimeout)
	defer cancel()

	results := make([]Result, len(providers))
	var wg sync.WaitGroup
	for i, p := range providers {
		wg.Add(1)
		go func(i int, p Provider) {
			defer wg.Done()
			results[i] = f.callOne(groupCtx, p, prompt)
		}(i, p)
	}
	wg.Wait()

	go f.persistCompare(context.Background(), ticker, prompt, providers, results)
	return results
}

func (f *Fanout) callOne(ctx context.Context, p Provider, prompt string) Result {
	callCtx, cancel := context.WithTimeout(ctx, f.callTimeout)
	defer cancel()

	start := time.Now()
	text, _, err := p.GenerateAnalysisWithUsage(callCtx, prompt, 1024)
	duration := time.Since(start).Milliseconds()

	result := Result{Provider: p.Name(), Model: p.Model(), DurationMs: duration}
	if callCtx.Err() == context.DeadlineExceeded {
		result.Error = "Request timed out"
		return result
	}
	if err != nil {
		result.Error = err.Error()
		return result
	}

	parsed := ParseStructuredResponse(text)
	if parsed == nil {
		result.Summary = text
		return result
	}
	result.Rating = parsed.Rating
	result.Score = parsed.Score
	result.Confidence = parsed.Confidence
	result.Summary = parsed.Summary
	return result
}

func (f *Fanout) persistCompare(ctx context.Context, ticker, prompt string, providers []Provider, results []Result) {
	var runID int64
	err := f.store.Session(ctx, true, func(tx *store.Tx) error {
		res, err := tx.ExecContext(ctx,
			"INSERT INTO comparison_runs (prompt, ticker, status, template) VALUES (?, ?, 'complete', 'custom')",
			prompt, ticker)
		if err != nil {
			return err
		}
		runID, err = res.LastInsertId()
		return err
	})
	if err != nil {
		f.log.Warn().Err(err).Msg("failed to persist comparison run")
		return
	}

	for _, r := range results {
		if err := f.insertResult(ctx, runID, r); err != nil {
			f.log.Warn().Err(err).Str("provider", r.Provider).Msg("failed to persist comparison result")
		}
	}
}

func (f *Fanout) insertResult(ctx context.Context, runID int64, r Result) error {
	return f.store.Session(ctx, false, func(tx *store.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO comparison_results
				(run_id, provider_name, model, response, latency_ms, error,
				 extracted_rating, extracted_score, extracted_confidence, extracted_summary)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			runID, r.Provider, r.Model, r.Summary, r.DurationMs, nullIfEmpty(r.Error),
			nullIfEmpty(string(r.Rating)), r.Score, r.Confidence, r.Summary)
		return err
	})
}

func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// RunAsync creates a pending comparison_runs row and fans out to providers
// in the background with a 120s deadline, inserting each comparison_results
// row as soon as that provider completes so pollers see partial progress.
func (f *Fanout) RunAsync(ctx context.Context, ticker, prompt, template string, providers []Provider) (int64, error) {
	var runID int64
	err := f.store.Session(ctx, true, func(tx *store.Tx) error {
		res, err := tx.ExecContext(ctx,
			"INSERT INTO comparison_runs (prompt, ticker, status, template) VALUES (?, ?, 'pending', ?)",
			prompt, ticker, template)
		if err != nil {
			return err
		}
		runID, err = res.LastInsertId()
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("llm: create comparison run: %w", err)
	}

	if len(providers) == 0 {
		if markErr := f.markRunStatus(context.Background(), runID, "error"); markErr != nil {
			f.log.Warn().Err(markErr).Int64("run_id", runID).Msg("failed to mark empty comparison run")
		}
		return runID, nil
	}

	go f.drainAsync(runID, ticker, prompt, providers)
	return runID, nil
}

func (f *Fanout) drainAsync(runID int64, ticker, prompt string, providers []Provider) {
	ctx, cancel := context.WithTimeout(context.Background(), f.drainTimeout)
	defer cancel()

	var wg sync.WaitGroup
	for _, p := range providers {
		wg.Add(1)
		go func(p Provider) {
			defer wg.Done()
			result := f.callOne(ctx, p, prompt)
			if err := f.insertResult(context.Background(), runID, result); err != nil {
				f.log.Warn().Err(err).Str("provider", p.Name()).Int64("run_id", runID).Msg("failed to persist async comparison result")
			}
		}(p)
	}
	wg.Wait()

	if err := f.markRunStatus(context.Background(), runID, "complete"); err != nil {
		f.log.Warn().Err(err).Int64("run_id", runID).Msg("failed to mark comparison run complete")
	}
}

func (f *Fanout) markRunStatus(ctx context.Context, runID int64, status string) error {
	return f.store.Session(ctx, false, func(tx *store.Tx) error {
		_, err := tx.ExecContext(ctx, "UPDATE comparison_runs SET status = ? WHERE id = ?", status, runID)
		return err
	})
}
