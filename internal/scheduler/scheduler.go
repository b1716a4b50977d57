// Package scheduler is a persistent cron/interval job scheduler: schedules
// survive process restart via the embedded store, jobs are single-flight,
// and missed ticks coalesce into a single run.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/tickerpulse/core/internal/store"
)

// misfireGrace is the deadline on each run's context (see runOnce). Ticks
// missed while the process is down are not replayed, and a tick that
// arrives while the job's previous run is in flight is dropped, not run late.
const misfireGrace = 300 * time.Second

// JobFunc is one unit of scheduled work.
type JobFunc func(ctx context.Context) error

// jobDef is a registered job definition: its function plus the trigger
// installed the first time the process ever sees this job id.
type jobDef struct {
	id             string
	name           string
	description    string
	fn             JobFunc
	defaultTrigger Trigger
}

// runState tracks in-flight execution for max_instances=1 enforcement.
type runState struct {
	running   bool
	lastStart time.Time
}

// Scheduler is a persistent, single-flight job scheduler backed by
// robfig/cron (grounded on trader-go/internal/scheduler/scheduler.go's
// cron.WithSeconds() wrapper) with schedules persisted to scheduler_jobs so
// a restart doesn't lose a user's customised trigger.
type Scheduler struct {
	cron  *cron.Cron
	store *store.Store
	log   zerolog.Logger

	mu       sync.Mutex
	jobs     map[string]*jobDef
	entries  map[string]cron.EntryID
	triggers map[string]Trigger
	enabled  map[string]bool
	runs     map[string]*runState

	// scheduleWriteLock serialises the validate -> persistTrigger -> schedule
	// sequence in UpdateSchedule across goroutines. It is distinct from the
	// short-lived registry mutex mu: mu only ever guards a map read/write,
	// while this lock spans a DB transaction plus the subsequent cron swap,
	// so two concurrent UpdateSchedule calls can't have their DB commits
	// land in one order and their live-scheduler pushes land in the other.
	scheduleWriteLock sync.Mutex
}

// New builds a Scheduler. It does not start the cron goroutine until StartAll.
func New(st *store.Store, log zerolog.Logger) *Scheduler {
	return &Scheduler{
		cron:     cron.New(cron.WithSeconds()),
		store:    st,
		log:      log.With().Str("component", "scheduler").Logger(),
		jobs:     make(map[string]*jobDef),
		entries:  make(map[string]cron.EntryID),
		triggers: make(map[string]Trigger),
		enabled:  make(map[string]bool),
		runs:     make(map[string]*runState),
	}
}

// Register adds id to the in-memory job registry. It does not schedule
// anything until StartAll runs.
func (s *Scheduler) Register(id, name, description string, fn JobFunc, defaultTrigger Trigger) error {
	if err := defaultTrigger.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[id] = &jobDef{id: id, name: name, description: description, fn: fn, defaultTrigger: defaultTrigger}
	s.runs[id] = &runState{}
	return nil
}

// StartAll installs every registered job's effective trigger (the
// persisted one if scheduler_jobs already has a row, otherwise the
// registrant's default) and starts the cron goroutine.
func (s *Scheduler) StartAll(ctx context.Context) error {
	s.mu.Lock()
	defs := make([]*jobDef, 0, len(s.jobs))
	for _, d := range s.jobs {
		defs = append(defs, d)
	}
	s.mu.Unlock()

	for _, d := range defs {
		trigger, enabled, err := s.loadOrInstallTrigger(ctx, d)
		if err != nil {
			return fmt.Errorf("scheduler: install %s: %w", d.id, err)
		}
		s.mu.Lock()
		s.triggers[d.id] = trigger
		s.enabled[d.id] = enabled
		s.mu.Unlock()
		if enabled {
			if err := s.schedule(d.id, trigger); err != nil {
				return fmt.Errorf("scheduler: schedule %s: %w", d.id, err)
			}
		}
	}

	s.cron.Start()
	s.log.Info().Int("jobs", len(defs)).Msg("scheduler started")
	return nil
}

// Stop drains running cron invocations and stops the scheduler.
func (s *Scheduler) Stop() {
	stopCtx := s.cron.Stop()
	<-stopCtx.Done()
	s.log.Info().Msg("scheduler stopped")
}

func (s *Scheduler) loadOrInstallTrigger(ctx context.Context, d *jobDef) (Trigger, bool, error) {
	conn, release, err := s.store.Acquire(ctx)
	if err != nil {
		return Trigger{}, false, err
	}
	defer release()

	var triggerType, triggerArgs string
	var enabledInt int
	err = conn.QueryRowContext(ctx,
		"SELECT trigger_type, trigger_args, enabled FROM scheduler_jobs WHERE id = ?", d.id,
	).Scan(&triggerType, &triggerArgs, &enabledInt)
	if err == nil {
		trigger, decodeErr := decodeTrigger(TriggerType(triggerType), triggerArgs)
		if decodeErr != nil {
			return Trigger{}, false, decodeErr
		}
		return trigger, enabledInt != 0, nil
	}

	if err := s.persistTrigger(ctx, d.id, d.name, d.defaultTrigger, true); err != nil {
		return Trigger{}, false, err
	}
	return d.defaultTrigger, true, nil
}

func (s *Scheduler) persistTrigger(ctx context.Context, id, name string, trigger Trigger, enabled bool) error {
	args := encodeTrigger(trigger)
	enabledInt := 0
	if enabled {
		enabledInt = 1
	}
	return s.store.Session(ctx, true, func(tx *store.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO scheduler_jobs (id, name, trigger_type, trigger_args, enabled, updated_at)
			VALUES (?, ?, ?, ?, ?, datetime('now'))
			ON CONFLICT(id) DO UPDATE SET
				trigger_type = excluded.trigger_type, trigger_args = excluded.trigger_args,
				enabled = excluded.enabled, updated_at = excluded.updated_at`,
			id, name, string(trigger.Type), args, enabledInt)
		return err
	})
}

// schedule installs (or re-installs) a cron entry for id running trigger.
// Must be called with s.mu unlocked; it takes the lock itself around the
// registry mutation only.
func (s *Scheduler) schedule(id string, trigger Trigger) error {
	expr, err := s.cronExprFor(trigger)
	if err != nil {
		return err
	}

	var entryID cron.EntryID
	run := func() { s.runOnce(id) }
	if trigger.Type == TriggerDate {
		run = func() {
			s.runOnce(id)
			s.mu.Lock()
			if cur, ok := s.entries[id]; ok && cur == entryID {
				delete(s.entries, id)
			}
			s.mu.Unlock()
			s.cron.Remove(entryID)
		}
	}

	entryID, err = s.cron.AddFunc(expr, run)
	if err != nil {
		return fmt.Errorf("scheduler: invalid trigger for %s: %w", id, err)
	}

	s.mu.Lock()
	s.entries[id] = entryID
	s.mu.Unlock()
	return nil
}

// cronExprFor converts any trigger type into a robfig/cron six-field
// expression. Interval triggers use cron's "@every" shorthand; date
// triggers compute an expression for their exact second, minute, hour, day
// and month (cron has no native one-shot concept, so schedule removes the
// entry after its first run).
func (s *Scheduler) cronExprFor(trigger Trigger) (string, error) {
	switch trigger.Type {
	case TriggerCron:
		return trigger.Cron.Expr(), nil
	case TriggerInterval:
		return fmt.Sprintf("@every %ds", trigger.IntervalSeconds), nil
	case TriggerDate:
		at := trigger.At.UTC()
		return fmt.Sprintf("%d %d %d %d %d *", at.Second(), at.Minute(), at.Hour(), at.Day(), int(at.Month())), nil
	default:
		return "", fmt.Errorf("scheduler: unknown trigger type %q", trigger.Type)
	}
}

// runOnce enforces max_instances=1: a tick arriving while the previous run
// of the same job is still in flight is dropped (coalesced), matching
// coalesce=true from the spec.
func (s *Scheduler) runOnce(id string) {
	s.mu.Lock()
	d := s.jobs[id]
	rs := s.runs[id]
	if d == nil || rs == nil {
		s.mu.Unlock()
		return
	}
	if rs.running {
		s.mu.Unlock()
		s.log.Warn().Str("job", id).Msg("tick skipped: previous run still in flight")
		return
	}
	rs.running = true
	rs.lastStart = time.Now().UTC()
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		rs.running = false
		s.mu.Unlock()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), misfireGrace)
	defer cancel()

	if err := d.fn(ctx); err != nil {
		s.log.Error().Err(err).Str("job", id).Msg("job failed")
	}
}

// Pause disables id: its cron entry is removed and enabled=0 is persisted.
func (s *Scheduler) Pause(ctx context.Context, id string) error {
	s.mu.Lock()
	entryID, scheduled := s.entries[id]
	d := s.jobs[id]
	s.mu.Unlock()
	if d == nil {
		return fmt.Errorf("scheduler: unknown job %q", id)
	}
	if scheduled {
		s.cron.Remove(entryID)
	}

	s.mu.Lock()
	delete(s.entries, id)
	s.enabled[id] = false
	s.mu.Unlock()

	return s.store.Session(ctx, true, func(tx *store.Tx) error {
		_, err := tx.ExecContext(ctx, "UPDATE scheduler_jobs SET enabled = 0, updated_at = datetime('now') WHERE id = ?", id)
		return err
	})
}

// Resume re-enables id using its last persisted trigger.
func (s *Scheduler) Resume(ctx context.Context, id string) error {
	s.mu.Lock()
	trigger, ok := s.triggers[id]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("scheduler: unknown job %q", id)
	}

	if err := s.store.Session(ctx, true, func(tx *store.Tx) error {
		_, err := tx.ExecContext(ctx, "UPDATE scheduler_jobs SET enabled = 1, updated_at = datetime('now') WHERE id = ?", id)
		return err
	}); err != nil {
		return err
	}

	s.mu.Lock()
	s.enabled[id] = true
	s.mu.Unlock()
	return s.schedule(id, trigger)
}

// Trigger fires id immediately, outside its schedule, still subject to the
// single-flight guard.
func (s *Scheduler) Trigger(id string) error {
	s.mu.Lock()
	_, ok := s.jobs[id]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("scheduler: unknown job %q", id)
	}
	go s.runOnce(id)
	return nil
}

// UpdateSchedule validates and persists a new trigger for id, then swaps
// the live cron entry. scheduleWriteLock holds the entire validate ->
// persistTrigger -> schedule sequence as one atomic unit: the BEGIN
// IMMEDIATE transaction inside persistTrigger already serialises the
// scheduler_jobs write itself, but without this lock two concurrent
// UpdateSchedule calls could still have their DB commits land in one order
// while their subsequent s.triggers/s.schedule pushes race and land in the
// other, leaving the live cron entry running a trigger that isn't the
// last-committed row. Holding one lock across both steps closes that
// window.
func (s *Scheduler) UpdateSchedule(ctx context.Context, id string, trigger Trigger) error {
	if err := trigger.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	d, ok := s.jobs[id]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("scheduler: unknown job %q", id)
	}

	s.scheduleWriteLock.Lock()
	defer s.scheduleWriteLock.Unlock()

	if err := s.persistTrigger(ctx, id, d.name, trigger, true); err != nil {
		return err
	}

	s.mu.Lock()
	entryID, scheduled := s.entries[id]
	s.triggers[id] = trigger
	s.enabled[id] = true
	s.mu.Unlock()
	if scheduled {
		s.cron.Remove(entryID)
	}
	return s.schedule(id, trigger)
}

// Reschedule is the high-level helper the scheduler REST endpoint uses:
// 0 seconds pauses the job, any other value installs an interval trigger.
func (s *Scheduler) Reschedule(ctx context.Context, id string, seconds int) error {
	if seconds == 0 {
		return s.Pause(ctx, id)
	}
	return s.UpdateSchedule(ctx, id, Trigger{Type: TriggerInterval, IntervalSeconds: seconds})
}

// JobStatus is a snapshot of one job's live scheduling state.
type JobStatus struct {
	ID          string
	Name        string
	Description string
	Enabled     bool
	TriggerType TriggerType
	TriggerArgs string
	NextRun     *time.Time
}

// GetJob reports id's status: NextRun comes from the live cron entry, the
// remaining fields from the scheduler's in-memory registry.
func (s *Scheduler) GetJob(id string) (JobStatus, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.jobs[id]
	if !ok {
		return JobStatus{}, false
	}
	trigger := s.triggers[id]
	status := JobStatus{
		ID:          id,
		Name:        d.name,
		Description: d.description,
		Enabled:     s.enabled[id],
		TriggerType: trigger.Type,
		TriggerArgs: encodeTrigger(trigger),
	}
	if entryID, scheduled := s.entries[id]; scheduled {
		next := s.cron.Entry(entryID).Next
		if !next.IsZero() {
			status.NextRun = &next
		}
	}
	return status, true
}

// GetAllJobs reports every registered job's live status.
func (s *Scheduler) GetAllJobs() []JobStatus {
	s.mu.Lock()
	ids := make([]string, 0, len(s.jobs))
	for id := range s.jobs {
		ids = append(ids, id)
	}
	s.mu.Unlock()

	out := make([]JobStatus, 0, len(ids))
	for _, id := range ids {
		if st, ok := s.GetJob(id); ok {
			out = append(out, st)
		}
	}
	return out
}
