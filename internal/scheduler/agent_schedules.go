package scheduler

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/tickerpulse/core/internal/store"
)

// AgentSchedule is a user-defined additional schedule pointing at a known
// job id (distinct from that job's own default/persisted scheduler_jobs
// trigger).
type AgentSchedule struct {
	ID          int64
	JobID       string
	TriggerType TriggerType
	TriggerArgs string
	CreatedAt   string
}

// CreateAgentSchedule validates trigger, checks that jobID is a registered
// job, and persists a new agent_schedules row. The job check reads the
// in-memory registry; only the insert runs in a BEGIN IMMEDIATE transaction.
func (s *Scheduler) CreateAgentSchedule(ctx context.Context, jobID string, trigger Trigger) (int64, error) {
	if err := trigger.Validate(); err != nil {
		return 0, err
	}
	if _, ok := s.GetJob(jobID); !ok {
		return 0, fmt.Errorf("scheduler: unknown job %q", jobID)
	}

	var id int64
	err := s.store.Session(ctx, true, func(tx *store.Tx) error {
		res, err := tx.ExecContext(ctx,
			"INSERT INTO agent_schedules (job_id, trigger_type, trigger_args) VALUES (?, ?, ?)",
			jobID, string(trigger.Type), encodeTrigger(trigger))
		if err != nil {
			return err
		}
		id, err = res.LastInsertId()
		return err
	})
	return id, err
}

// UpdateAgentSchedule re-validates the new trigger before overwriting the
// row, fetching the existing row inside the same immediate transaction so a
// partial concurrent update can't leave the row in an invalid state.
func (s *Scheduler) UpdateAgentSchedule(ctx context.Context, id int64, trigger Trigger) error {
	if err := trigger.Validate(); err != nil {
		return err
	}
	return s.store.Session(ctx, true, func(tx *store.Tx) error {
		var jobID string
		if err := tx.QueryRowContext(ctx, "SELECT job_id FROM agent_schedules WHERE id = ?", id).Scan(&jobID); err != nil {
			if err == sql.ErrNoRows {
				return fmt.Errorf("scheduler: agent schedule %d not found", id)
			}
			return err
		}
		_, err := tx.ExecContext(ctx,
			"UPDATE agent_schedules SET trigger_type = ?, trigger_args = ? WHERE id = ?",
			string(trigger.Type), encodeTrigger(trigger), id)
		return err
	})
}

// DeleteAgentSchedule removes an agent_schedules row.
func (s *Scheduler) DeleteAgentSchedule(ctx context.Context, id int64) error {
	return s.store.Session(ctx, false, func(tx *store.Tx) error {
		_, err := tx.ExecContext(ctx, "DELETE FROM agent_schedules WHERE id = ?", id)
		return err
	})
}

// ListAgentSchedules returns every agent_schedules row for jobID, or all
// rows if jobID is empty.
func (s *Scheduler) ListAgentSchedules(ctx context.Context, jobID string) ([]AgentSchedule, error) {
	conn, release, err := s.store.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	query := "SELECT id, job_id, trigger_type, trigger_args, created_at FROM agent_schedules"
	args := []interface{}{}
	if jobID != "" {
		query += " WHERE job_id = ?"
		args = append(args, jobID)
	}
	query += " ORDER BY id"

	rows, err := conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []AgentSchedule
	for rows.Next() {
		var a AgentSchedule
		var triggerType string
		if err := rows.Scan(&a.ID, &a.JobID, &triggerType, &a.TriggerArgs, &a.CreatedAt); err != nil {
			return nil, err
		}
		a.TriggerType = TriggerType(triggerType)
		out = append(out, a)
	}
	return out, rows.Err()
}
