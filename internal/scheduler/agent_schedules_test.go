package scheduler

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSchedulerWithJob(t *testing.T, jobID string) *Scheduler {
	t.Helper()
	s := newTestStore(t)
	sched := New(s, zerolog.Nop())
	require.NoError(t, sched.Register(jobID, "Job", "", func(ctx context.Context) error { return nil },
		Trigger{Type: TriggerInterval, IntervalSeconds: 60}))
	require.NoError(t, sched.StartAll(context.Background()))
	t.Cleanup(sched.Stop)
	return sched
}

func TestCreateAgentScheduleValidatesJobExists(t *testing.T) {
	sched := newTestSchedulerWithJob(t, "job")
	_, err := sched.CreateAgentSchedule(context.Background(), "nonexistent", Trigger{Type: TriggerInterval, IntervalSeconds: 60})
	assert.Error(t, err)
}

func TestCreateAgentScheduleValidatesTrigger(t *testing.T) {
	sched := newTestSchedulerWithJob(t, "job")
	_, err := sched.CreateAgentSchedule(context.Background(), "job", Trigger{Type: TriggerInterval, IntervalSeconds: -1})
	assert.Error(t, err)
}

func TestCreateAndListAgentSchedules(t *testing.T) {
	sched := newTestSchedulerWithJob(t, "job")
	id, err := sched.CreateAgentSchedule(context.Background(), "job", Trigger{Type: TriggerInterval, IntervalSeconds: 120})
	require.NoError(t, err)
	assert.NotZero(t, id)

	schedules, err := sched.ListAgentSchedules(context.Background(), "job")
	require.NoError(t, err)
	require.Len(t, schedules, 1)
	assert.Equal(t, "job", schedules[0].JobID)
}

func TestUpdateAgentScheduleRejectsUnknownID(t *testing.T) {
	sched := newTestSchedulerWithJob(t, "job")
	err := sched.UpdateAgentSchedule(context.Background(), 999, Trigger{Type: TriggerInterval, IntervalSeconds: 60})
	assert.Error(t, err)
}

func TestUpdateAndDeleteAgentSchedule(t *testing.T) {
	sched := newTestSchedulerWithJob(t, "job")
	id, err := sched.CreateAgentSchedule(context.Background(), "job", Trigger{Type: TriggerInterval, IntervalSeconds: 120})
	require.NoError(t, err)

	require.NoError(t, sched.UpdateAgentSchedule(context.Background(), id, Trigger{Type: TriggerInterval, IntervalSeconds: 300}))
	schedules, err := sched.ListAgentSchedules(context.Background(), "job")
	require.NoError(t, err)
	require.Len(t, schedules, 1)

	require.NoError(t, sched.DeleteAgentSchedule(context.Background(), id))
	schedules, err = sched.ListAgentSchedules(context.Background(), "job")
	require.NoError(t, err)
	assert.Len(t, schedules, 0)
}
