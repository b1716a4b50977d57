package jobs

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tickerpulse/core/internal/broadcast"
	"github.com/tickerpulse/core/internal/store"
)

func TestTimerPersistsSuccessHistoryAndMetrics(t *testing.T) {
	s := newTestStore(t)
	timer := NewTimer(s, nil, zerolog.Nop())

	err := timer.Run(context.Background(), "job1", "Job One", func(ctx context.Context) (Outcome, error) {
		return Outcome{ResultSummary: "ok", Cost: 0.05}, nil
	})
	require.NoError(t, err)

	var status, summary string
	var cost float64
	require.NoError(t, s.Session(context.Background(), false, func(tx *store.Tx) error {
		return tx.QueryRowContext(context.Background(),
			"SELECT status, result_summary, cost FROM job_history WHERE job_id = 'job1'").
			Scan(&status, &summary, &cost)
	}))
	assert.Equal(t, "success", status)
	assert.Equal(t, "ok", summary)
	assert.Equal(t, 0.05, cost)

	var metricCount int
	require.NoError(t, s.Session(context.Background(), false, func(tx *store.Tx) error {
		return tx.QueryRowContext(context.Background(),
			"SELECT COUNT(*) FROM performance_metrics WHERE job_id = 'job1'").Scan(&metricCount)
	}))
	assert.Equal(t, 3, metricCount)
}

func TestTimerRecordsErrorStatusAndReturnsErr(t *testing.T) {
	s := newTestStore(t)
	timer := NewTimer(s, nil, zerolog.Nop())

	wantErr := errors.New("boom")
	err := timer.Run(context.Background(), "job2", "Job Two", func(ctx context.Context) (Outcome, error) {
		return Outcome{}, wantErr
	})
	assert.ErrorIs(t, err, wantErr)

	var status, summary string
	require.NoError(t, s.Session(context.Background(), false, func(tx *store.Tx) error {
		return tx.QueryRowContext(context.Background(),
			"SELECT status, result_summary FROM job_history WHERE job_id = 'job2'").Scan(&status, &summary)
	}))
	assert.Equal(t, "error", status)
	assert.Equal(t, "boom", summary)
}

func TestTimerTruncatesOversizedResultSummary(t *testing.T) {
	s := newTestStore(t)
	timer := NewTimer(s, nil, zerolog.Nop())

	long := make([]byte, maxResultSummaryLen+500)
	for i := range long {
		long[i] = 'x'
	}
	err := timer.Run(context.Background(), "job3", "Job Three", func(ctx context.Context) (Outcome, error) {
		return Outcome{ResultSummary: string(long)}, nil
	})
	require.NoError(t, err)

	var summary string
	require.NoError(t, s.Session(context.Background(), false, func(tx *store.Tx) error {
		return tx.QueryRowContext(context.Background(),
			"SELECT result_summary FROM job_history WHERE job_id = 'job3'").Scan(&summary)
	}))
	assert.Len(t, summary, maxResultSummaryLen)
}

func TestTimerBroadcastsJobCompleted(t *testing.T) {
	s := newTestStore(t)
	sse := broadcast.NewSSEBroadcaster(func() (map[string]interface{}, error) { return map[string]interface{}{}, nil }, zerolog.Nop())
	timer := NewTimer(s, sse, zerolog.Nop())

	err := timer.Run(context.Background(), "job4", "Job Four", func(ctx context.Context) (Outcome, error) {
		return Outcome{}, nil
	})
	require.NoError(t, err)
	// No connected clients; the call simply must not error or panic.
}
