package store

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	path := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	s, err := Open(Config{Path: path, PoolSize: 3})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestMigrateIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, Migrate(s.DB()))
	require.NoError(t, Migrate(s.DB()))

	cols, err := existingColumns(s.DB(), "ai_ratings")
	require.NoError(t, err)
	assert.True(t, cols["current_price"])
	assert.True(t, cols["rsi"])
	assert.True(t, cols["technical_score"])
}

func TestAcquireReleaseReturnsConnToPool(t *testing.T) {
	s := newTestStore(t)
	for i := 0; i < 10; i++ {
		conn, release, err := s.Acquire(context.Background())
		require.NoError(t, err)
		release()
		_ = conn
	}
	stats := s.PoolStats()
	assert.Equal(t, 0, stats.InUse)
}

func TestAcquireExhaustedReturnsErr(t *testing.T) {
	s := newTestStore(t)
	s.cfg.AcquireTimeout = 50 * time.Millisecond

	var releases []func()
	for i := 0; i < 3; i++ {
		_, release, err := s.Acquire(context.Background())
		require.NoError(t, err)
		releases = append(releases, release)
	}

	_, _, err := s.Acquire(context.Background())
	assert.ErrorIs(t, err, ErrPoolExhausted)

	for _, r := range releases {
		r()
	}
}

func TestSessionCommitsOnSuccess(t *testing.T) {
	s := newTestStore(t)
	err := s.Session(context.Background(), false, func(tx *Tx) error {
		_, err := tx.ExecContext(context.Background(), "INSERT INTO settings (key, value) VALUES (?, ?)", "k1", "v1")
		return err
	})
	require.NoError(t, err)

	v, ok, err := s.GetSetting("k1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "v1", v)
}

func TestSessionRollsBackOnError(t *testing.T) {
	s := newTestStore(t)
	sentinel := fmt.Errorf("boom")
	err := s.Session(context.Background(), false, func(tx *Tx) error {
		_, execErr := tx.ExecContext(context.Background(), "INSERT INTO settings (key, value) VALUES (?, ?)", "k2", "v2")
		require.NoError(t, execErr)
		return sentinel
	})
	assert.ErrorIs(t, err, sentinel)

	_, ok, err := s.GetSetting("k2")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestBatchUpsertInsertsAndUpdates(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	err := s.Session(ctx, false, func(tx *Tx) error {
		rows := []map[string]interface{}{
			{"ticker": "AAPL", "current_price": 200.0, "updated_at": "2026-01-01"},
			{"ticker": "MSFT", "current_price": 300.0, "updated_at": "2026-01-01"},
		}
		return BatchUpsert(ctx, tx, "ai_ratings", rows, []string{"ticker"}, []string{"current_price", "updated_at"})
	})
	require.NoError(t, err)

	err = s.Session(ctx, false, func(tx *Tx) error {
		rows := []map[string]interface{}{
			{"ticker": "AAPL", "current_price": 205.0, "updated_at": "2026-01-02"},
		}
		return BatchUpsert(ctx, tx, "ai_ratings", rows, []string{"ticker"}, []string{"current_price", "updated_at"})
	})
	require.NoError(t, err)

	var price float64
	var count int
	conn, release, err := s.Acquire(ctx)
	require.NoError(t, err)
	defer release()

	require.NoError(t, conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM ai_ratings WHERE ticker = 'AAPL'").Scan(&count))
	assert.Equal(t, 1, count)

	require.NoError(t, conn.QueryRowContext(ctx, "SELECT current_price FROM ai_ratings WHERE ticker = 'AAPL'").Scan(&price))
	assert.Equal(t, 205.0, price)
}

func TestSetSettingUpsert(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.SetSetting("alert_sound_type", "chime"))
	v, ok, err := s.GetSetting("alert_sound_type")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "chime", v)

	require.NoError(t, s.SetSetting("alert_sound_type", "alarm"))
	v, ok, err = s.GetSetting("alert_sound_type")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "alarm", v)
}
