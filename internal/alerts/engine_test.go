package alerts

import (
	"context"
	"fmt"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tickerpulse/core/internal/store"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	path := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	s, err := store.Open(store.Config{Path: path, PoolSize: 3})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func insertAlert(t *testing.T, s *store.Store, ticker string, condition ConditionType, threshold float64, sound SoundType) int64 {
	t.Helper()
	ctx := context.Background()
	var id int64
	err := s.Session(ctx, false, func(tx *store.Tx) error {
		res, err := tx.ExecContext(ctx,
			`INSERT INTO price_alerts (ticker, condition_type, threshold, sound_type, enabled, fire_count)
			 VALUES (?, ?, ?, ?, 1, 0)`,
			ticker, string(condition), threshold, string(sound))
		if err != nil {
			return err
		}
		id, err = res.LastInsertId()
		return err
	})
	require.NoError(t, err)
	return id
}

type fakePrices struct {
	prices map[string]float64
	pct    map[string]float64
}

func (f *fakePrices) CurrentPrice(ctx context.Context, ticker string) (float64, float64, bool, error) {
	p, ok := f.prices[ticker]
	return p, f.pct[ticker], ok, nil
}

type fakeEmitter struct {
	events []map[string]interface{}
}

func (f *fakeEmitter) SendEvent(eventType string, data map[string]interface{}) error {
	data["_event_type"] = eventType
	f.events = append(f.events, data)
	return nil
}

func TestEvaluateAlertsFiresAndUpdatesRow(t *testing.T) {
	s := newTestStore(t)
	id := insertAlert(t, s, "AAPL", ConditionPriceAbove, 200, SoundChime)

	prices := &fakePrices{prices: map[string]float64{"AAPL": 205}}
	emitter := &fakeEmitter{}
	e := New(s, prices, emitter, zerolog.Nop())

	require.NoError(t, e.EvaluateAlerts(context.Background(), []string{"AAPL"}))

	require.Len(t, emitter.events, 1)
	assert.Equal(t, "alert", emitter.events[0]["_event_type"])
	assert.Equal(t, id, emitter.events[0]["alert_id"])
	assert.Equal(t, "chime", emitter.events[0]["sound_type"])

	// firing again should not re-fire: triggered_at is now set.
	emitter.events = nil
	require.NoError(t, e.EvaluateAlerts(context.Background(), []string{"AAPL"}))
	assert.Empty(t, emitter.events)
}

func TestEvaluateAlertsDoesNotFireBelowThreshold(t *testing.T) {
	s := newTestStore(t)
	insertAlert(t, s, "MSFT", ConditionPriceAbove, 500, SoundChime)

	prices := &fakePrices{prices: map[string]float64{"MSFT": 300}}
	emitter := &fakeEmitter{}
	e := New(s, prices, emitter, zerolog.Nop())

	require.NoError(t, e.EvaluateAlerts(context.Background(), []string{"MSFT"}))
	assert.Empty(t, emitter.events)
}

func TestEvaluateAlertsResolvesDefaultSoundFromGlobalSetting(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.SetSetting(globalSoundSetting, "alarm"))
	insertAlert(t, s, "TSLA", ConditionPriceAbove, 100, SoundDefault)

	prices := &fakePrices{prices: map[string]float64{"TSLA": 150}}
	emitter := &fakeEmitter{}
	e := New(s, prices, emitter, zerolog.Nop())

	require.NoError(t, e.EvaluateAlerts(context.Background(), []string{"TSLA"}))
	require.Len(t, emitter.events, 1)
	assert.Equal(t, "alarm", emitter.events[0]["sound_type"])
}

func TestEvaluateAlertsGlobalDefaultFallsBackToChime(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.SetSetting(globalSoundSetting, "default"))
	insertAlert(t, s, "NFLX", ConditionPriceAbove, 100, SoundDefault)

	prices := &fakePrices{prices: map[string]float64{"NFLX": 150}}
	emitter := &fakeEmitter{}
	e := New(s, prices, emitter, zerolog.Nop())

	require.NoError(t, e.EvaluateAlerts(context.Background(), []string{"NFLX"}))
	require.Len(t, emitter.events, 1)
	assert.Equal(t, "chime", emitter.events[0]["sound_type"])
}

func TestFireTestAlertDoesNotMutateDB(t *testing.T) {
	s := newTestStore(t)
	id := insertAlert(t, s, "GOOG", ConditionPriceAbove, 100, SoundChime)

	e := New(s, &fakePrices{}, &fakeEmitter{}, zerolog.Nop())
	payload, err := e.FireTestAlert(context.Background(), id, 123.45)
	require.NoError(t, err)
	assert.Equal(t, 123.45, payload["current_price"])

	conn, release, err := s.Acquire(context.Background())
	require.NoError(t, err)
	defer release()

	var triggeredAt *string
	require.NoError(t, conn.QueryRowContext(context.Background(),
		"SELECT triggered_at FROM price_alerts WHERE id = ?", id).Scan(&triggeredAt))
	assert.Nil(t, triggeredAt)
}

func TestRearmClearsTriggeredState(t *testing.T) {
	s := newTestStore(t)
	id := insertAlert(t, s, "AMD", ConditionPriceAbove, 50, SoundChime)

	prices := &fakePrices{prices: map[string]float64{"AMD": 60}}
	e := New(s, prices, &fakeEmitter{}, zerolog.Nop())
	require.NoError(t, e.EvaluateAlerts(context.Background(), []string{"AMD"}))

	require.NoError(t, e.Rearm(context.Background(), id))

	emitter := &fakeEmitter{}
	e2 := New(s, prices, emitter, zerolog.Nop())
	require.NoError(t, e2.EvaluateAlerts(context.Background(), []string{"AMD"}))
	assert.Len(t, emitter.events, 1, "a rearmed alert should fire again")
}
