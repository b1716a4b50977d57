package alerts

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/tickerpulse/core/internal/store"
)

// EventEmitter is the subset of the broadcaster the engine needs. It is
// satisfied by server.SSEEventEmitter, an adapter over
// broadcast.SSEBroadcaster; defining it here keeps alerts free of a
// dependency on the broadcast package.
type EventEmitter interface {
	SendEvent(eventType string, data map[string]interface{}) error
}

// PriceLookup resolves the freshly cached current_price and pct change for
// a ticker, written moments earlier by the price-refresh job.
type PriceLookup interface {
	CurrentPrice(ctx context.Context, ticker string) (price, changePct float64, ok bool, err error)
}

const globalSoundSetting = "alert_sound_type"

// Engine evaluates and fires price alerts.
type Engine struct {
	store  *store.Store
	prices PriceLookup
	emit   EventEmitter
	log    zerolog.Logger
}

// New builds an Engine.
func New(st *store.Store, prices PriceLookup, emit EventEmitter, log zerolog.Logger) *Engine {
	return &Engine{
		store:  st,
		prices: prices,
		emit:   emit,
		log:    log.With().Str("component", "alert_engine").Logger(),
	}
}

// EvaluateAlerts is called after the price-refresh job persists fresh
// prices for tickers. Every enabled, not-yet-triggered alert whose ticker
// is in tickers is tested against the freshly written price.
func (e *Engine) EvaluateAlerts(ctx context.Context, tickers []string) error {
	if len(tickers) == 0 {
		return nil
	}

	alertsToCheck, err := e.loadEnabledUntriggered(ctx, tickers)
	if err != nil {
		return fmt.Errorf("alerts: load candidates: %w", err)
	}

	for _, a := range alertsToCheck {
		price, pctChange, ok, err := e.prices.CurrentPrice(ctx, a.Ticker)
		if err != nil {
			e.log.Warn().Err(err).Str("ticker", a.Ticker).Msg("price lookup failed")
			continue
		}
		if !ok || !a.Evaluate(price, pctChange) {
			continue
		}
		if err := e.fire(ctx, a, price); err != nil {
			e.log.Error().Err(err).Int64("alert_id", a.ID).Msg("failed to fire alert")
		}
	}
	return nil
}

func (e *Engine) loadEnabledUntriggered(ctx context.Context, tickers []string) ([]Alert, error) {
	conn, release, err := e.store.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	placeholders := make([]interface{}, 0, len(tickers))
	query := `SELECT id, ticker, condition_type, threshold, sound_type, fire_count
	          FROM price_alerts WHERE enabled = 1 AND triggered_at IS NULL AND ticker IN (`
	for i, t := range tickers {
		if i > 0 {
			query += ", "
		}
		query += "?"
		placeholders = append(placeholders, t)
	}
	query += ")"

	rows, err := conn.QueryContext(ctx, query, placeholders...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Alert
	for rows.Next() {
		var a Alert
		var sound string
		var condition string
		if err := rows.Scan(&a.ID, &a.Ticker, &condition, &a.Threshold, &sound, &a.FireCount); err != nil {
			return nil, err
		}
		a.ConditionType = ConditionType(condition)
		a.SoundType = NormalizeSound(sound)
		a.Enabled = true
		out = append(out, a)
	}
	return out, rows.Err()
}

// fire updates the alert row and emits the SSE payload.
func (e *Engine) fire(ctx context.Context, a Alert, currentPrice float64) error {
	now := time.Now().UTC().Format(time.RFC3339)

	err := e.store.Session(ctx, false, func(tx *store.Tx) error {
		_, err := tx.ExecContext(ctx, `
			UPDATE price_alerts
			SET triggered_at = ?, fired_at = ?, notification_sent = 1, fire_count = fire_count + 1
			WHERE id = ?`, now, now, a.ID)
		return err
	})
	if err != nil {
		return fmt.Errorf("update alert row: %w", err)
	}
	a.FireCount++

	resolvedSound, err := e.resolveSound(a.SoundType)
	if err != nil {
		e.log.Warn().Err(err).Msg("sound resolution failed, using chime")
		resolvedSound = SoundChime
	}

	payload := e.buildSSEAlertPayload(a, currentPrice, resolvedSound)
	if err := e.emit.SendEvent("alert", payload); err != nil {
		e.log.Warn().Err(err).Int64("alert_id", a.ID).Msg("failed to emit alert event")
	}
	return nil
}

// resolveSound maps "default" to the current global setting, falling back
// to chime if the stored global is itself ever "default".
func (e *Engine) resolveSound(s SoundType) (SoundType, error) {
	if s != SoundDefault {
		return s, nil
	}
	value, ok, err := e.store.GetSetting(globalSoundSetting)
	if err != nil {
		return "", err
	}
	if !ok {
		return SoundChime, nil
	}
	resolved := NormalizeSound(value)
	if resolved == SoundDefault {
		return SoundChime, nil
	}
	return resolved, nil
}

// FireTestAlert builds the same payload as a real fire, from the stored
// alert plus a synthetic current price, without mutating the DB. Used by
// the frontend preview button.
func (e *Engine) FireTestAlert(ctx context.Context, id int64, syntheticPrice float64) (map[string]interface{}, error) {
	conn, release, err := e.store.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	var a Alert
	var sound, condition string
	err = conn.QueryRowContext(ctx,
		`SELECT id, ticker, condition_type, threshold, sound_type, fire_count FROM price_alerts WHERE id = ?`, id,
	).Scan(&a.ID, &a.Ticker, &condition, &a.Threshold, &sound, &a.FireCount)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("alerts: alert %d not found", id)
	}
	if err != nil {
		return nil, err
	}
	a.ConditionType = ConditionType(condition)
	a.SoundType = NormalizeSound(sound)

	resolvedSound, err := e.resolveSound(a.SoundType)
	if err != nil {
		resolvedSound = SoundChime
	}
	return e.buildSSEAlertPayload(a, syntheticPrice, resolvedSound), nil
}

// Rearm clears triggered_at/fired_at so a fired alert can fire again. This
// resolves the spec's open question on re-arm semantics: TickerPulse never
// auto re-arms an alert, the user must explicitly re-arm it from the UI.
func (e *Engine) Rearm(ctx context.Context, id int64) error {
	return e.store.Session(ctx, false, func(tx *store.Tx) error {
		_, err := tx.ExecContext(ctx,
			`UPDATE price_alerts SET triggered_at = NULL, fired_at = NULL, notification_sent = 0 WHERE id = ?`, id)
		return err
	})
}

func (e *Engine) buildSSEAlertPayload(a Alert, currentPrice float64, sound SoundType) map[string]interface{} {
	return map[string]interface{}{
		"alert_id":       a.ID,
		"ticker":         a.Ticker,
		"condition_type": string(a.ConditionType),
		"threshold":      sanitizeFloat(a.Threshold),
		"current_price":  sanitizeFloat(currentPrice),
		"message":        formatMessage(a, currentPrice),
		"sound_type":     string(sound),
		"type":           "price_alert",
		"severity":       "high",
		"fire_count":     a.FireCount,
		"timestamp":      time.Now().UTC().Format(time.RFC3339),
	}
}

func formatMessage(a Alert, currentPrice float64) string {
	switch a.ConditionType {
	case ConditionPriceAbove:
		return fmt.Sprintf("%s rose above $%.2f (now $%.2f)", a.Ticker, a.Threshold, currentPrice)
	case ConditionPriceBelow:
		return fmt.Sprintf("%s fell below $%.2f (now $%.2f)", a.Ticker, a.Threshold, currentPrice)
	case ConditionPctChange:
		return fmt.Sprintf("%s moved %.2f%% (now $%.2f)", a.Ticker, capPct(a.Threshold), currentPrice)
	default:
		return fmt.Sprintf("%s alert fired (now $%.2f)", a.Ticker, currentPrice)
	}
}
