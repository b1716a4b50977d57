package server

import (
	"context"
	"database/sql"

	"github.com/tickerpulse/core/internal/broadcast"
	"github.com/tickerpulse/core/internal/store"
)

// SSEEventEmitter adapts *broadcast.SSEBroadcaster to alerts.EventEmitter.
// The alerts package stays free of a broadcast dependency (it predates SSE
// in the teacher's layering), so this narrow shim converts the plain-string
// event type and generic map payload the engine emits into the broadcaster's
// typed EventType/interface{} signature. Exported so cmd/server can build
// one ahead of constructing the alerts.Engine, which the Server is then
// handed as a finished dependency.
type SSEEventEmitter struct {
	sse *broadcast.SSEBroadcaster
}

func NewSSEEventEmitter(sse *broadcast.SSEBroadcaster) *SSEEventEmitter {
	return &SSEEventEmitter{sse: sse}
}

func (e *SSEEventEmitter) SendEvent(eventType string, data map[string]interface{}) error {
	if e.sse == nil {
		return nil
	}
	return e.sse.SendEvent(broadcast.EventType(eventType), data)
}

// StorePriceLookup adapts *store.Store to alerts.PriceLookup, resolving the
// current_price/price_change_pct the price_refresh job just wrote into
// ai_ratings.
type StorePriceLookup struct {
	store *store.Store
}

func NewStorePriceLookup(st *store.Store) *StorePriceLookup {
	return &StorePriceLookup{store: st}
}

func (l *StorePriceLookup) CurrentPrice(ctx context.Context, ticker string) (price, changePct float64, ok bool, err error) {
	sessErr := l.store.Session(ctx, false, func(tx *store.Tx) error {
		var p, c sql.NullFloat64
		scanErr := tx.QueryRowContext(ctx,
			"SELECT current_price, price_change_pct FROM ai_ratings WHERE ticker = ?", ticker).Scan(&p, &c)
		if scanErr == sql.ErrNoRows {
			return nil
		}
		if scanErr != nil {
			return scanErr
		}
		if p.Valid {
			price = p.Float64
			ok = true
		}
		if c.Valid {
			changePct = c.Float64
		}
		return nil
	})
	if sessErr != nil {
		return 0, 0, false, sessErr
	}
	return price, changePct, ok, nil
}
