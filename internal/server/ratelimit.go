package server

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/tickerpulse/core/internal/broadcast"
	"github.com/tickerpulse/core/internal/providers"
	"github.com/tickerpulse/core/internal/store"
)

// ipRateLimiter is a sliding-window per-key limiter, grounded on the same
// FIFO-window shape internal/providers/ratelimit.go uses for provider
// quotas, applied here to the error-ingestion endpoint's 10/min/IP cap.
type ipRateLimiter struct {
	mu     sync.Mutex
	limit  int
	window time.Duration
	hits   map[string][]time.Time
	now    func() time.Time
}

func newIPRateLimiter(limit int, window time.Duration) *ipRateLimiter {
	return &ipRateLimiter{
		limit:  limit,
		window: window,
		hits:   make(map[string][]time.Time),
		now:    time.Now,
	}
}

// Allow records one hit for key and reports whether it falls within limit
// hits in the trailing window.
func (l *ipRateLimiter) Allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	cutoff := now.Add(-l.window)
	existing := l.hits[key]
	kept := existing[:0]
	for _, t := range existing {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	if len(kept) >= l.limit {
		l.hits[key] = kept
		return false
	}
	l.hits[key] = append(kept, now)
	return true
}

// rateLimitSSESink bridges providers.RateLimitTracker to the SSE broadcaster
// and data_providers_config, implementing providers.RateLimitSink.
type rateLimitSSESink struct {
	sse   *broadcast.SSEBroadcaster
	store *store.Store
	log   zerolog.Logger
}

func newRateLimitSSESink(sse *broadcast.SSEBroadcaster, st *store.Store, log zerolog.Logger) *rateLimitSSESink {
	return &rateLimitSSESink{sse: sse, store: st, log: log.With().Str("component", "rate_limit_sink").Logger()}
}

func (s *rateLimitSSESink) EmitRateLimitUpdate(u providers.RateLimitUpdate) {
	if s.sse == nil {
		return
	}
	payload := map[string]interface{}{
		"provider_id": u.ProviderID,
		"used":        u.Used,
		"max":         u.Max,
		"reset_at":    u.ResetAt.UTC().Format(time.RFC3339),
	}
	if err := s.sse.SendEvent(broadcast.EventRateLimitUpdate, payload); err != nil {
		s.log.Warn().Err(err).Msg("failed to broadcast rate_limit_update")
	}
}

func (s *rateLimitSSESink) FlushRateLimitConfig(providerID string, used, max int, resetAt time.Time) {
	if s.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	err := s.store.Session(ctx, true, func(tx *store.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO data_providers_config (provider_id, rate_limit_used, rate_limit_max, reset_at)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(provider_id) DO UPDATE SET
				rate_limit_used = excluded.rate_limit_used,
				rate_limit_max = excluded.rate_limit_max,
				reset_at = excluded.reset_at`,
			providerID, used, max, resetAt.UTC().Format(time.RFC3339))
		return err
	})
	if err != nil {
		s.log.Warn().Err(err).Str("provider", providerID).Msg("failed to persist rate limit config")
	}
}
