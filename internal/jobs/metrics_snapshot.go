package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/tickerpulse/core/internal/store"
)

const (
	perfSnapshotRetentionDays = 90
	apiLogRetentionDays       = 30
	apiLogRowCap              = 10_000
	uiStateRetentionDays      = 90
)

// LatencySample is one buffered API call timing, flushed into
// api_request_log by metrics_snapshot.
type LatencySample struct {
	Endpoint    string
	Method      string
	StatusClass string
	DurationMs  float64
}

// LatencyBuffer is the subset of the in-memory API latency buffer (see
// spec.md §8) metrics_snapshot drains each run.
type LatencyBuffer interface {
	Drain() []LatencySample
}

// MetricsSnapshot implements the metrics_snapshot job from spec.md §4.K:
// capture CPU/mem/DB-pool stats, flush the latency buffer into
// api_request_log (accumulating call_count, overwriting p95/avg on
// conflict), and prune old rows across several tables.
type MetricsSnapshot struct {
	store  *store.Store
	buffer LatencyBuffer
	log    zerolog.Logger
}

func NewMetricsSnapshot(st *store.Store, buffer LatencyBuffer, log zerolog.Logger) *MetricsSnapshot {
	return &MetricsSnapshot{store: st, buffer: buffer, log: log.With().Str("component", "metrics_snapshot").Logger()}
}

func (m *MetricsSnapshot) Run(ctx context.Context) (Outcome, error) {
	cpuPct, err := cpu.Percent(100*time.Millisecond, false)
	if err != nil || len(cpuPct) == 0 {
		m.log.Warn().Err(err).Msg("failed to read CPU percentage")
		cpuPct = []float64{0}
	}

	memPct := 0.0
	if vm, err := mem.VirtualMemory(); err != nil {
		m.log.Warn().Err(err).Msg("failed to read memory stats")
	} else {
		memPct = vm.UsedPercent
	}

	poolStats := m.store.PoolStats()

	if err := m.store.Session(ctx, false, func(tx *store.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO perf_snapshots (cpu_pct, mem_pct, db_pool_in_use, db_pool_idle)
			VALUES (?, ?, ?, ?)`,
			cpuPct[0], memPct, poolStats.InUse, poolStats.Available)
		return err
	}); err != nil {
		return Outcome{}, fmt.Errorf("insert perf_snapshot: %w", err)
	}

	flushed := 0
	if m.buffer != nil {
		samples := m.buffer.Drain()
		if len(samples) > 0 {
			if err := m.flushLatency(ctx, samples); err != nil {
				return Outcome{}, fmt.Errorf("flush latency buffer: %w", err)
			}
			flushed = len(samples)
		}
	}

	pruned, err := m.prune(ctx)
	if err != nil {
		return Outcome{}, fmt.Errorf("prune: %w", err)
	}

	return Outcome{
		ResultSummary: fmt.Sprintf("cpu=%.1f%% mem=%.1f%% flushed=%d pruned=%d", cpuPct[0], memPct, flushed, pruned),
	}, nil
}

// flushLatency accumulates call_count and overwrites p95/avg per
// (endpoint, method, status_class, log_date), matching spec.md §4.K.
func (m *MetricsSnapshot) flushLatency(ctx context.Context, samples []LatencySample) error {
	type key struct{ endpoint, method, statusClass string }
	grouped := make(map[key][]float64)
	for _, s := range samples {
		k := key{s.Endpoint, s.Method, s.StatusClass}
		grouped[k] = append(grouped[k], s.DurationMs)
	}

	today := time.Now().UTC().Format("2006-01-02")
	return m.store.Session(ctx, true, func(tx *store.Tx) error {
		for k, durations := range grouped {
			avg, p95 := avgAndP95(durations)
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO api_request_log (endpoint, method, status_class, call_count, p95_ms, avg_ms, log_date)
				VALUES (?, ?, ?, ?, ?, ?, ?)
				ON CONFLICT(endpoint, method, status_class, log_date) DO UPDATE SET
					call_count = api_request_log.call_count + excluded.call_count,
					p95_ms = excluded.p95_ms,
					avg_ms = excluded.avg_ms`,
				k.endpoint, k.method, k.statusClass, len(durations), p95, avg, today); err != nil {
				return err
			}
		}
		return nil
	})
}

func avgAndP95(durations []float64) (avg, p95 float64) {
	if len(durations) == 0 {
		return 0, 0
	}
	sorted := append([]float64(nil), durations...)
	for i := 1; i < len(sorted); i++ {
		for j := i; j > 0 && sorted[j-1] > sorted[j]; j-- {
			sorted[j-1], sorted[j] = sorted[j], sorted[j-1]
		}
	}
	sum := 0.0
	for _, d := range sorted {
		sum += d
	}
	avg = sum / float64(len(sorted))
	idx := int(float64(len(sorted))*0.95)
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	p95 = sorted[idx]
	return avg, p95
}

func (m *MetricsSnapshot) prune(ctx context.Context) (int, error) {
	total := 0
	err := m.store.Session(ctx, true, func(tx *store.Tx) error {
		res, err := tx.ExecContext(ctx,
			"DELETE FROM perf_snapshots WHERE recorded_at < datetime('now', printf('-%d days', ?))", perfSnapshotRetentionDays)
		if err != nil {
			return err
		}
		n, _ := res.RowsAffected()
		total += int(n)

		res, err = tx.ExecContext(ctx,
			"DELETE FROM api_request_log WHERE log_date < date('now', printf('-%d days', ?))", apiLogRetentionDays)
		if err != nil {
			return err
		}
		n, _ = res.RowsAffected()
		total += int(n)

		res, err = tx.ExecContext(ctx, `
			DELETE FROM api_request_log WHERE id IN (
				SELECT id FROM api_request_log ORDER BY id DESC LIMIT -1 OFFSET ?)`, apiLogRowCap)
		if err != nil {
			return err
		}
		n, _ = res.RowsAffected()
		total += int(n)

		res, err = tx.ExecContext(ctx,
			"DELETE FROM ui_state WHERE updated_at < datetime('now', printf('-%d days', ?))", uiStateRetentionDays)
		if err != nil {
			return err
		}
		n, _ = res.RowsAffected()
		total += int(n)

		return nil
	})
	return total, err
}
