package reliability

import (
	"context"
	"fmt"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/tickerpulse/core/internal/store"
)

// MaintenanceService runs routine database upkeep against the single
// embedded store, grounded on the teacher's
// internal/reliability/maintenance_jobs.go (WAL checkpoint, disk-space
// check, VACUUM) — collapsed from the teacher's per-database loop over
// seven SQLite files (cache/history/portfolio/ledger/…) to TickerPulse's
// one store.
type MaintenanceService struct {
	store *store.Store
	log   zerolog.Logger
}

func NewMaintenanceService(st *store.Store, log zerolog.Logger) *MaintenanceService {
	return &MaintenanceService{store: st, log: log.With().Str("component", "maintenance").Logger()}
}

// RunDaily performs the checks the teacher runs at 2am: a WAL checkpoint to
// keep the write-ahead log from growing unbounded, and a disk-space check
// that logs escalating warnings as free space drops.
func (m *MaintenanceService) RunDaily(ctx context.Context) error {
	start := time.Now()

	if err := m.store.Session(ctx, false, func(tx *store.Tx) error {
		_, err := tx.ExecContext(ctx, "PRAGMA wal_checkpoint(TRUNCATE)")
		return err
	}); err != nil {
		m.log.Warn().Err(err).Msg("wal checkpoint failed")
	}

	if err := m.checkDiskSpace(); err != nil {
		return err
	}

	m.log.Info().Dur("duration_ms", time.Since(start)).Msg("daily maintenance completed")
	return nil
}

// RunWeekly VACUUMs the store to reclaim space freed by deletes/updates
// since the last run, grounded on the teacher's WeeklyMaintenanceJob.
func (m *MaintenanceService) RunWeekly(ctx context.Context) error {
	start := time.Now()

	var before, after, pageSize int64
	err := m.store.Session(ctx, true, func(tx *store.Tx) error {
		if err := tx.QueryRowContext(ctx, "PRAGMA page_count").Scan(&before); err != nil {
			return err
		}
		if err := tx.QueryRowContext(ctx, "PRAGMA page_size").Scan(&pageSize); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, "VACUUM"); err != nil {
			return fmt.Errorf("vacuum: %w", err)
		}
		return tx.QueryRowContext(ctx, "PRAGMA page_count").Scan(&after)
	})
	if err != nil {
		return err
	}

	reclaimedMB := float64((before-after)*pageSize) / 1024 / 1024
	m.log.Info().
		Float64("reclaimed_mb", reclaimedMB).
		Dur("duration_ms", time.Since(start)).
		Msg("weekly vacuum completed")
	return nil
}

// checkDiskSpace mirrors the teacher's three-tier threshold (warn at 10GB,
// error at 5GB, halt at 500MB free) against the store's filesystem.
func (m *MaintenanceService) checkDiskSpace() error {
	var stat syscall.Statfs_t
	if err := syscall.Statfs(".", &stat); err != nil {
		return fmt.Errorf("reliability: statfs: %w", err)
	}

	availableGB := float64(stat.Bavail*uint64(stat.Bsize)) / 1e9
	switch {
	case availableGB < 0.5:
		m.log.Error().Float64("available_gb", availableGB).Msg("critical: disk space nearly exhausted")
		return fmt.Errorf("reliability: only %.2f GB free", availableGB)
	case availableGB < 5.0:
		m.log.Error().Float64("available_gb", availableGB).Msg("low disk space")
	case availableGB < 10.0:
		m.log.Warn().Float64("available_gb", availableGB).Msg("disk space running low")
	}
	return nil
}
