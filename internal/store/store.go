// Package store provides TickerPulse's embedded, transactional data store:
// a single SQLite file opened with WAL journaling, a bounded connection
// pool with explicit acquire/release semantics, batch upsert helpers, and
// idempotent schema migration on open.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite" // pure Go SQLite driver
)

// ErrPoolExhausted is returned by Acquire when no connection becomes
// available before the acquire timeout elapses.
var ErrPoolExhausted = errors.New("store: connection pool exhausted")

// Config configures a new Store.
type Config struct {
	Path          string        // file path, or a "file:" URI (e.g. in-memory test DBs)
	PoolSize      int           // bounded pool size, default 5
	AcquireTimeout time.Duration // default 10s
	BusyTimeoutMs int           // default 5000
	CacheSizeKB   int           // default 8192 (~8 MiB)
}

func (c *Config) setDefaults() {
	if c.PoolSize <= 0 {
		c.PoolSize = 5
	}
	if c.AcquireTimeout <= 0 {
		c.AcquireTimeout = 10 * time.Second
	}
	if c.BusyTimeoutMs <= 0 {
		c.BusyTimeoutMs = 5000
	}
	if c.CacheSizeKB <= 0 {
		c.CacheSizeKB = 8192
	}
}

// Store wraps the embedded database with a bounded acquire/release pool.
type Store struct {
	db       *sql.DB
	cfg      Config
	sem      chan struct{}
	mu       sync.Mutex // guards inUse
	settingsMu sync.Mutex // serializes SetSetting's read-modify-write against settings
	inUse    int
}

// Open creates (if needed) and opens the embedded store, applies pragmas,
// and runs the idempotent schema migration pass.
func Open(cfg Config) (*Store, error) {
	cfg.setDefaults()

	if !strings.HasPrefix(cfg.Path, "file:") {
		absPath, err := filepath.Abs(cfg.Path)
		if err != nil {
			return nil, fmt.Errorf("store: resolve path: %w", err)
		}
		if err := os.MkdirAll(filepath.Dir(absPath), 0o755); err != nil {
			return nil, fmt.Errorf("store: create data dir: %w", err)
		}
		cfg.Path = absPath
	}

	connStr := buildConnString(cfg)
	db, err := sql.Open("sqlite", connStr)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", cfg.Path, err)
	}
	db.SetMaxOpenConns(cfg.PoolSize)
	db.SetMaxIdleConns(cfg.PoolSize)
	db.SetConnMaxLifetime(24 * time.Hour)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("store: ping %s: %w", cfg.Path, err)
	}

	s := &Store{
		db:  db,
		cfg: cfg,
		sem: make(chan struct{}, cfg.PoolSize),
	}

	if err := Migrate(db); err != nil {
		return nil, fmt.Errorf("store: migrate: %w", err)
	}

	return s, nil
}

func buildConnString(cfg Config) string {
	connStr := cfg.Path + "?_pragma=journal_mode(WAL)"
	connStr += fmt.Sprintf("&_pragma=busy_timeout(%d)", cfg.BusyTimeoutMs)
	connStr += fmt.Sprintf("&_pragma=cache_size(-%d)", cfg.CacheSizeKB)
	connStr += "&_pragma=foreign_keys(1)"
	connStr += "&_pragma=synchronous(NORMAL)"
	connStr += "&_pragma=wal_autocheckpoint(1000)"
	return connStr
}

// DB exposes the underlying *sql.DB for callers that need raw access
// (migrations, health checks). Prefer Acquire/Session for normal queries.
func (s *Store) DB() *sql.DB { return s.db }

// Close closes the underlying database.
func (s *Store) Close() error { return s.db.Close() }

// Conn is a checked-out connection. Callers must call the release func
// returned by Acquire exactly once, even on panic.
type Conn struct {
	*sql.Conn
}

// Acquire reserves a pool slot and returns a dedicated connection plus a
// release function. It fails with ErrPoolExhausted if no slot frees up
// before ctx's deadline or cfg.AcquireTimeout, whichever is sooner.
func (s *Store) Acquire(ctx context.Context) (*Conn, func(), error) {
	acquireCtx, cancel := context.WithTimeout(ctx, s.cfg.AcquireTimeout)
	defer cancel()

	select {
	case s.sem <- struct{}{}:
	case <-acquireCtx.Done():
		return nil, nil, ErrPoolExhausted
	}

	conn, err := s.db.Conn(ctx)
	if err != nil {
		<-s.sem
		return nil, nil, fmt.Errorf("store: acquire connection: %w", err)
	}

	s.mu.Lock()
	s.inUse++
	s.mu.Unlock()

	var once sync.Once
	release := func() {
		once.Do(func() {
			_ = conn.Close()
			s.mu.Lock()
			s.inUse--
			s.mu.Unlock()
			<-s.sem
		})
	}

	return &Conn{conn}, release, nil
}

// Tx is the handle Session hands to its callback: a checked-out connection
// already inside an open transaction. Queries run through it the same way
// they would through *sql.Tx.
type Tx struct {
	*sql.Conn
}

// Session runs fn inside a transaction, committing on nil return and rolling
// back otherwise. immediate=true issues BEGIN IMMEDIATE, acquiring the write
// lock up front to serialize concurrent read-modify-write sequences against
// the settings/scheduler tables (see §9 of the spec). fn receives the raw
// connection directly (not *sql.Tx) because modernc.org/sqlite's BeginTx
// always issues a plain BEGIN; only an explicit statement lets us request
// BEGIN IMMEDIATE.
func (s *Store) Session(ctx context.Context, immediate bool, fn func(tx *Tx) error) error {
	conn, release, err := s.Acquire(ctx)
	if err != nil {
		return err
	}
	defer release()

	beginStmt := "BEGIN"
	if immediate {
		beginStmt = "BEGIN IMMEDIATE"
	}
	if _, err := conn.ExecContext(ctx, beginStmt); err != nil {
		return fmt.Errorf("store: %s: %w", beginStmt, err)
	}

	if err := fn(&Tx{conn.Conn}); err != nil {
		if _, rbErr := conn.ExecContext(ctx, "ROLLBACK"); rbErr != nil {
			return fmt.Errorf("store: rollback after %w: %v", err, rbErr)
		}
		return err
	}
	if _, err := conn.ExecContext(ctx, "COMMIT"); err != nil {
		return fmt.Errorf("store: commit: %w", err)
	}
	return nil
}

// Stats reports pool utilization for health checks.
type Stats struct {
	Size      int
	InUse     int
	Available int
}

// PoolStats returns the current pool utilization.
func (s *Store) PoolStats() Stats {
	s.mu.Lock()
	inUse := s.inUse
	s.mu.Unlock()
	return Stats{
		Size:      s.cfg.PoolSize,
		InUse:     inUse,
		Available: s.cfg.PoolSize - inUse,
	}
}

// BatchUpsert executes a single parameterised
// INSERT INTO table (...) VALUES (...), (...), ... ON CONFLICT(conflictCols)
// DO UPDATE SET updateCols = excluded.updateCols against rows, which must
// all share the same column set (map keys). Conflict/update columns must be
// a subset of those keys. A nil or empty rows slice is a no-op.
func BatchUpsert(ctx context.Context, tx *Tx, table string, rows []map[string]interface{}, conflictCols, updateCols []string) error {
	if len(rows) == 0 {
		return nil
	}

	cols := make([]string, 0, len(rows[0]))
	for c := range rows[0] {
		cols = append(cols, c)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "INSERT INTO %s (%s) VALUES ", table, strings.Join(cols, ", "))

	args := make([]interface{}, 0, len(rows)*len(cols))
	for i, row := range rows {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString("(")
		for j, c := range cols {
			if j > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString("?")
			args = append(args, row[c])
		}
		sb.WriteString(")")
	}

	fmt.Fprintf(&sb, " ON CONFLICT(%s) DO UPDATE SET ", strings.Join(conflictCols, ", "))
	for i, c := range updateCols {
		if i > 0 {
			sb.WriteString(", ")
		}
		fmt.Fprintf(&sb, "%s = excluded.%s", c, c)
	}

	_, err := tx.ExecContext(ctx, sb.String(), args...)
	if err != nil {
		return fmt.Errorf("store: batch upsert into %s: %w", table, err)
	}
	return nil
}
