package store

import (
	"database/sql"
	"fmt"
)

// table describes one table's base DDL plus the additive columns a
// migration pass must backfill on an existing installation. Schema changes
// are always additive (ALTER TABLE ADD COLUMN) and idempotent, never
// destructive, per spec.md §6.
type table struct {
	name    string
	create  string // CREATE TABLE IF NOT EXISTS body
	columns []column
}

type column struct {
	name string
	ddl  string // e.g. "TEXT", "REAL DEFAULT 0"
}

// tables enumerates the full TickerPulse schema (spec.md §3).
var tables = []table{
	{
		name: "stocks",
		create: `CREATE TABLE IF NOT EXISTS stocks (
			ticker TEXT PRIMARY KEY,
			name TEXT,
			market TEXT NOT NULL DEFAULT 'US',
			active INTEGER NOT NULL DEFAULT 1,
			added_at TEXT NOT NULL DEFAULT (datetime('now'))
		)`,
	},
	{
		name: "watchlists",
		create: `CREATE TABLE IF NOT EXISTS watchlists (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL UNIQUE,
			sort_order INTEGER NOT NULL DEFAULT 0,
			created_at TEXT NOT NULL DEFAULT (datetime('now'))
		)`,
	},
	{
		name: "watchlist_stocks",
		create: `CREATE TABLE IF NOT EXISTS watchlist_stocks (
			watchlist_id INTEGER NOT NULL,
			ticker TEXT NOT NULL,
			sort_order INTEGER NOT NULL DEFAULT 0,
			PRIMARY KEY (watchlist_id, ticker)
		)`,
	},
	{
		name: "ai_ratings",
		create: `CREATE TABLE IF NOT EXISTS ai_ratings (
			ticker TEXT NOT NULL UNIQUE,
			rating TEXT,
			score REAL,
			confidence REAL,
			current_price REAL,
			price_change REAL,
			price_change_pct REAL,
			rsi REAL,
			sentiment_score REAL,
			sentiment_label TEXT,
			technical_score REAL,
			fundamental_score REAL,
			summary TEXT,
			updated_at TEXT
		)`,
		columns: []column{
			{"rsi", "REAL"},
			{"technical_score", "REAL"},
			{"fundamental_score", "REAL"},
		},
	},
	{
		name: "price_alerts",
		create: `CREATE TABLE IF NOT EXISTS price_alerts (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			ticker TEXT NOT NULL,
			condition_type TEXT NOT NULL,
			threshold REAL NOT NULL,
			enabled INTEGER NOT NULL DEFAULT 1,
			sound_type TEXT NOT NULL DEFAULT 'default',
			triggered_at TEXT,
			notification_sent INTEGER NOT NULL DEFAULT 0,
			fired_at TEXT,
			fire_count INTEGER NOT NULL DEFAULT 0,
			created_at TEXT NOT NULL DEFAULT (datetime('now'))
		)`,
		columns: []column{
			{"sound_type", "TEXT NOT NULL DEFAULT 'default'"},
			{"fired_at", "TEXT"},
			{"fire_count", "INTEGER NOT NULL DEFAULT 0"},
		},
	},
	{
		name: "job_history",
		create: `CREATE TABLE IF NOT EXISTS job_history (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			job_id TEXT NOT NULL,
			job_name TEXT NOT NULL,
			status TEXT NOT NULL,
			result_summary TEXT,
			agent_name TEXT,
			duration_ms INTEGER,
			cost REAL,
			executed_at TEXT NOT NULL DEFAULT (datetime('now'))
		)`,
	},
	{
		name: "agent_runs",
		create: `CREATE TABLE IF NOT EXISTS agent_runs (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			agent_name TEXT NOT NULL,
			framework TEXT,
			status TEXT NOT NULL,
			input_data TEXT,
			output_data TEXT,
			tokens_input INTEGER,
			tokens_output INTEGER,
			estimated_cost REAL,
			duration_ms INTEGER,
			error TEXT,
			metadata BLOB,
			started_at TEXT NOT NULL DEFAULT (datetime('now')),
			completed_at TEXT
		)`,
		columns: []column{
			{"tokens_input", "INTEGER"},
			{"tokens_output", "INTEGER"},
			{"metadata", "BLOB"},
		},
	},
	{
		name: "perf_snapshots",
		create: `CREATE TABLE IF NOT EXISTS perf_snapshots (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			cpu_pct REAL,
			mem_pct REAL,
			db_pool_in_use INTEGER,
			db_pool_idle INTEGER,
			recorded_at TEXT NOT NULL DEFAULT (datetime('now'))
		)`,
	},
	{
		name: "api_request_log",
		create: `CREATE TABLE IF NOT EXISTS api_request_log (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			endpoint TEXT NOT NULL,
			method TEXT NOT NULL,
			status_class TEXT NOT NULL,
			call_count INTEGER NOT NULL DEFAULT 0,
			p95_ms REAL,
			avg_ms REAL,
			log_date TEXT NOT NULL,
			UNIQUE(endpoint, method, status_class, log_date)
		)`,
	},
	{
		name: "comparison_runs",
		create: `CREATE TABLE IF NOT EXISTS comparison_runs (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			prompt TEXT,
			ticker TEXT,
			status TEXT NOT NULL DEFAULT 'pending',
			template TEXT,
			created_at TEXT NOT NULL DEFAULT (datetime('now'))
		)`,
	},
	{
		name: "comparison_results",
		create: `CREATE TABLE IF NOT EXISTS comparison_results (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id INTEGER NOT NULL,
			provider_name TEXT NOT NULL,
			model TEXT,
			response TEXT,
			tokens_used INTEGER,
			latency_ms INTEGER,
			error TEXT,
			extracted_rating TEXT,
			extracted_score REAL,
			extracted_confidence REAL,
			extracted_summary TEXT
		)`,
	},
	{
		name: "news",
		create: `CREATE TABLE IF NOT EXISTS news (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			ticker TEXT NOT NULL,
			headline TEXT,
			sentiment_score REAL,
			source TEXT,
			published_at TEXT NOT NULL DEFAULT (datetime('now'))
		)`,
	},
	{
		name: "sentiment_cache",
		create: `CREATE TABLE IF NOT EXISTS sentiment_cache (
			ticker TEXT PRIMARY KEY,
			score REAL,
			label TEXT,
			signal_count INTEGER,
			sources TEXT,
			updated_at TEXT NOT NULL DEFAULT (datetime('now'))
		)`,
	},
	{
		name: "earnings_events",
		create: `CREATE TABLE IF NOT EXISTS earnings_events (
			ticker TEXT NOT NULL,
			earnings_date TEXT NOT NULL,
			eps_estimate REAL,
			eps_actual REAL,
			revenue_estimate REAL,
			revenue_actual REAL,
			PRIMARY KEY (ticker, earnings_date)
		)`,
	},
	{
		name: "download_stats",
		create: `CREATE TABLE IF NOT EXISTS download_stats (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			repo TEXT NOT NULL,
			clone_count INTEGER NOT NULL DEFAULT 0,
			recorded_at TEXT NOT NULL DEFAULT (datetime('now'))
		)`,
	},
	{
		name: "download_daily",
		create: `CREATE TABLE IF NOT EXISTS download_daily (
			repo TEXT NOT NULL,
			log_date TEXT NOT NULL,
			clone_count INTEGER NOT NULL DEFAULT 0,
			PRIMARY KEY (repo, log_date)
		)`,
	},
	{
		name: "portfolio_positions",
		create: `CREATE TABLE IF NOT EXISTS portfolio_positions (
			ticker TEXT PRIMARY KEY,
			quantity REAL NOT NULL DEFAULT 0,
			average_cost REAL,
			updated_at TEXT NOT NULL DEFAULT (datetime('now'))
		)`,
	},
	{
		name: "portfolio_snapshots",
		create: `CREATE TABLE IF NOT EXISTS portfolio_snapshots (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			total_value REAL,
			snapshot_data TEXT,
			recorded_at TEXT NOT NULL DEFAULT (datetime('now'))
		)`,
	},
	{
		name: "error_log",
		create: `CREATE TABLE IF NOT EXISTS error_log (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			source TEXT NOT NULL,
			message TEXT NOT NULL,
			stack_trace TEXT,
			request_id TEXT,
			recorded_at TEXT NOT NULL DEFAULT (datetime('now'))
		)`,
	},
	{
		name: "settings",
		create: `CREATE TABLE IF NOT EXISTS settings (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)`,
	},
	{
		name: "ui_state",
		create: `CREATE TABLE IF NOT EXISTS ui_state (
			key TEXT PRIMARY KEY,
			value TEXT,
			updated_at TEXT NOT NULL DEFAULT (datetime('now'))
		)`,
	},
	{
		name: "data_providers_config",
		create: `CREATE TABLE IF NOT EXISTS data_providers_config (
			provider_id TEXT PRIMARY KEY,
			rate_limit_used INTEGER NOT NULL DEFAULT 0,
			rate_limit_max INTEGER NOT NULL DEFAULT 0,
			reset_at TEXT
		)`,
	},
	{
		name: "scheduler_jobs",
		create: `CREATE TABLE IF NOT EXISTS scheduler_jobs (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			trigger_type TEXT NOT NULL,
			trigger_args TEXT NOT NULL,
			enabled INTEGER NOT NULL DEFAULT 1,
			next_run_time TEXT,
			updated_at TEXT NOT NULL DEFAULT (datetime('now'))
		)`,
	},
	{
		name: "agent_schedules",
		create: `CREATE TABLE IF NOT EXISTS agent_schedules (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			job_id TEXT NOT NULL,
			trigger_type TEXT NOT NULL,
			trigger_args TEXT NOT NULL,
			created_at TEXT NOT NULL DEFAULT (datetime('now'))
		)`,
	},
	{
		name: "research_briefs",
		create: `CREATE TABLE IF NOT EXISTS research_briefs (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			ticker TEXT NOT NULL,
			title TEXT NOT NULL,
			content TEXT NOT NULL,
			agent_name TEXT,
			created_at TEXT NOT NULL DEFAULT (datetime('now'))
		)`,
	},
	{
		name: "performance_metrics",
		create: `CREATE TABLE IF NOT EXISTS performance_metrics (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			job_id TEXT NOT NULL,
			metric TEXT NOT NULL,
			value REAL NOT NULL,
			recorded_at TEXT NOT NULL DEFAULT (datetime('now'))
		)`,
	},
}

// Migrate creates any missing tables and then adds any missing columns.
// It is safe to call repeatedly: CREATE TABLE IF NOT EXISTS and a
// PRAGMA-table_info-driven ADD COLUMN pass are both no-ops once applied.
func Migrate(db *sql.DB) error {
	for _, t := range tables {
		if _, err := db.Exec(t.create); err != nil {
			return fmt.Errorf("create table %s: %w", t.name, err)
		}
	}
	for _, t := range tables {
		existing, err := existingColumns(db, t.name)
		if err != nil {
			return fmt.Errorf("inspect table %s: %w", t.name, err)
		}
		for _, col := range t.columns {
			if existing[col.name] {
				continue
			}
			stmt := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", t.name, col.name, col.ddl)
			if _, err := db.Exec(stmt); err != nil {
				return fmt.Errorf("add column %s.%s: %w", t.name, col.name, err)
			}
		}
	}
	return nil
}

func existingColumns(db *sql.DB, table string) (map[string]bool, error) {
	rows, err := db.Query(fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cols := make(map[string]bool)
	for rows.Next() {
		var (
			cid        int
			name       string
			ctype      string
			notnull    int
			dfltValue  sql.NullString
			pk         int
		)
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dfltValue, &pk); err != nil {
			return nil, err
		}
		cols[name] = true
	}
	return cols, rows.Err()
}
