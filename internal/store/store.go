// Package store implements the transactional sqlite store backing the
// replenishment engine.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/mattn/go-sqlite3"

	"supply_agent/internal/core"
	apperrors "supply_agent/pkg/errors"
	"supply_agent/pkg/retry"
)

// SQLiteStore implements core.Store on a single sqlite database
type SQLiteStore struct {
	db     *sql.DB
	logger core.ILogger
	policy retry.RetryPolicy
}

// NewSQLiteStore opens (or creates) the database at path and bootstraps
// the schema. Use ":memory:" for tests.
func NewSQLiteStore(path string, logger core.ILogger) (*SQLiteStore, error) {
	dsn := fmt.Sprintf("%s?_busy_timeout=5000&_foreign_keys=on", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// every pooled connection to :memory: would otherwise get its own
	// empty database
	if path == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// WAL mode lets the stream subscriptions read while a cycle writes
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		logger.Warn("Failed to enable WAL mode", "error", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger.WithField("component", "sqlite_store"),
		policy: retry.DefaultPolicy,
	}

	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS inventory (
		sku TEXT PRIMARY KEY,
		product_name TEXT NOT NULL DEFAULT '',
		quantity INTEGER NOT NULL DEFAULT 0,
		threshold INTEGER NOT NULL DEFAULT 0,
		unit_price REAL NOT NULL DEFAULT 0,
		holding_cost_percent REAL NOT NULL DEFAULT 0.15,
		reorder_cost REAL NOT NULL DEFAULT 0,
		lead_time_days INTEGER NOT NULL DEFAULT 1,
		supplier TEXT NOT NULL DEFAULT '',
		min_order_qty INTEGER NOT NULL DEFAULT 1,
		max_order_qty INTEGER NOT NULL DEFAULT 0,
		safety_stock INTEGER NOT NULL DEFAULT 0,
		reorder_point INTEGER NOT NULL DEFAULT 0,
		category TEXT NOT NULL DEFAULT '',
		is_active INTEGER NOT NULL DEFAULT 1,
		last_updated TIMESTAMP NOT NULL
	);

	CREATE TABLE IF NOT EXISTS sales (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		sku TEXT NOT NULL,
		sold_quantity INTEGER NOT NULL,
		date TIMESTAMP NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_sales_sku_date ON sales(sku, date);

	CREATE TABLE IF NOT EXISTS orders (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		sku TEXT NOT NULL,
		quantity INTEGER NOT NULL,
		order_date TIMESTAMP NOT NULL,
		status TEXT NOT NULL,
		notes TEXT NOT NULL DEFAULT ''
	);

	CREATE TABLE IF NOT EXISTS alerts (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		message TEXT NOT NULL,
		type TEXT NOT NULL DEFAULT '',
		sku TEXT NOT NULL DEFAULT '',
		priority INTEGER NOT NULL DEFAULT 3,
		created_at TIMESTAMP NOT NULL
	);

	CREATE TABLE IF NOT EXISTS persistent_memory (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		memory_type TEXT NOT NULL,
		event_id TEXT NOT NULL DEFAULT '',
		fact_id TEXT NOT NULL DEFAULT '',
		procedure_id TEXT NOT NULL DEFAULT '',
		timestamp TIMESTAMP NOT NULL,
		event_type TEXT NOT NULL DEFAULT '',
		category TEXT NOT NULL DEFAULT '',
		key TEXT NOT NULL DEFAULT '',
		description TEXT NOT NULL DEFAULT '',
		content TEXT NOT NULL DEFAULT '',
		source TEXT NOT NULL DEFAULT '',
		sku TEXT NOT NULL DEFAULT '',
		confidence REAL NOT NULL DEFAULT 0,
		is_active INTEGER NOT NULL DEFAULT 1
	);
	CREATE INDEX IF NOT EXISTS idx_memory_type_cat_key ON persistent_memory(memory_type, category, key);

	CREATE TABLE IF NOT EXISTS agent_checkpoints (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		checkpoint_id TEXT NOT NULL UNIQUE,
		timestamp TIMESTAMP NOT NULL,
		cycle_number INTEGER NOT NULL,
		goal TEXT NOT NULL DEFAULT '',
		state TEXT NOT NULL DEFAULT '',
		is_stable INTEGER NOT NULL DEFAULT 0,
		is_active INTEGER NOT NULL DEFAULT 1
	);

	CREATE TABLE IF NOT EXISTS jobs (
		id TEXT PRIMARY KEY,
		status TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL,
		started_at TIMESTAMP,
		completed_at TIMESTAMP,
		result TEXT NOT NULL DEFAULT '',
		summary TEXT NOT NULL DEFAULT '',
		error TEXT NOT NULL DEFAULT ''
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// withRetry retries transient sqlite contention errors with jittered
// backoff. Contention that survives every attempt surfaces as
// ErrStoreBusy so callers can tell it from a data error.
func (s *SQLiteStore) withRetry(ctx context.Context, fn func() error) error {
	err := retry.Do(ctx, s.policy, isBusy, fn)
	if err != nil && isBusy(err) {
		return fmt.Errorf("%w: %v", apperrors.ErrStoreBusy, err)
	}
	return err
}

func isBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "database table is locked")
}

// Ping verifies the database connection
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// DB exposes the raw handle for the simulation harness
func (s *SQLiteStore) DB() *sql.DB {
	return s.db
}
