// Package database opens SQLite files and applies versioned schemas.
// Both the per-tenant RAG store and the shared auth store go through here.
package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteConfig holds SQLite-specific configuration.
type SQLiteConfig struct {
	Path        string
	JournalMode string
	BusyTimeout int
	ForeignKeys bool
}

// OpenSQLite opens or creates a SQLite database with the given configuration.
// The parent directory is created when missing.
func OpenSQLite(ctx context.Context, config SQLiteConfig) (*sql.DB, error) {
	if config.Path == "" {
		return nil, errors.New("database: empty path")
	}
	if config.JournalMode == "" {
		config.JournalMode = "WAL"
	}
	if config.BusyTimeout == 0 {
		config.BusyTimeout = 5000
	}

	dir := filepath.Dir(config.Path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create database directory %q: %w", dir, err)
	}

	dsn := fmt.Sprintf("%s?_journal_mode=%s&_busy_timeout=%d", config.Path, config.JournalMode, config.BusyTimeout)
	if config.ForeignKeys {
		dsn += "&_foreign_keys=on"
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database %q: %w", config.Path, err)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return db, nil
}

// Migration is one schema step. SQL must be idempotent (IF NOT EXISTS) so a
// database created before versioning was introduced can be adopted.
type Migration struct {
	Version int
	SQL     string
}

// CurrentVersion returns the highest applied migration, or 0. It only reads,
// so it does not contend with an open write transaction.
func CurrentVersion(ctx context.Context, db *sql.DB) (int, error) {
	var name string
	err := db.QueryRowContext(ctx,
		"SELECT name FROM sqlite_master WHERE type = 'table' AND name = 'schema_version'").Scan(&name)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read schema version: %w", err)
	}

	var version int
	err = db.QueryRowContext(ctx, "SELECT COALESCE(MAX(version), 0) FROM schema_version").Scan(&version)
	if err != nil {
		return 0, fmt.Errorf("read schema version: %w", err)
	}
	return version, nil
}

// Migrate applies every migration newer than the current version, each in
// its own transaction. An up-to-date database is left untouched.
func Migrate(ctx context.Context, db *sql.DB, migrations []Migration) error {
	current, err := CurrentVersion(ctx, db)
	if err != nil {
		return err
	}

	pending := false
	for _, m := range migrations {
		if m.Version > current {
			pending = true
			break
		}
	}
	if !pending {
		return nil
	}
	if err := ensureVersionTable(ctx, db); err != nil {
		return err
	}

	for _, m := range migrations {
		if m.Version <= current {
			continue
		}
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin migration %d: %w", m.Version, err)
		}
		if _, err := tx.ExecContext(ctx, m.SQL); err != nil {
			tx.Rollback()
			return fmt.Errorf("apply migration %d: %w", m.Version, err)
		}
		if _, err := tx.ExecContext(ctx, "INSERT OR IGNORE INTO schema_version (version) VALUES (?)", m.Version); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration %d: %w", m.Version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", m.Version, err)
		}
	}
	return nil
}

func ensureVersionTable(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_version (
			version    INTEGER PRIMARY KEY,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("create schema_version table: %w", err)
	}
	return nil
}

// HealthStatus represents the health state of a database file.
type HealthStatus struct {
	Healthy       bool          `json:"healthy"`
	Path          string        `json:"path"`
	Latency       time.Duration `json:"latency"`
	Version       string        `json:"version"`
	SchemaVersion int           `json:"schema_version"`
	Error         string        `json:"error,omitempty"`
}

// Status opens the database at cfg.Path and reports its health. A missing
// file is reported unhealthy rather than created.
func Status(ctx context.Context, cfg SQLiteConfig) HealthStatus {
	st := HealthStatus{Path: cfg.Path}
	if _, err := os.Stat(cfg.Path); err != nil {
		st.Error = err.Error()
		return st
	}

	start := time.Now()
	db, err := OpenSQLite(ctx, cfg)
	if err != nil {
		st.Error = err.Error()
		return st
	}
	defer db.Close()

	if err := db.QueryRowContext(ctx, "SELECT sqlite_version()").Scan(&st.Version); err != nil {
		st.Error = err.Error()
		return st
	}
	v, err := CurrentVersion(ctx, db)
	if err != nil {
		st.Error = err.Error()
		return st
	}
	st.SchemaVersion = v
	st.Latency = time.Since(start)
	st.Healthy = true
	return st
}
