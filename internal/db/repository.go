package db

import (
	"database/sql"
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite" // Register pure-Go SQLite driver for database/sql

	"github.com/mescon/timekeeper/internal/logger"
)

// TimeLayout is how timestamps are stored. Always UTC with fixed-width
// milliseconds, so stored values compare correctly as strings.
const TimeLayout = "2006-01-02 15:04:05.000"

// FormatTime renders t for storage.
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

// ParseTime reads a stored timestamp. Values written by SQLite's
// CURRENT_TIMESTAMP (no fraction) are accepted too.
func ParseTime(s string) (time.Time, error) {
	for _, layout := range []string{TimeLayout, "2006-01-02 15:04:05"} {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised timestamp %q", s)
}

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Repository provides database access methods for the application.
type Repository struct {
	DB *sql.DB
}

// NewRepository opens (creating if needed) the database at dbPath, applies
// pragmas and runs pending migrations.
func NewRepository(dbPath string) (*Repository, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// WAL allows concurrent readers with a single writer; a small pool keeps
	// lock contention down.
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(0)
	db.SetConnMaxIdleTime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if err := configureSQLite(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to configure database: %w", err)
	}

	repo := &Repository{DB: db}
	if err := repo.runMigrations(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	if err := repo.checkIntegrity(); err != nil {
		logger.Errorf("Warning: database integrity check failed: %v", err)
	}

	return repo, nil
}

func configureSQLite(db *sql.DB) error {
	criticalPragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	}
	for _, pragma := range criticalPragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to set critical pragma %s: %w", pragma, err)
		}
	}

	optionalPragmas := []string{
		"PRAGMA synchronous=NORMAL",
		"PRAGMA auto_vacuum=INCREMENTAL",
		"PRAGMA temp_store=MEMORY",
	}
	for _, pragma := range optionalPragmas {
		if _, err := db.Exec(pragma); err != nil {
			logger.Debugf("Failed to set optional pragma %s: %v", pragma, err)
		}
	}
	return nil
}

func (r *Repository) checkIntegrity() error {
	var result string
	if err := r.DB.QueryRow("PRAGMA quick_check").Scan(&result); err != nil {
		return fmt.Errorf("integrity check query failed: %w", err)
	}
	if result != "ok" {
		return fmt.Errorf("integrity check failed: %s", result)
	}
	logger.Debugf("Database integrity check passed")
	return nil
}

// Ping verifies the database is reachable.
func (r *Repository) Ping() error {
	return r.DB.Ping()
}

// Close closes the database connection.
func (r *Repository) Close() error {
	return r.DB.Close()
}

// GracefulClose merges the WAL into the main database file and closes it.
// Call on shutdown.
func (r *Repository) GracefulClose() error {
	if _, err := r.DB.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		logger.Warnf("Shutdown WAL checkpoint failed: %v", err)
	}
	if err := r.DB.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	logger.Infof("Database closed")
	return nil
}

// Checkpoint runs a passive WAL checkpoint.
func (r *Repository) Checkpoint() error {
	if _, err := r.DB.Exec("PRAGMA wal_checkpoint(PASSIVE)"); err != nil {
		return fmt.Errorf("checkpoint failed: %w", err)
	}
	return nil
}

// MaintenanceResult reports what RunMaintenance removed.
type MaintenanceResult struct {
	EventsPruned   int64 `json:"events_pruned"`
	SessionsPruned int64 `json:"sessions_pruned"`
}

// RunMaintenance prunes the history of sessions deleted more than
// retentionDays ago (and any events whose session row is gone), then
// vacuums, analyzes and checkpoints. Events of live sessions are never
// pruned. retentionDays <= 0 skips pruning.
func (r *Repository) RunMaintenance(retentionDays int) (MaintenanceResult, error) {
	var res MaintenanceResult
	logger.Infof("Starting database maintenance...")

	if retentionDays > 0 {
		cutoff := FormatTime(time.Now().AddDate(0, 0, -retentionDays))

		out, err := ExecWithRetry(r.DB, `
			DELETE FROM events
			WHERE created_at < ?
			  AND aggregate_id NOT IN (SELECT id FROM sessions WHERE deleted_at IS NULL)`, cutoff)
		if err != nil {
			return res, fmt.Errorf("failed to prune events: %w", err)
		}
		res.EventsPruned, _ = out.RowsAffected()

		out, err = ExecWithRetry(r.DB, `DELETE FROM sessions WHERE deleted_at IS NOT NULL AND deleted_at < ?`, cutoff)
		if err != nil {
			return res, fmt.Errorf("failed to prune sessions: %w", err)
		}
		res.SessionsPruned, _ = out.RowsAffected()

		if res.EventsPruned > 0 || res.SessionsPruned > 0 {
			logger.Infof("Pruned %d events and %d deleted sessions older than %d days",
				res.EventsPruned, res.SessionsPruned, retentionDays)
		}
	}

	for _, op := range []struct{ name, sql string }{
		{"incremental vacuum", "PRAGMA incremental_vacuum"},
		{"database analysis", "ANALYZE"},
		{"WAL checkpoint", "PRAGMA wal_checkpoint(TRUNCATE)"},
	} {
		if _, err := r.DB.Exec(op.sql); err != nil {
			logger.Debugf("%s failed (might not be applicable): %v", op.name, err)
		}
	}

	logger.Infof("Database maintenance completed")
	return res, nil
}

// =============================================================================
// Migrations
// =============================================================================

func (r *Repository) runMigrations() error {
	if _, err := r.DB.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (version INTEGER PRIMARY KEY, applied_at TEXT)`); err != nil {
		return fmt.Errorf("failed to create schema_migrations table: %w", err)
	}

	var current int
	if err := r.DB.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&current); err != nil {
		return fmt.Errorf("failed to get current migration version: %w", err)
	}

	files, err := migrationFiles()
	if err != nil {
		return err
	}

	for _, file := range files {
		var version int
		if _, err := fmt.Sscanf(file, "%d_", &version); err != nil {
			logger.Errorf("Skipping invalid migration file: %s", file)
			continue
		}
		if version <= current {
			continue
		}
		logger.Infof("Applying migration: %s", file)
		if err := r.applyMigration(file, version); err != nil {
			return err
		}
	}
	return nil
}

func migrationFiles() ([]string, error) {
	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return nil, fmt.Errorf("failed to read embedded migrations: %w", err)
	}
	var files []string
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".sql") {
			files = append(files, entry.Name())
		}
	}
	sort.Strings(files)
	return files, nil
}

func (r *Repository) applyMigration(file string, version int) error {
	content, err := migrationsFS.ReadFile("migrations/" + file)
	if err != nil {
		return fmt.Errorf("failed to read migration file %s: %w", file, err)
	}

	tx, err := r.DB.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(string(content)); err != nil {
		return fmt.Errorf("failed to execute migration %s: %w", file, err)
	}
	if _, err := tx.Exec("INSERT INTO schema_migrations (version, applied_at) VALUES (?, ?)", version, FormatTime(time.Now())); err != nil {
		return fmt.Errorf("failed to record migration version %s: %w", file, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit migration %s: %w", file, err)
	}
	return nil
}
