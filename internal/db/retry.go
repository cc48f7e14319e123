package db

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/mescon/timekeeper/internal/logger"
)

// MaxRetries is the number of attempts made on SQLITE_BUSY before giving up.
const MaxRetries = 5

// RetryDelay is the base backoff between attempts; it doubles each time.
const RetryDelay = 50 * time.Millisecond

// isBusy reports whether err is SQLite's lock contention error.
func isBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

// withRetry runs op until it succeeds, fails with a non-busy error, or
// MaxRetries attempts have been made.
func withRetry[T any](what string, op func() (T, error)) (T, error) {
	var (
		out T
		err error
	)
	for attempt := 0; attempt < MaxRetries; attempt++ {
		out, err = op()
		if !isBusy(err) {
			return out, err
		}
		if attempt < MaxRetries-1 {
			delay := RetryDelay << attempt
			logger.Debugf("Database busy on %s, retrying in %v (attempt %d/%d)", what, delay, attempt+1, MaxRetries)
			time.Sleep(delay)
		}
	}
	var zero T
	return zero, fmt.Errorf("database busy after %d retries: %w", MaxRetries, err)
}

// ExecWithRetry executes a statement, retrying on SQLITE_BUSY.
func ExecWithRetry(db *sql.DB, query string, args ...interface{}) (sql.Result, error) {
	return withRetry("exec", func() (sql.Result, error) {
		return db.Exec(query, args...)
	})
}

// QueryWithRetry runs a query, retrying on SQLITE_BUSY.
func QueryWithRetry(db *sql.DB, query string, args ...interface{}) (*sql.Rows, error) {
	return withRetry("query", func() (*sql.Rows, error) {
		return db.Query(query, args...)
	})
}
