package db

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mescon/timekeeper/internal/domain"
)

// ErrNotFound is returned when a session row does not exist or was deleted.
var ErrNotFound = errors.New("record not found")

// SessionRecord is the persisted metadata of a timing session. Engine state
// is not stored.
type SessionRecord struct {
	ID        string
	Name      string
	Kind      domain.SessionKind
	Duration  time.Duration // configured countdown duration; zero for stopwatches
	CreatedAt time.Time
}

// InsertSession stores a new session row.
func (r *Repository) InsertSession(rec SessionRecord) error {
	_, err := ExecWithRetry(r.DB,
		`INSERT INTO sessions (id, name, kind, duration_ms, created_at) VALUES (?, ?, ?, ?, ?)`,
		rec.ID, rec.Name, string(rec.Kind), rec.Duration.Milliseconds(), FormatTime(rec.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to insert session %s: %w", rec.ID, err)
	}
	return nil
}

// UpdateSessionDuration records a new configured duration.
func (r *Repository) UpdateSessionDuration(id string, d time.Duration) error {
	res, err := ExecWithRetry(r.DB,
		`UPDATE sessions SET duration_ms = ? WHERE id = ? AND deleted_at IS NULL`,
		d.Milliseconds(), id)
	if err != nil {
		return fmt.Errorf("failed to update session %s: %w", id, err)
	}
	return requireRow(res)
}

// MarkSessionDeleted soft-deletes a session. Its event history is kept until
// maintenance prunes it.
func (r *Repository) MarkSessionDeleted(id string, at time.Time) error {
	res, err := ExecWithRetry(r.DB,
		`UPDATE sessions SET deleted_at = ? WHERE id = ? AND deleted_at IS NULL`,
		FormatTime(at), id)
	if err != nil {
		return fmt.Errorf("failed to delete session %s: %w", id, err)
	}
	return requireRow(res)
}

// ListSessions returns live sessions, oldest first.
func (r *Repository) ListSessions() ([]SessionRecord, error) {
	rows, err := QueryWithRetry(r.DB, `
		SELECT id, name, kind, duration_ms, created_at
		FROM sessions WHERE deleted_at IS NULL
		ORDER BY created_at ASC, id ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	var out []SessionRecord
	for rows.Next() {
		var (
			rec       SessionRecord
			kind      string
			ms        int64
			createdAt string
		)
		if err := rows.Scan(&rec.ID, &rec.Name, &kind, &ms, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		rec.Kind = domain.SessionKind(kind)
		rec.Duration = time.Duration(ms) * time.Millisecond
		if rec.CreatedAt, err = ParseTime(createdAt); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// InsertEvent writes one event to the event store and returns its ID.
func InsertEvent(db *sql.DB, e domain.Event) (int64, error) {
	data, err := json.Marshal(e.EventData)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal event data: %w", err)
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	if e.EventVersion == 0 {
		e.EventVersion = 1
	}

	res, err := ExecWithRetry(db, `
		INSERT INTO events (aggregate_type, aggregate_id, event_type, event_data, event_version, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		e.AggregateType, e.AggregateID, string(e.EventType), string(data), e.EventVersion, FormatTime(e.CreatedAt))
	if err != nil {
		return 0, fmt.Errorf("failed to persist event: %w", err)
	}
	return res.LastInsertId()
}

// SessionEvents returns the newest limit events of a session in chronological
// order. limit <= 0 returns all of them.
func (r *Repository) SessionEvents(sessionID string, limit int) ([]domain.Event, error) {
	if limit <= 0 {
		limit = -1 // SQLite: no limit
	}
	rows, err := QueryWithRetry(r.DB, `
		SELECT id, aggregate_type, aggregate_id, event_type, event_data, event_version, created_at
		FROM (
			SELECT * FROM events
			WHERE aggregate_type = ? AND aggregate_id = ?
			ORDER BY id DESC LIMIT ?
		) ORDER BY id ASC`, domain.AggregateSession, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

func scanEvents(rows *sql.Rows) ([]domain.Event, error) {
	events := []domain.Event{}
	for rows.Next() {
		var (
			e         domain.Event
			eventType string
			data      string
			createdAt string
		)
		if err := rows.Scan(&e.ID, &e.AggregateType, &e.AggregateID, &eventType, &data, &e.EventVersion, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		e.EventType = domain.EventType(eventType)
		if err := json.Unmarshal([]byte(data), &e.EventData); err != nil {
			return nil, fmt.Errorf("failed to decode event %d: %w", e.ID, err)
		}
		t, err := ParseTime(createdAt)
		if err != nil {
			return nil, err
		}
		e.CreatedAt = t
		events = append(events, e)
	}
	return events, rows.Err()
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
