package testutil

import (
	"path/filepath"
	"testing"

	"github.com/mescon/timekeeper/internal/db"
	"github.com/mescon/timekeeper/internal/domain"
)

// NewTestDB creates a migrated SQLite repository in a per-test temp directory.
// It is closed automatically when the test ends.
func NewTestDB(t testing.TB) *db.Repository {
	t.Helper()

	repo, err := db.NewRepository(filepath.Join(t.TempDir(), "timekeeper-test.db"))
	if err != nil {
		t.Fatalf("failed to create test database: %v", err)
	}
	t.Cleanup(func() { _ = repo.Close() })
	return repo
}

// SeedEvent inserts a single event and returns its ID.
func SeedEvent(t testing.TB, repo *db.Repository, event domain.Event) int64 {
	t.Helper()

	id, err := db.InsertEvent(repo.DB, event)
	if err != nil {
		t.Fatalf("failed to seed event: %v", err)
	}
	return id
}

// SeedSession inserts a session row.
func SeedSession(t testing.TB, repo *db.Repository, rec db.SessionRecord) {
	t.Helper()

	if err := repo.InsertSession(rec); err != nil {
		t.Fatalf("failed to seed session: %v", err)
	}
}

// CountEventsByType counts stored events of a given type.
func CountEventsByType(t testing.TB, repo *db.Repository, eventType domain.EventType) int {
	t.Helper()

	var count int
	if err := repo.DB.QueryRow("SELECT COUNT(*) FROM events WHERE event_type = ?", string(eventType)).Scan(&count); err != nil {
		t.Fatalf("failed to count events: %v", err)
	}
	return count
}

// StoredEventTypes returns the types of a session's stored events in order.
func StoredEventTypes(t testing.TB, repo *db.Repository, sessionID string) []domain.EventType {
	t.Helper()

	events, err := repo.SessionEvents(sessionID, 0)
	if err != nil {
		t.Fatalf("failed to load events: %v", err)
	}
	out := make([]domain.EventType, 0, len(events))
	for _, e := range events {
		out = append(out, e.EventType)
	}
	return out
}
