package testutil

import (
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/mescon/timekeeper/internal/domain"
)

// EventOption is a functional option for configuring test events.
type EventOption func(*domain.Event)

// WithSessionID sets a specific aggregate ID.
func WithSessionID(id string) EventOption {
	return func(e *domain.Event) {
		e.AggregateID = id
	}
}

// WithCreatedAt sets the event creation time.
func WithCreatedAt(t time.Time) EventOption {
	return func(e *domain.Event) {
		e.CreatedAt = t
	}
}

// WithEventData merges additional data into EventData.
func WithEventData(data map[string]interface{}) EventOption {
	return func(e *domain.Event) {
		for k, v := range data {
			e.EventData[k] = v
		}
	}
}

func newEvent(t domain.EventType, data map[string]interface{}, opts []EventOption) domain.Event {
	e := domain.NewSessionEvent(uuid.New().String(), t, data)
	for _, opt := range opts {
		opt(&e)
	}
	return e
}

// NewSessionCreatedEvent creates a SessionCreated event for testing.
func NewSessionCreatedEvent(kind domain.SessionKind, name string, opts ...EventOption) domain.Event {
	return newEvent(domain.SessionCreated, map[string]interface{}{
		domain.KeyName: name,
		domain.KeyKind: string(kind),
	}, opts)
}

// NewCommandEvent creates a Started/Stopped/Reset event for testing.
func NewCommandEvent(t domain.EventType, kind domain.SessionKind, opts ...EventOption) domain.Event {
	return newEvent(t, map[string]interface{}{
		domain.KeyKind: string(kind),
	}, opts)
}

// NewExpiredEvent creates a CountdownExpired event for testing.
func NewExpiredEvent(name string, duration, lateness time.Duration, opts ...EventOption) domain.Event {
	return newEvent(domain.CountdownExpired, map[string]interface{}{
		domain.KeyName:       name,
		domain.KeyKind:       string(domain.KindCountdown),
		domain.KeyDurationMS: domain.Millis(duration),
		domain.KeyLatenessMS: domain.Millis(lateness),
	}, opts)
}

// =============================================================================
// EventRecorder - captures events delivered by the bus
// =============================================================================

// EventRecorder collects events passed to its Record handler.
type EventRecorder struct {
	mu     sync.Mutex
	events []domain.Event
}

// Record is a handler suitable for EventBus.Subscribe.
func (r *EventRecorder) Record(e domain.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

// Events returns a copy of everything recorded so far.
func (r *EventRecorder) Events() []domain.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.Event, len(r.events))
	copy(out, r.events)
	return out
}

// Count returns how many events of type t were recorded.
func (r *EventRecorder) Count(t domain.EventType) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.EventType == t {
			n++
		}
	}
	return n
}

// WaitFor blocks until at least n events of type t were recorded, failing the
// test after two seconds.
func (r *EventRecorder) WaitFor(t testing.TB, eventType domain.EventType, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return r.Count(eventType) >= n }, 2*time.Second, 5*time.Millisecond,
		"waiting for %d %s events", n, eventType)
}
