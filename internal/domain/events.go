package domain

import (
	"time"
)

type EventType string

const (
	SessionCreated      EventType = "SessionCreated"
	SessionDeleted      EventType = "SessionDeleted"
	SessionStarted      EventType = "SessionStarted"
	SessionStopped      EventType = "SessionStopped"
	SessionReset        EventType = "SessionReset"
	CountdownConfigured EventType = "CountdownConfigured"
	CountdownExpired    EventType = "CountdownExpired" // emitted exactly once per countdown run
	NotificationSent    EventType = "NotificationSent"
	NotificationFailed  EventType = "NotificationFailed"

	// SessionTick is broadcast on every poll and never persisted.
	SessionTick EventType = "SessionTick"
)

// Persistent reports whether events of this type are written to the event store.
func (t EventType) Persistent() bool {
	return t != SessionTick
}

// AggregateSession is the aggregate type of every session lifecycle event.
const AggregateSession = "session"

// SessionKind selects which engine a session owns.
type SessionKind string

const (
	KindStopwatch SessionKind = "stopwatch"
	KindCountdown SessionKind = "countdown"
)

// Valid reports whether k is a known kind.
func (k SessionKind) Valid() bool {
	return k == KindStopwatch || k == KindCountdown
}

// Event data keys shared by publishers and subscribers. Durations are stored
// as integer milliseconds.
const (
	KeyName        = "name"
	KeyKind        = "kind"
	KeyPhase       = "phase"
	KeyDisplay     = "display"
	KeyDurationMS  = "duration_ms"
	KeyElapsedMS   = "elapsed_ms"
	KeyRemainingMS = "remaining_ms"
	KeyLatenessMS  = "lateness_ms"
	KeyProvider    = "provider"
	KeyError       = "error"
)

type Event struct {
	ID            int64                  `json:"id"`
	AggregateType string                 `json:"aggregate_type"`
	AggregateID   string                 `json:"aggregate_id"`
	EventType     EventType              `json:"event_type"`
	EventData     map[string]interface{} `json:"event_data"`
	EventVersion  int                    `json:"event_version"`
	CreatedAt     time.Time              `json:"created_at"`
}

// NewSessionEvent builds a session event with the given data.
func NewSessionEvent(sessionID string, t EventType, data map[string]interface{}) Event {
	if data == nil {
		data = make(map[string]interface{})
	}
	return Event{
		AggregateType: AggregateSession,
		AggregateID:   sessionID,
		EventType:     t,
		EventData:     data,
		EventVersion:  1,
	}
}

// Millis converts a duration to the integer milliseconds stored in event data.
func Millis(d time.Duration) int64 {
	return d.Milliseconds()
}

// =============================================================================
// Type-safe event data accessors
// =============================================================================

// GetString safely extracts a string field from EventData.
func (e *Event) GetString(key string) (string, bool) {
	if e.EventData == nil {
		return "", false
	}
	v, ok := e.EventData[key].(string)
	return v, ok
}

// GetStringOr extracts a string field or returns the default value.
func (e *Event) GetStringOr(key, defaultVal string) string {
	if v, ok := e.GetString(key); ok {
		return v
	}
	return defaultVal
}

// GetInt64 safely extracts an int64 field from EventData.
// Handles both int64 and float64 (JSON unmarshaling produces float64).
func (e *Event) GetInt64(key string) (int64, bool) {
	if e.EventData == nil {
		return 0, false
	}
	switch v := e.EventData[key].(type) {
	case int64:
		return v, true
	case float64:
		return int64(v), true
	case int:
		return int64(v), true
	default:
		return 0, false
	}
}

// GetInt64Or extracts an int64 field or returns the default value.
func (e *Event) GetInt64Or(key string, defaultVal int64) int64 {
	if v, ok := e.GetInt64(key); ok {
		return v
	}
	return defaultVal
}

// GetDuration reads a millisecond field as a time.Duration.
func (e *Event) GetDuration(key string) (time.Duration, bool) {
	ms, ok := e.GetInt64(key)
	if !ok {
		return 0, false
	}
	return time.Duration(ms) * time.Millisecond, true
}

// GetBool safely extracts a bool field from EventData.
func (e *Event) GetBool(key string) (bool, bool) {
	if e.EventData == nil {
		return false, false
	}
	v, ok := e.EventData[key].(bool)
	return v, ok
}

// =============================================================================
// Typed event data structures
// =============================================================================

// ExpiredEventData is the payload of CountdownExpired.
type ExpiredEventData struct {
	SessionID string
	Name      string
	Duration  time.Duration
	// Lateness is how far past the target the poll observed zero.
	Lateness time.Duration
}

// ParseExpiredEventData extracts typed expiry data from an event.
func (e *Event) ParseExpiredEventData() (ExpiredEventData, bool) {
	if e.EventType != CountdownExpired {
		return ExpiredEventData{}, false
	}
	duration, _ := e.GetDuration(KeyDurationMS)
	lateness, _ := e.GetDuration(KeyLatenessMS)
	return ExpiredEventData{
		SessionID: e.AggregateID,
		Name:      e.GetStringOr(KeyName, ""),
		Duration:  duration,
		Lateness:  lateness,
	}, true
}

// TickEventData is the payload of SessionTick.
type TickEventData struct {
	SessionID string
	Kind      SessionKind
	Phase     string
	Display   string
	// Value is elapsed time for stopwatches and remaining time for countdowns.
	Value time.Duration
}

// ParseTickEventData extracts typed tick data from an event.
func (e *Event) ParseTickEventData() (TickEventData, bool) {
	display, ok := e.GetString(KeyDisplay)
	if !ok {
		return TickEventData{}, false
	}
	kind := SessionKind(e.GetStringOr(KeyKind, ""))
	key := KeyElapsedMS
	if kind == KindCountdown {
		key = KeyRemainingMS
	}
	value, _ := e.GetDuration(key)
	return TickEventData{
		SessionID: e.AggregateID,
		Kind:      kind,
		Phase:     e.GetStringOr(KeyPhase, ""),
		Display:   display,
		Value:     value,
	}, true
}
