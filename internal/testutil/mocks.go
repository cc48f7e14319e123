// Package testutil provides test utilities including mocks, fixtures, and test database helpers.
package testutil

import (
	"sort"
	"sync"
	"time"

	"github.com/mescon/timekeeper/internal/clock"
)

// =============================================================================
// MockClock - Testable time abstraction
// =============================================================================

// MockClock implements clock.Clock for testing, providing deterministic control
// over readings and over AfterFunc wake-ups armed by the scheduler.
type MockClock struct {
	mu           sync.Mutex
	now          time.Time
	pendingFuncs []pendingFunc
}

type pendingFunc struct {
	executeAt time.Time
	fn        func()
	stopped   bool
}

// MockTimer implements clock.Timer for testing.
type MockTimer struct {
	clock *MockClock
	index int
}

// Compile-time assertion that MockClock implements clock.Clock
var _ clock.Clock = (*MockClock)(nil)

// Epoch is the default starting instant for MockClock. Tests express readings
// as offsets from it, e.g. Epoch.Add(2500 * time.Millisecond).
var Epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// NewMockClock creates a new MockClock starting at Epoch.
func NewMockClock() *MockClock {
	return &MockClock{
		now: Epoch,
	}
}

// NewMockClockAt creates a new MockClock with a specific initial time.
func NewMockClockAt(t time.Time) *MockClock {
	return &MockClock{
		now: t,
	}
}

// Now returns the mock's current time.
func (m *MockClock) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// SetNow sets the mock's current time without triggering pending functions.
func (m *MockClock) SetNow(t time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = t
}

// SetOffset moves the mock to Epoch plus d without triggering pending functions.
func (m *MockClock) SetOffset(d time.Duration) {
	m.SetNow(Epoch.Add(d))
}

// AfterFunc schedules f to be called after duration d.
// Returns a Timer that can be used to cancel the call.
func (m *MockClock) AfterFunc(d time.Duration, f func()) clock.Timer {
	m.mu.Lock()
	defer m.mu.Unlock()

	index := len(m.pendingFuncs)
	m.pendingFuncs = append(m.pendingFuncs, pendingFunc{
		executeAt: m.now.Add(d),
		fn:        f,
	})

	return &MockTimer{clock: m, index: index}
}

// Advance moves time forward by the given duration and executes any functions
// whose scheduled time has passed, earliest first. Functions armed by those
// callbacks are not run until the next Advance. Returns the number of
// functions executed.
func (m *MockClock) Advance(d time.Duration) int {
	m.mu.Lock()
	newTime := m.now.Add(d)
	m.now = newTime

	type due struct {
		at time.Time
		fn func()
	}
	var toExecute []due
	for i := range m.pendingFuncs {
		pf := &m.pendingFuncs[i]
		if !pf.stopped && !pf.executeAt.After(newTime) {
			toExecute = append(toExecute, due{at: pf.executeAt, fn: pf.fn})
			pf.stopped = true // Mark as executed
		}
	}
	m.mu.Unlock()

	sort.SliceStable(toExecute, func(i, j int) bool {
		return toExecute[i].at.Before(toExecute[j].at)
	})

	// Execute outside the lock to avoid deadlocks
	for _, d := range toExecute {
		d.fn()
	}
	return len(toExecute)
}

// PendingCount returns the number of scheduled functions that haven't been
// executed or stopped.
func (m *MockClock) PendingCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, pf := range m.pendingFuncs {
		if !pf.stopped {
			count++
		}
	}
	return count
}

// Stop prevents the timer from firing. Returns true if the timer was stopped,
// false if it had already fired or been stopped.
func (t *MockTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	if t.index < len(t.clock.pendingFuncs) && !t.clock.pendingFuncs[t.index].stopped {
		t.clock.pendingFuncs[t.index].stopped = true
		return true
	}
	return false
}

// =============================================================================
// MockSender - captures outgoing notifications
// =============================================================================

// SentMessage is one notification captured by MockSender.
type SentMessage struct {
	URL     string
	Message string
}

// MockSender records every message passed to Send. When Err is set, Send
// records the attempt and returns it.
type MockSender struct {
	mu   sync.Mutex
	sent []SentMessage
	Err  error
}

// Send implements notifier.Sender.
func (m *MockSender) Send(url, message string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, SentMessage{URL: url, Message: message})
	return m.Err
}

// Sent returns a copy of the captured messages.
func (m *MockSender) Sent() []SentMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]SentMessage, len(m.sent))
	copy(out, m.sent)
	return out
}
