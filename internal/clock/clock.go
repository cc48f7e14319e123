// Package clock provides the time sources used by the timing engines and the
// scheduler. Production code uses RealClock; tests inject testutil.MockClock
// for deterministic readings and wake-ups.
package clock

import "time"

// TimeSource exposes the current instant. It is the only input the timing
// engines depend on.
//
// Implementations must be monotonic: a reading is never earlier than a
// previous one. time.Now satisfies this because the value it returns carries
// the runtime's monotonic reading, which time.Time.Sub prefers over the wall
// clock.
type TimeSource interface {
	// Now returns the current instant.
	Now() time.Time
}

// Clock is a TimeSource that can also arm one-shot wake-ups.
type Clock interface {
	TimeSource
	// AfterFunc waits for the duration to elapse and then calls f in its own goroutine.
	// Returns a Timer that can be used to cancel the call.
	AfterFunc(d time.Duration, f func()) Timer
}

// Timer represents a pending AfterFunc callback.
type Timer interface {
	// Stop prevents the Timer from firing. Returns true if the call was stopped,
	// false if the timer has already expired or been stopped.
	Stop() bool
}

// RealClock implements Clock using the standard time package.
type RealClock struct{}

// NewRealClock creates a new RealClock.
func NewRealClock() *RealClock {
	return &RealClock{}
}

// Now implements TimeSource.Now using time.Now.
func (c *RealClock) Now() time.Time {
	return time.Now()
}

// AfterFunc implements Clock.AfterFunc using time.AfterFunc.
func (c *RealClock) AfterFunc(d time.Duration, f func()) Timer {
	return &realTimer{timer: time.AfterFunc(d, f)}
}

// realTimer wraps time.Timer to implement Timer interface.
type realTimer struct {
	timer *time.Timer
}

// Stop implements Timer.Stop.
func (t *realTimer) Stop() bool {
	return t.timer.Stop()
}

// Since returns the span between an earlier instant and the source's current
// reading, clamped at zero so a misbehaving source cannot produce a negative
// duration.
func Since(src TimeSource, earlier time.Time) time.Duration {
	d := src.Now().Sub(earlier)
	if d < 0 {
		return 0
	}
	return d
}

// Until returns the span from the source's current reading to a later
// instant, clamped at zero once that instant has passed.
func Until(src TimeSource, later time.Time) time.Duration {
	d := later.Sub(src.Now())
	if d < 0 {
		return 0
	}
	return d
}
