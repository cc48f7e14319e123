// Package countdown implements a remaining-time engine: configure a duration,
// start, pause, resume, reset, and detect expiry exactly once per run.
//
// While running, the engine stores only the instant at which the countdown
// reaches zero. Remaining time is that target minus the current reading,
// clamped at zero, so no drift accumulates regardless of poll cadence.
//
// A Countdown is not safe for concurrent use; it is owned by one goroutine,
// normally the scheduler loop.
package countdown

import (
	"errors"
	"time"

	"github.com/mescon/timekeeper/internal/clock"
)

// ErrInvalidDuration is returned when configuring a non-positive duration or
// starting with nothing left to count down. The engine state is unchanged.
var ErrInvalidDuration = errors.New("invalid duration: must be greater than zero")

// Phase is the discrete state of a Countdown.
type Phase int

const (
	Idle Phase = iota
	Running
	Paused
	// Expired is sticky until Reset or Configure.
	Expired
)

// String returns the lower-case phase name used in API payloads.
func (p Phase) String() string {
	switch p {
	case Idle:
		return "idle"
	case Running:
		return "running"
	case Paused:
		return "paused"
	case Expired:
		return "expired"
	default:
		return "unknown"
	}
}

// MarshalText lets a Phase serialise as its name.
func (p Phase) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

type state interface {
	phase() Phase
}

type idleState struct {
	remaining time.Duration
}

type runningState struct {
	target time.Time
}

type pausedState struct {
	remaining time.Duration
}

type expiredState struct {
	// reported is set once Poll has returned true for this run.
	reported bool
}

func (idleState) phase() Phase    { return Idle }
func (runningState) phase() Phase { return Running }
func (pausedState) phase() Phase  { return Paused }
func (expiredState) phase() Phase { return Expired }

// Countdown counts a configured duration down to zero.
type Countdown struct {
	src        clock.TimeSource
	configured time.Duration
	st         state
}

// New returns an unconfigured, Idle countdown reading from src. It cannot be
// started until Configure succeeds.
func New(src clock.TimeSource) *Countdown {
	return &Countdown{src: src, st: idleState{}}
}

// Configure sets the duration for the next fresh run. It is accepted only
// while Idle or Expired and moves the countdown to Idle with the full duration
// remaining. While Running or Paused it is a no-op; reset first.
func (c *Countdown) Configure(d time.Duration) error {
	if d <= 0 {
		return ErrInvalidDuration
	}
	switch c.st.(type) {
	case idleState, expiredState:
		c.configured = d
		c.st = idleState{remaining: d}
	}
	return nil
}

// Start begins or resumes counting down. It is a no-op while Running and
// returns ErrInvalidDuration when nothing remains (unconfigured or Expired).
func (c *Countdown) Start() error {
	var remaining time.Duration
	switch st := c.st.(type) {
	case runningState:
		return nil
	case idleState:
		remaining = st.remaining
	case pausedState:
		remaining = st.remaining
	}
	if remaining <= 0 {
		return ErrInvalidDuration
	}
	c.st = runningState{target: c.src.Now().Add(remaining)}
	return nil
}

// Stop pauses a running countdown, keeping what is left for a later Start.
// Stopping exactly at zero completes the run instead: the countdown moves to
// Expired and the next Poll reports it. No-op unless Running.
func (c *Countdown) Stop() {
	st, ok := c.st.(runningState)
	if !ok {
		return
	}
	if remaining := clock.Until(c.src, st.target); remaining > 0 {
		c.st = pausedState{remaining: remaining}
		return
	}
	c.st = expiredState{}
}

// Reset restores the configured duration and returns to Idle from any phase.
func (c *Countdown) Reset() {
	c.Stop()
	c.st = idleState{remaining: c.configured}
}

// Remaining reports the time left. While Running it is measured against the
// current reading; it is never negative. It never mutates state.
func (c *Countdown) Remaining() time.Duration {
	switch st := c.st.(type) {
	case runningState:
		return clock.Until(c.src, st.target)
	case idleState:
		return st.remaining
	case pausedState:
		return st.remaining
	default:
		return 0
	}
}

// Poll is the expiry edge detector. It returns true exactly once per run: on
// the first call that observes a running countdown at zero (moving it to
// Expired), or on the first call after Stop landed on zero. Every other call
// returns false.
//
// Polls while Expired return false with one deliberate exception: a run that
// Stop ended at zero has not reported its edge yet, so the first Poll after
// it returns true. Without it, a countdown stopped at zero would never
// announce that its time was up.
func (c *Countdown) Poll() bool {
	switch st := c.st.(type) {
	case runningState:
		if clock.Until(c.src, st.target) > 0 {
			return false
		}
		c.st = expiredState{reported: true}
		return true
	case expiredState:
		if st.reported {
			return false
		}
		c.st = expiredState{reported: true}
		return true
	default:
		return false
	}
}

// Deadline returns the instant the current run reaches zero. ok is false
// unless the countdown is Running.
func (c *Countdown) Deadline() (deadline time.Time, ok bool) {
	if st, running := c.st.(runningState); running {
		return st.target, true
	}
	return time.Time{}, false
}

// Configured returns the duration restored by Reset.
func (c *Countdown) Configured() time.Duration {
	return c.configured
}

// Phase reports the current phase.
func (c *Countdown) Phase() Phase {
	return c.st.phase()
}
