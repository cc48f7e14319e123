// Package stopwatch implements an elapsed-time engine with start, stop and
// reset semantics.
//
// Elapsed time is never counted per tick. Each running interval stores the
// instant it began and the engine recomputes the total against the time
// source on every query, so the result is exact however irregularly it is
// polled.
//
// A Stopwatch is not safe for concurrent use. It is meant to be owned by a
// single goroutine, normally the scheduler loop.
package stopwatch

import (
	"time"

	"github.com/mescon/timekeeper/internal/clock"
)

// Phase is the discrete state of a Stopwatch.
type Phase int

const (
	// Idle is the canonical post-reset state: nothing elapsed, not running.
	Idle Phase = iota
	// Running means an interval is open and Elapsed grows with the clock.
	Running
	// Paused means at least one interval was folded in and none is open.
	Paused
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
	default:
		return "unknown"
	}
}

// MarshalText lets a Phase serialise as its name.
func (p Phase) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// state is the closed set of per-phase variants. Each variant carries exactly
// the fields valid in that phase, so "running without an anchor" cannot be
// expressed.
type state interface {
	phase() Phase
}

type idleState struct{}

type runningState struct {
	anchor      time.Time     // start of the open interval
	accumulated time.Duration // sum of closed intervals
}

type pausedState struct {
	accumulated time.Duration
}

func (idleState) phase() Phase    { return Idle }
func (runningState) phase() Phase { return Running }
func (pausedState) phase() Phase  { return Paused }

// Stopwatch accumulates elapsed time across start/stop pairs.
type Stopwatch struct {
	src clock.TimeSource
	st  state
}

// New returns an Idle stopwatch reading from src.
func New(src clock.TimeSource) *Stopwatch {
	return &Stopwatch{src: src, st: idleState{}}
}

// Start opens a running interval. Starting from Idle or Paused behaves the
// same (resume); starting while already Running is a no-op.
func (s *Stopwatch) Start() {
	switch st := s.st.(type) {
	case idleState:
		s.st = runningState{anchor: s.src.Now()}
	case pausedState:
		s.st = runningState{anchor: s.src.Now(), accumulated: st.accumulated}
	}
}

// Stop closes the running interval and folds it into the accumulated total.
// It is a no-op unless the stopwatch is Running.
func (s *Stopwatch) Stop() {
	if st, ok := s.st.(runningState); ok {
		s.st = pausedState{accumulated: st.accumulated + clock.Since(s.src, st.anchor)}
	}
}

// Reset returns the stopwatch to Idle with nothing elapsed, from any phase.
func (s *Stopwatch) Reset() {
	s.Stop()
	s.st = idleState{}
}

// Elapsed reports the total running time. While Running it includes the open
// interval measured against the current reading. It never mutates state.
func (s *Stopwatch) Elapsed() time.Duration {
	switch st := s.st.(type) {
	case runningState:
		return st.accumulated + clock.Since(s.src, st.anchor)
	case pausedState:
		return st.accumulated
	default:
		return 0
	}
}

// Phase reports the current phase.
func (s *Stopwatch) Phase() Phase {
	return s.st.phase()
}
