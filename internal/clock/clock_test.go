package clock

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// fixedSource is a TimeSource pinned to a single instant.
type fixedSource struct{ now time.Time }

func (f fixedSource) Now() time.Time { return f.now }

// =============================================================================
// RealClock tests
// =============================================================================

func TestRealClock_Now(t *testing.T) {
	c := NewRealClock()

	before := time.Now()
	got := c.Now()
	after := time.Now()

	if got.Before(before) {
		t.Errorf("clock.Now() returned %v which is before %v", got, before)
	}
	if got.After(after) {
		t.Errorf("clock.Now() returned %v which is after %v", got, after)
	}
}

func TestRealClock_Now_IsMonotonic(t *testing.T) {
	c := NewRealClock()

	prev := c.Now()
	for i := 0; i < 1000; i++ {
		next := c.Now()
		if next.Sub(prev) < 0 {
			t.Fatalf("reading %d went backwards: %v -> %v", i, prev, next)
		}
		prev = next
	}
}

func TestRealClock_AfterFunc(t *testing.T) {
	c := NewRealClock()

	var wg sync.WaitGroup
	wg.Add(1)

	executed := false
	timer := c.AfterFunc(10*time.Millisecond, func() {
		executed = true
		wg.Done()
	})

	if timer == nil {
		t.Fatal("AfterFunc should return a non-nil Timer")
	}

	wg.Wait()

	if !executed {
		t.Error("AfterFunc callback should have been executed")
	}
}

func TestRealClock_AfterFunc_Stop_BeforeFiring(t *testing.T) {
	c := NewRealClock()

	fired := make(chan struct{}, 1)
	timer := c.AfterFunc(100*time.Millisecond, func() {
		fired <- struct{}{}
	})

	if !timer.Stop() {
		t.Error("Stop() should return true when timer hasn't fired yet")
	}

	select {
	case <-fired:
		t.Error("Callback should not execute after Stop()")
	case <-time.After(150 * time.Millisecond):
	}
}

func TestRealClock_AfterFunc_Stop_AfterFiring(t *testing.T) {
	c := NewRealClock()

	var wg sync.WaitGroup
	wg.Add(1)
	timer := c.AfterFunc(5*time.Millisecond, wg.Done)
	wg.Wait()

	if timer.Stop() {
		t.Error("Stop() should return false when timer has already fired")
	}
}

// =============================================================================
// Since / Until
// =============================================================================

func TestSince(t *testing.T) {
	base := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	src := fixedSource{now: base.Add(2500 * time.Millisecond)}

	assert.Equal(t, 2500*time.Millisecond, Since(src, base))
	assert.Equal(t, time.Duration(0), Since(src, base.Add(time.Hour)), "future instant clamps to zero")
}

func TestUntil(t *testing.T) {
	base := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	src := fixedSource{now: base}

	assert.Equal(t, 300*time.Millisecond, Until(src, base.Add(300*time.Millisecond)))
	assert.Equal(t, time.Duration(0), Until(src, base.Add(-time.Second)), "past instant clamps to zero")
}

// =============================================================================
// Interface compliance tests
// =============================================================================

func TestRealClock_ImplementsClock(t *testing.T) {
	t.Helper()
	var _ Clock = (*RealClock)(nil)
	var _ TimeSource = (*RealClock)(nil)
}

func TestRealTimer_ImplementsTimer(t *testing.T) {
	t.Helper()
	var _ Timer = (*realTimer)(nil)
}
