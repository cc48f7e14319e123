package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mescon/timekeeper/internal/clock"
	"github.com/mescon/timekeeper/internal/testutil"
)

const tick = 100 * time.Millisecond

// step advances the mock clock and drains whatever the wake-ups queued.
func step(mc *testutil.MockClock, l *Loop, d time.Duration) int {
	mc.Advance(d)
	return l.RunPending()
}

// =============================================================================
// Schedule / Cancel
// =============================================================================

func TestSchedule_FiresEveryInterval(t *testing.T) {
	mc := testutil.NewMockClock()
	l := New(mc)
	defer l.Close()

	calls := 0
	h := l.Schedule(tick, func() { calls++ })
	require.NotZero(t, h)

	assert.Equal(t, 0, step(mc, l, 50*time.Millisecond))
	assert.Equal(t, 0, calls)

	step(mc, l, 50*time.Millisecond)
	assert.Equal(t, 1, calls)

	for i := 0; i < 4; i++ {
		step(mc, l, tick)
	}
	assert.Equal(t, 5, calls)
}

func TestSchedule_StalledLoopDoesNotPileUp(t *testing.T) {
	mc := testutil.NewMockClock()
	l := New(mc)
	defer l.Close()

	calls := 0
	l.Schedule(tick, func() { calls++ })

	// Ten intervals pass with nobody draining the queue.
	for i := 0; i < 10; i++ {
		mc.Advance(tick)
	}
	l.RunPending()

	assert.Equal(t, 1, calls, "only one wake-up is ever outstanding")
	assert.Equal(t, 1, mc.PendingCount(), "re-armed after the callback")
}

func TestSchedule_ClampsInterval(t *testing.T) {
	mc := testutil.NewMockClock()
	l := New(mc)
	defer l.Close()

	calls := 0
	l.Schedule(0, func() { calls++ })

	step(mc, l, MinInterval)
	assert.Equal(t, 1, calls)
}

func TestSchedule_IndependentHandles(t *testing.T) {
	mc := testutil.NewMockClock()
	l := New(mc)
	defer l.Close()

	var fast, slow int
	l.Schedule(tick, func() { fast++ })
	l.Schedule(3*tick, func() { slow++ })

	for i := 0; i < 6; i++ {
		step(mc, l, tick)
	}

	assert.Equal(t, 6, fast)
	assert.Equal(t, 2, slow)
	assert.Equal(t, 2, l.Active())
}

func TestCancel_StopsFutureInvocations(t *testing.T) {
	mc := testutil.NewMockClock()
	l := New(mc)
	defer l.Close()

	calls := 0
	h := l.Schedule(tick, func() { calls++ })
	step(mc, l, tick)
	require.Equal(t, 1, calls)

	l.Cancel(h)

	for i := 0; i < 5; i++ {
		step(mc, l, tick)
	}
	assert.Equal(t, 1, calls)
	assert.Equal(t, 0, l.Active())
	assert.Equal(t, 0, mc.PendingCount())
}

func TestCancel_WinsOverQueuedWakeup(t *testing.T) {
	mc := testutil.NewMockClock()
	l := New(mc)
	defer l.Close()

	calls := 0
	h := l.Schedule(tick, func() { calls++ })

	mc.Advance(tick) // wake-up is now queued on the loop
	l.Cancel(h)
	l.RunPending()

	assert.Equal(t, 0, calls)
}

func TestCancel_FromInsideCallback(t *testing.T) {
	mc := testutil.NewMockClock()
	l := New(mc)
	defer l.Close()

	calls := 0
	var h Handle
	h = l.Schedule(tick, func() {
		calls++
		if calls == 3 {
			l.Cancel(h)
		}
	})

	for i := 0; i < 10; i++ {
		step(mc, l, tick)
	}

	assert.Equal(t, 3, calls)
	assert.Equal(t, 0, mc.PendingCount(), "no re-arm after self-cancel")
}

func TestCancel_OtherHandleFromCallback(t *testing.T) {
	mc := testutil.NewMockClock()
	l := New(mc)
	defer l.Close()

	victimCalls := 0
	victim := l.Schedule(tick, func() { victimCalls++ })
	// Both wake-ups land in the same batch; the first cancels the second.
	l.Schedule(tick/2, func() { l.Cancel(victim) })

	mc.Advance(tick)
	l.RunPending()

	assert.Equal(t, 0, victimCalls)
}

func TestCancel_Idempotent(t *testing.T) {
	mc := testutil.NewMockClock()
	l := New(mc)
	defer l.Close()

	h := l.Schedule(tick, func() {})

	assert.NotPanics(t, func() {
		l.Cancel(h)
		l.Cancel(h)
		l.Cancel(0)
		l.Cancel(Handle(9999))
	})
}

func TestCancel_ThenReschedule(t *testing.T) {
	mc := testutil.NewMockClock()
	l := New(mc)
	defer l.Close()

	var first, second int
	h1 := l.Schedule(tick, func() { first++ })
	l.Cancel(h1)
	h2 := l.Schedule(tick, func() { second++ })

	step(mc, l, tick)

	assert.NotEqual(t, h1, h2)
	assert.Equal(t, 0, first)
	assert.Equal(t, 1, second)
}

// =============================================================================
// Post / Do / Run
// =============================================================================

func TestPost_RunsInOrder(t *testing.T) {
	l := New(testutil.NewMockClock())
	defer l.Close()

	var order []int
	for i := 1; i <= 3; i++ {
		require.NoError(t, l.Post(func() { order = append(order, i) }))
	}

	assert.Equal(t, 3, l.RunPending())
	assert.Equal(t, []int{1, 2, 3}, order)
}

func TestPost_TaskPostedFromTaskRunsInSameDrain(t *testing.T) {
	l := New(testutil.NewMockClock())
	defer l.Close()

	ran := false
	require.NoError(t, l.Post(func() {
		_ = l.Post(func() { ran = true })
	}))

	assert.Equal(t, 2, l.RunPending())
	assert.True(t, ran)
}

func TestRunPending_RecoversPanics(t *testing.T) {
	l := New(testutil.NewMockClock())
	defer l.Close()

	after := false
	_ = l.Post(func() { panic("boom") })
	_ = l.Post(func() { after = true })

	assert.NotPanics(t, func() { l.RunPending() })
	assert.True(t, after)
}

func TestSchedule_PanickingCallbackKeepsFiring(t *testing.T) {
	mc := testutil.NewMockClock()
	l := New(mc)
	defer l.Close()

	calls := 0
	l.Schedule(tick, func() {
		calls++
		if calls == 1 {
			panic("boom")
		}
	})

	assert.NotPanics(t, func() { step(mc, l, tick) })
	assert.Equal(t, 1, calls)
	assert.Equal(t, 1, l.Active())

	step(mc, l, tick)
	step(mc, l, tick)
	assert.Equal(t, 3, calls, "callback must be re-armed after a panic")
}

func TestRunPending_StopsAfterClose(t *testing.T) {
	l := New(testutil.NewMockClock())

	ran := 0
	_ = l.Post(l.Close)
	_ = l.Post(func() { ran++ })

	assert.Equal(t, 1, l.RunPending())
	assert.Equal(t, 0, ran, "tasks queued behind Close must not run")
}

func TestDo_RunsOnLoopGoroutine(t *testing.T) {
	l := New(clock.NewRealClock())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = l.Run(ctx) }()

	var counter int // touched only from loop tasks
	for i := 0; i < 50; i++ {
		require.NoError(t, l.Do(ctx, func() { counter++ }))
	}

	var got int
	require.NoError(t, l.Do(ctx, func() { got = counter }))
	assert.Equal(t, 50, got)
}

func TestRun_DrivesScheduledCallbacks(t *testing.T) {
	l := New(clock.NewRealClock())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var calls atomic.Int32
	l.Schedule(5*time.Millisecond, func() { calls.Add(1) })

	errCh := make(chan error, 1)
	go func() { errCh <- l.Run(ctx) }()

	assert.Eventually(t, func() bool { return calls.Load() >= 3 }, 2*time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after context cancel")
	}

	select {
	case <-l.Done():
	default:
		t.Fatal("loop should be closed after Run returns")
	}
}

func TestDo_ContextExpires(t *testing.T) {
	l := New(testutil.NewMockClock()) // nobody drives it
	defer l.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := l.Do(ctx, func() {})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

// =============================================================================
// Close
// =============================================================================

func TestClose_RejectsNewWork(t *testing.T) {
	mc := testutil.NewMockClock()
	l := New(mc)
	l.Close()
	l.Close() // idempotent

	assert.ErrorIs(t, l.Post(func() {}), ErrStopped)
	assert.ErrorIs(t, l.Do(context.Background(), func() {}), ErrStopped)
	assert.Zero(t, l.Schedule(tick, func() {}))
}

func TestClose_CancelsSchedules(t *testing.T) {
	mc := testutil.NewMockClock()
	l := New(mc)

	calls := 0
	l.Schedule(tick, func() { calls++ })
	l.Close()

	step(mc, l, tick)

	assert.Equal(t, 0, calls)
	assert.Equal(t, 0, l.Active())
	assert.Equal(t, 0, mc.PendingCount())
}

func TestClose_UnblocksPendingDo(t *testing.T) {
	l := New(testutil.NewMockClock())

	errCh := make(chan error, 1)
	go func() { errCh <- l.Do(context.Background(), func() {}) }()

	// Give Do a moment to enqueue before closing.
	time.Sleep(10 * time.Millisecond)
	l.Close()

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, ErrStopped)
	case <-time.After(2 * time.Second):
		t.Fatal("Do did not return after Close")
	}
}
