package countdown

import (
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mescon/timekeeper/internal/testutil"
)

func ms(n int) time.Duration { return time.Duration(n) * time.Millisecond }

func newConfigured(t *testing.T, d time.Duration) (*Countdown, *testutil.MockClock) {
	t.Helper()
	mc := testutil.NewMockClock()
	c := New(mc)
	require.NoError(t, c.Configure(d))
	return c, mc
}

// =============================================================================
// Configure
// =============================================================================

func TestConfigure_SetsIdleRemaining(t *testing.T) {
	c, _ := newConfigured(t, 5*time.Minute)

	assert.Equal(t, Idle, c.Phase())
	assert.Equal(t, 5*time.Minute, c.Remaining())
	assert.Equal(t, 5*time.Minute, c.Configured())
}

func TestConfigure_RejectsNonPositive(t *testing.T) {
	for _, d := range []time.Duration{0, -time.Second} {
		t.Run(d.String(), func(t *testing.T) {
			c, _ := newConfigured(t, 2*time.Second)

			err := c.Configure(d)

			assert.True(t, errors.Is(err, ErrInvalidDuration))
			assert.Equal(t, 2*time.Second, c.Configured(), "prior configuration retained")
			assert.Equal(t, 2*time.Second, c.Remaining())
			assert.Equal(t, Idle, c.Phase())
		})
	}
}

func TestConfigure_IgnoredWhileRunningOrPaused(t *testing.T) {
	c, mc := newConfigured(t, 10*time.Second)
	require.NoError(t, c.Start())

	require.NoError(t, c.Configure(time.Minute))
	assert.Equal(t, Running, c.Phase())
	assert.Equal(t, 10*time.Second, c.Configured())

	mc.SetOffset(ms(4_000))
	c.Stop()
	require.NoError(t, c.Configure(time.Minute))
	assert.Equal(t, Paused, c.Phase())
	assert.Equal(t, 6*time.Second, c.Remaining())
}

func TestConfigure_FromExpiredReturnsToIdle(t *testing.T) {
	c, mc := newConfigured(t, time.Second)
	require.NoError(t, c.Start())
	mc.SetOffset(ms(1_000))
	require.True(t, c.Poll())

	require.NoError(t, c.Configure(3*time.Second))

	assert.Equal(t, Idle, c.Phase())
	assert.Equal(t, 3*time.Second, c.Remaining())
}

// =============================================================================
// Start / Stop
// =============================================================================

func TestStart_Unconfigured(t *testing.T) {
	c := New(testutil.NewMockClock())

	err := c.Start()

	assert.ErrorIs(t, err, ErrInvalidDuration)
	assert.Equal(t, Idle, c.Phase())
}

func TestStart_Idempotent(t *testing.T) {
	c, mc := newConfigured(t, 5*time.Second)
	require.NoError(t, c.Start())
	mc.SetOffset(ms(2_000))
	require.NoError(t, c.Start()) // must not move the target

	assert.Equal(t, 3*time.Second, c.Remaining())
}

func TestStop_Idempotent(t *testing.T) {
	c, mc := newConfigured(t, 5*time.Second)
	require.NoError(t, c.Start())
	mc.SetOffset(ms(1_000))
	c.Stop()
	mc.SetOffset(ms(3_000))
	c.Stop()

	assert.Equal(t, Paused, c.Phase())
	assert.Equal(t, 4*time.Second, c.Remaining())
}

func TestPauseResume_Scenario(t *testing.T) {
	c, mc := newConfigured(t, 2*time.Second)
	require.NoError(t, c.Start())

	mc.SetOffset(ms(700))
	c.Stop()
	assert.Equal(t, ms(1_300), c.Remaining())
	assert.Equal(t, Paused, c.Phase())

	mc.SetOffset(ms(10_000))
	require.NoError(t, c.Start())
	deadline, ok := c.Deadline()
	require.True(t, ok)
	assert.Equal(t, testutil.Epoch.Add(ms(11_300)), deadline)

	mc.SetOffset(ms(11_000))
	assert.Equal(t, ms(300), c.Remaining())
}

func TestStop_AtZeroExpires(t *testing.T) {
	c, mc := newConfigured(t, time.Second)
	require.NoError(t, c.Start())
	mc.SetOffset(ms(1_500))

	c.Stop()

	assert.Equal(t, Expired, c.Phase())
	assert.Equal(t, time.Duration(0), c.Remaining())
	assert.True(t, c.Poll(), "expiry reached through Stop is reported once")
	assert.False(t, c.Poll())
}

func TestStart_FromExpiredRejected(t *testing.T) {
	c, mc := newConfigured(t, time.Second)
	require.NoError(t, c.Start())
	mc.SetOffset(ms(2_000))
	require.True(t, c.Poll())

	assert.ErrorIs(t, c.Start(), ErrInvalidDuration)
	assert.Equal(t, Expired, c.Phase())
	assert.False(t, c.Poll())
}

// =============================================================================
// Reset
// =============================================================================

func TestReset_RestoresConfigured(t *testing.T) {
	tests := []struct {
		name  string
		setup func(c *Countdown, mc *testutil.MockClock)
	}{
		{"idle", func(*Countdown, *testutil.MockClock) {}},
		{"running", func(c *Countdown, mc *testutil.MockClock) {
			_ = c.Start()
			mc.SetOffset(ms(1_200))
		}},
		{"paused", func(c *Countdown, mc *testutil.MockClock) {
			_ = c.Start()
			mc.SetOffset(ms(1_200))
			c.Stop()
		}},
		{"expired", func(c *Countdown, mc *testutil.MockClock) {
			_ = c.Start()
			mc.SetOffset(ms(9_000))
			c.Poll()
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, mc := newConfigured(t, 3*time.Second)
			tt.setup(c, mc)

			c.Reset()

			assert.Equal(t, Idle, c.Phase())
			assert.Equal(t, 3*time.Second, c.Remaining())
			_, running := c.Deadline()
			assert.False(t, running)
		})
	}
}

func TestReset_AllowsNewRunAndNewEdge(t *testing.T) {
	c, mc := newConfigured(t, time.Second)
	require.NoError(t, c.Start())
	mc.SetOffset(ms(1_000))
	require.True(t, c.Poll())

	c.Reset()
	require.NoError(t, c.Start())
	mc.SetOffset(ms(1_500))
	assert.False(t, c.Poll())
	mc.SetOffset(ms(2_000))
	assert.True(t, c.Poll())
}

// =============================================================================
// Poll / Remaining
// =============================================================================

func TestPoll_FiresExactlyOnce(t *testing.T) {
	c, mc := newConfigured(t, 5*time.Second)
	require.NoError(t, c.Start())

	readings := []int{1_000, 3_000, 5_000, 6_000, 7_000}
	want := []bool{false, false, true, false, false}

	for i, at := range readings {
		mc.SetOffset(ms(at))
		assert.Equal(t, want[i], c.Poll(), "poll at t0+%dms", at)
	}
	assert.Equal(t, Expired, c.Phase())
}

func TestPoll_OverlappingLateTicks(t *testing.T) {
	c, mc := newConfigured(t, time.Second)
	require.NoError(t, c.Start())
	mc.SetOffset(ms(4_000))

	fired := 0
	for i := 0; i < 10; i++ {
		if c.Poll() {
			fired++
		}
	}
	assert.Equal(t, 1, fired)
}

func TestPoll_NotRunning(t *testing.T) {
	c, _ := newConfigured(t, time.Second)
	assert.False(t, c.Poll())

	require.NoError(t, c.Start())
	c.Stop()
	assert.False(t, c.Poll())
}

func TestRemaining_NeverNegative(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	c, mc := newConfigured(t, 3*time.Second)

	offset := 0
	for step := 0; step < 500; step++ {
		offset += rng.Intn(400)
		mc.SetOffset(ms(offset))

		switch rng.Intn(6) {
		case 0:
			_ = c.Start()
		case 1:
			c.Stop()
		case 2:
			c.Reset()
		case 3:
			c.Poll()
		case 4:
			_ = c.Configure(ms(rng.Intn(5_000) - 1_000))
		}

		require.GreaterOrEqual(t, c.Remaining(), time.Duration(0), "step %d", step)
		if c.Phase() == Expired {
			require.Equal(t, time.Duration(0), c.Remaining())
		}
	}
}

func TestPhase_String(t *testing.T) {
	assert.Equal(t, "expired", Expired.String())
	assert.Equal(t, "unknown", Phase(-1).String())
}
