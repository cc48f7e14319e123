package api

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mescon/timekeeper/internal/testutil"
)

func newManualLimiter(rate int, interval time.Duration, burst int) (*RateLimiter, *testutil.MockClock) {
	mc := testutil.NewMockClock()
	return newRateLimiter(rate, interval, burst, mc, false), mc
}

func TestRateLimiter_Allow(t *testing.T) {
	rl, mc := newManualLimiter(1, time.Minute, 3)

	for i := 0; i < 3; i++ {
		assert.True(t, rl.Allow("1.2.3.4"), "request %d within burst", i+1)
	}
	assert.False(t, rl.Allow("1.2.3.4"), "bucket exhausted")
	assert.True(t, rl.Allow("5.6.7.8"), "other clients are independent")

	mc.Advance(59 * time.Second)
	assert.False(t, rl.Allow("1.2.3.4"), "no refill before a full interval")

	mc.Advance(time.Second)
	assert.True(t, rl.Allow("1.2.3.4"), "one token after one interval")
	assert.False(t, rl.Allow("1.2.3.4"))
}

func TestRateLimiter_PartialIntervalCarriesOver(t *testing.T) {
	rl, mc := newManualLimiter(1, time.Minute, 1)
	require.True(t, rl.Allow("ip"))

	// Two checks 40s apart: neither alone is a full interval, together they are.
	mc.Advance(40 * time.Second)
	assert.False(t, rl.Allow("ip"))
	mc.Advance(40 * time.Second)
	assert.True(t, rl.Allow("ip"))
}

func TestRateLimiter_RefillCapsAtBurst(t *testing.T) {
	rl, mc := newManualLimiter(10, time.Minute, 2)
	rl.Allow("ip")
	mc.Advance(time.Hour)

	assert.True(t, rl.Allow("ip"))
	assert.True(t, rl.Allow("ip"))
	assert.False(t, rl.Allow("ip"))
}

func TestRateLimiter_ZeroBurst(t *testing.T) {
	rl, _ := newManualLimiter(1, time.Minute, 0)
	assert.False(t, rl.Allow("ip"))
}

func TestRateLimiter_Cleanup(t *testing.T) {
	rl, mc := newManualLimiter(1, time.Minute, 1)
	rl.Allow("old")
	mc.Advance(11 * time.Minute)
	rl.Allow("recent")

	rl.cleanup()

	rl.mu.Lock()
	defer rl.mu.Unlock()
	assert.NotContains(t, rl.clients, "old")
	assert.Contains(t, rl.clients, "recent")
}

func TestRateLimiter_Middleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	rl, _ := newManualLimiter(1, time.Minute, 1)

	r := gin.New()
	r.Use(rl.Middleware())
	r.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Contains(t, w.Body.String(), `"retry_after":60`)
}

func TestRateLimiter_ConcurrentAccess(t *testing.T) {
	rl, _ := newManualLimiter(1, time.Minute, 50)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		allowed int
	)
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if rl.Allow("shared") {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 50, allowed)
}

func TestRateLimiter_Stop(t *testing.T) {
	rl := NewRateLimiter(1, time.Minute, 1)
	rl.Stop()
	rl.Stop()
	assert.True(t, rl.Allow("ip"), "Allow works after Stop")
}
