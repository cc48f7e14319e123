package notifier

import (
	"errors"
	"sync"
	"time"

	"github.com/mescon/timekeeper/internal/clock"
)

// ErrCircuitOpen is reported instead of sending while a destination's
// breaker is open.
var ErrCircuitOpen = errors.New("circuit breaker is open: destination unavailable")

// BreakerState is the state of one destination's breaker.
type BreakerState int

const (
	BreakerClosed BreakerState = iota
	BreakerOpen
	BreakerHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// BreakerConfig configures per-destination circuit breaking.
type BreakerConfig struct {
	// FailureThreshold consecutive failures open the breaker.
	FailureThreshold int
	// ResetTimeout is how long an open breaker rejects sends before letting
	// one trial send through.
	ResetTimeout time.Duration
}

// DefaultBreakerConfig opens after 5 consecutive failures and tries again
// after 5 minutes.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{FailureThreshold: 5, ResetTimeout: 5 * time.Minute}
}

type breaker struct {
	state    BreakerState
	failures int
	openedAt time.Time
	trying   bool
}

// breakers tracks one breaker per destination URL.
type breakers struct {
	mu     sync.Mutex
	cfg    BreakerConfig
	clock  clock.TimeSource
	byDest map[string]*breaker
}

func newBreakers(cfg BreakerConfig, src clock.TimeSource) *breakers {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = DefaultBreakerConfig().FailureThreshold
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = DefaultBreakerConfig().ResetTimeout
	}
	return &breakers{cfg: cfg, clock: src, byDest: make(map[string]*breaker)}
}

func (b *breakers) get(dest string) *breaker {
	br, ok := b.byDest[dest]
	if !ok {
		br = &breaker{}
		b.byDest[dest] = br
	}
	return br
}

// allow reports whether a send to dest may proceed. A half-open breaker lets
// exactly one trial send through until its outcome is recorded.
func (b *breakers) allow(dest string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	br := b.get(dest)
	switch br.state {
	case BreakerOpen:
		if b.clock.Now().Sub(br.openedAt) < b.cfg.ResetTimeout {
			return false
		}
		br.state = BreakerHalfOpen
		br.trying = true
		return true
	case BreakerHalfOpen:
		if br.trying {
			return false
		}
		br.trying = true
		return true
	default:
		return true
	}
}

func (b *breakers) record(dest string, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	br := b.get(dest)
	br.trying = false
	if err == nil {
		br.state = BreakerClosed
		br.failures = 0
		return
	}

	br.failures++
	if br.state == BreakerHalfOpen || br.failures >= b.cfg.FailureThreshold {
		br.state = BreakerOpen
		br.openedAt = b.clock.Now()
	}
}

func (b *breakers) state(dest string) BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	if br, ok := b.byDest[dest]; ok {
		return br.state
	}
	return BreakerClosed
}
