// Package scheduler provides a cooperative, single-threaded event loop with
// repeating callbacks and explicit cancellation.
//
// Every callback and every task submitted through Post or Do runs on the
// goroutine that drives the loop (Run, or RunPending in tests), one at a time
// and to completion. State touched only from loop tasks therefore needs no
// locking; this is how the timing engines are owned.
//
// Schedule and Cancel may be called from any goroutine. A Cancel issued on the
// loop goroutine is effective before it returns: the cancelled callback never
// runs again, even if its wake-up was already queued. A Cancel issued
// elsewhere cannot interrupt a callback body that has already begun.
package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/mescon/timekeeper/internal/clock"
	"github.com/mescon/timekeeper/internal/logger"
)

// MinInterval is the smallest spacing Schedule accepts; shorter intervals are
// raised to it.
const MinInterval = time.Millisecond

// ErrStopped is returned when submitting work to a loop that has been closed.
var ErrStopped = errors.New("scheduler: loop stopped")

// Handle identifies a repeating callback registered with Schedule. The zero
// Handle is never issued and cancelling it is a no-op.
type Handle uint64

type entry struct {
	interval time.Duration
	callback func()
	timer    clock.Timer
}

// Loop is the event loop. Create one with New.
type Loop struct {
	clock clock.Clock

	mu      sync.Mutex
	queue   []func()
	entries map[Handle]*entry
	next    Handle
	stopped bool

	wake      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// New creates a loop that arms its wake-ups on c.
func New(c clock.Clock) *Loop {
	return &Loop{
		clock:   c,
		entries: make(map[Handle]*entry),
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
}

// Schedule registers callback to run on the loop roughly every interval. The
// next wake-up is armed only after the callback returns, so a slow callback or
// a stalled loop delays ticks instead of queueing a burst of them.
//
// Returns the zero Handle if the loop has been closed.
func (l *Loop) Schedule(interval time.Duration, callback func()) Handle {
	if interval < MinInterval {
		interval = MinInterval
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.stopped {
		return 0
	}

	l.next++
	h := l.next
	e := &entry{interval: interval, callback: callback}
	l.entries[h] = e
	l.arm(h, e)
	return h
}

// Cancel stops future invocations of the callback behind h. Cancelling an
// unknown or already cancelled handle is a no-op.
func (l *Loop) Cancel(h Handle) {
	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.entries[h]
	if !ok {
		return
	}
	delete(l.entries, h)
	if e.timer != nil {
		e.timer.Stop()
	}
}

// Active reports how many repeating callbacks are registered.
func (l *Loop) Active() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// Post enqueues fn to run once on the loop.
func (l *Loop) Post(fn func()) error {
	if !l.enqueue(fn) {
		return ErrStopped
	}
	return nil
}

// Do runs fn on the loop and waits for it to finish. It returns ctx.Err() if
// the context ends first (fn may still run later) and ErrStopped if the loop
// closes before fn runs. Do must not be called from the loop goroutine itself.
func (l *Loop) Do(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	if !l.enqueue(func() {
		defer close(finished)
		fn()
	}) {
		return ErrStopped
	}

	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-l.done:
		// fn may have completed in the same instant the loop closed.
		select {
		case <-finished:
			return nil
		default:
			return ErrStopped
		}
	}
}

// Run drives the loop on the calling goroutine until ctx ends or Close is
// called. A context ending also closes the loop.
func (l *Loop) Run(ctx context.Context) error {
	for {
		l.RunPending()

		select {
		case <-ctx.Done():
			l.Close()
			return ctx.Err()
		case <-l.done:
			return nil
		case <-l.wake:
		}
	}
}

// RunPending runs queued tasks on the calling goroutine until the queue is
// empty and returns how many ran. Tests use it to step the loop
// deterministically.
func (l *Loop) RunPending() int {
	ran := 0
	for {
		l.mu.Lock()
		if len(l.queue) == 0 || l.stopped {
			l.mu.Unlock()
			return ran
		}
		batch := l.queue
		l.queue = nil
		l.mu.Unlock()

		for _, task := range batch {
			if l.isStopped() {
				return ran
			}
			l.runTask(task)
			ran++
		}
	}
}

// Close stops the loop: registered callbacks are cancelled, queued tasks are
// dropped and pending Do calls return ErrStopped. Safe to call more than once.
func (l *Loop) Close() {
	l.closeOnce.Do(func() {
		l.mu.Lock()
		l.stopped = true
		for h, e := range l.entries {
			if e.timer != nil {
				e.timer.Stop()
			}
			delete(l.entries, h)
		}
		l.queue = nil
		l.mu.Unlock()
		close(l.done)
	})
}

// Done is closed once the loop has stopped.
func (l *Loop) Done() <-chan struct{} {
	return l.done
}

// arm sets the next wake-up for e. Caller holds l.mu.
func (l *Loop) arm(h Handle, e *entry) {
	e.timer = l.clock.AfterFunc(e.interval, func() {
		l.enqueue(func() { l.fire(h, e) })
	})
}

// fire runs on the loop. The registration is re-checked first so a Cancel
// that landed after the wake-up was queued still wins. The next wake-up is
// armed even when the callback panics.
func (l *Loop) fire(h Handle, e *entry) {
	if !l.isCurrent(h, e) {
		return
	}

	defer func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		if cur, ok := l.entries[h]; ok && cur == e && !l.stopped {
			l.arm(h, e)
		}
	}()
	e.callback()
}

func (l *Loop) isStopped() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.stopped
}

func (l *Loop) isCurrent(h Handle, e *entry) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	cur, ok := l.entries[h]
	return ok && cur == e
}

func (l *Loop) enqueue(fn func()) bool {
	l.mu.Lock()
	if l.stopped {
		l.mu.Unlock()
		return false
	}
	l.queue = append(l.queue, fn)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
		// A wake-up is already pending
	}
	return true
}

func (l *Loop) runTask(task func()) {
	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("Scheduler: recovered panic in loop task: %v", r)
		}
	}()
	task()
}
