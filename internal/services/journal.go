package services

import (
	"sync"

	"github.com/mescon/timekeeper/internal/logger"
)

// journal applies store writes and persisted publishes on its own goroutine,
// in the order they were submitted. Loop tasks hand their writes to it so a
// busy database never holds up polling.
type journal struct {
	mu      sync.Mutex
	queue   []func()
	closed  bool
	wake    chan struct{}
	drained chan struct{}
}

func newJournal() *journal {
	j := &journal{
		wake:    make(chan struct{}, 1),
		drained: make(chan struct{}),
	}
	go j.run()
	return j
}

// submit queues fn. It never blocks. Writes submitted after close are dropped.
func (j *journal) submit(fn func()) {
	j.mu.Lock()
	if j.closed {
		j.mu.Unlock()
		logger.Warnf("Session journal closed, dropping write")
		return
	}
	j.queue = append(j.queue, fn)
	j.mu.Unlock()

	select {
	case j.wake <- struct{}{}:
	default:
	}
}

// mark returns a channel closed once everything submitted so far has been
// applied.
func (j *journal) mark() <-chan struct{} {
	applied := make(chan struct{})
	j.mu.Lock()
	if j.closed {
		j.mu.Unlock()
		<-j.drained
		close(applied)
		return applied
	}
	j.queue = append(j.queue, func() { close(applied) })
	j.mu.Unlock()

	select {
	case j.wake <- struct{}{}:
	default:
	}
	return applied
}

// close applies whatever is queued and stops the goroutine.
func (j *journal) close() {
	j.mu.Lock()
	already := j.closed
	j.closed = true
	j.mu.Unlock()
	if !already {
		select {
		case j.wake <- struct{}{}:
		default:
		}
	}
	<-j.drained
}

func (j *journal) run() {
	defer close(j.drained)
	for {
		j.mu.Lock()
		batch := j.queue
		j.queue = nil
		closed := j.closed
		j.mu.Unlock()

		for _, fn := range batch {
			j.apply(fn)
		}
		if len(batch) > 0 {
			continue
		}
		if closed {
			return
		}
		<-j.wake
	}
}

func (j *journal) apply(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("Session journal: recovered panic in write: %v", r)
		}
	}()
	fn()
}
