package eventbus

import (
	"database/sql"
	"sync"
	"time"

	"github.com/mescon/timekeeper/internal/db"
	"github.com/mescon/timekeeper/internal/domain"
	"github.com/mescon/timekeeper/internal/logger"
)

// subscriberBuffer is the per-subscriber queue depth. Publishers never block;
// a subscriber that falls this far behind misses events.
const subscriberBuffer = 256

// Publisher is the event bus as seen by producers and consumers.
type Publisher interface {
	Publish(event domain.Event) error
	Broadcast(event domain.Event)
	Subscribe(eventType domain.EventType, handler func(domain.Event))
}

var _ Publisher = (*EventBus)(nil)

type EventBus struct {
	db *sql.DB

	mu          sync.RWMutex
	subscribers map[domain.EventType][]chan domain.Event
	all         []chan domain.Event

	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func NewEventBus(db *sql.DB) *EventBus {
	return &EventBus{
		db:          db,
		subscribers: make(map[domain.EventType][]chan domain.Event),
		stopChan:    make(chan struct{}),
	}
}

// Publish stores a lifecycle event and then delivers it to subscribers.
// Transient event types are not stored; Publish hands them to Broadcast.
func (eb *EventBus) Publish(event domain.Event) error {
	if !event.EventType.Persistent() {
		eb.Broadcast(event)
		return nil
	}

	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}
	if event.EventVersion == 0 {
		event.EventVersion = 1
	}

	id, err := db.InsertEvent(eb.db, event)
	if err != nil {
		return err
	}
	event.ID = id
	logger.Debugf("EventBus: published %s (ID: %d, session: %s)", event.EventType, event.ID, event.AggregateID)

	eb.deliver(event)
	return nil
}

// Broadcast delivers an event to subscribers without storing it.
func (eb *EventBus) Broadcast(event domain.Event) {
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}
	eb.deliver(event)
}

func (eb *EventBus) deliver(event domain.Event) {
	eb.mu.RLock()
	defer eb.mu.RUnlock()

	send := func(ch chan domain.Event) {
		select {
		case ch <- event:
		default:
			logger.Debugf("EventBus: subscriber buffer full, dropped %s for %s", event.EventType, event.AggregateID)
		}
	}
	for _, ch := range eb.subscribers[event.EventType] {
		send(ch)
	}
	for _, ch := range eb.all {
		send(ch)
	}
}

// Subscribe runs handler on a dedicated goroutine for every event of
// eventType, in publish order.
func (eb *EventBus) Subscribe(eventType domain.EventType, handler func(domain.Event)) {
	ch := make(chan domain.Event, subscriberBuffer)

	eb.mu.Lock()
	eb.subscribers[eventType] = append(eb.subscribers[eventType], ch)
	eb.mu.Unlock()

	eb.consume(ch, handler)
}

// SubscribeAll runs handler for every event regardless of type, transient
// ones included.
func (eb *EventBus) SubscribeAll(handler func(domain.Event)) {
	ch := make(chan domain.Event, subscriberBuffer)

	eb.mu.Lock()
	eb.all = append(eb.all, ch)
	eb.mu.Unlock()

	eb.consume(ch, handler)
}

func (eb *EventBus) consume(ch chan domain.Event, handler func(domain.Event)) {
	eb.wg.Add(1)
	go func() {
		defer eb.wg.Done()
		for {
			select {
			case event := <-ch:
				handler(event)
			case <-eb.stopChan:
				return
			}
		}
	}()
}

// Shutdown stops all subscriber goroutines and waits for them to finish.
func (eb *EventBus) Shutdown() {
	eb.stopOnce.Do(func() { close(eb.stopChan) })
	eb.wg.Wait()
	logger.Infof("EventBus shutdown complete")
}
