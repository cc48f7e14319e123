// Package notifier sends a "Time's up!" message through shoutrrr services
// whenever a countdown expires.
package notifier

import (
	"fmt"
	"sync"
	"time"

	"github.com/containrrr/shoutrrr"

	"github.com/mescon/timekeeper/internal/clock"
	"github.com/mescon/timekeeper/internal/domain"
	"github.com/mescon/timekeeper/internal/eventbus"
	"github.com/mescon/timekeeper/internal/format"
	"github.com/mescon/timekeeper/internal/logger"
)

// Sender delivers one message to one service URL.
type Sender interface {
	Send(url, message string) error
}

// ShoutrrrSender sends through github.com/containrrr/shoutrrr.
type ShoutrrrSender struct{}

// Send implements Sender.
func (ShoutrrrSender) Send(url, message string) error {
	return shoutrrr.Send(url, message)
}

// Notifier listens for CountdownExpired and fans the message out to every
// configured URL. The outcome of each send is published as NotificationSent
// or NotificationFailed.
type Notifier struct {
	eb     eventbus.Publisher
	sender Sender
	urls   []string

	breakers *breakers

	mu       sync.Mutex
	lastSent map[string]time.Time
	throttle time.Duration
	stopped  bool
	wg       sync.WaitGroup
}

// NewNotifier creates a notifier. urls should already be normalized with
// PrepareURLs.
func NewNotifier(eb eventbus.Publisher, sender Sender, urls []string) *Notifier {
	return &Notifier{
		eb:       eb,
		sender:   sender,
		urls:     urls,
		breakers: newBreakers(DefaultBreakerConfig(), clock.NewRealClock()),
		lastSent: make(map[string]time.Time),
	}
}

// SetBreaker replaces the per-destination circuit breaker settings and the
// time source used for breaker timeouts and the throttle window. Call it
// before Start.
func (n *Notifier) SetBreaker(cfg BreakerConfig, src clock.TimeSource) {
	n.breakers = newBreakers(cfg, src)
}

// BreakerState reports the circuit state of one destination.
func (n *Notifier) BreakerState(url string) BreakerState {
	return n.breakers.state(url)
}

// SetThrottle suppresses repeat sends to the same URL within d. Zero, the
// default, sends every expiry.
func (n *Notifier) SetThrottle(d time.Duration) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.throttle = d
}

// Start subscribes to expirations. With no URLs configured it does nothing.
func (n *Notifier) Start() {
	if len(n.urls) == 0 {
		logger.Infof("Notifier disabled: no notification URLs configured")
		return
	}
	n.eb.Subscribe(domain.CountdownExpired, n.handleExpired)
	logger.Infof("Notifier started with %d destinations", len(n.urls))
}

// Stop waits for in-flight sends. Expirations arriving afterwards are ignored.
func (n *Notifier) Stop() {
	n.mu.Lock()
	n.stopped = true
	n.mu.Unlock()
	n.wg.Wait()
}

func (n *Notifier) handleExpired(ev domain.Event) {
	data, ok := ev.ParseExpiredEventData()
	if !ok {
		return
	}
	message := FormatExpiredMessage(data)

	n.mu.Lock()
	defer n.mu.Unlock()
	if n.stopped {
		return
	}
	now := n.breakers.clock.Now()
	for _, u := range n.urls {
		if last, ok := n.lastSent[u]; ok && n.throttle > 0 && now.Sub(last) < n.throttle {
			logger.Debugf("Throttled notification to %s", RedactURL(u))
			continue
		}
		n.lastSent[u] = now
		n.wg.Add(1)
		go n.send(u, message, data.SessionID)
	}
}

func (n *Notifier) send(url, message, sessionID string) {
	defer n.wg.Done()

	provider := ProviderLabel(url)
	var err error
	if n.breakers.allow(url) {
		err = n.sender.Send(url, message)
		n.breakers.record(url, err)
	} else {
		err = ErrCircuitOpen
	}
	if err != nil {
		logger.Errorf("Failed to send notification to %s: %v", RedactURL(url), err)
		n.publish(domain.NewSessionEvent(sessionID, domain.NotificationFailed, map[string]interface{}{
			domain.KeyProvider: provider,
			domain.KeyError:    err.Error(),
		}))
		return
	}
	logger.Debugf("Sent expiry notification for session %s to %s", sessionID, RedactURL(url))
	n.publish(domain.NewSessionEvent(sessionID, domain.NotificationSent, map[string]interface{}{
		domain.KeyProvider: provider,
	}))
}

func (n *Notifier) publish(e domain.Event) {
	if err := n.eb.Publish(e); err != nil {
		logger.Errorf("Failed to publish %s: %v", e.EventType, err)
	}
}

// FormatExpiredMessage renders the notification text.
func FormatExpiredMessage(data domain.ExpiredEventData) string {
	if data.Name == "" {
		return "Time's up!"
	}
	return fmt.Sprintf("Time's up! %q (%s) has finished.", data.Name, format.Countdown(data.Duration))
}
