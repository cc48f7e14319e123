package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mescon/timekeeper/internal/domain"
	"github.com/mescon/timekeeper/internal/logger"
)

// EventSource delivers every bus event, in publish order, to one handler.
// *eventbus.EventBus implements it.
type EventSource interface {
	SubscribeAll(handler func(domain.Event))
}

// commandNames maps lifecycle events to the command label they count under.
var commandNames = map[domain.EventType]string{
	domain.SessionStarted:      "start",
	domain.SessionStopped:      "stop",
	domain.SessionReset:        "reset",
	domain.CountdownConfigured: "configure",
	domain.SessionDeleted:      "delete",
}

// MetricsService exposes Prometheus metrics for Timekeeper
type MetricsService struct {
	source   EventSource
	registry *prometheus.Registry

	// Counters
	sessionsCreated    *prometheus.CounterVec
	commandsTotal      *prometheus.CounterVec
	countdownsExpired  prometheus.Counter
	notificationsTotal *prometheus.CounterVec

	// Gauges
	sessions        prometheus.Gauge
	runningSessions prometheus.Gauge

	// Histograms
	expiryLateness prometheus.Histogram

	// Internal tracking
	mu      sync.Mutex
	live    map[string]bool // session ID -> running
	started bool
}

// NewMetricsService creates the metrics and registers them with reg. A nil
// reg gets a fresh registry that also carries the Go and process collectors.
func NewMetricsService(source EventSource, reg *prometheus.Registry) *MetricsService {
	if reg == nil {
		reg = prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}

	m := &MetricsService{
		source:   source,
		registry: reg,
		live:     make(map[string]bool),

		sessionsCreated: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "timekeeper_sessions_created_total",
				Help: "Total number of sessions created by kind",
			},
			[]string{"kind"},
		),

		commandsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "timekeeper_session_commands_total",
				Help: "Total number of state-changing session commands",
			},
			[]string{"kind", "command"},
		),

		countdownsExpired: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "timekeeper_countdowns_expired_total",
				Help: "Total number of countdown runs that reached zero",
			},
		),

		notificationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "timekeeper_notifications_total",
				Help: "Total number of expiry notifications by outcome",
			},
			[]string{"outcome"}, // sent, failed
		),

		sessions: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "timekeeper_sessions",
				Help: "Number of sessions that exist",
			},
		),

		runningSessions: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "timekeeper_running_sessions",
				Help: "Number of sessions currently running",
			},
		),

		expiryLateness: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "timekeeper_expiry_lateness_seconds",
				Help:    "How far past its target a countdown expiry was detected",
				Buckets: prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~2s
			},
		),
	}

	reg.MustRegister(
		m.sessionsCreated,
		m.commandsTotal,
		m.countdownsExpired,
		m.notificationsTotal,
		m.sessions,
		m.runningSessions,
		m.expiryLateness,
	)

	return m
}

// Start subscribes to the event stream.
func (m *MetricsService) Start() {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return
	}
	m.started = true
	m.mu.Unlock()

	m.source.SubscribeAll(m.handleEvent)
	logger.Infof("Metrics service started")
}

// SeedSessions records sessions that existed before the event stream began,
// such as those restored at startup. They are counted as not running.
func (m *MetricsService) SeedSessions(ids []string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range ids {
		if _, ok := m.live[id]; !ok {
			m.live[id] = false
		}
	}
	m.updateGauges()
}

// Handler returns the Prometheus HTTP handler for /metrics endpoint
func (m *MetricsService) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry returns the registry the metrics are registered with.
func (m *MetricsService) Registry() *prometheus.Registry {
	return m.registry
}

func (m *MetricsService) handleEvent(event domain.Event) {
	kind := event.GetStringOr(domain.KeyKind, "unknown")

	switch event.EventType {
	case domain.SessionTick:
		return
	case domain.SessionCreated:
		m.sessionsCreated.WithLabelValues(kind).Inc()
	case domain.CountdownExpired:
		m.countdownsExpired.Inc()
		if lateness, ok := event.GetDuration(domain.KeyLatenessMS); ok {
			m.expiryLateness.Observe(lateness.Seconds())
		}
	case domain.NotificationSent:
		m.notificationsTotal.WithLabelValues("sent").Inc()
		return
	case domain.NotificationFailed:
		m.notificationsTotal.WithLabelValues("failed").Inc()
		return
	}
	if command, ok := commandNames[event.EventType]; ok {
		m.commandsTotal.WithLabelValues(kind, command).Inc()
	}

	m.track(event)
}

// track keeps the per-session running flag in step with lifecycle events.
func (m *MetricsService) track(event domain.Event) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := event.AggregateID
	if event.EventType == domain.SessionDeleted {
		delete(m.live, id)
	} else if phase, ok := event.GetString(domain.KeyPhase); ok {
		m.live[id] = phase == "running"
	}
	m.updateGauges()
}

// updateGauges must be called with mu held.
func (m *MetricsService) updateGauges() {
	running := 0
	for _, r := range m.live {
		if r {
			running++
		}
	}
	m.sessions.Set(float64(len(m.live)))
	m.runningSessions.Set(float64(running))
}
