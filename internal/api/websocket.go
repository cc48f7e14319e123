package api

import (
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/mescon/timekeeper/internal/domain"
	"github.com/mescon/timekeeper/internal/logger"
)

const (
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	writeWait      = 5 * time.Second
	broadcastQueue = 256
)

// EventStream delivers every bus event to one handler. *eventbus.EventBus
// implements it.
type EventStream interface {
	SubscribeAll(handler func(domain.Event))
}

// wsMessage is the envelope of everything written to websocket clients.
type wsMessage struct {
	Type string      `json:"type"` // event, tick, log, ping
	Data interface{} `json:"data,omitempty"`
	Time *time.Time  `json:"timestamp,omitempty"`
}

// tickMessage is the compact payload sent for every SessionTick.
type tickMessage struct {
	SessionID string             `json:"session_id"`
	Kind      domain.SessionKind `json:"kind"`
	Phase     string             `json:"phase"`
	Display   string             `json:"display"`
	ValueMS   int64              `json:"value_ms"`
}

// newUpgrader validates Origin against corsOrigin: "*" allows all, a
// comma-separated list allows those, and empty allows only same-origin.
func newUpgrader(corsOrigin string) websocket.Upgrader {
	allowedOrigins := make(map[string]bool)
	if corsOrigin != "" && corsOrigin != "*" {
		for _, origin := range strings.Split(corsOrigin, ",") {
			allowedOrigins[strings.TrimSpace(origin)] = true
		}
	}

	return websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			switch {
			case corsOrigin == "*":
				return true
			case origin == "":
				return true // No origin header = same-origin request
			case corsOrigin == "":
				u, err := url.Parse(origin)
				return err == nil && u.Host == r.Host
			default:
				return allowedOrigins[origin]
			}
		},
	}
}

// WebSocketHub streams session events, ticks and optionally log entries to
// every connected client.
type WebSocketHub struct {
	upgrader websocket.Upgrader

	clients    map[*websocket.Conn]bool
	broadcast  chan wsMessage
	register   chan *websocket.Conn
	unregister chan *websocket.Conn
	mu         sync.Mutex

	logCh    chan logger.LogEntry
	done     chan struct{}
	stopOnce sync.Once
}

// NewWebSocketHub subscribes to stream and starts the hub goroutine. With
// streamLogs, log entries are forwarded too.
func NewWebSocketHub(stream EventStream, corsOrigin string, streamLogs bool) *WebSocketHub {
	h := &WebSocketHub{
		upgrader:   newUpgrader(corsOrigin),
		broadcast:  make(chan wsMessage, broadcastQueue),
		register:   make(chan *websocket.Conn),
		unregister: make(chan *websocket.Conn),
		clients:    make(map[*websocket.Conn]bool),
		done:       make(chan struct{}),
	}

	if stream != nil {
		stream.SubscribeAll(func(e domain.Event) {
			h.enqueue(eventMessage(e))
		})
	}

	if streamLogs {
		h.logCh = logger.Subscribe()
		go func() {
			for entry := range h.logCh {
				h.enqueue(wsMessage{Type: "log", Data: entry})
			}
		}()
	}

	go h.run()
	return h
}

func eventMessage(e domain.Event) wsMessage {
	if e.EventType == domain.SessionTick {
		if tick, ok := e.ParseTickEventData(); ok {
			return wsMessage{Type: "tick", Data: tickMessage{
				SessionID: tick.SessionID,
				Kind:      tick.Kind,
				Phase:     tick.Phase,
				Display:   tick.Display,
				ValueMS:   domain.Millis(tick.Value),
			}}
		}
	}
	return wsMessage{Type: "event", Data: e}
}

// enqueue never blocks the bus; a saturated hub drops the message.
func (h *WebSocketHub) enqueue(m wsMessage) {
	select {
	case h.broadcast <- m:
	case <-h.done:
	default:
	}
}

func (h *WebSocketHub) run() {
	for {
		select {
		case <-h.done:
			h.mu.Lock()
			for client := range h.clients {
				_ = client.Close()
				delete(h.clients, client)
			}
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			logger.Debugf("WebSocket client connected (Total: %d)", len(h.clients))
			h.mu.Unlock()

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				if err := client.Close(); err != nil {
					logger.Debugf("WebSocket close error: %v", err)
				}
				logger.Debugf("WebSocket client disconnected")
			}
			h.mu.Unlock()

		case message := <-h.broadcast:
			h.mu.Lock()
			for client := range h.clients {
				_ = client.SetWriteDeadline(time.Now().Add(writeWait))
				if err := client.WriteJSON(message); err != nil {
					logger.Debugf("WebSocket write error: %v", err)
					_ = client.Close()
					delete(h.clients, client)
				}
			}
			h.mu.Unlock()
		}
	}
}

// HandleConnection upgrades the request and keeps the connection alive with
// pings until the client goes away.
func (h *WebSocketHub) HandleConnection(c *gin.Context) {
	ws, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Errorf("Failed to upgrade to WebSocket: %v", err)
		return
	}

	select {
	case h.register <- ws:
	case <-h.done:
		_ = ws.Close()
		return
	}

	now := time.Now()
	h.mu.Lock()
	if err := ws.WriteJSON(wsMessage{Type: "ping", Time: &now}); err != nil {
		logger.Debugf("Failed to send initial ping: %v", err)
	}
	h.mu.Unlock()

	if err := ws.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		logger.Debugf("Failed to set initial read deadline: %v", err)
	}
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	stopPing := make(chan struct{})
	defer close(stopPing)
	go h.pingLoop(ws, stopPing)

	defer func() {
		select {
		case h.unregister <- ws:
		case <-h.done:
		}
	}()

	for {
		if _, _, err := ws.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *WebSocketHub) pingLoop(ws *websocket.Conn, stop <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-h.done:
			return
		case <-ticker.C:
			h.mu.Lock()
			if !h.clients[ws] {
				h.mu.Unlock()
				return
			}
			// Written under mu so pings never interleave with broadcasts.
			err := ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
			h.mu.Unlock()
			if err != nil {
				logger.Debugf("WebSocket ping error: %v", err)
				return
			}
		}
	}
}

// ClientCount returns the number of connected WebSocket clients
func (h *WebSocketHub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Stop disconnects every client and stops the hub.
func (h *WebSocketHub) Stop() {
	h.stopOnce.Do(func() {
		if h.logCh != nil {
			logger.Unsubscribe(h.logCh)
		}
		close(h.done)
	})
}
