// Package api serves the Timekeeper REST API and the websocket event stream.
package api

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/mescon/timekeeper/internal/auth"
	"github.com/mescon/timekeeper/internal/domain"
	"github.com/mescon/timekeeper/internal/logger"
	"github.com/mescon/timekeeper/internal/services"
	"github.com/mescon/timekeeper/internal/web"
)

// requestTimeout bounds how long a handler waits for the session loop.
const requestTimeout = 5 * time.Second

// SessionManager is the part of *services.SessionService the handlers use.
type SessionManager interface {
	List(ctx context.Context) ([]services.Snapshot, error)
	Get(ctx context.Context, id string) (services.Snapshot, error)
	Create(ctx context.Context, name string, kind domain.SessionKind, d time.Duration) (services.Snapshot, error)
	Start(ctx context.Context, id string) (services.Snapshot, error)
	Stop(ctx context.Context, id string) (services.Snapshot, error)
	Reset(ctx context.Context, id string) (services.Snapshot, error)
	Configure(ctx context.Context, id string, d time.Duration) (services.Snapshot, error)
	Delete(ctx context.Context, id string) error
}

// EventStore reads persisted session history. *db.Repository implements it.
type EventStore interface {
	SessionEvents(sessionID string, limit int) ([]domain.Event, error)
	Ping() error
}

// MaintenanceStatus reports database maintenance runs.
type MaintenanceStatus interface {
	LastRun() *services.MaintenanceRun
	NextRun() (time.Time, bool)
}

// ServerDeps contains all dependencies required for the REST server
type ServerDeps struct {
	Sessions    SessionManager
	Store       EventStore
	Events      EventStream
	Metrics     http.Handler      // optional
	Maintenance MaintenanceStatus // optional
	Verifier    *auth.Verifier    // nil disables authentication

	CORSOrigin string
	StreamLogs bool
}

type RESTServer struct {
	router      *gin.Engine
	httpServer  *http.Server
	sessions    SessionManager
	store       EventStore
	maintenance MaintenanceStatus
	verifier    *auth.Verifier
	authLimiter *RateLimiter
	hub         *WebSocketHub
	startTime   time.Time
}

func NewRESTServer(deps ServerDeps) *RESTServer {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(requestIDMiddleware(), recoveryMiddleware(), corsMiddleware(deps.CORSOrigin))

	s := &RESTServer{
		router:      r,
		sessions:    deps.Sessions,
		store:       deps.Store,
		maintenance: deps.Maintenance,
		verifier:    deps.Verifier,
		// Failed key attempts: 10 per minute per IP.
		authLimiter: NewRateLimiter(10, time.Minute, 10),
		hub:         NewWebSocketHub(deps.Events, deps.CORSOrigin, deps.StreamLogs),
		startTime:   time.Now(),
	}

	s.setupRoutes(deps.Metrics)
	return s
}

// requestIDMiddleware propagates X-Request-ID, generating one when absent.
func requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		reqID := c.GetHeader("X-Request-ID")
		if reqID == "" {
			reqID = uuid.NewString()
		}
		c.Set("request_id", reqID)
		c.Header("X-Request-ID", reqID)
		c.Next()
	}
}

func recoveryMiddleware() gin.HandlerFunc {
	return gin.CustomRecovery(func(c *gin.Context, recovered interface{}) {
		reqID := c.GetString("request_id")
		logger.Errorf("[PANIC RECOVERY] request_id=%s path=%s method=%s error=%v",
			reqID, c.Request.URL.Path, c.Request.Method, recovered)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
			"error":      ErrMsgInternalError,
			"request_id": reqID,
		})
	})
}

// corsMiddleware sets CORS headers for origins in the comma-separated list,
// or for everyone with "*". Empty leaves the browser's same-origin policy.
func corsMiddleware(corsOrigins string) gin.HandlerFunc {
	allowedOrigins := make(map[string]bool)
	if corsOrigins != "" && corsOrigins != "*" {
		for _, origin := range strings.Split(corsOrigins, ",") {
			allowedOrigins[strings.TrimSpace(origin)] = true
		}
	}

	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		if corsOrigins == "*" {
			c.Header("Access-Control-Allow-Origin", "*")
		} else if origin != "" && allowedOrigins[origin] {
			c.Header("Access-Control-Allow-Origin", origin)
			c.Header("Vary", "Origin")
			c.Header("Access-Control-Allow-Credentials", "true")
		}
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization, X-API-Key, X-Request-ID")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

func (s *RESTServer) setupRoutes(metricsHandler http.Handler) {
	// Prometheus scrapes without credentials.
	if metricsHandler != nil {
		s.router.GET("/metrics", gin.WrapH(metricsHandler))
	}

	api := s.router.Group("/api")
	api.GET("/health", s.handleHealth)

	protected := api.Group("")
	protected.Use(s.authMiddleware())
	{
		protected.GET("/sessions", s.listSessions)
		protected.POST("/sessions", s.createSession)
		protected.GET("/sessions/:id", s.getSession)
		protected.DELETE("/sessions/:id", s.deleteSession)
		protected.POST("/sessions/:id/start", s.startSession)
		protected.POST("/sessions/:id/stop", s.stopSession)
		protected.POST("/sessions/:id/reset", s.resetSession)
		protected.PUT("/sessions/:id/duration", s.configureSession)
		protected.GET("/sessions/:id/events", s.getSessionEvents)
		protected.GET("/ws", s.hub.HandleConnection)
	}

	// The board page is public; it reads the key from its own ?token= query.
	s.router.GET("/", serveIndex)

	s.router.NoRoute(func(c *gin.Context) {
		respondNotFound(c, "Endpoint")
	})
}

func serveIndex(c *gin.Context) {
	data, err := web.IndexHTML()
	if err != nil {
		logger.Errorf("Failed to read embedded index.html: %v", err)
		respondNotFound(c, "Page")
		return
	}
	c.Header("Cache-Control", "no-cache")
	c.Data(http.StatusOK, "text/html; charset=utf-8", data)
}

// Handler exposes the router, mainly for tests.
func (s *RESTServer) Handler() http.Handler {
	return s.router
}

// Hub returns the websocket hub.
func (s *RESTServer) Hub() *WebSocketHub {
	return s.hub
}

func (s *RESTServer) Start(addr string) error {
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server and the websocket hub.
func (s *RESTServer) Shutdown(ctx context.Context) error {
	s.authLimiter.Stop()
	s.hub.Stop()
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// requestKey extracts the API key from headers, falling back to query
// parameters for websocket clients that cannot set headers.
func requestKey(c *gin.Context) string {
	if key := c.GetHeader("X-API-Key"); key != "" {
		return key
	}
	if h := c.GetHeader("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	if key := c.Query("token"); key != "" {
		return key
	}
	return c.Query("apikey")
}

func (s *RESTServer) authMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.verifier == nil {
			c.Next()
			return
		}

		key := requestKey(c)
		if key == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "No authentication token provided"})
			return
		}
		if s.verifier.Verify(key) {
			c.Next()
			return
		}

		if !s.authLimiter.Allow(c.ClientIP()) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "Too many failed authentication attempts"})
			return
		}
		logger.Warnf("Rejected API key from %s for %s", c.ClientIP(), c.Request.URL.Path)
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid authentication token"})
	}
}
