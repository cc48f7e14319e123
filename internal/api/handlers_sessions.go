package api

import (
	"context"
	"math"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/mescon/timekeeper/internal/countdown"
	"github.com/mescon/timekeeper/internal/domain"
	"github.com/mescon/timekeeper/internal/format"
	"github.com/mescon/timekeeper/internal/services"
)

// maxDurationMS is the largest duration_ms that fits in a time.Duration.
const maxDurationMS = math.MaxInt64 / int64(time.Millisecond)

// durationRequest accepts either duration_ms or separate h/m/s fields.
type durationRequest struct {
	DurationMS *int64 `json:"duration_ms"`
	Hours      int    `json:"hours"`
	Minutes    int    `json:"minutes"`
	Seconds    int    `json:"seconds"`
}

func (r durationRequest) duration() (time.Duration, error) {
	if r.DurationMS != nil {
		if *r.DurationMS < 0 || *r.DurationMS > maxDurationMS {
			return 0, countdown.ErrInvalidDuration
		}
		return time.Duration(*r.DurationMS) * time.Millisecond, nil
	}
	return format.ParseHMS(r.Hours, r.Minutes, r.Seconds)
}

type createSessionRequest struct {
	Name string             `json:"name"`
	Kind domain.SessionKind `json:"kind" binding:"required"`
	durationRequest
}

// requestContext bounds a handler's wait on the session loop.
func requestContext(c *gin.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.Request.Context(), requestTimeout)
}

func (s *RESTServer) listSessions(c *gin.Context) {
	ctx, cancel := requestContext(c)
	defer cancel()

	sessions, err := s.sessions.List(ctx)
	if err != nil {
		respondSessionError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"sessions": sessions, "count": len(sessions)})
}

func (s *RESTServer) createSession(c *gin.Context) {
	var req createSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, err, false)
		return
	}

	var d time.Duration
	if req.Kind == domain.KindCountdown {
		var err error
		if d, err = req.duration(); err != nil {
			respondBadRequest(c, err, true)
			return
		}
	}

	ctx, cancel := requestContext(c)
	defer cancel()

	snap, err := s.sessions.Create(ctx, req.Name, req.Kind, d)
	if err != nil {
		respondSessionError(c, err)
		return
	}
	c.JSON(http.StatusCreated, snap)
}

func (s *RESTServer) getSession(c *gin.Context) {
	s.sessionCommand(c, s.sessions.Get)
}

func (s *RESTServer) startSession(c *gin.Context) {
	s.sessionCommand(c, s.sessions.Start)
}

func (s *RESTServer) stopSession(c *gin.Context) {
	s.sessionCommand(c, s.sessions.Stop)
}

func (s *RESTServer) resetSession(c *gin.Context) {
	s.sessionCommand(c, s.sessions.Reset)
}

// sessionCommand runs op against the :id session and writes the snapshot.
func (s *RESTServer) sessionCommand(c *gin.Context, op func(context.Context, string) (services.Snapshot, error)) {
	ctx, cancel := requestContext(c)
	defer cancel()

	snap, err := op(ctx, c.Param("id"))
	if err != nil {
		respondSessionError(c, err)
		return
	}
	c.JSON(http.StatusOK, snap)
}

func (s *RESTServer) configureSession(c *gin.Context) {
	var req durationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, err, false)
		return
	}
	d, err := req.duration()
	if err != nil {
		respondBadRequest(c, err, true)
		return
	}

	ctx, cancel := requestContext(c)
	defer cancel()

	snap, err := s.sessions.Configure(ctx, c.Param("id"), d)
	if err != nil {
		respondSessionError(c, err)
		return
	}
	c.JSON(http.StatusOK, snap)
}

func (s *RESTServer) deleteSession(c *gin.Context) {
	ctx, cancel := requestContext(c)
	defer cancel()

	if err := s.sessions.Delete(ctx, c.Param("id")); err != nil {
		respondSessionError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// getSessionEvents returns the latest stored events of a session, oldest first.
// Deleted sessions keep their history until retention prunes it.
func (s *RESTServer) getSessionEvents(c *gin.Context) {
	limit := parseLimit(c, defaultEventLimit, maxEventLimit)

	events, err := s.store.SessionEvents(c.Param("id"), limit)
	if err != nil {
		respondDatabaseError(c, err)
		return
	}
	if events == nil {
		events = []domain.Event{}
	}
	c.JSON(http.StatusOK, gin.H{"events": events, "count": len(events), "limit": limit})
}
