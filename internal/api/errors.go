package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/mescon/timekeeper/internal/countdown"
	"github.com/mescon/timekeeper/internal/format"
	"github.com/mescon/timekeeper/internal/logger"
	"github.com/mescon/timekeeper/internal/scheduler"
	"github.com/mescon/timekeeper/internal/services"
)

// Standard error messages (don't leak internal details)
const (
	ErrMsgDatabaseError       = "Database error"
	ErrMsgAuthenticationError = "Authentication error"
	ErrMsgInvalidRequest      = "Invalid request"
	ErrMsgNotFound            = "Not found"
	ErrMsgServiceUnavailable  = "Service unavailable"
	ErrMsgInternalError       = "Internal server error"
	ErrMsgSessionNotFound     = "Session not found"
	ErrMsgTimeout             = "Request timed out"
)

// respondWithError sends a JSON error response and logs the actual error
func respondWithError(c *gin.Context, status int, publicMsg string, err error) {
	if err != nil {
		logger.Debugf("%s: %v", publicMsg, err)
	}
	c.JSON(status, gin.H{"error": publicMsg})
}

// respondDatabaseError handles database errors consistently
func respondDatabaseError(c *gin.Context, err error) {
	respondWithError(c, http.StatusInternalServerError, ErrMsgDatabaseError, err)
}

// respondBadRequest handles bad request errors, optionally exposing the error message
// Use exposeError=true only for validation errors safe to show users
func respondBadRequest(c *gin.Context, err error, exposeError bool) {
	if exposeError && err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	respondWithError(c, http.StatusBadRequest, ErrMsgInvalidRequest, err)
}

// respondNotFound handles not found errors
func respondNotFound(c *gin.Context, resource string) {
	c.JSON(http.StatusNotFound, gin.H{"error": resource + " not found"})
}

// isValidationError reports errors whose message is safe to show.
func isValidationError(err error) bool {
	return errors.Is(err, countdown.ErrInvalidDuration) ||
		errors.Is(err, format.ErrInvalidField) ||
		errors.Is(err, services.ErrInvalidKind) ||
		errors.Is(err, services.ErrNameRequired) ||
		errors.Is(err, services.ErrNameTooLong)
}

// respondSessionError maps a SessionService error to a status code.
func respondSessionError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, services.ErrSessionNotFound):
		respondWithError(c, http.StatusNotFound, ErrMsgSessionNotFound, err)
	case isValidationError(err):
		respondBadRequest(c, err, true)
	case errors.Is(err, scheduler.ErrStopped):
		respondWithError(c, http.StatusServiceUnavailable, ErrMsgServiceUnavailable, err)
	case errors.Is(err, context.DeadlineExceeded):
		respondWithError(c, http.StatusGatewayTimeout, ErrMsgTimeout, err)
	default:
		logger.Errorf("Session request %s %s failed: %v", c.Request.Method, c.Request.URL.Path, err)
		respondWithError(c, http.StatusInternalServerError, ErrMsgInternalError, nil)
	}
}
