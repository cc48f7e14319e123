package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"

	"github.com/mescon/timekeeper/internal/countdown"
	"github.com/mescon/timekeeper/internal/format"
	"github.com/mescon/timekeeper/internal/scheduler"
	"github.com/mescon/timekeeper/internal/services"
)

func TestRespondSessionError(t *testing.T) {
	gin.SetMode(gin.TestMode)

	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantBody   string
	}{
		{"not found", services.ErrSessionNotFound, http.StatusNotFound, ErrMsgSessionNotFound},
		{"invalid duration", countdown.ErrInvalidDuration, http.StatusBadRequest, countdown.ErrInvalidDuration.Error()},
		{"wrapped kind", fmt.Errorf("%w: only countdowns", services.ErrInvalidKind), http.StatusBadRequest, "only countdowns"},
		{"name required", services.ErrNameRequired, http.StatusBadRequest, "name is required"},
		{"name too long", fmt.Errorf("%w: exceeds 100", services.ErrNameTooLong), http.StatusBadRequest, "exceeds 100"},
		{"bad field", fmt.Errorf("%w: minutes", format.ErrInvalidField), http.StatusBadRequest, "minutes"},
		{"loop stopped", scheduler.ErrStopped, http.StatusServiceUnavailable, ErrMsgServiceUnavailable},
		{"timeout", context.DeadlineExceeded, http.StatusGatewayTimeout, ErrMsgTimeout},
		{"internal", errors.New("disk on fire"), http.StatusInternalServerError, ErrMsgInternalError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			c, _ := gin.CreateTestContext(w)
			c.Request = httptest.NewRequest(http.MethodGet, "/api/sessions/x", nil)

			respondSessionError(c, tt.err)

			assert.Equal(t, tt.wantStatus, w.Code)
			assert.Contains(t, w.Body.String(), tt.wantBody)
		})
	}
}

func TestRespondSessionError_DoesNotLeakInternals(t *testing.T) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/", nil)

	respondSessionError(c, errors.New("sqlite: /var/lib/timekeeper/timekeeper.db locked"))

	assert.NotContains(t, w.Body.String(), "sqlite")
}

func TestRespondBadRequest(t *testing.T) {
	gin.SetMode(gin.TestMode)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	respondBadRequest(c, errors.New("secret detail"), false)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.NotContains(t, w.Body.String(), "secret detail")

	w = httptest.NewRecorder()
	c, _ = gin.CreateTestContext(w)
	respondBadRequest(c, errors.New("hours must be between 0 and 99"), true)
	assert.Contains(t, w.Body.String(), "hours must be between")
}
