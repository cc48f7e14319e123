package api

import (
	"strconv"

	"github.com/gin-gonic/gin"
)

const (
	defaultEventLimit = 100
	maxEventLimit     = 1000
)

// parseLimit reads the "limit" query parameter. Missing or malformed values
// yield def; values above max are clamped.
func parseLimit(c *gin.Context, def, max int) int {
	raw := c.Query("limit")
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return def
	}
	if n > max {
		return max
	}
	return n
}
