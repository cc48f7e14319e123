package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/mescon/timekeeper/internal/config"
	"github.com/mescon/timekeeper/internal/domain"
)

// formatUptime returns a human-readable uptime string
func formatUptime(uptime time.Duration) string {
	days := int(uptime.Hours()) / 24
	hours := int(uptime.Hours()) % 24
	minutes := int(uptime.Minutes()) % 60

	if days > 0 {
		return fmt.Sprintf("%dd %dh %dm", days, hours, minutes)
	}
	if hours > 0 {
		return fmt.Sprintf("%dh %dm", hours, minutes)
	}
	return fmt.Sprintf("%dm", minutes)
}

func (s *RESTServer) maintenanceHealth() gin.H {
	if s.maintenance == nil {
		return nil
	}
	h := gin.H{"enabled": false}
	if next, ok := s.maintenance.NextRun(); ok {
		h["enabled"] = true
		h["next_run"] = next
	}
	if last := s.maintenance.LastRun(); last != nil {
		run := gin.H{
			"started_at":      last.StartedAt,
			"duration_ms":     domain.Millis(last.Duration),
			"events_pruned":   last.Result.EventsPruned,
			"sessions_pruned": last.Result.SessionsPruned,
		}
		if last.Error != "" {
			run["error"] = last.Error
		}
		h["last_run"] = run
	}
	return h
}

// handleHealth reports liveness for container orchestration. It answers 200
// even when degraded so a slow database does not restart the process.
func (s *RESTServer) handleHealth(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), requestTimeout)
	defer cancel()

	status := "healthy"
	dbHealth := gin.H{"status": "connected"}
	if err := s.store.Ping(); err != nil {
		status = "degraded"
		dbHealth["status"] = "error"
		dbHealth["error"] = err.Error()
	}

	health := gin.H{
		"status":            status,
		"version":           config.Version,
		"uptime":            formatUptime(time.Since(s.startTime)),
		"database":          dbHealth,
		"websocket_clients": s.hub.ClientCount(),
	}

	if sessions, err := s.sessions.List(ctx); err == nil {
		running := 0
		for _, snap := range sessions {
			if snap.Phase == "running" {
				running++
			}
		}
		health["sessions"] = gin.H{"total": len(sessions), "running": running}
	} else {
		// The session loop has stopped or is stalled.
		health["status"] = "degraded"
		health["sessions"] = gin.H{"error": err.Error()}
	}

	if m := s.maintenanceHealth(); m != nil {
		health["maintenance"] = m
	}

	c.JSON(http.StatusOK, health)
}
