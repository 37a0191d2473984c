package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// handleHealth is the liveness probe.
func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// handleReady is the readiness probe: database connectivity plus the state
// of configured tool servers. Failed tool servers degrade but do not fail
// readiness — the workflow runs without them.
func (s *Server) handleReady(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	body := gin.H{
		"status":          "ready",
		"active_requests": s.runner.ActiveCount(),
	}
	status := http.StatusOK

	if s.store != nil {
		dbHealth, err := s.store.Health(ctx)
		body["database"] = dbHealth
		if err != nil {
			body["status"] = "unhealthy"
			status = http.StatusServiceUnavailable
		}
	}

	if s.mcp != nil {
		failed := s.mcp.FailedServers()
		body["mcp_failed_servers"] = failed
		if len(failed) > 0 && status == http.StatusOK {
			body["status"] = "degraded"
		}
	}

	c.JSON(status, body)
}
