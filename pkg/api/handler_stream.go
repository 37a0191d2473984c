package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/pmflow/pmflow/pkg/mcp"
	"github.com/pmflow/pmflow/pkg/models"
	"github.com/pmflow/pmflow/pkg/runner"
)

// providerSyncTimeout bounds the pre-workflow credential reconciliation.
const providerSyncTimeout = 15 * time.Second

// handleStream runs one workflow and streams its events as SSE.
func (s *Server) handleStream(c *gin.Context) {
	var req StreamRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if req.MCPSettings != nil {
		s.syncProviders(c.Request.Context(), req.MCPSettings)
	}

	projectID := ""
	if req.ProjectID != nil {
		projectID = *req.ProjectID
	}
	stream, err := s.runner.Start(&runner.Request{
		ThreadID:             req.ThreadID,
		ProjectID:            projectID,
		ModelName:            req.ModelName,
		Messages:             convertMessages(req.Messages),
		FrontendHistoryCount: req.ConversationHistoryCount,
	})
	if err != nil {
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, runner.ErrShuttingDown):
			status = http.StatusServiceUnavailable
		case errors.Is(err, runner.ErrThreadBusy):
			status = http.StatusConflict
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.Header().Set("X-Accel-Buffering", "no")
	c.Writer.Flush()

	clientGone := c.Request.Context().Done()
	for {
		select {
		case ev, ok := <-stream.Events():
			if !ok {
				return
			}
			payload, err := json.Marshal(ev)
			if err != nil {
				s.logger.Error("Failed to marshal event", "error", err, "event", ev.Event)
				continue
			}
			fmt.Fprintf(c.Writer, "data: %s\n\n", payload)
			c.Writer.Flush()
		case <-clientGone:
			// Disconnect cancels the workflow; drain so the driver can close
			// the stream and unwind.
			s.runner.Cancel(req.ThreadID)
			for range stream.Events() {
			}
			return
		}
	}
}

// handleCancel aborts the in-flight request for a thread.
func (s *Server) handleCancel(c *gin.Context) {
	threadID := c.Param("thread_id")
	if !s.runner.Cancel(threadID) {
		c.JSON(http.StatusNotFound, gin.H{"error": "no active request for thread"})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "cancelling", "thread_id": threadID})
}

// syncProviders reconciles request-supplied provider credentials. Failures
// are logged, not fatal — the workflow may still succeed with the previously
// synced credentials.
func (s *Server) syncProviders(ctx context.Context, settings *MCPSettings) {
	if s.sync == nil {
		return
	}
	syncCtx, cancel := context.WithTimeout(ctx, providerSyncTimeout)
	defer cancel()
	for _, server := range settings.Servers {
		if server.BaseURL == "" {
			continue
		}
		_, err := s.sync.Sync(syncCtx, mcp.ProviderSyncRequest{
			ProviderType: server.ProviderType,
			BaseURL:      server.BaseURL,
			APIKey:       server.APIKey,
			APIToken:     server.APIToken,
		})
		if err != nil {
			s.logger.Warn("Provider sync failed", "provider_type", server.ProviderType, "error", err)
		}
	}
}

func convertMessages(in []IncomingMessage) []models.Message {
	out := make([]models.Message, 0, len(in))
	for _, m := range in {
		id := m.ID
		if id == "" {
			id = uuid.New().String()
		}
		out = append(out, models.Message{
			ID:      id,
			Role:    models.Role(m.Role),
			Content: m.Content,
		})
	}
	return out
}
