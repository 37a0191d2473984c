// Package api exposes the engine's HTTP surface: the SSE workflow endpoint,
// request cancellation, and health probes.
package api

import (
	"log/slog"

	"github.com/gin-gonic/gin"

	"github.com/pmflow/pmflow/pkg/config"
	"github.com/pmflow/pmflow/pkg/database"
	"github.com/pmflow/pmflow/pkg/mcp"
	"github.com/pmflow/pmflow/pkg/runner"
)

// Server wires the HTTP handlers to the engine.
type Server struct {
	cfg    *config.Config
	runner *runner.Runner
	store  *database.Store // nil when no database is configured
	mcp    *mcp.Client     // nil when no tool servers are configured
	sync   *mcp.ProviderSyncClient
	logger *slog.Logger
}

// NewServer creates the API server. store, mcpClient, and syncClient are
// optional.
func NewServer(cfg *config.Config, r *runner.Runner, store *database.Store,
	mcpClient *mcp.Client, syncClient *mcp.ProviderSyncClient, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		cfg:    cfg,
		runner: r,
		store:  store,
		mcp:    mcpClient,
		sync:   syncClient,
		logger: logger,
	}
}

// Router builds the gin engine with all routes registered.
func (s *Server) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/health", s.handleHealth)
	router.GET("/health/ready", s.handleReady)

	v1 := router.Group("/api/v1")
	if s.cfg.APIToken != "" {
		v1.Use(bearerAuth(s.cfg.APIToken))
	}
	v1.POST("/workflow/stream", s.handleStream)
	v1.POST("/workflow/:thread_id/cancel", s.handleCancel)

	return router
}
