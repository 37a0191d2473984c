// pmflow engine server — runs the multi-agent workflow graph behind an SSE
// HTTP API, bridges tool-protocol servers, and keeps provider credentials
// synced.
package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/pmflow/pmflow/pkg/api"
	"github.com/pmflow/pmflow/pkg/agent/prompt"
	"github.com/pmflow/pmflow/pkg/budget"
	"github.com/pmflow/pmflow/pkg/config"
	"github.com/pmflow/pmflow/pkg/database"
	"github.com/pmflow/pmflow/pkg/llm"
	"github.com/pmflow/pmflow/pkg/mcp"
	"github.com/pmflow/pmflow/pkg/runner"
	"github.com/pmflow/pmflow/pkg/tools"
)

const shutdownGrace = 30 * time.Second

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func main() {
	configDir := flag.String("config-dir",
		getEnv("CONFIG_DIR", "."),
		"Path to configuration directory")
	flag.Parse()

	envPath := filepath.Join(*configDir, ".env")
	if err := godotenv.Load(envPath); err != nil {
		slog.Warn("Could not load .env file, continuing with existing environment",
			"path", envPath, "error", err)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel(),
	}))
	slog.SetDefault(logger)

	ctx := context.Background()

	cfg, err := config.Initialize(*configDir)
	if err != nil {
		logger.Error("Failed to initialize configuration", "error", err)
		os.Exit(1)
	}

	// Database is optional: without it the project directory tools are
	// disabled but the workflow still runs.
	var store *database.Store
	if cfg.DatabaseURL != "" {
		store, err = database.NewStore(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Error("Failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer store.Close()
		logger.Info("Connected to PostgreSQL database")
	}

	llmClient, err := llm.NewClient(cfg.LLM, cfg.Defaults, logger)
	if err != nil {
		logger.Error("Failed to initialize LLM client", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := llmClient.Close(); err != nil {
			logger.Error("Error closing LLM client", "error", err)
		}
	}()

	registry := tools.NewRegistry(cfg.Defaults, logger)
	var dir tools.ProjectDirectory
	if store != nil {
		dir = store
	}
	if err := tools.RegisterBuiltins(registry, dir,
		os.Getenv("TAVILY_API_KEY"),
		os.Getenv("PM_BACKEND_URL"),
		os.Getenv("PM_BACKEND_TOKEN"),
		nil); err != nil {
		logger.Error("Failed to register builtin tools", "error", err)
		os.Exit(1)
	}

	// Tool-protocol servers: initialize sessions, bridge remote tools into
	// the registry, then sweep stored provider credentials.
	var mcpClient *mcp.Client
	var syncClient *mcp.ProviderSyncClient
	if len(cfg.MCPServerRegistry.IDs()) > 0 {
		if cfg.ProviderSyncURL != "" {
			syncClient = mcp.NewProviderSyncClient(cfg.ProviderSyncURL, cfg.APIToken,
				mcp.ProviderSyncRequest{}, nil)
		}

		mcpClient = mcp.NewClient(cfg.MCPServerRegistry, logger)
		initCtx, cancel := context.WithTimeout(ctx, mcp.InitTimeout)
		mcpClient.Initialize(initCtx)
		cancel()
		defer func() {
			if err := mcpClient.Close(); err != nil {
				logger.Error("Error closing tool server sessions", "error", err)
			}
		}()

		bridge := mcp.NewBridge(mcpClient, cfg.MCPServerRegistry, syncClient, logger)
		if err := bridge.RegisterAll(ctx, registry); err != nil {
			logger.Error("Failed to bridge tool servers", "error", err)
			os.Exit(1)
		}
		if failed := mcpClient.FailedServers(); len(failed) > 0 {
			logger.Warn("Some tool servers failed to initialize", "failed_servers", failed)
		}

		if store != nil && syncClient != nil {
			syncStoredProviders(ctx, store, syncClient, logger)
		}
	}

	budgetCoord := budget.NewCoordinator(cfg.ModelTable, logger)
	run := runner.New(cfg, llmClient, registry, budgetCoord, prompt.NewBuilder(), logger)
	server := api.NewServer(cfg, run, store, mcpClient, syncClient, logger)

	httpServer := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           server.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("HTTP server listening", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	select {
	case sig := <-sigCh:
		logger.Info("Shutdown signal received", "signal", sig.String())
	case err := <-errCh:
		logger.Error("HTTP server error", "error", err)
	}

	// Stop accepting connections, then let in-flight workflows unwind.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", "error", err)
	}
	if err := run.Shutdown(shutdownCtx); err != nil {
		logger.Warn("Forced cancellation of in-flight workflows", "error", err)
	}
	logger.Info("Shutdown complete")
}

// syncStoredProviders replays all stored provider credentials through the
// provider-sync endpoint. Keeps the tool backend's provider registry aligned
// after restarts.
func syncStoredProviders(ctx context.Context, store *database.Store, sync *mcp.ProviderSyncClient, logger *slog.Logger) {
	sweepCtx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()

	providers, err := store.ListProviders(sweepCtx)
	if err != nil {
		logger.Warn("Provider sweep failed to list providers", "error", err)
		return
	}
	for _, p := range providers {
		_, err := sync.Sync(sweepCtx, mcp.ProviderSyncRequest{
			ProviderType: p.ProviderType,
			BaseURL:      p.BaseURL,
			APIKey:       p.APIKey,
			APIToken:     p.APIToken,
		})
		if err != nil {
			logger.Warn("Provider sweep sync failed",
				"provider_type", p.ProviderType, "error", err)
		}
	}
	logger.Info("Provider sweep complete", "count", len(providers))
}

func logLevel() slog.Level {
	switch getEnv("LOG_LEVEL", "info") {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
