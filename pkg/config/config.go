// Package config loads the engine configuration from environment variables
// and an optional pmflow.yaml file. YAML values merge over built-in defaults;
// environment variables win over both.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"
)

// Config is the fully-resolved engine configuration.
type Config struct {
	Defaults   *Defaults
	LLM        *LLMConfig
	ModelTable *ModelTable

	MCPServerRegistry *MCPServerRegistry

	// PMServerID is the registry ID of the PM-backend tool server, when one
	// is configured. Empty means no PM backend is wired.
	PMServerID string

	// ProviderSyncURL is the tool backend's provider-sync endpoint. Empty
	// disables credential sync.
	ProviderSyncURL string

	HTTPPort    string
	DatabaseURL string

	// APIToken guards the engine's own HTTP surface. Empty disables auth
	// (local development).
	APIToken string
}

// yamlConfig mirrors the pmflow.yaml file structure.
type yamlConfig struct {
	Defaults   *Defaults                   `yaml:"defaults"`
	LLM        *LLMConfig                  `yaml:"llm"`
	Models     *ModelTable                 `yaml:"models"`
	MCPServers map[string]*MCPServerConfig `yaml:"mcp_servers"`
}

// Initialize builds the configuration. configDir may contain pmflow.yaml;
// a missing file is not an error — environment variables alone are enough
// for the common single-PM-server deployment.
func Initialize(configDir string) (*Config, error) {
	cfg := &Config{
		Defaults:   NewDefaults(),
		LLM:        &LLMConfig{MaxConcurrent: DefaultLLMMaxConcurrent},
		ModelTable: NewModelTable(),
	}

	servers := make(map[string]*MCPServerConfig)

	yamlPath := filepath.Join(configDir, "pmflow.yaml")
	if data, err := os.ReadFile(yamlPath); err == nil {
		var fileCfg yamlConfig
		if err := yaml.Unmarshal(ExpandEnv(data), &fileCfg); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", yamlPath, err)
		}
		if err := applyYAML(cfg, servers, &fileCfg); err != nil {
			return nil, err
		}
		slog.Info("Loaded configuration file", "path", yamlPath)
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read %s: %w", yamlPath, err)
	}

	applyEnv(cfg, servers)

	for id, server := range servers {
		if err := server.Transport.Validate(); err != nil {
			return nil, fmt.Errorf("mcp server %q: %w", id, err)
		}
		if server.PMProvider {
			cfg.PMServerID = id
		}
	}
	cfg.MCPServerRegistry = NewMCPServerRegistry(servers)

	if cfg.LLM.BasicModel == "" {
		cfg.LLM.BasicModel = string(ModelFamilyMidChat)
	}
	if cfg.LLM.ReasoningModel == "" {
		cfg.LLM.ReasoningModel = cfg.LLM.BasicModel
	}

	return cfg, nil
}

// applyYAML merges file values over the built-in defaults.
func applyYAML(cfg *Config, servers map[string]*MCPServerConfig, fileCfg *yamlConfig) error {
	if fileCfg.Defaults != nil {
		if err := mergo.Merge(cfg.Defaults, fileCfg.Defaults, mergo.WithOverride); err != nil {
			return fmt.Errorf("failed to merge defaults: %w", err)
		}
	}
	if fileCfg.LLM != nil {
		if err := mergo.Merge(cfg.LLM, fileCfg.LLM, mergo.WithOverride); err != nil {
			return fmt.Errorf("failed to merge llm config: %w", err)
		}
	}
	if fileCfg.Models != nil {
		if err := mergo.Merge(cfg.ModelTable, fileCfg.Models, mergo.WithOverride); err != nil {
			return fmt.Errorf("failed to merge model table: %w", err)
		}
	}
	for id, server := range fileCfg.MCPServers {
		servers[id] = server
	}
	return nil
}

// applyEnv applies the recognized environment variables on top.
func applyEnv(cfg *Config, servers map[string]*MCPServerConfig) {
	cfg.HTTPPort = getEnv("HTTP_PORT", "8080")
	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	cfg.APIToken = os.Getenv("PMFLOW_API_TOKEN")
	cfg.ProviderSyncURL = os.Getenv("PROVIDER_SYNC_URL")

	if v := os.Getenv("BASIC_MODEL"); v != "" {
		cfg.LLM.BasicModel = v
	}
	if v := os.Getenv("REASONING_MODEL"); v != "" {
		cfg.LLM.ReasoningModel = v
	}
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		cfg.LLM.APIKey = v
	}
	if v := os.Getenv("OPENAI_BASE_URL"); v != "" {
		cfg.LLM.BaseURL = v
	}

	if v, ok := intEnv("MAX_REPLAN_ITERATIONS"); ok {
		cfg.Defaults.MaxReplanIterations = v
	}
	if v, ok := intEnv("REACT_MAX_ITERATIONS"); ok {
		cfg.Defaults.ReactMaxIterations = v
	}
	if v, ok := intEnv("REACT_MAX_ERRORS"); ok {
		cfg.Defaults.ReactMaxErrors = v
	}
	if v, ok := intEnv("TOOL_OUTPUT_TOKEN_BUDGET"); ok {
		cfg.Defaults.ToolOutputTokenBudget = v
	}
	if v, ok := intEnv("TOOL_CALL_TIMEOUT_SECONDS"); ok {
		cfg.Defaults.ToolCallTimeout = time.Duration(v) * time.Second
	}

	// PM_MCP_* variables register the PM-backend tool server without a YAML file.
	if url := os.Getenv("PM_MCP_SERVER_URL"); url != "" {
		transport := TransportType(getEnv("PM_MCP_TRANSPORT", string(TransportTypeHTTP)))
		servers["pm"] = &MCPServerConfig{
			Transport: TransportConfig{
				Type:        transport,
				URL:         url,
				BearerToken: os.Getenv("PM_MCP_API_KEY"),
			},
			PMProvider: true,
		}
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func intEnv(key string) (int, bool) {
	v := os.Getenv(key)
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		slog.Warn("Ignoring non-integer environment value", "key", key, "value", v)
		return 0, false
	}
	return n, true
}
