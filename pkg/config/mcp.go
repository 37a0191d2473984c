package config

import (
	"fmt"
	"sync"
)

// TransportConfig describes how to reach one tool-protocol server.
type TransportConfig struct {
	Type TransportType `yaml:"type" json:"type"`

	// Stdio transport
	Command string            `yaml:"command,omitempty" json:"command,omitempty"`
	Args    []string          `yaml:"args,omitempty" json:"args,omitempty"`
	Env     map[string]string `yaml:"env,omitempty" json:"env,omitempty"`

	// HTTP / SSE transports
	URL         string `yaml:"url,omitempty" json:"url,omitempty"`
	BearerToken string `yaml:"bearer_token,omitempty" json:"bearer_token,omitempty"`
	VerifySSL   *bool  `yaml:"verify_ssl,omitempty" json:"verify_ssl,omitempty"`
	Timeout     int    `yaml:"timeout,omitempty" json:"timeout,omitempty"` // seconds
}

// Validate checks transport-specific required fields.
func (t *TransportConfig) Validate() error {
	if err := t.Type.Validate(); err != nil {
		return err
	}
	switch t.Type {
	case TransportTypeStdio:
		if t.Command == "" {
			return fmt.Errorf("%w: stdio transport requires command", ErrMissingRequired)
		}
	case TransportTypeHTTP, TransportTypeSSE:
		if t.URL == "" {
			return fmt.Errorf("%w: %s transport requires url", ErrMissingRequired, t.Type)
		}
	}
	return nil
}

// MCPServerConfig defines one tool-protocol server registration.
type MCPServerConfig struct {
	Transport TransportConfig `yaml:"transport"`

	// Instructions are appended to agent system prompts when this server's
	// tools are exposed.
	Instructions string `yaml:"instructions,omitempty"`

	// AllowedAgents restricts which worker nodes see this server's tools.
	// Empty means every agent may use them.
	AllowedAgents []string `yaml:"allowed_agents,omitempty"`

	// PMProvider marks this server as the PM-backend tool provider. The
	// bridge applies provider-ID normalization and mismatch re-sync only
	// to PM provider servers.
	PMProvider bool `yaml:"pm_provider,omitempty"`
}

// MCPServerRegistry stores tool-server configurations with thread-safe access.
type MCPServerRegistry struct {
	servers map[string]*MCPServerConfig
	mu      sync.RWMutex
}

// NewMCPServerRegistry creates a registry from the loaded configuration.
func NewMCPServerRegistry(servers map[string]*MCPServerConfig) *MCPServerRegistry {
	if servers == nil {
		servers = make(map[string]*MCPServerConfig)
	}
	return &MCPServerRegistry{servers: servers}
}

// Get retrieves a server configuration by ID.
func (r *MCPServerRegistry) Get(serverID string) (*MCPServerConfig, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	server, exists := r.servers[serverID]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrMCPServerNotFound, serverID)
	}
	return server, nil
}

// GetAll returns a copy of all server configurations.
func (r *MCPServerRegistry) GetAll() map[string]*MCPServerConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()
	result := make(map[string]*MCPServerConfig, len(r.servers))
	for k, v := range r.servers {
		result[k] = v
	}
	return result
}

// Has reports whether a server ID is registered.
func (r *MCPServerRegistry) Has(serverID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, exists := r.servers[serverID]
	return exists
}

// IDs returns all registered server IDs.
func (r *MCPServerRegistry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.servers))
	for id := range r.servers {
		ids = append(ids, id)
	}
	return ids
}

// Register adds or replaces a server configuration at runtime.
// Used when a request carries its own mcp_settings.
func (r *MCPServerRegistry) Register(serverID string, cfg *MCPServerConfig) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.servers[serverID] = cfg
}
