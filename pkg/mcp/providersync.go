package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// ProviderSyncRequest reconciles PM-provider credentials with the backend.
type ProviderSyncRequest struct {
	ProviderType string `json:"provider_type"`
	BaseURL      string `json:"base_url"`
	APIKey       string `json:"api_key,omitempty"`
	APIToken     string `json:"api_token,omitempty"`
}

// ProviderSyncResponse is the backend's reconciliation outcome.
type ProviderSyncResponse struct {
	MCPProviderID string `json:"mcp_provider_id"`
	Action        string `json:"action"` // created | updated
}

// ProviderSyncClient calls the provider-sync endpoint. Used on startup
// sweep, configuration change, and once per observed mismatch error.
type ProviderSyncClient struct {
	baseURL  string
	token    string
	http     *http.Client
	defaults ProviderSyncRequest
}

// NewProviderSyncClient creates a sync client. defaults supply the provider
// credentials sent when a mismatch retry has nothing request-specific.
func NewProviderSyncClient(baseURL, token string, defaults ProviderSyncRequest, client *http.Client) *ProviderSyncClient {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return &ProviderSyncClient{baseURL: baseURL, token: token, http: client, defaults: defaults}
}

// Sync posts one reconciliation request.
func (c *ProviderSyncClient) Sync(ctx context.Context, req ProviderSyncRequest) (*ProviderSyncResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		strings.TrimRight(c.baseURL, "/")+"/providers/sync", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("provider sync request failed: %w", err)
	}
	defer resp.Body.Close()
	payload, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("provider sync returned HTTP %d: %s",
			resp.StatusCode, strings.TrimSpace(string(payload)))
	}
	var out ProviderSyncResponse
	if err := json.Unmarshal(payload, &out); err != nil {
		return nil, fmt.Errorf("decode provider sync response: %w", err)
	}
	return &out, nil
}

// Resync performs a mismatch-triggered sync with the configured default
// credentials. ProviderType is a type tag ("jira"), never an ID, so nothing
// request-specific is mixed in; the backend resolves the provider itself.
func (c *ProviderSyncClient) Resync(ctx context.Context) (*ProviderSyncResponse, error) {
	return c.Sync(ctx, c.defaults)
}
