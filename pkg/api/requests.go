package api

// IncomingMessage is one frontend-supplied conversation message.
type IncomingMessage struct {
	ID      string `json:"id"`
	Role    string `json:"role" binding:"required,oneof=user assistant system"`
	Content string `json:"content"`
}

// MCPServerSetting carries per-request PM provider credentials; they are
// reconciled through the provider-sync endpoint before the workflow starts.
type MCPServerSetting struct {
	ProviderType string `json:"provider_type"`
	BaseURL      string `json:"base_url"`
	APIKey       string `json:"api_key,omitempty"`
	APIToken     string `json:"api_token,omitempty"`
}

// MCPSettings is the request's tool-server section.
type MCPSettings struct {
	Servers []MCPServerSetting `json:"servers"`
}

// StreamOptions are workflow toggles the frontend may set.
type StreamOptions struct {
	Clarification bool `json:"clarification"`
}

// StreamRequest is the POST /api/v1/workflow/stream body.
type StreamRequest struct {
	ThreadID                 string            `json:"thread_id" binding:"required"`
	ModelName                string            `json:"model_name"`
	Messages                 []IncomingMessage `json:"messages" binding:"required,min=1,dive"`
	ConversationHistoryCount int               `json:"conversation_history_count"`
	ProjectID                *string           `json:"project_id"`
	MCPSettings              *MCPSettings      `json:"mcp_settings"`
	Options                  *StreamOptions    `json:"options"`
}
