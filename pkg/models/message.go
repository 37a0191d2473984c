// Package models defines the shared workflow state types: messages, plans,
// validation records, and the append-only State that graph nodes operate on.
package models

import "github.com/google/uuid"

// Role identifies the author of a conversation message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// AgentObservation tags assistant messages that carry accumulated step
// observations rather than live model output. The budget coordinator drops
// these first under context pressure.
const AgentObservation = "observation"

// ToolCall represents an LLM's request to invoke a tool.
// IDs are stable strings generated by the LLM adapter; matching between a
// tool call and its result message is always by ID, never by position.
type ToolCall struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// Message is a single conversation entry. Tagged by Role — assistant
// messages may carry ToolCalls, tool messages reference the originating
// call via ToolCallID.
type Message struct {
	ID         string     `json:"id"`
	Role       Role       `json:"role"`
	Content    string     `json:"content"`
	Reasoning  string     `json:"reasoning,omitempty"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	ToolName   string     `json:"tool_name,omitempty"`
	Agent      string     `json:"agent,omitempty"`
}

// NewMessage creates a message with a fresh stable ID.
func NewMessage(role Role, agent, content string) Message {
	return Message{
		ID:      uuid.New().String(),
		Role:    role,
		Agent:   agent,
		Content: content,
	}
}

// NewToolMessage creates a tool-result message bound to a tool call ID.
func NewToolMessage(agent, toolCallID, toolName, content string) Message {
	m := NewMessage(RoleTool, agent, content)
	m.ToolCallID = toolCallID
	m.ToolName = toolName
	return m
}
