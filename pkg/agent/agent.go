// Package agent provides the node implementations for the pmflow workflow
// graph and the contracts they depend on (LLM client, tool executor, prompt
// builder). Nodes never mutate shared state — each returns a StateDelta that
// the graph driver merges.
package agent

import (
	"context"

	"github.com/pmflow/pmflow/pkg/models"
)

// LLMClient is the chat-completion contract. Implementations stream chunks;
// the returned channel is closed when the stream completes. Provider errors
// are delivered as ErrorChunk values, not as Go errors, so callers observe
// partial output before the failure.
type LLMClient interface {
	Generate(ctx context.Context, input *GenerateInput) (<-chan Chunk, error)
	Close() error
}

// GenerateInput is one chat-completion request.
type GenerateInput struct {
	ThreadID string
	Node     string
	Model    string
	Messages []models.Message
	Tools    []ToolDefinition // nil = no tools bound
}

// ToolDefinition describes a tool available to the LLM.
type ToolDefinition struct {
	Name             string
	Description      string
	ParametersSchema string // JSON Schema
}

// ToolResult is one executed tool call's sanitized outcome. Tool failures
// are values (IsError), not Go errors — they feed back into the conversation.
type ToolResult struct {
	CallID  string
	Name    string
	Content string
	IsError bool
}

// ToolExecutor runs tool calls on behalf of a named agent. The implementation
// enforces per-agent allow-lists, schema validation, timeouts, and output
// sanitation.
type ToolExecutor interface {
	// ListTools returns the tools visible to the given agent.
	ListTools(ctx context.Context, agentName string) ([]ToolDefinition, error)

	// Execute runs one tool call. Infrastructure failures return a Go error;
	// tool-level failures are encoded in the result.
	Execute(ctx context.Context, agentName string, call models.ToolCall) (*ToolResult, error)
}

// Chunk is the interface for all streaming chunk types.
type Chunk interface {
	chunkType() ChunkType
}

// ChunkType identifies the kind of streaming chunk.
type ChunkType string

const (
	ChunkTypeText      ChunkType = "text"
	ChunkTypeReasoning ChunkType = "reasoning"
	ChunkTypeToolCall  ChunkType = "tool_call"
	ChunkTypeUsage     ChunkType = "usage"
	ChunkTypeFinish    ChunkType = "finish"
	ChunkTypeError     ChunkType = "error"
)

// TextChunk is a delta of the LLM's text response.
type TextChunk struct{ Content string }

// ReasoningChunk is a delta of the provider's explicit reasoning field.
type ReasoningChunk struct{ Content string }

// ToolCallChunk is one complete tool call. The adapter accumulates partial
// argument JSON by call index and emits a single chunk per call once the
// arguments are parseable, so consumers never see partial JSON.
type ToolCallChunk struct{ CallID, Name, Arguments string }

// UsageChunk reports token consumption for this LLM call.
type UsageChunk struct{ InputTokens, OutputTokens, TotalTokens int }

// FinishChunk carries the provider finish reason; it is the last content
// chunk before the channel closes.
type FinishChunk struct{ Reason string }

// ErrorChunk signals an error from the LLM provider.
type ErrorChunk struct {
	Message   string
	Code      string
	Retryable bool
}

func (c *TextChunk) chunkType() ChunkType      { return ChunkTypeText }
func (c *ReasoningChunk) chunkType() ChunkType { return ChunkTypeReasoning }
func (c *ToolCallChunk) chunkType() ChunkType  { return ChunkTypeToolCall }
func (c *UsageChunk) chunkType() ChunkType     { return ChunkTypeUsage }
func (c *FinishChunk) chunkType() ChunkType    { return ChunkTypeFinish }
func (c *ErrorChunk) chunkType() ChunkType     { return ChunkTypeError }
