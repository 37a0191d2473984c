// Package events defines the progressive event stream contract between the
// graph driver and the transport shell.
//
// Each request owns exactly one Stream. The driver is the only producer, so
// events for a request are strictly ordered. The SSE handler drains the
// stream and writes one JSON event per SSE message.
//
// Ordering contract for a single assistant message:
//
//	react_thoughts (if any) → tool_calls → tool_call_result* → finish_reason
//
// finish_reason is always the last event carrying that message ID.
package events

import "github.com/pmflow/pmflow/pkg/models"

// Event types (closed set — the frontend switches on these).
const (
	EventTypeTaskStarted    = "task_started"
	EventTypeTaskCompleted  = "task_completed"
	EventTypeMessageChunk   = "message_chunk"
	EventTypeToolCalls      = "tool_calls"
	EventTypeToolCallResult = "tool_call_result"
	EventTypeReactThoughts  = "react_thoughts"
	EventTypeStepProgress   = "step_progress"
	EventTypeFinishReason   = "finish_reason"
	EventTypeError          = "error"
)

// Finish reasons for a single message.
const (
	FinishReasonStop      = "stop"
	FinishReasonToolCalls = "tool_calls"
	FinishReasonLength    = "length"
	FinishReasonCancelled = "cancelled"
)

// Error kinds surfaced in error events and encoded into observations.
const (
	ErrKindToolValidation  = "tool_error_validation"
	ErrKindToolRemote      = "tool_error_remote"
	ErrKindToolTimeout     = "tool_timeout"
	ErrKindLLMTransient    = "llm_transient"
	ErrKindLLMFatal        = "llm_fatal"
	ErrKindParsePlan       = "parse_error_plan"
	ErrKindContextTooLarge = "context_too_large"
	ErrKindStuckStep       = "stuck_step"
	ErrKindCancelled       = "cancelled"
)

// Event is one entry in the request's event stream. Data is always one of
// the typed payload structs below.
type Event struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// TaskPayload announces that the driver entered or left a node.
type TaskPayload struct {
	ThreadID string `json:"thread_id"`
	Agent    string `json:"agent"`
	ID       string `json:"id"`
	Step     int    `json:"step"`
}

// MessageChunkPayload carries streaming assistant tokens.
type MessageChunkPayload struct {
	ThreadID string `json:"thread_id"`
	Agent    string `json:"agent"`
	ID       string `json:"id"`
	Content  string `json:"content"`
}

// ToolCallsPayload announces structured tool calls emitted by the LLM.
type ToolCallsPayload struct {
	ThreadID  string            `json:"thread_id"`
	Agent     string            `json:"agent"`
	ID        string            `json:"id"`
	ToolCalls []models.ToolCall `json:"tool_calls"`
}

// ToolCallResultPayload carries one sanitized tool output.
type ToolCallResultPayload struct {
	ThreadID   string `json:"thread_id"`
	Agent      string `json:"agent"`
	ID         string `json:"id"`
	ToolCallID string `json:"tool_call_id"`
	Content    string `json:"content"`
}

// ReactThoughtsPayload carries extracted reasoning entries.
type ReactThoughtsPayload struct {
	ThreadID string                `json:"thread_id"`
	Agent    string                `json:"agent"`
	ID       string                `json:"id"`
	Thoughts []models.ReactThought `json:"thoughts"`
}

// StepProgressPayload reports plan execution progress.
type StepProgressPayload struct {
	ThreadID        string `json:"thread_id"`
	StepIndex       int    `json:"step_index"`
	TotalSteps      int    `json:"total_steps"`
	StepTitle       string `json:"step_title"`
	StepDescription string `json:"step_description"`
}

// FinishReasonPayload terminates the event sequence for one message ID.
type FinishReasonPayload struct {
	ThreadID string `json:"thread_id"`
	ID       string `json:"id"`
	Reason   string `json:"reason"`
}

// ErrorPayload reports a terminal or recoverable error.
type ErrorPayload struct {
	ThreadID string `json:"thread_id"`
	Kind     string `json:"kind"`
	Message  string `json:"message"`
}
