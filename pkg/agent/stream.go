package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/pmflow/pmflow/pkg/events"
	"github.com/pmflow/pmflow/pkg/models"
)

// ErrLLMFatal marks LLM failures that must short-circuit to the reporter
// (auth, quota, unparseable provider responses).
var ErrLLMFatal = errors.New("llm fatal error")

// ErrLLMTransient marks retryable LLM failures (rate limits, 5xx, idle
// stream timeouts). The adapter retries once internally; if it still
// surfaces here the caller escalates to ErrLLMFatal handling.
var ErrLLMTransient = errors.New("llm transient error")

// TokenUsage aggregates token consumption across LLM calls in one node.
type TokenUsage struct {
	InputTokens  int
	OutputTokens int
	TotalTokens  int
}

// Add accumulates another call's usage.
func (u *TokenUsage) Add(other TokenUsage) {
	u.InputTokens += other.InputTokens
	u.OutputTokens += other.OutputTokens
	u.TotalTokens += other.TotalTokens
}

// LLMResponse holds the fully-collected response from a streaming LLM call.
type LLMResponse struct {
	MessageID    string
	Text         string
	Reasoning    string
	ToolCalls    []models.ToolCall
	Usage        TokenUsage
	FinishReason string
}

// AssistantMessage converts the response into a conversation message
// attributed to the given agent.
func (r *LLMResponse) AssistantMessage(agentName string) models.Message {
	return models.Message{
		ID:        r.MessageID,
		Role:      models.RoleAssistant,
		Agent:     agentName,
		Content:   r.Text,
		Reasoning: r.Reasoning,
		ToolCalls: r.ToolCalls,
	}
}

// collectStream drains an LLM chunk channel into a complete LLMResponse.
// Returns an error when an ErrorChunk is received; partial content collected
// before the error is discarded by callers.
func collectStream(stream <-chan Chunk) (*LLMResponse, error) {
	return collectStreamWithCallback(stream, nil)
}

// streamCallback receives each text delta during collection. Used to publish
// message_chunk events while the LLM is still producing output.
type streamCallback func(delta string)

func collectStreamWithCallback(stream <-chan Chunk, callback streamCallback) (*LLMResponse, error) {
	resp := &LLMResponse{MessageID: uuid.New().String()}
	var textBuf, reasoningBuf strings.Builder

	for chunk := range stream {
		switch c := chunk.(type) {
		case *TextChunk:
			textBuf.WriteString(c.Content)
			if callback != nil {
				callback(c.Content)
			}
		case *ReasoningChunk:
			reasoningBuf.WriteString(c.Content)
		case *ToolCallChunk:
			resp.ToolCalls = append(resp.ToolCalls, models.ToolCall{
				ID:        c.CallID,
				Name:      c.Name,
				Arguments: parseArguments(c.Arguments),
			})
		case *UsageChunk:
			resp.Usage = TokenUsage{
				InputTokens:  c.InputTokens,
				OutputTokens: c.OutputTokens,
				TotalTokens:  c.TotalTokens,
			}
		case *FinishChunk:
			resp.FinishReason = c.Reason
		case *ErrorChunk:
			kind := ErrLLMFatal
			if c.Retryable {
				kind = ErrLLMTransient
			}
			return nil, fmt.Errorf("%w: %s (code: %s)", kind, c.Message, c.Code)
		}
	}

	resp.Text = textBuf.String()
	resp.Reasoning = reasoningBuf.String()
	if resp.FinishReason == "" {
		if len(resp.ToolCalls) > 0 {
			resp.FinishReason = events.FinishReasonToolCalls
		} else {
			resp.FinishReason = events.FinishReasonStop
		}
	}
	return resp, nil
}

// callLLM performs a buffered LLM call with context cancellation support.
func callLLM(ctx context.Context, rc *RunContext, input *GenerateInput) (*LLMResponse, error) {
	llmCtx, llmCancel := context.WithCancel(ctx)
	defer llmCancel()

	stream, err := rc.LLM.Generate(llmCtx, input)
	if err != nil {
		return nil, fmt.Errorf("LLM Generate failed: %w", err)
	}
	return collectStream(stream)
}

// callLLMStreaming performs an LLM call while publishing message_chunk
// events for each text delta, followed by a finish_reason event. The
// message ID in the events matches the collected response's MessageID, so
// downstream tool_calls / tool_call_result events correlate by ID.
func callLLMStreaming(ctx context.Context, rc *RunContext, agentName string, input *GenerateInput) (*LLMResponse, error) {
	llmCtx, llmCancel := context.WithCancel(ctx)
	defer llmCancel()

	stream, err := rc.LLM.Generate(llmCtx, input)
	if err != nil {
		return nil, fmt.Errorf("LLM Generate failed: %w", err)
	}

	resp := &LLMResponse{MessageID: uuid.New().String()}
	var textBuf, reasoningBuf strings.Builder

	for chunk := range stream {
		switch c := chunk.(type) {
		case *TextChunk:
			textBuf.WriteString(c.Content)
			if c.Content != "" {
				rc.Stream.Emit(ctx, events.Event{
					Event: events.EventTypeMessageChunk,
					Data: events.MessageChunkPayload{
						ThreadID: rc.ThreadID,
						Agent:    agentName,
						ID:       resp.MessageID,
						Content:  c.Content,
					},
				})
			}
		case *ReasoningChunk:
			reasoningBuf.WriteString(c.Content)
		case *ToolCallChunk:
			resp.ToolCalls = append(resp.ToolCalls, models.ToolCall{
				ID:        c.CallID,
				Name:      c.Name,
				Arguments: parseArguments(c.Arguments),
			})
		case *UsageChunk:
			resp.Usage = TokenUsage{
				InputTokens:  c.InputTokens,
				OutputTokens: c.OutputTokens,
				TotalTokens:  c.TotalTokens,
			}
		case *FinishChunk:
			resp.FinishReason = c.Reason
		case *ErrorChunk:
			kind := ErrLLMFatal
			if c.Retryable {
				kind = ErrLLMTransient
			}
			return nil, fmt.Errorf("%w: %s (code: %s)", kind, c.Message, c.Code)
		}
	}

	resp.Text = textBuf.String()
	resp.Reasoning = reasoningBuf.String()
	if resp.FinishReason == "" {
		if len(resp.ToolCalls) > 0 {
			resp.FinishReason = events.FinishReasonToolCalls
		} else {
			resp.FinishReason = events.FinishReasonStop
		}
	}
	return resp, nil
}

// emitFinishReason publishes the terminal event for a message ID.
func emitFinishReason(ctx context.Context, rc *RunContext, messageID, reason string) {
	rc.Stream.Emit(ctx, events.Event{
		Event: events.EventTypeFinishReason,
		Data: events.FinishReasonPayload{
			ThreadID: rc.ThreadID,
			ID:       messageID,
			Reason:   reason,
		},
	})
}

// parseArguments decodes a tool-call argument JSON string. Unparseable
// arguments are preserved under "_raw" so the tool registry can reject them
// as a validation error with useful feedback.
func parseArguments(raw string) map[string]any {
	if strings.TrimSpace(raw) == "" {
		return map[string]any{}
	}
	var args map[string]any
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		return map[string]any{"_raw": raw}
	}
	return args
}
