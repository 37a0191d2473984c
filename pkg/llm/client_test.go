package llm

import (
	"errors"
	"testing"

	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pmflow/pmflow/pkg/agent"
	"github.com/pmflow/pmflow/pkg/models"
)

func TestBuildRequest(t *testing.T) {
	assistant := models.Message{
		Role:    models.RoleAssistant,
		Content: "Looking that up.",
		ToolCalls: []models.ToolCall{
			{ID: "call-1", Name: "web_search", Arguments: map[string]any{"query": "sprint velocity"}},
		},
	}
	toolMsg := models.NewToolMessage("react_agent", "call-1", "web_search", `{"results":[]}`)

	input := &agent.GenerateInput{
		Model: "mid-chat",
		Messages: []models.Message{
			models.NewMessage(models.RoleSystem, "", "You are helpful."),
			models.NewMessage(models.RoleUser, "", "What is our velocity?"),
			assistant,
			toolMsg,
		},
		Tools: []agent.ToolDefinition{
			{Name: "web_search", Description: "search", ParametersSchema: `{"type":"object"}`},
		},
	}

	req, err := buildRequest(input)
	require.NoError(t, err)

	assert.Equal(t, "mid-chat", req.Model)
	assert.True(t, req.Stream)
	require.NotNil(t, req.StreamOptions)
	assert.True(t, req.StreamOptions.IncludeUsage)

	require.Len(t, req.Messages, 4)
	assert.Equal(t, "system", req.Messages[0].Role)
	require.Len(t, req.Messages[2].ToolCalls, 1)
	assert.Equal(t, "call-1", req.Messages[2].ToolCalls[0].ID)
	assert.JSONEq(t, `{"query":"sprint velocity"}`, req.Messages[2].ToolCalls[0].Function.Arguments)
	assert.Equal(t, "call-1", req.Messages[3].ToolCallID)

	require.Len(t, req.Tools, 1)
	assert.Equal(t, "web_search", req.Tools[0].Function.Name)
}

func TestMapFinishReason(t *testing.T) {
	assert.Equal(t, "stop", mapFinishReason(openai.FinishReasonStop))
	assert.Equal(t, "tool_calls", mapFinishReason(openai.FinishReasonToolCalls))
	assert.Equal(t, "length", mapFinishReason(openai.FinishReasonLength))
	assert.Equal(t, "stop", mapFinishReason(openai.FinishReason("weird")))
}

func TestClassifyError(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		retryable bool
	}{
		{"rate limit", &openai.APIError{HTTPStatusCode: 429, Message: "slow down"}, true},
		{"server error", &openai.APIError{HTTPStatusCode: 503, Message: "overloaded"}, true},
		{"auth failure", &openai.APIError{HTTPStatusCode: 401, Message: "bad key"}, false},
		{"bad request", &openai.APIError{HTTPStatusCode: 400, Message: "invalid"}, false},
		{"network", errors.New("connection reset"), true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			chunk := classifyError(tc.err)
			assert.Equal(t, tc.retryable, chunk.Retryable)
		})
	}
}

func TestToolCallAccumulator(t *testing.T) {
	idx0, idx1 := 0, 1
	acc := newToolCallAccumulator()

	// Fragments arrive interleaved across two calls.
	acc.add(openai.ToolCall{Index: &idx0, ID: "call-a", Function: openai.FunctionCall{Name: "web_search"}})
	acc.add(openai.ToolCall{Index: &idx1, ID: "call-b", Function: openai.FunctionCall{Name: "crawl_page"}})
	acc.add(openai.ToolCall{Index: &idx0, Function: openai.FunctionCall{Arguments: `{"query":`}})
	acc.add(openai.ToolCall{Index: &idx1, Function: openai.FunctionCall{Arguments: `{"url":"https://x"}`}})
	acc.add(openai.ToolCall{Index: &idx0, Function: openai.FunctionCall{Arguments: `"release notes"}`}})

	out := make(chan agent.Chunk, 4)
	acc.flush(out)
	acc.flush(out) // idempotent
	close(out)

	var chunks []*agent.ToolCallChunk
	for c := range out {
		chunks = append(chunks, c.(*agent.ToolCallChunk))
	}
	require.Len(t, chunks, 2)
	assert.Equal(t, "call-a", chunks[0].CallID)
	assert.JSONEq(t, `{"query":"release notes"}`, chunks[0].Arguments)
	assert.Equal(t, "call-b", chunks[1].CallID)
}
