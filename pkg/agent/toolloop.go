package agent

import (
	"context"
	"encoding/json"

	"golang.org/x/sync/errgroup"

	"github.com/pmflow/pmflow/pkg/events"
	"github.com/pmflow/pmflow/pkg/models"
)

// executeToolCalls runs a message's tool calls with bounded parallelism and
// returns the results in call order, regardless of completion order. The
// tool_calls event is emitted before dispatch; one tool_call_result event
// per call follows, also in call order.
func executeToolCalls(ctx context.Context, rc *RunContext, agentName, messageID string, calls []models.ToolCall) ([]*ToolResult, error) {
	emitToolCalls(ctx, rc, agentName, messageID, calls)

	limit := rc.Config.Defaults.ParallelToolCap
	if len(calls) < limit {
		limit = len(calls)
	}

	results := make([]*ToolResult, len(calls))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for i, call := range calls {
		g.Go(func() error {
			res, err := rc.Tools.Execute(gctx, agentName, call)
			if err != nil {
				return err
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	for _, res := range results {
		rc.Stream.Emit(ctx, events.Event{
			Event: events.EventTypeToolCallResult,
			Data: events.ToolCallResultPayload{
				ThreadID:   rc.ThreadID,
				Agent:      agentName,
				ID:         messageID,
				ToolCallID: res.CallID,
				Content:    res.Content,
			},
		})
	}
	return results, nil
}

func emitToolCalls(ctx context.Context, rc *RunContext, agentName, messageID string, calls []models.ToolCall) {
	rc.Stream.Emit(ctx, events.Event{
		Event: events.EventTypeToolCalls,
		Data: events.ToolCallsPayload{
			ThreadID:  rc.ThreadID,
			Agent:     agentName,
			ID:        messageID,
			ToolCalls: calls,
		},
	})
}

// toolMessages converts results to conversation messages in call order.
func toolMessages(agentName string, results []*ToolResult) []models.Message {
	msgs := make([]models.Message, 0, len(results))
	for _, res := range results {
		msgs = append(msgs, models.NewToolMessage(agentName, res.CallID, res.Name, res.Content))
	}
	return msgs
}

// resultErrorKey extracts a stable identity for a failed tool result, used
// by the react error budget to count distinct errors. Returns "" for
// successful results.
func resultErrorKey(res *ToolResult) string {
	if !res.IsError {
		return ""
	}
	var payload struct {
		Error string `json:"error"`
		Kind  string `json:"kind"`
	}
	if err := json.Unmarshal([]byte(res.Content), &payload); err == nil && payload.Error != "" {
		return payload.Kind + ":" + payload.Error
	}
	return res.Content
}
