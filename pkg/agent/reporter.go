package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/pmflow/pmflow/pkg/budget"
	"github.com/pmflow/pmflow/pkg/config"
	"github.com/pmflow/pmflow/pkg/events"
	"github.com/pmflow/pmflow/pkg/models"
)

// Reporter streams the final answer from the accumulated plan results,
// observations, and validation records. Exactly one reporter invocation
// happens per request; the driver enforces it.
type Reporter struct{}

func (n *Reporter) Name() string { return config.NodeReporter }

func (n *Reporter) Run(ctx context.Context, rc *RunContext, st *models.State) (*models.StateDelta, error) {
	model := rc.ModelFor(n.Name(), st)
	msgs := rc.Prompts.ReporterMessages(st)
	fitted, err := rc.Budget.Fit(n.Name(), model, st, msgs)
	if errors.Is(err, budget.ErrContextTooLarge) {
		// The reporter must always produce a message. When even compression
		// cannot fit an LLM call, fall back to a direct synthesis of what
		// the workflow accumulated.
		return n.fallbackReport(ctx, rc, st), nil
	}
	if err != nil {
		return nil, err
	}

	resp, err := callLLMStreaming(ctx, rc, n.Name(), &GenerateInput{
		ThreadID: rc.ThreadID,
		Node:     n.Name(),
		Model:    model,
		Messages: fitted,
	})
	if err != nil {
		return nil, err
	}
	emitFinishReason(ctx, rc, resp.MessageID, events.FinishReasonStop)

	return &models.StateDelta{
		Messages: []models.Message{resp.AssistantMessage(n.Name())},
		Goto:     config.NodeEnd,
	}, nil
}

func (n *Reporter) fallbackReport(ctx context.Context, rc *RunContext, st *models.State) *models.StateDelta {
	var b strings.Builder
	b.WriteString("The request could not be fully synthesized. Partial results:\n")
	if st.CurrentPlan != nil {
		for i := range st.CurrentPlan.Steps {
			step := &st.CurrentPlan.Steps[i]
			res := "(not executed)"
			if step.ExecutionRes != nil {
				res = *step.ExecutionRes
			}
			fmt.Fprintf(&b, "- %s: %s\n", step.Title, res)
		}
	}
	for _, obs := range st.Observations {
		fmt.Fprintf(&b, "- %s\n", obs)
	}

	msg := models.NewMessage(models.RoleAssistant, n.Name(), b.String())
	rc.Stream.Emit(ctx, events.Event{
		Event: events.EventTypeMessageChunk,
		Data: events.MessageChunkPayload{
			ThreadID: rc.ThreadID,
			Agent:    n.Name(),
			ID:       msg.ID,
			Content:  msg.Content,
		},
	})
	emitFinishReason(ctx, rc, msg.ID, events.FinishReasonStop)
	return &models.StateDelta{
		Messages: []models.Message{msg},
		Goto:     config.NodeEnd,
	}
}
