package agent

import (
	"context"
	"strings"

	"github.com/pmflow/pmflow/pkg/config"
	"github.com/pmflow/pmflow/pkg/events"
	"github.com/pmflow/pmflow/pkg/models"
)

// handoffMarker is the token the coordinator prompt instructs the model to
// answer with when the request needs actual work.
const handoffMarker = "handoff_to_react"

// Coordinator is the entry node: it short-circuits chit-chat, sends
// escalation re-entries straight to the planner, and routes everything else
// to the react fast path.
type Coordinator struct{}

func (n *Coordinator) Name() string { return config.NodeCoordinator }

func (n *Coordinator) Run(ctx context.Context, rc *RunContext, st *models.State) (*models.StateDelta, error) {
	// Re-entry from the react agent, or a user-requested re-expansion of a
	// previous result: skip classification, the planner owns it.
	if st.EscalationReason != "" || st.PreviousResult != "" {
		return &models.StateDelta{Goto: config.NodePlanner}, nil
	}

	model := rc.ModelFor(n.Name(), st)
	msgs := rc.Prompts.CoordinatorMessages(st)
	fitted, err := rc.Budget.Fit(n.Name(), model, st, msgs)
	if err != nil {
		return nil, err
	}

	resp, err := callLLM(ctx, rc, &GenerateInput{
		ThreadID: rc.ThreadID,
		Node:     n.Name(),
		Model:    model,
		Messages: fitted,
	})
	if err != nil {
		return nil, err
	}

	if strings.Contains(strings.ToLower(resp.Text), handoffMarker) {
		return &models.StateDelta{Goto: config.NodeReactAgent}, nil
	}

	// Pure chit-chat: the classification reply doubles as the short answer.
	// Buffered above so the handoff marker never leaks into the stream.
	rc.Stream.Emit(ctx, events.Event{
		Event: events.EventTypeMessageChunk,
		Data: events.MessageChunkPayload{
			ThreadID: rc.ThreadID,
			Agent:    n.Name(),
			ID:       resp.MessageID,
			Content:  resp.Text,
		},
	})
	emitFinishReason(ctx, rc, resp.MessageID, events.FinishReasonStop)

	return &models.StateDelta{
		Messages: []models.Message{resp.AssistantMessage(n.Name())},
		Goto:     config.NodeEnd,
	}, nil
}
