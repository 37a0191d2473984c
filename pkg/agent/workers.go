package agent

import (
	"context"
	"fmt"

	"github.com/pmflow/pmflow/pkg/config"
	"github.com/pmflow/pmflow/pkg/events"
	"github.com/pmflow/pmflow/pkg/models"
)

// Worker executes one plan step through a bounded tool-using loop. The
// three specializations differ only in name, tool exposure (enforced by the
// registry allow-lists), and whether tool calls are mandatory.
type Worker struct {
	name string

	// requireToolCalls rejects a final answer produced without any tool
	// call. Set for pm_agent: PM answers must come from PM data.
	requireToolCalls bool
}

// NewPMAgent answers PM_QUERY steps from the PM backend's tools.
func NewPMAgent() *Worker { return &Worker{name: config.NodePMAgent, requireToolCalls: true} }

// NewResearcher answers RESEARCH steps with web search and crawling.
func NewResearcher() *Worker { return &Worker{name: config.NodeResearcher} }

// NewCoder answers PROCESSING steps; it sees no side-effect tools and works
// from prior observations.
func NewCoder() *Worker { return &Worker{name: config.NodeCoder} }

func (n *Worker) Name() string { return n.name }

func (n *Worker) Run(ctx context.Context, rc *RunContext, st *models.State) (*models.StateDelta, error) {
	plan := st.CurrentPlan
	if plan == nil {
		return nil, fmt.Errorf("%s entered without a plan", n.name)
	}
	idx := plan.NextPendingIndex()
	if idx == -1 {
		return &models.StateDelta{Goto: config.NodeValidator}, nil
	}
	step := &plan.Steps[idx]

	model := rc.ModelFor(n.name, st)
	toolDefs, err := rc.Tools.ListTools(ctx, n.name)
	if err != nil {
		return nil, fmt.Errorf("list tools: %w", err)
	}

	convo := rc.Prompts.WorkerMessages(n.name, st, step)
	toolCallsMade := false
	result := ""

	for iteration := 0; iteration < rc.Config.Defaults.WorkerMaxIterations; iteration++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		fitted, err := rc.Budget.Fit(n.name, model, st, convo)
		if err != nil {
			return nil, err
		}

		resp, err := callLLMStreaming(ctx, rc, n.name, &GenerateInput{
			ThreadID: rc.ThreadID,
			Node:     n.name,
			Model:    model,
			Messages: fitted,
			Tools:    toolDefs,
		})
		if err != nil {
			return nil, err
		}

		if len(resp.ToolCalls) == 0 {
			emitFinishReason(ctx, rc, resp.MessageID, events.FinishReasonStop)
			result = resp.Text
			break
		}

		toolCallsMade = true
		results, err := executeToolCalls(ctx, rc, n.name, resp.MessageID, resp.ToolCalls)
		if err != nil {
			return nil, err
		}
		emitFinishReason(ctx, rc, resp.MessageID, events.FinishReasonToolCalls)

		convo = append(convo, resp.AssistantMessage(n.name))
		convo = append(convo, toolMessages(n.name, results)...)
		result = resp.Text
	}

	if n.requireToolCalls && !toolCallsMade {
		// The validator's heuristic fast-path recognizes this shape and
		// fails the step.
		result = fmt.Sprintf(`{"error": "%s finalized without calling any tool", "kind": "%s"}`,
			n.name, events.ErrKindToolValidation)
	}
	updated := plan.Clone()
	updated.Steps[idx].ExecutionRes = models.Ptr(result)

	stepIndex := updated.CompletedSteps() - 1
	if max := len(updated.Steps) - 1; stepIndex > max {
		stepIndex = max
	}
	if stepIndex < st.CurrentStepIndex {
		stepIndex = st.CurrentStepIndex
	}

	return &models.StateDelta{
		Messages:         []models.Message{models.NewMessage(models.RoleAssistant, n.name, result)},
		CurrentPlan:      updated,
		CurrentStepIndex: models.Ptr(stepIndex),
		Goto:             config.NodeValidator,
	}, nil
}
