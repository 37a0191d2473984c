package agent

import (
	"context"
	"fmt"

	"github.com/pmflow/pmflow/pkg/config"
	"github.com/pmflow/pmflow/pkg/events"
	"github.com/pmflow/pmflow/pkg/models"
)

// planRepairAttempts is the number of LLM-assisted repair rounds after the
// initial parse (including lenient local repair) fails.
const planRepairAttempts = 2

// Planner produces a typed Plan from the user query plus any escalation
// context (reflection, previous plan, validation history).
type Planner struct{}

func (n *Planner) Name() string { return config.NodePlanner }

func (n *Planner) Run(ctx context.Context, rc *RunContext, st *models.State) (*models.StateDelta, error) {
	model := rc.ModelFor(n.Name(), st)
	msgs := rc.Prompts.PlannerMessages(st)
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

	plan, parseErr := parsePlan(resp.Text)
	for attempt := 0; parseErr != nil && attempt < planRepairAttempts; attempt++ {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		rc.Log().Warn("Plan output unparseable, requesting repair",
			"thread_id", rc.ThreadID, "attempt", attempt+1, "error", parseErr)

		repairMsgs := append(fitted, resp.AssistantMessage(n.Name()),
			rc.Prompts.PlanRepairMessage(resp.Text, parseErr.Error()))
		resp, err = callLLM(ctx, rc, &GenerateInput{
			ThreadID: rc.ThreadID,
			Node:     n.Name(),
			Model:    model,
			Messages: repairMsgs,
		})
		if err != nil {
			return nil, err
		}
		plan, parseErr = parsePlan(resp.Text)
	}

	if parseErr != nil {
		rc.Stream.Emit(ctx, events.Event{
			Event: events.EventTypeError,
			Data: events.ErrorPayload{
				ThreadID: rc.ThreadID,
				Kind:     events.ErrKindParsePlan,
				Message:  parseErr.Error(),
			},
		})
		return &models.StateDelta{
			Observations: []string{fmt.Sprintf("[%s] planner failed: %v", events.ErrKindParsePlan, parseErr)},
			Goto:         config.NodeReporter,
		}, nil
	}

	delta := &models.StateDelta{
		CurrentPlan:      plan,
		TotalSteps:       models.Ptr(len(plan.Steps)),
		CurrentStepIndex: models.Ptr(0),
		PlanIterations:   models.Ptr(st.PlanIterations + 1),
		Goto:             config.NodeResearchTeam,
	}
	// The planner already has what it needs: skip execution entirely and
	// let the reporter synthesize from the plan's thought.
	if plan.HasEnoughContext {
		delta.Observations = []string{plan.Thought}
		delta.Goto = config.NodeReporter
	}
	return delta, nil
}

// parsePlan decodes and validates the planner's JSON output.
func parsePlan(content string) (*models.Plan, error) {
	var plan models.Plan
	if err := unmarshalLenient(content, &plan); err != nil {
		return nil, fmt.Errorf("plan JSON unparseable: %w", err)
	}
	if len(plan.Steps) == 0 && !plan.HasEnoughContext {
		return nil, fmt.Errorf("plan has no steps")
	}
	for i := range plan.Steps {
		switch plan.Steps[i].StepType {
		case models.StepTypeResearch, models.StepTypeProcessing, models.StepTypePMQuery:
		default:
			return nil, fmt.Errorf("step %d has unknown step_type %q", i, plan.Steps[i].StepType)
		}
	}
	return &plan, nil
}
