package agent

import (
	"context"
	"fmt"

	"github.com/pmflow/pmflow/pkg/config"
	"github.com/pmflow/pmflow/pkg/events"
	"github.com/pmflow/pmflow/pkg/models"
)

// ResearchTeam routes the next pending plan step to its specialized worker.
// It never routes to the reporter on normal completion — that decision
// belongs to the validator, which prevents duplicate reporter entries.
type ResearchTeam struct{}

func (n *ResearchTeam) Name() string { return config.NodeResearchTeam }

func (n *ResearchTeam) Run(ctx context.Context, rc *RunContext, st *models.State) (*models.StateDelta, error) {
	plan := st.CurrentPlan
	if plan == nil {
		return &models.StateDelta{
			Observations: []string{"research team entered without a plan"},
			Goto:         config.NodeReporter,
		}, nil
	}

	idx := plan.NextPendingIndex()
	if idx == -1 {
		// All steps done: hand the terminal decision to the validator.
		return &models.StateDelta{Goto: config.NodeValidator}, nil
	}

	if failures := failedAttempts(st, idx); failures >= config.DefaultStuckStepAttempts {
		return &models.StateDelta{
			Observations: []string{fmt.Sprintf("[%s] step %q failed %d attempts without progress",
				events.ErrKindStuckStep, plan.Steps[idx].Title, failures)},
			Goto: config.NodeReporter,
		}, nil
	}

	step := &plan.Steps[idx]
	rc.Stream.Emit(ctx, events.Event{
		Event: events.EventTypeStepProgress,
		Data: events.StepProgressPayload{
			ThreadID:        rc.ThreadID,
			StepIndex:       idx + 1,
			TotalSteps:      len(plan.Steps),
			StepTitle:       step.Title,
			StepDescription: step.Description,
		},
	})

	var next string
	switch step.StepType {
	case models.StepTypePMQuery:
		next = config.NodePMAgent
	case models.StepTypeResearch:
		next = config.NodeResearcher
	case models.StepTypeProcessing:
		next = config.NodeCoder
	default:
		return &models.StateDelta{
			Observations: []string{fmt.Sprintf("step %q has unroutable type %q", step.Title, step.StepType)},
			Goto:         config.NodeReporter,
		}, nil
	}
	return &models.StateDelta{Goto: next}, nil
}

// failedAttempts counts validator failure records for one step index.
func failedAttempts(st *models.State, stepIndex int) int {
	n := 0
	for _, rec := range st.ValidationResults {
		if rec.AtStepIndex == stepIndex && rec.Status == models.ValidationFailure {
			n++
		}
	}
	return n
}
