package agent

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pmflow/pmflow/pkg/config"
	"github.com/pmflow/pmflow/pkg/events"
	"github.com/pmflow/pmflow/pkg/models"
)

func planWithSteps(types ...models.StepType) *models.Plan {
	p := &models.Plan{Title: "p"}
	for i, t := range types {
		p.Steps = append(p.Steps, models.Step{
			Title:       "step",
			Description: "d",
			StepType:    t,
		})
		_ = i
	}
	return p
}

func TestResearchTeamRouting(t *testing.T) {
	tests := []struct {
		stepType models.StepType
		want     string
	}{
		{models.StepTypePMQuery, config.NodePMAgent},
		{models.StepTypeResearch, config.NodeResearcher},
		{models.StepTypeProcessing, config.NodeCoder},
	}
	for _, tt := range tests {
		t.Run(string(tt.stepType), func(t *testing.T) {
			h := newTestRC()
			st := models.NewState("thread-1", "", "")
			st.CurrentPlan = planWithSteps(tt.stepType)

			delta, err := (&ResearchTeam{}).Run(context.Background(), h.rc, st)
			require.NoError(t, err)
			assert.Equal(t, tt.want, delta.Goto)

			evs := h.drainEvents()
			require.Len(t, evs, 1)
			assert.Equal(t, events.EventTypeStepProgress, evs[0].Event)
			payload := evs[0].Data.(events.StepProgressPayload)
			assert.Equal(t, 1, payload.StepIndex)
			assert.Equal(t, 1, payload.TotalSteps)
		})
	}
}

func TestResearchTeamNoPlan(t *testing.T) {
	h := newTestRC()
	delta, err := (&ResearchTeam{}).Run(context.Background(), h.rc, models.NewState("thread-1", "", ""))
	require.NoError(t, err)
	assert.Equal(t, config.NodeReporter, delta.Goto)
}

func TestResearchTeamAllCompleteDefersToValidator(t *testing.T) {
	h := newTestRC()
	st := models.NewState("thread-1", "", "")
	st.CurrentPlan = planWithSteps(models.StepTypePMQuery)
	st.CurrentPlan.Steps[0].ExecutionRes = models.Ptr("done")

	delta, err := (&ResearchTeam{}).Run(context.Background(), h.rc, st)
	require.NoError(t, err)
	assert.Equal(t, config.NodeValidator, delta.Goto)
	assert.Empty(t, h.drainEvents())
}

func TestResearchTeamStuckStep(t *testing.T) {
	h := newTestRC()
	st := models.NewState("thread-1", "", "")
	st.CurrentPlan = planWithSteps(models.StepTypePMQuery)
	for i := 0; i < config.DefaultStuckStepAttempts; i++ {
		st.ValidationResults = append(st.ValidationResults, models.ValidationRecord{
			AtStepIndex: 0,
			Status:      models.ValidationFailure,
		})
	}

	delta, err := (&ResearchTeam{}).Run(context.Background(), h.rc, st)
	require.NoError(t, err)
	assert.Equal(t, config.NodeReporter, delta.Goto)
	require.Len(t, delta.Observations, 1)
	assert.Contains(t, delta.Observations[0], events.ErrKindStuckStep)
}

func TestResearchTeamFailuresOnOtherStepsDoNotCount(t *testing.T) {
	h := newTestRC()
	st := models.NewState("thread-1", "", "")
	st.CurrentPlan = planWithSteps(models.StepTypePMQuery, models.StepTypeProcessing)
	st.CurrentPlan.Steps[0].ExecutionRes = models.Ptr("done")
	for i := 0; i < config.DefaultStuckStepAttempts; i++ {
		st.ValidationResults = append(st.ValidationResults, models.ValidationRecord{
			AtStepIndex: 0,
			Status:      models.ValidationFailure,
		})
	}

	delta, err := (&ResearchTeam{}).Run(context.Background(), h.rc, st)
	require.NoError(t, err)
	assert.Equal(t, config.NodeCoder, delta.Goto)
}
