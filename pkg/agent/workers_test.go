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

func workerState(types ...models.StepType) *models.State {
	st := models.NewState("thread-1", "proj-1", "")
	st.Messages = append(st.Messages, models.NewMessage(models.RoleUser, "", "q"))
	st.CurrentPlan = planWithSteps(types...)
	return st
}

func TestWorkerExecutesStepWithTools(t *testing.T) {
	h := newTestRC()
	h.tools.respond("backend_api_call", &ToolResult{
		Name:    "backend_api_call",
		Content: `{"issues": 12}`,
	})
	h.llm.enqueue(toolCallChunk("call-1", "backend_api_call", map[string]any{"path": "/issues"}))
	h.llm.enqueue(&TextChunk{Content: "The project has 12 open issues."})

	st := workerState(models.StepTypePMQuery)
	delta, err := NewPMAgent().Run(context.Background(), h.rc, st)
	require.NoError(t, err)
	assert.Equal(t, config.NodeValidator, delta.Goto)
	require.NotNil(t, delta.CurrentPlan)
	require.NotNil(t, delta.CurrentPlan.Steps[0].ExecutionRes)
	assert.Equal(t, "The project has 12 open issues.", *delta.CurrentPlan.Steps[0].ExecutionRes)
	require.Len(t, h.tools.Executed, 1)

	// The shared state's plan is untouched; only the delta carries the result.
	assert.Nil(t, st.CurrentPlan.Steps[0].ExecutionRes)
}

func TestPMAgentWithoutToolCallsFails(t *testing.T) {
	h := newTestRC()
	h.llm.enqueue(&TextChunk{Content: "There are probably around 10 issues."})

	delta, err := NewPMAgent().Run(context.Background(), h.rc, workerState(models.StepTypePMQuery))
	require.NoError(t, err)
	res := *delta.CurrentPlan.Steps[0].ExecutionRes
	assert.Contains(t, res, events.ErrKindToolValidation)
	assert.Contains(t, res, "without calling any tool")
}

func TestCoderAnswersWithoutTools(t *testing.T) {
	h := newTestRC()
	h.llm.enqueue(&TextChunk{Content: "Total: 21 issues across both sprints."})

	delta, err := NewCoder().Run(context.Background(), h.rc, workerState(models.StepTypeProcessing))
	require.NoError(t, err)
	assert.Equal(t, config.NodeValidator, delta.Goto)
	assert.Equal(t, "Total: 21 issues across both sprints.", *delta.CurrentPlan.Steps[0].ExecutionRes)
}

func TestWorkerTargetsFirstPendingStep(t *testing.T) {
	h := newTestRC()
	h.llm.enqueue(&TextChunk{Content: "result for step two"})

	st := workerState(models.StepTypePMQuery, models.StepTypeProcessing)
	st.CurrentPlan.Steps[0].ExecutionRes = models.Ptr("result for step one")

	delta, err := NewCoder().Run(context.Background(), h.rc, st)
	require.NoError(t, err)
	assert.Equal(t, "result for step one", *delta.CurrentPlan.Steps[0].ExecutionRes)
	assert.Equal(t, "result for step two", *delta.CurrentPlan.Steps[1].ExecutionRes)
	assert.Equal(t, 1, *delta.CurrentStepIndex)
}

func TestWorkerIterationBound(t *testing.T) {
	h := newTestRC()
	h.rc.Config.Defaults.WorkerMaxIterations = 2
	h.llm.enqueue(toolCallChunk("call-1", "web_search", map[string]any{"query": "a"}))
	h.llm.enqueue(toolCallChunk("call-2", "web_search", map[string]any{"query": "b"}))

	delta, err := NewResearcher().Run(context.Background(), h.rc, workerState(models.StepTypeResearch))
	require.NoError(t, err)
	assert.Equal(t, config.NodeValidator, delta.Goto)
	assert.Equal(t, 2, h.llm.calls())
	require.NotNil(t, delta.CurrentPlan.Steps[0].ExecutionRes)
}

func TestWorkerNoPendingStep(t *testing.T) {
	h := newTestRC()
	st := workerState(models.StepTypePMQuery)
	st.CurrentPlan.Steps[0].ExecutionRes = models.Ptr("done")

	delta, err := NewPMAgent().Run(context.Background(), h.rc, st)
	require.NoError(t, err)
	assert.Equal(t, config.NodeValidator, delta.Goto)
	assert.Zero(t, h.llm.calls())
}

func TestWorkerWithoutPlanErrors(t *testing.T) {
	h := newTestRC()
	_, err := NewPMAgent().Run(context.Background(), h.rc, models.NewState("thread-1", "", ""))
	assert.Error(t, err)
}
