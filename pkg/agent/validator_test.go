package agent

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pmflow/pmflow/pkg/config"
	"github.com/pmflow/pmflow/pkg/models"
)

func validatorState(results ...string) *models.State {
	st := models.NewState("thread-1", "", "")
	st.CurrentPlan = planWithSteps(models.StepTypePMQuery, models.StepTypeProcessing)
	for i, r := range results {
		st.CurrentPlan.Steps[i].ExecutionRes = models.Ptr(r)
	}
	return st
}

func verdictJSON(status string, shouldRetry bool) string {
	retry := "false"
	if shouldRetry {
		retry = "true"
	}
	return `{"status":"` + status + `","reason":"checked","should_retry":` + retry + `,"suggested_fix":"narrow the query"}`
}

func TestValidatorSuccessContinues(t *testing.T) {
	h := newTestRC()
	h.llm.enqueue(&TextChunk{Content: verdictJSON("success", false)})

	st := validatorState("12 open issues found")
	delta, err := (&Validator{}).Run(context.Background(), h.rc, st)
	require.NoError(t, err)
	assert.Equal(t, config.NodeResearchTeam, delta.Goto)
	require.Len(t, delta.ValidationResults, 1)
	assert.Equal(t, models.ValidationSuccess, delta.ValidationResults[0].Status)
	assert.Equal(t, 0, delta.ValidationResults[0].AtStepIndex)
	require.Len(t, delta.Observations, 1)
	assert.Contains(t, delta.Observations[0], "12 open issues found")
}

func TestValidatorSuccessAllCompleteReports(t *testing.T) {
	h := newTestRC()
	h.llm.enqueue(&TextChunk{Content: verdictJSON("success", false)})

	delta, err := (&Validator{}).Run(context.Background(), h.rc, validatorState("r1", "r2"))
	require.NoError(t, err)
	assert.Equal(t, config.NodeReporter, delta.Goto)
}

func TestValidatorHeuristicFailureRetries(t *testing.T) {
	tests := []struct {
		name   string
		result string
	}{
		{"empty result", "   "},
		{"http error", "request failed: HTTP 500 Internal Server Error"},
		{"tool error json", `{"error": "project not found", "kind": "tool_error_remote"}`},
		{"invalid uuid", "backend rejected the call: invalid UUID format"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newTestRC()
			st := validatorState(tt.result)

			delta, err := (&Validator{}).Run(context.Background(), h.rc, st)
			require.NoError(t, err)
			// Heuristic path: no LLM call needed.
			assert.Zero(t, h.llm.calls())
			assert.Equal(t, config.NodeResearchTeam, delta.Goto)
			assert.Equal(t, 1, *delta.RetryCount)
			// The failed step is reopened for re-execution.
			require.NotNil(t, delta.CurrentPlan)
			assert.Nil(t, delta.CurrentPlan.Steps[0].ExecutionRes)
		})
	}
}

func TestValidatorRetryLimitGoesToReflector(t *testing.T) {
	h := newTestRC()
	st := validatorState(`{"error": "boom"}`)
	st.RetryCount = config.DefaultStepRetryLimit
	st.PlanIterations = 1

	delta, err := (&Validator{}).Run(context.Background(), h.rc, st)
	require.NoError(t, err)
	assert.Equal(t, config.NodeReflector, delta.Goto)
}

func TestValidatorReplanExhaustedReports(t *testing.T) {
	h := newTestRC()
	st := validatorState(`{"error": "boom"}`)
	st.RetryCount = config.DefaultStepRetryLimit
	st.PlanIterations = st.MaxReplanIterations

	delta, err := (&Validator{}).Run(context.Background(), h.rc, st)
	require.NoError(t, err)
	assert.Equal(t, config.NodeReporter, delta.Goto)
	require.Len(t, delta.Observations, 1)
	assert.Contains(t, delta.Observations[0], "exhausted")
}

func TestValidatorUnparseableVerdictIsPartial(t *testing.T) {
	h := newTestRC()
	h.llm.enqueue(&TextChunk{Content: "looks fine to me"})

	delta, err := (&Validator{}).Run(context.Background(), h.rc, validatorState("real result data"))
	require.NoError(t, err)
	require.Len(t, delta.ValidationResults, 1)
	assert.Equal(t, models.ValidationPartial, delta.ValidationResults[0].Status)
	// Partial counts as progress.
	assert.Equal(t, config.NodeResearchTeam, delta.Goto)
}

func TestValidatorUnknownStatusNormalizedToPartial(t *testing.T) {
	h := newTestRC()
	h.llm.enqueue(&TextChunk{Content: `{"status":"excellent","reason":"r"}`})

	delta, err := (&Validator{}).Run(context.Background(), h.rc, validatorState("data"))
	require.NoError(t, err)
	assert.Equal(t, models.ValidationPartial, delta.ValidationResults[0].Status)
}

func TestValidatorNoPlan(t *testing.T) {
	h := newTestRC()
	delta, err := (&Validator{}).Run(context.Background(), h.rc, models.NewState("thread-1", "", ""))
	require.NoError(t, err)
	assert.Equal(t, config.NodeReporter, delta.Goto)
}

func TestLooksLikeFailedResult(t *testing.T) {
	tests := []struct {
		name   string
		result string
		broken bool
	}{
		{"plain data", "Sprint 4 velocity: 32 points", false},
		{"json without error key", `{"count": 5}`, false},
		{"mentions 404 in prose", "the docs say HTTP 404 means not found", true},
		{"empty", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, broken := looksLikeFailedResult(tt.result)
			assert.Equal(t, tt.broken, broken)
		})
	}
}
