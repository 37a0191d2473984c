package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/pmflow/pmflow/pkg/config"
	"github.com/pmflow/pmflow/pkg/models"
)

// Validator judges the just-completed step and makes the terminal routing
// decision for the execution loop: continue, retry, reflect, or report.
type Validator struct{}

func (n *Validator) Name() string { return config.NodeValidator }

func (n *Validator) Run(ctx context.Context, rc *RunContext, st *models.State) (*models.StateDelta, error) {
	plan := st.CurrentPlan
	if plan == nil {
		return &models.StateDelta{
			Observations: []string{"validator entered without a plan"},
			Goto:         config.NodeReporter,
		}, nil
	}

	idx := lastCompletedIndex(plan)
	if idx == -1 {
		// Nothing executed yet (empty plan edge case): only the validator
		// may terminate normally, so report what we have.
		return &models.StateDelta{Goto: config.NodeReporter}, nil
	}
	step := &plan.Steps[idx]
	result := ""
	if step.ExecutionRes != nil {
		result = *step.ExecutionRes
	}

	record, err := n.judge(ctx, rc, st, step, result)
	if err != nil {
		return nil, err
	}
	record.AtStepIndex = idx

	delta := &models.StateDelta{ValidationResults: []models.ValidationRecord{*record}}
	switch record.Status {
	case models.ValidationSuccess, models.ValidationPartial:
		delta.Observations = append(delta.Observations,
			fmt.Sprintf("step %q: %s", step.Title, result))
		if plan.AllStepsCompleted() {
			delta.Goto = config.NodeReporter
		} else {
			delta.Goto = config.NodeResearchTeam
		}
	case models.ValidationFailure:
		switch {
		case record.ShouldRetry && st.RetryCount < config.DefaultStepRetryLimit:
			updated := plan.Clone()
			updated.Steps[idx].ExecutionRes = nil
			delta.CurrentPlan = updated
			delta.RetryCount = models.Ptr(st.RetryCount + 1)
			delta.Goto = config.NodeResearchTeam
		case st.PlanIterations < st.MaxReplanIterations:
			delta.Goto = config.NodeReflector
		default:
			delta.Observations = append(delta.Observations,
				fmt.Sprintf("replanning exhausted after %d iterations; step %q still failing: %s",
					st.PlanIterations, step.Title, record.Reason))
			delta.Goto = config.NodeReporter
		}
	}
	return delta, nil
}

// judge produces the validation record, via the heuristic fast-path when the
// result is self-evidently broken, otherwise via an LLM call.
func (n *Validator) judge(ctx context.Context, rc *RunContext, st *models.State, step *models.Step, result string) (*models.ValidationRecord, error) {
	if reason, broken := looksLikeFailedResult(result); broken {
		return &models.ValidationRecord{
			StepTitle:    step.Title,
			Status:       models.ValidationFailure,
			Reason:       reason,
			ShouldRetry:  true,
			SuggestedFix: "re-execute the step with corrected tool arguments",
		}, nil
	}

	model := rc.ModelFor(n.Name(), st)
	msgs := rc.Prompts.ValidatorMessages(step)
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

	var verdict struct {
		Status       string `json:"status"`
		Reason       string `json:"reason"`
		ShouldRetry  bool   `json:"should_retry"`
		SuggestedFix string `json:"suggested_fix"`
	}
	if err := unmarshalLenient(resp.Text, &verdict); err != nil {
		// An unparseable verdict must not sink a completed step.
		rc.Log().Warn("Validator output unparseable, treating as partial",
			"thread_id", rc.ThreadID, "error", err)
		return &models.ValidationRecord{
			StepTitle: step.Title,
			Status:    models.ValidationPartial,
			Reason:    "validator produced an unparseable verdict",
		}, nil
	}

	status := models.ValidationStatus(verdict.Status)
	switch status {
	case models.ValidationSuccess, models.ValidationPartial, models.ValidationFailure:
	default:
		status = models.ValidationPartial
	}
	return &models.ValidationRecord{
		StepTitle:    step.Title,
		Status:       status,
		Reason:       verdict.Reason,
		ShouldRetry:  verdict.ShouldRetry,
		SuggestedFix: verdict.SuggestedFix,
	}, nil
}

// lastCompletedIndex returns the highest step index with an execution
// result, or -1.
func lastCompletedIndex(plan *models.Plan) int {
	for i := len(plan.Steps) - 1; i >= 0; i-- {
		if plan.Steps[i].Completed() {
			return i
		}
	}
	return -1
}

var httpErrorRe = regexp.MustCompile(`\bHTTP[ /]?[45]\d\d\b|\b[45]\d\d (Bad Request|Unauthorized|Forbidden|Not Found|Internal Server Error|Bad Gateway|Service Unavailable)\b`)

// looksLikeFailedResult is the heuristic fast-path: obvious error shapes
// skip the LLM entirely.
func looksLikeFailedResult(result string) (string, bool) {
	trimmed := strings.TrimSpace(result)
	if trimmed == "" {
		return "step produced an empty result", true
	}
	if httpErrorRe.MatchString(trimmed) {
		return "step result contains an HTTP error", true
	}
	if strings.Contains(strings.ToLower(trimmed), "invalid uuid") {
		return "step result reports an invalid uuid", true
	}
	var payload map[string]any
	if err := json.Unmarshal([]byte(trimmed), &payload); err == nil {
		if msg, ok := payload["error"]; ok {
			return fmt.Sprintf("step result is a tool error: %v", msg), true
		}
	}
	return "", false
}
