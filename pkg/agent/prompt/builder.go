// Package prompt builds all prompt messages for the workflow nodes.
package prompt

import (
	"fmt"
	"strings"

	"github.com/pmflow/pmflow/pkg/agent"
	"github.com/pmflow/pmflow/pkg/config"
	"github.com/pmflow/pmflow/pkg/models"
)

// Builder constructs prompt messages for every node.
// Stateless — all state comes from parameters. Thread-safe.
type Builder struct{}

// NewBuilder creates a prompt builder.
func NewBuilder() *Builder {
	return &Builder{}
}

var _ agent.PromptBuilder = (*Builder)(nil)

// CoordinatorMessages classifies the latest user message. The frontend
// history is included so follow-up greetings ("thanks, that's all") are
// recognized in context.
func (b *Builder) CoordinatorMessages(st *models.State) []models.Message {
	msgs := []models.Message{systemMessage(coordinatorSystem)}
	msgs = append(msgs, st.FrontendHistory()...)
	msgs = append(msgs, userMessage(st.UserQuery()))
	return msgs
}

// PlannerMessages builds the planning prompt. On re-entry (escalation from
// react, or a reflector-driven replan) the accumulated execution context is
// appended so the new plan accounts for what already happened.
func (b *Builder) PlannerMessages(st *models.State) []models.Message {
	var u strings.Builder
	fmt.Fprintf(&u, "User request:\n%s\n", st.UserQuery())
	if st.ProjectID != "" {
		fmt.Fprintf(&u, "\nActive project: %s\n", st.ProjectID)
	}
	if st.EscalationReason != "" {
		fmt.Fprintf(&u, "\nThe fast-path agent escalated to you. Reason: %s\n", st.EscalationReason)
	}
	if st.PreviousResult != "" {
		fmt.Fprintf(&u, "\nPartial result gathered before escalation:\n%s\n", st.PreviousResult)
	}
	if st.Reflection != "" {
		fmt.Fprintf(&u, "\nA previous plan failed. Failure analysis:\n%s\n", st.Reflection)
	}
	if st.CurrentPlan != nil && st.PlanIterations > 0 {
		fmt.Fprintf(&u, "\nPrevious plan and its outcomes:\n%s\n", formatPlan(st.CurrentPlan))
	}
	if summary := formatValidation(st.ValidationResults); summary != "" {
		fmt.Fprintf(&u, "\nValidation history:\n%s", summary)
	}

	msgs := []models.Message{systemMessage(plannerSystem)}
	msgs = append(msgs, st.FrontendHistory()...)
	msgs = append(msgs, userMessage(u.String()))
	return msgs
}

// ReactMessages builds the fast-path prompt. Tool descriptions are listed in
// the system message so the model understands its reach before the first
// iteration; the bound tool schemas are what it actually calls with.
func (b *Builder) ReactMessages(st *models.State, tools []agent.ToolDefinition) []models.Message {
	var s strings.Builder
	s.WriteString(reactSystem)
	if len(tools) > 0 {
		s.WriteString("\n\nAvailable tools:\n")
		for _, t := range tools {
			fmt.Fprintf(&s, "- %s: %s\n", t.Name, firstLine(t.Description))
		}
	}
	if st.ProjectID != "" {
		fmt.Fprintf(&s, "\nActive project: %s\nPass this as project_id to PM tools unless the user names another project.", st.ProjectID)
	}

	msgs := []models.Message{systemMessage(s.String())}
	msgs = append(msgs, st.FrontendHistory()...)
	msgs = append(msgs, userMessage(st.UserQuery()))
	return msgs
}

// WorkerMessages builds the execution prompt for one plan step. Prior step
// observations travel as a digest message tagged AgentObservation, so the
// budget coordinator can shed them first under context pressure.
func (b *Builder) WorkerMessages(node string, st *models.State, step *models.Step) []models.Message {
	msgs := []models.Message{systemMessage(workerSystem(node))}

	if digest := formatObservations(st.Observations); digest != "" {
		obs := models.NewMessage(models.RoleAssistant, models.AgentObservation,
			"Results from earlier steps:\n"+digest)
		msgs = append(msgs, obs)
	}

	var u strings.Builder
	fmt.Fprintf(&u, "Current step: %s\n\n%s\n", step.Title, step.Description)
	if st.ProjectID != "" {
		fmt.Fprintf(&u, "\nActive project: %s\n", st.ProjectID)
	}
	if fix := lastSuggestedFix(st.ValidationResults, step.Title); fix != "" {
		fmt.Fprintf(&u, "\nA previous attempt at this step failed. Apply this fix: %s\n", fix)
	}
	msgs = append(msgs, userMessage(u.String()))
	return msgs
}

// ValidatorMessages builds the judgement prompt for one completed step.
func (b *Builder) ValidatorMessages(step *models.Step) []models.Message {
	result := ""
	if step.ExecutionRes != nil {
		result = *step.ExecutionRes
	}
	u := fmt.Sprintf("Step: %s\n\nExpected:\n%s\n\nActual result:\n%s\n",
		step.Title, step.Description, result)
	return []models.Message{systemMessage(validatorSystem), userMessage(u)}
}

// ReflectorMessages builds the failure-analysis prompt.
func (b *Builder) ReflectorMessages(st *models.State) []models.Message {
	var u strings.Builder
	fmt.Fprintf(&u, "Original request:\n%s\n", st.UserQuery())
	if st.CurrentPlan != nil {
		fmt.Fprintf(&u, "\nPlan and outcomes:\n%s\n", formatPlan(st.CurrentPlan))
	}
	if summary := formatValidation(st.ValidationResults); summary != "" {
		fmt.Fprintf(&u, "\nValidation history:\n%s", summary)
	}
	if digest := formatObservations(st.Observations); digest != "" {
		fmt.Fprintf(&u, "\nObservations:\n%s", digest)
	}
	return []models.Message{systemMessage(reflectorSystem), userMessage(u.String())}
}

// ReporterMessages builds the final-synthesis prompt from everything the
// workflow accumulated.
func (b *Builder) ReporterMessages(st *models.State) []models.Message {
	msgs := []models.Message{systemMessage(reporterSystem)}
	msgs = append(msgs, st.FrontendHistory()...)

	if digest := formatObservations(st.Observations); digest != "" {
		obs := models.NewMessage(models.RoleAssistant, models.AgentObservation,
			"Gathered results:\n"+digest)
		msgs = append(msgs, obs)
	}

	var u strings.Builder
	fmt.Fprintf(&u, "User request:\n%s\n", st.UserQuery())
	if st.CurrentPlan != nil {
		fmt.Fprintf(&u, "\nExecuted plan:\n%s\n", formatPlan(st.CurrentPlan))
	}
	if partials := partialWarnings(st.ValidationResults); partials != "" {
		fmt.Fprintf(&u, "\nValidation flagged these results as uncertain:\n%s", partials)
	}
	if len(st.ReactThoughts) > 0 {
		u.WriteString("\nReasoning trail from the fast-path attempt:\n")
		for _, t := range st.ReactThoughts {
			fmt.Fprintf(&u, "- %s\n", t.Thought)
		}
	}
	u.WriteString("\nWrite the final answer now.")
	msgs = append(msgs, userMessage(u.String()))
	return msgs
}

// PlanRepairMessage asks the planner to re-emit valid JSON after a parse
// failure.
func (b *Builder) PlanRepairMessage(rawOutput, parseErr string) models.Message {
	_ = rawOutput // already in the conversation as the assistant turn
	return userMessage(fmt.Sprintf(planRepairUser, parseErr))
}

func workerSystem(node string) string {
	switch node {
	case config.NodePMAgent:
		return pmAgentSystem
	case config.NodeResearcher:
		return researcherSystem
	default:
		return coderSystem
	}
}

func systemMessage(content string) models.Message {
	return models.NewMessage(models.RoleSystem, "", content)
}

func userMessage(content string) models.Message {
	return models.NewMessage(models.RoleUser, "", content)
}

func formatPlan(p *models.Plan) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Title: %s\n", p.Title)
	for i := range p.Steps {
		step := &p.Steps[i]
		res := "(not executed)"
		if step.ExecutionRes != nil {
			res = *step.ExecutionRes
		}
		fmt.Fprintf(&b, "%d. [%s] %s\n   result: %s\n", i+1, step.StepType, step.Title, res)
	}
	return b.String()
}

func formatObservations(obs []string) string {
	if len(obs) == 0 {
		return ""
	}
	var b strings.Builder
	for _, o := range obs {
		fmt.Fprintf(&b, "- %s\n", o)
	}
	return b.String()
}

func formatValidation(records []models.ValidationRecord) string {
	if len(records) == 0 {
		return ""
	}
	var b strings.Builder
	for _, r := range records {
		fmt.Fprintf(&b, "- step %q: %s (%s)\n", r.StepTitle, r.Status, r.Reason)
	}
	return b.String()
}

// partialWarnings lists validation records the reporter should hedge on.
func partialWarnings(records []models.ValidationRecord) string {
	var b strings.Builder
	for _, r := range records {
		if r.Status == models.ValidationPartial {
			fmt.Fprintf(&b, "- step %q: %s\n", r.StepTitle, r.Reason)
		}
	}
	return b.String()
}

// lastSuggestedFix returns the most recent suggested fix recorded for the
// named step, so a retry sees what to change.
func lastSuggestedFix(records []models.ValidationRecord, stepTitle string) string {
	for i := len(records) - 1; i >= 0; i-- {
		r := records[i]
		if r.StepTitle == stepTitle && r.Status == models.ValidationFailure && r.SuggestedFix != "" {
			return r.SuggestedFix
		}
	}
	return ""
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
