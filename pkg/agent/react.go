package agent

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/pmflow/pmflow/pkg/budget"
	"github.com/pmflow/pmflow/pkg/config"
	"github.com/pmflow/pmflow/pkg/events"
	"github.com/pmflow/pmflow/pkg/models"
)

// Escalation reasons recorded in state when the fast path hands off.
const (
	EscalationRepeatedErrors   = "repeated_errors"
	EscalationMaxIterations    = "max_iterations"
	EscalationTokenBudget      = "token_budget"
	EscalationPlanningRequired = "planning_required"
	EscalationWeakAnswer       = "insufficient_answer"
	EscalationModelRequested   = "model_requested"
)

// escalationPhrases trigger a handoff when the final assistant content
// contains any of them (case-insensitive). Compatibility fallback for models
// that narrate instead of calling the escalation tool.
var escalationPhrases = []string{
	"this requires detailed planning",
	"i need to plan",
	"this is a complex task that requires",
	"this requires comprehensive analysis",
}

// ReactAgent is the fast path: a single tool-using loop that either answers
// directly or escalates to the planner.
type ReactAgent struct{}

func (n *ReactAgent) Name() string { return config.NodeReactAgent }

func (n *ReactAgent) Run(ctx context.Context, rc *RunContext, st *models.State) (*models.StateDelta, error) {
	model := rc.ModelFor(n.Name(), st)
	toolDefs, err := rc.Tools.ListTools(ctx, n.Name())
	if err != nil {
		return nil, fmt.Errorf("list tools: %w", err)
	}

	convo := rc.Prompts.ReactMessages(st, toolDefs)
	var thoughts []models.ReactThought
	distinctErrors := map[string]bool{}
	toolCallsMade := false
	lastAnswer := ""

	for iteration := 0; iteration < rc.Config.Defaults.ReactMaxIterations; iteration++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		fitted, err := rc.Budget.Fit(n.Name(), model, st, convo)
		if err != nil {
			if errors.Is(err, budget.ErrContextTooLarge) {
				return n.escalate(st, thoughts, EscalationTokenBudget, lastAnswer), nil
			}
			return nil, err
		}

		resp, err := callLLMStreaming(ctx, rc, n.Name(), &GenerateInput{
			ThreadID: rc.ThreadID,
			Node:     n.Name(),
			Model:    model,
			Messages: fitted,
			Tools:    toolDefs,
		})
		if err != nil {
			return nil, err
		}

		if len(resp.ToolCalls) == 0 {
			lastAnswer = resp.Text
			if reason := finalAnswerEscalation(resp.Text, toolCallsMade); reason != "" {
				emitFinishReason(ctx, rc, resp.MessageID, events.FinishReasonStop)
				return n.escalate(st, thoughts, reason, resp.Text), nil
			}
			emitFinishReason(ctx, rc, resp.MessageID, events.FinishReasonStop)
			return &models.StateDelta{
				Messages:      []models.Message{resp.AssistantMessage(n.Name())},
				ReactThoughts: thoughts,
				Goto:          config.NodeReporter,
			}, nil
		}

		// The model may request planning via the reserved tool instead of
		// free text. Intercept before any execution.
		if reason, ok := escalationToolReason(resp.ToolCalls); ok {
			emitFinishReason(ctx, rc, resp.MessageID, events.FinishReasonToolCalls)
			if reason == "" {
				reason = EscalationModelRequested
			}
			return n.escalate(st, thoughts, reason, resp.Text), nil
		}

		toolCallsMade = true
		newThoughts := extractThoughts(resp, len(thoughts))
		thoughts = append(thoughts, newThoughts...)
		rc.Stream.Emit(ctx, events.Event{
			Event: events.EventTypeReactThoughts,
			Data: events.ReactThoughtsPayload{
				ThreadID: rc.ThreadID,
				Agent:    n.Name(),
				ID:       resp.MessageID,
				Thoughts: newThoughts,
			},
		})

		results, err := executeToolCalls(ctx, rc, n.Name(), resp.MessageID, resp.ToolCalls)
		if err != nil {
			return nil, err
		}
		emitFinishReason(ctx, rc, resp.MessageID, events.FinishReasonToolCalls)

		convo = append(convo, resp.AssistantMessage(n.Name()))
		convo = append(convo, toolMessages(n.Name(), results)...)

		for _, res := range results {
			if key := resultErrorKey(res); key != "" {
				distinctErrors[key] = true
			}
		}
		if len(distinctErrors) >= rc.Config.Defaults.ReactMaxErrors {
			return n.escalate(st, thoughts, EscalationRepeatedErrors, lastAnswer), nil
		}
	}

	return n.escalate(st, thoughts, EscalationMaxIterations, lastAnswer), nil
}

// escalate builds the handoff delta for the planner.
func (n *ReactAgent) escalate(st *models.State, thoughts []models.ReactThought, reason, previousResult string) *models.StateDelta {
	return &models.StateDelta{
		ReactThoughts:    thoughts,
		EscalationReason: models.Ptr(reason),
		PreviousResult:   models.Ptr(previousResult),
		ReactAttempts:    models.Ptr(st.ReactAttempts + 1),
		Goto:             config.NodePlanner,
	}
}

// escalationToolReason reports whether the model called the reserved
// escalation tool, and the reason it gave.
func escalationToolReason(calls []models.ToolCall) (string, bool) {
	for _, call := range calls {
		if call.Name != "escalate_to_planner" {
			continue
		}
		reason, _ := call.Arguments["reason"].(string)
		return reason, true
	}
	return "", false
}

// finalAnswerEscalation checks a tool-free final answer against the
// escalation triggers. Returns "" when the answer stands.
func finalAnswerEscalation(text string, toolCallsMade bool) string {
	lower := strings.ToLower(text)
	for _, phrase := range escalationPhrases {
		if strings.Contains(lower, phrase) {
			return EscalationPlanningRequired
		}
	}
	if !toolCallsMade && looksLikeGreetingOrRefusal(text) {
		return EscalationWeakAnswer
	}
	return ""
}

var greetingRefusalRe = regexp.MustCompile(`(?i)\b(hello|hi there|how can i help|i can't|i cannot|i'm sorry|i am sorry|i'm unable|unfortunately,? i|you're welcome)\b`)

// looksLikeGreetingOrRefusal detects short generic replies carrying no PM
// data. Those indicate the fast path produced nothing useful.
func looksLikeGreetingOrRefusal(text string) bool {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return true
	}
	if len(trimmed) > 280 {
		return false
	}
	return greetingRefusalRe.MatchString(trimmed)
}

// extractThoughts produces one ReactThought per tool call in the message.
// Precedence: provider reasoning field, then a "Thought:" prefix in the
// content, then a deterministic fallback built from the call itself.
func extractThoughts(resp *LLMResponse, baseIndex int) []models.ReactThought {
	shared := strings.TrimSpace(resp.Reasoning)
	if shared == "" {
		shared = thoughtFromContent(resp.Text)
	}

	thoughts := make([]models.ReactThought, 0, len(resp.ToolCalls))
	for i, call := range resp.ToolCalls {
		thought := shared
		if thought == "" {
			thought = fallbackThought(call)
		}
		thoughts = append(thoughts, models.ReactThought{
			StepIndex: baseIndex + i,
			Thought:   thought,
			ToolName:  call.Name,
		})
	}
	return thoughts
}

// thoughtFromContent pulls the text after a "Thought:" prefix, stopping at
// the next ReAct keyword line.
func thoughtFromContent(content string) string {
	idx := strings.Index(content, "Thought:")
	if idx < 0 {
		return ""
	}
	rest := content[idx+len("Thought:"):]
	for _, stop := range []string{"\nAction:", "\nFinal Answer:", "\nThought:"} {
		if cut := strings.Index(rest, stop); cut >= 0 {
			rest = rest[:cut]
		}
	}
	return strings.TrimSpace(rest)
}

func fallbackThought(call models.ToolCall) string {
	args := make([]string, 0, len(call.Arguments))
	for k := range call.Arguments {
		args = append(args, k)
	}
	sort.Strings(args)
	if len(args) == 0 {
		return fmt.Sprintf("I will use %s to gather the needed information.", call.Name)
	}
	return fmt.Sprintf("I will use %s with %s to gather the needed information.",
		call.Name, strings.Join(args, ", "))
}
