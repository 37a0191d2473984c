package agent

import (
	"log/slog"

	"github.com/pmflow/pmflow/pkg/config"
	"github.com/pmflow/pmflow/pkg/events"
	"github.com/pmflow/pmflow/pkg/models"
)

// RunContext carries all per-request dependencies a node needs. Created by
// the runner for each request; the graph driver passes it to every node.
// Nothing in here is shared mutable state — the Stream is single-producer
// (the driver's request) and everything else is read-only or internally
// synchronized.
type RunContext struct {
	RequestID string
	ThreadID  string

	Config *config.Config

	LLM    LLMClient
	Tools  ToolExecutor
	Budget BudgetCoordinator

	// Prompts builds all prompt text. Interface defined here so the prompt
	// subpackage can import agent without a cycle.
	Prompts PromptBuilder

	// Stream is the request's ordered event channel. The driver and the
	// currently-running node are the only producers.
	Stream *events.Stream

	Logger *slog.Logger
}

// Log returns the request logger, falling back to slog.Default.
func (rc *RunContext) Log() *slog.Logger {
	if rc.Logger != nil {
		return rc.Logger
	}
	return slog.Default()
}

// ModelFor returns the model identifier a node should call. Planner,
// reflector, and reporter use the reasoning model; everything else uses the
// basic model. The request may pin a model via state (model_name), which
// wins for all nodes.
func (rc *RunContext) ModelFor(node string, st *models.State) string {
	if st.ModelName != "" {
		return st.ModelName
	}
	switch node {
	case config.NodePlanner, config.NodeReflector, config.NodeReporter:
		return rc.Config.LLM.ReasoningModel
	default:
		return rc.Config.LLM.BasicModel
	}
}

// BudgetCoordinator enforces the per-call token arithmetic. Implemented by
// budget.Coordinator; defined as an interface here to avoid an agent↔budget
// import cycle and to enable mocks in node tests.
type BudgetCoordinator interface {
	// Fit returns messages compressed to the node's effective limit.
	// Returns budget.ErrContextTooLarge (wrapped) when compression cannot
	// bring the prompt under the limit.
	Fit(node, model string, st *models.State, msgs []models.Message) ([]models.Message, error)

	// EffectiveLimit returns min(agent default, model available) for a call site.
	EffectiveLimit(node, model string, st *models.State) (int, error)

	// Count returns the token count of the given messages.
	Count(msgs []models.Message) int
}

// PromptBuilder builds prompt messages for every node. Implemented by
// prompt.Builder.
type PromptBuilder interface {
	CoordinatorMessages(st *models.State) []models.Message
	PlannerMessages(st *models.State) []models.Message
	ReactMessages(st *models.State, tools []ToolDefinition) []models.Message
	WorkerMessages(node string, st *models.State, step *models.Step) []models.Message
	ValidatorMessages(step *models.Step) []models.Message
	ReflectorMessages(st *models.State) []models.Message
	ReporterMessages(st *models.State) []models.Message
	PlanRepairMessage(rawOutput, parseErr string) models.Message
}
