package models

// DefaultMaxReplanIterations bounds the reflect→replan loop.
const DefaultMaxReplanIterations = 3

// ReactThought is one extracted reasoning entry from the react agent.
// Entries are strictly ordered by StepIndex and each is emitted before its
// corresponding tool call is observed downstream.
type ReactThought struct {
	StepIndex int    `json:"step_index"`
	Thought   string `json:"thought"`
	ToolName  string `json:"tool_name"`
}

// State is the shared workflow state. It is owned exclusively by one graph
// driver for the duration of a request; nodes never mutate it directly —
// they return a StateDelta that the driver merges.
type State struct {
	Messages          []Message          `json:"messages"`
	CurrentPlan       *Plan              `json:"current_plan"`
	Observations      []string           `json:"observations"`
	ValidationResults []ValidationRecord `json:"validation_results"`
	ReactThoughts     []ReactThought     `json:"react_thoughts"`

	Reflection          string `json:"reflection"`
	RetryCount          int    `json:"retry_count"`
	PlanIterations      int    `json:"plan_iterations"`
	MaxReplanIterations int    `json:"max_replan_iterations"`
	CurrentStepIndex    int    `json:"current_step_index"`
	TotalSteps          int    `json:"total_steps"`

	// FrontendHistoryCount is the number of leading messages supplied by the
	// frontend as prior conversation history. The token-budget coordinator
	// counts these against the model context limit at every LLM call.
	FrontendHistoryCount int `json:"frontend_history_message_count"`

	// Escalation context from the react fast path.
	EscalationReason string `json:"escalation_reason"`
	PreviousResult   string `json:"previous_result"`
	ReactAttempts    int    `json:"react_attempts"`

	Goto      string `json:"goto"`
	ProjectID string `json:"project_id"`
	ThreadID  string `json:"thread_id"`
	ModelName string `json:"model_name"`
}

// NewState creates request state with engine defaults applied.
func NewState(threadID, projectID, modelName string) *State {
	return &State{
		MaxReplanIterations: DefaultMaxReplanIterations,
		ThreadID:            threadID,
		ProjectID:           projectID,
		ModelName:           modelName,
	}
}

// UserQuery returns the content of the most recent user message, or "".
func (s *State) UserQuery() string {
	for i := len(s.Messages) - 1; i >= 0; i-- {
		if s.Messages[i].Role == RoleUser {
			return s.Messages[i].Content
		}
	}
	return ""
}

// FrontendHistory returns the leading frontend-supplied messages.
func (s *State) FrontendHistory() []Message {
	n := s.FrontendHistoryCount
	if n > len(s.Messages) {
		n = len(s.Messages)
	}
	return s.Messages[:n]
}

// StateDelta is a partial state update returned by a node. Scalar fields are
// last-write-wins and only applied when non-nil; list fields are appended.
type StateDelta struct {
	Goto string

	Messages          []Message
	Observations      []string
	ValidationResults []ValidationRecord
	ReactThoughts     []ReactThought

	CurrentPlan      *Plan
	Reflection       *string
	RetryCount       *int
	PlanIterations   *int
	CurrentStepIndex *int
	TotalSteps       *int
	EscalationReason *string
	PreviousResult   *string
	ReactAttempts    *int
}

// Apply merges the delta into the state. List-typed fields append; scalar
// fields overwrite only when the delta carries a value. The merge is atomic
// from the perspective of event consumers — the driver applies one delta per
// node invocation.
func (s *State) Apply(d *StateDelta) {
	if d == nil {
		return
	}
	s.Messages = append(s.Messages, d.Messages...)
	s.Observations = append(s.Observations, d.Observations...)
	s.ValidationResults = append(s.ValidationResults, d.ValidationResults...)
	s.ReactThoughts = append(s.ReactThoughts, d.ReactThoughts...)

	if d.CurrentPlan != nil {
		s.CurrentPlan = d.CurrentPlan
	}
	if d.Reflection != nil {
		s.Reflection = *d.Reflection
	}
	if d.RetryCount != nil {
		s.RetryCount = *d.RetryCount
	}
	if d.PlanIterations != nil {
		s.PlanIterations = *d.PlanIterations
	}
	if d.CurrentStepIndex != nil {
		s.CurrentStepIndex = *d.CurrentStepIndex
	}
	if d.TotalSteps != nil {
		s.TotalSteps = *d.TotalSteps
	}
	if d.EscalationReason != nil {
		s.EscalationReason = *d.EscalationReason
	}
	if d.PreviousResult != nil {
		s.PreviousResult = *d.PreviousResult
	}
	if d.ReactAttempts != nil {
		s.ReactAttempts = *d.ReactAttempts
	}
	if d.Goto != "" {
		s.Goto = d.Goto
	}
}

// Ptr returns a pointer to v. Convenience for building StateDelta values.
func Ptr[T any](v T) *T { return &v }
