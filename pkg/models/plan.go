package models

// StepType routes a plan step to its specialized worker node.
type StepType string

const (
	// StepTypeResearch marks steps answered by web search and crawling.
	StepTypeResearch StepType = "RESEARCH"
	// StepTypeProcessing marks pure computation/transformation steps.
	StepTypeProcessing StepType = "PROCESSING"
	// StepTypePMQuery marks steps that must call PM-backend tools.
	StepTypePMQuery StepType = "PM_QUERY"
)

// Step is a single unit of planned work. ExecutionRes == nil means pending;
// a non-nil string means completed (the string may encode an error).
type Step struct {
	Title        string   `json:"title"`
	Description  string   `json:"description"`
	StepType     StepType `json:"step_type"`
	NeedSearch   bool     `json:"need_search"`
	ExecutionRes *string  `json:"execution_res"`
}

// Completed reports whether the step has an execution result assigned.
func (s *Step) Completed() bool {
	return s.ExecutionRes != nil
}

// Plan is the planner's typed output. Steps execute in order; at most one
// pending step is "current" at any time.
type Plan struct {
	Title            string `json:"title"`
	Thought          string `json:"thought"`
	HasEnoughContext bool   `json:"has_enough_context"`
	Steps            []Step `json:"steps"`
}

// Clone returns a deep copy. Nodes clone before mutating step results so
// the delta merge stays the only write path into shared state.
func (p *Plan) Clone() *Plan {
	if p == nil {
		return nil
	}
	cp := *p
	cp.Steps = make([]Step, len(p.Steps))
	copy(cp.Steps, p.Steps)
	for i := range cp.Steps {
		if p.Steps[i].ExecutionRes != nil {
			res := *p.Steps[i].ExecutionRes
			cp.Steps[i].ExecutionRes = &res
		}
	}
	return &cp
}

// CompletedSteps returns the number of steps with a non-nil execution result.
func (p *Plan) CompletedSteps() int {
	n := 0
	for i := range p.Steps {
		if p.Steps[i].Completed() {
			n++
		}
	}
	return n
}

// NextPendingIndex returns the index of the first step without an execution
// result, or -1 when every step has completed.
func (p *Plan) NextPendingIndex() int {
	for i := range p.Steps {
		if !p.Steps[i].Completed() {
			return i
		}
	}
	return -1
}

// AllStepsCompleted reports whether every step has an execution result.
func (p *Plan) AllStepsCompleted() bool {
	return p.NextPendingIndex() == -1
}

// ValidationStatus is the validator's judgement of a step result.
type ValidationStatus string

const (
	ValidationSuccess ValidationStatus = "success"
	ValidationPartial ValidationStatus = "partial"
	ValidationFailure ValidationStatus = "failure"
)

// ValidationRecord captures one validator invocation for a completed step.
type ValidationRecord struct {
	StepTitle    string           `json:"step_title"`
	Status       ValidationStatus `json:"status"`
	Reason       string           `json:"reason"`
	ShouldRetry  bool             `json:"should_retry"`
	SuggestedFix string           `json:"suggested_fix"`
	AtStepIndex  int              `json:"at_step_index"`
}
