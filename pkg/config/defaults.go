package config

import "time"

// Workflow knob defaults. All are overridable via environment or YAML.
const (
	DefaultMaxReplanIterations   = 3
	DefaultReactMaxIterations    = 8
	DefaultReactMaxErrors        = 2
	DefaultToolOutputTokenBudget = 5000
	DefaultWorkerMaxIterations   = 5
	DefaultStuckStepAttempts     = 3
	DefaultStepRetryLimit        = 2

	DefaultToolCallTimeout     = 30 * time.Second
	DefaultLLMChunkIdleTimeout = 60 * time.Second
	DefaultReactPathTimeout    = 5 * time.Minute
	DefaultFullPathTimeout     = 15 * time.Minute

	DefaultParallelToolCap  = 8
	DefaultLLMMaxConcurrent = 16
)

// Defaults holds the workflow-level knobs resolved from environment + YAML.
type Defaults struct {
	MaxReplanIterations   int `yaml:"max_replan_iterations,omitempty"`
	ReactMaxIterations    int `yaml:"react_max_iterations,omitempty"`
	ReactMaxErrors        int `yaml:"react_max_errors,omitempty"`
	ToolOutputTokenBudget int `yaml:"tool_output_token_budget,omitempty"`
	WorkerMaxIterations   int `yaml:"worker_max_iterations,omitempty"`

	ToolCallTimeout     time.Duration `yaml:"tool_call_timeout,omitempty"`
	LLMChunkIdleTimeout time.Duration `yaml:"llm_chunk_idle_timeout,omitempty"`
	ReactPathTimeout    time.Duration `yaml:"react_path_timeout,omitempty"`
	FullPathTimeout     time.Duration `yaml:"full_path_timeout,omitempty"`

	ParallelToolCap int `yaml:"parallel_tool_cap,omitempty"`
}

// NewDefaults returns the normative defaults.
func NewDefaults() *Defaults {
	return &Defaults{
		MaxReplanIterations:   DefaultMaxReplanIterations,
		ReactMaxIterations:    DefaultReactMaxIterations,
		ReactMaxErrors:        DefaultReactMaxErrors,
		ToolOutputTokenBudget: DefaultToolOutputTokenBudget,
		WorkerMaxIterations:   DefaultWorkerMaxIterations,
		ToolCallTimeout:       DefaultToolCallTimeout,
		LLMChunkIdleTimeout:   DefaultLLMChunkIdleTimeout,
		ReactPathTimeout:      DefaultReactPathTimeout,
		FullPathTimeout:       DefaultFullPathTimeout,
		ParallelToolCap:       DefaultParallelToolCap,
	}
}
