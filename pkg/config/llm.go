package config

import (
	"fmt"
	"strings"
)

// ModelLimits is one row of the token-budget model table.
type ModelLimits struct {
	ContextLimit     int `yaml:"context_limit"`
	ReservedOverhead int `yaml:"reserved_overhead"`
}

// defaultModelTable carries the normative defaults. The YAML config may
// override or extend it.
var defaultModelTable = map[ModelFamily]ModelLimits{
	ModelFamilySmallChat: {ContextLimit: 16385, ReservedOverhead: 3500},
	ModelFamilyMidChat:   {ContextLimit: 128000, ReservedOverhead: 3500},
	ModelFamilyLargeChat: {ContextLimit: 200000, ReservedOverhead: 3500},
	ModelFamilyReasoning: {ContextLimit: 400000, ReservedOverhead: 3500},
}

// defaultAgentTokenLimits are per-node prompt budgets. The effective limit at
// an LLM call site is min(agent default, available context).
var defaultAgentTokenLimits = map[string]int{
	NodeCoordinator: 4000,
	NodePlanner:     30000,
	NodeReactAgent:  14000,
	NodePMAgent:     60000,
	NodeResearcher:  60000,
	NodeCoder:       60000,
	NodeValidator:   4000,
	NodeReflector:   20000,
	NodeReporter:    340000,
}

// ModelTable maps model families to context limits, with per-node budgets.
type ModelTable struct {
	Families    map[ModelFamily]ModelLimits `yaml:"families,omitempty"`
	AgentLimits map[string]int              `yaml:"agent_limits,omitempty"`

	// FamilyAliases maps concrete model names (e.g. "gpt-4o-mini") to a
	// family. Unlisted models fall back to prefix matching on the family name.
	FamilyAliases map[string]ModelFamily `yaml:"family_aliases,omitempty"`
}

// NewModelTable returns a table populated with the normative defaults.
func NewModelTable() *ModelTable {
	families := make(map[ModelFamily]ModelLimits, len(defaultModelTable))
	for k, v := range defaultModelTable {
		families[k] = v
	}
	limits := make(map[string]int, len(defaultAgentTokenLimits))
	for k, v := range defaultAgentTokenLimits {
		limits[k] = v
	}
	return &ModelTable{
		Families:      families,
		AgentLimits:   limits,
		FamilyAliases: map[string]ModelFamily{},
	}
}

// Resolve maps a model name to its limits. Resolution order: exact alias,
// exact family name, family-name prefix.
func (t *ModelTable) Resolve(modelName string) (ModelLimits, error) {
	if fam, ok := t.FamilyAliases[modelName]; ok {
		if lim, ok := t.Families[fam]; ok {
			return lim, nil
		}
	}
	if lim, ok := t.Families[ModelFamily(modelName)]; ok {
		return lim, nil
	}
	for fam, lim := range t.Families {
		if strings.HasPrefix(modelName, string(fam)) {
			return lim, nil
		}
	}
	return ModelLimits{}, fmt.Errorf("%w: %s", ErrModelFamilyUnknown, modelName)
}

// AgentLimit returns the per-node prompt budget for a node name.
// Unknown nodes get the react budget — the most conservative interactive one.
func (t *ModelTable) AgentLimit(node string) int {
	if lim, ok := t.AgentLimits[node]; ok {
		return lim
	}
	return defaultAgentTokenLimits[NodeReactAgent]
}

// LLMConfig selects the chat-completion endpoint and model identifiers.
type LLMConfig struct {
	// BasicModel handles coordinator, react, workers, and validator calls.
	BasicModel string `yaml:"basic_model"`
	// ReasoningModel handles planner, reflector, and reporter calls.
	ReasoningModel string `yaml:"reasoning_model"`

	APIKey  string `yaml:"api_key,omitempty"`
	BaseURL string `yaml:"base_url,omitempty"`

	// MaxConcurrent bounds in-flight LLM calls across all requests.
	MaxConcurrent int `yaml:"max_concurrent,omitempty"`
}
