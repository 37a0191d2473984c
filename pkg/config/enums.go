package config

import "fmt"

// TransportType selects how the engine talks to a tool-protocol server.
type TransportType string

const (
	TransportTypeStdio TransportType = "stdio"
	TransportTypeHTTP  TransportType = "http"
	TransportTypeSSE   TransportType = "sse"
)

// Validate checks that the transport type is one of the supported values.
func (t TransportType) Validate() error {
	switch t {
	case TransportTypeStdio, TransportTypeHTTP, TransportTypeSSE:
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrInvalidTransportType, t)
	}
}

// ModelFamily selects a row in the token-budget model table.
type ModelFamily string

const (
	ModelFamilySmallChat ModelFamily = "small-chat"
	ModelFamilyMidChat   ModelFamily = "mid-chat"
	ModelFamilyLargeChat ModelFamily = "large-chat"
	ModelFamilyReasoning ModelFamily = "reasoning"
)

// NodeName identifies a graph node for routing and per-node budgets.
// Kept in config (not graph) so the YAML surface can reference nodes
// without importing the graph package.
const (
	NodeCoordinator  = "coordinator"
	NodePlanner      = "planner"
	NodeReactAgent   = "react_agent"
	NodeResearchTeam = "research_team"
	NodePMAgent      = "pm_agent"
	NodeResearcher   = "researcher"
	NodeCoder        = "coder"
	NodeValidator    = "validator"
	NodeReflector    = "reflector"
	NodeReporter     = "reporter"
	NodeEnd          = "end"
)
