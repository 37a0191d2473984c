// Package budget implements the token-budget coordinator: per-node prompt
// limits derived from the model table, frontend-history accounting, and
// hierarchical prompt compression.
package budget

import (
	"fmt"
	"log/slog"

	"github.com/pmflow/pmflow/pkg/config"
	"github.com/pmflow/pmflow/pkg/models"
)

// toolSummaryTokens is the per-message cap applied to tool outputs during
// the second compression stage.
const toolSummaryTokens = 256

// Coordinator enforces the token arithmetic at every LLM call site:
//
//	available = model_limit − reserved − frontend_history_tokens
//	effective = min(agent_default, available)
//
// and compresses the prompt hierarchically when it exceeds the effective
// limit. One Coordinator serves all requests; it holds no per-request state.
type Coordinator struct {
	table   *config.ModelTable
	counter *Counter
	logger  *slog.Logger
}

// NewCoordinator creates a coordinator over the given model table.
func NewCoordinator(table *config.ModelTable, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{table: table, counter: NewCounter(), logger: logger}
}

// Count returns the token count of the given messages.
func (c *Coordinator) Count(msgs []models.Message) int {
	return c.counter.CountMessages(msgs)
}

// EffectiveLimit computes min(agent default, model available) for one call
// site. The frontend-supplied history always counts against the model
// context, regardless of what the node itself sends.
func (c *Coordinator) EffectiveLimit(node, model string, st *models.State) (int, error) {
	limits, err := c.table.Resolve(model)
	if err != nil {
		return 0, err
	}
	frontendTokens := c.counter.CountMessages(st.FrontendHistory())
	available := limits.ContextLimit - limits.ReservedOverhead - frontendTokens
	effective := c.table.AgentLimit(node)
	if available < effective {
		effective = available
	}
	if effective <= 0 {
		return 0, fmt.Errorf("%w: frontend history consumes the full context of %s (%d tokens available)",
			ErrContextTooLarge, model, available)
	}
	return effective, nil
}

// Fit returns msgs compressed to the node's effective limit. Compression
// stages, applied in order until the prompt fits:
//
//  1. Drop oldest observation messages.
//  2. Summarize tool outputs (truncate each tool message to a cap).
//  3. Drop oldest non-system message groups, keeping assistant tool-call
//     messages paired with their tool responses.
//
// The current user turn, system prompts, and the most recent message are
// never dropped. Returns ErrContextTooLarge when the prompt still exceeds
// the limit after all stages.
func (c *Coordinator) Fit(node, model string, st *models.State, msgs []models.Message) ([]models.Message, error) {
	effective, err := c.EffectiveLimit(node, model, st)
	if err != nil {
		return nil, err
	}
	if c.counter.CountMessages(msgs) <= effective {
		return msgs, nil
	}

	working := make([]models.Message, len(msgs))
	copy(working, msgs)
	protected := protectedIndexes(working)

	working = c.dropOldestObservations(working, protected, effective)
	if c.counter.CountMessages(working) <= effective {
		c.logCompression(node, model, len(msgs), len(working))
		return working, nil
	}

	working = c.summarizeToolOutputs(working, effective)
	if c.counter.CountMessages(working) <= effective {
		c.logCompression(node, model, len(msgs), len(working))
		return working, nil
	}

	working = c.dropOldestGroups(working, effective)
	count := c.counter.CountMessages(working)
	if count <= effective {
		c.logCompression(node, model, len(msgs), len(working))
		return working, nil
	}

	return nil, fmt.Errorf("%w: node %s at %d tokens after compression, limit %d",
		ErrContextTooLarge, node, count, effective)
}

func (c *Coordinator) logCompression(node, model string, before, after int) {
	c.logger.Info("Compressed prompt to fit token budget",
		"node", node, "model", model, "messages_before", before, "messages_after", after)
}

// protectedIndexes marks messages that no compression stage may drop:
// system prompts, the most recent user message, and the final message.
func protectedIndexes(msgs []models.Message) map[int]bool {
	p := make(map[int]bool)
	for i := range msgs {
		if msgs[i].Role == models.RoleSystem {
			p[i] = true
		}
	}
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == models.RoleUser {
			p[i] = true
			break
		}
	}
	if len(msgs) > 0 {
		p[len(msgs)-1] = true
	}
	return p
}

// dropOldestObservations removes observation digest messages oldest-first.
// Observation messages are assistant messages attributed to the observation
// pseudo-agent by the prompt builder.
func (c *Coordinator) dropOldestObservations(msgs []models.Message, protected map[int]bool, limit int) []models.Message {
	for {
		if c.counter.CountMessages(msgs) <= limit {
			return msgs
		}
		dropped := false
		for i := range msgs {
			if protected[i] || msgs[i].Agent != models.AgentObservation {
				continue
			}
			msgs = append(msgs[:i], msgs[i+1:]...)
			protected = protectedIndexes(msgs)
			dropped = true
			break
		}
		if !dropped {
			return msgs
		}
	}
}

// summarizeToolOutputs truncates tool message content to a fixed cap,
// oldest-first, preserving the assistant/tool pairing.
func (c *Coordinator) summarizeToolOutputs(msgs []models.Message, limit int) []models.Message {
	for i := range msgs {
		if c.counter.CountMessages(msgs) <= limit {
			return msgs
		}
		if msgs[i].Role != models.RoleTool {
			continue
		}
		if c.counter.CountText(msgs[i].Content) > toolSummaryTokens {
			msgs[i].Content = c.counter.Truncate(msgs[i].Content, toolSummaryTokens)
		}
	}
	return msgs
}

// dropOldestGroups removes droppable message groups oldest-first. An
// assistant message carrying tool calls forms one group with the tool
// messages answering it, so pairing survives compression.
func (c *Coordinator) dropOldestGroups(msgs []models.Message, limit int) []models.Message {
	for {
		if c.counter.CountMessages(msgs) <= limit {
			return msgs
		}
		protected := protectedIndexes(msgs)
		start := -1
		for i := range msgs {
			if !protected[i] {
				start = i
				break
			}
		}
		if start == -1 {
			return msgs
		}
		end := start + 1
		if len(msgs[start].ToolCalls) > 0 {
			ids := make(map[string]bool, len(msgs[start].ToolCalls))
			for _, tc := range msgs[start].ToolCalls {
				ids[tc.ID] = true
			}
			for end < len(msgs) && msgs[end].Role == models.RoleTool && ids[msgs[end].ToolCallID] && !protected[end] {
				end++
			}
		}
		msgs = append(msgs[:start], msgs[end:]...)
	}
}
