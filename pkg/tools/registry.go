// Package tools implements the tool registry: schema-validated dispatch by
// name, per-agent allow-lists, execution timeouts, and output sanitation.
// Both builtin tools and remote MCP tools register here; nodes only ever see
// the agent.ToolExecutor contract.
package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/pmflow/pmflow/pkg/agent"
	"github.com/pmflow/pmflow/pkg/budget"
	"github.com/pmflow/pmflow/pkg/config"
	"github.com/pmflow/pmflow/pkg/events"
	"github.com/pmflow/pmflow/pkg/models"
)

// Handler executes one tool call. The returned string is raw output; the
// registry sanitizes it before it reaches a conversation.
type Handler func(ctx context.Context, args map[string]any) (string, error)

// Tool is a registrable tool definition.
type Tool struct {
	Name        string
	Description string
	Schema      string // JSON Schema for the arguments; empty = no validation
	Handler     Handler
}

type registered struct {
	tool     Tool
	compiled *jsonschema.Schema
	// allowed is the agent allow-list; nil means visible to every agent.
	allowed map[string]bool
}

// Registry dispatches tool calls by name. Implements agent.ToolExecutor.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]*registered

	timeout      time.Duration
	outputBudget int
	counter      *budget.Counter
	logger       *slog.Logger
}

// NewRegistry creates an empty registry with the configured call timeout
// and output token budget.
func NewRegistry(cfg *config.Defaults, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		tools:        make(map[string]*registered),
		timeout:      cfg.ToolCallTimeout,
		outputBudget: cfg.ToolOutputTokenBudget,
		counter:      budget.NewCounter(),
		logger:       logger,
	}
}

// Register adds a tool. An empty allowedAgents list makes the tool visible
// to all agents. Schema compilation failures are registration errors, not
// call-time errors.
func (r *Registry) Register(t Tool, allowedAgents ...string) error {
	if t.Name == "" {
		return errors.New("tool name is required")
	}
	var compiled *jsonschema.Schema
	if t.Schema != "" {
		var err error
		compiled, err = compileSchema(t.Name, t.Schema)
		if err != nil {
			return fmt.Errorf("tool %s: %w", t.Name, err)
		}
	}
	var allowed map[string]bool
	if len(allowedAgents) > 0 {
		allowed = make(map[string]bool, len(allowedAgents))
		for _, a := range allowedAgents {
			allowed[a] = true
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[t.Name]; exists {
		return fmt.Errorf("tool %s already registered", t.Name)
	}
	r.tools[t.Name] = &registered{tool: t, compiled: compiled, allowed: allowed}
	return nil
}

// Unregister removes a tool by name. Used when an MCP server is replaced at
// runtime (per-request mcp_settings overrides).
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tools, name)
}

// ListTools returns the tools visible to the given agent, sorted by name so
// prompt construction is deterministic.
func (r *Registry) ListTools(_ context.Context, agentName string) ([]agent.ToolDefinition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	defs := make([]agent.ToolDefinition, 0, len(r.tools))
	for _, reg := range r.tools {
		if reg.allowed != nil && !reg.allowed[agentName] {
			continue
		}
		defs = append(defs, agent.ToolDefinition{
			Name:             reg.tool.Name,
			Description:      reg.tool.Description,
			ParametersSchema: reg.tool.Schema,
		})
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	return defs, nil
}

// Execute runs one tool call. Validation failures, remote failures, and
// timeouts all come back as error-flagged results rather than Go errors, so
// they re-enter the conversation as observations the LLM can react to.
func (r *Registry) Execute(ctx context.Context, agentName string, call models.ToolCall) (*agent.ToolResult, error) {
	r.mu.RLock()
	reg, ok := r.tools[call.Name]
	r.mu.RUnlock()

	if !ok || (reg.allowed != nil && !reg.allowed[agentName]) {
		return errorResult(call, events.ErrKindToolValidation,
			fmt.Sprintf("unknown tool %q", call.Name)), nil
	}
	if raw, malformed := call.Arguments["_raw"]; malformed {
		return errorResult(call, events.ErrKindToolValidation,
			fmt.Sprintf("arguments are not valid JSON: %v", raw)), nil
	}
	if key, val, found := findPlaceholderArg(call.Arguments); found {
		return errorResult(call, events.ErrKindToolValidation,
			fmt.Sprintf("argument %q holds placeholder value %q; supply a real value", key, val)), nil
	}
	if reg.compiled != nil {
		if err := reg.compiled.Validate(normalizeForSchema(call.Arguments)); err != nil {
			return errorResult(call, events.ErrKindToolValidation,
				fmt.Sprintf("arguments failed schema validation: %v", err)), nil
		}
	}

	callCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	start := time.Now()
	output, err := reg.tool.Handler(callCtx, call.Arguments)
	elapsed := time.Since(start)

	if err != nil {
		if errors.Is(callCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			r.logger.Warn("Tool call timed out", "tool", call.Name, "agent", agentName, "elapsed", elapsed)
			return errorResult(call, events.ErrKindToolTimeout,
				fmt.Sprintf("tool %s timed out after %s", call.Name, r.timeout)), nil
		}
		if ctx.Err() != nil {
			// Request cancellation is infrastructure, not a tool outcome.
			return nil, ctx.Err()
		}
		r.logger.Warn("Tool call failed", "tool", call.Name, "agent", agentName, "error", err)
		return errorResult(call, events.ErrKindToolRemote, err.Error()), nil
	}

	r.logger.Debug("Tool call completed", "tool", call.Name, "agent", agentName,
		"elapsed", elapsed, "output_bytes", len(output))
	return &agent.ToolResult{
		CallID:  call.ID,
		Name:    call.Name,
		Content: Sanitize(output, r.outputBudget, r.counter),
	}, nil
}

func compileSchema(name, schema string) (*jsonschema.Schema, error) {
	var doc any
	if err := json.Unmarshal([]byte(schema), &doc); err != nil {
		return nil, fmt.Errorf("unmarshal schema: %w", err)
	}
	c := jsonschema.NewCompiler()
	resource := name + ".schema.json"
	if err := c.AddResource(resource, doc); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}
	compiled, err := c.Compile(resource)
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return compiled, nil
}

// normalizeForSchema round-trips arguments through JSON so numeric types
// match what the validator expects.
func normalizeForSchema(args map[string]any) any {
	raw, err := json.Marshal(args)
	if err != nil {
		return args
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return args
	}
	return out
}

// findPlaceholderArg detects arguments the LLM filled with templates instead
// of values: a value equal to its own key, angle-bracket or mustache
// placeholders, or a bare ellipsis.
func findPlaceholderArg(args map[string]any) (string, string, bool) {
	for k, v := range args {
		s, ok := v.(string)
		if !ok {
			continue
		}
		trimmed := strings.TrimSpace(s)
		switch {
		case trimmed == k,
			trimmed == "...",
			strings.HasPrefix(trimmed, "<") && strings.HasSuffix(trimmed, ">"),
			strings.Contains(trimmed, "{{") && strings.Contains(trimmed, "}}"):
			return k, s, true
		}
	}
	return "", "", false
}

// errorResult encodes a tool failure as content the validator's heuristic
// fast-path recognizes: a JSON object with an "error" key and the kind tag.
func errorResult(call models.ToolCall, kind, message string) *agent.ToolResult {
	payload, _ := json.Marshal(map[string]string{"error": message, "kind": kind})
	return &agent.ToolResult{
		CallID:  call.ID,
		Name:    call.Name,
		Content: string(payload),
		IsError: true,
	}
}
