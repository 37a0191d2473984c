package agent

import (
	"context"
	"fmt"
	"sync"

	"github.com/pmflow/pmflow/pkg/config"
	"github.com/pmflow/pmflow/pkg/events"
	"github.com/pmflow/pmflow/pkg/models"
)

// scriptedLLM replays a queue of chunk scripts, one per Generate call, and
// records every input it received.
type scriptedLLM struct {
	mu      sync.Mutex
	scripts [][]Chunk
	Inputs  []*GenerateInput
}

func (s *scriptedLLM) enqueue(chunks ...Chunk) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scripts = append(s.scripts, chunks)
}

func (s *scriptedLLM) Generate(ctx context.Context, input *GenerateInput) (<-chan Chunk, error) {
	s.mu.Lock()
	s.Inputs = append(s.Inputs, input)
	var script []Chunk
	if len(s.scripts) > 0 {
		script = s.scripts[0]
		s.scripts = s.scripts[1:]
	} else {
		script = []Chunk{&TextChunk{Content: "ok"}}
	}
	s.mu.Unlock()

	ch := make(chan Chunk, len(script))
	for _, c := range script {
		ch <- c
	}
	close(ch)
	return ch, nil
}

func (s *scriptedLLM) Close() error { return nil }

func (s *scriptedLLM) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.Inputs)
}

// stubTools returns canned results by tool name and records executions.
type stubTools struct {
	mu       sync.Mutex
	defs     []ToolDefinition
	results  map[string]*ToolResult
	Executed []models.ToolCall
}

func newStubTools(defs ...ToolDefinition) *stubTools {
	return &stubTools{defs: defs, results: map[string]*ToolResult{}}
}

func (s *stubTools) respond(name string, res *ToolResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results[name] = res
}

func (s *stubTools) ListTools(ctx context.Context, agentName string) ([]ToolDefinition, error) {
	return s.defs, nil
}

func (s *stubTools) Execute(ctx context.Context, agentName string, call models.ToolCall) (*ToolResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Executed = append(s.Executed, call)
	if res, ok := s.results[call.Name]; ok {
		out := *res
		out.CallID = call.ID
		return &out, nil
	}
	return &ToolResult{CallID: call.ID, Name: call.Name, Content: `{"data": "stub"}`}, nil
}

// stubBudget passes messages through, optionally failing with a fixed error.
type stubBudget struct {
	fitErr error
}

func (s *stubBudget) Fit(node, model string, st *models.State, msgs []models.Message) ([]models.Message, error) {
	if s.fitErr != nil {
		return nil, s.fitErr
	}
	return msgs, nil
}

func (s *stubBudget) EffectiveLimit(node, model string, st *models.State) (int, error) {
	return 10000, nil
}

func (s *stubBudget) Count(msgs []models.Message) int { return len(msgs) }

// stubPrompts produces minimal but distinguishable messages.
type stubPrompts struct{}

func (stubPrompts) CoordinatorMessages(st *models.State) []models.Message {
	return []models.Message{
		models.NewMessage(models.RoleSystem, "", "classify"),
		models.NewMessage(models.RoleUser, "", st.UserQuery()),
	}
}

func (stubPrompts) PlannerMessages(st *models.State) []models.Message {
	return []models.Message{
		models.NewMessage(models.RoleSystem, "", "plan"),
		models.NewMessage(models.RoleUser, "", st.UserQuery()),
	}
}

func (stubPrompts) ReactMessages(st *models.State, tools []ToolDefinition) []models.Message {
	return []models.Message{
		models.NewMessage(models.RoleSystem, "", "react"),
		models.NewMessage(models.RoleUser, "", st.UserQuery()),
	}
}

func (stubPrompts) WorkerMessages(node string, st *models.State, step *models.Step) []models.Message {
	return []models.Message{
		models.NewMessage(models.RoleSystem, "", "work"),
		models.NewMessage(models.RoleUser, "", step.Description),
	}
}

func (stubPrompts) ValidatorMessages(step *models.Step) []models.Message {
	return []models.Message{
		models.NewMessage(models.RoleSystem, "", "judge"),
		models.NewMessage(models.RoleUser, "", step.Title),
	}
}

func (stubPrompts) ReflectorMessages(st *models.State) []models.Message {
	return []models.Message{models.NewMessage(models.RoleUser, "", "reflect")}
}

func (stubPrompts) ReporterMessages(st *models.State) []models.Message {
	return []models.Message{models.NewMessage(models.RoleUser, "", "report")}
}

func (stubPrompts) PlanRepairMessage(rawOutput, parseErr string) models.Message {
	return models.NewMessage(models.RoleUser, "", "repair: "+parseErr)
}

// testRC bundles a RunContext with its backing fakes.
type testRC struct {
	rc     *RunContext
	llm    *scriptedLLM
	tools  *stubTools
	budget *stubBudget
	stream *events.Stream
}

func newTestRC() *testRC {
	llm := &scriptedLLM{}
	tools := newStubTools()
	bud := &stubBudget{}
	stream := events.NewStream()
	cfg := &config.Config{
		Defaults:   config.NewDefaults(),
		LLM:        &config.LLMConfig{BasicModel: "mid-chat", ReasoningModel: "reasoning"},
		ModelTable: config.NewModelTable(),
	}
	return &testRC{
		rc: &RunContext{
			RequestID: "req-1",
			ThreadID:  "thread-1",
			Config:    cfg,
			LLM:       llm,
			Tools:     tools,
			Budget:    bud,
			Prompts:   stubPrompts{},
			Stream:    stream,
		},
		llm:    llm,
		tools:  tools,
		budget: bud,
		stream: stream,
	}
}

// drainEvents collects everything currently buffered without closing the
// stream.
func (h *testRC) drainEvents() []events.Event {
	var out []events.Event
	for {
		select {
		case ev := <-h.stream.Events():
			out = append(out, ev)
		default:
			return out
		}
	}
}

func (h *testRC) eventTypes() []string {
	var out []string
	for _, ev := range h.drainEvents() {
		out = append(out, ev.Event)
	}
	return out
}

func toolCallChunk(id, name string, args map[string]any) *ToolCallChunk {
	raw := "{}"
	if len(args) > 0 {
		raw = ""
		for k, v := range args {
			if raw != "" {
				raw += ","
			}
			raw += fmt.Sprintf("%q:%q", k, v)
		}
		raw = "{" + raw + "}"
	}
	return &ToolCallChunk{CallID: id, Name: name, Arguments: raw}
}

func planJSON(stepTypes ...models.StepType) string {
	steps := ""
	for i, t := range stepTypes {
		if i > 0 {
			steps += ","
		}
		steps += fmt.Sprintf(`{"title":"step %d","description":"do part %d","step_type":%q,"need_search":false}`, i+1, i+1, t)
	}
	return fmt.Sprintf(`{"title":"test plan","thought":"reasoning","has_enough_context":false,"steps":[%s]}`, steps)
}
