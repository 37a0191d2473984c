package llm

import (
	"sort"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/pmflow/pmflow/pkg/agent"
)

// toolCallAccumulator assembles streamed tool-call fragments. Providers
// interleave argument JSON across deltas keyed by call index; consumers only
// ever see one complete ToolCallChunk per call.
type toolCallAccumulator struct {
	calls   map[int]*pendingCall
	order   []int
	flushed bool
}

type pendingCall struct {
	id   string
	name string
	args strings.Builder
}

func newToolCallAccumulator() *toolCallAccumulator {
	return &toolCallAccumulator{calls: make(map[int]*pendingCall)}
}

func (a *toolCallAccumulator) add(delta openai.ToolCall) {
	idx := 0
	if delta.Index != nil {
		idx = *delta.Index
	}
	call, ok := a.calls[idx]
	if !ok {
		call = &pendingCall{}
		a.calls[idx] = call
		a.order = append(a.order, idx)
	}
	if delta.ID != "" {
		call.id = delta.ID
	}
	if delta.Function.Name != "" {
		call.name += delta.Function.Name
	}
	call.args.WriteString(delta.Function.Arguments)
}

// flush emits accumulated calls in index order. Idempotent: the finish
// delta and EOF both call it.
func (a *toolCallAccumulator) flush(out chan<- agent.Chunk) {
	if a.flushed || len(a.calls) == 0 {
		return
	}
	a.flushed = true
	sort.Ints(a.order)
	for _, idx := range a.order {
		call := a.calls[idx]
		out <- &agent.ToolCallChunk{
			CallID:    call.id,
			Name:      call.name,
			Arguments: call.args.String(),
		}
	}
}
