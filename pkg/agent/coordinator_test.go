package agent

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pmflow/pmflow/pkg/config"
	"github.com/pmflow/pmflow/pkg/events"
	"github.com/pmflow/pmflow/pkg/models"
)

func TestCoordinatorEscalationReentrySkipsLLM(t *testing.T) {
	h := newTestRC()
	st := models.NewState("thread-1", "", "")
	st.EscalationReason = EscalationMaxIterations

	delta, err := (&Coordinator{}).Run(context.Background(), h.rc, st)
	require.NoError(t, err)
	assert.Equal(t, config.NodePlanner, delta.Goto)
	assert.Zero(t, h.llm.calls())
	assert.Empty(t, h.drainEvents())
}

func TestCoordinatorHandoff(t *testing.T) {
	h := newTestRC()
	h.llm.enqueue(&TextChunk{Content: "handoff_to_react"})
	st := models.NewState("thread-1", "", "")
	st.Messages = append(st.Messages, models.NewMessage(models.RoleUser, "", "how many open bugs in sprint 4?"))

	delta, err := (&Coordinator{}).Run(context.Background(), h.rc, st)
	require.NoError(t, err)
	assert.Equal(t, config.NodeReactAgent, delta.Goto)
	// The classification turn is buffered; the marker never reaches the stream.
	assert.Empty(t, h.drainEvents())
}

func TestCoordinatorChitChat(t *testing.T) {
	h := newTestRC()
	h.llm.enqueue(&TextChunk{Content: "You're welcome! Anything else?"})
	st := models.NewState("thread-1", "", "")
	st.Messages = append(st.Messages, models.NewMessage(models.RoleUser, "", "thanks!"))

	delta, err := (&Coordinator{}).Run(context.Background(), h.rc, st)
	require.NoError(t, err)
	assert.Equal(t, config.NodeEnd, delta.Goto)
	require.Len(t, delta.Messages, 1)
	assert.Equal(t, "You're welcome! Anything else?", delta.Messages[0].Content)

	types := h.eventTypes()
	require.Equal(t, []string{events.EventTypeMessageChunk, events.EventTypeFinishReason}, types)
}
