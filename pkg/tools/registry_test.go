package tools

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pmflow/pmflow/pkg/config"
	"github.com/pmflow/pmflow/pkg/events"
	"github.com/pmflow/pmflow/pkg/models"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	return NewRegistry(config.NewDefaults(), nil)
}

func echoTool(name string) Tool {
	return Tool{
		Name:        name,
		Description: "echoes its input",
		Schema: `{
			"type": "object",
			"properties": {"text": {"type": "string"}},
			"required": ["text"]
		}`,
		Handler: func(_ context.Context, args map[string]any) (string, error) {
			s, _ := args["text"].(string)
			return s, nil
		},
	}
}

func errorKind(t *testing.T, content string) string {
	t.Helper()
	var payload map[string]string
	require.NoError(t, json.Unmarshal([]byte(content), &payload))
	return payload["kind"]
}

func TestRegistryListTools(t *testing.T) {
	r := newTestRegistry(t)
	require.NoError(t, r.Register(echoTool("zeta")))
	require.NoError(t, r.Register(echoTool("alpha"), config.NodePMAgent))

	t.Run("allow-list filters by agent", func(t *testing.T) {
		defs, err := r.ListTools(context.Background(), config.NodeResearcher)
		require.NoError(t, err)
		require.Len(t, defs, 1)
		assert.Equal(t, "zeta", defs[0].Name)
	})

	t.Run("sorted by name", func(t *testing.T) {
		defs, err := r.ListTools(context.Background(), config.NodePMAgent)
		require.NoError(t, err)
		require.Len(t, defs, 2)
		assert.Equal(t, "alpha", defs[0].Name)
		assert.Equal(t, "zeta", defs[1].Name)
	})
}

func TestRegistryExecuteValidation(t *testing.T) {
	r := newTestRegistry(t)
	require.NoError(t, r.Register(echoTool("echo"), config.NodePMAgent))

	tests := []struct {
		name  string
		agent string
		call  models.ToolCall
	}{
		{
			name:  "unknown tool name",
			agent: config.NodePMAgent,
			call:  models.ToolCall{ID: "c1", Name: "echo(text)", Arguments: map[string]any{"text": "hi"}},
		},
		{
			name:  "agent not on allow-list",
			agent: config.NodeCoder,
			call:  models.ToolCall{ID: "c2", Name: "echo", Arguments: map[string]any{"text": "hi"}},
		},
		{
			name:  "unparseable arguments",
			agent: config.NodePMAgent,
			call:  models.ToolCall{ID: "c3", Name: "echo", Arguments: map[string]any{"_raw": "{broken"}},
		},
		{
			name:  "placeholder value equal to key",
			agent: config.NodePMAgent,
			call:  models.ToolCall{ID: "c4", Name: "echo", Arguments: map[string]any{"text": "text"}},
		},
		{
			name:  "angle bracket placeholder",
			agent: config.NodePMAgent,
			call:  models.ToolCall{ID: "c5", Name: "echo", Arguments: map[string]any{"text": "<project id>"}},
		},
		{
			name:  "schema violation",
			agent: config.NodePMAgent,
			call:  models.ToolCall{ID: "c6", Name: "echo", Arguments: map[string]any{"wrong": "field"}},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			res, err := r.Execute(context.Background(), tc.agent, tc.call)
			require.NoError(t, err)
			assert.True(t, res.IsError)
			assert.Equal(t, events.ErrKindToolValidation, errorKind(t, res.Content))
			assert.Equal(t, tc.call.ID, res.CallID)
		})
	}
}

func TestRegistryExecuteSuccess(t *testing.T) {
	r := newTestRegistry(t)
	require.NoError(t, r.Register(echoTool("echo")))

	res, err := r.Execute(context.Background(), config.NodeResearcher,
		models.ToolCall{ID: "c1", Name: "echo", Arguments: map[string]any{"text": "hello"}})
	require.NoError(t, err)
	assert.False(t, res.IsError)
	assert.Equal(t, "hello", res.Content)
	assert.Equal(t, "echo", res.Name)
}

func TestRegistryExecuteRemoteError(t *testing.T) {
	r := newTestRegistry(t)
	require.NoError(t, r.Register(Tool{
		Name: "broken",
		Handler: func(context.Context, map[string]any) (string, error) {
			return "", errors.New("HTTP 502 from upstream")
		},
	}))

	res, err := r.Execute(context.Background(), config.NodeResearcher,
		models.ToolCall{ID: "c1", Name: "broken", Arguments: map[string]any{}})
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.Equal(t, events.ErrKindToolRemote, errorKind(t, res.Content))
	assert.Contains(t, res.Content, "HTTP 502")
}

func TestRegistryExecuteTimeout(t *testing.T) {
	cfg := config.NewDefaults()
	cfg.ToolCallTimeout = 20 * time.Millisecond
	r := NewRegistry(cfg, nil)
	require.NoError(t, r.Register(Tool{
		Name: "slow",
		Handler: func(ctx context.Context, _ map[string]any) (string, error) {
			<-ctx.Done()
			return "", ctx.Err()
		},
	}))

	res, err := r.Execute(context.Background(), config.NodeResearcher,
		models.ToolCall{ID: "c1", Name: "slow", Arguments: map[string]any{}})
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.Equal(t, events.ErrKindToolTimeout, errorKind(t, res.Content))
}

func TestRegistryExecuteRequestCancellation(t *testing.T) {
	r := newTestRegistry(t)
	require.NoError(t, r.Register(Tool{
		Name: "blocked",
		Handler: func(ctx context.Context, _ map[string]any) (string, error) {
			<-ctx.Done()
			return "", ctx.Err()
		},
	}))

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	_, err := r.Execute(ctx, config.NodeResearcher,
		models.ToolCall{ID: "c1", Name: "blocked", Arguments: map[string]any{}})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRegisterRejectsBadSchema(t *testing.T) {
	r := newTestRegistry(t)
	err := r.Register(Tool{Name: "bad", Schema: "{not json"})
	assert.Error(t, err)
}

func TestFindPlaceholderArg(t *testing.T) {
	_, _, found := findPlaceholderArg(map[string]any{"project_id": "abc-123"})
	assert.False(t, found)

	key, _, found := findPlaceholderArg(map[string]any{"project_id": "{{project_id}}"})
	assert.True(t, found)
	assert.Equal(t, "project_id", key)
}
