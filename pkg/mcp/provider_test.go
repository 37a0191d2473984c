package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQualifyAndSplitToolName(t *testing.T) {
	name := QualifyToolName("pm", "search_issues")
	assert.Equal(t, "pm__search_issues", name)

	serverID, toolName, err := SplitToolName(name)
	require.NoError(t, err)
	assert.Equal(t, "pm", serverID)
	assert.Equal(t, "search_issues", toolName)

	_, _, err = SplitToolName("no_separator_here")
	assert.Error(t, err)
}

func TestNormalizeProjectID(t *testing.T) {
	t.Run("combined form is split", func(t *testing.T) {
		args := map[string]any{
			"project_id": "7f9c24e5-2c31-4a4b-a7f6-9e0c2d11aab3:PROJ",
			"limit":      10,
		}
		out := normalizeProjectID(args)
		assert.Equal(t, "PROJ", out["project_id"])
		assert.Equal(t, "7f9c24e5-2c31-4a4b-a7f6-9e0c2d11aab3", out["provider_id"])
		assert.Equal(t, 10, out["limit"])
		// Original map untouched.
		assert.Equal(t, "7f9c24e5-2c31-4a4b-a7f6-9e0c2d11aab3:PROJ", args["project_id"])
	})

	t.Run("plain key passes through", func(t *testing.T) {
		args := map[string]any{"project_id": "PROJ"}
		out := normalizeProjectID(args)
		assert.Equal(t, "PROJ", out["project_id"])
		assert.NotContains(t, out, "provider_id")
	})

	t.Run("non-uuid prefix passes through", func(t *testing.T) {
		args := map[string]any{"project_id": "jira:PROJ"}
		out := normalizeProjectID(args)
		assert.Equal(t, "jira:PROJ", out["project_id"])
	})
}

func TestIsProviderMismatch(t *testing.T) {
	assert.True(t, isProviderMismatch(`{"error": "Provider mismatch for project PROJ"}`))
	assert.True(t, isProviderMismatch("unknown provider 7f9c24e5"))
	assert.False(t, isProviderMismatch(`{"issues": []}`))
}

func TestClassifyError(t *testing.T) {
	assert.Equal(t, NoRetry, ClassifyError(nil))
	assert.Equal(t, NoRetry, ClassifyError(context.Canceled))
	assert.Equal(t, NoRetry, ClassifyError(context.DeadlineExceeded))
	assert.Equal(t, RetryNewSession, ClassifyError(io.EOF))
	assert.Equal(t, RetryNewSession, ClassifyError(errors.New("dial tcp: connection refused")))
	assert.Equal(t, NoRetry, ClassifyError(errors.New("invalid params")))
}

func TestProviderSyncClient(t *testing.T) {
	var got ProviderSyncRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/providers/sync", r.URL.Path)
		require.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_ = json.NewEncoder(w).Encode(ProviderSyncResponse{MCPProviderID: "prov-1", Action: "updated"})
	}))
	defer srv.Close()

	c := NewProviderSyncClient(srv.URL, "secret",
		ProviderSyncRequest{ProviderType: "jira", BaseURL: "https://jira.example.com"}, nil)

	resp, err := c.Resync(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "prov-1", resp.MCPProviderID)
	assert.Equal(t, "updated", resp.Action)
	assert.Equal(t, "jira", got.ProviderType)
	assert.Equal(t, "https://jira.example.com", got.BaseURL)
}
