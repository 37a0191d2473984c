package database

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// newTestStore creates a store with CI/local environment detection.
// In CI (CI_DATABASE_URL set): connects to the external PostgreSQL service.
// In local dev: spins up a PostgreSQL testcontainer.
func newTestStore(t *testing.T) *Store {
	ctx := context.Background()

	connStr := os.Getenv("CI_DATABASE_URL")
	if connStr == "" {
		t.Log("Using testcontainers for PostgreSQL")
		pgContainer, err := postgres.Run(ctx,
			"postgres:16-alpine",
			postgres.WithDatabase("test"),
			postgres.WithUsername("test"),
			postgres.WithPassword("test"),
			testcontainers.WithWaitStrategy(
				wait.ForLog("database system is ready to accept connections").
					WithOccurrence(2).
					WithStartupTimeout(30*time.Second)),
		)
		require.NoError(t, err)
		t.Cleanup(func() {
			if err := testcontainers.TerminateContainer(pgContainer); err != nil {
				t.Logf("failed to terminate container: %v", err)
			}
		})

		connStr, err = pgContainer.ConnectionString(ctx, "sslmode=disable")
		require.NoError(t, err)
	}

	store, err := NewStore(ctx, connStr)
	require.NoError(t, err)
	t.Cleanup(store.Close)
	return store
}

func TestProviderRoundtrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	id, err := store.UpsertProvider(ctx, &Provider{
		ProviderType: "jira",
		BaseURL:      "https://example.atlassian.net",
		APIKey:       "user@example.com",
		APIToken:     "token-1",
	})
	require.NoError(t, err)
	require.NotEqual(t, uuid.Nil, id)

	got, err := store.GetProvider(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "jira", got.ProviderType)
	assert.Equal(t, "token-1", got.APIToken)

	// Same identity updates credentials in place.
	id2, err := store.UpsertProvider(ctx, &Provider{
		ProviderType: "jira",
		BaseURL:      "https://example.atlassian.net",
		APIToken:     "token-2",
	})
	require.NoError(t, err)
	assert.Equal(t, id, id2)

	got, err = store.GetProvider(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "token-2", got.APIToken)

	providers, err := store.ListProviders(ctx)
	require.NoError(t, err)
	assert.Len(t, providers, 1)
}

func TestGetProviderNotFound(t *testing.T) {
	store := newTestStore(t)
	_, err := store.GetProvider(context.Background(), uuid.New())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestProjectDirectory(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	providerID, err := store.UpsertProvider(ctx, &Provider{
		ProviderType: "jira",
		BaseURL:      "https://example.atlassian.net",
	})
	require.NoError(t, err)

	require.NoError(t, store.UpsertProject(ctx, "proj-1", providerID, "PROJ", "Project One"))

	t.Run("current project by id", func(t *testing.T) {
		info, err := store.CurrentProject(ctx, "proj-1")
		require.NoError(t, err)
		assert.Equal(t, "PROJ", info["key"])
		assert.Equal(t, "Project One", info["name"])
		assert.Equal(t, providerID.String(), info["provider_id"])
	})

	t.Run("current project by qualified id", func(t *testing.T) {
		info, err := store.CurrentProject(ctx, providerID.String()+":PROJ")
		require.NoError(t, err)
		assert.Equal(t, "proj-1", info["id"])
	})

	t.Run("resolve key", func(t *testing.T) {
		id, err := store.ResolveProjectKey(ctx, "PROJ")
		require.NoError(t, err)
		assert.Equal(t, providerID.String()+":PROJ", id)
	})

	t.Run("unknown key", func(t *testing.T) {
		_, err := store.ResolveProjectKey(ctx, "NOPE")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestHealth(t *testing.T) {
	store := newTestStore(t)
	status, err := store.Health(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "healthy", status.Status)
	assert.GreaterOrEqual(t, status.TotalConns, int32(0))
}
