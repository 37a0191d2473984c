// Package database provides the PostgreSQL provider-credential store and
// migration utilities.
package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound indicates a lookup matched no row.
var ErrNotFound = errors.New("not found")

// Provider holds one PM provider's connection credentials, as synced through
// the provider-sync endpoint.
type Provider struct {
	ID           uuid.UUID
	ProviderType string
	BaseURL      string
	APIKey       string
	APIToken     string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Store is the pgx-backed credential and project directory.
// Safe for concurrent use — pgxpool handles connection sharing.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore connects, verifies the connection, and applies pending migrations.
func NewStore(ctx context.Context, databaseURL string) (*Store, error) {
	poolCfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database url: %w", err)
	}
	poolCfg.MaxConns = 10
	poolCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if err := runMigrations(databaseURL); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return &Store{pool: pool}, nil
}

// NewStoreFromPool wraps an existing pool without running migrations.
// Useful for tests that manage schema themselves.
func NewStoreFromPool(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Close releases the connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

// UpsertProvider stores or refreshes a provider's credentials and returns its
// stable ID. Identity is (provider_type, base_url).
func (s *Store) UpsertProvider(ctx context.Context, p *Provider) (uuid.UUID, error) {
	var id uuid.UUID
	err := s.pool.QueryRow(ctx, `
		INSERT INTO providers (provider_type, base_url, api_key, api_token)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (provider_type, base_url) DO UPDATE
		SET api_key = EXCLUDED.api_key,
		    api_token = EXCLUDED.api_token,
		    updated_at = now()
		RETURNING id`,
		p.ProviderType, p.BaseURL, p.APIKey, p.APIToken).Scan(&id)
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to upsert provider: %w", err)
	}
	return id, nil
}

// GetProvider returns one provider by ID.
func (s *Store) GetProvider(ctx context.Context, id uuid.UUID) (*Provider, error) {
	p := &Provider{}
	err := s.pool.QueryRow(ctx, `
		SELECT id, provider_type, base_url, api_key, api_token, created_at, updated_at
		FROM providers WHERE id = $1`, id).
		Scan(&p.ID, &p.ProviderType, &p.BaseURL, &p.APIKey, &p.APIToken, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("provider %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get provider: %w", err)
	}
	return p, nil
}

// ListProviders returns all stored providers, oldest first. Used by the
// startup sweep that re-syncs credentials with the tool server.
func (s *Store) ListProviders(ctx context.Context) ([]*Provider, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, provider_type, base_url, api_key, api_token, created_at, updated_at
		FROM providers ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("failed to list providers: %w", err)
	}
	defer rows.Close()

	var out []*Provider
	for rows.Next() {
		p := &Provider{}
		if err := rows.Scan(&p.ID, &p.ProviderType, &p.BaseURL, &p.APIKey, &p.APIToken, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan provider: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// UpsertProject stores or refreshes a project directory entry.
func (s *Store) UpsertProject(ctx context.Context, id string, providerID uuid.UUID, key, name string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO projects (id, provider_id, project_key, name)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE
		SET project_key = EXCLUDED.project_key,
		    name = EXCLUDED.name,
		    updated_at = now()`,
		id, providerID, key, name)
	if err != nil {
		return fmt.Errorf("failed to upsert project: %w", err)
	}
	return nil
}

// CurrentProject returns project details for the tool layer. The ID may be
// the plain project ID or the provider-qualified "uuid:key" form.
func (s *Store) CurrentProject(ctx context.Context, projectID string) (map[string]any, error) {
	var (
		id, key, name, providerType string
		providerID                  uuid.UUID
	)
	err := s.pool.QueryRow(ctx, `
		SELECT p.id, p.project_key, p.name, p.provider_id, pr.provider_type
		FROM projects p
		JOIN providers pr ON pr.id = p.provider_id
		WHERE p.id = $1 OR p.provider_id::text || ':' || p.project_key = $1`,
		projectID).
		Scan(&id, &key, &name, &providerID, &providerType)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("project %q: %w", projectID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get project: %w", err)
	}
	return map[string]any{
		"id":            id,
		"key":           key,
		"name":          name,
		"provider_id":   providerID.String(),
		"provider_type": providerType,
	}, nil
}

// ResolveProjectKey maps a human project key to its provider-qualified ID
// ("provider-uuid:key"). Ambiguous keys resolve to the most recently updated
// project.
func (s *Store) ResolveProjectKey(ctx context.Context, key string) (string, error) {
	var providerID uuid.UUID
	var projectKey string
	err := s.pool.QueryRow(ctx, `
		SELECT provider_id, project_key
		FROM projects WHERE project_key = $1
		ORDER BY updated_at DESC LIMIT 1`, key).
		Scan(&providerID, &projectKey)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", fmt.Errorf("project key %q: %w", key, ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("failed to resolve project key: %w", err)
	}
	return providerID.String() + ":" + projectKey, nil
}
