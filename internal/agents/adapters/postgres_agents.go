package adapters

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"agentex/internal/agents/domain"
	apierrors "agentex/internal/errors"
)

// PostgresAgentStore persists agent registry records.
type PostgresAgentStore struct {
	pool *pgxpool.Pool
}

// NewPostgresAgentStore wires the store onto an existing pool.
func NewPostgresAgentStore(pool *pgxpool.Pool) *PostgresAgentStore {
	return &PostgresAgentStore{pool: pool}
}

// EnsureSchema creates the agents table if it does not exist.
func (s *PostgresAgentStore) EnsureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS agents (
			id UUID PRIMARY KEY,
			name TEXT NOT NULL UNIQUE,
			description TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL DEFAULT 'active',
			workflow_id TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		)`)
	if err != nil {
		return fmt.Errorf("ensure agents schema: %w", err)
	}
	return nil
}

// Create inserts the agent. A duplicate name fails with ALREADY_EXISTS.
func (s *PostgresAgentStore) Create(ctx context.Context, agent domain.Agent) (domain.Agent, error) {
	now := time.Now().UTC().Truncate(time.Millisecond)
	agent.ID = uuid.NewString()
	agent.CreatedAt = now
	agent.UpdatedAt = now

	if agent.Status == "" {
		agent.Status = domain.AgentStatusActive
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO agents (id, name, description, status, workflow_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		agent.ID, agent.Name, agent.Description, agent.Status, agent.WorkflowID, agent.CreatedAt, agent.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return domain.Agent{}, apierrors.Newf(apierrors.CodeAlreadyExists, "agent %s already registered", agent.Name)
		}
		return domain.Agent{}, fmt.Errorf("insert agent: %w", err)
	}
	return agent, nil
}

// GetByName returns the agent with the given handle.
func (s *PostgresAgentStore) GetByName(ctx context.Context, name string) (domain.Agent, error) {
	var agent domain.Agent
	err := s.pool.QueryRow(ctx, `
		SELECT id, name, description, status, workflow_id, created_at, updated_at
		FROM agents WHERE name = $1`, name).
		Scan(&agent.ID, &agent.Name, &agent.Description, &agent.Status, &agent.WorkflowID, &agent.CreatedAt, &agent.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Agent{}, apierrors.Newf(apierrors.CodeNotFound, "agent %s not found", name)
	}
	if err != nil {
		return domain.Agent{}, fmt.Errorf("get agent: %w", err)
	}
	return agent, nil
}

// List returns all registered agents, ordered by name.
func (s *PostgresAgentStore) List(ctx context.Context) ([]domain.Agent, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, name, description, status, workflow_id, created_at, updated_at
		FROM agents ORDER BY name ASC`)
	if err != nil {
		return nil, fmt.Errorf("list agents: %w", err)
	}
	defer rows.Close()

	var agents []domain.Agent
	for rows.Next() {
		var agent domain.Agent
		if err := rows.Scan(&agent.ID, &agent.Name, &agent.Description, &agent.Status, &agent.WorkflowID, &agent.CreatedAt, &agent.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan agent: %w", err)
		}
		agents = append(agents, agent)
	}
	return agents, rows.Err()
}

const pgUniqueViolation = "23505"
