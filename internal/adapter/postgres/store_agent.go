package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/parleydev/parley/internal/domain"
	"github.com/parleydev/parley/internal/domain/agent"
)

const agentColumns = `id, token, name, agent_type, is_active, created_at, updated_at`

func scanAgent(row scannable) (agent.Agent, error) {
	var a agent.Agent
	err := row.Scan(&a.ID, &a.Token, &a.Name, &a.AgentType, &a.IsActive, &a.CreatedAt, &a.UpdatedAt)
	return a, err
}

func (s *Store) CreateAgent(ctx context.Context, req agent.CreateRequest) (*agent.Agent, error) {
	token := req.Token
	if token == "" {
		token = agent.NewToken()
	}

	row := s.pool.QueryRow(ctx,
		`INSERT INTO agents (token, name, agent_type) VALUES ($1, $2, $3)
		 RETURNING `+agentColumns, token, req.Name, req.AgentType)

	a, err := scanAgent(row)
	if err != nil {
		return nil, fmt.Errorf("create agent: %w", err)
	}
	return &a, nil
}

func (s *Store) GetAgentByToken(ctx context.Context, token string) (*agent.Agent, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+agentColumns+` FROM agents WHERE token = $1`, token)

	a, err := scanAgent(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("get agent %s: %w", token, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("get agent %s: %w", token, err)
	}
	return &a, nil
}

func (s *Store) ListAgents(ctx context.Context) ([]agent.Agent, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+agentColumns+` FROM agents ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list agents: %w", err)
	}
	defer rows.Close()

	var result []agent.Agent
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan agent: %w", err)
		}
		result = append(result, a)
	}
	return result, rows.Err()
}

func (s *Store) UpdateAgent(ctx context.Context, token string, req agent.UpdateRequest) (*agent.Agent, error) {
	row := s.pool.QueryRow(ctx,
		`UPDATE agents SET
			name = COALESCE(NULLIF($2, ''), name),
			agent_type = COALESCE(NULLIF($3, ''), agent_type),
			updated_at = NOW()
		 WHERE token = $1
		 RETURNING `+agentColumns, token, req.Name, req.AgentType)

	a, err := scanAgent(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("update agent %s: %w", token, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("update agent %s: %w", token, err)
	}
	return &a, nil
}

// DeactivateAgent soft-deletes an agent by flipping is_active off.
// The row is kept so past sessions remain attributable.
func (s *Store) DeactivateAgent(ctx context.Context, token string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE agents SET is_active = FALSE, updated_at = NOW() WHERE token = $1`, token)
	if err != nil {
		return fmt.Errorf("deactivate agent %s: %w", token, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("deactivate agent %s: %w", token, domain.ErrNotFound)
	}
	return nil
}
