package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/parleydev/parley/internal/domain"
	"github.com/parleydev/parley/internal/domain/agent"
	"github.com/parleydev/parley/internal/port/database"
)

// AgentService manages the registry of client agents.
type AgentService struct {
	db database.Store
}

// NewAgentService creates a new AgentService.
func NewAgentService(db database.Store) *AgentService {
	return &AgentService{db: db}
}

// Register creates an agent. A blank token gets a generated one.
func (s *AgentService) Register(ctx context.Context, req agent.CreateRequest) (*agent.Agent, error) {
	req.Token = strings.TrimSpace(req.Token)
	if req.Name == "" {
		return nil, fmt.Errorf("agent name is required: %w", domain.ErrValidation)
	}
	return s.db.CreateAgent(ctx, req)
}

// GetByToken returns the agent with the given token.
func (s *AgentService) GetByToken(ctx context.Context, token string) (*agent.Agent, error) {
	return s.db.GetAgentByToken(ctx, token)
}

// List returns all registered agents.
func (s *AgentService) List(ctx context.Context) ([]agent.Agent, error) {
	return s.db.ListAgents(ctx)
}

// Update changes an agent's name or type.
func (s *AgentService) Update(ctx context.Context, token string, req agent.UpdateRequest) (*agent.Agent, error) {
	if req.Name == "" && req.AgentType == "" {
		return nil, fmt.Errorf("nothing to update: %w", domain.ErrValidation)
	}
	return s.db.UpdateAgent(ctx, token, req)
}

// Deactivate soft-deletes an agent. The record stays for attribution.
func (s *AgentService) Deactivate(ctx context.Context, token string) error {
	return s.db.DeactivateAgent(ctx, token)
}
