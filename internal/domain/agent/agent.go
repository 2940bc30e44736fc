// Package agent defines the registered-agent domain type.
package agent

import (
	"time"

	"github.com/google/uuid"
)

// Agent is a registered client identity. Each agent holds a unique token
// used to attribute websocket sessions.
type Agent struct {
	ID        string    `json:"id"`
	Token     string    `json:"token"`
	Name      string    `json:"name"`
	AgentType string    `json:"agent_type"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// CreateRequest is the request body for registering an agent.
type CreateRequest struct {
	Token     string `json:"token,omitempty"`
	Name      string `json:"name"`
	AgentType string `json:"agent_type"`
}

// UpdateRequest is the request body for updating an agent.
type UpdateRequest struct {
	Name      string `json:"name,omitempty"`
	AgentType string `json:"agent_type,omitempty"`
}

// NewToken generates a fresh agent token.
func NewToken() string {
	return "a_" + uuid.NewString()
}
