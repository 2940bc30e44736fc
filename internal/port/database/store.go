// Package database defines the database store port (interface).
package database

import (
	"context"

	"github.com/parleydev/parley/internal/domain/agent"
	"github.com/parleydev/parley/internal/domain/conversation"
)

// Store is the port interface for database operations.
type Store interface {
	// Conversations
	CreateConversation(ctx context.Context, c *conversation.Conversation) (*conversation.Conversation, error)
	GetConversation(ctx context.Context, id string) (*conversation.Conversation, error)
	ListConversations(ctx context.Context, filter conversation.ListFilter) ([]conversation.Conversation, error)
	DeleteConversation(ctx context.Context, id string) error
	EndConversation(ctx context.Context, id string, summary string) (*conversation.Conversation, error)
	SetConversationTitle(ctx context.Context, id, title string) error

	// Messages
	CreateMessage(ctx context.Context, m *conversation.Message) (*conversation.Message, error)
	ListMessages(ctx context.Context, conversationID string) ([]conversation.Message, error)

	// Agents
	CreateAgent(ctx context.Context, req agent.CreateRequest) (*agent.Agent, error)
	GetAgentByToken(ctx context.Context, token string) (*agent.Agent, error)
	ListAgents(ctx context.Context) ([]agent.Agent, error)
	UpdateAgent(ctx context.Context, token string, req agent.UpdateRequest) (*agent.Agent, error)
	DeactivateAgent(ctx context.Context, token string) error
}
