// Package conversation defines the conversation and message domain types.
package conversation

import (
	"encoding/json"
	"time"
)

// Status of a conversation lifecycle.
type Status string

const (
	StatusActive Status = "ACTIVE"
	StatusEnded  Status = "ENDED"
)

// Sender identifies who produced a message.
type Sender string

const (
	SenderUser Sender = "USER"
	SenderAI   Sender = "AI"
)

// TitleMaxRunes is the length at which auto-derived titles are cut.
const TitleMaxRunes = 50

// Conversation represents a chat thread.
type Conversation struct {
	ID        string     `json:"id"`
	UserLabel string     `json:"user_label"`
	Title     string     `json:"title"`
	Status    Status     `json:"status"`
	StartTS   time.Time  `json:"start_timestamp"`
	EndTS     *time.Time `json:"end_timestamp,omitempty"`
	Summary   string     `json:"summary,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`

	// MessageCount is populated on list/get reads, not stored.
	MessageCount int `json:"message_count"`
}

// Duration returns the elapsed time between start and end for ended
// conversations, zero otherwise.
func (c *Conversation) Duration() time.Duration {
	if c.EndTS == nil {
		return 0
	}
	return c.EndTS.Sub(c.StartTS)
}

// MarshalJSON adds duration_seconds for ended conversations.
func (c Conversation) MarshalJSON() ([]byte, error) {
	type alias Conversation
	out := struct {
		alias
		DurationSeconds float64 `json:"duration_seconds,omitempty"`
	}{alias: alias(c)}
	if c.EndTS != nil {
		out.DurationSeconds = c.EndTS.Sub(c.StartTS).Seconds()
	}
	return json.Marshal(out)
}

// Ended reports whether the conversation has been closed.
func (c *Conversation) Ended() bool {
	return c.Status == StatusEnded
}

// Message represents a single message in a conversation.
type Message struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	Sender         Sender    `json:"sender"`
	Content        string    `json:"content"`
	TS             time.Time `json:"timestamp"`
	CreatedAt      time.Time `json:"created_at"`
}

// CreateRequest is the request body for creating a new conversation.
type CreateRequest struct {
	UserLabel string `json:"user_label"`
	Title     string `json:"title"`
}

// SendMessageRequest is the request body for sending a message.
type SendMessageRequest struct {
	Sender  Sender `json:"sender"`
	Content string `json:"content"`
}

// ListFilter narrows conversation listings and ranking candidates.
type ListFilter struct {
	Status   Status     `json:"status,omitempty"`
	DateFrom *time.Time `json:"date_from,omitempty"`
	DateTo   *time.Time `json:"date_to,omitempty"`
}

// DeriveTitle produces a conversation title from the first user message,
// cut at TitleMaxRunes.
func DeriveTitle(content string) string {
	runes := []rune(content)
	if len(runes) <= TitleMaxRunes {
		return content
	}
	return string(runes[:TitleMaxRunes])
}
