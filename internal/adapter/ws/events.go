package ws

import "time"

// Event type constants for broadcast WebSocket messages.
const (
	EventConversationCreated = "conversation.created"
	EventConversationEnded   = "conversation.ended"
	EventMessageSaved        = "message.saved"
)

// ConversationCreatedEvent is broadcast when a conversation is created.
type ConversationCreatedEvent struct {
	ConversationID string    `json:"conversation_id"`
	UserLabel      string    `json:"user_label"`
	Title          string    `json:"title"`
	StartTS        time.Time `json:"start_timestamp"`
}

// ConversationEndedEvent is broadcast when a conversation is ended.
type ConversationEndedEvent struct {
	ConversationID string    `json:"conversation_id"`
	EndTS          time.Time `json:"end_timestamp"`
	Summary        string    `json:"summary"`
}

// MessageSavedEvent is broadcast when a message is persisted.
type MessageSavedEvent struct {
	ConversationID string    `json:"conversation_id"`
	MessageID      string    `json:"message_id"`
	Sender         string    `json:"sender"`
	TS             time.Time `json:"timestamp"`
}
