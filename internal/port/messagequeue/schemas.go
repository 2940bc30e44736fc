package messagequeue

import "time"

// ConversationCreatedPayload is the schema for conversations.created messages.
type ConversationCreatedPayload struct {
	ConversationID string    `json:"conversation_id"`
	UserLabel      string    `json:"user_label"`
	Title          string    `json:"title"`
	StartTS        time.Time `json:"start_timestamp"`
}

// ConversationEndedPayload is the schema for conversations.ended messages.
type ConversationEndedPayload struct {
	ConversationID string    `json:"conversation_id"`
	EndTS          time.Time `json:"end_timestamp"`
	Summary        string    `json:"summary"`
}

// MessageSavedPayload is the schema for conversations.message.saved messages.
type MessageSavedPayload struct {
	ConversationID string    `json:"conversation_id"`
	MessageID      string    `json:"message_id"`
	Sender         string    `json:"sender"`
	TS             time.Time `json:"timestamp"`
}
