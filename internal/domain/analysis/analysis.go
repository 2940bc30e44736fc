// Package analysis defines the result types produced by conversation analysis.
package analysis

import "time"

// EmptySummary is returned when a conversation has no messages.
const EmptySummary = "Empty conversation."

// NoHistoryAnswer is returned when a query has no candidate conversations.
const NoHistoryAnswer = "No past conversations found to query."

// SentimentResult is the structured sentiment classification of a conversation.
type SentimentResult struct {
	Sentiment  string  `json:"sentiment"`
	Tone       string  `json:"tone"`
	Confidence float64 `json:"confidence"`
}

// NeutralSentiment returns the fallback classification with the given confidence.
func NeutralSentiment(confidence float64) SentimentResult {
	return SentimentResult{Sentiment: "neutral", Tone: "neutral", Confidence: confidence}
}

// Insights bundles the full analysis of a single conversation.
type Insights struct {
	ConversationID string          `json:"conversation_id"`
	Summary        string          `json:"summary"`
	Sentiment      SentimentResult `json:"sentiment"`
	Topics         []string        `json:"topics"`
	ActionItems    []string        `json:"action_items"`
	GeneratedAt    time.Time       `json:"generated_at"`
}

// Excerpt is a matched fragment of a past message returned with a query answer.
type Excerpt struct {
	ConversationID    string    `json:"conversation_id"`
	ConversationTitle string    `json:"conversation_title"`
	Sender            string    `json:"sender"`
	Content           string    `json:"content"`
	TS                time.Time `json:"timestamp"`
}

// ConversationRef points at a conversation related to a query answer.
type ConversationRef struct {
	ID      string    `json:"id"`
	Title   string    `json:"title"`
	StartTS time.Time `json:"start_timestamp"`
}

// QueryResult is the grounded answer over past conversations.
type QueryResult struct {
	Answer   string            `json:"answer"`
	Excerpts []Excerpt         `json:"excerpts"`
	Related  []ConversationRef `json:"related_conversations"`
}
