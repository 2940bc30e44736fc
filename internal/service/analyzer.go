package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/parleydev/parley/internal/adapter/groq"
	"github.com/parleydev/parley/internal/adapter/otel"
	"github.com/parleydev/parley/internal/domain/analysis"
	"github.com/parleydev/parley/internal/domain/conversation"
	"github.com/parleydev/parley/internal/port/cache"
)

// Completer is the LLM surface the analyzer needs.
type Completer interface {
	Complete(ctx context.Context, messages []groq.ChatMessage) (string, error)
}

const (
	maxTopics      = 10
	maxActionItems = 10
	maxExcerpts    = 10
	excerptMaxLen  = 200
)

const summarySystemPrompt = `You are an expert at analyzing conversations and creating concise summaries.
Create a clear, informative summary that captures:
1. The main topics discussed
2. Key decisions or conclusions
3. Important action items or next steps
4. Overall context and purpose of the conversation

Keep the summary concise but comprehensive (2-4 sentences).`

const sentimentSystemPrompt = `You are an expert at analyzing conversation sentiment and tone.
Analyze the conversation and provide:
1. Overall sentiment (positive, negative, neutral)
2. Tone (professional, casual, friendly, formal, etc.)
3. Confidence level (0.0 to 1.0)

Respond in JSON format: {"sentiment": "...", "tone": "...", "confidence": 0.0}`

const topicsSystemPrompt = `You are an expert at extracting key topics from conversations.
Identify the main topics discussed. Return them as a comma-separated list.
Focus on the most important and recurring themes.`

const actionItemsSystemPrompt = `You are an expert at identifying action items and decisions in conversations.
Extract any:
1. Action items (tasks to be done)
2. Decisions made
3. Next steps mentioned

Return them as a bulleted list, one per line.`

const querySystemPrompt = `You are an intelligent assistant that helps users understand their past conversations.
Based on the provided conversation histories, answer the user's question accurately and helpfully.
Include specific details and excerpts when relevant.
If the information is not available in the provided conversations, say so clearly.`

// AnalyzerService produces LLM-backed analysis of conversations.
type AnalyzerService struct {
	llm         Completer
	ranker      *Ranker
	cache       cache.Cache
	insightsTTL time.Duration
	metrics     *otel.Metrics // may be nil in tests
}

// NewAnalyzerService creates an AnalyzerService. cache may be nil to
// disable insights caching.
func NewAnalyzerService(llm Completer, ranker *Ranker, c cache.Cache, insightsTTL time.Duration, metrics *otel.Metrics) *AnalyzerService {
	return &AnalyzerService{llm: llm, ranker: ranker, cache: c, insightsTTL: insightsTTL, metrics: metrics}
}

// Summarize produces a short summary of a conversation's messages.
// Empty conversations short-circuit without an LLM call.
func (s *AnalyzerService) Summarize(ctx context.Context, messages []conversation.Message) (string, error) {
	if len(messages) == 0 {
		return analysis.EmptySummary, nil
	}

	resp, err := s.complete(ctx, summarySystemPrompt,
		"Please summarize the following conversation:\n\n"+transcript(messages))
	if err != nil {
		return "", fmt.Errorf("summarize: %w", err)
	}
	return strings.TrimSpace(resp), nil
}

// Sentiment classifies the sentiment and tone of a conversation.
// An unparsable LLM response degrades to neutral with confidence 0.5.
func (s *AnalyzerService) Sentiment(ctx context.Context, messages []conversation.Message) (analysis.SentimentResult, error) {
	if len(messages) == 0 {
		return analysis.NeutralSentiment(0.0), nil
	}

	resp, err := s.complete(ctx, sentimentSystemPrompt,
		"Analyze the sentiment and tone of this conversation:\n\n"+transcript(messages))
	if err != nil {
		return analysis.SentimentResult{}, fmt.Errorf("sentiment: %w", err)
	}

	var result analysis.SentimentResult
	if err := json.Unmarshal([]byte(stripCodeFence(resp)), &result); err != nil {
		slog.Warn("sentiment response not parseable, defaulting to neutral",
			"error", err, "raw", resp)
		return analysis.NeutralSentiment(0.5), nil
	}
	return result, nil
}

// Topics extracts up to 10 key topics from a conversation.
func (s *AnalyzerService) Topics(ctx context.Context, messages []conversation.Message) ([]string, error) {
	if len(messages) == 0 {
		return nil, nil
	}

	resp, err := s.complete(ctx, topicsSystemPrompt,
		"Extract the key topics from this conversation:\n\n"+transcript(messages))
	if err != nil {
		return nil, fmt.Errorf("topics: %w", err)
	}

	var topics []string
	for _, t := range strings.Split(strings.TrimSpace(resp), ",") {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		topics = append(topics, t)
		if len(topics) == maxTopics {
			break
		}
	}
	return topics, nil
}

// ActionItems extracts up to 10 action items and decisions from a conversation.
func (s *AnalyzerService) ActionItems(ctx context.Context, messages []conversation.Message) ([]string, error) {
	if len(messages) == 0 {
		return nil, nil
	}

	resp, err := s.complete(ctx, actionItemsSystemPrompt,
		"Extract action items and decisions from this conversation:\n\n"+transcript(messages))
	if err != nil {
		return nil, fmt.Errorf("action items: %w", err)
	}

	var items []string
	for _, line := range strings.Split(strings.TrimSpace(resp), "\n") {
		line = strings.TrimSpace(line)
		line = strings.TrimPrefix(line, "- ")
		line = strings.TrimPrefix(line, "* ")
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		items = append(items, line)
		if len(items) == maxActionItems {
			break
		}
	}
	return items, nil
}

// Insights runs the full analysis for one conversation. Results are cached
// keyed by conversation id and updated_at, so writes invalidate naturally.
func (s *AnalyzerService) Insights(ctx context.Context, conv *conversation.Conversation, messages []conversation.Message) (*analysis.Insights, error) {
	key := fmt.Sprintf("insights:%s:%d", conv.ID, conv.UpdatedAt.UnixNano())
	if s.cache != nil {
		if data, ok, err := s.cache.Get(ctx, key); err == nil && ok {
			var cached analysis.Insights
			if err := json.Unmarshal(data, &cached); err == nil {
				if s.metrics != nil {
					s.metrics.InsightsCacheHits.Add(ctx, 1)
				}
				return &cached, nil
			}
		}
	}

	summary, err := s.Summarize(ctx, messages)
	if err != nil {
		return nil, err
	}
	sentiment, err := s.Sentiment(ctx, messages)
	if err != nil {
		return nil, err
	}
	topics, err := s.Topics(ctx, messages)
	if err != nil {
		return nil, err
	}
	actionItems, err := s.ActionItems(ctx, messages)
	if err != nil {
		return nil, err
	}

	result := &analysis.Insights{
		ConversationID: conv.ID,
		Summary:        summary,
		Sentiment:      sentiment,
		Topics:         topics,
		ActionItems:    actionItems,
		GeneratedAt:    time.Now().UTC(),
	}

	if s.cache != nil {
		if data, err := json.Marshal(result); err == nil {
			_ = s.cache.Set(ctx, key, data, s.insightsTTL)
		}
	}
	return result, nil
}

// Query answers a question grounded in past conversations. An empty
// candidate set short-circuits without an LLM call.
func (s *AnalyzerService) Query(ctx context.Context, query string, candidates []RankCandidate, maxResults int) (*analysis.QueryResult, error) {
	if len(candidates) == 0 {
		slog.Warn("query over empty conversation history", "query", query)
		return &analysis.QueryResult{
			Answer:   analysis.NoHistoryAnswer,
			Excerpts: []analysis.Excerpt{},
			Related:  []analysis.ConversationRef{},
		}, nil
	}

	relevant := s.ranker.Rank(ctx, query, candidates, maxResults)

	var blocks []string
	for _, rc := range relevant {
		block := fmt.Sprintf("Conversation ID: %s\nTitle: %s\nDate: %s\nMessages:\n%s\n",
			rc.Conversation.ID, rc.Conversation.Title,
			rc.Conversation.StartTS.Format(transcriptTimeLayout),
			transcript(rc.Messages))
		blocks = append(blocks, block)
	}

	answer, err := s.complete(ctx, querySystemPrompt,
		fmt.Sprintf("User Question: %s\n\nPast Conversations:\n\n%s\n\nPlease answer the user's question based on these conversations.",
			query, strings.Join(blocks, "\n\n---\n\n")))
	if err != nil {
		return nil, fmt.Errorf("query conversations: %w", err)
	}

	result := &analysis.QueryResult{
		Answer:   strings.TrimSpace(answer),
		Excerpts: extractExcerpts(query, relevant),
		Related:  make([]analysis.ConversationRef, 0, len(relevant)),
	}
	for _, rc := range relevant {
		result.Related = append(result.Related, analysis.ConversationRef{
			ID:      rc.Conversation.ID,
			Title:   rc.Conversation.Title,
			StartTS: rc.Conversation.StartTS,
		})
	}
	return result, nil
}

func (s *AnalyzerService) complete(ctx context.Context, system, user string) (string, error) {
	return s.llm.Complete(ctx, []groq.ChatMessage{
		{Role: groq.RoleSystem, Content: system},
		{Role: groq.RoleUser, Content: user},
	})
}

const transcriptTimeLayout = "2006-01-02 15:04:05"

// transcript renders messages one per line as "[sender at timestamp]: content".
func transcript(messages []conversation.Message) string {
	lines := make([]string, 0, len(messages))
	for _, m := range messages {
		lines = append(lines, fmt.Sprintf("[%s at %s]: %s",
			m.Sender, m.TS.Format(transcriptTimeLayout), m.Content))
	}
	return strings.Join(lines, "\n")
}

// extractExcerpts picks messages containing any query token, truncated to
// 200 characters, at most 10 across all conversations.
func extractExcerpts(query string, relevant []RankedConversation) []analysis.Excerpt {
	tokens := strings.Fields(strings.ToLower(query))
	excerpts := []analysis.Excerpt{}

	for _, rc := range relevant {
		for _, m := range rc.Messages {
			content := strings.ToLower(m.Content)
			matched := false
			for _, tok := range tokens {
				if strings.Contains(content, tok) {
					matched = true
					break
				}
			}
			if !matched {
				continue
			}
			excerpts = append(excerpts, analysis.Excerpt{
				ConversationID:    rc.Conversation.ID,
				ConversationTitle: rc.Conversation.Title,
				Sender:            string(m.Sender),
				Content:           truncate(m.Content, excerptMaxLen),
				TS:                m.TS,
			})
			if len(excerpts) == maxExcerpts {
				return excerpts
			}
		}
	}
	return excerpts
}

func truncate(s string, maxLen int) string {
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen])
}

// stripCodeFence removes a surrounding markdown code fence if present.
func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
