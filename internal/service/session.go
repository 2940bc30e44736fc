package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/parleydev/parley/internal/adapter/groq"
	"github.com/parleydev/parley/internal/adapter/otel"
	"github.com/parleydev/parley/internal/domain/conversation"
)

// StreamCompleter is the LLM surface the agent session needs.
type StreamCompleter interface {
	StreamComplete(ctx context.Context, req groq.StreamRequest) (*groq.StreamResult, error)
}

// maxToolRounds bounds the tool loop within a single turn.
const maxToolRounds = 5

const sessionSystemPrompt = `You are a helpful assistant in an ongoing conversation.
Answer the user directly and concisely. Use the calculator tool for any
arithmetic instead of computing it yourself.`

var calculatorTool = groq.ToolDef{
	Name:        "calculator",
	Description: "Evaluate an arithmetic expression. Supports + - * / % ^ and parentheses.",
	Parameters: map[string]any{
		"type": "object",
		"properties": map[string]any{
			"expression": map[string]any{
				"type":        "string",
				"description": "The arithmetic expression to evaluate, e.g. \"(2+3)*4\".",
			},
		},
		"required": []string{"expression"},
	},
}

// SessionService runs the tool-augmented agent loop behind a websocket
// session. One turn at a time: persist the user message, replay history,
// stream the agent's answer, persist it.
type SessionService struct {
	conversations *ConversationService
	llm           StreamCompleter
	metrics       *otel.Metrics // may be nil in tests
}

// NewSessionService creates a SessionService.
func NewSessionService(conversations *ConversationService, llm StreamCompleter, metrics *otel.Metrics) *SessionService {
	return &SessionService{conversations: conversations, llm: llm, metrics: metrics}
}

// SessionStarted records the start of a websocket session.
func (s *SessionService) SessionStarted(ctx context.Context, conversationID string) {
	slog.Info("agent session started", "conversation_id", conversationID)
	if s.metrics != nil {
		s.metrics.SessionsStarted.Add(ctx, 1)
	}
}

// SessionFinished records the end of a websocket session.
func (s *SessionService) SessionFinished(ctx context.Context, conversationID string) {
	slog.Info("agent session finished", "conversation_id", conversationID)
	if s.metrics != nil {
		s.metrics.SessionsFinished.Add(ctx, 1)
	}
}

// RunTurn executes one user turn. Streamed tokens flow through onToken as
// the model produces them; the returned string is the complete answer.
func (s *SessionService) RunTurn(ctx context.Context, conversationID, content string, onToken func(string)) (string, error) {
	if strings.TrimSpace(content) == "" {
		return "", errors.New("empty message")
	}
	if conversationID == "" {
		return "", errors.New("missing conversation_id")
	}

	history, err := s.replayHistory(ctx, conversationID)
	if err != nil {
		return "", err
	}

	if _, err := s.conversations.SaveSessionMessage(ctx, conversationID, conversation.SenderUser, content); err != nil {
		return "", fmt.Errorf("save user message: %w", err)
	}

	messages := make([]groq.ChatMessage, 0, len(history)+2)
	messages = append(messages, groq.ChatMessage{Role: groq.RoleSystem, Content: sessionSystemPrompt})
	messages = append(messages, history...)
	messages = append(messages, groq.ChatMessage{Role: groq.RoleUser, Content: content})

	answer, err := s.agentLoop(ctx, messages, onToken)
	if err != nil {
		return "", err
	}

	// A stream can legitimately end with no content. Nothing to persist.
	if strings.TrimSpace(answer) == "" {
		return "", nil
	}

	if _, err := s.conversations.SaveSessionMessage(ctx, conversationID, conversation.SenderAI, answer); err != nil {
		return "", fmt.Errorf("save assistant message: %w", err)
	}
	return answer, nil
}

// replayHistory loads persisted messages in timestamp order and maps them
// to chat roles. A missing conversation yields an empty history; the save
// path logs and drops instead of failing.
func (s *SessionService) replayHistory(ctx context.Context, conversationID string) ([]groq.ChatMessage, error) {
	stored, err := s.conversations.db.ListMessages(ctx, conversationID)
	if err != nil {
		return nil, fmt.Errorf("replay history: %w", err)
	}

	history := make([]groq.ChatMessage, 0, len(stored))
	for _, m := range stored {
		role := groq.RoleUser
		if m.Sender == conversation.SenderAI {
			role = groq.RoleAssistant
		}
		history = append(history, groq.ChatMessage{Role: role, Content: m.Content})
	}
	return history, nil
}

// agentLoop streams completions with the calculator tool until the model
// produces a plain answer or the round limit is hit.
func (s *SessionService) agentLoop(ctx context.Context, messages []groq.ChatMessage, onToken func(string)) (string, error) {
	for round := 0; round < maxToolRounds; round++ {
		start := time.Now()
		result, err := s.llm.StreamComplete(ctx, groq.StreamRequest{
			Messages:    messages,
			Temperature: 0,
			Tools:       []groq.ToolDef{calculatorTool},
			OnToken:     onToken,
		})
		s.recordLLMCall(ctx, start, err)
		if err != nil {
			return "", err
		}

		if len(result.ToolCalls) == 0 {
			return result.Content, nil
		}

		messages = append(messages, groq.ChatMessage{
			Role:      groq.RoleAssistant,
			Content:   result.Content,
			ToolCalls: result.ToolCalls,
		})
		for _, call := range result.ToolCalls {
			messages = append(messages, groq.ChatMessage{
				Role:       groq.RoleTool,
				ToolCallID: call.ID,
				Content:    s.runTool(call),
			})
		}
	}
	return "", fmt.Errorf("agent exceeded %d tool rounds", maxToolRounds)
}

// runTool executes a requested tool call. Tool failures are reported back
// to the model as content so it can recover in the next round.
func (s *SessionService) runTool(call groq.ToolCall) string {
	if call.Name != calculatorTool.Name {
		return "unknown tool: " + call.Name
	}

	var args struct {
		Expression string `json:"expression"`
	}
	if err := json.Unmarshal([]byte(call.Arguments), &args); err != nil {
		return "invalid calculator arguments: " + err.Error()
	}

	value, err := Evaluate(args.Expression)
	if err != nil {
		return "calculator error: " + err.Error()
	}
	return strconv.FormatFloat(value, 'f', -1, 64)
}

func (s *SessionService) recordLLMCall(ctx context.Context, start time.Time, err error) {
	if s.metrics == nil {
		return
	}
	s.metrics.LLMCalls.Add(ctx, 1)
	s.metrics.LLMLatency.Record(ctx, time.Since(start).Seconds())
	if err != nil {
		s.metrics.LLMFailures.Add(ctx, 1)
	}
}
