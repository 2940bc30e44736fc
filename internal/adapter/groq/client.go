// Package groq provides the LLM client for Groq's OpenAI-compatible API.
package groq

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/parleydev/parley/internal/config"
	"github.com/parleydev/parley/internal/resilience"
)

// Role constants for chat messages.
const (
	RoleSystem    = openai.ChatMessageRoleSystem
	RoleUser      = openai.ChatMessageRoleUser
	RoleAssistant = openai.ChatMessageRoleAssistant
	RoleTool      = openai.ChatMessageRoleTool
)

// ChatMessage is a single turn in a chat completion request.
type ChatMessage struct {
	Role       string
	Content    string
	ToolCallID string     // set on tool result messages
	ToolCalls  []ToolCall // set on assistant messages that requested tools
}

// ToolCall is a tool invocation requested by the model.
type ToolCall struct {
	ID        string
	Name      string
	Arguments string
}

// ToolDef describes a tool exposed to the model.
type ToolDef struct {
	Name        string
	Description string
	Parameters  map[string]any
}

// StreamRequest is a streaming chat completion request.
type StreamRequest struct {
	Messages    []ChatMessage
	Temperature float32
	Tools       []ToolDef
	// OnToken receives each content delta as it arrives. May be nil.
	OnToken func(token string)
}

// StreamResult is the accumulated outcome of a streamed completion.
type StreamResult struct {
	Content   string
	ToolCalls []ToolCall
}

// Client wraps the OpenAI-compatible Groq API with a circuit breaker and retries.
type Client struct {
	api            *openai.Client
	chatModel      string
	embeddingModel string
	temperature    float32
	maxTokens      int
	maxRetries     int
	breaker        *resilience.Breaker
}

// NewClient creates a Groq client from config.
func NewClient(cfg config.Groq, breaker *resilience.Breaker) *Client {
	apiCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		apiCfg.BaseURL = cfg.BaseURL
	}
	apiCfg.HTTPClient = &http.Client{Timeout: cfg.RequestTimeout}

	return &Client{
		api:            openai.NewClientWithConfig(apiCfg),
		chatModel:      cfg.ChatModel,
		embeddingModel: cfg.EmbeddingModel,
		temperature:    cfg.Temperature,
		maxTokens:      cfg.MaxTokens,
		maxRetries:     cfg.MaxRetries,
		breaker:        breaker,
	}
}

// Model returns the configured chat model name.
func (c *Client) Model() string {
	return c.chatModel
}

// HasEmbeddings reports whether an embedding model is configured.
func (c *Client) HasEmbeddings() bool {
	return c.embeddingModel != ""
}

// Complete runs a non-streaming chat completion using the configured
// temperature and token limit.
func (c *Client) Complete(ctx context.Context, messages []ChatMessage) (string, error) {
	req := openai.ChatCompletionRequest{
		Model:       c.chatModel,
		Messages:    toAPIMessages(messages),
		Temperature: c.temperature,
		MaxTokens:   c.maxTokens,
	}

	var resp openai.ChatCompletionResponse
	err := c.withRetry(ctx, func() error {
		var callErr error
		resp, callErr = c.api.CreateChatCompletion(ctx, req)
		return callErr
	})
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("chat completion: empty response")
	}
	return resp.Choices[0].Message.Content, nil
}

// StreamComplete runs a streaming chat completion, delivering content deltas
// through req.OnToken and reassembling any tool calls from the stream.
func (c *Client) StreamComplete(ctx context.Context, req StreamRequest) (*StreamResult, error) {
	apiReq := openai.ChatCompletionRequest{
		Model:       c.chatModel,
		Messages:    toAPIMessages(req.Messages),
		Temperature: req.Temperature,
		MaxTokens:   c.maxTokens,
		Stream:      true,
		Tools:       toAPITools(req.Tools),
	}

	var result *StreamResult
	err := c.withRetry(ctx, func() error {
		var callErr error
		result, callErr = c.streamOnce(ctx, apiReq, req.OnToken)
		return callErr
	})
	if err != nil {
		return nil, fmt.Errorf("stream completion: %w", err)
	}
	return result, nil
}

func (c *Client) streamOnce(ctx context.Context, req openai.ChatCompletionRequest, onToken func(string)) (*StreamResult, error) {
	stream, err := c.api.CreateChatCompletionStream(ctx, req)
	if err != nil {
		return nil, err
	}
	defer stream.Close()

	result := &StreamResult{}
	// Tool call fragments arrive keyed by index; arguments come in pieces.
	pending := map[int]*ToolCall{}

	for {
		chunk, recvErr := stream.Recv()
		if errors.Is(recvErr, io.EOF) {
			break
		}
		if recvErr != nil {
			return nil, recvErr
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		delta := chunk.Choices[0].Delta

		if delta.Content != "" {
			result.Content += delta.Content
			if onToken != nil {
				onToken(delta.Content)
			}
		}

		for _, tc := range delta.ToolCalls {
			idx := 0
			if tc.Index != nil {
				idx = *tc.Index
			}
			call, ok := pending[idx]
			if !ok {
				call = &ToolCall{}
				pending[idx] = call
			}
			if tc.ID != "" {
				call.ID = tc.ID
			}
			if tc.Function.Name != "" {
				call.Name = tc.Function.Name
			}
			call.Arguments += tc.Function.Arguments
		}
	}

	for i := 0; i < len(pending); i++ {
		if call, ok := pending[i]; ok {
			result.ToolCalls = append(result.ToolCalls, *call)
		}
	}
	return result, nil
}

// Embed returns one embedding vector per input text, in order.
func (c *Client) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if !c.HasEmbeddings() {
		return nil, errors.New("embeddings: no embedding model configured")
	}

	var resp openai.EmbeddingResponse
	err := c.withRetry(ctx, func() error {
		var callErr error
		resp, callErr = c.api.CreateEmbeddings(ctx, openai.EmbeddingRequest{
			Model: openai.EmbeddingModel(c.embeddingModel),
			Input: texts,
		})
		return callErr
	})
	if err != nil {
		return nil, fmt.Errorf("embeddings: %w", err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("embeddings: expected %d vectors, got %d", len(texts), len(resp.Data))
	}

	vectors := make([][]float32, len(resp.Data))
	for i, d := range resp.Data {
		vectors[i] = d.Embedding
	}
	return vectors, nil
}

// withRetry runs fn through the circuit breaker, retrying transient failures
// up to maxRetries times with a short backoff. An open circuit aborts early.
func (c *Client) withRetry(ctx context.Context, fn func() error) error {
	var err error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			slog.Debug("llm retry", "attempt", attempt)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Duration(attempt) * 500 * time.Millisecond):
			}
		}
		err = c.breaker.Execute(fn)
		if err == nil {
			return nil
		}
		if errors.Is(err, resilience.ErrCircuitOpen) || ctx.Err() != nil {
			return err
		}
	}
	return err
}

func toAPIMessages(messages []ChatMessage) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, m := range messages {
		apiMsg := openai.ChatCompletionMessage{
			Role:       m.Role,
			Content:    m.Content,
			ToolCallID: m.ToolCallID,
		}
		for _, tc := range m.ToolCalls {
			apiMsg.ToolCalls = append(apiMsg.ToolCalls, openai.ToolCall{
				ID:   tc.ID,
				Type: openai.ToolTypeFunction,
				Function: openai.FunctionCall{
					Name:      tc.Name,
					Arguments: tc.Arguments,
				},
			})
		}
		out = append(out, apiMsg)
	}
	return out
}

func toAPITools(tools []ToolDef) []openai.Tool {
	if len(tools) == 0 {
		return nil
	}
	out := make([]openai.Tool, 0, len(tools))
	for _, t := range tools {
		out = append(out, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Parameters,
			},
		})
	}
	return out
}
