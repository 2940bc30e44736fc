package groq_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/parleydev/parley/internal/adapter/groq"
	"github.com/parleydev/parley/internal/config"
	"github.com/parleydev/parley/internal/resilience"
)

func testConfig(baseURL string) config.Groq {
	return config.Groq{
		APIKey:         "test-key",
		BaseURL:        baseURL,
		ChatModel:      "llama-3.3-70b-versatile",
		EmbeddingModel: "nomic-embed-text-v1.5",
		Temperature:    0.3,
		MaxTokens:      2000,
		MaxRetries:     2,
		RequestTimeout: 5 * time.Second,
	}
}

func newTestClient(srvURL string) *groq.Client {
	return groq.NewClient(testConfig(srvURL+"/v1"), resilience.NewBreaker(5, time.Second))
}

func TestComplete(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer test-key" {
			t.Fatalf("unexpected auth: %q", auth)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"hello there"}}]}`))
	}))
	defer srv.Close()

	client := newTestClient(srv.URL)
	got, err := client.Complete(context.Background(), []groq.ChatMessage{
		{Role: groq.RoleUser, Content: "hi"},
	})
	if err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	if got != "hello there" {
		t.Fatalf("expected 'hello there', got %q", got)
	}
}

func TestCompleteRetriesTransientFailure(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = w.Write([]byte(`{"error":{"message":"upstream hiccup"}}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"recovered"}}]}`))
	}))
	defer srv.Close()

	client := newTestClient(srv.URL)
	got, err := client.Complete(context.Background(), []groq.ChatMessage{
		{Role: groq.RoleUser, Content: "hi"},
	})
	if err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	if got != "recovered" {
		t.Fatalf("expected 'recovered', got %q", got)
	}
	if calls.Load() != 2 {
		t.Fatalf("expected 2 calls, got %d", calls.Load())
	}
}

func TestCompleteOpenCircuitShortCircuits(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	breaker := resilience.NewBreaker(1, time.Minute)
	client := groq.NewClient(testConfig(srv.URL+"/v1"), breaker)

	_, err := client.Complete(context.Background(), []groq.ChatMessage{{Role: groq.RoleUser, Content: "hi"}})
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.Is(err, resilience.ErrCircuitOpen) {
		t.Fatalf("expected ErrCircuitOpen after first failure opens the circuit, got %v", err)
	}
	if calls.Load() != 1 {
		t.Fatalf("expected 1 upstream call, got %d", calls.Load())
	}
}

func TestStreamCompleteDeliversTokens(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		chunks := []string{
			`data: {"choices":[{"delta":{"content":"Hel"}}]}`,
			`data: {"choices":[{"delta":{"content":"lo"}}]}`,
			`data: [DONE]`,
		}
		for _, c := range chunks {
			_, _ = w.Write([]byte(c + "\n\n"))
		}
	}))
	defer srv.Close()

	client := newTestClient(srv.URL)
	var tokens []string
	result, err := client.StreamComplete(context.Background(), groq.StreamRequest{
		Messages: []groq.ChatMessage{{Role: groq.RoleUser, Content: "hi"}},
		OnToken:  func(tok string) { tokens = append(tokens, tok) },
	})
	if err != nil {
		t.Fatalf("StreamComplete failed: %v", err)
	}
	if result.Content != "Hello" {
		t.Fatalf("expected 'Hello', got %q", result.Content)
	}
	if len(tokens) != 2 {
		t.Fatalf("expected 2 tokens, got %d: %v", len(tokens), tokens)
	}
}

func TestStreamCompleteReassemblesToolCalls(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		chunks := []string{
			`data: {"choices":[{"delta":{"tool_calls":[{"index":0,"id":"call_1","function":{"name":"calculator","arguments":"{\"expres"}}]}}]}`,
			`data: {"choices":[{"delta":{"tool_calls":[{"index":0,"function":{"arguments":"sion\":\"2+2\"}"}}]}}]}`,
			`data: [DONE]`,
		}
		for _, c := range chunks {
			_, _ = w.Write([]byte(c + "\n\n"))
		}
	}))
	defer srv.Close()

	client := newTestClient(srv.URL)
	result, err := client.StreamComplete(context.Background(), groq.StreamRequest{
		Messages: []groq.ChatMessage{{Role: groq.RoleUser, Content: "what is 2+2"}},
	})
	if err != nil {
		t.Fatalf("StreamComplete failed: %v", err)
	}
	if len(result.ToolCalls) != 1 {
		t.Fatalf("expected 1 tool call, got %d", len(result.ToolCalls))
	}
	tc := result.ToolCalls[0]
	if tc.ID != "call_1" || tc.Name != "calculator" {
		t.Fatalf("unexpected tool call: %+v", tc)
	}
	if tc.Arguments != `{"expression":"2+2"}` {
		t.Fatalf("unexpected arguments: %q", tc.Arguments)
	}
}

func TestEmbed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/embeddings" {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"data":[{"index":0,"embedding":[0.1,0.2]},{"index":1,"embedding":[0.3,0.4]}]}`))
	}))
	defer srv.Close()

	client := newTestClient(srv.URL)
	vectors, err := client.Embed(context.Background(), []string{"a", "b"})
	if err != nil {
		t.Fatalf("Embed failed: %v", err)
	}
	if len(vectors) != 2 {
		t.Fatalf("expected 2 vectors, got %d", len(vectors))
	}
	if vectors[1][0] != 0.3 {
		t.Fatalf("unexpected vector: %v", vectors[1])
	}
}

func TestEmbedWithoutModelConfigured(t *testing.T) {
	cfg := testConfig("http://localhost:1/v1")
	cfg.EmbeddingModel = ""
	client := groq.NewClient(cfg, resilience.NewBreaker(5, time.Second))

	if client.HasEmbeddings() {
		t.Fatal("expected HasEmbeddings to be false")
	}
	if _, err := client.Embed(context.Background(), []string{"a"}); err == nil {
		t.Fatal("expected error without embedding model")
	}
}
