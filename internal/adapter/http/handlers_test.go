package http_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/parleydev/parley/internal/adapter/groq"
	parleyhttp "github.com/parleydev/parley/internal/adapter/http"
	"github.com/parleydev/parley/internal/config"
	"github.com/parleydev/parley/internal/domain"
	"github.com/parleydev/parley/internal/domain/agent"
	"github.com/parleydev/parley/internal/domain/analysis"
	"github.com/parleydev/parley/internal/domain/conversation"
	"github.com/parleydev/parley/internal/port/database"
	"github.com/parleydev/parley/internal/service"
)

// memStore implements database.Store for handler tests.
type memStore struct {
	mu     sync.Mutex
	seq    int
	convs  map[string]*conversation.Conversation
	msgs   map[string][]conversation.Message
	agents map[string]*agent.Agent
}

var _ database.Store = (*memStore)(nil)

func newMemStore() *memStore {
	return &memStore{
		convs:  make(map[string]*conversation.Conversation),
		msgs:   make(map[string][]conversation.Message),
		agents: make(map[string]*agent.Agent),
	}
}

func (m *memStore) nextID(prefix string) string {
	m.seq++
	return fmt.Sprintf("%s-%d", prefix, m.seq)
}

func (m *memStore) CreateConversation(_ context.Context, c *conversation.Conversation) (*conversation.Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now().UTC()
	stored := *c
	stored.ID = m.nextID("conv")
	stored.Status = conversation.StatusActive
	stored.StartTS = now
	stored.CreatedAt = now
	stored.UpdatedAt = now
	m.convs[stored.ID] = &stored
	out := stored
	return &out, nil
}

func (m *memStore) GetConversation(_ context.Context, id string) (*conversation.Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.convs[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	out := *c
	out.MessageCount = len(m.msgs[id])
	return &out, nil
}

func (m *memStore) ListConversations(_ context.Context, filter conversation.ListFilter) ([]conversation.Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []conversation.Conversation
	for id, c := range m.convs {
		if filter.Status != "" && c.Status != filter.Status {
			continue
		}
		cc := *c
		cc.MessageCount = len(m.msgs[id])
		out = append(out, cc)
	}
	return out, nil
}

func (m *memStore) DeleteConversation(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.convs[id]; !ok {
		return domain.ErrNotFound
	}
	delete(m.convs, id)
	delete(m.msgs, id)
	return nil
}

func (m *memStore) EndConversation(_ context.Context, id, summary string) (*conversation.Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.convs[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	if c.Status == conversation.StatusEnded {
		return nil, domain.ErrConflict
	}
	now := time.Now().UTC()
	c.Status = conversation.StatusEnded
	c.EndTS = &now
	c.Summary = summary
	out := *c
	return &out, nil
}

func (m *memStore) SetConversationTitle(_ context.Context, id, title string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.convs[id]
	if !ok {
		return domain.ErrNotFound
	}
	c.Title = title
	return nil
}

func (m *memStore) CreateMessage(_ context.Context, msg *conversation.Message) (*conversation.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.convs[msg.ConversationID]; !ok {
		return nil, domain.ErrNotFound
	}
	now := time.Now().UTC()
	stored := *msg
	stored.ID = m.nextID("msg")
	stored.TS = now
	stored.CreatedAt = now
	m.msgs[msg.ConversationID] = append(m.msgs[msg.ConversationID], stored)
	m.convs[msg.ConversationID].UpdatedAt = now
	out := stored
	return &out, nil
}

func (m *memStore) ListMessages(_ context.Context, conversationID string) ([]conversation.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]conversation.Message(nil), m.msgs[conversationID]...), nil
}

func (m *memStore) CreateAgent(_ context.Context, req agent.CreateRequest) (*agent.Agent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	token := req.Token
	if token == "" {
		token = agent.NewToken()
	}
	if _, exists := m.agents[token]; exists {
		return nil, domain.ErrConflict
	}
	a := &agent.Agent{
		ID:        m.nextID("agent"),
		Token:     token,
		Name:      req.Name,
		AgentType: req.AgentType,
		IsActive:  true,
	}
	m.agents[token] = a
	out := *a
	return &out, nil
}

func (m *memStore) GetAgentByToken(_ context.Context, token string) (*agent.Agent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.agents[token]
	if !ok {
		return nil, domain.ErrNotFound
	}
	out := *a
	return &out, nil
}

func (m *memStore) ListAgents(_ context.Context) ([]agent.Agent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []agent.Agent
	for _, a := range m.agents {
		out = append(out, *a)
	}
	return out, nil
}

func (m *memStore) UpdateAgent(_ context.Context, token string, req agent.UpdateRequest) (*agent.Agent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.agents[token]
	if !ok {
		return nil, domain.ErrNotFound
	}
	if req.Name != "" {
		a.Name = req.Name
	}
	if req.AgentType != "" {
		a.AgentType = req.AgentType
	}
	out := *a
	return &out, nil
}

func (m *memStore) DeactivateAgent(_ context.Context, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.agents[token]
	if !ok {
		return domain.ErrNotFound
	}
	a.IsActive = false
	return nil
}

type nopBroadcaster struct{}

func (nopBroadcaster) BroadcastEvent(context.Context, string, any) {}

// stubCompleter answers every completion with a fixed string.
type stubCompleter struct {
	resp  string
	calls int
}

func (s *stubCompleter) Complete(_ context.Context, _ []groq.ChatMessage) (string, error) {
	s.calls++
	return s.resp, nil
}

func newTestRouter(store *memStore, llm service.Completer) chi.Router {
	if llm == nil {
		llm = &stubCompleter{resp: "ok"}
	}
	analyzer := service.NewAnalyzerService(llm, service.NewRanker(nil, nil), nil, 0, nil)
	conversations := service.NewConversationService(store, nopBroadcaster{}, nil, analyzer, nil)
	agents := service.NewAgentService(store)

	h := &parleyhttp.Handlers{
		Conversations: conversations,
		Agents:        agents,
		Analyzer:      analyzer,
		Limits:        config.Defaults().Limits,
	}
	r := chi.NewRouter()
	parleyhttp.MountRoutes(r, h)
	return r
}

func doRequest(t *testing.T, r chi.Router, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestCreateAndGetConversation(t *testing.T) {
	r := newTestRouter(newMemStore(), nil)

	rec := doRequest(t, r, http.MethodPost, "/api/v1/conversations", conversation.CreateRequest{UserLabel: "alice", Title: "Billing"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d, body = %s", rec.Code, rec.Body)
	}
	var created conversation.Conversation
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if created.Status != conversation.StatusActive {
		t.Errorf("status = %q, want ACTIVE", created.Status)
	}

	rec = doRequest(t, r, http.MethodGet, "/api/v1/conversations/"+created.ID, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get status = %d", rec.Code)
	}
}

func TestGetConversationNotFound(t *testing.T) {
	r := newTestRouter(newMemStore(), nil)

	rec := doRequest(t, r, http.MethodGet, "/api/v1/conversations/missing", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestListConversationsEmptyIsArray(t *testing.T) {
	r := newTestRouter(newMemStore(), nil)

	rec := doRequest(t, r, http.MethodGet, "/api/v1/conversations", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if got := strings.TrimSpace(rec.Body.String()); got != "[]" {
		t.Errorf("body = %q, want empty JSON array", got)
	}
}

func TestListConversationsInvalidStatus(t *testing.T) {
	r := newTestRouter(newMemStore(), nil)

	rec := doRequest(t, r, http.MethodGet, "/api/v1/conversations?status=OPEN", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestSendMessageValidation(t *testing.T) {
	store := newMemStore()
	r := newTestRouter(store, nil)
	conv, _ := store.CreateConversation(context.Background(), &conversation.Conversation{})

	rec := doRequest(t, r, http.MethodPost, "/api/v1/conversations/"+conv.ID+"/messages",
		conversation.SendMessageRequest{Content: "   "})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400 for empty content", rec.Code)
	}
}

func TestSendMessageToEndedConversation(t *testing.T) {
	store := newMemStore()
	r := newTestRouter(store, nil)
	conv, _ := store.CreateConversation(context.Background(), &conversation.Conversation{})

	rec := doRequest(t, r, http.MethodPost, "/api/v1/conversations/"+conv.ID+"/end", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("end status = %d", rec.Code)
	}

	rec = doRequest(t, r, http.MethodPost, "/api/v1/conversations/"+conv.ID+"/messages",
		conversation.SendMessageRequest{Content: "too late"})
	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409 for ended conversation", rec.Code)
	}
}

func TestEndConversationTwice(t *testing.T) {
	store := newMemStore()
	r := newTestRouter(store, nil)
	conv, _ := store.CreateConversation(context.Background(), &conversation.Conversation{})

	if rec := doRequest(t, r, http.MethodPost, "/api/v1/conversations/"+conv.ID+"/end", nil); rec.Code != http.StatusOK {
		t.Fatalf("first end status = %d", rec.Code)
	}
	if rec := doRequest(t, r, http.MethodPost, "/api/v1/conversations/"+conv.ID+"/end", nil); rec.Code != http.StatusConflict {
		t.Fatalf("second end status = %d, want 409", rec.Code)
	}
}

func TestQueryRequiresQuery(t *testing.T) {
	r := newTestRouter(newMemStore(), nil)

	rec := doRequest(t, r, http.MethodPost, "/api/v1/conversations/query", parleyhttp.QueryRequest{})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestQueryWithoutHistory(t *testing.T) {
	llm := &stubCompleter{resp: "should not be used"}
	r := newTestRouter(newMemStore(), llm)

	rec := doRequest(t, r, http.MethodPost, "/api/v1/conversations/query",
		parleyhttp.QueryRequest{Query: "what did we decide"})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body)
	}
	var result analysis.QueryResult
	if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if result.Answer != analysis.NoHistoryAnswer {
		t.Errorf("answer = %q, want %q", result.Answer, analysis.NoHistoryAnswer)
	}
	if llm.calls != 0 {
		t.Errorf("llm calls = %d, want 0 with empty history", llm.calls)
	}
}

func TestQueryReturnsGroundedAnswer(t *testing.T) {
	store := newMemStore()
	llm := &stubCompleter{resp: "You agreed to ship Friday."}
	r := newTestRouter(store, llm)

	conv, _ := store.CreateConversation(context.Background(), &conversation.Conversation{Title: "Release"})
	if _, err := store.CreateMessage(context.Background(), &conversation.Message{
		ConversationID: conv.ID, Sender: conversation.SenderUser, Content: "when do we ship",
	}); err != nil {
		t.Fatalf("seed message: %v", err)
	}

	rec := doRequest(t, r, http.MethodPost, "/api/v1/conversations/query",
		parleyhttp.QueryRequest{Query: "ship", MaxResults: 3})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body)
	}
	var result analysis.QueryResult
	if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if result.Answer != "You agreed to ship Friday." {
		t.Errorf("answer = %q", result.Answer)
	}
	if len(result.Related) != 1 {
		t.Errorf("related = %+v, want one conversation", result.Related)
	}
}

func TestInsightsEndpoint(t *testing.T) {
	store := newMemStore()
	r := newTestRouter(store, &stubCompleter{resp: "fine"})

	conv, _ := store.CreateConversation(context.Background(), &conversation.Conversation{})
	if _, err := store.CreateMessage(context.Background(), &conversation.Message{
		ConversationID: conv.ID, Sender: conversation.SenderUser, Content: "hello",
	}); err != nil {
		t.Fatalf("seed message: %v", err)
	}

	rec := doRequest(t, r, http.MethodGet, "/api/v1/conversations/"+conv.ID+"/insights", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body)
	}
	var insights analysis.Insights
	if err := json.Unmarshal(rec.Body.Bytes(), &insights); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if insights.ConversationID != conv.ID {
		t.Errorf("conversation_id = %q, want %q", insights.ConversationID, conv.ID)
	}
}

func TestAgentLifecycle(t *testing.T) {
	r := newTestRouter(newMemStore(), nil)

	rec := doRequest(t, r, http.MethodPost, "/api/v1/agents", agent.CreateRequest{Name: "reporting bot", AgentType: "cli"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("register status = %d, body = %s", rec.Code, rec.Body)
	}
	var created agent.Agent
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !strings.HasPrefix(created.Token, "a_") {
		t.Errorf("token = %q, want generated a_ prefix", created.Token)
	}

	rec = doRequest(t, r, http.MethodPut, "/api/v1/agents/"+created.Token, agent.UpdateRequest{Name: "renamed"})
	if rec.Code != http.StatusOK {
		t.Fatalf("update status = %d", rec.Code)
	}

	rec = doRequest(t, r, http.MethodDelete, "/api/v1/agents/"+created.Token, nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("deactivate status = %d", rec.Code)
	}

	// Soft delete: still retrievable, flagged inactive.
	rec = doRequest(t, r, http.MethodGet, "/api/v1/agents/"+created.Token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get after deactivate status = %d", rec.Code)
	}
	var got agent.Agent
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.IsActive {
		t.Error("IsActive = true after deactivate")
	}
}

func TestRegisterAgentRequiresName(t *testing.T) {
	r := newTestRouter(newMemStore(), nil)

	rec := doRequest(t, r, http.MethodPost, "/api/v1/agents", agent.CreateRequest{})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestHealthReportsSchemaVersion(t *testing.T) {
	h := &parleyhttp.Handlers{
		SchemaVersion: func(context.Context) (int64, error) { return 3, nil },
	}
	rec := httptest.NewRecorder()
	h.Health(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("status = %v, want ok", body["status"])
	}
	if body["schema_version"] != float64(3) {
		t.Errorf("schema_version = %v, want 3", body["schema_version"])
	}
}

func TestHealthDegradedWhenSchemaCheckFails(t *testing.T) {
	h := &parleyhttp.Handlers{
		SchemaVersion: func(context.Context) (int64, error) { return 0, fmt.Errorf("connection refused") },
	}
	rec := httptest.NewRecorder()
	h.Health(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if body["status"] != "degraded" {
		t.Errorf("status = %v, want degraded", body["status"])
	}
	if _, present := body["schema_version"]; present {
		t.Error("schema_version should be omitted when the check fails")
	}
}
