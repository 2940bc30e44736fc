package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/parleydev/parley/internal/adapter/otel"
	"github.com/parleydev/parley/internal/adapter/ws"
	"github.com/parleydev/parley/internal/domain"
	"github.com/parleydev/parley/internal/domain/conversation"
	"github.com/parleydev/parley/internal/port/broadcast"
	"github.com/parleydev/parley/internal/port/database"
	"github.com/parleydev/parley/internal/port/messagequeue"
)

// Summarizer produces a summary of a conversation's messages. Satisfied by
// AnalyzerService.
type Summarizer interface {
	Summarize(ctx context.Context, messages []conversation.Message) (string, error)
}

// ConversationService manages conversation and message lifecycle.
type ConversationService struct {
	db         database.Store
	hub        broadcast.Broadcaster
	queue      messagequeue.Queue // may be nil when NATS is not configured
	summarizer Summarizer
	metrics    *otel.Metrics // may be nil in tests
}

// NewConversationService creates a new ConversationService.
func NewConversationService(db database.Store, hub broadcast.Broadcaster, queue messagequeue.Queue, summarizer Summarizer, metrics *otel.Metrics) *ConversationService {
	return &ConversationService{db: db, hub: hub, queue: queue, summarizer: summarizer, metrics: metrics}
}

// Create starts a new conversation.
func (s *ConversationService) Create(ctx context.Context, req conversation.CreateRequest) (*conversation.Conversation, error) {
	c := &conversation.Conversation{
		UserLabel: req.UserLabel,
		Title:     strings.TrimSpace(req.Title),
	}

	created, err := s.db.CreateConversation(ctx, c)
	if err != nil {
		return nil, fmt.Errorf("create conversation: %w", err)
	}

	s.hub.BroadcastEvent(ctx, ws.EventConversationCreated, ws.ConversationCreatedEvent{
		ConversationID: created.ID,
		UserLabel:      created.UserLabel,
		Title:          created.Title,
		StartTS:        created.StartTS,
	})
	s.publish(ctx, messagequeue.SubjectConversationCreated, messagequeue.ConversationCreatedPayload{
		ConversationID: created.ID,
		UserLabel:      created.UserLabel,
		Title:          created.Title,
		StartTS:        created.StartTS,
	})

	return created, nil
}

// Get returns a conversation by ID.
func (s *ConversationService) Get(ctx context.Context, id string) (*conversation.Conversation, error) {
	return s.db.GetConversation(ctx, id)
}

// List returns conversations matching the filter.
func (s *ConversationService) List(ctx context.Context, filter conversation.ListFilter) ([]conversation.Conversation, error) {
	return s.db.ListConversations(ctx, filter)
}

// Delete removes a conversation and, via cascade, its messages.
func (s *ConversationService) Delete(ctx context.Context, id string) error {
	return s.db.DeleteConversation(ctx, id)
}

// End closes an active conversation and stores a summary of its transcript.
// Ending an already ended conversation returns domain.ErrConflict.
// Summarization failure does not fail the end operation.
func (s *ConversationService) End(ctx context.Context, id string) (*conversation.Conversation, error) {
	conv, err := s.db.GetConversation(ctx, id)
	if err != nil {
		return nil, err
	}
	if conv.Ended() {
		return nil, fmt.Errorf("end conversation %s: already ended: %w", id, domain.ErrConflict)
	}

	summary := ""
	if s.summarizer != nil {
		messages, listErr := s.db.ListMessages(ctx, id)
		if listErr != nil {
			slog.Warn("end conversation: listing messages for summary failed", "conversation_id", id, "error", listErr)
		} else if summary, err = s.summarizer.Summarize(ctx, messages); err != nil {
			slog.Warn("end conversation: summary generation failed", "conversation_id", id, "error", err)
			summary, err = "", nil
		}
	}

	ended, err := s.db.EndConversation(ctx, id, summary)
	if err != nil {
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.ConversationsEnd.Add(ctx, 1)
	}
	s.hub.BroadcastEvent(ctx, ws.EventConversationEnded, ws.ConversationEndedEvent{
		ConversationID: ended.ID,
		EndTS:          *ended.EndTS,
		Summary:        ended.Summary,
	})
	s.publish(ctx, messagequeue.SubjectConversationEnded, messagequeue.ConversationEndedPayload{
		ConversationID: ended.ID,
		EndTS:          *ended.EndTS,
		Summary:        ended.Summary,
	})

	return ended, nil
}

// SendMessage validates and persists a message. Messages to ended
// conversations are rejected with domain.ErrConflict; empty content with
// domain.ErrValidation. The first user message titles the conversation.
func (s *ConversationService) SendMessage(ctx context.Context, conversationID string, req conversation.SendMessageRequest) (*conversation.Message, error) {
	content := strings.TrimSpace(req.Content)
	if content == "" {
		return nil, fmt.Errorf("message content must not be empty: %w", domain.ErrValidation)
	}
	sender := req.Sender
	if sender == "" {
		sender = conversation.SenderUser
	}
	if sender != conversation.SenderUser && sender != conversation.SenderAI {
		return nil, fmt.Errorf("sender must be USER or AI: %w", domain.ErrValidation)
	}

	conv, err := s.db.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if conv.Ended() {
		return nil, fmt.Errorf("conversation %s has ended: %w", conversationID, domain.ErrConflict)
	}

	msg, err := s.db.CreateMessage(ctx, &conversation.Message{
		ConversationID: conversationID,
		Sender:         sender,
		Content:        req.Content,
	})
	if err != nil {
		return nil, fmt.Errorf("store message: %w", err)
	}

	if sender == conversation.SenderUser && conv.Title == "" && conv.MessageCount == 0 {
		title := conversation.DeriveTitle(content)
		if err := s.db.SetConversationTitle(ctx, conversationID, title); err != nil {
			slog.Warn("auto-title failed", "conversation_id", conversationID, "error", err)
		}
	}

	s.recordSaved(ctx, msg)
	return msg, nil
}

// SaveSessionMessage persists a message produced inside an agent session.
// A missing conversation is dropped silently with a warning so the session
// keeps running.
func (s *ConversationService) SaveSessionMessage(ctx context.Context, conversationID string, sender conversation.Sender, content string) (*conversation.Message, error) {
	msg, err := s.SendMessage(ctx, conversationID, conversation.SendMessageRequest{
		Sender:  sender,
		Content: content,
	})
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			slog.Warn("session message dropped: conversation does not exist",
				"conversation_id", conversationID, "sender", sender)
			return nil, nil
		}
		return nil, err
	}
	return msg, nil
}

// ListMessages returns all messages in a conversation, oldest first.
func (s *ConversationService) ListMessages(ctx context.Context, conversationID string) ([]conversation.Message, error) {
	if _, err := s.db.GetConversation(ctx, conversationID); err != nil {
		return nil, err
	}
	return s.db.ListMessages(ctx, conversationID)
}

// queryLoadConcurrency bounds parallel message loads per query.
const queryLoadConcurrency = 8

// QueryCandidates loads conversations matching the filter that have at
// least one message, with their messages, for ranking. Message histories
// are loaded concurrently.
func (s *ConversationService) QueryCandidates(ctx context.Context, filter conversation.ListFilter) ([]RankCandidate, error) {
	convs, err := s.db.ListConversations(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("query candidates: %w", err)
	}

	loaded := make([]RankCandidate, len(convs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(queryLoadConcurrency)
	for i := range convs {
		if convs[i].MessageCount == 0 {
			continue
		}
		g.Go(func() error {
			messages, err := s.db.ListMessages(gctx, convs[i].ID)
			if err != nil {
				return fmt.Errorf("query candidates: %w", err)
			}
			loaded[i] = RankCandidate{Conversation: convs[i], Messages: messages}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var candidates []RankCandidate
	for i := range loaded {
		if loaded[i].Conversation.ID != "" {
			candidates = append(candidates, loaded[i])
		}
	}
	return candidates, nil
}

func (s *ConversationService) recordSaved(ctx context.Context, msg *conversation.Message) {
	if s.metrics != nil {
		s.metrics.MessagesSaved.Add(ctx, 1)
	}
	s.hub.BroadcastEvent(ctx, ws.EventMessageSaved, ws.MessageSavedEvent{
		ConversationID: msg.ConversationID,
		MessageID:      msg.ID,
		Sender:         string(msg.Sender),
		TS:             msg.TS,
	})
	s.publish(ctx, messagequeue.SubjectMessageSaved, messagequeue.MessageSavedPayload{
		ConversationID: msg.ConversationID,
		MessageID:      msg.ID,
		Sender:         string(msg.Sender),
		TS:             msg.TS,
	})
}

// publish sends a lifecycle payload to the queue when one is configured.
func (s *ConversationService) publish(ctx context.Context, subject string, payload any) {
	if s.queue == nil {
		return
	}
	data, err := json.Marshal(payload)
	if err != nil {
		slog.Error("marshal queue payload", "subject", subject, "error", err)
		return
	}
	if err := s.queue.Publish(ctx, subject, data); err != nil {
		slog.Warn("queue publish failed", "subject", subject, "error", err)
	}
}
