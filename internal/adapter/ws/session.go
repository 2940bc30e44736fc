package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/coder/websocket"
)

// Session frame types exchanged with the interactive client.
const (
	FrameAnswer = "answer"
	FrameToken  = "token"
)

// noResponseMessage is the answer sent when a turn yields no content.
const noResponseMessage = "No response from agent"

// clientFrame is a message sent by the client. The legacy chat_id key is
// accepted as an alias for conversation_id.
type clientFrame struct {
	Message        string `json:"message"`
	ConversationID string `json:"conversation_id"`
	ChatID         string `json:"chat_id"`
}

func (f clientFrame) conversationID() string {
	if f.ConversationID != "" {
		return f.ConversationID
	}
	return f.ChatID
}

// answerFrame is the terminal reply for a turn. Errors use the same shape.
type answerFrame struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}

// tokenFrame carries one streamed content delta.
type tokenFrame struct {
	Token string `json:"token"`
	Type  string `json:"type"`
}

// SessionRunner executes one agent turn for a conversation, delivering
// streamed tokens through onToken and returning the final answer.
type SessionRunner interface {
	RunTurn(ctx context.Context, conversationID, content string, onToken func(string)) (string, error)
	SessionStarted(ctx context.Context, conversationID string)
	SessionFinished(ctx context.Context, conversationID string)
}

// SessionHandler upgrades connections and drives one agent session per socket.
type SessionHandler struct {
	runner SessionRunner
}

// NewSessionHandler creates a SessionHandler around the given runner.
func NewSessionHandler(runner SessionRunner) *SessionHandler {
	return &SessionHandler{runner: runner}
}

// HandleSession serves GET /ws. Turns are processed one at a time per
// connection; errors are reported in-band and never close the socket.
func (s *SessionHandler) HandleSession(w http.ResponseWriter, r *http.Request) {
	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true, // CORS handled by middleware
	})
	if err != nil {
		slog.Error("websocket accept failed", "error", err)
		return
	}
	defer func() { _ = ws.Close(websocket.StatusNormalClosure, "") }()

	ctx := r.Context()
	defaultConversation := r.URL.Query().Get("conversation_id")

	s.runner.SessionStarted(ctx, defaultConversation)
	defer s.runner.SessionFinished(ctx, defaultConversation)

	for {
		_, data, err := ws.Read(ctx)
		if err != nil {
			return
		}

		var frame clientFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			s.writeAnswer(ctx, ws, "Error processing message: invalid JSON frame")
			continue
		}

		conversationID := frame.conversationID()
		if conversationID == "" {
			conversationID = defaultConversation
		}

		answer, err := s.runTurn(ctx, ws, conversationID, frame.Message)
		if err != nil {
			slog.Warn("session turn failed", "conversation_id", conversationID, "error", err)
			s.writeAnswer(ctx, ws, "Error processing message: "+err.Error())
			continue
		}
		if answer == "" {
			answer = noResponseMessage
		}
		s.writeAnswer(ctx, ws, answer)
	}
}

// runTurn streams tokens to the client while the agent produces them.
// A writer goroutine drains the token channel so the LLM stream is never
// blocked on a slow socket.
func (s *SessionHandler) runTurn(ctx context.Context, ws *websocket.Conn, conversationID, content string) (string, error) {
	tokens := make(chan string, 64)
	writerDone := make(chan struct{})

	go func() {
		defer close(writerDone)
		for tok := range tokens {
			frame, err := json.Marshal(tokenFrame{Token: tok, Type: FrameToken})
			if err != nil {
				continue
			}
			if err := ws.Write(ctx, websocket.MessageText, frame); err != nil {
				slog.Debug("token write failed", "error", err)
				return
			}
		}
	}()

	answer, err := s.runner.RunTurn(ctx, conversationID, content, func(tok string) {
		select {
		case tokens <- tok:
		case <-ctx.Done():
		}
	})
	close(tokens)
	<-writerDone

	return answer, err
}

func (s *SessionHandler) writeAnswer(ctx context.Context, ws *websocket.Conn, message string) {
	frame, err := json.Marshal(answerFrame{Message: message, Type: FrameAnswer})
	if err != nil {
		return
	}
	if err := ws.Write(ctx, websocket.MessageText, frame); err != nil {
		slog.Debug("answer write failed", "error", err)
	}
}
