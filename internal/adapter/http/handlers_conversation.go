package http

import (
	"net/http"

	"github.com/parleydev/parley/internal/domain/conversation"
)

// CreateConversation handles POST /api/v1/conversations
func (h *Handlers) CreateConversation(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[conversation.CreateRequest](w, r, h.Limits.MaxRequestBodySize)
	if !ok {
		return
	}
	conv, err := h.Conversations.Create(r.Context(), req)
	if err != nil {
		writeDomainError(w, err, "create conversation")
		return
	}
	writeJSON(w, http.StatusCreated, conv)
}

// ListConversations handles GET /api/v1/conversations
func (h *Handlers) ListConversations(w http.ResponseWriter, r *http.Request) {
	filter, ok := listFilterFromQuery(w, r)
	if !ok {
		return
	}
	conversations, err := h.Conversations.List(r.Context(), filter)
	if err != nil {
		writeInternalError(w, err)
		return
	}
	if conversations == nil {
		conversations = []conversation.Conversation{}
	}
	writeJSON(w, http.StatusOK, conversations)
}

// GetConversation handles GET /api/v1/conversations/{id}
func (h *Handlers) GetConversation(w http.ResponseWriter, r *http.Request) {
	id := urlParam(r, "id")
	conv, err := h.Conversations.Get(r.Context(), id)
	if err != nil {
		writeDomainError(w, err, "conversation not found")
		return
	}
	writeJSON(w, http.StatusOK, conv)
}

// DeleteConversation handles DELETE /api/v1/conversations/{id}
func (h *Handlers) DeleteConversation(w http.ResponseWriter, r *http.Request) {
	id := urlParam(r, "id")
	if err := h.Conversations.Delete(r.Context(), id); err != nil {
		writeDomainError(w, err, "conversation not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// EndConversation handles POST /api/v1/conversations/{id}/end.
// Ending an already ended conversation yields 409.
func (h *Handlers) EndConversation(w http.ResponseWriter, r *http.Request) {
	id := urlParam(r, "id")
	conv, err := h.Conversations.End(r.Context(), id)
	if err != nil {
		writeDomainError(w, err, "conversation not found")
		return
	}
	writeJSON(w, http.StatusOK, conv)
}

// ListConversationMessages handles GET /api/v1/conversations/{id}/messages
func (h *Handlers) ListConversationMessages(w http.ResponseWriter, r *http.Request) {
	id := urlParam(r, "id")
	messages, err := h.Conversations.ListMessages(r.Context(), id)
	if err != nil {
		writeDomainError(w, err, "conversation not found")
		return
	}
	if messages == nil {
		messages = []conversation.Message{}
	}
	writeJSON(w, http.StatusOK, messages)
}

// SendConversationMessage handles POST /api/v1/conversations/{id}/messages
func (h *Handlers) SendConversationMessage(w http.ResponseWriter, r *http.Request) {
	id := urlParam(r, "id")
	req, ok := readJSON[conversation.SendMessageRequest](w, r, h.Limits.MaxRequestBodySize)
	if !ok {
		return
	}
	msg, err := h.Conversations.SendMessage(r.Context(), id, req)
	if err != nil {
		writeDomainError(w, err, "conversation not found")
		return
	}
	writeJSON(w, http.StatusCreated, msg)
}

// listFilterFromQuery builds a conversation filter from query parameters.
func listFilterFromQuery(w http.ResponseWriter, r *http.Request) (conversation.ListFilter, bool) {
	var filter conversation.ListFilter

	if status := r.URL.Query().Get("status"); status != "" {
		s := conversation.Status(status)
		if s != conversation.StatusActive && s != conversation.StatusEnded {
			writeError(w, http.StatusBadRequest, "status must be ACTIVE or ENDED")
			return filter, false
		}
		filter.Status = s
	}

	from, err := parseTimeParam(r.URL.Query().Get("date_from"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return filter, false
	}
	to, err := parseTimeParam(r.URL.Query().Get("date_to"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return filter, false
	}
	filter.DateFrom = from
	filter.DateTo = to
	return filter, true
}
