package http

import (
	"net/http"
	"strings"
	"time"

	"github.com/parleydev/parley/internal/domain/conversation"
)

// QueryRequest is the request body for querying past conversations.
type QueryRequest struct {
	Query      string     `json:"query"`
	MaxResults int        `json:"max_results"`
	Status     string     `json:"status"`
	DateFrom   *time.Time `json:"date_from"`
	DateTo     *time.Time `json:"date_to"`
}

// QueryConversations handles POST /api/v1/conversations/query.
// The answer is grounded in the most relevant past conversations.
func (h *Handlers) QueryConversations(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[QueryRequest](w, r, h.Limits.MaxRequestBodySize)
	if !ok {
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		writeError(w, http.StatusBadRequest, "query is required")
		return
	}
	if req.MaxResults <= 0 {
		req.MaxResults = h.Limits.QueryMaxResults
	}

	filter := conversation.ListFilter{
		Status:   conversation.Status(req.Status),
		DateFrom: req.DateFrom,
		DateTo:   req.DateTo,
	}
	candidates, err := h.Conversations.QueryCandidates(r.Context(), filter)
	if err != nil {
		writeInternalError(w, err)
		return
	}

	result, err := h.Analyzer.Query(r.Context(), req.Query, candidates, req.MaxResults)
	if err != nil {
		writeInternalError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// GetConversationInsights handles GET /api/v1/conversations/{id}/insights.
// Results are cached until the conversation changes.
func (h *Handlers) GetConversationInsights(w http.ResponseWriter, r *http.Request) {
	id := urlParam(r, "id")
	conv, err := h.Conversations.Get(r.Context(), id)
	if err != nil {
		writeDomainError(w, err, "conversation not found")
		return
	}
	messages, err := h.Conversations.ListMessages(r.Context(), id)
	if err != nil {
		writeDomainError(w, err, "conversation not found")
		return
	}

	insights, err := h.Analyzer.Insights(r.Context(), conv, messages)
	if err != nil {
		writeInternalError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, insights)
}
