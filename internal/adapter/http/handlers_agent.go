package http

import (
	"net/http"

	"github.com/parleydev/parley/internal/domain/agent"
)

// RegisterAgent handles POST /api/v1/agents
func (h *Handlers) RegisterAgent(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[agent.CreateRequest](w, r, h.Limits.MaxRequestBodySize)
	if !ok {
		return
	}
	created, err := h.Agents.Register(r.Context(), req)
	if err != nil {
		writeDomainError(w, err, "register agent")
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

// ListAgents handles GET /api/v1/agents
func (h *Handlers) ListAgents(w http.ResponseWriter, r *http.Request) {
	agents, err := h.Agents.List(r.Context())
	if err != nil {
		writeInternalError(w, err)
		return
	}
	if agents == nil {
		agents = []agent.Agent{}
	}
	writeJSON(w, http.StatusOK, agents)
}

// GetAgent handles GET /api/v1/agents/{token}
func (h *Handlers) GetAgent(w http.ResponseWriter, r *http.Request) {
	token := urlParam(r, "token")
	a, err := h.Agents.GetByToken(r.Context(), token)
	if err != nil {
		writeDomainError(w, err, "agent not found")
		return
	}
	writeJSON(w, http.StatusOK, a)
}

// UpdateAgent handles PUT /api/v1/agents/{token}
func (h *Handlers) UpdateAgent(w http.ResponseWriter, r *http.Request) {
	token := urlParam(r, "token")
	req, ok := readJSON[agent.UpdateRequest](w, r, h.Limits.MaxRequestBodySize)
	if !ok {
		return
	}
	a, err := h.Agents.Update(r.Context(), token, req)
	if err != nil {
		writeDomainError(w, err, "agent not found")
		return
	}
	writeJSON(w, http.StatusOK, a)
}

// DeactivateAgent handles DELETE /api/v1/agents/{token}.
// Agents are soft-deleted so past sessions keep their attribution.
func (h *Handlers) DeactivateAgent(w http.ResponseWriter, r *http.Request) {
	token := urlParam(r, "token")
	if err := h.Agents.Deactivate(r.Context(), token); err != nil {
		writeDomainError(w, err, "agent not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
