package http

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/parleydev/parley/internal/config"
	"github.com/parleydev/parley/internal/service"
)

// Handlers holds the HTTP handler dependencies.
type Handlers struct {
	Conversations *service.ConversationService
	Agents        *service.AgentService
	Analyzer      *service.AnalyzerService
	Limits        config.Limits

	// SchemaVersion reports the applied migration version. May be nil.
	SchemaVersion func(ctx context.Context) (int64, error)
}

// Health handles GET /health. When a schema reporter is wired, an
// unreachable database degrades the status instead of failing the endpoint.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{"status": "ok"}
	if h.SchemaVersion != nil {
		version, err := h.SchemaVersion(r.Context())
		if err != nil {
			slog.Warn("health: schema version check failed", "error", err)
			resp["status"] = "degraded"
		} else {
			resp["schema_version"] = version
		}
	}
	writeJSON(w, http.StatusOK, resp)
}
