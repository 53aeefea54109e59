package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/bargn-app/pulse/internal/funnel"
	"github.com/bargn-app/pulse/internal/middleware"
)

// FunnelHandlers exposes the active funnel definitions to clients.
type FunnelHandlers struct {
	funnels *funnel.Cache
}

// NewFunnelHandlers creates a new funnel handler.
func NewFunnelHandlers(funnels *funnel.Cache) *FunnelHandlers {
	return &FunnelHandlers{funnels: funnels}
}

// FunnelsResponse represents the response for GET /api/funnels.
type FunnelsResponse struct {
	Funnels []funnel.Definition `json:"funnels"`
	Loaded  bool                `json:"loaded"`
}

// GetFunnels handles GET /api/funnels.
// Returns the cached active funnel definitions. Before the startup load
// completes (or after a failed load) the list is empty and loaded is false.
func (h *FunnelHandlers) GetFunnels(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeBadRequest)
		WriteError(w, ctx, http.StatusMethodNotAllowed, ErrCodeBadRequest, "Method not allowed")
		return
	}

	defs := h.funnels.Definitions()
	if defs == nil {
		defs = []funnel.Definition{}
	}

	response := FunnelsResponse{
		Funnels: defs,
		Loaded:  h.funnels.Loaded(),
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(response); err != nil {
		slog.ErrorContext(r.Context(), "failed to encode funnels response", "error", err)
	}
}
