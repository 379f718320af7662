package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/askdb-ai/askdb-engine/pkg/schema"
)

// SchemaHandler serves the canonical schema overview and curated suggestions.
type SchemaHandler struct {
	canonical *schema.Schema
	logger    *zap.Logger
}

// NewSchemaHandler creates a new SchemaHandler.
func NewSchemaHandler(canonical *schema.Schema, logger *zap.Logger) *SchemaHandler {
	return &SchemaHandler{canonical: canonical, logger: logger}
}

// RegisterRoutes registers the schema handler's routes on the given mux.
func (h *SchemaHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/schema/overview", h.Overview)
	mux.HandleFunc("GET /api/suggestions", h.Suggestions)
}

// Overview handles GET /api/schema/overview requests.
func (h *SchemaHandler) Overview(w http.ResponseWriter, r *http.Request) {
	if err := WriteJSON(w, http.StatusOK, h.canonical.BuildOverview()); err != nil {
		h.logger.Error("Failed to encode schema overview", zap.Error(err))
	}
}

// SuggestionsResponse is the GET /api/suggestions shape.
type SuggestionsResponse struct {
	Suggestions []string `json:"suggestions"`
}

// Suggestions handles GET /api/suggestions requests.
func (h *SchemaHandler) Suggestions(w http.ResponseWriter, r *http.Request) {
	response := SuggestionsResponse{Suggestions: h.canonical.SuggestedQueries}
	if err := WriteJSON(w, http.StatusOK, response); err != nil {
		h.logger.Error("Failed to encode suggestions", zap.Error(err))
	}
}
