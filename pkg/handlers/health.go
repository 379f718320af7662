package handlers

import (
	"net/http"
	"os"
	"runtime"

	"go.uber.org/zap"

	"github.com/askdb-ai/askdb-engine/pkg/adapters/datasource"
	"github.com/askdb-ai/askdb-engine/pkg/config"
	"github.com/askdb-ai/askdb-engine/pkg/sqlcache"
)

// HealthResponse is the GET /health shape.
type HealthResponse struct {
	Status            string `json:"status"`
	CacheSize         int    `json:"cache_size"`
	DatabaseConnected bool   `json:"database_connected"`
	SchemaID          string `json:"schema_id"`
}

// PingResponse contains service status and version information.
type PingResponse struct {
	Status      string `json:"status"`
	Version     string `json:"version"`
	Service     string `json:"service"`
	GoVersion   string `json:"go_version"`
	Hostname    string `json:"hostname"`
	Environment string `json:"environment"`
}

// HealthHandler handles health check and ping endpoints.
type HealthHandler struct {
	cfg     *config.Config
	cache   *sqlcache.Cache
	adapter datasource.Adapter
	logger  *zap.Logger
}

// NewHealthHandler creates a new HealthHandler.
func NewHealthHandler(cfg *config.Config, cache *sqlcache.Cache, adapter datasource.Adapter, logger *zap.Logger) *HealthHandler {
	return &HealthHandler{cfg: cfg, cache: cache, adapter: adapter, logger: logger}
}

// RegisterRoutes registers the health handler's routes on the given mux.
func (h *HealthHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", h.Health)
	mux.HandleFunc("GET /ping", h.Ping)
}

// Health handles GET /health requests.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	size, err := h.cache.Size(r.Context())
	if err != nil {
		h.logger.Warn("cache size lookup failed", zap.Error(err))
	}

	// A trivial capped count doubles as a connectivity probe.
	_, dbErr := h.adapter.Count(r.Context(), "SELECT 1", 1)

	status := "ok"
	if dbErr != nil {
		status = "degraded"
	}

	response := HealthResponse{
		Status:            status,
		CacheSize:         size,
		DatabaseConnected: dbErr == nil,
		SchemaID:          h.cfg.SchemaID,
	}
	if err := WriteJSON(w, http.StatusOK, response); err != nil {
		h.logger.Error("Failed to encode health response", zap.Error(err))
	}
}

// Ping handles GET /ping requests.
// Returns detailed service information including version and environment.
func (h *HealthHandler) Ping(w http.ResponseWriter, r *http.Request) {
	hostname, err := os.Hostname()
	if err != nil {
		http.Error(w, "failed to get hostname", http.StatusInternalServerError)
		return
	}

	response := PingResponse{
		Status:      "ok",
		Version:     h.cfg.Version,
		Service:     "askdb-engine",
		GoVersion:   runtime.Version(),
		Hostname:    hostname,
		Environment: h.cfg.Env,
	}
	if err := WriteJSON(w, http.StatusOK, response); err != nil {
		h.logger.Error("Failed to encode ping response", zap.Error(err))
	}
}
