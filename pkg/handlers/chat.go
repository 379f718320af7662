package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/askdb-ai/askdb-engine/pkg/adapters/datasource"
	"github.com/askdb-ai/askdb-engine/pkg/apperrors"
	"github.com/askdb-ai/askdb-engine/pkg/config"
	"github.com/askdb-ai/askdb-engine/pkg/pipeline"
)

// keepAliveInterval is how often the SSE stream emits a comment line while
// the pipeline works.
const keepAliveInterval = 15 * time.Second

// ChatHandler serves the streaming chat endpoint. It runs the full pipeline
// and emits each phase as an SSE event as soon as it completes.
type ChatHandler struct {
	pipeline *pipeline.Pipeline
	cfg      *config.Config
	logger   *zap.Logger
}

// NewChatHandler creates a new ChatHandler.
func NewChatHandler(p *pipeline.Pipeline, cfg *config.Config, logger *zap.Logger) *ChatHandler {
	return &ChatHandler{pipeline: p, cfg: cfg, logger: logger}
}

// RegisterRoutes registers the chat handler's routes on the given mux.
func (h *ChatHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /chat", h.Chat)
}

// ChatRequest is the POST /chat body.
type ChatRequest struct {
	Message   string `json:"message"`
	SessionID string `json:"session_id,omitempty"`
	Database  string `json:"database,omitempty"`
}

// sseEvent is one named event queued for the SSE writer.
type sseEvent struct {
	name string
	data any
}

// chatObserver forwards pipeline phases onto the event channel.
type chatObserver struct {
	events chan<- sseEvent
}

func (o *chatObserver) SessionReady(sessionID string) {
	o.events <- sseEvent{"session", map[string]string{"session_id": sessionID}}
}

func (o *chatObserver) SQLReady(sql string) {
	o.events <- sseEvent{"sql", map[string]string{"sql": sql}}
}

func (o *chatObserver) DataReady(columns []string, rows [][]any, totalCount int, truncated bool) {
	o.events <- sseEvent{"data", ExecuteResponse{
		Data:       rows,
		Columns:    columns,
		TotalCount: totalCountJSON(totalCount),
		Truncated:  truncated,
	}}
}

// analysisEvent is the combined interpretation payload.
type analysisEvent struct {
	Interpretation string            `json:"interpretation"`
	Visualization  *pipeline.VizSpec `json:"visualization"`
}

// Chat handles POST /chat requests over Server-Sent Events. Events arrive in
// order: session, sql, data, analysis, done; general intent skips sql and
// data; failures emit an error event followed by done.
func (h *ChatHandler) Chat(w http.ResponseWriter, r *http.Request) {
	var req ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		if err := ErrorResponse(w, http.StatusBadRequest, "invalid_request", "Invalid request body"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}
	if req.Message == "" {
		if err := ErrorResponse(w, http.StatusBadRequest, "missing_message", "Message is required"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	flusher, ok := w.(http.Flusher)
	if !ok {
		h.logger.Error("SSE not supported")
		if err := ErrorResponse(w, http.StatusInternalServerError, "sse_unsupported", "SSE not supported"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	events := make(chan sseEvent, 100)

	// Chat queries get a longer database bound than the REST default.
	ctx := r.Context()
	if secs := h.cfg.Database.ChatQueryTimeoutSeconds; secs > 0 {
		ctx = datasource.WithQueryTimeout(ctx, time.Duration(secs)*time.Second)
	}

	go func() {
		defer close(events)

		st, err := h.pipeline.Run(ctx,
			pipeline.Request{Query: req.Message, SessionID: req.SessionID},
			&chatObserver{events: events})
		if err != nil {
			// ErrorMessage is the sanitized form; raw errors can echo the
			// connection string back.
			msg := st.ErrorMessage
			if msg == "" {
				msg = err.Error()
			}
			events <- sseEvent{"error", ErrorBody{
				Error:     msg,
				ErrorCode: apperrors.CodeFor(err),
				Stage:     st.ErrorStage,
			}}
			events <- sseEvent{"done", map[string]any{}}
			return
		}

		events <- sseEvent{"analysis", analysisEvent{
			Interpretation: st.Interpretation,
			Visualization:  st.Visualization,
		}}
		events <- sseEvent{"done", map[string]any{}}
	}()

	ticker := time.NewTicker(keepAliveInterval)
	defer ticker.Stop()

	for {
		select {
		case ev, open := <-events:
			if !open {
				return
			}
			data, err := json.Marshal(ev.data)
			if err != nil {
				h.logger.Error("Failed to marshal event", zap.Error(err))
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.name, data)
			flusher.Flush()

		case <-ticker.C:
			fmt.Fprint(w, ": keep-alive\n\n")
			flusher.Flush()
		}
	}
}
