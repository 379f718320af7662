package handlers

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/askdb-ai/askdb-engine/pkg/adapters/datasource"
	"github.com/askdb-ai/askdb-engine/pkg/apperrors"
	"github.com/askdb-ai/askdb-engine/pkg/config"
	"github.com/askdb-ai/askdb-engine/pkg/pipeline"
)

// requestTimeout bounds one REST request end to end.
const requestTimeout = 120 * time.Second

// QueryHandler serves the four-step REST workflow: generate, execute,
// interpret, download, plus feedback.
type QueryHandler struct {
	pipeline *pipeline.Pipeline
	cfg      *config.Config
	logger   *zap.Logger
}

// NewQueryHandler creates a new QueryHandler.
func NewQueryHandler(p *pipeline.Pipeline, cfg *config.Config, logger *zap.Logger) *QueryHandler {
	return &QueryHandler{pipeline: p, cfg: cfg, logger: logger}
}

// RegisterRoutes registers the query handler's routes on the given mux.
func (h *QueryHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/generate-sql", h.GenerateSQL)
	mux.HandleFunc("GET /api/execute/{query_id}", h.Execute)
	mux.HandleFunc("POST /api/interpret/{query_id}", h.Interpret)
	mux.HandleFunc("GET /api/download/{query_id}", h.Download)
	mux.HandleFunc("POST /api/feedback", h.Feedback)
}

// GenerateSQLRequest is the POST /api/generate-sql body.
type GenerateSQLRequest struct {
	Query     string `json:"query"`
	SessionID string `json:"session_id,omitempty"`
}

// GenerateSQLResponse is the POST /api/generate-sql shape. SQL is null when
// the intent is general.
type GenerateSQLResponse struct {
	QueryID       string  `json:"query_id,omitempty"`
	SQL           *string `json:"sql"`
	Intent        string  `json:"intent"`
	SessionID     string  `json:"session_id"`
	GeneralAnswer string  `json:"general_answer,omitempty"`
}

// GenerateSQL handles POST /api/generate-sql requests.
func (h *QueryHandler) GenerateSQL(w http.ResponseWriter, r *http.Request) {
	var req GenerateSQLRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid request body")
		return
	}
	if req.Query == "" {
		h.writeError(w, http.StatusBadRequest, "missing_query", "Query is required")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	st, err := h.pipeline.GenerateSQL(ctx, pipeline.Request{Query: req.Query, SessionID: req.SessionID})
	if err != nil {
		h.writeAppError(w, err, st.ErrorStage)
		return
	}

	response := GenerateSQLResponse{
		QueryID:       st.QueryID,
		Intent:        string(st.Intent),
		SessionID:     st.SessionID,
		GeneralAnswer: st.GeneralAnswer,
	}
	if st.GeneratedSQL != "" {
		response.SQL = &st.GeneratedSQL
	}
	if err := WriteJSON(w, http.StatusOK, response); err != nil {
		h.logger.Error("Failed to encode generate-sql response", zap.Error(err))
	}
}

// ExecuteResponse is the GET /api/execute/{query_id} shape. TotalCount is an
// exact int up to the count cap and the string "unknown" beyond it.
type ExecuteResponse struct {
	Data       [][]any  `json:"data"`
	Columns    []string `json:"columns"`
	TotalCount any      `json:"total_count"`
	Truncated  bool     `json:"truncated"`
}

// Execute handles GET /api/execute/{query_id} requests.
func (h *QueryHandler) Execute(w http.ResponseWriter, r *http.Request) {
	queryID := r.PathValue("query_id")

	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	res, err := h.pipeline.ExecuteQuery(ctx, queryID)
	if err != nil {
		h.writeAppError(w, err, "executor")
		return
	}

	rows := res.Rows
	if len(rows) > h.cfg.Pipeline.PreviewRows {
		rows = rows[:h.cfg.Pipeline.PreviewRows]
	}

	response := ExecuteResponse{
		Data:       rows,
		Columns:    res.Columns,
		TotalCount: totalCountJSON(res.TotalCount),
		Truncated:  res.Truncated,
	}
	if err := WriteJSON(w, http.StatusOK, response); err != nil {
		h.logger.Error("Failed to encode execute response", zap.Error(err))
	}
}

// InterpretResponse is the POST /api/interpret/{query_id} shape.
type InterpretResponse struct {
	Interpretation string            `json:"interpretation"`
	Visualization  *pipeline.VizSpec `json:"visualization"`
	DataTruncated  bool              `json:"data_truncated"`
}

// Interpret handles POST /api/interpret/{query_id} requests. It works over
// the cached rows only and never re-executes the SQL.
func (h *QueryHandler) Interpret(w http.ResponseWriter, r *http.Request) {
	queryID := r.PathValue("query_id")

	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	interp, truncated, err := h.pipeline.InterpretQuery(ctx, queryID)
	if err != nil {
		h.writeAppError(w, err, "interpreter")
		return
	}

	response := InterpretResponse{
		Interpretation: interp.Text,
		Visualization:  interp.Viz,
		DataTruncated:  truncated,
	}
	if err := WriteJSON(w, http.StatusOK, response); err != nil {
		h.logger.Error("Failed to encode interpret response", zap.Error(err))
	}
}

// Download handles GET /api/download/{query_id} requests: the full result
// set as CSV, streamed in chunks with no overall cap.
func (h *QueryHandler) Download(w http.ResponseWriter, r *http.Request) {
	queryID := r.PathValue("query_id")

	iter, err := h.pipeline.StreamQuery(r.Context(), queryID)
	if err != nil {
		h.writeAppError(w, err, "executor")
		return
	}
	defer iter.Close()

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", queryID+".csv"))

	cw := csv.NewWriter(w)
	if err := cw.Write(iter.Columns()); err != nil {
		h.logger.Error("CSV header write failed", zap.Error(err))
		return
	}

	flusher, _ := w.(http.Flusher)
	written := 0
	for {
		row, err := iter.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			// Headers are already sent; log and stop the stream.
			h.logger.Warn("CSV stream aborted",
				zap.String("query_id", queryID),
				zap.Int("rows_written", written),
				zap.Error(err))
			return
		}

		record := make([]string, len(row))
		for i, v := range row {
			record[i] = csvField(v)
		}
		if err := cw.Write(record); err != nil {
			h.logger.Warn("CSV row write failed", zap.Error(err))
			return
		}

		written++
		if written%h.cfg.Pipeline.CSVChunkSize == 0 {
			cw.Flush()
			if flusher != nil {
				flusher.Flush()
			}
		}
	}
	cw.Flush()
}

// FeedbackRequest is the POST /api/feedback body.
type FeedbackRequest struct {
	QueryID string `json:"query_id"`
	Verdict string `json:"verdict"`
}

// Feedback handles POST /api/feedback requests. A "down" verdict removes the
// cached SQL for the query's normalized form.
func (h *QueryHandler) Feedback(w http.ResponseWriter, r *http.Request) {
	var req FeedbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid request body")
		return
	}
	if req.Verdict != "up" && req.Verdict != "down" {
		h.writeError(w, http.StatusBadRequest, "invalid_verdict", `Verdict must be "up" or "down"`)
		return
	}

	if err := h.pipeline.Feedback(r.Context(), req.QueryID, req.Verdict == "down"); err != nil {
		h.writeAppError(w, err, "")
		return
	}

	if err := WriteJSON(w, http.StatusOK, map[string]string{"status": "recorded"}); err != nil {
		h.logger.Error("Failed to encode feedback response", zap.Error(err))
	}
}

func (h *QueryHandler) writeError(w http.ResponseWriter, status int, code, message string) {
	if err := ErrorResponse(w, status, code, message); err != nil {
		h.logger.Error("Failed to write error response", zap.Error(err))
	}
}

func (h *QueryHandler) writeAppError(w http.ResponseWriter, err error, stage string) {
	if errors.Is(err, apperrors.ErrNotFound) {
		stage = ""
	}
	if werr := AppErrorResponse(w, err, stage); werr != nil {
		h.logger.Error("Failed to write error response", zap.Error(werr))
	}
}

// totalCountJSON renders the smart count: exact ints pass through, the
// overflow sentinel becomes the string "unknown".
func totalCountJSON(total int) any {
	if total == datasource.CountUnknown {
		return "unknown"
	}
	return total
}

// csvField renders one cell for CSV output.
func csvField(v any) string {
	if v == nil {
		return ""
	}
	switch s := v.(type) {
	case string:
		return s
	case []byte:
		return string(s)
	default:
		return fmt.Sprintf("%v", v)
	}
}
