package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/askdb-ai/askdb-engine/pkg/apperrors"
)

// WriteJSON writes a JSON response and returns any encoding error.
func WriteJSON(w http.ResponseWriter, statusCode int, data interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	if statusCode != http.StatusOK {
		w.WriteHeader(statusCode)
	}
	return json.NewEncoder(w).Encode(data)
}

// ErrorBody is the uniform error shape every endpoint returns.
type ErrorBody struct {
	Error     string `json:"error"`
	ErrorCode string `json:"error_code"`
	Stage     string `json:"stage,omitempty"`
}

// ErrorResponse writes a JSON error with an explicit status and code.
func ErrorResponse(w http.ResponseWriter, statusCode int, errorCode, message string) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	return json.NewEncoder(w).Encode(ErrorBody{Error: message, ErrorCode: errorCode})
}

// AppErrorResponse maps an error through the taxonomy to its status and
// stable error_code, tagging the pipeline stage when known.
func AppErrorResponse(w http.ResponseWriter, err error, stage string) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(apperrors.StatusFor(err))
	return json.NewEncoder(w).Encode(ErrorBody{
		Error:     err.Error(),
		ErrorCode: apperrors.CodeFor(err),
		Stage:     stage,
	})
}
