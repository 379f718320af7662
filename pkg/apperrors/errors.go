// Package apperrors defines the engine-wide error taxonomy.
// Every user-visible failure maps to one sentinel here, and each sentinel
// maps to a stable error_code string and an HTTP status.
package apperrors

import (
	"context"
	"errors"
	"net/http"
)

var (
	// Bootstrap / schema layer
	ErrSchemaInvalid = errors.New("canonical schema is invalid")
	ErrSchemaDrift   = errors.New("canonical schema drifted from live database")
	ErrSchemaEmpty   = errors.New("embedding store has no entries for namespace")
	ErrSchemaEmbed   = errors.New("embedding the query failed")

	// Pipeline stages
	ErrIntentParse = errors.New("intent classifier returned malformed output")
	ErrCacheIO     = errors.New("persistent cache read/write failed")
	ErrSQLGen      = errors.New("SQL generation exhausted retries")
	ErrValidation  = errors.New("SQL rejected by safety rules")

	// Executor
	ErrDBTimeout    = errors.New("database query timed out")
	ErrDBSyntax     = errors.New("database rejected query syntax")
	ErrDBPermission = errors.New("database permission denied")
	ErrDBConn       = errors.New("database connection failed")

	// Request lifecycle
	ErrCancelled = errors.New("request cancelled")

	// Lookup failures on the HTTP surface
	ErrNotFound = errors.New("not found")
)

// CodeFor maps an error to its stable error_code string.
func CodeFor(err error) string {
	switch {
	case errors.Is(err, ErrSchemaInvalid):
		return "schema_invalid"
	case errors.Is(err, ErrSchemaDrift):
		return "schema_drift"
	case errors.Is(err, ErrSchemaEmpty):
		return "schema_empty"
	case errors.Is(err, ErrSchemaEmbed):
		return "schema_embed"
	case errors.Is(err, ErrIntentParse):
		return "intent_parse"
	case errors.Is(err, ErrCacheIO):
		return "cache_io"
	case errors.Is(err, ErrSQLGen):
		return "sql_generation_failed"
	case errors.Is(err, ErrValidation):
		return "validation_failed"
	case errors.Is(err, ErrDBTimeout):
		return "db_timeout"
	case errors.Is(err, ErrDBSyntax):
		return "db_syntax"
	case errors.Is(err, ErrDBPermission):
		return "db_permission"
	case errors.Is(err, ErrDBConn):
		return "db_connection"
	case errors.Is(err, ErrCancelled), errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "cancelled"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	default:
		return "internal_error"
	}
}

// StatusFor maps an error to the HTTP status a REST endpoint should return.
// Client-caused errors (bad query_id, expired session, validation) are 4xx;
// everything else is 5xx.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrValidation), errors.Is(err, ErrIntentParse):
		return http.StatusBadRequest
	case errors.Is(err, ErrCancelled), errors.Is(err, context.Canceled):
		return http.StatusRequestTimeout
	case errors.Is(err, ErrDBTimeout), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
