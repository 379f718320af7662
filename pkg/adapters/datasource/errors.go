package datasource

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/askdb-ai/askdb-engine/pkg/apperrors"
)

// ClassifyError maps driver-level failures onto the engine error taxonomy.
func ClassifyError(err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", apperrors.ErrDBTimeout, err)
	}
	if errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %v", apperrors.ErrCancelled, err)
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case pgErr.Code == "57014": // query_canceled (statement_timeout)
			return fmt.Errorf("%w: %s", apperrors.ErrDBTimeout, pgErr.Message)
		case strings.HasPrefix(pgErr.Code, "42501"):
			return fmt.Errorf("%w: %s", apperrors.ErrDBPermission, pgErr.Message)
		case strings.HasPrefix(pgErr.Code, "42"): // syntax error or access rule violation
			return fmt.Errorf("%w: %s", apperrors.ErrDBSyntax, pgErr.Message)
		case strings.HasPrefix(pgErr.Code, "28"): // invalid authorization
			return fmt.Errorf("%w: %s", apperrors.ErrDBPermission, pgErr.Message)
		case strings.HasPrefix(pgErr.Code, "08"): // connection exception
			return fmt.Errorf("%w: %s", apperrors.ErrDBConn, pgErr.Message)
		}
		return fmt.Errorf("%w: %s", apperrors.ErrDBSyntax, pgErr.Message)
	}

	// SQLite errors arrive as strings through database/sql.
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "syntax error"),
		strings.Contains(msg, "no such table"),
		strings.Contains(msg, "no such column"):
		return fmt.Errorf("%w: %v", apperrors.ErrDBSyntax, err)
	case strings.Contains(msg, "readonly"),
		strings.Contains(msg, "read-only"),
		strings.Contains(msg, "not authorized"):
		return fmt.Errorf("%w: %v", apperrors.ErrDBPermission, err)
	case strings.Contains(msg, "unable to open"),
		strings.Contains(msg, "connection"):
		return fmt.Errorf("%w: %v", apperrors.ErrDBConn, err)
	case strings.Contains(msg, "interrupted"):
		return fmt.Errorf("%w: %v", apperrors.ErrDBTimeout, err)
	}

	return fmt.Errorf("%w: %v", apperrors.ErrDBConn, err)
}
