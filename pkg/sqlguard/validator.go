// Package sqlguard enforces the read-only contract on generated SQL.
// Validation is purely mechanical: a token-aware pass over the statement,
// with no LLM involvement.
package sqlguard

import (
	"fmt"
	"strings"

	libinjection "github.com/corazawaf/libinjection-go"

	"github.com/askdb-ai/askdb-engine/pkg/apperrors"
)

// blockedKeywords are statement kinds that can mutate data or schema, or
// escape the read-only sandbox. Detection is token-aware so values like
// 'delete me' never trip it.
var blockedKeywords = map[string]bool{
	"INSERT":   true,
	"UPDATE":   true,
	"DELETE":   true,
	"DROP":     true,
	"ALTER":    true,
	"TRUNCATE": true,
	"CREATE":   true,
	"GRANT":    true,
	"REVOKE":   true,
	"ATTACH":   true,
	"PRAGMA":   true,
	"COPY":     true,
	"VACUUM":   true,
	"CALL":     true,
	"EXEC":     true,
	"MERGE":    true,
}

// blockedCatalogs are system tables and schemas that must never be queried.
var blockedCatalogs = []string{
	"SQLITE_MASTER",
	"SQLITE_SEQUENCE",
	"PG_CATALOG",
	"INFORMATION_SCHEMA",
}

// Validate checks that sqlQuery is a single read-only SELECT (or CTE)
// statement. On rejection the returned error wraps apperrors.ErrValidation
// and names the offending keyword or rule.
func Validate(sqlQuery string) error {
	trimmed := strings.TrimSpace(sqlQuery)
	if trimmed == "" {
		return fmt.Errorf("%w: empty statement", apperrors.ErrValidation)
	}

	tokens := Lex(trimmed)
	if len(tokens) == 0 {
		return fmt.Errorf("%w: empty statement", apperrors.ErrValidation)
	}

	first := tokens[0]
	if first.Kind != TokenWord || (first.Text != "SELECT" && first.Text != "WITH") {
		return fmt.Errorf("%w: statement must begin with SELECT or WITH, got %q",
			apperrors.ErrValidation, first.Text)
	}

	for idx, tok := range tokens {
		switch tok.Kind {
		case TokenWord:
			if blockedKeywords[tok.Text] {
				return fmt.Errorf("%w: blocked keyword %s", apperrors.ErrValidation, tok.Text)
			}
			if catalog := matchCatalog(tok.Text); catalog != "" {
				return fmt.Errorf("%w: system catalog %s is not accessible",
					apperrors.ErrValidation, catalog)
			}

		case TokenString:
			if isSQLi, fingerprint := libinjection.IsSQLi(tok.Text); isSQLi {
				return fmt.Errorf("%w: injection pattern detected in literal (fingerprint %s)",
					apperrors.ErrValidation, fingerprint)
			}

		case TokenSemicolon:
			// A trailing semicolon is fine; anything after it is a second statement.
			if idx != len(tokens)-1 {
				return fmt.Errorf("%w: multiple statements are not allowed", apperrors.ErrValidation)
			}
		}
	}

	return nil
}

// matchCatalog reports which blocked catalog a word token names, if any.
// Handles both bare names (sqlite_master) and qualified references
// (pg_catalog.pg_tables, information_schema.columns).
func matchCatalog(word string) string {
	for _, catalog := range blockedCatalogs {
		if word == catalog || strings.HasPrefix(word, catalog+".") {
			return catalog
		}
	}
	return ""
}

// Normalize strips a trailing semicolon and surrounding whitespace so the
// adapter can safely wrap the statement in an outer LIMIT subquery.
func Normalize(sqlQuery string) string {
	sqlQuery = strings.TrimSpace(sqlQuery)
	sqlQuery = strings.TrimSuffix(sqlQuery, ";")
	return strings.TrimSpace(sqlQuery)
}
