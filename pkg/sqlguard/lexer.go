package sqlguard

import (
	"strings"
)

// TokenKind classifies lexed SQL fragments.
type TokenKind int

const (
	// TokenWord is a bare keyword or identifier, possibly dot-qualified.
	TokenWord TokenKind = iota
	// TokenString is the contents of a single-quoted literal.
	TokenString
	// TokenSemicolon is a statement separator.
	TokenSemicolon
	// TokenOther is any remaining punctuation.
	TokenOther
)

// Token is one lexed fragment of a SQL statement.
type Token struct {
	Kind TokenKind
	// Text is uppercased for words, verbatim for string literals.
	Text string
}

// Lex splits SQL into tokens, discarding comments and tracking string
// literals so keyword checks never fire on values. Dot-qualified names
// (pg_catalog.pg_tables) are kept as a single word token.
func Lex(sqlQuery string) []Token {
	var tokens []Token
	i := 0
	n := len(sqlQuery)

	for i < n {
		c := sqlQuery[i]

		switch {
		// Line comment
		case c == '-' && i+1 < n && sqlQuery[i+1] == '-':
			for i < n && sqlQuery[i] != '\n' {
				i++
			}

		// Block comment
		case c == '/' && i+1 < n && sqlQuery[i+1] == '*':
			i += 2
			for i+1 < n && !(sqlQuery[i] == '*' && sqlQuery[i+1] == '/') {
				i++
			}
			i += 2

		// Single-quoted string literal; '' escapes a quote
		case c == '\'':
			i++
			var sb strings.Builder
			for i < n {
				if sqlQuery[i] == '\'' {
					if i+1 < n && sqlQuery[i+1] == '\'' {
						sb.WriteByte('\'')
						i += 2
						continue
					}
					i++
					break
				}
				sb.WriteByte(sqlQuery[i])
				i++
			}
			tokens = append(tokens, Token{Kind: TokenString, Text: sb.String()})

		// Double-quoted identifier
		case c == '"':
			i++
			var sb strings.Builder
			for i < n && sqlQuery[i] != '"' {
				sb.WriteByte(sqlQuery[i])
				i++
			}
			i++ // closing quote
			tokens = append(tokens, Token{Kind: TokenWord, Text: strings.ToUpper(sb.String())})

		case c == ';':
			tokens = append(tokens, Token{Kind: TokenSemicolon, Text: ";"})
			i++

		case isWordByte(c):
			start := i
			for i < n && (isWordByte(sqlQuery[i]) || sqlQuery[i] == '.') {
				i++
			}
			tokens = append(tokens, Token{Kind: TokenWord, Text: strings.ToUpper(sqlQuery[start:i])})

		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			i++

		default:
			tokens = append(tokens, Token{Kind: TokenOther, Text: string(c)})
			i++
		}
	}

	return tokens
}

func isWordByte(c byte) bool {
	return c == '_' || c == '$' ||
		(c >= 'a' && c <= 'z') ||
		(c >= 'A' && c <= 'Z') ||
		(c >= '0' && c <= '9')
}
