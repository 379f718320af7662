// Package logging keeps secrets out of log output. Connection strings,
// API keys, and long SQL text all pass through here before being logged.
package logging

import (
	"regexp"
)

const (
	// MaxQueryLogLength caps SQL text in log lines.
	MaxQueryLogLength = 200

	// RedactedText replaces sensitive values.
	RedactedText = "[REDACTED]"
)

var (
	// password=..., pwd=..., pass=... up to the next delimiter
	passwordPattern = regexp.MustCompile(`(?i)(password|pwd|pass)=[^;&\s]+`)

	// api_key=..., apikey=..., key=... with a long token value
	apiKeyPattern = regexp.MustCompile(`(?i)(api[_-]?key|apikey|key)=[A-Za-z0-9-_]{20,}`)

	// user:pass@host inside a URL
	credsInURLPattern = regexp.MustCompile(`://[^:/?#]+:[^@]+@[^/\s]+`)
)

// SanitizeConnectionString redacts credentials from a database URL before
// it is logged.
func SanitizeConnectionString(connStr string) string {
	if connStr == "" {
		return ""
	}
	out := passwordPattern.ReplaceAllString(connStr, "${1}="+RedactedText)
	return credsInURLPattern.ReplaceAllString(out, "://"+RedactedText+"@"+RedactedText)
}

// SanitizeError redacts credentials that drivers sometimes echo back in
// error messages, typically the full connection URL on a failed connect.
func SanitizeError(err error) string {
	if err == nil {
		return ""
	}
	out := passwordPattern.ReplaceAllString(err.Error(), "${1}="+RedactedText)
	out = apiKeyPattern.ReplaceAllString(out, "${1}="+RedactedText)
	return credsInURLPattern.ReplaceAllString(out, "://"+RedactedText+"@"+RedactedText)
}

// SanitizeQuery truncates SQL for logging and redacts credential-shaped
// literals.
func SanitizeQuery(query string) string {
	if query == "" {
		return ""
	}
	out := TruncateString(query, MaxQueryLogLength)
	out = passwordPattern.ReplaceAllString(out, "${1}="+RedactedText)
	return apiKeyPattern.ReplaceAllString(out, "${1}="+RedactedText)
}

// TruncateString shortens s to maxLen with an ellipsis marker.
func TruncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
