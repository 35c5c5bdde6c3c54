// Package logging builds the process logger and redacts credentials from
// strings before they reach it.
package logging

import (
	"regexp"
)

// RedactedText replaces every secret the redaction rules find.
const RedactedText = "[REDACTED]"

type redaction struct {
	pattern     *regexp.Regexp
	replacement string
}

var (
	// password=, pwd= and pass= up to the next delimiter (key-value DSNs, query strings).
	passwordRedaction = redaction{
		pattern:     regexp.MustCompile(`(?i)(password|pwd|pass)=[^;&\s]+`),
		replacement: "${1}=" + RedactedText,
	}

	// user:secret@host in postgres:// and redis:// URLs. Host and port go too.
	urlCredentialsRedaction = redaction{
		pattern:     regexp.MustCompile(`://[^:/\s]+:[^@\s]+@[^/\s]+`),
		replacement: "://" + RedactedText + "@" + RedactedText,
	}

	// Bearer tokens echoed back by the JWKS client.
	bearerRedaction = redaction{
		pattern:     regexp.MustCompile(`Bearer\s+[A-Za-z0-9-_]+\.[A-Za-z0-9-_]+\.[A-Za-z0-9-_]*`),
		replacement: "Bearer " + RedactedText,
	}

	// Long key values; short ones are ids, not secrets.
	apiKeyRedaction = redaction{
		pattern:     regexp.MustCompile(`(?i)(api[_-]?key|apikey|key)=[A-Za-z0-9-_]{20,}`),
		replacement: "${1}=" + RedactedText,
	}

	connectionStringRedactions = []redaction{passwordRedaction, urlCredentialsRedaction}
	errorRedactions            = []redaction{passwordRedaction, bearerRedaction, apiKeyRedaction, urlCredentialsRedaction}
)

func redact(s string, redactions []redaction) string {
	for _, r := range redactions {
		s = r.pattern.ReplaceAllString(s, r.replacement)
	}
	return s
}

// SanitizeConnectionString hides credentials in a Postgres or Redis connection string.
func SanitizeConnectionString(connStr string) string {
	if connStr == "" {
		return ""
	}
	return redact(connStr, connectionStringRedactions)
}

// SanitizeError returns err's message with passwords, bearer tokens, API keys
// and URL credentials removed. Store and JWKS errors can carry any of them.
func SanitizeError(err error) string {
	if err == nil {
		return ""
	}
	return redact(err.Error(), errorRedactions)
}

// TruncateString cuts s to maxLen bytes and marks the cut with an ellipsis.
func TruncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
